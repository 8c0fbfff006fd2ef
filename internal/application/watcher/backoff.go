package watcher

import "time"

// Backoff returns base * 2^(failures-1), capped at max.
func Backoff(failures int, base, max time.Duration) time.Duration {
	if failures <= 1 {
		return min(base, max)
	}

	backoff := base
	for i := 1; i < failures; i++ {
		backoff *= 2
		if backoff >= max || backoff <= 0 {
			return max
		}
	}
	return backoff
}
