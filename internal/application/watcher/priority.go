package watcher

import (
	"strings"

	"github.com/garyjia/digital-fte/internal/domain/entity"
)

var priorityKeywords = []struct {
	priority entity.Priority
	words    []string
}{
	{entity.PriorityP0, []string{"emergency", "urgent", "asap"}},
	{entity.PriorityP1, []string{"invoice", "payment", "deadline", "money"}},
	{entity.PriorityP2, []string{"help", "question", "issue", "problem"}},
}

// KeywordPriority scores free text by the first matching keyword tier.
func KeywordPriority(texts ...string) entity.Priority {
	joined := strings.ToLower(strings.Join(texts, " "))
	for _, tier := range priorityKeywords {
		for _, w := range tier.words {
			if strings.Contains(joined, w) {
				return tier.priority
			}
		}
	}
	return entity.PriorityP3
}
