package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/watcher"
	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// SourceName is the task source for chat messages
const SourceName = "lark"

const maxTitleLen = 100

// ChatSource polls one group chat and turns human text messages into tasks.
// Messages sent by apps, including this one, are ignored.
type ChatSource struct {
	api      imAPI
	chatID   string
	lookback time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	since time.Time
}

// NewChatSource creates a source for chatID. On start it picks up messages
// from the last lookback window; the dedup index drops ones already seen.
func NewChatSource(api imAPI, chatID string, lookback time.Duration, logger *zap.Logger) *ChatSource {
	return &ChatSource{
		api:      api,
		chatID:   chatID,
		lookback: lookback,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *ChatSource) Name() string {
	return SourceName
}

// Initialize checks the configuration and probes the chat once
func (s *ChatSource) Initialize(ctx context.Context) error {
	if s.chatID == "" {
		return fmt.Errorf("lark chat id is not configured")
	}

	s.mu.Lock()
	s.since = s.now().Add(-s.lookback)
	since := s.since
	s.mu.Unlock()

	if _, _, err := s.api.ListMessages(ctx, s.chatID, since, ""); err != nil {
		return fmt.Errorf("list chat %s: %w", s.chatID, err)
	}
	s.logger.Info("Lark chat source ready", zap.String("chat_id", s.chatID))
	return nil
}

// CheckForEvents pages through messages since the last poll
func (s *ChatSource) CheckForEvents(ctx context.Context) ([]watcher.RawEvent, error) {
	s.mu.Lock()
	since := s.since
	s.mu.Unlock()

	var (
		events []watcher.RawEvent
		latest = since
		token  string
	)
	for {
		page, next, err := s.api.ListMessages(ctx, s.chatID, since, token)
		if err != nil {
			return nil, err
		}
		for _, msg := range page {
			if msg.CreatedAt.After(latest) {
				latest = msg.CreatedAt
			}
			if msg.MsgType != "text" || msg.SenderType == "app" {
				continue
			}
			text := messageText(msg.Content)
			if strings.TrimSpace(text) == "" {
				continue
			}
			events = append(events, watcher.RawEvent{
				ID:         msg.ID,
				Kind:       msg.MsgType,
				ObservedAt: msg.CreatedAt,
				Sender:     msg.SenderID,
				Subject:    firstLine(text),
				Body:       text,
				Data:       map[string]any{"chat_id": msg.ChatID, "message_id": msg.ID},
			})
		}
		if next == "" {
			break
		}
		token = next
	}

	// The API filters by whole seconds, so the next poll overlaps the last
	// second and relies on the dedup index.
	s.mu.Lock()
	s.since = latest
	s.mu.Unlock()
	return events, nil
}

func (s *ChatSource) Translate(evt watcher.RawEvent) (*entity.Task, error) {
	chatID, _ := evt.Data["chat_id"].(string)
	if chatID == "" {
		chatID = s.chatID
	}
	return &entity.Task{
		Source:  SourceName,
		Title:   evt.Subject,
		Sender:  evt.Sender,
		Content: evt.Body,
		Payload: map[string]any{"chat_id": chatID, "message_id": evt.ID},
	}, nil
}

func (s *ChatSource) Prioritize(evt watcher.RawEvent) entity.Priority {
	return watcher.KeywordPriority(evt.Subject, evt.Body)
}

func (s *ChatSource) Cleanup() error {
	return nil
}

// messageText extracts the text of a "text" message body
func messageText(content string) string {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &body); err != nil {
		return content
	}
	return body.Text
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > maxTitleLen {
		line = string(r[:maxTitleLen])
	}
	return line
}

var _ watcher.Source = (*ChatSource)(nil)
