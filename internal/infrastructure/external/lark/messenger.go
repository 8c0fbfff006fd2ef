package lark

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// Messenger sends text messages through the IM API. It serves both as the
// connector for lark_ actions and as the approval notifier.
type Messenger struct {
	api    imAPI
	cfg    Config
	logger *zap.Logger
}

// NewMessenger creates a new Lark message sender
func NewMessenger(api imAPI, cfg Config, logger *zap.Logger) *Messenger {
	return &Messenger{
		api:    api,
		cfg:    cfg,
		logger: logger,
	}
}

// SendText sends a plain text message
func (m *Messenger) SendText(ctx context.Context, receiveIDType, receiveID, text string) (string, error) {
	if receiveID == "" {
		return "", fmt.Errorf("receive id cannot be empty")
	}
	if text == "" {
		return "", fmt.Errorf("content cannot be empty")
	}

	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal text content: %w", err)
	}
	return m.api.SendMessage(ctx, receiveIDType, receiveID, "text", string(content))
}

// Execute posts the action's text to a chat. The target is details.chat_id,
// then the chat the task came from, then the configured chat.
func (m *Messenger) Execute(ctx context.Context, action *entity.ProposedAction, task *entity.Task) (entity.ExecutionResult, error) {
	text := action.DetailString("text")
	if text == "" {
		text = action.DetailString("body")
	}

	chatID := action.DetailString("chat_id")
	if chatID == "" && task != nil {
		if v, ok := task.Payload["chat_id"].(string); ok {
			chatID = v
		}
	}
	if chatID == "" {
		chatID = m.cfg.ChatID
	}

	messageID, err := m.SendText(ctx, "chat_id", chatID, text)
	if err != nil {
		return entity.ExecutionResult{}, err
	}

	m.logger.Info("Lark message sent",
		zap.String("action_id", action.ID),
		zap.String("chat_id", chatID),
		zap.String("message_id", messageID))
	return entity.ExecutionResult{
		Success: true,
		Detail:  fmt.Sprintf("sent message %s to chat %s", messageID, chatID),
	}, nil
}

// Notify sends a short notice to the configured approver
func (m *Messenger) Notify(ctx context.Context, title, body string) error {
	idType, id := m.cfg.NotifyReceiveIDType, m.cfg.NotifyReceiveID
	if id == "" {
		idType, id = "chat_id", m.cfg.ChatID
	}
	if idType == "" {
		idType = "open_id"
	}

	text := title
	if body != "" {
		text = title + "\n" + body
	}
	_, err := m.SendText(ctx, idType, id, text)
	return err
}

var (
	_ port.Connector = (*Messenger)(nil)
	_ port.Notifier  = (*Messenger)(nil)
)
