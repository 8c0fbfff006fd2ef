// Package lark connects the engine to Lark (Feishu) group chats: a watcher
// source that polls a chat, a connector for lark_ actions and an approval
// notifier.
package lark

import (
	"context"
	"fmt"
	"strconv"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// Config holds Lark client configuration
type Config struct {
	AppID     string
	AppSecret string
	// ChatID is the group chat the watcher polls and the default message target.
	ChatID string
	// NotifyReceiveID receives approval prompts; empty falls back to ChatID.
	NotifyReceiveID     string
	NotifyReceiveIDType string
}

// ChatMessage is the part of an IM message the engine cares about
type ChatMessage struct {
	ID         string
	ChatID     string
	MsgType    string
	SenderID   string
	SenderType string
	Content    string
	CreatedAt  time.Time
}

// imAPI is the slice of the Lark IM API used by this package
type imAPI interface {
	SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)
	ListMessages(ctx context.Context, chatID string, since time.Time, pageToken string) ([]ChatMessage, string, error)
}

// SDKClient wraps the Lark SDK client
type SDKClient struct {
	client *lark.Client
	logger *zap.Logger
}

// NewSDKClient creates a new Lark SDK client
func NewSDKClient(cfg Config, logger *zap.Logger) *SDKClient {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)

	return &SDKClient{
		client: client,
		logger: logger,
	}
}

// SendMessage sends a message to a user or group and returns its message id
func (c *SDKClient) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := c.client.Im.Message.Create(ctx, req)
	if err != nil {
		c.logger.Error("Failed to send message",
			zap.String("receive_id", receiveID),
			zap.Error(err))
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		c.logger.Error("API returned failure",
			zap.String("receive_id", receiveID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}

	c.logger.Debug("Message sent",
		zap.String("message_id", messageID),
		zap.String("receive_id", receiveID))

	return messageID, nil
}

// ListMessages returns one page of chat messages created at or after since,
// oldest first, and the token for the next page ("" when done).
func (c *SDKClient) ListMessages(ctx context.Context, chatID string, since time.Time, pageToken string) ([]ChatMessage, string, error) {
	builder := larkim.NewListMessageReqBuilder().
		ContainerIdType("chat").
		ContainerId(chatID).
		StartTime(strconv.FormatInt(since.Unix(), 10)).
		SortType("ByCreateTimeAsc").
		PageSize(50)
	if pageToken != "" {
		builder = builder.PageToken(pageToken)
	}

	resp, err := c.client.Im.Message.List(ctx, builder.Build())
	if err != nil {
		return nil, "", fmt.Errorf("failed to list messages: %w", err)
	}
	if !resp.Success() {
		return nil, "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil {
		return nil, "", nil
	}

	messages := make([]ChatMessage, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		if item == nil || (item.Deleted != nil && *item.Deleted) {
			continue
		}
		msg := ChatMessage{
			ID:      derefString(item.MessageId),
			ChatID:  derefString(item.ChatId),
			MsgType: derefString(item.MsgType),
		}
		if item.Sender != nil {
			msg.SenderID = derefString(item.Sender.Id)
			msg.SenderType = derefString(item.Sender.SenderType)
		}
		if item.Body != nil {
			msg.Content = derefString(item.Body.Content)
		}
		if ms, err := strconv.ParseInt(derefString(item.CreateTime), 10, 64); err == nil {
			msg.CreatedAt = time.UnixMilli(ms).UTC()
		}
		messages = append(messages, msg)
	}

	next := ""
	if resp.Data.HasMore != nil && *resp.Data.HasMore {
		next = derefString(resp.Data.PageToken)
	}
	return messages, next, nil
}

// derefString safely dereferences a string pointer
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ imAPI = (*SDKClient)(nil)
