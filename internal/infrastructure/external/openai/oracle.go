// Package openai implements the decision oracle on the OpenAI chat API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/domain/entity"
	"github.com/garyjia/digital-fte/internal/domain/errs"
)

// Config holds oracle connection settings
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Prompts *PromptConfig
}

// Oracle asks a chat model for the next action on a task
type Oracle struct {
	client  *openai.Client
	model   string
	prompts *PromptConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewOracle creates an oracle. An empty BaseURL uses the public OpenAI endpoint.
func NewOracle(cfg Config, logger *zap.Logger) *Oracle {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	prompts := cfg.Prompts
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &Oracle{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		prompts: prompts,
		logger:  logger,
		now:     time.Now,
	}
}

// Propose returns the model's proposed action for the task
func (o *Oracle) Propose(ctx context.Context, req port.OracleRequest) (*entity.ProposedAction, error) {
	o.logger.Debug("Requesting proposal",
		zap.String("task_id", req.TaskID),
		zap.Int("policies", len(req.Policies)))

	prompt, err := renderTemplate(o.prompts.Proposal.UserTemplate, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrOracleCall, err)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.prompts.Proposal.Temperature,
		MaxTokens:   o.prompts.Proposal.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: o.prompts.Proposal.System,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", errs.ErrOracleTimeout, err)
		}
		o.logger.Error("OpenAI API call failed", zap.String("task_id", req.TaskID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", errs.ErrOracleCall, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", errs.ErrOracleCall)
	}
	content := resp.Choices[0].Message.Content

	action, err := entity.ParseProposedAction([]byte(content), o.now())
	if err != nil {
		// Fallback: the model wrapped the object in prose or a code fence
		if jsonStr := extractJSON(content); jsonStr != "" && jsonStr != content {
			if action, err2 := entity.ParseProposedAction([]byte(jsonStr), o.now()); err2 == nil {
				o.logger.Info("Extracted JSON from response", zap.String("task_id", req.TaskID))
				return action, nil
			}
		}

		o.logger.Error("Failed to parse OpenAI response",
			zap.String("task_id", req.TaskID),
			zap.Error(err),
			zap.String("content", content))
		return nil, fmt.Errorf("%w: %v", errs.ErrOracleParse, err)
	}

	o.logger.Info("Proposal received",
		zap.String("task_id", req.TaskID),
		zap.String("action_type", string(action.Type)),
		zap.Float64("confidence", action.Confidence))
	return action, nil
}

// extractJSON extracts the first balanced JSON object from content
func extractJSON(content string) string {
	start := findJSONStart(content)
	if start < 0 {
		return ""
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return ""
	}
	return content[start:end]
}

// findJSONStart finds the start of JSON content in a string
func findJSONStart(content string) int {
	for i := 0; i < len(content); i++ {
		if content[i] == '{' {
			return i
		}
	}
	return -1
}

// findJSONEnd finds the end of the object starting at start, skipping braces inside strings
func findJSONEnd(content string, start int) int {
	if start < 0 || start >= len(content) || content[start] != '{' {
		return -1
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(content); i++ {
		c := content[i]

		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}

	return -1
}

var _ port.Oracle = (*Oracle)(nil)
