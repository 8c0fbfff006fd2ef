// Package ses sends email_ actions through Amazon SES v2.
package ses

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/domain/entity"
)

// Config holds SES settings
type Config struct {
	Region      string
	FromAddress string
}

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Connector executes email_reply and email_send actions
type Connector struct {
	client sesAPI
	from   string
	logger *zap.Logger
}

// NewConnector loads AWS credentials from the default chain and builds an SES client
func NewConnector(ctx context.Context, cfg Config, logger *zap.Logger) (*Connector, error) {
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("ses from address is not set")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newConnector(sesv2.NewFromConfig(awsCfg), cfg.FromAddress, logger), nil
}

func newConnector(client sesAPI, from string, logger *zap.Logger) *Connector {
	return &Connector{client: client, from: from, logger: logger}
}

// Execute sends the message. Recipients come from details.to; a reply with
// no explicit recipient goes back to the task's sender.
func (c *Connector) Execute(ctx context.Context, action *entity.ProposedAction, task *entity.Task) (entity.ExecutionResult, error) {
	to := action.DetailStrings("to")
	if len(to) == 0 && action.Type == entity.ActionEmailReply && task != nil && task.Sender != "" {
		to = []string{task.Sender}
	}
	if len(to) == 0 {
		return entity.ExecutionResult{}, fmt.Errorf("no recipient for %s", action.Type)
	}
	for _, addr := range to {
		if _, err := mail.ParseAddress(addr); err != nil {
			return entity.ExecutionResult{}, fmt.Errorf("invalid recipient %q: %w", addr, err)
		}
	}

	body := action.DetailString("body")
	if body == "" {
		return entity.ExecutionResult{}, fmt.Errorf("email body is empty")
	}
	subject := action.DetailString("subject")
	if subject == "" && task != nil {
		subject = task.Title
		if action.Type == entity.ActionEmailReply && !strings.HasPrefix(strings.ToLower(subject), "re:") {
			subject = "Re: " + subject
		}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(c.from),
		Destination: &types.Destination{
			ToAddresses: to,
			CcAddresses: action.DetailStrings("cc"),
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body)},
				},
			},
		},
	}

	out, err := c.client.SendEmail(ctx, input)
	if err != nil {
		c.logger.Error("SES send failed", zap.String("action_id", action.ID), zap.Error(err))
		return entity.ExecutionResult{}, fmt.Errorf("send email: %w", err)
	}

	messageID := aws.ToString(out.MessageId)
	c.logger.Info("Email sent",
		zap.String("action_id", action.ID),
		zap.Strings("to", to),
		zap.String("message_id", messageID))
	return entity.ExecutionResult{
		Success: true,
		Detail:  fmt.Sprintf("sent message %s to %s", messageID, strings.Join(to, ", ")),
	}, nil
}

var _ port.Connector = (*Connector)(nil)
