package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/digital-fte/internal/application/dispatcher"
	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/domain/event"
)

// NotificationService tells a human approver about things that need them.
// Delivery is best effort: failures are logged and returned to the
// dispatcher, never to the orchestrator.
type NotificationService interface {
	NotifyApprovalRequested(ctx context.Context, evt *event.Event) error
	NotifyApprovalExpired(ctx context.Context, evt *event.Event) error
	NotifyWatcherStopped(ctx context.Context, evt *event.Event) error

	// Subscribe registers the handlers on d
	Subscribe(d dispatcher.Dispatcher)
}

type notificationServiceImpl struct {
	notifier port.Notifier
	logger   Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(notifier port.Notifier, logger Logger) NotificationService {
	return &notificationServiceImpl{
		notifier: notifier,
		logger:   logger,
	}
}

func (s *notificationServiceImpl) Subscribe(d dispatcher.Dispatcher) {
	d.Subscribe(event.TypeApprovalRequested, "notify_approval_requested", s.NotifyApprovalRequested)
	d.Subscribe(event.TypeApprovalExpired, "notify_approval_expired", s.NotifyApprovalExpired)
	d.Subscribe(event.TypeWatcherStopped, "notify_watcher_stopped", s.NotifyWatcherStopped)
}

// NotifyApprovalRequested sends the approval prompt for a task
func (s *notificationServiceImpl) NotifyApprovalRequested(ctx context.Context, evt *event.Event) error {
	title := fmt.Sprintf("Approval needed: %s", evt.GetPayloadString("title"))

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", evt.TaskID)
	fmt.Fprintf(&b, "Action: %s\n", evt.GetPayloadString("action_type"))
	fmt.Fprintf(&b, "Confidence: %.0f%%\n", evt.GetPayloadFloat("confidence")*100)
	if reasoning := evt.GetPayloadString("reasoning"); reasoning != "" {
		fmt.Fprintf(&b, "Reasoning: %s\n", reasoning)
	}
	fmt.Fprintf(&b, "Expires: %s\n\n", evt.GetPayloadString("expires_at"))
	fmt.Fprintf(&b, "Approve with `fte approve %s` or move the file to Approved.", evt.TaskID)

	return s.send(ctx, evt, title, b.String())
}

// NotifyApprovalExpired reports a request that timed out without a decision
func (s *notificationServiceImpl) NotifyApprovalExpired(ctx context.Context, evt *event.Event) error {
	body := fmt.Sprintf("No decision was made in time for %s (%s).\nRequeue it with `fte requeue %s`.",
		evt.TaskID, evt.GetPayloadString("action_type"), evt.TaskID)
	return s.send(ctx, evt, "Approval expired", body)
}

// NotifyWatcherStopped reports a watcher that gave up after repeated failures
func (s *notificationServiceImpl) NotifyWatcherStopped(ctx context.Context, evt *event.Event) error {
	title := fmt.Sprintf("Watcher stopped: %s", evt.GetPayloadString("watcher"))
	body := fmt.Sprintf("The watcher stopped and needs a restart.\nLast error: %s", evt.GetPayloadString("error"))
	return s.send(ctx, evt, title, body)
}

func (s *notificationServiceImpl) send(ctx context.Context, evt *event.Event, title, body string) error {
	if err := s.notifier.Notify(ctx, title, body); err != nil {
		s.logger.Error("Failed to send notification", "error", err, "event_type", evt.Type, "task_id", evt.TaskID)
		return fmt.Errorf("notify %s: %w", evt.Type, err)
	}

	s.logger.Info("Notification sent", "event_type", evt.Type, "task_id", evt.TaskID)
	return nil
}
