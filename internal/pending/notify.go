package pending

import (
	"context"
	"fmt"

	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/notification"
)

// Notifier receives the summary of every drain that processed items.
type Notifier interface {
	Notify(ctx context.Context, sum Summary) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, sum Summary) error

func (f NotifierFunc) Notify(ctx context.Context, sum Summary) error { return f(ctx, sum) }

// Sender is implemented by notification.Dispatcher.
type Sender interface {
	Send(ctx context.Context, n *notification.Notification) error
}

// DispatchNotifier turns drain summaries into notifications.
type DispatchNotifier struct {
	Sender Sender
}

func (d DispatchNotifier) Notify(ctx context.Context, sum Summary) error {
	typ := notification.TypeInfo
	if sum.Failed > 0 {
		typ = notification.TypeWarning
	}
	return d.Sender.Send(ctx, &notification.Notification{
		Type:    typ,
		Title:   "Pending scans processed",
		Message: fmt.Sprintf("%d succeeded, %d failed", sum.Succeeded, sum.Failed),
		Fields: map[string]any{
			"succeeded": sum.Succeeded,
			"failed":    sum.Failed,
		},
	})
}

func (q *Queue) notify(ctx context.Context, sum Summary) {
	if q.cfg.Notifier == nil || sum.Succeeded+sum.Failed == 0 {
		return
	}
	if err := q.cfg.Notifier.Notify(context.WithoutCancel(ctx), sum); err != nil {
		q.log.Warn("drain notification failed", logger.Error(err))
	}
}
