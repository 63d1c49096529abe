// Package notification delivers short operational messages, such as the
// pending-queue drain summary, to the configured sinks.
package notification

import (
	"context"
	"time"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/observability/metrics"
)

// Type classifies a notification.
type Type string

const (
	TypeInfo    Type = "info"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// Notification is one message.
type Notification struct {
	Type      Type           `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Provider is one delivery sink.
type Provider interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// DefaultTimeout bounds one provider send.
const DefaultTimeout = 10 * time.Second

// Dispatcher fans a notification out to every provider.
type Dispatcher struct {
	providers []Provider
	timeout   time.Duration
	metrics   *metrics.QueueMetrics
	log       logger.Logger
}

// NewDispatcher creates a dispatcher. A nil metrics is allowed.
func NewDispatcher(m *metrics.QueueMetrics, providers ...Provider) *Dispatcher {
	return &Dispatcher{
		providers: providers,
		timeout:   DefaultTimeout,
		metrics:   m,
		log:       logger.Global().Module("notification"),
	}
}

// Providers returns the configured sinks.
func (d *Dispatcher) Providers() []Provider { return d.providers }

// Send delivers n to every provider. A failing provider does not stop the
// others; the failures are joined into the returned error.
func (d *Dispatcher) Send(ctx context.Context, n *Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	var errs []error
	for _, p := range d.providers {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := p.Send(sendCtx, n)
		cancel()
		if err != nil {
			d.metrics.RecordNotifyError(p.Name())
			d.log.Warn("notification failed",
				logger.String("provider", p.Name()),
				logger.Error(err))
			errs = append(errs, errors.New(err).
				Component("notification").
				Category(errors.CategoryNotification).
				Context("provider", p.Name()).
				Build())
		}
	}
	return errors.Join(errs...)
}
