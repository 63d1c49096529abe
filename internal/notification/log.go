package notification

import (
	"context"

	"github.com/leafscan/leafscan/internal/logger"
)

// LogProvider writes notifications to the application log.
type LogProvider struct {
	log logger.Logger
}

func NewLogProvider() *LogProvider {
	return &LogProvider{log: logger.Global().Module("notification").Module("log")}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Send(_ context.Context, n *Notification) error {
	fields := []logger.Field{
		logger.String("type", string(n.Type)),
		logger.String("title", n.Title),
	}
	for k, v := range n.Fields {
		fields = append(fields, logger.Any(k, v))
	}
	p.log.Log(levelFor(n.Type), n.Message, fields...)
	return nil
}

func levelFor(t Type) logger.LogLevel {
	switch t {
	case TypeError:
		return logger.LogLevelError
	case TypeWarning:
		return logger.LogLevelWarn
	default:
		return logger.LogLevelInfo
	}
}
