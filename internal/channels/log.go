package channels

import (
	"context"

	"github.com/angelmondragon/kiosk-backend/pkg/logger"
)

// LogSender writes alerts to the structured log. Meant for local runs.
type LogSender struct {
	logg *logger.Logger
}

func NewLogSender(logg *logger.Logger) *LogSender {
	return &LogSender{logg: logg}
}

func (l *LogSender) Send(ctx context.Context, target, text string) error {
	if l.logg == nil {
		return nil
	}
	l.logg.Info(l.logg.WithFields(ctx, map[string]any{
		"target": target,
		"text":   text,
	}), "alert.delivered")
	return nil
}
