package notify

import (
	"context"
	"log/slog"
)

// Console writes every event to a structured logger. It stands in for the
// real delivery transports during local runs and tests.
type Console struct {
	log *slog.Logger
}

func NewConsole(log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{log: log}
}

func (c *Console) Notify(_ context.Context, kind EventKind, payload map[string]any) error {
	attrs := make([]any, 0, 2*len(payload)+1)
	attrs = append(attrs, slog.String("event", string(kind)))
	for k, v := range payload {
		attrs = append(attrs, slog.Any(k, v))
	}

	switch kind {
	case OrderAmbiguous, VenueDegraded, StrategyHalted:
		c.log.Warn("trading event", attrs...)
	default:
		c.log.Info("trading event", attrs...)
	}
	return nil
}
