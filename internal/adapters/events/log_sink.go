package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "telebirr_events_emitted_total",
	Help: "Domain events emitted by name",
}, []string{"event"})

// LogSink emits domain events as structured log lines. Hosts that consume
// events from the log stream get at-most-once delivery with no extra
// infrastructure; anything stronger replaces this sink.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-backed event sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Emit logs the event. It never blocks.
func (s *LogSink) Emit(_ context.Context, event string, payload interface{}) {
	eventsEmitted.WithLabelValues(event).Inc()
	s.logger.Info("event",
		zap.String("event", event),
		zap.Any("payload", payload),
	)
}
