package stream

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	broadcastSpanName = "stream.broadcast"
	tracerName        = "gymstream/stream"
)

// broadcastMetrics accumulates per-dispatch observations and emits them as
// one structured log line plus one span when the dispatch finishes.
type broadcastMetrics struct {
	logger    *log.Logger
	span      trace.Span
	start     time.Time
	eventType string
	orgID     string

	targets    int
	delivered  int
	pruned     int
	errorStage string
}

func newBroadcastMetrics(ctx context.Context, logger *log.Logger, eventType, orgID string) (*broadcastMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, broadcastSpanName)
	return &broadcastMetrics{
		logger:    logger,
		span:      span,
		start:     time.Now(),
		eventType: eventType,
		orgID:     orgID,
	}, spanCtx
}

func (m *broadcastMetrics) SetTargets(n int) {
	if n < 0 {
		n = 0
	}
	m.targets = n
}

func (m *broadcastMetrics) AddDelivered() { m.delivered++ }

func (m *broadcastMetrics) AddPruned() { m.pruned++ }

func (m *broadcastMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *broadcastMetrics) Log(err error) {
	if m == nil {
		return
	}
	elapsed := time.Since(m.start)

	if m.span != nil {
		m.span.SetAttributes(
			attribute.String("gymstream.event.type", m.eventType),
			attribute.String("gymstream.event.org_id", m.orgID),
			attribute.Int("gymstream.broadcast.targets", m.targets),
			attribute.Int("gymstream.broadcast.delivered", m.delivered),
			attribute.Int("gymstream.broadcast.pruned", m.pruned),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("gymstream.broadcast.error_stage", m.errorStage))
			m.span.SetStatus(codes.Error, m.errorStage)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event_type": m.eventType,
		"org_id":     m.orgID,
		"targets":    m.targets,
		"delivered":  m.delivered,
		"pruned":     m.pruned,
		"total_ms":   float64(elapsed) / float64(time.Millisecond),
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("broadcast.metrics")
}
