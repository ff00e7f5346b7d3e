package api

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
	tasksRoute       = "/api/tasks"
	tasksSpanName    = "board.tasks.fetch"
	tasksEventName   = "board.tasks.request"
	tasksEventDomain = "board"
)

// taskRequestMetrics captures per-request timings for the snapshot
// endpoint and emits one structured log entry plus one span per request.
type taskRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration   time.Duration
	fetchDuration  time.Duration
	encodeDuration time.Duration
	tasksReturned  int
	errorStage     string
}

// newTaskRequestMetrics starts the request span and returns the context it
// should propagate through.
func newTaskRequestMetrics(ctx context.Context, logger *log.Logger) (*taskRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer("taskboard/api").Start(ctx, tasksSpanName)
	return &taskRequestMetrics{logger: logger, span: span, start: time.Now()}, spanCtx
}

func (m *taskRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *taskRequestMetrics) ObserveFetch(d time.Duration) {
	if d > 0 {
		m.fetchDuration = d
	}
}

func (m *taskRequestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *taskRequestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *taskRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log finalizes the span and writes the observability event. It must be
// called exactly once per request, after the response is written.
func (m *taskRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	total := time.Since(m.start)

	attrs := map[string]any{
		"http.route":                 tasksRoute,
		"board.tasks.total_ms":       durationToMillis(total),
		"board.tasks.tasks_returned": m.tasksReturned,
	}
	spanAttrs := []attribute.KeyValue{
		attribute.String("http.route", tasksRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("board.tasks.total_ms", durationToMillis(total)),
		attribute.Int("board.tasks.tasks_returned", m.tasksReturned),
	}
	if m.authDuration > 0 {
		attrs["board.tasks.auth_ms"] = durationToMillis(m.authDuration)
		spanAttrs = append(spanAttrs, attribute.Float64("board.tasks.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.fetchDuration > 0 {
		attrs["board.tasks.fetch_ms"] = durationToMillis(m.fetchDuration)
		spanAttrs = append(spanAttrs, attribute.Float64("board.tasks.fetch_ms", durationToMillis(m.fetchDuration)))
	}
	if m.encodeDuration > 0 {
		attrs["board.tasks.encode_ms"] = durationToMillis(m.encodeDuration)
		spanAttrs = append(spanAttrs, attribute.Float64("board.tasks.encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.errorStage != "" {
		attrs["board.tasks.error_stage"] = m.errorStage
		spanAttrs = append(spanAttrs, attribute.String("board.tasks.error_stage", m.errorStage))
	}
	if err != nil {
		attrs["error"] = err.Error()
	}

	if m.span != nil {
		m.span.SetAttributes(spanAttrs...)
		m.span.AddEvent("observability.event")
		if err != nil || status >= 500 {
			m.span.SetStatus(codes.Error, m.errorStage)
			if err != nil {
				m.span.RecordError(err)
			}
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      tasksEventName,
		"event.domain":    tasksEventDomain,
		"attributes":      attrs,
		"severity_text":   "INFO",
		"severity_number": 9,
		"status":          status,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	m.logger.WithFields(fields).Info("observability.event")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
