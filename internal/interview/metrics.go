package interview

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type machineMetrics struct {
	transitions metric.Int64Counter
	turns       metric.Int64Counter
	retries     metric.Int64Counter
	duration    metric.Float64Histogram
	lowConf     metric.Int64Counter
}

const meterName = "github.com/loqalabs/loqa-interview/interview"

// newMachineMetrics registers instruments on meter. An instrument that fails
// to register stays nil and is not recorded.
func newMachineMetrics(meter metric.Meter, logger *slog.Logger) *machineMetrics {
	m := &machineMetrics{}
	var errs []error
	var err error
	m.transitions, err = meter.Int64Counter("interview.transitions", metric.WithDescription("State transitions by target state"))
	errs = append(errs, err)
	m.turns, err = meter.Int64Counter("interview.turns", metric.WithDescription("Transcript turns by speaker"))
	errs = append(errs, err)
	m.retries, err = meter.Int64Counter("interview.capture_retries", metric.WithDescription("Automatic capture retries after failed transcription"))
	errs = append(errs, err)
	m.lowConf, err = meter.Int64Counter("interview.low_confidence_turns", metric.WithDescription("Candidate turns recognized below the confidence threshold"))
	errs = append(errs, err)
	m.duration, err = meter.Float64Histogram("interview.duration", metric.WithUnit("s"), metric.WithDescription("Completed interview duration"))
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		logger.Debug("interview metrics unavailable", slogError(err))
	}
	return m
}

func (m *machineMetrics) transition(ctx context.Context, s Status) {
	if m.transitions != nil {
		m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", s.String())))
	}
}

func (m *machineMetrics) turn(ctx context.Context, s Speaker) {
	if m.turns != nil {
		m.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", string(s))))
	}
}

func (m *machineMetrics) retry(ctx context.Context) {
	if m.retries != nil {
		m.retries.Add(ctx, 1)
	}
}

func (m *machineMetrics) completed(ctx context.Context, r Report) {
	if m.duration != nil {
		m.duration.Record(ctx, r.Duration.Seconds(), metric.WithAttributes(attribute.String("end_reason", string(r.EndReason))))
	}
	if m.lowConf != nil && len(r.LowConfidence) > 0 {
		m.lowConf.Add(ctx, int64(len(r.LowConfidence)))
	}
}
