package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the claim engine's OTel instruments. A nil *Metrics records nothing.
type Metrics struct {
	otpIssued         metric.Int64Counter
	otpVerifyFailures metric.Int64Counter
	claimsInitiated   metric.Int64Counter
	claimsFinalized   metric.Int64Counter
	claimsExpired     metric.Int64Counter
	invalidations     metric.Int64Counter
	sessionDuration   metric.Float64Histogram
}

// NewMetrics registers the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.otpIssued, err = meter.Int64Counter("claims.otp.issued",
		metric.WithDescription("Verification codes issued")); err != nil {
		return nil, err
	}
	if m.otpVerifyFailures, err = meter.Int64Counter("claims.otp.verify_failures",
		metric.WithDescription("Rejected verification attempts by reason")); err != nil {
		return nil, err
	}
	if m.claimsInitiated, err = meter.Int64Counter("claims.initiated",
		metric.WithDescription("Claim attempts started")); err != nil {
		return nil, err
	}
	if m.claimsFinalized, err = meter.Int64Counter("claims.finalized",
		metric.WithDescription("Claims that reached the claimed state")); err != nil {
		return nil, err
	}
	if m.claimsExpired, err = meter.Int64Counter("claims.expired",
		metric.WithDescription("Pending claims moved to expired")); err != nil {
		return nil, err
	}
	if m.invalidations, err = meter.Int64Counter("claims.cache_invalidations",
		metric.WithDescription("Cache invalidation events persisted")); err != nil {
		return nil, err
	}
	if m.sessionDuration, err = meter.Float64Histogram("claims.admin_session.duration",
		metric.WithDescription("Admin session length"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) OTPIssued(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.otpIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

func (m *Metrics) OTPVerifyFailed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.otpVerifyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) ClaimInitiated(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.claimsInitiated.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

func (m *Metrics) ClaimFinalized(ctx context.Context) {
	if m == nil {
		return
	}
	m.claimsFinalized.Add(ctx, 1)
}

func (m *Metrics) ClaimsExpired(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.claimsExpired.Add(ctx, int64(n))
}

func (m *Metrics) InvalidationRecorded(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.invalidations.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func (m *Metrics) SessionEnded(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.sessionDuration.Record(ctx, d.Seconds())
}
