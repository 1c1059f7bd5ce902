// Package telemetry provides OpenTelemetry instruments for the coordination
// layer: heartbeats, reclaims, config saves, promotions and backups.
//
// All methods on *Metrics are nil-safe so components can be built without a
// meter provider.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for all coordination metrics.
const MeterName = "github.com/bapelauto/coord"

// Result attribute values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Reclaim reasons.
const (
	ReasonExpired = "expired"
	ReasonCorrupt = "corrupt"
)

// Metrics holds the OpenTelemetry instruments for one instance.
type Metrics struct {
	heartbeats     metric.Int64Counter
	reclaims       metric.Int64Counter
	saves          metric.Int64Counter
	promotions     metric.Int64Counter
	backups        metric.Int64Counter
	activeSessions metric.Int64Gauge
}

// NewMetrics creates the instruments from provider.
// If provider is nil, it returns nil (no-op metrics).
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(MeterName)
	m := &Metrics{}
	var err error

	if m.heartbeats, err = meter.Int64Counter(
		"bapelauto_heartbeats_total",
		metric.WithDescription("Heartbeat writes of this instance's session record"),
		metric.WithUnit("{heartbeat}"),
	); err != nil {
		return nil, err
	}
	if m.reclaims, err = meter.Int64Counter(
		"bapelauto_reclaims_total",
		metric.WithDescription("Session records of other instances removed by this instance"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, err
	}
	if m.saves, err = meter.Int64Counter(
		"bapelauto_config_saves_total",
		metric.WithDescription("Instance configuration saves"),
		metric.WithUnit("{save}"),
	); err != nil {
		return nil, err
	}
	if m.promotions, err = meter.Int64Counter(
		"bapelauto_promotions_total",
		metric.WithDescription("Writes of the instance configuration to the shared layer"),
		metric.WithUnit("{promotion}"),
	); err != nil {
		return nil, err
	}
	if m.backups, err = meter.Int64Counter(
		"bapelauto_backups_total",
		metric.WithDescription("Configuration backup snapshots"),
		metric.WithUnit("{backup}"),
	); err != nil {
		return nil, err
	}
	if m.activeSessions, err = meter.Int64Gauge(
		"bapelauto_active_sessions",
		metric.WithDescription("Alive session records seen by the last scan"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func resultAttr(err error) metric.AddOption {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	return metric.WithAttributes(attribute.String("result", result))
}

// RecordHeartbeat counts one heartbeat attempt.
func (m *Metrics) RecordHeartbeat(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.heartbeats.Add(ctx, 1, resultAttr(err))
}

// RecordReclaim counts one foreign record removed for reason.
func (m *Metrics) RecordReclaim(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.reclaims.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSave counts one configuration save attempt.
func (m *Metrics) RecordSave(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.saves.Add(ctx, 1, resultAttr(err))
}

// RecordPromotion counts one write to the shared layer.
func (m *Metrics) RecordPromotion(ctx context.Context) {
	if m == nil {
		return
	}
	m.promotions.Add(ctx, 1)
}

// RecordBackup counts one backup snapshot attempt.
func (m *Metrics) RecordBackup(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.backups.Add(ctx, 1, resultAttr(err))
}

// RecordActiveSessions records the number of alive sessions last observed.
func (m *Metrics) RecordActiveSessions(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.activeSessions.Record(ctx, int64(n))
}
