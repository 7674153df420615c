// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the kernel meters.
const MeterName = "cgcs/kernel"

// KernelMetrics exposes aggregate kernel state to dashboards. A nil
// *KernelMetrics is valid and records nothing.
type KernelMetrics struct {
	admitted         metric.Int64Counter
	refused          metric.Int64Counter
	escalation       metric.Int64Gauge
	circuit          metric.Int64Gauge
	resource         metric.Float64Gauge
	roleLoad         metric.Float64Gauge
	consentDecisions metric.Int64Counter
	consentSwept     metric.Int64Counter
	loopRisk         metric.Float64Histogram
}

// NewKernelMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil.
func NewKernelMetrics(meter metric.Meter) (*KernelMetrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	m := &KernelMetrics{}
	var err error
	if m.admitted, err = meter.Int64Counter("cgcs.actions.admitted",
		metric.WithDescription("Actions admitted by the coordinator")); err != nil {
		return nil, err
	}
	if m.refused, err = meter.Int64Counter("cgcs.actions.refused",
		metric.WithDescription("Actions refused by the coordinator, by reason code")); err != nil {
		return nil, err
	}
	if m.escalation, err = meter.Int64Gauge("cgcs.escalation.level",
		metric.WithDescription("Escalation level per agent (0-10)")); err != nil {
		return nil, err
	}
	if m.circuit, err = meter.Int64Gauge("cgcs.circuit.state",
		metric.WithDescription("Circuit state per agent (0=broken, 2=closed)")); err != nil {
		return nil, err
	}
	if m.resource, err = meter.Float64Gauge("cgcs.fatigue.resource",
		metric.WithDescription("Fatigue resource per agent (0-100)")); err != nil {
		return nil, err
	}
	if m.roleLoad, err = meter.Float64Gauge("cgcs.roles.load",
		metric.WithDescription("Committed role load per agent")); err != nil {
		return nil, err
	}
	if m.consentDecisions, err = meter.Int64Counter("cgcs.consent.decisions",
		metric.WithDescription("Consent decisions by kind and status")); err != nil {
		return nil, err
	}
	if m.consentSwept, err = meter.Int64Counter("cgcs.consent.swept",
		metric.WithDescription("Consent records expired by the sweeper")); err != nil {
		return nil, err
	}
	if m.loopRisk, err = meter.Float64Histogram("cgcs.loopguard.risk",
		metric.WithDescription("Loop guard risk per observation"),
		metric.WithExplicitBucketBoundaries(0.25, 0.5, 0.6, 0.75, 0.9, 1)); err != nil {
		return nil, err
	}
	return m, nil
}

// ActionAdmitted counts an admitted action.
func (m *KernelMetrics) ActionAdmitted(ctx context.Context, agent string) {
	if m == nil {
		return
	}
	m.admitted.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAgentID, agent)))
}

// ActionRefused counts a refusal. code must be a bounded reason code, not
// free text.
func (m *KernelMetrics) ActionRefused(ctx context.Context, agent, code string) {
	if m == nil {
		return
	}
	m.refused.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAgentID, agent),
		attribute.String(AttrReason, code),
	))
}

// Escalation records an agent's escalation level.
func (m *KernelMetrics) Escalation(ctx context.Context, agent string, level int) {
	if m == nil {
		return
	}
	m.escalation.Record(ctx, int64(level), metric.WithAttributes(attribute.String(AttrAgentID, agent)))
}

// CircuitState records whether an agent's circuit is broken.
func (m *KernelMetrics) CircuitState(ctx context.Context, agent string, broken bool) {
	if m == nil {
		return
	}
	v := int64(2)
	if broken {
		v = 0
	}
	m.circuit.Record(ctx, v, metric.WithAttributes(attribute.String(AttrAgentID, agent)))
}

// FatigueResource records an agent's resource level.
func (m *KernelMetrics) FatigueResource(ctx context.Context, agent string, resource float64) {
	if m == nil {
		return
	}
	m.resource.Record(ctx, resource, metric.WithAttributes(attribute.String(AttrAgentID, agent)))
}

// RoleLoad records an agent's committed role load.
func (m *KernelMetrics) RoleLoad(ctx context.Context, agent string, load float64) {
	if m == nil {
		return
	}
	m.roleLoad.Record(ctx, load, metric.WithAttributes(attribute.String(AttrAgentID, agent)))
}

// ConsentDecision counts a consent state change.
func (m *KernelMetrics) ConsentDecision(ctx context.Context, kind, status string) {
	if m == nil {
		return
	}
	m.consentDecisions.Add(ctx, 1, metric.WithAttributes(ConsentAttributes(kind, status)...))
}

// ConsentSwept counts records expired by a sweep.
func (m *KernelMetrics) ConsentSwept(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.consentSwept.Add(ctx, int64(n))
}

// LoopRisk records one loop guard observation.
func (m *KernelMetrics) LoopRisk(ctx context.Context, agent, mode string, risk float64) {
	if m == nil {
		return
	}
	m.loopRisk.Record(ctx, risk, metric.WithAttributes(
		attribute.String(AttrAgentID, agent),
		attribute.String(AttrMode, mode),
	))
}
