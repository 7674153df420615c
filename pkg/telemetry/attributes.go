// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for kernel spans and metrics.
const (
	AttrAgentID    = "cgcs.agent.id"
	AttrAction     = "cgcs.action"
	AttrRoleName   = "cgcs.role.name"
	AttrReason     = "cgcs.reason"
	AttrAllowed    = "cgcs.allowed"
	AttrEscalation = "cgcs.escalation.level"
	AttrMode       = "cgcs.loopguard.mode"
	AttrRisk       = "cgcs.loopguard.risk"

	AttrConsentKind   = "cgcs.consent.kind"
	AttrConsentStatus = "cgcs.consent.status"
	AttrConsentSwept  = "cgcs.consent.swept"

	AttrCircuitState = "cgcs.circuit.state"
)

// DecisionAttributes returns attributes for an admission decision span.
func DecisionAttributes(agentID, action string, allowed bool, reason string, escalation int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentID, agentID),
		attribute.Bool(AttrAllowed, allowed),
		attribute.Int(AttrEscalation, escalation),
	}
	if action != "" {
		attrs = append(attrs, attribute.String(AttrAction, action))
	}
	if !allowed && reason != "" {
		attrs = append(attrs, attribute.String(AttrReason, reason))
	}
	return attrs
}

// LoopAttributes returns attributes for a loop guard observation.
func LoopAttributes(mode string, risk float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrMode, mode),
		attribute.Float64(AttrRisk, risk),
	}
}

// RoleAttributes returns attributes for role activation and release.
func RoleAttributes(agentID, role string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrRoleName, role)}
	if agentID != "" {
		attrs = append(attrs, attribute.String(AttrAgentID, agentID))
	}
	return attrs
}

// ConsentAttributes returns attributes for consent decisions.
func ConsentAttributes(kind, status string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if kind != "" {
		attrs = append(attrs, attribute.String(AttrConsentKind, kind))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrConsentStatus, status))
	}
	return attrs
}
