// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"fmt"

	"github.com/jllopis/cgcs/pkg/core"
)

// Health runs every registered checker. The kernel is unhealthy when every
// agent is circuit-broken and degraded when some are, or when some agents
// are resting.
func (k *Kernel) Health(ctx context.Context) ([]core.HealthResult, core.HealthStatus) {
	return k.health.CheckAll(ctx)
}

func (k *Kernel) coordinatorHealth(context.Context) core.HealthResult {
	st := k.coord.Status()
	res := core.HealthResult{Status: core.HealthHealthy, LastCheck: k.now()}
	total := len(st.Agents)
	switch {
	case total > 0 && st.CircuitBroken == total:
		res.Status = core.HealthUnhealthy
		res.Message = "all agents circuit-broken"
	case st.CircuitBroken > 0:
		res.Status = core.HealthDegraded
		res.Message = fmt.Sprintf("%d of %d agents circuit-broken", st.CircuitBroken, total)
	default:
		res.Message = fmt.Sprintf("%d agents active", st.Active)
	}
	return res
}

func (k *Kernel) fatigueHealth(context.Context) core.HealthResult {
	res := core.HealthResult{Status: core.HealthHealthy, LastCheck: k.now()}
	resting := 0
	agents := k.coord.Agents()
	for _, id := range agents {
		if st, err := k.fatigue.State(id); err == nil && st.Resting() {
			resting++
		}
	}
	if resting > 0 {
		res.Status = core.HealthDegraded
	}
	res.Message = fmt.Sprintf("%d of %d agents resting", resting, len(agents))
	return res
}
