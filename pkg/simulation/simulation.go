// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package simulation drives a kernel with a swarm of synthetic agents and
// checks the kernel invariants after every step.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jllopis/cgcs/pkg/consent"
	"github.com/jllopis/cgcs/pkg/coordinator"
	"github.com/jllopis/cgcs/pkg/errors"
	"github.com/jllopis/cgcs/pkg/kernel"
	"github.com/jllopis/cgcs/pkg/roles"
)

// Options size the swarm. Zero values use the defaults.
type Options struct {
	Agents      int
	Steps       int
	Concurrency int
	Seed        uint64
	// ConsentRatio is the share of agents granted role-assignment consent.
	ConsentRatio float64
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Agents <= 0 {
		o.Agents = 8
	}
	if o.Steps <= 0 {
		o.Steps = 50
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.ConsentRatio <= 0 {
		o.ConsentRatio = 0.5
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Report summarizes a run.
type Report struct {
	Agents             int            `json:"agents"`
	Steps              int            `json:"steps"`
	Seed               uint64         `json:"seed"`
	Activations        int            `json:"activations"`
	ActivationsRefused int            `json:"activations_refused"`
	Admitted           int            `json:"admitted"`
	Refused            int            `json:"refused"`
	RefusedByCode      map[string]int `json:"refused_by_code"`
	Observations       int            `json:"observations"`
	Trips              int            `json:"trips"`
	Resets             int            `json:"resets"`
	Violations         []string       `json:"violations,omitempty"`
	Duration           time.Duration  `json:"duration"`
}

// OK reports whether no invariant was violated.
func (r Report) OK() bool { return len(r.Violations) == 0 }

var phrases = []string{
	"please help me sort this",
	"can you carry the box",
	"HELP!!",
	"stop it!!!",
	"the soil looks dry today",
	"what is next",
}

type tally struct {
	mu sync.Mutex
	r  Report
}

func (t *tally) add(fn func(r *Report)) {
	t.mu.Lock()
	fn(&t.r)
	t.mu.Unlock()
}

// Run registers opts.Agents agents on k and drives them concurrently. It
// returns an error only when the swarm could not be set up or ctx ended.
// Invariant violations are reported, not returned.
func Run(ctx context.Context, k *kernel.Kernel, opts Options) (Report, error) {
	opts = opts.withDefaults()
	start := time.Now()

	ids := make([]string, opts.Agents)
	consented := make(map[string]bool, opts.Agents)
	for i := range ids {
		id := fmt.Sprintf("sim-%03d", i)
		ids[i] = id
		if err := k.RegisterAgent(ctx, id); err != nil {
			return Report{}, err
		}
		if float64(i) < opts.ConsentRatio*float64(opts.Agents) {
			rec, err := k.RequestConsent("", consent.KindRoleAssignment, id, "simulation", 0)
			if err != nil {
				return Report{}, err
			}
			k.Grant(ctx, rec.ID)
			consented[id] = true
		}
	}

	t := &tally{r: Report{
		Agents:        opts.Agents,
		Steps:         opts.Steps,
		Seed:          opts.Seed,
		RefusedByCode: make(map[string]int),
	}}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, id := range ids {
		rng := rand.New(rand.NewPCG(opts.Seed, uint64(i)))
		g.Go(func() error {
			return drive(gctx, k, id, consented[id], opts.Steps, rng, t)
		})
	}
	err := g.Wait()

	t.r.Duration = time.Since(start)
	sort.Strings(t.r.Violations)
	opts.Logger.InfoContext(ctx, "simulation.complete",
		slog.Int("agents", t.r.Agents),
		slog.Int("admitted", t.r.Admitted),
		slog.Int("refused", t.r.Refused),
		slog.Int("trips", t.r.Trips),
		slog.Int("violations", len(t.r.Violations)),
		slog.Duration("duration", t.r.Duration),
	)
	if err != nil {
		return t.r, errors.New(errors.CodeCanceled, "simulation interrupted", err)
	}
	return t.r, nil
}

func drive(ctx context.Context, k *kernel.Kernel, id string, consented bool, steps int, rng *rand.Rand, t *tally) error {
	names := k.Registry().Names()
	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch op := rng.IntN(10); {
		case op < 3:
			role := names[rng.IntN(len(names))]
			ok, _, err := k.ActivateRole(ctx, id, role, "", -1)
			if err != nil {
				return err
			}
			t.add(func(r *Report) {
				if ok {
					r.Activations++
				} else {
					r.ActivationsRefused++
				}
			})
		case op < 4:
			active, err := k.Coordinator().ActiveRoles(id)
			if err != nil {
				return err
			}
			if len(active) > 0 {
				if err := k.ReleaseRole(ctx, id, active[rng.IntN(len(active))]); err != nil {
					return err
				}
			}
		case op < 8:
			action := pickAction(k, id, rng)
			d := k.CoordinateAction(ctx, id, action, coordinator.ActionContext{Text: phrases[rng.IntN(len(phrases))]})
			t.add(func(r *Report) {
				if d.Allowed {
					r.Admitted++
				} else {
					r.Refused++
					r.RefusedByCode[string(d.Code)]++
				}
				if d.Tripped {
					r.Trips++
				}
			})
		case op < 9:
			if _, err := k.Observe(ctx, id, phrases[rng.IntN(len(phrases))], nil); err != nil {
				return err
			}
			t.add(func(r *Report) { r.Observations++ })
		default:
			if k.Coordinator().CircuitBroken(id) {
				reset, err := k.ResetCircuit(ctx, id)
				if err != nil {
					return err
				}
				if reset {
					t.add(func(r *Report) { r.Resets++ })
				}
			}
			k.Tick(0.5, map[string]float64{}, rng.Float64())
		}

		if v := checkInvariants(k, id, consented); len(v) > 0 {
			t.add(func(r *Report) {
				for _, msg := range v {
					r.Violations = append(r.Violations, fmt.Sprintf("%s step %d: %s", id, step, msg))
				}
			})
		}
	}
	return nil
}

// pickAction mostly chooses a permitted action and sometimes a random one
// from the catalog.
func pickAction(k *kernel.Kernel, id string, rng *rand.Rand) string {
	allowed, err := k.Coordinator().AllowedActions(id)
	if err == nil && len(allowed) > 0 && rng.IntN(4) != 0 {
		return allowed[rng.IntN(len(allowed))]
	}
	specs := k.Registry().Specs()
	acts := specs[rng.IntN(len(specs))].AllowedActions()
	if len(acts) == 0 {
		return roles.FallbackAction
	}
	return acts[rng.IntN(len(acts))]
}

const loadEpsilon = 1e-9

func checkInvariants(k *kernel.Kernel, id string, consented bool) []string {
	st, err := k.Coordinator().AgentStatus(id)
	if err != nil {
		return []string{err.Error()}
	}
	var out []string
	maxLoad := k.Config().Capacity.MaxLoad
	if st.Load < -loadEpsilon || st.Load > maxLoad+loadEpsilon {
		out = append(out, fmt.Sprintf("load %.3f outside [0,%.2f]", st.Load, maxLoad))
	}
	reg := k.Registry()
	for i, a := range st.ActiveRoles {
		spec, ok := reg.Lookup(a)
		if !ok {
			out = append(out, fmt.Sprintf("unknown active role %q", a))
			continue
		}
		if spec.RequiresConsent() && !consented {
			out = append(out, fmt.Sprintf("role %q active without consent", a))
		}
		for _, b := range st.ActiveRoles[i+1:] {
			if reg.Excluded(a, b) {
				out = append(out, fmt.Sprintf("exclusive roles %q and %q both active", a, b))
			}
		}
	}
	if st.State == coordinator.StateCircuitBroken && len(st.ActiveRoles) > 0 {
		out = append(out, "circuit-broken agent holds roles")
	}
	if r := st.Fatigue.Resource; r < 0 || r > 100 {
		out = append(out, fmt.Sprintf("resource %.2f outside [0,100]", r))
	}
	if st.Escalation < 0 || st.Escalation > coordinator.MaxEscalation {
		out = append(out, fmt.Sprintf("escalation %d outside [0,%d]", st.Escalation, coordinator.MaxEscalation))
	}
	for role, s := range st.Stress {
		if s < 0 || s > 1 {
			out = append(out, fmt.Sprintf("stress %s=%.3f outside [0,1]", role, s))
		}
	}
	return out
}
