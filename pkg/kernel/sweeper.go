// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Start launches the consent expiry sweeper when consent.sweep_interval is
// positive. Expiry is lazy without it. Calling Start twice restarts the
// sweeper.
func (k *Kernel) Start(ctx context.Context) {
	interval := k.cfg.Consent.SweepInterval
	if interval <= 0 {
		k.logger.Info("kernel.consent.sweeper.disabled", slog.Duration("interval", interval))
		return
	}
	k.Stop()

	k.sweepMu.Lock()
	defer k.sweepMu.Unlock()
	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	k.sweepCancel = cancel
	k.sweepDone = done
	go k.sweepLoop(sweepCtx, interval, done)
}

// Stop halts the sweeper and waits for it to exit.
func (k *Kernel) Stop() {
	k.sweepMu.Lock()
	cancel, done := k.sweepCancel, k.sweepDone
	k.sweepCancel, k.sweepDone = nil, nil
	k.sweepMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (k *Kernel) sweepLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	k.logger.Info("kernel.consent.sweeper.start", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			k.logger.Info("kernel.consent.sweeper.stop")
			return
		case <-ticker.C:
			k.SweepConsents(ctx)
		}
	}
}

// SweepConsents expires overdue consent records once and returns how many
// changed.
func (k *Kernel) SweepConsents(ctx context.Context) int {
	timeout := k.cfg.Consent.SweepTimeout
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx, span := otel.Tracer("cgcs/kernel").Start(ctx, "kernel.consent.sweep",
		trace.WithAttributes(attribute.String("timeout", timeout.String())),
	)
	defer span.End()

	start := time.Now()
	expired, err := k.consent.ExpireConsents(ctx)
	durationMs := float64(time.Since(start).Seconds() * 1000)
	if err != nil {
		span.RecordError(err)
		k.logger.WarnContext(ctx, "kernel.consent.sweep.error",
			slog.Float64("duration_ms", durationMs),
			slog.String("error", err.Error()),
		)
		return 0
	}
	k.metrics.ConsentSwept(ctx, expired)
	span.SetAttributes(
		attribute.Int("expired", expired),
		attribute.Float64("duration_ms", durationMs),
	)
	k.logger.DebugContext(ctx, "kernel.consent.sweep.complete",
		slog.Int("expired", expired),
		slog.Float64("duration_ms", durationMs),
	)
	return expired
}
