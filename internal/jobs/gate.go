// Package jobs admits transcription jobs onto the engine and runs them end
// to end.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/snarg/scribe/internal/apperr"
	"golang.org/x/sync/semaphore"
)

// AdmissionPolicy decides what happens when the engine is already running a job.
type AdmissionPolicy string

const (
	// Reject fails the job with EngineBusy after the cooldown.
	Reject AdmissionPolicy = "reject"
	// Wait queues the job until the engine is free or ctx is done.
	Wait AdmissionPolicy = "wait"
)

// ParseAdmissionPolicy validates s.
func ParseAdmissionPolicy(s string) (AdmissionPolicy, error) {
	switch AdmissionPolicy(s) {
	case Reject, Wait:
		return AdmissionPolicy(s), nil
	}
	return "", fmt.Errorf("unknown admission policy %q (want reject or wait)", s)
}

// Gate allows a single job onto the engine at a time.
type Gate struct {
	sem      *semaphore.Weighted
	policy   AdmissionPolicy
	cooldown time.Duration
	inFlight atomic.Int32

	// OnReject is called each time a job is turned away.
	OnReject func()
}

// NewGate creates a gate of capacity 1.
func NewGate(policy AdmissionPolicy, cooldown time.Duration) *Gate {
	if policy == "" {
		policy = Reject
	}
	return &Gate{
		sem:      semaphore.NewWeighted(1),
		policy:   policy,
		cooldown: cooldown,
	}
}

// Do runs fn while holding the gate. The gate is released when fn returns
// or panics.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.acquire(ctx); err != nil {
		if g.OnReject != nil {
			g.OnReject()
		}
		return err
	}
	g.inFlight.Add(1)
	defer func() {
		g.inFlight.Add(-1)
		g.sem.Release(1)
	}()
	return fn(ctx)
}

func (g *Gate) acquire(ctx context.Context) error {
	if g.sem.TryAcquire(1) {
		return nil
	}

	if g.policy == Wait {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return apperr.Wrap(apperr.EngineBusy, err, "gave up waiting for the engine")
		}
		return nil
	}

	// The cooldown paces clients that retry immediately.
	if g.cooldown > 0 {
		timer := time.NewTimer(g.cooldown)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	return apperr.New(apperr.EngineBusy, "engine is busy with another transcription, retry shortly")
}

// InFlight returns the number of jobs holding the gate (0 or 1).
func (g *Gate) InFlight() int { return int(g.inFlight.Load()) }

// RetryAfter is the client back-off hint for busy responses, in whole
// seconds and at least 1.
func (g *Gate) RetryAfter() int {
	s := int((g.cooldown + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

// Policy returns the admission policy.
func (g *Gate) Policy() AdmissionPolicy { return g.policy }
