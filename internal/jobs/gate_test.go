package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/snarg/scribe/internal/apperr"
)

func TestGateRejectsWhileBusy(t *testing.T) {
	g := NewGate(Reject, 50*time.Millisecond)
	var rejected int
	g.OnReject = func() { rejected++ }

	hold := make(chan struct{})
	entered := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- g.Do(context.Background(), func(ctx context.Context) error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered

	if g.InFlight() != 1 {
		t.Errorf("InFlight = %d, want 1", g.InFlight())
	}

	start := time.Now()
	ran := false
	err := g.Do(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	if !apperr.Is(err, apperr.EngineBusy) {
		t.Fatalf("err = %v, want EngineBusy", err)
	}
	if ran {
		t.Error("rejected job must not run")
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("rejection should wait for the cooldown")
	}
	if rejected != 1 {
		t.Errorf("OnReject called %d times, want 1", rejected)
	}

	close(hold)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if g.InFlight() != 0 {
		t.Errorf("InFlight = %d after release", g.InFlight())
	}
}

func TestGateCooldownHonorsContext(t *testing.T) {
	g := NewGate(Reject, time.Hour)
	hold := make(chan struct{})
	defer close(hold)
	entered := make(chan struct{})
	go g.Do(context.Background(), func(ctx context.Context) error {
		close(entered)
		<-hold
		return nil
	})
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Do(ctx, func(ctx context.Context) error { return nil })
	if !apperr.Is(err, apperr.EngineBusy) {
		t.Fatalf("err = %v, want EngineBusy", err)
	}
}

func TestGateWaitSerializes(t *testing.T) {
	g := NewGate(Wait, 0)

	var (
		mu      sync.Mutex
		current int
		peak    int
		wg      sync.WaitGroup
		errs    = make([]error, 5)
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = g.Do(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				current++
				if current > peak {
					peak = current
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				current--
				mu.Unlock()
				return nil
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("job %d: %v", i, err)
		}
	}
	if peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
}

func TestGateWaitCanceled(t *testing.T) {
	g := NewGate(Wait, 0)
	hold := make(chan struct{})
	defer close(hold)
	entered := make(chan struct{})
	go g.Do(context.Background(), func(ctx context.Context) error {
		close(entered)
		<-hold
		return nil
	})
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Do(ctx, func(ctx context.Context) error { return nil }); !apperr.Is(err, apperr.EngineBusy) {
		t.Errorf("err = %v, want EngineBusy", err)
	}
}

func TestGateReleasesOnErrorAndPanic(t *testing.T) {
	g := NewGate(Reject, 0)
	boom := errors.New("boom")

	if err := g.Do(context.Background(), func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic should propagate")
			}
		}()
		g.Do(context.Background(), func(ctx context.Context) error { panic("engine crashed") })
	}()

	if g.InFlight() != 0 {
		t.Errorf("InFlight = %d after panic", g.InFlight())
	}
	if err := g.Do(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("gate not released: %v", err)
	}
}

func TestGateRetryAfter(t *testing.T) {
	tests := []struct {
		cooldown time.Duration
		want     int
	}{
		{0, 1},
		{500 * time.Millisecond, 1},
		{3 * time.Second, 3},
		{3500 * time.Millisecond, 4},
	}
	for _, tt := range tests {
		if got := NewGate(Reject, tt.cooldown).RetryAfter(); got != tt.want {
			t.Errorf("RetryAfter(%s) = %d, want %d", tt.cooldown, got, tt.want)
		}
	}
}

func TestParseAdmissionPolicy(t *testing.T) {
	for _, s := range []string{"reject", "wait"} {
		if _, err := ParseAdmissionPolicy(s); err != nil {
			t.Errorf("%q: %v", s, err)
		}
	}
	if _, err := ParseAdmissionPolicy("queue"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
