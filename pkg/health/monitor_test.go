package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestMonitorHealthy(t *testing.T) {
	hm := NewHealthMonitor()
	hm.RegisterCheck(CreateCompilerHealthCheck(func(string) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hm.Start(ctx)
	defer hm.Stop()

	if got := hm.GetOverallStatus(); got != StatusHealthy {
		t.Errorf("overall status = %s, want healthy", got)
	}
	status, ok := hm.GetCheckStatus("compiler")
	if !ok || status != StatusHealthy {
		t.Errorf("compiler status = %s (%v), want healthy", status, ok)
	}
	if _, ok := hm.GetCheckStatus("missing"); ok {
		t.Error("unknown check reported as present")
	}
}

func TestCriticalFailureIsUnhealthy(t *testing.T) {
	hm := NewHealthMonitor()
	hm.RegisterCheck(CreateCompilerHealthCheck(func(string) error { return errors.New("registry broken") }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hm.Start(ctx)
	defer hm.Stop()

	if got := hm.GetOverallStatus(); got != StatusUnhealthy {
		t.Errorf("overall status = %s, want unhealthy", got)
	}
	report := hm.Report()["compiler"]
	if report.Error != "registry broken" || !report.Critical {
		t.Errorf("unexpected report %+v", report)
	}
}

type failingStore struct{}

func (failingStore) GetStats(context.Context) (int64, int64, error) {
	return 0, 0, errors.New("database is locked")
}

func TestNonCriticalFailureDegrades(t *testing.T) {
	hm := NewHealthMonitor()
	hm.RegisterCheck(CreateCompilerHealthCheck(func(string) error { return nil }))
	hm.RegisterCheck(CreateStoreHealthCheck(failingStore{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hm.Start(ctx)
	defer hm.Stop()

	if got := hm.GetOverallStatus(); got != StatusDegraded {
		t.Errorf("overall status = %s, want degraded", got)
	}
}

func TestRecoveryAfterFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	hm := NewHealthMonitor()
	hm.RegisterCheck(&HealthCheck{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Critical: true,
		Check: func(context.Context) error {
			if fail.Load() {
				return errors.New("down")
			}
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hm.Start(ctx)
	defer hm.Stop()

	if got := hm.GetOverallStatus(); got != StatusUnhealthy {
		t.Fatalf("overall status = %s, want unhealthy", got)
	}
	fail.Store(false)

	deadline := time.Now().Add(2 * time.Second)
	for hm.GetOverallStatus() != StatusHealthy {
		if time.Now().After(deadline) {
			t.Fatal("monitor did not recover")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPanickingCheck(t *testing.T) {
	hm := NewHealthMonitor()
	hm.RegisterCheck(&HealthCheck{
		Name:     "panics",
		Critical: true,
		Check:    func(context.Context) error { panic("boom") },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hm.Start(ctx)
	defer hm.Stop()

	if got := hm.GetOverallStatus(); got != StatusUnhealthy {
		t.Errorf("overall status = %s, want unhealthy", got)
	}
}
