// Package health runs periodic checks of the components a sieve server
// depends on and aggregates them into one status for the /health route.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/migadu/sora-sieve/logger"
	"github.com/migadu/sora-sieve/pkg/metrics"
)

type ComponentStatus string

const (
	StatusHealthy     ComponentStatus = "healthy"
	StatusDegraded    ComponentStatus = "degraded"
	StatusUnhealthy   ComponentStatus = "unhealthy"
	StatusUnreachable ComponentStatus = "unreachable"
)

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Interval time.Duration
	Timeout  time.Duration
	Critical bool // If true, failure affects overall system health

	// Fields below are protected by mu
	mu         sync.RWMutex
	LastCheck  time.Time
	LastError  error
	Status     ComponentStatus
	CheckCount int
	FailCount  int
}

// CheckReport is the last outcome of one check.
type CheckReport struct {
	Status    ComponentStatus `json:"status"`
	Critical  bool            `json:"critical"`
	LastCheck time.Time       `json:"last_check"`
	Error     string          `json:"error,omitempty"`
}

type HealthMonitor struct {
	checks        map[string]*HealthCheck
	mu            sync.RWMutex
	overallStatus ComponentStatus
	ctx           context.Context
	cancel        context.CancelFunc
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		checks:        make(map[string]*HealthCheck),
		overallStatus: StatusHealthy,
	}
}

func (hm *HealthMonitor) RegisterCheck(check *HealthCheck) {
	if check.Interval == 0 {
		check.Interval = 30 * time.Second
	}
	if check.Timeout == 0 {
		check.Timeout = 10 * time.Second
	}
	check.Status = StatusHealthy

	hm.mu.Lock()
	hm.checks[check.Name] = check
	hm.mu.Unlock()
}

// Start runs every check once, then keeps each on its own interval until
// ctx is done or Stop is called.
func (hm *HealthMonitor) Start(ctx context.Context) {
	hm.ctx, hm.cancel = context.WithCancel(ctx)

	hm.mu.RLock()
	checks := make([]*HealthCheck, 0, len(hm.checks))
	for _, check := range hm.checks {
		checks = append(checks, check)
	}
	hm.mu.RUnlock()

	for _, check := range checks {
		hm.performCheck(check)
		go hm.runHealthCheck(check)
	}
}

func (hm *HealthMonitor) Stop() {
	if hm.cancel != nil {
		hm.cancel()
	}
}

func (hm *HealthMonitor) runHealthCheck(check *HealthCheck) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	logger.Info("Health monitoring started", "check", check.Name, "interval", check.Interval)
	for {
		select {
		case <-hm.ctx.Done():
			return
		case <-ticker.C:
			hm.performCheck(check)
		}
	}
}

func (hm *HealthMonitor) performCheck(check *HealthCheck) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			logger.Error("Health check panicked", "check", check.Name, "error", err)

			check.mu.Lock()
			check.Status = StatusUnhealthy
			check.LastError = err
			check.mu.Unlock()

			hm.updateOverallStatus()
		}
	}()

	ctx, cancel := context.WithTimeout(hm.ctx, check.Timeout)
	defer cancel()
	err := check.Check(ctx)

	check.mu.Lock()
	check.CheckCount++
	check.LastCheck = time.Now()
	previousStatus := check.Status

	if err != nil {
		check.FailCount++
		check.LastError = err

		// A single failure degrades; a high failure rate is unhealthy.
		failureRate := float64(check.FailCount) / float64(check.CheckCount)
		if failureRate >= 0.5 {
			check.Status = StatusUnhealthy
		} else {
			check.Status = StatusDegraded
		}
		logger.Warn("Health check failed", "check", check.Name, "error", err,
			"status", check.Status, "failure_rate", failureRate)
	} else {
		check.LastError = nil
		check.Status = StatusHealthy
	}
	currentStatus := check.Status
	check.mu.Unlock()

	metrics.ComponentHealthStatus.WithLabelValues(check.Name).Set(statusValue(currentStatus))
	if previousStatus != currentStatus {
		logger.Info("Health check status changed", "check", check.Name,
			"from", previousStatus, "to", currentStatus)
	}

	hm.updateOverallStatus()
}

// statusValue maps a status to the gauge value: 0=unreachable, 1=unhealthy,
// 2=degraded, 3=healthy.
func statusValue(status ComponentStatus) float64 {
	switch status {
	case StatusHealthy:
		return 3
	case StatusDegraded:
		return 2
	case StatusUnhealthy:
		return 1
	}
	return 0
}

func (hm *HealthMonitor) updateOverallStatus() {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	var criticalUnhealthy, anyDegraded bool
	for _, check := range hm.checks {
		check.mu.RLock()
		status := check.Status
		critical := check.Critical
		check.mu.RUnlock()

		switch status {
		case StatusUnhealthy, StatusUnreachable:
			if critical {
				criticalUnhealthy = true
			} else {
				anyDegraded = true
			}
		case StatusDegraded:
			anyDegraded = true
		}
	}

	previousStatus := hm.overallStatus
	switch {
	case criticalUnhealthy:
		hm.overallStatus = StatusUnhealthy
	case anyDegraded:
		hm.overallStatus = StatusDegraded
	default:
		hm.overallStatus = StatusHealthy
	}

	if previousStatus != hm.overallStatus {
		logger.Info("Overall health changed", "from", previousStatus, "to", hm.overallStatus)
	}
}

func (hm *HealthMonitor) GetOverallStatus() ComponentStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.overallStatus
}

func (hm *HealthMonitor) GetCheckStatus(name string) (ComponentStatus, bool) {
	hm.mu.RLock()
	check, exists := hm.checks[name]
	hm.mu.RUnlock()

	if !exists {
		return StatusUnreachable, false
	}

	check.mu.RLock()
	defer check.mu.RUnlock()
	return check.Status, true
}

// Report returns the last outcome of every check.
func (hm *HealthMonitor) Report() map[string]CheckReport {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	reports := make(map[string]CheckReport, len(hm.checks))
	for name, check := range hm.checks {
		check.mu.RLock()
		r := CheckReport{Status: check.Status, Critical: check.Critical, LastCheck: check.LastCheck}
		if check.LastError != nil {
			r.Error = check.LastError.Error()
		}
		check.mu.RUnlock()
		reports[name] = r
	}
	return reports
}

// StatsReader is satisfied by the binary store.
type StatsReader interface {
	GetStats(ctx context.Context) (count int64, totalSize int64, err error)
}

// CreateStoreHealthCheck checks that the binary store answers queries.
func CreateStoreHealthCheck(store StatsReader) *HealthCheck {
	return &HealthCheck{
		Name:     "binary_store",
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
		Critical: false,
		Check: func(ctx context.Context) error {
			_, _, err := store.GetStats(ctx)
			return err
		},
	}
}

// probeScript exercises parsing, code generation and loading.
const probeScript = `if header :contains "subject" "probe" { keep; }`

// CreateCompilerHealthCheck checks that compile can still build a trivial
// script.
func CreateCompilerHealthCheck(compile func(src string) error) *HealthCheck {
	return &HealthCheck{
		Name:     "compiler",
		Interval: time.Minute,
		Timeout:  5 * time.Second,
		Critical: true,
		Check: func(ctx context.Context) error {
			return compile(probeScript)
		},
	}
}
