package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestExecutionMetrics(t *testing.T) {
	ExecutionsTotal.Reset()
	ActionsQueued.Reset()

	ExecutionsTotal.WithLabelValues("success").Inc()
	ExecutionsTotal.WithLabelValues("success").Inc()
	ExecutionsTotal.WithLabelValues("error").Inc()
	ActionsQueued.WithLabelValues("fileinto").Add(3)

	if got := testutil.ToFloat64(ExecutionsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("Expected 2 successful executions, got %f", got)
	}
	if got := testutil.ToFloat64(ExecutionsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("Expected 1 failed execution, got %f", got)
	}
	if got := testutil.ToFloat64(ActionsQueued.WithLabelValues("fileinto")); got != 3 {
		t.Errorf("Expected 3 fileinto actions, got %f", got)
	}
}

func TestCompilationMetricsExposition(t *testing.T) {
	CompilationsTotal.Reset()
	CompilationsTotal.WithLabelValues("success").Inc()

	expected := `
# HELP sora_sieve_compilations_total Total number of script compilations
# TYPE sora_sieve_compilations_total counter
sora_sieve_compilations_total{result="success"} 1
`
	if err := testutil.CollectAndCompare(CompilationsTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected exposition: %v", err)
	}
}

func TestHistogramsObserve(t *testing.T) {
	before := testutil.CollectAndCount(OperationsExecuted)
	OperationsExecuted.Observe(12)
	ExecutionDuration.Observe(0.002)
	CompileDuration.Observe(0.001)
	if got := testutil.CollectAndCount(OperationsExecuted); got != before {
		t.Errorf("Expected a single histogram series, got %d", got)
	}
}
