package engine_test

import (
	"testing"
	"time"

	"github.com/DevanaGroup/titanium/internal/domain"
	"github.com/DevanaGroup/titanium/internal/engine"
)

func rfc(t time.Time) string { return t.Format(time.RFC3339) }

func int64p(v int64) *int64 { return &v }

func TestComputeMetricsEmptyLedger(t *testing.T) {
	m := engine.ComputeMetrics(domain.TaskProcess{}, time.Now())
	if m.TotalProcessTime != 0 || m.AverageStepTime != 0 {
		t.Fatalf("empty ledger metrics %+v", m)
	}
}

func TestComputeMetricsActiveLedger(t *testing.T) {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	p := domain.TaskProcess{
		Steps: []domain.ProcessStep{
			{Seq: 0, Status: domain.StepEmAnalise, CreatedAt: rfc(start), TimeInAnalysis: int64p(40)},
			{Seq: 1, Status: domain.StepEmTransito, IsActive: true, CreatedAt: rfc(start.Add(40 * time.Minute))},
		},
	}
	m := engine.ComputeMetrics(p, start.Add(70*time.Minute))
	if m.TotalProcessTime != 70 {
		t.Fatalf("total %d, want 70", m.TotalProcessTime)
	}
	if m.AverageStepTime != 40 {
		t.Fatalf("average %d, want 40", m.AverageStepTime)
	}
}

func TestComputeMetricsHaltedLedgerFreezes(t *testing.T) {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	rejected := rfc(start.Add(50 * time.Minute))
	p := domain.TaskProcess{
		Steps: []domain.ProcessStep{
			{Seq: 0, Status: domain.StepEmAnalise, CreatedAt: rfc(start), TimeInAnalysis: int64p(20)},
			{Seq: 1, Status: domain.StepRejeitado, CreatedAt: rfc(start.Add(20 * time.Minute)), RejectedAt: &rejected, TimeInAnalysis: int64p(30)},
		},
	}
	// Reading a day later must not grow the total.
	m := engine.ComputeMetrics(p, start.Add(24*time.Hour))
	if m.TotalProcessTime != 50 {
		t.Fatalf("total %d, want 50", m.TotalProcessTime)
	}
	if m.AverageStepTime != 25 {
		t.Fatalf("average %d, want 25", m.AverageStepTime)
	}
}

func TestComputeMetricsPartialMinutesTruncate(t *testing.T) {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	p := domain.TaskProcess{
		Steps: []domain.ProcessStep{
			{Seq: 0, Status: domain.StepEmAnalise, IsActive: true, CreatedAt: rfc(start)},
		},
	}
	m := engine.ComputeMetrics(p, start.Add(59*time.Second))
	if m.TotalProcessTime != 0 {
		t.Fatalf("sub-minute total %d, want 0", m.TotalProcessTime)
	}
}
