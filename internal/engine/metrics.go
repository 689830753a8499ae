package engine

import (
	"time"

	"github.com/DevanaGroup/titanium/internal/domain"
)

// ComputeMetrics derives timing metrics from the ledger. Wall-clock
// minutes, no business-hours normalization. Deterministic for a given
// ledger and now.
func ComputeMetrics(p domain.TaskProcess, now time.Time) domain.ProcessMetrics {
	var m domain.ProcessMetrics
	if len(p.Steps) == 0 {
		return m
	}
	start, err := time.Parse(time.RFC3339, p.Steps[0].CreatedAt)
	if err != nil {
		return m
	}
	end := now
	if p.ActiveStep() == nil {
		// Ledger halted: measure to the last terminal timestamp.
		if last, ok := lastTerminalTime(p); ok {
			end = last
		}
	}
	if end.After(start) {
		m.TotalProcessTime = int64(end.Sub(start) / time.Minute)
	}

	var sum, count int64
	for _, s := range p.Steps {
		if s.TimeInAnalysis == nil {
			continue
		}
		sum += *s.TimeInAnalysis
		count++
	}
	if count > 0 {
		m.AverageStepTime = sum / count
	}
	return m
}

func lastTerminalTime(p domain.TaskProcess) (time.Time, bool) {
	var last time.Time
	found := false
	for _, s := range p.Steps {
		var ts *string
		switch {
		case s.SignedAt != nil:
			ts = s.SignedAt
		case s.RejectedAt != nil:
			ts = s.RejectedAt
		default:
			continue
		}
		t, err := time.Parse(time.RFC3339, *ts)
		if err != nil {
			continue
		}
		if !found || t.After(last) {
			last = t
			found = true
		}
	}
	return last, found
}
