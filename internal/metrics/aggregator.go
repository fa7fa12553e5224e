// Package metrics rolls completed executions up into hourly buckets and keeps
// the process-local Prometheus collectors.
package metrics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
)

// JobName is the watermark key of the hourly rollup.
const JobName = "metrics-hourly"

// maxCatchUp bounds how far back a first run or a long outage is backfilled.
const maxCatchUp = 7 * 24 * time.Hour

// Store is what the aggregator reads and writes.
type Store interface {
	ListCompletedExecutions(ctx context.Context, from, to time.Time) ([]*model.Execution, error)
	store.MetricsStore
}

// Aggregator computes hourly buckets.
type Aggregator struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewAggregator creates an aggregator.
func NewAggregator(st Store, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: st, logger: logger, now: time.Now}
}

// AggregateHour recomputes the bucket for the hour containing hour and
// overwrites any stored bucket for it.
func (a *Aggregator) AggregateHour(ctx context.Context, hour time.Time) (*model.MetricsBucket, error) {
	from := hour.UTC().Truncate(time.Hour)
	to := from.Add(time.Hour)

	execs, err := a.store.ListCompletedExecutions(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list executions for %s: %w", model.BucketKey(from), err)
	}

	b := Rollup(from, execs)
	b.ComputedAt = a.now().UTC()
	if err := a.store.UpsertMetricsBucket(ctx, b); err != nil {
		return nil, fmt.Errorf("store bucket %s: %w", b.Key, err)
	}
	return b, nil
}

// Rollup builds the bucket for the hour starting at from.
func Rollup(from time.Time, execs []*model.Execution) *model.MetricsBucket {
	b := &model.MetricsBucket{
		Key:             model.BucketKey(from),
		Date:            from.Format("2006-01-02"),
		Hour:            from.Hour(),
		ByAutonomyLevel: make(map[string]int),
		ObjType:         "MetricsBucket",
	}

	var totals []int64
	var risk, sandbox, deployment, monitoring int64
	for _, e := range execs {
		b.Volume++
		switch e.Status {
		case model.ExecutionSuccess:
			b.SuccessCount++
		case model.ExecutionFailed:
			b.FailureCount++
		case model.ExecutionRolledBack:
			b.RolledBackCount++
		case model.ExecutionTimeout:
			b.TimeoutCount++
		case model.ExecutionCancelled:
			b.CancelledCount++
		}
		if e.RollbackPerformed {
			b.RollbacksPerformed++
		}
		if e.HumanOverride {
			b.HumanOverrideCount++
		}
		b.ByAutonomyLevel[strconv.Itoa(int(e.AutonomyLevel))]++

		totals = append(totals, e.TotalMs)
		risk += e.RiskAnalysisMs
		sandbox += e.SandboxMs
		deployment += e.DeploymentMs
		monitoring += e.MonitoringMs
	}

	if attempted := b.Volume - b.CancelledCount; attempted > 0 {
		b.SuccessRate = float64(b.SuccessCount) / float64(attempted)
	}
	if n := int64(len(execs)); n > 0 {
		b.AvgRiskAnalysisMs = risk / n
		b.AvgSandboxMs = sandbox / n
		b.AvgDeploymentMs = deployment / n
		b.AvgMonitoringMs = monitoring / n
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i] < totals[j] })
	b.P50TotalMs = Percentile(totals, 50)
	b.P90TotalMs = Percentile(totals, 90)
	b.P99TotalMs = Percentile(totals, 99)
	return b
}

// Percentile returns the nearest-rank percentile of an ascending slice.
func Percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// CatchUp aggregates every complete hour since the stored watermark and
// advances the watermark after each one. It returns the number of hours written.
func (a *Aggregator) CatchUp(ctx context.Context) (int, error) {
	last, err := a.store.GetLastRun(ctx, JobName)
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	current := a.now().UTC().Truncate(time.Hour)
	if last.IsZero() || current.Sub(last) > maxCatchUp {
		last = current.Add(-maxCatchUp)
	}

	n := 0
	for hour := last.UTC().Truncate(time.Hour); hour.Before(current); hour = hour.Add(time.Hour) {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := a.AggregateHour(ctx, hour); err != nil {
			return n, err
		}
		// watermark points at the first hour not yet aggregated
		if err := a.store.SaveLastRun(ctx, JobName, hour.Add(time.Hour)); err != nil {
			return n, fmt.Errorf("save watermark: %w", err)
		}
		n++
	}
	return n, nil
}

// Run calls CatchUp immediately and then every interval until ctx is done.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := a.CatchUp(ctx); err != nil {
			a.logger.Error("Metrics rollup failed", zap.Error(err))
		} else if n > 0 {
			a.logger.Info("Metrics rollup complete", zap.Int("hours", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
