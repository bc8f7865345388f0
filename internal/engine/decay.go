package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lazypower/keepsake/internal/memory"
	"github.com/lazypower/keepsake/internal/metrics"
	"github.com/lazypower/keepsake/internal/store"
)

// Decay batch bounds.
const (
	MinDecayBatch = 500
	MaxDecayBatch = 5000
)

// DecaySummary reports one batch decay run.
type DecaySummary struct {
	RunID   int64  `json:"runId"`
	Scope   string `json:"scope"`
	Policy  string `json:"policy"`
	Status  string `json:"status"`
	Scanned int    `json:"scanned"`
	Updated int    `json:"updated"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

// DecayJob lowers fact strength over time.
//
// Row failures are counted and the sweep continues; such a run is recorded
// as partial. Only a failure to load the batch is returned as an error.
// Each fact remembers when it was last decayed and the next run measures
// from there, so re-running immediately changes nothing. Facts decayed
// within MinInterval are skipped, which keeps the incremental policy from
// compounding when runs overlap.
type DecayJob struct {
	facts       *store.FactStore
	policy      memory.DecayPolicy
	limit       int
	MinInterval time.Duration
	Now         func() time.Time
}

// NewDecayJob creates a job. limit is clamped to [MinDecayBatch, MaxDecayBatch].
func NewDecayJob(facts *store.FactStore, policy memory.DecayPolicy, limit int, minInterval time.Duration) *DecayJob {
	return &DecayJob{
		facts:       facts,
		policy:      policy,
		limit:       min(max(limit, MinDecayBatch), MaxDecayBatch),
		MinInterval: minInterval,
		Now:         time.Now,
	}
}

func scopeLabel(scope memory.Owner) string {
	if scope.UserID == "" {
		return "all"
	}
	return scope.String()
}

// Run decays up to one batch of facts in scope. An empty scope user means
// every fact.
func (j *DecayJob) Run(ctx context.Context, scope memory.Owner) (DecaySummary, error) {
	start := time.Now()
	now := j.Now().UTC()
	db := j.facts.DB()
	sum := DecaySummary{Scope: scopeLabel(scope), Policy: j.policy.Name()}

	run, err := db.StartDecayRun(ctx, sum.Scope, sum.Policy, now)
	if err != nil {
		metrics.DecayRuns.WithLabelValues(store.RunFailed).Inc()
		return sum, err
	}
	sum.RunID = run.ID

	finish := func(status string, runErr error) {
		run.Status = status
		run.Scanned, run.Updated, run.Failed = sum.Scanned, sum.Updated, sum.Failed
		if runErr != nil {
			run.Error = runErr.Error()
		}
		if err := db.FinishDecayRun(context.WithoutCancel(ctx), run, j.Now()); err != nil {
			log.Warn().Err(err).Int64("run", run.ID).Msg("decay: record run")
		}
		sum.Status = status
		metrics.DecayRuns.WithLabelValues(status).Inc()
		metrics.DecayDuration.Observe(time.Since(start).Seconds())
	}

	facts, err := j.facts.ListForDecay(ctx, scope, j.limit)
	if err != nil {
		finish(store.RunFailed, err)
		return sum, err
	}

	for _, f := range facts {
		sum.Scanned++
		if f.DecayedAt != nil && j.MinInterval > 0 && now.Sub(*f.DecayedAt) < j.MinInterval {
			sum.Skipped++
			continue
		}
		next := j.policy.Next(f.Strength, f.DecayBaseline(), now)
		if err := j.facts.ApplyDecay(ctx, f.ID, next, now); err != nil {
			sum.Failed++
			log.Warn().Err(err).Str("fact_id", f.ID).Str("key", f.Key).Msg("decay: row failed")
			continue
		}
		if next < f.Strength {
			sum.Updated++
		}
	}
	metrics.DecayUpdated.Add(float64(sum.Updated))

	status := store.RunCompleted
	if sum.Failed > 0 {
		status = store.RunPartial
	}
	finish(status, nil)

	log.Info().
		Str("scope", sum.Scope).
		Str("policy", sum.Policy).
		Int("scanned", sum.Scanned).
		Int("updated", sum.Updated).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Msg("decay: run complete")
	return sum, nil
}
