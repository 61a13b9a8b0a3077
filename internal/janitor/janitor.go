// Package janitor schedules background maintenance of the accounting store.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"newsfan/internal/accounting"
	"newsfan/internal/tracker"
	"newsfan/pkg/logx"
)

type Config struct {
	// PruneSchedule is a cron expression; hourly when empty.
	PruneSchedule string
	// RolloverSchedule logs a stats summary; daily at midnight when empty.
	RolloverSchedule string
	Timezone         string
}

// Janitor prunes expired dedup claims, stale day counters, and old
// recent-title rows on a cron schedule, and emits a daily stats rollover
// line.
type Janitor struct {
	cfg      Config
	acct     accounting.Store
	snapshot func() tracker.Stats
	log      logx.Logger
	cron     *cron.Cron
}

func New(cfg Config, acct accounting.Store, snapshot func() tracker.Stats, log logx.Logger) (*Janitor, error) {
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = "0 * * * *"
	}
	if cfg.RolloverSchedule == "" {
		cfg.RolloverSchedule = "0 0 * * *"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, err
		}
		loc = l
	}

	j := &Janitor{
		cfg:      cfg,
		acct:     acct,
		snapshot: snapshot,
		log:      log,
		cron:     cron.New(cron.WithLocation(loc)),
	}
	if _, err := j.cron.AddFunc(cfg.PruneSchedule, j.prune); err != nil {
		return nil, err
	}
	if snapshot != nil {
		if _, err := j.cron.AddFunc(cfg.RolloverSchedule, j.rollover); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
	j.log.Info("janitor started", logx.String("prune_schedule", j.cfg.PruneSchedule))
}

// Stop halts scheduling and waits for a running job to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.log.Info("janitor stopped")
}

func (j *Janitor) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	start := time.Now()
	if err := j.acct.Prune(ctx); err != nil {
		j.log.Warn("accounting prune failed", logx.Err(err))
		return
	}
	j.log.Debug("accounting pruned", logx.Duration("took", time.Since(start)))
}

// rollover logs the day's delivery totals so operators have a daily line in
// the log even without a metrics scraper.
func (j *Janitor) rollover() {
	st := j.snapshot()
	var delivered, failed uint64
	for _, n := range st.Delivered {
		delivered += n
	}
	for _, n := range st.Failed {
		failed += n
	}
	j.log.Info("daily stats rollover",
		logx.Uint64("accepted", st.Accepted),
		logx.Uint64("deduped", st.Deduped),
		logx.Uint64("enrich_degraded", st.Degraded),
		logx.Uint64("delivered_total", delivered),
		logx.Uint64("failed_total", failed))
}
