// Package scheduler drives the runtime's two periodic sweeps: the MCP
// idle capability poll (spec.md §4 MCP Client Subsystem) and the lesson
// pruning pass (spec.md §4.3's max/simThreshold cap, re-applied outside
// the per-cycle condensation path so a long-idle agent's lesson list
// still gets capped between cycles). Grounded on
// internal/tasks/scheduler.go and internal/cron/schedule.go's use of
// github.com/robfig/cron/v3, simplified here to the library's own Cron
// type instead of the teacher's persisted-execution poll loop — this
// runtime has no task queue to poll, only in-process sweeps to drive.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/quoracle/quoracle/internal/ace/lessons"
	"github.com/quoracle/quoracle/internal/mcpclient"
	"github.com/quoracle/quoracle/internal/observability"
	"github.com/quoracle/quoracle/internal/persistence"
	"github.com/quoracle/quoracle/internal/tree"
	"github.com/quoracle/quoracle/pkg/models"
)

// Config controls both sweeps' cron schedules and the lesson cap they
// enforce, mirroring ace.Condenser's own maxLessons/simThreshold values
// so an idle agent converges to the same cap a busy one reaches via
// condensation.
type Config struct {
	MCPPollCron     string
	LessonSweepCron string
	MaxLessons      int
	SimThreshold    float64
}

// DefaultConfig polls MCP servers every 5 minutes and sweeps lessons
// every 15 (spec.md names no concrete interval for either; these are
// conservative defaults tunable via config.Config in a future pass).
func DefaultConfig() Config {
	return Config{
		MCPPollCron:     "@every 5m",
		LessonSweepCron: "@every 15m",
		MaxLessons:      lessons.DefaultMax,
		SimThreshold:    lessons.DefaultSimThreshold,
	}
}

// Scheduler owns a single *cron.Cron instance driving both sweeps.
type Scheduler struct {
	cfg      Config
	cron     *cron.Cron
	mcp      *mcpclient.Manager
	registry *tree.Registry
	lessons  *lessons.Manager
	store    *persistence.SQLStore
	logger   *observability.Logger
}

// New builds a Scheduler; call Start to register jobs and begin running.
func New(cfg Config, mcp *mcpclient.Manager, registry *tree.Registry, lessonMgr *lessons.Manager, store *persistence.SQLStore, logger *observability.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		cron:     cron.New(),
		mcp:      mcp,
		registry: registry,
		lessons:  lessonMgr,
		store:    store,
		logger:   logger,
	}
}

// Start registers both jobs and starts the underlying cron scheduler in
// its own goroutine (cron.Cron.Start's own documented behavior).
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.MCPPollCron, func() { s.mcp.Reconcile(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.LessonSweepCron, func() { s.sweepLessons(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// sweepLessons re-applies lessons.Manager.Accumulate with no new lessons
// to every live agent's per-model lesson list, enforcing the cap on
// agents that haven't condensed recently enough to trigger it themselves.
func (s *Scheduler) sweepLessons(ctx context.Context) {
	for _, entry := range s.registry.All() {
		if entry.Dismissing || entry.Handle == nil {
			continue
		}
		state := entry.Handle.State()
		if state == nil {
			continue
		}
		changed := false
		for spec, existing := range state.ContextLessons {
			pruned, _ := s.lessons.Accumulate(ctx, existing, nil, s.cfg.MaxLessons, s.cfg.SimThreshold)
			if len(pruned) != len(existing) {
				state.ContextLessons[spec] = pruned
				changed = true
			}
		}
		if changed && s.store != nil {
			if err := s.store.Save(ctx, state, models.Usage{}); err != nil {
				s.logger.Warn(ctx, "lesson sweep: persist failed", "agent_id", string(state.Config.AgentID), "error", err)
			}
		}
	}
}
