// Package scheduler provides cron-based background jobs, such as the
// periodic sweep of expired in-memory shadow state.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/FlowRouter/internal/state"
)

// DefaultSweepSchedule runs the shadow sweep every 30 minutes.
const DefaultSweepSchedule = "*/30 * * * *"

// Scheduler wraps a running cron instance.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler with panic recovery.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task with a 5-field cron expression.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// ScheduleShadowSweep registers the periodic expired-shadow sweep against
// the given state store.
func (s *Scheduler) ScheduleShadowSweep(expr string, states *state.StateStore) error {
	return s.AddJob(expr, func() {
		if removed := states.SweepExpiredShadows(); removed > 0 {
			slog.Info("shadow sweep removed expired entries", "removed", removed)
		}
	})
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
