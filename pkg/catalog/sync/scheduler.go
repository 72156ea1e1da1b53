package sync

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs periodic catalog syncs on a cron schedule.
type Scheduler struct {
	syncer *Syncer
	cron   *cron.Cron
}

// NewScheduler creates a scheduler for the given syncer.
func NewScheduler(syncer *Syncer) *Scheduler {
	return &Scheduler{
		syncer: syncer,
		cron:   cron.New(),
	}
}

// Start registers the schedule and begins running syncs. Schedule uses the
// standard 5-field cron format.
func (s *Scheduler) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := s.syncer.SyncAll(context.Background(), false); err != nil {
			slog.Error("scheduled metadata sync failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("metadata sync scheduled", "schedule", schedule)
	return nil
}

// Stop stops the scheduler and waits for a running sync to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
