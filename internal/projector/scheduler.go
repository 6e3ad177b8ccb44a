package projector

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/agentctl/core/pkg/logger"
)

// Scheduler drives the catch-up worker on a fixed interval via robfig/cron,
// independent of the synchronous write-path apply.
type Scheduler struct {
	cron   *cron.Cron
	worker *CatchUpWorker
	log    *logger.Logger
	entry  cron.EntryID
}

// NewScheduler wires worker to a cron job firing every intervalSeconds.
func NewScheduler(worker *CatchUpWorker, intervalSeconds int, log *logger.Logger) (*Scheduler, error) {
	if intervalSeconds <= 0 {
		intervalSeconds = 5
	}
	if log == nil {
		log = logger.NewDefault("projector_scheduler")
	}

	s := &Scheduler{cron: cron.New(), worker: worker, log: log}
	spec := fmt.Sprintf("@every %ds", intervalSeconds)
	id, err := s.cron.AddFunc(spec, s.runTick)
	if err != nil {
		return nil, fmt.Errorf("schedule catch-up: %w", err)
	}
	s.entry = id
	return s, nil
}

func (s *Scheduler) runTick() {
	ctx := context.Background()
	if err := s.worker.Tick(ctx); err != nil {
		s.log.WithError(err).Error("projector catch-up tick failed")
	}
}

// Start begins the cron schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
