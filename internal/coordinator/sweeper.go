package coordinator

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

// Sweeper re-evaluates every known group on a fixed tick (SweepGroup runs
// the engine once per node of the group), even absent a new incoming
// report, so that purely time-based rules
// (R7's drainExpired, R12's unhealthy-standby bookkeeping) still fire
// when no node happens to report in. Built on robfig/cron/v3, the same
// dependency the teacher uses to validate a ScheduledBackup's schedule
// string (controllers/scheduledbackup_controller.go); here the
// scheduler itself drives a recurring job rather than only parsing one.
type Sweeper struct {
	service *Service
	logger  logr.Logger
	cron    *cron.Cron
}

// NewSweeper builds a Sweeper that will invoke SweepGroup for every
// group svc currently tracks once per spec's schedule expression (a
// standard five-field cron spec, or a descriptor such as "@every 5s" for
// a fixed interval).
func NewSweeper(svc *Service, logger logr.Logger, spec string) (*Sweeper, error) {
	c := cron.New()
	sw := &Sweeper{service: svc, logger: logger, cron: c}

	if _, err := c.AddFunc(spec, sw.tick); err != nil {
		return nil, err
	}
	return sw, nil
}

// Start begins ticking in the background.
func (sw *Sweeper) Start() {
	sw.cron.Start()
}

// Stop halts future ticks and waits for any in-flight tick to finish.
func (sw *Sweeper) Stop() {
	<-sw.cron.Stop().Done()
}

func (sw *Sweeper) tick() {
	ctx := context.Background()
	for _, ref := range sw.service.Locations() {
		if err := sw.service.SweepGroup(ctx, ref.FormationID, ref.GroupID); err != nil {
			sw.logger.Error(err, "sweep failed", "formation", ref.FormationID, "group", ref.GroupID)
		}
	}
}
