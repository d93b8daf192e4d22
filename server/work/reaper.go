package work

import (
	"errors"
	"time"

	"github.com/Daskott/guardian/colors"
	"github.com/Daskott/guardian/server/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stuckJobsReaper requeues jobs that stayed in-progress for longer than
// 'staleAfterMinutes', e.g. because the process died mid-job.
type stuckJobsReaper struct {
	store             *models.Store
	stopChan          chan struct{}
	staleAfterMinutes uint
	sleepBackOff      time.Duration
	logg              *zap.SugaredLogger
}

func newStuckJobsReaper(store *models.Store, staleAfterMinutes uint, logg *zap.SugaredLogger) *stuckJobsReaper {
	return &stuckJobsReaper{
		store:             store,
		stopChan:          make(chan struct{}),
		staleAfterMinutes: staleAfterMinutes,
		sleepBackOff:      time.Duration(staleAfterMinutes) * time.Minute,
		logg:              logg,
	}
}

func (r *stuckJobsReaper) start() {
	go r.loop()
}

func (r *stuckJobsReaper) stop() {
	r.stopChan <- struct{}{}
}

func (r *stuckJobsReaper) loop() {
	rateLimiter := time.NewTicker(DefaultTickerDuration)
	defer rateLimiter.Stop()

	r.logg.Info("Starting job reaper")
	for {
		select {
		case <-r.stopChan:
			r.logg.Info("Stopping job reaper")
			return
		case <-rateLimiter.C:
			stuckJob, err := r.store.LastJobLastUpdated(r.staleAfterMinutes, models.IN_PROGRESS_JOB)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				rateLimiter.Reset(maxDuration(r.sleepBackOff, DefaultTickerDuration))
				continue
			}

			if err != nil {
				r.logg.Errorf(colors.Red("[job reaper] ")+"%v", err)
				rateLimiter.Reset(TickerDurationOnError)
				continue
			}

			requeue(r.store, stuckJob, r.logg, "[job reaper] ")
			rateLimiter.Reset(DefaultTickerDuration)
		}
	}
}
