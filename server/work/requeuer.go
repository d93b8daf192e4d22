package work

import (
	"errors"
	"time"

	"github.com/Daskott/guardian/colors"
	"github.com/Daskott/guardian/server/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// requeuer moves scheduled jobs into the queue once they are due
type requeuer struct {
	store        *models.Store
	stopChan     chan struct{}
	sleepBackOff time.Duration
	logg         *zap.SugaredLogger
}

func newRequeuer(store *models.Store, sleepBackOff time.Duration, logg *zap.SugaredLogger) *requeuer {
	return &requeuer{
		store:        store,
		stopChan:     make(chan struct{}),
		sleepBackOff: sleepBackOff,
		logg:         logg,
	}
}

func (r *requeuer) start() {
	go r.loop()
}

func (r *requeuer) stop() {
	r.stopChan <- struct{}{}
}

func (r *requeuer) loop() {
	rateLimiter := time.NewTicker(DefaultTickerDuration)
	defer rateLimiter.Stop()

	r.logg.Info("Starting scheduled job requeuer")
	for {
		select {
		case <-r.stopChan:
			r.logg.Info("Stopping scheduled job requeuer")
			return
		case <-rateLimiter.C:
			job, err := r.store.FirstScheduledJobToBeQueued()
			if errors.Is(err, gorm.ErrRecordNotFound) {
				rateLimiter.Reset(r.sleepBackOff)
				continue
			}

			if err != nil {
				r.logg.Errorf(colors.Red("[job requeuer] ")+"%v", err)
				rateLimiter.Reset(TickerDurationOnError)
				continue
			}

			requeue(r.store, job, r.logg, "[job requeuer] ")
			rateLimiter.Reset(DefaultTickerDuration)
		}
	}
}

// requeue unclaims the job & puts it back in the enqueued queue
func requeue(store *models.Store, job *models.Job, logg *zap.SugaredLogger, prefix string) {
	jobStatus, err := store.FindJobStatus(models.ENQUEUED_JOB)
	if err != nil {
		logg.Errorf(colors.Red(prefix)+"%v", err)
		return
	}

	err = store.UpdateJob(job.ID, map[string]interface{}{
		"claimed":       false,
		"job_status_id": jobStatus.ID,
	})
	if err != nil {
		logg.Errorf(colors.Red(prefix)+"%v", err)
		return
	}

	logg.Infof(colors.Yellow(prefix)+"job with id=%v name=%v requeued", job.ID, job.Name)
}
