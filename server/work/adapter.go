package work

import (
	"errors"
	"fmt"
	"time"

	"github.com/Daskott/guardian/server/cron"
	"github.com/Daskott/guardian/server/logger"
	"github.com/Daskott/guardian/server/models"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

const MAX_CONCURRENCY = 1

// WorkerPoolAdapter puts jobs on the db backed queue, either right away,
// later, or on a schedule.
type WorkerPoolAdapter struct {
	cronScheduler *gocron.Scheduler
	pool          *WorkerPool
	logg          *zap.SugaredLogger
}

func NewWorkerAdapter(store *models.Store, timeZone string, logg *zap.SugaredLogger) *WorkerPoolAdapter {
	logg = logger.OrNop(logg)

	return &WorkerPoolAdapter{
		cronScheduler: cron.NewCronScheduler(timeZone),
		pool:          newWorkerPool(store, MAX_CONCURRENCY, logg),
		logg:          logg,
	}
}

// Start starts the cron scheduler & worker pool
func (adapter *WorkerPoolAdapter) Start() {
	adapter.logg.Info("Starting cron scheduler & worker pool")
	adapter.cronScheduler.StartAsync()
	adapter.pool.start()
}

// Stop stops the cron scheduler & worker pool
func (adapter *WorkerPoolAdapter) Stop() {
	adapter.logg.Info("Stopping cron scheduler & worker pool")
	adapter.cronScheduler.Stop()
	adapter.pool.stop()
}

// Register binds a name to a handler.
func (adapter *WorkerPoolAdapter) Register(name string, handler Handler) error {
	return adapter.pool.registerHandler(name, handler)
}

// Perform sends a new job to the queue, to be executed as soon as a worker is available.
// A job with the same name that is still waiting or running makes this a no-op.
func (adapter *WorkerPoolAdapter) Perform(job JobParams) error {
	err := adapter.pool.enqueue(job)
	if errors.Is(err, models.ErrDuplicateJob) {
		adapter.logg.Debugf("Duplicate job already in queue for: %v", job.Name)
		return nil
	}

	if err != nil {
		return fmt.Errorf("error enqueuing job: %v, %v", job.Name, err)
	}

	return nil
}

// PerformIn schedules a job to be sent to the queue in 'seconds'
func (adapter *WorkerPoolAdapter) PerformIn(seconds int64, job JobParams) error {
	err := adapter.pool.enqueueIn(seconds, job)
	if errors.Is(err, models.ErrDuplicateJob) {
		adapter.logg.Debugf("Duplicate job already scheduled for: %v", job.Name)
		return nil
	}

	if err != nil {
		return fmt.Errorf("error scheduling job: %v, %v", job.Name, err)
	}

	return nil
}

// PeriodicallyPerform adds a job to the queue periodically,
// based on the 'cronExpression' provided
func (adapter *WorkerPoolAdapter) PeriodicallyPerform(cronExpression string, job JobParams) error {
	_, err := adapter.cronScheduler.Cron(cronExpression).Tag(job.Name).Do(adapter.performLogged, job)
	return err
}

// PeriodicallyPerformEvery adds a job to the queue every 'interval'
func (adapter *WorkerPoolAdapter) PeriodicallyPerformEvery(interval time.Duration, job JobParams) error {
	_, err := adapter.cronScheduler.Every(interval).Tag(job.Name).Do(adapter.performLogged, job)
	return err
}

func (adapter *WorkerPoolAdapter) RemovePeriodicJob(jobName string) error {
	return adapter.cronScheduler.RemoveByTag(jobName)
}

func (adapter *WorkerPoolAdapter) performLogged(job JobParams) {
	if err := adapter.Perform(job); err != nil {
		adapter.logg.Error(err)
	}
}
