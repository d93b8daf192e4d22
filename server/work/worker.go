package work

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Daskott/guardian/colors"
	"github.com/Daskott/guardian/server/models"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const MAX_FAILS = 4

var (
	DefaultTickerDuration = 5 * time.Millisecond
	TickerDurationOnError = 10 * time.Millisecond

	// DefaultSleepBackoffs is how long an idle worker waits between polls,
	// growing with every empty poll.
	DefaultSleepBackoffs = []time.Duration{0, time.Second, 5 * time.Second, 10 * time.Second}

	ErrDuplicateHandler = errors.New("handler with provided name already mapped")
	ErrUnknownHandler   = errors.New("no handler registered with that name")
)

type JobParams struct {
	Name    string
	Handler string
	Args    map[string]interface{}
}

type Handler func(map[string]interface{}) error

type worker struct {
	id            string
	store         *models.Store
	handlers      map[string]Handler
	stopChan      chan struct{}
	sleepBackoffs []time.Duration
	logg          *zap.SugaredLogger
}

func newWorker(store *models.Store, sleepBackoffs []time.Duration, logg *zap.SugaredLogger) *worker {
	return &worker{
		id:            makeIdentifier(),
		store:         store,
		handlers:      make(map[string]Handler),
		stopChan:      make(chan struct{}),
		sleepBackoffs: sleepBackoffs,
		logg:          logg,
	}
}

// registerHandler binds a name to a job handler.
func (w *worker) registerHandler(name string, handler Handler) error {
	if _, ok := w.handlers[name]; ok {
		return ErrDuplicateHandler
	}

	w.handlers[name] = handler

	return nil
}

// start starts the worker loop that pulls jobs from the queue & process them
func (w *worker) start() {
	go w.loop()
}

func (w *worker) stop() {
	w.stopChan <- struct{}{}
}

func (w *worker) loop() {
	var consecutiveNoJobs int

	rateLimiter := time.NewTicker(DefaultTickerDuration)
	defer rateLimiter.Stop()

	w.logg.Infof("Starting worker %s", w.id)
	for {
		select {
		case <-w.stopChan:
			w.logg.Infof("Stopping worker %s", w.id)
			return
		case <-rateLimiter.C:
			job, err := w.store.LastJob(models.ENQUEUED_JOB, false)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Slowly increase the wait between fetches while the queue is empty
				consecutiveNoJobs++
				idx := consecutiveNoJobs
				if idx >= len(w.sleepBackoffs) {
					idx = len(w.sleepBackoffs) - 1
				}
				rateLimiter.Reset(maxDuration(w.sleepBackoffs[idx], DefaultTickerDuration))
				continue
			}

			if err != nil {
				w.logError(err)
				rateLimiter.Reset(TickerDurationOnError)
				continue
			}

			claimed, err := w.store.ClaimJob(job.ID)
			if err != nil {
				w.logError(err)
				rateLimiter.Reset(TickerDurationOnError)
				continue
			}

			if !claimed {
				continue
			}

			w.logInfof("claimed job id=%v name=%v", job.ID, job.Name)
			w.processJob(job)
			rateLimiter.Reset(DefaultTickerDuration)
			consecutiveNoJobs = 0
		}
	}
}

func (w *worker) processJob(job *models.Job) {
	handler, ok := w.handlers[job.Handler]
	if !ok {
		w.determineFailedJobFate(job, fmt.Errorf("%w: %v", ErrUnknownHandler, job.Handler))
		return
	}

	args := make(map[string]interface{})
	if err := json.Unmarshal([]byte(job.Args), &args); err != nil {
		w.determineFailedJobFate(job, err)
		return
	}

	if err := handler(args); err != nil {
		w.logError(err)
		w.determineFailedJobFate(job, err)
		return
	}

	w.markJobAsSuccessful(job)
}

func (w *worker) determineFailedJobFate(job *models.Job, runError error) {
	job.Fails++

	// Jobs that failed MAX_FAILS times are dead, the rest go back in the queue
	statusName := models.ENQUEUED_JOB
	if job.Fails >= MAX_FAILS {
		statusName = models.DEAD_JOB
	}

	jobStatus, err := w.store.FindJobStatus(statusName)
	if err != nil {
		w.logError(err)
		return
	}

	err = w.store.UpdateJob(job.ID, map[string]interface{}{
		"claimed":       false,
		"job_status_id": jobStatus.ID,
		"fails":         job.Fails,
		"last_error":    runError.Error(),
	})
	if err != nil {
		w.logError(err)
	}
	w.logInfof("job with id=%v completed with status=%v", job.ID, jobStatus.Name)
}

func (w *worker) markJobAsSuccessful(job *models.Job) {
	jobStatus, err := w.store.FindJobStatus(models.SUCCESSFUL_JOB)
	if err != nil {
		w.logError(err)
		return
	}

	err = w.store.UpdateJob(job.ID, map[string]interface{}{
		"claimed":       false,
		"job_status_id": jobStatus.ID,
	})
	if err != nil {
		w.logError(err)
	}
	w.logInfof("job with id=%v completed with status=%v", job.ID, jobStatus.Name)
}

func (w *worker) logInfof(template string, args ...interface{}) {
	prefix := colors.Yellow(fmt.Sprintf("[worker %v] ", w.id))
	w.logg.Infof(prefix+template, args...)
}

func (w *worker) logError(err error) {
	prefix := colors.Red(fmt.Sprintf("[worker %v] ", w.id))
	w.logg.Errorf(prefix+"%v", err)
}

func makeIdentifier() string {
	return ksuid.New().String()
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
