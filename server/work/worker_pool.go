package work

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Daskott/guardian/server/logger"
	"github.com/Daskott/guardian/server/models"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const STUCK_JOB_MINUTES = 30

type WorkerPool struct {
	store       *models.Store
	handlers    map[string]Handler
	workers     []*worker
	requeuer    *requeuer
	reaper      *stuckJobsReaper
	concurrency int
	started     bool
	mu          sync.Mutex
	logg        *zap.SugaredLogger
}

func newWorkerPool(store *models.Store, concurrency int, logg *zap.SugaredLogger) *WorkerPool {
	logg = logger.OrNop(logg)
	wp := WorkerPool{
		store:       store,
		handlers:    make(map[string]Handler),
		requeuer:    newRequeuer(store, 5*time.Second, logg),
		reaper:      newStuckJobsReaper(store, STUCK_JOB_MINUTES, logg),
		concurrency: concurrency,
		logg:        logg,
	}

	for i := 0; i < concurrency; i++ {
		wp.workers = append(wp.workers, newWorker(store, DefaultSleepBackoffs, logg))
	}

	return &wp
}

// registerHandler binds a name to a job handler for all workers in pool.
// Handlers must be registered before the pool is started.
func (wp *WorkerPool) registerHandler(name string, handler Handler) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if _, ok := wp.handlers[name]; ok {
		return ErrDuplicateHandler
	}
	wp.handlers[name] = handler

	for _, worker := range wp.workers {
		if err := worker.registerHandler(name, handler); err != nil {
			return err
		}
	}
	return nil
}

// enqueue adds a job to the queue by creating a db record based on 'JobParams'
func (wp *WorkerPool) enqueue(job JobParams) error {
	argsAsJson, err := validateAndEncode(job)
	if err != nil {
		return err
	}

	// All jobs currently in the queue or in-progress are unique by name
	return wp.store.CreateUniqueJobByName(job.Name, job.Handler, argsAsJson)
}

// enqueueIn schedules a job to be added to the queue in 'seconds'
func (wp *WorkerPool) enqueueIn(seconds int64, job JobParams) error {
	argsAsJson, err := validateAndEncode(job)
	if err != nil {
		return err
	}

	enqueueAt := time.Now().UTC().Add(time.Duration(seconds) * time.Second)
	return wp.store.CreateScheduledJob(job.Name, job.Handler, argsAsJson, enqueueAt)
}

func (wp *WorkerPool) start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return
	}
	wp.started = true

	for _, worker := range wp.workers {
		worker.start()
	}
	wp.requeuer.start()
	wp.reaper.start()
}

func (wp *WorkerPool) stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.started {
		return
	}

	wg := sync.WaitGroup{}
	for _, w := range wp.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.stop()
		}(w)
	}
	wg.Wait()

	wp.requeuer.stop()
	wp.reaper.stop()
	wp.started = false
}

func validateAndEncode(job JobParams) (string, error) {
	if strings.TrimSpace(job.Name) == "" || strings.TrimSpace(job.Handler) == "" {
		return "", fmt.Errorf("both a name & handler is required for a job")
	}

	args := job.Args
	if args == nil {
		args = map[string]interface{}{}
	}

	argsAsJson, err := json.Marshal(args)
	if err != nil {
		return "", errors.Wrap(err, "encode job args")
	}

	return string(argsAsJson), nil
}
