package work

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Daskott/guardian/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *models.Store {
	store, err := models.OpenTestStore()
	require.Nil(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestPerform(t *testing.T) {
	store := newTestStore(t)
	adapter := NewWorkerAdapter(store, "UTC", nil)

	var calls int32
	var received atomic.Value
	require.Nil(t, adapter.Register("processEmailQueue", func(args map[string]interface{}) error {
		atomic.AddInt32(&calls, 1)
		received.Store(args["batch"])
		return nil
	}))
	assert.Equal(t, ErrDuplicateHandler, adapter.Register("processEmailQueue", func(map[string]interface{}) error { return nil }))

	adapter.Start()
	defer adapter.Stop()

	job := JobParams{Name: "processEmailQueue", Handler: "processEmailQueue", Args: map[string]interface{}{"batch": 50}}
	require.Nil(t, adapter.Perform(job))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(50), received.Load())

	assert.Eventually(t, func() bool {
		stats, err := store.CurrentJobsStats()
		return err == nil && stats.SuccessfulJobCount == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPerformRequiresNameAndHandler(t *testing.T) {
	adapter := NewWorkerAdapter(newTestStore(t), "UTC", nil)

	assert.NotNil(t, adapter.Perform(JobParams{Name: "  ", Handler: "x"}))
	assert.NotNil(t, adapter.PerformIn(1, JobParams{Name: "x"}))
}

func TestPerformIgnoresDuplicates(t *testing.T) {
	store := newTestStore(t)
	adapter := NewWorkerAdapter(store, "UTC", nil)

	job := JobParams{Name: "retryFailedEmails", Handler: "retryFailedEmails"}
	require.Nil(t, adapter.Perform(job))
	require.Nil(t, adapter.Perform(job))

	stats, err := store.CurrentJobsStats()
	require.Nil(t, err)
	assert.Equal(t, int64(1), stats.EnqueuedJobCount)
}

func TestFailingJobEndsUpDead(t *testing.T) {
	store := newTestStore(t)
	adapter := NewWorkerAdapter(store, "UTC", nil)

	var calls int32
	require.Nil(t, adapter.Register("flaky", func(map[string]interface{}) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("provider down")
	}))

	adapter.Start()
	defer adapter.Stop()

	require.Nil(t, adapter.Perform(JobParams{Name: "flaky", Handler: "flaky"}))

	assert.Eventually(t, func() bool {
		stats, err := store.CurrentJobsStats()
		return err == nil && stats.DeadJobCount == 1
	}, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(MAX_FAILS), atomic.LoadInt32(&calls))

	jobs, _, err := store.FetchJobs(1, models.DEAD_JOB)
	require.Nil(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "provider down", jobs[0].LastError)
	assert.Equal(t, MAX_FAILS, jobs[0].Fails)
}

func TestUnknownHandlerIsRetriedThenDead(t *testing.T) {
	store := newTestStore(t)
	adapter := NewWorkerAdapter(store, "UTC", nil)

	adapter.Start()
	defer adapter.Stop()

	require.Nil(t, adapter.Perform(JobParams{Name: "nobody", Handler: "nobody"}))

	assert.Eventually(t, func() bool {
		stats, err := store.CurrentJobsStats()
		return err == nil && stats.DeadJobCount == 1
	}, 10*time.Second, 10*time.Millisecond)
}

func TestEnqueueIn(t *testing.T) {
	store := newTestStore(t)
	pool := newWorkerPool(store, MAX_CONCURRENCY, nil)

	err := pool.enqueueIn(0, JobParams{
		Name:    "backupSqliteDb",
		Handler: "backupSqliteDb",
		Args:    map[string]interface{}{"prefix": "guardian"},
	})
	require.Nil(t, err)

	job, err := store.FirstScheduledJobToBeQueued()
	require.Nil(t, err)
	assert.Equal(t, "backupSqliteDb", job.Name)
	assert.Contains(t, job.Args, "guardian")
	assert.Equal(t, models.SCHEDULED_JOB, job.JobStatus.Name)
}

func TestPerformIn(t *testing.T) {
	store := newTestStore(t)
	adapter := NewWorkerAdapter(store, "UTC", nil)

	var calls int32
	require.Nil(t, adapter.Register("later", func(map[string]interface{}) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	require.Nil(t, adapter.PerformIn(0, JobParams{Name: "later", Handler: "later"}))

	adapter.Start()
	defer adapter.Stop()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, 10*time.Second, 10*time.Millisecond)
}

func TestReaperRequeuesStuckJobs(t *testing.T) {
	store := newTestStore(t)
	require.Nil(t, store.CreateUniqueJobByName("stuck", "stuck", "{}"))

	job, err := store.LastJob(models.ENQUEUED_JOB, false)
	require.Nil(t, err)
	claimed, err := store.ClaimJob(job.ID)
	require.Nil(t, err)
	require.True(t, claimed)

	store.SetClock(func() time.Time { return time.Now().UTC().Add(time.Hour) })

	reaper := newStuckJobsReaper(store, STUCK_JOB_MINUTES, nopLogger())
	reaper.start()
	defer reaper.stop()

	assert.Eventually(t, func() bool {
		requeued, err := store.LastJob(models.ENQUEUED_JOB, false)
		return err == nil && requeued.ID == job.ID
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPeriodicallyPerform(t *testing.T) {
	adapter := NewWorkerAdapter(newTestStore(t), "UTC", nil)
	job := JobParams{Name: "retryFailedEmails", Handler: "retryFailedEmails"}

	assert.Nil(t, adapter.PeriodicallyPerform("*/15 * * * *", job))
	assert.NotNil(t, adapter.PeriodicallyPerformEvery(time.Minute, job), "job names are unique tags")
	assert.Nil(t, adapter.RemovePeriodicJob(job.Name))
	assert.Nil(t, adapter.PeriodicallyPerformEvery(time.Minute, job))
}

func nopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
