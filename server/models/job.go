package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	ENQUEUED_JOB    = "enqueued"
	IN_PROGRESS_JOB = "in-progress"
	SUCCESSFUL_JOB  = "successful"
	DEAD_JOB        = "dead"
	SCHEDULED_JOB   = "scheduled"
)

var ErrDuplicateJob = errors.New("job with the given name already exists in queue")

type JobsStats struct {
	EnqueuedJobCount   int64 `json:"enqueued_job_count"`
	InProgressJobCount int64 `json:"in_progress_job_count"`
	SuccessfulJobCount int64 `json:"successful_job_count"`
	DeadJobCount       int64 `json:"dead_job_count"`
	ScheduledJobCount  int64 `json:"scheduled_job_count"`
}

type JobStatus struct {
	BaseModel
	Name string `json:"name"`
	Jobs []Job  `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
}

type Job struct {
	BaseModel
	Fails       int        `json:"fails"`
	Name        string     `json:"name"`
	Handler     string     `json:"handler"`
	Args        string     `json:"args"`
	LastError   string     `json:"last_error"`
	Claimed     bool       `json:"claimed" gorm:"default:false"`
	EnqueueAt   *time.Time `json:"enqueue_at,omitempty"`
	JobStatusID uint       `json:"job_status_id"`
	JobStatus   *JobStatus `json:"status,omitempty"`
}

func (s *Store) FindJobStatus(name string) (*JobStatus, error) {
	jobStatus := JobStatus{}
	err := s.db.Select("id", "name").First(&jobStatus, "name = ?", name).Error
	if err != nil {
		return nil, err
	}

	return &jobStatus, nil
}

// ClaimJob marks an unclaimed job as claimed & in-progress.
// It returns false if another worker claimed it first.
func (s *Store) ClaimJob(jobID uint) (bool, error) {
	inProgressStatus, err := s.FindJobStatus(IN_PROGRESS_JOB)
	if err != nil {
		return false, err
	}

	res := s.db.Model(&Job{}).Where("id = ? AND claimed = ?", jobID, false).Updates(map[string]interface{}{
		"claimed":       true,
		"job_status_id": inProgressStatus.ID,
	})

	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func (s *Store) UpdateJob(jobID uint, data map[string]interface{}) error {
	return s.db.Model(&Job{}).Where("id = ?", jobID).Updates(data).Error
}

// CreateUniqueJobByName enqueues a job unless one with the same name is
// already enqueued or in-progress, in which case ErrDuplicateJob is returned.
func (s *Store) CreateUniqueJobByName(name, handler, args string) error {
	return s.createJob(name, handler, args, ENQUEUED_JOB, nil)
}

// CreateScheduledJob stores a job that the requeuer moves into the queue at enqueueAt
func (s *Store) CreateScheduledJob(name, handler, args string, enqueueAt time.Time) error {
	return s.createJob(name, handler, args, SCHEDULED_JOB, &enqueueAt)
}

func (s *Store) createJob(name, handler, args, status string, enqueueAt *time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		queuedJobStatuses := []JobStatus{}
		err := tx.Where("name IN ?", []string{ENQUEUED_JOB, IN_PROGRESS_JOB, SCHEDULED_JOB}).
			Find(&queuedJobStatuses).Error
		if err != nil {
			return err
		}

		// Check to see if a job with the same name is already waiting or running
		// if one exists, return 'duplicate' error
		statusIDs := []uint{}
		var targetStatusID uint
		for _, jobStatus := range queuedJobStatuses {
			statusIDs = append(statusIDs, jobStatus.ID)
			if jobStatus.Name == status {
				targetStatusID = jobStatus.ID
			}
		}

		err = tx.Where("name = ? AND job_status_id IN ?", name, statusIDs).First(&Job{}).Error
		if err == nil {
			return ErrDuplicateJob
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		return tx.Create(&Job{
			Name:        name,
			Handler:     handler,
			Args:        args,
			EnqueueAt:   enqueueAt,
			JobStatusID: targetStatusID,
		}).Error
	})
}

// LastJob returns the most recently created job with the given status & claim state
func (s *Store) LastJob(status string, claimed bool) (*Job, error) {
	job := Job{}
	err := s.db.Joins("INNER JOIN job_statuses ON job_statuses.id = jobs.job_status_id AND job_statuses.name = ? AND jobs.claimed = ?",
		status, claimed).Last(&job).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// LastJobLastUpdated returns the last job with 'status' whose last update
// happened at least 'minutesAgo' minutes ago.
func (s *Store) LastJobLastUpdated(minutesAgo uint, status string) (*Job, error) {
	jobStatus, err := s.FindJobStatus(status)
	if err != nil {
		return nil, err
	}

	cutOff := s.now().Add(-time.Duration(minutesAgo) * time.Minute)

	job := Job{}
	err = s.db.Where("job_status_id = ? AND updated_at <= ?", jobStatus.ID, cutOff).Last(&job).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// FirstScheduledJobToBeQueued returns the scheduled job that is due the soonest, if it is due
func (s *Store) FirstScheduledJobToBeQueued() (*Job, error) {
	job := Job{}
	err := s.db.Preload("JobStatus").
		Joins("INNER JOIN job_statuses ON job_statuses.id = jobs.job_status_id AND job_statuses.name = ?", SCHEDULED_JOB).
		Where("jobs.enqueue_at <= ?", s.now()).
		Order("jobs.enqueue_at asc").First(&job).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func (s *Store) FetchJobs(page int, status string) ([]Job, *Paging, error) {
	const JOIN_QUERY = "INNER JOIN job_statuses ON job_statuses.id = jobs.job_status_id AND job_statuses.name = ?"

	var total int64
	jobs := []Job{}

	count := s.db.Model(&Job{})
	find := s.db.Scopes(paginate(page, MAX_PAGE_SIZE)).Preload("JobStatus").Order("jobs.id desc")
	if status != "" {
		count = count.Joins(JOIN_QUERY, status)
		find = find.Joins(JOIN_QUERY, status)
	}

	if err := count.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	if err := find.Find(&jobs).Error; err != nil {
		return nil, nil, err
	}

	return jobs, newPaging(int64(page), MAX_PAGE_SIZE, total), nil
}

func (s *Store) CurrentJobsStats() (*JobsStats, error) {
	const JOIN_QUERY = "INNER JOIN job_statuses ON job_statuses.id = jobs.job_status_id AND job_statuses.name = ?"
	stats := JobsStats{}

	counts := map[string]*int64{
		ENQUEUED_JOB:    &stats.EnqueuedJobCount,
		IN_PROGRESS_JOB: &stats.InProgressJobCount,
		SUCCESSFUL_JOB:  &stats.SuccessfulJobCount,
		DEAD_JOB:        &stats.DeadJobCount,
		SCHEDULED_JOB:   &stats.ScheduledJobCount,
	}

	for status, dest := range counts {
		err := s.db.Joins(JOIN_QUERY, status).Model(&Job{}).Count(dest).Error
		if err != nil {
			return nil, err
		}
	}

	return &stats, nil
}
