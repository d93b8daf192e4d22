package emailqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/Daskott/guardian/colors"
	"github.com/Daskott/guardian/server/logger"
	"github.com/Daskott/guardian/server/mailer"
	"github.com/Daskott/guardian/server/metrics"
	"github.com/Daskott/guardian/server/models"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const DEFAULT_BATCH_SIZE = 50

var (
	ErrInvalidEmail  = errors.New("invalid email")
	ErrEmailNotFound = errors.New("email not found")
	// ErrNotClaimed means the row was not pending, e.g. another processor owns it
	ErrNotClaimed = errors.New("email is not pending")
)

type Options struct {
	BatchSize       int
	SendsPerSecond  float64
	ProcessingLease time.Duration
}

type ProcessResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

type SendResult struct {
	ID      uint   `json:"id"`
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

type RetryResult struct {
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
}

// Queue is the email outbox. Rows are claimed with a conditional update,
// so several processors can run at once without sending a row twice.
type Queue struct {
	store    *models.Store
	provider mailer.Provider
	limiter  *rate.Limiter
	validate *validator.Validate
	opts     Options
	logg     *zap.SugaredLogger
	now      func() time.Time
}

func New(store *models.Store, provider mailer.Provider, opts Options, logg *zap.SugaredLogger) *Queue {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DEFAULT_BATCH_SIZE
	}
	if opts.ProcessingLease <= 0 {
		opts.ProcessingLease = 10 * time.Minute
	}

	limit := rate.Inf
	if opts.SendsPerSecond > 0 {
		limit = rate.Limit(opts.SendsPerSecond)
	}

	return &Queue{
		store:    store,
		provider: provider,
		limiter:  rate.NewLimiter(limit, 1),
		validate: validator.New(),
		opts:     opts,
		logg:     logger.OrNop(logg),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used to pick due rows
func (q *Queue) SetClock(now func() time.Time) {
	q.now = func() time.Time { return now().UTC() }
}

// Enqueue validates item and stores it as pending.
// Priority defaults to models.DEFAULT_EMAIL_PRIORITY and ScheduledAt to now.
func (q *Queue) Enqueue(item *models.EmailQueueItem) error {
	if err := q.validate.Struct(item); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}

	if item.Priority == 0 {
		item.Priority = models.DEFAULT_EMAIL_PRIORITY
	}
	if item.ScheduledAt.IsZero() {
		item.ScheduledAt = q.now()
	}
	// due rows are found by comparing stored timestamps, keep them all in UTC
	item.ScheduledAt = item.ScheduledAt.UTC()
	item.Status = models.PENDING_EMAIL
	item.RetryCount = 0

	return q.store.CreateEmail(item)
}

// ProcessQueue delivers up to max due rows, highest priority first.
// Rows claimed by someone else in the meantime are skipped.
func (q *Queue) ProcessQueue(ctx context.Context, max int) (*ProcessResult, error) {
	if max <= 0 {
		max = q.opts.BatchSize
	}

	result := &ProcessResult{}

	items, err := q.store.DueEmails(q.now(), max)
	if err != nil {
		return result, err
	}

	for i := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		claimed, err := q.store.ClaimEmail(items[i].ID)
		if err != nil {
			return result, err
		}
		if !claimed {
			continue
		}

		result.Processed++
		if q.deliver(ctx, &items[i]) {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	if result.Processed > 0 {
		q.logInfof("processed=%v sent=%v failed=%v", result.Processed, result.Sent, result.Failed)
	}

	return result, nil
}

// SendSingle claims & delivers one pending row right away
func (q *Queue) SendSingle(ctx context.Context, id uint) (*SendResult, error) {
	item, err := q.store.FindEmail(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEmailNotFound
	}
	if err != nil {
		return nil, err
	}

	claimed, err := q.store.ClaimEmail(item.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrNotClaimed
	}

	q.deliver(ctx, item)

	item, err = q.store.FindEmail(id)
	if err != nil {
		return nil, err
	}

	return &SendResult{
		ID:      item.ID,
		Success: item.Status == models.SENT_EMAIL,
		Status:  item.Status,
		Error:   item.ErrorMessage,
	}, nil
}

// RetryFailed moves up to max failed rows that still have retries left back
// to pending, bumping retry_count, and delivers them immediately.
func (q *Queue) RetryFailed(ctx context.Context, max int) (*RetryResult, error) {
	if max <= 0 {
		max = q.opts.BatchSize
	}

	result := &RetryResult{}

	items, err := q.store.RetryableEmails(max)
	if err != nil {
		return result, err
	}

	for i := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		reset, err := q.store.ResetFailedEmail(items[i].ID)
		if err != nil {
			return result, err
		}
		if !reset {
			continue
		}
		result.Retried++
		items[i].RetryCount++

		claimed, err := q.store.ClaimEmail(items[i].ID)
		if err != nil {
			return result, err
		}
		if !claimed {
			continue
		}

		if q.deliver(ctx, &items[i]) {
			result.Succeeded++
		}
	}

	if result.Retried > 0 {
		q.logInfof("retried=%v succeeded=%v", result.Retried, result.Succeeded)
	}

	return result, nil
}

// RecoverStuck fails rows that stayed in processing longer than the lease,
// e.g. because the process died mid-send, so the retry rules apply to them.
func (q *Queue) RecoverStuck(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	recovered, err := q.store.ExpireProcessingEmails(q.now().Add(-q.opts.ProcessingLease))
	if err != nil {
		return 0, err
	}

	if recovered > 0 {
		q.logInfof("marked %v stuck email(s) as failed", recovered)
	}

	return recovered, nil
}

func (q *Queue) Stats() (*models.EmailQueueStats, error) {
	stats, err := q.store.EmailQueueStats()
	if err != nil {
		return nil, err
	}

	metrics.PendingEmails.Set(float64(stats.Pending))
	metrics.DeadEmails.Set(float64(stats.Dead))

	return stats, nil
}

// deliver sends a claimed row and records the outcome on it.
// It reports whether the provider accepted the email.
func (q *Queue) deliver(ctx context.Context, item *models.EmailQueueItem) bool {
	messageID, err := q.send(ctx, item)
	if err != nil {
		metrics.EmailsDelivered.WithLabelValues("failed").Inc()

		if markErr := q.store.MarkEmailFailed(item.ID, err.Error()); markErr != nil {
			q.logError(errors.Wrapf(markErr, "email id=%v", item.ID))
		}

		if item.RetryCount >= models.MAX_EMAIL_RETRIES {
			q.logg.Errorf(colors.Red("[email queue] ")+"email id=%v to=%v failed for good after %v retries: %v",
				item.ID, item.Recipient, item.RetryCount, err)
		} else {
			q.logg.Warnf(colors.Yellow("[email queue] ")+"email id=%v failed (retries=%v): %v", item.ID, item.RetryCount, err)
		}

		return false
	}

	metrics.EmailsDelivered.WithLabelValues("sent").Inc()
	if err := q.store.MarkEmailSent(item.ID, messageID); err != nil {
		q.logError(errors.Wrapf(err, "email id=%v was sent", item.ID))
	}

	return true
}

func (q *Queue) send(ctx context.Context, item *models.EmailQueueItem) (string, error) {
	if err := q.limiter.Wait(ctx); err != nil {
		return "", err
	}

	tags := map[string]string{"email_id": fmt.Sprint(item.ID)}
	if item.SOSEventID != nil {
		tags["sos_event_id"] = *item.SOSEventID
	}

	return q.provider.Send(ctx, mailer.Email{
		To:      item.Recipient,
		Subject: item.Subject,
		HTML:    item.Body,
		Tags:    tags,
	})
}

func (q *Queue) logInfof(template string, args ...interface{}) {
	q.logg.Infof(colors.Cyan("[email queue] ")+template, args...)
}

func (q *Queue) logError(err error) {
	q.logg.Error(colors.Red("[email queue] "), err)
}
