package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	PENDING_EMAIL    = "pending"
	PROCESSING_EMAIL = "processing"
	SENT_EMAIL       = "sent"
	FAILED_EMAIL     = "failed"

	MAX_EMAIL_RETRIES        = 3
	DEFAULT_EMAIL_PRIORITY   = 5
	EMERGENCY_EMAIL_PRIORITY = 10
)

// EmailQueueItem is one outbound email in the outbox.
// A row moves pending -> processing -> sent|failed. Failed rows go back to
// pending only through a retry, which bumps RetryCount up to MAX_EMAIL_RETRIES.
type EmailQueueItem struct {
	BaseModel
	Recipient         string     `json:"recipient" validate:"required,email" gorm:"not null"`
	Subject           string     `json:"subject" validate:"required" gorm:"not null"`
	Body              string     `json:"body" validate:"required" gorm:"type:text;not null"`
	Template          string     `json:"template,omitempty"`
	Status            string     `json:"status" gorm:"not null;default:pending;index:idx_email_queue_due,priority:1"`
	Priority          int        `json:"priority" gorm:"not null;default:5;index:idx_email_queue_due,priority:2"`
	ScheduledAt       time.Time  `json:"scheduled_at" gorm:"not null;index:idx_email_queue_due,priority:3"`
	RetryCount        int        `json:"retry_count" gorm:"not null;default:0"`
	ErrorMessage      string     `json:"error_message,omitempty" gorm:"type:text"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	SOSEventID        *string    `json:"sos_event_id,omitempty" gorm:"type:varchar(36);index"`
}

func (EmailQueueItem) TableName() string {
	return "email_queue"
}

// IsTerminal is true for failed rows that used up all their retries
func (item EmailQueueItem) IsTerminal() bool {
	return item.Status == FAILED_EMAIL && item.RetryCount >= MAX_EMAIL_RETRIES
}

type EmailQueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Dead       int64 `json:"dead"`
}

func (s *Store) CreateEmail(item *EmailQueueItem) error {
	return s.db.Create(item).Error
}

func (s *Store) FindEmail(id interface{}) (*EmailQueueItem, error) {
	item := EmailQueueItem{}
	err := s.db.First(&item, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &item, nil
}

// DueEmails returns up to limit pending rows scheduled at or before now,
// highest priority first, then oldest schedule first.
func (s *Store) DueEmails(now time.Time, limit int) ([]EmailQueueItem, error) {
	items := []EmailQueueItem{}
	err := s.db.Where("status = ? AND scheduled_at <= ?", PENDING_EMAIL, now).
		Order("priority desc").Order("scheduled_at asc").Order("id asc").
		Limit(limit).Find(&items).Error
	if err != nil {
		return nil, err
	}

	return items, nil
}

// ClaimEmail flips a pending row to processing. It reports false when the row
// was not pending anymore, i.e. another processor got to it first.
func (s *Store) ClaimEmail(id uint) (bool, error) {
	res := s.db.Model(&EmailQueueItem{}).
		Where("id = ? AND status = ?", id, PENDING_EMAIL).
		Updates(map[string]interface{}{"status": PROCESSING_EMAIL, "updated_at": s.now()})
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func (s *Store) MarkEmailSent(id uint, providerMessageID string) error {
	now := s.now()
	return s.db.Model(&EmailQueueItem{}).
		Where("id = ? AND status = ?", id, PROCESSING_EMAIL).
		Updates(map[string]interface{}{
			"status":              SENT_EMAIL,
			"sent_at":             now,
			"provider_message_id": providerMessageID,
			"error_message":       "",
			"updated_at":          now,
		}).Error
}

func (s *Store) MarkEmailFailed(id uint, errorMessage string) error {
	return s.db.Model(&EmailQueueItem{}).
		Where("id = ? AND status = ?", id, PROCESSING_EMAIL).
		Updates(map[string]interface{}{
			"status":        FAILED_EMAIL,
			"error_message": errorMessage,
			"updated_at":    s.now(),
		}).Error
}

// RetryableEmails returns failed rows that still have retries left
func (s *Store) RetryableEmails(limit int) ([]EmailQueueItem, error) {
	items := []EmailQueueItem{}
	err := s.db.Where("status = ? AND retry_count < ?", FAILED_EMAIL, MAX_EMAIL_RETRIES).
		Order("priority desc").Order("updated_at asc").Order("id asc").
		Limit(limit).Find(&items).Error
	if err != nil {
		return nil, err
	}

	return items, nil
}

// ResetFailedEmail moves a failed row with retries left back to pending,
// bumping its retry count and clearing the last error.
func (s *Store) ResetFailedEmail(id uint) (bool, error) {
	res := s.db.Model(&EmailQueueItem{}).
		Where("id = ? AND status = ? AND retry_count < ?", id, FAILED_EMAIL, MAX_EMAIL_RETRIES).
		Updates(map[string]interface{}{
			"status":        PENDING_EMAIL,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": "",
			"updated_at":    s.now(),
		})
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

// ExpireProcessingEmails fails rows that have been processing since before
// 'before', so they fall under the normal retry rules.
func (s *Store) ExpireProcessingEmails(before time.Time) (int64, error) {
	res := s.db.Model(&EmailQueueItem{}).
		Where("status = ? AND updated_at < ?", PROCESSING_EMAIL, before).
		Updates(map[string]interface{}{
			"status":        FAILED_EMAIL,
			"error_message": "processing lease expired",
			"updated_at":    s.now(),
		})

	return res.RowsAffected, res.Error
}

func (s *Store) EmailQueueStats() (*EmailQueueStats, error) {
	stats := EmailQueueStats{}

	counts := []struct {
		status string
		dest   *int64
	}{
		{PENDING_EMAIL, &stats.Pending},
		{PROCESSING_EMAIL, &stats.Processing},
		{SENT_EMAIL, &stats.Sent},
		{FAILED_EMAIL, &stats.Failed},
	}

	for _, c := range counts {
		err := s.db.Model(&EmailQueueItem{}).Where("status = ?", c.status).Count(c.dest).Error
		if err != nil {
			return nil, err
		}
	}

	err := s.db.Model(&EmailQueueItem{}).
		Where("status = ? AND retry_count >= ?", FAILED_EMAIL, MAX_EMAIL_RETRIES).
		Count(&stats.Dead).Error
	if err != nil {
		return nil, err
	}

	return &stats, nil
}

// DeadEmails lists failed rows that used up their retries and need an operator
func (s *Store) DeadEmails(page int) ([]EmailQueueItem, *Paging, error) {
	var total int64
	items := []EmailQueueItem{}
	query := s.db.Model(&EmailQueueItem{}).Where("status = ? AND retry_count >= ?", FAILED_EMAIL, MAX_EMAIL_RETRIES)

	if err := query.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	err := s.db.Scopes(paginate(page, MAX_PAGE_SIZE)).
		Where("status = ? AND retry_count >= ?", FAILED_EMAIL, MAX_EMAIL_RETRIES).
		Order("id desc").Find(&items).Error
	if err != nil {
		return nil, nil, err
	}

	return items, newPaging(int64(page), MAX_PAGE_SIZE, total), nil
}
