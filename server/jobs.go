package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Daskott/guardian/server/gstorage"
	"github.com/Daskott/guardian/server/work"
	"github.com/Daskott/guardian/utils"
)

const (
	PROCESS_EMAIL_QUEUE_JOB  = "processEmailQueue"
	RETRY_FAILED_EMAILS_JOB  = "retryFailedEmails"
	RECOVER_STUCK_EMAILS_JOB = "recoverStuckEmails"
	BACKUP_SQLITE_DB_JOB     = "backupSqliteDb"
)

func (s *Server) registerJobHandlers() error {
	handlers := map[string]work.Handler{
		PROCESS_EMAIL_QUEUE_JOB:  s.processEmailQueue,
		RETRY_FAILED_EMAILS_JOB:  s.retryFailedEmails,
		RECOVER_STUCK_EMAILS_JOB: s.recoverStuckEmails,
		BACKUP_SQLITE_DB_JOB:     s.backupSqliteDb,
	}

	for name, handler := range handlers {
		if err := s.workerPool.Register(name, handler); err != nil {
			return fmt.Errorf("register %v: %v", name, err)
		}
	}

	return nil
}

func (s *Server) enqueueJobs() error {
	err := s.workerPool.PeriodicallyPerformEvery(s.config.Queue.ProcessEvery, work.JobParams{
		Name:    PROCESS_EMAIL_QUEUE_JOB,
		Handler: PROCESS_EMAIL_QUEUE_JOB,
		Args:    map[string]interface{}{"max_emails": s.config.Queue.BatchSize},
	})
	if err != nil {
		return err
	}

	err = s.workerPool.PeriodicallyPerform(s.config.Queue.RetrySchedule, work.JobParams{
		Name:    RETRY_FAILED_EMAILS_JOB,
		Handler: RETRY_FAILED_EMAILS_JOB,
		Args:    map[string]interface{}{"max_emails": s.config.Queue.BatchSize},
	})
	if err != nil {
		return err
	}

	err = s.workerPool.PeriodicallyPerformEvery(s.config.Queue.ProcessingLease, work.JobParams{
		Name:    RECOVER_STUCK_EMAILS_JOB,
		Handler: RECOVER_STUCK_EMAILS_JOB,
	})
	if err != nil {
		return err
	}

	if s.backupEnabled() {
		return s.workerPool.PeriodicallyPerform(s.config.Google.Storage.SqliteBackupSchedule, work.JobParams{
			Name:    BACKUP_SQLITE_DB_JOB,
			Handler: BACKUP_SQLITE_DB_JOB,
		})
	}

	return nil
}

func (s *Server) processEmailQueue(args map[string]interface{}) error {
	_, err := s.emailQueue.ProcessQueue(context.Background(), maxEmailsArg(args))
	return err
}

func (s *Server) retryFailedEmails(args map[string]interface{}) error {
	_, err := s.emailQueue.RetryFailed(context.Background(), maxEmailsArg(args))
	return err
}

func (s *Server) recoverStuckEmails(map[string]interface{}) error {
	_, err := s.emailQueue.RecoverStuck(context.Background())
	return err
}

// backupSqliteDb snapshots the sqlite db with VACUUM INTO & uploads the copy
func (s *Server) backupSqliteDb(map[string]interface{}) error {
	if s.storage == nil {
		return errors.New("google storage is not configured")
	}

	dbPath := sqliteFilePath(s.config.Database.DSN)
	snapshot := filepath.Join(os.TempDir(), fmt.Sprintf("%v.backup", filepath.Base(dbPath)))
	os.Remove(snapshot)
	defer os.Remove(snapshot)

	if err := s.store.DB().Exec("VACUUM INTO ?", snapshot).Error; err != nil {
		return fmt.Errorf("snapshot sqlite db: %v", err)
	}

	storageCfg := s.config.Google.Storage
	return s.storage.UploadFile(context.Background(), storageCfg.Bucket, gstorage.ObjectName(storageCfg.Prefix, dbPath), snapshot)
}

// restoreSqliteDb pulls the last backup when the local db file is missing,
// e.g. on a fresh container.
func (s *Server) restoreSqliteDb(ctx context.Context) error {
	dbPath := sqliteFilePath(s.config.Database.DSN)
	if utils.FileExist(dbPath) {
		return nil
	}

	if err := utils.CreateDirIfNotExist(filepath.Dir(dbPath)); err != nil {
		return err
	}

	storageCfg := s.config.Google.Storage
	err := s.storage.DownloadFile(ctx, storageCfg.Bucket, gstorage.ObjectName(storageCfg.Prefix, dbPath), dbPath)
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		s.logg.Info("No sqlite backup found, starting with an empty db")
		return nil
	}

	return err
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func maxEmailsArg(args map[string]interface{}) int {
	// json numbers decode as float64
	if max, ok := args["max_emails"].(float64); ok {
		return int(max)
	}
	return 0
}

// sqliteFilePath drops the "file:" scheme & query params from a sqlite dsn
func sqliteFilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if idx := strings.Index(path, "?"); idx >= 0 {
		path = path[:idx]
	}
	return path
}
