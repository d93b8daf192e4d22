package models

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Daskott/guardian/shared"
	"github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Open connects to the configured database, migrates the schema
// and inserts seed data.
func Open(cfg shared.DatabaseConfig) (*Store, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger: gormLogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormLogger.Config{
				LogLevel:                  gormLogger.Silent,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %v", err)
	}

	// sqlite allows a single writer, so keep every query on one connection
	if cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	store := NewStore(db)
	if err := store.AutoMigrate(); err != nil {
		return nil, err
	}

	return store, nil
}

// AutoMigrate auto-migrates db schema and inserts seed data
func (s *Store) AutoMigrate() error {
	err := s.db.AutoMigrate(
		&Role{}, &Profile{}, &EmergencyContact{},
		&FamilyGroup{}, &FamilyMembership{},
		&SOSEvent{}, &SOSLocation{},
		&EmailQueueItem{},
		&JobStatus{}, &Job{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %v", err)
	}

	return s.populateDBWithSeedData()
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func dialectorFor(cfg shared.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	case "postgres":
		sqlDB, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %v", err)
		}
		return postgres.New(postgres.Config{Conn: sqlDB}), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func (s *Store) populateDBWithSeedData() error {
	if err := s.db.First(&Role{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		err = s.db.Create(&[]Role{{Name: ADMIN_ROLE}, {Name: BASIC_ROLE}}).Error
		if err != nil {
			return err
		}
	}

	if err := s.db.First(&JobStatus{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		err = s.db.Create(&[]JobStatus{
			{Name: ENQUEUED_JOB}, {Name: IN_PROGRESS_JOB}, {Name: SUCCESSFUL_JOB},
			{Name: DEAD_JOB}, {Name: SCHEDULED_JOB},
		}).Error
		if err != nil {
			return err
		}
	}

	return nil
}
