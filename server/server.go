package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Daskott/guardian/server/auth/key"
	"github.com/Daskott/guardian/server/emailqueue"
	"github.com/Daskott/guardian/server/gstorage"
	"github.com/Daskott/guardian/server/logger"
	"github.com/Daskott/guardian/server/mailer"
	"github.com/Daskott/guardian/server/models"
	"github.com/Daskott/guardian/server/realtime"
	"github.com/Daskott/guardian/server/sos"
	"github.com/Daskott/guardian/server/twilio"
	"github.com/Daskott/guardian/server/work"
	"github.com/Daskott/guardian/shared"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server holds every long lived dependency the http handlers and jobs share
type Server struct {
	config       shared.ServerConfig
	devMode      bool
	store        *models.Store
	keyPair      *key.KeyPair
	broker       realtime.Broker
	twilioClient *twilio.ClientWrapper
	emailQueue   *emailqueue.Queue
	family       *realtime.FamilyNotifier
	orchestrator *sos.Orchestrator
	workerPool   *work.WorkerPoolAdapter
	storage      *gstorage.GStorage
	validate     *validator.Validate
	upgrader     websocket.Upgrader
	logg         *zap.SugaredLogger
}

// NewServer connects to the database & realtime broker and wires the SOS
// fan-out. Nothing is scheduled or served until Start is called.
func NewServer(ctx context.Context, cfg shared.ServerConfig, devMode bool, logg *zap.SugaredLogger) (*Server, error) {
	cfg = cfg.WithDefaults()
	logg = logger.OrNop(logg)

	keyPair, err := key.NewKeyPairFromRSAPrivateKeyPem(cfg.Guardian.PrivateKeyPem)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}

	s := &Server{
		config:   cfg,
		devMode:  devMode,
		keyPair:  keyPair,
		validate: validator.New(),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		logg:     logg,
	}

	if err := RegisterValidators(s.validate); err != nil {
		return nil, err
	}

	if s.backupEnabled() {
		s.storage, err = gstorage.NewGStorage(ctx, cfg.Google.ApplicationCredentials, logg)
		if err != nil {
			return nil, err
		}

		if err := s.restoreSqliteDb(ctx); err != nil {
			return nil, err
		}
	}

	s.store, err = models.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Address != "" {
		s.broker, err = realtime.NewRedisBroker(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %v", err)
		}
	} else {
		logg.Warn("No redis address configured, realtime alerts stay in this process")
		s.broker = realtime.NewMemoryBroker()
	}

	provider, err := mailer.NewProvider(cfg.Email, logg)
	if err != nil {
		return nil, err
	}

	s.emailQueue = emailqueue.New(s.store, provider, emailqueue.Options{
		BatchSize:       cfg.Queue.BatchSize,
		SendsPerSecond:  cfg.Queue.SendsPerSecond,
		ProcessingLease: cfg.Queue.ProcessingLease,
	}, logg)

	s.twilioClient = twilio.NewClient(cfg.Twilio, cfg.Guardian.AppURL, devMode, logg)
	dialer := twilio.NewDialer(s.twilioClient, s.broker, cfg.SOS.CallInterval, logg)

	s.family = realtime.NewFamilyNotifier(s.broker, logg)
	s.orchestrator = sos.NewOrchestrator(
		s.store,
		s.family,
		sos.NewCallSequencer(dialer, cfg.SOS.CallInterval, logg).WithFallbackTexter(s.twilioClient),
		sos.NewEmailNotifier(s.emailQueue, logg),
		logg,
	)

	s.workerPool = work.NewWorkerAdapter(s.store, cfg.Guardian.Cron.TimeZone, logg)
	if err := s.registerJobHandlers(); err != nil {
		return nil, err
	}

	return s, nil
}

// Start runs the scheduled jobs & the http listener until SIGINT/SIGTERM
func (s *Server) Start() error {
	if err := s.enqueueJobs(); err != nil {
		return err
	}
	s.workerPool.Start()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%v", s.config.Guardian.Listener.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go s.serve(httpServer)

	<-done
	s.cleanup(httpServer)

	return nil
}

// Start builds a server from cfg & runs it
func Start(cfg shared.ServerConfig, devMode bool, logg *zap.SugaredLogger) error {
	s, err := NewServer(context.Background(), cfg, devMode, logg)
	if err != nil {
		return err
	}

	return s.Start()
}

func (s *Server) backupEnabled() bool {
	return s.config.Google.Storage.EnableSqliteBackupAndSync && s.config.Database.Driver == "sqlite"
}
