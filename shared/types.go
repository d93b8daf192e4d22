package shared

import "time"

type ServerConfig struct {
	Guardian GuardianConfig `mapstructure:"guardian" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Twilio   TwilioConfig   `mapstructure:"twilio"`
	Email    EmailConfig    `mapstructure:"email" validate:"required"`
	SOS      SOSConfig      `mapstructure:"sos"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Google   GoogleConfig   `mapstructure:"google"`
	Log      LogConfig      `mapstructure:"log"`
}

type GuardianConfig struct {
	PrivateKeyPem string         `mapstructure:"privateKeyPem" validate:"required"`
	AppURL        string         `mapstructure:"appUrl" validate:"required"`
	Cron          CronConfig     `mapstructure:"cron" validate:"required"`
	Listener      ListenerConfig `mapstructure:"listener" validate:"required"`
}

type DatabaseConfig struct {
	// Driver is either "sqlite" or "postgres"
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TwilioConfig struct {
	AccountSid          string `mapstructure:"accountSid"`
	AuthToken           string `mapstructure:"authToken"`
	MessagingServiceSid string `mapstructure:"messagingServiceSid"`
	CallerNumber        string `mapstructure:"callerNumber" validate:"omitempty,e164"`
}

type EmailConfig struct {
	// Provider is either "resend" or "log"
	Provider string `mapstructure:"provider" validate:"required,oneof=resend log"`
	APIKey   string `mapstructure:"apiKey" validate:"required_if=Provider resend"`
	From     string `mapstructure:"from" validate:"required"`
}

type SOSConfig struct {
	CallInterval time.Duration `mapstructure:"callInterval"`
}

type QueueConfig struct {
	BatchSize       int           `mapstructure:"batchSize" validate:"omitempty,min=1,max=500"`
	ProcessEvery    time.Duration `mapstructure:"processEvery"`
	RetrySchedule   string        `mapstructure:"retrySchedule"`
	ProcessingLease time.Duration `mapstructure:"processingLease"`
	SendsPerSecond  float64       `mapstructure:"sendsPerSecond" validate:"omitempty,gt=0"`
}

type GoogleConfig struct {
	ApplicationCredentials string        `mapstructure:"applicationCredentials"`
	Storage                StorageConfig `mapstructure:"storage"`
}

type CronConfig struct {
	TimeZone string `mapstructure:"timeZone" validate:"required"`
}

type ListenerConfig struct {
	Port int `mapstructure:"port" validate:"required"`
}

type StorageConfig struct {
	Bucket                    string `mapstructure:"bucket" validate:"required_if=EnableSqliteBackupAndSync true"`
	Prefix                    string `mapstructure:"prefix" validate:"required_if=EnableSqliteBackupAndSync true"`
	SqliteBackupSchedule      string `mapstructure:"sqliteBackupSchedule" validate:"required_if=EnableSqliteBackupAndSync true"`
	EnableSqliteBackupAndSync bool   `mapstructure:"enableSqliteBackupAndSync"`
}

type LogConfig struct {
	Level        string        `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"maxAge"`
	RotationTime time.Duration `mapstructure:"rotationTime"`
}

// WithDefaults fills in the optional values that were left empty
func (cfg ServerConfig) WithDefaults() ServerConfig {
	if cfg.SOS.CallInterval <= 0 {
		cfg.SOS.CallInterval = 15 * time.Second
	}
	if cfg.Queue.BatchSize <= 0 {
		cfg.Queue.BatchSize = 50
	}
	if cfg.Queue.ProcessEvery <= 0 {
		cfg.Queue.ProcessEvery = 30 * time.Second
	}
	if cfg.Queue.RetrySchedule == "" {
		cfg.Queue.RetrySchedule = "*/15 * * * *"
	}
	if cfg.Queue.ProcessingLease <= 0 {
		cfg.Queue.ProcessingLease = 10 * time.Minute
	}
	if cfg.Queue.SendsPerSecond <= 0 {
		cfg.Queue.SendsPerSecond = 2
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return cfg
}
