package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "PIXELRELAY_DB_DSN"
	EnvDBHost = "PIXELRELAY_DB_HOST"
	EnvDBUser = "PIXELRELAY_DB_USER"
	EnvDBName = "PIXELRELAY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Intake       IntakeConfig
	Pipeline     PipelineConfig
	Delivery     DeliveryConfig
	Security     SecurityConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Delivery.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PIXELRELAY_APP_ENV" required:"true"`
	Port         string `envconfig:"PIXELRELAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PIXELRELAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PIXELRELAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"PIXELRELAY_DB_DSN"`
	Driver string `envconfig:"PIXELRELAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PIXELRELAY_DB_HOST"`
	LegacyPort     int    `envconfig:"PIXELRELAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PIXELRELAY_DB_USER"`
	LegacyPassword string `envconfig:"PIXELRELAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"PIXELRELAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"PIXELRELAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PIXELRELAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PIXELRELAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PIXELRELAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PIXELRELAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PIXELRELAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PIXELRELAY_REDIS_ADDR"`
	Password     string        `envconfig:"PIXELRELAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"PIXELRELAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PIXELRELAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PIXELRELAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PIXELRELAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PIXELRELAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PIXELRELAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// IntakeConfig guards the submission boundary. The API key check is a simple
// pass/fail gate; administrator auth lives outside this service.
type IntakeConfig struct {
	APIKey         string   `envconfig:"PIXELRELAY_INTAKE_API_KEY" required:"true"`
	AllowedOrigins []string `envconfig:"PIXELRELAY_INTAKE_ALLOWED_ORIGINS"`
}

// PipelineConfig tunes the admission pipeline. Passed to the service at
// construction; never read from ambient state.
type PipelineConfig struct {
	DedupWindow          time.Duration `envconfig:"PIXELRELAY_PIPELINE_DEDUP_WINDOW" default:"60m"`
	MinQualityScore      int           `envconfig:"PIXELRELAY_PIPELINE_MIN_QUALITY_SCORE" default:"20"`
	TargetScale          int           `envconfig:"PIXELRELAY_PIPELINE_TARGET_SCALE" default:"8"`
	EnrichmentEnabled    bool          `envconfig:"PIXELRELAY_PIPELINE_ENRICHMENT_ENABLED" default:"true"`
	CrossSurfaceMatching bool          `envconfig:"PIXELRELAY_PIPELINE_CROSS_SURFACE_MATCHING" default:"false"`
}

// DeliveryConfig tunes the delivery worker and driver.
type DeliveryConfig struct {
	APIBaseURL     string        `envconfig:"PIXELRELAY_DELIVERY_API_BASE_URL" required:"true"`
	MaxAttempts    int           `envconfig:"PIXELRELAY_DELIVERY_MAX_ATTEMPTS" default:"3"`
	RetryDelays    []string      `envconfig:"PIXELRELAY_DELIVERY_RETRY_DELAYS" default:"10s,60s,300s"`
	AttemptTimeout time.Duration `envconfig:"PIXELRELAY_DELIVERY_ATTEMPT_TIMEOUT" default:"30s"`
	LeaseTTL       time.Duration `envconfig:"PIXELRELAY_DELIVERY_LEASE_TTL" default:"45s"`
	BatchSize      int           `envconfig:"PIXELRELAY_DELIVERY_BATCH_SIZE" default:"50"`
	ChunkSize      int           `envconfig:"PIXELRELAY_DELIVERY_CHUNK_SIZE" default:"100"`
	PollIntervalMS int           `envconfig:"PIXELRELAY_DELIVERY_POLL_MS" default:"500"`
	WorkerCount    int           `envconfig:"PIXELRELAY_DELIVERY_WORKERS" default:"4"`
}

// RetrySchedule parses the escalation table. Attempts past the end of the
// table reuse the last delay.
func (d DeliveryConfig) RetrySchedule() ([]time.Duration, error) {
	delays := make([]time.Duration, 0, len(d.RetryDelays))
	for _, raw := range d.RetryDelays {
		parsed, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("parsing retry delay %q: %w", raw, err)
		}
		delays = append(delays, parsed)
	}
	return delays, nil
}

func (d DeliveryConfig) validate() error {
	if d.MaxAttempts <= 0 {
		return fmt.Errorf("delivery max attempts must be positive")
	}
	if _, err := d.RetrySchedule(); err != nil {
		return err
	}
	if d.LeaseTTL < d.AttemptTimeout {
		return fmt.Errorf("delivery lease ttl must cover the attempt timeout")
	}
	return nil
}

// SecurityConfig carries the at-rest encryption key for identity payloads and
// surface credentials. Base64-encoded 32 bytes.
type SecurityConfig struct {
	EncryptionKey string `envconfig:"PIXELRELAY_ENCRYPTION_KEY" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PIXELRELAY_AUTO_MIGRATE" default:"false"`
	// DeliveryDryRun swaps the live driver for the recording one so staging
	// environments can exercise the pipeline without hitting the vendor API.
	DeliveryDryRun bool `envconfig:"PIXELRELAY_DELIVERY_DRY_RUN" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
