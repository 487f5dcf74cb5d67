package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"tzlogs/pkg/failures"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Database configuration, resolved from the DB_MODE block.
type DatabaseConfig struct {
	Mode           string `validate:"oneof=test prod"`
	Host           string
	Port           int `validate:"min=1,max=65535"`
	Database       string
	User           string
	Password       string
	DSN            string
	MigrationsPath string
}

// Redis configuration struct.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

// Bucket holds the S3 compatible storage settings.
type BucketConfig struct {
	Region        string
	Endpoint      string
	AccessKey     string
	AccessSecret  string
	LogBucket     string
	ArchiveBucket string
}

// Storage holds the on-disk layout roots.
type StorageConfig struct {
	RawRoot string `validate:"required"`
	GzRoot  string `validate:"required"`
}

// Upstream is the remote game server and the identity a worker binds to.
type UpstreamConfig struct {
	Host           string `validate:"required"`
	Port           int    `validate:"min=1,max=65535"`
	Login          string
	Key            string
	ClientIP       string
	ClientV        string
	ClientV2       string
	HardTimeout    time.Duration `validate:"min=1s"`
	DialTimeout    time.Duration `validate:"min=1s"`
	LimitPerMinute int           `validate:"min=0"`
}

// Worker is the fetch worker process settings.
type WorkerConfig struct {
	ID           string
	ListenAddr   string `validate:"required"`
	MotherURL    string
	PerIDDelay   time.Duration `validate:"min=0"`
	UploadMother bool
}

// Sync is the coordinator tuning.
type SyncConfig struct {
	WorkerURLs       []string
	BatchSize        int           `validate:"min=1,max=1000"`
	ConcurrencyLimit int           `validate:"min=1,max=256"`
	PerIDDelay       time.Duration `validate:"min=0"`
	BatchTimeout     time.Duration `validate:"min=1s"`
	MaxBattleID      int64         `validate:"min=0"`
	AutoBatchSize    int           `validate:"min=1"`
	HTTPAddr         string        `validate:"required"`
	GRPCAddr         string        `validate:"required"`
}

// Admin guards mutating endpoints.
type AdminConfig struct {
	Token string
}

// Analytics is the query service and model settings.
type AnalyticsConfig struct {
	HTTPAddr          string `validate:"required"`
	ModelPath         string `validate:"required"`
	DefaultWindowDays int    `validate:"min=1,max=365"`
	CacheTTL          time.Duration
	CoordinatorAddr   string
}

// Scheduler drives the periodic jobs against the api and the coordinator.
type SchedulerConfig struct {
	APIURL        string        `validate:"required"`
	TrainHour     uint          `validate:"max=23"`
	MissingHour   uint          `validate:"max=23"`
	SyncInterval  time.Duration `validate:"min=1m"`
	DrainInterval time.Duration `validate:"min=1m"`
	DrainLimit    int           `validate:"min=1,max=100000"`
}

type Config struct {
	Environment string
	Database    DatabaseConfig
	Redis       RedisConfig
	Bucket      BucketConfig
	Storage     StorageConfig
	Upstream    UpstreamConfig
	Worker      WorkerConfig
	Sync        SyncConfig
	Admin       AdminConfig
	Analytics   AnalyticsConfig
	Scheduler   SchedulerConfig
}

// Load reads the environment (and the .env file outside docker) into a validated Config.
func Load() (*Config, error) {
	if GetEnv("ENVIRONMENT", "") != "docker" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, failures.Wrap(failures.KindConfig, "config.Load", fmt.Errorf("couldn't load .env file: %w", err))
		}
	}

	r := &envReader{}
	cfg := &Config{
		Environment: r.str("ENVIRONMENT", "local"),
		Redis: RedisConfig{
			Host:     r.str("REDIS_HOST", ""),
			Port:     r.str("REDIS_PORT", "6379"),
			Password: r.str("REDIS_PASSWORD", ""),
		},
		Bucket: BucketConfig{
			Region:        r.str("BUCKET_REGION", "us-east-1"),
			Endpoint:      r.str("BUCKET_ENDPOINT", ""),
			AccessKey:     r.str("BUCKET_ACCESS_KEY", ""),
			AccessSecret:  r.str("BUCKET_ACCESS_SECRET", ""),
			LogBucket:     r.str("LOG_BUCKET", ""),
			ArchiveBucket: r.str("ARCHIVE_BUCKET", ""),
		},
		Storage: StorageConfig{
			RawRoot: r.str("RAW_ROOT", "/srv/btl/raw"),
			GzRoot:  r.str("GZ_ROOT", "/srv/btl/gz"),
		},
		Upstream: UpstreamConfig{
			Host:           r.str("UPSTREAM_HOST", "127.0.0.1"),
			Port:           r.integer("UPSTREAM_PORT", 5190),
			Login:          r.str("LOGIN_NAME", ""),
			Key:            r.str("LOGIN_KEY", ""),
			ClientIP:       r.str("CLIENT_IP", "127.0.0.1"),
			ClientV:        r.str("CLIENT_V", "108"),
			ClientV2:       r.str("CLIENT_V2", "6.20"),
			HardTimeout:    r.seconds("HARD_TIMEOUT_SEC", 20*time.Second),
			DialTimeout:    r.seconds("CONNECT_TIMEOUT_SEC", 10*time.Second),
			LimitPerMinute: r.integer("UPSTREAM_LIMIT_PER_MINUTE", 0),
		},
		Worker: WorkerConfig{
			ID:           r.str("WORKER_ID", "worker"),
			ListenAddr:   r.str("WORKER_LISTEN_ADDR", ":8001"),
			MotherURL:    strings.TrimRight(r.str("API_MOTHER_URL", ""), "/"),
			PerIDDelay:   r.seconds("PER_ID_DELAY_SEC", 500*time.Millisecond),
			UploadMother: r.boolean("UPLOAD_TO_MOTHER", false),
		},
		Sync: SyncConfig{
			WorkerURLs:       r.list("WORKER_URLS"),
			BatchSize:        r.integer("BATCH_SIZE", 10),
			ConcurrencyLimit: r.integer("CONCURRENCY_LIMIT", 12),
			PerIDDelay:       r.seconds("PER_ID_DELAY_SEC", 500*time.Millisecond),
			BatchTimeout:     r.seconds("BATCH_TIMEOUT_SEC", 300*time.Second),
			MaxBattleID:      r.int64("MAX_BATTLE_ID", 0),
			AutoBatchSize:    r.integer("AUTO_BATCH_SIZE", 1000),
			HTTPAddr:         r.str("COORDINATOR_HTTP_ADDR", ":8002"),
			GRPCAddr:         r.str("COORDINATOR_GRPC_ADDR", ":50051"),
		},
		Admin: AdminConfig{
			Token: r.str("ADMIN_API_TOKEN", ""),
		},
		Analytics: AnalyticsConfig{
			HTTPAddr:          r.str("API_HTTP_ADDR", ":8080"),
			ModelPath:         r.str("MODEL_PATH", "/srv/btl/models/bot_ensemble.bin"),
			DefaultWindowDays: r.integer("DEFAULT_WINDOW_DAYS", 30),
			CacheTTL:          r.seconds("ANALYTICS_CACHE_TTL_SEC", 5*time.Minute),
			CoordinatorAddr:   r.str("COORDINATOR_GRPC_TARGET", "coordinator:50051"),
		},
		Scheduler: SchedulerConfig{
			APIURL:        strings.TrimRight(r.str("API_BASE_URL", "http://api:8080"), "/"),
			TrainHour:     uint(r.integer("TRAIN_HOUR", 4)),
			MissingHour:   uint(r.integer("MISSING_RETRY_HOUR", 2)),
			SyncInterval:  r.seconds("AUTO_SYNC_INTERVAL_SEC", time.Hour),
			DrainInterval: r.seconds("DRAIN_INTERVAL_SEC", 10*time.Minute),
			DrainLimit:    r.integer("DRAIN_LIMIT", 5000),
		},
	}

	cfg.Database = loadDatabase(r)

	if len(r.invalid) > 0 {
		return nil, failures.Newf(failures.KindConfig, "config.Load", "invalid environment: %s", strings.Join(r.invalid, "; "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDatabase picks the DB_TEST_* or DB_PROD_* block based on DB_MODE.
func loadDatabase(r *envReader) DatabaseConfig {
	mode := strings.ToLower(r.str("DB_MODE", "test"))
	prefix := "DB_" + strings.ToUpper(mode) + "_"

	db := DatabaseConfig{
		Mode:           mode,
		Host:           r.str(prefix+"HOST", "localhost"),
		Port:           r.integer(prefix+"PORT", 5432),
		Database:       r.str(prefix+"NAME", ""),
		User:           r.str(prefix+"USER", ""),
		Password:       r.str(prefix+"PASSWORD", ""),
		MigrationsPath: r.str("MIGRATIONS_PATH", "migrations"),
	}
	db.DSN = BuildDSN(db)

	return db
}

// BuildDSN creates the postgres connection string with the statement timeout applied.
func BuildDSN(db DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC statement_timeout=60000",
		db.Host, db.Port, db.User, db.Password, db.Database,
	)
}

// Validate runs the struct validation tags.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return failures.Newf(failures.KindConfig, "config.Validate", "%s", strings.Join(fields, "; "))
		}
		return failures.Wrap(failures.KindConfig, "config.Validate", err)
	}

	if _, err := url.ParseRequestURI(c.Scheduler.APIURL); err != nil {
		return failures.Newf(failures.KindConfig, "config.Validate", "API_BASE_URL is not a valid url: %v", err)
	}

	if c.Worker.MotherURL != "" {
		if _, err := url.ParseRequestURI(c.Worker.MotherURL); err != nil {
			return failures.Newf(failures.KindConfig, "config.Validate", "API_MOTHER_URL is not a valid url: %v", err)
		}
	}

	return nil
}

// missing returns a startup error listing the absent keys.
func missing(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return failures.Wrap(failures.KindConfig, "config", fmt.Errorf("%w: %s", failures.ErrMissingEnv, strings.Join(keys, ", ")))
}

// RequireWorker checks the keys the fetch worker can't start without.
func (c *Config) RequireWorker() error {
	var keys []string
	if c.Upstream.Login == "" {
		keys = append(keys, "LOGIN_NAME")
	}
	if c.Upstream.Key == "" {
		keys = append(keys, "LOGIN_KEY")
	}
	if c.Worker.UploadMother && c.Worker.MotherURL == "" {
		keys = append(keys, "API_MOTHER_URL")
	}
	return missing(keys)
}

// RequireDatabase checks the selected DSN block.
func (c *Config) RequireDatabase() error {
	prefix := "DB_" + strings.ToUpper(c.Database.Mode) + "_"

	var keys []string
	if c.Database.Database == "" {
		keys = append(keys, prefix+"NAME")
	}
	if c.Database.User == "" {
		keys = append(keys, prefix+"USER")
	}
	return missing(keys)
}

// RequireCoordinator checks the coordinator keys.
func (c *Config) RequireCoordinator() error {
	if err := c.RequireDatabase(); err != nil {
		return err
	}

	var keys []string
	if len(c.Sync.WorkerURLs) == 0 {
		keys = append(keys, "WORKER_URLS")
	}
	if c.Admin.Token == "" {
		keys = append(keys, "ADMIN_API_TOKEN")
	}
	return missing(keys)
}

// RequireScheduler checks the keys the scheduler can't start without.
func (c *Config) RequireScheduler() error {
	var keys []string
	if c.Admin.Token == "" {
		keys = append(keys, "ADMIN_API_TOKEN")
	}
	return missing(keys)
}
