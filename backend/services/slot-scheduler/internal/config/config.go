package config

import (
	"fmt"
	"strings"
	"time"

	libconfig "chargeslots/backend/libs/config"
	"chargeslots/backend/services/slot-scheduler/internal/clock"
	"chargeslots/backend/services/slot-scheduler/internal/jobs"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// HTTPConfig is the operator HTTP listener.
type HTTPConfig struct {
	Port string `yaml:"port" env:"SCHEDULER_HTTP_PORT"`
}

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	Driver         string `yaml:"driver" env:"SCHEDULER_DB_DRIVER" validate:"oneof=postgres memory"`
	DSN            string `yaml:"dsn" env:"SCHEDULER_POSTGRES_DSN" validate:"required_if=Driver postgres"`
	MigrateOnStart bool   `yaml:"migrateOnStart" env:"SCHEDULER_DB_MIGRATE"`
	MaxOpenConns   int    `yaml:"maxOpenConns" env:"SCHEDULER_DB_MAX_OPEN_CONNS" validate:"gte=0"`
}

// RedisConfig backs the run-status store and the availability cache. An empty Addr disables both.
type RedisConfig struct {
	Addr      string        `yaml:"addr" env:"SCHEDULER_REDIS_ADDR"`
	Password  string        `yaml:"password" env:"SCHEDULER_REDIS_PASSWORD"`
	DB        int           `yaml:"db" env:"SCHEDULER_REDIS_DB" validate:"gte=0"`
	StatusTTL time.Duration `yaml:"statusTTL" env:"SCHEDULER_REDIS_STATUS_TTL" validate:"gte=0"`
	CacheTTL  time.Duration `yaml:"cacheTTL" env:"SCHEDULER_REDIS_CACHE_TTL" validate:"gte=0"`
}

// AMQPConfig is the domain event publisher. An empty URL disables publishing.
type AMQPConfig struct {
	URL      string `yaml:"url" env:"SCHEDULER_AMQP_URL"`
	Exchange string `yaml:"exchange" env:"SCHEDULER_AMQP_EXCHANGE" validate:"required_with=URL"`
}

// AuthConfig guards the operator endpoints.
type AuthConfig struct {
	JWTSecret  string   `yaml:"jwtSecret" env:"SCHEDULER_JWT_SECRET"`
	APIKeyHash string   `yaml:"apiKeyHash" env:"SCHEDULER_API_KEY_HASH"`
	Roles      []string `yaml:"roles" env:"SCHEDULER_AUTH_ROLES" validate:"min=1,dive,required"`
}

// TracingConfig exports spans over OTLP/gRPC. An empty Endpoint disables export.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint" env:"SCHEDULER_OTLP_ENDPOINT"`
	Insecure    bool    `yaml:"insecure" env:"SCHEDULER_OTLP_INSECURE"`
	SampleRatio float64 `yaml:"sampleRatio" env:"SCHEDULER_TRACE_SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

// ScheduleConfig drives the three lifecycle jobs.
type ScheduleConfig struct {
	Timezone           string        `yaml:"timezone" env:"SCHEDULER_TIMEZONE" validate:"required"`
	FallbackOffset     string        `yaml:"fallbackOffset" env:"SCHEDULER_FALLBACK_OFFSET"`
	DailyRunAt         string        `yaml:"dailyRunAt" env:"SCHEDULER_DAILY_RUN_AT" validate:"required"`
	HorizonDays        int           `yaml:"horizonDays" env:"SCHEDULER_HORIZON_DAYS" validate:"min=1,max=366"`
	SessionStarts      []string      `yaml:"sessionStarts" env:"SCHEDULER_SESSION_STARTS" validate:"min=1,dive,required"`
	SessionDuration    time.Duration `yaml:"sessionDuration" env:"SCHEDULER_SESSION_DURATION" validate:"gt=0"`
	ExpirationInterval time.Duration `yaml:"expirationInterval" env:"SCHEDULER_EXPIRATION_INTERVAL" validate:"gt=0"`
	ReconcileInterval  time.Duration `yaml:"reconcileInterval" env:"SCHEDULER_RECONCILE_INTERVAL" validate:"gt=0"`
	RetryDelay         time.Duration `yaml:"retryDelay" env:"SCHEDULER_RETRY_DELAY" validate:"gte=0"`
	RunTimeout         time.Duration `yaml:"runTimeout" env:"SCHEDULER_RUN_TIMEOUT" validate:"gte=0"`
	BackfillOnStart    bool          `yaml:"backfillOnStart" env:"SCHEDULER_BACKFILL_ON_START"`
}

// Config defines slot scheduler configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Auth     AuthConfig     `yaml:"auth"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Port: "8085"},
		Database: DatabaseConfig{
			Driver:         DriverPostgres,
			MigrateOnStart: true,
		},
		Redis: RedisConfig{
			StatusTTL: 7 * 24 * time.Hour,
			CacheTTL:  30 * time.Second,
		},
		AMQP: AMQPConfig{Exchange: "chargeslots.events"},
		Auth: AuthConfig{Roles: []string{"admin", "operator"}},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
		Schedule: ScheduleConfig{
			Timezone:       "Asia/Colombo",
			FallbackOffset: "+05:30",
			DailyRunAt:     "00:05",
			HorizonDays:    7,
			SessionStarts: []string{
				"01:15", "03:30", "05:45", "08:00", "10:15",
				"12:30", "14:45", "17:00", "19:15", "21:30",
			},
			SessionDuration:    120 * time.Minute,
			ExpirationInterval: 2 * time.Hour,
			ReconcileInterval:  2 * time.Hour,
			RetryDelay:         5 * time.Minute,
			RunTimeout:         2 * time.Minute,
			BackfillOnStart:    true,
		},
	}
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// check validates the values the struct tags cannot express.
func (c *Config) check() error {
	if _, err := clock.ParseClock(c.Schedule.DailyRunAt); err != nil {
		return fmt.Errorf("config: schedule.dailyRunAt: %w", err)
	}
	if _, err := c.SessionStarts(); err != nil {
		return err
	}
	if _, err := c.Zone(); err != nil {
		return err
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8085"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// Zone resolves the operating timezone, falling back to the fixed offset.
func (c *Config) Zone() (*clock.Zone, error) {
	zone, err := clock.LoadZone(c.Schedule.Timezone, c.Schedule.FallbackOffset)
	if err != nil {
		return nil, fmt.Errorf("config: schedule.timezone: %w", err)
	}
	return zone, nil
}

// DailyRunAt returns the daily trigger as an offset from local midnight.
func (c *Config) DailyRunAt() time.Duration {
	d, err := clock.ParseClock(c.Schedule.DailyRunAt)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// SessionStarts parses the session table.
func (c *Config) SessionStarts() ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(c.Schedule.SessionStarts))
	for _, s := range c.Schedule.SessionStarts {
		d, err := clock.ParseClock(s)
		if err != nil {
			return nil, fmt.Errorf("config: schedule.sessionStarts: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Generator returns the rolling horizon settings.
func (c *Config) Generator() (jobs.GeneratorConfig, error) {
	starts, err := c.SessionStarts()
	if err != nil {
		return jobs.GeneratorConfig{}, err
	}
	return jobs.GeneratorConfig{
		HorizonDays:     c.Schedule.HorizonDays,
		SessionStarts:   starts,
		SessionDuration: c.Schedule.SessionDuration,
	}, nil
}
