// Package config loads the service configuration from KAZINI_* environment
// variables, optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every variable name.
const Prefix = "KAZINI_"

// Profile store backends.
const (
	ProfilesSupabase = "supabase"
	ProfilesBun      = "bun"
	ProfilesSQL      = "sql"
)

// Local cache backends.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
)

// Config contains the service configuration.
type Config struct {
	Log      Log      `envPrefix:"LOG_"`
	HTTP     HTTP     `envPrefix:"HTTP_"`
	Supabase Supabase `envPrefix:"SUPABASE_"`
	Auth     Auth     `envPrefix:"AUTH_"`
	Profiles Profiles `envPrefix:"PROFILES_"`
	Cache    Cache    `envPrefix:"CACHE_"`
	Scoring  Scoring  `envPrefix:"SCORING_"`
}

// Log selects the slog handler.
type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// HTTP contains the companion server settings.
type HTTP struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	AppURL          string        `env:"APP_URL"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:","`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Supabase contains the hosted auth project settings.
type Supabase struct {
	URL             string        `env:"URL"`
	AnonKey         string        `env:"ANON_KEY"`
	Timeout         time.Duration `env:"TIMEOUT" envDefault:"10s"`
	RefreshSchedule string        `env:"REFRESH_SCHEDULE" envDefault:"@every 30s"`
	RefreshMargin   time.Duration `env:"REFRESH_MARGIN" envDefault:"90s"`
}

// Auth tunes the login handlers.
type Auth struct {
	CallbackURL    string        `env:"CALLBACK_URL"`
	Cooldown       time.Duration `env:"COOLDOWN" envDefault:"60s"`
	MagicLinkDelay time.Duration `env:"MAGIC_LINK_DELAY" envDefault:"1500ms"`
	ScrubOnError   bool          `env:"SCRUB_ON_ERROR" envDefault:"false"`
}

// Profiles selects where profile records live.
type Profiles struct {
	Backend string `env:"BACKEND" envDefault:"supabase"`
	Dialect string `env:"DIALECT" envDefault:"sqlite3"`
	DSN     string `env:"DSN" envDefault:"file:kazini.db?cache=shared"`
}

// Cache selects the local persistent cache.
type Cache struct {
	Backend       string        `env:"BACKEND" envDefault:"memory"`
	SQLitePath    string        `env:"SQLITE_PATH" envDefault:"kazini-cache.db"`
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string        `env:"REDIS_PREFIX" envDefault:"kazini:cache:"`
	RedisTTL      time.Duration `env:"REDIS_TTL" envDefault:"720h"`
}

// Scoring points at the truth scoring service. Empty URL disables it.
type Scoring struct {
	URL     string        `env:"URL"`
	APIKey  string        `env:"API_KEY"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// Load reads the given .env files (default ".env"; missing files are
// ignored), parses the environment and validates the result.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return NewConfig()
}

// NewConfig parses the environment without touching .env files.
func NewConfig() (*Config, error) {
	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross field requirements.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Log),
		validation.Field(&c.HTTP),
		validation.Field(&c.Supabase),
		validation.Field(&c.Auth),
		validation.Field(&c.Profiles),
		validation.Field(&c.Cache),
		validation.Field(&c.Scoring),
	)
}

func (l Log) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("text", "json")),
	)
}

func (h HTTP) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Addr, validation.Required),
		validation.Field(&h.AppURL, is.URL),
	)
}

func (s Supabase) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.URL, validation.Required, is.URL),
		validation.Field(&s.AnonKey, validation.Required),
		validation.Field(&s.RefreshSchedule, validation.Required),
	)
}

func (a Auth) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.CallbackURL, is.URL),
	)
}

func (p Profiles) Validate() error {
	var dialect, dsn []validation.Rule
	if p.Backend == ProfilesBun {
		dialect = append(dialect, validation.Required, validation.In("sqlite3", "postgres"))
	}
	if p.Backend == ProfilesBun || p.Backend == ProfilesSQL {
		dsn = append(dsn, validation.Required)
	}
	return validation.ValidateStruct(&p,
		validation.Field(&p.Backend, validation.Required, validation.In(ProfilesSupabase, ProfilesBun, ProfilesSQL)),
		validation.Field(&p.Dialect, dialect...),
		validation.Field(&p.DSN, dsn...),
	)
}

func (c Cache) Validate() error {
	var sqlitePath, redisAddr []validation.Rule
	switch c.Backend {
	case CacheSQLite:
		sqlitePath = append(sqlitePath, validation.Required)
	case CacheRedis:
		redisAddr = append(redisAddr, validation.Required)
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(CacheMemory, CacheSQLite, CacheRedis)),
		validation.Field(&c.SQLitePath, sqlitePath...),
		validation.Field(&c.RedisAddr, redisAddr...),
	)
}

func (s Scoring) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.URL, is.URL),
	)
}
