// Package config loads service configuration from .env, an optional YAML
// engine tuning file, and environment variables, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fieldroute/internal/assign"
)

const defaultEngineConfigPath = "config/engine.yaml"

type Config struct {
	Port        string
	DatabaseURL string
	DBMigrate   bool
	RedisURL    string

	Auth Auth

	RateRPS   float64
	RateBurst int

	AutoAssignCron        string
	AutoAssignHorizonDays int

	WebhookURL         string
	WebhookSecret      string
	WebhookMaxAttempts int

	LogLevel  string
	LogFormat string

	Engine Engine
}

type Auth struct {
	Mode          string // dev | hmac | jwks
	HMACSecret    string
	JWKSURL       string
	UserClaim     string
	BusinessClaim string
}

// Engine is the YAML-tunable part of the assignment engine.
type Engine struct {
	BaseHour               int     `yaml:"base_hour"`
	DefaultMaxJobs         int     `yaml:"default_max_jobs"`
	DefaultMaxHours        float64 `yaml:"default_max_hours"`
	DefaultDurationMinutes int     `yaml:"default_duration_minutes"`
	MaxRangeDays           int     `yaml:"max_range_days"`
	Timezone               string  `yaml:"timezone"`
	Weights                Weights `yaml:"weights"`
}

type Weights struct {
	Base           float64 `yaml:"base"`
	DistanceFactor float64 `yaml:"distance_factor"`
	DistanceCap    float64 `yaml:"distance_cap"`
	BalanceFactor  float64 `yaml:"balance_factor"`
	PreferredBonus float64 `yaml:"preferred_bonus"`
}

func DefaultEngine() Engine {
	o := assign.DefaultOptions()
	return Engine{
		BaseHour:               o.BaseHour,
		DefaultMaxJobs:         o.DefaultMaxJobs,
		DefaultMaxHours:        o.DefaultMaxHours,
		DefaultDurationMinutes: o.DefaultDurationMinutes,
		MaxRangeDays:           62,
		Timezone:               "UTC",
		Weights: Weights{
			Base:           o.Weights.Base,
			DistanceFactor: o.Weights.DistanceFactor,
			DistanceCap:    o.Weights.DistanceCap,
			BalanceFactor:  o.Weights.BalanceFactor,
			PreferredBonus: o.Weights.PreferredBonus,
		},
	}
}

// Options converts the tuning values into engine options.
func (e Engine) Options() (assign.Options, error) {
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return assign.Options{}, fmt.Errorf("planning timezone %q: %w", e.Timezone, err)
	}
	return assign.Options{
		BaseHour:               e.BaseHour,
		DefaultDurationMinutes: e.DefaultDurationMinutes,
		DefaultMaxJobs:         e.DefaultMaxJobs,
		DefaultMaxHours:        e.DefaultMaxHours,
		Weights: assign.Weights{
			Base:           e.Weights.Base,
			DistanceFactor: e.Weights.DistanceFactor,
			DistanceCap:    e.Weights.DistanceCap,
			BalanceFactor:  e.Weights.BalanceFactor,
			PreferredBonus: e.Weights.PreferredBonus,
		},
		Location: loc,
	}, nil
}

// Load reads .env (if present) and then builds the configuration.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment and the
// engine tuning file named by ENGINE_CONFIG.
func FromEnv() (Config, error) {
	c := Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Auth: Auth{
			Mode:          strings.ToLower(getEnv("AUTH_MODE", "dev")),
			HMACSecret:    os.Getenv("AUTH_HMAC_SECRET"),
			JWKSURL:       os.Getenv("AUTH_JWKS_URL"),
			UserClaim:     getEnv("AUTH_USER_CLAIM", "sub"),
			BusinessClaim: getEnv("AUTH_BUSINESS_CLAIM", "business_id"),
		},
		AutoAssignCron: os.Getenv("AUTO_ASSIGN_CRON"),
		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
	}
	var err error
	if c.DBMigrate, err = envBool("DB_MIGRATE", true); err != nil {
		return Config{}, err
	}
	if c.RateRPS, err = envFloat("RATE_RPS", 1); err != nil {
		return Config{}, err
	}
	if c.RateBurst, err = envInt("RATE_BURST", 5); err != nil {
		return Config{}, err
	}
	if c.AutoAssignHorizonDays, err = envInt("AUTO_ASSIGN_HORIZON_DAYS", 1); err != nil {
		return Config{}, err
	}
	if c.WebhookMaxAttempts, err = envInt("WEBHOOK_MAX_ATTEMPTS", 10); err != nil {
		return Config{}, err
	}
	if c.AutoAssignHorizonDays < 1 {
		return Config{}, fmt.Errorf("AUTO_ASSIGN_HORIZON_DAYS must be >= 1, got %d", c.AutoAssignHorizonDays)
	}

	path, explicit := os.LookupEnv("ENGINE_CONFIG")
	if !explicit {
		path = defaultEngineConfigPath
	}
	if c.Engine, err = loadEngine(path, explicit); err != nil {
		return Config{}, err
	}
	if c.AutoAssignHorizonDays > c.Engine.MaxRangeDays {
		return Config{}, fmt.Errorf("AUTO_ASSIGN_HORIZON_DAYS (%d) exceeds max_range_days (%d)", c.AutoAssignHorizonDays, c.Engine.MaxRangeDays)
	}
	if tz := os.Getenv("PLANNING_TZ"); tz != "" {
		c.Engine.Timezone = tz
	}
	if _, err := c.Engine.Options(); err != nil {
		return Config{}, err
	}

	switch c.Auth.Mode {
	case "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			return Config{}, errors.New("AUTH_MODE=hmac requires AUTH_HMAC_SECRET")
		}
	case "jwks":
		if c.Auth.JWKSURL == "" {
			return Config{}, errors.New("AUTH_MODE=jwks requires AUTH_JWKS_URL")
		}
	default:
		return Config{}, fmt.Errorf("unknown AUTH_MODE %q", c.Auth.Mode)
	}
	return c, nil
}

// loadEngine overlays the YAML file on the defaults. A missing file is only an
// error when the path was given explicitly.
func loadEngine(path string, required bool) (Engine, error) {
	e := DefaultEngine()
	if path == "" {
		return e, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return e, nil
	}
	if err != nil {
		return Engine{}, fmt.Errorf("read engine config: %w", err)
	}
	if err := yaml.Unmarshal(b, &e); err != nil {
		return Engine{}, fmt.Errorf("parse engine config %s: %w", path, err)
	}
	if e.BaseHour < 0 || e.BaseHour > 23 {
		return Engine{}, fmt.Errorf("engine config: base_hour %d out of range", e.BaseHour)
	}
	if e.DefaultMaxJobs < 1 || e.DefaultMaxHours <= 0 || e.DefaultDurationMinutes < 1 || e.MaxRangeDays < 1 {
		return Engine{}, errors.New("engine config: defaults must be positive")
	}
	return e, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
