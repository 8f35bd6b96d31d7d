package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fusserg007/botconstructor/internal/engine"
	"github.com/fusserg007/botconstructor/internal/recovery"
)

// Persistence backends for conversation sessions.
const (
	PersistMemory = "memory"
	PersistLibSQL = "libsql"
	PersistRedis  = "redis"
)

// Config holds the runtime configuration.
// Priority: env vars > .env > settings.yaml > defaults.
type Config struct {
	ListenAddr     string        `yaml:"listen_addr"`
	LogLevel       string        `yaml:"log_level"`
	PoolSize       int           `yaml:"pool_size"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	MaxHops        int           `yaml:"max_hops"`
	MaxRetries     int           `yaml:"max_retries"`
	ErrorLogCap    int           `yaml:"error_log_cap"`
	Persistence    string        `yaml:"persistence"`
	DBPath         string        `yaml:"db_path"`
	RedisURL       string        `yaml:"redis_url"`
	ScheduleTick   time.Duration `yaml:"schedule_tick"`
	BotsDir        string        `yaml:"bots_dir"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:     ":4200",
		LogLevel:       "info",
		PoolSize:       16,
		SessionTimeout: 30 * time.Minute,
		SweepInterval:  5 * time.Minute,
		MaxHops:        engine.DefaultMaxHops,
		MaxRetries:     engine.DefaultMaxRetries,
		ErrorLogCap:    recovery.DefaultLogCapacity,
		Persistence:    PersistLibSQL,
		DBPath:         filepath.Join(configDir(), "botrunner.db"),
		ScheduleTick:   30 * time.Second,
	}
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".botconstructor"
	}
	return filepath.Join(home, ".botconstructor")
}

func settingsPath() string {
	return filepath.Join(configDir(), "settings.yaml")
}

// loadConfig layers the settings file, a .env file in the working
// directory and BOTRT_* variables over the defaults. A missing settings
// file or .env is not an error; an explicit path that does not exist is.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = settingsPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.check()
}

// applyEnv overrides cfg from BOTRT_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("BOTRT_LISTEN_ADDR", &cfg.ListenAddr)
	str("BOTRT_LOG_LEVEL", &cfg.LogLevel)
	str("BOTRT_PERSISTENCE", &cfg.Persistence)
	str("BOTRT_DB_PATH", &cfg.DBPath)
	str("BOTRT_REDIS_URL", &cfg.RedisURL)
	str("BOTRT_BOTS_DIR", &cfg.BotsDir)

	return errors.Join(
		num("BOTRT_POOL_SIZE", &cfg.PoolSize),
		num("BOTRT_MAX_HOPS", &cfg.MaxHops),
		num("BOTRT_MAX_RETRIES", &cfg.MaxRetries),
		num("BOTRT_ERROR_LOG_CAP", &cfg.ErrorLogCap),
		dur("BOTRT_SESSION_TIMEOUT", &cfg.SessionTimeout),
		dur("BOTRT_SWEEP_INTERVAL", &cfg.SweepInterval),
		dur("BOTRT_SCHEDULE_TICK", &cfg.ScheduleTick),
	)
}

func (c Config) check() error {
	switch c.Persistence {
	case PersistMemory, PersistLibSQL:
	case PersistRedis:
		if c.RedisURL == "" {
			return errors.New("persistence redis needs redis_url")
		}
	default:
		return fmt.Errorf("unknown persistence %q: must be memory, libsql or redis", c.Persistence)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}
	return nil
}
