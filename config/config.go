/*
Package config assembles server settings.

PRECEDENCE (lowest to highest):
  1. built-in defaults
  2. .env file in the working directory (optional)
  3. process environment
  4. command-line flags

KEYS:
  STATION_PORT          -port         HTTP port (8080)
  STATION_STORE         -store        memory | file | sqlite | mongo (sqlite)
  STATION_DB_PATH       -db           file or SQLite path (station.db)
  MONGO_URI             -mongo-uri    MongoDB connection string
  MONGO_DATABASE        -mongo-db     MongoDB database (station)
  REDIS_ADDR            -redis        host:port for cross-process locks; empty = in-process
  LOG_LEVEL             -log-level    logrus level (info)
  LOG_FORMAT            -log-format   json | text (json)
  LOCK_TIMEOUT          -lock-timeout lock acquisition timeout (5s)
  MAX_CONFLICT_RETRIES  -retries      retries of a conflicting unit of work (3)
  STATION_TIMEZONE      -tz           IANA zone for report day boundaries (UTC)
  AUDIT_INTERVAL        -audit        balance audit period; 0 disables (5m)
  STATION_SETUP_FILE    -setup        YAML station setup seeded at startup
*/
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

type Config struct {
	Port        int
	Store       string
	DBPath      string
	MongoURI    string
	MongoDB     string
	RedisAddr   string
	LogLevel    string
	LogFormat   string
	LockTimeout time.Duration
	MaxRetries  int
	Timezone    string
	Audit       time.Duration
	SetupFile   string
}

// Defaults returns the built-in settings.
func Defaults() Config {
	return Config{
		Port:        8080,
		Store:       StoreSQLite,
		DBPath:      "station.db",
		MongoURI:    "mongodb://localhost:27017",
		MongoDB:     "station",
		LogLevel:    "info",
		LogFormat:   "json",
		LockTimeout: 5 * time.Second,
		MaxRetries:  3,
		Timezone:    "UTC",
		Audit:       5 * time.Minute,
	}
}

// Load reads .env (if present), the environment and then args.
func Load(args []string) (Config, error) {
	_ = godotenv.Load()
	return Parse(args, os.LookupEnv)
}

// Parse builds a Config from lookup and args without touching the process
// environment.
func Parse(args []string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	num("STATION_PORT", &cfg.Port)
	str("STATION_STORE", &cfg.Store)
	str("STATION_DB_PATH", &cfg.DBPath)
	str("MONGO_URI", &cfg.MongoURI)
	str("MONGO_DATABASE", &cfg.MongoDB)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	dur("LOCK_TIMEOUT", &cfg.LockTimeout)
	num("MAX_CONFLICT_RETRIES", &cfg.MaxRetries)
	str("STATION_TIMEZONE", &cfg.Timezone)
	dur("AUDIT_INTERVAL", &cfg.Audit)
	str("STATION_SETUP_FILE", &cfg.SetupFile)
	if len(errs) > 0 {
		return cfg, errs[0]
	}

	fs := flag.NewFlagSet("station", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "record store: memory, file, sqlite or mongo")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "file or SQLite database path (\":memory:\" for SQLite in memory)")
	fs.StringVar(&cfg.MongoURI, "mongo-uri", cfg.MongoURI, "MongoDB connection string")
	fs.StringVar(&cfg.MongoDB, "mongo-db", cfg.MongoDB, "MongoDB database name")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for distributed locks")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json or text")
	fs.DurationVar(&cfg.LockTimeout, "lock-timeout", cfg.LockTimeout, "lock acquisition timeout")
	fs.IntVar(&cfg.MaxRetries, "retries", cfg.MaxRetries, "retries for conflicting units of work")
	fs.StringVar(&cfg.Timezone, "tz", cfg.Timezone, "station time zone for reports")
	fs.DurationVar(&cfg.Audit, "audit", cfg.Audit, "balance audit interval (0 disables)")
	fs.StringVar(&cfg.SetupFile, "setup", cfg.SetupFile, "station setup YAML seeded at startup")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values that flags and env cannot type-check.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreFile, StoreSQLite, StoreMongo:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("negative retries %d", c.MaxRetries)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
