package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/storage"
)

const (
	defaultAPIURL       = "http://localhost:8000"
	defaultLoggingLevel = logger.LevelWarn
	defaultEnvironment  = logger.EnvDevelopment
	defaultStorage      = storage.BackendFile
	defaultTimeout      = 15 * time.Second
	defaultPollInterval = 10 * time.Second
)

type Config struct {
	// Default logging level
	LogLevel string

	// Environment, logs are text in dev and JSON in prod
	Environment string

	// Base address of the NUAM API
	APIURL string

	// Timeout of a single API call (uploads are not limited)
	Timeout time.Duration

	// Where session state is kept: memory, file, postgres, redis
	Storage string

	// Backend address: file path, postgres DSN or redis host:port
	// File backend uses a file in user config dir if not set
	StorageDSN string

	// Redis password, may be empty
	RedisPassword string

	// How often watch polls for notifications
	PollInterval time.Duration

	// Address to serve Prometheus metrics on while watching, disabled if empty
	MetricsAddr string

	// Attempts of idempotent reads on network and server failures, 1 means no retries
	Retries int
}

func NewConfig() *Config {
	return &Config{
		LogLevel:     defaultLoggingLevel,
		Environment:  defaultEnvironment,
		APIURL:       defaultAPIURL,
		Timeout:      defaultTimeout,
		Storage:      defaultStorage,
		PollInterval: defaultPollInterval,
		Retries:      1,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"NUAM_API_URL":        setString(&c.APIURL),
		"NUAM_TIMEOUT":        setDuration(&c.Timeout),
		"NUAM_STORAGE":        setString(&c.Storage),
		"NUAM_STORAGE_DSN":    setString(&c.StorageDSN),
		"NUAM_REDIS_PASSWORD": setString(&c.RedisPassword),
		"NUAM_POLL_INTERVAL":  setDuration(&c.PollInterval),
		"NUAM_METRICS_ADDR":   setString(&c.MetricsAddr),
		"NUAM_RETRIES":        setInt(&c.Retries),
		"LOG_LEVEL":           setString(&c.LogLevel),
		"ENVIRONMENT":         setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return nil
}

// ParseFlags parses global flags placed before the command
// Returns the command with its own arguments
func (c *Config) ParseFlags(args []string) ([]string, error) {
	fs := pflag.NewFlagSet("nuamctl", pflag.ContinueOnError)
	fs.SetInterspersed(false)

	fs.StringVarP(&c.APIURL, "api", "a", c.APIURL, "NUAM API base address")
	fs.DurationVarP(&c.Timeout, "timeout", "t", c.Timeout, "Timeout of a single API call")
	fs.StringVarP(&c.Storage, "storage", "s", c.Storage, "Session storage (memory, file, postgres, redis)")
	fs.StringVarP(&c.StorageDSN, "storage-dsn", "d", c.StorageDSN, "Storage address: file path, postgres DSN or redis host:port")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "Notification poll interval of watch")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Serve Prometheus metrics on this address while watching")
	fs.IntVarP(&c.Retries, "retries", "r", c.Retries, "Attempts of reads on network and server failures")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

func (c *Config) Validate() error {
	switch c.Storage {
	case storage.BackendMemory, storage.BackendFile:
	case storage.BackendPostgres, storage.BackendRedis:
		if c.StorageDSN == "" {
			return fmt.Errorf("storage %q requires storage dsn", c.Storage)
		}
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}

	if c.APIURL == "" {
		return errors.New("api address must not be empty")
	}
	if c.Retries < 1 {
		return errors.New("retries must be at least 1")
	}
	return nil
}
