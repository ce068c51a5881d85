// Package config reads guildkeeper's runtime settings from the
// environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/szaher/guildkeeper/internal/state"
)

// Environment variable names.
const (
	EnvToken         = "GUILDKEEPER_TOKEN"
	EnvBlueprint     = "GUILDKEEPER_BLUEPRINT"
	EnvStateBackend  = "GUILDKEEPER_STATE_BACKEND"
	EnvStateFile     = "GUILDKEEPER_STATE_FILE"
	EnvPostgresDSN   = "GUILDKEEPER_PG_DSN"
	EnvS3Bucket      = "GUILDKEEPER_S3_BUCKET"
	EnvS3Prefix      = "GUILDKEEPER_S3_PREFIX"
	EnvEtcdEndpoints = "GUILDKEEPER_ETCD_ENDPOINTS"
	EnvEtcdPrefix    = "GUILDKEEPER_ETCD_PREFIX"
	EnvDryRun        = "GUILDKEEPER_DRY_RUN"
	EnvCallDelay     = "GUILDKEEPER_CALL_DELAY"
	EnvLogLevel      = "GUILDKEEPER_LOG_LEVEL"
	EnvMetricsAddr   = "GUILDKEEPER_METRICS_ADDR"
	EnvResync        = "GUILDKEEPER_RESYNC"
)

const (
	// DefaultStateFile is the file backend's default path.
	DefaultStateFile = ".guildkeeper.state.json"
	// DefaultCallDelay spaces successive platform calls.
	DefaultCallDelay = 750 * time.Millisecond
)

// Config holds the runtime settings.
type Config struct {
	Token         string
	Blueprint     string
	StateBackend  string
	StateFile     string
	PostgresDSN   string
	S3Bucket      string
	S3Prefix      string
	EtcdEndpoints []string
	EtcdPrefix    string
	DryRun        bool
	CallDelay     time.Duration
	LogLevel      string
	MetricsAddr   string
	Resync        string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		StateBackend: state.BackendFile,
		StateFile:    DefaultStateFile,
		CallDelay:    DefaultCallDelay,
		LogLevel:     "info",
	}
}

// LoadDotEnv loads variables from the given files into the environment
// without overriding variables that are already set. Missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv reads the configuration from environment variables. Malformed
// values are reported rather than silently replaced by defaults.
func FromEnv() (Config, error) {
	cfg := Default()
	var problems []string

	cfg.Token = os.Getenv(EnvToken)
	cfg.Blueprint = os.Getenv(EnvBlueprint)
	if v := os.Getenv(EnvStateBackend); v != "" {
		cfg.StateBackend = strings.ToLower(v)
	}
	if v := os.Getenv(EnvStateFile); v != "" {
		cfg.StateFile = v
	}
	cfg.PostgresDSN = os.Getenv(EnvPostgresDSN)
	cfg.S3Bucket = os.Getenv(EnvS3Bucket)
	cfg.S3Prefix = os.Getenv(EnvS3Prefix)
	cfg.EtcdEndpoints = SplitList(os.Getenv(EnvEtcdEndpoints))
	cfg.EtcdPrefix = os.Getenv(EnvEtcdPrefix)

	dry, err := parseBool(os.Getenv(EnvDryRun))
	if err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", EnvDryRun, err))
	}
	cfg.DryRun = dry

	if v := os.Getenv(EnvCallDelay); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			problems = append(problems, fmt.Sprintf("%s: invalid duration %q", EnvCallDelay, v))
		} else {
			cfg.CallDelay = d
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	cfg.MetricsAddr = os.Getenv(EnvMetricsAddr)
	cfg.Resync = os.Getenv(EnvResync)

	if len(problems) > 0 {
		return cfg, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// DryRunFromEnv reads the dry-run toggle. It consults the environment on
// every call so the toggle can change between runs. Unparseable values
// count as enabled.
func DryRunFromEnv() bool {
	v, err := parseBool(os.Getenv(EnvDryRun))
	if err != nil {
		return true
	}
	return v
}

// StateOptions maps the configuration onto state backend options.
func (c Config) StateOptions() state.Options {
	return state.Options{
		Backend:       c.StateBackend,
		FilePath:      c.StateFile,
		PostgresDSN:   c.PostgresDSN,
		S3Bucket:      c.S3Bucket,
		S3Prefix:      c.S3Prefix,
		EtcdEndpoints: c.EtcdEndpoints,
		EtcdPrefix:    c.EtcdPrefix,
	}
}

// Validate checks that the settings a backend needs are present.
func (c Config) Validate() error {
	switch c.StateBackend {
	case state.BackendFile:
		if c.StateFile == "" {
			return fmt.Errorf("file backend requires %s", EnvStateFile)
		}
	case state.BackendMemory:
	case state.BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires %s", EnvPostgresDSN)
		}
	case state.BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("s3 backend requires %s", EnvS3Bucket)
		}
	case state.BackendEtcd:
		if len(c.EtcdEndpoints) == 0 {
			return fmt.Errorf("etcd backend requires %s", EnvEtcdEndpoints)
		}
	default:
		return fmt.Errorf("unknown state backend %q", c.StateBackend)
	}
	return nil
}

// SplitList splits a comma separated list, dropping empty items.
func SplitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return false, nil
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}
