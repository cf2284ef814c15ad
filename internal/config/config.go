// Package config loads netpulse's configuration from a YAML file overlaid
// with NETPULSE_-prefixed environment variables (nested keys joined by
// "__"), the way the teacher's internal/utils env helpers layer environment
// overrides over defaults, generalized to match the Python original's
// pydantic-settings precedence: env > yaml > default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scitix/netpulse/internal/logging"
)

const envPrefix = "NETPULSE_"

type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	APIKeyName string `yaml:"api_key_name"`
	Workers    int    `yaml:"workers"`
}

type JobConfig struct {
	TTLSeconds        int `yaml:"ttl"`
	TimeoutSeconds    int `yaml:"timeout"`
	ResultTTLSeconds  int `yaml:"result_ttl"`
	FailureTTLSeconds int `yaml:"failure_ttl"`
}

func (j JobConfig) TTL() time.Duration     { return time.Duration(j.TTLSeconds) * time.Second }
func (j JobConfig) Timeout() time.Duration { return time.Duration(j.TimeoutSeconds) * time.Second }
func (j JobConfig) ResultTTL() time.Duration {
	return time.Duration(j.ResultTTLSeconds) * time.Second
}
func (j JobConfig) FailureTTL() time.Duration {
	if j.FailureTTLSeconds > 0 {
		return time.Duration(j.FailureTTLSeconds) * time.Second
	}
	return j.ResultTTL()
}

type WorkerConfig struct {
	Scheduler      string `yaml:"scheduler"`
	TTLSeconds     int    `yaml:"ttl"`
	PinnedPerNode  int    `yaml:"pinned_per_node"`
	KeepaliveSecs  int    `yaml:"keepalive_interval"`
	SpawnRetries   int    `yaml:"spawn_retries"`
}

func (w WorkerConfig) TTL() time.Duration { return time.Duration(w.TTLSeconds) * time.Second }
func (w WorkerConfig) KeepaliveInterval() time.Duration {
	return time.Duration(w.KeepaliveSecs) * time.Second
}

type StateStoreConfig struct {
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	Password          string   `yaml:"password"`
	DB                int      `yaml:"db"`
	TLS               bool     `yaml:"tls"`
	DialTimeoutSecs   int      `yaml:"dial_timeout"`
	ReadTimeoutSecs   int      `yaml:"read_timeout"`
	WriteTimeoutSecs  int      `yaml:"write_timeout"`
	KeepaliveSecs     int      `yaml:"keepalive"`
	SentinelMaster    string   `yaml:"sentinel_master"`
	SentinelAddrs     []string `yaml:"sentinel_addrs"`
}

func (s StateStoreConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }
func (s StateStoreConfig) DialTimeout() time.Duration {
	return time.Duration(s.DialTimeoutSecs) * time.Second
}
func (s StateStoreConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSecs) * time.Second
}
func (s StateStoreConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSecs) * time.Second
}
func (s StateStoreConfig) Keepalive() time.Duration {
	return time.Duration(s.KeepaliveSecs) * time.Second
}
func (s StateStoreConfig) UsesSentinel() bool { return s.SentinelMaster != "" }

type PluginConfig struct {
	DriverDirs    []string `yaml:"driver_dirs"`
	SchedulerDirs []string `yaml:"scheduler_dirs"`
	TemplateDirs  []string `yaml:"template_dirs"`
}

type Config struct {
	Server Server
	Job    JobConfig    `yaml:"job"`
	Worker WorkerConfig `yaml:"worker"`
	Store  StateStoreConfig `yaml:"state_store"`
	Plugin PluginConfig `yaml:"plugin"`
}

// Server is named distinctly from the yaml field "server" so both the
// struct type and the yaml tag read naturally at call sites.
type Server = ServerConfig

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       9000,
			APIKeyName: "X-API-KEY",
			Workers:    1,
		},
		Job: JobConfig{
			TTLSeconds:        60 * 60,
			TimeoutSeconds:    180,
			ResultTTLSeconds:  60 * 60 * 24,
			FailureTTLSeconds: 60 * 60 * 24,
		},
		Worker: WorkerConfig{
			Scheduler:     "least_load",
			TTLSeconds:    30,
			PinnedPerNode: 10,
			KeepaliveSecs: 30,
			SpawnRetries:  3,
		},
		Store: StateStoreConfig{
			Host:             "127.0.0.1",
			Port:             6379,
			DB:               0,
			DialTimeoutSecs:  5,
			ReadTimeoutSecs:  5,
			WriteTimeoutSecs: 5,
			KeepaliveSecs:    30,
		},
	}
}

// Load reads path (if it exists) as YAML, then overlays NETPULSE_-prefixed
// environment variables, nested keys joined by "__"
// (e.g. NETPULSE_STATE_STORE__HOST). Environment always wins over file,
// which always wins over the built-in default.
func Load(path string, log *logging.Logger) (Config, error) {
	cfg := defaults()
	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg, log)
	return cfg, nil
}

// applyEnvOverrides walks the known NETPULSE_ env vars explicitly rather
// than via reflection, matching the teacher's explicit GetEnv/GetEnvAsInt
// call-per-field style in internal/utils/env.go.
func applyEnvOverrides(cfg *Config, log *logging.Logger) {
	str := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok {
			*dst = v
		}
	}
	intv := func(key string, dst *int) {
		if v, ok := lookupEnv(key); ok {
			if i, err := strconv.Atoi(v); err == nil {
				*dst = i
			} else if log != nil {
				log.Warn("config: env var not an int, ignoring", "key", key, "value", v)
			}
		}
	}
	boolv := func(key string, dst *bool) {
		if v, ok := lookupEnv(key); ok {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}

	str("SERVER__HOST", &cfg.Server.Host)
	intv("SERVER__PORT", &cfg.Server.Port)
	str("SERVER__API_KEY", &cfg.Server.APIKey)
	str("SERVER__API_KEY_NAME", &cfg.Server.APIKeyName)
	intv("SERVER__WORKERS", &cfg.Server.Workers)

	intv("JOB__TTL", &cfg.Job.TTLSeconds)
	intv("JOB__TIMEOUT", &cfg.Job.TimeoutSeconds)
	intv("JOB__RESULT_TTL", &cfg.Job.ResultTTLSeconds)
	intv("JOB__FAILURE_TTL", &cfg.Job.FailureTTLSeconds)

	str("WORKER__SCHEDULER", &cfg.Worker.Scheduler)
	intv("WORKER__TTL", &cfg.Worker.TTLSeconds)
	intv("WORKER__PINNED_PER_NODE", &cfg.Worker.PinnedPerNode)
	intv("WORKER__KEEPALIVE_INTERVAL", &cfg.Worker.KeepaliveSecs)
	intv("WORKER__SPAWN_RETRIES", &cfg.Worker.SpawnRetries)

	str("STATE_STORE__HOST", &cfg.Store.Host)
	intv("STATE_STORE__PORT", &cfg.Store.Port)
	str("STATE_STORE__PASSWORD", &cfg.Store.Password)
	intv("STATE_STORE__DB", &cfg.Store.DB)
	boolv("STATE_STORE__TLS", &cfg.Store.TLS)
	intv("STATE_STORE__DIAL_TIMEOUT", &cfg.Store.DialTimeoutSecs)
	intv("STATE_STORE__READ_TIMEOUT", &cfg.Store.ReadTimeoutSecs)
	intv("STATE_STORE__WRITE_TIMEOUT", &cfg.Store.WriteTimeoutSecs)
	intv("STATE_STORE__KEEPALIVE", &cfg.Store.KeepaliveSecs)
	str("STATE_STORE__SENTINEL_MASTER", &cfg.Store.SentinelMaster)
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}
