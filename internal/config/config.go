package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server Server `yaml:"server"`
	Flow   Flow   `yaml:"flow"`
	Hooks  Hooks  `yaml:"hooks"`
	Events Events `yaml:"events"`
	Redis  Redis  `yaml:"redis"`
}

type Server struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

// Flow holds the engine limits. Zero values are replaced by the
// defaults below when the config is loaded.
type Flow struct {
	DefaultTTLMs           int `yaml:"default_flow_ttl_ms"`
	MaxProcessedRequestIDs int `yaml:"max_processed_request_ids"`
	ShardCount             int `yaml:"shard_count"`
	RateLimitWindowMs      int `yaml:"rate_limit_window_ms"`
	MaxRequestsPerWindow   int `yaml:"max_requests_per_window"`
	SessionTimeoutMs       int `yaml:"session_timeout_ms"`
	MaxVisitsPerNode       int `yaml:"max_visits_per_node"`
	MaxTotalNodes          int `yaml:"max_total_nodes"`
	MaxVisitedHistory      int `yaml:"max_visited_history"`
}

type Hooks struct {
	BeforeTimeoutMs int `yaml:"before_timeout_ms"`
	AfterTimeoutMs  int `yaml:"after_timeout_ms"`
	DefaultPriority int `yaml:"default_priority"`
}

type Events struct {
	DedupTTLMs int `yaml:"dedup_ttl_ms"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Default returns the configuration with every option at its documented default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file and fills unset options with defaults.
// A missing file is not an error; the defaults are used as-is.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Flow.DefaultTTLMs == 0 {
		c.Flow.DefaultTTLMs = 600_000
	}
	if c.Flow.MaxProcessedRequestIDs == 0 {
		c.Flow.MaxProcessedRequestIDs = 100
	}
	if c.Flow.ShardCount == 0 {
		c.Flow.ShardCount = 32
	}
	if c.Flow.RateLimitWindowMs == 0 {
		c.Flow.RateLimitWindowMs = 60_000
	}
	if c.Flow.MaxRequestsPerWindow == 0 {
		c.Flow.MaxRequestsPerWindow = 30
	}
	if c.Flow.SessionTimeoutMs == 0 {
		c.Flow.SessionTimeoutMs = 1_800_000
	}
	if c.Flow.MaxVisitsPerNode == 0 {
		c.Flow.MaxVisitsPerNode = 3
	}
	if c.Flow.MaxTotalNodes == 0 {
		c.Flow.MaxTotalNodes = 50
	}
	if c.Flow.MaxVisitedHistory == 0 {
		c.Flow.MaxVisitedHistory = 200
	}
	if c.Hooks.BeforeTimeoutMs == 0 {
		c.Hooks.BeforeTimeoutMs = 5_000
	}
	if c.Hooks.AfterTimeoutMs == 0 {
		c.Hooks.AfterTimeoutMs = 30_000
	}
	if c.Events.DedupTTLMs == 0 {
		c.Events.DedupTTLMs = 3_600_000
	}
}
