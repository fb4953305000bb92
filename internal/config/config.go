package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/kbclient/internal/pipeline"
	"github.com/danmuck/kbclient/internal/protocol/frame"
	"github.com/danmuck/kbclient/internal/protocol/session"
)

// SelectionConfig is one [[select]] entry.
type SelectionConfig struct {
	Category string
	Source   string
	Property string
}

// RedisConfig configures the optional train-summary sink.
type RedisConfig struct {
	Enabled bool
	URL     string
	Stream  string
	MaxLen  int64
	CAFile  string
}

// ClientConfig is the resolved runtime configuration of kbclient.
type ClientConfig struct {
	Endpoint    string
	Session     session.Config
	Limits      frame.Limits
	Pipeline    pipeline.Config
	CatalogPath string
	StatusAddr  string
	StatusToken string
	CorsOrigins []string
	Selections  []SelectionConfig
	Redis       RedisConfig
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Endpoint:   "tcp://localhost:4545",
		Session:    session.DefaultConfig(),
		Limits:     frame.DefaultLimits(),
		Pipeline:   pipeline.DefaultConfig(),
		StatusAddr: "127.0.0.1:9400",
		Redis: RedisConfig{
			URL:    "redis://localhost:6379/0",
			Stream: "kbclient:trains",
			MaxLen: 10000,
		},
	}
}

type fileSelection struct {
	Category string `toml:"category"`
	Source   string `toml:"source"`
	Property string `toml:"property"`
}

type fileSecurity struct {
	Mechanism string `toml:"mechanism"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

type fileRedis struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Stream  string `toml:"stream"`
	MaxLen  int64  `toml:"max_len"`
	CAFile  string `toml:"ca_file"`
}

type fileConfig struct {
	Endpoint         string          `toml:"endpoint"`
	Timeout          string          `toml:"timeout"`
	QueueCapacity    int             `toml:"queue_capacity"`
	StatsInterval    int             `toml:"stats_interval"`
	MaxFrames        int             `toml:"max_frames"`
	MaxFrameBytes    uint64          `toml:"max_frame_bytes"`
	ReconnectInitial string          `toml:"reconnect_initial"`
	ReconnectMax     string          `toml:"reconnect_max"`
	DialMaxRetries   int             `toml:"dial_max_retries"`
	Catalog          string          `toml:"catalog"`
	StatusAddr       string          `toml:"status_addr"`
	StatusToken      string          `toml:"status_token"`
	CorsOrigins      []string        `toml:"cors_origins"`
	Security         fileSecurity    `toml:"security"`
	Select           []fileSelection `toml:"select"`
	Redis            fileRedis       `toml:"redis"`
}

// LoadClientConfig overlays the keys present in path onto the defaults.
func LoadClientConfig(path string) (ClientConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ClientConfig{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
	}
	cfg, err := applyFile(DefaultClientConfig(), raw, meta)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func applyFile(cfg ClientConfig, raw fileConfig, meta toml.MetaData) (ClientConfig, error) {
	if meta.IsDefined("endpoint") {
		cfg.Endpoint = strings.TrimSpace(raw.Endpoint)
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return cfg, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Session.ReceiveTimeout = d
		cfg.Pipeline.Timeout = d
	}
	if meta.IsDefined("queue_capacity") {
		cfg.Pipeline.QueueCapacity = raw.QueueCapacity
	}
	if meta.IsDefined("stats_interval") {
		cfg.Pipeline.StatsInterval = raw.StatsInterval
	}
	if meta.IsDefined("max_frames") {
		cfg.Limits.MaxFrames = raw.MaxFrames
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.Limits.MaxFrameBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("reconnect_initial") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReconnectInitial))
		if err != nil {
			return cfg, fmt.Errorf("parse reconnect_initial: %w", err)
		}
		cfg.Session.Backoff.InitialDelay = d
	}
	if meta.IsDefined("reconnect_max") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReconnectMax))
		if err != nil {
			return cfg, fmt.Errorf("parse reconnect_max: %w", err)
		}
		cfg.Session.Backoff.MaxDelay = d
	}
	if meta.IsDefined("dial_max_retries") {
		cfg.Session.DialMaxRetries = raw.DialMaxRetries
	}
	if meta.IsDefined("catalog") {
		cfg.CatalogPath = strings.TrimSpace(raw.Catalog)
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("status_token") {
		cfg.StatusToken = strings.TrimSpace(raw.StatusToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("security", "mechanism") {
		cfg.Session.Security.Mechanism = session.NormalizeSecurityMechanism(session.SecurityMechanism(raw.Security.Mechanism))
	}
	if meta.IsDefined("security", "username") {
		cfg.Session.Security.Username = strings.TrimSpace(raw.Security.Username)
	}
	if meta.IsDefined("security", "password") {
		cfg.Session.Security.Password = raw.Security.Password
	}
	for _, sel := range raw.Select {
		cfg.Selections = append(cfg.Selections, SelectionConfig{
			Category: strings.TrimSpace(sel.Category),
			Source:   strings.TrimSpace(sel.Source),
			Property: strings.TrimSpace(sel.Property),
		})
	}
	if meta.IsDefined("redis", "enabled") {
		cfg.Redis.Enabled = raw.Redis.Enabled
	}
	if meta.IsDefined("redis", "url") {
		cfg.Redis.URL = strings.TrimSpace(raw.Redis.URL)
	}
	if meta.IsDefined("redis", "stream") {
		cfg.Redis.Stream = strings.TrimSpace(raw.Redis.Stream)
	}
	if meta.IsDefined("redis", "max_len") {
		cfg.Redis.MaxLen = raw.Redis.MaxLen
	}
	if meta.IsDefined("redis", "ca_file") {
		cfg.Redis.CAFile = strings.TrimSpace(raw.Redis.CAFile)
	}
	return cfg, nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if _, err := session.ParseEndpoint(cfg.Endpoint); err != nil {
		return fmt.Errorf("client config endpoint invalid: %w", err)
	}
	if err := cfg.Session.ValidateSecurity(); err != nil {
		return fmt.Errorf("client config security invalid: %w", err)
	}
	if cfg.Pipeline.Timeout < 0 {
		return fmt.Errorf("client config timeout must not be negative")
	}
	if cfg.Pipeline.QueueCapacity < 1 {
		return fmt.Errorf("client config queue_capacity must be at least 1")
	}
	if cfg.Pipeline.StatsInterval < 1 {
		return fmt.Errorf("client config stats_interval must be at least 1")
	}
	if cfg.Limits.MaxFrames < 0 {
		return fmt.Errorf("client config max_frames must not be negative")
	}
	for i, sel := range cfg.Selections {
		if sel.Category == "" || sel.Source == "" || sel.Property == "" {
			return fmt.Errorf("select[%d] requires category, source and property", i)
		}
	}
	if cfg.Redis.Enabled {
		if cfg.Redis.URL == "" {
			return fmt.Errorf("redis config missing url")
		}
		if cfg.Redis.Stream == "" {
			return fmt.Errorf("redis config missing stream")
		}
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
