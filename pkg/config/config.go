package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	defaultConfigFileName  = "proxydesk.toml"
	defaultSessionFileName = "session.json"

	envPrefix = "PROXYDESK_"

	DefaultPageSize             = 10
	DefaultPollIntervalMS       = 2000
	DefaultSearchDebounceMS     = 300
	DefaultRequestTimeoutSecond = 15
	DefaultMaxRetries           = 2
	DefaultReconcileConcurrency = 4
)

type Config struct {
	ServerURL            string `toml:"server_url" env:"SERVER_URL"`
	SessionPath          string `toml:"session_path,omitempty" env:"SESSION_PATH"`
	ListenAddr           string `toml:"listen_addr" env:"LISTEN_ADDR"`
	PageSize             int    `toml:"page_size,omitempty" env:"PAGE_SIZE"`
	PollIntervalMS       int    `toml:"poll_interval_ms,omitempty" env:"POLL_INTERVAL_MS"`
	SearchDebounceMS     int    `toml:"search_debounce_ms,omitempty" env:"SEARCH_DEBOUNCE_MS"`
	RequestTimeoutSecond int    `toml:"request_timeout_seconds,omitempty" env:"REQUEST_TIMEOUT_SECONDS"`
	MaxRetries           int    `toml:"max_retries" env:"MAX_RETRIES"`
	ReconcileConcurrency int    `toml:"reconcile_concurrency,omitempty" env:"RECONCILE_CONCURRENCY"`
	LogLevel             string `toml:"log_level,omitempty" env:"LOG_LEVEL"`
	LogFormat            string `toml:"log_format,omitempty" env:"LOG_FORMAT"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFileName
	}
	return filepath.Join(home, ".config", "proxydesk", defaultConfigFileName)
}

func DefaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultSessionFileName
	}
	return filepath.Join(home, ".config", "proxydesk", defaultSessionFileName)
}

func NewDefaultConfig() *Config {
	return &Config{
		ServerURL:            "http://127.0.0.1:8317",
		SessionPath:          DefaultSessionPath(),
		ListenAddr:           "127.0.0.1:8090",
		PageSize:             DefaultPageSize,
		PollIntervalMS:       DefaultPollIntervalMS,
		SearchDebounceMS:     DefaultSearchDebounceMS,
		RequestTimeoutSecond: DefaultRequestTimeoutSecond,
		MaxRetries:           DefaultMaxRetries,
		ReconcileConcurrency: DefaultReconcileConcurrency,
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	return finish(cfg)
}

func LoadOrCreate(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	_, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := writeAtomic(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat config: %w", err)
	default:
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	}
	return finish(cfg)
}

// LoadOrDefault is Load that falls back to defaults when the file is missing.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return finish(NewDefaultConfig())
}

func finish(cfg *Config) (*Config, error) {
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment when present.
// Variables already set are left alone.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// ApplyEnv overlays PROXYDESK_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return writeAtomic(path, cfg)
}

func writeAtomic(path string, v any) error {
	b, err := marshalTOML(v)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func marshalTOML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentSymbol("  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out, nil
}

func (c *Config) Normalize() {
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	if c.ServerURL == "" {
		c.ServerURL = "http://127.0.0.1:8317"
	}
	c.SessionPath = strings.TrimSpace(c.SessionPath)
	if c.SessionPath == "" {
		c.SessionPath = DefaultSessionPath()
	}
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8090"
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PollIntervalMS <= 0 {
		c.PollIntervalMS = DefaultPollIntervalMS
	}
	if c.SearchDebounceMS <= 0 {
		c.SearchDebounceMS = DefaultSearchDebounceMS
	}
	if c.RequestTimeoutSecond <= 0 {
		c.RequestTimeoutSecond = DefaultRequestTimeoutSecond
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.ReconcileConcurrency <= 0 {
		c.ReconcileConcurrency = DefaultReconcileConcurrency
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server_url %q must be an absolute http(s) url", c.ServerURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server_url scheme must be http or https, got %q", u.Scheme)
	}
	if c.PageSize > 200 {
		return errors.New("page_size must be <= 200")
	}
	if c.PollIntervalMS < 100 {
		return errors.New("poll_interval_ms must be >= 100")
	}
	if c.MaxRetries > 10 {
		return errors.New("max_retries must be <= 10")
	}
	if c.ReconcileConcurrency > 64 {
		return errors.New("reconcile_concurrency must be <= 64")
	}
	switch c.LogFormat {
	case "text", "json", "logfmt":
	default:
		return errors.New("log_format must be one of text, json, logfmt")
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *Config) SearchDebounce() time.Duration {
	return time.Duration(c.SearchDebounceMS) * time.Millisecond
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecond) * time.Second
}

// Store guards a Config shared between the CLI and the console server.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

func NewStore(path string, cfg *Config) *Store {
	return &Store{path: path, cfg: cfg}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cfg
}

func (s *Store) Update(mutator func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.cfg
	if err := mutator(&cp); err != nil {
		return err
	}
	cp.Normalize()
	if err := cp.Validate(); err != nil {
		return err
	}
	if err := Save(s.path, &cp); err != nil {
		return err
	}
	s.cfg = &cp
	return nil
}
