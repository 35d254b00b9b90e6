package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/krakenhashes/khctl/internal/secrets"
	"github.com/krakenhashes/khctl/internal/userapi"
)

const (
	appDir         = "khctl"
	configFileName = "config.yaml"

	EnvBaseURL         = "KH_BASE_URL"
	EnvEmail           = "KH_EMAIL"
	EnvAPIKey          = "KH_API_KEY"
	EnvAPIKeyFile      = "KH_API_KEY_FILE"
	EnvCredentialsFile = "KH_CREDENTIALS_FILE"
	EnvAgeKeyPath      = "KH_AGE_KEY"
	EnvTimeout         = "KH_TIMEOUT"
	EnvPollInterval    = "KH_POLL_INTERVAL"
	EnvLogLevel        = "KH_LOG_LEVEL"
	EnvLogFormat       = "KH_LOG_FORMAT"
)

// Config holds everything khctl needs to reach the User API.
type Config struct {
	ConfigPath       string
	BaseURL          string
	Email            string
	APIKey           string
	APIKeyFile       string
	CredentialsFile  string
	AgeKeyPath       string
	Timeout          time.Duration
	PollInterval     time.Duration
	LogLevel         string
	LogFormat        string
	MetricsListen    string
	UserAgent        string
	MaxResponseBytes int64

	// Warnings collects non-fatal findings such as loose file permissions.
	Warnings []string
}

// FileConfig represents supported YAML config overrides.
type FileConfig struct {
	BaseURL          string `yaml:"base_url"`
	Email            string `yaml:"email"`
	APIKey           string `yaml:"api_key"`
	APIKeyFile       string `yaml:"api_key_file"`
	CredentialsFile  string `yaml:"credentials_file"`
	AgeKeyPath       string `yaml:"age_key_path"`
	Timeout          string `yaml:"timeout"`
	PollInterval     string `yaml:"poll_interval"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`
	MetricsListen    string `yaml:"metrics_listen"`
	UserAgent        string `yaml:"user_agent"`
	MaxResponseBytes int64  `yaml:"max_response_bytes"`
}

func DefaultConfig() Config {
	return Config{
		ConfigPath:       DefaultPath(),
		Timeout:          30 * time.Second,
		PollInterval:     10 * time.Second,
		LogLevel:         "info",
		LogFormat:        "console",
		MaxResponseBytes: 32 << 20,
	}
}

// DefaultPath is $XDG_CONFIG_HOME/khctl/config.yaml, or "" when no config
// directory can be determined.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, appDir, configFileName)
}

// LoadDotEnv reads a .env file into the process environment without
// overriding variables that are already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from defaults, the YAML file and the environment, in
// that order. An explicitly named file must exist; the default one may not.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	explicit := strings.TrimSpace(path) != ""
	if explicit {
		cfg.ConfigPath = path
	}
	if cfg.ConfigPath != "" {
		data, err := os.ReadFile(cfg.ConfigPath)
		switch {
		case err == nil:
			var fileCfg FileConfig
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", cfg.ConfigPath, err)
			}
			if err := applyFileConfig(&cfg, fileCfg); err != nil {
				return cfg, fmt.Errorf("config %s: %w", cfg.ConfigPath, err)
			}
			if fileCfg.APIKey != "" {
				warn, err := CheckFilePermissions("config", cfg.ConfigPath)
				if err != nil {
					return cfg, err
				}
				cfg.addWarning(warn)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return cfg, fmt.Errorf("read config %s: %w", cfg.ConfigPath, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFileConfig(cfg *Config, fileCfg FileConfig) error {
	if fileCfg.BaseURL != "" {
		cfg.BaseURL = fileCfg.BaseURL
	}
	if fileCfg.Email != "" {
		cfg.Email = fileCfg.Email
	}
	if fileCfg.APIKey != "" {
		cfg.APIKey = fileCfg.APIKey
	}
	if fileCfg.APIKeyFile != "" {
		cfg.APIKeyFile = expandHome(fileCfg.APIKeyFile)
	}
	if fileCfg.CredentialsFile != "" {
		cfg.CredentialsFile = expandHome(fileCfg.CredentialsFile)
	}
	if fileCfg.AgeKeyPath != "" {
		cfg.AgeKeyPath = expandHome(fileCfg.AgeKeyPath)
	}
	if fileCfg.Timeout != "" {
		d, err := time.ParseDuration(fileCfg.Timeout)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if fileCfg.PollInterval != "" {
		d, err := time.ParseDuration(fileCfg.PollInterval)
		if err != nil {
			return fmt.Errorf("poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if fileCfg.LogLevel != "" {
		cfg.LogLevel = fileCfg.LogLevel
	}
	if fileCfg.LogFormat != "" {
		cfg.LogFormat = fileCfg.LogFormat
	}
	if fileCfg.MetricsListen != "" {
		cfg.MetricsListen = fileCfg.MetricsListen
	}
	if fileCfg.UserAgent != "" {
		cfg.UserAgent = fileCfg.UserAgent
	}
	if fileCfg.MaxResponseBytes > 0 {
		cfg.MaxResponseBytes = fileCfg.MaxResponseBytes
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get(EnvBaseURL); ok {
		cfg.BaseURL = v
	}
	if v, ok := get(EnvEmail); ok {
		cfg.Email = v
	}
	if v, ok := get(EnvAPIKey); ok {
		cfg.APIKey = v
	}
	if v, ok := get(EnvAPIKeyFile); ok {
		cfg.APIKeyFile = v
	}
	if v, ok := get(EnvCredentialsFile); ok {
		cfg.CredentialsFile = v
	}
	if v, ok := get(EnvAgeKeyPath); ok {
		cfg.AgeKeyPath = v
	}
	if v, ok := get(EnvTimeout); ok {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		cfg.Timeout = d
	}
	if v, ok := get(EnvPollInterval); ok {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPollInterval, err)
		}
		cfg.PollInterval = d
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.LogLevel = v
	}
	if v, ok := get(EnvLogFormat); ok {
		cfg.LogFormat = v
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// ResolveCredentials fills Email and APIKey from the API key file and the
// encrypted credentials file. Values already set win.
func (c *Config) ResolveCredentials() error {
	if c.APIKey == "" && c.APIKeyFile != "" {
		warn, err := CheckFilePermissions("api key file", c.APIKeyFile)
		if err != nil {
			return err
		}
		c.addWarning(warn)
		data, err := os.ReadFile(c.APIKeyFile)
		if err != nil {
			return fmt.Errorf("read api key file %s: %w", c.APIKeyFile, err)
		}
		c.APIKey = strings.TrimSpace(string(data))
	}
	if (c.Email == "" || c.APIKey == "") && c.CredentialsFile != "" {
		store := secrets.Store{AgeKeyPath: c.AgeKeyPath}
		creds, err := store.Load(c.CredentialsFile)
		if err != nil {
			return err
		}
		if c.Email == "" {
			c.Email = creds.Email
		}
		if c.APIKey == "" {
			c.APIKey = creds.APIKey
		}
	}
	return nil
}

// Validate performs basic validation without exposing secrets.
func (c Config) Validate() error {
	if err := c.UserAPI().Validate(); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.MaxResponseBytes <= 0 {
		return fmt.Errorf("max_response_bytes must be positive")
	}
	if strings.TrimSpace(c.MetricsListen) != "" {
		host, _, err := net.SplitHostPort(c.MetricsListen)
		if err != nil {
			return fmt.Errorf("metrics_listen must be host:port: %w", err)
		}
		if !isLoopbackHost(host) {
			return fmt.Errorf("metrics_listen must be localhost-only (got %q)", host)
		}
	}
	return nil
}

// UserAPI derives the immutable client configuration.
func (c Config) UserAPI() userapi.Config {
	return userapi.Config{
		BaseURL: NormalizeBaseURL(c.BaseURL),
		Email:   strings.TrimSpace(c.Email),
		APIKey:  strings.TrimSpace(c.APIKey),
	}
}

// NormalizeBaseURL appends /api/v1 to a bare host URL and drops trailing
// slashes. Other paths are kept as given.
func NormalizeBaseURL(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}
	if parsed.Path == "" {
		parsed.Path = "/api/v1"
	}
	return parsed.String()
}

func (c *Config) addWarning(warn string) {
	if warn != "" {
		c.Warnings = append(c.Warnings, warn)
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
