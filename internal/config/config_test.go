package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krakenhashes/khctl/internal/secrets"
)

var testKey = strings.Repeat("9", 64)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadMissingDefaultFileIsFine(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := load("", noEnv)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.True(t, strings.HasSuffix(cfg.ConfigPath, filepath.Join("khctl", "config.yaml")))
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), noEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeTempFile(t, "config.yaml", `
base_url: https://kh.example.com
email: file@example.com
api_key: `+testKey+`
timeout: 5s
poll_interval: 2s
log_level: debug
metrics_listen: 127.0.0.1:9464
max_response_bytes: 1024
`, 0o600)

	cfg, err := load(path, envMap(map[string]string{
		EnvEmail:        "env@example.com",
		EnvPollInterval: "7",
		EnvLogLevel:     " ",
	}))
	require.NoError(t, err)
	assert.Equal(t, "https://kh.example.com", cfg.BaseURL)
	assert.Equal(t, "env@example.com", cfg.Email)
	assert.Equal(t, testKey, cfg.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 7*time.Second, cfg.PollInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, int64(1024), cfg.MaxResponseBytes)
	assert.Empty(t, cfg.Warnings)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://kh.example.com/api/v1", cfg.UserAPI().BaseURL)
}

func TestLoadRejectsWorldReadableKey(t *testing.T) {
	path := writeTempFile(t, "config.yaml", "api_key: "+testKey+"\n", 0o644)
	_, err := load(path, noEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be accessible by others")
}

func TestLoadWarnsOnGroupReadableKey(t *testing.T) {
	path := writeTempFile(t, "config.yaml", "api_key: "+testKey+"\n", 0o640)
	cfg, err := load(path, noEnv)
	require.NoError(t, err)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "group-readable")
}

func TestLoadBadValues(t *testing.T) {
	path := writeTempFile(t, "config.yaml", "timeout: soon\n", 0o600)
	_, err := load(path, noEnv)
	assert.ErrorContains(t, err, "timeout")

	path = writeTempFile(t, "config.yaml", "base_url: [\n", 0o600)
	_, err = load(path, noEnv)
	assert.ErrorContains(t, err, "parse config")

	_, err = load(filepath.Join(t.TempDir(), "absent.yaml"), envMap(map[string]string{EnvTimeout: "x"}))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.BaseURL = "http://localhost:31337"
	valid.Email = "a@b.c"
	valid.APIKey = testKey
	require.NoError(t, valid.Validate())

	tests := map[string]func(*Config){
		"base_url":       func(c *Config) { c.BaseURL = "kh.example.com" },
		"email":          func(c *Config) { c.Email = "" },
		"api_key":        func(c *Config) { c.APIKey = "short" },
		"timeout":        func(c *Config) { c.Timeout = 0 },
		"poll_interval":  func(c *Config) { c.PollInterval = -time.Second },
		"metrics_listen": func(c *Config) { c.MetricsListen = "0.0.0.0:9464" },
	}
	for field, mutate := range tests {
		t.Run(field, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), field)
		})
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "https://kh.example.com/api/v1", NormalizeBaseURL(" https://kh.example.com/ "))
	assert.Equal(t, "https://kh.example.com/api/v1", NormalizeBaseURL("https://kh.example.com/api/v1/"))
	assert.Equal(t, "http://10.0.0.5:31337/custom", NormalizeBaseURL("http://10.0.0.5:31337/custom"))
	assert.Equal(t, "", NormalizeBaseURL(""))
}

func TestResolveCredentialsFromKeyFile(t *testing.T) {
	keyFile := writeTempFile(t, "api.key", testKey+"\n", 0o600)
	cfg := Config{Email: "a@b.c", APIKeyFile: keyFile}
	require.NoError(t, cfg.ResolveCredentials())
	assert.Equal(t, testKey, cfg.APIKey)

	loose := writeTempFile(t, "api.key", testKey, 0o644)
	cfg = Config{APIKeyFile: loose}
	assert.Error(t, cfg.ResolveCredentials())
}

func TestResolveCredentialsFromAgeFile(t *testing.T) {
	dir := t.TempDir()
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	keyPath := filepath.Join(dir, "age.key")
	require.NoError(t, os.WriteFile(keyPath, []byte(identity.String()+"\n"), 0o600))
	credPath := filepath.Join(dir, "credentials.age")
	require.NoError(t, secrets.WriteEncrypted(credPath, secrets.Credentials{Email: "sealed@example.com", APIKey: testKey}, identity.Recipient()))

	cfg := Config{Email: "explicit@example.com", CredentialsFile: credPath, AgeKeyPath: keyPath}
	require.NoError(t, cfg.ResolveCredentials())
	assert.Equal(t, "explicit@example.com", cfg.Email)
	assert.Equal(t, testKey, cfg.APIKey)
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
	require.NoError(t, LoadDotEnv(""))

	t.Setenv(EnvEmail, "already@set")
	path := writeTempFile(t, ".env", "KH_EMAIL=dotenv@example.com\nKH_TEST_DOTENV_ONLY=yes\n", 0o600)
	t.Cleanup(func() { os.Unsetenv("KH_TEST_DOTENV_ONLY") })
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "already@set", os.Getenv(EnvEmail))
	assert.Equal(t, "yes", os.Getenv("KH_TEST_DOTENV_ONLY"))
}
