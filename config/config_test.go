package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allVars = []string{
	"CONFLUENCE_BASE_URL", "CONFLUENCE_PAT_TOKEN", "CONFLUENCE_USERNAME", "CONFLUENCE_API_TOKEN",
	"CONFLUENCE_TIMEOUT", "CONFLUENCE_RATE_LIMIT", "MCP_HOST", "MCP_PORT", "MCP_MAX_REQUEST_BYTES",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_BACKEND",
}

// clearEnv blanks every setting for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range allVars {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFLUENCE_BASE_URL", "https://wiki.example.com/")
	t.Setenv("CONFLUENCE_PAT_TOKEN", "pat")

	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "https://wiki.example.com", cfg.BaseURL)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8003, cfg.Port)
	assert.Equal(t, "0.0.0.0:8003", cfg.Addr())
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, float64(0), cfg.RateLimit)
	assert.Equal(t, int64(1<<20), cfg.MaxRequestBytes)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "logrus", cfg.LogBackend)

	method, err := cfg.Auth()
	require.NoError(t, err)
	assert.Equal(t, AuthBearer, method)
}

func TestParse_FlagsOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFLUENCE_BASE_URL", "https://wiki.example.com")
	t.Setenv("CONFLUENCE_USERNAME", "alice")
	t.Setenv("CONFLUENCE_API_TOKEN", "token")
	t.Setenv("MCP_PORT", "9000")

	cfg, err := Parse([]string{"--port", "9100", "--host", "127.0.0.1", "--log-backend", "zap", "--confluence-timeout", "5s"})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Addr())
	assert.Equal(t, "zap", cfg.LogBackend)
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	method, err := cfg.Auth()
	require.NoError(t, err)
	assert.Equal(t, AuthBasic, method)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		args    []string
		wantErr string
	}{
		{
			name:    "missing base URL",
			env:     map[string]string{"CONFLUENCE_PAT_TOKEN": "pat"},
			wantErr: "CONFLUENCE_BASE_URL is required",
		},
		{
			name:    "base URL without scheme",
			env:     map[string]string{"CONFLUENCE_BASE_URL": "wiki.example.com", "CONFLUENCE_PAT_TOKEN": "pat"},
			wantErr: "not an http(s) URL",
		},
		{
			name:    "no credentials",
			env:     map[string]string{"CONFLUENCE_BASE_URL": "https://wiki.example.com"},
			wantErr: "CONFLUENCE_PAT_TOKEN or CONFLUENCE_USERNAME",
		},
		{
			name:    "half a basic pair",
			env:     map[string]string{"CONFLUENCE_BASE_URL": "https://wiki.example.com", "CONFLUENCE_USERNAME": "alice"},
			wantErr: "must be set together",
		},
		{
			name:    "port out of range",
			env:     map[string]string{"CONFLUENCE_BASE_URL": "https://wiki.example.com", "CONFLUENCE_PAT_TOKEN": "pat", "MCP_PORT": "70000"},
			wantErr: "out of range",
		},
		{
			name:    "unknown log backend",
			env:     map[string]string{"CONFLUENCE_BASE_URL": "https://wiki.example.com", "CONFLUENCE_PAT_TOKEN": "pat"},
			args:    []string{"--log-backend", "syslog"},
			wantErr: "syslog",
		},
		{
			name:    "negative rate limit",
			env:     map[string]string{"CONFLUENCE_BASE_URL": "https://wiki.example.com", "CONFLUENCE_PAT_TOKEN": "pat", "CONFLUENCE_RATE_LIMIT": "-1"},
			wantErr: "CONFLUENCE_RATE_LIMIT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Parse(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, DotEnvFile),
		[]byte("CONFLUENCE_BASE_URL=https://dotenv.example.com\nCONFLUENCE_PAT_TOKEN=dotenv\nMCP_PORT=8100\n"), 0o600))
	t.Setenv("MCP_PORT", "8200")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "https://dotenv.example.com", cfg.BaseURL)
	assert.Equal(t, "dotenv", cfg.PATToken)
	assert.Equal(t, 8200, cfg.Port)
}

func TestLoad_MissingDotEnvIsFine(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFLUENCE_BASE_URL", "https://wiki.example.com")
	t.Setenv("CONFLUENCE_PAT_TOKEN", "pat")

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	_, err = Load(nil)
	assert.NoError(t, err)
}
