// Package config loads process settings from flags, the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// DotEnvFile is read before flags are parsed. Variables already present in
// the environment win.
const DotEnvFile = ".env"

// AuthMethod selects how the upstream client authenticates.
type AuthMethod string

const (
	AuthBearer AuthMethod = "bearer"
	AuthBasic  AuthMethod = "basic"
)

// Config holds every process setting. Each field is both a flag and an
// environment variable.
type Config struct {
	BaseURL   string        `long:"confluence-base-url" env:"CONFLUENCE_BASE_URL" description:"Confluence base URL"`
	PATToken  string        `long:"confluence-pat-token" env:"CONFLUENCE_PAT_TOKEN" description:"personal access token (bearer auth)"`
	Username  string        `long:"confluence-username" env:"CONFLUENCE_USERNAME" description:"username (basic auth)"`
	APIToken  string        `long:"confluence-api-token" env:"CONFLUENCE_API_TOKEN" description:"API token (basic auth)"`
	Timeout   time.Duration `long:"confluence-timeout" env:"CONFLUENCE_TIMEOUT" default:"30s" description:"upstream request timeout"`
	RateLimit float64       `long:"confluence-rate-limit" env:"CONFLUENCE_RATE_LIMIT" default:"0" description:"max upstream requests per second, 0 disables"`

	Host            string `long:"host" env:"MCP_HOST" default:"0.0.0.0" description:"bind host"`
	Port            int    `long:"port" env:"MCP_PORT" default:"8003" description:"bind port"`
	MaxRequestBytes int64  `long:"max-request-bytes" env:"MCP_MAX_REQUEST_BYTES" default:"1048576" description:"largest accepted request body"`

	LogLevel   string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"log level"`
	LogFormat  string `long:"log-format" env:"LOG_FORMAT" default:"text" description:"log format" choice:"text" choice:"json"`
	LogBackend string `long:"log-backend" env:"LOG_BACKEND" default:"logrus" description:"logging backend" choice:"logrus" choice:"zap" choice:"slog" choice:"std"`
}

// Load reads DotEnvFile when present, then parses args over the
// environment, and validates the result.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", DotEnvFile, err)
	}
	return Parse(args)
}

// Parse builds a Config from args and the current environment.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first missing or malformed setting.
func (c *Config) Validate() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		return errors.New("CONFLUENCE_BASE_URL is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("CONFLUENCE_BASE_URL %q is not an http(s) URL", c.BaseURL)
	}

	if _, err := c.Auth(); err != nil {
		return err
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("MCP_PORT %d is out of range", c.Port)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("CONFLUENCE_TIMEOUT must be positive, got %s", c.Timeout)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("CONFLUENCE_RATE_LIMIT must not be negative, got %g", c.RateLimit)
	}
	if c.MaxRequestBytes <= 0 {
		return fmt.Errorf("MCP_MAX_REQUEST_BYTES must be positive, got %d", c.MaxRequestBytes)
	}
	return nil
}

// Auth picks the credential variant. A PAT takes precedence over a
// username and API token pair.
func (c *Config) Auth() (AuthMethod, error) {
	switch {
	case c.PATToken != "":
		return AuthBearer, nil
	case c.Username != "" && c.APIToken != "":
		return AuthBasic, nil
	case c.Username != "" || c.APIToken != "":
		return "", errors.New("CONFLUENCE_USERNAME and CONFLUENCE_API_TOKEN must be set together")
	default:
		return "", errors.New("CONFLUENCE_PAT_TOKEN or CONFLUENCE_USERNAME and CONFLUENCE_API_TOKEN are required")
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
