// Package confluencemcp wires the Confluence search tools into an MCP server
// reachable over HTTP with SSE framed responses.
package confluencemcp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/ivanarama/ConfluenceMCP/config"
	"github.com/ivanarama/ConfluenceMCP/confluence"
	"github.com/ivanarama/ConfluenceMCP/mcp"
	"github.com/ivanarama/ConfluenceMCP/observability"
	"github.com/ivanarama/ConfluenceMCP/tools"
)

const (
	ServerName    = "confluence-search"
	ServerVersion = "1.0.0"
)

// App owns every long-lived component. It is built once at startup and
// shared read-only by all requests.
type App struct {
	Config *config.Config
	Logger observability.Logger
	Client *confluence.Client
	Tools  *mcp.ToolRegistry
	Server *mcp.SSEServer
}

type appOptions struct {
	logger     observability.Logger
	logOutput  io.Writer
	httpClient *http.Client
}

// Option customizes App construction.
type Option func(*appOptions)

// WithLogger overrides the logger built from configuration.
func WithLogger(logger observability.Logger) Option {
	return func(o *appOptions) {
		o.logger = logger
	}
}

// WithLogOutput redirects the configured logger. Defaults to stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *appOptions) {
		o.logOutput = w
	}
}

// WithHTTPClient sets the client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *appOptions) {
		o.httpClient = c
	}
}

// New builds the application from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	o := &appOptions{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = observability.NewLogger(cfg.LogBackend, cfg.LogLevel, cfg.LogFormat, o.logOutput)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	clientOpts := []confluence.ClientOption{
		confluence.WithLogger(logger),
		confluence.WithRateLimit(cfg.RateLimit),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, confluence.WithHTTPClient(o.httpClient))
	}
	clientOpts = append(clientOpts, confluence.WithTimeout(cfg.Timeout))

	method, err := cfg.Auth()
	if err != nil {
		return nil, err
	}
	switch method {
	case config.AuthBearer:
		clientOpts = append(clientOpts, confluence.WithBearerToken(cfg.PATToken))
	case config.AuthBasic:
		clientOpts = append(clientOpts, confluence.WithBasicAuth(cfg.Username, cfg.APIToken))
	}

	client, err := confluence.NewClient(cfg.BaseURL, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create confluence client: %w", err)
	}

	registry, err := tools.NewRegistry(client, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	base, err := mcp.NewBaseServer(
		mcp.UseLogger(logger),
		mcp.UseServerInfo(ServerName, ServerVersion),
		mcp.UseToolRegistry(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	server := mcp.NewSSEServer(base,
		mcp.WithAddress(cfg.Addr()),
		mcp.WithMaxRequestBytes(cfg.MaxRequestBytes),
	)

	logger.WithFields(map[string]interface{}{
		"base_url": cfg.BaseURL,
		"auth":     string(method),
		"tools":    len(registry.List()),
	}).Info("Confluence MCP server configured")

	return &App{
		Config: cfg,
		Logger: logger,
		Client: client,
		Tools:  registry,
		Server: server,
	}, nil
}

// Handler exposes the HTTP surface, for embedding or tests.
func (a *App) Handler() http.Handler {
	return a.Server.Handler()
}

// Run serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.Server.Run(ctx)
}
