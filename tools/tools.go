// Package tools defines the Confluence search tools exposed over MCP.
package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ivanarama/ConfluenceMCP/mcp"
	"github.com/ivanarama/ConfluenceMCP/observability"
)

const (
	SearchContentName  = "search_content"
	SearchByCQLName    = "search_by_cql"
	GetPageContentName = "get_page_content"
	ListSpacesName     = "list_spaces"

	defaultSearchLimit = 10
	defaultSpacesLimit = 50
)

var (
	defaultExpand = []string{"space", "version"}
	pageExpand    = []string{"space", "version", "body.view"}
)

// Upstream is the subset of the Confluence client the tools call.
type Upstream interface {
	Search(ctx context.Context, cql string, limit int, expand []string) (json.RawMessage, error)
	GetContent(ctx context.Context, id string, expand []string) (json.RawMessage, error)
	ListSpaces(ctx context.Context, limit int) (json.RawMessage, error)
}

type SearchContentParams struct {
	Query       string `json:"query"`
	SpaceKey    string `json:"space_key"`
	ContentType string `json:"content_type"`
	Limit       int    `json:"limit"`
}

func (p *SearchContentParams) SetDefaults() {
	p.ContentType = "page"
	p.Limit = defaultSearchLimit
}

type SearchByCQLParams struct {
	CQL    string   `json:"cql"`
	Limit  int      `json:"limit"`
	Expand []string `json:"expand"`
}

func (p *SearchByCQLParams) SetDefaults() {
	p.Limit = defaultSearchLimit
	p.Expand = append([]string(nil), defaultExpand...)
}

type GetPageContentParams struct {
	PageID string `json:"page_id"`
}

type ListSpacesParams struct {
	Limit int `json:"limit"`
}

func (p *ListSpacesParams) SetDefaults() {
	p.Limit = defaultSpacesLimit
}

var (
	searchContentSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Keywords to search for"},
    "space_key": {"type": "string", "description": "Space key filter (optional)"},
    "content_type": {"type": "string", "enum": ["page", "blogpost", "all"], "description": "Content type (default: page)"},
    "limit": {"type": "integer", "description": "Max results (default: 10)", "default": 10}
  },
  "required": ["query"],
  "additionalProperties": false
}`)

	searchByCQLSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "cql": {"type": "string", "description": "CQL query"},
    "limit": {"type": "integer", "description": "Max results (default: 10)", "default": 10},
    "expand": {"type": "array", "items": {"type": "string"}, "description": "Fields to expand", "default": ["space", "version"]}
  },
  "required": ["cql"],
  "additionalProperties": false
}`)

	getPageContentSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "page_id": {"type": "string", "description": "Confluence page ID"}
  },
  "required": ["page_id"],
  "additionalProperties": false
}`)

	listSpacesSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "limit": {"type": "integer", "description": "Max results (default: 50)", "default": 50}
  },
  "additionalProperties": false
}`)
)

// Tools binds the search tools to an upstream client.
type Tools struct {
	upstream Upstream
	logger   observability.Logger
}

// New creates the tool set. A nil logger discards output.
func New(upstream Upstream, logger observability.Logger) (*Tools, error) {
	if upstream == nil {
		return nil, errors.New("upstream client cannot be nil")
	}
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	return &Tools{upstream: upstream, logger: logger}, nil
}

// Descriptors returns the tools in the order tools/list reports them.
func (t *Tools) Descriptors() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(SearchContentName, "Search content in Confluence by keywords.", searchContentSchema, t.SearchContent),
		mcp.NewTool(SearchByCQLName, "Advanced search using CQL.", searchByCQLSchema, t.SearchByCQL),
		mcp.NewTool(GetPageContentName, "Get full content of a page by ID.", getPageContentSchema, t.GetPageContent),
		mcp.NewTool(ListSpacesName, "Get list of available spaces.", listSpacesSchema, t.ListSpaces),
	}
}

// NewRegistry builds the registry served by the dispatcher.
func NewRegistry(upstream Upstream, logger observability.Logger) (*mcp.ToolRegistry, error) {
	t, err := New(upstream, logger)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolRegistry(t.Descriptors()...)
}

func (t *Tools) SearchContent(ctx context.Context, p SearchContentParams) (string, error) {
	cql := BuildSearchCQL(p.Query, p.SpaceKey, p.ContentType)
	result, err := t.upstream.Search(ctx, cql, p.Limit, defaultExpand)
	return t.render(ctx, SearchContentName, result, err)
}

func (t *Tools) SearchByCQL(ctx context.Context, p SearchByCQLParams) (string, error) {
	if p.Expand == nil {
		p.Expand = defaultExpand
	}
	result, err := t.upstream.Search(ctx, p.CQL, p.Limit, p.Expand)
	return t.render(ctx, SearchByCQLName, result, err)
}

func (t *Tools) GetPageContent(ctx context.Context, p GetPageContentParams) (string, error) {
	result, err := t.upstream.GetContent(ctx, p.PageID, pageExpand)
	return t.render(ctx, GetPageContentName, result, err)
}

func (t *Tools) ListSpaces(ctx context.Context, p ListSpacesParams) (string, error) {
	result, err := t.upstream.ListSpaces(ctx, p.Limit)
	return t.render(ctx, ListSpacesName, result, err)
}

// render formats an upstream result for the agent. Upstream failures become
// an {"error": ...} payload in a successful result.
func (t *Tools) render(ctx context.Context, tool string, result json.RawMessage, err error) (string, error) {
	logger := t.logger.WithContext(ctx).WithFields(map[string]interface{}{"tool": tool})

	if err == nil {
		var text string
		if text, err = mcp.IndentVerbatim(result); err == nil {
			return text, nil
		}
	}

	logger.WithErr(err).Warn("Tool returned error payload")
	return mcp.MarshalIndentVerbatim(map[string]string{"error": err.Error()})
}
