package mcp

import (
	"context"
	"encoding/json"
)

// ProtocolVersion is the MCP revision announced during initialize.
const ProtocolVersion = "2024-11-05"

// ServerInfo identifies the server in the initialize handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CapabilitiesTools is the tools capability marker.
type CapabilitiesTools struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// Capabilities lists the protocol features the server supports. Only tools
// are declared.
type Capabilities struct {
	Tools *CapabilitiesTools `json:"tools,omitempty"`
}

// InitializeResult is the result of the initialize method.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// Tool describes a callable tool. Handler is never serialized.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler executes a tool with already validated arguments and returns
// the text placed into the result content.
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (string, error)

// ToolResultContent represents the content returned by a tool.
type ToolResultContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolParams represents parameters for calling a tool.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult represents the result of calling a tool.
type CallToolResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// ListToolsResult represents the result of listing available tools.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// Resource is a placeholder; the server exposes none.
type Resource struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// ListResourcesResult is always empty.
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

// Prompt is a placeholder; the server exposes none.
type Prompt struct {
	Name string `json:"name"`
}

// ListPromptsResult is always empty.
type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
}

// PingResult acknowledges a liveness check.
type PingResult struct {
	Status string `json:"status"`
}
