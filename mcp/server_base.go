package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ivanarama/ConfluenceMCP/observability"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultServerName    = "confluence-search"
	defaultServerVersion = "1.0.0"

	notificationPrefix = "notifications/"
)

// ServerConfig holds all configuration for BaseServer
type ServerConfig struct {
	logger          observability.Logger
	protocolVersion string
	serverName      string
	serverVersion   string
	tools           *ToolRegistry
}

// ServerConfigOption is a function that modifies ServerConfig
type ServerConfigOption func(*ServerConfig)

// UseLogger sets a custom logger
func UseLogger(logger observability.Logger) ServerConfigOption {
	return func(c *ServerConfig) {
		c.logger = logger
	}
}

// UseServerInfo sets server name and version
func UseServerInfo(name, version string) ServerConfigOption {
	return func(c *ServerConfig) {
		c.serverName = name
		c.serverVersion = version
	}
}

// UseToolRegistry sets the registry consulted by tools/list and tools/call.
func UseToolRegistry(tools *ToolRegistry) ServerConfigOption {
	return func(c *ServerConfig) {
		c.tools = tools
	}
}

func defaultConfig() *ServerConfig {
	tools, _ := NewToolRegistry()
	return &ServerConfig{
		logger:          observability.NewDefaultLogger(),
		protocolVersion: ProtocolVersion,
		serverName:      defaultServerName,
		serverVersion:   defaultServerVersion,
		tools:           tools,
	}
}

type methodHandler func(ctx context.Context, request *Request) (interface{}, *Error)

// BaseServer is the method dispatcher. It keeps no state between requests;
// the tool registry it reads is immutable after startup.
type BaseServer struct {
	protocolVersion string
	logger          observability.Logger
	ServerInfo      ServerInfo
	tools           *ToolRegistry
	methods         map[string]methodHandler
}

// NewBaseServer creates a new BaseServer instance with the given options
func NewBaseServer(opts ...ServerConfigOption) (*BaseServer, error) {
	cfg := defaultConfig()

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.tools == nil {
		return nil, errors.New("tool registry cannot be nil")
	}

	s := &BaseServer{
		protocolVersion: cfg.protocolVersion,
		logger:          cfg.logger,
		ServerInfo: ServerInfo{
			Name:    cfg.serverName,
			Version: cfg.serverVersion,
		},
		tools: cfg.tools,
	}

	s.methods = map[string]methodHandler{
		"initialize":     s.handleInitialize,
		"tools/list":     s.handleToolsList,
		"tools/call":     s.handleToolsCall,
		"resources/list": s.handleResourcesList,
		"prompts/list":   s.handlePromptsList,
		"ping":           s.handlePing,
	}

	return s, nil
}

// HandleMessage decodes body, dispatches it and returns the single frame
// to write back.
func (s *BaseServer) HandleMessage(ctx context.Context, body []byte) Frame {
	ctx, span := observability.StartSpan(ctx, "BaseServer.HandleMessage")
	defer span.End()

	request, id, rpcErr := DecodeRequest(body)
	if rpcErr != nil {
		s.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"code":           rpcErr.Code,
			"message_length": len(body),
		}).Warn("Rejected undecodable message")

		observability.RecordError(span, rpcErr)
		return s.encode(NewErrorResponse(id, rpcErr))
	}

	span.SetAttributes(attribute.String("rpc.method", request.Method))

	response := s.Dispatch(ctx, request)
	if response == nil {
		return HeartbeatFrame()
	}
	if response.Error != nil {
		observability.RecordError(span, response.Error)
	}
	return s.encode(response)
}

// Dispatch routes a decoded request. It returns nil only for a true
// notification, which gets no JSON body.
func (s *BaseServer) Dispatch(ctx context.Context, request *Request) (response *Response) {
	logger := s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"method": request.Method,
		"id":     idString(request.ID),
	})

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{"panic": r}).Error("Recovered panic while dispatching request")
			response = NewErrorResponse(request.ID, NewInternalError("Internal error: %v", r))
		}
	}()

	logger.Debug("Received request")

	if strings.HasPrefix(request.Method, notificationPrefix) {
		s.handleNotification(ctx, request)
		if request.IsNotification() {
			return nil
		}
		return NewResponse(request.ID, struct{}{})
	}

	handler, ok := s.methods[request.Method]
	if !ok {
		logger.Warn("Method not found")
		return NewErrorResponse(request.ID, NewMethodNotFoundError("Method not found: %s", request.Method))
	}

	result, rpcErr := handler(ctx, request)
	if rpcErr != nil {
		logger.WithFields(map[string]interface{}{
			"code": rpcErr.Code,
		}).Warn(rpcErr.Message)
		return NewErrorResponse(request.ID, rpcErr)
	}
	return NewResponse(request.ID, result)
}

func (s *BaseServer) encode(response *Response) Frame {
	frame, err := EncodeResponse(response)
	if err == nil {
		return frame
	}

	s.logger.WithErr(err).Error("Error marshalling response")
	frame, _ = EncodeResponse(NewErrorResponse(response.ID,
		NewInternalError("Internal error: failed to marshal response")))
	return frame
}

func (s *BaseServer) handleInitialize(ctx context.Context, request *Request) (interface{}, *Error) {
	var params struct {
		ProtocolVersion string     `json:"protocolVersion"`
		ClientInfo      ServerInfo `json:"clientInfo"`
	}
	if len(request.Params) > 0 && json.Unmarshal(request.Params, &params) == nil {
		s.logger.WithFields(map[string]interface{}{
			"client":          params.ClientInfo.Name,
			"client_version":  params.ClientInfo.Version,
			"client_protocol": params.ProtocolVersion,
		}).Info("Client initializing")
	}

	return InitializeResult{
		ProtocolVersion: s.protocolVersion,
		ServerInfo:      s.ServerInfo,
		Capabilities: Capabilities{
			Tools: &CapabilitiesTools{},
		},
	}, nil
}

func (s *BaseServer) handleToolsList(ctx context.Context, request *Request) (interface{}, *Error) {
	return ListToolsResult{Tools: s.tools.List()}, nil
}

func (s *BaseServer) handleToolsCall(ctx context.Context, request *Request) (interface{}, *Error) {
	ctx, span := observability.StartSpan(ctx, "BaseServer.handleToolsCall")
	defer span.End()

	params, err := decodeCallToolParams(request.Params)
	if err != nil {
		observability.RecordError(span, err)
		return nil, NewInternalError("Internal error: %s", err.Error())
	}
	span.SetAttributes(attribute.String("tool", params.Name))

	logger := s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"tool": params.Name,
	})
	logger.Debug("Calling tool")

	result, err := s.tools.Call(ctx, params)
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, ErrToolNotFound):
		return nil, NewMethodNotFoundError("Tool not found: %s", params.Name)
	case errors.Is(err, ErrToolNotInvocable):
		return nil, NewInternalError("Tool %s is not callable", params.Name)
	default:
		logger.WithErr(err).Error("Tool execution failed")
		return nil, NewInternalError("Tool execution error: %s", err.Error())
	}
}

// decodeCallToolParams accepts any JSON value as the tool name. A non-string
// name is kept as its literal text so the lookup reports it as unknown.
func decodeCallToolParams(raw json.RawMessage) (CallToolParams, error) {
	var params CallToolParams
	if len(raw) == 0 {
		return params, nil
	}

	var loose struct {
		Name      json.RawMessage `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &loose); err != nil {
		return params, err
	}
	if err := json.Unmarshal(loose.Name, &params.Name); err != nil {
		params.Name = string(bytes.TrimSpace(loose.Name))
	}
	params.Arguments = loose.Arguments
	return params, nil
}

func (s *BaseServer) handleResourcesList(ctx context.Context, request *Request) (interface{}, *Error) {
	return ListResourcesResult{Resources: []Resource{}}, nil
}

func (s *BaseServer) handlePromptsList(ctx context.Context, request *Request) (interface{}, *Error) {
	return ListPromptsResult{Prompts: []Prompt{}}, nil
}

func (s *BaseServer) handlePing(ctx context.Context, request *Request) (interface{}, *Error) {
	return PingResult{Status: "ok"}, nil
}

func (s *BaseServer) handleNotification(ctx context.Context, request *Request) {
	logger := s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"method": request.Method,
	})

	switch request.Method {
	case "notifications/initialized":
		logger.Debug("Client initialized")
	case "notifications/cancelled":
		var cancelParams struct {
			RequestID json.RawMessage `json:"requestId"`
			Reason    string          `json:"reason"`
		}
		if err := json.Unmarshal(request.Params, &cancelParams); err == nil {
			logger.WithFields(map[string]interface{}{
				"requestID": string(cancelParams.RequestID),
				"reason":    cancelParams.Reason,
			}).Debug("Cancellation requested")
		}
	default:
		logger.Debug("Acknowledged notification")
	}
}

func idString(id *json.RawMessage) string {
	if id == nil {
		return "null"
	}
	return string(bytes.TrimSpace(*id))
}
