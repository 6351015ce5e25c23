// Package server implements the request dispatcher: it reads JSON-RPC
// requests from a transport, routes tools/list and tools/call through the
// tool registry, and writes exactly one response per request. No failure
// anywhere in the pipeline escapes as an unhandled fault — every error is
// converted into a structured response error and the loop keeps serving.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/nsbox/internal/observability"
	"github.com/jkaninda/nsbox/internal/protocol"
	"github.com/jkaninda/nsbox/internal/tools"
)

// ProtocolVersion is the handshake version reported by initialize.
const ProtocolVersion = "2025-06-18"

// Config identifies the server in the initialize handshake.
type Config struct {
	Name    string
	Version string
}

// Server dispatches requests against an immutable tool registry.
// It holds no mutable per-call state: the registry is read-only after
// startup and safe for concurrent reads.
type Server struct {
	config   Config
	registry *tools.Registry
	metrics  *observability.MetricsCollector // nil when metrics are disabled
	logger   *slog.Logger
}

// New creates a dispatcher over the given registry.
func New(cfg Config, registry *tools.Registry, metrics *observability.MetricsCollector, logger *slog.Logger) *Server {
	return &Server{
		config:   cfg,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

// Serve runs the read-dispatch-respond loop until the stream ends or the
// context is cancelled. Requests are processed one at a time to completion,
// including any sandboxed child execution.
func (s *Server) Serve(ctx context.Context, transport protocol.Transport) error {
	s.logger.Info("server starting",
		slog.String("name", s.config.Name),
		slog.String("version", s.config.Version),
		slog.Any("tools", s.registry.List()),
	)

	for {
		req, err := transport.Receive(ctx)
		if err != nil {
			var parseErr *protocol.ParseError
			if errors.As(err, &parseErr) {
				s.metrics.RecordRequest("", "parse_error")
				resp := protocol.NewErrorResponse(nil, protocol.CodeParseError, parseErr.Error(), nil)
				if sendErr := transport.Send(ctx, resp); sendErr != nil {
					s.logger.Error("failed to send parse error response",
						slog.String("error", sendErr.Error()))
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				s.logger.Info("input stream closed, shutting down")
				return nil
			}
			if ctx.Err() != nil {
				s.logger.Info("server stopping: context cancelled")
				return ctx.Err()
			}
			return err
		}

		resp := s.Handle(ctx, req)
		if resp == nil {
			continue // notification
		}
		if err := transport.Send(ctx, resp); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("failed to send response", slog.String("error", err.Error()))
		}
	}
}

// Handle dispatches a single request and returns its response, or nil for
// notifications. A panic in any handler is converted into an InternalError
// response so one bad request cannot take the server down.
func (s *Server) Handle(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked",
				slog.String("method", req.Method),
				slog.Any("panic", r),
			)
			s.metrics.RecordRequest(req.Method, "panic")
			resp = protocol.NewErrorResponse(req.ID, protocol.CodeInternalError,
				"internal error", &protocol.ErrorData{Kind: string(tools.KindInternalError)})
		}
	}()

	if req.IsNotification() {
		s.handleNotification(req)
		return nil
	}

	switch req.Method {
	case "initialize":
		s.metrics.RecordRequest(req.Method, "ok")
		return protocol.NewResponse(req.ID, s.initializeResult())
	case "ping":
		s.metrics.RecordRequest(req.Method, "ok")
		return protocol.NewResponse(req.ID, map[string]any{})
	case "tools/list":
		s.metrics.RecordRequest(req.Method, "ok")
		return protocol.NewResponse(req.ID, s.listToolsResult())
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "resources/list":
		s.metrics.RecordRequest(req.Method, "ok")
		return protocol.NewResponse(req.ID, map[string]any{"resources": []any{}})
	case "prompts/list":
		s.metrics.RecordRequest(req.Method, "ok")
		return protocol.NewResponse(req.ID, map[string]any{"prompts": []any{}})
	default:
		s.metrics.RecordRequest(req.Method, "method_not_found")
		return protocol.NewErrorResponse(req.ID, protocol.CodeMethodNotFound,
			"method not found: "+req.Method, nil)
	}
}

// handleNotification processes fire-and-forget messages.
func (s *Server) handleNotification(req *protocol.Request) {
	switch req.Method {
	case "notifications/initialized":
		s.logger.Info("client initialized")
	default:
		s.logger.Debug("unhandled notification", slog.String("method", req.Method))
	}
}

func (s *Server) initializeResult() map[string]any {
	return map[string]any{
		"protocolVersion": ProtocolVersion,
		"serverInfo": map[string]any{
			"name":    s.config.Name,
			"version": s.config.Version,
		},
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
	}
}

// listToolsResult enumerates the registry in registration order, so repeated
// listings are identical.
func (s *Server) listToolsResult() map[string]any {
	all := s.registry.All()
	defs := make([]map[string]any, 0, len(all))
	for _, t := range all {
		defs = append(defs, map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"inputSchema": t.Args().JSONSchema(),
		})
	}
	return map[string]any{"tools": defs}
}

// callParams is the tools/call parameter object.
type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// handleToolsCall validates and runs one tool invocation. The lookup and
// argument validation happen before the handler runs, so an unknown tool or
// a bad argument can never cause a side effect.
func (s *Server) handleToolsCall(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params callParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.metrics.RecordRequest(req.Method, "invalid_params")
			return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams,
				"invalid tools/call params: "+err.Error(), nil)
		}
	}
	if params.Name == "" {
		s.metrics.RecordRequest(req.Method, "invalid_params")
		return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams,
			"missing required parameter: name", nil)
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	tool := s.registry.Get(params.Name)
	if tool == nil {
		s.metrics.RecordRequest(req.Method, "unknown_tool")
		return protocol.NewErrorResponse(req.ID, protocol.CodeToolError,
			"unknown tool: "+params.Name,
			&protocol.ErrorData{Kind: string(tools.KindUnknownTool)})
	}

	invocationID := uuid.New().String()
	logger := s.logger.With(
		slog.String("tool", params.Name),
		slog.String("invocation_id", invocationID),
	)

	if err := tool.Args().Validate(params.Arguments); err != nil {
		logger.Warn("argument validation failed", slog.String("error", err.Error()))
		s.metrics.RecordRequest(req.Method, "invalid_params")
		s.metrics.RecordToolExecution(params.Name, "invalid_arguments", 0)
		return s.toolErrorResponse(req.ID, err)
	}

	start := time.Now()
	result, err := tool.Execute(ctx, params.Arguments)
	elapsed := time.Since(start)

	if err != nil {
		kind := tools.KindOf(err)
		logger.Warn("tool execution failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
			slog.Duration("duration", elapsed),
		)
		s.metrics.RecordRequest(req.Method, "tool_error")
		s.metrics.RecordToolExecution(params.Name, string(kind), elapsed.Seconds())
		return s.toolErrorResponse(req.ID, err)
	}

	status := "ok"
	if !result.Success {
		status = "failed"
	}
	logger.Info("tool execution completed",
		slog.String("status", status),
		slog.Duration("duration", elapsed),
	)
	s.metrics.RecordRequest(req.Method, status)
	s.metrics.RecordToolExecution(params.Name, status, elapsed.Seconds())

	return protocol.NewResponse(req.ID, result.Payload)
}

// toolErrorResponse converts a classified tool error into the wire error
// object. InvalidArguments maps to the standard invalid-params code; all
// other kinds use the server-defined tool error code.
func (s *Server) toolErrorResponse(id json.RawMessage, err error) *protocol.Response {
	kind := tools.KindOf(err)
	data := &protocol.ErrorData{
		Kind:  string(kind),
		Field: tools.FieldOf(err),
	}
	code := protocol.CodeToolError
	if kind == tools.KindInvalidArguments {
		code = protocol.CodeInvalidParams
	}
	return protocol.NewErrorResponse(id, code, err.Error(), data)
}
