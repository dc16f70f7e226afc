// Package mcp exposes helpmetest to coding agents as a Model Context
// Protocol server.
package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/helpmetest/cli/pkg/api"
	"github.com/helpmetest/cli/pkg/interactive"
	"github.com/helpmetest/cli/pkg/logging"
	"github.com/helpmetest/cli/pkg/telemetry"
)

const serverName = "helpmetest"

// Backend is the part of the API client the tools call.
type Backend interface {
	BaseURL() string
	Identity(ctx context.Context) (api.Identity, error)
	ListHealthChecks(ctx context.Context) ([]api.HealthCheck, error)
	GetHealthCheck(ctx context.Context, name string) (*api.HealthCheck, error)
	ListTests(ctx context.Context, opts api.ListTestsOptions) ([]api.Test, error)
	GetTest(ctx context.Context, id string) (*api.Test, error)
	CreateTest(ctx context.Context, in api.TestInput) (*api.Test, error)
	UpdateTest(ctx context.Context, id string, in api.TestInput) (*api.Test, error)
	RunTest(ctx context.Context, id string, onEvent func(json.RawMessage)) ([]json.RawMessage, error)
	ListDeployments(ctx context.Context, limit int) ([]api.Deployment, error)
	CreateDeployment(ctx context.Context, in api.DeploymentInput) (*api.Deployment, error)
	ListArtifacts(ctx context.Context, testID string) ([]api.Artifact, error)
}

var _ Backend = (*api.Client)(nil)

// Interactive is the interactive command coordinator.
type Interactive interface {
	RunCommand(ctx context.Context, args interactive.CommandArgs) (*interactive.Result, error)
	Acknowledge(ctx context.Context, args interactive.AckArgs) (*interactive.Result, error)
}

var _ Interactive = (*interactive.Coordinator)(nil)

// Options configures a Server.
type Options struct {
	Version string
	Logger  *logging.Logger
}

// Server owns the MCP server and its tools.
type Server struct {
	server      *mcp.Server
	backend     Backend
	interactive Interactive
	logger      *logging.Logger
}

// NewServer registers every tool.
func NewServer(backend Backend, coordinator Interactive, opts Options) *Server {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Title:   "helpmetest",
			Version: version,
		}, &mcp.ServerOptions{
			Instructions: instructions,
		}),
		backend:     backend,
		interactive: coordinator,
		logger:      logging.OrDiscard(opts.Logger).WithComponent("mcp"),
	}
	s.server.AddReceivingMiddleware(s.observe)
	s.registerInteractiveTools()
	s.registerHealthTools()
	s.registerTestTools()
	s.registerDeploymentTools()
	s.registerStatusTool()
	return s
}

// observe traces, counts and logs tool calls.
func (s *Server) observe(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		call, ok := req.(*mcp.CallToolRequest)
		if !ok || call.Params == nil {
			return next(ctx, method, req)
		}
		name := call.Params.Name
		ctx, span := telemetry.StartSpan(ctx, "mcp "+name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(telemetry.AttrToolName.String(name)))
		defer span.End()

		start := time.Now()
		res, err := next(ctx, method, req)
		failed := err != nil
		if r, ok := res.(*mcp.CallToolResult); ok && r.IsError {
			failed = true
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tool call failed")
		}
		telemetry.RecordToolCall(name, failed)
		s.logger.DebugContext(ctx, "tool call", "tool", name, "failed", failed, "elapsed", time.Since(start))
		return res, err
	}
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

// RunStdio serves one client over stdin/stdout until ctx is done or the
// client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler serves the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

const instructions = `helpmetest runs browser tests and health checks on the helpmetest platform.

Use run_interactive_command to drive a live browser one Robot Framework keyword at a time.
After each command report progress with send_to_ui (or pass message/tasks with the next
command); the next command is refused until you do. Send "exit" to end the session.`
