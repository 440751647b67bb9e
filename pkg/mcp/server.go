package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dmscode/dmsflow/internal/engine"
	"github.com/dmscode/dmsflow/internal/store"
	"github.com/dmscode/dmsflow/internal/streaming"
	"github.com/dmscode/dmsflow/pkg/schema"
)

// Dispatcher starts flow runs. Satisfied by *engine.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind schema.TriggerKind, ec *schema.ExecutionContext) (*engine.DispatchResult, error)
	RunSync(ctx context.Context, flowID string, ec *schema.ExecutionContext) (*schema.ExecutionResult, error)
}

// FlowServerDeps holds the dependencies for creating a FlowServer.
type FlowServerDeps struct {
	Flows      store.FlowStore
	Dispatcher Dispatcher
	History    *engine.History
	Hub        streaming.Hub
	Logger     *slog.Logger
}

// FlowServer wraps an MCP server with flow tool handlers.
type FlowServer struct {
	flows      store.FlowStore
	dispatcher Dispatcher
	history    *engine.History
	hub        streaming.Hub
	sessions   *SessionRegistry
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// NewFlowServer creates a FlowServer with all tools registered.
func NewFlowServer(deps FlowServerDeps) *FlowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowServer{
		flows:      deps.Flows,
		dispatcher: deps.Dispatcher,
		history:    deps.History,
		hub:        deps.Hub,
		sessions:   NewSessionRegistry(),
		logger:     logger,
	}

	mcpSrv := server.NewMCPServer(
		"dmsflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("dmsflow runs document workflows. Use flow.list to see stored flows, flow.trigger to fire a trigger event against every matching flow, flow.run to run one flow and wait for its result, flow.history to inspect recent runs, and flow.diagram to render a flow."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
// Run completions for flows a session triggered are pushed as notifications.
func (s *FlowServer) Serve(ctx context.Context) error {
	if s.hub != nil {
		notifier := NewRunNotifier(s.mcpServer, s.sessions, s.logger)
		go func() {
			if err := notifier.Watch(ctx, s.hub); err != nil && ctx.Err() == nil {
				s.logger.Warn("run notifier stopped", slog.String("error", err.Error()))
			}
		}()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *FlowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: triggerTool(), Handler: s.handleTrigger},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: historyTool(), Handler: s.handleHistory},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func triggerKindNames() []string {
	names := make([]string, len(schema.TriggerKinds))
	for i, k := range schema.TriggerKinds {
		names[i] = string(k)
	}
	return names
}

func triggerTool() mcp.Tool {
	return mcp.NewTool("flow.trigger",
		mcp.WithDescription("Fire a trigger event; every active flow bound to the trigger runs in the background"),
		mcp.WithString("trigger", mcp.Required(),
			mcp.Enum(triggerKindNames()...),
			mcp.Description("Trigger kind to fire"),
		),
		mcp.WithObject("context", mcp.Description("Document context (doc_id, file_path, text, metadata, tags, entities)")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("flow.run",
		mcp.WithDescription("Run one flow and wait for its result"),
		mcp.WithString("flow_id", mcp.Required(), mcp.Description("ID of the flow to run")),
		mcp.WithObject("context", mcp.Description("Document context (doc_id, file_path, text, metadata, tags, entities)")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("flow.list",
		mcp.WithDescription("List stored flows"),
		mcp.WithString("trigger",
			mcp.Enum(triggerKindNames()...),
			mcp.Description("Only flows bound to this trigger kind"),
		),
		mcp.WithBoolean("active_only", mcp.Description("Only active flows")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("flow.history",
		mcp.WithDescription("List recent flow runs, newest first"),
		mcp.WithString("flow_id", mcp.Description("Only runs of this flow")),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 50)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("flow.diagram",
		mcp.WithDescription("Render a flow as ASCII art, Mermaid flowchart syntax, or a base64-encoded PNG image"),
		mcp.WithString("flow_id", mcp.Required(), mcp.Description("ID of the flow to render")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format"),
		),
		mcp.WithString("run_id", mcp.Description("Overlay the path taken by this run from history")),
	)
}
