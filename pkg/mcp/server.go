package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/rulekit/internal/diagram"
	"github.com/rendis/rulekit/internal/store"
	"github.com/rendis/rulekit/internal/streaming"
	"github.com/rendis/rulekit/pkg/schema"
)

// Engine is the rule engine surface the tools drive.
// Satisfied by *engine.Engine.
type Engine interface {
	EvaluateAll(ctx context.Context, workflowName string, inputs ...schema.Input) (*schema.ResultTree, error)
	Replace(ctx context.Context, wf schema.Workflow) error
	Workflow(name string) (schema.Workflow, bool)
	Workflows() []schema.Workflow
}

// Decoder turns a raw workflow document into validated workflows.
// Satisfied by *validation.WorkflowValidator.
type Decoder interface {
	DecodeDocument(raw []byte) ([]schema.Workflow, error)
}

// RulesServerDeps holds the dependencies for creating a RulesServer.
// Store is optional; without it rules.define only registers in memory.
// Events is optional; with it registry changes reach clients as log notifications.
type RulesServerDeps struct {
	Engine  Engine
	Decoder Decoder
	Store   store.WorkflowStore
	Events  streaming.Hub
	Logger  *slog.Logger
}

// RulesServer wraps an MCP server with rule engine tool handlers.
type RulesServer struct {
	engine    Engine
	decoder   Decoder
	store     store.WorkflowStore
	events    streaming.Hub
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewRulesServer creates a RulesServer with its tools registered.
func NewRulesServer(deps RulesServerDeps) *RulesServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &RulesServer{
		engine:  deps.Engine,
		decoder: deps.Decoder,
		store:   deps.Store,
		events:  deps.Events,
		logger:  logger,
	}

	mcpSrv := server.NewMCPServer(
		"rulekit",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithInstructions("rulekit evaluates named rule workflows against input objects. Use rules.list to see registered workflows, rules.define to add or replace one, rules.evaluate to run a workflow and get one result per rule, and rules.diagram to draw a workflow's rule tree."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *RulesServer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.events != nil {
		if err := s.ForwardRegistryEvents(ctx); err != nil {
			return err
		}
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registryEvents are the event types forwarded to clients.
var registryEvents = []string{
	streaming.EventWorkflowRegistered,
	streaming.EventWorkflowReplaced,
	streaming.EventWorkflowRemoved,
}

// ForwardRegistryEvents subscribes to workflow registry changes and sends each
// one to every connected client as a notifications/message log entry until
// ctx is done.
func (s *RulesServer) ForwardRegistryEvents(ctx context.Context) error {
	ch, cancel, err := s.events.Subscribe(ctx, streaming.Filter{Types: registryEvents})
	if err != nil {
		return err
	}
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				s.mcpServer.SendNotificationToAllClients("notifications/message", notificationParams(evt))
			}
		}
	}()
	return nil
}

func notificationParams(evt streaming.Event) map[string]any {
	data := map[string]any{"type": evt.Type, "workflow": evt.Workflow}
	if evt.Payload != nil {
		data["payload"] = evt.Payload
	}
	return map[string]any{
		"level":  "info",
		"logger": "rulekit",
		"data":   data,
	}
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *RulesServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *RulesServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: evaluateTool(), Handler: s.handleEvaluate},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func evaluateTool() mcp.Tool {
	return mcp.NewTool("rules.evaluate",
		mcp.WithDescription("Evaluate every rule of a registered workflow against the given inputs"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Name of the workflow to evaluate")),
		mcp.WithObject("inputs", mcp.Description("Named inputs: symbol name to value")),
		mcp.WithArray("unnamed", mcp.Description("Unnamed input objects; their fields become top-level symbols")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("rules.define",
		mcp.WithDescription("Validate and register a workflow, replacing any workflow with the same name"),
		mcp.WithObject("definition", mcp.Required(),
			mcp.Description(`A workflow object or a document {"workflows":[...]}`)),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("rules.list",
		mcp.WithDescription("List registered workflows"),
		mcp.WithString("name_prefix", mcp.Description("Only workflows whose name starts with this prefix")),
		mcp.WithBoolean("include_rules", mcp.Description("Include full rule definitions")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("rules.diagram",
		mcp.WithDescription("Draw the rule tree of a registered workflow. Returns Mermaid flowchart syntax, ASCII art, or a base64-encoded PNG or SVG image"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Name of the workflow to draw")),
		mcp.WithString("format",
			mcp.Enum(diagram.Formats...),
			mcp.Description("Output format (default: mermaid)"),
		),
		mcp.WithBoolean("evaluate", mcp.Description("Evaluate the workflow with inputs/unnamed and paint each rule with its outcome")),
		mcp.WithObject("inputs", mcp.Description("Named inputs used when evaluate is true")),
		mcp.WithArray("unnamed", mcp.Description("Unnamed inputs used when evaluate is true")),
	)
}
