// Package pollmcp adapts pollwatchd to the Model Context Protocol, so an
// agent can inspect and nudge running polls the same way a human operator
// would through pollapi.
package pollmcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rmax-ai/pollwatch/pkg/pollapi"
)

// Server exposes a running pollwatchd's poll set over stdio MCP.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *pollapi.Client
	pollNames []string
}

// NewServer creates a new MCP server backed by the pollapi at apiURL. Since
// MCP resources are declared up front rather than parameterized, one
// resource is registered per name in pollNames.
func NewServer(apiURL string, pollNames []string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer("pollwatch", "1.0.0"),
		apiClient: pollapi.NewClient(apiURL),
		pollNames: pollNames,
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	for _, name := range s.pollNames {
		uri := "pollwatch://polls/" + name
		s.mcpServer.AddResource(mcp.NewResource(
			uri,
			fmt.Sprintf("Poll status: %s", name),
			mcp.WithResourceDescription("Current tick and recent history for this poll"),
			mcp.WithMIMEType("application/json"),
		), s.handleReadPoll)
	}
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"refresh_poll",
		mcp.WithDescription("Preempt a poll's schedule and wait for its next tick"),
		mcp.WithString("name", mcp.Required(), mcp.Description("The poll's registered name")),
	), s.handleRefreshPoll)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"pollwatch-aware",
		mcp.WithPromptDescription("Provides context about pollwatch concepts (Polls, Phases, Gates)"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadPoll(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	name, err := pollNameFromURI(request.Params.URI)
	if err != nil {
		return nil, err
	}

	tick, err := s.apiClient.Status(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch poll status: %w", err)
	}

	history, err := s.apiClient.History(ctx, name, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch poll history: %w", err)
	}

	payload := struct {
		Current interface{} `json:"current"`
		Recent  interface{} `json:"recent"`
	}{Current: tick, Recent: history}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal poll status: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleRefreshPoll(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	tick, err := s.apiClient.Refresh(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("refresh failed: %v", err)), nil
	}

	resultMsg := fmt.Sprintf("Phase: %s\nValue: %s", tick.Phase, tick.Value)
	if tick.Err != nil {
		resultMsg = fmt.Sprintf("Phase: %s\nError: %v", tick.Phase, tick.Err)
	}
	return mcp.NewToolResultText(resultMsg), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "pollwatch-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are interacting with pollwatch, an adaptive polling engine.

Concepts:
- Poll: a named, adaptively-scheduled source that repeatedly checks a target
  (e.g. an HTTP health check) and adjusts its own interval based on outcomes.
- Phase: why the current tick was installed (standby, when-resolved,
  when-rejected, resolved, rejected, reconnect, refresh).
- Gate: an async predicate a poll waits on before its first invocation
  (e.g. cluster leadership).

Use the pollwatch://polls/{name} resource to inspect a poll's current state
and recent history. Use the refresh_poll tool to preempt a poll's schedule
when you need fresher data immediately.
`

	return mcp.NewGetPromptResult(
		"pollwatch-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}

func pollNameFromURI(uri string) (string, error) {
	const prefix = "pollwatch://polls/"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return "", fmt.Errorf("invalid poll resource uri: %s", uri)
	}
	return uri[len(prefix):], nil
}
