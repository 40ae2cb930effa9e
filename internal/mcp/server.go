package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/cqi/internal/engine"
	"github.com/joescharf/cqi/internal/output"
	"github.com/joescharf/cqi/internal/report"
	"github.com/joescharf/cqi/internal/schema"
	"github.com/joescharf/cqi/internal/store"
)

// Runner executes analyses, chats and indexing. *engine.Service implements it.
type Runner interface {
	Analyze(ctx context.Context, req engine.AnalyzeRequest) (*report.Report, error)
	Ask(ctx context.Context, req engine.AskRequest) (*engine.AskResult, error)
	Index(ctx context.Context, path string) (*store.IndexInfo, error)
	Tools(ctx context.Context, path string) ([]schema.Tool, error)
}

// Server exposes cqi runs as MCP tools.
type Server struct {
	runner  Runner
	version string
}

// NewServer creates the MCP server wrapper.
func NewServer(runner Runner, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{runner: runner, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("cqi", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.analyzeTool())
	srv.AddTool(s.askTool())
	srv.AddTool(s.indexTool())
	srv.AddTool(s.toolsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// cqi_analyze
func (s *Server) analyzeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cqi_analyze",
		mcp.WithDescription("Analyze a local repository for security, performance, complexity, testing, documentation and maintainability issues. Returns a prioritized report."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the repository to analyze")),
		mcp.WithString("focus", mcp.Description("Analysis focus such as security or performance (default: general)")),
		mcp.WithString("since", mcp.Description("Only analyze files changed since this git ref")),
		mcp.WithNumber("max_iterations", mcp.Description("Override the orchestration iteration bound")),
		mcp.WithString("format", mcp.Description("Report format: json (default) or markdown")),
	)
	return tool, s.handleAnalyze
}

func (s *Server) handleAnalyze(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil || strings.TrimSpace(path) == "" {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}
	format, err := output.ParseFormat(request.GetString("format", "json"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rep, err := s.runner.Analyze(ctx, engine.AnalyzeRequest{
		Path:          path,
		Focus:         request.GetString("focus", ""),
		Since:         request.GetString("since", ""),
		MaxIterations: request.GetInt("max_iterations", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
	}

	if format == output.FormatMarkdown {
		return mcp.NewToolResultText(output.Markdown(rep)), nil
	}
	return jsonResult(rep)
}

// cqi_ask
func (s *Server) askTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cqi_ask",
		mcp.WithDescription("Ask a question about a local repository. The answer is grounded in the files the assistant reads. Pass the returned session_id to continue the conversation."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the repository")),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question to answer")),
		mcp.WithString("session_id", mcp.Description("Session to continue; omit to start a new one")),
	)
	return tool, s.handleAsk
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil || strings.TrimSpace(path) == "" {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}
	question, err := request.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("missing required parameter: question"), nil
	}

	res, err := s.runner.Ask(ctx, engine.AskRequest{
		Path:      path,
		Question:  question,
		SessionID: request.GetString("session_id", ""),
		Owner:     "mcp",
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("chat failed: %v", err)), nil
	}
	return jsonResult(res)
}

// cqi_index
func (s *Server) indexTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cqi_index",
		mcp.WithDescription("Build or rebuild the code-search index of a repository. Indexed repositories let the assistant search the whole codebase."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the repository")),
	)
	return tool, s.handleIndex
}

func (s *Server) handleIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil || strings.TrimSpace(path) == "" {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}
	info, err := s.runner.Index(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("indexing failed: %v", err)), nil
	}
	return jsonResult(info)
}

// cqi_tools
func (s *Server) toolsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("cqi_tools",
		mcp.WithDescription("List the tools the orchestrator offers the model, with their JSON argument schemas."),
		mcp.WithString("path", mcp.Description("Repository path; enables QueryCodebase when the repository is indexed")),
	)
	return tool, s.handleTools
}

func (s *Server) handleTools(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tools, err := s.runner.Tools(ctx, request.GetString("path", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tools: %v", err)), nil
	}
	return jsonResult(tools)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
