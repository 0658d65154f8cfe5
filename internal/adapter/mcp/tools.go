package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/domain/uirequest"
	"github.com/Strob0t/OnboardForge/internal/service"
)

const defaultHistoryLimit = 50

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.getTaskContextTool(),
		s.listHistoryTool(),
		s.submitUIResponseTool(),
	)
}

func (s *Server) getTaskContextTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_task_context",
		mcplib.WithDescription("Get the current state of an onboarding task context, including pending questions"),
		mcplib.WithString("context_id",
			mcplib.Required(),
			mcplib.Description("The task context ID"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetTaskContext,
	}
}

func (s *Server) listHistoryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_history",
		mcplib.WithDescription("List history entries of a task context in sequence order"),
		mcplib.WithString("context_id",
			mcplib.Required(),
			mcplib.Description("The task context ID"),
		),
		mcplib.WithNumber("after_sequence",
			mcplib.Description("Only return entries with a higher sequence number"),
		),
		mcplib.WithNumber("limit",
			mcplib.Description("Maximum number of entries to return (default 50)"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListHistory,
	}
}

func (s *Server) submitUIResponseTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("submit_ui_response",
		mcplib.WithDescription("Answer a pending UI request of a paused task context"),
		mcplib.WithString("context_id",
			mcplib.Required(),
			mcplib.Description("The task context ID"),
		),
		mcplib.WithString("ui_request_id",
			mcplib.Required(),
			mcplib.Description("The pending request to answer"),
		),
		mcplib.WithObject("payload",
			mcplib.Description("Field values keyed by field name"),
		),
		mcplib.WithString("action",
			mcplib.Description("submit, skip or cancel (default submit)"),
			mcplib.Enum(string(uirequest.ActionSubmit), string(uirequest.ActionSkip), string(uirequest.ActionCancel)),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleSubmitUIResponse,
	}
}

func (s *Server) handleGetTaskContext(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Contexts == nil {
		return mcplib.NewToolResultError("context reader not configured"), nil
	}
	contextID, ok := stringArg(req, "context_id")
	if !ok {
		return mcplib.NewToolResultError("context_id is required"), nil
	}
	tc, err := s.deps.Contexts.Get(ctx, contextID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get context %s", contextID), err,
		), nil
	}
	return marshalResult(tc, "context")
}

func (s *Server) handleListHistory(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Contexts == nil {
		return mcplib.NewToolResultError("context reader not configured"), nil
	}
	contextID, ok := stringArg(req, "context_id")
	if !ok {
		return mcplib.NewToolResultError("context_id is required"), nil
	}
	page := taskcontext.HistoryPage{Limit: defaultHistoryLimit}
	args := req.GetArguments()
	// JSON numbers arrive as float64.
	if v, ok := args["after_sequence"].(float64); ok && v > 0 {
		page.AfterSequence = int64(v)
	}
	if v, ok := args["limit"].(float64); ok && v > 0 {
		page.Limit = int(v)
	}

	entries, err := s.deps.Contexts.History(ctx, contextID, page)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to list history of %s", contextID), err,
		), nil
	}
	return marshalResult(entries, "history")
}

func (s *Server) handleSubmitUIResponse(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Responder == nil {
		return mcplib.NewToolResultError("responder not configured"), nil
	}
	contextID, ok := stringArg(req, "context_id")
	if !ok {
		return mcplib.NewToolResultError("context_id is required"), nil
	}
	requestID, ok := stringArg(req, "ui_request_id")
	if !ok {
		return mcplib.NewToolResultError("ui_request_id is required"), nil
	}
	args := req.GetArguments()
	payload, _ := args["payload"].(map[string]any)
	action, _ := args["action"].(string)

	entry, err := s.deps.Responder.SubmitUIResponse(ctx, contextID, service.UIResponse{
		RequestID: requestID,
		Payload:   payload,
		Action:    uirequest.Action(action),
		UserID:    "mcp",
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to submit response", err), nil
	}
	return marshalResult(entry, "entry")
}

func stringArg(req mcplib.CallToolRequest, name string) (string, bool) { //nolint:gocritic // hugeParam: mcp-go request type
	v, ok := req.GetArguments()[name].(string)
	return v, ok && v != ""
}

func marshalResult(v any, what string) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal "+what, err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
