package tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"pomconv/internal/model"
	"pomconv/pkg/logger"
)

// ToolErrorResult is the body of a failed tool call.
type ToolErrorResult struct {
	Success      bool   `json:"success"`
	ToolName     string `json:"tool_name"`
	ErrorMessage string `json:"error_message"`
	Stage        string `json:"stage,omitempty"`
	Kind         string `json:"kind,omitempty"`
}

// NewMCPServer exposes the conversion tool over MCP.
func NewMCPServer(converter *ConvertTool, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"pomconv",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.AddTool(newConvertMCPTool(), ConvertHandler(converter))
	return s
}

// ServeStdio serves s on stdin/stdout until the input closes.
func ServeStdio(s *server.MCPServer) error {
	logger.Info("Serving MCP tools on stdio")
	return server.ServeStdio(s)
}

func newConvertMCPTool() mcp.Tool {
	return mcp.NewTool(ConvertToolName,
		mcp.WithDescription(convertToolDesc),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Full Python source of the Selenium test file"),
		),
		mcp.WithString("name",
			mcp.Description("Label for the conversion, usually the source file name"),
		),
	)
}

// ConvertHandler adapts the tool to an MCP call. Failed conversions are
// returned as tool errors so the calling agent sees them as such.
func ConvertHandler(t *ConvertTool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(request.GetArguments())
		if err != nil {
			return errorResult(ToolErrorResult{ErrorMessage: err.Error()}), nil
		}

		out, err := t.InvokableRun(ctx, string(args))
		if err != nil {
			return errorResult(ToolErrorResult{ErrorMessage: err.Error()}), nil
		}

		var result model.ConversionResult
		if err := json.Unmarshal([]byte(out), &result); err != nil {
			return errorResult(ToolErrorResult{ErrorMessage: err.Error()}), nil
		}
		if !result.Succeeded() {
			logger.Warnf("MCP tool %s failed at %s: %s", ConvertToolName, result.Stage, result.Reason)
			return errorResult(ToolErrorResult{
				ErrorMessage: result.Reason,
				Stage:        string(result.Stage),
				Kind:         result.Kind,
			}), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

func errorResult(e ToolErrorResult) *mcp.CallToolResult {
	e.ToolName = ConvertToolName
	data, err := json.Marshal(e)
	if err != nil {
		return mcp.NewToolResultError(e.ErrorMessage)
	}
	return mcp.NewToolResultError(string(data))
}
