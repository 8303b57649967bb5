// Package middleware provides MCP protocol-level middleware for the gateway.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const methodToolsCall = "tools/call"

// ToolCallLogging creates MCP receiving middleware that assigns each
// tools/call request a request ID and logs the call with its duration and
// outcome.
func ToolCallLogging(logger *slog.Logger) mcp.Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall {
				return next(ctx, method, req)
			}

			requestID := uuid.NewString()
			toolName := toolNameFromRequest(req)
			start := time.Now()

			result, err := next(ctx, method, req)

			attrs := []any{
				"request_id", requestID,
				"tool", toolName,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.Warn("tool call failed", append(attrs, "error", err)...)
				return result, err
			}
			if callResult, ok := result.(*mcp.CallToolResult); ok && callResult.IsError {
				logger.Warn("tool call returned error result", attrs...)
				return result, nil
			}

			logger.Info("tool call completed", attrs...)
			return result, nil
		}
	}
}

// toolNameFromRequest extracts the tool name from a tools/call request.
func toolNameFromRequest(req mcp.Request) string {
	params := req.GetParams()
	if params == nil {
		return ""
	}
	if callParams, ok := params.(*mcp.CallToolParamsRaw); ok {
		return callParams.Name
	}
	return ""
}
