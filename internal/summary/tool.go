package summary

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/hyperengineering/librarian/internal/chat"
	"github.com/hyperengineering/librarian/internal/provider"
)

// ToolName is the function name the model is forced to call.
const ToolName = "get_summary_by_title"

const toolSystemPrompt = "You are a function-calling orchestrator. " +
	"Call the function get_summary_by_title with the EXACT title provided by the user. " +
	"Do not output any text, only make the tool call."

// ToolInvoker forces a single tool call and returns its raw arguments.
type ToolInvoker interface {
	CallTool(ctx context.Context, req chat.Request, tool chat.Tool) (string, error)
}

// ToolCallResult is the outcome of resolving a title through the tool call.
type ToolCallResult struct {
	OK             bool   `json:"ok"`
	RequestedTitle string `json:"requested_title"`
	ResolvedTitle  string `json:"resolved_title"`
	Summary        string `json:"summary"`
	UsedTool       bool   `json:"used_tool"`
}

// Tool returns the schema of the summary lookup function.
func Tool() chat.Tool {
	return chat.Tool{
		Name:        ToolName,
		Description: "Return the full summary for an exact book title from the local store.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Exact book title.",
				},
			},
			"required": []string{"title"},
		},
	}
}

// ToolCaller routes a title through a forced tool call before looking it up,
// so the lookup argument is always structured model output.
type ToolCaller struct {
	invoker  ToolInvoker
	resolver *Resolver
}

// NewToolCaller creates a ToolCaller.
func NewToolCaller(invoker ToolInvoker, resolver *Resolver) *ToolCaller {
	return &ToolCaller{invoker: invoker, resolver: resolver}
}

// Call never fails: provider errors and malformed arguments fall back to the
// supplied title, and an unknown title yields OK=false with an empty summary.
func (c *ToolCaller) Call(ctx context.Context, title string) ToolCallResult {
	result := ToolCallResult{
		RequestedTitle: title,
		ResolvedTitle:  title,
	}

	if c.invoker != nil {
		args, err := c.invoker.CallTool(ctx, chat.Request{
			System:      toolSystemPrompt,
			User:        "title=" + title,
			Temperature: 0,
		}, Tool())
		if err != nil {
			slog.Warn("summary tool call failed, using requested title",
				"component", "summary",
				"action", "tool_call",
				"kind", provider.ErrorKind(err),
				"error", err,
			)
		} else if parsed, ok := parseArguments(args); ok {
			result.ResolvedTitle = parsed
			result.UsedTool = true
		} else {
			slog.Warn("unusable tool call arguments, using requested title",
				"component", "summary",
				"action", "tool_call",
				"arguments", args,
			)
		}
	}

	if text, ok := c.resolver.Resolve(result.ResolvedTitle); ok {
		result.OK = true
		result.Summary = text
	}
	return result
}

func parseArguments(args string) (string, bool) {
	var payload struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(args), &payload); err != nil {
		return "", false
	}
	if strings.TrimSpace(payload.Title) == "" {
		return "", false
	}
	return payload.Title, true
}
