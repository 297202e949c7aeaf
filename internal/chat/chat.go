// Package chat adapts the OpenAI chat completions API to the two shapes the
// librarian needs: a single free-text completion and a forced tool call.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperengineering/librarian/internal/provider"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultMaxTokens bounds free-text completions.
const DefaultMaxTokens = 250

var (
	// ErrNoChoices is returned when the provider answers without any choice.
	ErrNoChoices = errors.New("chat completion returned no choices")
	// ErrNoToolCall is returned when a forced tool call produced none.
	ErrNoToolCall = errors.New("chat completion returned no tool call")
)

// CompletionsService defines the interface for making chat completion calls.
// This abstraction enables testing without calling the real OpenAI API.
type CompletionsService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Request is one system + user exchange.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int64
}

// Tool describes a function the model can be forced to call. Parameters is a
// JSON schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Client issues chat completions under the shared call policy.
type Client struct {
	completions CompletionsService
	model       string
	policy      provider.Policy
}

// NewClient creates a chat Client on the shared OpenAI client.
func NewClient(client *openai.Client, model string, policy provider.Policy) *Client {
	return NewClientWithService(client.Chat.Completions, model, policy)
}

// NewClientWithService creates a Client over any CompletionsService.
func NewClientWithService(svc CompletionsService, model string, policy provider.Policy) *Client {
	return &Client{completions: svc, model: model, policy: policy}
}

// Model returns the chat model name.
func (c *Client) Model() string {
	return c.model
}

// Complete returns the text of the first choice. An empty reply is not an
// error.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.create(ctx, "chat", c.params(req))
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// CallTool forces the model to call tool and returns the raw JSON arguments
// of the first tool call.
func (c *Client) CallTool(ctx context.Context, req Request, tool Tool) (string, error) {
	params := c.params(req)
	params.Tools = openai.F([]openai.ChatCompletionToolParam{{
		Type: openai.F(openai.ChatCompletionToolTypeFunction),
		Function: openai.F(openai.FunctionDefinitionParam{
			Name:        openai.String(tool.Name),
			Description: openai.String(tool.Description),
			Parameters:  openai.F(openai.FunctionParameters(tool.Parameters)),
		}),
	}})
	params.ToolChoice = openai.F[openai.ChatCompletionToolChoiceOptionUnionParam](
		openai.ChatCompletionNamedToolChoiceParam{
			Type: openai.F(openai.ChatCompletionNamedToolChoiceTypeFunction),
			Function: openai.F(openai.ChatCompletionNamedToolChoiceFunctionParam{
				Name: openai.String(tool.Name),
			}),
		},
	)

	resp, err := c.create(ctx, "chat_tool", params)
	if err != nil {
		return "", err
	}

	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) == 0 {
		return "", ErrNoToolCall
	}
	return calls[0].Function.Arguments, nil
}

func (c *Client) params(req Request) openai.ChatCompletionNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))

	return openai.ChatCompletionNewParams{
		Messages:    openai.F(messages),
		Model:       openai.F(openai.ChatModel(c.model)),
		Temperature: openai.F(req.Temperature),
		MaxTokens:   openai.F(maxTokens),
	}
}

func (c *Client) create(ctx context.Context, op string, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	var resp *openai.ChatCompletion
	err := c.policy.Do(ctx, op, func(ctx context.Context) error {
		var err error
		resp, err = c.completions.New(ctx, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}
	return resp, nil
}
