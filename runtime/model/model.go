// Package model defines the provider-agnostic contract the orchestrator uses
// to invoke chat models. Implementations wrap provider SDKs (OpenAI,
// Anthropic) and translate Request/Response to provider-specific formats so
// the decision loop never couples to a particular vendor API.
package model

import "context"

type (
	// Client is the contract the orchestrator uses for model calls.
	// Implementations must be safe for concurrent use and reusable across
	// conversations.
	Client interface {
		// Complete sends a chat completion request to the provider and returns
		// the generated response. Returns an error if the provider is
		// unavailable, quota is exceeded, or the request is malformed.
		Complete(ctx context.Context, req Request) (Response, error)
	}

	// Request captures the normalized parameters for one model invocation.
	Request struct {
		// Model is the provider-specific model identifier (e.g. "gpt-4o",
		// "claude-sonnet-4-20250514"). Empty means the adapter default.
		Model string

		// Messages is the ordered chat history: system prompt, user inputs,
		// prior assistant turns and tool results.
		Messages []*Message

		// Tools describes the capability schemas exposed to the model for
		// function calling. Empty means the model cannot request invocations.
		Tools []*ToolDefinition

		// Temperature controls sampling. Zero means the provider default.
		Temperature float32

		// MaxTokens caps completion length. Zero means the provider default.
		MaxTokens int
	}

	// Message is one entry in the conversation history. Exactly one of the
	// payload fields is typically populated per role: Content for user,
	// system and plain assistant messages; ToolCalls for assistant messages
	// that requested invocations; ToolResults for tool messages feeding
	// invocation outcomes back to the model.
	Message struct {
		// Role is one of the Role constants.
		Role string

		// Content is the message text. May be empty on assistant messages
		// that only carry tool calls.
		Content string

		// ToolCalls lists the invocations an assistant message requested.
		ToolCalls []ToolCall

		// ToolResults carries invocation outcomes on a tool message.
		ToolResults []ToolResult
	}

	// ToolDefinition describes one capability schema passed to the provider.
	ToolDefinition struct {
		// Name is the identifier presented to the model. Providers restrict
		// allowed characters and length; names must already conform.
		Name string

		// Description documents the capability for prompting purposes.
		Description string

		// InputSchema is the JSON Schema object describing the arguments,
		// typically a map[string]any with "type": "object", "properties" and
		// "required" entries.
		InputSchema any
	}

	// ToolCall is one invocation requested by the model.
	ToolCall struct {
		// ID correlates the call with its result. Adapters must populate it;
		// the orchestrator synthesizes one when a provider omits it.
		ID string

		// Name identifies the capability, matching a ToolDefinition.Name from
		// the request.
		Name string

		// Payload carries the decoded JSON arguments.
		Payload map[string]any
	}

	// ToolResult is the outcome of one invocation, fed back to the model on
	// the next turn.
	ToolResult struct {
		// ToolCallID matches the ToolCall.ID this result answers.
		ToolCallID string

		// Name is the capability name, repeated for providers that key
		// results by function name rather than call ID.
		Name string

		// Content is the result text.
		Content string

		// IsError marks results that describe a failed invocation.
		IsError bool
	}

	// Response wraps the generated content and any invocation requests.
	Response struct {
		// Content is the assistant text, empty when the model only requested
		// tool calls.
		Content string

		// ToolCalls lists requested invocations. Empty means the model
		// produced a final answer.
		ToolCalls []ToolCall

		// Usage reports token counts when the provider supplies them.
		Usage TokenUsage

		// StopReason explains why generation stopped. Values are normalized
		// to the Stop constants where possible; provider-specific values pass
		// through unchanged.
		StopReason string
	}

	// TokenUsage records prompt and completion token counts. All fields are
	// zero when the provider does not report usage.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Normalized stop reasons.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)
