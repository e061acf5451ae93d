package orchestrator

import (
	"goa.design/capgate/runtime/model"
)

type (
	// Conversation accumulates the exchange between the user, the model and
	// the invoked capabilities, and renders it as provider-neutral messages.
	// Not safe for concurrent use; each chat request owns its conversation.
	Conversation struct {
		system   string
		messages []*model.Message
	}

	// Invocation is one capability call requested by the model in a round.
	Invocation struct {
		// ID correlates the request with its result.
		ID string

		// Capability is the requested capability name.
		Capability string

		// Arguments are the decoded call arguments.
		Arguments map[string]any
	}

	// InvocationResult is the folded outcome of one invocation.
	InvocationResult struct {
		// ID matches the Invocation.ID this result answers.
		ID string

		// Capability is the invoked capability name.
		Capability string

		// Result is the textual outcome.
		Result string

		// IsError reports whether the invocation failed.
		IsError bool
	}
)

// NewConversation starts a conversation with the given system prompt. An
// empty prompt omits the system message.
func NewConversation(system string) *Conversation {
	return &Conversation{system: system}
}

// AddUser appends an end-user message.
func (c *Conversation) AddUser(text string) {
	c.messages = append(c.messages, &model.Message{Role: model.RoleUser, Content: text})
}

// AddAssistant appends an assistant turn: any generated text plus the
// invocations the model requested.
func (c *Conversation) AddAssistant(text string, invocations []Invocation) {
	msg := &model.Message{Role: model.RoleAssistant, Content: text}
	for _, inv := range invocations {
		msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
			ID:      inv.ID,
			Name:    inv.Capability,
			Payload: inv.Arguments,
		})
	}
	c.messages = append(c.messages, msg)
}

// AddResults appends a tool turn folding invocation outcomes back into the
// history.
func (c *Conversation) AddResults(results []InvocationResult) {
	if len(results) == 0 {
		return
	}
	msg := &model.Message{Role: model.RoleTool}
	for _, res := range results {
		msg.ToolResults = append(msg.ToolResults, model.ToolResult{
			ToolCallID: res.ID,
			Name:       res.Capability,
			Content:    res.Result,
			IsError:    res.IsError,
		})
	}
	c.messages = append(c.messages, msg)
}

// Messages renders the conversation as the ordered message list sent to the
// model, with the system prompt first when set.
func (c *Conversation) Messages() []*model.Message {
	out := make([]*model.Message, 0, len(c.messages)+1)
	if c.system != "" {
		out = append(out, &model.Message{Role: model.RoleSystem, Content: c.system})
	}
	return append(out, c.messages...)
}
