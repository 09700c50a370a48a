package domain

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolTypeFunction is the only tool call kind the service emits.
const ToolTypeFunction = "function"

// Message represents a single message in a conversation.
// An empty Content is sent to the provider as an absent value.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// HasToolCalls reports whether the message carries at least one tool call.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// SystemMessage is shorthand for a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage is shorthand for a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage is shorthand for an assistant-role message.
func AssistantMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResponseMessage carries the result of one tool call back into the conversation.
func ToolResponseMessage(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Name: call.Name, ToolCallID: call.ID, Content: content}
}

// Prompt is an ordered conversation plus its prompt-scoped options.
type Prompt struct {
	Messages []Message
	Options  *ChatOptions
}

// NewPrompt creates a prompt with no prompt-scoped options.
func NewPrompt(msgs ...Message) Prompt {
	return Prompt{Messages: msgs}
}

// WithOptions returns a copy of the prompt carrying opts.
func (p Prompt) WithOptions(opts ChatOptions) Prompt {
	p.Options = &opts
	return p
}
