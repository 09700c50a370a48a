package domain

import "context"

// ToolDefinition describes a tool for the function-calling protocol.
// InputSchema is a JSON-schema document kept as a raw string.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema string `json:"input_schema"`
}

// ToolCallback is a tool the model can invoke.
type ToolCallback interface {
	Definition() ToolDefinition
	// Call runs the tool with the model-supplied JSON arguments.
	Call(ctx context.Context, arguments string, toolContext map[string]any) (string, error)
}

// ToolExecutionResult is the outcome of one tool-execution round.
type ToolExecutionResult struct {
	// ConversationHistory is the prompt conversation followed by the assistant
	// message that requested the tools and one tool response per call.
	ConversationHistory []Message
	ReturnDirect        bool
}

// ToolCallingManager resolves tool definitions and executes model-requested tool calls.
type ToolCallingManager interface {
	ResolveToolDefinitions(opts ChatOptions) ([]ToolDefinition, error)
	IsToolExecutionRequired(opts ChatOptions, resp *ChatResponse) bool
	ExecuteToolCalls(ctx context.Context, prompt Prompt, resp *ChatResponse) (*ToolExecutionResult, error)
}

// FinishReasonReturnDirect marks generations built from tool responses.
const FinishReasonReturnDirect = "returnDirect"

// BuildGenerations turns the trailing tool responses of a tool-execution
// result into generations, one per tool call, preserving call order.
func BuildGenerations(result *ToolExecutionResult) []Generation {
	if result == nil {
		return nil
	}
	history := result.ConversationHistory
	start := len(history)
	for start > 0 && history[start-1].Role == RoleTool {
		start--
	}

	gens := make([]Generation, 0, len(history)-start)
	for i, msg := range history[start:] {
		gens = append(gens, Generation{
			Message: AssistantMessage(msg.Content),
			Metadata: GenerationMetadata{
				ID:           msg.ToolCallID,
				Role:         RoleAssistant,
				FinishReason: FinishReasonReturnDirect,
				Index:        i,
				ToolName:     msg.Name,
			},
		})
	}
	return gens
}
