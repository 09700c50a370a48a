package domain

import "time"

// Usage tracks token consumption.
//
// A Usage is either reported by the service or absent. The absent value
// (EmptyUsage) is distinct from a reported all-zero usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	reported bool
}

// NewUsage returns a reported usage.
func NewUsage(prompt, completion, total int) Usage {
	return Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total, reported: true}
}

// EmptyUsage returns the absent-usage sentinel.
func EmptyUsage() Usage { return Usage{} }

// IsEmpty reports whether the usage was absent from the service response.
func (u Usage) IsEmpty() bool { return !u.reported }

// GenerationMetadata describes one generation.
type GenerationMetadata struct {
	ID           string
	Role         string
	FinishReason string
	Created      time.Time
	Index        int
	Flag         int
	// ToolName is set on generations built from tool responses.
	ToolName string
}

// Generation is one candidate output of a completion.
type Generation struct {
	Message  Message
	Metadata GenerationMetadata
}

// ResponseMetadata describes a whole completion.
type ResponseMetadata struct {
	ID      string
	Model   string
	Object  string
	Created time.Time
	Usage   Usage
	// Result carries the provider's plain-text result field when present.
	Result string
}

// ChatResponse is the outcome of a completion call. Zero generations is a
// valid, degraded-success outcome.
type ChatResponse struct {
	Generations []Generation
	Metadata    ResponseMetadata
}

// Result returns the first generation, or nil when there is none.
func (r *ChatResponse) Result() *Generation {
	if r == nil || len(r.Generations) == 0 {
		return nil
	}
	return &r.Generations[0]
}

// Content returns the first generation's text, or "".
func (r *ChatResponse) Content() string {
	if g := r.Result(); g != nil {
		return g.Message.Content
	}
	return ""
}

// HasToolCalls reports whether any generation requests a tool call.
func (r *ChatResponse) HasToolCalls() bool {
	if r == nil {
		return false
	}
	for _, g := range r.Generations {
		if g.Message.HasToolCalls() {
			return true
		}
	}
	return false
}
