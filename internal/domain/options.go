package domain

import (
	"maps"
	"slices"
)

// ToolChoice controls whether and how the model may call tools.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceAny  ToolChoice = "any"
	ToolChoiceNone ToolChoice = "none"
)

// Valid reports whether c is one of the values the service accepts.
func (c ToolChoice) Valid() bool {
	switch c {
	case ToolChoiceAuto, ToolChoiceAny, ToolChoiceNone:
		return true
	}
	return false
}

// ChatOptions controls sampling and tool behavior for one call.
//
// Nil pointers, empty strings and nil slices/maps mean "unset": an unset
// field falls through to the next precedence level during resolution and is
// omitted from the wire request. ChatOptions values are never mutated after
// being handed to a call; ResolveOptions always returns a fresh value.
type ChatOptions struct {
	Model            string
	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	FrequencyPenalty *float64
	PresencePenalty  *float64
	StopSequences    []string
	ResponseFormat   string
	ToolChoice       ToolChoice

	ToolNames     []string
	ToolCallbacks []ToolCallback
	ToolContext   map[string]any

	// InternalToolExecutionEnabled is tri-state: nil means "not specified".
	InternalToolExecutionEnabled *bool
}

// Ptr returns a pointer to a copy of v. Handy for optional option fields.
func Ptr[T any](v T) *T { return &v }

// ToolExecutionEnabled reports the effective internal tool execution flag.
// Unset defaults to enabled.
func (o ChatOptions) ToolExecutionEnabled() bool {
	return o.InternalToolExecutionEnabled == nil || *o.InternalToolExecutionEnabled
}

// Clone returns a deep copy of o. Tool callbacks are shared, the slice is not.
func (o ChatOptions) Clone() ChatOptions {
	out := o
	out.Temperature = clonePtr(o.Temperature)
	out.TopP = clonePtr(o.TopP)
	out.MaxTokens = clonePtr(o.MaxTokens)
	out.FrequencyPenalty = clonePtr(o.FrequencyPenalty)
	out.PresencePenalty = clonePtr(o.PresencePenalty)
	out.InternalToolExecutionEnabled = clonePtr(o.InternalToolExecutionEnabled)
	out.StopSequences = slices.Clone(o.StopSequences)
	out.ToolNames = slices.Clone(o.ToolNames)
	out.ToolCallbacks = slices.Clone(o.ToolCallbacks)
	out.ToolContext = maps.Clone(o.ToolContext)
	return out
}

// ResolveOptions merges three option layers into one independent value.
// Precedence is runtime > promptScoped > defaults; any layer may be nil.
//
// Scalars take the highest-precedence set value. Empty but non-nil slices and
// maps count as set and come back empty rather than nil. Tool names and callbacks are
// an ordered union (first appearance wins, higher layers first); two callbacks
// sharing a name inside the same layer fail with ErrDuplicateToolName. Tool
// context is merged key by key with the higher layer winning.
func ResolveOptions(defaults, promptScoped, runtime *ChatOptions) (ChatOptions, error) {
	levels := []*ChatOptions{runtime, promptScoped, defaults}

	var out ChatOptions
	out.Model = firstString(levels, func(o *ChatOptions) string { return o.Model })
	out.ResponseFormat = firstString(levels, func(o *ChatOptions) string { return o.ResponseFormat })
	out.ToolChoice = ToolChoice(firstString(levels, func(o *ChatOptions) string { return string(o.ToolChoice) }))
	out.Temperature = firstPtr(levels, func(o *ChatOptions) *float64 { return o.Temperature })
	out.TopP = firstPtr(levels, func(o *ChatOptions) *float64 { return o.TopP })
	out.MaxTokens = firstPtr(levels, func(o *ChatOptions) *int { return o.MaxTokens })
	out.FrequencyPenalty = firstPtr(levels, func(o *ChatOptions) *float64 { return o.FrequencyPenalty })
	out.PresencePenalty = firstPtr(levels, func(o *ChatOptions) *float64 { return o.PresencePenalty })
	out.InternalToolExecutionEnabled = firstPtr(levels, func(o *ChatOptions) *bool { return o.InternalToolExecutionEnabled })

	for _, l := range levels {
		if l != nil && l.StopSequences != nil {
			out.StopSequences = slices.Clone(l.StopSequences)
			break
		}
	}

	out.ToolNames = mergeToolNames(levels)

	callbacks, err := mergeToolCallbacks(levels)
	if err != nil {
		return ChatOptions{}, err
	}
	out.ToolCallbacks = callbacks
	out.ToolContext = mergeToolContext(levels)

	return out, nil
}

func firstString(levels []*ChatOptions, get func(*ChatOptions) string) string {
	for _, l := range levels {
		if l == nil {
			continue
		}
		if v := get(l); v != "" {
			return v
		}
	}
	return ""
}

func firstPtr[T any](levels []*ChatOptions, get func(*ChatOptions) *T) *T {
	for _, l := range levels {
		if l == nil {
			continue
		}
		if v := get(l); v != nil {
			return clonePtr(v)
		}
	}
	return nil
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func mergeToolNames(levels []*ChatOptions) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, l := range levels {
		if l == nil || l.ToolNames == nil {
			continue
		}
		if out == nil {
			out = []string{}
		}
		for _, name := range l.ToolNames {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

func mergeToolCallbacks(levels []*ChatOptions) ([]ToolCallback, error) {
	var out []ToolCallback
	seen := make(map[string]struct{})
	for _, l := range levels {
		if l == nil || l.ToolCallbacks == nil {
			continue
		}
		if out == nil {
			out = []ToolCallback{}
		}
		local := make(map[string]struct{}, len(l.ToolCallbacks))
		for _, cb := range l.ToolCallbacks {
			name := cb.Definition().Name
			if _, dup := local[name]; dup {
				return nil, NewDomainError("ResolveOptions", ErrDuplicateToolName, name)
			}
			local[name] = struct{}{}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, cb)
		}
	}
	return out, nil
}

func mergeToolContext(levels []*ChatOptions) map[string]any {
	var out map[string]any
	// Lowest precedence first so higher layers overwrite.
	for i := len(levels) - 1; i >= 0; i-- {
		l := levels[i]
		if l == nil || l.ToolContext == nil {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(l.ToolContext))
		}
		maps.Copy(out, l.ToolContext)
	}
	return out
}
