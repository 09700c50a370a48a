package qianfan

import "log/slog"

// CallState is a stage in the life of one completion call.
type CallState string

const (
	StateBuildingRequest  CallState = "building_request"
	StateAwaitingResponse CallState = "awaiting_response"
	StateResponseReceived CallState = "response_received"
	StateReceivingChunks  CallState = "receiving_chunks"
	StateChunkAggregation CallState = "chunk_aggregation"
	StateToolCheck        CallState = "tool_check"
	StateExecutingTools   CallState = "executing_tools"
	StateResponseReady    CallState = "response_ready"
	StateFailed           CallState = "failed"
)

var terminalStates = map[CallState]bool{
	StateResponseReady: true,
	StateFailed:        true,
}

// forwardTransitions lists the non-failure successors of each state.
var forwardTransitions = map[CallState][]CallState{
	StateBuildingRequest:  {StateAwaitingResponse},
	StateAwaitingResponse: {StateAwaitingResponse, StateResponseReceived, StateReceivingChunks},
	StateResponseReceived: {StateToolCheck},
	StateReceivingChunks:  {StateChunkAggregation},
	StateChunkAggregation: {StateToolCheck},
	StateToolCheck:        {StateExecutingTools, StateResponseReady},
	StateExecutingTools:   {StateResponseReady},
}

// IsTerminal returns true if the state is a terminal (absorbing) state.
func (s CallState) IsTerminal() bool {
	return terminalStates[s]
}

// CanTransitionTo checks whether a transition from s to next is valid.
func (s CallState) CanTransitionTo(next CallState) bool {
	if s.IsTerminal() {
		return false
	}
	// Any non-terminal state can fail.
	if next == StateFailed {
		return true
	}
	for _, allowed := range forwardTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StateHook observes state transitions of a call.
type StateHook func(callID string, from, to CallState)

// callState tracks one call. It is owned by a single goroutine at a time.
type callState struct {
	id      string
	current CallState
	hook    StateHook
	logger  *slog.Logger
}

func newCallState(id string, hook StateHook, logger *slog.Logger) *callState {
	return &callState{id: id, current: StateBuildingRequest, hook: hook, logger: logger}
}

// to moves the call to next. An invalid transition is logged and ignored.
func (c *callState) to(next CallState) {
	if !c.current.CanTransitionTo(next) {
		c.logger.Error("invalid call state transition", "call_id", c.id, "from", c.current, "to", next)
		return
	}
	from := c.current
	c.current = next
	c.logger.Debug("call state", "call_id", c.id, "from", from, "to", next)
	if c.hook != nil {
		c.hook(c.id, from, next)
	}
}

// fail moves the call to StateFailed unless it already ended.
func (c *callState) fail() {
	if !c.current.IsTerminal() {
		c.to(StateFailed)
	}
}
