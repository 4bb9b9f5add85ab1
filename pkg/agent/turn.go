package agent

import "fmt"

// TurnState is a step of the per-message state machine:
// AwaitingInput -> Thinking -> (ExecutingTools -> Thinking)* -> Responding -> Done.
// Failed is absorbing and publishes nothing.
type TurnState int

const (
	AwaitingInput TurnState = iota
	Thinking
	ExecutingTools
	Responding
	Done
	Failed
)

var turnStateNames = map[TurnState]string{
	AwaitingInput:  "awaiting_input",
	Thinking:       "thinking",
	ExecutingTools: "executing_tools",
	Responding:     "responding",
	Done:           "done",
	Failed:         "failed",
}

func (s TurnState) String() string {
	if name, ok := turnStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TurnState(%d)", int(s))
}

// TurnResult describes a finished turn. Iterations counts executed tool
// batches. Truncated is set when the iteration cap cut the turn short.
type TurnResult struct {
	State      TurnState
	Content    string
	Iterations int
	Truncated  bool
	Err        error
}

func failed(iterations int, err error) TurnResult {
	return TurnResult{State: Failed, Iterations: iterations, Err: err}
}
