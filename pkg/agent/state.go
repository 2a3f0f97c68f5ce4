// Package agent runs one prompt/response cycle against a model: it builds
// session state, streams the model's normalized events, answers tool calls,
// and returns the next durable state for the following turn.
package agent

import (
	"encoding/json"

	"github.com/loomworks/loom/pkg/llm"
)

// SessionState is the unit of continuity across turns. FileContext is an
// opaque blob owned by the host protocol; the engine only reads and writes
// the message history and the step budget.
type SessionState struct {
	FileContext json.RawMessage `json:"fileContext,omitempty"`
	MainAgent   MainAgentState  `json:"mainAgentState"`
}

// MainAgentState holds the engine-visible run bookkeeping.
type MainAgentState struct {
	MessageHistory []llm.Message `json:"messageHistory"`
	StepsRemaining int           `json:"stepsRemaining"`
	CreditsUsed    float64       `json:"creditsUsed"`
	// Subagents records runs spawned on behalf of this session. The engine
	// carries the records across turns but never mutates past entries.
	Subagents []SubagentRecord `json:"subagents,omitempty"`
	// TerminalOutput carries the last shell output surfaced to the model,
	// when the host wants it echoed into context.
	TerminalOutput string `json:"terminalOutput,omitempty"`
}

// SubagentRecord is the bookkeeping entry for one spawned subagent run.
type SubagentRecord struct {
	RunID       string  `json:"runId"`
	Name        string  `json:"name"`
	CreditsUsed float64 `json:"creditsUsed"`
}

// Clone returns a deep copy. A new run extends a previous run's state by
// cloning it first; the previous run's state is never mutated.
func (s SessionState) Clone() SessionState {
	out := SessionState{MainAgent: s.MainAgent}
	if s.FileContext != nil {
		out.FileContext = append(json.RawMessage(nil), s.FileContext...)
	}
	out.MainAgent.MessageHistory = make([]llm.Message, len(s.MainAgent.MessageHistory))
	for i, m := range s.MainAgent.MessageHistory {
		out.MainAgent.MessageHistory[i] = cloneMessage(m)
	}
	if s.MainAgent.Subagents != nil {
		out.MainAgent.Subagents = append([]SubagentRecord(nil), s.MainAgent.Subagents...)
	}
	return out
}

func cloneMessage(m llm.Message) llm.Message {
	out := m
	out.Parts = make([]llm.Part, len(m.Parts))
	for i, p := range m.Parts {
		cp := p
		if p.ToolCall != nil {
			tc := *p.ToolCall
			tc.Arguments = append(json.RawMessage(nil), p.ToolCall.Arguments...)
			cp.ToolCall = &tc
		}
		if p.ToolResult != nil {
			tr := *p.ToolResult
			cp.ToolResult = &tr
		}
		out.Parts[i] = cp
	}
	return out
}

// Append adds a message to the history.
func (s *SessionState) Append(m llm.Message) {
	s.MainAgent.MessageHistory = append(s.MainAgent.MessageHistory, m)
}

// OutputType tags a run's terminal output.
type OutputType string

const (
	OutputSuccess OutputType = "success"
	OutputError   OutputType = "error"
)

// Output is the terminal result of a run.
type Output struct {
	Type OutputType `json:"type"`
	// Result holds the agent's final payload on success.
	Result map[string]any `json:"result,omitempty"`
	// Text is the final assistant text on success.
	Text string `json:"text,omitempty"`
	// Message and StatusCode describe the failure on error.
	Message    string `json:"message,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// RunState pairs the next session state with the run's terminal output.
// Immutable once returned.
type RunState struct {
	RunID        string       `json:"runId"`
	SessionState SessionState `json:"sessionState"`
	Output       Output       `json:"output"`
}
