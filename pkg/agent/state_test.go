package agent

import (
	"encoding/json"
	"testing"

	"github.com/loomworks/loom/pkg/llm"
)

func TestSessionStateCloneIsDeep(t *testing.T) {
	original := SessionState{
		FileContext: json.RawMessage(`{"tree":["a.go"]}`),
		MainAgent: MainAgentState{
			MessageHistory: []llm.Message{
				llm.UserText("hello"),
				{
					Role: llm.RoleAssistant,
					Parts: []llm.Part{{
						Type: llm.PartToolCall,
						ToolCall: &llm.ToolCall{
							ID:        "c1",
							Name:      "grep",
							Arguments: json.RawMessage(`{"pattern":"x"}`),
						},
					}},
				},
			},
			StepsRemaining: 5,
			CreditsUsed:    1.5,
			Subagents:      []SubagentRecord{{RunID: "s1", Name: "helper", CreditsUsed: 0.5}},
		},
	}

	clone := original.Clone()

	clone.Append(llm.UserText("appended"))
	clone.MainAgent.MessageHistory[0].Parts[0].Text = "mutated"
	clone.MainAgent.MessageHistory[1].Parts[0].ToolCall.Arguments[2] = 'X'
	clone.MainAgent.Subagents[0].Name = "mutated"
	clone.FileContext[1] = 'X'

	if len(original.MainAgent.MessageHistory) != 2 {
		t.Fatal("append to clone leaked into original")
	}
	if original.MainAgent.MessageHistory[0].Parts[0].Text != "hello" {
		t.Fatal("message text aliased between clone and original")
	}
	if string(original.MainAgent.MessageHistory[1].Parts[0].ToolCall.Arguments) != `{"pattern":"x"}` {
		t.Fatal("tool call arguments aliased between clone and original")
	}
	if original.MainAgent.Subagents[0].Name != "helper" {
		t.Fatal("subagent records aliased between clone and original")
	}
	if string(original.FileContext) != `{"tree":["a.go"]}` {
		t.Fatal("file context aliased between clone and original")
	}
}

func TestSessionStateCloneCarriesBookkeeping(t *testing.T) {
	s := SessionState{MainAgent: MainAgentState{StepsRemaining: 7, CreditsUsed: 2.25}}
	c := s.Clone()
	if c.MainAgent.StepsRemaining != 7 || c.MainAgent.CreditsUsed != 2.25 {
		t.Fatalf("bookkeeping lost in clone: %+v", c.MainAgent)
	}
}
