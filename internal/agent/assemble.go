package agent

import (
	"github.com/nugget/furrow/internal/llm"
	"github.com/nugget/furrow/internal/memory"
	"github.com/nugget/furrow/internal/prompts"
)

// buildMessages assembles the model input for a turn in fixed order:
// the four policy texts, the context block, replayed history, then the
// new user message.
func buildMessages(policy prompts.Policy, retrieved string, history []memory.Record, userMessage string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+6)
	msgs = append(msgs,
		llm.Message{Role: llm.RoleSystem, Content: policy.System},
		llm.Message{Role: llm.RoleDeveloper, Content: policy.Developer},
		llm.Message{Role: llm.RoleDeveloper, Content: policy.ToolUse},
		llm.Message{Role: llm.RoleDeveloper, Content: policy.RefusalStyle},
		llm.Message{Role: llm.RoleDeveloper, Content: prompts.ContextBlock(retrieved)},
	)
	msgs = append(msgs, replayHistory(history)...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userMessage})
	return msgs
}

// replayHistory converts stored records to model messages. System and
// developer records never come from history; policy is always current.
func replayHistory(history []memory.Record) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, r := range history {
		switch r.Role {
		case llm.RoleSystem, llm.RoleDeveloper:
			continue
		}
		out = append(out, llm.Message{
			Role:       r.Role,
			Name:       r.Name,
			Content:    r.Content,
			ToolCallID: r.ToolCallID,
		})
	}
	return out
}
