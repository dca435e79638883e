package llm

import "strings"

// fillerTurn keeps strict alternation where the conversation has none.
const fillerTurn = "_"

// systemPrefix marks system turns folded into user turns.
const systemPrefix = "SYSTEM: "

// NormalizeTurns reshapes a conversation for servers that insist on strictly
// alternating user/assistant turns starting with a user turn.
//
// Content is trimmed. System turns become user turns prefixed with
// "SYSTEM: ". Consecutive user turns are merged, consecutive assistant turns
// are separated by a "_" user turn, and a leading "_" user turn is inserted
// when the conversation does not start with the user.
func NormalizeTurns(turns []Message) []Message {
	out := make([]Message, 0, len(turns)+1)
	for _, t := range turns {
		msg := Message{Role: t.Role, Content: strings.TrimSpace(t.Content), Parts: t.Parts}
		if msg.Role == RoleSystem {
			msg.Role = RoleUser
			msg.Content = systemPrefix + msg.Content
		}

		if n := len(out); n > 0 {
			prev := &out[n-1]
			switch {
			case msg.Role == RoleUser && prev.Role == RoleUser && len(msg.Parts) == 0 && len(prev.Parts) == 0:
				prev.Content += "\n" + msg.Content
				continue
			case msg.Role == RoleAssistant && prev.Role == RoleAssistant:
				out = append(out, Message{Role: RoleUser, Content: fillerTurn})
			}
		}
		out = append(out, msg)
	}

	if len(out) == 0 || out[0].Role != RoleUser {
		out = append([]Message{{Role: RoleUser, Content: fillerTurn}}, out...)
	}
	return out
}
