package chat

import "github.com/khuzaima-ocs/Synapse/internal/domain"

// projectHistory turns a loaded window of turns into model messages. A tool
// turn is only kept when the assistant turn that requested it was kept, and an
// assistant tool-call turn is only kept when every call it carries is answered
// by the tool turns that directly follow it. This drops orphans at the start of
// the window and half-written rounds anywhere in it.
func projectHistory(turns []domain.Turn) []domain.ModelMessage {
	out := make([]domain.ModelMessage, 0, len(turns))
	for i := 0; i < len(turns); i++ {
		turn := turns[i]
		switch turn.Role {
		case domain.RoleTool:
			continue
		case domain.RoleAssistant:
			if len(turn.ToolCalls) == 0 {
				out = append(out, turn.ModelMessage())
				continue
			}
			answers, ok := answeredBy(turn.ToolCalls, turns[i+1:])
			if !ok {
				continue
			}
			out = append(out, turn.ModelMessage())
			for _, answer := range answers {
				out = append(out, answer.ModelMessage())
			}
			i += len(answers)
		case domain.RoleSystem:
			// Instructions are injected per request and never replayed from storage.
			continue
		default:
			out = append(out, turn.ModelMessage())
		}
	}
	return out
}

func answeredBy(calls []domain.ToolCallRequest, rest []domain.Turn) ([]domain.Turn, bool) {
	if len(rest) < len(calls) {
		return nil, false
	}
	pending := make(map[string]struct{}, len(calls))
	for _, call := range calls {
		pending[call.ID] = struct{}{}
	}
	answers := rest[:len(calls)]
	for _, answer := range answers {
		if answer.Role != domain.RoleTool {
			return nil, false
		}
		if _, ok := pending[answer.ToolCallID]; !ok {
			return nil, false
		}
		delete(pending, answer.ToolCallID)
	}
	return answers, len(pending) == 0
}
