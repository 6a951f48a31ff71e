package conversation

import (
	"context"

	"github.com/samber/oops"

	"followup-engine/backend/internal/ai"
	"followup-engine/backend/internal/signals"
	"followup-engine/backend/internal/store"
)

// Foresights derives heuristic forward-looking labels for a stored conversation.
func (o *Orchestrator) Foresights(ctx context.Context, conversationID uint) ([]signals.Foresight, error) {
	messages, err := o.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, oops.In("foresight").With("conversation_id", conversationID).Wrapf(err, "list messages")
	}

	turns := make([]signals.TurnSignal, 0, len(messages))
	for _, msg := range messages {
		turn := signals.TurnSignal{Sender: msg.Sender, Content: msg.Content}
		if msg.Sender == store.SenderAssistant {
			var decision ai.Decision
			if err := msg.Payload(&decision); err == nil {
				turn.Action = string(decision.Action)
				turn.MoodLabel = string(decision.Mood.Label)
			}
		}
		turns = append(turns, turn)
	}
	return signals.Foresights(turns), nil
}
