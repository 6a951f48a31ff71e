package conversation

import (
	"context"

	"followup-engine/backend/internal/ai"
	"followup-engine/backend/internal/prompts"
	"followup-engine/backend/internal/store"
)

// Repository is the persistence the orchestrator needs.
type Repository interface {
	LoadConversation(ctx context.Context, id uint) (*store.ConversationContext, error)
	AppendMessage(ctx context.Context, message *store.Message) error
	RecentMessages(ctx context.Context, conversationID uint, limit int) ([]store.Message, error)
	ListMessages(ctx context.Context, conversationID uint) ([]store.Message, error)
	CommitTurn(ctx context.Context, userTurn, assistantTurn *store.Message, escalation *store.Task) error
	RecordDelivery(ctx context.Context, messageID uint, delivery store.Delivery) error
	GetInteraction(ctx context.Context, id uint) (*store.Interaction, error)
	SaveInteraction(ctx context.Context, interaction *store.Interaction, escalation *store.Task) error
}

// DecisionSource produces a decision for a conversation history. It never fails.
type DecisionSource interface {
	GetDecision(ctx context.Context, history []ai.Message, agentType prompts.AgentType, language string) ai.Decision
}

// PromptResolver returns and fills the system prompt template for an agent type.
type PromptResolver interface {
	Prompt(agent prompts.AgentType) (string, error)
	Fill(template string, values map[string]any) string
}

// Event types published after a turn.
const (
	EventTurnProcessed  = "turn_processed"
	EventEscalated      = "escalated"
	EventDeliveryFailed = "delivery_failed"
	EventInteraction    = "interaction_analyzed"
)

// Event is a notification about conversation activity.
type Event struct {
	Type           string    `json:"type"`
	ConversationID uint      `json:"conversation_id,omitempty"`
	InteractionID  uint      `json:"interaction_id,omitempty"`
	Action         ai.Action `json:"action,omitempty"`
	Escalated      bool      `json:"escalated"`
	Detail         string    `json:"detail,omitempty"`
}

// Notifier receives events. Publish must not block.
type Notifier interface {
	Publish(event Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(Event) {}
