package api

import (
	"time"

	"followup-engine/backend/internal/ai"
	"followup-engine/backend/internal/store"
)

// CustomerRequest creates a contactable customer. Consent stamps the consent time.
type CustomerRequest struct {
	Name         string `json:"name" binding:"required"`
	Phone        string `json:"phone" binding:"required,e164"`
	Email        string `json:"email" binding:"omitempty,email"`
	Language     string `json:"language"`
	Consent      bool   `json:"consent"`
	DoNotContact bool   `json:"do_not_contact"`
}

// LeadRequest attaches a policy to a customer.
type LeadRequest struct {
	CustomerID        uint    `json:"customer_id" binding:"required"`
	PolicyID          string  `json:"policy_id" binding:"required"`
	PolicyType        string  `json:"policy_type"`
	PolicyValue       float64 `json:"policy_value" binding:"gte=0"`
	DueDate           string  `json:"due_date" binding:"omitempty,datetime=2006-01-02"`
	OutstandingAmount float64 `json:"outstanding_amount" binding:"gte=0"`
}

// ConversationRequest opens a conversation for a customer.
type ConversationRequest struct {
	CustomerID uint   `json:"customer_id" binding:"required"`
	LeadID     *uint  `json:"lead_id"`
	AgentType  string `json:"agent_type" binding:"required"`
	Language   string `json:"language"`
}

// MessageRequest carries an inbound customer turn.
type MessageRequest struct {
	Text     string `json:"text" binding:"required"`
	Language string `json:"language"`
}

// StartRequest asks the agent to open the conversation.
type StartRequest struct {
	Language string `json:"language"`
}

// InteractionRequest stores an inbound call or SMS transcript for analysis.
type InteractionRequest struct {
	CustomerID uint   `json:"customer_id" binding:"required"`
	Channel    string `json:"channel" binding:"required,oneof=call sms"`
	Transcript string `json:"transcript" binding:"required"`
}

// JobResponse acknowledges queued background work.
type JobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// MessageDTO is the API representation of a stored turn.
type MessageDTO struct {
	ID             uint         `json:"id"`
	Sender         string       `json:"sender"`
	Content        string       `json:"content"`
	Decision       *ai.Decision `json:"decision,omitempty"`
	DeliveryStatus string       `json:"delivery_status,omitempty"`
	Provider       string       `json:"provider,omitempty"`
	DeliveryError  string       `json:"delivery_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ConversationDTO bundles a conversation with its turns.
type ConversationDTO struct {
	ID         uint         `json:"id"`
	CustomerID uint         `json:"customer_id"`
	LeadID     *uint        `json:"lead_id"`
	AgentType  string       `json:"agent_type"`
	Language   string       `json:"language"`
	Status     string       `json:"status"`
	Messages   []MessageDTO `json:"messages"`
	CreatedAt  time.Time    `json:"created_at"`
}

// InteractionDTO is the API representation of an inbound interaction and its analysis.
type InteractionDTO struct {
	ID                uint       `json:"id"`
	CustomerID        uint       `json:"customer_id"`
	Channel           string     `json:"channel"`
	Transcript        string     `json:"transcript"`
	MoodLabel         string     `json:"mood_label,omitempty"`
	MoodConfidence    float64    `json:"mood_confidence"`
	Summary           []string   `json:"summary"`
	Outcome           string     `json:"outcome,omitempty"`
	OutcomeConfidence float64    `json:"outcome_confidence"`
	AnalyzedAt        *time.Time `json:"analyzed_at"`
}

// TasksResponse lists human follow-up tasks.
type TasksResponse struct {
	Items []store.Task `json:"items"`
	Total int          `json:"total"`
}

// MessageFromModel converts a store.Message, decoding the decision payload on assistant turns.
func MessageFromModel(m store.Message) MessageDTO {
	dto := MessageDTO{
		ID:             m.ID,
		Sender:         m.Sender,
		Content:        m.Content,
		DeliveryStatus: m.DeliveryStatus,
		Provider:       m.Provider,
		DeliveryError:  m.DeliveryError,
		CreatedAt:      m.CreatedAt,
	}
	if m.PayloadJSON != "" {
		var decision ai.Decision
		if err := m.Payload(&decision); err == nil {
			dto.Decision = &decision
		}
	}
	return dto
}

// ConversationFromModel converts a conversation and its turns.
func ConversationFromModel(c store.Conversation, messages []store.Message) ConversationDTO {
	dtos := make([]MessageDTO, 0, len(messages))
	for _, msg := range messages {
		dtos = append(dtos, MessageFromModel(msg))
	}
	return ConversationDTO{
		ID:         c.ID,
		CustomerID: c.CustomerID,
		LeadID:     c.LeadID,
		AgentType:  c.AgentType,
		Language:   c.Language,
		Status:     c.Status,
		Messages:   dtos,
		CreatedAt:  c.CreatedAt,
	}
}

// InteractionFromModel converts a store.Interaction.
func InteractionFromModel(i store.Interaction) InteractionDTO {
	summary := i.Summary()
	if summary == nil {
		summary = []string{}
	}
	return InteractionDTO{
		ID:                i.ID,
		CustomerID:        i.CustomerID,
		Channel:           i.Channel,
		Transcript:        i.Transcript,
		MoodLabel:         i.MoodLabel,
		MoodConfidence:    round2(i.MoodConfidence),
		Summary:           summary,
		Outcome:           i.Outcome,
		OutcomeConfidence: round2(i.OutcomeConfidence),
		AnalyzedAt:        i.AnalyzedAt,
	}
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
