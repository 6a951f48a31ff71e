package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Conversation states. No transition leaves ConversationEscalated.
const (
	ConversationActive    = "active"
	ConversationEscalated = "escalated"
	ConversationCompleted = "completed"
)

const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

const (
	TaskTypeEscalation = "escalation"
	TaskStatusOpen     = "open"
	TaskStatusDone     = "done"
)

const (
	DeliverySent     = "sent"
	DeliveryFailed   = "failed"
	DeliveryWithheld = "withheld"
)

// Customer is a policy holder who can be contacted.
type Customer struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Name         string     `gorm:"size:128" json:"name"`
	Phone        string     `gorm:"size:32;index" json:"phone"`
	Email        string     `gorm:"size:256" json:"email"`
	Language     string     `gorm:"size:32" json:"language"`
	ConsentAt    *time.Time `json:"consent_at"`
	DoNotContact bool       `gorm:"index" json:"do_not_contact"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Contactable reports whether automated outreach is allowed.
func (c *Customer) Contactable() bool {
	return c != nil && c.ConsentAt != nil && !c.DoNotContact
}

// Lead is the policy a conversation is about.
type Lead struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	CustomerID        uint       `gorm:"index" json:"customer_id"`
	PolicyID          string     `gorm:"size:64;index" json:"policy_id"`
	PolicyType        string     `gorm:"size:64" json:"policy_type"`
	PolicyValue       float64    `json:"policy_value"`
	DueDate           *time.Time `json:"due_date"`
	OutstandingAmount float64    `json:"outstanding_amount"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Conversation is one automated thread with a customer.
type Conversation struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CustomerID uint      `gorm:"index" json:"customer_id"`
	LeadID     *uint     `gorm:"index" json:"lead_id"`
	AgentType  string    `gorm:"size:32" json:"agent_type"`
	Language   string    `gorm:"size:32" json:"language"`
	Status     string    `gorm:"size:16;index" json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Message is one turn. Assistant turns carry the decision payload and delivery attributes.
type Message struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ConversationID    uint      `gorm:"index" json:"conversation_id"`
	Sender            string    `gorm:"size:16" json:"sender"`
	Content           string    `gorm:"type:text" json:"content"`
	PayloadJSON       string    `gorm:"type:text" json:"-"`
	DeliveryStatus    string    `gorm:"size:16" json:"delivery_status,omitempty"`
	Provider          string    `gorm:"size:32" json:"provider,omitempty"`
	ProviderMessageID string    `gorm:"size:64" json:"provider_message_id,omitempty"`
	DeliveryError     string    `gorm:"size:512" json:"delivery_error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// SetPayload stores the structured decision as JSON.
func (m *Message) SetPayload(payload any) {
	if payload == nil {
		m.PayloadJSON = ""
		return
	}
	encoded, _ := json.Marshal(payload)
	m.PayloadJSON = string(encoded)
}

// Payload decodes the stored JSON into out.
func (m *Message) Payload(out any) error {
	if strings.TrimSpace(m.PayloadJSON) == "" {
		return nil
	}
	return json.Unmarshal([]byte(m.PayloadJSON), out)
}

// Task is work handed to a human, such as an escalation.
type Task struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID *uint     `gorm:"index" json:"conversation_id"`
	InteractionID  *uint     `gorm:"index" json:"interaction_id"`
	CustomerID     uint      `gorm:"index" json:"customer_id"`
	Type           string    `gorm:"size:32" json:"type"`
	Status         string    `gorm:"size:16;index" json:"status"`
	Reason         string    `gorm:"type:text" json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Interaction is an inbound call or SMS transcript awaiting analysis.
type Interaction struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	CustomerID        uint       `gorm:"index" json:"customer_id"`
	Channel           string     `gorm:"size:16" json:"channel"`
	Transcript        string     `gorm:"type:text" json:"transcript"`
	MoodLabel         string     `gorm:"size:16" json:"mood_label,omitempty"`
	MoodConfidence    float64    `json:"mood_confidence,omitempty"`
	SummaryJSON       string     `gorm:"type:text" json:"-"`
	Outcome           string     `gorm:"size:32" json:"outcome,omitempty"`
	OutcomeConfidence float64    `json:"outcome_confidence,omitempty"`
	AnalyzedAt        *time.Time `gorm:"index" json:"analyzed_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// SetSummary stores the summary bullets as JSON.
func (i *Interaction) SetSummary(items []string) {
	if items == nil {
		i.SummaryJSON = "[]"
		return
	}
	payload, _ := json.Marshal(items)
	i.SummaryJSON = string(payload)
}

// Summary returns the decoded summary bullets.
func (i *Interaction) Summary() []string {
	if strings.TrimSpace(i.SummaryJSON) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(i.SummaryJSON), &out); err != nil {
		return nil
	}
	return out
}

// Delivery is the dispatch outcome recorded against an assistant turn.
type Delivery struct {
	Status            string
	Provider          string
	ProviderMessageID string
	Error             string
}

// ConversationContext bundles a conversation with the records its prompt needs.
type ConversationContext struct {
	Conversation Conversation
	Customer     Customer
	Lead         *Lead
}
