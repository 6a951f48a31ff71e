package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"followup-engine/backend/internal/ai"
	"followup-engine/backend/internal/messaging"
	"followup-engine/backend/internal/prompts"
	"followup-engine/backend/internal/store"
	"followup-engine/backend/internal/util"
)

const (
	// DefaultHistoryWindow is how many recent turns are sent to the model.
	DefaultHistoryWindow = 8

	outboundSeed    = "Start the conversation with a greeting and introduction."
	defaultLanguage = "English"
)

// ErrNotEligible rejects turns for customers who never consented or asked not to be contacted.
var ErrNotEligible = errors.New("customer is not eligible for automated contact")

// Result summarises one processed turn.
type Result struct {
	Action    ai.Action  `json:"action"`
	Mood      ai.Mood    `json:"mood"`
	Outcome   ai.Outcome `json:"outcome"`
	Escalated bool       `json:"escalated"`
	Reply     string     `json:"reply,omitempty"`
	Origin    ai.Origin  `json:"origin,omitempty"`
}

// Orchestrator drives conversation turns through the decision source, the
// escalation policy, persistence and dispatch. Callers serialise turns per conversation.
type Orchestrator struct {
	repo       Repository
	decisions  DecisionSource
	prompts    PromptResolver
	dispatcher messaging.Dispatcher
	events     Notifier
	window     int
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier publishes turn events to n.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.events = n
		}
	}
}

// WithHistoryWindow overrides how many recent turns feed the model.
func WithHistoryWindow(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.window = n
		}
	}
}

// New builds an Orchestrator over its persistence, decision source, prompts and dispatcher.
func New(repo Repository, decisions DecisionSource, resolver PromptResolver, dispatcher messaging.Dispatcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:       repo,
		decisions:  decisions,
		prompts:    resolver,
		dispatcher: dispatcher,
		events:     nopNotifier{},
		window:     DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleTurn records an inbound customer message and produces the assistant's response.
func (o *Orchestrator) HandleTurn(ctx context.Context, conversationID uint, userText, language string) (Result, error) {
	errb := oops.In("orchestrator").With("conversation_id", conversationID)

	convo, err := o.repo.LoadConversation(ctx, conversationID)
	if err != nil {
		return Result{}, errb.Wrapf(err, "load conversation")
	}
	if !convo.Customer.Contactable() {
		return Result{}, ErrNotEligible
	}

	userTurn := &store.Message{ConversationID: conversationID, Sender: store.SenderUser, Content: userText}
	if convo.Conversation.Status != store.ConversationActive {
		if err := o.repo.AppendMessage(context.WithoutCancel(ctx), userTurn); err != nil {
			return Result{}, errb.Wrapf(err, "append user turn")
		}
		logrus.WithFields(logrus.Fields{
			"conversation_id": conversationID,
			"status":          convo.Conversation.Status,
		}).Info("conversation handed off, recorded turn without automated reply")
		return Result{Escalated: convo.Conversation.Status == store.ConversationEscalated}, nil
	}

	agent, history, err := o.history(context.WithoutCancel(ctx), convo, o.window-1)
	if err != nil {
		return Result{}, errb.Wrapf(err, "build history")
	}
	history = append(history, ai.Message{Role: ai.RoleUser, Content: userText})
	return o.respond(ctx, convo, userTurn, agent, history, language)
}

// StartOutbound opens a conversation with an agent-initiated greeting.
func (o *Orchestrator) StartOutbound(ctx context.Context, conversationID uint, language string) (Result, error) {
	errb := oops.In("orchestrator").With("conversation_id", conversationID).With("outbound", true)

	convo, err := o.repo.LoadConversation(ctx, conversationID)
	if err != nil {
		return Result{}, errb.Wrapf(err, "load conversation")
	}
	if !convo.Customer.Contactable() {
		return Result{}, ErrNotEligible
	}
	if convo.Conversation.Status != store.ConversationActive {
		return Result{}, errb.Errorf("conversation is %s", convo.Conversation.Status)
	}

	agent, history, err := o.history(ctx, convo, o.window)
	if err != nil {
		return Result{}, errb.Wrapf(err, "build history")
	}
	history = append(history, ai.Message{Role: ai.RoleUser, Content: outboundSeed})
	return o.respond(ctx, convo, nil, agent, history, language)
}

// respond decides on ctx. The commit and dispatch ignore caller cancellation.
func (o *Orchestrator) respond(ctx context.Context, convo *store.ConversationContext, userTurn *store.Message, agent prompts.AgentType, history []ai.Message, language string) (Result, error) {
	timer := util.StartTimer()
	conversationID := convo.Conversation.ID
	errb := oops.In("orchestrator").With("conversation_id", conversationID)
	logger := logrus.WithField("conversation_id", conversationID)

	decision := o.decisions.GetDecision(ctx, history, agent, resolveLanguage(language, convo))
	timer.Lap("decision")
	ctx = context.WithoutCancel(ctx)
	escalate := ShouldEscalate(decision)

	assistantTurn := &store.Message{
		ConversationID: conversationID,
		Sender:         store.SenderAssistant,
		Content:        decision.ReplyText,
	}
	assistantTurn.SetPayload(decision)

	var task *store.Task
	if escalate {
		assistantTurn.DeliveryStatus = store.DeliveryWithheld
		task = &store.Task{
			ConversationID: &convo.Conversation.ID,
			CustomerID:     convo.Customer.ID,
			Type:           store.TaskTypeEscalation,
			Status:         store.TaskStatusOpen,
			Reason: fmt.Sprintf("Escalated due to %s action or negative mood (confidence: %.2f)",
				decision.Action, decision.Mood.Confidence),
		}
	}
	if err := o.repo.CommitTurn(ctx, userTurn, assistantTurn, task); err != nil {
		return Result{}, errb.Wrapf(err, "commit turn")
	}
	timer.Lap("commit")

	result := Result{
		Action:    decision.Action,
		Mood:      decision.Mood,
		Outcome:   decision.Outcome,
		Escalated: escalate,
		Reply:     decision.ReplyText,
		Origin:    decision.Origin,
	}

	if escalate {
		logger.WithFields(logrus.Fields{
			"action":          decision.Action,
			"mood":            decision.Mood.Label,
			"mood_confidence": decision.Mood.Confidence,
		}).Warn("conversation escalated to a human agent")
		o.events.Publish(Event{Type: EventEscalated, ConversationID: conversationID, Action: decision.Action, Escalated: true})
		return result, nil
	}

	o.dispatch(ctx, convo, assistantTurn)
	timer.Lap("dispatch")
	logger.WithFields(timer.Fields()).WithFields(logrus.Fields{
		"action": decision.Action,
		"origin": decision.Origin,
	}).Info("conversation turn processed")
	o.events.Publish(Event{Type: EventTurnProcessed, ConversationID: conversationID, Action: decision.Action})
	return result, nil
}

// dispatch sends the reply and records the outcome. Failures never undo the committed turn.
func (o *Orchestrator) dispatch(ctx context.Context, convo *store.ConversationContext, turn *store.Message) {
	logger := logrus.WithField("conversation_id", convo.Conversation.ID)

	sent := o.dispatcher.Send(ctx, messaging.Outbound{
		To:             convo.Customer.Phone,
		Body:           turn.Content,
		ConversationID: convo.Conversation.ID,
	})

	delivery := store.Delivery{
		Status:            store.DeliverySent,
		Provider:          sent.Provider,
		ProviderMessageID: sent.MessageID,
	}
	if !sent.Success {
		delivery.Status = store.DeliveryFailed
		delivery.Error = sent.Error
		logger.WithField("error", sent.Error).Warn("reply delivery failed")
		o.events.Publish(Event{Type: EventDeliveryFailed, ConversationID: convo.Conversation.ID, Detail: sent.Error})
	}

	if err := o.repo.RecordDelivery(ctx, turn.ID, delivery); err != nil {
		logger.WithError(err).Error("record delivery result")
	}
}

// history assembles the filled system prompt plus up to limit recent turns, oldest first.
func (o *Orchestrator) history(ctx context.Context, convo *store.ConversationContext, limit int) (prompts.AgentType, []ai.Message, error) {
	agent, err := prompts.ParseAgentType(convo.Conversation.AgentType)
	if err != nil {
		return "", nil, err
	}
	template, err := o.prompts.Prompt(agent)
	if err != nil {
		return "", nil, err
	}
	var recent []store.Message
	if limit > 0 {
		recent, err = o.repo.RecentMessages(ctx, convo.Conversation.ID, limit)
		if err != nil {
			return "", nil, fmt.Errorf("load recent turns: %w", err)
		}
	}

	history := make([]ai.Message, 0, len(recent)+2)
	history = append(history, ai.Message{Role: ai.RoleSystem, Content: o.prompts.Fill(template, promptContext(convo))})
	for _, msg := range recent {
		role := ai.RoleAssistant
		if msg.Sender == store.SenderUser {
			role = ai.RoleUser
		}
		history = append(history, ai.Message{Role: role, Content: msg.Content})
	}
	return agent, history, nil
}

func promptContext(convo *store.ConversationContext) map[string]any {
	values := map[string]any{
		"customer_name": convo.Customer.Name,
	}
	if lead := convo.Lead; lead != nil {
		values["policy_id"] = lead.PolicyID
		values["policy_type"] = lead.PolicyType
		values["outstanding_amount"] = lead.OutstandingAmount
		values["policy_value"] = lead.PolicyValue
		if lead.DueDate != nil {
			values["due_date"] = lead.DueDate.Format("2006-01-02")
		}
	}
	return values
}

func resolveLanguage(language string, convo *store.ConversationContext) string {
	for _, candidate := range []string{language, convo.Conversation.Language, convo.Customer.Language} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return defaultLanguage
}
