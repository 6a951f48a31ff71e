package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"followup-engine/backend/internal/ai"
	"followup-engine/backend/internal/messaging"
	"followup-engine/backend/internal/prompts"
	"followup-engine/backend/internal/store"
)

type memoryRepo struct {
	mu           sync.Mutex
	convo        store.ConversationContext
	messages     []store.Message
	tasks        []store.Task
	deliveries   map[uint]store.Delivery
	interactions map[uint]*store.Interaction
	commitErr    error
}

func newMemoryRepo(customer store.Customer) *memoryRepo {
	return &memoryRepo{
		convo: store.ConversationContext{
			Conversation: store.Conversation{ID: 1, CustomerID: customer.ID, AgentType: "renewal", Language: "English", Status: store.ConversationActive},
			Customer:     customer,
			Lead:         &store.Lead{ID: 3, CustomerID: customer.ID, PolicyID: "POL-77", OutstandingAmount: 250},
		},
		deliveries:   map[uint]store.Delivery{},
		interactions: map[uint]*store.Interaction{},
	}
}

func (r *memoryRepo) LoadConversation(_ context.Context, id uint) (*store.ConversationContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != r.convo.Conversation.ID {
		return nil, store.ErrNotFound
	}
	copied := r.convo
	return &copied, nil
}

func (r *memoryRepo) AppendMessage(_ context.Context, message *store.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	message.ID = uint(len(r.messages) + 1)
	r.messages = append(r.messages, *message)
	return nil
}

func (r *memoryRepo) RecentMessages(_ context.Context, _ uint, limit int) ([]store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := 0
	if len(r.messages) > limit {
		start = len(r.messages) - limit
	}
	return append([]store.Message(nil), r.messages[start:]...), nil
}

func (r *memoryRepo) ListMessages(_ context.Context, _ uint) ([]store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Message(nil), r.messages...), nil
}

func (r *memoryRepo) CommitTurn(_ context.Context, userTurn, assistantTurn *store.Message, escalation *store.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	for _, message := range []*store.Message{userTurn, assistantTurn} {
		if message == nil {
			continue
		}
		message.ID = uint(len(r.messages) + 1)
		r.messages = append(r.messages, *message)
	}
	if escalation != nil {
		r.convo.Conversation.Status = store.ConversationEscalated
		r.tasks = append(r.tasks, *escalation)
	}
	return nil
}

func (r *memoryRepo) RecordDelivery(_ context.Context, messageID uint, delivery store.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries[messageID] = delivery
	return nil
}

func (r *memoryRepo) GetInteraction(_ context.Context, id uint) (*store.Interaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	interaction, ok := r.interactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *interaction
	return &copied, nil
}

func (r *memoryRepo) SaveInteraction(_ context.Context, interaction *store.Interaction, escalation *store.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interactions[interaction.ID] = interaction
	if escalation != nil {
		r.tasks = append(r.tasks, *escalation)
	}
	return nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	sent   []messaging.Outbound
	result messaging.Result
}

func (d *recordingDispatcher) Name() string { return "recording" }

func (d *recordingDispatcher) Send(_ context.Context, msg messaging.Outbound) messaging.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	return d.result
}

type staticDecisions struct {
	decision ai.Decision
	history  []ai.Message
	language string
}

func (s *staticDecisions) GetDecision(_ context.Context, history []ai.Message, _ prompts.AgentType, language string) ai.Decision {
	s.history = history
	s.language = language
	return s.decision
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Publish(event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func consentedCustomer() store.Customer {
	consent := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return store.Customer{ID: 9, Name: "Ana", Phone: "+15550001", ConsentAt: &consent}
}

func newFixture(t *testing.T, decisions DecisionSource) (*Orchestrator, *memoryRepo, *recordingDispatcher, *recordingNotifier) {
	t.Helper()
	resolver, err := prompts.NewResolver()
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	repo := newMemoryRepo(consentedCustomer())
	dispatcher := &recordingDispatcher{result: messaging.Result{Success: true, MessageID: "SM1", Status: "sent", Provider: "recording"}}
	notifier := &recordingNotifier{}
	return New(repo, decisions, resolver, dispatcher, WithNotifier(notifier)), repo, dispatcher, notifier
}

func TestShouldEscalate(t *testing.T) {
	tests := []struct {
		name     string
		decision ai.Decision
		want     bool
	}{
		{"escalate action with positive mood", ai.Decision{Action: ai.ActionEscalate, Mood: ai.Mood{Label: ai.MoodReceptive, Confidence: 0.9}}, true},
		{"strong negative mood", ai.Decision{Action: ai.ActionReply, Mood: ai.Mood{Label: ai.MoodNegative, Confidence: 0.8}}, true},
		{"threshold negative mood", ai.Decision{Action: ai.ActionReply, Mood: ai.Mood{Label: ai.MoodNegative, Confidence: 0.7}}, true},
		{"weak negative mood", ai.Decision{Action: ai.ActionReply, Mood: ai.Mood{Label: ai.MoodNegative, Confidence: 0.5}}, false},
		{"neutral reply", ai.Decision{Action: ai.ActionReply, Mood: ai.Mood{Label: ai.MoodNeutral, Confidence: 0.9}}, false},
		{"payment request", ai.Decision{Action: ai.ActionRequestPayment, Mood: ai.Mood{Label: ai.MoodReceptive, Confidence: 0.7}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldEscalate(tc.decision); got != tc.want {
				t.Fatalf("expected %v got %v", tc.want, got)
			}
		})
	}
}

func TestHandleTurnNegativeFallbackEscalates(t *testing.T) {
	orchestrator, repo, dispatcher, notifier := newFixture(t, ai.NewGateway(nil))

	result, err := orchestrator.HandleTurn(context.Background(), 1, "I want to cancel, this is terrible", "")
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}

	if result.Mood.Label != ai.MoodNegative || result.Mood.Confidence != 0.8 {
		t.Fatalf("unexpected mood %+v", result.Mood)
	}
	if result.Action != ai.ActionEscalate || result.Outcome.Label != ai.OutcomeEscalate || !result.Escalated {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(dispatcher.sent) != 0 {
		t.Fatalf("escalated turn must not be dispatched")
	}
	if repo.convo.Conversation.Status != store.ConversationEscalated {
		t.Fatalf("expected escalated conversation, got %s", repo.convo.Conversation.Status)
	}
	if len(repo.tasks) != 1 || repo.tasks[0].Type != store.TaskTypeEscalation {
		t.Fatalf("expected escalation task, got %+v", repo.tasks)
	}
	if len(repo.messages) != 2 || repo.messages[0].Sender != store.SenderUser || repo.messages[1].Sender != store.SenderAssistant {
		t.Fatalf("expected user then assistant turn, got %+v", repo.messages)
	}
	if len(notifier.events) != 1 || notifier.events[0].Type != EventEscalated {
		t.Fatalf("expected escalation event, got %+v", notifier.events)
	}
}

func TestHandleTurnPaymentFallbackDispatches(t *testing.T) {
	orchestrator, repo, dispatcher, _ := newFixture(t, ai.NewGateway(nil))

	result, err := orchestrator.HandleTurn(context.Background(), 1, "Yes, I'll pay now", "")
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}

	if result.Action != ai.ActionRequestPayment || result.Outcome.Label != ai.OutcomePaymentPromised || result.Escalated {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Mood.Label != ai.MoodReceptive {
		t.Fatalf("expected receptive mood, got %s", result.Mood.Label)
	}
	if len(dispatcher.sent) != 1 || dispatcher.sent[0].To != "+15550001" {
		t.Fatalf("expected one dispatch to the customer, got %+v", dispatcher.sent)
	}
	assistant := repo.messages[1]
	if delivery := repo.deliveries[assistant.ID]; delivery.Status != store.DeliverySent || delivery.ProviderMessageID != "SM1" {
		t.Fatalf("delivery not recorded: %+v", delivery)
	}
	var payload ai.Decision
	if err := assistant.Payload(&payload); err != nil || payload.Origin != ai.OriginFallback {
		t.Fatalf("expected decision payload on assistant turn, got %+v (%v)", payload, err)
	}
}

func TestHandleTurnRejectsIneligibleCustomers(t *testing.T) {
	tests := []struct {
		name     string
		customer func() store.Customer
	}{
		{"no consent", func() store.Customer { c := consentedCustomer(); c.ConsentAt = nil; return c }},
		{"do not contact", func() store.Customer { c := consentedCustomer(); c.DoNotContact = true; return c }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			orchestrator, repo, dispatcher, _ := newFixture(t, ai.NewGateway(nil))
			repo.convo.Customer = tc.customer()

			_, err := orchestrator.HandleTurn(context.Background(), 1, "hello", "")
			if !errors.Is(err, ErrNotEligible) {
				t.Fatalf("expected ErrNotEligible, got %v", err)
			}
			if len(repo.messages) != 0 || len(repo.tasks) != 0 || len(dispatcher.sent) != 0 {
				t.Fatalf("rejected turn must have no side effects")
			}
		})
	}
}

func TestHandleTurnRecordsDeliveryFailure(t *testing.T) {
	decisions := &staticDecisions{decision: ai.Decision{
		ReplyText: "Your renewal is ready.",
		Mood:      ai.Mood{Label: ai.MoodNeutral, Confidence: 0.6},
		Summary:   []string{"renewal"},
		Action:    ai.ActionReply,
		Outcome:   ai.Outcome{Label: ai.OutcomeNeedsFollowUp, Confidence: 0.5},
		Origin:    ai.OriginModel,
	}}
	orchestrator, repo, dispatcher, notifier := newFixture(t, decisions)
	dispatcher.result = messaging.Result{Success: false, Status: messaging.StatusFailed, Error: "carrier rejected", Provider: "recording"}

	result, err := orchestrator.HandleTurn(context.Background(), 1, "When is my renewal due?", "Spanish")
	if err != nil {
		t.Fatalf("delivery failure must not fail the turn: %v", err)
	}
	if result.Escalated {
		t.Fatalf("did not expect escalation")
	}
	if len(repo.messages) != 2 {
		t.Fatalf("assistant turn must stay committed, got %d messages", len(repo.messages))
	}
	delivery := repo.deliveries[repo.messages[1].ID]
	if delivery.Status != store.DeliveryFailed || delivery.Error != "carrier rejected" {
		t.Fatalf("expected failed delivery to be recorded, got %+v", delivery)
	}
	if decisions.language != "Spanish" {
		t.Fatalf("expected requested language, got %s", decisions.language)
	}

	var failed bool
	for _, event := range notifier.events {
		if event.Type == EventDeliveryFailed {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("expected delivery failure event, got %+v", notifier.events)
	}
}

func TestHandleTurnBuildsBoundedHistory(t *testing.T) {
	decisions := &staticDecisions{decision: ai.Decision{ReplyText: "ok", Action: ai.ActionReply, Mood: ai.Mood{Label: ai.MoodNeutral}, Summary: []string{"ok"}}}
	orchestrator, repo, _, _ := newFixture(t, decisions)

	for i := 0; i < 12; i++ {
		sender := store.SenderUser
		if i%2 == 1 {
			sender = store.SenderAssistant
		}
		_ = repo.AppendMessage(context.Background(), &store.Message{ConversationID: 1, Sender: sender, Content: "old"})
	}

	if _, err := orchestrator.HandleTurn(context.Background(), 1, "latest question", ""); err != nil {
		t.Fatalf("handle turn: %v", err)
	}

	history := decisions.history
	if len(history) != DefaultHistoryWindow+1 {
		t.Fatalf("expected system turn plus %d turns, got %d", DefaultHistoryWindow, len(history))
	}
	system := history[0]
	if system.Role != ai.RoleSystem || !strings.Contains(system.Content, "Customer Ana, Policy POL-77") {
		t.Fatalf("system prompt not filled: %q", system.Content)
	}
	if last := history[len(history)-1]; last.Role != ai.RoleUser || last.Content != "latest question" {
		t.Fatalf("expected newest user turn last, got %+v", last)
	}
	if decisions.language != "English" {
		t.Fatalf("expected conversation language fallback, got %s", decisions.language)
	}
}

func TestHandleTurnOnEscalatedConversation(t *testing.T) {
	decisions := &staticDecisions{}
	orchestrator, repo, dispatcher, _ := newFixture(t, decisions)
	repo.convo.Conversation.Status = store.ConversationEscalated

	result, err := orchestrator.HandleTurn(context.Background(), 1, "Are you still there?", "")
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if !result.Escalated {
		t.Fatalf("expected escalated result")
	}
	if decisions.history != nil || len(dispatcher.sent) != 0 {
		t.Fatalf("escalated conversation must not reach the model or dispatcher")
	}
	if len(repo.messages) != 1 || repo.messages[0].Sender != store.SenderUser {
		t.Fatalf("expected only the user turn to be recorded, got %+v", repo.messages)
	}
}

func TestHandleTurnPropagatesPersistenceFailure(t *testing.T) {
	orchestrator, repo, dispatcher, _ := newFixture(t, ai.NewGateway(nil))
	repo.commitErr = errors.New("database is locked")

	if _, err := orchestrator.HandleTurn(context.Background(), 1, "hello", ""); err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if len(dispatcher.sent) != 0 {
		t.Fatalf("nothing may be dispatched when the turn was not committed")
	}
	if len(repo.messages) != 0 {
		t.Fatalf("failed commit left turns behind: %+v", repo.messages)
	}

	if _, err := orchestrator.HandleTurn(context.Background(), 404, "hello", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown conversation, got %v", err)
	}
}

func TestStartOutbound(t *testing.T) {
	decisions := &staticDecisions{decision: ai.Decision{
		ReplyText: "Hi Ana, this is your renewal assistant.",
		Mood:      ai.Mood{Label: ai.MoodNeutral, Confidence: 0.6},
		Summary:   []string{"greeting"},
		Action:    ai.ActionReply,
		Outcome:   ai.Outcome{Label: ai.OutcomeNeedsFollowUp, Confidence: 0.5},
	}}
	orchestrator, repo, dispatcher, _ := newFixture(t, decisions)

	result, err := orchestrator.StartOutbound(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("start outbound: %v", err)
	}
	if result.Escalated || len(dispatcher.sent) != 1 {
		t.Fatalf("expected greeting to be dispatched, got %+v", result)
	}
	last := decisions.history[len(decisions.history)-1]
	if last.Role != ai.RoleUser || last.Content != outboundSeed {
		t.Fatalf("expected synthetic seed turn, got %+v", last)
	}
	if len(repo.messages) != 1 || repo.messages[0].Sender != store.SenderAssistant {
		t.Fatalf("seed instruction must not be stored as a customer turn, got %+v", repo.messages)
	}
}

func TestProcessInteraction(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		escalated  bool
		outcome    string
	}{
		{"angry caller", "This is terrible, I am angry and I want a refund", true, "Needs Follow-up"},
		{"manager request", "Please put me through to a manager", true, "Escalate"},
		{"happy caller", "Thanks, everything is resolved and I am happy", false, "Resolved"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			orchestrator, repo, _, _ := newFixture(t, ai.NewGateway(nil))
			repo.interactions[5] = &store.Interaction{ID: 5, CustomerID: 9, Channel: "call", Transcript: tc.transcript}

			result, err := orchestrator.ProcessInteraction(context.Background(), 5)
			if err != nil {
				t.Fatalf("process interaction: %v", err)
			}
			if result.Escalated != tc.escalated {
				t.Fatalf("expected escalated=%v got %v", tc.escalated, result.Escalated)
			}
			stored := repo.interactions[5]
			if stored.AnalyzedAt == nil || stored.Outcome != tc.outcome {
				t.Fatalf("analysis not stored: %+v", stored)
			}
			if wantTasks := map[bool]int{true: 1, false: 0}[tc.escalated]; len(repo.tasks) != wantTasks {
				t.Fatalf("expected %d tasks got %d", wantTasks, len(repo.tasks))
			}
		})
	}
}

func TestForesights(t *testing.T) {
	orchestrator, _, _, _ := newFixture(t, ai.NewGateway(nil))
	if _, err := orchestrator.HandleTurn(context.Background(), 1, "I want to cancel, this is terrible", ""); err != nil {
		t.Fatalf("handle turn: %v", err)
	}

	foresights, err := orchestrator.Foresights(context.Background(), 1)
	if err != nil {
		t.Fatalf("foresights: %v", err)
	}
	var risk bool
	for _, f := range foresights {
		if f.Label == "Escalation Risk" {
			risk = true
		}
	}
	if !risk {
		t.Fatalf("expected escalation risk foresight, got %+v", foresights)
	}
}

// cancellingDecisions simulates a caller that disconnects while the decision is pending.
type cancellingDecisions struct {
	cancel context.CancelFunc
	source DecisionSource
}

func (c *cancellingDecisions) GetDecision(ctx context.Context, history []ai.Message, agentType prompts.AgentType, language string) ai.Decision {
	c.cancel()
	return c.source.GetDecision(ctx, history, agentType, language)
}

func TestHandleTurnCompletesAfterCallerCancels(t *testing.T) {
	db, err := store.Open("sqlite", filepath.Join(t.TempDir(), "turns.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	bg := context.Background()
	customer := consentedCustomer()
	customer.ID = 0
	if err := db.CreateCustomer(bg, &customer); err != nil {
		t.Fatalf("create customer: %v", err)
	}
	convo := &store.Conversation{CustomerID: customer.ID, AgentType: "renewal", Language: "English"}
	if err := db.CreateConversation(bg, convo); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	resolver, err := prompts.NewResolver()
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	ctx, cancel := context.WithCancel(bg)
	defer cancel()
	dispatcher := messaging.NewMockAdapter()
	orchestrator := New(db, &cancellingDecisions{cancel: cancel, source: ai.NewGateway(nil)}, resolver, dispatcher)

	result, err := orchestrator.HandleTurn(ctx, convo.ID, "When is my renewal due?", "")
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if result.Origin != ai.OriginFallback {
		t.Fatalf("expected fallback decision, got %s", result.Origin)
	}

	messages, err := db.ListMessages(bg, convo.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 || messages[0].Sender != store.SenderUser || messages[1].Sender != store.SenderAssistant {
		t.Fatalf("expected user and assistant turns, got %+v", messages)
	}
	if messages[1].DeliveryStatus != store.DeliverySent || len(dispatcher.Sent()) != 1 {
		t.Fatalf("expected reply to be dispatched, got status %q", messages[1].DeliveryStatus)
	}
}
