package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"followup-engine/backend/internal/prompts"
)

const validDecisionJSON = `{"assistant_text":"Your renewal is ready.","mood":{"label":"receptive","confidence":0.8},"summary":["renewal due"],"action":"reply","outcome_hint":{"label":"Needs Follow-up","confidence":0.6}}`

func completionBody(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl_1",
		"object": "chat.completion",
		"choices": []any{
			map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			},
		},
	})
	return string(body)
}

type scriptedResponse struct {
	status int
	body   string
	block  bool
}

// scriptedServer answers each request with the next scripted response; the last one repeats.
func scriptedServer(t *testing.T, calls *atomic.Int32, script ...scriptedResponse) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(script) {
			n = len(script) - 1
		}
		step := script[n]
		if step.block {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(step.status)
		_, _ = w.Write([]byte(step.body))
	}))
	t.Cleanup(server.Close)
	return server
}

func ok(content string) scriptedResponse {
	return scriptedResponse{status: http.StatusOK, body: completionBody(content)}
}

func failure(status int) scriptedResponse {
	return scriptedResponse{status: status, body: `{"error":{"message":"upstream failure","type":"server_error"}}`}
}

func newTestGateway(t *testing.T, baseURL string, opts ...GatewayOption) *Gateway {
	t.Helper()
	client, err := NewClient(Config{APIKey: "test-key", BaseURL: baseURL + "/v1", Model: "test-model", Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	policy := DefaultRetryPolicy()
	policy.BaseDelay = time.Millisecond
	policy.MaxDelay = 5 * time.Millisecond
	return NewGateway(client, append([]GatewayOption{WithRetryPolicy(policy)}, opts...)...)
}

func sampleHistory(text string) []Message {
	return []Message{
		{Role: RoleSystem, Content: "You are a renewal assistant."},
		{Role: RoleAssistant, Content: "Hi Ana, your policy is due soon."},
		{Role: RoleUser, Content: text},
	}
}

func TestGatewayRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := scriptedServer(t, &calls, failure(500), failure(503), ok(validDecisionJSON))
	gateway := newTestGateway(t, server.URL)

	decision := gateway.GetDecision(context.Background(), sampleHistory("When is it due?"), prompts.AgentRenewal, "English")

	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
	if decision.Origin != OriginModel {
		t.Fatalf("expected model decision, got %s", decision.Origin)
	}
	if decision.ReplyText != "Your renewal is ready." {
		t.Fatalf("unexpected reply %q", decision.ReplyText)
	}
}

func TestGatewayGivesUpAfterThreeTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := scriptedServer(t, &calls, failure(502))
	gateway := newTestGateway(t, server.URL)

	decision := gateway.GetDecision(context.Background(), sampleHistory("hello"), prompts.AgentRenewal, "English")

	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
	if decision.Origin != OriginFallback {
		t.Fatalf("expected fallback decision, got %s", decision.Origin)
	}
}

func TestGatewayAbortsOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := scriptedServer(t, &calls, failure(400), ok(validDecisionJSON))
	gateway := newTestGateway(t, server.URL)

	decision := gateway.GetDecision(context.Background(), sampleHistory("hello"), prompts.AgentRenewal, "English")

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 call, got %d", got)
	}
	if decision.Origin != OriginFallback {
		t.Fatalf("expected fallback decision, got %s", decision.Origin)
	}
}

func TestGatewayRetriesTimeouts(t *testing.T) {
	var calls atomic.Int32
	server := scriptedServer(t, &calls, scriptedResponse{block: true}, ok(validDecisionJSON))
	gateway := newTestGateway(t, server.URL)

	decision := gateway.GetDecision(context.Background(), sampleHistory("hello"), prompts.AgentRenewal, "English")

	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
	if decision.Origin != OriginModel {
		t.Fatalf("expected model decision, got %s", decision.Origin)
	}
}

func TestGatewaySchemaRepair(t *testing.T) {
	missingAction := `{"assistant_text":"Hi","mood":{"label":"neutral","confidence":0.5},"summary":["hi"],"outcome_hint":{"label":"Resolved","confidence":0.9}}`

	tests := []struct {
		name   string
		script []scriptedResponse
		origin Origin
	}{
		{"repaired", []scriptedResponse{ok(missingAction), ok(validDecisionJSON)}, OriginModel},
		{"still invalid", []scriptedResponse{ok(missingAction), ok("not json at all")}, OriginFallback},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			server := scriptedServer(t, &calls, tc.script...)
			gateway := newTestGateway(t, server.URL)

			decision := gateway.GetDecision(context.Background(), sampleHistory("hello"), prompts.AgentRenewal, "English")

			if got := calls.Load(); got != 2 {
				t.Fatalf("expected exactly 2 calls, got %d", got)
			}
			if decision.Origin != tc.origin {
				t.Fatalf("expected origin %s, got %s", tc.origin, decision.Origin)
			}
		})
	}
}

func TestGatewayRepairInstructionIsSent(t *testing.T) {
	var (
		mu      sync.Mutex
		systems []string
		calls   atomic.Int32
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		systems = append(systems, req.Messages[0].Content)
		mu.Unlock()
		content := "{}"
		if calls.Add(1) > 1 {
			content = validDecisionJSON
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody(content)))
	}))
	defer server.Close()

	gateway := newTestGateway(t, server.URL)
	gateway.GetDecision(context.Background(), sampleHistory("hello"), prompts.AgentRenewal, "English")

	if len(systems) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(systems))
	}
	if strings.Contains(systems[0], "CRITICAL") {
		t.Fatalf("first request should not carry the repair instruction")
	}
	if !strings.HasSuffix(systems[1], repairInstruction) {
		t.Fatalf("expected repair instruction on second request, got %q", systems[1])
	}
}

func TestGatewayInjectsLanguageInstruction(t *testing.T) {
	tests := []struct {
		name    string
		history []Message
		prefix  string
		count   int
	}{
		{"appends to system turn", sampleHistory("hola"), "You are a renewal assistant.", 3},
		{"prepends system turn", []Message{{Role: RoleUser, Content: "hola"}}, "IMPORTANT: Reply in Spanish", 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen struct {
				Messages       []Message      `json:"messages"`
				ResponseFormat map[string]any `json:"response_format"`
			}
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/chat/completions" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
					t.Errorf("decode request: %v", err)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(completionBody(validDecisionJSON)))
			}))
			defer server.Close()

			gateway := newTestGateway(t, server.URL)
			gateway.GetDecision(context.Background(), tc.history, prompts.AgentRenewal, "Spanish")

			if len(seen.Messages) != tc.count {
				t.Fatalf("expected %d messages, got %d", tc.count, len(seen.Messages))
			}
			system := seen.Messages[0]
			if system.Role != RoleSystem || !strings.HasPrefix(system.Content, tc.prefix) {
				t.Fatalf("unexpected system turn %+v", system)
			}
			if !strings.Contains(system.Content, "Reply in Spanish language") {
				t.Fatalf("language instruction missing: %q", system.Content)
			}
			if seen.ResponseFormat["type"] != "json_object" {
				t.Fatalf("expected json_object response format, got %v", seen.ResponseFormat)
			}
			if tc.history[0].Content != "You are a renewal assistant." && tc.history[0].Role == RoleSystem {
				t.Fatalf("caller history was mutated")
			}
		})
	}
}

func TestGatewayCachesDecisions(t *testing.T) {
	var calls atomic.Int32
	server := scriptedServer(t, &calls, ok(validDecisionJSON))
	gateway := newTestGateway(t, server.URL)
	history := sampleHistory("When is it due?")

	first := gateway.GetDecision(context.Background(), history, prompts.AgentRenewal, "English")
	second := gateway.GetDecision(context.Background(), history, prompts.AgentRenewal, "English")

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single network call, got %d", got)
	}
	if second.Origin != OriginCache {
		t.Fatalf("expected cached decision, got %s", second.Origin)
	}
	if first.ReplyText != second.ReplyText || first.Action != second.Action {
		t.Fatalf("cached decision differs: %+v vs %+v", first, second)
	}

	gateway.GetDecision(context.Background(), history, prompts.AgentCrossSell, "English")
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected different agent type to miss the cache, got %d calls", got)
	}
}

func TestGatewayCacheExpires(t *testing.T) {
	var calls atomic.Int32
	server := scriptedServer(t, &calls, ok(validDecisionJSON))

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cache := NewTTLCache(DefaultCacheTTL, func() time.Time { return now })
	gateway := newTestGateway(t, server.URL, WithCache(cache))
	history := sampleHistory("When is it due?")

	gateway.GetDecision(context.Background(), history, prompts.AgentRenewal, "English")
	now = now.Add(29 * time.Second)
	gateway.GetDecision(context.Background(), history, prompts.AgentRenewal, "English")
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected cache hit inside ttl, got %d calls", got)
	}

	now = now.Add(2 * time.Second)
	decision := gateway.GetDecision(context.Background(), history, prompts.AgentRenewal, "English")
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected fresh call after ttl, got %d calls", got)
	}
	if decision.Origin != OriginModel {
		t.Fatalf("expected model decision after expiry, got %s", decision.Origin)
	}
}

func TestGatewayWithoutCredentials(t *testing.T) {
	client, err := NewClient(Config{APIKey: "  "})
	if err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}

	gateway := NewGateway(client)
	if gateway.Enabled() {
		t.Fatalf("gateway without credentials must be disabled")
	}
	decision := gateway.GetDecision(context.Background(), sampleHistory("I want to cancel, this is terrible"), prompts.AgentRenewal, "English")
	if decision.Origin != OriginFallback || decision.Action != ActionEscalate {
		t.Fatalf("unexpected decision %+v", decision)
	}
}

func TestFallbackShape(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		action  Action
		mood    MoodLabel
		outcome OutcomeLabel
	}{
		{"negative intent", "I want to cancel, this is terrible", ActionEscalate, MoodNegative, OutcomeEscalate},
		{"payment intent", "Yes, I'll pay now", ActionRequestPayment, MoodReceptive, OutcomePaymentPromised},
		{"neutral", "What documents do you need from me", ActionReply, MoodNeutral, OutcomeNeedsFollowUp},
		{"empty", "", ActionReply, MoodNeutral, OutcomeNeedsFollowUp},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decision := Fallback(sampleHistory(tc.text))
			if decision.Action != tc.action || decision.Mood.Label != tc.mood || decision.Outcome.Label != tc.outcome {
				t.Fatalf("unexpected decision %+v", decision)
			}
			if strings.TrimSpace(decision.ReplyText) == "" {
				t.Fatalf("reply text must be populated")
			}
			if len(decision.Summary) < 1 || len(decision.Summary) > 3 {
				t.Fatalf("summary must hold 1-3 items, got %d", len(decision.Summary))
			}
			if decision.Mood.Confidence < 0 || decision.Mood.Confidence > 1 || decision.Outcome.Confidence < 0 || decision.Outcome.Confidence > 1 {
				t.Fatalf("confidence out of range: %+v", decision)
			}
			if decision.Origin != OriginFallback {
				t.Fatalf("expected fallback origin")
			}

			// A fallback decision must survive the same schema check as a model decision.
			payload, _ := json.Marshal(decision)
			if result := Validate(string(payload)); !result.OK() {
				t.Fatalf("fallback decision failed schema: %s", result.Reason())
			}
		})
	}
}

func TestFallbackUsesLastUserTurn(t *testing.T) {
	history := []Message{
		{Role: RoleUser, Content: "This is terrible"},
		{Role: RoleAssistant, Content: "Sorry to hear that."},
		{Role: RoleUser, Content: "Okay, sure, I will pay"},
	}
	if decision := Fallback(history); decision.Action != ActionRequestPayment {
		t.Fatalf("expected decision from last user turn, got %s", decision.Action)
	}
}

type countingCompleter struct {
	Completer
	calls atomic.Int32
}

func (c *countingCompleter) Complete(ctx context.Context, messages []Message) (string, error) {
	c.calls.Add(1)
	return c.Completer.Complete(ctx, messages)
}

func TestGatewayDoesNotRetryRefusedConnections(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: baseURL + "/v1", Timeout: time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	counting := &countingCompleter{Completer: client}
	policy := DefaultRetryPolicy()
	policy.BaseDelay = time.Millisecond
	gateway := NewGateway(counting, WithRetryPolicy(policy))

	decision := gateway.GetDecision(context.Background(), sampleHistory("hello"), prompts.AgentRenewal, "English")

	if got := counting.calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt for a refused connection, got %d", got)
	}
	if decision.Origin != OriginFallback {
		t.Fatalf("expected fallback decision, got %s", decision.Origin)
	}

	_, callErr := client.Complete(context.Background(), sampleHistory("hello"))
	if callErr == nil || IsTransient(callErr) {
		t.Fatalf("expected non-transient dial error, got %v", callErr)
	}
}

func TestGatewayFlightOutlivesCallerCancellation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody(validDecisionJSON)))
	}))
	defer server.Close()

	gateway := newTestGateway(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
		close(release)
	}()

	decision := gateway.GetDecision(ctx, sampleHistory("When is it due?"), prompts.AgentRenewal, "English")
	if decision.Origin != OriginModel {
		t.Fatalf("expected model decision despite caller cancellation, got %s", decision.Origin)
	}
}
