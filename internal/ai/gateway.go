package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"followup-engine/backend/internal/prompts"
	"followup-engine/backend/internal/util"
)

const (
	defaultLanguage = "English"

	schemaInstruction = "\n\nIMPORTANT: Reply in %s language. Return JSON only with the exact schema specified: " +
		`{"assistant_text": string, "mood": {"label": "receptive"|"neutral"|"negative", "confidence": 0-1}, ` +
		`"summary": [string, up to 3], "action": "reply"|"escalate"|"schedule_followup"|"request_payment", ` +
		`"outcome_hint": {"label": "Resolved"|"Payment Promised"|"Needs Follow-up"|"Escalate", "confidence": 0-1}}`
	repairInstruction = "\n\nCRITICAL: You must return valid JSON only. No other text."
)

// Gateway turns conversation history into a Decision. It owns the decision cache
// and never returns an error: every failure path ends in Fallback.
type Gateway struct {
	client Completer
	cache  DecisionCache
	retry  RetryPolicy
	group  singleflight.Group
}

// GatewayOption customises a Gateway.
type GatewayOption func(*Gateway)

// WithCache replaces the default 30s TTL cache.
func WithCache(cache DecisionCache) GatewayOption {
	return func(g *Gateway) {
		if cache != nil {
			g.cache = cache
		}
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(policy RetryPolicy) GatewayOption {
	return func(g *Gateway) { g.retry = policy }
}

// NewGateway builds a gateway. A nil or disabled client sends every request to Fallback.
func NewGateway(client Completer, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		client: client,
		cache:  NewTTLCache(DefaultCacheTTL, nil),
		retry:  DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enabled reports whether model calls will be attempted.
func (g *Gateway) Enabled() bool {
	return g != nil && g.client != nil && g.client.Enabled()
}

// GetDecision returns the model decision for history, or the fallback decision.
func (g *Gateway) GetDecision(ctx context.Context, history []Message, agentType prompts.AgentType, language string) Decision {
	if !g.Enabled() {
		logrus.WithField("agent_type", agentType).Debug("model credentials missing, using fallback decision")
		return Fallback(history)
	}

	key := Fingerprint(history, agentType)
	if cached, ok := g.cache.Get(key); ok {
		logrus.WithField("fingerprint", key[:12]).Debug("decision cache hit")
		cached.Origin = OriginCache
		return cached
	}

	// Shared flights ignore the leader's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	value, _, shared := g.group.Do(key, func() (any, error) {
		return g.resolve(flightCtx, key, history, agentType, language), nil
	})
	decision := value.(Decision)
	if shared {
		decision.Summary = append([]string(nil), decision.Summary...)
	}
	return decision
}

func (g *Gateway) resolve(ctx context.Context, key string, history []Message, agentType prompts.AgentType, language string) Decision {
	timer := util.StartTimer()
	logger := logrus.WithFields(logrus.Fields{"agent_type": agentType, "fingerprint": key[:12]})

	messages := withInstruction(history, fmt.Sprintf(schemaInstruction, languageOrDefault(language)))

	var raw string
	err := g.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		content, callErr := g.client.Complete(ctx, messages)
		if callErr != nil {
			return callErr
		}
		raw = content
		return nil
	})
	timer.Lap("model")
	if err != nil {
		logger.WithError(err).WithFields(timer.Fields()).Warn("model unavailable, using fallback decision")
		return Fallback(history)
	}

	result := Validate(raw)
	if !result.OK() {
		logger.WithField("reason", result.Reason()).Warn("model response failed schema check, retrying with repair instruction")
		repaired := withInstruction(messages, repairInstruction)
		content, callErr := g.client.Complete(ctx, repaired)
		timer.Lap("repair")
		if callErr != nil {
			logger.WithError(callErr).Warn("schema repair call failed, using fallback decision")
			return Fallback(history)
		}
		result = Validate(content)
		if !result.OK() {
			logger.WithField("reason", result.Reason()).Error("model response invalid after repair, using fallback decision")
			return Fallback(history)
		}
	}

	decision := result.Decision()
	g.cache.Put(key, decision)
	logger.WithFields(timer.Fields()).WithField("action", decision.Action).Info("model decision ready")
	return decision
}

// withInstruction appends text to the leading system turn, or prepends a new one.
// The input slice is never modified.
func withInstruction(history []Message, instruction string) []Message {
	out := make([]Message, 0, len(history)+1)
	if len(history) > 0 && history[0].Role == RoleSystem {
		out = append(out, Message{Role: RoleSystem, Content: history[0].Content + instruction})
		return append(out, history[1:]...)
	}
	out = append(out, Message{Role: RoleSystem, Content: strings.TrimSpace(instruction)})
	return append(out, history...)
}

func languageOrDefault(language string) string {
	if trimmed := strings.TrimSpace(language); trimmed != "" {
		return trimmed
	}
	return defaultLanguage
}
