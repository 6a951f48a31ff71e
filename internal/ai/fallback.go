package ai

import (
	"strings"

	"github.com/elliotchance/pie/v2"

	"followup-engine/backend/internal/signals"
)

const (
	escalateReply = "I understand you're not satisfied. Let me connect you with a specialist who can help resolve this issue."
	paymentReply  = "Great! I'll help you with that. Let me process your request."
	neutralReply  = "Thank you for your message. I'm here to help with your insurance needs."
)

var (
	escalateTriggers = []string{"cancel", "refund", "angry", "terrible", "hate"}
	paymentTriggers  = []string{"yes", "sure", "agree", "pay", "payment"}
)

// Fallback builds a Decision from the signal extractor run over the last user turn.
func Fallback(history []Message) Decision {
	userTurns := pie.Filter(history, func(m Message) bool { return m.Role == RoleUser })
	text := ""
	if len(userTurns) > 0 {
		text = pie.Last(userTurns).Content
	}

	analysis := signals.Analyze(text)
	lower := strings.ToLower(text)

	decision := Decision{Summary: analysis.Summary, Origin: OriginFallback}
	switch {
	case mentionsAny(lower, escalateTriggers):
		decision.ReplyText = escalateReply
		decision.Action = ActionEscalate
		decision.Mood = Mood{Label: MoodNegative, Confidence: 0.8}
		decision.Outcome = Outcome{Label: OutcomeEscalate, Confidence: 0.8}
	case mentionsAny(lower, paymentTriggers):
		decision.ReplyText = paymentReply
		decision.Action = ActionRequestPayment
		decision.Mood = Mood{Label: MoodReceptive, Confidence: 0.7}
		decision.Outcome = Outcome{Label: OutcomePaymentPromised, Confidence: 0.7}
	default:
		decision.ReplyText = neutralReply
		decision.Action = ActionReply
		decision.Mood = Mood{Label: moodFromSignal(analysis.Mood.Label), Confidence: analysis.Mood.Confidence}
		decision.Outcome = Outcome{Label: OutcomeLabel(analysis.Outcome.Label), Confidence: analysis.Outcome.Confidence}
	}
	if len(decision.Summary) == 0 || strings.TrimSpace(decision.Summary[0]) == "" {
		decision.Summary = []string{decision.ReplyText}
	}
	return decision
}

func moodFromSignal(label signals.MoodLabel) MoodLabel {
	switch label {
	case signals.MoodPositive:
		return MoodReceptive
	case signals.MoodNegative:
		return MoodNegative
	default:
		return MoodNeutral
	}
}

func mentionsAny(lower string, words []string) bool {
	for _, word := range words {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
