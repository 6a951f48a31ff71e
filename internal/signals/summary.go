package signals

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// OutcomeLabel is the coarse conversation outcome category.
type OutcomeLabel string

const (
	OutcomeResolved        OutcomeLabel = "Resolved"
	OutcomePaymentPromised OutcomeLabel = "Payment Promised"
	OutcomeNeedsFollowUp   OutcomeLabel = "Needs Follow-up"
	OutcomeEscalate        OutcomeLabel = "Escalate"
)

const (
	maxSummaryBullets   = 3
	summaryScanWindow   = 5
	minSentenceLength   = 10
	summaryFallbackSize = 200
)

var sentenceSplitter = regexp.MustCompile(`[.!?]+`)

var (
	resolutionKeywords = []string{"resolved", "fixed", "solved", "done", "complete", "finished"}
	paymentKeywords    = []string{"pay", "payment", "paid", "money", "cost", "price", "bill", "invoice"}
	escalationKeywords = []string{"manager", "supervisor", "escalate", "complaint", "formal", "legal"}
	followUpKeywords   = []string{"call back", "follow up", "later", "tomorrow", "next week", "schedule"}
)

// OutcomeResult is a labelled outcome prediction.
type OutcomeResult struct {
	Label      OutcomeLabel `json:"label"`
	Confidence float64      `json:"confidence"`
}

// SummaryResult holds summary bullets and the predicted outcome.
type SummaryResult struct {
	Summary []string      `json:"summary"`
	Outcome OutcomeResult `json:"outcome"`
}

// Summarize extracts up to three leading sentences and classifies the outcome.
func Summarize(transcript string) SummaryResult {
	return SummaryResult{
		Summary: summaryBullets(transcript),
		Outcome: ClassifyOutcome(transcript),
	}
}

// ClassifyOutcome checks keyword groups in priority order; the first group present wins.
func ClassifyOutcome(transcript string) OutcomeResult {
	lower := strings.ToLower(transcript)
	switch {
	case containsAny(lower, resolutionKeywords):
		return OutcomeResult{Label: OutcomeResolved, Confidence: 0.8}
	case containsAny(lower, paymentKeywords):
		return OutcomeResult{Label: OutcomePaymentPromised, Confidence: 0.7}
	case containsAny(lower, escalationKeywords):
		return OutcomeResult{Label: OutcomeEscalate, Confidence: 0.9}
	case containsAny(lower, followUpKeywords):
		return OutcomeResult{Label: OutcomeNeedsFollowUp, Confidence: 0.6}
	default:
		return OutcomeResult{Label: OutcomeNeedsFollowUp, Confidence: 0.5}
	}
}

func summaryBullets(transcript string) []string {
	var sentences []string
	for _, part := range sentenceSplitter.Split(transcript, -1) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	if len(sentences) > summaryScanWindow {
		sentences = sentences[:summaryScanWindow]
	}

	bullets := make([]string, 0, maxSummaryBullets)
	for _, sentence := range sentences {
		if utf8.RuneCountInString(sentence) > minSentenceLength {
			bullets = append(bullets, sentence)
		}
		if len(bullets) >= maxSummaryBullets {
			break
		}
	}
	if len(bullets) < maxSummaryBullets {
		return []string{Truncate(transcript, summaryFallbackSize)}
	}
	return bullets
}

// Truncate cuts text to limit runes, appending an ellipsis when something was dropped.
func Truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}
