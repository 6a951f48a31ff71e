package signals

import (
	"fmt"
	"math"
	"strings"

	"github.com/elliotchance/pie/v2"
)

// TurnSignal is the slice of a stored turn needed for foresight heuristics.
type TurnSignal struct {
	Sender    string
	Content   string
	Action    string
	MoodLabel string
}

// Foresight is a heuristic forward-looking label for a conversation.
type Foresight struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Explain    string  `json:"explain"`
}

var (
	foresightPositive = []string{"yes", "sure", "agree", "pay", "payment", "thank", "great", "good", "excellent"}
	foresightNegative = []string{"no", "cancel", "refund", "angry", "terrible", "hate", "problem"}
)

// Foresights derives renewal, engagement and risk labels from a conversation's turns.
func Foresights(turns []TurnSignal) []Foresight {
	if len(turns) == 0 {
		return nil
	}

	userTurns := pie.Filter(turns, func(t TurnSignal) bool { return t.Sender == "user" })
	assistantTurns := pie.Filter(turns, func(t TurnSignal) bool { return t.Sender == "assistant" })

	positive, negative, words := 0, 0, 0
	for _, turn := range userTurns {
		lower := strings.ToLower(turn.Content)
		for _, word := range foresightPositive {
			if strings.Contains(lower, word) {
				positive++
			}
		}
		for _, word := range foresightNegative {
			if strings.Contains(lower, word) {
				negative++
			}
		}
		words += len(strings.Fields(turn.Content))
	}

	var out []Foresight
	if positive > negative {
		out = append(out, Foresight{
			Label:      "High Renewal Probability",
			Confidence: round3(math.Min(0.95, 0.6+float64(positive)*0.1)),
			Explain:    fmt.Sprintf("Customer showed %d positive indicators vs %d negative", positive, negative),
		})
	} else {
		out = append(out, Foresight{
			Label:      "Low Renewal Probability",
			Confidence: 0.3,
			Explain:    fmt.Sprintf("Customer showed %d negative indicators vs %d positive", negative, positive),
		})
	}

	switch {
	case words > 50:
		out = append(out, Foresight{
			Label:      "High Engagement",
			Confidence: 0.8,
			Explain:    fmt.Sprintf("Customer provided detailed responses (%d total words)", words),
		})
	case words < 20:
		out = append(out, Foresight{
			Label:      "Low Engagement",
			Confidence: 0.7,
			Explain:    fmt.Sprintf("Customer provided brief responses (%d total words)", words),
		})
	}

	if anyTurnMentions(userTurns, "coverage", "policy") {
		out = append(out, Foresight{Label: "Cross-sell Opportunity", Confidence: 0.75, Explain: "Customer showed interest in coverage details"})
	}
	if anyTurnMentions(userTurns, "cost", "price", "discount") {
		out = append(out, Foresight{Label: "Price Sensitive", Confidence: 0.8, Explain: "Customer asked about pricing and discounts"})
	}
	if anyTurnMentions(userTurns, "thank", "help", "easy") {
		out = append(out, Foresight{Label: "Service Quality Impact", Confidence: 0.85, Explain: "Customer expressed appreciation for service"})
	}

	risky := pie.FindFirstUsing(assistantTurns, func(t TurnSignal) bool {
		return t.Action == "escalate" || t.MoodLabel == "negative"
	})
	if risky >= 0 {
		out = append(out, Foresight{Label: "Escalation Risk", Confidence: 0.9, Explain: "Conversation required escalation or showed negative sentiment"})
	}

	return out
}

func anyTurnMentions(turns []TurnSignal, words ...string) bool {
	return pie.FindFirstUsing(turns, func(t TurnSignal) bool {
		return containsAny(strings.ToLower(t.Content), words)
	}) >= 0
}
