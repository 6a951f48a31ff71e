package conversation

import "followup-engine/backend/internal/ai"

// NegativeMoodThreshold is the confidence at which a negative mood forces escalation.
const NegativeMoodThreshold = 0.7

// ShouldEscalate applies the global escalation policy to a decision.
func ShouldEscalate(decision ai.Decision) bool {
	if decision.Action == ai.ActionEscalate {
		return true
	}
	return decision.Mood.Label == ai.MoodNegative && decision.Mood.Confidence >= NegativeMoodThreshold
}
