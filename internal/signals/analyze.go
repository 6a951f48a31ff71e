package signals

// Analysis bundles the mood, outcome and summary derived from one transcript.
type Analysis struct {
	Mood    MoodResult    `json:"mood"`
	Outcome OutcomeResult `json:"outcome"`
	Summary []string      `json:"summary"`
}

// Analyze runs both detectors over the transcript. It is total and never fails.
func Analyze(transcript string) Analysis {
	summary := Summarize(transcript)
	return Analysis{
		Mood:    AnalyzeMood(transcript),
		Outcome: summary.Outcome,
		Summary: summary.Summary,
	}
}

// NeedsEscalation applies the inbound-interaction escalation rule.
func (a Analysis) NeedsEscalation() bool {
	return (a.Mood.Label == MoodNegative && a.Mood.Confidence >= 0.7) || a.Outcome.Label == OutcomeEscalate
}
