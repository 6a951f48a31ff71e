package ai

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
)

const maxSummaryItems = 3

// ValidationResult is either Valid(decision) or Invalid(reason).
type ValidationResult struct {
	decision Decision
	reason   string
	valid    bool
}

// Valid wraps a decision that passed the schema check.
func Valid(decision Decision) ValidationResult {
	return ValidationResult{decision: decision, valid: true}
}

// Invalid records why a payload was rejected.
func Invalid(reason string) ValidationResult {
	return ValidationResult{reason: reason}
}

// OK reports whether the payload passed.
func (r ValidationResult) OK() bool { return r.valid }

// Decision returns the validated decision; it is zero when OK is false.
func (r ValidationResult) Decision() Decision { return r.decision }

// Reason explains a rejection.
func (r ValidationResult) Reason() string { return r.reason }

type labelled struct {
	Label      *string  `json:"label"`
	Confidence *float64 `json:"confidence"`
}

type wireDecision struct {
	AssistantText *string   `json:"assistant_text"`
	Mood          *labelled `json:"mood"`
	Summary       *[]string `json:"summary"`
	Action        *string   `json:"action"`
	OutcomeHint   *labelled `json:"outcome_hint"`
}

// Validate checks a raw model payload against the decision schema. Labels must match
// their enums exactly; surrounding whitespace is ignored.
func Validate(raw string) ValidationResult {
	content := normalizeJSONBlock(raw)
	if content == "" {
		return Invalid("empty payload")
	}

	var wire wireDecision
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return Invalid(fmt.Sprintf("decode payload: %v", err))
	}

	switch {
	case wire.AssistantText == nil:
		return Invalid("missing assistant_text")
	case wire.Mood == nil:
		return Invalid("missing mood")
	case wire.Summary == nil:
		return Invalid("missing summary")
	case wire.Action == nil:
		return Invalid("missing action")
	case wire.OutcomeHint == nil:
		return Invalid("missing outcome_hint")
	}

	reply := strings.TrimSpace(*wire.AssistantText)
	if reply == "" {
		return Invalid("assistant_text is empty")
	}
	if wire.Mood.Label == nil || wire.Mood.Confidence == nil {
		return Invalid("mood requires label and confidence")
	}
	if wire.OutcomeHint.Label == nil || wire.OutcomeHint.Confidence == nil {
		return Invalid("outcome_hint requires label and confidence")
	}

	mood := MoodLabel(strings.TrimSpace(*wire.Mood.Label))
	if !slices.Contains(validMoods, mood) {
		return Invalid(fmt.Sprintf("mood.label %q not allowed", *wire.Mood.Label))
	}
	action := Action(strings.TrimSpace(*wire.Action))
	if !slices.Contains(validActions, action) {
		return Invalid(fmt.Sprintf("action %q not allowed", *wire.Action))
	}
	outcome := OutcomeLabel(strings.TrimSpace(*wire.OutcomeHint.Label))
	if !slices.Contains(validOutcomes, outcome) {
		return Invalid(fmt.Sprintf("outcome_hint.label %q not allowed", *wire.OutcomeHint.Label))
	}

	return Valid(Decision{
		ReplyText: reply,
		Mood:      Mood{Label: mood, Confidence: clampFloat(*wire.Mood.Confidence, 0, 1)},
		Summary:   sanitizeSummary(*wire.Summary, reply),
		Action:    action,
		Outcome:   Outcome{Label: outcome, Confidence: clampFloat(*wire.OutcomeHint.Confidence, 0, 1)},
		Origin:    OriginModel,
	})
}

func sanitizeSummary(items []string, reply string) []string {
	out := make([]string, 0, maxSummaryItems)
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
		if len(out) == maxSummaryItems {
			break
		}
	}
	if len(out) == 0 {
		out = append(out, reply)
	}
	return out
}

func normalizeJSONBlock(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.IndexRune(trimmed, '\n'); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
		if strings.HasSuffix(trimmed, "```") {
			trimmed = trimmed[:len(trimmed)-3]
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end >= start {
		return strings.TrimSpace(trimmed[start : end+1])
	}
	return trimmed
}

func clampFloat(value, min, max float64) float64 {
	if math.IsNaN(value) {
		return min
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
