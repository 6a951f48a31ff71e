package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"followup-engine/backend/internal/signals"
	"followup-engine/backend/internal/store"
)

// InteractionResult is the stored analysis of an inbound call or SMS transcript.
type InteractionResult struct {
	InteractionID uint                  `json:"interaction_id"`
	Mood          signals.MoodResult    `json:"mood"`
	Outcome       signals.OutcomeResult `json:"outcome"`
	Summary       []string              `json:"summary"`
	Escalated     bool                  `json:"escalated"`
}

// ProcessInteraction analyzes a stored transcript and opens an escalation task when needed.
func (o *Orchestrator) ProcessInteraction(ctx context.Context, interactionID uint) (InteractionResult, error) {
	errb := oops.In("interaction").With("interaction_id", interactionID)

	interaction, err := o.repo.GetInteraction(ctx, interactionID)
	if err != nil {
		return InteractionResult{}, errb.Wrapf(err, "load interaction")
	}

	analysis := signals.Analyze(interaction.Transcript)
	now := time.Now()
	interaction.MoodLabel = string(analysis.Mood.Label)
	interaction.MoodConfidence = analysis.Mood.Confidence
	interaction.Outcome = string(analysis.Outcome.Label)
	interaction.OutcomeConfidence = analysis.Outcome.Confidence
	interaction.SetSummary(analysis.Summary)
	interaction.AnalyzedAt = &now

	var task *store.Task
	escalate := analysis.NeedsEscalation()
	if escalate {
		task = &store.Task{
			InteractionID: &interaction.ID,
			CustomerID:    interaction.CustomerID,
			Type:          store.TaskTypeEscalation,
			Status:        store.TaskStatusOpen,
			Reason: fmt.Sprintf("Inbound %s flagged: mood %s (%.2f), outcome %s",
				interaction.Channel, analysis.Mood.Label, analysis.Mood.Confidence, analysis.Outcome.Label),
		}
	}
	if err := o.repo.SaveInteraction(ctx, interaction, task); err != nil {
		return InteractionResult{}, errb.Wrapf(err, "save interaction analysis")
	}

	logrus.WithFields(logrus.Fields{
		"interaction_id": interactionID,
		"mood":           analysis.Mood.Label,
		"outcome":        analysis.Outcome.Label,
		"escalated":      escalate,
	}).Info("inbound interaction analyzed")
	o.events.Publish(Event{Type: EventInteraction, InteractionID: interactionID, Escalated: escalate})

	return InteractionResult{
		InteractionID: interactionID,
		Mood:          analysis.Mood,
		Outcome:       analysis.Outcome,
		Summary:       analysis.Summary,
		Escalated:     escalate,
	}, nil
}
