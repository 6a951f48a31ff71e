package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"followup-engine/backend/internal/worker"
)

const backgroundJobTimeout = 2 * time.Minute

// startOutbound queues the agent greeting for a conversation.
func (s *Server) startOutbound(conversationID uint, language string) (JobResponse, error) {
	jobID := uuid.NewString()
	err := s.runner.Submit(worker.ConversationKey(conversationID), "start_outbound", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, backgroundJobTimeout)
		defer cancel()

		started := time.Now()
		result, err := s.orchestrator.StartOutbound(ctx, conversationID, language)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"job":             jobID,
			"conversation_id": conversationID,
			"action":          result.Action,
			"escalated":       result.Escalated,
			"duration":        time.Since(started).Round(time.Millisecond),
		}).Info("outbound conversation started")
		return nil
	})
	if err != nil {
		return JobResponse{}, err
	}
	return JobResponse{JobID: jobID, Status: "queued"}, nil
}

// analyzeInteraction queues signal analysis for a stored interaction.
func (s *Server) analyzeInteraction(interactionID uint) (JobResponse, error) {
	jobID := uuid.NewString()
	err := s.runner.Submit(worker.InteractionKey(interactionID), "analyze_interaction", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, backgroundJobTimeout)
		defer cancel()

		result, err := s.orchestrator.ProcessInteraction(ctx, interactionID)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"job":            jobID,
			"interaction_id": interactionID,
			"escalated":      result.Escalated,
		}).Debug("interaction analysis job finished")
		return nil
	})
	if err != nil {
		return JobResponse{}, err
	}
	return JobResponse{JobID: jobID, Status: "queued"}, nil
}
