package history

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Analysis holds the structured scoring produced for one user response.
type Analysis struct {
	Score           int
	Feedback        string
	HasRecognition  bool
	HasArgument     bool
	HasReversal     bool
	HasCallToAction bool
	IdealResponse   string
}

// SaveUserResponse records a scored answer against its objection. A nil
// objectionID is stored for generated objections, which have no catalog row.
func (s *Store) SaveUserResponse(ctx context.Context, userID string, objectionID *string, responseText string, analysis Analysis) error {
	ctx, span := s.tracer.Start(ctx, "history.save_response")
	defer span.End()

	_, err := s.db.Exec(ctx, `
		INSERT INTO user_responses
			(id, user_id, objection_id, response_text, score, feedback,
			 has_recognition, has_argument, has_reversal, has_call_to_action, ideal_response)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, uuid.New(), userID, objectionID, responseText,
		analysis.Score, analysis.Feedback,
		analysis.HasRecognition, analysis.HasArgument, analysis.HasReversal, analysis.HasCallToAction,
		analysis.IdealResponse)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("history: insert response failed: %w", err)
	}
	return nil
}
