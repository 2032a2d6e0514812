package server

import (
	"cseflow/internal/domain"
)

// UpdateStepRequest mirrors the entity actor's step mutation payload.
type UpdateStepRequest struct {
	Data            map[string]any     `json:"data,omitempty" doc:"Partial step payload, merged shallowly"`
	Status          *domain.StepStatus `json:"status,omitempty" enum:"incomplete,in-progress,completed,rejected"`
	NeedsCorrection *bool              `json:"needsCorrection,omitempty" doc:"Reviewers may clear a correction flag; flags are set via request-corrections"`
}

type CommentRequest struct {
	Text string `json:"text" required:"true" minLength:"1"`
}

type CorrectionCommentRequest struct {
	StepID string `json:"stepId" required:"true"`
	Text   string `json:"text" required:"true"`
}

// RequestCorrectionsRequest names the steps to flag and the remarks to
// attach before the status change.
type RequestCorrectionsRequest struct {
	StepsToCorrect []string                   `json:"stepsToCorrect" required:"true" minItems:"1"`
	Comments       []CorrectionCommentRequest `json:"comments,omitempty"`
}

type formOutput struct {
	Body domain.Form
}

type indexListOutput struct {
	Body []domain.IndexEntry
}
