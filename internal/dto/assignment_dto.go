package dto

import (
	"time"

	"github.com/deckquiz/deckquiz-go-api/internal/models"
)

// AssignmentCreateRequest asks for a generated quiz over one deck. At least
// one of the two counts must be positive; the service enforces that.
type AssignmentCreateRequest struct {
	Name               string `json:"name" validate:"required,min=3,max=255"`
	DeckID             uint   `json:"deck_id" validate:"required"`
	TextQuestionCount  int    `json:"text_question_count" validate:"gte=0,lte=20"`
	ImageQuestionCount int    `json:"image_question_count" validate:"gte=0,lte=20"`
}

// AssignmentStatusRequest toggles an assignment between active and archived.
type AssignmentStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active archived"`
}

// QuestionResponse serializes a generated question. The reference answer is
// only populated for the assignment owner.
type QuestionResponse struct {
	ID          uint   `json:"id"`
	Kind        string `json:"kind"`
	Prompt      string `json:"prompt"`
	Answer      string `json:"answer,omitempty"`
	Context     string `json:"context,omitempty"`
	ImageID     *uint  `json:"image_id,omitempty"`
	SlideNumber int    `json:"slide_number"`
	Position    int    `json:"position"`
}

// AssignmentResponse summarizes an assignment.
type AssignmentResponse struct {
	ID                 uint      `json:"id"`
	Name               string    `json:"name"`
	OwnerID            uint      `json:"owner_id"`
	DeckID             uint      `json:"deck_id"`
	TextQuestionCount  int       `json:"text_question_count"`
	ImageQuestionCount int       `json:"image_question_count"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

// AssignmentDetailResponse adds the question list to an assignment summary.
type AssignmentDetailResponse struct {
	AssignmentResponse
	Questions []QuestionResponse `json:"questions"`
}

// ShortfallResponse reports unmet question quotas after generation.
type ShortfallResponse struct {
	TextMissing  int `json:"text_missing"`
	ImageMissing int `json:"image_missing"`
}

// AssignmentCreateResponse is the generation result: the persisted assignment
// plus an optional shortfall report when quotas could not be met.
type AssignmentCreateResponse struct {
	AssignmentDetailResponse
	Shortfall *ShortfallResponse `json:"shortfall,omitempty"`
}

// NewAssignmentResponse converts an Assignment model into a DTO.
func NewAssignmentResponse(model models.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:                 model.ID,
		Name:               model.Name,
		OwnerID:            model.OwnerID,
		DeckID:             model.DeckID,
		TextQuestionCount:  model.TextQuestionCount,
		ImageQuestionCount: model.ImageQuestionCount,
		Status:             model.Status,
		CreatedAt:          model.CreatedAt,
	}
}

// NewQuestionResponse converts a Question model into a DTO. When includeAnswer
// is false the reference answer is blanked so students cannot read it.
func NewQuestionResponse(model models.Question, includeAnswer bool) QuestionResponse {
	response := QuestionResponse{
		ID:          model.ID,
		Kind:        model.Kind,
		Prompt:      model.Prompt,
		Context:     model.Context,
		ImageID:     model.ImageID,
		SlideNumber: model.SlideNumber,
		Position:    model.Position,
	}
	if includeAnswer {
		response.Answer = model.Answer
	}

	return response
}

// NewAssignmentDetailResponse converts an assignment and its questions.
func NewAssignmentDetailResponse(model models.Assignment, includeAnswers bool) AssignmentDetailResponse {
	detail := AssignmentDetailResponse{AssignmentResponse: NewAssignmentResponse(model)}
	detail.Questions = make([]QuestionResponse, 0, len(model.Questions))
	for _, question := range model.Questions {
		detail.Questions = append(detail.Questions, NewQuestionResponse(question, includeAnswers))
	}

	return detail
}
