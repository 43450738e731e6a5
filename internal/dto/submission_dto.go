package dto

import (
	"time"

	"github.com/deckquiz/deckquiz-go-api/internal/models"
)

// SaveAnswerRequest records one attempt at one question.
type SaveAnswerRequest struct {
	QuestionID uint   `json:"question_id" validate:"required"`
	AnswerText string `json:"answer_text" validate:"required,min=1,max=4000"`
}

// AnswerResponse serializes one graded attempt.
type AnswerResponse struct {
	ID            uint      `json:"id"`
	QuestionID    uint      `json:"question_id"`
	AttemptNumber int       `json:"attempt_number"`
	AnswerText    string    `json:"answer_text"`
	Grade         int       `json:"grade"`
	GradeMax      int       `json:"grade_max"`
	Feedback      string    `json:"feedback"`
	CreatedAt     time.Time `json:"created_at"`
}

// SubmissionResponse summarizes one student's run at an assignment.
type SubmissionResponse struct {
	ID           uint       `json:"id"`
	AssignmentID uint       `json:"assignment_id"`
	StudentID    uint       `json:"student_id"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	OverallScore *float64   `json:"overall_score,omitempty"`
	Summary      string     `json:"summary,omitempty"`
}

// SubmissionQuestionDetail pairs a question with the attempts made on it.
type SubmissionQuestionDetail struct {
	Question     QuestionResponse `json:"question"`
	Attempts     []AnswerResponse `json:"attempts"`
	AttemptsLeft int              `json:"attempts_left"`
}

// SubmissionDetailResponse is the full review payload for one submission.
type SubmissionDetailResponse struct {
	SubmissionResponse
	AssignmentName string                     `json:"assignment_name"`
	Questions      []SubmissionQuestionDetail `json:"questions"`
}

// NewAnswerResponse converts a SubmissionAnswer model into a DTO.
func NewAnswerResponse(model models.SubmissionAnswer) AnswerResponse {
	return AnswerResponse{
		ID:            model.ID,
		QuestionID:    model.QuestionID,
		AttemptNumber: model.AttemptNumber,
		AnswerText:    model.AnswerText,
		Grade:         model.Grade,
		GradeMax:      models.GradeMax,
		Feedback:      model.Feedback,
		CreatedAt:     model.CreatedAt,
	}
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:           model.ID,
		AssignmentID: model.AssignmentID,
		StudentID:    model.StudentID,
		Status:       model.Status,
		StartedAt:    model.StartedAt,
		CompletedAt:  model.CompletedAt,
		OverallScore: model.OverallScore,
		Summary:      model.Summary,
	}
}
