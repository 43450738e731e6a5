package models

import "time"

// Submission is one student's run at an assignment. It is created when the
// student opens the assignment, accumulates graded answers while in progress
// and becomes terminal once completed.
type Submission struct {
	ID           uint               `gorm:"primaryKey" json:"id"`
	AssignmentID uint               `gorm:"not null;uniqueIndex:idx_submission_student" json:"assignment_id"`
	StudentID    uint               `gorm:"not null;uniqueIndex:idx_submission_student" json:"student_id"`
	Status       string             `gorm:"size:32;not null" json:"status"`
	StartedAt    time.Time          `gorm:"not null" json:"started_at"`
	CompletedAt  *time.Time         `json:"completed_at"`
	OverallScore *float64           `json:"overall_score"`
	Summary      string             `gorm:"type:text" json:"summary"`
	Feedback     string             `gorm:"type:text" json:"feedback"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Assignment   Assignment         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Student      User               `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Answers      []SubmissionAnswer `json:"answers,omitempty"`
}

const (
	// SubmissionStatusInProgress indicates the student is still answering.
	SubmissionStatusInProgress = "in_progress"
	// SubmissionStatusCompleted indicates the submission has been finalized.
	SubmissionStatusCompleted = "completed"
)

// IsCompleted reports whether the submission has been finalized.
func (s Submission) IsCompleted() bool {
	return s.Status == SubmissionStatusCompleted
}

// SubmissionAnswer is one graded response to one question within one
// submission. The (submission, question, attempt_number) triple is unique;
// the database constraint is the final arbiter under concurrent saves.
type SubmissionAnswer struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	SubmissionID  uint       `gorm:"not null;uniqueIndex:idx_answer_attempt" json:"submission_id"`
	QuestionID    uint       `gorm:"not null;uniqueIndex:idx_answer_attempt" json:"question_id"`
	AttemptNumber int        `gorm:"not null;uniqueIndex:idx_answer_attempt" json:"attempt_number"`
	AnswerText    string     `gorm:"type:text;not null" json:"answer_text"`
	Grade         int        `gorm:"not null" json:"grade"`
	Feedback      string     `gorm:"type:text" json:"feedback"`
	CreatedAt     time.Time  `json:"created_at"`
	Submission    Submission `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Question      Question   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

const (
	// MaxAttemptsPerQuestion bounds resubmissions on a single question.
	MaxAttemptsPerQuestion = 2
	// GradeMin and GradeMax bound the per-question grading scale. Overall
	// submission scores are expressed as a percentage of the maximum.
	GradeMin = 0
	GradeMax = 2
)
