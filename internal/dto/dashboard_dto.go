package dto

import "time"

// DashboardAssignment is one row of a student's dashboard: an active
// assignment plus the student's progress on it, if any.
type DashboardAssignment struct {
	AssignmentID  uint       `json:"assignment_id"`
	Name          string     `json:"name"`
	QuestionCount int        `json:"question_count"`
	Progress      string     `json:"progress"`
	SubmissionID  *uint      `json:"submission_id,omitempty"`
	OverallScore  *float64   `json:"overall_score,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Dashboard progress states.
const (
	ProgressNotStarted = "not_started"
	ProgressInProgress = "in_progress"
	ProgressCompleted  = "completed"
)

// DashboardSummary aggregates a student's standing across assignments.
type DashboardSummary struct {
	TotalAssignments int     `json:"total_assignments"`
	NotStarted       int     `json:"not_started"`
	InProgress       int     `json:"in_progress"`
	Completed        int     `json:"completed"`
	AverageScore     float64 `json:"average_score"`
}

// StudentDashboardResponse is the cached dashboard payload.
type StudentDashboardResponse struct {
	Summary     DashboardSummary      `json:"summary"`
	Assignments []DashboardAssignment `json:"assignments"`
	GeneratedAt time.Time             `json:"generated_at"`
}
