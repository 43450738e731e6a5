package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/deckquiz/deckquiz-go-api/internal/models"
)

// SubmissionFilter narrows submission listings.
type SubmissionFilter struct {
	AssignmentID *uint
	StudentID    *uint
	Status       *string
}

// SubmissionRepository defines persistence operations for submissions and
// their graded answers. CreateAnswer relies on the unique index over
// (submission_id, question_id, attempt_number): a losing concurrent insert
// surfaces gorm.ErrDuplicatedKey.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	Update(ctx context.Context, submission *models.Submission) error
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error)
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	GetByAssignmentAndStudent(ctx context.Context, assignmentID, studentID uint) (models.Submission, error)
	CreateAnswer(ctx context.Context, answer *models.SubmissionAnswer) error
	Answers(ctx context.Context, submissionID uint) ([]models.SubmissionAnswer, error)
	LatestAttempt(ctx context.Context, submissionID, questionID uint) (int, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates a GORM-backed repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) Update(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Omit("Assignment", "Student", "Answers").Save(submission).Error
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{})

	if filter.AssignmentID != nil {
		query = query.Where("assignment_id = ?", *filter.AssignmentID)
	}

	if filter.StudentID != nil {
		query = query.Where("student_id = ?", *filter.StudentID)
	}

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var submissions []models.Submission
	if err := query.Order("created_at DESC").Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("submission_answers.question_id ASC, submission_answers.attempt_number ASC")
		}).
		First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) GetByAssignmentAndStudent(ctx context.Context, assignmentID, studentID uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Where("student_id = ?", studentID).
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) CreateAnswer(ctx context.Context, answer *models.SubmissionAnswer) error {
	return r.db.WithContext(ctx).Create(answer).Error
}

func (r *submissionRepository) Answers(ctx context.Context, submissionID uint) ([]models.SubmissionAnswer, error) {
	var answers []models.SubmissionAnswer
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("question_id ASC, attempt_number ASC").
		Find(&answers).Error; err != nil {
		return nil, err
	}

	return answers, nil
}

func (r *submissionRepository) LatestAttempt(ctx context.Context, submissionID, questionID uint) (int, error) {
	var latest int
	err := r.db.WithContext(ctx).Model(&models.SubmissionAnswer{}).
		Where("submission_id = ?", submissionID).
		Where("question_id = ?", questionID).
		Select("COALESCE(MAX(attempt_number), 0)").
		Scan(&latest).Error
	if err != nil {
		return 0, err
	}

	return latest, nil
}
