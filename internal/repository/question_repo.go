package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/deckquiz/deckquiz-go-api/internal/models"
)

// QuestionRepository defines read operations for generated questions.
// Questions are immutable: writes happen only through assignment creation.
type QuestionRepository interface {
	GetByID(ctx context.Context, id uint) (models.Question, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Question, error)
}

type questionRepository struct {
	db *gorm.DB
}

// NewQuestionRepository instantiates a GORM-backed repository.
func NewQuestionRepository(db *gorm.DB) QuestionRepository {
	return &questionRepository{db: db}
}

func (r *questionRepository) GetByID(ctx context.Context, id uint) (models.Question, error) {
	var question models.Question
	if err := r.db.WithContext(ctx).First(&question, id).Error; err != nil {
		return models.Question{}, err
	}

	return question, nil
}

func (r *questionRepository) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Question, error) {
	var questions []models.Question
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("id ASC").
		Find(&questions).Error; err != nil {
		return nil, err
	}

	return questions, nil
}
