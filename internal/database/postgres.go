package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/deckquiz/deckquiz-go-api/internal/models"
	"github.com/deckquiz/deckquiz-go-api/internal/vector"
)

// ConnectPostgres establishes a connection to the PostgreSQL database using the provided DSN.
func ConnectPostgres(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn must not be empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return db, nil
}

// Migrate enables the pgvector extension and creates or updates the schema
// for all persisted entities, including the vector unit table.
func Migrate(db *gorm.DB) error {
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("failed to enable pgvector extension: %w", err)
		}
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Image{},
		&models.Deck{},
		&models.SlideItem{},
		&models.Assignment{},
		&models.Question{},
		&models.Submission{},
		&models.SubmissionAnswer{},
		&models.ActivityLog{},
		&vector.Unit{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	return nil
}
