package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/deckquiz/deckquiz-go-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_foreign_keys=on"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Image{},
		&models.Deck{},
		&models.SlideItem{},
		&models.Assignment{},
		&models.Question{},
		&models.Submission{},
		&models.SubmissionAnswer{},
		&models.ActivityLog{},
	))
	return db
}

func createTestTeacher(t *testing.T, db *gorm.DB, email string) models.User {
	t.Helper()
	teacher := models.User{Name: "Teacher", Email: email, Role: models.RoleTeacher}
	require.NoError(t, db.Create(&teacher).Error)
	return teacher
}

func TestDeckRepositoryCreatePersistsItemsAndImages(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeckRepository(db)
	teacher := createTestTeacher(t, db, "deck-create@example.com")

	deck := models.Deck{
		Title:          "Networking 101",
		SourceName:     "networking.pptx",
		SlideCount:     2,
		TextItemCount:  2,
		ImageItemCount: 1,
		CollectionID:   "deck-create-collection",
		OwnerID:        teacher.ID,
		Items: []models.SlideItem{
			{SlideNumber: 1, Position: 0, Kind: models.ItemKindText, Content: "TCP basics"},
			{SlideNumber: 1, Position: 1, Kind: models.ItemKindImage, Image: &models.Image{
				Data: []byte{0x1}, ContentType: "image/png", Extension: "png", SizeBytes: 1, Checksum: "abc",
			}},
			{SlideNumber: 2, Position: 0, Kind: models.ItemKindText, Content: "UDP basics"},
		},
	}
	require.NoError(t, repo.Create(context.Background(), &deck))
	require.NotZero(t, deck.ID)

	items, err := repo.Items(context.Background(), deck.ID, ItemFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "TCP basics", items[0].Content)
	require.NotNil(t, items[1].ImageID)

	var imageCount int64
	require.NoError(t, db.Model(&models.Image{}).Count(&imageCount).Error)
	require.GreaterOrEqual(t, imageCount, int64(1))
}

func TestDeckRepositoryItemsOrderAndFilters(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeckRepository(db)
	teacher := createTestTeacher(t, db, "deck-items@example.com")

	deck := models.Deck{
		Title: "Ordering", SourceName: "ordering.pptx", SlideCount: 2,
		CollectionID: "deck-items-collection", OwnerID: teacher.ID,
	}
	require.NoError(t, repo.Create(context.Background(), &deck))

	// Inserted deliberately out of slide order.
	items := []models.SlideItem{
		{DeckID: deck.ID, SlideNumber: 2, Position: 0, Kind: models.ItemKindText, Content: "slide two"},
		{DeckID: deck.ID, SlideNumber: 1, Position: 1, Kind: models.ItemKindImage, Content: "described", Deleted: true},
		{DeckID: deck.ID, SlideNumber: 1, Position: 0, Kind: models.ItemKindText, Content: "slide one"},
	}
	for i := range items {
		require.NoError(t, db.Create(&items[i]).Error)
	}

	ordered, err := repo.Items(context.Background(), deck.ID, ItemFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, ordered, 3)
	require.Equal(t, "slide one", ordered[0].Content)
	require.Equal(t, "described", ordered[1].Content)
	require.Equal(t, "slide two", ordered[2].Content)

	active, err := repo.Items(context.Background(), deck.ID, ItemFilter{})
	require.NoError(t, err)
	require.Len(t, active, 2)

	imagesOnly, err := repo.Items(context.Background(), deck.ID, ItemFilter{Kind: models.ItemKindImage, IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, imagesOnly, 1)
}

func TestDeckRepositorySetCollectionBuilt(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeckRepository(db)
	teacher := createTestTeacher(t, db, "deck-built@example.com")

	deck := models.Deck{
		Title: "Built", SourceName: "built.pptx",
		CollectionID: "deck-built-collection", OwnerID: teacher.ID,
	}
	require.NoError(t, repo.Create(context.Background(), &deck))

	builtAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.SetCollectionBuilt(context.Background(), deck.ID, builtAt))

	reloaded, err := repo.GetByID(context.Background(), deck.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.CollectionBuiltAt)

	err = repo.SetCollectionBuilt(context.Background(), 99999, builtAt)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
