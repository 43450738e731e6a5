package dto

import (
	"time"

	"github.com/deckquiz/deckquiz-go-api/internal/models"
	"github.com/deckquiz/deckquiz-go-api/internal/vector"
)

// DeckUploadRequest describes the multipart payload for deck ingestion.
// The file part is handled separately by the handler.
type DeckUploadRequest struct {
	Title string `form:"title" validate:"required,min=3,max=255"`
}

// DescribeBatchRequest selects which batch of image items to describe.
type DescribeBatchRequest struct {
	BatchIndex int `json:"batch_index" validate:"gte=0"`
}

// ItemUpdateRequest patches a slide item: a manual description, a soft-delete
// flag change, or both.
type ItemUpdateRequest struct {
	Description *string `json:"description" validate:"omitempty,min=1"`
	Deleted     *bool   `json:"deleted"`
}

// SlideItemResponse serializes one slide item.
type SlideItemResponse struct {
	ID          uint       `json:"id"`
	SlideNumber int        `json:"slide_number"`
	Position    int        `json:"position"`
	Kind        string     `json:"kind"`
	Content     string     `json:"content"`
	OCRText     string     `json:"ocr_text,omitempty"`
	ImageID     *uint      `json:"image_id,omitempty"`
	Deleted     bool       `json:"deleted"`
	DescribedAt *time.Time `json:"described_at,omitempty"`
}

// DeckResponse summarizes a deck in listings.
type DeckResponse struct {
	ID                uint       `json:"id"`
	Title             string     `json:"title"`
	SourceName        string     `json:"source_name"`
	SlideCount        int        `json:"slide_count"`
	TextItemCount     int        `json:"text_item_count"`
	ImageItemCount    int        `json:"image_item_count"`
	CollectionID      string     `json:"collection_id"`
	CollectionBuiltAt *time.Time `json:"collection_built_at"`
	OwnerID           uint       `json:"owner_id"`
	CreatedAt         time.Time  `json:"created_at"`
}

// DeckDetailResponse adds the full item list to a deck summary.
type DeckDetailResponse struct {
	DeckResponse
	Items []SlideItemResponse `json:"items"`
}

// DescribeBatchResponse reports the outcome of one description batch.
type DescribeBatchResponse struct {
	BatchIndex     int    `json:"batch_index"`
	BatchSize      int    `json:"batch_size"`
	TotalImages    int    `json:"total_images"`
	Processed      []uint `json:"processed"`
	Skipped        []uint `json:"skipped"`
	Failed         []uint `json:"failed"`
	RemainingAfter int    `json:"remaining_after"`
}

// RetrievalHitResponse serializes one ranked retrieval result.
type RetrievalHitResponse struct {
	ItemID      uint    `json:"item_id"`
	Kind        string  `json:"kind"`
	SlideNumber int     `json:"slide_number"`
	Position    int     `json:"position"`
	Content     string  `json:"content"`
	Score       float64 `json:"score"`
}

// CollectionBuildResponse reports a finished collection rebuild.
type CollectionBuildResponse struct {
	CollectionID string    `json:"collection_id"`
	Units        int       `json:"units"`
	BuiltAt      time.Time `json:"built_at"`
}

// NewDeckResponse converts a Deck model into a DTO.
func NewDeckResponse(model models.Deck) DeckResponse {
	return DeckResponse{
		ID:                model.ID,
		Title:             model.Title,
		SourceName:        model.SourceName,
		SlideCount:        model.SlideCount,
		TextItemCount:     model.TextItemCount,
		ImageItemCount:    model.ImageItemCount,
		CollectionID:      model.CollectionID,
		CollectionBuiltAt: model.CollectionBuiltAt,
		OwnerID:           model.OwnerID,
		CreatedAt:         model.CreatedAt,
	}
}

// NewDeckDetailResponse converts a Deck and its items into a DTO.
func NewDeckDetailResponse(model models.Deck, items []models.SlideItem) DeckDetailResponse {
	response := DeckDetailResponse{DeckResponse: NewDeckResponse(model)}
	response.Items = make([]SlideItemResponse, 0, len(items))
	for _, item := range items {
		response.Items = append(response.Items, NewSlideItemResponse(item))
	}

	return response
}

// NewSlideItemResponse converts a SlideItem model into a DTO.
func NewSlideItemResponse(model models.SlideItem) SlideItemResponse {
	return SlideItemResponse{
		ID:          model.ID,
		SlideNumber: model.SlideNumber,
		Position:    model.Position,
		Kind:        model.Kind,
		Content:     model.Content,
		OCRText:     model.OCRText,
		ImageID:     model.ImageID,
		Deleted:     model.Deleted,
		DescribedAt: model.DescribedAt,
	}
}

// NewRetrievalHitResponses converts ranked vector results into DTOs.
func NewRetrievalHitResponses(results []vector.Result) []RetrievalHitResponse {
	hits := make([]RetrievalHitResponse, 0, len(results))
	for _, result := range results {
		hits = append(hits, RetrievalHitResponse{
			ItemID:      result.ItemID,
			Kind:        result.Kind,
			SlideNumber: result.SlideNumber,
			Position:    result.Position,
			Content:     result.Content,
			Score:       result.Score,
		})
	}

	return hits
}
