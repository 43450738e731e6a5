package ai

import "context"

// GenerateRequest carries one prompt to the generation LLM. Image is
// optional; when present the request is sent as a multimodal message.
// JSONMode asks the model for a single JSON object response.
type GenerateRequest struct {
	System      string
	Prompt      string
	Image       []byte
	ImageMIME   string
	JSONMode    bool
	MaxTokens   int
	Temperature float32
}

// Generator describes a model capable of producing text from a prompt and
// an optional image.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Embedder converts text inputs into embedding vectors, one per input, in
// input order.
type Embedder interface {
	EmbedTexts(ctx context.Context, inputs []string) ([][]float32, error)
}

// OCR extracts legible text from an image. Implementations are best-effort:
// callers treat failures as an empty transcription.
type OCR interface {
	ExtractText(ctx context.Context, image []byte, mime string) (string, error)
}

// QuestionDraft is the structured output expected from a question
// generation request.
type QuestionDraft struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// GradeResult is the structured output expected from a grading request.
type GradeResult struct {
	Grade    int    `json:"grade"`
	Feedback string `json:"feedback"`
}
