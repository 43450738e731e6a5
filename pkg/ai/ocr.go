package ai

import (
	"context"

	"github.com/rs/zerolog"
)

// VisionOCR implements OCR by asking the vision model for a plain
// transcription. Callers treat any error as "no text found".
type VisionOCR struct {
	generator Generator
	logger    zerolog.Logger
}

// NewVisionOCR builds an OCR implementation on top of a vision-capable Generator.
func NewVisionOCR(generator Generator, logger zerolog.Logger) *VisionOCR {
	return &VisionOCR{
		generator: generator,
		logger:    logger.With().Str("component", "vision_ocr").Logger(),
	}
}

// ExtractText transcribes legible text from the image.
func (o *VisionOCR) ExtractText(ctx context.Context, image []byte, mime string) (string, error) {
	text, err := o.generator.Generate(ctx, GenerateRequest{
		System:    OCRSystemPrompt(),
		Prompt:    "Transcribe the text in this image.",
		Image:     image,
		ImageMIME: mime,
		MaxTokens: 400,
	})
	if err != nil {
		o.logger.Debug().Err(err).Msg("ocr transcription failed")
		return "", err
	}

	return text, nil
}
