package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DescribeSystemPrompt instructs the vision model to write descriptions that
// work as retrieval units: factual, self-contained, no meta commentary.
func DescribeSystemPrompt() string {
	return "You are an assistant that writes concise, factual descriptions of images found in lecture slides. " +
		"Describe what the image shows and what it is meant to teach. Write two to four sentences of plain text. " +
		"Do not mention that you are describing an image."
}

// BuildDescribePrompt combines OCR output and the surrounding slide text into
// the user prompt for an image description request.
func BuildDescribePrompt(ocrText, slideContext string) string {
	builder := strings.Builder{}
	builder.WriteString("Describe this slide image.")
	if slideContext != "" {
		builder.WriteString("\n\nText on the same slide:\n")
		builder.WriteString(slideContext)
	}
	if ocrText != "" {
		builder.WriteString("\n\nText detected inside the image:\n")
		builder.WriteString(ocrText)
	}
	return builder.String()
}

// OCRSystemPrompt instructs the vision model to act as a plain transcriber.
func OCRSystemPrompt() string {
	return "You transcribe text visible in images. Return only the transcribed text, " +
		"preserving reading order. If the image contains no legible text, return an empty response."
}

// QuestionSystemPrompt instructs the model to return one question as strict JSON.
func QuestionSystemPrompt() string {
	return "You write quiz questions for students based on lecture material. " +
		"Respond with a JSON object containing exactly two fields: question and answer. " +
		"The question must be answerable from the provided material alone and the answer must be short and specific."
}

// BuildTextQuestionPrompt asks for a question grounded in a retrieved context window.
func BuildTextQuestionPrompt(contextWindow string) string {
	builder := strings.Builder{}
	builder.WriteString("Write one quiz question based on the following lecture content.\n\n")
	builder.WriteString("## Lecture content\n")
	builder.WriteString(contextWindow)
	builder.WriteString("\n\nReturn JSON.")
	return builder.String()
}

// BuildImageQuestionPrompt asks for a question grounded in an image's
// description and any text read from it.
func BuildImageQuestionPrompt(description, ocrText string) string {
	builder := strings.Builder{}
	builder.WriteString("Write one quiz question about the image described below. ")
	builder.WriteString("The student will see the image while answering.\n\n")
	builder.WriteString("## Image description\n")
	builder.WriteString(description)
	if ocrText != "" {
		builder.WriteString("\n\n## Text in the image\n")
		builder.WriteString(ocrText)
	}
	builder.WriteString("\n\nReturn JSON.")
	return builder.String()
}

// GradingSystemPrompt instructs the model to grade on the fixed 0-2 scale and
// return strict JSON.
func GradingSystemPrompt() string {
	return "You are a teacher grading a student's answer to a quiz question. " +
		"Respond with a JSON object containing grade and feedback. " +
		"Grade is an integer: 0 for incorrect, 1 for partially correct, 2 for fully correct. " +
		"Feedback is one or two sentences telling the student what was right and what was missing."
}

// BuildGradingPrompt lays out the question, the reference answer and the
// student's answer for a grading request.
func BuildGradingPrompt(question, referenceAnswer, studentAnswer string) string {
	builder := strings.Builder{}
	builder.WriteString("## Question\n")
	builder.WriteString(question)
	builder.WriteString("\n\n## Reference answer\n")
	builder.WriteString(referenceAnswer)
	builder.WriteString("\n\n## Student answer\n")
	builder.WriteString(studentAnswer)
	builder.WriteString("\n\nReturn JSON.")
	return builder.String()
}

// SummarySystemPrompt instructs the model to write the end-of-submission summary.
func SummarySystemPrompt() string {
	return "You summarize a student's quiz performance. Write two or three encouraging sentences in plain text: " +
		"what the student handled well and which topics they should review. Address the student directly."
}

// BuildSummaryPrompt renders the graded transcript for the summary request.
// Each line entry holds question, latest answer and latest grade.
func BuildSummaryPrompt(lines []SummaryLine) string {
	builder := strings.Builder{}
	builder.WriteString("The student answered the following quiz:\n")
	for i, line := range lines {
		builder.WriteString(fmt.Sprintf("\n%d. Question: %s\n   Student answer: %s\n   Grade: %d of %d\n",
			i+1, line.Question, line.Answer, line.Grade, line.GradeMax))
	}
	builder.WriteString("\nWrite the summary.")
	return builder.String()
}

// SummaryLine is one graded question in the transcript handed to the summary prompt.
type SummaryLine struct {
	Question string
	Answer   string
	Grade    int
	GradeMax int
}

// ParseQuestionResponse validates the structured output of a question
// generation request. Both fields must be present and non-empty.
func ParseQuestionResponse(content string) (QuestionDraft, error) {
	var draft QuestionDraft
	if err := json.Unmarshal([]byte(content), &draft); err != nil {
		return QuestionDraft{}, fmt.Errorf("parse question json: %w", err)
	}

	draft.Question = strings.TrimSpace(draft.Question)
	draft.Answer = strings.TrimSpace(draft.Answer)

	if draft.Question == "" {
		return QuestionDraft{}, fmt.Errorf("question response missing question field")
	}
	if draft.Answer == "" {
		return QuestionDraft{}, fmt.Errorf("question response missing answer field")
	}

	return draft, nil
}

// ParseGradeResponse validates the structured output of a grading request.
// A missing or non-numeric grade is an error, never a silent zero; grades
// outside [min, max] are clamped into the scale.
func ParseGradeResponse(content string, min, max int) (GradeResult, error) {
	type payload struct {
		Grade    *float64 `json:"grade"`
		Feedback string   `json:"feedback"`
	}

	var data payload
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return GradeResult{}, fmt.Errorf("parse grade json: %w", err)
	}

	if data.Grade == nil {
		return GradeResult{}, fmt.Errorf("grade response missing grade field")
	}

	grade := int(*data.Grade + 0.5)
	if grade < min {
		grade = min
	}
	if grade > max {
		grade = max
	}

	return GradeResult{
		Grade:    grade,
		Feedback: strings.TrimSpace(data.Feedback),
	}, nil
}
