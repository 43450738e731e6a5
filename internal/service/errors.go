package service

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across services. Handlers translate these into
// HTTP statuses; everything else surfaces as an internal error.
var (
	ErrDeckNotFound         = errors.New("deck not found")
	ErrItemNotFound         = errors.New("slide item not found")
	ErrImageNotFound        = errors.New("image not found")
	ErrAssignmentNotFound   = errors.New("assignment not found")
	ErrQuestionNotFound     = errors.New("question not found")
	ErrSubmissionNotFound   = errors.New("submission not found")
	ErrForbidden            = errors.New("actor does not own this resource")
	ErrValidation           = errors.New("validation failed")
	ErrCollectionNotBuilt   = errors.New("deck collection has not been built")
	ErrAssignmentArchived   = errors.New("assignment is archived")
	ErrSubmissionCompleted  = errors.New("submission is already completed")
	ErrIncompleteSubmission = errors.New("submission has unanswered questions")
	ErrAttemptLimit         = errors.New("attempt limit reached for this question")
	ErrDuplicateAttempt     = errors.New("attempt already recorded for this question")
	ErrGrading              = errors.New("grading response could not be interpreted")
	ErrQuestionMismatch     = errors.New("question does not belong to this submission")
	ErrItemNotImage         = errors.New("slide item is not an image")
)

// ExternalServiceError marks a failure of an upstream dependency (LLM,
// embedding endpoint, vector store) after retries were exhausted. Handlers
// map it to 502 so callers can distinguish upstream outages from bad input.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func externalErr(service string, err error) error {
	return &ExternalServiceError{Service: service, Err: err}
}

// ShortfallError reports how many requested questions could not be generated
// after all eligible seeds and retries were exhausted. The assignment is still
// persisted with whatever was produced.
type ShortfallError struct {
	TextMissing  int
	ImageMissing int
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("question quota not met: %d text and %d image questions missing", e.TextMissing, e.ImageMissing)
}

func (e *ShortfallError) Total() int { return e.TextMissing + e.ImageMissing }
