package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/deckquiz/deckquiz-go-api/internal/dto"
	"github.com/deckquiz/deckquiz-go-api/internal/models"
	"github.com/deckquiz/deckquiz-go-api/internal/repository"
	"github.com/deckquiz/deckquiz-go-api/internal/retry"
	"github.com/deckquiz/deckquiz-go-api/internal/vector"
	"github.com/deckquiz/deckquiz-go-api/pkg/ai"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// testPolicy disables backoff so failures surface on the first attempt.
func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 1}
}

func noopEvents() *EventPublisher {
	return NewEventPublisher(nil, "", testLogger())
}

func ptrUint(v uint) *uint { return &v }

func ptrStr(v string) *string { return &v }

func ptrBool(v bool) *bool { return &v }

func ptrFloat(v float64) *float64 { return &v }

// recorderStub collects activity entries without touching storage.
type recorderStub struct {
	entries []ActivityEntry
}

func (r *recorderStub) Record(_ context.Context, entry ActivityEntry) (dto.ActivityResponse, error) {
	r.entries = append(r.entries, entry)
	return dto.ActivityResponse{ID: uint(len(r.entries))}, nil
}

type generateReply struct {
	content string
	err     error
}

// scriptedGenerator returns its replies in order; the last reply repeats once
// the script is exhausted. Every request is recorded for assertions.
type scriptedGenerator struct {
	replies  []generateReply
	requests []ai.GenerateRequest
}

func (g *scriptedGenerator) Generate(_ context.Context, req ai.GenerateRequest) (string, error) {
	g.requests = append(g.requests, req)
	if len(g.replies) == 0 {
		return "", fmt.Errorf("no scripted reply for request %d", len(g.requests))
	}
	reply := g.replies[0]
	if len(g.replies) > 1 {
		g.replies = g.replies[1:]
	}
	return reply.content, reply.err
}

func (g *scriptedGenerator) calls() int {
	return len(g.requests)
}

// stubEmbedder maps known inputs to fixed vectors and everything else to the
// fallback, so tests control retrieval ordering exactly.
type stubEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	err      error
	numCalls int
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{
		vectors:  map[string][]float32{},
		fallback: []float32{1, 0, 0},
	}
}

func (e *stubEmbedder) EmbedTexts(_ context.Context, inputs []string) ([][]float32, error) {
	e.numCalls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, 0, len(inputs))
	for _, input := range inputs {
		if v, ok := e.vectors[input]; ok {
			out = append(out, v)
			continue
		}
		out = append(out, e.fallback)
	}
	return out, nil
}

type stubOCR struct {
	text string
	err  error
}

func (o *stubOCR) ExtractText(context.Context, []byte, string) (string, error) {
	return o.text, o.err
}

// stubRetriever serves fixed hits regardless of the query.
type stubRetriever struct {
	results []vector.Result
	err     error
	queries []string
}

func (r *stubRetriever) Retrieve(_ context.Context, _ string, query string, k int) ([]vector.Result, error) {
	r.queries = append(r.queries, query)
	if r.err != nil {
		return nil, r.err
	}
	if len(r.results) > k {
		return r.results[:k], nil
	}
	return r.results, nil
}

type memoryDeckRepo struct {
	decks       map[uint]models.Deck
	items       []models.SlideItem
	nextDeckID  uint
	nextItemID  uint
	nextImageID uint
}

func newMemoryDeckRepo() *memoryDeckRepo {
	return &memoryDeckRepo{decks: map[uint]models.Deck{}}
}

func (m *memoryDeckRepo) Create(_ context.Context, deck *models.Deck) error {
	m.nextDeckID++
	deck.ID = m.nextDeckID
	deck.CreatedAt = time.Now()
	for i := range deck.Items {
		m.nextItemID++
		deck.Items[i].ID = m.nextItemID
		deck.Items[i].DeckID = deck.ID
		if image := deck.Items[i].Image; image != nil {
			if image.ID == 0 {
				m.nextImageID++
				image.ID = m.nextImageID
			}
			imageID := image.ID
			deck.Items[i].ImageID = &imageID
		}
		m.items = append(m.items, deck.Items[i])
	}

	stored := *deck
	stored.Items = nil
	m.decks[deck.ID] = stored

	return nil
}

func (m *memoryDeckRepo) List(_ context.Context, filter repository.DeckFilter) ([]models.Deck, error) {
	decks := make([]models.Deck, 0, len(m.decks))
	for _, deck := range m.decks {
		if filter.OwnerID != nil && deck.OwnerID != *filter.OwnerID {
			continue
		}
		decks = append(decks, deck)
	}
	sort.Slice(decks, func(i, j int) bool { return decks[i].ID < decks[j].ID })
	return decks, nil
}

func (m *memoryDeckRepo) GetByID(_ context.Context, id uint) (models.Deck, error) {
	deck, ok := m.decks[id]
	if !ok {
		return models.Deck{}, gorm.ErrRecordNotFound
	}
	return deck, nil
}

func (m *memoryDeckRepo) SetCollectionBuilt(_ context.Context, id uint, builtAt time.Time) error {
	deck, ok := m.decks[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	deck.CollectionBuiltAt = &builtAt
	m.decks[id] = deck
	return nil
}

func (m *memoryDeckRepo) Items(_ context.Context, deckID uint, filter repository.ItemFilter) ([]models.SlideItem, error) {
	items := make([]models.SlideItem, 0, len(m.items))
	for _, item := range m.items {
		if item.DeckID != deckID {
			continue
		}
		if filter.Kind != "" && item.Kind != filter.Kind {
			continue
		}
		if !filter.IncludeDeleted && item.Deleted {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].SlideNumber != items[j].SlideNumber {
			return items[i].SlideNumber < items[j].SlideNumber
		}
		return items[i].Position < items[j].Position
	})
	return items, nil
}

func (m *memoryDeckRepo) GetItem(_ context.Context, deckID, itemID uint) (models.SlideItem, error) {
	for _, item := range m.items {
		if item.DeckID == deckID && item.ID == itemID {
			return item, nil
		}
	}
	return models.SlideItem{}, gorm.ErrRecordNotFound
}

func (m *memoryDeckRepo) UpdateItem(_ context.Context, item *models.SlideItem) error {
	for i := range m.items {
		if m.items[i].ID == item.ID {
			image := m.items[i].Image
			m.items[i] = *item
			m.items[i].Image = image
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// seedDeck registers a deck directly, bypassing ingestion.
func (m *memoryDeckRepo) seedDeck(deck models.Deck) models.Deck {
	if deck.ID == 0 {
		m.nextDeckID++
		deck.ID = m.nextDeckID
	}
	deck.Items = nil
	m.decks[deck.ID] = deck
	return deck
}

// seedItem registers a slide item directly, bypassing ingestion.
func (m *memoryDeckRepo) seedItem(item models.SlideItem) models.SlideItem {
	if item.ID == 0 {
		m.nextItemID++
		item.ID = m.nextItemID
	}
	if item.Image != nil && item.Image.ID == 0 {
		m.nextImageID++
		item.Image.ID = m.nextImageID
		imageID := item.Image.ID
		item.ImageID = &imageID
	}
	m.items = append(m.items, item)
	return item
}

type memoryAssignmentRepo struct {
	assignments    map[uint]models.Assignment
	nextID         uint
	nextQuestionID uint
	listCalls      int
}

func newMemoryAssignmentRepo() *memoryAssignmentRepo {
	return &memoryAssignmentRepo{assignments: map[uint]models.Assignment{}}
}

func (m *memoryAssignmentRepo) Create(_ context.Context, assignment *models.Assignment) error {
	m.nextID++
	assignment.ID = m.nextID
	assignment.CreatedAt = time.Now()
	for i := range assignment.Questions {
		m.nextQuestionID++
		assignment.Questions[i].ID = m.nextQuestionID
		assignment.Questions[i].AssignmentID = assignment.ID
	}
	m.assignments[assignment.ID] = *assignment
	return nil
}

func (m *memoryAssignmentRepo) List(_ context.Context, filter repository.AssignmentFilter) ([]models.Assignment, error) {
	m.listCalls++
	assignments := make([]models.Assignment, 0, len(m.assignments))
	for _, assignment := range m.assignments {
		if filter.OwnerID != nil && assignment.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.DeckID != nil && assignment.DeckID != *filter.DeckID {
			continue
		}
		if filter.Status != nil && assignment.Status != *filter.Status {
			continue
		}
		assignment.Questions = nil
		assignments = append(assignments, assignment)
	}
	sort.Slice(assignments, func(i, j int) bool { return assignments[i].ID < assignments[j].ID })
	return assignments, nil
}

func (m *memoryAssignmentRepo) GetByID(_ context.Context, id uint) (models.Assignment, error) {
	assignment, ok := m.assignments[id]
	if !ok {
		return models.Assignment{}, gorm.ErrRecordNotFound
	}
	questions := append([]models.Question(nil), assignment.Questions...)
	sort.Slice(questions, func(i, j int) bool { return questions[i].ID < questions[j].ID })
	assignment.Questions = questions
	return assignment, nil
}

func (m *memoryAssignmentRepo) UpdateStatus(_ context.Context, id uint, status string) error {
	assignment, ok := m.assignments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	assignment.Status = status
	m.assignments[id] = assignment
	return nil
}

func (m *memoryAssignmentRepo) Delete(_ context.Context, id uint) error {
	if _, ok := m.assignments[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.assignments, id)
	return nil
}

func (m *memoryAssignmentRepo) seed(assignment models.Assignment) models.Assignment {
	if assignment.ID == 0 {
		m.nextID++
		assignment.ID = m.nextID
	}
	for i := range assignment.Questions {
		if assignment.Questions[i].ID == 0 {
			m.nextQuestionID++
			assignment.Questions[i].ID = m.nextQuestionID
		}
		assignment.Questions[i].AssignmentID = assignment.ID
	}
	m.assignments[assignment.ID] = assignment
	return assignment
}

type memoryQuestionRepo struct {
	questions map[uint]models.Question
}

func newMemoryQuestionRepo() *memoryQuestionRepo {
	return &memoryQuestionRepo{questions: map[uint]models.Question{}}
}

func (m *memoryQuestionRepo) GetByID(_ context.Context, id uint) (models.Question, error) {
	question, ok := m.questions[id]
	if !ok {
		return models.Question{}, gorm.ErrRecordNotFound
	}
	return question, nil
}

func (m *memoryQuestionRepo) ListByAssignment(_ context.Context, assignmentID uint) ([]models.Question, error) {
	questions := make([]models.Question, 0, len(m.questions))
	for _, question := range m.questions {
		if question.AssignmentID == assignmentID {
			questions = append(questions, question)
		}
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].ID < questions[j].ID })
	return questions, nil
}

func (m *memoryQuestionRepo) seed(questions ...models.Question) {
	for _, question := range questions {
		m.questions[question.ID] = question
	}
}

type memoryImageRepo struct {
	images map[uint]models.Image
	nextID uint
}

func newMemoryImageRepo() *memoryImageRepo {
	return &memoryImageRepo{images: map[uint]models.Image{}}
}

func (m *memoryImageRepo) Create(_ context.Context, image *models.Image) error {
	m.nextID++
	image.ID = m.nextID
	m.images[image.ID] = *image
	return nil
}

func (m *memoryImageRepo) GetByID(_ context.Context, id uint) (models.Image, error) {
	image, ok := m.images[id]
	if !ok {
		return models.Image{}, gorm.ErrRecordNotFound
	}
	return image, nil
}

type memorySubmissionRepo struct {
	submissions  map[uint]models.Submission
	answers      []models.SubmissionAnswer
	nextID       uint
	nextAnswerID uint

	// latestAttemptFn overrides LatestAttempt to simulate a stale read
	// losing the race against the uniqueness constraint.
	latestAttemptFn func(submissionID, questionID uint) (int, error)
}

func newMemorySubmissionRepo() *memorySubmissionRepo {
	return &memorySubmissionRepo{submissions: map[uint]models.Submission{}}
}

func (m *memorySubmissionRepo) Create(_ context.Context, submission *models.Submission) error {
	for _, existing := range m.submissions {
		if existing.AssignmentID == submission.AssignmentID && existing.StudentID == submission.StudentID {
			return gorm.ErrDuplicatedKey
		}
	}
	m.nextID++
	submission.ID = m.nextID
	submission.CreatedAt = time.Now()
	m.submissions[submission.ID] = *submission
	return nil
}

func (m *memorySubmissionRepo) Update(_ context.Context, submission *models.Submission) error {
	if _, ok := m.submissions[submission.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	stored := *submission
	stored.Answers = nil
	m.submissions[submission.ID] = stored
	return nil
}

func (m *memorySubmissionRepo) List(_ context.Context, filter repository.SubmissionFilter) ([]models.Submission, error) {
	submissions := make([]models.Submission, 0, len(m.submissions))
	for _, submission := range m.submissions {
		if filter.AssignmentID != nil && submission.AssignmentID != *filter.AssignmentID {
			continue
		}
		if filter.StudentID != nil && submission.StudentID != *filter.StudentID {
			continue
		}
		if filter.Status != nil && submission.Status != *filter.Status {
			continue
		}
		submissions = append(submissions, submission)
	}
	sort.Slice(submissions, func(i, j int) bool { return submissions[i].ID < submissions[j].ID })
	return submissions, nil
}

func (m *memorySubmissionRepo) GetByID(_ context.Context, id uint) (models.Submission, error) {
	submission, ok := m.submissions[id]
	if !ok {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	answers, _ := m.Answers(context.Background(), id)
	submission.Answers = answers
	return submission, nil
}

func (m *memorySubmissionRepo) GetByAssignmentAndStudent(_ context.Context, assignmentID, studentID uint) (models.Submission, error) {
	for _, submission := range m.submissions {
		if submission.AssignmentID == assignmentID && submission.StudentID == studentID {
			return submission, nil
		}
	}
	return models.Submission{}, gorm.ErrRecordNotFound
}

func (m *memorySubmissionRepo) CreateAnswer(_ context.Context, answer *models.SubmissionAnswer) error {
	for _, existing := range m.answers {
		if existing.SubmissionID == answer.SubmissionID &&
			existing.QuestionID == answer.QuestionID &&
			existing.AttemptNumber == answer.AttemptNumber {
			return gorm.ErrDuplicatedKey
		}
	}
	m.nextAnswerID++
	answer.ID = m.nextAnswerID
	answer.CreatedAt = time.Now()
	m.answers = append(m.answers, *answer)
	return nil
}

func (m *memorySubmissionRepo) Answers(_ context.Context, submissionID uint) ([]models.SubmissionAnswer, error) {
	answers := make([]models.SubmissionAnswer, 0, len(m.answers))
	for _, answer := range m.answers {
		if answer.SubmissionID == submissionID {
			answers = append(answers, answer)
		}
	}
	sort.Slice(answers, func(i, j int) bool {
		if answers[i].QuestionID != answers[j].QuestionID {
			return answers[i].QuestionID < answers[j].QuestionID
		}
		return answers[i].AttemptNumber < answers[j].AttemptNumber
	})
	return answers, nil
}

func (m *memorySubmissionRepo) LatestAttempt(_ context.Context, submissionID, questionID uint) (int, error) {
	if m.latestAttemptFn != nil {
		return m.latestAttemptFn(submissionID, questionID)
	}
	latest := 0
	for _, answer := range m.answers {
		if answer.SubmissionID == submissionID && answer.QuestionID == questionID && answer.AttemptNumber > latest {
			latest = answer.AttemptNumber
		}
	}
	return latest, nil
}
