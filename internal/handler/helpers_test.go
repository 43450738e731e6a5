package handler_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/deckquiz/deckquiz-go-api/internal/config"
	"github.com/deckquiz/deckquiz-go-api/internal/database"
	"github.com/deckquiz/deckquiz-go-api/internal/dto"
	"github.com/deckquiz/deckquiz-go-api/internal/handler"
	"github.com/deckquiz/deckquiz-go-api/internal/models"
	"github.com/deckquiz/deckquiz-go-api/internal/repository"
	"github.com/deckquiz/deckquiz-go-api/internal/retry"
	"github.com/deckquiz/deckquiz-go-api/internal/router"
	"github.com/deckquiz/deckquiz-go-api/internal/service"
	"github.com/deckquiz/deckquiz-go-api/internal/vector"
	"github.com/deckquiz/deckquiz-go-api/pkg/ai"
)

// testEnv wires the full HTTP stack against sqlite, miniredis and scripted
// models. The shared-cache database is process-wide, so tests assert only on
// resources they created themselves.
type testEnv struct {
	app        *fiber.App
	db         *gorm.DB
	redis      *miniredis.Miniredis
	describeAI *scriptedModel
	questionAI *scriptedModel
	gradingAI  *scriptedModel
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_foreign_keys=on"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	logger := zerolog.New(io.Discard)
	validate := validator.New(validator.WithRequiredStructEnabled())
	policy := retry.Policy{MaxAttempts: 1}

	deckRepo := repository.NewDeckRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	questionRepo := repository.NewQuestionRepository(db)
	imageRepo := repository.NewImageRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	store := vector.NewMemoryStore()
	events := service.NewEventPublisher(nil, "deckquiz", logger)

	describeAI := &scriptedModel{}
	questionAI := &scriptedModel{}
	gradingAI := &scriptedModel{}

	activityService := service.NewActivityService(activityRepo, logger)
	deckService := service.NewDeckService(deckRepo, validate, activityService, events, 1, logger)
	describeService := service.NewDescribeService(deckRepo, describeAI, staticOCR{text: "axis labels"}, cache, activityService, validate, service.DescribeOptions{
		BatchSize: 2,
		CacheTTL:  time.Minute,
		Retry:     policy,
	}, logger)
	collectionService := service.NewCollectionService(deckRepo, store, staticEmbedder{}, activityService, policy, 4, logger)
	questionService := service.NewQuestionService(deckRepo, assignmentRepo, questionRepo, imageRepo, collectionService, questionAI, activityService, events, validate, policy, 4, logger)
	attemptService := service.NewAttemptService(submissionRepo, assignmentRepo, questionRepo, gradingAI, activityService, events, validate, cache, policy, logger)
	dashboardService := service.NewDashboardService(assignmentRepo, submissionRepo, cache, time.Minute, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "DeckQuiz Test", AppEnv: "test", JWTSecret: "secret"}, router.Dependencies{
		DeckHandler:       handler.NewDeckHandler(deckService, describeService, collectionService, logger),
		AssignmentHandler: handler.NewAssignmentHandler(questionService, logger),
		SubmissionHandler: handler.NewSubmissionHandler(attemptService, dashboardService, logger),
		ActivityHandler:   handler.NewActivityHandler(activityService, logger),
		JWTMiddleware:     testAuth(),
	})

	return &testEnv{
		app:        app,
		db:         db,
		redis:      mr,
		describeAI: describeAI,
		questionAI: questionAI,
		gradingAI:  gradingAI,
	}
}

// testAuth substitutes the JWT middleware: identity comes from request
// headers so every request can impersonate a different user.
func testAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if raw := c.Get("X-Test-User"); raw != "" {
			if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
				c.Locals("user_id", uint(id))
			}
		}
		if role := c.Get("X-Test-Role"); role != "" {
			c.Locals("user_role", role)
		}
		return c.Next()
	}
}

func (env *testEnv) createUser(t *testing.T, role string) models.User {
	t.Helper()

	user := models.User{
		Name:  "Quiz " + role,
		Email: fmt.Sprintf("%s-%s@example.com", role, uuid.NewString()[:8]),
		Role:  role,
	}
	require.NoError(t, env.db.Create(&user).Error)

	return user
}

func (env *testEnv) seedDeck(t *testing.T, ownerID uint) models.Deck {
	t.Helper()

	now := time.Now().UTC()
	deck := models.Deck{
		Title:             "Seeded Deck",
		SourceName:        "seeded.pptx",
		SlideCount:        2,
		TextItemCount:     2,
		CollectionID:      "deck_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		CollectionBuiltAt: &now,
		OwnerID:           ownerID,
	}
	require.NoError(t, env.db.Create(&deck).Error)

	return deck
}

func (env *testEnv) seedAssignment(t *testing.T, ownerID, deckID uint, status string) models.Assignment {
	t.Helper()

	assignment := models.Assignment{
		Name:    "Seeded Quiz " + uuid.NewString()[:8],
		OwnerID: ownerID,
		DeckID:  deckID,
		Status:  status,
	}
	require.NoError(t, env.db.Create(&assignment).Error)

	return assignment
}

func (env *testEnv) seedQuestion(t *testing.T, assignmentID uint, prompt, answer string) models.Question {
	t.Helper()

	question := models.Question{
		AssignmentID: assignmentID,
		Kind:         models.QuestionKindText,
		Prompt:       prompt,
		Answer:       answer,
		SlideNumber:  1,
	}
	require.NoError(t, env.db.Create(&question).Error)

	return question
}

func (env *testEnv) seedImage(t *testing.T, data []byte, contentType string) models.Image {
	t.Helper()

	image := models.Image{
		Data:        data,
		ContentType: contentType,
		Extension:   "png",
		SizeBytes:   int64(len(data)),
		Checksum:    uuid.NewString(),
	}
	require.NoError(t, env.db.Create(&image).Error)

	return image
}

func (env *testEnv) seedImageQuestion(t *testing.T, assignmentID, imageID uint, prompt, answer string) models.Question {
	t.Helper()

	question := models.Question{
		AssignmentID: assignmentID,
		Kind:         models.QuestionKindImage,
		Prompt:       prompt,
		Answer:       answer,
		ImageID:      &imageID,
		SlideNumber:  3,
	}
	require.NoError(t, env.db.Create(&question).Error)

	return question
}

// scriptedModel is an ai.Generator that pops canned replies in call order.
// The last reply repeats once the script runs out so uniform phases, such as
// grading every answer alike, need a single entry.
type scriptedModel struct {
	mu      sync.Mutex
	replies []modelReply
	calls   int
}

type modelReply struct {
	content string
	err     error
}

func (m *scriptedModel) push(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, modelReply{content: content})
}

func (m *scriptedModel) pushErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, modelReply{err: err})
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *scriptedModel) Generate(_ context.Context, _ ai.GenerateRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if len(m.replies) == 0 {
		return "", errors.New("no scripted reply left")
	}
	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}

	return reply.content, reply.err
}

// staticEmbedder returns the same unit vector for every input, which makes
// retrieval rank purely by the store's slide-order tie break.
type staticEmbedder struct{}

func (staticEmbedder) EmbedTexts(_ context.Context, inputs []string) ([][]float32, error) {
	vectors := make([][]float32, len(inputs))
	for i := range inputs {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

type staticOCR struct{ text string }

func (o staticOCR) ExtractText(context.Context, []byte, string) (string, error) {
	return o.text, nil
}

func questionDraftJSON(question, answer string) string {
	return fmt.Sprintf(`{"question": %q, "answer": %q}`, question, answer)
}

func gradeJSON(grade int, feedback string) string {
	return fmt.Sprintf(`{"grade": %d, "feedback": %q}`, grade, feedback)
}

func authedRequest(method, target string, body io.Reader, user models.User) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("X-Test-User", strconv.FormatUint(uint64(user.ID), 10))
	req.Header.Set("X-Test-Role", user.Role)

	return req
}

func jsonRequest(t *testing.T, method, target string, payload interface{}, user models.User) *http.Request {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	req := authedRequest(method, target, bytes.NewReader(data), user)
	req.Header.Set("Content-Type", "application/json")

	return req
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}

// Presentation fixtures. The shape templates mirror the minimal markup the
// parser needs: a spTree with positioned text runs and picture references.

const (
	slideOpen = `<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"` +
		` xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"` +
		` xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree>`
	slideClose = `</p:spTree></p:cSld></p:sld>`
)

var pngPayload = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
}

func textShapeXML(text string) string {
	return `<p:sp><p:nvSpPr><p:nvPr/></p:nvSpPr>` +
		`<p:spPr><a:xfrm><a:off x="0" y="0"/></a:xfrm></p:spPr>` +
		`<p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp>`
}

func pictureShapeXML(relID string) string {
	return `<p:pic><p:nvPicPr/><p:blipFill><a:blip r:embed="` + relID + `"/></p:blipFill>` +
		`<p:spPr><a:xfrm><a:off x="0" y="0"/></a:xfrm></p:spPr></p:pic>`
}

func slideDoc(shapes ...string) []byte {
	return []byte(slideOpen + strings.Join(shapes, "") + slideClose)
}

func imageRelsXML(relID, target string) []byte {
	return []byte(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
		`<Relationship Id="` + relID + `"` +
		` Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"` +
		` Target="` + target + `"/></Relationships>`)
}

func pptxArchive(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// lectureArchive builds the canonical upload fixture: two text slides and a
// third slide holding one PNG.
func lectureArchive(t *testing.T) []byte {
	return pptxArchive(t, map[string][]byte{
		"ppt/slides/slide1.xml":            slideDoc(textShapeXML("Goroutines multiplex onto scheduler threads")),
		"ppt/slides/slide2.xml":            slideDoc(textShapeXML("Channels synchronize concurrent work")),
		"ppt/slides/slide3.xml":            slideDoc(pictureShapeXML("rId2")),
		"ppt/slides/_rels/slide3.xml.rels": imageRelsXML("rId2", "../media/image1.png"),
		"ppt/media/image1.png":             pngPayload,
	})
}

func deckUploadRequest(t *testing.T, title, fileName string, archive []byte, teacher models.User) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("title", title))
	part, err := writer.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(archive)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := authedRequest(http.MethodPost, "/api/v1/decks", body, teacher)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return req
}

// uploadDeck pushes the fixture archive through the upload endpoint and
// returns the created deck detail.
func (env *testEnv) uploadDeck(t *testing.T, teacher models.User, title string, archive []byte) dto.DeckDetailResponse {
	t.Helper()

	resp, err := env.app.Test(deckUploadRequest(t, title, "lecture.pptx", archive, teacher))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var body struct {
		Success bool                   `json:"success"`
		Data    dto.DeckDetailResponse `json:"data"`
		Message string                 `json:"message"`
	}
	decodeResponse(t, resp, &body)
	require.True(t, body.Success)
	require.Equal(t, "deck ingested", body.Message)
	require.NotZero(t, body.Data.ID)

	return body.Data
}

// rebuildCollection drives the rebuild endpoint so generation tests start
// from a built deck.
func (env *testEnv) rebuildCollection(t *testing.T, teacher models.User, deckID uint) dto.CollectionBuildResponse {
	t.Helper()

	req := authedRequest(http.MethodPost, fmt.Sprintf("/api/v1/decks/%d/collection", deckID), nil, teacher)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Success bool                        `json:"success"`
		Data    dto.CollectionBuildResponse `json:"data"`
		Message string                      `json:"message"`
	}
	decodeResponse(t, resp, &body)
	require.True(t, body.Success)

	return body.Data
}

func imageItemID(t *testing.T, deck dto.DeckDetailResponse) uint {
	t.Helper()

	for _, item := range deck.Items {
		if item.Kind == models.ItemKindImage {
			return item.ID
		}
	}
	t.Fatal("fixture deck has no image item")

	return 0
}
