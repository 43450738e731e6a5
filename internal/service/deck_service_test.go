package service

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/deckquiz/deckquiz-go-api/internal/models"
	"github.com/deckquiz/deckquiz-go-api/pkg/pptx"
)

const fixtureSlideHeader = `<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"` +
	` xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"` +
	` xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">`

const fixtureImageRelType = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"

// pngBytes starts with the PNG signature so mimetype sniffing resolves the
// stored content type.
var pngBytes = append([]byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}, []byte("deckquiz")...)

func fixtureTextShape(y int, text string) string {
	return fmt.Sprintf(`<p:sp><p:nvSpPr><p:nvPr/></p:nvSpPr>`+
		`<p:spPr><a:xfrm><a:off x="0" y="%d"/></a:xfrm></p:spPr>`+
		`<p:txBody><a:p><a:r><a:t>%s</a:t></a:r></a:p></p:txBody></p:sp>`, y, text)
}

func fixturePictureShape(y int, relID string) string {
	return fmt.Sprintf(`<p:pic><p:nvPicPr/><p:blipFill><a:blip r:embed="%s"/></p:blipFill>`+
		`<p:spPr><a:xfrm><a:off x="0" y="%d"/></a:xfrm></p:spPr></p:pic>`, relID, y)
}

func fixtureSlideXML(shapes ...string) []byte {
	return []byte(fixtureSlideHeader + `<p:cSld><p:spTree>` + strings.Join(shapes, "") + `</p:spTree></p:cSld></p:sld>`)
}

func fixtureRelsXML(relID, target string) []byte {
	return []byte(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
		fmt.Sprintf(`<Relationship Id="%s" Type="%s" Target="%s"/>`, relID, fixtureImageRelType, target) +
		`</Relationships>`)
}

func buildFixtureArchive(t *testing.T, files map[string][]byte) []byte {
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

func newDeckFixture() (*memoryDeckRepo, *recorderStub, DeckService) {
	repo := newMemoryDeckRepo()
	recorder := &recorderStub{}
	svc := NewDeckService(repo, testValidator(), recorder, noopEvents(), 10, testLogger())
	return repo, recorder, svc
}

func TestDeckServiceIngestExtractsOrderedItems(t *testing.T) {
	archive := buildFixtureArchive(t, map[string][]byte{
		"ppt/slides/slide1.xml": fixtureSlideXML(
			fixtureTextShape(0, "Welcome to Go"),
			fixturePictureShape(500, "rId2"),
		),
		"ppt/slides/_rels/slide1.xml.rels": fixtureRelsXML("rId2", "../media/image1.png"),
		"ppt/media/image1.png":             pngBytes,
		"ppt/slides/slide2.xml":            fixtureSlideXML(fixtureTextShape(0, "Concurrency in Go")),
	})

	repo, recorder, svc := newDeckFixture()
	actor := ActivityActor{ID: 1, Role: models.RoleTeacher}

	deck, err := svc.Ingest(context.Background(), DeckIngestInput{
		Title:    "Go Basics",
		FileName: "go-basics.pptx",
		Data:     archive,
	}, actor)
	require.NoError(t, err)

	require.Equal(t, 2, deck.SlideCount)
	require.Equal(t, 2, deck.TextItemCount)
	require.Equal(t, 1, deck.ImageItemCount)
	require.True(t, strings.HasPrefix(deck.CollectionID, "deck_"))
	require.Nil(t, deck.CollectionBuiltAt)

	require.Len(t, deck.Items, 3)
	require.Equal(t, models.ItemKindText, deck.Items[0].Kind)
	require.Equal(t, "Welcome to Go", deck.Items[0].Content)
	require.Equal(t, models.ItemKindImage, deck.Items[1].Kind)
	require.Empty(t, deck.Items[1].Content)
	require.NotNil(t, deck.Items[1].ImageID)
	require.Equal(t, 2, deck.Items[2].SlideNumber)

	require.Len(t, repo.decks, 1)
	require.Len(t, recorder.entries, 1)
	require.Equal(t, models.ActionDeckIngested, recorder.entries[0].Action)
}

func TestDeckServiceIngestDeduplicatesRepeatedImages(t *testing.T) {
	archive := buildFixtureArchive(t, map[string][]byte{
		"ppt/slides/slide1.xml":            fixtureSlideXML(fixturePictureShape(0, "rId2")),
		"ppt/slides/_rels/slide1.xml.rels": fixtureRelsXML("rId2", "../media/logo.png"),
		"ppt/slides/slide2.xml":            fixtureSlideXML(fixturePictureShape(0, "rId2")),
		"ppt/slides/_rels/slide2.xml.rels": fixtureRelsXML("rId2", "../media/logo.png"),
		"ppt/media/logo.png":               pngBytes,
	})

	_, _, svc := newDeckFixture()

	deck, err := svc.Ingest(context.Background(), DeckIngestInput{
		Title:    "Logo Deck",
		FileName: "logo.pptx",
		Data:     archive,
	}, ActivityActor{ID: 1, Role: models.RoleTeacher})
	require.NoError(t, err)

	require.Equal(t, 2, deck.ImageItemCount)
	require.NotNil(t, deck.Items[0].ImageID)
	require.NotNil(t, deck.Items[1].ImageID)
	require.Equal(t, *deck.Items[0].ImageID, *deck.Items[1].ImageID)
}

func TestDeckServiceIngestSanitizesTitle(t *testing.T) {
	archive := buildFixtureArchive(t, map[string][]byte{
		"ppt/slides/slide1.xml": fixtureSlideXML(fixtureTextShape(0, "content")),
	})

	_, _, svc := newDeckFixture()

	deck, err := svc.Ingest(context.Background(), DeckIngestInput{
		Title:    "<b>Intro</b> Deck",
		FileName: "intro.pptx",
		Data:     archive,
	}, ActivityActor{ID: 1, Role: models.RoleTeacher})
	require.NoError(t, err)
	require.Equal(t, "Intro Deck", deck.Title)
}

func TestDeckServiceIngestRejectsOversizedUploads(t *testing.T) {
	repo := newMemoryDeckRepo()
	svc := NewDeckService(repo, testValidator(), &recorderStub{}, noopEvents(), 1, testLogger())

	_, err := svc.Ingest(context.Background(), DeckIngestInput{
		Title:    "Big Deck",
		FileName: "big.pptx",
		Data:     bytes.Repeat([]byte{0xAB}, 1<<20+1),
	}, ActivityActor{ID: 1, Role: models.RoleTeacher})
	require.ErrorIs(t, err, ErrUploadTooLarge)
	require.Empty(t, repo.decks)
}

func TestDeckServiceIngestRejectsWrongContentType(t *testing.T) {
	_, _, svc := newDeckFixture()

	_, err := svc.Ingest(context.Background(), DeckIngestInput{
		Title:    "Not a Deck",
		FileName: "notes.txt",
		Data:     []byte("just some plain text, not an archive"),
	}, ActivityActor{ID: 1, Role: models.RoleTeacher})
	require.ErrorIs(t, err, ErrUploadTypeNotAllowed)
}

func TestDeckServiceIngestRejectsArchivesWithoutSlides(t *testing.T) {
	archive := buildFixtureArchive(t, map[string][]byte{
		"docProps/core.xml": []byte("<coreProperties/>"),
	})

	repo, _, svc := newDeckFixture()

	_, err := svc.Ingest(context.Background(), DeckIngestInput{
		Title:    "Empty Deck",
		FileName: "empty.pptx",
		Data:     archive,
	}, ActivityActor{ID: 1, Role: models.RoleTeacher})

	var parseErr *pptx.ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Empty(t, repo.decks)
}

func TestDeckServiceIngestValidatesTitle(t *testing.T) {
	_, _, svc := newDeckFixture()

	_, err := svc.Ingest(context.Background(), DeckIngestInput{
		Title:    "ab",
		FileName: "short.pptx",
		Data:     []byte("irrelevant"),
	}, ActivityActor{ID: 1, Role: models.RoleTeacher})

	var validationErrs validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrs)
}

func TestDeckServiceGetEnforcesOwnership(t *testing.T) {
	repo, _, svc := newDeckFixture()
	deck := repo.seedDeck(models.Deck{Title: "Owned", CollectionID: "deck_owned", OwnerID: 1})

	_, err := svc.Get(context.Background(), deck.ID, 2)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Get(context.Background(), 999, 1)
	require.ErrorIs(t, err, ErrDeckNotFound)
}

func TestDeckServiceGetIncludesDeletedItems(t *testing.T) {
	repo, _, svc := newDeckFixture()
	deck := repo.seedDeck(models.Deck{Title: "Moderated", CollectionID: "deck_mod", OwnerID: 1})
	repo.seedItem(models.SlideItem{DeckID: deck.ID, SlideNumber: 1, Position: 0, Kind: models.ItemKindText, Content: "kept"})
	repo.seedItem(models.SlideItem{DeckID: deck.ID, SlideNumber: 1, Position: 1, Kind: models.ItemKindText, Content: "removed", Deleted: true})

	detail, err := svc.Get(context.Background(), deck.ID, 1)
	require.NoError(t, err)
	require.Len(t, detail.Items, 2)
	require.True(t, detail.Items[1].Deleted)
}

func TestDeckServiceListFiltersByOwner(t *testing.T) {
	repo, _, svc := newDeckFixture()
	repo.seedDeck(models.Deck{Title: "Mine", CollectionID: "deck_a", OwnerID: 1})
	repo.seedDeck(models.Deck{Title: "Theirs", CollectionID: "deck_b", OwnerID: 2})

	decks, err := svc.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, decks, 1)
	require.Equal(t, "Mine", decks[0].Title)
}
