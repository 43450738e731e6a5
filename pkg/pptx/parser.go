// Package pptx extracts the ordered text and image content of PowerPoint
// (OOXML) presentations. Parsing is all-or-nothing: a malformed archive
// yields a ParseError and no partial deck.
package pptx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ItemKind distinguishes the two slide item variants.
type ItemKind string

const (
	// KindText marks an item extracted from a shape's text frame or the
	// slide's speaker notes.
	KindText ItemKind = "text"
	// KindImage marks an item extracted from an embedded picture.
	KindImage ItemKind = "image"
)

// Item is one extracted unit of slide content in encounter order. Text items
// carry Text; image items carry Image bytes and the media file extension.
type Item struct {
	Kind      ItemKind
	Text      string
	Image     []byte
	Extension string
}

// Slide holds the ordered items of one slide. Numbering is 1-based and
// contiguous over the deck.
type Slide struct {
	Number int
	Items  []Item
}

// Deck is the structured result of parsing one presentation file.
type Deck struct {
	SourceName string
	Slides     []Slide
}

// TextItemCount returns the number of text items across all slides.
func (d *Deck) TextItemCount() int {
	return d.countKind(KindText)
}

// ImageItemCount returns the number of image items across all slides.
func (d *Deck) ImageItemCount() int {
	return d.countKind(KindImage)
}

func (d *Deck) countKind(kind ItemKind) int {
	count := 0
	for _, slide := range d.Slides {
		for _, item := range slide.Items {
			if item.Kind == kind {
				count++
			}
		}
	}
	return count
}

// ParseError reports an unreadable or malformed presentation file.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var slidePattern = regexp.MustCompile(`^ppt/slides/slide([0-9]+)\.xml$`)

// Parse reads a presentation archive and returns its deck. Slides are
// ordered by their archive numbering and renumbered contiguously from 1.
// Per slide, speaker notes come first, then shapes in top-to-bottom,
// left-to-right order; every non-empty text frame becomes one text item and
// every embedded picture one image item.
func Parse(data []byte, sourceName string) (*Deck, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ParseError{Source: sourceName, Err: fmt.Errorf("not a presentation archive: %w", err)}
	}

	archive := make(map[string][]byte, len(reader.File))
	for _, file := range reader.File {
		content, err := readArchiveFile(file)
		if err != nil {
			return nil, &ParseError{Source: sourceName, Err: err}
		}
		archive[file.Name] = content
	}

	slideNames := make([]string, 0)
	for name := range archive {
		if slidePattern.MatchString(name) {
			slideNames = append(slideNames, name)
		}
	}

	if len(slideNames) == 0 {
		return nil, &ParseError{Source: sourceName, Err: fmt.Errorf("no slides found")}
	}

	sort.Slice(slideNames, func(i, j int) bool {
		return slideArchiveNumber(slideNames[i]) < slideArchiveNumber(slideNames[j])
	})

	deck := &Deck{SourceName: sourceName, Slides: make([]Slide, 0, len(slideNames))}
	for index, name := range slideNames {
		items, err := parseSlide(archive, name)
		if err != nil {
			return nil, &ParseError{Source: sourceName, Err: fmt.Errorf("slide %s: %w", name, err)}
		}
		deck.Slides = append(deck.Slides, Slide{Number: index + 1, Items: items})
	}

	return deck, nil
}

func readArchiveFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file.Name, err)
	}

	return content, nil
}

func slideArchiveNumber(name string) int {
	matches := slidePattern.FindStringSubmatch(name)
	if len(matches) != 2 {
		return 0
	}
	n, _ := strconv.Atoi(matches[1])
	return n
}

type slideXML struct {
	Shapes   []shapeXML `xml:"cSld>spTree>sp"`
	Pictures []pictXML  `xml:"cSld>spTree>pic"`
}

type shapeXML struct {
	Placeholder placeholderXML `xml:"nvSpPr>nvPr>ph"`
	Offset      offsetXML      `xml:"spPr>xfrm>off"`
	Paragraphs  []paragraphXML `xml:"txBody>p"`
}

type pictXML struct {
	Offset offsetXML `xml:"spPr>xfrm>off"`
	Blip   blipXML   `xml:"blipFill>blip"`
}

type placeholderXML struct {
	Type string `xml:"type,attr"`
}

type offsetXML struct {
	X int64 `xml:"x,attr"`
	Y int64 `xml:"y,attr"`
}

type blipXML struct {
	Embed string `xml:"embed,attr"`
}

type paragraphXML struct {
	Runs []string `xml:"r>t"`
}

type relationshipsXML struct {
	Relationships []relationshipXML `xml:"Relationship"`
}

type relationshipXML struct {
	ID     string `xml:"Id,attr"`
	Type   string `xml:"Type,attr"`
	Target string `xml:"Target,attr"`
}

// positioned pairs an extracted candidate item with its shape offset so the
// slide's mixed text and picture shapes can share one geometric ordering.
type positioned struct {
	y, x int64
	item Item
}

func parseSlide(archive map[string][]byte, name string) ([]Item, error) {
	var slide slideXML
	if err := xml.Unmarshal(archive[name], &slide); err != nil {
		return nil, fmt.Errorf("invalid slide xml: %w", err)
	}

	relationships, err := parseRelationships(archive, name)
	if err != nil {
		return nil, err
	}

	candidates := make([]positioned, 0, len(slide.Shapes)+len(slide.Pictures))

	for _, shape := range slide.Shapes {
		text := shapeText(shape)
		if text == "" {
			continue
		}
		candidates = append(candidates, positioned{
			y:    shape.Offset.Y,
			x:    shape.Offset.X,
			item: Item{Kind: KindText, Text: text},
		})
	}

	targets := targetsByID(relationships)
	for _, pic := range slide.Pictures {
		if pic.Blip.Embed == "" {
			continue
		}

		target, ok := targets[pic.Blip.Embed]
		if !ok {
			return nil, fmt.Errorf("picture relationship %s not found", pic.Blip.Embed)
		}

		mediaPath := path.Clean(path.Join(path.Dir(name), target))
		media, ok := archive[mediaPath]
		if !ok {
			return nil, fmt.Errorf("media file %s not found", mediaPath)
		}

		candidates = append(candidates, positioned{
			y: pic.Offset.Y,
			x: pic.Offset.X,
			item: Item{
				Kind:      KindImage,
				Image:     media,
				Extension: strings.TrimPrefix(path.Ext(mediaPath), "."),
			},
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].y != candidates[j].y {
			return candidates[i].y < candidates[j].y
		}
		return candidates[i].x < candidates[j].x
	})

	items := make([]Item, 0, len(candidates)+1)

	notes, err := parseNotes(archive, name, relationships)
	if err != nil {
		return nil, err
	}
	if notes != "" {
		items = append(items, Item{Kind: KindText, Text: notes})
	}

	for _, candidate := range candidates {
		items = append(items, candidate.item)
	}

	return items, nil
}

func parseRelationships(archive map[string][]byte, slideName string) ([]relationshipXML, error) {
	relsName := path.Join(path.Dir(slideName), "_rels", path.Base(slideName)+".rels")
	content, ok := archive[relsName]
	if !ok {
		return nil, nil
	}

	var rels relationshipsXML
	if err := xml.Unmarshal(content, &rels); err != nil {
		return nil, fmt.Errorf("invalid relationships xml %s: %w", relsName, err)
	}

	return rels.Relationships, nil
}

func targetsByID(relationships []relationshipXML) map[string]string {
	targets := make(map[string]string, len(relationships))
	for _, rel := range relationships {
		targets[rel.ID] = rel.Target
	}
	return targets
}

// parseNotes returns the speaker notes body text for a slide, empty when the
// slide has no notes. Only body placeholder shapes count; slide-number and
// header placeholders on the notes page are skipped.
func parseNotes(archive map[string][]byte, slideName string, relationships []relationshipXML) (string, error) {
	var notesTarget string
	for _, rel := range relationships {
		if strings.HasSuffix(rel.Type, "/notesSlide") {
			notesTarget = rel.Target
			break
		}
	}

	if notesTarget == "" {
		return "", nil
	}

	notesPath := path.Clean(path.Join(path.Dir(slideName), notesTarget))
	notesContent, ok := archive[notesPath]
	if !ok {
		return "", fmt.Errorf("notes file %s not found", notesPath)
	}

	var notes slideXML
	if err := xml.Unmarshal(notesContent, &notes); err != nil {
		return "", fmt.Errorf("invalid notes xml %s: %w", notesPath, err)
	}

	parts := make([]string, 0, 1)
	for _, shape := range notes.Shapes {
		if shape.Placeholder.Type != "body" {
			continue
		}
		if text := shapeText(shape); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n"), nil
}

func shapeText(shape shapeXML) string {
	paragraphs := make([]string, 0, len(shape.Paragraphs))
	for _, paragraph := range shape.Paragraphs {
		line := strings.Join(paragraph.Runs, "")
		if strings.TrimSpace(line) == "" {
			continue
		}
		paragraphs = append(paragraphs, line)
	}

	return strings.TrimSpace(strings.Join(paragraphs, "\n"))
}
