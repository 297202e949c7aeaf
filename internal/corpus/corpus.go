// Package corpus loads the curated book collection and derives the canonical
// documents that are embedded into the vector index.
package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxShortSentences is the number of leading sentences kept in a short summary.
	MaxShortSentences = 3
	// MaxShortChars caps the short summary length, in characters.
	MaxShortChars = 250

	ellipsis = "…"
)

var (
	nonSlugRun       = regexp.MustCompile(`[^a-z0-9]+`)
	sentenceBoundary = regexp.MustCompile(`[.!?][\s\p{Z}\v\x{85}]+`)
)

// BookRecord is one entry of the corpus file.
type BookRecord struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Document is the searchable form of a BookRecord.
type Document struct {
	ID    string
	Title string
	Text  string
	Short string
}

// Load reads the corpus JSON array from path. A missing file, malformed JSON,
// an empty array or a record without a title are configuration errors.
func Load(path string) ([]BookRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return Parse(data)
}

// Parse decodes a corpus JSON array.
func Parse(data []byte) ([]BookRecord, error) {
	var records []BookRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse corpus: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyCorpus
	}
	for i, rec := range records {
		if strings.TrimSpace(rec.Title) == "" {
			return nil, fmt.Errorf("%w: record %d has no title", ErrInvalidRecord, i)
		}
	}
	return records, nil
}

// Slugify lowercases title and collapses every run of characters outside
// [a-z0-9] into a single hyphen, trimming hyphens at both ends.
func Slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = nonSlugRun.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ShortSummary keeps the first MaxShortSentences sentences of text. Results
// longer than MaxShortChars are cut to MaxShortChars-1 characters and end with
// an ellipsis.
func ShortSummary(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	parts := splitSentences(text)
	if len(parts) > MaxShortSentences {
		parts = parts[:MaxShortSentences]
	}
	short := strings.TrimSpace(strings.Join(parts, " "))

	if utf8.RuneCountInString(short) > MaxShortChars {
		runes := []rune(short)
		short = strings.TrimRightFunc(string(runes[:MaxShortChars-1]), unicode.IsSpace) + ellipsis
	}
	return short
}

// splitSentences splits after '.', '!' or '?' when followed by whitespace,
// including Unicode spaces such as NBSP.
// The punctuation stays with its sentence.
func splitSentences(text string) []string {
	var parts []string
	start := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		// loc[0] is the punctuation; keep it, drop the whitespace run.
		parts = append(parts, text[start:loc[0]+1])
		start = loc[1]
	}
	if start < len(text) {
		parts = append(parts, text[start:])
	}
	return parts
}

// DocumentText renders the text that is embedded and returned to callers.
func DocumentText(title, short string) string {
	return "Title: " + title + "\nSummary: " + short
}

// Normalize derives the indexed document for rec.
func Normalize(rec BookRecord) Document {
	short := ShortSummary(rec.Summary)
	return Document{
		ID:    Slugify(rec.Title),
		Title: rec.Title,
		Text:  DocumentText(rec.Title, short),
		Short: short,
	}
}

// NormalizeAll normalizes every record, preserving corpus order.
func NormalizeAll(records []BookRecord) []Document {
	docs := make([]Document, len(records))
	for i, rec := range records {
		docs[i] = Normalize(rec)
	}
	return docs
}

// SlugCollision describes distinct titles that share one slug.
type SlugCollision struct {
	ID     string
	Titles []string
}

// CheckSlugs returns every slug shared by more than one document, sorted by ID.
func CheckSlugs(docs []Document) []SlugCollision {
	byID := make(map[string][]string)
	var order []string
	for _, d := range docs {
		if _, seen := byID[d.ID]; !seen {
			order = append(order, d.ID)
		}
		byID[d.ID] = append(byID[d.ID], d.Title)
	}

	var collisions []SlugCollision
	for _, id := range order {
		if titles := byID[id]; len(titles) > 1 {
			collisions = append(collisions, SlugCollision{ID: id, Titles: titles})
		}
	}
	sort.Slice(collisions, func(i, j int) bool { return collisions[i].ID < collisions[j].ID })
	return collisions
}
