// Package summary resolves book titles to their canonical full summaries.
package summary

import (
	"sort"
	"strings"

	"github.com/hyperengineering/librarian/internal/corpus"
)

// Resolver maps normalized titles to corpus records. It is built once and
// never mutated, so it is safe to share across goroutines.
type Resolver struct {
	byTitle map[string]corpus.BookRecord
	titles  []string
}

// NewResolver indexes records by normalized title. When two records
// normalize to the same key the later one wins.
func NewResolver(records []corpus.BookRecord) *Resolver {
	r := &Resolver{byTitle: make(map[string]corpus.BookRecord, len(records))}
	for _, rec := range records {
		key := NormalizeTitle(rec.Title)
		if key == "" {
			continue
		}
		r.byTitle[key] = rec
	}

	r.titles = make([]string, 0, len(r.byTitle))
	for _, rec := range r.byTitle {
		r.titles = append(r.titles, rec.Title)
	}
	sort.Strings(r.titles)
	return r
}

// NormalizeTitle lowercases title and collapses runs of whitespace.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// Resolve returns the exact stored summary for title.
func (r *Resolver) Resolve(title string) (string, bool) {
	rec, ok := r.byTitle[NormalizeTitle(title)]
	if !ok {
		return "", false
	}
	return rec.Summary, true
}

// Canonical returns the stored spelling of title.
func (r *Resolver) Canonical(title string) (string, bool) {
	rec, ok := r.byTitle[NormalizeTitle(title)]
	return rec.Title, ok
}

// Titles returns every stored title, sorted.
func (r *Resolver) Titles() []string {
	out := make([]string, len(r.titles))
	copy(out, r.titles)
	return out
}

// Len returns the number of distinct titles.
func (r *Resolver) Len() int {
	return len(r.byTitle)
}
