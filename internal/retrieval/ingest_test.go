package retrieval

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/hyperengineering/librarian/internal/corpus"
)

func TestIngest_Idempotent(t *testing.T) {
	e := newVocabEmbedder()
	idx := newTestIndex(t)
	ctx := context.Background()

	first := ingestSample(t, e, idx, sampleCorpus())
	infoA, err := idx.Info(ctx, "books")
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}

	second := ingestSample(t, e, idx, sampleCorpus())
	infoB, err := idx.Info(ctx, "books")
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}

	if infoA.Count != infoB.Count {
		t.Errorf("count changed: %d -> %d", infoA.Count, infoB.Count)
	}
	if !reflect.DeepEqual(infoA.IDs, infoB.IDs) {
		t.Errorf("ids changed: %v -> %v", infoA.IDs, infoB.IDs)
	}
	if first.Generation == second.Generation {
		t.Error("each rebuild should produce a new generation")
	}

	want := []string{"1984", "dune", "pride-and-prejudice", "the-hobbit"}
	if !reflect.DeepEqual(infoB.IDs, want) {
		t.Errorf("ids = %v, want %v", infoB.IDs, want)
	}
}

func TestIngest_EmptyCorpus(t *testing.T) {
	_, err := Ingest(context.Background(), newVocabEmbedder(), newTestIndex(t), nil, IngestOptions{Collection: "books"})
	if !errors.Is(err, corpus.ErrEmptyCorpus) {
		t.Errorf("error = %v, want ErrEmptyCorpus", err)
	}
}

func TestIngest_SlugCollisionStrict(t *testing.T) {
	e := newVocabEmbedder()
	records := []corpus.BookRecord{
		{Title: "It", Summary: "A clown."},
		{Title: "IT!", Summary: "A computer manual."},
	}

	_, err := Ingest(context.Background(), e, newTestIndex(t), records, IngestOptions{Collection: "books", StrictSlugs: true})
	if !errors.Is(err, corpus.ErrSlugCollision) {
		t.Fatalf("error = %v, want ErrSlugCollision", err)
	}
	if e.calls != 0 {
		t.Error("a rejected corpus must not be embedded")
	}
}

func TestIngest_SlugCollisionLenientLastWins(t *testing.T) {
	e := newVocabEmbedder()
	idx := newTestIndex(t)
	records := []corpus.BookRecord{
		{Title: "It", Summary: "A clown."},
		{Title: "IT!", Summary: "A computer manual."},
	}

	report, err := Ingest(context.Background(), e, idx, records, IngestOptions{Collection: "books"})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if report.Documents != 1 || len(report.Collisions) != 1 {
		t.Errorf("report = %+v, want 1 document and 1 collision", report)
	}

	r := New(e, idx, Config{Collection: "books"})
	title, ok, err := r.BestTitle(context.Background(), "computer manual")
	if err != nil || !ok {
		t.Fatalf("BestTitle() = %v, %v", ok, err)
	}
	if title != "IT!" {
		t.Errorf("title = %q, want the later record", title)
	}
}

func TestIngest_BatchesLargeCorpus(t *testing.T) {
	e := newVocabEmbedder()
	idx := newTestIndex(t)

	records := make([]corpus.BookRecord, embedBatchSize+5)
	for i := range records {
		records[i] = corpus.BookRecord{
			Title:   fmt.Sprintf("Volume %d", i),
			Summary: fmt.Sprintf("Entry number %d.", i),
		}
	}

	report := ingestSample(t, e, idx, records)
	if report.Documents != len(records) {
		t.Errorf("Documents = %d, want %d", report.Documents, len(records))
	}
	if e.calls != 2 {
		t.Errorf("EmbedBatch calls = %d, want 2", e.calls)
	}
}

func TestIngest_EmbedderFailureLeavesIndexUntouched(t *testing.T) {
	e := newVocabEmbedder()
	idx := newTestIndex(t)
	ingestSample(t, e, idx, sampleCorpus())

	e.err = errors.New("provider down")
	_, err := Ingest(context.Background(), e, idx, []corpus.BookRecord{{Title: "New", Summary: "Fresh."}}, IngestOptions{Collection: "books"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	count, err := idx.Count(context.Background(), "books")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != len(sampleCorpus()) {
		t.Errorf("count = %d, want previous corpus intact", count)
	}
}
