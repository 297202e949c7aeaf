package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/librarian/internal/api"
	"github.com/hyperengineering/librarian/internal/chat"
	"github.com/hyperengineering/librarian/internal/corpus"
	"github.com/hyperengineering/librarian/internal/embedding"
	"github.com/hyperengineering/librarian/internal/index"
	"github.com/hyperengineering/librarian/internal/librarian"
	"github.com/hyperengineering/librarian/internal/moderation"
	"github.com/hyperengineering/librarian/internal/provider"
	"github.com/hyperengineering/librarian/internal/retrieval"
	"github.com/hyperengineering/librarian/internal/speech"
	"github.com/hyperengineering/librarian/internal/summary"
)

// --- Fixtures ---

const testAPIKey = "e2e-test-api-key"

// fakeAudio is what the fake provider returns for every synthesis chunk.
const fakeAudio = "ID3-e2e-audio"

var testBooks = []corpus.BookRecord{
	{Title: "The Hobbit", Summary: "Bilbo Baggins joins a company of dwarves to reclaim their mountain home from a dragon. He finds a magic ring along the way."},
	{Title: "Dune", Summary: "Paul Atreides moves to the desert planet Arrakis. He leads the Fremen in a struggle over the spice."},
	{Title: "1984", Summary: "Winston Smith lives under constant surveillance by the Party. He rebels through a forbidden love affair."},
}

func writeCorpus(t *testing.T, dir string) string {
	t.Helper()
	data, err := json.Marshal(testBooks)
	if err != nil {
		t.Fatalf("marshal corpus: %v", err)
	}
	path := filepath.Join(dir, "books.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	return path
}

// --- Fake provider ---

// fakeProvider is an OpenAI-compatible server covering chat completions,
// forced tool calls, speech and transcription.
type fakeProvider struct {
	srv         *httptest.Server
	chatCalls   atomic.Int64
	toolCalls   atomic.Int64
	speechCalls atomic.Int64
	sttCalls    atomic.Int64

	// failChat makes chat completions answer 500.
	failChat atomic.Bool
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{}
	fp.srv = httptest.NewServer(http.HandlerFunc(fp.serve))
	t.Cleanup(fp.srv.Close)
	return fp
}

func (fp *fakeProvider) baseURL() string {
	return fp.srv.URL + "/v1/"
}

func (fp *fakeProvider) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		fp.chat(w, r)
	case strings.HasSuffix(r.URL.Path, "/audio/speech"):
		fp.speechCalls.Add(1)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte(fakeAudio))
	case strings.HasSuffix(r.URL.Path, "/audio/transcriptions"):
		fp.transcription(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (fp *fakeProvider) chat(w http.ResponseWriter, r *http.Request) {
	if fp.failChat.Load() {
		http.Error(w, `{"error":{"message":"boom","type":"server_error"}}`, http.StatusInternalServerError)
		return
	}

	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	message := map[string]any{"role": "assistant"}
	if _, ok := req["tools"]; ok {
		fp.toolCalls.Add(1)
		message["content"] = nil
		message["tool_calls"] = []map[string]any{{
			"id":   "call_e2e",
			"type": "function",
			"function": map[string]any{
				"name":      "get_summary_by_title",
				"arguments": `{"title":"` + requestedTitle(req) + `"}`,
			},
		}}
	} else {
		fp.chatCalls.Add(1)
		message["content"] = "A gripping pick for you."
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-e2e",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req["model"],
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       message,
		}},
	})
}

// requestedTitle echoes the "title=" line of the tool call prompt. Message
// content arrives either as a string or as a list of text parts.
func requestedTitle(req map[string]any) string {
	msgs, _ := req["messages"].([]any)
	for _, m := range msgs {
		msg, _ := m.(map[string]any)
		for _, text := range messageTexts(msg["content"]) {
			if title, ok := strings.CutPrefix(text, "title="); ok {
				return title
			}
		}
	}
	return ""
}

func messageTexts(content any) []string {
	switch c := content.(type) {
	case string:
		return []string{c}
	case []any:
		var texts []string
		for _, part := range c {
			p, _ := part.(map[string]any)
			if text, ok := p["text"].(string); ok {
				texts = append(texts, text)
			}
		}
		return texts
	}
	return nil
}

func (fp *fakeProvider) transcription(w http.ResponseWriter, r *http.Request) {
	fp.sttCalls.Add(1)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"text": "  desert planet with spice  ",
	})
}

// --- In-process environment ---

type testEnv struct {
	router   http.Handler
	index    *index.SQLiteIndex
	provider *fakeProvider
	synth    *speech.Synthesizer
	dir      string
}

type envOptions struct {
	apiKey string
	ingest bool
	rps    float64
	burst  int
}

// setupTestEnv wires the real stack over a temp index, the hashing embedder,
// local moderation and the fake provider.
func setupTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	idx, err := index.NewSQLiteIndex(filepath.Join(dir, "librarian.db"))
	if err != nil {
		t.Fatalf("NewSQLiteIndex() error = %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	embedder := embedding.NewHashing(512)
	if opts.ingest {
		if _, err := retrieval.Ingest(ctx, embedder, idx, testBooks, retrieval.IngestOptions{
			Collection:  "books",
			StrictSlugs: true,
		}); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
	}

	fp := newFakeProvider(t)
	policy := provider.Policy{Timeout: 5 * time.Second, Retries: 0}
	client := provider.NewClient("test-key", fp.baseURL())

	retriever := retrieval.New(embedder, idx, retrieval.Config{Collection: "books", TopK: 5, MaxDistance: 0.8})
	resolver := summary.NewResolver(testBooks)
	gate := moderation.NewGate(moderation.ModeLocal, nil)
	completer := chat.NewClient(client, "gpt-4o-mini", policy)
	synth := speech.NewSynthesizer(client, speech.Config{
		Dir:    filepath.Join(dir, "audio"),
		Voices: []string{"alloy", "verse"},
	}, policy)

	lib := librarian.New(gate, retriever, completer, summary.NewToolCaller(completer, resolver), synth)

	handler := api.NewHandler(api.Services{
		Turns:       lib,
		Searcher:    retriever,
		Summaries:   resolver,
		Moderator:   gate,
		Speech:      synth,
		Transcriber: speech.NewTranscriber(client, "whisper-1", policy),
		Index:       idx,
	}, api.Info{
		Version:        "e2e",
		ChatModel:      "gpt-4o-mini",
		EmbeddingModel: embedder.ModelName(),
		Collection:     "books",
	}, opts.apiKey)

	return &testEnv{
		router:   api.NewRouter(handler, api.NewRateLimiter(opts.rps, opts.burst)),
		index:    idx,
		provider: fp,
		synth:    synth,
		dir:      dir,
	}
}

// do sends a request through the router with the test API key.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response (status %d): %v\n%s", rec.Code, err, rec.Body.String())
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d\nbody: %s", rec.Code, want, rec.Body.String())
	}
}
