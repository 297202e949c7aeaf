package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/librarian/internal/corpus"
	"github.com/hyperengineering/librarian/internal/index"
	"github.com/hyperengineering/librarian/internal/librarian"
	"github.com/hyperengineering/librarian/internal/moderation"
	"github.com/hyperengineering/librarian/internal/retrieval"
	"github.com/hyperengineering/librarian/internal/speech"
	"github.com/hyperengineering/librarian/internal/summary"
	"github.com/hyperengineering/librarian/internal/types"
)

// --- Mock Implementations for Testing ---

type mockTurns struct {
	outcome   *librarian.Outcome
	err       error
	calls     int
	lastQuery string
	lastOpts  librarian.Options
}

func (m *mockTurns) Turn(ctx context.Context, query string, opts librarian.Options) (*librarian.Outcome, error) {
	m.calls++
	m.lastQuery = query
	m.lastOpts = opts
	return m.outcome, m.err
}

type mockSearcher struct {
	results []retrieval.SearchResult
	err     error
	lastK   int
}

func (m *mockSearcher) Search(ctx context.Context, query string, topK int) ([]retrieval.SearchResult, error) {
	m.lastK = topK
	return m.results, m.err
}

func (m *mockSearcher) MaxDistance() float64 { return 0.8 }

type mockModerator struct {
	result moderation.Result
	texts  []string
}

func (m *mockModerator) Check(ctx context.Context, text string) moderation.Result {
	m.texts = append(m.texts, text)
	return m.result
}

type mockSpeaker struct {
	dir     string
	err     error
	lastReq speech.Request
}

func (m *mockSpeaker) Synthesize(ctx context.Context, req speech.Request) (*speech.Audio, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	name := "0123456789ab.mp3"
	path := filepath.Join(m.dir, name)
	if err := os.WriteFile(path, []byte("ID3-fake-audio"), 0644); err != nil {
		return nil, err
	}
	return &speech.Audio{Key: "0123456789ab", Name: name, Path: path, Format: "mp3", Cached: true}, nil
}

func (m *mockSpeaker) Open(name string) (string, error) {
	path := filepath.Join(m.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", speech.ErrAudioNotFound
	}
	return path, nil
}

func (m *mockSpeaker) Voices() []string { return []string{"alloy", "verse"} }

type mockTranscriber struct {
	text         string
	err          error
	lastData     []byte
	lastFilename string
	lastLanguage string
}

func (m *mockTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename, language string) (string, error) {
	data, _ := io.ReadAll(audio)
	m.lastData = data
	m.lastFilename = filename
	m.lastLanguage = language
	return m.text, m.err
}

type mockIndex struct {
	info    *index.Info
	err     error
	version int64
}

func (m *mockIndex) Info(ctx context.Context, collection string) (*index.Info, error) {
	return m.info, m.err
}

func (m *mockIndex) SchemaVersion() (int64, error) { return m.version, nil }

// --- Fixture ---

type fixture struct {
	turns       *mockTurns
	searcher    *mockSearcher
	moderator   *mockModerator
	speaker     *mockSpeaker
	transcriber *mockTranscriber
	index       *mockIndex
	handler     *Handler
}

func newFixture(t *testing.T, apiKey string) *fixture {
	t.Helper()
	f := &fixture{}
	f.turns = &mockTurns{}
	f.searcher = &mockSearcher{}
	f.moderator = &mockModerator{result: moderation.Result{Allowed: true, Provider: "local"}}
	f.speaker = &mockSpeaker{dir: t.TempDir()}
	f.transcriber = &mockTranscriber{}
	f.index = &mockIndex{
		info: &index.Info{
			Collection: "books",
			Metric:     index.MetricCosine,
			Generation: "01JGEN",
			Count:      4,
			UpdatedAt:  time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC),
		},
		version: 1,
	}

	resolver := summary.NewResolver([]corpus.BookRecord{
		{Title: "The Hobbit", Summary: "Bilbo Baggins is swept into a quest."},
		{Title: "Dune", Summary: "Paul Atreides inherits the desert planet."},
		{Title: "100% Love", Summary: "A pair of rivals fall for each other."},
		{Title: "Either/Or", Summary: "Kierkegaard weighs two ways of living."},
	})

	f.handler = NewHandler(Services{
		Turns:       f.turns,
		Searcher:    f.searcher,
		Summaries:   resolver,
		Moderator:   f.moderator,
		Speech:      f.speaker,
		Transcriber: f.transcriber,
		Index:       f.index,
	}, Info{
		Version:        "1.2.3",
		ChatModel:      "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Collection:     "books",
	}, apiKey)
	return f
}

func (f *fixture) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	NewRouter(f.handler, nil).ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) ProblemWithErrors {
	t.Helper()
	var p ProblemWithErrors
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal problem: %v (body %s)", err, w.Body.String())
	}
	return p
}

func recommendedOutcome() *librarian.Outcome {
	return &librarian.Outcome{
		ID:         "01JTURN",
		Status:     librarian.StatusRecommended,
		Query:      "war and family",
		Moderation: moderation.Result{Allowed: true, Provider: "openai"},
		Candidates: []retrieval.SearchResult{
			{ID: "dune", Title: "Dune", Document: "Title: Dune\nSummary: Desert power.", Distance: 0.5},
		},
		Title:          "Dune",
		Recommendation: "You will enjoy Dune.",
		Summary: &summary.ToolCallResult{
			OK:             true,
			RequestedTitle: "Dune",
			ResolvedTitle:  "Dune",
			Summary:        "Paul Atreides inherits the desert planet.",
			UsedTool:       true,
		},
		AudioName: "0123456789ab.mp3",
	}
}

// --- Health ---

func TestHealth_ReturnsHealthyStatus(t *testing.T) {
	f := newFixture(t, "")
	w := f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp types.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "healthy" || resp.Version != "1.2.3" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.ChatModel != "gpt-4o-mini" || resp.EmbeddingModel != "text-embedding-3-small" {
		t.Errorf("models = %q, %q", resp.ChatModel, resp.EmbeddingModel)
	}
	if resp.DocumentCount != 4 || resp.Generation != "01JGEN" || resp.Collection != "books" {
		t.Errorf("index fields = %+v", resp)
	}
	if resp.UpdatedAt == nil || !resp.UpdatedAt.Equal(f.index.info.UpdatedAt) {
		t.Errorf("updated_at = %v", resp.UpdatedAt)
	}
	if resp.SchemaVersion != 1 {
		t.Errorf("schema_version = %d", resp.SchemaVersion)
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	f := newFixture(t, testAPIKey)
	w := f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHealth_DegradedWithoutIndex(t *testing.T) {
	f := newFixture(t, "")
	f.index.err = fmt.Errorf("%w: books", index.ErrCollectionNotFound)

	w := f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	var resp types.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "degraded" || resp.DocumentCount != 0 || resp.UpdatedAt != nil {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHealth_IndexErrorReturns500(t *testing.T) {
	f := newFixture(t, "")
	f.index.err = errors.New("disk I/O error")

	w := f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if strings.Contains(w.Body.String(), "disk I/O") {
		t.Error("response leaks internal error")
	}
}

// --- Recommend ---

func TestRecommend_Recommended(t *testing.T) {
	f := newFixture(t, "")
	f.turns.outcome = recommendedOutcome()

	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/recommend",
		`{"query":"war and family","top_k":3,"speak":"summary","voice":"verse"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if f.turns.lastQuery != "war and family" {
		t.Errorf("query = %q", f.turns.lastQuery)
	}
	if f.turns.lastOpts != (librarian.Options{TopK: 3, Speak: "summary", Voice: "verse"}) {
		t.Errorf("opts = %+v", f.turns.lastOpts)
	}

	var resp types.RecommendResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "recommended" || resp.Title != "Dune" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Candidates) != 1 || resp.Candidates[0].Summary != "Desert power." {
		t.Errorf("candidates = %+v", resp.Candidates)
	}
	if resp.Summary == nil || !resp.Summary.OK || !resp.Summary.UsedTool {
		t.Errorf("summary = %+v", resp.Summary)
	}
	if resp.AudioURL != "/api/v1/audio/0123456789ab.mp3" {
		t.Errorf("audio_url = %q", resp.AudioURL)
	}
	if !strings.Contains(resp.Message, "Detailed summary - Dune") {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestRecommend_Flagged(t *testing.T) {
	f := newFixture(t, "")
	f.turns.outcome = &librarian.Outcome{
		ID:         "01JTURN",
		Status:     librarian.StatusFlagged,
		Query:      "you idiot",
		Moderation: moderation.Result{Flagged: true, Provider: "local", Categories: []string{"blocklist"}},
	}

	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/recommend", `{"query":"you idiot"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, `"candidates":[]`) {
		t.Errorf("expected empty candidates array, got %s", body)
	}
	var resp types.RecommendResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "flagged" || resp.Message != librarian.MessageFlagged || resp.Summary != nil {
		t.Errorf("resp = %+v", resp)
	}
}

func TestRecommend_InvalidJSON(t *testing.T) {
	f := newFixture(t, "")
	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/recommend", `{"query":`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if f.turns.calls != 0 {
		t.Error("turn should not run for invalid JSON")
	}
}

func TestRecommend_ValidationErrors(t *testing.T) {
	f := newFixture(t, "")
	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/recommend", `{"query":"  ","top_k":500,"speak":"all"}`))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	p := decodeProblem(t, w)
	if len(p.Errors) != 3 {
		t.Errorf("errors = %+v, want query, top_k and speak", p.Errors)
	}
	if f.turns.calls != 0 {
		t.Error("turn should not run for invalid request")
	}
}

func TestRecommend_IndexMissingReturns503(t *testing.T) {
	f := newFixture(t, "")
	f.turns.err = fmt.Errorf("retrieve candidates: %w", index.ErrCollectionNotFound)

	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/recommend", `{"query":"dragons"}`))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRecommend_RequiresAuthWhenConfigured(t *testing.T) {
	f := newFixture(t, testAPIKey)
	f.turns.outcome = recommendedOutcome()

	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/recommend", `{"query":"dragons"}`))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	req := jsonRequest(http.MethodPost, "/api/v1/recommend", `{"query":"dragons"}`)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	w = f.serve(req)
	if w.Code != http.StatusOK {
		t.Errorf("with token: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRecommend_RateLimited(t *testing.T) {
	f := newFixture(t, "")
	f.turns.outcome = recommendedOutcome()
	router := NewRouter(f.handler, NewRateLimiter(0.001, 1))

	codes := make([]int, 2)
	for i := range codes {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, jsonRequest(http.MethodPost, "/api/v1/recommend", `{"query":"dragons"}`))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}

	// Search does not spend generation quota.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=dragons", nil))
	if w.Code != http.StatusOK {
		t.Errorf("search status = %d, want 200", w.Code)
	}
}

// --- Search ---

func TestSearch_ReturnsCandidates(t *testing.T) {
	f := newFixture(t, "")
	f.searcher.results = []retrieval.SearchResult{
		{ID: "the-hobbit", Title: "The Hobbit", Document: "Title: The Hobbit\nSummary: A quest.", Distance: 0.3},
		{ID: "dune", Title: "Dune", Document: "Title: Dune\nSummary: Desert power.", Distance: 0.6},
	}

	w := f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/search?q=dragons&k=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if f.searcher.lastK != 2 {
		t.Errorf("k = %d, want 2", f.searcher.lastK)
	}

	var resp types.SearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Query != "dragons" || resp.MaxDistance != 0.8 || len(resp.Results) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Results[0].ID != "the-hobbit" || resp.Results[0].Summary != "A quest." {
		t.Errorf("results[0] = %+v", resp.Results[0])
	}
}

func TestSearch_EmptyResultsAreArray(t *testing.T) {
	f := newFixture(t, "")
	w := f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/search?q=quantum+chromodynamics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"results":[]`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSearch_InvalidParameters(t *testing.T) {
	f := newFixture(t, "")
	tests := []struct {
		name  string
		path  string
		field string
	}{
		{"missing q", "/api/v1/search", "q"},
		{"non-numeric k", "/api/v1/search?q=x&k=many", "k"},
		{"k too large", "/api/v1/search?q=x&k=500", "k"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.serve(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422", w.Code)
			}
			p := decodeProblem(t, w)
			if len(p.Errors) != 1 || p.Errors[0].Field != tt.field {
				t.Errorf("errors = %+v, want one %s error", p.Errors, tt.field)
			}
		})
	}
}

// --- Summaries ---

func TestSummary_Found(t *testing.T) {
	f := newFixture(t, "")
	w := f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/summaries/the%20%20HOBBIT", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp types.SummaryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Title != "The Hobbit" || resp.Summary != "Bilbo Baggins is swept into a quest." {
		t.Errorf("resp = %+v", resp)
	}
	if resp.RequestedTitle != "the  HOBBIT" {
		t.Errorf("requested_title = %q", resp.RequestedTitle)
	}
}

func TestSummary_TitleEncoding(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		title string
	}{
		{"escaped percent", "/api/v1/summaries/100%25%20Love", "100% Love"},
		{"escaped slash", "/api/v1/summaries/Either%2FOr", "Either/Or"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "")
			w := f.serve(httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			var resp types.SummaryResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Title != tt.title || resp.RequestedTitle != tt.title {
				t.Errorf("resp = %+v, want title %q", resp, tt.title)
			}
		})
	}
}

func TestSummary_NotFound(t *testing.T) {
	f := newFixture(t, "")
	w := f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/summaries/Unknown%20Book", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// --- Moderate ---

func TestModerate_ReturnsVerdict(t *testing.T) {
	f := newFixture(t, "")
	f.moderator.result = moderation.Result{
		Flagged:    true,
		Provider:   "openai+local",
		Categories: []string{"blocklist", "harassment"},
	}

	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/moderate", `{"text":"you idiot"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp types.ModerationResult
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Flagged || resp.Allowed || resp.Provider != "openai+local" || len(resp.Categories) != 2 {
		t.Errorf("resp = %+v", resp)
	}
	if len(f.moderator.texts) != 1 || f.moderator.texts[0] != "you idiot" {
		t.Errorf("moderated texts = %v", f.moderator.texts)
	}
}

func TestModerate_EmptyText(t *testing.T) {
	f := newFixture(t, "")
	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/moderate", `{"text":""}`))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
	if len(f.moderator.texts) != 0 {
		t.Error("moderator should not be called")
	}
}

// --- Speech and audio ---

func TestSpeech_ReturnsAudio(t *testing.T) {
	f := newFixture(t, "")
	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/speech", `{"text":"Hello","voice":"verse","format":"mp3"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "ID3-fake-audio" {
		t.Errorf("body = %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q, want audio/mpeg", ct)
	}
	if w.Header().Get("X-Audio-Cache") != "hit" || w.Header().Get("X-Audio-Name") != "0123456789ab.mp3" {
		t.Errorf("headers = %v", w.Header())
	}
	if f.speaker.lastReq != (speech.Request{Text: "Hello", Voice: "verse", Format: "mp3"}) {
		t.Errorf("request = %+v", f.speaker.lastReq)
	}
}

func TestSpeech_InvalidVoiceAndFormat(t *testing.T) {
	f := newFixture(t, "")
	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/speech", `{"text":"Hello","voice":"robot","format":"ogg"}`))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	if p := decodeProblem(t, w); len(p.Errors) != 2 {
		t.Errorf("errors = %+v", p.Errors)
	}
}

func TestSpeech_NotConfigured(t *testing.T) {
	f := newFixture(t, "")
	f.handler.svc.Speech = nil

	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/speech", `{"text":"Hello"}`))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestAudio_ServesCachedFile(t *testing.T) {
	f := newFixture(t, "")
	if err := os.WriteFile(filepath.Join(f.speaker.dir, "abcdefabcdef.wav"), []byte("RIFF"), 0644); err != nil {
		t.Fatal(err)
	}

	w := f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/audio/abcdefabcdef.wav", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "RIFF" || w.Header().Get("Content-Type") != "audio/wav" {
		t.Errorf("body %q content-type %q", w.Body.String(), w.Header().Get("Content-Type"))
	}
}

func TestAudio_NotFound(t *testing.T) {
	f := newFixture(t, "")
	w := f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/audio/ffffffffffff.mp3", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// --- Transcriptions ---

func multipartRequest(t *testing.T, filename string, data []byte, language string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	}
	if language != "" {
		mw.WriteField("language", language)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestTranscribe_ReturnsText(t *testing.T) {
	f := newFixture(t, "")
	f.transcriber.text = "a book about dragons"

	w := f.serve(multipartRequest(t, "question.webm", []byte("webm-bytes"), "ro"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp types.TranscriptionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Text != "a book about dragons" || resp.Language != "ro" {
		t.Errorf("resp = %+v", resp)
	}
	if string(f.transcriber.lastData) != "webm-bytes" || f.transcriber.lastFilename != "question.webm" {
		t.Errorf("transcriber got %q from %q", f.transcriber.lastData, f.transcriber.lastFilename)
	}
}

func TestTranscribe_DefaultLanguage(t *testing.T) {
	f := newFixture(t, "")
	f.serve(multipartRequest(t, "q.wav", []byte("wav"), ""))
	if f.transcriber.lastLanguage != speech.DefaultLanguage {
		t.Errorf("language = %q, want %q", f.transcriber.lastLanguage, speech.DefaultLanguage)
	}
}

func TestTranscribe_MissingFile(t *testing.T) {
	f := newFixture(t, "")
	w := f.serve(multipartRequest(t, "", nil, "en"))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	if p := decodeProblem(t, w); len(p.Errors) != 1 || p.Errors[0].Field != "file" {
		t.Errorf("errors = %+v", p.Errors)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	f := newFixture(t, "")
	f.transcriber.err = speech.ErrEmptyAudio

	w := f.serve(multipartRequest(t, "q.wav", nil, ""))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestTranscribe_NotMultipart(t *testing.T) {
	f := newFixture(t, "")
	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/transcriptions", `{}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
