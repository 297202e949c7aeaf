package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/librarian/internal/index"
	"github.com/hyperengineering/librarian/internal/librarian"
	"github.com/hyperengineering/librarian/internal/moderation"
	"github.com/hyperengineering/librarian/internal/retrieval"
	"github.com/hyperengineering/librarian/internal/speech"
	"github.com/hyperengineering/librarian/internal/summary"
	"github.com/hyperengineering/librarian/internal/types"
	"github.com/hyperengineering/librarian/internal/validation"
)

// maxUploadBytes bounds transcription uploads.
const maxUploadBytes = 25 << 20

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// TurnRunner runs one recommendation turn.
type TurnRunner interface {
	Turn(ctx context.Context, query string, opts librarian.Options) (*librarian.Outcome, error)
}

// Searcher returns ranked candidates for a query.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]retrieval.SearchResult, error)
	MaxDistance() float64
}

// SummaryResolver looks up canonical summaries by title.
type SummaryResolver interface {
	Resolve(title string) (string, bool)
	Canonical(title string) (string, bool)
}

// Speaker synthesizes and serves cached audio.
type Speaker interface {
	Synthesize(ctx context.Context, req speech.Request) (*speech.Audio, error)
	Open(name string) (string, error)
	Voices() []string
}

// Transcriber turns uploaded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename, language string) (string, error)
}

// IndexInspector reports the state of the vector index.
type IndexInspector interface {
	Info(ctx context.Context, collection string) (*index.Info, error)
	SchemaVersion() (int64, error)
}

// Services are the collaborators behind the HTTP surface. Speech and
// Transcriber may be nil, in which case their endpoints answer 503.
type Services struct {
	Turns       TurnRunner
	Searcher    Searcher
	Summaries   SummaryResolver
	Moderator   librarian.Moderator
	Speech      Speaker
	Transcriber Transcriber
	Index       IndexInspector
}

// Info describes the running service for the health endpoint.
type Info struct {
	Version        string
	ChatModel      string
	EmbeddingModel string
	Collection     string
}

// Handler implements the API handlers
type Handler struct {
	svc    Services
	info   Info
	apiKey string
}

// NewHandler creates a new Handler. An empty apiKey disables auth.
func NewHandler(svc Services, info Info, apiKey string) *Handler {
	return &Handler{
		svc:    svc,
		info:   info,
		apiKey: apiKey,
	}
}

// Health handles GET /api/v1/health. A missing index reports "degraded"
// with 503 so orchestrators hold traffic until ingest has run.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{
		Status:         "healthy",
		Version:        h.info.Version,
		ChatModel:      h.info.ChatModel,
		EmbeddingModel: h.info.EmbeddingModel,
		Collection:     h.info.Collection,
	}

	if v, err := h.svc.Index.SchemaVersion(); err == nil {
		resp.SchemaVersion = v
	}

	status := http.StatusOK
	info, err := h.svc.Index.Info(r.Context(), h.info.Collection)
	switch {
	case errors.Is(err, index.ErrCollectionNotFound):
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	case err != nil:
		LoggerFromContext(r.Context()).Error("index info failed", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	default:
		resp.DocumentCount = info.Count
		resp.Generation = info.Generation
		if !info.UpdatedAt.IsZero() {
			updated := info.UpdatedAt
			resp.UpdatedAt = &updated
		}
	}

	writeJSON(w, r, status, resp)
}

// Recommend handles POST /api/v1/recommend
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	var req types.RecommendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errs := validation.ValidateRecommendRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	outcome, err := h.svc.Turns.Turn(r.Context(), req.Query, librarian.Options{
		TopK:  req.TopK,
		Speak: req.Speak,
		Voice: req.Voice,
	})
	if err != nil {
		MapError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, recommendResponse(outcome))
}

// Search handles GET /api/v1/search?q=&k=
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{
				{Field: "k", Message: "must be an integer"},
			})
			return
		}
		k = parsed
	}

	if errs := validation.ValidateSearch(query, k); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	results, err := h.svc.Searcher.Search(r.Context(), query, k)
	if err != nil {
		MapError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, types.SearchResponse{
		Query:       query,
		MaxDistance: h.svc.Searcher.MaxDistance(),
		Results:     candidates(results),
	})
}

// titleParam returns the decoded {title} segment. chi routes on RawPath when
// the request carries one and on the already decoded Path otherwise.
func titleParam(r *http.Request) (string, error) {
	title := chi.URLParam(r, "title")
	if r.URL.RawPath == "" {
		return title, nil
	}
	return url.PathUnescape(title)
}

// Summary handles GET /api/v1/summaries/{title}
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	title, err := titleParam(r)
	if err != nil || strings.TrimSpace(title) == "" {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid title")
		return
	}

	text, ok := h.svc.Summaries.Resolve(title)
	if !ok {
		WriteProblem(w, r, http.StatusNotFound, fmt.Sprintf("No summary for %q", title))
		return
	}
	canonical, _ := h.svc.Summaries.Canonical(title)

	writeJSON(w, r, http.StatusOK, types.SummaryResponse{
		RequestedTitle: title,
		Title:          canonical,
		Summary:        text,
	})
}

// Moderate handles POST /api/v1/moderate
func (h *Handler) Moderate(w http.ResponseWriter, r *http.Request) {
	var req types.ModerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errs := validation.ValidateModerateRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	writeJSON(w, r, http.StatusOK, moderationResult(h.svc.Moderator.Check(r.Context(), req.Text)))
}

// Speech handles POST /api/v1/speech and responds with the audio bytes.
func (h *Handler) Speech(w http.ResponseWriter, r *http.Request) {
	if h.svc.Speech == nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "Speech synthesis is not configured")
		return
	}

	var req types.SpeechRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if errs := validation.ValidateSpeechRequest(req, h.svc.Speech.Voices(), speech.Formats); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	audio, err := h.svc.Speech.Synthesize(r.Context(), speech.Request{
		Text:   req.Text,
		Voice:  req.Voice,
		Format: req.Format,
	})
	if err != nil {
		MapError(w, r, err)
		return
	}

	cache := "miss"
	if audio.Cached {
		cache = "hit"
	}
	w.Header().Set("X-Audio-Cache", cache)
	w.Header().Set("X-Audio-Name", audio.Name)
	serveAudio(w, r, audio.Path)
}

// Transcribe handles POST /api/v1/transcriptions (multipart "file").
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if h.svc.Transcriber == nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "Transcription is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge, "Audio upload too large")
			return
		}
		WriteProblem(w, r, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{
			{Field: "file", Message: "is required"},
		})
		return
	}
	defer file.Close()

	language := r.FormValue("language")
	if language == "" {
		language = speech.DefaultLanguage
	}

	text, err := h.svc.Transcriber.Transcribe(r.Context(), file, header.Filename, language)
	if err != nil {
		MapError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, types.TranscriptionResponse{Text: text, Language: language})
}

// Audio handles GET /api/v1/audio/{name}
func (h *Handler) Audio(w http.ResponseWriter, r *http.Request) {
	if h.svc.Speech == nil {
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
		return
	}

	path, err := h.svc.Speech.Open(chi.URLParam(r, "name"))
	if err != nil {
		MapError(w, r, err)
		return
	}
	serveAudio(w, r, path)
}

func serveAudio(w http.ResponseWriter, r *http.Request, path string) {
	w.Header().Set("Content-Type", audioContentType(path))
	http.ServeFile(w, r, path)
}

func audioContentType(path string) string {
	switch strings.TrimPrefix(filepath.Ext(path), ".") {
	case "mp3":
		return "audio/mpeg"
	case "opus":
		return "audio/opus"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// decodeJSON reads a bounded JSON body into v, writing a 400 problem on
// failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "path", r.URL.Path, "error", err)
	}
}

func candidates(results []retrieval.SearchResult) []types.Candidate {
	out := make([]types.Candidate, len(results))
	for i, res := range results {
		out[i] = types.Candidate{
			ID:       res.ID,
			Title:    res.Title,
			Summary:  librarian.ExtractShortSummary(res.Document),
			Distance: res.Distance,
		}
	}
	return out
}

func moderationResult(res moderation.Result) types.ModerationResult {
	return types.ModerationResult{
		Allowed:    res.Allowed,
		Flagged:    res.Flagged,
		Provider:   res.Provider,
		Categories: res.Categories,
		Error:      res.Error,
	}
}

func summaryResult(res *summary.ToolCallResult) *types.SummaryResult {
	if res == nil {
		return nil
	}
	return &types.SummaryResult{
		OK:             res.OK,
		RequestedTitle: res.RequestedTitle,
		ResolvedTitle:  res.ResolvedTitle,
		Summary:        res.Summary,
		UsedTool:       res.UsedTool,
	}
}

func recommendResponse(o *librarian.Outcome) types.RecommendResponse {
	resp := types.RecommendResponse{
		ID:             o.ID,
		Status:         string(o.Status),
		Message:        o.Message(),
		Query:          o.Query,
		Moderation:     moderationResult(o.Moderation),
		Candidates:     candidates(o.Candidates),
		Title:          o.Title,
		Recommendation: o.Recommendation,
		Summary:        summaryResult(o.Summary),
		AudioError:     o.AudioError,
	}
	if o.AudioName != "" {
		resp.AudioURL = "/api/v1/audio/" + o.AudioName
	}
	return resp
}
