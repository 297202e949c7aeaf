package types

import (
	"encoding/json"
	"time"
)

// RecommendRequest is the body of POST /api/v1/recommend.
type RecommendRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
	Speak string `json:"speak,omitempty"`
	Voice string `json:"voice,omitempty"`
}

// Candidate is one retrieved book.
type Candidate struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Summary  string  `json:"summary"`
	Distance float64 `json:"distance"`
}

// SummaryResult reports how a title was resolved to its canonical summary.
type SummaryResult struct {
	OK             bool   `json:"ok"`
	RequestedTitle string `json:"requested_title"`
	ResolvedTitle  string `json:"resolved_title,omitempty"`
	Summary        string `json:"summary,omitempty"`
	UsedTool       bool   `json:"used_tool"`
}

// ModerationResult is the verdict of the moderation gate.
type ModerationResult struct {
	Allowed    bool     `json:"allowed"`
	Flagged    bool     `json:"flagged"`
	Provider   string   `json:"provider"`
	Categories []string `json:"categories"`
	Error      string   `json:"error,omitempty"`
}

// MarshalJSON ensures Categories serializes as [] instead of null.
func (m ModerationResult) MarshalJSON() ([]byte, error) {
	type Alias ModerationResult
	a := Alias(m)
	if a.Categories == nil {
		a.Categories = []string{}
	}
	return json.Marshal(a)
}

// RecommendResponse is the outcome of one recommendation turn.
type RecommendResponse struct {
	ID             string           `json:"id"`
	Status         string           `json:"status"`
	Message        string           `json:"message"`
	Query          string           `json:"query"`
	Moderation     ModerationResult `json:"moderation"`
	Candidates     []Candidate      `json:"candidates"`
	Title          string           `json:"title,omitempty"`
	Recommendation string           `json:"recommendation,omitempty"`
	Summary        *SummaryResult   `json:"summary,omitempty"`
	AudioURL       string           `json:"audio_url,omitempty"`
	AudioError     string           `json:"audio_error,omitempty"`
}

// MarshalJSON ensures Candidates serializes as [] instead of null.
func (r RecommendResponse) MarshalJSON() ([]byte, error) {
	type Alias RecommendResponse
	a := Alias(r)
	if a.Candidates == nil {
		a.Candidates = []Candidate{}
	}
	return json.Marshal(a)
}

// SearchResponse lists the candidates that passed the distance threshold.
type SearchResponse struct {
	Query       string      `json:"query"`
	MaxDistance float64     `json:"max_distance"`
	Results     []Candidate `json:"results"`
}

// MarshalJSON ensures Results serializes as [] instead of null.
func (s SearchResponse) MarshalJSON() ([]byte, error) {
	type Alias SearchResponse
	a := Alias(s)
	if a.Results == nil {
		a.Results = []Candidate{}
	}
	return json.Marshal(a)
}

// SummaryResponse is the body of GET /api/v1/summaries/{title}.
type SummaryResponse struct {
	RequestedTitle string `json:"requested_title"`
	Title          string `json:"title"`
	Summary        string `json:"summary"`
}

// ModerateRequest is the body of POST /api/v1/moderate.
type ModerateRequest struct {
	Text string `json:"text"`
}

// SpeechRequest is the body of POST /api/v1/speech.
type SpeechRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Format string `json:"format,omitempty"`
}

// TranscriptionResponse is the body returned by POST /api/v1/transcriptions.
type TranscriptionResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status         string     `json:"status"`
	Version        string     `json:"version"`
	ChatModel      string     `json:"chat_model"`
	EmbeddingModel string     `json:"embedding_model"`
	Collection     string     `json:"collection"`
	DocumentCount  int        `json:"document_count"`
	Generation     string     `json:"generation,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at"`
	SchemaVersion  int64      `json:"schema_version"`
}
