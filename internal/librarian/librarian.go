// Package librarian runs one recommendation turn: moderation, retrieval,
// recommendation text, canonical summary and optional speech.
package librarian

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hyperengineering/librarian/internal/chat"
	"github.com/hyperengineering/librarian/internal/moderation"
	"github.com/hyperengineering/librarian/internal/retrieval"
	"github.com/hyperengineering/librarian/internal/speech"
	"github.com/hyperengineering/librarian/internal/summary"
	"github.com/oklog/ulid/v2"
)

// Status is the branch a turn ended on.
type Status string

const (
	StatusFlagged     Status = "flagged"
	StatusNoMatch     Status = "no_match"
	StatusRecommended Status = "recommended"
)

// What a turn can read aloud.
const (
	SpeakNone           = ""
	SpeakRecommendation = "recommendation"
	SpeakSummary        = "summary"
)

// User-facing messages for the expected non-recommendation branches.
const (
	MessageFlagged = "I can’t process messages that include offensive language. Please rephrase your request."
	MessageNoMatch = "I couldn't find a good match. Could you rephrase your request?"
)

// ErrInvalidSpeak is returned for an unknown speak target.
var ErrInvalidSpeak = errors.New("speak must be empty, \"recommendation\" or \"summary\"")

// Moderator screens user text.
type Moderator interface {
	Check(ctx context.Context, text string) moderation.Result
}

// Searcher returns ranked candidates for a query.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]retrieval.SearchResult, error)
}

// Completer generates free text.
type Completer interface {
	Complete(ctx context.Context, req chat.Request) (string, error)
}

// SummaryCaller resolves a title to its full summary.
type SummaryCaller interface {
	Call(ctx context.Context, title string) summary.ToolCallResult
}

// Speaker synthesizes audio.
type Speaker interface {
	Synthesize(ctx context.Context, req speech.Request) (*speech.Audio, error)
}

// Options tune a single turn.
type Options struct {
	TopK  int
	Speak string
	Voice string
}

// Outcome is the result bundle of one turn. Only the fields of the branch
// reached are populated.
type Outcome struct {
	ID             string                   `json:"id"`
	Status         Status                   `json:"status"`
	Query          string                   `json:"query"`
	Moderation     moderation.Result        `json:"moderation"`
	Candidates     []retrieval.SearchResult `json:"candidates"`
	Title          string                   `json:"title,omitempty"`
	Recommendation string                   `json:"recommendation,omitempty"`
	Summary        *summary.ToolCallResult  `json:"summary,omitempty"`
	AudioPath      string                   `json:"audio_path,omitempty"`
	AudioName      string                   `json:"audio_name,omitempty"`
	AudioError     string                   `json:"audio_error,omitempty"`
}

// SummaryAvailable reports whether the canonical summary was resolved.
func (o *Outcome) SummaryAvailable() bool {
	return o.Summary != nil && o.Summary.OK
}

// Message renders the text shown to the user for the turn.
func (o *Outcome) Message() string {
	switch o.Status {
	case StatusFlagged:
		return MessageFlagged
	case StatusNoMatch:
		return MessageNoMatch
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(o.Recommendation))
	b.WriteString("\n\n")
	if o.SummaryAvailable() {
		fmt.Fprintf(&b, "Detailed summary - %s\n\n%s", o.Summary.ResolvedTitle, o.Summary.Summary)
	} else {
		fmt.Fprintf(&b, "Summary not found for %s.", o.Title)
	}
	return b.String()
}

// Librarian wires the turn collaborators together.
type Librarian struct {
	moderator Moderator
	searcher  Searcher
	completer Completer
	summaries SummaryCaller
	speaker   Speaker
}

// New creates a Librarian. speaker may be nil when speech is not configured.
func New(moderator Moderator, searcher Searcher, completer Completer, summaries SummaryCaller, speaker Speaker) *Librarian {
	return &Librarian{
		moderator: moderator,
		searcher:  searcher,
		completer: completer,
		summaries: summaries,
		speaker:   speaker,
	}
}

// Turn runs one independent recommendation turn. Flagged input and an empty
// retrieval are outcomes, not errors. Retrieval and generation failures abort
// the turn; a speech failure is reported in the outcome.
func (l *Librarian) Turn(ctx context.Context, query string, opts Options) (*Outcome, error) {
	switch opts.Speak {
	case SpeakNone, SpeakRecommendation, SpeakSummary:
	default:
		return nil, ErrInvalidSpeak
	}

	out := &Outcome{
		ID:         ulid.Make().String(),
		Query:      query,
		Candidates: []retrieval.SearchResult{},
	}
	logger := slog.With("component", "librarian", "turn", out.ID)

	out.Moderation = l.moderator.Check(ctx, query)
	if out.Moderation.Flagged {
		out.Status = StatusFlagged
		logger.Info("turn flagged",
			"provider", out.Moderation.Provider,
			"categories", strings.Join(out.Moderation.Categories, ","),
		)
		return out, nil
	}

	candidates, err := l.searcher.Search(ctx, query, opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieve candidates: %w", err)
	}
	if len(candidates) == 0 {
		out.Status = StatusNoMatch
		logger.Info("turn found no match")
		return out, nil
	}
	out.Candidates = candidates

	best := candidates[0]
	out.Title = best.Title

	reply, err := l.completer.Complete(ctx, Messages(query, best.Title, best.Document))
	if err != nil {
		return nil, fmt.Errorf("generate recommendation: %w", err)
	}
	out.Recommendation = reply

	result := l.summaries.Call(ctx, best.Title)
	out.Summary = &result
	out.Status = StatusRecommended

	l.speak(ctx, out, opts)

	logger.Info("turn recommended",
		"title", out.Title,
		"distance", best.Distance,
		"candidates", len(candidates),
		"summary_ok", result.OK,
		"used_tool", result.UsedTool,
	)
	return out, nil
}

func (l *Librarian) speak(ctx context.Context, out *Outcome, opts Options) {
	var text string
	switch opts.Speak {
	case SpeakRecommendation:
		text = out.Recommendation
	case SpeakSummary:
		if out.SummaryAvailable() {
			text = out.Summary.Summary
		}
	default:
		return
	}

	if l.speaker == nil {
		out.AudioError = "speech synthesis is not configured"
		return
	}
	if strings.TrimSpace(text) == "" {
		out.AudioError = "nothing to read aloud"
		return
	}

	audio, err := l.speaker.Synthesize(ctx, speech.Request{Text: text, Voice: opts.Voice})
	if err != nil {
		slog.Warn("speech synthesis failed",
			"component", "librarian",
			"turn", out.ID,
			"error", err,
		)
		out.AudioError = "speech synthesis failed"
		return
	}
	out.AudioPath = audio.Path
	out.AudioName = audio.Name
}
