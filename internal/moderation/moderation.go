// Package moderation screens user text before it reaches retrieval or
// generation. An external classifier is primary and a local blocklist is both
// an overlay and the fallback when the external call fails.
package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hyperengineering/librarian/internal/provider"
	"github.com/sony/gobreaker"
)

// Mode selects which classifiers run.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeLocal    Mode = "local"
	ModeCombined Mode = "combined"
)

// Provider labels reported in Result.Provider.
const (
	ProviderDisabled = "disabled"
	ProviderLocal    = "local"
	ProviderOpenAI   = "openai"
	ProviderCombined = "openai+local"
)

// CategoryBlocklist is the category reported by the local classifier.
const CategoryBlocklist = "blocklist"

// ParseMode maps a configuration string to a Mode. "openai" is accepted as
// an alias of combined, since the external classifier always runs with the
// local overlay.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "combined", "openai", "openai+local":
		return ModeCombined, nil
	case "local":
		return ModeLocal, nil
	case "disabled", "off", "none":
		return ModeDisabled, nil
	default:
		return "", fmt.Errorf("unknown moderation mode %q", s)
	}
}

// Result is the outcome of a moderation check.
type Result struct {
	Allowed    bool     `json:"allowed"`
	Flagged    bool     `json:"flagged"`
	Provider   string   `json:"provider"`
	Categories []string `json:"categories"`
	Error      string   `json:"error,omitempty"`
}

// Verdict is what an external classifier reports.
type Verdict struct {
	Flagged    bool
	Categories []string
}

// Classifier is an external moderation provider.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// Gate applies the configured moderation mode.
type Gate struct {
	mode     Mode
	external Classifier
	breaker  *gobreaker.CircuitBreaker
}

// NewGate creates a Gate. A nil external classifier downgrades combined mode
// to local.
func NewGate(mode Mode, external Classifier) *Gate {
	if mode == ModeCombined && external == nil {
		mode = ModeLocal
	}
	return &Gate{
		mode:     mode,
		external: external,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "moderation",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state changed",
					"component", "moderation",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		}),
	}
}

// Mode returns the effective mode.
func (g *Gate) Mode() Mode {
	return g.mode
}

// Check never fails. When the external classifier is unavailable the local
// result is returned with Error describing the failure.
func (g *Gate) Check(ctx context.Context, text string) Result {
	switch g.mode {
	case ModeDisabled:
		return Result{Allowed: true, Provider: ProviderDisabled, Categories: []string{}}
	case ModeLocal:
		return Local(text)
	}

	verdict, err := g.classify(ctx, text)
	if err != nil {
		kind := failureKind(err)
		slog.Warn("external moderation failed, using local fallback",
			"component", "moderation",
			"action", "check",
			"kind", kind,
			"error", err,
		)
		fallback := Local(text)
		fallback.Error = "openai_moderation_error: " + kind
		return fallback
	}

	local := Local(text)
	if verdict.Flagged || local.Flagged {
		cats := verdict.Categories
		if local.Flagged {
			cats = append(append([]string{}, cats...), CategoryBlocklist)
		}
		return Result{
			Allowed:    false,
			Flagged:    true,
			Provider:   ProviderCombined,
			Categories: uniqueSorted(cats),
		}
	}

	return Result{
		Allowed:    true,
		Flagged:    false,
		Provider:   ProviderOpenAI,
		Categories: uniqueSorted(verdict.Categories),
	}
}

func (g *Gate) classify(ctx context.Context, text string) (Verdict, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.external.Classify(ctx, text)
	})
	if err != nil {
		return Verdict{}, err
	}
	return out.(Verdict), nil
}

func failureKind(err error) string {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return "circuit_open"
	}
	return provider.ErrorKind(err)
}

func uniqueSorted(cats []string) []string {
	seen := make(map[string]struct{}, len(cats))
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
