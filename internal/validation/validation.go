// Package validation checks API request fields and collects every failure
// instead of stopping at the first.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperengineering/librarian/internal/types"
)

// Request limits.
const (
	MaxQueryLength  = 2000
	MaxTextLength   = 20000
	MaxTopK         = 50
	MaxVoiceLength  = 64
	MaxFormatLength = 16
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateIntRange returns an error if the value is outside [min, max].
func ValidateIntRange(field string, value, min, max int) *ValidationError {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %d and %d", min, max),
		}
	}
	return nil
}

// validateText applies the checks shared by every free-text field.
func validateText(c *Collector, field, value string, max int) {
	if err := ValidateRequired(field, value); err != nil {
		c.Add(err)
		return
	}
	c.Add(ValidateUTF8(field, value))
	c.Add(ValidateNoNullBytes(field, value))
	c.Add(ValidateMaxLength(field, value, max))
}

// ValidateRecommendRequest validates a recommendation turn request. A zero
// top_k selects the server default.
func ValidateRecommendRequest(req types.RecommendRequest) []ValidationError {
	var c Collector
	validateText(&c, "query", req.Query, MaxQueryLength)
	if req.TopK != 0 {
		c.Add(ValidateIntRange("top_k", req.TopK, 1, MaxTopK))
	}
	if req.Speak != "" {
		c.Add(ValidateEnum("speak", req.Speak, []string{"recommendation", "summary"}))
	}
	c.Add(ValidateMaxLength("voice", req.Voice, MaxVoiceLength))
	return c.Errors()
}

// ValidateSearch validates the q and k parameters of a search.
func ValidateSearch(query string, k int) []ValidationError {
	var c Collector
	validateText(&c, "q", query, MaxQueryLength)
	if k != 0 {
		c.Add(ValidateIntRange("k", k, 1, MaxTopK))
	}
	return c.Errors()
}

// ValidateModerateRequest validates a moderation request.
func ValidateModerateRequest(req types.ModerateRequest) []ValidationError {
	var c Collector
	validateText(&c, "text", req.Text, MaxTextLength)
	return c.Errors()
}

// ValidateSpeechRequest validates a speech request. Empty voice and format
// select the server defaults; otherwise they must be among the allowed values.
func ValidateSpeechRequest(req types.SpeechRequest, voices, formats []string) []ValidationError {
	var c Collector
	validateText(&c, "text", req.Text, MaxTextLength)
	if req.Voice != "" {
		c.Add(ValidateEnum("voice", req.Voice, voices))
	}
	if req.Format != "" {
		c.Add(ValidateEnum("format", req.Format, formats))
	}
	return c.Errors()
}
