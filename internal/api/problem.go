package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hyperengineering/librarian/internal/index"
	"github.com/hyperengineering/librarian/internal/librarian"
	"github.com/hyperengineering/librarian/internal/provider"
	"github.com/hyperengineering/librarian/internal/retrieval"
	"github.com/hyperengineering/librarian/internal/speech"
	"github.com/hyperengineering/librarian/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusUnauthorized: {
		typeURI: "https://librarian.hyperengineering.dev/errors/unauthorized",
		title:   "Unauthorized",
	},
	http.StatusBadRequest: {
		typeURI: "https://librarian.hyperengineering.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusNotFound: {
		typeURI: "https://librarian.hyperengineering.dev/errors/not-found",
		title:   "Not Found",
	},
	http.StatusInternalServerError: {
		typeURI: "https://librarian.hyperengineering.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
	http.StatusUnprocessableEntity: {
		typeURI: "https://librarian.hyperengineering.dev/errors/validation-error",
		title:   "Validation Error",
	},
	http.StatusServiceUnavailable: {
		typeURI: "https://librarian.hyperengineering.dev/errors/service-unavailable",
		title:   "Service Unavailable",
	},
	http.StatusConflict: {
		typeURI: "https://librarian.hyperengineering.dev/errors/conflict",
		title:   "Conflict",
	},
	http.StatusForbidden: {
		typeURI: "https://librarian.hyperengineering.dev/errors/forbidden",
		title:   "Forbidden",
	},
	http.StatusTooManyRequests: {
		typeURI: "https://librarian.hyperengineering.dev/errors/rate-limit",
		title:   "Too Many Requests",
	},
	http.StatusRequestEntityTooLarge: {
		typeURI: "https://librarian.hyperengineering.dev/errors/payload-too-large",
		title:   "Payload Too Large",
	},
	http.StatusBadGateway: {
		typeURI: "https://librarian.hyperengineering.dev/errors/upstream-error",
		title:   "Bad Gateway",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = struct {
			typeURI string
			title   string
		}{
			typeURI: "https://librarian.hyperengineering.dev/errors/unknown",
			title:   http.StatusText(status),
		}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	pt := problemTypes[http.StatusUnprocessableEntity]

	p := ProblemWithErrors{
		Problem: Problem{
			Type:     pt.typeURI,
			Title:    pt.title,
			Status:   http.StatusUnprocessableEntity,
			Detail:   detail,
			Instance: r.URL.Path,
		},
		Errors: errs,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// MapError converts domain errors to Problem Details responses.
func MapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, index.ErrCollectionNotFound):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Book index has not been built")
	case errors.Is(err, retrieval.ErrEmptyQuery):
		WriteProblem(w, r, http.StatusBadRequest, "Query is empty")
	case errors.Is(err, librarian.ErrInvalidSpeak):
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{
			{Field: "speak", Message: "must be one of: recommendation, summary"},
		})
	case errors.Is(err, speech.ErrEmptyText), errors.Is(err, speech.ErrEmptyAudio):
		WriteProblem(w, r, http.StatusBadRequest, "Nothing to process")
	case errors.Is(err, speech.ErrUnsupportedFormat):
		WriteProblem(w, r, http.StatusUnprocessableEntity, "Unsupported audio format")
	case errors.Is(err, speech.ErrAudioNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	case provider.IsTransient(err):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Language model provider unavailable")
	case strings.HasPrefix(provider.ErrorKind(err), "api_error_"):
		WriteProblem(w, r, http.StatusBadGateway, "Language model provider error")
	default:
		// Never expose internal error details to client
		LoggerFromContext(r.Context()).Error("request failed", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
