package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrInputMismatch     = errors.New("texts and ids must have equal length")
	ErrMissingCredential = errors.New("API credential is not set")
)

// Backend rates a batch of texts on behalf of a persona.
type Backend interface {
	// Name returns the registry name of the backend.
	Name() string
	// Check reports whether the backend can serve requests at all. It is
	// called once before a run starts.
	Check() error
	// PredictPreferences rates texts[i], identified by ids[i], and returns the
	// ratings keyed by identifier.
	PredictPreferences(ctx context.Context, texts []string, ids []int) (Prediction, error)
}

// Resetter is implemented by backends that keep conversational history.
type Resetter interface {
	Reset()
}

// Options configures a backend instance.
type Options struct {
	Model        string
	SystemPrompt string
	APIKey       string
	BaseURL      string
	ExecPath     string
	Strictness   Strictness
	// MemorySize enables conversational history of that many exchanges when
	// positive.
	MemorySize int
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// Prediction holds the identifiers and ratings returned by a backend,
// positionally paired.
type Prediction struct {
	Indices []int `json:"index"`
	Ratings []int `json:"ratings"`
}

// Map converts the prediction into an identifier to rating lookup. The first
// rating wins when an identifier repeats.
func (p Prediction) Map() map[int]int {
	n := len(p.Indices)
	if len(p.Ratings) < n {
		n = len(p.Ratings)
	}
	out := make(map[int]int, n)
	for i := 0; i < n; i++ {
		if _, exists := out[p.Indices[i]]; exists {
			continue
		}
		out[p.Indices[i]] = p.Ratings[i]
	}
	return out
}

// Len returns the number of usable pairs.
func (p Prediction) Len() int {
	if len(p.Ratings) < len(p.Indices) {
		return len(p.Ratings)
	}
	return len(p.Indices)
}

// BackendError reports a failed call to the model provider.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// ResponseParseError reports a response that could not be interpreted.
type ResponseParseError struct {
	Raw string
	Err error
}

func (e *ResponseParseError) Error() string {
	return fmt.Sprintf("parse response: %v", e.Err)
}

func (e *ResponseParseError) Unwrap() error {
	return e.Err
}

// ResponseMismatchError reports a response whose shape does not match the
// request.
type ResponseMismatchError struct {
	Requested  int
	Indices    int
	Ratings    int
	Unexpected []int
	Duplicate  []int
	Missing    []int
}

func (e *ResponseMismatchError) Error() string {
	if len(e.Unexpected) > 0 {
		return fmt.Sprintf("response mismatch: unexpected indices %v", e.Unexpected)
	}
	if len(e.Duplicate) > 0 || len(e.Missing) > 0 {
		return fmt.Sprintf("response mismatch: duplicate indices %v, missing indices %v", e.Duplicate, e.Missing)
	}
	return fmt.Sprintf("response mismatch: requested %d items, got %d indices and %d ratings", e.Requested, e.Indices, e.Ratings)
}
