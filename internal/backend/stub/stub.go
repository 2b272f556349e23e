// Package stub provides an offline backend that rates items by title length
// parity. It is useful for dry runs and for exercising the pipeline without a
// model provider.
package stub

import (
	"context"
	"unicode/utf8"

	"github.com/goosewin/prefsim/internal/backend"
)

const name = "stub"

type Backend struct {
	strictness backend.Strictness
}

var _ backend.Backend = (*Backend)(nil)

func init() {
	if err := backend.Register(name, factory, "parity"); err != nil {
		panic(err)
	}
}

func factory(opts backend.Options) (backend.Backend, error) {
	return New(opts), nil
}

func New(opts backend.Options) *Backend {
	return &Backend{strictness: opts.Strictness}
}

func (b *Backend) Name() string {
	return name
}

func (b *Backend) Check() error {
	return nil
}

// PredictPreferences rates a text 1 when its length in runes is even and 0
// otherwise.
func (b *Backend) PredictPreferences(ctx context.Context, texts []string, ids []int) (backend.Prediction, error) {
	if len(texts) != len(ids) {
		return backend.Prediction{}, backend.ErrInputMismatch
	}
	if err := ctx.Err(); err != nil {
		return backend.Prediction{}, err
	}

	pred := backend.Prediction{Indices: make([]int, len(ids)), Ratings: make([]int, len(ids))}
	for i, text := range texts {
		pred.Indices[i] = ids[i]
		pred.Ratings[i] = Rate(text)
	}
	return backend.Validate(pred, ids, b.strictness)
}

// Rate returns the parity rating for text.
func Rate(text string) int {
	if utf8.RuneCountInString(text)%2 == 0 {
		return 1
	}
	return 0
}
