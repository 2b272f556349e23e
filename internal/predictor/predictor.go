// Package predictor maps backend ratings onto dataset batches.
package predictor

import (
	"context"
	"errors"
	"fmt"

	"github.com/goosewin/prefsim/internal/backend"
	"github.com/goosewin/prefsim/internal/dataset"
)

// Predictor rates batches through a single backend.
type Predictor struct {
	backend backend.Backend
}

func New(b backend.Backend) *Predictor {
	return &Predictor{backend: b}
}

// PredictBatch returns a copy of batch with Preference set for every row whose
// index the backend rated. Rows the backend skipped keep a nil preference.
// The input batch is never modified.
func (p *Predictor) PredictBatch(ctx context.Context, batch dataset.Batch) (dataset.Batch, error) {
	if p.backend == nil {
		return batch, errors.New("predictor has no backend")
	}
	for _, column := range []string{dataset.TitleColumn, dataset.IndexColumn} {
		if !batch.HasColumn(column) {
			return batch, &dataset.SchemaError{Column: column}
		}
	}

	pred, err := p.backend.PredictPreferences(ctx, batch.Titles(), batch.Indices())
	if err != nil {
		return batch, fmt.Errorf("predict batch %d: %w", batch.Number, err)
	}

	ratings := pred.Map()
	out := batch.Clone()
	for i := range out.Rows {
		out.Rows[i].Preference = nil
		if rating, ok := ratings[out.Rows[i].Index]; ok {
			value := rating
			out.Rows[i].Preference = &value
		}
	}
	return out, nil
}
