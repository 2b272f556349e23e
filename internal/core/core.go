package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/goosewin/prefsim/internal/dataset"
	"github.com/goosewin/prefsim/internal/metrics"
)

// BatchPredictor rates one batch.
type BatchPredictor interface {
	PredictBatch(ctx context.Context, batch dataset.Batch) (dataset.Batch, error)
}

type StateCallback func(update StateUpdate)

type StateUpdate struct {
	Batch    int
	Batches  int
	Attempt  int
	Status   string
	RowsDone int
}

const (
	StatusRunning   = "running"
	StatusRetrying  = "retrying"
	StatusSucceeded = "succeeded"
	StatusDegraded  = "degraded"
)

type RunOptions struct {
	// RunID tags every log line of the run. A random one is generated when
	// empty.
	RunID     string
	Dataset   *dataset.Dataset
	Samples   int
	BatchSize int
	Predictor BatchPredictor
	// Retry controls per-batch attempts. A zero Interval uses
	// DefaultRetryInterval; a negative one disables waiting.
	Retry         RetryPolicy
	Logger        zerolog.Logger
	Metrics       *metrics.Recorder
	StateCallback StateCallback
}

type RunResult struct {
	RunID     string
	Dataset   *dataset.Dataset
	Batches   int
	Degraded  []int
	RatedRows int
	Attempts  int
	Duration  time.Duration
}

// Run rates the first Samples rows of the dataset in batches of BatchSize.
// A batch that still fails after the retry policy is exhausted is emitted
// unrated and the run moves on. Only schema errors and cancellation stop a
// run early; in that case no dataset is returned.
func Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	result := RunResult{RunID: opts.RunID}
	if result.RunID == "" {
		result.RunID = uuid.NewString()
	}
	if opts.Dataset == nil {
		return result, errors.New("dataset is required")
	}
	if opts.Predictor == nil {
		return result, errors.New("predictor is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for _, column := range []string{dataset.TitleColumn, dataset.IndexColumn} {
		if !(dataset.Batch{Columns: opts.Dataset.Columns}).HasColumn(column) {
			return result, &dataset.SchemaError{Column: column}
		}
	}

	batches, err := opts.Dataset.Batches(opts.Samples, opts.BatchSize)
	if err != nil {
		return result, err
	}

	policy := opts.Retry
	if policy.Interval == 0 {
		policy.Interval = DefaultRetryInterval
	}
	policy = policy.normalized()

	logger := opts.Logger.With().Str("run_id", result.RunID).Logger()
	start := time.Now()
	logger.Info().
		Int("rows", opts.Dataset.Len()).
		Int("batches", len(batches)).
		Int("batch_size", opts.BatchSize).
		Int("max_attempts", policy.MaxAttempts).
		Msg("starting run")

	results := make([]dataset.Batch, 0, len(batches))
	rowsDone := 0
	for _, batch := range batches {
		notify(opts.StateCallback, StateUpdate{Batch: batch.Number, Batches: len(batches), Attempt: 1, Status: StatusRunning, RowsDone: rowsDone})

		var rated dataset.Batch
		attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
			opts.Metrics.Attempt()
			out, err := opts.Predictor.PredictBatch(ctx, batch)
			if err != nil {
				return err
			}
			rated = out
			return nil
		}, func(attempt int, err error) {
			logger.Warn().Err(err).
				Int("batch", batch.Number).
				Int("attempt", attempt).
				Int("max_attempts", policy.MaxAttempts).
				Msg("batch attempt failed")
			if attempt < policy.MaxAttempts {
				notify(opts.StateCallback, StateUpdate{Batch: batch.Number, Batches: len(batches), Attempt: attempt + 1, Status: StatusRetrying, RowsDone: rowsDone})
			}
		})
		result.Attempts += attempts

		switch {
		case err == nil:
			count := ratedRows(rated)
			result.RatedRows += count
			opts.Metrics.BatchSucceeded(count)
			results = append(results, rated)
			rowsDone += len(rated.Rows)
			logger.Info().Int("batch", batch.Number).Int("rows", len(rated.Rows)).Int("rated", count).Msg("processed batch")
			notify(opts.StateCallback, StateUpdate{Batch: batch.Number, Batches: len(batches), Attempt: attempts, Status: StatusSucceeded, RowsDone: rowsDone})
		case dataset.IsSchemaError(err):
			return result, err
		case ctx.Err() != nil:
			return result, ctx.Err()
		default:
			result.Degraded = append(result.Degraded, batch.Number)
			opts.Metrics.BatchDegraded()
			results = append(results, batch.Unrated())
			rowsDone += len(batch.Rows)
			logger.Error().Err(err).Int("batch", batch.Number).Int("attempts", attempts).Msg("batch degraded; rows left unrated")
			notify(opts.StateCallback, StateUpdate{Batch: batch.Number, Batches: len(batches), Attempt: attempts, Status: StatusDegraded, RowsDone: rowsDone})
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	result.Dataset = dataset.Concat(opts.Dataset.Columns, results)
	result.Batches = len(batches)
	result.Duration = time.Since(start)
	opts.Metrics.ObserveDuration(result.Duration)

	logger.Info().
		Int("batches", result.Batches).
		Int("degraded", len(result.Degraded)).
		Int("rated_rows", result.RatedRows).
		Dur("duration", result.Duration).
		Msg("run complete")

	return result, nil
}

func ratedRows(batch dataset.Batch) int {
	count := 0
	for _, row := range batch.Rows {
		if row.Preference != nil {
			count++
		}
	}
	return count
}

func notify(callback StateCallback, update StateUpdate) {
	if callback != nil {
		callback(update)
	}
}
