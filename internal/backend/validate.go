package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Strictness selects how a backend treats responses that do not cover the
// request exactly.
type Strictness string

const (
	// StrictnessStrict fails the call on any count mismatch, unknown,
	// duplicate or missing index, out of range rating, transport or parse
	// failure.
	StrictnessStrict Strictness = "strict"
	// StrictnessLoose keeps whatever pairs are usable and turns call or parse
	// failures into an empty prediction. Rows left uncovered end up unrated.
	StrictnessLoose Strictness = "loose"
)

// ParseStrictness converts a configuration value, defaulting to strict.
func ParseStrictness(value string) (Strictness, error) {
	switch Strictness(strings.ToLower(strings.TrimSpace(value))) {
	case "", StrictnessStrict:
		return StrictnessStrict, nil
	case StrictnessLoose:
		return StrictnessLoose, nil
	default:
		return "", fmt.Errorf("unknown strictness %q (want strict or loose)", value)
	}
}

// Validate checks a prediction against the requested identifiers.
func Validate(pred Prediction, ids []int, mode Strictness) (Prediction, error) {
	requested := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		requested[id] = struct{}{}
	}

	if mode != StrictnessLoose {
		if len(pred.Indices) != len(ids) || len(pred.Ratings) != len(ids) {
			return Prediction{}, &ResponseMismatchError{Requested: len(ids), Indices: len(pred.Indices), Ratings: len(pred.Ratings)}
		}
		var unexpected []int
		for _, index := range pred.Indices {
			if _, ok := requested[index]; !ok {
				unexpected = append(unexpected, index)
			}
		}
		if len(unexpected) > 0 {
			return Prediction{}, &ResponseMismatchError{Requested: len(ids), Indices: len(pred.Indices), Ratings: len(pred.Ratings), Unexpected: unexpected}
		}
		seen := make(map[int]struct{}, len(pred.Indices))
		var duplicate []int
		for _, index := range pred.Indices {
			if _, ok := seen[index]; ok {
				duplicate = append(duplicate, index)
			}
			seen[index] = struct{}{}
		}
		var missing []int
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(duplicate) > 0 || len(missing) > 0 {
			return Prediction{}, &ResponseMismatchError{Requested: len(ids), Indices: len(pred.Indices), Ratings: len(pred.Ratings), Duplicate: duplicate, Missing: missing}
		}
		for i, rating := range pred.Ratings {
			if rating != 0 && rating != 1 {
				return Prediction{}, &ResponseParseError{Err: fmt.Errorf("rating %d for index %d is not 0 or 1", rating, pred.Indices[i])}
			}
		}
		return pred, nil
	}

	n := pred.Len()
	out := Prediction{Indices: make([]int, 0, n), Ratings: make([]int, 0, n)}
	for i := 0; i < n; i++ {
		if _, ok := requested[pred.Indices[i]]; !ok {
			continue
		}
		if rating := pred.Ratings[i]; rating == 0 || rating == 1 {
			out.Indices = append(out.Indices, pred.Indices[i])
			out.Ratings = append(out.Ratings, rating)
		}
	}
	return out, nil
}

// Settle applies the strictness policy to the outcome of one backend call.
// In loose mode a failed call yields an empty prediction instead of an error.
// Cancellation and deadline errors are returned unchanged in both modes.
func Settle(mode Strictness, ids []int, pred Prediction, err error, logger zerolog.Logger) (Prediction, error) {
	if err != nil {
		if mode == StrictnessLoose && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			logger.Warn().Err(err).Int("items", len(ids)).Msg("backend call failed; returning empty prediction")
			return Prediction{}, nil
		}
		return Prediction{}, err
	}

	validated, err := Validate(pred, ids, mode)
	if err != nil {
		return Prediction{}, err
	}
	if dropped := len(ids) - validated.Len(); dropped > 0 {
		logger.Warn().Int("requested", len(ids)).Int("rated", validated.Len()).Msg("partial prediction accepted")
	}
	return validated, nil
}
