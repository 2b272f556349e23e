package backend_test

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/goosewin/prefsim/internal/backend"
	_ "github.com/goosewin/prefsim/internal/backend/claude"
	_ "github.com/goosewin/prefsim/internal/backend/openai"
	_ "github.com/goosewin/prefsim/internal/backend/stub"
	"github.com/rs/zerolog"
)

func TestRegistryLoadsBackends(t *testing.T) {
	backends := []string{"openai", "claude", "stub"}
	for _, name := range backends {
		instance, err := backend.New(name, backend.Options{Model: "test", SystemPrompt: "persona"})
		if err != nil {
			t.Fatalf("expected %s backend to be registered: %v", name, err)
		}
		if instance.Name() != name {
			t.Fatalf("expected name %s, got %s", name, instance.Name())
		}
		if models, ok := backend.Models(name); !ok || len(models) == 0 {
			t.Fatalf("expected %s models", name)
		}
	}

	if _, err := backend.New("missing", backend.Options{}); !errors.Is(err, backend.ErrBackendNotFound) {
		t.Fatalf("expected ErrBackendNotFound, got %v", err)
	}
	if err := backend.Register("stub", func(backend.Options) (backend.Backend, error) { return nil, nil }); !errors.Is(err, backend.ErrBackendRegistered) {
		t.Fatalf("expected ErrBackendRegistered, got %v", err)
	}
}

func TestBuildPrompt(t *testing.T) {
	got := backend.BuildPrompt([]string{"Cats", "Dogs"}, []int{4, 9})
	want := "4. Cats" + backend.PersonaInstruction + "9. Dogs"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestPredictionMapFirstWins(t *testing.T) {
	pred := backend.Prediction{Indices: []int{1, 2, 1, 3}, Ratings: []int{1, 0, 0}}
	got := pred.Map()
	if len(got) != 2 || got[1] != 1 || got[2] != 0 {
		t.Fatalf("unexpected map %v", got)
	}
}

func TestValidateStrict(t *testing.T) {
	ids := []int{1, 2, 3}
	cases := []struct {
		name     string
		pred     backend.Prediction
		mismatch bool
		parse    bool
	}{
		{name: "ok", pred: backend.Prediction{Indices: []int{3, 1, 2}, Ratings: []int{1, 0, 1}}},
		{name: "short indices", pred: backend.Prediction{Indices: []int{1, 2}, Ratings: []int{1, 0, 1}}, mismatch: true},
		{name: "short ratings", pred: backend.Prediction{Indices: []int{1, 2, 3}, Ratings: []int{1}}, mismatch: true},
		{name: "empty", pred: backend.Prediction{}, mismatch: true},
		{name: "unknown index", pred: backend.Prediction{Indices: []int{1, 2, 7}, Ratings: []int{1, 0, 1}}, mismatch: true},
		{name: "bad rating", pred: backend.Prediction{Indices: []int{1, 2, 3}, Ratings: []int{1, 5, 1}}, parse: true},
		{name: "duplicate index", pred: backend.Prediction{Indices: []int{1, 1, 3}, Ratings: []int{0, 1, 1}}, mismatch: true},
	}

	for _, tc := range cases {
		_, err := backend.Validate(tc.pred, ids, backend.StrictnessStrict)
		var mismatch *backend.ResponseMismatchError
		var parse *backend.ResponseParseError
		switch {
		case tc.mismatch && !errors.As(err, &mismatch):
			t.Fatalf("%s: expected mismatch error, got %v", tc.name, err)
		case tc.parse && !errors.As(err, &parse):
			t.Fatalf("%s: expected parse error, got %v", tc.name, err)
		case !tc.mismatch && !tc.parse && err != nil:
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestValidateStrictReportsUncoveredIndices(t *testing.T) {
	pred := backend.Prediction{Indices: []int{1, 1}, Ratings: []int{0, 1}}
	_, err := backend.Validate(pred, []int{1, 2}, backend.StrictnessStrict)

	var mismatch *backend.ResponseMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
	if !reflect.DeepEqual(mismatch.Duplicate, []int{1}) || !reflect.DeepEqual(mismatch.Missing, []int{2}) {
		t.Fatalf("expected duplicate [1] and missing [2], got %+v", mismatch)
	}
}

func TestValidateLooseKeepsUsablePairs(t *testing.T) {
	pred := backend.Prediction{Indices: []int{1, 9, 2, 3}, Ratings: []int{1, 1, 4}}
	got, err := backend.Validate(pred, []int{1, 2, 3}, backend.StrictnessLoose)
	if err != nil {
		t.Fatalf("loose validate: %v", err)
	}
	if len(got.Indices) != 1 || got.Indices[0] != 1 || got.Ratings[0] != 1 {
		t.Fatalf("unexpected loose result %+v", got)
	}
}

func TestSettleLooseSwallowsErrors(t *testing.T) {
	callErr := &backend.BackendError{Backend: "fake", Err: errors.New("boom")}

	pred, err := backend.Settle(backend.StrictnessLoose, []int{1}, backend.Prediction{}, callErr, zerolog.Nop())
	if err != nil || pred.Len() != 0 {
		t.Fatalf("expected empty prediction without error, got %+v %v", pred, err)
	}

	_, err = backend.Settle(backend.StrictnessStrict, []int{1}, backend.Prediction{}, callErr, zerolog.Nop())
	if !errors.Is(err, callErr) {
		t.Fatalf("expected strict mode to propagate, got %v", err)
	}
}

func TestSettlePassesCancellationThrough(t *testing.T) {
	for _, mode := range []backend.Strictness{backend.StrictnessLoose, backend.StrictnessStrict} {
		for _, cause := range []error{context.Canceled, context.DeadlineExceeded} {
			_, err := backend.Settle(mode, []int{1}, backend.Prediction{}, cause, zerolog.Nop())
			if !errors.Is(err, cause) {
				t.Fatalf("%s: expected %v, got %v", mode, cause, err)
			}
		}
	}
}

func TestParseStrictness(t *testing.T) {
	if mode, err := backend.ParseStrictness(""); err != nil || mode != backend.StrictnessStrict {
		t.Fatalf("expected strict default, got %s %v", mode, err)
	}
	if mode, err := backend.ParseStrictness("LOOSE"); err != nil || mode != backend.StrictnessLoose {
		t.Fatalf("expected loose, got %s %v", mode, err)
	}
	if _, err := backend.ParseStrictness("lenient"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestHistoryKeepsMostRecent(t *testing.T) {
	history := backend.NewHistory(backend.DefaultHistorySize)
	for i := 0; i < 13; i++ {
		history.Append(backend.Exchange{Request: strconv.Itoa(i), Response: "r" + strconv.Itoa(i)})
	}

	entries := history.Entries()
	if len(entries) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if want := strconv.Itoa(i + 3); entry.Request != want {
			t.Fatalf("entry %d: expected request %s, got %s", i, want, entry.Request)
		}
	}

	history.Reset()
	if history.Len() != 0 {
		t.Fatalf("expected empty history after reset, got %d", history.Len())
	}
}

func TestNewHistoryClampsLimit(t *testing.T) {
	history := backend.NewHistory(50)
	for i := 0; i < 20; i++ {
		history.Append(backend.Exchange{})
	}
	if history.Len() != backend.DefaultHistorySize {
		t.Fatalf("expected limit %d, got %d", backend.DefaultHistorySize, history.Len())
	}
}

type flakyBackend struct {
	err   error
	calls int
	reset int
}

func (f *flakyBackend) Name() string { return "flaky" }

func (f *flakyBackend) Check() error { return nil }

func (f *flakyBackend) PredictPreferences(_ context.Context, _ []string, ids []int) (backend.Prediction, error) {
	f.calls++
	if f.err != nil {
		return backend.Prediction{}, f.err
	}
	return backend.Prediction{Indices: ids, Ratings: make([]int, len(ids))}, nil
}

func (f *flakyBackend) Reset() { f.reset++ }

func TestWithBreakerOpensAfterThreshold(t *testing.T) {
	inner := &flakyBackend{err: &backend.BackendError{Backend: "flaky", Err: errors.New("down")}}
	wrapped := backend.WithBreaker(inner, 2, time.Hour, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, err := wrapped.PredictPreferences(context.Background(), []string{"a"}, []int{1}); err == nil {
			t.Fatalf("expected failure %d", i+1)
		}
	}

	_, err := wrapped.PredictPreferences(context.Background(), []string{"a"}, []int{1})
	var backendErr *backend.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected BackendError from open breaker, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected open breaker to skip the backend, got %d calls", inner.calls)
	}

	wrapped.(backend.Resetter).Reset()
	if inner.reset != 1 {
		t.Fatalf("expected reset to reach the inner backend")
	}
}

type statelessBackend struct{}

func (statelessBackend) Name() string { return "stateless" }

func (statelessBackend) Check() error { return nil }

func (statelessBackend) PredictPreferences(_ context.Context, _ []string, ids []int) (backend.Prediction, error) {
	return backend.Prediction{Indices: ids, Ratings: make([]int, len(ids))}, nil
}

func TestDecoratorsKeepResetCapability(t *testing.T) {
	plain := backend.WithBreaker(backend.RateLimited(statelessBackend{}, 60), 3, time.Minute, zerolog.Nop())
	if _, ok := plain.(backend.Resetter); ok {
		t.Fatalf("expected decorated stateless backend not to be a Resetter")
	}
	if _, err := plain.PredictPreferences(context.Background(), []string{"a"}, []int{1}); err != nil {
		t.Fatalf("predict: %v", err)
	}

	inner := &flakyBackend{}
	stateful := backend.WithBreaker(backend.RateLimited(inner, 60), 3, time.Minute, zerolog.Nop())
	resetter, ok := stateful.(backend.Resetter)
	if !ok {
		t.Fatalf("expected decorated stateful backend to be a Resetter")
	}
	resetter.Reset()
	if inner.reset != 1 {
		t.Fatalf("expected reset to reach the inner backend, got %d", inner.reset)
	}
	if _, err := stateful.PredictPreferences(context.Background(), []string{"a"}, []int{1}); err != nil || inner.calls != 1 {
		t.Fatalf("expected call through both decorators, got calls=%d err=%v", inner.calls, err)
	}
}

func TestRateLimitedHonorsContext(t *testing.T) {
	inner := &flakyBackend{}
	wrapped := backend.RateLimited(inner, 1)

	if _, err := wrapped.PredictPreferences(context.Background(), []string{"a"}, []int{1}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := wrapped.PredictPreferences(ctx, []string{"a"}, []int{1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected limited call to be skipped, got %d calls", inner.calls)
	}

	if same := backend.RateLimited(inner, 0); same != backend.Backend(inner) {
		t.Fatalf("expected zero rate to return backend unchanged")
	}
}
