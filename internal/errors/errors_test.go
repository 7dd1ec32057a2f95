package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// AmanError
// =============================================================================

func TestAmanError_Unwrap_PreservesCause(t *testing.T) {
	// Given: a provider failure
	cause := stderrors.New("connection refused")

	// When: wrapping it as a branch failure
	err := BranchUnavailable("semantic", cause)

	// Then: the cause stays reachable and the branch is recorded
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "semantic", err.Details["branch"])
	assert.Equal(t, "[ERR_304_BRANCH_UNAVAILABLE] semantic branch unavailable", err.Error())
}

func TestNew_DerivesCategorySeverityRetryable(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{"corrupt index", ErrCodeCorruptIndex, CategoryStorage, SeverityFatal, false},
		{"provider", ErrCodeEmbeddingProvider, CategoryProvider, SeverityWarning, true},
		{"branch", ErrCodeBranchUnavailable, CategoryProvider, SeverityWarning, true},
		{"parse repaired", ErrCodeQueryParse, CategoryValidation, SeverityInfo, false},
		{"ambiguous script", ErrCodeScriptAmbiguous, CategoryValidation, SeverityInfo, false},
		{"empty query", ErrCodeQueryEmpty, CategoryValidation, SeverityError, false},
		{"search failed", ErrCodeSearchFailed, CategoryInternal, SeverityError, false},
		{"short code", "ERR", CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestHasCode_FindsCodeThroughWrapping(t *testing.T) {
	// Given: an AmanError wrapped by fmt.Errorf
	inner := New(ErrCodeQueryEmpty, "query is empty", nil)
	wrapped := fmt.Errorf("search: %w", inner)

	// Then: code helpers see through the wrapper
	assert.True(t, HasCode(wrapped, ErrCodeQueryEmpty))
	assert.False(t, HasCode(wrapped, ErrCodeSearchFailed))
	assert.Equal(t, ErrCodeQueryEmpty, GetCode(wrapped))
	assert.Equal(t, CategoryValidation, GetCategory(wrapped))
	assert.Empty(t, GetCode(stderrors.New("plain")))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

// =============================================================================
// Retry
// =============================================================================

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestRetryWithResult_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastRetry(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, stderrors.New("transient")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		calls++
		return stderrors.New("down")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "failed after 3 retries")
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	// Given: a policy that only retries retryable AmanErrors
	cfg := fastRetry()
	cfg.ShouldRetry = IsRetryable
	calls := 0

	// When: the function fails with an auth error
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return New(ErrCodeProviderAuth, "bad key", nil)
	})

	// Then: no retry happens
	assert.Equal(t, 1, calls)
	assert.True(t, HasCode(err, ErrCodeProviderAuth))
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetry(), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_ReportsEachWait(t *testing.T) {
	// Given: a policy with a retry hook
	cfg := fastRetry()
	var attempts []int
	var waits []time.Duration
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		attempts = append(attempts, attempt)
		waits = append(waits, wait)
	}

	// When: every attempt fails
	_ = Retry(context.Background(), cfg, func() error { return stderrors.New("down") })

	// Then: the hook sees each retry with its capped backoff
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestRetryConfig_Delay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{20, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.delay(tt.attempt), "attempt %d", tt.attempt)
	}

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		d := cfg.delay(2)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 200*time.Millisecond)
	}
}

func TestDefaultRetryConfig_JittersWithinBounds(t *testing.T) {
	// Given: the query embedding policy
	cfg := DefaultRetryConfig()
	require.True(t, cfg.Jitter)

	// When: computing the first wait many times
	// Then: each stays in [0.5, 1) of the nominal delay
	for i := 0; i < 50; i++ {
		d := cfg.delay(1)
		assert.GreaterOrEqual(t, d, cfg.InitialDelay/2)
		assert.Less(t, d, cfg.InitialDelay)
	}
}

// =============================================================================
// Circuit breaker
// =============================================================================

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	// Given: a breaker with a controllable clock
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("embed",
		WithMaxFailures(2),
		WithResetTimeout(time.Second),
		WithClock(func() time.Time { return now }))
	boom := stderrors.New("boom")

	// When: two consecutive failures occur
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)

	// Then: the circuit is open and calls are rejected
	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	// When: the reset timeout passes and the probe succeeds
	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())
	got, err := CircuitExecute(context.Background(), cb, func() (string, error) { return "ok", nil })

	// Then: the circuit closes again
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("embed",
		WithMaxFailures(1),
		WithResetTimeout(time.Second),
		WithClock(func() time.Time { return now }))

	_ = cb.Execute(func() error { return stderrors.New("down") })
	now = now.Add(2 * time.Second)
	_ = cb.Execute(func() error { return stderrors.New("still down") })

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_ReportsTransitions(t *testing.T) {
	// Given: a breaker that records its transitions
	now := time.Unix(0, 0)
	var seen []string
	cb := NewCircuitBreaker("embeddings",
		WithMaxFailures(1),
		WithResetTimeout(time.Second),
		WithClock(func() time.Time { return now }),
		WithStateChange(func(name string, from, to State) {
			seen = append(seen, name+":"+from.String()+">"+to.String())
		}))

	// When: it opens, waits out the timeout and a probe succeeds
	_ = cb.Execute(func() error { return stderrors.New("down") })
	_ = cb.Execute(func() error { return nil })
	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))

	// Then: every change is reported once, the rejected call is not
	assert.Equal(t, []string{
		"embeddings:closed>open",
		"embeddings:open>half-open",
		"embeddings:half-open>closed",
	}, seen)
	assert.Equal(t, "unknown", State(7).String())
}

func TestCircuitBreaker_IgnoresCallerEndings(t *testing.T) {
	tests := []struct {
		name string
		ctx  func() context.Context
		err  error
	}{
		{"cancelled", func() context.Context {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx
		}, context.Canceled},
		{"wrapped cancellation", context.Background, fmt.Errorf("embed: %w", context.Canceled)},
		{"caller deadline", func() context.Context {
			ctx, cancel := context.WithDeadline(context.Background(), time.Unix(0, 0))
			t.Cleanup(cancel)
			return ctx
		}, Wrap(ErrCodeNetworkTimeout, context.DeadlineExceeded)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a breaker that opens after two failures
			cb := NewCircuitBreaker("embeddings", WithMaxFailures(2))

			// When: several calls end because the caller gave up
			for i := 0; i < 5; i++ {
				_, err := CircuitExecute(tt.ctx(), cb, func() ([]float32, error) { return nil, tt.err })
				require.Error(t, err)
			}

			// Then: the circuit stays closed and a healthy call goes through
			assert.Equal(t, StateClosed, cb.State())
			got, err := CircuitExecute(context.Background(), cb, func() (string, error) { return "ok", nil })
			require.NoError(t, err)
			assert.Equal(t, "ok", got)
		})
	}
}

func TestCircuitBreaker_CountsDependencyDeadline(t *testing.T) {
	// Given: a live caller context and a dependency that timed out on its own
	cb := NewCircuitBreaker("embeddings", WithMaxFailures(2))
	timeout := Wrap(ErrCodeNetworkTimeout, context.DeadlineExceeded)

	// When: the dependency times out twice
	for i := 0; i < 2; i++ {
		_, _ = CircuitExecute(context.Background(), cb, func() (int, error) { return 0, timeout })
	}

	// Then: the circuit opens
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_CancelledProbeStaysHalfOpen(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("embeddings",
		WithMaxFailures(1),
		WithResetTimeout(time.Second),
		WithClock(func() time.Time { return now }))
	_ = cb.Execute(func() error { return stderrors.New("down") })
	now = now.Add(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CircuitExecute(ctx, cb, func() (int, error) { return 0, ctx.Err() })
	require.ErrorIs(t, err, context.Canceled)

	// The next caller may still probe.
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

// =============================================================================
// Formatting
// =============================================================================

func TestFormatForCLI(t *testing.T) {
	err := New(ErrCodeQueryEmpty, "query is empty", nil).WithSuggestion("pass a search term")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: query is empty")
	assert.Contains(t, out, "Hint: pass a search term")
	assert.Contains(t, out, "Code: ERR_404_QUERY_EMPTY")
	assert.Empty(t, FormatForCLI(nil))
}

func TestFormatJSON_WrapsPlainErrors(t *testing.T) {
	data, err := FormatJSON(stderrors.New("disk on fire"))
	require.NoError(t, err)

	assert.Contains(t, string(data), `"code":"ERR_501_INTERNAL"`)
	assert.Contains(t, string(data), `"message":"disk on fire"`)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", stderrors.New("boom"), 1},
		{"validation", ValidationError("bad limit", nil), 2},
		{"config", ConfigError("bad yaml", nil), 2},
		{"missing index", fmt.Errorf("open: %w", New(ErrCodeIndexNotFound, "no index", nil)), 3},
		{"corrupt index", New(ErrCodeCorruptIndex, "bad vectors", nil), 3},
		{"provider", ProviderError("ollama down", nil), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
