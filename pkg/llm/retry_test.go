package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	forgeerrors "github.com/draftforge/draftforge/pkg/errors"
)

// flakyProvider fails a fixed number of times before succeeding.
type flakyProvider struct {
	failures int32
	calls    int32
	err      error
}

func (p *flakyProvider) Name() string               { return "flaky" }
func (p *flakyProvider) Capabilities() Capabilities { return Capabilities{} }

func (p *flakyProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	call := atomic.AddInt32(&p.calls, 1)
	if call <= p.failures {
		return nil, p.err
	}
	return &CompletionResponse{Content: "ok", FinishReason: FinishReasonStop}, nil
}

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryableProvider_SucceedsAfterTransientErrors(t *testing.T) {
	transient := &forgeerrors.ProviderError{
		Provider:   "flaky",
		StatusCode: 503,
		Message:    "service unavailable",
	}
	flaky := &flakyProvider{failures: 2, err: transient}

	wrapped := NewRetryableProvider(flaky, fastRetryConfig(3))

	resp, err := wrapped.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: MessageRoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(3), atomic.LoadInt32(&flaky.calls))
}

func TestRetryableProvider_DoesNotRetryPermanentErrors(t *testing.T) {
	permanent := &forgeerrors.ProviderError{
		Provider:   "flaky",
		StatusCode: 401,
		Message:    "invalid api key",
	}
	flaky := &flakyProvider{failures: 10, err: permanent}

	wrapped := NewRetryableProvider(flaky, fastRetryConfig(3))

	_, err := wrapped.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)

	var provErr *forgeerrors.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, 401, provErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&flaky.calls))
}

func TestRetryableProvider_ExhaustsRetries(t *testing.T) {
	transient := &forgeerrors.ProviderError{
		Provider:   "flaky",
		StatusCode: 529,
		Message:    "overloaded",
	}
	flaky := &flakyProvider{failures: 10, err: transient}

	wrapped := NewRetryableProvider(flaky, fastRetryConfig(2))

	_, err := wrapped.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	// Initial attempt plus two retries.
	assert.Equal(t, int32(3), atomic.LoadInt32(&flaky.calls))
}

func TestRetryableProvider_ContextCancellation(t *testing.T) {
	transient := &forgeerrors.ProviderError{
		Provider:   "flaky",
		StatusCode: 503,
		Message:    "unavailable",
	}
	flaky := &flakyProvider{failures: 10, err: transient}

	cfg := fastRetryConfig(5)
	cfg.InitialDelay = 200 * time.Millisecond
	wrapped := NewRetryableProvider(flaky, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := wrapped.Complete(ctx, CompletionRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryableProvider_CustomRetryPredicate(t *testing.T) {
	sentinel := errors.New("try again")
	flaky := &flakyProvider{failures: 1, err: sentinel}

	cfg := fastRetryConfig(2)
	cfg.RetryableErrors = func(err error) bool {
		return errors.Is(err, sentinel)
	}
	wrapped := NewRetryableProvider(flaky, cfg)

	resp, err := wrapped.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestCalculateBackoff_Capped(t *testing.T) {
	wrapped := NewRetryableProvider(&flakyProvider{}, RetryConfig{
		MaxRetries:   10,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	})

	for attempt := 1; attempt <= 10; attempt++ {
		d := wrapped.calculateBackoff(attempt)
		assert.LessOrEqual(t, d, time.Second, "attempt %d", attempt)
	}
}
