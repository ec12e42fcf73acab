package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"priorart/internal/domain"
	"priorart/internal/port"
)

// PermanentError marks an embedding failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// RetryConfig bounds retries and request rate.
type RetryConfig struct {
	MaxRetries        int
	InitialInterval   time.Duration
	MaxInterval       time.Duration
	RequestsPerSecond float64
	Burst             int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialInterval:   500 * time.Millisecond,
		MaxInterval:       10 * time.Second,
		RequestsPerSecond: 0,
		Burst:             1,
	}
}

// RetryingEmbedder paces calls with a token bucket and retries transient
// failures with exponential backoff.
type RetryingEmbedder struct {
	next    port.Embedder
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewRetryingEmbedder wraps next. RequestsPerSecond <= 0 disables pacing.
func NewRetryingEmbedder(next port.Embedder, cfg RetryConfig, logger zerolog.Logger) *RetryingEmbedder {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &RetryingEmbedder{
		next:    next,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
	}
}

func (e *RetryingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	attempt := 0
	op := func() error {
		attempt++
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		embeddings, err := e.next.Embed(ctx, texts)
		if err != nil {
			var perm *PermanentError
			if errors.As(err, &perm) || errors.Is(err, domain.ErrInvalidConfiguration) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(embeddings) != len(texts) {
			return fmt.Errorf("%w: got %d embeddings for %d texts", domain.ErrEmbeddingService, len(embeddings), len(texts))
		}
		out = embeddings
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialInterval
	b.MaxInterval = e.cfg.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(e.cfg.MaxRetries, 0))), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		e.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Int("texts", len(texts)).Msg("embedding request failed")
	})
	if err != nil {
		if errors.Is(err, domain.ErrEmbeddingService) || errors.Is(err, domain.ErrInvalidConfiguration) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingService, err)
	}
	return out, nil
}

func (e *RetryingEmbedder) Dimension() int {
	return e.next.Dimension()
}

func (e *RetryingEmbedder) ModelName() string {
	return e.next.ModelName()
}
