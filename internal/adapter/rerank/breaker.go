package rerank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"priorart/internal/domain"
	"priorart/internal/port"
)

// BreakerConfig configures the circuit breaker around a reranker.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	MinRequests      uint32
	ReadyToTripRatio float64
}

// DefaultBreakerConfig opens after half of at least three calls fail and
// probes again after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		MinRequests:      3,
		ReadyToTripRatio: 0.5,
	}
}

// BreakerReranker stops calling a failing reranker until its timeout passes.
// While open, calls fail fast with ErrRerankService.
type BreakerReranker struct {
	next port.Reranker
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerReranker(next port.Reranker, cfg BreakerConfig, logger zerolog.Logger) *BreakerReranker {
	st := gobreaker.Settings{
		Name:        "reranker:" + next.ModelName(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.ReadyToTripRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("reranker circuit breaker changed state")
		},
	}
	return &BreakerReranker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(st),
	}
}

func (b *BreakerReranker) Rerank(ctx context.Context, query string, documents []string) ([]port.RerankedResult, error) {
	resp, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Rerank(ctx, query, documents)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", domain.ErrRerankService, err)
		}
		return nil, err
	}
	results, _ := resp.([]port.RerankedResult)
	return results, nil
}

func (b *BreakerReranker) ModelName() string {
	return b.next.ModelName()
}

// State reports the breaker state, e.g. "closed" or "open".
func (b *BreakerReranker) State() string {
	return b.cb.State().String()
}
