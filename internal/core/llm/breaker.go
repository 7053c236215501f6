package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/logger"
)

// ErrCircuitOpen is returned while the model API is considered unhealthy.
var ErrCircuitOpen = errors.New("llm circuit breaker is open")

// BreakerConfig tunes when the breaker trips and how long it stays open.
type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
	MaxRequests      uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		MaxRequests:      1,
	}
}

// BreakerLLM stops calling the model API after a run of consecutive errors.
type BreakerLLM struct {
	next core.LLMProvider
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerLLM(next core.LLMProvider, cfg BreakerConfig, log logger.Logger) *BreakerLLM {
	if cfg.FailureThreshold == 0 {
		cfg = DefaultBreakerConfig()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up is not the upstream's fault.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerLLM{next: next, cb: cb}
}

func (b *BreakerLLM) Generate(ctx context.Context, systemPrompt, userPrompt string, opts core.GenerateOptions) (*core.Generation, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, systemPrompt, userPrompt, opts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return res.(*core.Generation), nil
}

// State reports the breaker state for health output.
func (b *BreakerLLM) State() string {
	return b.cb.State().String()
}

var _ core.LLMProvider = (*BreakerLLM)(nil)
