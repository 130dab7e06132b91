// Package classify turns raw platform failures into playbook error
// types. Providers are tried in order; the rule-based classifier at the
// end of the chain always answers, so classification never fails hard.
package classify

import (
	"context"
	"fmt"

	"github.com/pipeheal/pipeheal/pkg/log"
	"github.com/pipeheal/pipeheal/pkg/metrics"
	"github.com/pipeheal/pipeheal/pkg/types"
)

// Provider classifies one failure
type Provider interface {
	// Name identifies the provider in results and logs
	Name() string

	// Classify returns the verdict for a failure
	Classify(ctx context.Context, failure types.FailureEvent) (types.Classification, error)
}

// Chain tries providers in order and returns the first answer
type Chain struct {
	providers []Provider
}

// NewChain builds a provider chain. The callers append the rule-based
// classifier last so there is always a verdict.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Classify runs the chain. Only if every provider errors does Classify
// return an error.
func (c *Chain) Classify(ctx context.Context, failure types.FailureEvent) (types.Classification, error) {
	logger := log.WithComponent("classify")

	var lastErr error
	for _, p := range c.providers {
		verdict, err := p.Classify(ctx, failure)
		if err != nil {
			logger.Warn().Str("provider", p.Name()).Err(err).Msg("provider failed, trying next")
			lastErr = err
			continue
		}
		verdict.Provider = p.Name()
		metrics.ClassificationsTotal.WithLabelValues(p.Name()).Inc()
		logger.Info().
			Str("provider", p.Name()).
			Str("error_type", verdict.ErrorType).
			Bool("auto_heal", verdict.AutoHealPossible).
			Msg("failure classified")
		return verdict, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no classification providers configured")
	}
	return types.Classification{}, fmt.Errorf("all classification providers failed: %w", lastErr)
}
