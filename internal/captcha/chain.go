// Package captcha implements the ordered strategy chain that clears the
// portal's challenges before form submission.
package captcha

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/litigio/casefile-monitor/internal/metrics"
	"github.com/litigio/casefile-monitor/internal/monitor"
)

// Strategy is one way of clearing a challenge on the current page. Solve
// fills the page's answer fields but never clicks the final submit.
type Strategy interface {
	Name() string
	// Applicable is a cheap page inspection; no solver traffic.
	Applicable(ctx context.Context) (bool, error)
	Solve(ctx context.Context) (monitor.CaptchaResult, error)
}

// Chain runs strategies in configured order; the first applicable and
// successful one wins.
type Chain struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewChain builds a Chain over the given strategies.
func NewChain(logger *zap.Logger, strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies, logger: logger}
}

// Solve implements monitor.CaptchaSolver. When no strategy succeeds the
// job fails as CaptchaFailed; solver-API faults inside a strategy stay
// internal and only surface through that classification.
func (c *Chain) Solve(ctx context.Context) (monitor.CaptchaResult, error) {
	for _, strategy := range c.strategies {
		applicable, err := strategy.Applicable(ctx)
		if err != nil {
			c.logger.Warn("captcha applicability check failed",
				zap.String("strategy", strategy.Name()), zap.Error(err))
			continue
		}
		if !applicable {
			continue
		}

		result, err := strategy.Solve(ctx)
		if err != nil {
			metrics.ObserveCaptcha(strategy.Name(), "error")
			c.logger.Warn("captcha strategy failed",
				zap.String("strategy", strategy.Name()), zap.Error(err))
			continue
		}
		if result.Solved {
			result.Strategy = strategy.Name()
			metrics.ObserveCaptcha(strategy.Name(), "solved")
			return result, nil
		}
		metrics.ObserveCaptcha(strategy.Name(), "unsolved")
	}
	return monitor.CaptchaResult{}, monitor.NewScrapeError(
		monitor.KindCaptchaFailed, errors.New("no strategy solved the challenge"))
}
