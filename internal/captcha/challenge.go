package captcha

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

// ChallengeStrategy handles the third-party interactive challenge: it
// extracts the site key from the challenge iframe, hands (siteKey,
// pageURL) to the external token solver and injects the returned token
// into every response field before invoking the page callback.
type ChallengeStrategy struct {
	solver monitor.TokenSolver
}

// NewChallengeStrategy constructs the strategy around a solver client.
func NewChallengeStrategy(solver monitor.TokenSolver) *ChallengeStrategy {
	return &ChallengeStrategy{solver: solver}
}

// Name identifies the strategy in logs and metrics.
func (s *ChallengeStrategy) Name() string { return "challenge" }

// Applicable reports whether the challenge iframe is present.
func (s *ChallengeStrategy) Applicable(ctx context.Context) (bool, error) {
	var present bool
	err := chromedp.Run(ctx, chromedp.Evaluate(
		`document.querySelector("iframe[src*='recaptcha']") !== null`, &present))
	if err != nil {
		return false, fmt.Errorf("inspect challenge iframe: %w", err)
	}
	return present, nil
}

// Solve resolves the token remotely and completes the challenge in-page.
func (s *ChallengeStrategy) Solve(ctx context.Context) (monitor.CaptchaResult, error) {
	var siteKey, pageURL string
	err := chromedp.Run(ctx,
		chromedp.Evaluate(`(() => {
			const frame = document.querySelector("iframe[src*='recaptcha']");
			if (!frame) return '';
			const src = new URL(frame.src);
			return src.searchParams.get('k') || '';
		})()`, &siteKey),
		chromedp.Location(&pageURL),
	)
	if err != nil {
		return monitor.CaptchaResult{}, fmt.Errorf("extract site key: %w", err)
	}
	siteKey = strings.TrimSpace(siteKey)
	if siteKey == "" {
		return monitor.CaptchaResult{}, nil
	}

	token, err := s.solver.SolveChallenge(ctx, siteKey, pageURL)
	if err != nil {
		return monitor.CaptchaResult{}, fmt.Errorf("token solver: %w", err)
	}
	if token == "" {
		return monitor.CaptchaResult{}, nil
	}

	inject := fmt.Sprintf(`(() => {
		const token = %q;
		for (const field of document.querySelectorAll("textarea[name='g-recaptcha-response']")) {
			field.value = token;
			field.style.display = 'block';
		}
		const cfg = window.___grecaptcha_cfg;
		if (cfg && cfg.clients) {
			for (const client of Object.values(cfg.clients)) {
				for (const section of Object.values(client)) {
					if (section && typeof section === 'object') {
						for (const entry of Object.values(section)) {
							if (entry && typeof entry.callback === 'function') {
								entry.callback(token);
							}
						}
					}
				}
			}
		}
		return true;
	})()`, token)

	var done bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(inject, &done)); err != nil {
		return monitor.CaptchaResult{}, fmt.Errorf("inject token: %w", err)
	}
	return monitor.CaptchaResult{Solved: true, Token: token}, nil
}
