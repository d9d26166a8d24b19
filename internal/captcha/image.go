package captcha

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

const (
	captchaImageSel = `img#captcha_image`
	antibotFieldSel = `input#codCaptcha`
)

// ImageStrategy screenshots the captcha image and submits it to the
// external image-to-text solver. The answer lands in both the visible
// code field and the antibot hidden field.
type ImageStrategy struct {
	solver monitor.ImageSolver
}

// NewImageStrategy constructs the strategy around a solver client.
func NewImageStrategy(solver monitor.ImageSolver) *ImageStrategy {
	return &ImageStrategy{solver: solver}
}

// Name identifies the strategy in logs and metrics.
func (s *ImageStrategy) Name() string { return "image" }

// Applicable reports whether a captcha image is present.
func (s *ImageStrategy) Applicable(ctx context.Context) (bool, error) {
	var present bool
	err := chromedp.Run(ctx, chromedp.Evaluate(
		fmt.Sprintf(`document.querySelector(%q) !== null`, captchaImageSel), &present))
	if err != nil {
		return false, fmt.Errorf("inspect captcha image: %w", err)
	}
	return present, nil
}

// Solve captures the image, resolves it remotely and fills both fields.
func (s *ImageStrategy) Solve(ctx context.Context) (monitor.CaptchaResult, error) {
	var shot []byte
	if err := chromedp.Run(ctx, chromedp.Screenshot(captchaImageSel, &shot, chromedp.ByQuery)); err != nil {
		return monitor.CaptchaResult{}, fmt.Errorf("capture captcha image: %w", err)
	}

	answer, err := s.solver.SolveImage(ctx, shot)
	if err != nil {
		return monitor.CaptchaResult{}, fmt.Errorf("image solver: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return monitor.CaptchaResult{}, nil
	}

	err = chromedp.Run(ctx,
		chromedp.SetValue(captchaInputSel, answer, chromedp.ByQuery),
		chromedp.SetValue(antibotFieldSel, answer, chromedp.ByQuery),
	)
	if err != nil {
		return monitor.CaptchaResult{}, fmt.Errorf("fill captcha fields: %w", err)
	}
	return monitor.CaptchaResult{Solved: true, Solution: answer}, nil
}
