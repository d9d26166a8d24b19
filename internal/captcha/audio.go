package captcha

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

// Selector contract for the portal's audio captcha. The portal populates
// a hidden field with the spoken code once playback is triggered.
const (
	audioButtonSel  = `#btnAudio`
	audioCodeSel    = `input#valCodigo`
	captchaInputSel = `input#codigoCaptcha`
)

// AudioStrategy reads the portal-populated hidden field after triggering
// audio playback. Free and fastest; runs first by default.
type AudioStrategy struct{}

// NewAudioStrategy constructs the strategy.
func NewAudioStrategy() *AudioStrategy { return &AudioStrategy{} }

// Name identifies the strategy in logs and metrics.
func (s *AudioStrategy) Name() string { return "audio" }

// Applicable reports whether the audio control is present on the page.
func (s *AudioStrategy) Applicable(ctx context.Context) (bool, error) {
	var present bool
	err := chromedp.Run(ctx, chromedp.Evaluate(
		fmt.Sprintf(`document.querySelector(%q) !== null`, audioButtonSel), &present))
	if err != nil {
		return false, fmt.Errorf("inspect audio control: %w", err)
	}
	return present, nil
}

// Solve triggers playback, reads the hidden code and fills the visible
// captcha field.
func (s *AudioStrategy) Solve(ctx context.Context) (monitor.CaptchaResult, error) {
	var code string
	err := chromedp.Run(ctx,
		chromedp.Click(audioButtonSel, chromedp.ByQuery),
		chromedp.Sleep(300*time.Millisecond),
		chromedp.Value(audioCodeSel, &code, chromedp.ByQuery),
	)
	if err != nil {
		return monitor.CaptchaResult{}, fmt.Errorf("read audio code: %w", err)
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return monitor.CaptchaResult{}, nil
	}

	err = chromedp.Run(ctx,
		chromedp.SetValue(captchaInputSel, code, chromedp.ByQuery),
	)
	if err != nil {
		return monitor.CaptchaResult{}, fmt.Errorf("fill captcha field: %w", err)
	}
	return monitor.CaptchaResult{Solved: true, Solution: code}, nil
}
