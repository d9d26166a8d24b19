// Package portal drives the judicial case-file portal: navigation, form
// submission, timeline extraction and document download. The form, result
// and timeline selectors live in this package; the captcha field, image
// and challenge selectors live in internal/captcha.
package portal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

// Page-state selectors. The portal renders exactly one of these after a
// search submission.
const (
	searchFormSel   = `form#frmBusqueda`
	caseNumberSel   = `input#nroExpediente`
	partyNameSel    = `input#nombreParte`
	submitButtonSel = `button#btnConsultar`
	resultsSel      = `div#divDetalleExpediente`
	resultLinkSel   = `a#enlaceExpediente`
	noResultsSel    = `div#mensajeNoExiste`
	captchaErrSel   = `div#mensajeCaptchaInvalido`
	antibotSel      = `div#validacionAntibot`
	timelineSel     = `div#gridBitacora`
)

// Config tunes portal interaction.
type Config struct {
	BaseURL           string
	NavigationRetries int
	AntibotMaxRetries int
	NavigationTimeout time.Duration
}

// Submitter implements monitor.FormSubmitter with chromedp.
type Submitter struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Submitter.
func New(cfg Config, logger *zap.Logger) *Submitter {
	if cfg.NavigationRetries <= 0 {
		cfg.NavigationRetries = 3
	}
	if cfg.AntibotMaxRetries <= 0 {
		cfg.AntibotMaxRetries = 2
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	return &Submitter{cfg: cfg, logger: logger}
}

// Navigate leaves the page on the search form, clearing any antibot
// interposition on the way. Exhausted retries surface PortalUnreachable.
func (s *Submitter) Navigate(ctx context.Context, solver monitor.CaptchaSolver) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.NavigationRetries; attempt++ {
		navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
		err := chromedp.Run(navCtx,
			chromedp.Navigate(s.cfg.BaseURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
		cancel()
		if err != nil {
			lastErr = err
			s.logger.Warn("portal navigation failed",
				zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		if err := s.clearAntibot(ctx, solver); err != nil {
			lastErr = err
			continue
		}

		onForm, err := elementPresent(ctx, searchFormSel)
		if err != nil {
			lastErr = err
			continue
		}
		if onForm {
			return nil
		}
		lastErr = errors.New("search form not present after navigation")
	}
	return monitor.Scrapef(monitor.KindPortalUnreachable,
		"navigate after %d attempts: %v", s.cfg.NavigationRetries, lastErr)
}

// Submit enters the case data, solves the form captcha, clicks search and
// classifies the resulting page state. The interposed-antibot retry loop
// runs at most AntibotMaxRetries times.
func (s *Submitter) Submit(
	ctx context.Context,
	caseNumber, partyName string,
	solver monitor.CaptchaSolver,
) (monitor.SubmitOutcome, error) {
	for attempt := 0; ; attempt++ {
		outcome, err := s.submitOnce(ctx, caseNumber, partyName, solver)
		if err != nil {
			return "", err
		}
		if outcome != monitor.SubmitBotDetected {
			return outcome, nil
		}
		if attempt >= s.cfg.AntibotMaxRetries {
			return monitor.SubmitBotDetected, nil
		}
		s.logger.Info("antibot interposed, retrying submission",
			zap.Int("attempt", attempt+1))
		if err := s.clearAntibot(ctx, solver); err != nil {
			return "", err
		}
		if err := s.Navigate(ctx, solver); err != nil {
			return "", err
		}
	}
}

func (s *Submitter) submitOnce(
	ctx context.Context,
	caseNumber, partyName string,
	solver monitor.CaptchaSolver,
) (monitor.SubmitOutcome, error) {
	err := chromedp.Run(ctx,
		chromedp.WaitVisible(searchFormSel, chromedp.ByQuery),
		chromedp.SetValue(caseNumberSel, caseNumber, chromedp.ByQuery),
		chromedp.SetValue(partyNameSel, partyName, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("fill search form: %w", err)
	}

	if _, err := solver.Solve(ctx); err != nil {
		return "", err
	}

	if err := chromedp.Run(ctx, chromedp.Click(submitButtonSel, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("click search: %w", err)
	}

	return s.classify(ctx)
}

// classify polls until the page settles into one of the four states.
func (s *Submitter) classify(ctx context.Context) (monitor.SubmitOutcome, error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	expr := fmt.Sprintf(`(() => {
		if (document.querySelector(%q)) return 'results';
		if (document.querySelector(%q)) return 'no_results';
		if (document.querySelector(%q)) return 'captcha_error';
		if (document.querySelector(%q)) return 'bot_detected';
		return '';
	})()`, resultsSel, noResultsSel, captchaErrSel, antibotSel)

	var state string
	err := chromedp.Run(pollCtx, chromedp.Poll(expr, &state,
		chromedp.WithPollingInterval(250*time.Millisecond)))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", monitor.Scrapef(monitor.KindTimeout, "page state never settled: %w", err)
		}
		return "", fmt.Errorf("classify page state: %w", err)
	}
	return monitor.SubmitOutcome(state), nil
}

// clearAntibot solves the interposition challenge when present.
func (s *Submitter) clearAntibot(ctx context.Context, solver monitor.CaptchaSolver) error {
	present, err := elementPresent(ctx, antibotSel)
	if err != nil {
		return err
	}
	if !present {
		return nil
	}
	if _, err := solver.Solve(ctx); err != nil {
		return err
	}
	return nil
}

func elementPresent(ctx context.Context, selector string) (bool, error) {
	var present bool
	expr := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &present)); err != nil {
		return false, fmt.Errorf("inspect %s: %w", selector, err)
	}
	return present, nil
}
