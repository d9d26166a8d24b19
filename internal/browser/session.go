package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// startSession launches one browser process and captures its sanitized
// user agent. The headless engine reports "HeadlessChrome/NN"; the portal
// must only ever see the matching "Chrome/NN".
func (p *Pool) startSession() (*Session, error) {
	ctx, cancel := chromedp.NewContext(p.allocator)

	var rawUA string
	if err := chromedp.Run(ctx, chromedp.Evaluate(`navigator.userAgent`, &rawUA)); err != nil {
		cancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	sess := &Session{
		ctx:       ctx,
		cancel:    cancel,
		userAgent: strings.ReplaceAll(rawUA, "HeadlessChrome", "Chrome"),
	}
	p.logger.Debug("browser session started", zap.String("user_agent", sess.userAgent))
	return sess, nil
}

// openPage opens a fresh tab with the default page timeout, the stealth
// patches and the resource blocking policy applied.
func (p *Pool) openPage(sess *Session) (context.Context, context.CancelFunc, error) {
	tabCtx, tabCancel := chromedp.NewContext(sess.ctx)

	pageCtx := tabCtx
	cancels := []context.CancelFunc{tabCancel}
	if p.cfg.PageTimeout > 0 {
		var timeoutCancel context.CancelFunc
		pageCtx, timeoutCancel = context.WithTimeout(tabCtx, p.cfg.PageTimeout)
		cancels = append(cancels, timeoutCancel)
	}
	cancel := func() {
		for i := len(cancels) - 1; i >= 0; i-- {
			cancels[i]()
		}
	}

	blockResources(pageCtx)

	err := chromedp.Run(pageCtx,
		fetch.Enable(),
		emulation.SetUserAgentOverride(sess.userAgent),
		stealthAction(),
	)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("prepare page: %w", err)
	}
	return pageCtx, cancel, nil
}

// blockResources fails font and media requests to save bandwidth. Images,
// scripts and stylesheets pass through untouched: the portal's JavaScript
// depends on the captcha image loading.
func blockResources(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(ctx)
			ectx := cdp.WithExecutor(ctx, c.Target)
			switch paused.ResourceType {
			case network.ResourceTypeFont, network.ResourceTypeMedia:
				_ = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(ectx)
			default:
				_ = fetch.ContinueRequest(paused.RequestID).Do(ectx)
			}
		}()
	})
}

// stealthAction installs the anti-detection patches before any portal
// script runs: hide the webdriver flag, synthesize plugins, report
// realistic languages, and attach a minimal runtime object.
func stealthAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		if err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		return nil
	})
}

const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', {
  get: () => [
    { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer' },
    { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai' },
    { name: 'Native Client', filename: 'internal-nacl-plugin' },
  ],
});
Object.defineProperty(navigator, 'languages', { get: () => ['es-PE', 'es', 'en-US', 'en'] });
window.chrome = window.chrome || { runtime: {} };
`
