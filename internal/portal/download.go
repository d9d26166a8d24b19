package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// DownloadFile fetches the document behind fileURL into a temp file and
// returns its path. The portal requires the browser session's cookies, so
// they are copied into a throwaway collector. Remote faults (HTTP errors,
// unreachable host) return "" without an error; only local I/O fails.
func (s *Submitter) DownloadFile(ctx context.Context, fileURL string) (string, error) {
	if fileURL == "" {
		return "", nil
	}

	cookies, userAgent, err := s.sessionState(ctx)
	if err != nil {
		s.logger.Warn("could not read browser session state", zap.Error(err))
		return "", nil
	}

	tmp, err := os.CreateTemp("", "casewatch-*"+path.Ext(fileURL))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(60 * time.Second)
	if err := c.SetCookies(fileURL, cookies); err != nil {
		s.logger.Warn("could not seed cookies for download", zap.Error(err))
	}

	saved := false
	c.OnResponse(func(r *colly.Response) {
		if r.StatusCode != http.StatusOK {
			return
		}
		if err := r.Save(tmpPath); err != nil {
			s.logger.Warn("could not persist download", zap.Error(err))
			return
		}
		saved = true
	})

	if err := c.Visit(fileURL); err != nil {
		s.logger.Warn("document download failed",
			zap.String("url", fileURL), zap.Error(err))
	}
	c.Wait()

	if !saved {
		_ = os.Remove(tmpPath)
		return "", nil
	}
	return tmpPath, nil
}

// sessionState copies the cookies and user agent out of the live page.
func (s *Submitter) sessionState(ctx context.Context) ([]*http.Cookie, string, error) {
	var (
		cdpCookies []*network.Cookie
		userAgent  string
	)
	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cdpCookies, err = network.GetCookies().Do(ctx)
			if err != nil {
				return fmt.Errorf("read cookies: %w", err)
			}
			return nil
		}),
		chromedp.Evaluate(`navigator.userAgent`, &userAgent),
	)
	if err != nil {
		return nil, "", err
	}

	cookies := make([]*http.Cookie, 0, len(cdpCookies))
	for _, c := range cdpCookies {
		cookies = append(cookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return cookies, userAgent, nil
}

// FileExtension guesses the stored extension for an attachment URL,
// defaulting to pdf (the portal serves resolutions as PDF).
func FileExtension(fileURL string) string {
	u, err := url.Parse(fileURL)
	if err != nil {
		return "pdf"
	}
	ext := path.Ext(u.Path)
	if len(ext) < 2 {
		return "pdf"
	}
	return ext[1:]
}
