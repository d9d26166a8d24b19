package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

// rawBinnacleDTO mirrors the JS extraction object for one timeline row.
type rawBinnacleDTO struct {
	Index            int    `json:"index"`
	ResolutionDate   string `json:"resolutionDate"`
	EntryDate        string `json:"entryDate"`
	Resolution       string `json:"resolution"`
	NotificationType string `json:"notificationType"`
	Acto             string `json:"acto"`
	Fojas            string `json:"fojas"`
	Folios           string `json:"folios"`
	ProvedioDate     string `json:"provedioDate"`
	Sumilla          string `json:"sumilla"`
	UserDescription  string `json:"userDescription"`
	ProceduralStage  string `json:"proceduralStage"`
}

type rawNotificationDTO struct {
	Code           string `json:"code"`
	Addressee      string `json:"addressee"`
	ShipDate       string `json:"shipDate"`
	Attachments    string `json:"attachments"`
	DeliveryMethod string `json:"deliveryMethod"`
	IssuedDate     string `json:"issuedDate"`
	SentDate       string `json:"sentDate"`
	ArrivalDate    string `json:"arrivalDate"`
	ChargeDate     string `json:"chargeDate"`
	ReturnDate     string `json:"returnDate"`
	ResolvedDate   string `json:"resolvedDate"`
}

// ExtractBinnacles opens the detail view from the results page and maps
// the timeline grid into ordered raw records with 1-based indices.
func (s *Submitter) ExtractBinnacles(ctx context.Context) ([]monitor.RawBinnacle, error) {
	detailCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	err := chromedp.Run(detailCtx,
		chromedp.Click(resultLinkSel, chromedp.ByQuery),
		chromedp.WaitVisible(timelineSel, chromedp.ByQuery),
		chromedp.Sleep(300*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("open detail view: %w", err)
	}

	expr := fmt.Sprintf(`(() => {
		const txt = (root, sel) => {
			const el = root.querySelector(sel);
			return el ? el.textContent.trim() : '';
		};
		const rows = Array.from(document.querySelectorAll('%s div.bitacora-item'));
		return rows.map((row, i) => ({
			index: i + 1,
			resolutionDate: txt(row, '.fechaResolucion'),
			entryDate: txt(row, '.fechaIngreso'),
			resolution: txt(row, '.resolucion'),
			notificationType: txt(row, '.tipoNotificacion'),
			acto: txt(row, '.acto'),
			fojas: txt(row, '.fojas'),
			folios: txt(row, '.folios'),
			provedioDate: txt(row, '.fechaProveido'),
			sumilla: txt(row, '.sumilla'),
			userDescription: txt(row, '.descripcionUsuario'),
			proceduralStage: txt(row, '.etapaProcesal'),
		}));
	})()`, timelineSel)

	var dtos []rawBinnacleDTO
	if err := chromedp.Run(detailCtx, chromedp.Evaluate(expr, &dtos)); err != nil {
		return nil, fmt.Errorf("extract timeline: %w", err)
	}

	out := make([]monitor.RawBinnacle, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, monitor.RawBinnacle(dto))
	}
	return out, nil
}

// ExtractNotifications maps the notification rows nested under one
// timeline entry.
func (s *Submitter) ExtractNotifications(ctx context.Context, binnacleIndex int) ([]monitor.RawNotification, error) {
	expr := fmt.Sprintf(`(() => {
		const txt = (root, sel) => {
			const el = root.querySelector(sel);
			return el ? el.textContent.trim() : '';
		};
		const row = document.querySelectorAll('%s div.bitacora-item')[%d];
		if (!row) return [];
		return Array.from(row.querySelectorAll('div.notificacion-item')).map(item => ({
			code: txt(item, '.codigoNotificacion'),
			addressee: txt(item, '.destinatario'),
			shipDate: txt(item, '.fechaEnvio'),
			attachments: txt(item, '.anexos'),
			deliveryMethod: txt(item, '.formaEntrega'),
			issuedDate: txt(item, '.fechaEmision'),
			sentDate: txt(item, '.fechaRemision'),
			arrivalDate: txt(item, '.fechaLlegada'),
			chargeDate: txt(item, '.fechaCargo'),
			returnDate: txt(item, '.fechaDevolucion'),
			resolvedDate: txt(item, '.fechaResuelto'),
		}));
	})()`, timelineSel, binnacleIndex-1)

	var dtos []rawNotificationDTO
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &dtos)); err != nil {
		return nil, fmt.Errorf("extract notifications for entry %d: %w", binnacleIndex, err)
	}

	out := make([]monitor.RawNotification, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, monitor.RawNotification(dto))
	}
	return out, nil
}

// ExtractFileLink returns the absolute download URL for the entry's
// document, or "" when the entry has none.
func (s *Submitter) ExtractFileLink(ctx context.Context, binnacleIndex int) (string, error) {
	expr := fmt.Sprintf(`(() => {
		const row = document.querySelectorAll('%s div.bitacora-item')[%d];
		if (!row) return '';
		const link = row.querySelector('a.enlaceDescarga');
		return link ? link.href : '';
	})()`, timelineSel, binnacleIndex-1)

	var href string
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &href)); err != nil {
		return "", fmt.Errorf("extract file link for entry %d: %w", binnacleIndex, err)
	}
	return strings.TrimSpace(href), nil
}
