// Package worker executes scrape jobs end-to-end: portal interaction,
// change detection, persistence and attachment upload.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/litigio/casefile-monitor/internal/metrics"
	"github.com/litigio/casefile-monitor/internal/monitor"
	"github.com/litigio/casefile-monitor/internal/portal"
	"github.com/litigio/casefile-monitor/internal/repository"
	"github.com/litigio/casefile-monitor/internal/snapshot"
)

// Worker processes one job per dispatch to completion.
type Worker struct {
	id        string
	store     monitor.JobStore
	repo      monitor.Repository
	pool      monitor.BrowserPool
	submitter monitor.FormSubmitter
	solver    monitor.CaptchaSolver
	objects   monitor.ObjectStore
	clock     monitor.Clock
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	id string,
	store monitor.JobStore,
	repo monitor.Repository,
	pool monitor.BrowserPool,
	submitter monitor.FormSubmitter,
	solver monitor.CaptchaSolver,
	objects monitor.ObjectStore,
	clk monitor.Clock,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		id:        id,
		store:     store,
		repo:      repo,
		pool:      pool,
		submitter: submitter,
		solver:    solver,
		objects:   objects,
		clock:     clk,
		logger:    logger,
	}
}

// scrapeResult carries the counters reported to the job log.
type scrapeResult struct {
	binnaclesFound  int
	changesDetected int
}

// Process runs one claimed job to a terminal queue state. Panics inside
// the job are caught here, classified Unknown, and fed into the retry
// policy; the worker survives.
func (w *Worker) Process(ctx context.Context, job monitor.Job) {
	started := w.clock.Now()
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logID, logErr := w.repo.InsertJobLog(ctx, monitor.JobLogEntry{
		CaseFileID: job.Payload.CaseFileID,
		TenantID:   job.Payload.TenantID,
		Kind:       job.Lane.Kind(),
		Status:     monitor.JobLogStarted,
		Attempt:    job.Attempt,
		WorkerID:   w.id,
		StartedAt:  started,
	})
	if logErr != nil {
		w.logger.Error("insert job log failed", zap.String("job_id", job.ID), zap.Error(logErr))
	}

	result, err := w.runGuarded(ctx, job)
	completed := w.clock.Now()
	duration := completed.Sub(started)

	if err == nil {
		if err := w.store.Complete(ctx, job.ID); err != nil {
			w.logger.Error("complete job failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		w.finishLog(ctx, logID, monitor.JobLogEntry{
			Status:          monitor.JobLogCompleted,
			DurationMs:      int64Ptr(duration.Milliseconds()),
			BinnaclesFound:  &result.binnaclesFound,
			ChangesDetected: &result.changesDetected,
			CompletedAt:     &completed,
		})
		metrics.ObserveJob(string(job.Lane), "completed", duration)
		w.logger.Info("job completed",
			zap.String("job_id", job.ID),
			zap.Int64("case_file_id", job.Payload.CaseFileID),
			zap.Int("binnacles", result.binnaclesFound),
			zap.Int("changes", result.changesDetected),
			zap.Duration("duration", duration),
		)
		return
	}

	kind := monitor.Classify(err)
	message := err.Error()

	if kind == monitor.KindInvalidCaseNumber {
		if markErr := w.repo.MarkScanInvalid(ctx, job.Payload.CaseFileID); markErr != nil {
			w.logger.Error("mark scan invalid failed",
				zap.Int64("case_file_id", job.Payload.CaseFileID), zap.Error(markErr))
		}
	}
	if recErr := w.repo.RecordScrapeError(ctx, job.Payload.CaseFileID, string(kind), message, completed); recErr != nil {
		w.logger.Error("record scrape error failed",
			zap.Int64("case_file_id", job.Payload.CaseFileID), zap.Error(recErr))
	}

	retrying, failErr := w.store.Fail(ctx, job.ID, kind, message, kind.Retryable())
	if failErr != nil {
		w.logger.Error("fail job failed", zap.String("job_id", job.ID), zap.Error(failErr))
	}

	status := monitor.JobLogFailed
	if retrying {
		status = monitor.JobLogRetrying
	}
	w.finishLog(ctx, logID, monitor.JobLogEntry{
		Status:       status,
		DurationMs:   int64Ptr(duration.Milliseconds()),
		ErrorKind:    strPtr(string(kind)),
		ErrorMessage: &message,
		CompletedAt:  &completed,
	})
	metrics.ObserveJob(string(job.Lane), strings.ToLower(string(status)), duration)
	w.logger.Warn("job attempt failed",
		zap.String("job_id", job.ID),
		zap.Int64("case_file_id", job.Payload.CaseFileID),
		zap.String("kind", string(kind)),
		zap.Bool("retrying", retrying),
		zap.Error(err),
	)
}

// runGuarded converts panics into Unknown-classified errors.
func (w *Worker) runGuarded(ctx context.Context, job monitor.Job) (result scrapeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = monitor.Scrapef(monitor.KindUnknown, "job panic: %v", r)
		}
	}()
	return w.run(ctx, job)
}

func (w *Worker) run(ctx context.Context, job monitor.Job) (scrapeResult, error) {
	var result scrapeResult

	caseFile, err := w.repo.GetCaseFile(ctx, job.Payload.CaseFileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return result, monitor.Scrapef(monitor.KindValidationFailed,
				"case file %d does not exist", job.Payload.CaseFileID)
		}
		return result, monitor.NewScrapeError(monitor.KindRepositoryFailure, err)
	}

	page, err := w.pool.Lease(ctx)
	if err != nil {
		return result, monitor.NewScrapeError(monitor.KindBrowserCrash, err)
	}
	// The guard: releases on success, failure and panic alike.
	defer page.Release()

	pageCtx := page.Context()
	raws, notifications, fileLinks, err := w.scrape(pageCtx, page, caseFile)
	if err != nil {
		return result, err
	}
	result.binnaclesFound = len(raws)

	prior, err := w.repo.GetSnapshot(ctx, caseFile.ID)
	if err != nil {
		return result, monitor.NewScrapeError(monitor.KindRepositoryFailure, err)
	}
	var prevPayload []byte
	var prevHash string
	if prior != nil {
		prevPayload = prior.CanonicalPayload
		prevHash = prior.ContentHash
	}

	canonical := snapshot.NormalizeAll(raws, notifications)
	detection, err := snapshot.Detect(prevPayload, prevHash, canonical)
	if err != nil {
		return result, monitor.NewScrapeError(monitor.KindValidationFailed, err)
	}

	now := w.clock.Now()
	commit := w.buildCommit(caseFile, raws, notifications, detection, now)
	result.changesDetected = len(commit.Changes)

	ids, err := w.repo.CommitScrape(ctx, commit)
	if err != nil {
		return result, monitor.NewScrapeError(monitor.KindRepositoryFailure, err)
	}

	for _, change := range commit.Changes {
		metrics.ObserveChanges(string(change.Type), 1)
	}

	w.storeAttachments(ctx, pageCtx, caseFile, fileLinks, ids)
	return result, nil
}

// scrape drives the portal on the leased page: navigate, submit, classify
// and extract. Browser-level faults mark the session for recycling.
func (w *Worker) scrape(
	pageCtx context.Context,
	page monitor.Page,
	caseFile monitor.CaseFile,
) ([]monitor.RawBinnacle, map[int][]monitor.RawNotification, map[int]string, error) {
	if err := w.submitter.Navigate(pageCtx, w.solver); err != nil {
		return nil, nil, nil, w.browserAware(page, err)
	}

	outcome, err := w.submitter.Submit(pageCtx, caseFile.CaseNumber, caseFile.PartyName, w.solver)
	if err != nil {
		return nil, nil, nil, w.browserAware(page, err)
	}
	switch outcome {
	case monitor.SubmitBotDetected:
		return nil, nil, nil, monitor.Scrapef(monitor.KindBotDetected,
			"antibot persisted after retries for case %s", caseFile.CaseNumber)
	case monitor.SubmitCaptchaError:
		return nil, nil, nil, monitor.Scrapef(monitor.KindCaptchaFailed,
			"portal rejected the captcha answer")
	case monitor.SubmitNoResults:
		return nil, nil, nil, monitor.Scrapef(monitor.KindInvalidCaseNumber,
			"portal has no case %s", caseFile.CaseNumber)
	case monitor.SubmitResults:
	default:
		return nil, nil, nil, monitor.Scrapef(monitor.KindUnknown,
			"unexpected submit outcome %q", outcome)
	}

	raws, err := w.submitter.ExtractBinnacles(pageCtx)
	if err != nil {
		return nil, nil, nil, w.browserAware(page, err)
	}

	valid := raws[:0:0]
	for _, raw := range raws {
		if snapshot.ValidBinnacle(raw) {
			valid = append(valid, raw)
		} else {
			w.logger.Warn("dropping malformed timeline entry",
				zap.Int64("case_file_id", caseFile.ID), zap.Int("index", raw.Index))
		}
	}
	if len(valid) == 0 {
		return nil, nil, nil, monitor.Scrapef(monitor.KindValidationFailed,
			"extraction produced no structurally valid entries (raw: %d)", len(raws))
	}

	notifications := make(map[int][]monitor.RawNotification, len(valid))
	fileLinks := make(map[int]string)
	for _, raw := range valid {
		list, err := w.submitter.ExtractNotifications(pageCtx, raw.Index)
		if err != nil {
			return nil, nil, nil, w.browserAware(page, err)
		}
		notifications[raw.Index] = list

		link, err := w.submitter.ExtractFileLink(pageCtx, raw.Index)
		if err != nil {
			return nil, nil, nil, w.browserAware(page, err)
		}
		if link != "" {
			fileLinks[raw.Index] = link
		}
	}
	return valid, notifications, fileLinks, nil
}

// buildCommit assembles the unit of work for one successful scrape.
func (w *Worker) buildCommit(
	caseFile monitor.CaseFile,
	raws []monitor.RawBinnacle,
	rawNotifications map[int][]monitor.RawNotification,
	detection snapshot.Result,
	now time.Time,
) monitor.ScrapeCommit {
	binnacles := make([]monitor.Binnacle, 0, len(raws))
	for _, raw := range raws {
		binnacles = append(binnacles, snapshot.ToBinnacle(caseFile.ID, raw))
	}

	notifications := make(map[int][]monitor.Notification, len(rawNotifications))
	for index, list := range rawNotifications {
		converted := make([]monitor.Notification, 0, len(list))
		for _, raw := range list {
			converted = append(converted, snapshot.ToNotification(raw))
		}
		notifications[index] = converted
	}

	snap := monitor.Snapshot{
		CaseFileID:       caseFile.ID,
		ContentHash:      detection.NewHash,
		BinnacleCount:    len(raws),
		CanonicalPayload: detection.Payload,
		LastScrapedAt:    now,
	}
	if detection.HasChanges {
		snap.LastChangedAt = &now
	}

	// The first scrape establishes the baseline; it is not a change and
	// emits no change log entries.
	hasChanges := detection.HasChanges && !detection.IsFirstScrape

	var changes []monitor.ChangeLogEntry
	if hasChanges {
		changes = make([]monitor.ChangeLogEntry, 0, len(detection.Changes))
		for _, change := range detection.Changes {
			entry := monitor.ChangeLogEntry{
				CaseFileID: caseFile.ID,
				TenantID:   caseFile.TenantID,
				Type:       change.Type,
				DetectedAt: now,
			}
			if change.FieldName != "" {
				entry.FieldName = strPtr(change.FieldName)
			}
			if change.OldValue != "" {
				entry.OldValue = strPtr(change.OldValue)
			}
			if change.NewValue != "" {
				entry.NewValue = strPtr(change.NewValue)
			}
			changes = append(changes, entry)
		}
	}

	return monitor.ScrapeCommit{
		CaseFileID:    caseFile.ID,
		TenantID:      caseFile.TenantID,
		Binnacles:     binnacles,
		Notifications: notifications,
		Snapshot:      snap,
		Changes:       changes,
		HasChanges:    hasChanges,
		Now:           now,
	}
}

// storeAttachments downloads and uploads new documents. A single failed
// file logs a warning and never fails the job.
func (w *Worker) storeAttachments(
	ctx context.Context,
	pageCtx context.Context,
	caseFile monitor.CaseFile,
	fileLinks map[int]string,
	binnacleIDs map[int]int64,
) {
	for index, link := range fileLinks {
		binnacleID, ok := binnacleIDs[index]
		if !ok {
			continue
		}
		name := originalName(link)

		exists, err := w.repo.HasAttachment(ctx, binnacleID, name)
		if err != nil {
			w.logger.Warn("attachment lookup failed",
				zap.Int64("binnacle_id", binnacleID), zap.Error(err))
			continue
		}
		if exists {
			continue
		}

		if err := w.fetchAndStore(ctx, pageCtx, caseFile, binnacleID, link, name); err != nil {
			metrics.ObserveAttachment("failed")
			w.logger.Warn("attachment pipeline failed",
				zap.Int64("binnacle_id", binnacleID),
				zap.String("url", link), zap.Error(err))
			continue
		}
		metrics.ObserveAttachment("stored")
	}
}

func (w *Worker) fetchAndStore(
	ctx context.Context,
	pageCtx context.Context,
	caseFile monitor.CaseFile,
	binnacleID int64,
	link, name string,
) error {
	tmpPath, err := w.submitter.DownloadFile(pageCtx, link)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if tmpPath == "" {
		return errors.New("download returned no file")
	}
	defer func() { _ = os.Remove(tmpPath) }()

	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat temp file: %w", err)
	}

	// The object store prepends its configured prefix; the key scopes the
	// blob to the tenant.
	key := fmt.Sprintf("%d/attachments/%s.%s",
		caseFile.TenantID, uuid.NewString(), portal.FileExtension(link))

	uri, err := w.objects.Put(ctx, key, "application/octet-stream", f)
	if err != nil {
		return monitor.Scrapef(monitor.KindObjectStoreFailure, "upload %s: %v", key, err)
	}

	if err := w.repo.InsertAttachment(ctx, monitor.FileAttachment{
		BinnacleID:   binnacleID,
		OriginalName: name,
		Size:         info.Size(),
		ObjectKey:    uri,
	}); err != nil {
		return fmt.Errorf("record attachment: %w", err)
	}
	return nil
}

// browserAware upgrades browser-session faults to BrowserCrash and flags
// the session for recycling; everything else passes through.
func (w *Worker) browserAware(page monitor.Page, err error) error {
	if isBrowserFault(err) {
		page.MarkCrashed()
		return monitor.NewScrapeError(monitor.KindBrowserCrash, err)
	}
	return err
}

func isBrowserFault(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "target crashed") ||
		strings.Contains(msg, "browser closed") ||
		strings.Contains(msg, "websocket: close") ||
		strings.Contains(msg, "chrome failed to start")
}

func (w *Worker) finishLog(ctx context.Context, logID int64, entry monitor.JobLogEntry) {
	if logID == 0 {
		return
	}
	if err := w.repo.FinishJobLog(ctx, logID, entry); err != nil {
		w.logger.Error("finish job log failed", zap.Int64("log_id", logID), zap.Error(err))
	}
}

func originalName(link string) string {
	u, err := url.Parse(link)
	if err != nil || path.Base(u.Path) == "." || path.Base(u.Path) == "/" {
		return "documento.pdf"
	}
	return path.Base(u.Path)
}

func int64Ptr(n int64) *int64 { return &n }

func strPtr(s string) *string { return &s }
