package monitor

import (
	"context"
	"io"
	"time"
)

// Clock returns the current time in the configured portal timezone. All
// schedule math and dedup-key calendar dates use this zone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// ObjectStore writes attachment blobs and returns a storage URI.
type ObjectStore interface {
	Put(ctx context.Context, key string, contentType string, r io.Reader) (string, error)
}

// ImageSolver resolves an image captcha to its text.
type ImageSolver interface {
	SolveImage(ctx context.Context, image []byte) (string, error)
}

// TokenSolver resolves an interactive challenge (site key + page URL) to a
// response token.
type TokenSolver interface {
	SolveChallenge(ctx context.Context, siteKey, pageURL string) (string, error)
}

// CaptchaResult is the outcome of running the strategy chain on a page.
type CaptchaResult struct {
	Solved   bool
	Solution string
	Token    string
	Strategy string
}

// CaptchaSolver runs an ordered strategy chain against the page bound to
// ctx. It fills the page's captcha fields but never clicks submit.
type CaptchaSolver interface {
	Solve(ctx context.Context) (CaptchaResult, error)
}

// Page is one leased browser tab. Release must be called exactly once on
// every exit path; it is idempotent so a deferred call is always safe.
type Page interface {
	Context() context.Context
	MarkCrashed()
	Release()
}

// BrowserPool leases pages from the bounded session pool.
type BrowserPool interface {
	Lease(ctx context.Context) (Page, error)
}

// SubmitOutcome classifies the page state after a form submission.
type SubmitOutcome string

const (
	SubmitResults      SubmitOutcome = "results"
	SubmitNoResults    SubmitOutcome = "no_results"
	SubmitCaptchaError SubmitOutcome = "captcha_error"
	SubmitBotDetected  SubmitOutcome = "bot_detected"
)

// RawBinnacle is a timeline entry exactly as scraped, before normalization.
type RawBinnacle struct {
	Index            int
	ResolutionDate   string
	EntryDate        string
	Resolution       string
	NotificationType string
	Acto             string
	Fojas            string
	Folios           string
	ProvedioDate     string
	Sumilla          string
	UserDescription  string
	ProceduralStage  string
}

// RawNotification is a notification row exactly as scraped.
type RawNotification struct {
	Code           string
	Addressee      string
	ShipDate       string
	Attachments    string
	DeliveryMethod string
	IssuedDate     string
	SentDate       string
	ArrivalDate    string
	ChargeDate     string
	ReturnDate     string
	ResolvedDate   string
}

// FormSubmitter drives the portal for one case file on an acquired page.
// The page handle is the chromedp task context bound to ctx.
type FormSubmitter interface {
	// Navigate leaves the page on the search form, solving any antibot
	// interposition on the way.
	Navigate(ctx context.Context, solver CaptchaSolver) error
	// Submit enters the case number and party name, solves the form
	// captcha, clicks search and classifies the resulting page state.
	Submit(ctx context.Context, caseNumber, partyName string, solver CaptchaSolver) (SubmitOutcome, error)
	// ExtractBinnacles returns the timeline in portal order, 1-based index.
	ExtractBinnacles(ctx context.Context) ([]RawBinnacle, error)
	ExtractNotifications(ctx context.Context, binnacleIndex int) ([]RawNotification, error)
	// ExtractFileLink returns the download URL for the entry's document,
	// or "" when none exists.
	ExtractFileLink(ctx context.Context, binnacleIndex int) (string, error)
	// DownloadFile fetches url to a temp file and returns its path, or ""
	// on any HTTP-level failure. It never returns an error for remote
	// faults, only for local I/O.
	DownloadFile(ctx context.Context, url string) (string, error)
}

// ScheduleTenant is a monitoring schedule joined to its active tenant.
type ScheduleTenant struct {
	Schedule NotificationSchedule
	Tenant   Tenant
}

// ScrapeCommit is the single unit of work persisted after a successful
// scrape. Binnacles and notifications are keyed by portal index; the
// repository resolves indices to row ids inside the transaction.
type ScrapeCommit struct {
	CaseFileID    int64
	TenantID      int64
	Binnacles     []Binnacle
	Notifications map[int][]Notification // by binnacle index
	Snapshot      Snapshot
	Changes       []ChangeLogEntry
	HasChanges    bool
	Now           time.Time
}

// Repository mediates all relational persistence. Implementations must
// make CommitScrape atomic.
type Repository interface {
	Ping(ctx context.Context) error

	// Scheduler reads.
	EnabledSchedules(ctx context.Context) ([]ScheduleTenant, error)
	EligibleCaseFiles(ctx context.Context, tenantID int64) ([]CaseFile, error)
	SnapshotsFor(ctx context.Context, caseFileIDs []int64) (map[int64]Snapshot, error)

	// Worker reads.
	GetCaseFile(ctx context.Context, id int64) (CaseFile, error)
	GetSnapshot(ctx context.Context, caseFileID int64) (*Snapshot, error)

	// CommitScrape applies the scrape in one transaction and returns the
	// binnacle row id for each portal index.
	CommitScrape(ctx context.Context, commit ScrapeCommit) (map[int]int64, error)

	// Error bookkeeping on the snapshot row.
	RecordScrapeError(ctx context.Context, caseFileID int64, kind, message string, at time.Time) error

	// MarkScanInvalid permanently disables a case file whose number the
	// portal does not recognize.
	MarkScanInvalid(ctx context.Context, caseFileID int64) error

	// Attachments.
	HasAttachment(ctx context.Context, binnacleID int64, originalName string) (bool, error)
	InsertAttachment(ctx context.Context, att FileAttachment) error

	// Job log.
	InsertJobLog(ctx context.Context, entry JobLogEntry) (int64, error)
	FinishJobLog(ctx context.Context, id int64, entry JobLogEntry) error
}
