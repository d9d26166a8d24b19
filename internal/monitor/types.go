// Package monitor holds the domain model and collaborator interfaces shared
// across the scrape coordination engine.
package monitor

import "time"

// Tenant is a subscription (tenant-bank tuple) owning case files and
// notification schedules.
type Tenant struct {
	ID            int64
	Name          string
	ScrapeEnabled bool
}

// LogicKeyPortalMonitoring marks the schedules that drive scraping.
const LogicKeyPortalMonitoring = "portal-monitoring"

// NotificationSchedule defines the wall-clock times a tenant expects its
// notifications. Only schedules with LogicKey = portal-monitoring are
// considered by the scheduler.
type NotificationSchedule struct {
	ID       int64
	TenantID int64
	LogicKey string
	Times    []string // "HH:MM", tenant-local in the configured zone
	Enabled  bool
}

// CaseFile is a judicial case under monitoring, identified by the
// human-readable number used on the portal.
type CaseFile struct {
	ID                int64
	TenantID          int64
	CaseNumber        string
	PartyName         string
	ScrapeEnabled     bool
	ScanValid         bool
	Archived          bool
	WasScanned        bool
	HasPendingChanges bool
	CreatedAt         time.Time
	LastScrapedAt     *time.Time
}

// Eligible reports whether the case file may ever be selected for scraping.
func (c CaseFile) Eligible() bool {
	return c.ScrapeEnabled && c.ScanValid && !c.Archived
}

// BinnacleType tags a timeline entry as a resolution or a procedural writ.
type BinnacleType string

const (
	BinnacleResolution BinnacleType = "RESOLUTION"
	BinnacleWrit       BinnacleType = "WRIT"
)

// Binnacle is one dated entry on a case file timeline. (CaseFileID, Index)
// is unique; rows are upserted by the worker and never deleted.
type Binnacle struct {
	ID               int64
	CaseFileID       int64
	Index            int // 1-based portal order
	ResolutionDate   *time.Time
	EntryDate        *time.Time
	Resolution       *string
	Acto             *string
	Fojas            *int
	Folios           *int
	ProvedioDate     *time.Time
	Sumilla          *string
	UserDescription  *string
	NotificationType *string
	Type             BinnacleType
	ProceduralStage  *string
}

// Notification is a delivery record attached to a binnacle. Uniqueness key
// is (BinnacleID, Code); the portal is the source of truth and duplicates
// are tolerated.
type Notification struct {
	ID             int64
	BinnacleID     int64
	Code           string
	Addressee      *string
	ShipDate       *time.Time
	Attachments    *string
	DeliveryMethod *string
	IssuedDate     *time.Time
	SentDate       *time.Time
	ArrivalDate    *time.Time
	ChargeDate     *time.Time
	ReturnDate     *time.Time
	ResolvedDate   *time.Time
}

// FileAttachment records a downloaded binnacle document stored in the
// object store. Uniqueness key is (BinnacleID, OriginalName).
type FileAttachment struct {
	ID           int64
	BinnacleID   int64
	OriginalName string
	Size         int64
	ObjectKey    string
}

// Snapshot is the canonical state of a case file timeline at its most
// recent successful scrape. Exactly one row exists per case file once the
// first scrape completes; it is upserted, never appended.
type Snapshot struct {
	CaseFileID          int64
	ContentHash         string // 64-char lowercase hex SHA-256
	BinnacleCount       int
	CanonicalPayload    []byte // canonical binnacle list, JSON
	LastScrapedAt       time.Time
	LastChangedAt       *time.Time
	ScrapeCount         int
	ConsecutiveNoChange int
	ErrorCount          int
	LastError           *string
}

// ChangeType enumerates the structural diffs between two snapshots.
type ChangeType string

const (
	ChangeNewBinnacle      ChangeType = "NEW_BINNACLE"
	ChangeModifiedBinnacle ChangeType = "MODIFIED_BINNACLE"
	ChangeRemovedBinnacle  ChangeType = "REMOVED_BINNACLE"
	ChangeNewNotification  ChangeType = "NEW_NOTIFICATION"
	ChangeNewFile          ChangeType = "NEW_FILE"
)

// ChangeLogEntry records one detected change for the downstream notifier.
// The core appends with Notified=false and never touches the bit again.
type ChangeLogEntry struct {
	ID         int64
	CaseFileID int64
	TenantID   int64
	Type       ChangeType
	FieldName  *string
	OldValue   *string
	NewValue   *string
	DetectedAt time.Time
	Notified   bool
	NotifiedAt *time.Time
}

// JobKind mirrors the queue lane a job was born in.
type JobKind string

const (
	JobInitial  JobKind = "INITIAL"
	JobMonitor  JobKind = "MONITOR"
	JobPriority JobKind = "PRIORITY"
)

// JobLogStatus is the lifecycle state of one job attempt.
type JobLogStatus string

const (
	JobLogStarted   JobLogStatus = "STARTED"
	JobLogCompleted JobLogStatus = "COMPLETED"
	JobLogFailed    JobLogStatus = "FAILED"
	JobLogRetrying  JobLogStatus = "RETRYING"
)

// JobLogEntry is one row per job attempt.
type JobLogEntry struct {
	ID              int64
	CaseFileID      int64
	TenantID        int64
	Kind            JobKind
	Status          JobLogStatus
	Attempt         int
	DurationMs      *int64
	BinnaclesFound  *int
	ChangesDetected *int
	ErrorKind       *string
	ErrorMessage    *string
	WorkerID        string
	StartedAt       time.Time
	CompletedAt     *time.Time
}
