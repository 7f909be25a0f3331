package services

import (
	"context"
	"time"

	"github.com/ajramos/mailsweep/internal/mail"
)

// MailStore is the boundary to the remote mail backend. Implementations map
// backend status codes onto the sentinel errors in errors.go; the engine
// never inspects transport details directly.
type MailStore interface {
	// ListMessages returns one page of a folder's messages ordered by
	// receipt time descending, normalized into records. Errors are surfaced
	// unchanged; this layer never retries.
	ListMessages(ctx context.Context, folder mail.FolderRef, pageSize, offset int) ([]mail.Record, error)

	// ListChildFolders lists the immediate subfolders of parent. Best-effort:
	// callers treat any error as an empty list.
	ListChildFolders(ctx context.Context, parent mail.FolderRef) ([]mail.FolderRef, error)

	// FindFolderByName locates a folder by display name under the mailbox
	// root. Returns (nil, nil) when absent.
	FindFolderByName(ctx context.Context, name string) (*mail.FolderRef, error)

	// CreateFolder creates a folder under the mailbox root.
	CreateFolder(ctx context.Context, name string) (*mail.FolderRef, error)

	// ResolveDistinguished resolves a well-known folder label (archive,
	// inbox). Fails with ErrNotFound when the store has no such folder.
	ResolveDistinguished(ctx context.Context, label string) (*mail.FolderRef, error)

	// MoveMessage relocates one item. The revision token must be current;
	// the store invalidates it on every write to the item.
	MoveMessage(ctx context.Context, itemID, revisionToken string, dest mail.FolderRef) error

	// GetFullBody fetches the message body as text. Best-effort: empty
	// string on any failure, never an error.
	GetFullBody(ctx context.Context, itemID string) string
}

// Classifier decides whether one message matches the triage criteria and
// which label it belongs under. Implementations tolerate model noise: a
// garbage response is reported as Match:false with Error set, not as a
// returned error.
type Classifier interface {
	Classify(ctx context.Context, item mail.Record, body string, criteria TriageCriteria) (*Classification, error)
}

// FetchService ingests messages across the folder set.
type FetchService interface {
	// FetchFolder pages through one folder up to its per-folder cap.
	FetchFolder(ctx context.Context, folder mail.FolderRef, perFolderCap int) ([]mail.Record, error)
	// FetchAll drives FetchFolder over inbox plus optional subfolders,
	// de-duplicating by item ID across folders.
	FetchAll(ctx context.Context, includeSubfolders bool) (*FetchResult, error)
}

// FolderService resolves and creates destination folders. Resolutions are
// memoized per service instance, which lives for at most one run.
type FolderService interface {
	Find(ctx context.Context, name string) (*mail.FolderRef, error)
	FindOrCreate(ctx context.Context, name string) (*mail.FolderRef, error)
	ResolveArchive(ctx context.Context) (*mail.FolderRef, error)
}

// MoveService executes single-item moves. Each call is independent; callers
// isolate one item's failure from the batch.
type MoveService interface {
	Move(ctx context.Context, itemID, revisionToken string, dest mail.FolderRef) error
}

// ArchiveService runs the two-phase dedup-then-archive workflow.
type ArchiveService interface {
	Run(ctx context.Context, opts ArchiveOptions) (*ArchiveResult, error)
}

// TriageService runs the per-item classify-and-move pipeline.
type TriageService interface {
	Run(ctx context.Context, items []mail.Record, criteria TriageCriteria, opts TriageOptions) (*TriageResult, error)
}

// Data structures

// FolderStat records one folder's contribution to a fetch pass. Entries are
// informational only; they never retroactively change the message set.
type FolderStat struct {
	Folder   string `json:"folder"`
	Fetched  int    `json:"fetched"`
	Included int    `json:"included"`
	Error    string `json:"error,omitempty"`
}

// FetchResult is the aggregate outcome of a multi-folder fetch pass.
type FetchResult struct {
	Messages  []mail.Record `json:"messages"`
	PerFolder []FolderStat  `json:"per_folder"`
}

// FolderCount is one row of a per-folder breakdown table.
type FolderCount struct {
	Folder string `json:"folder"`
	Count  int    `json:"count"`
}

// ArchiveOptions controls one orchestrator run.
type ArchiveOptions struct {
	DryRun            bool
	IncludeSubfolders bool
}

// ArchiveResult is the persisted and returned outcome of an archive run.
type ArchiveResult struct {
	RunID   string `json:"run_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	DryRun  bool   `json:"dry_run"`

	TotalScanned         int `json:"total_scanned"`
	DuplicateCount       int `json:"duplicate_count"`
	DuplicatesMovedCount int `json:"duplicates_moved_count"`
	ArchivedCount        int `json:"archived_count"`
	Errors               int `json:"errors"`

	ToArchiveByFolder []FolderCount `json:"to_archive_by_folder"`
	PerFolder         []FolderStat  `json:"per_folder"`
	DuplicateGroups   []FolderCount `json:"duplicate_groups,omitempty"`

	Log        []string      `json:"log"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// TriageLabel is one entry of the closed label set the classifier may pick.
type TriageLabel struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// TriageCriteria describes what the classifier should match and where
// matches go. Labels form a closed set; near-miss model output is
// normalized onto it.
type TriageCriteria struct {
	Instruction string        `yaml:"instruction" json:"instruction"`
	Labels      []TriageLabel `yaml:"labels" json:"labels"`
}

// LabelNames returns the label names in declaration order.
func (c TriageCriteria) LabelNames() []string {
	out := make([]string, 0, len(c.Labels))
	for _, l := range c.Labels {
		out = append(out, l.Name)
	}
	return out
}

// Classification is a classifier verdict for one message.
type Classification struct {
	Match     bool   `json:"match"`
	Label     string `json:"label,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TriageProgress is handed to the progress callback synchronously after
// every processed item, exactly once per item, including aborted and
// errored ones, so a poller never silently stalls.
type TriageProgress struct {
	Index      int
	Total      int
	Descriptor string
	MovedCount int
	Last       *TriageItemResult
}

// TriageOptions controls one pipeline run.
type TriageOptions struct {
	MaxIterations int
	OnProgress    func(TriageProgress)
}

// TriageItemResult is the per-item outcome row of a triage run.
type TriageItemResult struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	From      string `json:"from"`
	Match     bool   `json:"match"`
	Folder    string `json:"folder,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Moved     bool   `json:"moved"`
	Error     string `json:"error,omitempty"`
}

// TriageResult is the aggregate outcome of a triage run.
type TriageResult struct {
	RunID     string             `json:"run_id"`
	Processed int                `json:"processed"`
	Moved     int                `json:"moved"`
	Errors    int                `json:"errors"`
	Aborted   bool               `json:"aborted"`
	Results   []TriageItemResult `json:"results"`
	ByLabel   []FolderCount      `json:"by_label"`
	Duration  time.Duration      `json:"duration"`
}
