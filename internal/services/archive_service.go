package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ajramos/mailsweep/internal/mail"
	"github.com/google/uuid"
)

// DefaultDuplicatesFolder is the display name of the duplicate destination.
const DefaultDuplicatesFolder = "Duplicates"

// ResultSink persists the outcome of a completed run for later inspection.
type ResultSink interface {
	SaveArchiveResult(ctx context.Context, result *ArchiveResult) error
}

// ArchiveServiceImpl implements the two-phase dedup-then-archive workflow.
// At most one run proceeds at a time process-wide; the single-flight flag
// is owned here and cleared on every exit path.
type ArchiveServiceImpl struct {
	fetcher          FetchService
	mover            MoveService
	newFolderService func() FolderService
	sink             ResultSink
	duplicatesFolder string
	logger           *log.Logger

	mu      sync.Mutex
	running bool
}

// NewArchiveService creates a new archive orchestrator. newFolderService is
// invoked once per run so folder memoization never outlives a run. sink may
// be nil when persistence is not configured.
func NewArchiveService(fetcher FetchService, mover MoveService, newFolderService func() FolderService, sink ResultSink) *ArchiveServiceImpl {
	return &ArchiveServiceImpl{
		fetcher:          fetcher,
		mover:            mover,
		newFolderService: newFolderService,
		sink:             sink,
		duplicatesFolder: DefaultDuplicatesFolder,
	}
}

// SetDuplicatesFolder overrides the duplicate destination display name.
func (s *ArchiveServiceImpl) SetDuplicatesFolder(name string) {
	if name != "" {
		s.duplicatesFolder = name
	}
}

// SetLogger sets the logger for debug output.
func (s *ArchiveServiceImpl) SetLogger(logger *log.Logger) {
	s.logger = logger
}

func (s *ArchiveServiceImpl) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *ArchiveServiceImpl) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Run executes one archive run. The returned result is always non-nil once
// a run is admitted: on failure it carries Success:false, a descriptive
// error and the narrated log alongside the returned error.
func (s *ArchiveServiceImpl) Run(ctx context.Context, opts ArchiveOptions) (*ArchiveResult, error) {
	if !s.tryAcquire() {
		return nil, ErrAlreadyRunning
	}
	defer s.release()

	runLog := mail.NewRunLog()
	result := &ArchiveResult{
		RunID:     uuid.New().String(),
		DryRun:    opts.DryRun,
		StartedAt: time.Now(),
	}
	finish := func(err error) (*ArchiveResult, error) {
		if err != nil {
			result.Success = false
			result.Error = err.Error()
			runLog.Appendf("run failed: %v", err)
		} else {
			result.Success = true
		}
		result.FinishedAt = time.Now()
		result.Duration = result.FinishedAt.Sub(result.StartedAt)
		result.Log = runLog.Lines()
		if !opts.DryRun && s.sink != nil {
			if saveErr := s.sink.SaveArchiveResult(ctx, result); saveErr != nil && s.logger != nil {
				s.logger.Printf("persist run result: %v", saveErr)
			}
		}
		return result, err
	}

	// Phase 1: scan and classify duplicates.
	runLog.Appendf("scan started (dry run: %v, subfolders: %v)", opts.DryRun, opts.IncludeSubfolders)
	fetched, err := s.fetcher.FetchAll(ctx, opts.IncludeSubfolders)
	if err != nil {
		return finish(fmt.Errorf("initial fetch: %w", err))
	}
	result.TotalScanned = len(fetched.Messages)
	result.PerFolder = fetched.PerFolder
	runLog.Appendf("scanned %d messages across %d folders", len(fetched.Messages), len(fetched.PerFolder))

	groups := GroupDuplicates(fetched.Messages)
	for _, g := range groups {
		result.DuplicateCount += len(g.Movable())
		result.DuplicateGroups = append(result.DuplicateGroups, FolderCount{Folder: g.MessageID, Count: len(g.Records)})
	}
	runLog.Appendf("found %d duplicate messages in %d groups", result.DuplicateCount, len(groups))

	if opts.DryRun {
		superseded := ClassifySuperseded(fetched.Messages)
		result.ToArchiveByFolder = countByFolder(fetched.Messages, superseded)
		runLog.Appendf("dry run: %d messages would be archived, %d duplicates would be moved",
			len(superseded), result.DuplicateCount)
		return finish(nil)
	}

	folders := s.newFolderService()

	// Phase 2: move duplicates. The destination is never auto-created;
	// relocating mail into a folder the user never made is unsafe.
	if len(groups) > 0 {
		dest, err := folders.Find(ctx, s.duplicatesFolder)
		if err != nil {
			result.Errors++
			runLog.Appendf("could not look up %q folder, skipping duplicate handling: %v", s.duplicatesFolder, err)
		} else if dest == nil {
			runLog.Appendf("%q folder not found, skipping duplicate handling for this run", s.duplicatesFolder)
		} else {
			for _, g := range groups {
				for _, rec := range g.Movable() {
					if err := s.mover.Move(ctx, rec.ID, rec.RevisionToken, *dest); err != nil {
						result.Errors++
						runLog.Appendf("duplicate move failed for %q%s: %v", rec.Subject, retryHint(err), err)
						continue
					}
					result.DuplicatesMovedCount++
				}
			}
			runLog.Appendf("moved %d of %d duplicates to %q", result.DuplicatesMovedCount, result.DuplicateCount, s.duplicatesFolder)
		}
	}

	// Phase 3: unconditional re-fetch. Phase 2 may have changed folder
	// membership, and every revision token from phase 1 is stale after any
	// mutation in the mailbox. Skipping this risks moving items with stale
	// tokens or archiving a message duplicate handling just relocated.
	runLog.Appendf("re-fetching mailbox state before archive pass")
	refetched, err := s.fetcher.FetchAll(ctx, opts.IncludeSubfolders)
	if err != nil {
		return finish(fmt.Errorf("re-fetch before archive pass: %w", err))
	}
	runLog.Appendf("re-scan found %d messages", len(refetched.Messages))

	// Phase 4: archive superseded messages. The reply graph is recomputed
	// from the fresh set; the phase 1 reference set is never reused.
	superseded := ClassifySuperseded(refetched.Messages)
	result.ToArchiveByFolder = countByFolder(refetched.Messages, superseded)
	runLog.Appendf("%d superseded messages to archive", len(superseded))

	archiveRef, err := folders.ResolveArchive(ctx)
	if err != nil {
		// No safe fallback destination exists; this fails the whole run.
		return finish(err)
	}

	for i := range refetched.Messages {
		rec := &refetched.Messages[i]
		if _, ok := superseded[rec.ID]; !ok {
			continue
		}
		if err := s.mover.Move(ctx, rec.ID, rec.RevisionToken, *archiveRef); err != nil {
			result.Errors++
			runLog.Appendf("archive move failed for %q%s: %v", rec.Subject, retryHint(err), err)
			continue
		}
		result.ArchivedCount++
	}
	runLog.Appendf("archived %d messages, %d errors", result.ArchivedCount, result.Errors)

	return finish(nil)
}

// retryHint marks a log line when the failure is one a later run could
// clear on its own, so the reader knows re-running beats investigating.
func retryHint(err error) string {
	if IsRetryableError(err) {
		return " (transient)"
	}
	return ""
}

// countByFolder tallies the selected records by source folder.
func countByFolder(records []mail.Record, selected map[string]struct{}) []FolderCount {
	counts := make(map[string]int)
	var order []string
	for i := range records {
		if _, ok := selected[records[i].ID]; !ok {
			continue
		}
		folder := records[i].SourceFolder
		if _, seen := counts[folder]; !seen {
			order = append(order, folder)
		}
		counts[folder]++
	}
	out := make([]FolderCount, 0, len(order))
	for _, folder := range order {
		out = append(out, FolderCount{Folder: folder, Count: counts[folder]})
	}
	return out
}
