package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ajramos/mailsweep/internal/mail"
	"github.com/google/uuid"
)

// TriageServiceImpl implements the per-item classify-and-move pipeline.
type TriageServiceImpl struct {
	store      MailStore
	classifier Classifier
	folders    FolderService
	mover      MoveService
	logger     *log.Logger
}

// NewTriageService creates a new triage pipeline.
func NewTriageService(store MailStore, classifier Classifier, folders FolderService, mover MoveService) *TriageServiceImpl {
	return &TriageServiceImpl{
		store:      store,
		classifier: classifier,
		folders:    folders,
		mover:      mover,
	}
}

// SetLogger sets the logger for debug output.
func (s *TriageServiceImpl) SetLogger(logger *log.Logger) {
	s.logger = logger
}

// memoizedFolder caches one label's resolution for the run. First
// resolution wins, success or failure; each label is queried at most once.
type memoizedFolder struct {
	ref *mail.FolderRef
	err error
}

// Run processes items in ingestion order up to min(len(items),
// MaxIterations). Cancellation is cooperative: the context is checked only
// at item boundaries, so an in-flight classify or move is never interrupted
// and no item is ever left half-moved. The progress callback fires
// synchronously exactly once per processed item.
func (s *TriageServiceImpl) Run(ctx context.Context, items []mail.Record, criteria TriageCriteria, opts TriageOptions) (*TriageResult, error) {
	if len(criteria.Labels) == 0 {
		return nil, fmt.Errorf("triage criteria must define at least one label")
	}

	start := time.Now()
	total := len(items)
	if opts.MaxIterations > 0 && opts.MaxIterations < total {
		total = opts.MaxIterations
	}

	result := &TriageResult{RunID: uuid.New().String()}
	byLabel := make(map[string]int)
	var labelOrder []string
	destinations := make(map[string]memoizedFolder)

	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			result.Aborted = true
			break
		}
		item := &items[i]
		row := TriageItemResult{
			ID:      item.ID,
			Subject: item.Subject,
			From:    item.Sender,
		}

		body := s.store.GetFullBody(ctx, item.ID)
		verdict, err := s.classifier.Classify(ctx, *item, body, criteria)
		switch {
		case err != nil:
			row.Error = fmt.Sprintf("classification failed: %v", err)
			result.Errors++
		case verdict.Error != "":
			row.Error = verdict.Error
			result.Errors++
		default:
			row.Match = verdict.Match
			row.Reasoning = verdict.Rationale
			if verdict.Match && verdict.Label != "" {
				row.Folder = verdict.Label
				if _, seen := byLabel[verdict.Label]; !seen {
					labelOrder = append(labelOrder, verdict.Label)
				}
				byLabel[verdict.Label]++

				dest, ok := destinations[verdict.Label]
				if !ok {
					dest.ref, dest.err = s.folders.FindOrCreate(ctx, verdict.Label)
					destinations[verdict.Label] = dest
				}
				if dest.err != nil {
					row.Error = fmt.Sprintf("resolve folder %q: %v", verdict.Label, dest.err)
					result.Errors++
				} else if err := s.mover.Move(ctx, item.ID, item.RevisionToken, *dest.ref); err != nil {
					row.Error = err.Error()
					result.Errors++
				} else {
					row.Moved = true
					result.Moved++
				}
			}
		}

		result.Results = append(result.Results, row)
		result.Processed++
		if opts.OnProgress != nil {
			opts.OnProgress(TriageProgress{
				Index:      i,
				Total:      total,
				Descriptor: item.Subject,
				MovedCount: result.Moved,
				Last:       &row,
			})
		}
	}

	for _, label := range labelOrder {
		result.ByLabel = append(result.ByLabel, FolderCount{Folder: label, Count: byLabel[label]})
	}
	result.Duration = time.Since(start)
	return result, nil
}
