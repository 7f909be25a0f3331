package services

import (
	"context"
	"fmt"
	"log"

	"github.com/ajramos/mailsweep/internal/mail"
)

// FetchLimits bounds a fetch pass. Defaults match the shipped config.
type FetchLimits struct {
	PageSize          int
	GlobalCap         int
	MaxFolders        int
	MinPerFolder      int
	MaxPerFolder      int
	MaxPagesPerFolder int
}

// DefaultFetchLimits returns the standard ingestion bounds.
func DefaultFetchLimits() FetchLimits {
	return FetchLimits{
		PageSize:          50,
		GlobalCap:         500,
		MaxFolders:        10,
		MinPerFolder:      25,
		MaxPerFolder:      200,
		MaxPagesPerFolder: 10,
	}
}

// PerFolderCap computes the per-folder item cap for a folder count: each
// folder gets an even share of the global cap, floored at MinPerFolder and
// ceilinged at MaxPerFolder.
func (l FetchLimits) PerFolderCap(folderCount int) int {
	if folderCount < 1 {
		folderCount = 1
	}
	share := l.GlobalCap / folderCount
	if share < l.MinPerFolder {
		share = l.MinPerFolder
	}
	if share > l.MaxPerFolder {
		share = l.MaxPerFolder
	}
	return share
}

// FetchServiceImpl implements FetchService over a MailStore.
type FetchServiceImpl struct {
	store  MailStore
	limits FetchLimits
	logger *log.Logger
}

// NewFetchService creates a new fetch service.
func NewFetchService(store MailStore, limits FetchLimits) *FetchServiceImpl {
	return &FetchServiceImpl{store: store, limits: limits}
}

// SetLogger sets the logger for debug output.
func (s *FetchServiceImpl) SetLogger(logger *log.Logger) {
	s.logger = logger
}

// FetchFolder pages through one folder until the cap, the page budget, or a
// short page (end of folder). Pages preserve the store's received-descending
// order; errors from the store are surfaced unchanged, never retried here.
func (s *FetchServiceImpl) FetchFolder(ctx context.Context, folder mail.FolderRef, perFolderCap int) ([]mail.Record, error) {
	if perFolderCap <= 0 {
		perFolderCap = s.limits.PerFolderCap(1)
	}

	var out []mail.Record
	offset := 0
	for page := 0; page < s.limits.MaxPagesPerFolder; page++ {
		pageSize := s.limits.PageSize
		if remaining := perFolderCap - len(out); remaining < pageSize {
			pageSize = remaining
		}
		if pageSize <= 0 {
			break
		}

		records, err := s.store.ListMessages(ctx, folder, pageSize, offset)
		if err != nil {
			return out, fmt.Errorf("list %q (offset %d): %w", folder.DisplayName, offset, err)
		}
		out = append(out, records...)
		if len(records) < pageSize {
			break // end of folder
		}
		offset += len(records)
	}
	return out, nil
}

// FetchAll ingests inbox plus, when requested, up to MaxFolders-1 subfolders.
// Subfolder listing is best-effort: on failure the pass proceeds with the
// inbox alone. A per-folder fetch error is recorded in the stats and the
// pass continues; partial results beat none for a triage tool. Items seen
// in more than one folder listing are counted once, first occurrence wins.
func (s *FetchServiceImpl) FetchAll(ctx context.Context, includeSubfolders bool) (*FetchResult, error) {
	inbox, err := s.store.ResolveDistinguished(ctx, "inbox")
	if err != nil {
		return nil, fmt.Errorf("resolve inbox: %w", err)
	}

	folders := []mail.FolderRef{*inbox}
	if includeSubfolders {
		children, err := s.store.ListChildFolders(ctx, *inbox)
		if err != nil {
			if s.logger != nil {
				s.logger.Printf("subfolder listing failed, continuing with inbox only: %v", err)
			}
			children = nil
		}
		for _, child := range children {
			if len(folders) >= s.limits.MaxFolders {
				break
			}
			folders = append(folders, child)
		}
	}

	perFolderCap := s.limits.PerFolderCap(len(folders))
	result := &FetchResult{}
	seen := make(map[string]struct{})

	for _, folder := range folders {
		remaining := s.limits.GlobalCap - len(result.Messages)
		if remaining <= 0 {
			break // global cap reached, nothing more to page
		}
		folderCap := perFolderCap
		if remaining < folderCap {
			folderCap = remaining
		}

		stat := FolderStat{Folder: folder.DisplayName}
		records, err := s.FetchFolder(ctx, folder, folderCap)
		stat.Fetched = len(records)
		if err != nil {
			stat.Error = err.Error()
		}
		for i := range records {
			if len(result.Messages) >= s.limits.GlobalCap {
				break
			}
			if _, dup := seen[records[i].ID]; dup {
				continue
			}
			seen[records[i].ID] = struct{}{}
			rec := records[i]
			rec.SourceFolder = folder.DisplayName
			result.Messages = append(result.Messages, rec)
			stat.Included++
		}
		result.PerFolder = append(result.PerFolder, stat)
	}
	return result, nil
}
