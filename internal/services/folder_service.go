package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/ajramos/mailsweep/internal/mail"
)

// DistinguishedArchive is the well-known label of the archive folder.
const DistinguishedArchive = "archive"

// FolderServiceImpl implements FolderService with per-run memoization.
// Resolutions are cached only for the lifetime of this instance; folder
// identity is not guaranteed stable across sessions.
type FolderServiceImpl struct {
	store  MailStore
	logger *log.Logger

	mu     sync.Mutex
	byName map[string]*mail.FolderRef
}

// NewFolderService creates a new folder service.
func NewFolderService(store MailStore) *FolderServiceImpl {
	return &FolderServiceImpl{
		store:  store,
		byName: make(map[string]*mail.FolderRef),
	}
}

// SetLogger sets the logger for debug output.
func (s *FolderServiceImpl) SetLogger(logger *log.Logger) {
	s.logger = logger
}

// Find locates a folder by display name. Returns (nil, nil) when absent.
func (s *FolderServiceImpl) Find(ctx context.Context, name string) (*mail.FolderRef, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("folder name cannot be empty")
	}

	s.mu.Lock()
	if ref, ok := s.byName[name]; ok {
		s.mu.Unlock()
		return ref, nil
	}
	s.mu.Unlock()

	ref, err := s.store.FindFolderByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find folder %q: %w", name, err)
	}
	if ref != nil {
		s.remember(name, ref)
	}
	return ref, nil
}

// FindOrCreate finds the named folder under the mailbox root, creating it
// when absent. A failed create is retried once with a second find to cover
// the create/find race against another client; if the folder is still
// absent the call fails with ErrFolderUnavailable. No unbounded retries.
func (s *FolderServiceImpl) FindOrCreate(ctx context.Context, name string) (*mail.FolderRef, error) {
	ref, err := s.Find(ctx, name)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		return ref, nil
	}

	created, createErr := s.store.CreateFolder(ctx, name)
	if createErr == nil && created != nil {
		s.remember(name, created)
		return created, nil
	}
	if s.logger != nil {
		s.logger.Printf("create folder %q failed, re-finding: %v", name, createErr)
	}

	ref, err = s.store.FindFolderByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("re-find folder %q: %w", name, err)
	}
	if ref == nil {
		return nil, fmt.Errorf("folder %q: %w", name, ErrFolderUnavailable)
	}
	s.remember(name, ref)
	return ref, nil
}

// ResolveArchive resolves the archive folder via its distinguished label.
// The archive folder is a standard system folder and is never created by
// this system; absence fails the caller's run.
func (s *FolderServiceImpl) ResolveArchive(ctx context.Context) (*mail.FolderRef, error) {
	ref, err := s.store.ResolveDistinguished(ctx, DistinguishedArchive)
	if err != nil {
		return nil, fmt.Errorf("resolve archive folder: %w", err)
	}
	return ref, nil
}

func (s *FolderServiceImpl) remember(name string, ref *mail.FolderRef) {
	s.mu.Lock()
	s.byName[name] = ref
	s.mu.Unlock()
}
