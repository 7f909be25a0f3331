package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ajramos/mailsweep/internal/mail"
)

func newArchiveFixture() (*MockFetchService, *MockMoveService, *MockFolderService, *MockResultSink, *ArchiveServiceImpl) {
	fetcher := &MockFetchService{}
	mover := &MockMoveService{}
	folders := &MockFolderService{}
	sink := &MockResultSink{}
	svc := NewArchiveService(fetcher, mover, func() FolderService { return folders }, sink)
	return fetcher, mover, folders, sink, svc
}

func srcRec(id, messageID, folder string, refs ...string) mail.Record {
	r := rec(id, messageID, refs...)
	r.SourceFolder = folder
	return r
}

func TestArchiveService_HappyPath(t *testing.T) {
	fetcher, mover, folders, sink, svc := newArchiveFixture()
	ctx := context.Background()

	dupes := mail.FolderRef{ID: "dupes", DisplayName: "Duplicates"}
	archive := mail.FolderRef{ID: "arch", DisplayName: "Archive"}

	// First pass: one duplicate pair plus a superseded parent
	firstPass := &FetchResult{
		Messages: []mail.Record{
			srcRec("keep", "<dup@x>", "Inbox"),
			srcRec("extra", "<dup@x>", "Inbox"),
			srcRec("parent", "<p@x>", "Inbox"),
			srcRec("reply", "<r@x>", "Inbox", "<p@x>"),
		},
		PerFolder: []FolderStat{{Folder: "Inbox", Fetched: 4, Included: 4}},
	}
	// Second pass: duplicate already relocated, graph recomputed fresh
	secondPass := &FetchResult{
		Messages: []mail.Record{
			srcRec("keep", "<dup@x>", "Inbox"),
			srcRec("parent", "<p@x>", "Inbox"),
			srcRec("reply", "<r@x>", "Inbox", "<p@x>"),
		},
	}

	fetcher.On("FetchAll", mock.Anything, false).Return(firstPass, nil).Once()
	fetcher.On("FetchAll", mock.Anything, false).Return(secondPass, nil).Once()
	folders.On("Find", mock.Anything, "Duplicates").Return(&dupes, nil)
	folders.On("ResolveArchive", mock.Anything).Return(&archive, nil)
	mover.On("Move", mock.Anything, "extra", "rev-extra", dupes).Return(nil)
	mover.On("Move", mock.Anything, "parent", "rev-parent", archive).Return(nil)
	sink.On("SaveArchiveResult", mock.Anything, mock.Anything).Return(nil)

	result, err := svc.Run(ctx, ArchiveOptions{})
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 4, result.TotalScanned)
	assert.Equal(t, 1, result.DuplicateCount)
	assert.Equal(t, 1, result.DuplicatesMovedCount)
	assert.Equal(t, 1, result.ArchivedCount)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, []FolderCount{{Folder: "Inbox", Count: 1}}, result.ToArchiveByFolder)
	assert.NotEmpty(t, result.Log)
	mover.AssertExpectations(t)
	sink.AssertExpectations(t)
	fetcher.AssertNumberOfCalls(t, "FetchAll", 2)
}

func TestArchiveService_DryRun(t *testing.T) {
	fetcher, mover, _, sink, svc := newArchiveFixture()

	pass := &FetchResult{
		Messages: []mail.Record{
			srcRec("keep", "<dup@x>", "Inbox"),
			srcRec("extra", "<dup@x>", "Inbox"),
			srcRec("parent", "<p@x>", "Updates"),
			srcRec("reply", "<r@x>", "Inbox", "<p@x>"),
		},
	}
	fetcher.On("FetchAll", mock.Anything, true).Return(pass, nil)

	result, err := svc.Run(context.Background(), ArchiveOptions{DryRun: true, IncludeSubfolders: true})
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.DuplicateCount)
	assert.Equal(t, []FolderCount{{Folder: "Updates", Count: 1}}, result.ToArchiveByFolder)

	// Nothing moves, nothing re-fetches, nothing persists
	mover.AssertNotCalled(t, "Move", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	sink.AssertNotCalled(t, "SaveArchiveResult", mock.Anything, mock.Anything)
	fetcher.AssertNumberOfCalls(t, "FetchAll", 1)
}

func TestArchiveService_DryRunIdempotent(t *testing.T) {
	fetcher, _, _, _, svc := newArchiveFixture()

	pass := &FetchResult{Messages: []mail.Record{
		srcRec("a", "<a@x>", "Inbox"),
		srcRec("b", "<b@x>", "Inbox", "<a@x>"),
	}}
	fetcher.On("FetchAll", mock.Anything, false).Return(pass, nil)

	first, err := svc.Run(context.Background(), ArchiveOptions{DryRun: true})
	assert.NoError(t, err)
	second, err := svc.Run(context.Background(), ArchiveOptions{DryRun: true})
	assert.NoError(t, err)
	assert.Equal(t, first.ToArchiveByFolder, second.ToArchiveByFolder)
	assert.Equal(t, first.DuplicateCount, second.DuplicateCount)
}

func TestArchiveService_DuplicatesFolderAbsent(t *testing.T) {
	// The duplicates folder is never auto-created; its absence skips
	// duplicate handling but the archive pass still runs
	fetcher, mover, folders, sink, svc := newArchiveFixture()

	pass := &FetchResult{Messages: []mail.Record{
		srcRec("keep", "<dup@x>", "Inbox"),
		srcRec("extra", "<dup@x>", "Inbox"),
		srcRec("parent", "<p@x>", "Inbox"),
		srcRec("reply", "<r@x>", "Inbox", "<p@x>"),
	}}
	archive := mail.FolderRef{ID: "arch", DisplayName: "Archive"}

	fetcher.On("FetchAll", mock.Anything, false).Return(pass, nil)
	folders.On("Find", mock.Anything, "Duplicates").Return(nil, nil)
	folders.On("ResolveArchive", mock.Anything).Return(&archive, nil)
	mover.On("Move", mock.Anything, "parent", "rev-parent", archive).Return(nil)
	sink.On("SaveArchiveResult", mock.Anything, mock.Anything).Return(nil)

	result, err := svc.Run(context.Background(), ArchiveOptions{})
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.DuplicatesMovedCount)
	assert.Equal(t, 1, result.ArchivedCount)
	// The skip is narrated, not silent
	assert.Contains(t, joinLines(result.Log), "skipping duplicate handling")
	mover.AssertNotCalled(t, "Move", mock.Anything, "extra", mock.Anything, mock.Anything)
	folders.AssertNotCalled(t, "FindOrCreate", mock.Anything, mock.Anything)
}

func TestArchiveService_ArchiveResolveFailureFailsRun(t *testing.T) {
	fetcher, mover, folders, sink, svc := newArchiveFixture()

	pass := &FetchResult{Messages: []mail.Record{
		srcRec("parent", "<p@x>", "Inbox"),
		srcRec("reply", "<r@x>", "Inbox", "<p@x>"),
	}}
	fetcher.On("FetchAll", mock.Anything, false).Return(pass, nil)
	folders.On("ResolveArchive", mock.Anything).Return(nil, ErrNotFound)
	sink.On("SaveArchiveResult", mock.Anything, mock.Anything).Return(nil)

	result, err := svc.Run(context.Background(), ArchiveOptions{})
	assert.Error(t, err)
	assert.NotNil(t, result)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.NotEmpty(t, result.Log)
	assert.Equal(t, 0, result.ArchivedCount)
	mover.AssertNotCalled(t, "Move", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestArchiveService_InitialFetchFailure(t *testing.T) {
	fetcher, _, _, sink, svc := newArchiveFixture()

	fetcher.On("FetchAll", mock.Anything, false).Return(nil, ErrUnauthorized)
	sink.On("SaveArchiveResult", mock.Anything, mock.Anything).Return(nil)

	result, err := svc.Run(context.Background(), ArchiveOptions{})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "initial fetch")
}

func TestArchiveService_MoveFailuresAreIsolated(t *testing.T) {
	fetcher, mover, folders, sink, svc := newArchiveFixture()

	pass := &FetchResult{Messages: []mail.Record{
		srcRec("p1", "<p1@x>", "Inbox"),
		srcRec("p2", "<p2@x>", "Inbox"),
		srcRec("r1", "<r1@x>", "Inbox", "<p1@x>"),
		srcRec("r2", "<r2@x>", "Inbox", "<p2@x>"),
	}}
	archive := mail.FolderRef{ID: "arch", DisplayName: "Archive"}

	fetcher.On("FetchAll", mock.Anything, false).Return(pass, nil)
	folders.On("ResolveArchive", mock.Anything).Return(&archive, nil)
	mover.On("Move", mock.Anything, "p1", "rev-p1", archive).Return(ErrConflict)
	mover.On("Move", mock.Anything, "p2", "rev-p2", archive).Return(nil)
	sink.On("SaveArchiveResult", mock.Anything, mock.Anything).Return(nil)

	result, err := svc.Run(context.Background(), ArchiveOptions{})
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ArchivedCount)
	assert.Equal(t, 1, result.Errors)
	mover.AssertNumberOfCalls(t, "Move", 2)
}

func TestArchiveService_LogMarksTransientMoveFailures(t *testing.T) {
	fetcher, mover, folders, sink, svc := newArchiveFixture()

	pass := &FetchResult{Messages: []mail.Record{
		srcRec("p1", "<p1@x>", "Inbox"),
		srcRec("p2", "<p2@x>", "Inbox"),
		srcRec("r1", "<r1@x>", "Inbox", "<p1@x>"),
		srcRec("r2", "<r2@x>", "Inbox", "<p2@x>"),
	}}
	archive := mail.FolderRef{ID: "arch", DisplayName: "Archive"}

	fetcher.On("FetchAll", mock.Anything, false).Return(pass, nil)
	folders.On("ResolveArchive", mock.Anything).Return(&archive, nil)
	mover.On("Move", mock.Anything, "p1", "rev-p1", archive).Return(ErrRateLimited)
	mover.On("Move", mock.Anything, "p2", "rev-p2", archive).Return(ErrConflict)
	sink.On("SaveArchiveResult", mock.Anything, mock.Anything).Return(nil)

	result, err := svc.Run(context.Background(), ArchiveOptions{})
	assert.NoError(t, err)
	assert.Equal(t, 2, result.Errors)

	log := joinLines(result.Log)
	// Rate limiting clears on its own; a revision conflict will not.
	assert.Contains(t, log, `archive move failed for "subject p1" (transient)`)
	assert.Contains(t, log, `archive move failed for "subject p2":`)
	assert.NotContains(t, log, `"subject p2" (transient)`)
}

func TestArchiveService_SingleFlight(t *testing.T) {
	fetcher, _, _, _, svc := newArchiveFixture()

	started := make(chan struct{})
	unblock := make(chan struct{})
	var startedOnce sync.Once
	fetcher.On("FetchAll", mock.Anything, false).Run(func(mock.Arguments) {
		startedOnce.Do(func() { close(started) })
		<-unblock
	}).Return(&FetchResult{}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = svc.Run(context.Background(), ArchiveOptions{DryRun: true})
	}()

	<-started
	_, err := svc.Run(context.Background(), ArchiveOptions{DryRun: true})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(unblock)
	wg.Wait()

	// The flag clears on completion; a later run is admitted
	result, err := svc.Run(context.Background(), ArchiveOptions{DryRun: true})
	assert.NoError(t, err)
	assert.True(t, result.Success)
}

func TestArchiveService_SingleFlightClearsOnFailure(t *testing.T) {
	fetcher, _, folders, sink, svc := newArchiveFixture()

	archive := mail.FolderRef{ID: "arch", DisplayName: "Archive"}
	fetcher.On("FetchAll", mock.Anything, false).Return(nil, ErrServerError).Once()
	fetcher.On("FetchAll", mock.Anything, false).Return(&FetchResult{}, nil)
	folders.On("ResolveArchive", mock.Anything).Return(&archive, nil)
	sink.On("SaveArchiveResult", mock.Anything, mock.Anything).Return(nil)

	_, err := svc.Run(context.Background(), ArchiveOptions{})
	assert.Error(t, err)

	result, err := svc.Run(context.Background(), ArchiveOptions{})
	assert.NoError(t, err)
	assert.True(t, result.Success)
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}
