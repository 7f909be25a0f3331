package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ajramos/mailsweep/internal/mail"
)

var testCriteria = TriageCriteria{
	Instruction: "file newsletters",
	Labels: []TriageLabel{
		{Name: "Newsletters", Description: "bulk mailing list content"},
		{Name: "Receipts", Description: "order confirmations"},
	},
}

func newTriageFixture() (*MockMailStore, *MockClassifier, *MockFolderService, *MockMoveService, *TriageServiceImpl) {
	store := &MockMailStore{}
	classifier := &MockClassifier{}
	folders := &MockFolderService{}
	mover := &MockMoveService{}
	svc := NewTriageService(store, classifier, folders, mover)
	return store, classifier, folders, mover, svc
}

func TestTriageService_EmptyCriteria(t *testing.T) {
	_, _, _, _, svc := newTriageFixture()
	_, err := svc.Run(context.Background(), []mail.Record{rec("1", "")}, TriageCriteria{}, TriageOptions{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "at least one label")
}

func TestTriageService_MatchMovesItem(t *testing.T) {
	store, classifier, folders, mover, svc := newTriageFixture()
	items := []mail.Record{rec("1", "<a@x>"), rec("2", "<b@x>")}
	dest := mail.FolderRef{ID: "news", DisplayName: "Newsletters"}

	store.On("GetFullBody", mock.Anything, mock.Anything).Return("body text")
	classifier.On("Classify", mock.Anything, items[0], "body text", testCriteria).
		Return(&Classification{Match: true, Label: "Newsletters", Rationale: "weekly digest"}, nil)
	classifier.On("Classify", mock.Anything, items[1], "body text", testCriteria).
		Return(&Classification{Match: false}, nil)
	folders.On("FindOrCreate", mock.Anything, "Newsletters").Return(&dest, nil)
	mover.On("Move", mock.Anything, "1", "rev-1", dest).Return(nil)

	result, err := svc.Run(context.Background(), items, testCriteria, TriageOptions{})
	assert.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Moved)
	assert.Equal(t, 0, result.Errors)
	assert.False(t, result.Aborted)
	assert.True(t, result.Results[0].Moved)
	assert.Equal(t, "weekly digest", result.Results[0].Reasoning)
	assert.False(t, result.Results[1].Match)
	assert.Equal(t, []FolderCount{{Folder: "Newsletters", Count: 1}}, result.ByLabel)
}

func TestTriageService_FolderResolvedOncePerLabel(t *testing.T) {
	store, classifier, folders, mover, svc := newTriageFixture()
	items := []mail.Record{rec("1", ""), rec("2", ""), rec("3", "")}
	dest := mail.FolderRef{ID: "news", DisplayName: "Newsletters"}

	store.On("GetFullBody", mock.Anything, mock.Anything).Return("")
	classifier.On("Classify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&Classification{Match: true, Label: "Newsletters"}, nil)
	folders.On("FindOrCreate", mock.Anything, "Newsletters").Return(&dest, nil)
	mover.On("Move", mock.Anything, mock.Anything, mock.Anything, dest).Return(nil)

	result, err := svc.Run(context.Background(), items, testCriteria, TriageOptions{})
	assert.NoError(t, err)
	assert.Equal(t, 3, result.Moved)
	folders.AssertNumberOfCalls(t, "FindOrCreate", 1)
}

func TestTriageService_FolderFailureMemoized(t *testing.T) {
	// A failed resolution is remembered for the run; the label is not
	// retried per item
	store, classifier, folders, mover, svc := newTriageFixture()
	items := []mail.Record{rec("1", ""), rec("2", "")}

	store.On("GetFullBody", mock.Anything, mock.Anything).Return("")
	classifier.On("Classify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&Classification{Match: true, Label: "Newsletters"}, nil)
	folders.On("FindOrCreate", mock.Anything, "Newsletters").Return(nil, ErrFolderUnavailable)

	result, err := svc.Run(context.Background(), items, testCriteria, TriageOptions{})
	assert.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 0, result.Moved)
	assert.Equal(t, 2, result.Errors)
	folders.AssertNumberOfCalls(t, "FindOrCreate", 1)
	mover.AssertNotCalled(t, "Move", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTriageService_ClassifierErrorIsolated(t *testing.T) {
	store, classifier, folders, mover, svc := newTriageFixture()
	items := []mail.Record{rec("1", ""), rec("2", "")}
	dest := mail.FolderRef{ID: "news", DisplayName: "Newsletters"}

	store.On("GetFullBody", mock.Anything, mock.Anything).Return("")
	classifier.On("Classify", mock.Anything, items[0], mock.Anything, mock.Anything).
		Return(nil, ErrTimeout)
	classifier.On("Classify", mock.Anything, items[1], mock.Anything, mock.Anything).
		Return(&Classification{Match: true, Label: "Newsletters"}, nil)
	folders.On("FindOrCreate", mock.Anything, "Newsletters").Return(&dest, nil)
	mover.On("Move", mock.Anything, "2", "rev-2", dest).Return(nil)

	result, err := svc.Run(context.Background(), items, testCriteria, TriageOptions{})
	assert.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 1, result.Moved)
	assert.Contains(t, result.Results[0].Error, "classification failed")
}

func TestTriageService_ModelNoiseReportedNotThrown(t *testing.T) {
	store, classifier, _, mover, svc := newTriageFixture()
	items := []mail.Record{rec("1", "")}

	store.On("GetFullBody", mock.Anything, mock.Anything).Return("")
	classifier.On("Classify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&Classification{Error: "unparseable model output"}, nil)

	result, err := svc.Run(context.Background(), items, testCriteria, TriageOptions{})
	assert.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, "unparseable model output", result.Results[0].Error)
	mover.AssertNotCalled(t, "Move", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTriageService_MaxIterations(t *testing.T) {
	store, classifier, _, _, svc := newTriageFixture()
	items := []mail.Record{rec("1", ""), rec("2", ""), rec("3", ""), rec("4", "")}

	store.On("GetFullBody", mock.Anything, mock.Anything).Return("")
	classifier.On("Classify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&Classification{Match: false}, nil)

	result, err := svc.Run(context.Background(), items, testCriteria, TriageOptions{MaxIterations: 2})
	assert.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	classifier.AssertNumberOfCalls(t, "Classify", 2)
}

func TestTriageService_AbortAtItemBoundary(t *testing.T) {
	// Cancelling mid-run stops before the next item; already processed
	// items stay processed and the result says so
	store, classifier, _, _, svc := newTriageFixture()
	items := []mail.Record{rec("1", ""), rec("2", ""), rec("3", ""), rec("4", "")}

	ctx, cancel := context.WithCancel(context.Background())
	processed := 0

	store.On("GetFullBody", mock.Anything, mock.Anything).Return("")
	classifier.On("Classify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&Classification{Match: false}, nil)

	result, err := svc.Run(ctx, items, testCriteria, TriageOptions{
		OnProgress: func(p TriageProgress) {
			processed++
			if processed == 2 {
				cancel()
			}
		},
	})
	assert.NoError(t, err)
	assert.True(t, result.Aborted)
	assert.Equal(t, 2, result.Processed)
	assert.Len(t, result.Results, 2)
	classifier.AssertNumberOfCalls(t, "Classify", 2)
}

func TestTriageService_ProgressOncePerItem(t *testing.T) {
	store, classifier, folders, mover, svc := newTriageFixture()
	items := []mail.Record{rec("1", ""), rec("2", ""), rec("3", "")}
	dest := mail.FolderRef{ID: "news", DisplayName: "Newsletters"}

	store.On("GetFullBody", mock.Anything, mock.Anything).Return("")
	classifier.On("Classify", mock.Anything, items[0], mock.Anything, mock.Anything).
		Return(&Classification{Match: true, Label: "Newsletters"}, nil)
	classifier.On("Classify", mock.Anything, items[1], mock.Anything, mock.Anything).
		Return(nil, ErrTimeout)
	classifier.On("Classify", mock.Anything, items[2], mock.Anything, mock.Anything).
		Return(&Classification{Match: false}, nil)
	folders.On("FindOrCreate", mock.Anything, "Newsletters").Return(&dest, nil)
	mover.On("Move", mock.Anything, "1", "rev-1", dest).Return(nil)

	var updates []TriageProgress
	result, err := svc.Run(context.Background(), items, testCriteria, TriageOptions{
		OnProgress: func(p TriageProgress) { updates = append(updates, p) },
	})
	assert.NoError(t, err)

	// Exactly one callback per item, matched, errored, or skipped alike
	assert.Len(t, updates, 3)
	assert.Equal(t, result.Processed, len(updates))
	for i, u := range updates {
		assert.Equal(t, i, u.Index)
		assert.Equal(t, 3, u.Total)
		assert.NotNil(t, u.Last)
	}
	assert.Equal(t, 1, updates[0].MovedCount)
	assert.True(t, updates[0].Last.Moved)
	assert.NotEmpty(t, updates[1].Last.Error)
}
