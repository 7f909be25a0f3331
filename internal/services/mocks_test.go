package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ajramos/mailsweep/internal/mail"
)

// MockMailStore is a testify mock of the MailStore boundary
type MockMailStore struct {
	mock.Mock
}

func (m *MockMailStore) ListMessages(ctx context.Context, folder mail.FolderRef, pageSize, offset int) ([]mail.Record, error) {
	args := m.Called(ctx, folder, pageSize, offset)
	var recs []mail.Record
	if v := args.Get(0); v != nil {
		recs = v.([]mail.Record)
	}
	return recs, args.Error(1)
}

func (m *MockMailStore) ListChildFolders(ctx context.Context, parent mail.FolderRef) ([]mail.FolderRef, error) {
	args := m.Called(ctx, parent)
	var folders []mail.FolderRef
	if v := args.Get(0); v != nil {
		folders = v.([]mail.FolderRef)
	}
	return folders, args.Error(1)
}

func (m *MockMailStore) FindFolderByName(ctx context.Context, name string) (*mail.FolderRef, error) {
	args := m.Called(ctx, name)
	var ref *mail.FolderRef
	if v := args.Get(0); v != nil {
		ref = v.(*mail.FolderRef)
	}
	return ref, args.Error(1)
}

func (m *MockMailStore) CreateFolder(ctx context.Context, name string) (*mail.FolderRef, error) {
	args := m.Called(ctx, name)
	var ref *mail.FolderRef
	if v := args.Get(0); v != nil {
		ref = v.(*mail.FolderRef)
	}
	return ref, args.Error(1)
}

func (m *MockMailStore) ResolveDistinguished(ctx context.Context, label string) (*mail.FolderRef, error) {
	args := m.Called(ctx, label)
	var ref *mail.FolderRef
	if v := args.Get(0); v != nil {
		ref = v.(*mail.FolderRef)
	}
	return ref, args.Error(1)
}

func (m *MockMailStore) MoveMessage(ctx context.Context, itemID, revisionToken string, dest mail.FolderRef) error {
	args := m.Called(ctx, itemID, revisionToken, dest)
	return args.Error(0)
}

func (m *MockMailStore) GetFullBody(ctx context.Context, itemID string) string {
	args := m.Called(ctx, itemID)
	return args.String(0)
}

// MockClassifier is a testify mock of the Classifier boundary
type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Classify(ctx context.Context, item mail.Record, body string, criteria TriageCriteria) (*Classification, error) {
	args := m.Called(ctx, item, body, criteria)
	var verdict *Classification
	if v := args.Get(0); v != nil {
		verdict = v.(*Classification)
	}
	return verdict, args.Error(1)
}

// MockFetchService is a testify mock of FetchService
type MockFetchService struct {
	mock.Mock
}

func (m *MockFetchService) FetchFolder(ctx context.Context, folder mail.FolderRef, perFolderCap int) ([]mail.Record, error) {
	args := m.Called(ctx, folder, perFolderCap)
	var recs []mail.Record
	if v := args.Get(0); v != nil {
		recs = v.([]mail.Record)
	}
	return recs, args.Error(1)
}

func (m *MockFetchService) FetchAll(ctx context.Context, includeSubfolders bool) (*FetchResult, error) {
	args := m.Called(ctx, includeSubfolders)
	var result *FetchResult
	if v := args.Get(0); v != nil {
		result = v.(*FetchResult)
	}
	return result, args.Error(1)
}

// MockMoveService is a testify mock of MoveService
type MockMoveService struct {
	mock.Mock
}

func (m *MockMoveService) Move(ctx context.Context, itemID, revisionToken string, dest mail.FolderRef) error {
	args := m.Called(ctx, itemID, revisionToken, dest)
	return args.Error(0)
}

// MockFolderService is a testify mock of FolderService
type MockFolderService struct {
	mock.Mock
}

func (m *MockFolderService) Find(ctx context.Context, name string) (*mail.FolderRef, error) {
	args := m.Called(ctx, name)
	var ref *mail.FolderRef
	if v := args.Get(0); v != nil {
		ref = v.(*mail.FolderRef)
	}
	return ref, args.Error(1)
}

func (m *MockFolderService) FindOrCreate(ctx context.Context, name string) (*mail.FolderRef, error) {
	args := m.Called(ctx, name)
	var ref *mail.FolderRef
	if v := args.Get(0); v != nil {
		ref = v.(*mail.FolderRef)
	}
	return ref, args.Error(1)
}

func (m *MockFolderService) ResolveArchive(ctx context.Context) (*mail.FolderRef, error) {
	args := m.Called(ctx)
	var ref *mail.FolderRef
	if v := args.Get(0); v != nil {
		ref = v.(*mail.FolderRef)
	}
	return ref, args.Error(1)
}

// MockResultSink is a testify mock of ResultSink
type MockResultSink struct {
	mock.Mock
}

func (m *MockResultSink) SaveArchiveResult(ctx context.Context, result *ArchiveResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

// rec builds a minimal record for tests
func rec(id, messageID string, refs ...string) mail.Record {
	return mail.Record{
		ID:            id,
		RevisionToken: "rev-" + id,
		Subject:       "subject " + id,
		MessageID:     messageID,
		References:    refs,
	}
}
