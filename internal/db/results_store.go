package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ajramos/mailsweep/internal/services"
)

const kindArchiveRun = "archive_run"

// ErrNoStoredResult indicates no previous run was persisted for the account.
var ErrNoStoredResult = errors.New("no stored result")

// ResultsStore persists the outcome of the most recent archive run per
// account so it can be recalled later without another mailbox sweep.
type ResultsStore struct {
	store *Store
}

// NewResultsStore creates a results store backed by the given database
func NewResultsStore(store *Store) *ResultsStore {
	return &ResultsStore{store: store}
}

// SaveArchiveResult overwrites the stored result for the account
func (r *ResultsStore) SaveArchiveResult(ctx context.Context, account string, result *services.ArchiveResult) error {
	if r == nil || r.store == nil || r.store.db == nil {
		return fmt.Errorf("results store not initialized")
	}
	if result == nil {
		return fmt.Errorf("nil result")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = r.store.db.ExecContext(ctx, `
INSERT INTO run_results (account, kind, payload, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(account, kind) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at;
`, account, kindArchiveRun, string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// ForAccount binds the store to a single account so it satisfies
// services.ResultSink.
func (r *ResultsStore) ForAccount(account string) services.ResultSink {
	return &accountSink{store: r, account: account}
}

type accountSink struct {
	store   *ResultsStore
	account string
}

func (a *accountSink) SaveArchiveResult(ctx context.Context, result *services.ArchiveResult) error {
	return a.store.SaveArchiveResult(ctx, a.account, result)
}

// LoadLastArchiveResult returns the most recently saved result for the
// account, or ErrNoStoredResult when none exists.
func (r *ResultsStore) LoadLastArchiveResult(ctx context.Context, account string) (*services.ArchiveResult, error) {
	if r == nil || r.store == nil || r.store.db == nil {
		return nil, fmt.Errorf("results store not initialized")
	}
	var payload string
	err := r.store.db.QueryRowContext(ctx,
		"SELECT payload FROM run_results WHERE account = ? AND kind = ?", account, kindArchiveRun,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoStoredResult
	}
	if err != nil {
		return nil, fmt.Errorf("load result: %w", err)
	}
	var result services.ArchiveResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}
