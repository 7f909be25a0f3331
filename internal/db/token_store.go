package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/ajramos/mailsweep/internal/services"
)

const (
	// defaultFlushDelay batches rapid token captures into one write.
	defaultFlushDelay = 2 * time.Second
	// defaultTokenCap bounds how many tokens are retained.
	defaultTokenCap = 20
	// defaultTokenTTL discards tokens older than this on read and prune.
	defaultTokenTTL = 45 * time.Minute
)

// TokenStore captures bearer tokens observed on the wire and persists
// them with a small write debounce. Captures arrive in bursts during a
// sweep, so each Capture arms (or re-arms) a timer instead of hitting
// the database directly.
type TokenStore struct {
	store *Store

	flushDelay time.Duration
	capacity   int
	ttl        time.Duration
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time
	timer   *time.Timer
	closed  bool
}

// NewTokenStore creates a token capture store backed by the database
func NewTokenStore(store *Store) *TokenStore {
	return &TokenStore{
		store:      store,
		flushDelay: defaultFlushDelay,
		capacity:   defaultTokenCap,
		ttl:        defaultTokenTTL,
		now:        time.Now,
		pending:    make(map[string]time.Time),
	}
}

// Capture records a bearer token for later reuse. Duplicate captures of
// the same token refresh its timestamp. Empty tokens are ignored.
func (t *TokenStore) Capture(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.pending[token] = t.now()
	if t.timer == nil {
		t.timer = time.AfterFunc(t.flushDelay, t.flushTimer)
	} else {
		t.timer.Reset(t.flushDelay)
	}
}

func (t *TokenStore) flushTimer() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = t.Flush(ctx)
}

// Flush writes any pending captures to the database and prunes stale
// or excess rows. Safe to call at any time.
func (t *TokenStore) Flush(ctx context.Context) error {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	batch := t.pending
	t.pending = make(map[string]time.Time)
	t.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if t.store == nil || t.store.db == nil {
		return fmt.Errorf("token store not initialized")
	}

	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("flush tokens: %w", err)
	}
	for token, at := range batch {
		_, err = tx.ExecContext(ctx, `
INSERT INTO captured_tokens (token, captured_at) VALUES (?, ?)
ON CONFLICT(token) DO UPDATE SET captured_at=excluded.captured_at;
`, token, at.Unix())
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("flush tokens: %w", err)
		}
	}
	if err := t.prune(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("flush tokens: %w", err)
	}
	return nil
}

func (t *TokenStore) prune(ctx context.Context, tx *sql.Tx) error {
	cutoff := t.now().Add(-t.ttl).Unix()
	if _, err := tx.ExecContext(ctx, "DELETE FROM captured_tokens WHERE captured_at < ?", cutoff); err != nil {
		return fmt.Errorf("prune tokens: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
DELETE FROM captured_tokens WHERE token NOT IN (
  SELECT token FROM captured_tokens ORDER BY captured_at DESC LIMIT ?
);
`, t.capacity)
	if err != nil {
		return fmt.Errorf("prune tokens: %w", err)
	}
	return nil
}

// Current returns the newest unexpired token. Pending captures take
// precedence over persisted rows.
func (t *TokenStore) Current(ctx context.Context) (string, error) {
	cutoff := t.now().Add(-t.ttl)

	t.mu.Lock()
	var best string
	var bestAt time.Time
	for token, at := range t.pending {
		if at.Before(cutoff) {
			continue
		}
		if at.After(bestAt) {
			best, bestAt = token, at
		}
	}
	t.mu.Unlock()
	if best != "" {
		return best, nil
	}

	if t.store == nil || t.store.db == nil {
		return "", fmt.Errorf("token store not initialized")
	}
	var token string
	err := t.store.db.QueryRowContext(ctx, `
SELECT token FROM captured_tokens WHERE captured_at >= ?
ORDER BY captured_at DESC LIMIT 1;
`, cutoff.Unix()).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", services.ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	return token, nil
}

// TokenSource exposes captured tokens as an oauth2.TokenSource so mail
// clients can consume them directly.
func (t *TokenStore) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &capturedTokenSource{ctx: ctx, store: t}
}

type capturedTokenSource struct {
	ctx   context.Context
	store *TokenStore
}

func (c *capturedTokenSource) Token() (*oauth2.Token, error) {
	tok, err := c.store.Current(c.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

// Close flushes pending captures and stops the debounce timer
func (t *TokenStore) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return t.Flush(ctx)
}
