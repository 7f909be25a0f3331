package mail

import (
	"fmt"
	"sync"
	"time"
)

// Record is the normalized representation of one mail item within a run.
// ID is unique within a single fetch pass. RevisionToken is required for
// mutations and becomes stale after any write to the item, so it must be
// re-fetched before a mutation that follows an earlier mutation in the
// same run.
type Record struct {
	ID            string    `json:"id"`
	RevisionToken string    `json:"revision_token"`
	Subject       string    `json:"subject"`
	Sender        string    `json:"sender"`
	ReceivedAt    time.Time `json:"received_at"`

	// MessageID is the normalized RFC Message-ID header including angle
	// brackets, empty when the header is absent. Records without one never
	// participate in reply or duplicate grouping.
	MessageID  string   `json:"message_id"`
	InReplyTo  []string `json:"in_reply_to"`
	References []string `json:"references"`

	SourceFolder string   `json:"source_folder"`
	PreviewText  string   `json:"preview_text"`
	Importance   string   `json:"importance"`
	IsRead       bool     `json:"is_read"`
	ToRecipients []string `json:"to_recipients"`
	CcRecipients []string `json:"cc_recipients"`
}

// ReferencedIDs returns the Message-IDs this record points at, in header order.
func (r *Record) ReferencedIDs() []string {
	out := make([]string, 0, len(r.InReplyTo)+len(r.References))
	out = append(out, r.InReplyTo...)
	out = append(out, r.References...)
	return out
}

// FolderKind distinguishes how a folder reference was obtained.
type FolderKind string

const (
	// FolderByID is a folder addressed by its opaque store identifier.
	FolderByID FolderKind = "byId"
	// FolderDistinguished is a well-known folder addressed by a fixed label
	// (archive, inbox) rather than by display name.
	FolderDistinguished FolderKind = "distinguished"
)

// FolderRef identifies a folder within the remote store. Folder identity is
// not guaranteed stable across sessions, so references are resolved lazily
// per run and never cached across runs.
type FolderRef struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Kind        FolderKind `json:"kind"`
}

// DuplicateGroup collects the records sharing one Message-ID, in ingestion
// order. The first record is the designated keeper; the rest are candidates
// for relocation.
type DuplicateGroup struct {
	MessageID string   `json:"message_id"`
	Records   []Record `json:"records"`
}

// Keeper returns the record retained in place.
func (g *DuplicateGroup) Keeper() *Record {
	if len(g.Records) == 0 {
		return nil
	}
	return &g.Records[0]
}

// Movable returns the records eligible for relocation, in ingestion order.
func (g *DuplicateGroup) Movable() []Record {
	if len(g.Records) < 2 {
		return nil
	}
	return g.Records[1:]
}

// RunLog is the append-only, timestamped audit trail of one run. It is owned
// and appended to exclusively by the orchestrator for the duration of a run
// and handed to the caller as an immutable snapshot at completion.
type RunLog struct {
	mu    sync.Mutex
	now   func() time.Time
	lines []string
}

// NewRunLog creates an empty run log.
func NewRunLog() *RunLog {
	return &RunLog{now: time.Now}
}

// Appendf formats and appends one timestamped line.
func (l *RunLog) Appendf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("[%s] %s", l.now().Format("15:04:05"), fmt.Sprintf(format, args...))
	l.lines = append(l.lines, line)
}

// Lines returns a copy of the log so callers cannot mutate the trail.
func (l *RunLog) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Len returns the number of recorded lines.
func (l *RunLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}
