// Package gmailstore adapts the Gmail API to the MailStore boundary.
// Gmail has labels rather than folders: user labels stand in for
// subfolders and destinations, and archiving is removing the INBOX label.
package gmailstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ajramos/mailsweep/internal/mail"
	"github.com/ajramos/mailsweep/internal/render"
	"github.com/ajramos/mailsweep/internal/services"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

const user = "me"

// archiveID is the pseudo-folder standing in for Gmail's archive, which is
// the absence of the INBOX label rather than a real destination.
const archiveID = "\x00archive"

// previewMaxLen bounds previews derived locally from body parts.
const previewMaxLen = 160

// Client implements services.MailStore over the Gmail API.
type Client struct {
	svc *gmail.Service

	mu         sync.Mutex
	pageTokens map[string]string // folderID:offset -> page token
}

// NewClient creates a Gmail-backed mail store.
func NewClient(svc *gmail.Service) *Client {
	return &Client{svc: svc, pageTokens: make(map[string]string)}
}

// ListMessages returns one page of a label's messages, newest first. Gmail
// paginates by token, not offset; tokens observed while paging forward are
// remembered so the engine's sequential offsets can be replayed.
func (c *Client) ListMessages(ctx context.Context, folder mail.FolderRef, pageSize, offset int) ([]mail.Record, error) {
	token := ""
	if offset > 0 {
		c.mu.Lock()
		token = c.pageTokens[fmt.Sprintf("%s:%d", folder.ID, offset)]
		c.mu.Unlock()
		if token == "" {
			// Never paged this far; treat as end of folder.
			return nil, nil
		}
	}

	call := c.svc.Users.Messages.List(user).
		LabelIds(folder.ID).
		MaxResults(int64(pageSize)).
		Context(ctx)
	if token != "" {
		call = call.PageToken(token)
	}
	res, err := call.Do()
	if err != nil {
		return nil, mapAPIError(err)
	}
	if res.NextPageToken != "" {
		c.mu.Lock()
		c.pageTokens[fmt.Sprintf("%s:%d", folder.ID, offset+len(res.Messages))] = res.NextPageToken
		c.mu.Unlock()
	}

	records := make([]mail.Record, 0, len(res.Messages))
	for _, stub := range res.Messages {
		msg, err := c.svc.Users.Messages.Get(user, stub.Id).
			Format("metadata").
			MetadataHeaders("Subject", "From", "To", "Cc", "Date", "Message-ID", "In-Reply-To", "References").
			Context(ctx).Do()
		if err != nil {
			return records, mapAPIError(err)
		}
		records = append(records, normalizeMessage(msg, folder.DisplayName))
	}
	return records, nil
}

// ListChildFolders lists user labels as the inbox's subfolders.
func (c *Client) ListChildFolders(ctx context.Context, parent mail.FolderRef) ([]mail.FolderRef, error) {
	res, err := c.svc.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return nil, mapAPIError(err)
	}
	var out []mail.FolderRef
	for _, l := range res.Labels {
		if l.Type != "user" {
			continue
		}
		out = append(out, mail.FolderRef{ID: l.Id, DisplayName: l.Name, Kind: mail.FolderByID})
	}
	return out, nil
}

// FindFolderByName locates a user label by display name.
func (c *Client) FindFolderByName(ctx context.Context, name string) (*mail.FolderRef, error) {
	res, err := c.svc.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return nil, mapAPIError(err)
	}
	for _, l := range res.Labels {
		if strings.EqualFold(l.Name, name) {
			return &mail.FolderRef{ID: l.Id, DisplayName: l.Name, Kind: mail.FolderByID}, nil
		}
	}
	return nil, nil
}

// CreateFolder creates a user label.
func (c *Client) CreateFolder(ctx context.Context, name string) (*mail.FolderRef, error) {
	label, err := c.svc.Users.Labels.Create(user, &gmail.Label{Name: name}).Context(ctx).Do()
	if err != nil {
		return nil, mapAPIError(err)
	}
	return &mail.FolderRef{ID: label.Id, DisplayName: label.Name, Kind: mail.FolderByID}, nil
}

// ResolveDistinguished maps the well-known labels onto Gmail's system
// labels. Archive resolves to the pseudo-folder handled by MoveMessage.
func (c *Client) ResolveDistinguished(ctx context.Context, label string) (*mail.FolderRef, error) {
	switch strings.ToLower(label) {
	case "inbox":
		return &mail.FolderRef{ID: "INBOX", DisplayName: "Inbox", Kind: mail.FolderDistinguished}, nil
	case "archive":
		return &mail.FolderRef{ID: archiveID, DisplayName: "Archive", Kind: mail.FolderDistinguished}, nil
	default:
		return nil, fmt.Errorf("distinguished label %q: %w", label, services.ErrNotFound)
	}
}

// MoveMessage applies the label mutation corresponding to a move: the
// destination label is added and INBOX removed, or for the archive
// pseudo-folder, INBOX alone is removed. Gmail has no revision tokens; the
// token argument is accepted and ignored.
func (c *Client) MoveMessage(ctx context.Context, itemID, revisionToken string, dest mail.FolderRef) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"INBOX"}}
	if dest.ID != archiveID {
		req.AddLabelIds = []string{dest.ID}
	}
	if _, err := c.svc.Users.Messages.Modify(user, itemID, req).Context(ctx).Do(); err != nil {
		return mapAPIError(err)
	}
	return nil
}

// GetFullBody fetches and extracts the message body as text. Best-effort:
// empty string on any failure.
func (c *Client) GetFullBody(ctx context.Context, itemID string) string {
	msg, err := c.svc.Users.Messages.Get(user, itemID).Format("full").Context(ctx).Do()
	if err != nil || msg.Payload == nil {
		return ""
	}
	if text := extractPart(msg.Payload, "text/plain"); text != "" {
		return text
	}
	if h := extractPart(msg.Payload, "text/html"); h != "" {
		return render.HTMLToText(h)
	}
	return msg.Snippet
}

func normalizeMessage(msg *gmail.Message, folderName string) mail.Record {
	rec := mail.Record{
		ID: msg.Id,
		// Gmail invalidates nothing on move; the history ID stands in so
		// records still carry an opaque revision marker.
		RevisionToken: fmt.Sprintf("%d", msg.HistoryId),
		ReceivedAt:    time.UnixMilli(msg.InternalDate),
		SourceFolder:  folderName,
		PreviewText:   msg.Snippet,
		IsRead:        !hasLabel(msg, "UNREAD"),
	}
	if hasLabel(msg, "IMPORTANT") {
		rec.Importance = "high"
	}
	rec.Subject = header(msg, "Subject")
	rec.Sender = header(msg, "From")
	rec.MessageID = mail.NormalizeMessageID(header(msg, "Message-ID"))
	rec.InReplyTo = mail.ParseMessageIDList(header(msg, "In-Reply-To"))
	rec.References = mail.ParseMessageIDList(header(msg, "References"))
	rec.ToRecipients = splitAddresses(header(msg, "To"))
	rec.CcRecipients = splitAddresses(header(msg, "Cc"))
	if rec.PreviewText == "" {
		// No snippet on this payload; derive a preview from the body parts.
		if text := extractPart(msg.Payload, "text/plain"); text != "" {
			rec.PreviewText = render.PreviewText(text, previewMaxLen)
		} else if h := extractPart(msg.Payload, "text/html"); h != "" {
			rec.PreviewText = render.PreviewText(render.HTMLToText(h), previewMaxLen)
		}
	}
	return rec
}

func header(msg *gmail.Message, name string) string {
	if msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func hasLabel(msg *gmail.Message, id string) bool {
	for _, l := range msg.LabelIds {
		if l == id {
			return true
		}
	}
	return false
}

func splitAddresses(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func extractPart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			return ""
		}
		return string(data)
	}
	for _, p := range part.Parts {
		if text := extractPart(p, mimeType); text != "" {
			return text
		}
	}
	return ""
}

// mapAPIError folds Gmail API errors onto the engine's sentinels.
func mapAPIError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 401 || gerr.Code == 403:
			return fmt.Errorf("%w: %v", services.ErrUnauthorized, err)
		case gerr.Code == 404:
			return fmt.Errorf("%w: %v", services.ErrNotFound, err)
		case gerr.Code == 429:
			return fmt.Errorf("%w: %v", services.ErrRateLimited, err)
		case gerr.Code == 408 || gerr.Code == 504:
			return fmt.Errorf("%w: %v", services.ErrTimeout, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return fmt.Errorf("%w: %v", services.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", services.ErrServerError, err)
}
