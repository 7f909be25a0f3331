// Package graph implements the MailStore boundary against a Microsoft
// Graph style REST mail API.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ajramos/mailsweep/internal/mail"
	"github.com/ajramos/mailsweep/internal/render"
	"github.com/ajramos/mailsweep/internal/services"
	"golang.org/x/oauth2"
)

// DefaultBaseURL targets the signed-in mailbox.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0/me"

// MAPI property tags carrying reply metadata in the extended-property bag.
// In-Reply-To is 0x1042, Internet References is 0x1039; servers report the
// tag in several spellings so matching is done on the numeric value.
const (
	tagInReplyTo  = 0x1042
	tagReferences = 0x1039
)

// previewMaxLen bounds previews derived locally from a full body.
const previewMaxLen = 160

// Client is a MailStore over a Graph-style REST mail API. Every request
// carries the bearer token from the token source and the configured
// timeout; a timeout surfaces as services.ErrTimeout and is never
// retried here.
type Client struct {
	BaseURL string

	http   *http.Client
	tokens oauth2.TokenSource
}

// NewClient creates a client for baseURL authenticating via tokens.
func NewClient(baseURL string, tokens oauth2.TokenSource, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

// wire shapes (only the fields the engine consumes)

type listResponse struct {
	Value []json.RawMessage `json:"value"`
}

type wireFolder struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type wireRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type wireExtendedProp struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type wireMessage struct {
	ID                string             `json:"id"`
	ChangeKey         string             `json:"changeKey"`
	Subject           string             `json:"subject"`
	From              *wireRecipient     `json:"from"`
	ReceivedDateTime  string             `json:"receivedDateTime"`
	InternetMessageID string             `json:"internetMessageId"`
	BodyPreview       string             `json:"bodyPreview"`
	Importance        string             `json:"importance"`
	IsRead            bool               `json:"isRead"`
	ToRecipients      []wireRecipient    `json:"toRecipients"`
	CcRecipients      []wireRecipient    `json:"ccRecipients"`
	ExtendedProps     []wireExtendedProp `json:"singleValueExtendedProperties"`
	Body              *struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

// ListMessages fetches one received-descending page of a folder.
func (c *Client) ListMessages(ctx context.Context, folder mail.FolderRef, pageSize, offset int) ([]mail.Record, error) {
	q := url.Values{}
	q.Set("$top", fmt.Sprintf("%d", pageSize))
	q.Set("$skip", fmt.Sprintf("%d", offset))
	q.Set("$orderby", "receivedDateTime desc")
	q.Set("$select", "id,changeKey,subject,from,receivedDateTime,internetMessageId,bodyPreview,importance,isRead,toRecipients,ccRecipients")
	q.Set("$expand", "singleValueExtendedProperties($filter=id eq 'String 0x1042' or id eq 'String 0x1039')")

	var page listResponse
	if err := c.get(ctx, fmt.Sprintf("/mailFolders/%s/messages?%s", url.PathEscape(folder.ID), q.Encode()), &page); err != nil {
		return nil, err
	}

	records := make([]mail.Record, 0, len(page.Value))
	for _, raw := range page.Value {
		var wm wireMessage
		if err := json.Unmarshal(raw, &wm); err != nil {
			return nil, fmt.Errorf("%w: message entry: %v", services.ErrMalformed, err)
		}
		records = append(records, normalizeMessage(&wm, folder.DisplayName))
	}
	return records, nil
}

// ListChildFolders lists the immediate subfolders of parent.
func (c *Client) ListChildFolders(ctx context.Context, parent mail.FolderRef) ([]mail.FolderRef, error) {
	var page listResponse
	if err := c.get(ctx, fmt.Sprintf("/mailFolders/%s/childFolders?$top=50", url.PathEscape(parent.ID)), &page); err != nil {
		return nil, err
	}
	out := make([]mail.FolderRef, 0, len(page.Value))
	for _, raw := range page.Value {
		var wf wireFolder
		if err := json.Unmarshal(raw, &wf); err != nil {
			return nil, fmt.Errorf("%w: folder entry: %v", services.ErrMalformed, err)
		}
		out = append(out, mail.FolderRef{ID: wf.ID, DisplayName: wf.DisplayName, Kind: mail.FolderByID})
	}
	return out, nil
}

// FindFolderByName locates a folder by display name under the mailbox root.
func (c *Client) FindFolderByName(ctx context.Context, name string) (*mail.FolderRef, error) {
	filter := fmt.Sprintf("displayName eq '%s'", strings.ReplaceAll(name, "'", "''"))
	var page listResponse
	if err := c.get(ctx, "/mailFolders?$filter="+url.QueryEscape(filter), &page); err != nil {
		return nil, err
	}
	if len(page.Value) == 0 {
		return nil, nil
	}
	var wf wireFolder
	if err := json.Unmarshal(page.Value[0], &wf); err != nil {
		return nil, fmt.Errorf("%w: folder entry: %v", services.ErrMalformed, err)
	}
	return &mail.FolderRef{ID: wf.ID, DisplayName: wf.DisplayName, Kind: mail.FolderByID}, nil
}

// CreateFolder creates a folder under the mailbox root.
func (c *Client) CreateFolder(ctx context.Context, name string) (*mail.FolderRef, error) {
	body, _ := json.Marshal(map[string]string{"displayName": name})
	var wf wireFolder
	if err := c.post(ctx, "/mailFolders", body, "", &wf); err != nil {
		return nil, err
	}
	return &mail.FolderRef{ID: wf.ID, DisplayName: wf.DisplayName, Kind: mail.FolderByID}, nil
}

// ResolveDistinguished resolves a well-known folder such as archive or inbox.
func (c *Client) ResolveDistinguished(ctx context.Context, label string) (*mail.FolderRef, error) {
	var wf wireFolder
	if err := c.get(ctx, "/mailFolders/"+url.PathEscape(label), &wf); err != nil {
		return nil, err
	}
	return &mail.FolderRef{ID: wf.ID, DisplayName: wf.DisplayName, Kind: mail.FolderDistinguished}, nil
}

// MoveMessage relocates one item, asserting the revision token so a write
// racing another client fails with ErrConflict instead of clobbering.
func (c *Client) MoveMessage(ctx context.Context, itemID, revisionToken string, dest mail.FolderRef) error {
	body, _ := json.Marshal(map[string]string{"destinationId": dest.ID})
	return c.post(ctx, fmt.Sprintf("/messages/%s/move", url.PathEscape(itemID)), body, revisionToken, nil)
}

// GetFullBody fetches the message body as plain text. Best-effort: empty
// string on any failure.
func (c *Client) GetFullBody(ctx context.Context, itemID string) string {
	var wm wireMessage
	if err := c.get(ctx, fmt.Sprintf("/messages/%s?$select=body", url.PathEscape(itemID)), &wm); err != nil {
		return ""
	}
	if wm.Body == nil {
		return ""
	}
	if strings.EqualFold(wm.Body.ContentType, "html") {
		return render.HTMLToText(wm.Body.Content)
	}
	return wm.Body.Content
}

// normalizeMessage maps one wire message onto a Record.
func normalizeMessage(wm *wireMessage, folderName string) mail.Record {
	rec := mail.Record{
		ID:            wm.ID,
		RevisionToken: wm.ChangeKey,
		Subject:       wm.Subject,
		ReceivedAt:    parseReceived(wm.ReceivedDateTime),
		MessageID:     mail.NormalizeMessageID(wm.InternetMessageID),
		SourceFolder:  folderName,
		PreviewText:   wm.BodyPreview,
		Importance:    wm.Importance,
		IsRead:        wm.IsRead,
	}
	if wm.From != nil {
		rec.Sender = wm.From.EmailAddress.Address
	}
	for _, r := range wm.ToRecipients {
		rec.ToRecipients = append(rec.ToRecipients, r.EmailAddress.Address)
	}
	for _, r := range wm.CcRecipients {
		rec.CcRecipients = append(rec.CcRecipients, r.EmailAddress.Address)
	}
	for _, prop := range wm.ExtendedProps {
		switch propertyTag(prop.ID) {
		case tagInReplyTo:
			rec.InReplyTo = mail.ParseMessageIDList(prop.Value)
		case tagReferences:
			rec.References = mail.ParseMessageIDList(prop.Value)
		}
	}
	// Some tenants omit bodyPreview; derive one from the body when present.
	if rec.PreviewText == "" && wm.Body != nil {
		body := wm.Body.Content
		if strings.EqualFold(wm.Body.ContentType, "html") {
			body = render.HTMLToText(body)
		}
		rec.PreviewText = render.PreviewText(body, previewMaxLen)
	}
	return rec
}

// propertyTag extracts the numeric MAPI tag from an extended-property id.
// Servers return forms like "String 0x1042", "0x1042" or plain "4162".
func propertyTag(id string) int {
	id = strings.TrimSpace(id)
	if i := strings.LastIndex(id, " "); i >= 0 {
		id = id[i+1:]
	}
	var tag int
	if strings.HasPrefix(strings.ToLower(id), "0x") {
		if _, err := fmt.Sscanf(strings.ToLower(id), "0x%x", &tag); err != nil {
			return 0
		}
		return tag
	}
	if _, err := fmt.Sscanf(id, "%d", &tag); err != nil {
		return 0
	}
	return tag
}

func parseReceived(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// transport

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, "", out)
}

func (c *Client) post(ctx context.Context, path string, body []byte, revisionToken string, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, revisionToken, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, revisionToken string, out interface{}) error {
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", services.ErrNoToken, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	token.SetAuthHeader(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if revisionToken != "" {
		req.Header.Set("If-Match", revisionToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return fmt.Errorf("%w: %v", services.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", services.ErrServerError, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", services.ErrMalformed, err)
	}
	return nil
}

// statusError maps an HTTP response status onto the engine's sentinels.
func statusError(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", services.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w (status %d)", services.ErrNotFound, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w (status %d)", services.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w (status %d)", services.ErrTimeout, resp.StatusCode)
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed:
		return fmt.Errorf("%w (status %d)", services.ErrConflict, resp.StatusCode)
	default:
		return fmt.Errorf("%w (status %d): %s", services.ErrServerError, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}
