// Package gmail implements the provider contract on top of the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/harborlight/mailsync/internal/auth"
	"github.com/harborlight/mailsync/internal/provider"
)

// Adapter implements provider.Client for Gmail.
type Adapter struct {
	svc  *gmailapi.Service
	user string
}

// New creates a Gmail adapter for the "me" mailbox of the token's owner.
func New(ctx context.Context, tok *auth.Token) (*Adapter, error) {
	oauth2Token := &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	config := &oauth2.Config{
		Scopes: []string{gmailapi.GmailReadonlyScope},
	}

	httpClient := config.Client(ctx, oauth2Token)

	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Adapter{svc: svc, user: "me"}, nil
}

// Profile verifies the connection and returns mailbox totals plus the
// current history ID.
func (a *Adapter) Profile(ctx context.Context) (*provider.Profile, error) {
	p, err := a.svc.Users.GetProfile(a.user).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}
	return &provider.Profile{
		EmailAddress:  p.EmailAddress,
		MessagesTotal: p.MessagesTotal,
		ThreadsTotal:  p.ThreadsTotal,
		HistoryID:     strconv.FormatUint(p.HistoryId, 10),
	}, nil
}

// ListMessages returns one page of message IDs matching query. Spam and
// trash are always excluded.
func (a *Adapter) ListMessages(ctx context.Context, query string, pageSize int64, pageToken string) (*provider.ListPage, error) {
	call := a.svc.Users.Messages.List(a.user).
		IncludeSpamTrash(false).
		MaxResults(pageSize).
		Context(ctx)
	if query != "" {
		call = call.Q(query)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, classify(err)
	}

	page := &provider.ListPage{
		NextPageToken:      resp.NextPageToken,
		ResultSizeEstimate: resp.ResultSizeEstimate,
	}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, m.Id)
	}
	return page, nil
}

// GetMessage fetches one full message.
func (a *Adapter) GetMessage(ctx context.Context, id string) (*provider.RawMessage, error) {
	msg, err := a.svc.Users.Messages.Get(a.user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}
	return convert(msg), nil
}

// GetMessagesBatch fetches full messages for all ids. The Gmail client has
// no generated batch endpoint, so the ids are fetched back to back under the
// caller's rate limiter; the first failure fails the whole batch and the
// caller degrades to per-message fetches.
func (a *Adapter) GetMessagesBatch(ctx context.Context, ids []string) ([]*provider.RawMessage, error) {
	out := make([]*provider.RawMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := a.GetMessage(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("batch get %s: %w", id, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// History returns messages added since sinceCursor, paging through the
// history list and deduplicating ids that appear in multiple records.
func (a *Adapter) History(ctx context.Context, sinceCursor string) (*provider.HistoryPage, error) {
	startHistoryID, err := strconv.ParseUint(sinceCursor, 10, 64)
	if err != nil {
		return nil, provider.NewError(provider.CategoryInvalidRequest, 0,
			fmt.Sprintf("invalid history cursor %q", sinceCursor), "")
	}

	call := a.svc.Users.History.List(a.user).
		StartHistoryId(startHistoryID).
		HistoryTypes("messageAdded").
		MaxResults(100)

	latest := startHistoryID
	seen := make(map[string]bool)
	var added []string

	err = call.Pages(ctx, func(page *gmailapi.ListHistoryResponse) error {
		for _, h := range page.History {
			if h.Id > latest {
				latest = h.Id
			}
			for _, rec := range h.MessagesAdded {
				id := rec.Message.Id
				if seen[id] {
					continue
				}
				seen[id] = true
				added = append(added, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	return &provider.HistoryPage{
		AddedIDs:  added,
		NewCursor: strconv.FormatUint(latest, 10),
	}, nil
}

// convert maps a Gmail message into the provider-agnostic raw form,
// decoding part bodies from their web-safe base64 encoding.
func convert(m *gmailapi.Message) *provider.RawMessage {
	return &provider.RawMessage{
		ID:           m.Id,
		ThreadID:     m.ThreadId,
		Snippet:      m.Snippet,
		InternalDate: m.InternalDate,
		LabelIDs:     m.LabelIds,
		SizeEstimate: m.SizeEstimate,
		Payload:      convertPart(m.Payload),
	}
}

func convertPart(p *gmailapi.MessagePart) *provider.Part {
	if p == nil {
		return nil
	}

	part := &provider.Part{
		MimeType: p.MimeType,
		Filename: p.Filename,
		Headers:  make(map[string]string, len(p.Headers)),
	}
	for _, h := range p.Headers {
		part.Headers[h.Name] = h.Value
	}
	if p.Body != nil && p.Body.Data != "" {
		part.Body = decodeBody(p.Body.Data)
	}
	for _, child := range p.Parts {
		part.Parts = append(part.Parts, convertPart(child))
	}
	return part
}

func decodeBody(data string) []byte {
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err == nil {
		return b
	}
	// Some responses carry padded data
	b, err = base64.URLEncoding.DecodeString(data)
	if err != nil {
		return nil
	}
	return b
}

// classify maps Gmail API failures to structural categories using the
// status code and error reasons, never the message text.
func classify(err error) error {
	apiErr, ok := err.(*googleapi.Error)
	if !ok {
		return provider.NewError(provider.CategoryTransient, 0, err.Error(), "")
	}

	category := provider.CategoryTransient
	switch apiErr.Code {
	case 400:
		category = provider.CategoryInvalidRequest
	case 401:
		category = provider.CategoryAuthExpired
	case 403:
		category = provider.CategoryPermissionDenied
		for _, item := range apiErr.Errors {
			switch item.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded", "dailyLimitExceeded":
				category = provider.CategoryRateLimited
			case "insufficientPermissions", "accessNotConfigured", "forbidden":
				category = provider.CategoryScopeInsufficient
			}
		}
	case 404:
		category = provider.CategoryNotFound
	case 429:
		category = provider.CategoryRateLimited
	}

	return provider.NewError(category, apiErr.Code, apiErr.Message, apiErr.Body)
}

var _ provider.Client = (*Adapter)(nil)
