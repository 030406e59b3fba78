// Package provider defines the contract the sync engine uses to talk to a
// mailbox provider, independent of Gmail or Microsoft Graph specifics.
package provider

import (
	"context"
	"strings"
)

// Name identifies a mailbox provider.
type Name string

const (
	NameGmail   Name = "gmail"
	NameOutlook Name = "outlook"
)

// Profile describes the mailbox being synced. HistoryID is the provider's
// current change-history position, suitable as an incremental-sync cursor.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
	HistoryID     string
}

// ListPage is one page of message identifiers.
type ListPage struct {
	IDs                []string
	NextPageToken      string
	ResultSizeEstimate int64
}

// HistoryPage is the result of a change-history read since a cursor.
// Only additions are reported; deletions are not part of the contract.
type HistoryPage struct {
	AddedIDs  []string
	NewCursor string
}

// Part is one node of a decoded MIME tree. Body holds the decoded content
// for leaf parts; container parts carry children in Parts.
type Part struct {
	MimeType string
	Filename string
	Headers  map[string]string
	Body     []byte
	Parts    []*Part
}

// RawMessage is a provider message before normalization.
type RawMessage struct {
	ID           string
	ThreadID     string
	Snippet      string
	InternalDate int64 // epoch milliseconds, 0 when the provider omits it
	LabelIDs     []string
	SizeEstimate int64
	Payload      *Part
}

// Header walks the top-level payload headers, case-insensitively.
func (m *RawMessage) Header(name string) string {
	if m.Payload == nil {
		return ""
	}
	return headerLookup(m.Payload.Headers, name)
}

func headerLookup(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Client is the provider contract consumed by the sync engine. All calls are
// subject to the provider's own rate limits and timeouts; the engine adds no
// timeout of its own.
type Client interface {
	// Profile verifies reachability and returns mailbox totals.
	Profile(ctx context.Context) (*Profile, error)

	// ListMessages returns one page of message IDs matching query.
	ListMessages(ctx context.Context, query string, pageSize int64, pageToken string) (*ListPage, error)

	// GetMessage fetches one full message.
	GetMessage(ctx context.Context, id string) (*RawMessage, error)

	// GetMessagesBatch fetches full messages for all ids in one go.
	// Implementations return an error when the batch as a whole cannot be
	// served; callers fall back to GetMessage per id.
	GetMessagesBatch(ctx context.Context, ids []string) ([]*RawMessage, error)

	// History returns message additions since cursor, with the cursor to
	// persist for the next incremental pass.
	History(ctx context.Context, sinceCursor string) (*HistoryPage, error)
}
