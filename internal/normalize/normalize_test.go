package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlight/mailsync/internal/provider"
)

func multipartMessage() *provider.RawMessage {
	return &provider.RawMessage{
		ID:           "msg-1",
		ThreadID:     "thr-1",
		Snippet:      "a short preview",
		InternalDate: time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC).UnixMilli(),
		LabelIDs:     []string{"INBOX"},
		Payload: &provider.Part{
			MimeType: "multipart/mixed",
			Headers: map[string]string{
				"Subject":     "Quarterly numbers",
				"From":        "Ada Lovelace <Ada@Example.com>",
				"To":          "bob@example.com, Carol <carol@example.com>",
				"Cc":          "dave@example.com",
				"In-Reply-To": "<prior@example.com>",
			},
			Parts: []*provider.Part{
				{
					MimeType: "multipart/alternative",
					Parts: []*provider.Part{
						{MimeType: "text/plain", Body: []byte("plain body\n")},
						{MimeType: "text/html", Body: []byte("<p>html body</p>")},
					},
				},
				{MimeType: "application/pdf", Filename: "numbers.pdf"},
				{MimeType: "image/png", Filename: "chart.png"},
				{MimeType: "image/jpeg", Filename: "photo.jpg"},
			},
		},
	}
}

func TestNormalize(t *testing.T) {
	c, err := Normalize(multipartMessage())
	require.NoError(t, err)

	assert.Equal(t, "msg-1", c.MessageID)
	assert.Equal(t, "thr-1", c.ThreadID)
	assert.Equal(t, "Quarterly numbers", c.Subject)
	assert.Equal(t, Address{Email: "ada@example.com", Name: "Ada Lovelace"}, c.From)
	assert.Equal(t, []Address{
		{Email: "bob@example.com"},
		{Email: "carol@example.com", Name: "Carol"},
	}, c.To)
	assert.Equal(t, []Address{{Email: "dave@example.com"}}, c.Cc)
	assert.Equal(t, "<prior@example.com>", c.InReplyTo)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC), c.Timestamp)

	// Plain text wins over the HTML alternative.
	assert.Equal(t, "plain body", c.BodyText)
	assert.Equal(t, "text/plain", c.ContentType)

	assert.Equal(t, 3, c.AttachmentCount)
	assert.Equal(t, []string{"document", "image"}, c.AttachmentKinds)
}

func TestNormalizeHTMLFallback(t *testing.T) {
	raw := &provider.RawMessage{
		ID: "msg-2",
		Payload: &provider.Part{
			MimeType: "text/html",
			Body:     []byte("<html><body><p>Hello <b>there</b></p></body></html>"),
		},
	}

	c, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "text/html", c.ContentType)
	assert.Contains(t, c.BodyText, "Hello")
	assert.NotContains(t, c.BodyText, "<b>")
}

func TestNormalizeSnippetFallback(t *testing.T) {
	raw := &provider.RawMessage{
		ID:      "msg-3",
		Snippet: "only a snippet survives",
		Payload: &provider.Part{MimeType: "multipart/mixed"},
	}

	c, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "snippet", c.ContentType)
	assert.Equal(t, "only a snippet survives", c.BodyText)
	// No thread id on the wire: the message is its own thread.
	assert.Equal(t, "msg-3", c.ThreadID)
}

func TestNormalizeDateHeaderFallback(t *testing.T) {
	raw := &provider.RawMessage{
		ID: "msg-4",
		Payload: &provider.Part{
			MimeType: "text/plain",
			Headers:  map[string]string{"Date": "Mon, 02 Jan 2006 15:04:05 -0700"},
			Body:     []byte("x"),
		},
	}

	c, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC), c.Timestamp)
}

func TestNormalizeRejectsUnusable(t *testing.T) {
	_, err := Normalize(nil)
	assert.Error(t, err)

	_, err = Normalize(&provider.RawMessage{ID: "no-payload"})
	assert.Error(t, err)

	_, err = Normalize(&provider.RawMessage{Payload: &provider.Part{}})
	assert.Error(t, err)
}

func TestParseAddressListMalformed(t *testing.T) {
	// A bare name without a mailbox breaks RFC 5322 parsing; the split
	// fallback still recovers what it can.
	got := parseAddressList("alice@example.com, Undisclosed Recipients")
	require.Len(t, got, 2)
	assert.Equal(t, "alice@example.com", got[0].Email)
}

func TestAttachmentKind(t *testing.T) {
	cases := map[string]string{
		"image/png":                "image",
		"audio/mpeg":               "audio",
		"video/mp4":                "video",
		"application/zip":          "archive",
		"application/x-tar":        "archive",
		"application/pdf":          "document",
		"text/csv":                 "document",
		"application/octet-stream": "other",
	}
	for mime, want := range cases {
		assert.Equal(t, want, attachmentKind(mime), mime)
	}
}
