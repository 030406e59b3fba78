// Package normalize converts raw provider messages into canonical,
// storage-ready communication fields.
package normalize

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jaytaylor/html2text"

	"github.com/harborlight/mailsync/internal/provider"
)

// Address is one parsed mailbox address.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Canonical is the normalized representation of one provider message.
type Canonical struct {
	MessageID       string
	ThreadID        string
	Subject         string
	From            Address
	To              []Address
	Cc              []Address
	Bcc             []Address
	Timestamp       time.Time
	BodyText        string
	ContentType     string
	Snippet         string
	AttachmentCount int
	AttachmentKinds []string
	LabelIDs        []string
	InReplyTo       string
	References      string
}

// Normalize extracts canonical fields from raw. A structurally unusable
// message yields an error; callers treat that as a skippable per-message
// failure.
func Normalize(raw *provider.RawMessage) (*Canonical, error) {
	if raw == nil || raw.ID == "" {
		return nil, fmt.Errorf("message has no identifier")
	}
	if raw.Payload == nil {
		return nil, fmt.Errorf("message %s has no payload", raw.ID)
	}

	c := &Canonical{
		MessageID:  raw.ID,
		ThreadID:   raw.ThreadID,
		Subject:    raw.Header("Subject"),
		From:       parseAddress(raw.Header("From")),
		To:         parseAddressList(raw.Header("To")),
		Cc:         parseAddressList(raw.Header("Cc")),
		Bcc:        parseAddressList(raw.Header("Bcc")),
		Snippet:    raw.Snippet,
		LabelIDs:   raw.LabelIDs,
		InReplyTo:  raw.Header("In-Reply-To"),
		References: raw.Header("References"),
	}
	if c.ThreadID == "" {
		c.ThreadID = raw.ID
	}

	c.Timestamp = messageTime(raw)
	c.BodyText, c.ContentType = bestBody(raw)
	c.AttachmentCount, c.AttachmentKinds = attachments(raw.Payload)

	return c, nil
}

// messageTime prefers the provider-native internal date, falling back to the
// Date header.
func messageTime(raw *provider.RawMessage) time.Time {
	if raw.InternalDate > 0 {
		return time.UnixMilli(raw.InternalDate).UTC()
	}
	if header := raw.Header("Date"); header != "" {
		if t, err := mail.ParseDate(header); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// bestBody returns the best available text content: a text/plain part,
// then a text/html part stripped to text, then the snippet.
func bestBody(raw *provider.RawMessage) (body, contentType string) {
	if plain := findPart(raw.Payload, "text/plain"); plain != nil && len(plain.Body) > 0 {
		return strings.TrimSpace(string(plain.Body)), "text/plain"
	}
	if html := findPart(raw.Payload, "text/html"); html != nil && len(html.Body) > 0 {
		text, err := html2text.FromString(string(html.Body), html2text.Options{TextOnly: true})
		if err == nil && text != "" {
			return strings.TrimSpace(text), "text/html"
		}
	}
	return strings.TrimSpace(raw.Snippet), "snippet"
}

// findPart walks the part tree depth first for the first non-attachment
// part of the wanted type.
func findPart(p *provider.Part, mimeType string) *provider.Part {
	if p == nil {
		return nil
	}
	if strings.HasPrefix(strings.ToLower(p.MimeType), mimeType) && p.Filename == "" {
		return p
	}
	for _, child := range p.Parts {
		if found := findPart(child, mimeType); found != nil {
			return found
		}
	}
	return nil
}

// attachments counts named parts and buckets their MIME types into
// simplified categories.
func attachments(p *provider.Part) (count int, kinds []string) {
	if p == nil {
		return 0, nil
	}
	seen := make(map[string]bool)
	var walk func(part *provider.Part)
	walk = func(part *provider.Part) {
		if part == nil {
			return
		}
		if part.Filename != "" {
			count++
			kind := attachmentKind(part.MimeType)
			if !seen[kind] {
				seen[kind] = true
				kinds = append(kinds, kind)
			}
		}
		for _, child := range part.Parts {
			walk(child)
		}
	}
	walk(p)
	return count, kinds
}

func attachmentKind(mimeType string) string {
	mimeType = strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.Contains(mimeType, "zip"), strings.Contains(mimeType, "tar"),
		strings.Contains(mimeType, "compressed"):
		return "archive"
	case strings.HasPrefix(mimeType, "text/"),
		strings.Contains(mimeType, "pdf"),
		strings.Contains(mimeType, "word"),
		strings.Contains(mimeType, "sheet"),
		strings.Contains(mimeType, "presentation"):
		return "document"
	default:
		return "other"
	}
}

// parseAddress parses a single RFC 5322 address, tolerating bare strings.
func parseAddress(s string) Address {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}
	}
	if addr, err := mail.ParseAddress(s); err == nil {
		return Address{Email: strings.ToLower(addr.Address), Name: addr.Name}
	}
	return Address{Email: strings.ToLower(s)}
}

// parseAddressList parses a comma-separated address list, degrading to a
// plain split when the header is malformed.
func parseAddressList(s string) []Address {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if addrs, err := mail.ParseAddressList(s); err == nil {
		out := make([]Address, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, Address{Email: strings.ToLower(a.Address), Name: a.Name})
		}
		return out
	}
	var out []Address
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, parseAddress(trimmed))
		}
	}
	return out
}
