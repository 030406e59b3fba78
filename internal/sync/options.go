package sync

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultBatchSize = 100
	minBatchSize     = 1
	maxBatchSize     = 500
)

// Options configures one sync run.
type Options struct {
	// BatchSize is the page size for listing and body fetches.
	BatchSize int `json:"batchSize"`

	// MaxMessages caps the number of messages processed this run
	// (0 = unlimited). Enforced by truncating the last page's ID list
	// before bodies are fetched.
	MaxMessages int `json:"maxMessages"`

	// Query is an optional provider search query combined with the other
	// narrowing options.
	Query string `json:"query"`

	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`

	// FocusAddresses narrows the sync to mail exchanged with these
	// addresses.
	FocusAddresses []string `json:"focusAddresses,omitempty"`
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.BatchSize < minBatchSize {
		o.BatchSize = minBatchSize
	}
	if o.BatchSize > maxBatchSize {
		o.BatchSize = maxBatchSize
	}
	return o
}

// buildQuery conjoins the custom query, date bounds and focus addresses
// with a standing exclusion of spam and trash.
func buildQuery(o Options) string {
	var parts []string
	if q := strings.TrimSpace(o.Query); q != "" {
		parts = append(parts, q)
	}
	if o.StartDate != nil {
		parts = append(parts, fmt.Sprintf("after:%s", o.StartDate.Format("2006/01/02")))
	}
	if o.EndDate != nil {
		parts = append(parts, fmt.Sprintf("before:%s", o.EndDate.Format("2006/01/02")))
	}
	if len(o.FocusAddresses) > 0 {
		var focus []string
		for _, addr := range o.FocusAddresses {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			focus = append(focus, fmt.Sprintf("from:%s", addr), fmt.Sprintf("to:%s", addr))
		}
		if len(focus) > 0 {
			parts = append(parts, "{"+strings.Join(focus, " ")+"}")
		}
	}
	parts = append(parts, "-in:spam", "-in:trash")
	return strings.Join(parts, " ")
}
