package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Communication is one canonical message row.
type Communication struct {
	ID              string    `json:"id"`
	Source          string    `json:"source"`
	SourceMessageID string    `json:"sourceMessageId"`
	ContactID       string    `json:"contactId,omitempty"`
	Direction       string    `json:"direction"`
	Timestamp       time.Time `json:"timestamp"`
	Subject         string    `json:"subject"`
	BodyText        string    `json:"bodyText"`
	ContentType     string    `json:"contentType"`
	MessageType     string    `json:"messageType"`
	ThreadID        string    `json:"threadId"`
	MetadataJSON    string    `json:"metadata,omitempty"`
}

// InsertCommunication inserts a communication row. Duplicates on
// (source, source_message_id) are an expected outcome of at-least-once
// delivery: the call succeeds and reports inserted=false.
func (s *Store) InsertCommunication(ctx context.Context, c *Communication) (inserted bool, err error) {
	if c.MessageType == "" {
		c.MessageType = "direct"
	}

	var ts any
	if !c.Timestamp.IsZero() {
		ts = c.Timestamp.Unix()
	}
	var contactID any
	if c.ContactID != "" {
		contactID = c.ContactID
	}

	res, err := s.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO communications
		(id, source, source_message_id, contact_id, direction, ts, subject,
		 body_text, content_type, message_type, thread_id, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Source, c.SourceMessageID, contactID, c.Direction, ts, c.Subject,
		c.BodyText, c.ContentType, c.MessageType, c.ThreadID, c.MetadataJSON,
		time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("failed to insert communication: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return affected > 0, nil
}

// CountCommunications returns the number of stored rows for a source.
func (s *Store) CountCommunications(ctx context.Context, source string) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM communications WHERE source = ?
	`, source).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count communications: %w", err)
	}
	return n, nil
}

// ListCommunications returns the most recent rows for a source, newest
// first.
func (s *Store) ListCommunications(ctx context.Context, source string, limit int) ([]Communication, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, source, source_message_id, contact_id, direction, ts, subject,
		       body_text, content_type, message_type, thread_id, metadata_json
		FROM communications
		WHERE source = ?
		ORDER BY ts DESC
		LIMIT ?
	`, source, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query communications: %w", err)
	}
	defer rows.Close()

	var out []Communication
	for rows.Next() {
		var c Communication
		var contactID, metadata sql.NullString
		var ts sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Source, &c.SourceMessageID, &contactID,
			&c.Direction, &ts, &c.Subject, &c.BodyText, &c.ContentType,
			&c.MessageType, &c.ThreadID, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan communication: %w", err)
		}
		c.ContactID = contactID.String
		c.MetadataJSON = metadata.String
		if ts.Valid {
			c.Timestamp = time.Unix(ts.Int64, 0).UTC()
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
