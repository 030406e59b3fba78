package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Contact is one durable contact identity.
type Contact struct {
	ID           string     `json:"id"`
	DisplayName  string     `json:"displayName"`
	PrimaryEmail string     `json:"primaryEmail"`
	MessageCount int64      `json:"messageCount"`
	FirstSeen    *time.Time `json:"firstSeen,omitempty"`
	LastSeen     *time.Time `json:"lastSeen,omitempty"`
}

// ContactIdentifier is one alternate identifier attached to a contact.
type ContactIdentifier struct {
	ContactID  string  `json:"contactId"`
	Identifier string  `json:"identifier"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
	Verified   bool    `json:"verified"`
}

// GetContactByEmail looks a contact up by its normalized primary email.
// Returns (nil, nil) when absent.
func (s *Store) GetContactByEmail(ctx context.Context, email string) (*Contact, error) {
	c := &Contact{}
	var first, last sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, display_name, primary_email, message_count, first_seen, last_seen
		FROM contacts WHERE primary_email = ?
	`, email).Scan(&c.ID, &c.DisplayName, &c.PrimaryEmail, &c.MessageCount, &first, &last)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	if first.Valid {
		t := time.Unix(first.Int64, 0).UTC()
		c.FirstSeen = &t
	}
	if last.Valid {
		t := time.Unix(last.Int64, 0).UTC()
		c.LastSeen = &t
	}
	return c, nil
}

// CreateContact inserts a new contact row. A unique violation on
// primary_email surfaces as an error the resolver turns into a re-read.
func (s *Store) CreateContact(ctx context.Context, c *Contact) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO contacts (id, display_name, primary_email, created_at)
		VALUES (?, ?, ?, ?)
	`, c.ID, c.DisplayName, c.PrimaryEmail, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

// UpdateContactName sets the display name when one was previously unknown.
func (s *Store) UpdateContactName(ctx context.Context, id, displayName string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE contacts SET display_name = ? WHERE id = ? AND display_name = ''
	`, displayName, id)
	if err != nil {
		return fmt.Errorf("failed to update contact name: %w", err)
	}
	return nil
}

// TouchContact bumps the message count and widens the first/last
// communication window.
func (s *Store) TouchContact(ctx context.Context, id string, at time.Time) error {
	ts := at.Unix()
	_, err := s.DB.ExecContext(ctx, `
		UPDATE contacts SET
			message_count = message_count + 1,
			first_seen = CASE WHEN first_seen IS NULL OR first_seen > ? THEN ? ELSE first_seen END,
			last_seen = CASE WHEN last_seen IS NULL OR last_seen < ? THEN ? ELSE last_seen END
		WHERE id = ?
	`, ts, ts, ts, ts, id)
	if err != nil {
		return fmt.Errorf("failed to touch contact: %w", err)
	}
	return nil
}

// AddContactIdentifier records an alternate identifier; duplicates are
// ignored.
func (s *Store) AddContactIdentifier(ctx context.Context, ci *ContactIdentifier) error {
	verified := 0
	if ci.Verified {
		verified = 1
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO contact_identifiers
		(contact_id, identifier, kind, confidence, verified)
		VALUES (?, ?, ?, ?, ?)
	`, ci.ContactID, ci.Identifier, ci.Kind, ci.Confidence, verified)
	if err != nil {
		return fmt.Errorf("failed to add contact identifier: %w", err)
	}
	return nil
}

// ListContacts returns contacts ordered by message volume.
func (s *Store) ListContacts(ctx context.Context, limit int) ([]Contact, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, display_name, primary_email, message_count, first_seen, last_seen
		FROM contacts
		ORDER BY message_count DESC, primary_email
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		var first, last sql.NullInt64
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.PrimaryEmail, &c.MessageCount, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		if first.Valid {
			t := time.Unix(first.Int64, 0).UTC()
			c.FirstSeen = &t
		}
		if last.Valid {
			t := time.Unix(last.Int64, 0).UTC()
			c.LastSeen = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
