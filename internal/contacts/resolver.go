// Package contacts maps email addresses to durable contact identities.
package contacts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/harborlight/mailsync/internal/store"
)

// Resolver deduplicates contacts by normalized email address. Contacts are
// created on first sight and updated, never deleted.
type Resolver struct {
	store *store.Store
	log   *logrus.Logger
}

// NewResolver creates a resolver over the given store.
func NewResolver(s *store.Store, log *logrus.Logger) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{store: s, log: log}
}

// NormalizeEmail lower-cases and trims an address for lookup.
func NormalizeEmail(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// FindOrCreateByEmail returns the contact for address, creating one if
// absent. A unique-constraint violation on create means another insert won
// the race, so the row is re-read instead of treated as a failure. The
// display name is filled in when the stored one is empty.
func (r *Resolver) FindOrCreateByEmail(ctx context.Context, address, displayName string) (*store.Contact, error) {
	email := NormalizeEmail(address)
	if email == "" {
		return nil, fmt.Errorf("empty email address")
	}

	existing, err := r.store.GetContactByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.DisplayName == "" && displayName != "" {
			if err := r.store.UpdateContactName(ctx, existing.ID, displayName); err != nil {
				r.log.WithError(err).WithField("contact", existing.ID).Warn("failed to refresh display name")
			} else {
				existing.DisplayName = displayName
			}
		}
		return existing, nil
	}

	contact := &store.Contact{
		ID:           uuid.NewString(),
		DisplayName:  displayName,
		PrimaryEmail: email,
	}
	if err := r.store.CreateContact(ctx, contact); err != nil {
		if store.IsUniqueViolation(err) {
			return r.store.GetContactByEmail(ctx, email)
		}
		return nil, err
	}

	identifier := &store.ContactIdentifier{
		ContactID:  contact.ID,
		Identifier: email,
		Kind:       "email",
		Confidence: 1.0,
		Verified:   true,
	}
	if err := r.store.AddContactIdentifier(ctx, identifier); err != nil {
		r.log.WithError(err).WithField("contact", contact.ID).Warn("failed to record identifier")
	}
	if displayName != "" {
		nameID := &store.ContactIdentifier{
			ContactID:  contact.ID,
			Identifier: displayName,
			Kind:       "name",
			Confidence: 0.8,
		}
		if err := r.store.AddContactIdentifier(ctx, nameID); err != nil {
			r.log.WithError(err).WithField("contact", contact.ID).Warn("failed to record name variant")
		}
	}

	return contact, nil
}

// RecordCommunication updates the contact's message count and first/last
// communication timestamps.
func (r *Resolver) RecordCommunication(ctx context.Context, contactID string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	return r.store.TouchContact(ctx, contactID, at)
}
