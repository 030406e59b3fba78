package contacts

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlight/mailsync/internal/store"
)

func newTestResolver(t *testing.T) (*Resolver, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewResolver(s, log), s
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ada@example.com", NormalizeEmail("  Ada@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestFindOrCreateDeduplicates(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	first, err := r.FindOrCreateByEmail(ctx, "Ada@Example.com", "Ada Lovelace")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "ada@example.com", first.PrimaryEmail)
	assert.Equal(t, "Ada Lovelace", first.DisplayName)

	// Case and whitespace variants resolve to the same contact.
	second, err := r.FindOrCreateByEmail(ctx, " ada@EXAMPLE.com", "A. Lovelace")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ada Lovelace", second.DisplayName)
}

func TestFindOrCreateBackfillsName(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()

	anon, err := r.FindOrCreateByEmail(ctx, "bob@example.com", "")
	require.NoError(t, err)
	assert.Empty(t, anon.DisplayName)

	named, err := r.FindOrCreateByEmail(ctx, "bob@example.com", "Bob Jones")
	require.NoError(t, err)
	assert.Equal(t, anon.ID, named.ID)
	assert.Equal(t, "Bob Jones", named.DisplayName)

	stored, err := s.GetContactByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Bob Jones", stored.DisplayName)
}

func TestFindOrCreateReturnsExistingRow(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, s.CreateContact(ctx, &store.Contact{
		ID:           "pre-existing",
		PrimaryEmail: "carol@example.com",
	}))

	got, err := r.FindOrCreateByEmail(ctx, "carol@example.com", "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pre-existing", got.ID)
}

func TestFindOrCreateConcurrent(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()

	// Concurrent resolution of the same address must converge on one row;
	// losers of the create race re-read instead of failing.
	const n = 8
	ids := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			c, err := r.FindOrCreateByEmail(ctx, "carol@example.com", "Carol")
			if err != nil {
				errs <- err
				return
			}
			ids <- c.ID
		}()
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		select {
		case err := <-errs:
			t.Fatalf("concurrent resolve failed: %v", err)
		case id := <-ids:
			seen[id] = true
		}
	}
	assert.Len(t, seen, 1)

	stored, err := s.GetContactByEmail(ctx, "carol@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, seen[stored.ID])
}

func TestFindOrCreateRejectsEmpty(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.FindOrCreateByEmail(context.Background(), "   ", "Nobody")
	assert.Error(t, err)
}

func TestRecordCommunication(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()

	contact, err := r.FindOrCreateByEmail(ctx, "dave@example.com", "Dave")
	require.NoError(t, err)

	at := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, r.RecordCommunication(ctx, contact.ID, at))
	require.NoError(t, r.RecordCommunication(ctx, contact.ID, at.Add(time.Hour)))

	stored, err := s.GetContactByEmail(ctx, "dave@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.EqualValues(t, 2, stored.MessageCount)
	require.NotNil(t, stored.FirstSeen)
	assert.Equal(t, at, *stored.FirstSeen)
	require.NotNil(t, stored.LastSeen)
	assert.Equal(t, at.Add(time.Hour), *stored.LastSeen)
}
