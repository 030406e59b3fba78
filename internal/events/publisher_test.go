package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "mailsync.me@example.com.communication.ingested",
		Subject("me@example.com", "communication.ingested"))
}
