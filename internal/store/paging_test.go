package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageTokenRoundTrip(t *testing.T) {
	t.Parallel()

	// full page: a token for the next page is produced
	tok := encodePageToken("releases:chem-ia-planner", 10, 20, 10)
	assert.NotEmpty(t, tok)

	offset, err := decodePageToken(tok, "releases:chem-ia-planner")
	assert.NoError(t, err)
	assert.Equal(t, 30, offset)
}

func TestPageTokenPartialPage(t *testing.T) {
	t.Parallel()
	// fewer results than the page size means no next page
	assert.Empty(t, encodePageToken("apps:", 3, 0, 10))
}

func TestPageTokenKeyMismatch(t *testing.T) {
	t.Parallel()
	tok := encodePageToken("releases:chem-ia-planner", 10, 0, 10)

	_, err := decodePageToken(tok, "releases:other-app")
	assert.ErrorContains(t, err, "different listing")
}

func TestPageTokenGarbage(t *testing.T) {
	t.Parallel()
	_, err := decodePageToken("not base64!", "apps:")
	assert.ErrorContains(t, err, "base64")

	// valid base64 but not a token payload
	_, err = decodePageToken("aGVsbG8=", "apps:")
	assert.Error(t, err)
}
