package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsticelabs/posepipe/internal/pipeline/jobstore"
)

func TestJobCursorRoundTrip(t *testing.T) {
	orig := &jobstore.JobCursor{
		CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC),
		JobID:     "f8a7c2d1-0000-4000-8000-000000000001",
	}

	decoded, err := DecodeJobCursor(EncodeJobCursor(orig))
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.True(t, orig.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, orig.JobID, decoded.JobID)
}

func TestDecodeJobCursor_Empty(t *testing.T) {
	decoded, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestDecodeJobCursor_InvalidBase64(t *testing.T) {
	_, err := DecodeJobCursor("!!not base64!!")
	assert.Error(t, err)
}

func TestDecodeJobCursor_WrongShape(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("only-one-part"))
	_, err := DecodeJobCursor(encoded)
	assert.Error(t, err)
}
