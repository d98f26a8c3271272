package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("stream broke")
}

func TestBlobStore_SpoolAndPromote(t *testing.T) {
	blobs, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)

	content := []byte("fake video bytes for hashing")
	wantHash := sha256.Sum256(content)

	spooled, err := blobs.Spool(bytes.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, hex.EncodeToString(wantHash[:]), spooled.Hash)
	assert.Equal(t, int64(len(content)), spooled.Size)

	relPath, err := spooled.Promote("My Clip.MP4")
	require.NoError(t, err)

	got, err := blobs.Read(relPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestBlobStore_SpoolFailureLeavesNothing(t *testing.T) {
	root := t.TempDir()
	blobs, err := NewBlobStore(root)
	require.NoError(t, err)

	_, err = blobs.Spool(failingReader{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrHashingFailed)

	matches, err := filepath.Glob(filepath.Join(root, spoolDir, "*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "failed spool must not leave temp files")
}

func TestOpaqueBlobName(t *testing.T) {
	tests := []struct {
		original string
		wantExt  string
	}{
		{"holiday.mp4", ".mp4"},
		{"CLIP.MOV", ".mov"},
		{"no_extension", ".bin"},
		{"trailing.", ".bin"},
		{"../../../etc/passwd.mp4", ".mp4"},
	}

	for _, tt := range tests {
		name := opaqueBlobName(tt.original)

		assert.True(t, strings.HasSuffix(name, tt.wantExt), "name %q should end with %q", name, tt.wantExt)
		base := strings.TrimSuffix(filepath.Base(tt.original), filepath.Ext(tt.original))
		if base != "" && base != "." && base != ".." {
			assert.NotContains(t, name, base, "storage name must not leak the original filename")
		}
		assert.NotContains(t, name, "/", "storage name must be a bare filename")
	}

	// Names are unique per call even for identical inputs.
	assert.NotEqual(t, opaqueBlobName("a.mp4"), opaqueBlobName("a.mp4"))
}

func TestDetectMediaType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"clip.mp4", "video/mp4"},
		{"clip.MOV", "video/quicktime"},
		{"clip.webm", "video/webm"},
		{"clip.mkv", "video/x-matroska"},
		{"clip.xyz", "application/octet-stream"},
		{"clip", "application/octet-stream"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, detectMediaType(tt.name), "file %q", tt.name)
	}
}

func TestBlobStore_SavePoseData(t *testing.T) {
	blobs, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)

	data := []byte("frame,x,y,z\n0,0.1,0.2,0.3\n")
	relPath, err := blobs.SavePoseData("8e3f3c1e-9a2b-4a1c-8f3d-123456789abc", 2, data)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(poseDataDir, "8e3f3c1e-9a2b-4a1c-8f3d-123456789abc_posedata_v2.csv"), relPath)

	got, err := blobs.Read(relPath)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestBlobStore_ReadMissing(t *testing.T) {
	blobs, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)

	_, err = blobs.Read(filepath.Join(poseDataDir, "nope.csv"))
	require.Error(t, err)
}

func TestBlobStore_Open(t *testing.T) {
	blobs, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)

	relPath, err := blobs.SavePoseData("job-1", 1, []byte("csv"))
	require.NoError(t, err)

	f, err := blobs.Open(relPath)
	require.NoError(t, err)
	defer f.Close()

	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, []byte("csv"), got)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain error")))
	assert.False(t, isUniqueViolation(nil))
}
