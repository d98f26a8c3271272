package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
)

const (
	videosDir   = "videos"
	poseDataDir = "posedata"
	outputsDir  = "outputs"
	spoolDir    = "tmp"
)

// mediaTypes maps lowercased file extensions to MIME types, best effort.
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".wmv":  "video/x-ms-wmv",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
}

// BlobStore is the filesystem tier of the artifact store. Uploaded videos,
// intermediate pose data and rendered outputs live under one root with
// store-chosen opaque names.
type BlobStore struct {
	root string
}

// NewBlobStore creates the blob root and its subdirectories.
func NewBlobStore(root string) (*BlobStore, error) {
	for _, dir := range []string{videosDir, poseDataDir, outputsDir, spoolDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create blob directory: %w", err)
		}
	}
	return &BlobStore{root: root}, nil
}

// SpooledBlob is an upload that has been written to a temporary location
// with its content hash computed. It is either promoted into the video area
// or discarded.
type SpooledBlob struct {
	Hash string
	Size int64

	tmpPath string
	root    string
}

// Spool copies r to a temporary file while hashing it. A read failure
// yields ErrHashingFailed and leaves nothing behind.
func (b *BlobStore) Spool(r io.Reader) (*SpooledBlob, error) {
	tmp, err := os.CreateTemp(filepath.Join(b.root, spoolDir), "upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmp.Name())
		if err == nil {
			err = closeErr
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrHashingFailed, err)
	}

	return &SpooledBlob{
		Hash:    hex.EncodeToString(hasher.Sum(nil)),
		Size:    size,
		tmpPath: tmp.Name(),
		root:    b.root,
	}, nil
}

// Promote moves the spooled upload into the video area under an opaque
// store-chosen name and returns the path relative to the blob root.
func (s *SpooledBlob) Promote(originalName string) (string, error) {
	relPath := filepath.Join(videosDir, opaqueBlobName(originalName))
	if err := os.Rename(s.tmpPath, filepath.Join(s.root, relPath)); err != nil {
		return "", fmt.Errorf("failed to promote spooled blob: %w", err)
	}
	return relPath, nil
}

// Discard removes the spooled file. Safe to call after Promote.
func (s *SpooledBlob) Discard() {
	os.Remove(s.tmpPath)
}

// opaqueBlobName picks a storage name that is never derived from the
// client-supplied filename, apart from its lowercased extension. Avoids
// collision and path traversal issues with hostile names.
func opaqueBlobName(originalName string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if ext == "" || ext == "." {
		ext = ".bin"
	}
	return uuid.New().String() + ext
}

// detectMediaType guesses the MIME type from the original filename.
func detectMediaType(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if mt, ok := mediaTypes[ext]; ok {
		return mt
	}
	return "application/octet-stream"
}

// SavePoseData persists tabular pose data as the owning job's own blob and
// returns its path relative to the blob root. Each job gets its own copy
// even when the bytes were reused from another job.
func (b *BlobStore) SavePoseData(jobID string, variant int, data []byte) (string, error) {
	relPath := filepath.Join(poseDataDir, fmt.Sprintf("%s_posedata_v%d.csv", jobID, variant))
	if err := os.WriteFile(filepath.Join(b.root, relPath), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save pose data: %w", err)
	}
	return relPath, nil
}

// Read returns the full contents of a stored blob.
func (b *BlobStore) Read(relPath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(b.root, relPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", relPath, err)
	}
	return data, nil
}

// Open opens a stored blob for streaming.
func (b *BlobStore) Open(relPath string) (*os.File, error) {
	f, err := os.Open(filepath.Join(b.root, relPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", relPath, err)
	}
	return f, nil
}

// Abs returns the absolute on-disk path of a stored blob, for handing to
// external computations that read files directly.
func (b *BlobStore) Abs(relPath string) string {
	return filepath.Join(b.root, relPath)
}

// OutputsDir returns the absolute directory rendered outputs are written to.
func (b *BlobStore) OutputsDir() string {
	return filepath.Join(b.root, outputsDir)
}

// Remove deletes a stored blob. Used only to back out a lost artifact race.
func (b *BlobStore) Remove(relPath string) error {
	return os.Remove(filepath.Join(b.root, relPath))
}
