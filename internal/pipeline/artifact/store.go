package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
	"github.com/solsticelabs/posepipe/shared/postgresql"
)

const artifactColumns = `id, content_hash, size_bytes, media_type, original_name, storage_path, created_at`

// rowGateway is the metadata tier of the artifact store. The Postgres
// implementation is the only one outside tests; the seam exists so the
// resolve-or-create protocol can be exercised without a database.
type rowGateway interface {
	insert(ctx context.Context, art *domain.Artifact) error
	byHash(ctx context.Context, hash string) (*domain.Artifact, error)
	byID(ctx context.Context, id string) (*domain.Artifact, error)
}

// Store is the content-addressed artifact store: blob files on disk plus a
// metadata row per distinct content hash in Postgres.
type Store struct {
	rows   rowGateway
	blobs  *BlobStore
	logger *slog.Logger
}

// NewStore creates a new artifact store.
func NewStore(pg *postgresql.Client, blobs *BlobStore, logger *slog.Logger) *Store {
	return &Store{
		rows:   &pgRows{db: pg.GetDB()},
		blobs:  blobs,
		logger: logger,
	}
}

// Blobs exposes the filesystem tier for callers that stream blob contents.
func (s *Store) Blobs() *BlobStore {
	return s.blobs
}

// ResolveOrCreate hashes the supplied stream and returns the artifact for
// that content, creating it on first sight. The boolean is true when a new
// artifact was persisted. Identical re-uploads hit the fast path and write
// nothing. Two concurrent first uploads of the same bytes race on the
// content_hash uniqueness constraint; the loser backs out its blob and
// returns the winner's record.
func (s *Store) ResolveOrCreate(ctx context.Context, r io.Reader, originalName string) (*domain.Artifact, bool, error) {
	spooled, err := s.blobs.Spool(r)
	if err != nil {
		return nil, false, err
	}
	defer spooled.Discard()

	existing, err := s.rows.byHash(ctx, spooled.Hash)
	if err == nil {
		s.logger.Info("Artifact with identical content already exists, reusing",
			slog.String("artifact_id", existing.ID),
			slog.String("content_hash", spooled.Hash),
		)
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrArtifactNotFound) {
		return nil, false, err
	}

	relPath, err := spooled.Promote(originalName)
	if err != nil {
		return nil, false, err
	}

	hash := spooled.Hash
	art := &domain.Artifact{
		ID:           uuid.New().String(),
		ContentHash:  &hash,
		SizeBytes:    spooled.Size,
		MediaType:    detectMediaType(originalName),
		OriginalName: originalName,
		StoragePath:  relPath,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.rows.insert(ctx, art); err != nil {
		// The row never made it in, so the promoted blob must not stay
		// behind either way.
		if rmErr := s.blobs.Remove(relPath); rmErr != nil {
			s.logger.Warn("Failed to remove blob after artifact insert failure",
				slog.String("path", relPath),
				slog.Any("error", rmErr),
			)
		}

		// A concurrent upload of the same bytes won the insert. Hand back
		// the winner's record.
		if isUniqueViolation(err) {
			winner, fetchErr := s.rows.byHash(ctx, hash)
			if fetchErr != nil {
				return nil, false, fmt.Errorf("artifact conflict on hash %s but winner not found: %w", hash, fetchErr)
			}
			s.logger.Info("Lost artifact insert race, returning existing record",
				slog.String("artifact_id", winner.ID),
				slog.String("content_hash", hash),
			)
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("failed to create artifact: %w", err)
	}

	s.logger.Info("Artifact created",
		slog.String("artifact_id", art.ID),
		slog.String("content_hash", hash),
		slog.Int64("size_bytes", art.SizeBytes),
	)

	return art, true, nil
}

// GetByID retrieves an artifact record. No lock is taken; artifacts are
// immutable after their first successful write.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.Artifact, error) {
	return s.rows.byID(ctx, id)
}

// pgRows is the Postgres row gateway.
type pgRows struct {
	db *sqlx.DB
}

func (g *pgRows) insert(ctx context.Context, art *domain.Artifact) error {
	query := `
		INSERT INTO artifacts (` + artifactColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := g.db.ExecContext(ctx, query,
		art.ID,
		art.ContentHash,
		art.SizeBytes,
		art.MediaType,
		art.OriginalName,
		art.StoragePath,
		art.CreatedAt,
	)
	return err
}

func (g *pgRows) byID(ctx context.Context, id string) (*domain.Artifact, error) {
	var art domain.Artifact
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE id = $1`

	if err := g.db.GetContext(ctx, &art, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	return &art, nil
}

func (g *pgRows) byHash(ctx context.Context, hash string) (*domain.Artifact, error) {
	var art domain.Artifact
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE content_hash = $1`

	if err := g.db.GetContext(ctx, &art, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to get artifact by hash: %w", err)
	}

	return &art, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
