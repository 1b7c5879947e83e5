package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var _ DedupRepository = (*dedupRepository)(nil)

type dedupRepository struct {
	db *DB
}

func NewDedupRepository(db *DB) DedupRepository {
	return &dedupRepository{db: db}
}

func (r *dedupRepository) GetByFileID(ctx context.Context, fileID int64) (*FileHash, error) {
	var fh FileHash
	err := r.db.QueryRowContext(ctx, `
		SELECT id, file_id, sha256_hash, perceptual_hash, fuzzy_hash, created_at
		FROM file_hashes
		WHERE file_id = ?
	`, fileID).Scan(&fh.ID, &fh.FileID, &fh.SHA256, &fh.PerceptualHash, &fh.FuzzyHash, &fh.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file hash: %w", err)
	}
	return &fh, nil
}

// Insert records the hashes for a file. Safe to race: the unique constraint
// on file_id turns concurrent inserts into no-ops.
func (r *dedupRepository) Insert(ctx context.Context, fh FileHash) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO file_hashes (file_id, sha256_hash, perceptual_hash, fuzzy_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (file_id) DO NOTHING
	`, fh.FileID, fh.SHA256, fh.PerceptualHash, fh.FuzzyHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert file hash: %w", err)
	}
	return nil
}

func (r *dedupRepository) FindBySHA256(ctx context.Context, sha256 string, excludeFileID int64) (*FileHash, error) {
	var fh FileHash
	err := r.db.QueryRowContext(ctx, `
		SELECT id, file_id, sha256_hash, perceptual_hash, fuzzy_hash, created_at
		FROM file_hashes
		WHERE sha256_hash = ? AND file_id != ?
		ORDER BY id ASC
		LIMIT 1
	`, sha256, excludeFileID).Scan(&fh.ID, &fh.FileID, &fh.SHA256, &fh.PerceptualHash, &fh.FuzzyHash, &fh.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find file hash by sha256: %w", err)
	}
	return &fh, nil
}

func (r *dedupRepository) ListPerceptual(ctx context.Context, excludeFileID int64, limit int) ([]FileHash, error) {
	return r.listHashes(ctx, "perceptual_hash", excludeFileID, limit)
}

func (r *dedupRepository) ListFuzzy(ctx context.Context, excludeFileID int64, limit int) ([]FileHash, error) {
	return r.listHashes(ctx, "fuzzy_hash", excludeFileID, limit)
}

func (r *dedupRepository) listHashes(ctx context.Context, column string, excludeFileID int64, limit int) ([]FileHash, error) {
	// column is one of the two fixed hash columns, never user input
	query := fmt.Sprintf(`
		SELECT id, file_id, sha256_hash, perceptual_hash, fuzzy_hash, created_at
		FROM file_hashes
		WHERE %s != '' AND file_id != ?
		ORDER BY id DESC
		LIMIT ?
	`, column)

	rows, err := r.db.QueryContext(ctx, query, excludeFileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s candidates: %w", column, err)
	}
	defer rows.Close()

	var hashes []FileHash
	for rows.Next() {
		var fh FileHash
		err := rows.Scan(&fh.ID, &fh.FileID, &fh.SHA256, &fh.PerceptualHash, &fh.FuzzyHash, &fh.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file hash row: %w", err)
		}
		hashes = append(hashes, fh)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file hash rows: %w", err)
	}

	return hashes, nil
}
