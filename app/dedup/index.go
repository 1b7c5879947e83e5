package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/chan-comb/app/database"
)

type VerdictKind string

const (
	VerdictNone  VerdictKind = "none"
	VerdictExact VerdictKind = "exact"
	VerdictNear  VerdictKind = "near"
)

// Verdict is the outcome of comparing a file against previously seen files.
type Verdict struct {
	Kind          VerdictKind
	MatchedFileID int64
}

func (v Verdict) IsDuplicate() bool {
	return v.Kind != VerdictNone
}

const (
	// Hamming distance threshold for 64-bit perceptual hashes.
	DefaultMaxHammingDistance = 10
	// Minimum ssdeep similarity score (0..100) to call a near duplicate.
	DefaultMinFuzzyScore = 80

	candidateLimit = 500
)

// Index computes and stores content hashes and answers duplicate queries.
// sha256 is computed for every file; perceptual hashes only for payloads
// that decode as images; fuzzy hashes only for documents and text.
type Index struct {
	repo               database.DedupRepository
	maxHammingDistance int
	minFuzzyScore      int
}

func NewIndex(repo database.DedupRepository) *Index {
	return &Index{
		repo:               repo,
		maxHammingDistance: DefaultMaxHammingDistance,
		minFuzzyScore:      DefaultMinFuzzyScore,
	}
}

// RecordAndCheck stores hashes for the file if it has none yet and returns
// the duplicate verdict against all other recorded files. A file that was
// already recorded is not re-hashed; the stored hashes are compared as-is.
func (ix *Index) RecordAndCheck(ctx context.Context, fileID int64, contentType string, payload []byte) (Verdict, error) {
	fh, err := ix.repo.GetByFileID(ctx, fileID)
	if err != nil {
		return Verdict{Kind: VerdictNone}, err
	}

	if fh == nil {
		computed, err := ix.computeHashes(fileID, contentType, payload)
		if err != nil {
			return Verdict{Kind: VerdictNone}, err
		}
		if err := ix.repo.Insert(ctx, computed); err != nil {
			return Verdict{Kind: VerdictNone}, err
		}
		fh = &computed
	}

	return ix.check(ctx, *fh)
}

func (ix *Index) computeHashes(fileID int64, contentType string, payload []byte) (database.FileHash, error) {
	fh := database.FileHash{
		FileID: fileID,
		SHA256: computeSHA256(payload),
	}

	switch contentType {
	case "image", "video":
		perceptual, err := computePerceptual(payload)
		if err != nil {
			return fh, fmt.Errorf("file %d: %w", fileID, err)
		}
		if perceptual == "" && contentType == "image" {
			slog.Debug("Payload did not decode as image, skipping perceptual hash", "file_id", fileID)
		}
		fh.PerceptualHash = perceptual
	case "document", "text":
		fh.FuzzyHash = computeFuzzy(payload)
	}

	return fh, nil
}

func (ix *Index) check(ctx context.Context, fh database.FileHash) (Verdict, error) {
	// Exact match on sha256 always wins.
	match, err := ix.repo.FindBySHA256(ctx, fh.SHA256, fh.FileID)
	if err != nil {
		return Verdict{Kind: VerdictNone}, err
	}
	if match != nil {
		return Verdict{Kind: VerdictExact, MatchedFileID: match.FileID}, nil
	}

	if fh.PerceptualHash != "" {
		candidates, err := ix.repo.ListPerceptual(ctx, fh.FileID, candidateLimit)
		if err != nil {
			return Verdict{Kind: VerdictNone}, err
		}
		for _, candidate := range candidates {
			distance, err := perceptualDistance(fh.PerceptualHash, candidate.PerceptualHash)
			if err != nil {
				slog.Warn("Skipping unparseable perceptual hash", "file_id", candidate.FileID, "error", err)
				continue
			}
			if distance <= ix.maxHammingDistance {
				return Verdict{Kind: VerdictNear, MatchedFileID: candidate.FileID}, nil
			}
		}
	}

	if fh.FuzzyHash != "" {
		candidates, err := ix.repo.ListFuzzy(ctx, fh.FileID, candidateLimit)
		if err != nil {
			return Verdict{Kind: VerdictNone}, err
		}
		for _, candidate := range candidates {
			if fuzzyScore(fh.FuzzyHash, candidate.FuzzyHash) >= ix.minFuzzyScore {
				return Verdict{Kind: VerdictNear, MatchedFileID: candidate.FileID}, nil
			}
		}
	}

	return Verdict{Kind: VerdictNone}, nil
}
