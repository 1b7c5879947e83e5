package dedup

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strconv"

	"github.com/corona10/goimagehash"
	"github.com/glaslos/ssdeep"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

func computeSHA256(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// computePerceptual returns the 64-bit pHash of an image payload encoded
// as hex. Payloads that do not decode as an image yield an empty hash.
func computePerceptual(payload []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return "", nil
	}

	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", fmt.Errorf("failed to compute perceptual hash: %w", err)
	}

	return strconv.FormatUint(hash.GetHash(), 16), nil
}

// computeFuzzy returns the ssdeep hash of a document payload. Payloads too
// small for a meaningful fuzzy hash yield an empty hash.
func computeFuzzy(payload []byte) string {
	hash, err := ssdeep.FuzzyBytes(payload)
	if err != nil {
		return ""
	}
	return hash
}

func perceptualDistance(a, b string) (int, error) {
	bitsA, err := strconv.ParseUint(a, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse perceptual hash '%s': %w", a, err)
	}
	bitsB, err := strconv.ParseUint(b, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse perceptual hash '%s': %w", b, err)
	}

	hashA := goimagehash.NewImageHash(bitsA, goimagehash.PHash)
	hashB := goimagehash.NewImageHash(bitsB, goimagehash.PHash)

	distance, err := hashA.Distance(hashB)
	if err != nil {
		return 0, fmt.Errorf("failed to compare perceptual hashes: %w", err)
	}
	return distance, nil
}

// fuzzyScore returns the ssdeep similarity score (0..100) between two
// fuzzy hashes, or 0 when they cannot be compared.
func fuzzyScore(a, b string) int {
	score, err := ssdeep.Distance(a, b)
	if err != nil {
		return 0
	}
	return score
}
