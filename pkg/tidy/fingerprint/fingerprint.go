// Package fingerprint computes content hashes used for duplicate grouping
// and ledger verification. Fingerprints carry their algorithm as a prefix,
// e.g. "sha256:9f86d0...".
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/jamesainslie/tidy/pkg/tidy/logging"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

// Algorithm names a content hash.
type Algorithm string

// Supported algorithms.
const (
	SHA256 Algorithm = "sha256"
	XXHash Algorithm = "xxhash"
)

// ErrUnknownAlgorithm is returned for unsupported algorithm names.
var ErrUnknownAlgorithm = errors.New("unknown fingerprint algorithm")

// ParseAlgorithm parses a configured algorithm name. Empty means SHA256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case SHA256, XXHash:
		return a, nil
	case "":
		return SHA256, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

func (a Algorithm) newHash() hash.Hash {
	if a == XXHash {
		return xxhash.New()
	}
	return sha256.New()
}

const chunkSize = 256 * 1024

// Hasher fingerprints files, consulting an optional cache.
type Hasher struct {
	algo  Algorithm
	cache *Cache
	log   *logging.Logger
}

// New creates a Hasher. cache may be nil.
func New(algo Algorithm, cache *Cache) *Hasher {
	if algo == "" {
		algo = SHA256
	}
	return &Hasher{algo: algo, cache: cache, log: logging.Get("fingerprint")}
}

// Algorithm returns the hash algorithm in use.
func (h *Hasher) Algorithm() Algorithm {
	return h.algo
}

// Sum returns the fingerprint of f. A cached value is reused when the
// file's size and modification time still match.
func (h *Hasher) Sum(ctx context.Context, f types.ManagedFile) (string, error) {
	if h.cache != nil {
		fp, err := h.cache.Lookup(h.algo, f.Path, f.Size, f.ModTime)
		if err == nil {
			return fp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			h.log.Warn("fingerprint cache read failed", "path", f.Path, "error", err)
		}
	}

	fp, err := h.SumFile(ctx, f.Path)
	if err != nil {
		return "", err
	}

	if h.cache != nil {
		if err := h.cache.Store(h.algo, f.Path, f.Size, f.ModTime, fp); err != nil {
			h.log.Warn("fingerprint cache write failed", "path", f.Path, "error", err)
		}
	}

	return fp, nil
}

// Forget drops any cached fingerprint for path, e.g. after it was moved.
func (h *Hasher) Forget(path string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Forget(path); err != nil {
		h.log.Warn("fingerprint cache evict failed", "path", path, "error", err)
	}
}

// SumFile hashes the file at path without the cache.
func (h *Hasher) SumFile(ctx context.Context, path string) (string, error) {
	return sumFile(ctx, h.algo, path)
}

// Verify reports whether the file at path has fingerprint fp, hashing
// with the algorithm encoded in fp.
func Verify(ctx context.Context, path, fp string) (bool, error) {
	algo, _, ok := strings.Cut(fp, ":")
	if !ok {
		return false, fmt.Errorf("%w: malformed fingerprint %q", ErrUnknownAlgorithm, fp)
	}
	a, err := ParseAlgorithm(algo)
	if err != nil {
		return false, err
	}
	got, err := sumFile(ctx, a, path)
	if err != nil {
		return false, err
	}
	return got == fp, nil
}

func sumFile(ctx context.Context, algo Algorithm, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	hw := algo.newHash()
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("hashing %s: %w", path, err)
		}
		n, err := f.Read(buf)
		if n > 0 {
			hw.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", path, err)
		}
	}

	return string(algo) + ":" + hex.EncodeToString(hw.Sum(nil)), nil
}
