package fingerprint

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

func managed(t *testing.T, dir, name, content string) types.ManagedFile {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return types.ManagedFile{Path: path, Size: info.Size(), ModTime: info.ModTime()}
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, SHA256, a)

	a, err = ParseAlgorithm("XXHash")
	require.NoError(t, err)
	assert.Equal(t, XXHash, a)

	_, err = ParseAlgorithm("md5")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestSumSHA256(t *testing.T) {
	dir := t.TempDir()
	f := managed(t, dir, "a.txt", "test")

	fp, err := New(SHA256, nil).Sum(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08", fp)
}

func TestSumIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	for _, algo := range []Algorithm{SHA256, XXHash} {
		t.Run(string(algo), func(t *testing.T) {
			h := New(algo, nil)
			a, err := h.Sum(context.Background(), managed(t, dir, "one-"+string(algo), "same bytes"))
			require.NoError(t, err)
			b, err := h.Sum(context.Background(), managed(t, dir, "two-"+string(algo), "same bytes"))
			require.NoError(t, err)
			c, err := h.Sum(context.Background(), managed(t, dir, "three-"+string(algo), "other bytes"))
			require.NoError(t, err)

			assert.Equal(t, a, b)
			assert.NotEqual(t, a, c)
			assert.True(t, strings.HasPrefix(a, string(algo)+":"))
		})
	}
}

func TestSumCancelled(t *testing.T) {
	dir := t.TempDir()
	f := managed(t, dir, "a.txt", "content")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(SHA256, nil).Sum(ctx, f)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSumMissingFile(t *testing.T) {
	_, err := New(SHA256, nil).SumFile(context.Background(), filepath.Join(t.TempDir(), "gone"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	f := managed(t, dir, "a.txt", "payload")

	fp, err := New(XXHash, nil).SumFile(context.Background(), f.Path)
	require.NoError(t, err)

	ok, err := Verify(context.Background(), f.Path, fp)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, os.WriteFile(f.Path, []byte("changed"), 0o644))
	ok, err = Verify(context.Background(), f.Path, fp)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Verify(context.Background(), f.Path, "nocolon")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestCacheLookupValidatesMetadata(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	defer cache.Close()

	mtime := time.Unix(1700000000, 0)
	require.NoError(t, cache.Store(SHA256, "/docs/a.pdf", 10, mtime, "sha256:abc"))

	fp, err := cache.Lookup(SHA256, "/docs/a.pdf", 10, mtime)
	require.NoError(t, err)
	assert.Equal(t, "sha256:abc", fp)

	_, err = cache.Lookup(SHA256, "/docs/a.pdf", 11, mtime)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = cache.Lookup(SHA256, "/docs/a.pdf", 10, mtime.Add(time.Second))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = cache.Lookup(XXHash, "/docs/a.pdf", 10, mtime)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, cache.Forget("/docs/a.pdf"))
	_, err = cache.Lookup(SHA256, "/docs/a.pdf", 10, mtime)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSumUsesCache(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenCache(filepath.Join(dir, "cache"))
	require.NoError(t, err)
	defer cache.Close()

	f := managed(t, dir, "a.txt", "real content")
	require.NoError(t, cache.Store(SHA256, f.Path, f.Size, f.ModTime, "sha256:cached"))

	h := New(SHA256, cache)
	fp, err := h.Sum(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "sha256:cached", fp)

	h.Forget(f.Path)
	fp, err = h.Sum(context.Background(), f)
	require.NoError(t, err)
	assert.NotEqual(t, "sha256:cached", fp)

	// The fresh value is written back.
	cached, err := cache.Lookup(SHA256, f.Path, f.Size, f.ModTime)
	require.NoError(t, err)
	assert.Equal(t, fp, cached)
}
