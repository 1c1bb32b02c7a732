// Package extract produces bounded text samples from documents for
// categorization. Extraction never fails the caller: unsupported or corrupt
// input degrades to an empty sample and filename-only categorization.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/h2non/filetype"

	"github.com/jamesainslie/tidy/pkg/tidy/logging"
)

// ErrExtraction is the base error for unsupported or corrupt input.
var ErrExtraction = errors.New("extraction failed")

// ErrUnsupportedFormat indicates no extractor handles the file.
var ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrExtraction)

// Default limits.
const (
	DefaultMaxPages = 5
	DefaultMaxBytes = 64 * 1024
	DefaultTimeout  = 30 * time.Second

	headerSize = 261
)

// Format is a supported document family.
type Format string

// Supported formats.
const (
	FormatUnknown Format = ""
	FormatPDF     Format = "pdf"
	FormatDocx    Format = "docx"
	FormatText    Format = "text"
)

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".tsv": true,
	".json": true, ".yaml": true, ".yml": true, ".xml": true, ".html": true,
	".htm": true, ".log": true, ".rst": true, ".ini": true, ".toml": true,
}

// Options bounds extraction.
type Options struct {
	// MaxPages caps page-oriented formats.
	MaxPages int

	// MaxBytes caps plain text and the returned sample.
	MaxBytes int64

	// Timeout bounds a single Extract call.
	Timeout time.Duration
}

// Extractor reads text samples from files. It is safe for concurrent use.
type Extractor struct {
	opts Options
	log  *logging.Logger
}

// New creates an Extractor, filling zero options with defaults.
func New(opts Options) *Extractor {
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Extractor{opts: opts, log: logging.Get("extract")}
}

// Extract returns a bounded text sample for path, or "" when the format is
// unsupported, the file is corrupt, or the timeout elapses.
func (e *Extractor) Extract(ctx context.Context, path string) string {
	sample, err := e.Sample(ctx, path)
	if err != nil {
		e.log.Debug("extraction degraded to filename", "path", path, "error", err)
		return ""
	}
	return sample
}

// Sample is Extract with the failure reason surfaced.
func (e *Extractor) Sample(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		text, err := e.extract(path)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		return truncate(r.text, e.opts.MaxBytes), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %s: %w", ErrExtraction, path, ctx.Err())
	}
}

func (e *Extractor) extract(path string) (string, error) {
	format, err := Detect(path)
	if err != nil {
		return "", err
	}

	switch format {
	case FormatPDF:
		return e.pdf(path)
	case FormatDocx:
		return e.docx(path)
	case FormatText:
		return e.text(path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Detect identifies the document family by magic bytes, falling back to
// the file extension.
func Detect(path string) (Format, error) {
	head, err := readHeader(path, headerSize)
	if err != nil {
		return FormatUnknown, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	ext := strings.ToLower(filepath.Ext(path))

	kind, _ := filetype.Match(head)
	switch {
	case kind.Extension == "pdf":
		return FormatPDF, nil
	case kind.Extension == "docx", ext == ".docx" && kind.Extension == "zip":
		return FormatDocx, nil
	case kind != filetype.Unknown:
		return FormatUnknown, nil
	case textExtensions[ext]:
		return FormatText, nil
	case len(head) > 0 && looksLikeText(head):
		return FormatText, nil
	}

	return FormatUnknown, nil
}

func (e *Extractor) text(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	defer f.Close()

	buf, err := io.ReadAll(io.LimitReader(f, e.opts.MaxBytes))
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %w", ErrExtraction, path, err)
	}

	buf = trimPartialRune(buf)
	if !utf8.Valid(buf) || strings.ContainsRune(string(buf), 0) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8 text", ErrExtraction, path)
	}

	return string(buf), nil
}

func readHeader(path string, size int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, size)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return nil, err
	}

	return head[:n], nil
}

func looksLikeText(head []byte) bool {
	head = trimPartialRune(head)
	return utf8.Valid(head) && !strings.ContainsRune(string(head), 0)
}

// trimPartialRune drops a multi-byte rune cut off at the end of b.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			break
		}
	}
	return b
}

func truncate(s string, max int64) string {
	if int64(len(s)) <= max {
		return s
	}
	return string(trimPartialRune([]byte(s[:max])))
}
