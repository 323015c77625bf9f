// Package strm expands .strm indirection files: single-entry text files
// whose content is the real path or URL of the media they stand in for.
package strm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxSize is the largest .strm file the gateway will read. Anything
// bigger is assumed to be mislabeled media, not an indirection file.
const MaxSize = 1 << 20

var (
	ErrEmpty    = errors.New("strm file is empty")
	ErrTooLarge = errors.New("strm file too large")
	ErrNotUTF8  = errors.New("strm file is not valid UTF-8")
)

// Is reports whether path names a .strm file, matched case-insensitively.
func Is(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".strm")
}

// Resolve reads the .strm file at path and returns its target with
// surrounding whitespace trimmed. Stat or read failures are returned
// as-is; content failures wrap ErrEmpty, ErrTooLarge, or ErrNotUTF8.
func Resolve(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%s: %w", path, ErrEmpty)
	}
	if info.Size() > MaxSize {
		return "", fmt.Errorf("%s: %d bytes: %w", path, info.Size(), ErrTooLarge)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%s: %w", path, ErrNotUTF8)
	}

	target := strings.TrimSpace(string(raw))
	if target == "" {
		return "", fmt.Errorf("%s: %w", path, ErrEmpty)
	}
	return target, nil
}
