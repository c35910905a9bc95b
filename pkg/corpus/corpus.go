// Package corpus reads the plain-text documents vecrank indexes.
//
// A corpus is a directory of *.txt files. Each file is one document whose
// ID is derived from its content, so re-indexing an unchanged file
// overwrites the same store entry instead of adding a duplicate.
package corpus

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"
)

// IDPrefix is prepended to every content ID. It matches the key prefix the
// redis store scans.
const IDPrefix = "embedding:"

// Extension is the file extension a corpus document must have.
const Extension = ".txt"

// Errors
var (
	ErrNotDir      = errors.New("corpus: not a directory")
	ErrInvalidUTF8 = errors.New("corpus: file is not valid UTF-8")
)

// Document is one corpus file.
type Document struct {
	ID   string
	Path string
	Text string
}

// ContentID returns IDPrefix followed by the hex BLAKE2b-128 digest of text.
func ContentID(text string) string {
	h, _ := blake2b.New(16, nil) // only errors on bad size or key
	h.Write([]byte(text))
	return IDPrefix + hex.EncodeToString(h.Sum(nil))
}

// IsDocument reports whether path names a corpus file.
func IsDocument(path string) bool {
	return strings.EqualFold(filepath.Ext(path), Extension)
}

// ReadFile reads one document.
func ReadFile(path string) (Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 - caller chooses the corpus
	if err != nil {
		return Document{}, fmt.Errorf("corpus: %w", err)
	}
	if !utf8.Valid(data) {
		return Document{}, fmt.Errorf("%w: %s", ErrInvalidUTF8, path)
	}
	text := string(data)
	return Document{ID: ContentID(text), Path: path, Text: text}, nil
}

// ReadDir reads every *.txt file directly inside dir, in file name order.
// Subdirectories are not descended. Files with identical content share an
// ID; only the first is returned.
func ReadDir(dir string) ([]Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDir, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsDocument(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	docs := make([]Document, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		doc, err := ReadFile(p)
		if err != nil {
			return nil, err
		}
		if seen[doc.ID] {
			continue
		}
		seen[doc.ID] = true
		docs = append(docs, doc)
	}
	return docs, nil
}
