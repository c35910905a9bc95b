// Package storage - Serialization helpers for BadgerDB.
package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// badgerRecord is the value stored under a document key. The ID is the key
// itself and is not repeated.
type badgerRecord struct {
	Text   string
	Vector []float32
}

// serializeDocument converts a Document to gob bytes for BadgerDB storage.
func serializeDocument(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	rec := badgerRecord{Text: doc.Text, Vector: doc.Vector}
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return buf.Bytes(), nil
}

// deserializeDocument converts gob bytes back to a Document.
func deserializeDocument(id string, data []byte) (Document, error) {
	var rec badgerRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return Document{}, fmt.Errorf("%w: decoding document %s: %v", ErrCorrupt, id, err)
	}
	return Document{ID: id, Text: rec.Text, Vector: rec.Vector}, nil
}
