package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// serializeEmbedding converts a float32 slice to a binary BLOB for storage.
// Uses little-endian encoding for consistency across platforms.
func serializeEmbedding(embedding []float32) []byte {
	blob := make([]byte, len(embedding)*4)
	for i, val := range embedding {
		binary.LittleEndian.PutUint32(blob[i*4:(i+1)*4], math.Float32bits(val))
	}
	return blob
}

// deserializeEmbedding converts a binary BLOB back to a float32 slice.
func deserializeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: embedding blob of %d bytes", ErrCorrupt, len(data))
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : (i+1)*4]))
	}
	return embedding, nil
}

// embeddingJSON is the redis "embedding" field: {"values": [...]}.
type embeddingJSON struct {
	Values []float32 `json:"values"`
}

func marshalEmbeddingJSON(v []float32) (string, error) {
	b, err := json.Marshal(embeddingJSON{Values: v})
	if err != nil {
		return "", fmt.Errorf("encoding embedding: %w", err)
	}
	return string(b), nil
}

func unmarshalEmbeddingJSON(s string) ([]float32, error) {
	var e embeddingJSON
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return nil, fmt.Errorf("%w: embedding json: %v", ErrCorrupt, err)
	}
	return e.Values, nil
}
