package voiceprint

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// WriteEmbeddingFile writes an embedding binary: a little-endian int32
// dimension header followed by dim float32 values.
func WriteEmbeddingFile(path string, embedding []float32) error {
	buf := make([]byte, 4+4*len(embedding))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(embedding)))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("voiceprint: write embedding: %w", err)
	}
	return nil
}

// ReadEmbeddingFile reads an embedding binary written by
// WriteEmbeddingFile, validating the dimension header against the file
// size.
func ReadEmbeddingFile(path string) ([]float32, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: read embedding: %w", err)
	}
	if len(buf) < 4 {
		return nil, fmt.Errorf("voiceprint: embedding file %s too short", path)
	}
	dim := int(int32(binary.LittleEndian.Uint32(buf[0:4])))
	if dim < 0 || len(buf) != 4+4*dim {
		return nil, fmt.Errorf("voiceprint: embedding file %s: header dim %d does not match %d payload bytes",
			path, dim, len(buf)-4)
	}
	embedding := make([]float32, dim)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4+4*i:]))
	}
	return embedding, nil
}
