// Package embedding turns text into fixed-dimension vectors and keeps one
// stored vector per cached job. The embedding model itself is external; this
// package only consumes a "text → vector" capability.
package embedding

import (
	"context"
	"encoding/binary"
	"math"
)

// Embedder is the port to the external embedding provider. Implementations
// must be deterministic for identical input and return vectors of one fixed
// dimension for the whole system's lifetime.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Serialize converts a float32 vector to its little-endian wire form for
// BLOB storage.
func Serialize(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Deserialize converts stored bytes back to a float32 vector. Returns nil
// for empty or malformed input.
func Deserialize(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}

// NormalizeL2 scales the vector to unit length in place and returns it, so
// ranking can use a plain dot product as cosine similarity. Zero vectors are
// returned unchanged.
func NormalizeL2(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
	return vec
}
