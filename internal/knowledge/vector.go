package knowledge

import (
	"encoding/binary"
	"math"
	"sort"
)

func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	result := make([]float32, len(data)/4)
	for i := range result {
		result[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return result
}

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched or zero-length vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

type scored[T any] struct {
	item  T
	score float32
}

// topK returns the k highest-scoring items, best first. Ties keep
// their input order.
func topK[T any](items []scored[T], k int) []T {
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	out := make([]T, len(items))
	for i, s := range items {
		out[i] = s.item
	}
	return out
}
