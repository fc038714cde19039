package voiceprint

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/haivivi/zasr/pkg/inference"
)

// Manager is the native [inference.EmbeddingManager]: a brute-force cosine
// similarity search over named, L2-normalized embeddings. Catalog sizes
// are small (tens of speakers), so exact search beats maintaining an ANN
// structure.
type Manager struct {
	dim int

	mu       sync.RWMutex
	speakers map[string][][]float32 // normalized embeddings per name
}

var _ inference.EmbeddingManager = (*Manager)(nil)

// NewManager creates a manager for embeddings of the given dimension.
func NewManager(dim int) *Manager {
	return &Manager{
		dim:      dim,
		speakers: make(map[string][][]float32),
	}
}

// Dim returns the embedding dimension the manager accepts.
func (m *Manager) Dim() int { return m.dim }

// Register associates embeddings with a name, normalizing copies of them.
// Registering an existing name adds to its embeddings.
func (m *Manager) Register(name string, embeddings [][]float32) error {
	if name == "" {
		return fmt.Errorf("voiceprint: register with empty name")
	}
	normalized := make([][]float32, 0, len(embeddings))
	for _, e := range embeddings {
		if len(e) != m.dim {
			return fmt.Errorf("voiceprint: embedding dim %d, manager expects %d", len(e), m.dim)
		}
		normalized = append(normalized, Normalize(e))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speakers[name] = append(m.speakers[name], normalized...)
	return nil
}

// Search returns the name whose best embedding has the highest cosine
// similarity to the query, provided it meets threshold.
func (m *Manager) Search(query []float32, threshold float32) (string, bool) {
	if len(query) != m.dim {
		return "", false
	}
	q := Normalize(query)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		bestName string
		bestSim  float32 = -1
	)
	for name, embs := range m.speakers {
		for _, e := range embs {
			if sim := dot(q, e); sim > bestSim {
				bestSim = sim
				bestName = name
			}
		}
	}
	if bestName == "" || bestSim < threshold {
		return "", false
	}
	return bestName, true
}

// Verify reports whether the query matches the named speaker at the given
// threshold.
func (m *Manager) Verify(name string, query []float32, threshold float32) bool {
	if len(query) != m.dim {
		return false
	}
	q := Normalize(query)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.speakers[name] {
		if dot(q, e) >= threshold {
			return true
		}
	}
	return false
}

// Remove drops a name and its embeddings.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.speakers[name]; !ok {
		return ErrNotFound
	}
	delete(m.speakers, name)
	return nil
}

// Len returns the number of registered names.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.speakers)
}

// Normalize returns an L2-normalized copy of the embedding. A zero vector
// is returned unchanged.
func Normalize(e []float32) []float32 {
	out := make([]float32, len(e))
	copy(out, e)
	v := blas32.Vector{N: len(out), Inc: 1, Data: out}
	norm := blas32.Nrm2(v)
	if norm > 0 {
		blas32.Scal(1/norm, v)
	}
	return out
}

// MeanEmbedding returns the renormalized mean of the L2-normalized input
// embeddings. This is how multi-file enrollment is reduced to a single
// reference vector.
func MeanEmbedding(embeddings [][]float32) []float32 {
	if len(embeddings) == 0 {
		return nil
	}
	mean := make([]float32, len(embeddings[0]))
	for _, e := range embeddings {
		n := Normalize(e)
		blas32.Axpy(1, blas32.Vector{N: len(n), Inc: 1, Data: n},
			blas32.Vector{N: len(mean), Inc: 1, Data: mean})
	}
	blas32.Scal(1/float32(len(embeddings)), blas32.Vector{N: len(mean), Inc: 1, Data: mean})
	return Normalize(mean)
}

func dot(a, b []float32) float32 {
	return blas32.Dot(
		blas32.Vector{N: len(a), Inc: 1, Data: a},
		blas32.Vector{N: len(b), Inc: 1, Data: b},
	)
}
