package database

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"
	"github.com/racepix/racepix/internal/constants"
)

// FaceIndex wraps an HNSW graph over one event's face signatures. The
// clustering engine builds it per run from stored faces; it is not persisted.
type FaceIndex struct {
	graph    *hnsw.Graph[int64]
	idToFace map[int64]*PhotoFace
	mu       sync.RWMutex
}

// NewFaceIndex creates a new empty face index.
func NewFaceIndex() *FaceIndex {
	return &FaceIndex{
		idToFace: make(map[int64]*PhotoFace),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance
	return g
}

// BuildFromFaces builds the index from a slice of faces. Faces without an
// embedding are skipped.
func (x *FaceIndex) BuildFromFaces(faces []PhotoFace) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if len(faces) == 0 {
		x.graph = nil
		x.idToFace = make(map[int64]*PhotoFace)
		return nil
	}

	g := newGraph()
	x.idToFace = make(map[int64]*PhotoFace, len(faces))

	for i := range faces {
		face := &faces[i]
		if len(face.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(face.ID, face.Embedding))
		x.idToFace[face.ID] = face
	}

	x.graph = g
	return nil
}

// Add adds a single face to the index.
func (x *FaceIndex) Add(face *PhotoFace) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if len(face.Embedding) == 0 {
		return
	}
	if x.graph == nil {
		x.graph = newGraph()
	}
	x.graph.Add(hnsw.MakeNode(face.ID, face.Embedding))
	x.idToFace[face.ID] = face
}

// Search finds the k nearest neighbors to the query embedding.
// Returns face IDs and their cosine distances.
func (x *FaceIndex) Search(query []float32, k int) ([]int64, []float64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil {
		return nil, nil, errors.New("index not initialized")
	}

	neighbors := x.graph.Search(query, k)

	ids := make([]int64, len(neighbors))
	distances := make([]float64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.Key
		// Compute the exact distance from the node's own embedding; the graph
		// only guarantees approximate ordering.
		if len(n.Value) > 0 {
			distances[i] = CosineDistance(query, n.Value)
		}
	}

	return ids, distances, nil
}

// GetFace returns the face for a given ID, or nil if it is not indexed.
func (x *FaceIndex) GetFace(id int64) *PhotoFace {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.idToFace[id]
}

// Count returns the number of indexed faces.
func (x *FaceIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.idToFace)
}
