package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

type memCollection struct {
	info    CollectionInfo
	records map[int64]Record
}

// MemoryIndex is an in-process Backend using brute-force cosine distance.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[int64]*memCollection
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[int64]*memCollection)}
}

func (m *MemoryIndex) EnsureCollection(_ context.Context, bookID int64, info CollectionInfo) (CollectionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[bookID]; ok {
		return c.info, nil
	}
	info.Name = CollectionName(bookID)
	m.collections[bookID] = &memCollection{info: info, records: make(map[int64]Record)}
	return info, nil
}

func (m *MemoryIndex) CollectionExists(_ context.Context, bookID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[bookID]
	return ok, nil
}

func (m *MemoryIndex) Describe(_ context.Context, bookID int64) (CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[bookID]
	if !ok {
		return CollectionInfo{}, fmt.Errorf("%w: %s", ErrCollectionMissing, CollectionName(bookID))
	}
	return c.info, nil
}

// Upsert replaces records by chunk id. Vectors must match the collection dimension when one is declared.
func (m *MemoryIndex) Upsert(_ context.Context, bookID int64, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[bookID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionMissing, CollectionName(bookID))
	}
	for _, r := range records {
		if c.info.Dimension > 0 && len(r.Vector) != c.info.Dimension {
			return fmt.Errorf("%w: chunk %d has %d, want %d", ErrDimensionMismatch, r.ChunkID, len(r.Vector), c.info.Dimension)
		}
	}
	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		r.Metadata.Keywords = append([]string(nil), r.Metadata.Keywords...)
		c.records[r.ChunkID] = r
	}
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, bookID int64, vector []float32, topK int, filter Filter) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[bookID]
	if !ok {
		return nil, nil
	}

	matches := make([]Match, 0, len(c.records))
	for _, r := range c.records {
		if !filter.Matches(r.Metadata) {
			continue
		}
		matches = append(matches, Match{
			ChunkID:  r.ChunkID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Distance: cosineDistance(vector, r.Vector),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance == matches[j].Distance {
			return matches[i].ChunkID < matches[j].ChunkID
		}
		return matches[i].Distance < matches[j].Distance
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *MemoryIndex) Count(_ context.Context, bookID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[bookID]
	if !ok {
		return 0, nil
	}
	return len(c.records), nil
}

func (m *MemoryIndex) DeleteCollection(_ context.Context, bookID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, bookID)
	return nil
}

func (m *MemoryIndex) Ping(context.Context) error { return nil }

// cosineDistance is 1 - cos(a, b). A zero vector is treated as orthogonal to everything.
func cosineDistance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
