package knowledge

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	indexFileName   = "vectors.bin"
	sidecarFileName = "vectors.json"
)

// sidecar is the id→vector-offset map stored beside the flat vector file.
type sidecar struct {
	Dimensions int              `json:"dimensions"`
	Offsets    map[string]int64 `json:"offsets"`
}

// VectorIndex is a file-backed flat vector index. Vectors live in a single
// binary file; the sidecar maps note ids to byte offsets. Upserts append to
// the file and repoint the sidecar; Rebuild compacts into a fresh pair and
// atomically swaps both. All vectors are held in memory for search.
type VectorIndex struct {
	dir        string
	dimensions int

	mu      sync.RWMutex
	vectors map[string][]float32
}

// ScoredID is one semantic search hit.
type ScoredID struct {
	ID    string
	Score float64
}

// OpenVectorIndex loads (or initializes) the index under dir.
func OpenVectorIndex(dir string, dimensions int) (*VectorIndex, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	idx := &VectorIndex{
		dir:        dir,
		dimensions: dimensions,
		vectors:    make(map[string][]float32),
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (x *VectorIndex) load() error {
	sidecarPath := filepath.Join(x.dir, sidecarFileName)
	data, err := os.ReadFile(sidecarPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index sidecar: %w", err)
	}

	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return fmt.Errorf("failed to parse index sidecar: %w", err)
	}
	if sc.Dimensions != x.dimensions {
		// Dimension change invalidates the index; caller rebuilds.
		return nil
	}

	vecFile, err := os.Open(filepath.Join(x.dir, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open vector file: %w", err)
	}
	defer vecFile.Close()

	for id, offset := range sc.Offsets {
		vec := make([]float32, x.dimensions)
		if _, err := vecFile.Seek(offset, 0); err != nil {
			return fmt.Errorf("failed to seek vector for %s: %w", id, err)
		}
		if err := binary.Read(vecFile, binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("failed to read vector for %s: %w", id, err)
		}
		x.vectors[id] = vec
	}
	return nil
}

// Upsert writes the vector for a note id: appended to the vector file, then
// the sidecar is repointed.
func (x *VectorIndex) Upsert(id string, vec []float32) error {
	if len(vec) != x.dimensions {
		return fmt.Errorf("vector has %d dimensions, index expects %d", len(vec), x.dimensions)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(x.dir, indexFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open vector file: %w", err)
	}
	offset, err := f.Seek(0, 2)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to seek vector file: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, vec); err != nil {
		f.Close()
		return fmt.Errorf("failed to append vector: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close vector file: %w", err)
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	x.vectors[id] = stored

	return x.writeSidecarLocked(map[string]int64{id: offset})
}

// writeSidecarLocked merges updated offsets into the sidecar and rewrites it
// atomically. Caller holds x.mu.
func (x *VectorIndex) writeSidecarLocked(updates map[string]int64) error {
	sidecarPath := filepath.Join(x.dir, sidecarFileName)

	sc := sidecar{Dimensions: x.dimensions, Offsets: map[string]int64{}}
	if data, err := os.ReadFile(sidecarPath); err == nil {
		_ = json.Unmarshal(data, &sc)
		if sc.Dimensions != x.dimensions || sc.Offsets == nil {
			sc = sidecar{Dimensions: x.dimensions, Offsets: map[string]int64{}}
		}
	}
	for id, off := range updates {
		sc.Offsets[id] = off
	}
	// Drop ids removed from memory.
	for id := range sc.Offsets {
		if _, ok := x.vectors[id]; !ok {
			delete(sc.Offsets, id)
		}
	}

	return writeFileAtomic(sidecarPath, sc)
}

// Remove drops a note from the index. The stale vector bytes stay in the
// file until the next rebuild compacts them away.
func (x *VectorIndex) Remove(id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.vectors, id)
	return x.writeSidecarLocked(nil)
}

// Search returns the k nearest ids by cosine similarity, best first.
// Scores are shifted into [0,1].
func (x *VectorIndex) Search(query []float32, k int) []ScoredID {
	x.mu.RLock()
	defer x.mu.RUnlock()

	results := make([]ScoredID, 0, len(x.vectors))
	for id, vec := range x.vectors {
		sim := cosine(query, vec)
		results = append(results, ScoredID{ID: id, Score: (sim + 1) / 2})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

// Len returns the number of indexed vectors.
func (x *VectorIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Rebuild replaces the whole index with the given vectors, compacting the
// flat file and swapping file + sidecar atomically. Searches proceed on the
// old in-memory map until the swap.
func (x *VectorIndex) Rebuild(vectors map[string][]float32) error {
	tmpVec, err := os.CreateTemp(x.dir, "vectors-*.bin.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp vector file: %w", err)
	}
	tmpName := tmpVec.Name()
	defer os.Remove(tmpName)

	offsets := make(map[string]int64, len(vectors))
	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var offset int64
	for _, id := range ids {
		vec := vectors[id]
		if len(vec) != x.dimensions {
			tmpVec.Close()
			return fmt.Errorf("vector for %s has %d dimensions, index expects %d", id, len(vec), x.dimensions)
		}
		if err := binary.Write(tmpVec, binary.LittleEndian, vec); err != nil {
			tmpVec.Close()
			return fmt.Errorf("failed to write vector for %s: %w", id, err)
		}
		offsets[id] = offset
		offset += int64(4 * len(vec))
	}
	if err := tmpVec.Close(); err != nil {
		return fmt.Errorf("failed to close temp vector file: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := os.Rename(tmpName, filepath.Join(x.dir, indexFileName)); err != nil {
		return fmt.Errorf("failed to swap vector file: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(x.dir, sidecarFileName), sidecar{
		Dimensions: x.dimensions,
		Offsets:    offsets,
	}); err != nil {
		return err
	}

	fresh := make(map[string][]float32, len(vectors))
	for id, vec := range vectors {
		stored := make([]float32, len(vec))
		copy(stored, vec)
		fresh[id] = stored
	}
	x.vectors = fresh
	return nil
}

func writeFileAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to swap %s: %w", filepath.Base(path), err)
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
