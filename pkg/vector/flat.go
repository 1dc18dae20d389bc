package vector

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FlatIndex is an exact inner-product index over L2-normalized vectors.
//
// Persistence is two-part and synchronous: the index blob and a side-car
// ordered id list ("<path>.ids") are both rewritten on every Add, so a
// crash never leaves the id list out of sync with the index, at the cost
// of per-write latency.
//
// Add is not internally synchronized; callers must serialize writers.
// Searches may interleave with each other but not with a concurrent Add
// or Populate.
type FlatIndex struct {
	dimension int
	path      string
	vectors   [][]float64
	ids       []string
}

// flatSnapshot is the on-disk representation of the index blob.
type flatSnapshot struct {
	Dimension int
	Vectors   [][]float64
}

// NewFlatIndex creates a flat index for vectors of the given dimension.
//
// When path is non-empty the index persists there; if an index file
// already exists at that path it is loaded.
func NewFlatIndex(dimension int, path string) (*FlatIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vector: invalid dimension %d", dimension)
	}

	idx := &FlatIndex{
		dimension: dimension,
		path:      path,
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := idx.load(); err != nil {
				return nil, fmt.Errorf("vector: load index: %w", err)
			}
		}
	}

	return idx, nil
}

// Add inserts or appends the embedding for a record id and writes both
// persistence artifacts through to disk.
func (f *FlatIndex) Add(ctx context.Context, id string, embedding []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(embedding) != f.dimension {
		return fmt.Errorf("vector: dimension mismatch: got %d, want %d", len(embedding), f.dimension)
	}

	f.vectors = append(f.vectors, normalize(embedding))
	f.ids = append(f.ids, id)

	if f.path != "" {
		if err := f.save(); err != nil {
			return fmt.Errorf("vector: save index: %w", err)
		}
	}
	return nil
}

// Search returns the topK most similar entries, best first. An empty
// index yields an empty result.
func (f *FlatIndex) Search(ctx context.Context, embedding []float64, topK int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(f.ids) == 0 || topK <= 0 {
		return nil, nil
	}
	if len(embedding) != f.dimension {
		return nil, fmt.Errorf("vector: dimension mismatch: got %d, want %d", len(embedding), f.dimension)
	}

	query := normalize(embedding)
	results := make([]Result, 0, len(f.ids))
	for i, vec := range f.vectors {
		results = append(results, Result{
			ID:    f.ids[i],
			Score: dot(query, vec),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Len returns the number of indexed vectors.
func (f *FlatIndex) Len() int {
	return len(f.ids)
}

// Populate rebuilds the index from persisted entries, skipping entries
// without an embedding. It is a no-op when the index already has
// entries.
func (f *FlatIndex) Populate(ctx context.Context, entries []Entry) error {
	if len(f.ids) > 0 {
		return nil
	}
	for _, entry := range entries {
		if len(entry.Embedding) == 0 {
			continue
		}
		if err := f.Add(ctx, entry.ID, entry.Embedding); err != nil {
			return err
		}
	}
	return nil
}

func (f *FlatIndex) save() error {
	dir := filepath.Dir(f.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	file, err := os.Create(f.path)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(file).Encode(flatSnapshot{
		Dimension: f.dimension,
		Vectors:   f.vectors,
	}); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	return os.WriteFile(f.idsPath(), []byte(strings.Join(f.ids, "\n")), 0644)
}

func (f *FlatIndex) load() error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	var snap flatSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return err
	}
	if snap.Dimension != f.dimension {
		return fmt.Errorf("index dimension %d does not match configured %d", snap.Dimension, f.dimension)
	}
	f.vectors = snap.Vectors

	raw, err := os.ReadFile(f.idsPath())
	switch {
	case err != nil && os.IsNotExist(err):
		f.ids = nil
	case err != nil:
		return err
	case len(raw) == 0:
		f.ids = nil
	default:
		f.ids = strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	}

	// A crash between the two writes leaves the blob and the id list
	// out of step; refuse to serve from such a pair.
	if len(f.ids) != len(f.vectors) {
		return fmt.Errorf("id list has %d entries for %d vectors", len(f.ids), len(f.vectors))
	}
	return nil
}

func (f *FlatIndex) idsPath() string {
	return f.path + ".ids"
}

// normalize returns an L2-normalized copy of v. Zero vectors are
// returned as-is.
func normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)

	out := make([]float64, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
