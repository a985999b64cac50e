package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/personsearch/internal/models"
)

// MemoryStore is an in-memory store using brute-force cosine search.
// Suitable for tests, development, and small datasets. When a snapshot path is set, the
// collection is loaded from it on creation and written back on Close, so an index job and a
// server process can share a collection without an external service.
type MemoryStore struct {
	collection   string
	snapshotPath string

	created    bool
	dimensions int
	index      map[string]int
	ids        []string
	vectors    [][]float32
	payloads   []models.Payload
	mu         sync.RWMutex
}

// NewMemoryStore creates an in-memory store for collection, loading snapshotPath when it exists.
func NewMemoryStore(collection, snapshotPath string) (*MemoryStore, error) {
	m := &MemoryStore{
		collection:   collection,
		snapshotPath: snapshotPath,
		index:        make(map[string]int),
	}
	if err := m.Load(snapshotPath); err != nil {
		return nil, err
	}
	return m, nil
}

// Name returns the collection name.
func (m *MemoryStore) Name() string {
	return m.collection
}

// CreateCollection creates an empty collection, or keeps the existing one when it matches spec.
func (m *MemoryStore) CreateCollection(ctx context.Context, spec CollectionSpec) error {
	if spec.Dimension <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	if spec.Distance != DistanceCosine {
		return fmt.Errorf("unsupported distance %q", spec.Distance)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.created && !spec.Recreate {
		if m.dimensions != spec.Dimension {
			return fmt.Errorf("collection %s has dimension %d, expected %d", m.collection, m.dimensions, spec.Dimension)
		}
		return nil
	}
	m.reset(spec.Dimension)
	return nil
}

func (m *MemoryStore) reset(dimensions int) {
	m.created = true
	m.dimensions = dimensions
	m.index = make(map[string]int)
	m.ids = make([]string, 0)
	m.vectors = make([][]float32, 0)
	m.payloads = make([]models.Payload, 0)
}

// Upsert stores a normalized copy of the point's vector, replacing the point with the same ID.
func (m *MemoryStore) Upsert(ctx context.Context, point models.Point) error {
	if point.ID == "" {
		return fmt.Errorf("point id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.created {
		return fmt.Errorf("upsert into %s: %w", m.collection, ErrCollectionNotFound)
	}
	if len(point.Vector) != m.dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(point.Vector), m.dimensions)
	}
	vec := Normalized(point.Vector)
	if i, ok := m.index[point.ID]; ok {
		m.vectors[i] = vec
		m.payloads[i] = point.Payload
		return nil
	}
	m.index[point.ID] = len(m.ids)
	m.ids = append(m.ids, point.ID)
	m.vectors = append(m.vectors, vec)
	m.payloads = append(m.payloads, point.Payload)
	return nil
}

// Search returns the top-k points by cosine similarity among those admitted by filter.
// Ties are broken by ID so results are stable.
func (m *MemoryStore) Search(ctx context.Context, query []float32, k int, filter Filter) ([]models.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.created {
		return nil, fmt.Errorf("search %s: %w", m.collection, ErrCollectionNotFound)
	}
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if k <= 0 || len(m.ids) == 0 {
		return []models.SearchResult{}, nil
	}
	q := Normalized(query)
	type scored struct {
		i     int
		score float64
	}
	scores := make([]scored, 0, len(m.ids))
	for i, vec := range m.vectors {
		if !filter.Matches(m.payloads[i].DatasetName) {
			continue
		}
		scores = append(scores, scored{i: i, score: InnerProduct(q, vec)})
	}
	sort.Slice(scores, func(a, b int) bool {
		if scores[a].score != scores[b].score {
			return scores[a].score > scores[b].score
		}
		return m.ids[scores[a].i] < m.ids[scores[b].i]
	})
	if k > len(scores) {
		k = len(scores)
	}
	result := make([]models.SearchResult, k)
	for j := 0; j < k; j++ {
		i := scores[j].i
		result[j] = models.SearchResult{ID: m.ids[i], Score: scores[j].score, Payload: m.payloads[i]}
	}
	return result, nil
}

// ListDistinct returns the sorted distinct values of dataset_name, path, or a metadata key.
func (m *MemoryStore) ListDistinct(ctx context.Context, field string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.created {
		return nil, fmt.Errorf("list %s: %w", m.collection, ErrCollectionNotFound)
	}
	seen := make(map[string]bool)
	for _, p := range m.payloads {
		var v string
		switch field {
		case FieldDatasetName:
			v = p.DatasetName
		case FieldPath:
			v = p.Path
		default:
			v = p.Metadata[field]
		}
		if v != "" {
			seen[v] = true
		}
	}
	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values, nil
}

// Exists reports whether a point with id is stored.
func (m *MemoryStore) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.created {
		return false, fmt.Errorf("exists in %s: %w", m.collection, ErrCollectionNotFound)
	}
	_, ok := m.index[id]
	return ok, nil
}

// Count returns the number of stored points.
func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.created {
		return 0, fmt.Errorf("count %s: %w", m.collection, ErrCollectionNotFound)
	}
	return int64(len(m.ids)), nil
}

// Save persists the collection to path. Directory is created if needed. Format: dimension (4), n (4),
// then per point: idLen (4), id bytes, payloadLen (4), payload JSON, vector (dimension*4 bytes).
func (m *MemoryStore) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" || !m.created {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.write(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (m *MemoryStore) write(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range m.ids {
		payload, err := json.Marshal(m.payloads[i])
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		if err := writeBytes(w, []byte(id)); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if err := writeBytes(w, payload); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(m.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the collection from path and replaces the in-memory contents.
// If the file does not exist, no error is returned and the store is unchanged.
func (m *MemoryStore) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if dim == 0 {
		return fmt.Errorf("snapshot %s has zero dimension", path)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset(int(dim))
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		id, err := readBytes(r)
		if err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		raw, err := readBytes(r)
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
		var payload models.Payload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		m.index[string(id)] = len(m.ids)
		m.ids = append(m.ids, string(id))
		m.vectors = append(m.vectors, bytesToFloat32Slice(buf))
		m.payloads = append(m.payloads, payload)
	}
	return nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Close writes the snapshot when a snapshot path is set.
func (m *MemoryStore) Close() error {
	return m.Save(m.snapshotPath)
}
