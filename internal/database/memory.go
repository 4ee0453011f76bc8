package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store. Values are normalised through JSON on
// write so reads see the same shapes the Postgres store returns.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]any)}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Get(ctx context.Context, path string) (Document, error) {
	if err := checkDocPath(path); err != nil {
		return Document{}, err
	}
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.docs[path]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{Path: path, Data: cloneMap(data)}, nil
}

func (m *MemoryStore) Set(ctx context.Context, path string, data map[string]any) error {
	if err := checkDocPath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	normalised, err := normalise(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.docs[path]
	if !ok {
		existing = make(map[string]any, len(normalised))
		m.docs[path] = existing
	}
	for k, v := range normalised {
		existing[k] = v
	}
	return nil
}

func (m *MemoryStore) DeleteBatch(ctx context.Context, paths []string) error {
	for _, p := range paths {
		if err := checkDocPath(p); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range paths {
		delete(m.docs, p)
	}
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := checkQuery(q); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filters := make([]Filter, len(q.Filters))
	for i, f := range q.Filters {
		v, err := normaliseValue(f.Value)
		if err != nil {
			return nil, err
		}
		filters[i] = Filter{Field: f.Field, Op: f.Op, Value: v}
	}

	m.mu.RLock()
	var out []Document
	for p, data := range m.docs {
		if parentCollection(p) != q.Collection || !matchesAll(data, filters) {
			continue
		}
		if q.OrderBy != "" {
			if _, ok := data[q.OrderBy].(string); !ok {
				continue
			}
		}
		out = append(out, Document{Path: p, Data: cloneMap(data)})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if q.OrderBy != "" {
			a, b := out[i].Data[q.OrderBy].(string), out[j].Data[q.OrderBy].(string)
			if a != b {
				if q.Descending {
					return a > b
				}
				return a < b
			}
		}
		return out[i].Path < out[j].Path
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Len returns the number of stored documents whose path starts with prefix.
func (m *MemoryStore) Len(prefix string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for p := range m.docs {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

func matchesAll(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := data[f.Field]
		if !ok || !matches(v, f.Op, f.Value) {
			return false
		}
	}
	return true
}

func matches(got any, op Op, want any) bool {
	var cmp int
	switch g := got.(type) {
	case string:
		w, ok := want.(string)
		if !ok {
			return false
		}
		cmp = strings.Compare(g, w)
	case float64:
		w, ok := want.(float64)
		if !ok {
			return false
		}
		switch {
		case g < w:
			cmp = -1
		case g > w:
			cmp = 1
		}
	case bool:
		w, ok := want.(bool)
		return ok && op == OpEq && g == w
	default:
		return false
	}

	switch op {
	case OpEq:
		return cmp == 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

func normalise(data map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func normaliseValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to encode filter value: %w", err)
	}
	return out, nil
}

// cloneMap copies a normalised document deeply enough that callers cannot
// mutate stored slices or nested maps.
func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	default:
		return v
	}
}
