package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when no document exists at the path.
var ErrNotFound = errors.New("document not found")

// Document is a stored JSON object addressed by a slash-separated path.
// Document paths have an even number of segments and collection paths an odd
// number, so "root/main/sites/s1" lives in collection "root/main/sites".
type Document struct {
	Path string
	Data map[string]any
}

// ID returns the last path segment.
func (d Document) ID() string {
	return d.Path[strings.LastIndex(d.Path, "/")+1:]
}

// Decode unmarshals the document into v.
func (d Document) Decode(v any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", d.Path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", d.Path, err)
	}
	return nil
}

// Encode converts a tagged struct into the field map written by Set.
func Encode(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to encode: %w", err)
	}
	return out, nil
}

// Op is a query comparison operator.
type Op string

const (
	OpEq  Op = "=="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
)

// Filter restricts a query on one top-level field. Documents missing the field never match.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects documents directly inside one collection.
type Query struct {
	Collection string
	Filters    []Filter
	// OrderBy sorts on a string field. Documents without it are excluded.
	OrderBy    string
	Descending bool
	Limit      int
}

func NewQuery(collection string) Query {
	return Query{Collection: collection}
}

func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) OrderDesc(field string) Query {
	q.OrderBy, q.Descending = field, true
	return q
}

func (q Query) OrderAsc(field string) Query {
	q.OrderBy, q.Descending = field, false
	return q
}

func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// Store is the document store the jobs read and write through.
type Store interface {
	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context, path string) (Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	// Set merges data into the document's top-level fields, creating it if needed.
	Set(ctx context.Context, path string, data map[string]any) error
	// DeleteBatch removes all paths or none.
	DeleteBatch(ctx context.Context, paths []string) error
	Ping(ctx context.Context) error
}

func validOp(op Op) bool {
	switch op {
	case OpEq, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

func checkDocPath(path string) error {
	segs := strings.Split(path, "/")
	if path == "" || len(segs)%2 != 0 {
		return fmt.Errorf("invalid document path %q", path)
	}
	for _, s := range segs {
		if s == "" {
			return fmt.Errorf("invalid document path %q", path)
		}
	}
	return nil
}

func checkCollectionPath(path string) error {
	segs := strings.Split(path, "/")
	if path == "" || len(segs)%2 != 1 {
		return fmt.Errorf("invalid collection path %q", path)
	}
	for _, s := range segs {
		if s == "" {
			return fmt.Errorf("invalid collection path %q", path)
		}
	}
	return nil
}

func parentCollection(path string) string {
	return path[:strings.LastIndex(path, "/")]
}

func checkQuery(q Query) error {
	if err := checkCollectionPath(q.Collection); err != nil {
		return err
	}
	for _, f := range q.Filters {
		if f.Field == "" || !validOp(f.Op) {
			return fmt.Errorf("invalid filter %q %q", f.Field, f.Op)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("invalid limit %d", q.Limit)
	}
	return nil
}
