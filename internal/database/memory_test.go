package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSetMerge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "root/main/sites/a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "root/main/sites/a", map[string]any{"name": "A", "lat": 25}))
	require.NoError(t, s.Set(ctx, "root/main/sites/a", map[string]any{"lat": 26.5, "state": "Assam"}))

	doc, err := s.Get(ctx, "root/main/sites/a")
	require.NoError(t, err)
	assert.Equal(t, "a", doc.ID())
	assert.Equal(t, map[string]any{"name": "A", "lat": 26.5, "state": "Assam"}, doc.Data)

	// Returned data is a copy.
	doc.Data["name"] = "changed"
	again, err := s.Get(ctx, "root/main/sites/a")
	require.NoError(t, err)
	assert.Equal(t, "A", again.Data["name"])
}

func TestMemoryStore_RejectsBadPaths(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	assert.Error(t, s.Set(ctx, "root/main/sites", map[string]any{}))
	assert.Error(t, s.Set(ctx, "root//sites/a", map[string]any{}))
	_, err := s.Get(ctx, "")
	assert.Error(t, err)
	_, err = s.Query(ctx, NewQuery("root/main"))
	assert.Error(t, err)
	assert.Error(t, s.DeleteBatch(ctx, []string{"root/main/sites/a", "bad"}))
}

func TestMemoryStore_Query(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	col := "root/main/sites/a/hourly"

	for i, ts := range []string{"2025-07-15T01:00:00Z", "2025-07-15T03:00:00Z", "2025-07-15T02:00:00Z", "2025-07-16T00:00:00Z"} {
		require.NoError(t, s.Set(ctx, col+"/"+ts[:13]+"Z", map[string]any{"timestamp": ts, "ph": 7.0 + float64(i)/10, "ecoli": i == 1}))
	}
	require.NoError(t, s.Set(ctx, col+"/no-timestamp", map[string]any{"ph": 7.0}))
	// Nested documents are not part of the collection.
	require.NoError(t, s.Set(ctx, col+"/2025-07-15T01Z/notes/n1", map[string]any{"timestamp": "2025-07-15T01:30:00Z"}))

	all, err := s.Query(ctx, NewQuery(col))
	require.NoError(t, err)
	assert.Len(t, all, 5)

	day, err := s.Query(ctx, NewQuery(col).
		Where("timestamp", OpGte, "2025-07-15T00:00:00Z").
		Where("timestamp", OpLt, "2025-07-16T00:00:00Z"))
	require.NoError(t, err)
	assert.Len(t, day, 3)

	latest, err := s.Query(ctx, NewQuery(col).OrderDesc("timestamp").WithLimit(2))
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "2025-07-16T00:00:00Z", latest[0].Data["timestamp"])
	assert.Equal(t, "2025-07-15T03:00:00Z", latest[1].Data["timestamp"])

	asc, err := s.Query(ctx, NewQuery(col).OrderAsc("timestamp"))
	require.NoError(t, err)
	assert.Len(t, asc, 4, "documents without the order field are excluded")
	assert.Equal(t, "2025-07-15T01:00:00Z", asc[0].Data["timestamp"])

	positive, err := s.Query(ctx, NewQuery(col).Where("ecoli", OpEq, true))
	require.NoError(t, err)
	require.Len(t, positive, 1)
	assert.Equal(t, "2025-07-15T03Z", positive[0].ID())

	acidic, err := s.Query(ctx, NewQuery(col).Where("ph", OpGt, 7.15))
	require.NoError(t, err)
	assert.Len(t, acidic, 2)

	none, err := s.Query(ctx, NewQuery(col).Where("ph", OpEq, "7"))
	require.NoError(t, err)
	assert.Empty(t, none, "type mismatch never matches")
}

func TestMemoryStore_DeleteBatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "r/m/c/a", map[string]any{"v": 1}))
	require.NoError(t, s.Set(ctx, "r/m/c/b", map[string]any{"v": 2}))
	require.NoError(t, s.Set(ctx, "r/m/c/c", map[string]any{"v": 3}))

	require.NoError(t, s.DeleteBatch(ctx, []string{"r/m/c/a", "r/m/c/b", "r/m/c/missing"}))
	assert.Equal(t, 1, s.Len("r/m/c/"))

	_, err := s.Get(ctx, "r/m/c/a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()

	assert.ErrorIs(t, s.Ping(ctx), context.Canceled)
	assert.ErrorIs(t, s.Set(ctx, "r/m/c/a", map[string]any{}), context.Canceled)
}

func TestDocument_DecodeEncode(t *testing.T) {
	cases := 3
	rec := HourlyRecord{
		Timestamp:  FormatTimestamp(time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)),
		PH:         7.1,
		Turbidity:  0.4,
		RainfallMM: 2.5,
		DailyCases: &cases,
		Source:     SourceGenerator,
	}
	data, err := Encode(rec)
	require.NoError(t, err)
	assert.Equal(t, "2025-07-15T12:00:00Z", data["timestamp"])
	assert.Equal(t, "", data["bias"], "bias is always written so merges clear it")

	var back HourlyRecord
	require.NoError(t, Document{Path: "a/b", Data: data}.Decode(&back))
	assert.Equal(t, rec, back)

	var bad HourlyRecord
	assert.Error(t, Document{Path: "a/b", Data: map[string]any{"ph": "seven"}}.Decode(&bad))
}
