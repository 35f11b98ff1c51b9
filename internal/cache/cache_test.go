package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/devrev/pairdb/docsync/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T, store Store) (*Cache, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return New(store, m, zap.NewNop()), m
}

func TestCache_ReadMissing(t *testing.T) {
	c, _ := newTestCache(t, NewMemoryStore())

	value, found := c.Read("students")
	assert.False(t, found)
	assert.Nil(t, value)

	keys, err := c.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCache_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"object", `{"a":1,"b":[1,2,3]}`},
		{"array", `[{"id":"s1","balance":-500}]`},
		{"string", `"hello"`},
		{"number", `42.5`},
		{"null", `null`},
		{"nested", `{"x":{"y":{"z":true}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache(t, NewMemoryStore())

			require.NoError(t, c.Write("k", json.RawMessage(tt.value)))

			value, found := c.Read("k")
			require.True(t, found)
			assert.JSONEq(t, tt.value, string(value))
		})
	}
}

func TestCache_WriteReplacesWholeDocument(t *testing.T) {
	c, _ := newTestCache(t, NewMemoryStore())

	require.NoError(t, c.Write("k", json.RawMessage(`{"a":1,"b":2}`)))
	require.NoError(t, c.Write("k", json.RawMessage(`{"c":3}`)))

	value, found := c.Read("k")
	require.True(t, found)
	assert.JSONEq(t, `{"c":3}`, string(value))
}

func TestCache_WriteRejectsInvalidJSON(t *testing.T) {
	c, _ := newTestCache(t, NewMemoryStore())

	err := c.Write("k", json.RawMessage(`{not json`))
	assert.Error(t, err)

	_, found := c.Read("k")
	assert.False(t, found)
}

func TestCache_WriteCopiesInput(t *testing.T) {
	c, _ := newTestCache(t, NewMemoryStore())

	buf := []byte(`{"a":1}`)
	require.NoError(t, c.Write("k", buf))
	buf[5] = '9'

	value, _ := c.Read("k")
	assert.JSONEq(t, `{"a":1}`, string(value))
}

func TestCache_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	store1, err := NewFileStore(dir, "docsync.")
	require.NoError(t, err)
	c1, _ := newTestCache(t, store1)
	require.NoError(t, c1.Write("invoices", json.RawMessage(`[{"id":"inv-1"}]`)))
	require.NoError(t, c1.Write("a/b c", json.RawMessage(`1`)))
	require.NoError(t, c1.Write("profile", json.RawMessage("{\n  \"tenant_id\": \"acme\"\n}")))

	store2, err := NewFileStore(dir, "docsync.")
	require.NoError(t, err)
	c2, _ := newTestCache(t, store2)

	value, found := c2.Read("invoices")
	require.True(t, found)
	assert.JSONEq(t, `[{"id":"inv-1"}]`, string(value))

	// Indented documents survive the checksum
	value, found = c2.Read("profile")
	require.True(t, found)
	assert.JSONEq(t, `{"tenant_id":"acme"}`, string(value))

	keys, err := c2.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b c", "invoices", "profile"}, keys)
}

func TestCache_MalformedEntryDegradesToAbsent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{{{`},
		{"missing value", `{"checksum":1}`},
		{"checksum mismatch", `{"value":{"a":1},"checksum":12345}`},
		{"truncated", `{"value":{"a":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			store, err := NewFileStore(dir, "docsync.")
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(filepath.Join(dir, "docsync.k.json"), []byte(tt.payload), 0644))

			c, m := newTestCache(t, store)

			value, found := c.Read("k")
			assert.False(t, found)
			assert.Nil(t, value)
			assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheDecodeErrors))
		})
	}
}

func TestCache_Delete(t *testing.T) {
	c, _ := newTestCache(t, NewMemoryStore())

	require.NoError(t, c.Write("k", json.RawMessage(`1`)))
	require.NoError(t, c.Delete("k"))

	_, found := c.Read("k")
	assert.False(t, found)
}

func TestFileStore_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "docsync.")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.k.json"), []byte(`{}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docsync.k.txt"), []byte(`{}`), 0644))
	require.NoError(t, store.Save("mine", []byte(`{}`)))

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, keys)

	_, err = store.Load("absent")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, store.Delete("absent"))
}
