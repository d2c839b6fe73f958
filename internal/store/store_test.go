package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKV(t *testing.T, kv KV) {
	t.Helper()

	_, err := kv.Get("peers", "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Put("peers", "alice", []byte(`{"name":"alice"}`)))
	require.NoError(t, kv.Put("peers", "bob", []byte(`{"name":"bob"}`)))

	got, err := kv.Get("peers", "alice")
	require.NoError(t, err)
	require.Equal(t, `{"name":"alice"}`, string(got))

	all, err := kv.All("peers")
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, kv.Delete("peers", "alice"))
	_, err = kv.Get("peers", "alice")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Delete("peers", "does-not-exist"))
}

func TestMemory(t *testing.T) {
	testKV(t, NewMemory())
}

func TestJSONFile(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewJSONFile(filepath.Join(dir, "db"))
	require.NoError(t, err)
	testKV(t, kv)
}

func TestJSONFileSurvivesReload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	kv, err := NewJSONFile(dir)
	require.NoError(t, err)
	require.NoError(t, kv.Put("grants", "g1", []byte("payload")))

	reopened, err := NewJSONFile(dir)
	require.NoError(t, err)
	got, err := reopened.Get("grants", "g1")
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}
