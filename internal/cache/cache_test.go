package cache

import (
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_FreshHit(t *testing.T) {
	c := New(NewMemoryStorage(), "v1", slog.Default())

	payload := json.RawMessage(`{"id":42}`)
	c.Set("auth:me", payload)

	data, stale, ok := c.Get("auth:me", time.Minute)
	require.True(t, ok)
	assert.False(t, stale)
	assert.JSONEq(t, `{"id":42}`, string(data))
}

func TestCache_StaleAfterTTL(t *testing.T) {
	c := New(NewMemoryStorage(), "v1", slog.Default())

	c.Set("auth:me", json.RawMessage(`{"id":42}`))
	time.Sleep(15 * time.Millisecond)

	// TTL elapse never deletes: the same data comes back, marked stale.
	data, stale, ok := c.Get("auth:me", 10*time.Millisecond)
	require.True(t, ok)
	assert.True(t, stale)
	assert.JSONEq(t, `{"id":42}`, string(data))
}

func TestCache_VersionMismatchIsMiss(t *testing.T) {
	storage := NewMemoryStorage()

	old := New(storage, "v1", slog.Default())
	old.Set("auth:me", json.RawMessage(`{"id":42}`))

	// A version bump forces a miss regardless of age.
	bumped := New(storage, "v2", slog.Default())
	_, _, ok := bumped.Get("auth:me", time.Hour)
	assert.False(t, ok)

	// The mismatched entry was dropped, not retained.
	_, found, err := storage.Load("leezr:boot:auth:me")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_MissOnAbsence(t *testing.T) {
	c := New(NewMemoryStorage(), "v1", slog.Default())
	_, _, ok := c.Get("never-set", time.Minute)
	assert.False(t, ok)
}

func TestCache_RemoveAndClear(t *testing.T) {
	c := New(NewMemoryStorage(), "v1", slog.Default())

	c.Set("a", json.RawMessage(`1`))
	c.Set("b", json.RawMessage(`2`))

	c.Remove("a")
	_, _, ok := c.Get("a", time.Minute)
	assert.False(t, ok)
	_, _, ok = c.Get("b", time.Minute)
	assert.True(t, ok)

	c.Clear()
	_, _, ok = c.Get("b", time.Minute)
	assert.False(t, ok)
}

func TestCache_Entries(t *testing.T) {
	c := New(NewMemoryStorage(), "v1", slog.Default())

	c.Set("a", json.RawMessage(`1`))
	c.Set("b", json.RawMessage(`2`))

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "v1", entries["a"].Version)
	assert.JSONEq(t, `2`, string(entries["b"].Data))
}

func TestCache_CorruptEntryDropped(t *testing.T) {
	storage := NewMemoryStorage()
	require.NoError(t, storage.Store("leezr:boot:bad", []byte("not json")))

	c := New(storage, "v1", slog.Default())
	_, _, ok := c.Get("bad", time.Minute)
	assert.False(t, ok)

	_, found, err := storage.Load("leezr:boot:bad")
	require.NoError(t, err)
	assert.False(t, found, "corrupt entry should be dropped")
}

// brokenStorage fails every operation, standing in for quota exhaustion
// or disabled storage.
type brokenStorage struct{}

var errBroken = errors.New("storage unavailable")

func (brokenStorage) Load(string) ([]byte, bool, error) { return nil, false, errBroken }
func (brokenStorage) Store(string, []byte) error        { return errBroken }
func (brokenStorage) Delete(string) error               { return errBroken }
func (brokenStorage) Clear() error                      { return errBroken }
func (brokenStorage) Keys() ([]string, error)           { return nil, errBroken }

func TestCache_StorageErrorsAreSwallowed(t *testing.T) {
	c := New(brokenStorage{}, "v1", slog.Default())

	// None of these may panic or surface an error; every read is a miss.
	c.Set("a", json.RawMessage(`1`))
	c.Remove("a")
	c.Clear()
	assert.Nil(t, c.Entries())

	_, _, ok := c.Get("a", time.Minute)
	assert.False(t, ok)
}

func TestSQLiteStorage_RoundTrip(t *testing.T) {
	path := t.TempDir() + "/boot-cache.db"

	storage, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer storage.Close()

	require.NoError(t, storage.Store("k1", []byte("v1")))
	require.NoError(t, storage.Store("k1", []byte("v1-updated"))) // upsert
	require.NoError(t, storage.Store("k2", []byte("v2")))

	v, found, err := storage.Load("k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1-updated"), v)

	keys, err := storage.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k1", "k2"}, keys)

	require.NoError(t, storage.Delete("k1"))
	_, found, err = storage.Load("k1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, storage.Clear())
	keys, err = storage.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSQLiteStorage_SurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/boot-cache.db"

	storage, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	require.NoError(t, storage.Store("k", []byte("persisted")))
	require.NoError(t, storage.Close())

	reopened, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, found, err := reopened.Load("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("persisted"), v)
}
