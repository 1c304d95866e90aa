package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kv interface {
	Get(owner string) ([]byte, error)
	Put(owner string, value []byte) error
	Keys() ([]string, error)
	Close() error
}

func exerciseStore(t *testing.T, s kv) {
	t.Helper()

	_, err := s.Get("0xaa")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put("0xaa", []byte(`{"n":1}`)))
	require.NoError(t, s.Put("0xbb", []byte(`{"n":2}`)))
	require.NoError(t, s.Put("0xaa", []byte(`{"n":3}`)))

	got, err := s.Get("0xaa")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":3}`, string(got))

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"0xaa", "0xbb"}, keys)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "api-wallets.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	exerciseStore(t, s)

	// snapshot is a single JSON object keyed by owner
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snapshot map[string]map[string]int
	require.NoError(t, json.Unmarshal(data, &snapshot))
	assert.Equal(t, 3, snapshot["0xaa"]["n"])
	assert.Equal(t, 2, snapshot["0xbb"]["n"])

	// a reopened store sees the same data
	again, err := NewFileStore(path)
	require.NoError(t, err)
	got, err := again.Get("0xbb")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(got))
}

func TestFileStoreFailedPutCommitsNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "api-wallets.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("0xaa", []byte(`{"n":1}`)))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Error(t, s.Put("0xbb", []byte(`{broken`)))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStoreRejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api-wallets.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := NewFileStore(path)
	assert.Error(t, err)
}

func TestFileStoreEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api-wallets.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	_, err = s.Get("0xaa")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPebbleStore(t *testing.T) {
	s, err := NewPebbleStore(filepath.Join(t.TempDir(), "registry"))
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)

	// returned values survive further writes
	got, err := s.Get("0xbb")
	require.NoError(t, err)
	require.NoError(t, s.Put("0xbb", []byte(`{"n":9}`)))
	assert.JSONEq(t, `{"n":2}`, string(got))
}

func TestFileJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "journal.log")
	j, err := NewFileJournal(path)
	require.NoError(t, err)

	require.NoError(t, j.Append(JournalEntry{Event: "order_submitted", Owner: "0xaa", Nonce: 7, Status: "ok"}))
	require.NoError(t, j.Append(JournalEntry{Event: "wallet_created", Owner: "0xbb"}))
	require.NoError(t, j.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []JournalEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e JournalEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		events = append(events, e)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "order_submitted", events[0].Event)
	assert.Equal(t, uint64(7), events[0].Nonce)
	assert.False(t, events[1].Time.IsZero())
}

func TestNopJournal(t *testing.T) {
	j := NewNopJournal()
	assert.NoError(t, j.Append(JournalEntry{Event: "x"}))
	assert.NoError(t, j.Close())
}
