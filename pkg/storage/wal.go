package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// JournalEntry is one audit line. It never carries key material.
type JournalEntry struct {
	Time      time.Time `json:"time"`
	RequestID string    `json:"request_id,omitempty"`
	Event     string    `json:"event"`
	Owner     string    `json:"owner,omitempty"`
	Signer    string    `json:"signer,omitempty"`
	Nonce     uint64    `json:"nonce,omitempty"`
	Status    string    `json:"status,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

type Journal interface {
	Append(e JournalEntry) error
	Close() error
}

type NopJournal struct{}

func NewNopJournal() *NopJournal                  { return &NopJournal{} }
func (j *NopJournal) Append(_ JournalEntry) error { return nil }
func (j *NopJournal) Close() error                { return nil }

// FileJournal appends JSON lines to a file.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create journal dir for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Append(e JournalEntry) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode journal entry")
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.f.Write(line); err != nil {
		return errors.Wrap(err, "append journal entry")
	}
	return nil
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

var _ Journal = (*NopJournal)(nil)
var _ Journal = (*FileJournal)(nil)
