package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"hubctl/internal/counter"
)

// countersFile is the on-disk layout of FileCounters.
type countersFile struct {
	UpdatedAt time.Time                `yaml:"updated_at"`
	Counters  map[string]counter.State `yaml:"counters"`
}

// FileCounters persists counter state for all keys in one YAML file.
type FileCounters struct {
	path   string
	legacy map[string]string
	mu     sync.Mutex
}

// NewFileCounters returns a file-backed counter store. legacy maps a key to
// an old {"rx":N,"tx":N} usage file whose values seed the totals the first
// time the key is loaded.
func NewFileCounters(path string, legacy map[string]string) *FileCounters {
	return &FileCounters{path: path, legacy: legacy}
}

var _ counter.Store = (*FileCounters)(nil)

func (f *FileCounters) Load(_ context.Context, key string) (counter.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return counter.State{}, err
	}
	if st, ok := doc.Counters[key]; ok {
		return st, nil
	}

	st, ok, err := readLegacyUsage(f.legacy[key])
	if err != nil || !ok {
		return counter.State{}, err
	}
	doc.Counters[key] = st
	if err := f.write(doc); err != nil {
		return counter.State{}, err
	}
	return st, nil
}

func (f *FileCounters) Save(_ context.Context, key string, st counter.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	doc.Counters[key] = st
	return f.write(doc)
}

func (f *FileCounters) read() (*countersFile, error) {
	doc := &countersFile{}
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.path, err)
		}
	}
	if doc.Counters == nil {
		doc.Counters = map[string]counter.State{}
	}
	return doc, nil
}

func (f *FileCounters) write(doc *countersFile) error {
	doc.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return WriteFileAtomic(f.path, data, 0o600)
}

// readLegacyUsage reads a pre-migration usage file. Missing or unparsable
// files yield ok=false so the key simply starts from zero.
func readLegacyUsage(path string) (counter.State, bool, error) {
	if path == "" {
		return counter.State{}, false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return counter.State{}, false, nil
	}
	if err != nil {
		return counter.State{}, false, err
	}
	var legacy struct {
		Rx json.Number `json:"rx"`
		Tx json.Number `json:"tx"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return counter.State{}, false, nil
	}
	return counter.State{
		TotalRx: counter.ParseUint(legacy.Rx.String()),
		TotalTx: counter.ParseUint(legacy.Tx.String()),
	}, true, nil
}
