// Package counter turns resettable interface byte counters into monotonic
// lifetime totals that survive process and container restarts.
package counter

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// State is the persisted per-key counter state.
type State struct {
	LastRx  uint64 `yaml:"last_rx" json:"last_rx"`
	LastTx  uint64 `yaml:"last_tx" json:"last_tx"`
	TotalRx uint64 `yaml:"total_rx" json:"total_rx"`
	TotalTx uint64 `yaml:"total_tx" json:"total_tx"`
	// Epoch identifies the counter source instance (e.g. container start
	// time). A change between two non-empty epochs is treated as a reset.
	Epoch string `yaml:"epoch,omitempty" json:"epoch,omitempty"`
}

// Raw is one instantaneous reading of the source counters.
type Raw struct {
	Rx    uint64
	Tx    uint64
	Epoch string
}

// Reading is the session and lifetime view produced by a sample.
type Reading struct {
	SessionRx uint64
	SessionTx uint64
	TotalRx   uint64
	TotalTx   uint64
	Reset     bool
}

// Store persists State by key. Load of an unknown key returns the zero
// State and no error.
type Store interface {
	Load(ctx context.Context, key string) (State, error)
	Save(ctx context.Context, key string, st State) error
}

// Fold applies one raw reading to st. Totals only ever grow: a reset folds
// the previous session into the totals exactly once.
func Fold(st State, raw Raw) (State, Reading) {
	reset := raw.Rx < st.LastRx || raw.Tx < st.LastTx
	if st.Epoch != "" && raw.Epoch != "" && st.Epoch != raw.Epoch {
		reset = true
	}
	if reset {
		st.TotalRx += st.LastRx
		st.TotalTx += st.LastTx
	}
	st.LastRx, st.LastTx = raw.Rx, raw.Tx
	if raw.Epoch != "" {
		st.Epoch = raw.Epoch
	}
	return st, Reading{
		SessionRx: raw.Rx,
		SessionTx: raw.Tx,
		TotalRx:   st.TotalRx + raw.Rx,
		TotalTx:   st.TotalTx + raw.Tx,
		Reset:     reset,
	}
}

// Engine samples counters against a Store. It is meant to have a single
// writer per store; the mutex only guards against overlapping samples
// within this process.
type Engine struct {
	store Store
	log   *zap.Logger
	mu    sync.Mutex

	// OnReset is called after a reset was folded for key.
	OnReset func(key string)
}

func NewEngine(store Store, log *zap.Logger) *Engine {
	if store == nil {
		store = NewMemoryStore()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, log: log}
}

// Sample folds raw into the persisted state for key and returns the new
// reading. Store failures are logged and degrade to a zero reading.
func (e *Engine) Sample(ctx context.Context, key string, raw Raw) Reading {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.store.Load(ctx, key)
	if err != nil {
		e.log.Warn("load counter state", zap.String("key", key), zap.Error(err))
		return Reading{}
	}
	next, r := Fold(st, raw)
	if err := e.store.Save(ctx, key, next); err != nil {
		e.log.Warn("save counter state", zap.String("key", key), zap.Error(err))
		return Reading{}
	}
	if r.Reset {
		e.log.Info("counter reset folded",
			zap.String("key", key),
			zap.Uint64("folded_rx", st.LastRx),
			zap.Uint64("folded_tx", st.LastTx),
		)
		if e.OnReset != nil {
			e.OnReset(key)
		}
	}
	return r
}

// Peek returns the lifetime totals for key without sampling, for sources
// that are currently unreachable. Session values are zero.
func (e *Engine) Peek(ctx context.Context, key string) Reading {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.store.Load(ctx, key)
	if err != nil {
		e.log.Warn("load counter state", zap.String("key", key), zap.Error(err))
		return Reading{}
	}
	return Reading{TotalRx: st.TotalRx + st.LastRx, TotalTx: st.TotalTx + st.LastTx}
}

// ParseUint parses a raw counter value. Anything that is not a base-10
// unsigned integer reads as zero.
func ParseUint(s string) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: map[string]State{}}
}

func (m *MemoryStore) Load(_ context.Context, key string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[key], nil
}

func (m *MemoryStore) Save(_ context.Context, key string, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = st
	return nil
}
