// Package metastore keeps routine metadata the engine catalog drops, most
// importantly the declared typmods of a routine's arguments and return type.
//
// A record holds one typmod per argument followed by the return typmod, so
// the return typmod of a routine with n arguments sits at index n.
package metastore

import (
	"context"
	"sync"

	"github.com/ha1tch/tsqlcompat/pkg/callsig"
)

// Record is the stored metadata of one routine.
type Record struct {
	TypmodArray []int32 `msgpack:"typmod_array" json:"typmod_array"`
}

// ReturnTypmod picks the return typmod out of the record, or -1 when the
// record does not carry one.
func (r *Record) ReturnTypmod(nargs int) int32 {
	if r == nil || nargs < 0 || nargs >= len(r.TypmodArray) {
		return -1
	}
	return r.TypmodArray[nargs]
}

// Store reads and writes routine records.
type Store interface {
	callsig.TypmodStore
	Put(ctx context.Context, routine callsig.OID, rec Record) error
	Get(ctx context.Context, routine callsig.OID) (*Record, error)
	Delete(ctx context.Context, routine callsig.OID) error
	Close() error
}

// Memory is a Store held in memory.
type Memory struct {
	mu      sync.RWMutex
	records map[callsig.OID]Record
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[callsig.OID]Record)}
}

func (m *Memory) Put(_ context.Context, routine callsig.OID, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.TypmodArray = append([]int32(nil), rec.TypmodArray...)
	m.records[routine] = rec
	return nil
}

func (m *Memory) Get(_ context.Context, routine callsig.OID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[routine]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) Delete(_ context.Context, routine callsig.OID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, routine)
	return nil
}

func (m *Memory) ReturnTypmod(ctx context.Context, routine callsig.OID, nargs int, _ callsig.OID) (int32, error) {
	rec, err := m.Get(ctx, routine)
	if err != nil {
		return -1, err
	}
	return rec.ReturnTypmod(nargs), nil
}

func (m *Memory) Close() error { return nil }
