// Package store provides in-process Store implementations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/warp/station-engine/station"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every collection in maps. When opened with a path it also
// writes the whole dataset to a JSON file after each change, which makes it
// the local file-backed store for single-terminal setups.
//
// Memory has no WithTx: the engine falls back to compensating writes.
// Use TxMemory for snapshot/rollback transactions.
type Memory struct {
	mu   sync.RWMutex
	data map[station.Collection]map[string]station.Document
	path string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[station.Collection]map[string]station.Document)}
}

// Open loads path if it exists and persists every later change to it.
func Open(path string) (*Memory, error) {
	m := NewMemory()
	m.path = path

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return m, nil
	case err != nil:
		return nil, station.Unavailable("open "+path, err)
	}
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m.data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// Close flushes to disk when file-backed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

func (m *Memory) Get(_ context.Context, coll station.Collection, id string) (station.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(coll, id)
}

func (m *Memory) Create(_ context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.createLocked(coll, id, doc)
	if err != nil {
		return 0, err
	}
	return v, m.flushLocked()
}

func (m *Memory) Put(_ context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.putLocked(coll, id, doc)
	return v, m.flushLocked()
}

func (m *Memory) Update(_ context.Context, coll station.Collection, id string, partial station.Document, ifVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.updateLocked(coll, id, partial, ifVersion)
	if err != nil {
		return 0, err
	}
	return v, m.flushLocked()
}

func (m *Memory) Delete(_ context.Context, coll station.Collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteLocked(coll, id); err != nil {
		return err
	}
	return m.flushLocked()
}

func (m *Memory) Query(_ context.Context, coll station.Collection, filters ...station.Filter) iter.Seq2[station.Document, error] {
	return func(yield func(station.Document, error) bool) {
		m.mu.RLock()
		docs := m.queryLocked(coll, filters)
		m.mu.RUnlock()
		for _, d := range docs {
			if !yield(d, nil) {
				return
			}
		}
	}
}

// =============================================================================
// LOCKED PRIMITIVES - callers hold mu
// =============================================================================

func (m *Memory) getLocked(coll station.Collection, id string) (station.Document, error) {
	doc, ok := m.data[coll][id]
	if !ok {
		return nil, station.NotFound(coll, id)
	}
	return doc.Clone(), nil
}

func (m *Memory) createLocked(coll station.Collection, id string, doc station.Document) (int64, error) {
	if _, ok := m.data[coll][id]; ok {
		return 0, station.Conflict("%s/%s already exists", coll, id)
	}
	return m.putLocked(coll, id, doc), nil
}

func (m *Memory) putLocked(coll station.Collection, id string, doc station.Document) int64 {
	docs := m.data[coll]
	if docs == nil {
		docs = make(map[string]station.Document)
		m.data[coll] = docs
	}
	next := docs[id].Version() + 1
	stored := doc.Clone()
	stored["id"] = id
	stored[station.VersionField] = next
	docs[id] = stored
	return next
}

func (m *Memory) updateLocked(coll station.Collection, id string, partial station.Document, ifVersion int64) (int64, error) {
	cur, ok := m.data[coll][id]
	if !ok {
		return 0, station.NotFound(coll, id)
	}
	if ifVersion > 0 && cur.Version() != ifVersion {
		return 0, station.Conflict("%s/%s at version %d, expected %d", coll, id, cur.Version(), ifVersion)
	}
	next := cur.Version() + 1
	merged := cur.Clone()
	for k, v := range partial {
		merged[k] = v
	}
	merged["id"] = id
	merged[station.VersionField] = next
	m.data[coll][id] = merged
	return next, nil
}

func (m *Memory) deleteLocked(coll station.Collection, id string) error {
	if _, ok := m.data[coll][id]; !ok {
		return station.NotFound(coll, id)
	}
	delete(m.data[coll], id)
	return nil
}

func (m *Memory) queryLocked(coll station.Collection, filters []station.Filter) []station.Document {
	ids := make([]string, 0, len(m.data[coll]))
	for id, doc := range m.data[coll] {
		if station.MatchAll(doc, filters) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]station.Document, len(ids))
	for i, id := range ids {
		out[i] = m.data[coll][id].Clone()
	}
	return out
}

// flushLocked writes the dataset to the backing file via rename so a crash
// never leaves a half-written file.
func (m *Memory) flushLocked() error {
	if m.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return station.Unavailable("flush", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return station.Unavailable("flush", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return station.Unavailable("flush", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return station.Unavailable("flush", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// OpenTx is Open with transaction support.
func OpenTx(path string) (*TxMemory, error) {
	m, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &TxMemory{Memory: m}, nil
}

// WithTx executes fn within a transaction.
// For the memory store this is a snapshot + rollback on error. The store
// lock is held for the whole of fn, so transactions are serialized.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(station.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.data = snapshot
		return err
	}
	if err := tm.flushLocked(); err != nil {
		tm.data = snapshot
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() map[station.Collection]map[string]station.Document {
	cp := make(map[station.Collection]map[string]station.Document, len(tm.data))
	for coll, docs := range tm.data {
		inner := make(map[string]station.Document, len(docs))
		for id, doc := range docs {
			inner[id] = doc
		}
		cp[coll] = inner
	}
	return cp
}

// txMemoryView operates on the parent's maps while the parent lock is held.
// Stored documents are replaced, never mutated in place, so the snapshot's
// shallow copy stays valid.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Get(_ context.Context, coll station.Collection, id string) (station.Document, error) {
	return tv.parent.getLocked(coll, id)
}

func (tv *txMemoryView) Create(_ context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	return tv.parent.createLocked(coll, id, doc)
}

func (tv *txMemoryView) Put(_ context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	return tv.parent.putLocked(coll, id, doc), nil
}

func (tv *txMemoryView) Update(_ context.Context, coll station.Collection, id string, partial station.Document, ifVersion int64) (int64, error) {
	return tv.parent.updateLocked(coll, id, partial, ifVersion)
}

func (tv *txMemoryView) Delete(_ context.Context, coll station.Collection, id string) error {
	return tv.parent.deleteLocked(coll, id)
}

func (tv *txMemoryView) Query(_ context.Context, coll station.Collection, filters ...station.Filter) iter.Seq2[station.Document, error] {
	return func(yield func(station.Document, error) bool) {
		for _, d := range tv.parent.queryLocked(coll, filters) {
			if !yield(d, nil) {
				return
			}
		}
	}
}
