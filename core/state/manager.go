package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"proofofwork/storage"
)

// Manager layers a journaled write set over a storage.Database. Writes stay in
// memory until Commit flushes them in a single batch, and any prefix of the
// journal can be undone with RevertToSnapshot.
type Manager struct {
	db      storage.Database
	dirty   map[string]*pendingWrite
	journal []journalEntry
}

type pendingWrite struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key  string
	prev *pendingWrite
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]*pendingWrite)}
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	if pending, ok := m.dirty[string(key)]; ok {
		if pending.deleted {
			return nil, false, nil
		}
		return pending.value, true, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) record(key []byte, next *pendingWrite) {
	k := string(key)
	m.journal = append(m.journal, journalEntry{key: k, prev: m.dirty[k]})
	m.dirty[k] = next
}

func (m *Manager) set(key []byte, value []byte) {
	m.record(key, &pendingWrite{value: append([]byte(nil), value...)})
}

func (m *Manager) remove(key []byte) {
	m.record(key, &pendingWrite{deleted: true})
}

// putRLP stores the RLP encoding of value under key.
func (m *Manager) putRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.set(key, encoded)
	return nil
}

// getRLP decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) getRLP(key []byte, out interface{}) (bool, error) {
	data, ok, err := m.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// keys merges persisted and pending keys under prefix, sorted.
func (m *Manager) keys(prefix []byte) ([][]byte, error) {
	stored, err := m.db.Keys(prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(stored))
	out := make([][]byte, 0, len(stored))
	for _, key := range stored {
		if pending, ok := m.dirty[string(key)]; ok && pending.deleted {
			continue
		}
		seen[string(key)] = struct{}{}
		out = append(out, key)
	}
	for key, pending := range m.dirty {
		if pending.deleted || !bytes.HasPrefix([]byte(key), prefix) {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		out = append(out, []byte(key))
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out, nil
}

// Snapshot returns an identifier for the current journal position.
func (m *Manager) Snapshot() int { return len(m.journal) }

// RevertToSnapshot undoes every write made after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.prev == nil {
			delete(m.dirty, entry.key)
		} else {
			m.dirty[entry.key] = entry.prev
		}
	}
	m.journal = m.journal[:id]
}

// Pending reports the number of keys waiting to be committed.
func (m *Manager) Pending() int { return len(m.dirty) }

// Commit flushes pending writes to the database in one batch and clears the
// journal. On failure the pending writes are kept so the caller may Discard.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	batch := storage.NewBatch()
	for key, pending := range m.dirty {
		if pending.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), pending.value)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string]*pendingWrite)
	m.journal = m.journal[:0]
	return nil
}

// Discard drops every pending write.
func (m *Manager) Discard() {
	m.dirty = make(map[string]*pendingWrite)
	m.journal = m.journal[:0]
}
