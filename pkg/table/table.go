// Package table implements the open-addressed hash table used throughout
// the interpreter for globals, class method tables and instance field
// tables, plus the gateway operation (FindString) the string interner
// depends on.
//
// This is hand-rolled rather than built on a third-party map because the
// interner needs behavior a generic map type does not expose: tombstones
// that count toward the load factor until a resize compacts them away,
// insertion reusing the first tombstone seen in a probe run, and a
// (length, hash, bytes) comparison gateway for interning.
package table

import "github.com/eagerlove/compiler-for-lox/pkg/value"

// loadFactor is the maximum count/capacity ratio before a resize triggers.
const loadFactor = 0.75

// minCapacity is the smallest capacity a non-empty table grows to.
const minCapacity = 8

// entryState distinguishes an empty slot, a tombstone (a deleted entry
// that must still count as occupied for probing) and a live entry.
type entryState byte

const (
	stateEmpty entryState = iota
	stateTombstone
	stateOccupied
)

type entry struct {
	key   string
	hash  uint32
	value value.Value
	state entryState
}

// Table is a string-keyed Value map: open addressing, linear probing,
// tombstone deletion.
type Table struct {
	entries []entry
	count   int // live entries PLUS tombstones; both consume probe slots
}

// New returns an empty table (no backing array is allocated until the
// first insertion, matching the original's lazy-grow behavior).
func New() *Table {
	return &Table{}
}

// Count reports the number of live (non-tombstone) entries.
func (t *Table) Count() int {
	live := 0
	for i := range t.entries {
		if t.entries[i].state == stateOccupied {
			live++
		}
	}
	return live
}

// Get looks up key, returning its value and true if present and live.
func (t *Table) Get(key string) (value.Value, bool) {
	if len(t.entries) == 0 {
		return value.Nil, false
	}
	idx := t.findEntry(key, hashKey(key))
	if t.entries[idx].state != stateOccupied {
		return value.Nil, false
	}
	return t.entries[idx].value, true
}

// Set inserts or overwrites key's value. It returns true if key had no live
// entry before (it landed in an empty slot or reused a tombstone), and
// false if it overwrote an existing live entry.
func (t *Table) Set(key string, v value.Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*loadFactor {
		t.grow()
	}

	idx := t.findEntry(key, hashKey(key))
	e := &t.entries[idx]
	isNewKey := e.state != stateOccupied
	// Only a transition from truly-empty (never used) grows count; reusing
	// a tombstone does not, since the tombstone already counted once.
	if isNewKey && e.state == stateEmpty {
		t.count++
	}
	e.key = key
	e.hash = hashKey(key)
	e.value = v
	e.state = stateOccupied
	return isNewKey
}

// Delete removes key, leaving a tombstone (key cleared, value=true
// sentinel) so later probes through this slot still find entries that
// were inserted after it in the same probe run.
func (t *Table) Delete(key string) bool {
	if len(t.entries) == 0 {
		return false
	}
	idx := t.findEntry(key, hashKey(key))
	if t.entries[idx].state != stateOccupied {
		return false
	}
	t.entries[idx] = entry{state: stateTombstone, value: value.Bool(true)}
	return true
}

// FindString is the gateway the string interner uses: it compares
// candidates by (length, hash, bytes), checking the cheap hash and length
// before the bytes. Returns the canonical key string and true if found.
func (t *Table) FindString(chars string, hash uint32) (string, bool) {
	if len(t.entries) == 0 {
		return "", false
	}
	capacity := uint32(len(t.entries))
	idx := hash % capacity
	for {
		e := &t.entries[idx]
		switch e.state {
		case stateEmpty:
			return "", false
		case stateTombstone:
			// keep probing past tombstones
		case stateOccupied:
			if e.hash == hash && len(e.key) == len(chars) && e.key == chars {
				return e.key, true
			}
		}
		idx = (idx + 1) % capacity
	}
}

// Keys returns every live key. Iteration order is insertion-slot order,
// which is stable for a given sequence of operations but not meaningful
// beyond that — callers needing a deterministic order (tests, debug dumps)
// sort the result themselves.
func (t *Table) Keys() []string {
	keys := make([]string, 0, t.Count())
	for i := range t.entries {
		if t.entries[i].state == stateOccupied {
			keys = append(keys, t.entries[i].key)
		}
	}
	return keys
}

// RemoveUnmarked deletes every live entry for which keep returns false.
// The garbage collector uses this during its string-table-cleanup phase
// to drop interned strings that are about to be swept.
func (t *Table) RemoveUnmarked(keep func(key string) bool) {
	for i := range t.entries {
		if t.entries[i].state == stateOccupied && !keep(t.entries[i].key) {
			t.entries[i] = entry{state: stateTombstone, value: value.Bool(true)}
		}
	}
}

// findEntry runs the probe sequence for key starting at hash%capacity,
// returning the slot where key lives (if present) or the first available
// slot (empty, or the first tombstone seen) where it would be inserted.
func (t *Table) findEntry(key string, hash uint32) int {
	capacity := uint32(len(t.entries))
	idx := hash % capacity
	var tombstone int = -1
	for {
		e := &t.entries[idx]
		switch e.state {
		case stateEmpty:
			if tombstone != -1 {
				return tombstone
			}
			return int(idx)
		case stateTombstone:
			if tombstone == -1 {
				tombstone = int(idx)
			}
		case stateOccupied:
			if e.hash == hash && e.key == key {
				return int(idx)
			}
		}
		idx = (idx + 1) % capacity
	}
}

// grow doubles capacity (or starts at minCapacity), re-inserting every
// live entry and resetting count to exclude the tombstones the old array
// was carrying.
func (t *Table) grow() {
	newCap := minCapacity
	if len(t.entries) > 0 {
		newCap = len(t.entries) * 2
	}
	old := t.entries
	t.entries = make([]entry, newCap)
	t.count = 0
	for _, e := range old {
		if e.state != stateOccupied {
			continue
		}
		idx := t.findEntry(e.key, e.hash)
		t.entries[idx] = e
		t.count++
	}
}

// hashKey is the same FNV-1a-style hash object.HashString computes;
// duplicated here (rather than imported) to keep this package dependent
// only on pkg/value, avoiding a cycle with pkg/object (whose Class and
// Instance types hold the method/field tables this package provides).
func hashKey(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}
