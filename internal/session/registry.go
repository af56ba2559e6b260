package session

import (
	"sort"
	"sync"
)

// Registry maps session keys to records. It is a plain lookup table: it never
// judges whether a record is alive.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Get returns the record for key, or nil.
func (r *Registry) Get(key string) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[key]
}

// Put stores rec under key, replacing any previous record.
func (r *Registry) Put(key string, rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[key] = rec
}

// Remove deletes the record for key.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key)
}

// RemoveIf deletes the record for key only if it is rec. It reports whether
// anything was removed, so a stale timer cannot evict a successor record.
func (r *Registry) RemoveIf(key string, rec *Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.records[key]; ok && cur == rec {
		delete(r.records, key)
		return true
	}
	return false
}

// Snapshot returns all records ordered by key.
func (r *Registry) Snapshot() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedRecords(r.records)
}

// Len returns the number of registered records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func sortedRecords(m map[string]*Record) []*Record {
	recs := make([]*Record, 0, len(m))
	for _, rec := range m {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Key < recs[j].Key })
	return recs
}
