package loopchan

import (
	"slices"
	"sync"
)

// sourceEntry pairs a registered source with its ID.
type sourceEntry struct {
	src loopSource
	id  SourceID
}

// sourceRegistry tracks the sources attached to a loop. The ordered slice is
// kept sorted by priority (stable for equal priorities, in attach order) so
// the dispatch phase can iterate it directly.
type sourceRegistry struct {
	mu      sync.Mutex
	byID    map[SourceID]loopSource
	ordered []sourceEntry
	nextID  uint64
}

func newSourceRegistry() *sourceRegistry {
	return &sourceRegistry{
		byID: make(map[SourceID]loopSource),
	}
}

// add registers src and returns its assigned ID.
func (r *sourceRegistry) add(src loopSource) SourceID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := SourceID(r.nextID)
	r.byID[id] = src

	entry := sourceEntry{src: src, id: id}
	at := len(r.ordered)
	for i, e := range r.ordered {
		if e.src.sourcePriority() > src.sourcePriority() {
			at = i
			break
		}
	}
	r.ordered = slices.Insert(r.ordered, at, entry)
	return id
}

// remove unregisters id, returning the source and whether it was present.
func (r *sourceRegistry) remove(id SourceID) (loopSource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	for i, e := range r.ordered {
		if e.id == id {
			r.ordered = slices.Delete(r.ordered, i, i+1)
			break
		}
	}
	return src, true
}

// snapshotEligible appends the entries that are ready or destroyed to buf, in
// priority order, and returns it.
func (r *sourceRegistry) snapshotEligible(buf []sourceEntry) []sourceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.ordered {
		if e.src.isDestroyed() || e.src.ready() {
			buf = append(buf, e)
		}
	}
	return buf
}

// anyEligible reports whether any source is ready or destroyed.
func (r *sourceRegistry) anyEligible() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.ordered {
		if e.src.isDestroyed() || e.src.ready() {
			return true
		}
	}
	return false
}

// drain removes and returns every registered source.
func (r *sourceRegistry) drain() []sourceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.ordered
	r.ordered = nil
	r.byID = make(map[SourceID]loopSource)
	return entries
}

// len returns the number of registered sources.
func (r *sourceRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
