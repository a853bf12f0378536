package loopchan

import (
	"sync/atomic"
	"testing"
)

// fakeSource is a minimal loopSource for registry tests.
type fakeSource struct {
	priority  Priority
	readyFlag atomic.Bool
	destroyed atomic.Bool
	finalized atomic.Int64
}

func (f *fakeSource) ready() bool              { return f.readyFlag.Load() }
func (f *fakeSource) dispatch() bool           { return true }
func (f *fakeSource) finalize()                { f.finalized.Add(1) }
func (f *fakeSource) markDestroyed()           { f.destroyed.Store(true) }
func (f *fakeSource) isDestroyed() bool        { return f.destroyed.Load() }
func (f *fakeSource) sourcePriority() Priority { return f.priority }

func TestSourceRegistry_AddRemove(t *testing.T) {
	r := newSourceRegistry()

	a := &fakeSource{priority: PriorityDefault}
	b := &fakeSource{priority: PriorityDefault}
	idA := r.add(a)
	idB := r.add(b)
	if idA == idB {
		t.Fatal("IDs must be unique")
	}
	if r.len() != 2 {
		t.Fatalf("expected 2 sources, got %d", r.len())
	}

	src, ok := r.remove(idA)
	if !ok || src != loopSource(a) {
		t.Fatal("remove returned wrong source")
	}
	if _, ok := r.remove(idA); ok {
		t.Fatal("second remove of same ID should fail")
	}
	if r.len() != 1 {
		t.Fatalf("expected 1 source, got %d", r.len())
	}
}

func TestSourceRegistry_PriorityOrder(t *testing.T) {
	r := newSourceRegistry()

	low := &fakeSource{priority: PriorityLow}
	def := &fakeSource{priority: PriorityDefault}
	high := &fakeSource{priority: PriorityHigh}
	for _, s := range []*fakeSource{low, def, high} {
		s.readyFlag.Store(true)
		r.add(s)
	}

	snap := r.snapshotEligible(nil)
	if len(snap) != 3 {
		t.Fatalf("expected 3 eligible sources, got %d", len(snap))
	}
	want := []loopSource{high, def, low}
	for i, e := range snap {
		if e.src != want[i] {
			t.Fatalf("wrong order at %d", i)
		}
	}
}

func TestSourceRegistry_Eligibility(t *testing.T) {
	r := newSourceRegistry()

	s := &fakeSource{priority: PriorityDefault}
	r.add(s)
	if r.anyEligible() {
		t.Fatal("idle source should not be eligible")
	}
	if snap := r.snapshotEligible(nil); len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %d entries", len(snap))
	}

	s.readyFlag.Store(true)
	if !r.anyEligible() {
		t.Fatal("ready source should be eligible")
	}

	s.readyFlag.Store(false)
	s.markDestroyed()
	if !r.anyEligible() {
		t.Fatal("destroyed source should be eligible for finalization")
	}
}

func TestSourceRegistry_Drain(t *testing.T) {
	r := newSourceRegistry()
	for i := 0; i < 5; i++ {
		r.add(&fakeSource{priority: PriorityDefault})
	}

	entries := r.drain()
	if len(entries) != 5 {
		t.Fatalf("expected 5 drained entries, got %d", len(entries))
	}
	if r.len() != 0 {
		t.Fatalf("expected empty registry after drain, got %d", r.len())
	}
	if r.anyEligible() {
		t.Fatal("drained registry should have no eligible sources")
	}
}
