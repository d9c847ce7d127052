package vm

import (
	"sync"
	"sync/atomic"
)

// AllocFlags modify an allocation request.
type AllocFlags uint8

const (
	// AllocNoZeroInit marks requests whose memory compiled code will
	// fully initialize itself.
	AllocNoZeroInit AllocFlags = 1 << iota
)

// MemoryManager is the garbage collector interface the helpers use.
// The NoGC variants must not collect, block or throw; they return nil when
// the thread-local allocation buffer cannot satisfy the request.
type MemoryManager interface {
	AllocateObjectNoGC(t *Thread, class *Class, flags AllocFlags) *Object
	AllocateObject(t *Thread, class *Class, flags AllocFlags) *Object
	AllocateIndexableNoGC(t *Thread, arrayClass *Class, length int32, flags AllocFlags) *Object
	AllocateIndexable(t *Thread, arrayClass *Class, length int32, flags AllocFlags) *Object

	WriteBarrierPost(t *Thread, dst, value *Object)
	WriteBarrierPostClass(t *Thread, dst *Class, value *Object)
	WriteBarrierBatch(t *Thread, dst *Object)
	WriteBarrierClassBatch(t *Thread, dst *Class)
	WriteBarrierPre(t *Thread, dst *Object, old *Object)

	ObjectHashCode(o *Object) int32
	ScavengeOnResolve(t *Thread)
}

// HeapStats counts heap events.
type HeapStats struct {
	Allocations    int64
	TLHRefreshes   int64
	Collections    int64
	RememberedAdds int64
	CardsDirtied   int64
	SATBRecorded   int64
	ScavengeChecks int64
	BytesAllocated int64
	FailedRequests int64
}

// Heap is the reference MemoryManager: a bounded bump allocator with
// per-thread allocation buffers, a remembered set for the generational
// barrier and a SATB log for the snapshot barrier.
type Heap struct {
	capacity     int64
	tlhSize      int64
	generational bool

	used atomic.Int64

	// OnCollect runs when a full allocation cannot be satisfied. It may
	// call Release; the allocation is retried once afterwards.
	OnCollect func(h *Heap)

	mu         sync.Mutex
	remembered map[*Object]struct{}
	classRoots map[*Class]struct{}

	nextHash atomic.Uint32

	allocations    atomic.Int64
	tlhRefreshes   atomic.Int64
	collections    atomic.Int64
	rememberedAdds atomic.Int64
	cardsDirtied   atomic.Int64
	satbRecorded   atomic.Int64
	scavengeChecks atomic.Int64
	failures       atomic.Int64
}

// NewHeap creates a heap of capacity bytes handing out thread-local
// buffers of tlhSize bytes.
func NewHeap(capacity, tlhSize int64, generational bool) *Heap {
	h := &Heap{
		capacity:     capacity,
		tlhSize:      tlhSize,
		generational: generational,
		remembered:   make(map[*Object]struct{}),
		classRoots:   make(map[*Class]struct{}),
	}
	h.nextHash.Store(0x9e3779b9)
	return h
}

// Used returns the bytes reserved so far, thread buffers included.
func (h *Heap) Used() int64 { return h.used.Load() }

// Capacity returns the heap size.
func (h *Heap) Capacity() int64 { return h.capacity }

// Release returns bytes to the heap, as a collection would.
func (h *Heap) Release(bytes int64) {
	if h.used.Add(-bytes) < 0 {
		h.used.Store(0)
	}
}

// Stats returns a snapshot of the heap counters.
func (h *Heap) Stats() HeapStats {
	return HeapStats{
		Allocations:    h.allocations.Load(),
		TLHRefreshes:   h.tlhRefreshes.Load(),
		Collections:    h.collections.Load(),
		RememberedAdds: h.rememberedAdds.Load(),
		CardsDirtied:   h.cardsDirtied.Load(),
		SATBRecorded:   h.satbRecorded.Load(),
		ScavengeChecks: h.scavengeChecks.Load(),
		BytesAllocated: h.used.Load(),
		FailedRequests: h.failures.Load(),
	}
}

// IsRemembered reports whether o is in the remembered set.
func (h *Heap) IsRemembered(o *Object) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.remembered[o]
	return ok
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

func (h *Heap) takeFromTLH(t *Thread, size int64) bool {
	if size > t.tlhRemaining {
		return false
	}
	t.tlhRemaining -= size
	return true
}

// reserve claims bytes from the shared heap.
func (h *Heap) reserve(size int64) bool {
	for {
		used := h.used.Load()
		if used+size > h.capacity {
			return false
		}
		if h.used.CompareAndSwap(used, used+size) {
			return true
		}
	}
}

// refill gives the thread a fresh buffer large enough for size, collecting
// once if the heap is exhausted.
func (h *Heap) refill(t *Thread, size int64) bool {
	want := max(h.tlhSize, size)
	if !h.reserve(want) {
		if h.OnCollect != nil {
			h.collections.Add(1)
			h.OnCollect(h)
		}
		if !h.reserve(want) {
			if want == size || !h.reserve(size) {
				h.failures.Add(1)
				return false
			}
			want = size
		}
	}
	h.tlhRefreshes.Add(1)
	t.tlhRemaining += want
	return true
}

func (h *Heap) AllocateObjectNoGC(t *Thread, class *Class, flags AllocFlags) *Object {
	if !h.takeFromTLH(t, instanceBytes(class)) {
		return nil
	}
	h.allocations.Add(1)
	return newObject(class, class.instanceSlots)
}

func (h *Heap) AllocateObject(t *Thread, class *Class, flags AllocFlags) *Object {
	size := instanceBytes(class)
	if !h.takeFromTLH(t, size) {
		if !h.refill(t, size) || !h.takeFromTLH(t, size) {
			return nil
		}
	}
	h.allocations.Add(1)
	return newObject(class, class.instanceSlots)
}

func (h *Heap) AllocateIndexableNoGC(t *Thread, arrayClass *Class, length int32, flags AllocFlags) *Object {
	if !h.takeFromTLH(t, arrayBytes(arrayClass, length)) {
		return nil
	}
	h.allocations.Add(1)
	return newArray(arrayClass, length)
}

func (h *Heap) AllocateIndexable(t *Thread, arrayClass *Class, length int32, flags AllocFlags) *Object {
	size := arrayBytes(arrayClass, length)
	if !h.takeFromTLH(t, size) {
		if !h.refill(t, size) || !h.takeFromTLH(t, size) {
			return nil
		}
	}
	h.allocations.Add(1)
	return newArray(arrayClass, length)
}

// ---------------------------------------------------------------------------
// Barriers
// ---------------------------------------------------------------------------

// WriteBarrierPost records an old-to-young reference in the remembered
// set when the heap is generational, and dirties a card otherwise.
func (h *Heap) WriteBarrierPost(t *Thread, dst, value *Object) {
	if value == nil || dst == nil {
		return
	}
	if !h.generational {
		h.cardsDirtied.Add(1)
		return
	}
	if dst.IsTenured() && !value.IsTenured() {
		h.remember(dst)
	}
}

func (h *Heap) WriteBarrierPostClass(t *Thread, dst *Class, value *Object) {
	if value == nil {
		return
	}
	h.mu.Lock()
	h.classRoots[dst] = struct{}{}
	h.mu.Unlock()
	h.cardsDirtied.Add(1)
}

// WriteBarrierBatch handles bulk stores into dst, such as array copies,
// by remembering the whole object.
func (h *Heap) WriteBarrierBatch(t *Thread, dst *Object) {
	if h.generational && dst.IsTenured() {
		h.remember(dst)
		return
	}
	h.cardsDirtied.Add(1)
}

func (h *Heap) WriteBarrierClassBatch(t *Thread, dst *Class) {
	h.mu.Lock()
	h.classRoots[dst] = struct{}{}
	h.mu.Unlock()
	h.cardsDirtied.Add(1)
}

// WriteBarrierPre logs the overwritten reference for snapshot-at-the-
// beginning marking.
func (h *Heap) WriteBarrierPre(t *Thread, dst *Object, old *Object) {
	if old != nil {
		h.satbRecorded.Add(1)
	}
}

func (h *Heap) remember(o *Object) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.remembered[o]; !ok {
		h.remembered[o] = struct{}{}
		h.rememberedAdds.Add(1)
	}
}

// ObjectHashCode returns the identity hash of o, assigning one on first
// use. Hashes are never 0.
func (h *Heap) ObjectHashCode(o *Object) int32 {
	if v := o.hash.Load(); v != 0 {
		return v
	}
	x := h.nextHash.Add(0x9e3779b9)
	x ^= x >> 16
	x *= 0x45d9f3b
	x ^= x >> 16
	v := int32(x & 0x7fffffff)
	if v == 0 {
		v = 1
	}
	if o.hash.CompareAndSwap(0, v) {
		return v
	}
	return o.hash.Load()
}

func (h *Heap) ScavengeOnResolve(t *Thread) {
	h.scavengeChecks.Add(1)
}
