package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// Monitor status
// ---------------------------------------------------------------------------

// MonitorStatus is the result of a monitor operation. Statuses are
// ordered: everything at or below MonitorBlocking needs the slow path and
// everything below it is an error.
type MonitorStatus uint8

const (
	MonitorValueTypeIMSE MonitorStatus = iota
	MonitorSingleThreadMode
	MonitorOOM
	MonitorYieldVirtual
	MonitorBlocking
	MonitorAcquired

	// Exit statuses.
	MonitorExitOK
	MonitorIllegalState
	MonitorWouldBlock
)

var monitorStatusNames = [...]string{
	MonitorValueTypeIMSE:    "value-type-imse",
	MonitorSingleThreadMode: "single-thread-mode",
	MonitorOOM:              "oom",
	MonitorYieldVirtual:     "yield-virtual",
	MonitorBlocking:         "blocking",
	MonitorAcquired:         "acquired",
	MonitorExitOK:           "exit-ok",
	MonitorIllegalState:     "illegal-state",
	MonitorWouldBlock:       "would-block",
}

func (s MonitorStatus) String() string { return monitorStatusNames[s] }

// MonitorState is the observable lock state of an object.
type MonitorState uint8

const (
	MonitorUnlocked MonitorState = iota
	MonitorOwnedThin
	MonitorOwnedInflated
	MonitorContended
)

var monitorStateNames = [...]string{"unlocked", "owned-thin", "owned-inflated", "contended"}

func (s MonitorState) String() string { return monitorStateNames[s] }

// ---------------------------------------------------------------------------
// Lockword
// ---------------------------------------------------------------------------

// The lockword holds the owner's thread serial in the low 32 bits and the
// recursion count above it. The contended bit tells the owner to wake
// waiters when it releases.
const (
	lockOwnerMask   uint64 = 1<<32 - 1
	lockCountShift         = 32
	lockCountMask   uint64 = 0xffff << lockCountShift
	lockContended   uint64 = 1 << 62
	maxRecursion           = 0xffff
)

func lockOwner(w uint64) uint32 { return uint32(w & lockOwnerMask) }
func lockCount(w uint64) uint64 { return (w & lockCountMask) >> lockCountShift }

func thinLock(t *Thread, count uint64) uint64 {
	return uint64(t.serial) | count<<lockCountShift
}

// objectMonitor is the inflated part of a lock. Waiters block on cond
// until the owner releases a contended lockword.
type objectMonitor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	waiters int
	// release is closed and replaced every time the lock is released
	// while contended. Yielded virtual threads wait on it.
	release chan struct{}
}

// MonitorTable owns inflated monitors and implements the lock protocol.
type MonitorTable struct {
	vm    *VM
	limit int

	mu       sync.Mutex
	monitors map[*Object]*objectMonitor
}

// NewMonitorTable creates a table inflating at most limit monitors.
func NewMonitorTable(vm *VM, limit int) *MonitorTable {
	return &MonitorTable{vm: vm, limit: limit, monitors: make(map[*Object]*objectMonitor)}
}

// inflate returns the monitor of o, creating it if needed. It returns nil
// when the table is full.
func (mt *MonitorTable) inflate(o *Object) *objectMonitor {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if m := mt.monitors[o]; m != nil {
		return m
	}
	if len(mt.monitors) >= mt.limit {
		return nil
	}
	m := &objectMonitor{release: make(chan struct{})}
	m.cond = sync.NewCond(&m.mu)
	mt.monitors[o] = m
	return m
}

func (mt *MonitorTable) lookup(o *Object) *objectMonitor {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.monitors[o]
}

// Inflated returns the number of inflated monitors.
func (mt *MonitorTable) Inflated() int {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return len(mt.monitors)
}

// identityCheck rejects objects that cannot be locked.
func (mt *MonitorTable) identityCheck(o *Object) (MonitorStatus, bool) {
	c := o.class
	if c.IsValueType() || (c.IsValueBased() && mt.vm.opts.ValueBasedExceptions) {
		return MonitorValueTypeIMSE, false
	}
	return 0, true
}

// tryEnter attempts a thin acquire or a recursive re-entry without
// blocking.
func (mt *MonitorTable) tryEnter(t *Thread, o *Object) (MonitorStatus, bool) {
	for {
		w := o.lock.Load()
		switch owner := lockOwner(w); {
		case owner == 0:
			if o.lock.CompareAndSwap(w, w|thinLock(t, 1)) {
				return MonitorAcquired, true
			}
		case owner == t.serial:
			n := lockCount(w)
			if n >= maxRecursion {
				return MonitorOOM, true
			}
			if o.lock.CompareAndSwap(w, (w&^lockCountMask)|(n+1)<<lockCountShift) {
				return MonitorAcquired, true
			}
		default:
			return MonitorBlocking, false
		}
	}
}

// EnterNonBlocking is the fast-path monitor enter. It never blocks: a
// held lock reports MonitorBlocking.
func (mt *MonitorTable) EnterNonBlocking(t *Thread, o *Object) MonitorStatus {
	if s, ok := mt.identityCheck(o); !ok {
		return s
	}
	s, _ := mt.tryEnter(t, o)
	if s == MonitorBlocking && mt.vm.SingleThreadMode() {
		return MonitorSingleThreadMode
	}
	if s == MonitorBlocking && mt.inflate(o) == nil {
		return MonitorOOM
	}
	return s
}

// EnterBlocking acquires o, waiting for the owner if needed.
func (mt *MonitorTable) EnterBlocking(t *Thread, o *Object) MonitorStatus {
	if s, ok := mt.identityCheck(o); !ok {
		return s
	}
	if s, done := mt.tryEnter(t, o); done {
		return s
	}
	m := mt.inflate(o)
	if m == nil {
		return MonitorOOM
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiters++
	defer func() { m.waiters-- }()
	for {
		w := o.lock.Load()
		if lockOwner(w) == 0 {
			next := thinLock(t, 1)
			if m.waiters > 1 {
				next |= lockContended
			}
			if o.lock.CompareAndSwap(w, next) {
				return MonitorAcquired
			}
			continue
		}
		// Ask the owner for a wakeup. If the lockword changed in between
		// the owner may already be gone; retry instead of waiting.
		if w&lockContended == 0 && !o.lock.CompareAndSwap(w, w|lockContended) {
			continue
		}
		m.cond.Wait()
	}
}

// Exit releases one level of o. Exiting a monitor the thread does not own
// reports MonitorIllegalState.
func (mt *MonitorTable) Exit(t *Thread, o *Object) MonitorStatus {
	for {
		w := o.lock.Load()
		if lockOwner(w) != t.serial {
			return MonitorIllegalState
		}
		if n := lockCount(w); n > 1 {
			if o.lock.CompareAndSwap(w, (w&^lockCountMask)|(n-1)<<lockCountShift) {
				return MonitorExitOK
			}
			continue
		}
		if !o.lock.CompareAndSwap(w, 0) {
			continue
		}
		if w&lockContended != 0 {
			mt.wake(o)
		}
		return MonitorExitOK
	}
}

func (mt *MonitorTable) wake(o *Object) {
	m := mt.lookup(o)
	if m == nil {
		return
	}
	m.mu.Lock()
	m.cond.Broadcast()
	close(m.release)
	m.release = make(chan struct{})
	m.mu.Unlock()
}

// IsContended reports whether threads are waiting for o.
func (mt *MonitorTable) IsContended(o *Object) bool {
	return o.lock.Load()&lockContended != 0
}

// State reports the lock state of o.
func (mt *MonitorTable) State(o *Object) MonitorState {
	w := o.lock.Load()
	switch {
	case w&lockContended != 0:
		return MonitorContended
	case lockOwner(w) == 0:
		return MonitorUnlocked
	case mt.lookup(o) != nil:
		return MonitorOwnedInflated
	}
	return MonitorOwnedThin
}

// HoldsLock reports whether t owns o.
func (mt *MonitorTable) HoldsLock(t *Thread, o *Object) bool {
	return lockOwner(o.lock.Load()) == t.serial
}

// PreparePinnedVirtualThreadForUnmount is called for a virtual thread
// about to block on o. It retries the acquire; if the lock is still held
// it marks o as the thread's blocker and reports MonitorYieldVirtual.
func (mt *MonitorTable) PreparePinnedVirtualThreadForUnmount(t *Thread, o *Object) MonitorStatus {
	if s, done := mt.tryEnter(t, o); done {
		return s
	}
	m := mt.inflate(o)
	if m == nil {
		return MonitorOOM
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		w := o.lock.Load()
		if lockOwner(w) == 0 {
			if o.lock.CompareAndSwap(w, thinLock(t, 1)|w&lockContended) {
				return MonitorAcquired
			}
			continue
		}
		if w&lockContended != 0 || o.lock.CompareAndSwap(w, w|lockContended) {
			break
		}
	}
	t.Virtual.blockedOn = o
	t.Virtual.release = m.release
	return MonitorYieldVirtual
}
