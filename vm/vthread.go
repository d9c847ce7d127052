package vm

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// CarrierPool bounds the number of virtual threads running at once. A
// mounted virtual thread holds one carrier.
type CarrierPool struct {
	size int64
	sem  *semaphore.Weighted
}

// NewCarrierPool creates a pool of n carriers.
func NewCarrierPool(n int) *CarrierPool {
	return &CarrierPool{size: int64(n), sem: semaphore.NewWeighted(int64(n))}
}

// Size returns the number of carriers.
func (p *CarrierPool) Size() int { return int(p.size) }

// VirtualThread is the virtual-thread state of a Thread.
type VirtualThread struct {
	pool    *CarrierPool
	mounted bool
	pins    int

	// Set while yielded at a monitor enter.
	blockedOn *Object
	release   <-chan struct{}
	yields    int
}

// Mount acquires a carrier for t.
func (t *Thread) Mount(ctx context.Context) error {
	v := t.Virtual
	if v == nil {
		return fmt.Errorf("mount %s: not a virtual thread", t)
	}
	if v.mounted {
		return nil
	}
	if err := v.pool.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("mount %s: %w", t, err)
	}
	v.mounted = true
	return nil
}

// Unmount releases the carrier of t.
func (t *Thread) Unmount() {
	if v := t.Virtual; v != nil && v.mounted {
		v.mounted = false
		v.pool.sem.Release(1)
	}
}

// Pin prevents t from yielding its carrier, as native frames or critical
// sections on the stack do.
func (t *Thread) Pin() {
	if t.Virtual != nil {
		t.Virtual.pins++
	}
}

// Unpin undoes one Pin.
func (t *Thread) Unpin() {
	if t.Virtual != nil && t.Virtual.pins > 0 {
		t.Virtual.pins--
	}
}

// Yields returns how often the virtual thread gave up its carrier.
func (t *Thread) Yields() int {
	if t.Virtual == nil {
		return 0
	}
	return t.Virtual.yields
}

// isYieldableVirtualThread reports whether a blocked monitor enter may
// unmount t instead of blocking its carrier.
func (t *Thread) isYieldableVirtualThread() bool {
	opts := &t.vm.opts
	return opts.JavaSpecVersion >= 24 && opts.VirtualThreads &&
		t.Virtual != nil && t.Virtual.mounted && t.Virtual.pins == 0
}

// yieldAtMonitorEnter unmounts t until the monitor it blocked on is
// released, then mounts it again.
func (t *Thread) yieldAtMonitorEnter(ctx context.Context) error {
	v := t.Virtual
	release := v.release
	v.blockedOn, v.release = nil, nil
	v.yields++
	t.Unmount()
	select {
	case <-release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return t.Mount(ctx)
}

// RunVirtual mounts t, runs fn and unmounts t again.
func (vm *VM) RunVirtual(ctx context.Context, t *Thread, fn func(t *Thread) error) error {
	if err := t.Mount(ctx); err != nil {
		return err
	}
	defer t.Unmount()
	return fn(t)
}
