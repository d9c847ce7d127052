package vm

import (
	"context"
	"fmt"
)

// ControlTransfer is returned by Trampoline.Invoke when a helper did not
// return normally to its call site and did not throw either: an async
// request to pop frames, or a redirection of the caller (deoptimization).
type ControlTransfer struct {
	Helper HelperID
	Action Action
	// Value is the object a slow path saved for the interpreter to pick
	// up when the caller was deoptimized after an allocation.
	Value *Object
}

func (c *ControlTransfer) Error() string {
	return fmt.Sprintf("%s: control transfer %s", c.Helper, c.Action)
}

// Trampoline plays generated helper call sites: it places the arguments,
// runs the fast path, runs the slow path when needed, and turns the slow
// path's Action into a Go result.
type Trampoline struct {
	vm *VM
}

// NewTrampoline creates the trampoline of vm.
func NewTrampoline(vm *VM) *Trampoline { return &Trampoline{vm: vm} }

// Invoke calls helper id as compiled code at site would. The caller's
// compiled frame must be on t's stack. It returns the contents of the
// return register, a *Throwable when the helper threw, or a
// *ControlTransfer. The return register is meaningless after helpers that
// produce no result.
//
// A virtual thread told to yield at a monitor enter is unmounted until the
// monitor is released and the helper is called again; ctx bounds the wait.
func (tr *Trampoline) Invoke(ctx context.Context, t *Thread, site PC, id HelperID, args ...any) (any, error) {
	e := tr.vm.Helpers.Entry(id)
	if len(args) != e.ParmCount {
		return nil, fmt.Errorf("%s: %d arguments, want %d", id, len(args), e.ParmCount)
	}
	if t.request.Kind != requestNone {
		return nil, fmt.Errorf("%s: %s request left over from an earlier call", id, t.request.Kind)
	}
	savedPC := t.jitReturnAddress
	t.jitReturnAddress = site
	defer func() { t.jitReturnAddress = savedPC }()

	prof := tr.vm.Profiler
	prof.recordCall(id)
	for {
		depth := t.StackDepth()
		a := t.marshal(args)
		if e.Fast != nil && e.Fast(t, a) {
			prof.recordFastHit(id)
			v := t.ReturnValue()
			t.discardTo(depth)
			return v, nil
		}
		if e.Slow == nil {
			t.discardTo(depth)
			return nil, fmt.Errorf("%s: fast path failed and there is no slow path", id)
		}
		prof.recordSlowEntry(id)
		action := e.Slow(t, a)

		switch action.Kind {
		case ActionResume:
			v := t.ReturnValue()
			t.decompileStash = nil
			t.discardTo(depth)
			return v, nil

		case ActionYieldAtMonitorEnter:
			t.discardTo(depth)
			if err := t.yieldAtMonitorEnter(ctx); err != nil {
				return nil, fmt.Errorf("%s: %w", id, err)
			}
			continue

		case ActionThrow:
			prof.recordThrow(id)
			exc := t.ClearPendingException()
			t.privateFlags &^= PrivateStackOverflow
			t.discardTo(depth)
			if exc == nil {
				return nil, NewThrowable(KindInternalError, "throw action without pending exception")
			}
			return nil, exc

		default:
			prof.recordRedirect(id)
			ct := &ControlTransfer{Helper: id, Action: action, Value: t.decompileStash}
			t.decompileStash = nil
			t.discardTo(depth)
			log.Debugf("%s on %s: %s", id, t, action)
			return nil, ct
		}
	}
}

// discardTo unwinds the stack to depth slots, popping any resolve frames
// the helper left behind for the unwinder.
func (t *Thread) discardTo(depth int) {
	for t.StackDepth() > depth {
		if f, ok := t.TopResolveFrame(); ok {
			t.jitException = f.SavedException()
			for i := 0; i < ResolveFrameSlots; i++ {
				t.pop()
			}
			t.enableRuntimeInstrumentation()
			continue
		}
		t.pop()
	}
}
