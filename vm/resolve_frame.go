package vm

import "fmt"

// FrameFlags is the flags word of a resolve frame: a FrameKind in the low
// byte plus attribute bits.
type FrameFlags uint32

const (
	// FrameResolve is carried by every resolve frame.
	FrameResolve FrameFlags = 0x0008_0000
	// FrameFailedMethodMonitorEnter marks a method monitor enter that
	// raised before the method body ran.
	FrameFailedMethodMonitorEnter FrameFlags = 0x0010_0000

	frameKindMask FrameFlags = 0xff
)

// FrameKind says which helper built a resolve frame.
type FrameKind uint8

const (
	FrameKindJITResolve FrameKind = iota
	FrameKindRuntimeHelper
	FrameKindData
	FrameKindAllocation
	FrameKindStackOverflow
	FrameKindInterfaceLookup
	FrameKindInterfaceMethod
	FrameKindSpecialMethod
	FrameKindStaticMethod
	FrameKindVirtualMethod
	FrameKindMonitorEnter
	FrameKindMethodMonitorEnter
	FrameKindInduceOSR
)

var frameKindNames = [...]string{
	FrameKindJITResolve:         "jit-resolve",
	FrameKindRuntimeHelper:      "runtime-helper",
	FrameKindData:               "data-resolve",
	FrameKindAllocation:         "allocation",
	FrameKindStackOverflow:      "stack-overflow",
	FrameKindInterfaceLookup:    "interface-lookup",
	FrameKindInterfaceMethod:    "interface-method-resolve",
	FrameKindSpecialMethod:      "special-method-resolve",
	FrameKindStaticMethod:       "static-method-resolve",
	FrameKindVirtualMethod:      "virtual-method-resolve",
	FrameKindMonitorEnter:       "monitor-enter",
	FrameKindMethodMonitorEnter: "method-monitor-enter",
	FrameKindInduceOSR:          "induce-osr",
}

func (k FrameKind) String() string { return frameKindNames[k] }

// Flags returns the flags word for a frame of kind k.
func (k FrameKind) Flags() FrameFlags { return FrameResolve | FrameFlags(k) }

// Kind extracts the frame kind.
func (f FrameFlags) Kind() FrameKind { return FrameKind(f & frameKindMask) }

// Resolve frame layout, from the top of the stack down.
const (
	frameSlotFlags = iota
	frameSlotSavedException
	frameSlotParmCount
	frameSlotReturnAddress
	frameSlotTaggedReturnSP

	// ResolveFrameSlots is the size of a resolve frame.
	ResolveFrameSlots
)

// ResolveFrame is a view of a resolve frame on a thread's stack.
type ResolveFrame struct {
	t    *Thread
	base int
}

func (f ResolveFrame) Flags() FrameFlags         { return f.t.stack[f.base+frameSlotFlags].(FrameFlags) }
func (f ResolveFrame) SavedException() any       { return f.t.stack[f.base+frameSlotSavedException] }
func (f ResolveFrame) ParmCount() int            { return f.t.stack[f.base+frameSlotParmCount].(int) }
func (f ResolveFrame) ReturnAddress() PC         { return f.t.stack[f.base+frameSlotReturnAddress].(PC) }
func (f ResolveFrame) SetReturnAddress(pc PC)    { f.t.stack[f.base+frameSlotReturnAddress] = pc }
func (f ResolveFrame) returnDepth() int          { return f.t.stack[f.base+frameSlotTaggedReturnSP].(int) }
func (f ResolveFrame) setFlags(flags FrameFlags) { f.t.stack[f.base+frameSlotFlags] = flags }

// SetFlag ORs attribute bits into the frame flags.
func (f ResolveFrame) SetFlag(bits FrameFlags) { f.setFlags(f.Flags() | bits) }

// returnSP is the stack index of the caller's compiled frame. The frame
// stores it as a depth so that stack growth does not invalidate it.
func (f ResolveFrame) returnSP() int { return len(f.t.stack) - f.returnDepth() }

// isResolveFrameAt reports whether a resolve frame starts at stack index i.
func (t *Thread) isResolveFrameAt(i int) bool {
	if i+ResolveFrameSlots > len(t.stack) {
		return false
	}
	flags, ok := t.stack[i+frameSlotFlags].(FrameFlags)
	return ok && flags&FrameResolve != 0
}

// TopResolveFrame returns the resolve frame on top of the stack.
func (t *Thread) TopResolveFrame() (ResolveFrame, bool) {
	if !t.isResolveFrameAt(t.sp) {
		return ResolveFrame{}, false
	}
	return ResolveFrame{t: t, base: t.sp}, true
}

func (t *Thread) mustTopResolveFrame() ResolveFrame {
	f, ok := t.TopResolveFrame()
	if !ok {
		panic(fmt.Sprintf("vm: no resolve frame on top of %s", t))
	}
	return f
}

// ---------------------------------------------------------------------------
// Build
// ---------------------------------------------------------------------------

// BuildResolveFrame pushes a resolve frame for the current helper call and
// returns the return address it saved. Stack-resident helper arguments,
// parmCount of them, lie between the frame and the caller's compiled
// frame.
func (t *Thread) BuildResolveFrame(kind FrameKind, parmCount int) PC {
	return t.BuildResolveFrameWithPC(kind.Flags(), parmCount, true, t.jitReturnAddress)
}

// BuildResolveFrameWithPC pushes a resolve frame returning to pc.
// Runtime instrumentation is off until the frame is restored. When
// checkScavenge is set the collector may run a scavenge-on-resolve
// check; the frame is already walkable at that point.
func (t *Thread) BuildResolveFrameWithPC(flags FrameFlags, parmCount int, checkScavenge bool, pc PC) PC {
	t.disableRuntimeInstrumentation()
	returnSP := t.sp + t.stackParmCount(parmCount)
	t.push(len(t.stack) - returnSP)
	t.push(pc)
	t.push(parmCount)
	t.push(t.jitException)
	t.push(flags)
	t.jitException = nil
	if checkScavenge && t.vm.opts.ScavengeOnResolve {
		t.vm.Heap.ScavengeOnResolve(t)
	}
	return pc
}

// BuildResolveFrameForRuntimeHelper builds the frame of a helper that is
// not a resolution: exception raising, event reporting.
func (t *Thread) BuildResolveFrameForRuntimeHelper(parmCount int) PC {
	return t.BuildResolveFrameWithPC(FrameKindRuntimeHelper.Flags(), parmCount, false, t.jitReturnAddress)
}

// BuildResolveFrameForTrapHandler builds the frame of a hardware trap
// handler. The faulting PC comes from the JIT exception cookie, which is
// consumed.
func (t *Thread) BuildResolveFrameForTrapHandler() PC {
	pc, _ := t.jitException.(PC)
	t.jitException = nil
	return t.BuildResolveFrameWithPC(FrameKindRuntimeHelper.Flags(), 0, false, pc)
}

// BuildResolveFrameForRuntimeCheck builds the frame of a failed inline
// runtime check. The PC is the call site of the out-of-line check.
func (t *Thread) BuildResolveFrameForRuntimeCheck() PC {
	return t.BuildResolveFrameWithPC(FrameKindRuntimeHelper.Flags(), 0, false, t.jitReturnAddress)
}

func (t *Thread) stackParmCount(parmCount int) int {
	n := 0
	for i := 1; i <= parmCount; i++ {
		if !t.conv.ArgLocation(i, parmCount).Register {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Restore
// ---------------------------------------------------------------------------

// ActionKind says how control continues after a slow path.
type ActionKind uint8

const (
	// ActionResume continues in compiled code after the call site.
	ActionResume ActionKind = iota
	// ActionThrow dispatches the pending exception.
	ActionThrow
	// ActionPopFrames pops frames on behalf of an async request.
	ActionPopFrames
	// ActionRunAt continues at Action.PC on the Java stack, typically the
	// decompilation trampoline.
	ActionRunAt
	// ActionYieldAtMonitorEnter unmounts a virtual thread blocked on a
	// monitor; the enter is retried after it is remounted.
	ActionYieldAtMonitorEnter
)

var actionKindNames = [...]string{
	ActionResume:              "resume",
	ActionThrow:               "throw",
	ActionPopFrames:           "pop-frames",
	ActionRunAt:               "run-at",
	ActionYieldAtMonitorEnter: "yield-at-monitor-enter",
}

func (k ActionKind) String() string { return actionKindNames[k] }

// Action is the result of a slow path.
type Action struct {
	Kind ActionKind
	PC   PC
}

var (
	actionResume    = Action{Kind: ActionResume}
	actionThrow     = Action{Kind: ActionThrow}
	actionPopFrames = Action{Kind: ActionPopFrames}
	actionYield     = Action{Kind: ActionYieldAtMonitorEnter}
)

// RunAt returns an action continuing at pc.
func RunAt(pc PC) Action { return Action{Kind: ActionRunAt, PC: pc} }

func (a Action) String() string {
	if a.Kind == ActionRunAt {
		return fmt.Sprintf("run-at(%#x)", uintptr(a.PC))
	}
	return a.Kind.String()
}

// RestoreResolveFrame ends a slow path. In order it checks: an immediate
// async event asking to pop frames (with checkAsync), a pending exception
// (with checkException), and a return address changed since the frame was
// built (with a non-zero oldPC). The first hit leaves the frame on the
// stack for the unwinder and returns the matching action. Otherwise the
// saved JIT exception cookie is restored, the frame is popped and
// instrumentation is re-enabled.
func (t *Thread) RestoreResolveFrame(oldPC PC, checkAsync, checkException bool) Action {
	frame := t.mustTopResolveFrame()
	if checkAsync && t.ImmediateAsyncPending() {
		if t.CheckAsyncMessages(false) == AsyncActionPopFrames {
			return actionPopFrames
		}
	}
	if checkException && t.currentException != nil {
		return actionThrow
	}
	if oldPC != 0 {
		if pc := frame.ReturnAddress(); pc != oldPC {
			return RunAt(pc)
		}
	}
	t.jitException = frame.SavedException()
	for i := 0; i < ResolveFrameSlots; i++ {
		t.pop()
	}
	t.enableRuntimeInstrumentation()
	return actionResume
}

// restore is RestoreResolveFrame with both checks on.
func (t *Thread) restore(oldPC PC) Action {
	return t.RestoreResolveFrame(oldPC, true, true)
}

// ---------------------------------------------------------------------------
// Deoptimization
// ---------------------------------------------------------------------------

// DecompilationRecord remembers the original return address of a compiled
// frame that will continue in the interpreter.
type DecompilationRecord struct {
	PC PC
	// frameDepth locates the compiled frame as a distance from the high
	// end of the stack, which survives stack growth.
	frameDepth int
	// Synthetic is set when the resolve frame return address was zeroed
	// and the walker must take the PC from this record.
	Synthetic bool
}

// DecompileTopFrame marks the compiled frame under the top resolve frame
// for deoptimization: the original return address moves into a
// decompilation record and the frame returns to the VM's decompile
// trampoline instead.
func (t *Thread) DecompileTopFrame() *DecompilationRecord {
	frame := t.mustTopResolveFrame()
	rec := &DecompilationRecord{PC: frame.ReturnAddress(), frameDepth: frame.returnDepth()}
	t.decompilations = append(t.decompilations, rec)
	frame.SetReturnAddress(t.vm.DecompileTrampoline)
	return rec
}

// Decompilations returns the pending decompilation records, newest last.
func (t *Thread) Decompilations() []*DecompilationRecord { return t.decompilations }

// fixStackForSyntheticHandler prepares a trap-handler frame whose compiled
// frame has a pending decompilation: the frame's return address is zeroed
// so the walker reads the PC from the record instead. It returns the
// record it linked, or nil.
func (t *Thread) fixStackForSyntheticHandler() *DecompilationRecord {
	frame, ok := t.TopResolveFrame()
	if !ok || len(t.decompilations) == 0 {
		return nil
	}
	rec := t.decompilations[len(t.decompilations)-1]
	if rec.frameDepth != frame.returnDepth() {
		return nil
	}
	rec.Synthetic = true
	frame.SetReturnAddress(0)
	return rec
}

// unfixSyntheticHandler points the top resolve frame back at the
// decompile trampoline after a synthetic handler returned normally.
func (t *Thread) unfixSyntheticHandler(rec *DecompilationRecord) {
	if rec == nil {
		return
	}
	rec.Synthetic = false
	t.mustTopResolveFrame().SetReturnAddress(t.vm.DecompileTrampoline)
}

func (t *Thread) decompilationFor(frameSP int) *DecompilationRecord {
	depth := len(t.stack) - frameSP
	for i := len(t.decompilations) - 1; i >= 0; i-- {
		if rec := t.decompilations[i]; rec.frameDepth == depth {
			return rec
		}
	}
	return nil
}
