package vm

import (
	"testing"
)

func TestBuildRestoreResolveFrame(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.RuntimeInstrumentation = true })
	th := f.t
	th.jitReturnAddress = testSite
	th.SetJITException(PC(0xbeef))
	sp := th.SP()

	oldPC := th.BuildResolveFrame(FrameKindJITResolve, 0)
	if oldPC != testSite {
		t.Errorf("oldPC = %#x, want %#x", oldPC, testSite)
	}
	if th.SP() != sp-ResolveFrameSlots {
		t.Errorf("SP = %d, want %d", th.SP(), sp-ResolveFrameSlots)
	}
	if th.jitException != nil {
		t.Error("JIT exception cookie should be cleared while the frame is up")
	}
	if th.RuntimeInstrumentationActive() {
		t.Error("runtime instrumentation should be off inside a resolve frame")
	}
	frame, ok := th.TopResolveFrame()
	if !ok {
		t.Fatal("TopResolveFrame found no frame")
	}
	if frame.Flags().Kind() != FrameKindJITResolve {
		t.Errorf("kind = %s, want %s", frame.Flags().Kind(), FrameKindJITResolve)
	}
	if frame.SavedException() != PC(0xbeef) {
		t.Errorf("saved exception = %v, want 0xbeef", frame.SavedException())
	}

	if act := th.RestoreResolveFrame(oldPC, true, true); act != actionResume {
		t.Errorf("action = %s, want resume", act)
	}
	if th.SP() != sp {
		t.Errorf("SP after restore = %d, want %d", th.SP(), sp)
	}
	if th.jitException != PC(0xbeef) {
		t.Errorf("JIT exception = %v, want 0xbeef", th.jitException)
	}
	if !th.RuntimeInstrumentationActive() {
		t.Error("runtime instrumentation should be back on")
	}
}

func TestNestedResolveFrames(t *testing.T) {
	f := newFixture(t)
	th := f.t
	th.jitReturnAddress = testSite
	sp := th.SP()

	outer := th.BuildResolveFrame(FrameKindData, 0)
	inner := th.BuildResolveFrame(FrameKindRuntimeHelper, 0)
	if top, _ := th.TopResolveFrame(); top.Flags().Kind() != FrameKindRuntimeHelper {
		t.Errorf("top frame = %s, want runtime-helper", top.Flags().Kind())
	}
	th.RestoreResolveFrame(inner, false, false)
	if top, _ := th.TopResolveFrame(); top.Flags().Kind() != FrameKindData {
		t.Errorf("top frame = %s, want data-resolve", top.Flags().Kind())
	}
	th.RestoreResolveFrame(outer, false, false)
	if th.SP() != sp {
		t.Errorf("SP = %d, want %d", th.SP(), sp)
	}
	if _, ok := th.TopResolveFrame(); ok {
		t.Error("a resolve frame is still on the stack")
	}
}

func TestRestoreResolveFrameOrder(t *testing.T) {
	const redirected PC = 0x2000

	tests := []struct {
		name           string
		popFrames      bool
		exception      bool
		redirect       bool
		checkAsync     bool
		checkException bool
		want           Action
	}{
		{"nothing pending", false, false, false, true, true, actionResume},
		{"pop frames first", true, true, true, true, true, actionPopFrames},
		{"exception before redirect", false, true, true, true, true, actionThrow},
		{"redirect", false, false, true, true, true, RunAt(redirected)},
		{"async ignored", true, false, false, false, true, actionResume},
		{"exception ignored", false, true, false, true, false, actionResume},
		{"exception ignored, redirect seen", false, true, true, true, false, RunAt(redirected)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			th := f.t
			th.jitReturnAddress = testSite
			sp := th.SP()
			oldPC := th.BuildResolveFrame(FrameKindJITResolve, 0)
			if tt.popFrames {
				th.PostAsync(AsyncPopFrames)
			}
			if tt.exception {
				th.SetCurrentException(KindInternalError, "pending")
			}
			if tt.redirect {
				th.mustTopResolveFrame().SetReturnAddress(redirected)
			}

			got := th.RestoreResolveFrame(oldPC, tt.checkAsync, tt.checkException)
			if got != tt.want {
				t.Errorf("action = %s, want %s", got, tt.want)
			}
			if tt.want == actionResume && th.SP() != sp {
				t.Errorf("SP = %d, want %d", th.SP(), sp)
			}
			if tt.want != actionResume {
				if _, ok := th.TopResolveFrame(); !ok {
					t.Error("frame should stay on the stack for the unwinder")
				}
			}
		})
	}
}

func TestResolveFrameSurvivesStackArguments(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Convention = StackConvention{} })
	th := f.t
	th.jitReturnAddress = testSite
	sp := th.SP()
	a := th.marshal([]any{int32(1), int32(2)})
	if th.SP() != sp-2 {
		t.Fatalf("SP after marshal = %d, want %d", th.SP(), sp-2)
	}
	oldPC := th.BuildResolveFrame(FrameKindJITResolve, a.Count())
	if a.Int32(1) != 1 || a.Int32(2) != 2 {
		t.Errorf("arguments = %d, %d, want 1, 2", a.Int32(1), a.Int32(2))
	}
	var compiled *WalkedFrame
	th.WalkStack(func(w *WalkedFrame) bool {
		if w.Kind == FrameCompiled {
			compiled = w
			return false
		}
		return true
	})
	if compiled == nil || compiled.Method != f.md.Method {
		t.Fatalf("walk found %+v, want app/Main.run", compiled)
	}
	th.RestoreResolveFrame(oldPC, false, false)
	th.discardTo(f.md.FrameSize)
	if th.SP() != sp {
		t.Errorf("SP = %d, want %d", th.SP(), sp)
	}
}

func TestScavengeOnResolve(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ScavengeOnResolve = true })
	th := f.t
	th.jitReturnAddress = testSite

	oldPC := th.BuildResolveFrame(FrameKindData, 0)
	th.RestoreResolveFrame(oldPC, false, false)
	oldPC = th.BuildResolveFrameForRuntimeHelper(0)
	th.RestoreResolveFrame(oldPC, false, false)

	if got := f.heap().Stats().ScavengeChecks; got != 1 {
		t.Errorf("scavenge checks = %d, want 1", got)
	}
}

func TestWalkStackThroughResolveFrame(t *testing.T) {
	f := newFixture(t)
	th := f.t
	th.jitReturnAddress = testSite
	th.BuildResolveFrame(FrameKindData, 0)

	var frames []*WalkedFrame
	th.WalkStack(func(w *WalkedFrame) bool {
		frames = append(frames, w)
		return true
	})
	if len(frames) != 2 {
		t.Fatalf("walked %d frames, want 2", len(frames))
	}
	if frames[0].Kind != FrameResolveKind || frames[0].PC != testSite {
		t.Errorf("frame 0 = %+v, want resolve frame at %#x", frames[0], testSite)
	}
	if frames[1].Method != f.md.Method || frames[1].Line != 12 {
		t.Errorf("frame 1 = %v line %d, want app/Main.run line 12", frames[1].Method, frames[1].Line)
	}
}

func TestDecompileAndSyntheticHandler(t *testing.T) {
	f := newFixture(t)
	th := f.t
	th.jitReturnAddress = testSite
	oldPC := th.BuildResolveFrame(FrameKindRuntimeHelper, 0)

	rec := th.DecompileTopFrame()
	if rec.PC != testSite {
		t.Errorf("record PC = %#x, want %#x", rec.PC, testSite)
	}
	frame := th.mustTopResolveFrame()
	if frame.ReturnAddress() != f.vm.DecompileTrampoline {
		t.Errorf("return address = %#x, want decompile trampoline", frame.ReturnAddress())
	}

	if got := th.fixStackForSyntheticHandler(); got != rec {
		t.Fatalf("fixStackForSyntheticHandler = %v, want the pending record", got)
	}
	if frame.ReturnAddress() != 0 {
		t.Errorf("return address = %#x, want 0", frame.ReturnAddress())
	}
	var compiled *WalkedFrame
	th.WalkStack(func(w *WalkedFrame) bool {
		if w.Kind == FrameCompiled {
			compiled = w
			return false
		}
		return true
	})
	if compiled == nil || compiled.PC != testSite || !compiled.Decompiled {
		t.Errorf("compiled frame = %+v, want PC %#x taken from the record", compiled, testSite)
	}

	th.unfixSyntheticHandler(rec)
	if act := th.RestoreResolveFrame(oldPC, false, false); act != RunAt(f.vm.DecompileTrampoline) {
		t.Errorf("action = %s, want run-at decompile trampoline", act)
	}
}

func TestFixStackWithoutDecompilation(t *testing.T) {
	f := newFixture(t)
	th := f.t
	th.jitReturnAddress = testSite
	th.BuildResolveFrameForRuntimeHelper(0)
	if rec := th.fixStackForSyntheticHandler(); rec != nil {
		t.Errorf("fixStackForSyntheticHandler = %v, want nil", rec)
	}
	if pc := th.mustTopResolveFrame().ReturnAddress(); pc != testSite {
		t.Errorf("return address = %#x, want %#x", pc, testSite)
	}
}
