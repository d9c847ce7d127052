package vm

import (
	"errors"
	"strings"
	"testing"
)

func TestInvokeArgumentCount(t *testing.T) {
	f := newFixture(t)
	_, err := f.invoke(HelperNewObject)
	if err == nil || !strings.Contains(err.Error(), "0 arguments, want 1") {
		t.Errorf("err = %v, want an argument count error", err)
	}
	if f.vm.Profiler.Profile(HelperNewObject).Calls != 0 {
		t.Error("a rejected call should not be profiled")
	}
}

func TestInvokeLeftoverRequest(t *testing.T) {
	f := newFixture(t)
	f.t.stash(SlowPathRequest{Kind: RequestCheckCast})
	_, err := f.invoke(HelperAcmpeq, (*Object)(nil), (*Object)(nil))
	if err == nil || !strings.Contains(err.Error(), "checkcast request left over") {
		t.Errorf("err = %v, want a leftover request error", err)
	}
}

func TestInvokeFastPathWithoutSlowPath(t *testing.T) {
	f := newFixture(t)
	failing := func(t *Thread, a Args) bool { return false }
	if err := f.vm.Helpers.Replace(HelperAcmpeq, failing, nil); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	_, err := f.invoke(HelperAcmpeq, (*Object)(nil), (*Object)(nil))
	if err == nil || !strings.Contains(err.Error(), "no slow path") {
		t.Errorf("err = %v, want a missing slow path error", err)
	}
	if f.t.StackDepth() != f.md.FrameSize {
		t.Errorf("StackDepth = %d, want %d", f.t.StackDepth(), f.md.FrameSize)
	}
}

func TestInvokeActions(t *testing.T) {
	tests := []struct {
		name   string
		slow   SlowPath
		check  func(t *testing.T, err error)
		counts HelperProfile
	}{
		{
			name: "throw without exception",
			slow: func(t *Thread, a Args) Action { return actionThrow },
			check: func(t *testing.T, err error) {
				e := wantThrow(t, err, KindInternalError)
				if e.Message != "throw action without pending exception" {
					t.Errorf("message = %q", e.Message)
				}
			},
			counts: HelperProfile{Calls: 1, SlowEntries: 1, Throws: 1},
		},
		{
			name: "pop frames",
			slow: func(t *Thread, a Args) Action { return actionPopFrames },
			check: func(t *testing.T, err error) {
				var ct *ControlTransfer
				if !errors.As(err, &ct) || ct.Action.Kind != ActionPopFrames || ct.Helper != HelperResolveString {
					t.Errorf("err = %v, want a pop-frames transfer", err)
				}
			},
			counts: HelperProfile{Calls: 1, SlowEntries: 1, Redirects: 1},
		},
		{
			name: "run at",
			slow: func(t *Thread, a Args) Action {
				t.decompileStash = t.vm.NewString("saved")
				return RunAt(0x2000)
			},
			check: func(t *testing.T, err error) {
				var ct *ControlTransfer
				if !errors.As(err, &ct) || ct.Action != RunAt(0x2000) {
					t.Fatalf("err = %v, want run-at(0x2000)", err)
				}
				if ct.Value == nil || ct.Value.Payload() != "saved" {
					t.Errorf("transfer value = %v, want the stashed object", ct.Value)
				}
			},
			counts: HelperProfile{Calls: 1, SlowEntries: 1, Redirects: 1},
		},
		{
			name: "resume",
			slow: func(t *Thread, a Args) Action {
				if t.jitReturnAddress != testSite {
					panic("return address not set during the call")
				}
				t.SetReturn(int32(7))
				return actionResume
			},
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Errorf("err = %v", err)
				}
			},
			counts: HelperProfile{Calls: 1, SlowEntries: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if err := f.vm.Helpers.Replace(HelperResolveString, nil, tt.slow); err != nil {
				t.Fatalf("Replace: %v", err)
			}
			_, err := f.invoke(HelperResolveString, (*ConstantPool)(nil), 0, PC(0))
			tt.check(t, err)
			if got := f.vm.Profiler.Profile(HelperResolveString); got != tt.counts {
				t.Errorf("profile = %+v, want %+v", got, tt.counts)
			}
			if f.t.jitReturnAddress != 0 {
				t.Errorf("return address = %#x after the call, want 0", uintptr(f.t.jitReturnAddress))
			}
			if f.t.decompileStash != nil {
				t.Error("decompile stash should be consumed")
			}
			if f.t.StackDepth() != f.md.FrameSize {
				t.Errorf("StackDepth = %d, want %d", f.t.StackDepth(), f.md.FrameSize)
			}
		})
	}
}

// oneRegister passes only the first argument in a register.
type oneRegister struct{ StackConvention }

func (oneRegister) Name() string { return "one-register" }

func (oneRegister) ArgLocation(n, count int) ArgLocation {
	if n == 1 {
		return ArgLocation{Register: true}
	}
	return ArgLocation{Index: count - n}
}

func TestHelpersUnderEveryConvention(t *testing.T) {
	conventions := []CallingConvention{AMD64Convention{}, ARM64Convention{}, StackConvention{}, oneRegister{}}
	for _, conv := range conventions {
		t.Run(conv.Name(), func(t *testing.T) {
			f := newFixture(t, func(o *Options) { o.Convention = conv })
			matrix := f.vm.ArrayOf(f.vm.PrimitiveArrayClass(TInt))
			v, err := f.invoke(HelperAMultiNewArray, matrix, int32(2), []int32{2, 3})
			if err != nil {
				t.Fatalf("multianewarray: %v", err)
			}
			outer := v.(*Object)
			if outer.Length() != 2 || outer.Element(1).Ref().Length() != 3 {
				t.Errorf("got %v, want int[2][3]", outer)
			}

			names := f.vm.NewArray(f.vm.ArrayOf(f.vm.StringClass()), 2)
			s := f.vm.NewString("x")
			if _, err := f.invoke(HelperArrayStoreChecked, names, int32(1), s); err != nil {
				t.Fatalf("array store: %v", err)
			}
			if names.Element(1).Ref() != s {
				t.Error("element 1 should hold the stored string")
			}
			if f.t.StackDepth() != f.md.FrameSize {
				t.Errorf("StackDepth = %d, want %d", f.t.StackDepth(), f.md.FrameSize)
			}
		})
	}
}

func TestArgLocations(t *testing.T) {
	tests := []struct {
		conv   CallingConvention
		n      int
		count  int
		want   ArgLocation
		regStr string
	}{
		{AMD64Convention{}, 2, 3, ArgLocation{Register: true, Index: 1}, "rsi"},
		{AMD64Convention{}, 5, 6, ArgLocation{Index: 1}, ""},
		{ARM64Convention{}, 8, 8, ArgLocation{Register: true, Index: 7}, "x7"},
		{ARM64Convention{}, 9, 9, ArgLocation{Index: 0}, ""},
		{StackConvention{}, 1, 3, ArgLocation{Index: 2}, ""},
	}
	for _, tt := range tests {
		got := tt.conv.ArgLocation(tt.n, tt.count)
		if got != tt.want {
			t.Errorf("%s.ArgLocation(%d, %d) = %+v, want %+v", tt.conv.Name(), tt.n, tt.count, got, tt.want)
		}
		if tt.regStr != "" && tt.conv.RegisterName(got.Index) != tt.regStr {
			t.Errorf("%s.RegisterName(%d) = %q, want %q", tt.conv.Name(), got.Index, tt.conv.RegisterName(got.Index), tt.regStr)
		}
	}
}

func TestConventionByName(t *testing.T) {
	for _, name := range []string{"amd64", "arm64", "stack"} {
		c, err := ConventionByName(name)
		if err != nil || c.Name() != name {
			t.Errorf("ConventionByName(%q) = %v, %v", name, c, err)
		}
	}
	if c, err := ConventionByName("host"); err != nil || c != HostConvention() {
		t.Errorf("ConventionByName(host) = %v, %v, want the host convention", c, err)
	}
	if _, err := ConventionByName("sparc"); err == nil {
		t.Error("unknown convention should fail")
	}
}
