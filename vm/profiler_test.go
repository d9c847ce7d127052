package vm

import (
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestProfilerCountsInvocations(t *testing.T) {
	f := newFixture(t)
	s := f.vm.NewString("x")
	for i := 0; i < 3; i++ {
		if _, err := f.invoke(HelperInstanceOf, f.vm.StringClass(), s); err != nil {
			t.Fatalf("instanceOf: %v", err)
		}
	}
	_, err := f.invoke(HelperMonitorExit, s)
	wantThrow(t, err, KindIllegalMonitorStateException)

	tests := []struct {
		id   HelperID
		want HelperProfile
	}{
		{HelperInstanceOf, HelperProfile{Calls: 3, FastHits: 3}},
		{HelperMonitorExit, HelperProfile{Calls: 1, SlowEntries: 1, Throws: 1}},
		{HelperCheckCast, HelperProfile{}},
	}
	for _, tt := range tests {
		if got := f.vm.Profiler.Profile(tt.id); got != tt.want {
			t.Errorf("Profile(%s) = %+v, want %+v", tt.id, got, tt.want)
		}
	}
}

func TestProfilerHotHelpers(t *testing.T) {
	p := NewProfiler()
	p.SlowHotThreshold = 3

	var hot []HelperID
	p.OnHot = func(id HelperID, prof HelperProfile) {
		if prof.SlowEntries != 3 {
			t.Errorf("OnHot(%s) saw %d slow entries, want 3", id, prof.SlowEntries)
		}
		hot = append(hot, id)
	}

	for i := 0; i < 5; i++ {
		p.recordCall(HelperMonitorEntry)
		p.recordSlowEntry(HelperMonitorEntry)
	}
	p.recordCall(HelperNewObject)
	p.recordSlowEntry(HelperNewObject)

	if len(hot) != 1 || hot[0] != HelperMonitorEntry {
		t.Errorf("OnHot calls = %v, want [monitorEntry]", hot)
	}
	if n := p.HotHelpers(); n != 1 {
		t.Errorf("HotHelpers = %d, want 1", n)
	}
	if !p.Profile(HelperMonitorEntry).IsHot {
		t.Error("monitorEntry should be hot")
	}
	if p.Profile(HelperNewObject).IsHot {
		t.Error("newObject should not be hot")
	}
}

func TestProfilerStats(t *testing.T) {
	p := NewProfiler()
	p.SlowHotThreshold = 5

	for i := 0; i < 10; i++ {
		p.recordCall(HelperCheckCast)
		if i%2 == 0 {
			p.recordFastHit(HelperCheckCast)
		} else {
			p.recordSlowEntry(HelperCheckCast)
		}
	}
	for i := 0; i < 4; i++ {
		p.recordCall(HelperNewArray)
		p.recordSlowEntry(HelperNewArray)
	}
	p.recordCall(HelperAcmpeq)
	p.recordFastHit(HelperAcmpeq)

	want := ProfilerStats{Helpers: 3, HotHelpers: 1, Calls: 15, FastHits: 6, SlowEntries: 9}
	if got := p.Stats(); got != want {
		t.Errorf("Stats = %+v, want %+v", got, want)
	}

	snap := p.Snapshot()
	ids := make([]HelperID, len(snap))
	for i, c := range snap {
		ids[i] = c.Helper
	}
	if len(ids) != 3 || ids[0] != HelperNewArray || ids[1] != HelperCheckCast || ids[2] != HelperAcmpeq {
		t.Errorf("Snapshot order = %v, want [newArray checkCast acmpeq]", ids)
	}
}

func TestProfilerTopSlowPaths(t *testing.T) {
	p := NewProfiler()
	counts := map[HelperID]int{
		HelperNewObject:     25,
		HelperMonitorEntry:  100,
		HelperResolveString: 50,
		HelperInstanceOf:    0,
	}
	for id, n := range counts {
		p.recordCall(id)
		for i := 0; i < n; i++ {
			p.recordSlowEntry(id)
		}
	}

	top := p.TopSlowPaths(2)
	if len(top) != 2 {
		t.Fatalf("TopSlowPaths(2) returned %d entries", len(top))
	}
	if top[0].Helper != HelperMonitorEntry || top[1].Helper != HelperResolveString {
		t.Errorf("top = [%s %s], want [monitorEntry resolveString]", top[0].Helper, top[1].Helper)
	}
	if n := len(p.TopSlowPaths(10)); n != 4 {
		t.Errorf("TopSlowPaths(10) returned %d entries, want 4", n)
	}
}

func TestProfilerReset(t *testing.T) {
	p := NewProfiler()
	p.SlowHotThreshold = 2
	for i := 0; i < 5; i++ {
		p.recordCall(HelperNewObject)
		p.recordSlowEntry(HelperNewObject)
	}
	if !p.Profile(HelperNewObject).IsHot {
		t.Fatal("newObject should be hot before reset")
	}

	p.Reset()

	if p.Profile(HelperNewObject).IsHot {
		t.Error("newObject should not be hot after reset")
	}
	if p.HotHelpers() != 0 {
		t.Errorf("HotHelpers = %d after reset", p.HotHelpers())
	}
	if s := p.Stats(); s != (ProfilerStats{}) {
		t.Errorf("Stats = %+v after reset, want zero", s)
	}
}

func TestProfilerConcurrentAccess(t *testing.T) {
	p := NewProfiler()
	p.SlowHotThreshold = 500

	var fired int
	p.OnHot = func(HelperID, HelperProfile) { fired++ }

	const goroutines, perGoroutine = 10, 100
	var g errgroup.Group
	for i := 0; i < goroutines; i++ {
		g.Go(func() error {
			for j := 0; j < perGoroutine; j++ {
				p.recordCall(HelperMonitorEntry)
				p.recordSlowEntry(HelperMonitorEntry)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	prof := p.Profile(HelperMonitorEntry)
	if prof.Calls != goroutines*perGoroutine || prof.SlowEntries != goroutines*perGoroutine {
		t.Errorf("profile = %+v, want %d calls and slow entries", prof, goroutines*perGoroutine)
	}
	if fired != 1 {
		t.Errorf("OnHot fired %d times, want 1", fired)
	}
}

func BenchmarkProfilerSlowEntry(b *testing.B) {
	p := NewProfiler()
	for i := 0; i < b.N; i++ {
		p.recordSlowEntry(HelperMonitorEntry)
	}
}

func BenchmarkProfilerConcurrent(b *testing.B) {
	p := NewProfiler()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			p.recordCall(HelperNewObject)
			p.recordFastHit(HelperNewObject)
		}
	})
}
