package stats

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/jitrt/vm"
)

// profiled runs a few helper calls and returns the VM's profiler.
func profiled(t *testing.T, objects int) *vm.Profiler {
	t.Helper()
	m, err := vm.New(vm.DefaultOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c, err := m.DefineClass(nil, vm.ClassDef{
		Name:    "app/Main",
		Methods: []vm.MethodDef{{Name: "run", Descriptor: "()V", Modifiers: vm.AccStatic}},
	})
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}
	md := &vm.MethodMetadata{Method: c.FindMethod("run", "()V"), StartPC: 0x1000, EndPC: 0x2000, FrameSize: 2}
	if err := m.Code.Register(md); err != nil {
		t.Fatalf("Register: %v", err)
	}
	th := m.NewThread("main")
	th.EnterCompiledFrame(md, 0)
	ctx := context.Background()
	for i := 0; i < objects; i++ {
		if _, err := m.Trampoline.Invoke(ctx, th, 0x1010, vm.HelperNewObject, m.ObjectClass()); err != nil {
			t.Fatalf("new: %v", err)
		}
	}
	_, err = m.Trampoline.Invoke(ctx, th, 0x1010, vm.HelperMonitorExit, m.NewString("x"))
	var e *vm.Throwable
	if !errors.As(err, &e) {
		t.Fatalf("monitor exit: %v, want an exception", err)
	}
	return m.Profiler
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndReadBack(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	p := profiled(t, 5)

	started := time.Unix(1_700_000_000, 0)
	id, err := s.Record(ctx, Run{Label: "smoke", Started: started, Convention: "amd64", Threads: 1}, p)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("Record should assign a run ID")
	}

	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != id || runs[0].Label != "smoke" || !runs[0].Started.Equal(started) {
		t.Errorf("runs = %+v", runs)
	}

	got, err := s.Counters(ctx, id)
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	want := p.Snapshot()
	if len(got) != len(want) {
		t.Fatalf("counters = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("counters[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestTotalsAcrossRuns(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for _, n := range []int{3, 4} {
		if _, err := s.Record(ctx, Run{Label: "bench"}, profiled(t, n)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	totals, err := s.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	byHelper := make(map[vm.HelperID]Total)
	for _, tot := range totals {
		byHelper[tot.Helper] = tot
	}
	if got := byHelper[vm.HelperNewObject]; got.Runs != 2 || got.Calls != 7 {
		t.Errorf("newObject totals = %+v, want 2 runs and 7 calls", got)
	}
	if got := byHelper[vm.HelperMonitorExit]; got.SlowEntries != 2 {
		t.Errorf("monitorExit totals = %+v, want 2 slow entries", got)
	}
	for i := 1; i < len(totals); i++ {
		if totals[i].SlowEntries > totals[i-1].SlowEntries {
			t.Errorf("totals not ordered by slow entries: %+v", totals)
		}
	}
}

func TestUnknownRun(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if _, err := s.Counters(ctx, uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Counters err = %v, want ErrRunNotFound", err)
	}
	if err := s.Delete(ctx, uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Delete err = %v, want ErrRunNotFound", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id, err := s.Record(ctx, Run{Label: "gone"}, profiled(t, 1))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	totals, err := s.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if len(totals) != 0 {
		t.Errorf("totals = %+v after delete, want none", totals)
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := s.Record(context.Background(), Run{Label: "persist"}, profiled(t, 2))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	cs, err := s.Counters(context.Background(), id)
	if err != nil || len(cs) == 0 {
		t.Errorf("Counters after reopen = %v, %v", cs, err)
	}
}
