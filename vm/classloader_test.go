package vm

import (
	"slices"
	"testing"
)

func TestClassLoaderDelegation(t *testing.T) {
	f := newFixture(t)
	app := f.vm.NewClassLoader("app", nil)
	a, err := f.vm.DefineClass(app, ClassDef{Name: "plugin/A", Modifiers: AccPublic})
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}

	if c := app.FindClass("java/lang/String"); c != f.vm.StringClass() {
		t.Errorf("app loader found %v for java/lang/String, want the boot class", c)
	}
	if c := app.FindClass("plugin/A"); c != a {
		t.Errorf("FindClass(plugin/A) = %v, want %v", c, a)
	}
	if c := f.vm.BootLoader().FindClass("plugin/A"); c != nil {
		t.Errorf("boot loader should not see plugin/A, found %v", c)
	}
	if _, err := f.vm.DefineClass(app, ClassDef{Name: "plugin/A"}); err == nil {
		t.Error("defining plugin/A twice should fail")
	}
	if _, err := f.vm.DefineClass(app, ClassDef{Name: "java/lang/String"}); err == nil {
		t.Error("shadowing a parent class should fail")
	}
}

func TestClassesDefinitionOrder(t *testing.T) {
	f := newFixture(t)
	app := f.vm.NewClassLoader("app", nil)
	for _, name := range []string{"plugin/C", "plugin/A", "plugin/B"} {
		if _, err := f.vm.DefineClass(app, ClassDef{Name: name}); err != nil {
			t.Fatalf("DefineClass %s: %v", name, err)
		}
	}
	var names []string
	for c := range app.Classes() {
		names = append(names, c.Name)
	}
	if want := []string{"plugin/C", "plugin/A", "plugin/B"}; !slices.Equal(names, want) {
		t.Errorf("Classes = %v, want %v", names, want)
	}
}

func TestSystemLoaderYieldsPrimitiveArrays(t *testing.T) {
	f := newFixture(t)
	f.vm.ArrayOf(f.vm.ArrayOf(f.vm.PrimitiveArrayClass(TInt)))
	f.vm.ArrayOf(f.vm.StringClass())

	var names []string
	for c := range f.vm.BootLoader().Classes() {
		names = append(names, c.Name)
	}
	if len(names) == 0 || names[0] != "java/lang/Object" {
		t.Fatalf("Classes should start with java/lang/Object, got %v", names)
	}
	want := []string{"[Z", "[C", "[F", "[D", "[B", "[S", "[I", "[[I", "[[[I", "[J"}
	if len(names) < len(want) || !slices.Equal(names[len(names)-len(want):], want) {
		t.Errorf("Classes ends with %v, want %v", names, want)
	}
	for _, name := range []string{"[[I", "[Ljava/lang/String;", "app/Main"} {
		if n := countOf(names, name); n != 1 {
			t.Errorf("%s yielded %d times, want once", name, n)
		}
	}
}

func TestClassesStopsEarly(t *testing.T) {
	f := newFixture(t)
	var n int
	for range f.vm.BootLoader().Classes() {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("iterated %d classes, want 3", n)
	}

	empty := f.vm.NewClassLoader("empty", nil)
	for c := range empty.Classes() {
		t.Errorf("empty loader yielded %v", c)
	}
}

func countOf(names []string, name string) int {
	var n int
	for _, s := range names {
		if s == name {
			n++
		}
	}
	return n
}
