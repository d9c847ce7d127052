package vm

import "fmt"

// ArgLocation says where a helper argument lives.
type ArgLocation struct {
	Register bool
	// Index is the register number, or for stack arguments the distance
	// from the top of the argument area.
	Index int
}

// CallingConvention is the helper linkage of one architecture: which
// arguments travel in registers, which on the Java stack, and where the
// result goes. The host convention is chosen by build tags.
type CallingConvention interface {
	Name() string
	// ArgLocation returns the location of argument n (1-based) of a call
	// with count arguments.
	ArgLocation(n, count int) ArgLocation
	ReturnRegister() int
	RegisterName(r int) string
}

// HostConvention returns the convention of the architecture the runtime
// was built for.
func HostConvention() CallingConvention { return hostConvention() }

// ConventionByName returns a convention by name: "host", "amd64",
// "arm64" or "stack".
func ConventionByName(name string) (CallingConvention, error) {
	switch name {
	case "", "host":
		return HostConvention(), nil
	case "amd64":
		return AMD64Convention{}, nil
	case "arm64":
		return ARM64Convention{}, nil
	case "stack":
		return StackConvention{}, nil
	}
	return nil, fmt.Errorf("unknown calling convention %q", name)
}

// AMD64Convention passes the first four helper arguments in RAX, RSI,
// RDX and RCX and the rest on the stack. Results return in RAX.
type AMD64Convention struct{}

var amd64Registers = []string{"rax", "rsi", "rdx", "rcx"}

func (AMD64Convention) Name() string { return "amd64" }

func (AMD64Convention) ArgLocation(n, count int) ArgLocation {
	if n <= len(amd64Registers) {
		return ArgLocation{Register: true, Index: n - 1}
	}
	return ArgLocation{Index: count - n}
}

func (AMD64Convention) ReturnRegister() int { return 0 }

func (AMD64Convention) RegisterName(r int) string {
	if r < len(amd64Registers) {
		return amd64Registers[r]
	}
	return fmt.Sprintf("r%d", r)
}

// ARM64Convention passes up to eight arguments in x0-x7. Results return
// in x0.
type ARM64Convention struct{}

func (ARM64Convention) Name() string { return "arm64" }

func (ARM64Convention) ArgLocation(n, count int) ArgLocation {
	if n <= 8 {
		return ArgLocation{Register: true, Index: n - 1}
	}
	return ArgLocation{Index: count - n}
}

func (ARM64Convention) ReturnRegister() int { return 0 }

func (ARM64Convention) RegisterName(r int) string { return fmt.Sprintf("x%d", r) }

// StackConvention passes every argument on the Java stack, first argument
// deepest. It is used on architectures without a register linkage.
type StackConvention struct{}

func (StackConvention) Name() string { return "stack" }

func (StackConvention) ArgLocation(n, count int) ArgLocation {
	return ArgLocation{Index: count - n}
}

func (StackConvention) ReturnRegister() int { return 0 }

func (StackConvention) RegisterName(r int) string { return fmt.Sprintf("ret%d", r) }

// ---------------------------------------------------------------------------
// Argument marshalling
// ---------------------------------------------------------------------------

// marshal places a helper call's arguments according to the thread's
// convention. Stack arguments are pushed first-to-last, so argument 1 is
// deepest.
func (t *Thread) marshal(args []any) Args {
	for i, v := range args {
		loc := t.conv.ArgLocation(i+1, len(args))
		if loc.Register {
			t.regs[loc.Index] = v
		} else {
			t.push(v)
		}
	}
	return Args{t: t, count: len(args), base: t.sp}
}

// Args gives a helper typed access to its arguments wherever the
// convention put them. The stack area is addressed from the position it
// had at call time, so frames pushed later do not disturb it.
type Args struct {
	t     *Thread
	count int
	base  int
}

// Count returns the number of arguments.
func (a Args) Count() int { return a.count }

// At returns argument n (1-based).
func (a Args) At(n int) any {
	if n < 1 || n > a.count {
		panic(fmt.Sprintf("vm: helper argument %d of %d", n, a.count))
	}
	loc := a.t.conv.ArgLocation(n, a.count)
	if loc.Register {
		return a.t.regs[loc.Index]
	}
	return a.t.stack[a.base+loc.Index]
}

func argAs[T any](a Args, n int) T {
	v := a.At(n)
	if v == nil {
		var zero T
		return zero
	}
	r, ok := v.(T)
	if !ok {
		var want T
		panic(fmt.Sprintf("vm: helper argument %d is %T, want %T", n, v, want))
	}
	return r
}

func (a Args) Object(n int) *Object             { return argAs[*Object](a, n) }
func (a Args) Class(n int) *Class               { return argAs[*Class](a, n) }
func (a Args) Method(n int) *Method             { return argAs[*Method](a, n) }
func (a Args) Pool(n int) *ConstantPool         { return argAs[*ConstantPool](a, n) }
func (a Args) Slot(n int) *Slot                 { return argAs[*Slot](a, n) }
func (a Args) Int32(n int) int32                { return argAs[int32](a, n) }
func (a Args) Bool(n int) bool                  { return argAs[bool](a, n) }
func (a Args) Int(n int) int                    { return argAs[int](a, n) }
func (a Args) Int64(n int) int64                { return argAs[int64](a, n) }
func (a Args) Float64(n int) float64            { return argAs[float64](a, n) }
func (a Args) PC(n int) PC                      { return argAs[PC](a, n) }
func (a Args) Throwable(n int) *Throwable       { return argAs[*Throwable](a, n) }
func (a Args) Literals(n int) *CallSiteLiterals { return argAs[*CallSiteLiterals](a, n) }
func (a Args) InterfaceSite(n int) *InterfaceCallSite {
	return argAs[*InterfaceCallSite](a, n)
}
func (a Args) Offset(n int) ITableOffset         { return argAs[ITableOffset](a, n) }
func (a Args) PrimitiveType(n int) PrimitiveType { return argAs[PrimitiveType](a, n) }
func (a Args) Int32s(n int) []int32              { return argAs[[]int32](a, n) }
