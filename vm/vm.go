package vm

import (
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("jitrt.vm")

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options configure a VM. Sizes of the Java stack are in slots.
type Options struct {
	HeapSize     int64
	TLHSize      int64
	MonitorLimit int
	Generational bool

	StackSize       int
	MaxStackSize    int
	StackIncrement  int
	OverflowReserve int

	ScavengeOnResolve      bool
	RuntimeInstrumentation bool

	JavaSpecVersion      int
	VirtualThreads       bool
	Carriers             int
	SingleThreadMode     bool
	ValueBasedExceptions bool

	// Convention is the helper calling convention; nil selects the host
	// convention.
	Convention CallingConvention
}

// DefaultOptions returns the options used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		HeapSize:     64 << 20,
		TLHSize:      8 << 10,
		MonitorLimit: 4096,
		Generational: true,

		StackSize:       1024,
		MaxStackSize:    64 << 10,
		StackIncrement:  1024,
		OverflowReserve: 64,

		JavaSpecVersion: 25,
		VirtualThreads:  true,
		Carriers:        runtime.NumCPU(),
	}
}

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// DefaultDecompileTrampoline is the PC deoptimized frames return to unless
// the VM is given another one. It lies outside every code cache range.
const DefaultDecompileTrampoline PC = 0xdec0_0000

// OSRHandler transfers the compiled frame under the top resolve frame to
// the interpreter, typically by calling Thread.DecompileTopFrame. A
// handler that cannot do so leaves the frame unchanged.
type OSRHandler func(t *Thread)

// VM is the runtime the helpers operate on. Its collaborators are public
// fields so embedders can replace the reference implementations.
type VM struct {
	opts Options

	Heap     MemoryManager
	Linker   Linker
	Code     *CodeCache
	Metadata MetadataTable
	Hooks    *Hooks
	Monitors *MonitorTable
	Profiler *Profiler
	Carriers *CarrierPool
	OSR      OSRHandler

	// Helpers is the helper table and Trampoline plays generated call
	// sites against it.
	Helpers    *HelperTable
	Trampoline *Trampoline

	// Fatal terminates the process on an unrecoverable condition.
	Fatal func(t *Thread, msg string)

	DecompileTrampoline PC

	bootLoader            *ClassLoader
	objectClass           *Class
	stringClass           *Class
	methodTypeClass       *Class
	methodHandleClass     *Class
	callSiteClass         *Class
	primitiveClasses      [TLong + 1]*Class
	primitiveArrayClasses [TLong + 1]*Class

	strings      sync.Map // string -> *Object
	serials      atomic.Uint32
	singleThread atomic.Bool
}

// New creates a VM with the reference collaborators and the bootstrap
// classes defined.
func New(opts Options) (*VM, error) {
	if opts.Convention == nil {
		opts.Convention = HostConvention()
	}
	if opts.Carriers < 1 {
		opts.Carriers = 1
	}
	vm := &VM{
		opts:                opts,
		Heap:                NewHeap(opts.HeapSize, opts.TLHSize, opts.Generational),
		Code:                NewCodeCache(),
		Hooks:               &Hooks{},
		Profiler:            NewProfiler(),
		Carriers:            NewCarrierPool(opts.Carriers),
		DecompileTrampoline: DefaultDecompileTrampoline,
		OSR:                 func(t *Thread) { t.DecompileTopFrame() },
		Fatal:               defaultFatal,
	}
	vm.Metadata = vm.Code
	vm.Linker = NewResolver(vm)
	vm.Monitors = NewMonitorTable(vm, opts.MonitorLimit)
	vm.Helpers = DefaultHelperTable()
	vm.Trampoline = NewTrampoline(vm)
	vm.singleThread.Store(opts.SingleThreadMode)
	vm.bootLoader = &ClassLoader{Name: "boot", vm: vm, isSystem: true, classes: make(map[string]*Class)}
	if err := vm.bootstrap(); err != nil {
		return nil, err
	}
	log.Infof("vm ready: convention %s, heap %d bytes, java %d", opts.Convention.Name(), opts.HeapSize, opts.JavaSpecVersion)
	return vm, nil
}

func defaultFatal(t *Thread, msg string) {
	log.Criticalf("fatal error on %s: %s", t, msg)
	os.Exit(1)
}

// Options returns the options the VM was created with.
func (vm *VM) Options() Options { return vm.opts }

// BootLoader returns the boot class loader.
func (vm *VM) BootLoader() *ClassLoader { return vm.bootLoader }

// ObjectClass returns java/lang/Object.
func (vm *VM) ObjectClass() *Class { return vm.objectClass }

// StringClass returns java/lang/String.
func (vm *VM) StringClass() *Class { return vm.stringClass }

// PrimitiveClass returns the class standing for primitive type p.
func (vm *VM) PrimitiveClass(p PrimitiveType) *Class { return vm.primitiveClasses[p] }

// PrimitiveArrayClass returns the one-dimensional array class of p.
func (vm *VM) PrimitiveArrayClass(p PrimitiveType) *Class { return vm.primitiveArrayClasses[p] }

// SingleThreadMode reports whether the VM is in checkpoint single-thread
// mode, in which blocking monitor operations are refused.
func (vm *VM) SingleThreadMode() bool { return vm.singleThread.Load() }

// SetSingleThreadMode enters or leaves single-thread mode.
func (vm *VM) SetSingleThreadMode(on bool) { vm.singleThread.Store(on) }

// Intern returns the canonical String object for s.
func (vm *VM) Intern(s string) *Object {
	if o, ok := vm.strings.Load(s); ok {
		return o.(*Object)
	}
	o, _ := vm.strings.LoadOrStore(s, vm.NewString(s))
	return o.(*Object)
}

// NewString creates a String object that is not interned.
func (vm *VM) NewString(s string) *Object {
	o := newObject(vm.stringClass, vm.stringClass.instanceSlots)
	o.payload = s
	return o
}

// NewObject allocates an instance outside compiled code, bypassing the
// collector. Tests and embedders use it to build fixtures.
func (vm *VM) NewObject(c *Class) *Object { return newObject(c, c.instanceSlots) }

// NewArray allocates an array outside compiled code.
func (vm *VM) NewArray(arrayClass *Class, length int32) *Object {
	return newArray(arrayClass, length)
}

// ArrayOf returns the array class whose component is c.
func (vm *VM) ArrayOf(c *Class) *Class { return vm.arrayClassOf(c) }

// ---------------------------------------------------------------------------
// Threads
// ---------------------------------------------------------------------------

// NewThread creates a platform thread.
func (vm *VM) NewThread(name string) *Thread {
	t := &Thread{
		ID:     uuid.New(),
		Name:   name,
		serial: vm.serials.Add(1),
		vm:     vm,
		stack:  make([]any, vm.opts.StackSize),
		conv:   vm.opts.Convention,
	}
	t.sp = len(t.stack)
	return t
}

// NewVirtualThread creates a virtual thread. It must be mounted on a
// carrier before running.
func (vm *VM) NewVirtualThread(name string) *Thread {
	t := vm.NewThread(name)
	t.Virtual = &VirtualThread{pool: vm.Carriers}
	return t
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

var primitiveNames = [...]string{
	TBoolean: "boolean", TChar: "char", TFloat: "float", TDouble: "double",
	TByte: "byte", TShort: "short", TInt: "int", TLong: "long",
}

var bootstrapClasses = []ClassDef{
	{
		Name:      "java/lang/Object",
		Modifiers: AccPublic,
		Methods: []MethodDef{
			{Name: "<init>", Descriptor: "()V", Modifiers: AccPublic},
			{Name: "hashCode", Descriptor: "()I", Modifiers: AccPublic | AccNative},
			{Name: "equals", Descriptor: "(Ljava/lang/Object;)Z", Modifiers: AccPublic},
			{Name: "toString", Descriptor: "()Ljava/lang/String;", Modifiers: AccPublic},
			{Name: "clone", Descriptor: "()Ljava/lang/Object;", Modifiers: AccProtected | AccNative},
			{Name: "finalize", Descriptor: "()V", Modifiers: AccProtected},
		},
		SourceFile: "Object.java",
	},
	{Name: "java/lang/Cloneable", Modifiers: AccPublic | AccInterface | AccAbstract},
	{Name: "java/io/Serializable", Modifiers: AccPublic | AccInterface | AccAbstract},
	{Name: "java/lang/CharSequence", Modifiers: AccPublic | AccInterface | AccAbstract,
		Methods: []MethodDef{{Name: "length", Descriptor: "()I", Modifiers: AccPublic | AccAbstract}}},
	{
		Name:       "java/lang/String",
		Modifiers:  AccPublic | AccFinal,
		Interfaces: []string{"java/io/Serializable", "java/lang/CharSequence"},
		Fields:     []FieldDef{{Name: "value", Descriptor: "[B", Modifiers: AccPrivate | AccFinal}},
		Methods:    []MethodDef{{Name: "length", Descriptor: "()I", Modifiers: AccPublic}},
		SourceFile: "String.java",
	},
	{Name: "java/lang/Number", Modifiers: AccPublic | AccAbstract, Interfaces: []string{"java/io/Serializable"}},
	{
		Name:       "java/lang/Integer",
		Super:      "java/lang/Number",
		Modifiers:  AccPublic | AccFinal,
		Flags:      ClassValueBased,
		Fields:     []FieldDef{{Name: "value", Descriptor: "I", Modifiers: AccPrivate | AccFinal}},
		SourceFile: "Integer.java",
	},
	{Name: "java/lang/invoke/MethodType", Modifiers: AccPublic | AccFinal},
	{Name: "java/lang/invoke/MethodHandle", Modifiers: AccPublic | AccAbstract},
	{Name: "java/lang/invoke/CallSite", Modifiers: AccPublic | AccAbstract},
}

func (vm *VM) bootstrap() error {
	for _, def := range bootstrapClasses {
		c, err := vm.DefineClass(vm.bootLoader, def)
		if err != nil {
			return err
		}
		switch c.Name {
		case "java/lang/Object":
			vm.objectClass = c
		case "java/lang/String":
			vm.stringClass = c
		case "java/lang/invoke/MethodType":
			vm.methodTypeClass = c
		case "java/lang/invoke/MethodHandle":
			vm.methodHandleClass = c
		case "java/lang/invoke/CallSite":
			vm.callSiteClass = c
		}
	}
	for p := TBoolean; p <= TLong; p++ {
		vm.primitiveClasses[p] = vm.definePrimitive(primitiveNames[p], p)
		vm.primitiveArrayClasses[p] = vm.arrayClassOf(vm.primitiveClasses[p])
	}
	return nil
}

// NewCallSite creates a call-site object bound to target. Bootstrap
// functions of invokedynamic sites return one.
func (vm *VM) NewCallSite(target any) *Object {
	cs := newObject(vm.callSiteClass, 0)
	cs.payload = target
	return cs
}
