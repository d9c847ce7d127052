// Package config handles jitrt.toml runtime configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/chazu/jitrt/vm"
)

// FileName is the name of the configuration file.
const FileName = "jitrt.toml"

var log = commonlog.GetLogger("jitrt.config")

//go:embed schema.cue
var schemaSource string

// ErrInvalid wraps every schema and consistency failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents a jitrt.toml file.
type Config struct {
	Runtime Runtime `toml:"runtime"`
	Heap    Heap    `toml:"heap"`
	Stack   Stack   `toml:"stack"`
	JIT     JIT     `toml:"jit"`
	Threads Threads `toml:"threads"`
	Log     Log     `toml:"log"`
	Stats   Stats   `toml:"stats"`

	// Path is the file the configuration was loaded from (set at load
	// time, empty for defaults).
	Path string `toml:"-"`
}

// Runtime configures language-level behavior.
type Runtime struct {
	JavaSpecVersion      int  `toml:"java-spec-version"`
	SingleThreadMode     bool `toml:"single-thread-mode"`
	ValueBasedExceptions bool `toml:"value-based-exceptions"`
}

// Heap configures the reference memory manager.
type Heap struct {
	Size         int64 `toml:"size"`
	TLHSize      int64 `toml:"tlh-size"`
	MonitorLimit int   `toml:"monitor-limit"`
	Generational bool  `toml:"generational"`
}

// Stack configures thread Java stacks, in slots.
type Stack struct {
	InitialSize  int `toml:"initial-size"`
	MaxSize      int `toml:"max-size"`
	Increment    int `toml:"increment"`
	OverflowSize int `toml:"overflow-size"`
}

// JIT configures the helper linkage.
type JIT struct {
	ScavengeOnResolve      bool   `toml:"scavenge-on-resolve"`
	RuntimeInstrumentation bool   `toml:"runtime-instrumentation"`
	CallingConvention      string `toml:"calling-convention"`
}

// Threads configures virtual threads.
type Threads struct {
	VirtualThreads bool `toml:"virtual-threads"`
	// Carriers is the number of carrier threads; 0 means one per CPU.
	Carriers int `toml:"carriers"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Stats configures persistence of helper counters.
type Stats struct {
	Database string `toml:"database"`
	Label    string `toml:"label"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	o := vm.DefaultOptions()
	return &Config{
		Runtime: Runtime{JavaSpecVersion: o.JavaSpecVersion},
		Heap: Heap{
			Size:         o.HeapSize,
			TLHSize:      o.TLHSize,
			MonitorLimit: o.MonitorLimit,
			Generational: o.Generational,
		},
		Stack: Stack{
			InitialSize:  o.StackSize,
			MaxSize:      o.MaxStackSize,
			Increment:    o.StackIncrement,
			OverflowSize: o.OverflowReserve,
		},
		JIT:     JIT{CallingConvention: "host"},
		Threads: Threads{VirtualThreads: o.VirtualThreads},
	}
}

// Parse decodes and validates a configuration document. Keys missing from
// the document keep their defaults.
func Parse(data []byte) (*Config, error) {
	raw := map[string]any{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := validate(raw); err != nil {
		return nil, err
	}
	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load parses a jitrt.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	return LoadFile(path)
}

// LoadFile parses the configuration file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	log.Infof("loaded %s", c.Path)
	return c, nil
}

// FindAndLoad walks up from startDir to find a jitrt.toml file, then
// loads and returns it. It returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			log.Debugf("no %s above %s, using defaults", FileName, startDir)
			return Default(), nil
		}
		dir = parent
	}
}

// validate checks the raw document against the embedded schema.
func validate(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	doc := ctx.Encode(raw)
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// check enforces constraints between fields.
func (c *Config) check() error {
	s := c.Stack
	switch {
	case s.MaxSize < s.InitialSize:
		return fmt.Errorf("%w: stack max-size %d below initial-size %d", ErrInvalid, s.MaxSize, s.InitialSize)
	case s.OverflowSize >= s.InitialSize:
		return fmt.Errorf("%w: stack overflow-size %d must be below initial-size %d", ErrInvalid, s.OverflowSize, s.InitialSize)
	case c.Heap.TLHSize > c.Heap.Size:
		return fmt.Errorf("%w: heap tlh-size %d exceeds size %d", ErrInvalid, c.Heap.TLHSize, c.Heap.Size)
	}
	if _, err := vm.ConventionByName(c.JIT.CallingConvention); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Options converts the configuration to VM options.
func (c *Config) Options() (vm.Options, error) {
	conv, err := vm.ConventionByName(c.JIT.CallingConvention)
	if err != nil {
		return vm.Options{}, err
	}
	carriers := c.Threads.Carriers
	if carriers == 0 {
		carriers = runtime.NumCPU()
	}
	return vm.Options{
		HeapSize:     c.Heap.Size,
		TLHSize:      c.Heap.TLHSize,
		MonitorLimit: c.Heap.MonitorLimit,
		Generational: c.Heap.Generational,

		StackSize:       c.Stack.InitialSize,
		MaxStackSize:    c.Stack.MaxSize,
		StackIncrement:  c.Stack.Increment,
		OverflowReserve: c.Stack.OverflowSize,

		ScavengeOnResolve:      c.JIT.ScavengeOnResolve,
		RuntimeInstrumentation: c.JIT.RuntimeInstrumentation,

		JavaSpecVersion:      c.Runtime.JavaSpecVersion,
		VirtualThreads:       c.Threads.VirtualThreads,
		Carriers:             carriers,
		SingleThreadMode:     c.Runtime.SingleThreadMode,
		ValueBasedExceptions: c.Runtime.ValueBasedExceptions,

		Convention: conv,
	}, nil
}

// ConfigureLogging applies the [log] section.
func (c *Config) ConfigureLogging() {
	var path *string
	if c.Log.File != "" {
		path = &c.Log.File
	}
	commonlog.Configure(c.Log.Verbosity, path)
}
