package vm

import (
	"fmt"
	"iter"
	"sync"
)

// ClassLoader is a defining class loader. Lookups delegate to the parent
// first, the way the standard loaders do.
type ClassLoader struct {
	Name   string
	Parent *ClassLoader

	vm       *VM
	isSystem bool

	mu      sync.RWMutex
	classes map[string]*Class
	order   []*Class
}

// NewClassLoader creates a loader delegating to parent. A nil parent
// delegates to the boot loader.
func (vm *VM) NewClassLoader(name string, parent *ClassLoader) *ClassLoader {
	if parent == nil {
		parent = vm.bootLoader
	}
	return &ClassLoader{Name: name, Parent: parent, vm: vm, classes: make(map[string]*Class)}
}

// FindClass returns the class named name visible from l, or nil.
func (l *ClassLoader) FindClass(name string) *Class {
	if l.Parent != nil {
		if c := l.Parent.FindClass(name); c != nil {
			return c
		}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.classes[name]
}

func (l *ClassLoader) add(c *Class) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.classes[c.Name]; ok {
		return fmt.Errorf("loader %s already defines %s", l.Name, c.Name)
	}
	l.classes[c.Name] = c
	l.order = append(l.order, c)
	return nil
}

// classIterState is the position of a Classes iteration.
type classIterState uint8

const (
	iterTable classIterState = iota
	iterArrays
	iterArrayList
	iterDone
)

// Classes iterates the classes defined by l in definition order. For the
// system loader the primitive array classes follow, each primitive array
// class trailed by its higher-dimension array classes.
func (l *ClassLoader) Classes() iter.Seq[*Class] {
	return func(yield func(*Class) bool) {
		l.mu.RLock()
		table := append([]*Class(nil), l.order...)
		l.mu.RUnlock()

		state := iterTable
		if len(table) == 0 {
			state = iterArrays
		}
		var (
			tableIndex int
			primitive  = TBoolean
			current    *Class
		)
		for state != iterDone {
			switch state {
			case iterTable:
				if !yield(table[tableIndex]) {
					return
				}
				tableIndex++
				if tableIndex == len(table) {
					state = iterArrays
				}
			case iterArrays:
				if !l.isSystem || primitive > TLong {
					state = iterDone
					continue
				}
				current = l.vm.primitiveArrayClasses[primitive]
				primitive++
				if current == nil {
					continue
				}
				if !yield(current) {
					return
				}
				state = iterArrayList
			case iterArrayList:
				current = current.ArrayClass()
				if current == nil {
					state = iterArrays
					continue
				}
				if !yield(current) {
					return
				}
			}
		}
	}
}
