package vm

// VTable holds the virtual dispatch table for a class.
//
// Methods are stored in an array indexed by vTable slot, giving compiled
// code O(1) dispatch once a call site knows its slot. Slot 0 is reserved:
// an index of 0 means "no mapping" to the interface dispatch helpers.
// A subclass table starts as a copy of its superclass table, so inherited
// methods keep their slot numbers.
type VTable struct {
	class   *Class
	methods []*Method
}

// newVTable creates the table for class, inheriting parent's slots.
func newVTable(class *Class, parent *VTable) *VTable {
	vt := &VTable{class: class}
	if parent != nil {
		vt.methods = make([]*Method, len(parent.methods))
		copy(vt.methods, parent.methods)
	} else {
		vt.methods = make([]*Method, 1)
	}
	return vt
}

// Lookup returns the method in a vTable slot, or nil if the slot is out of
// range or empty.
func (vt *VTable) Lookup(index int) *Method {
	if index > 0 && index < len(vt.methods) {
		return vt.methods[index]
	}
	return nil
}

// AddMethod places method in the table. An overriding method reuses the
// slot of the method it overrides; otherwise the table grows by one.
// Returns the slot assigned.
func (vt *VTable) AddMethod(method *Method) int {
	if i := vt.indexOf(method.Name, method.Descriptor); i > 0 {
		vt.methods[i] = method
		return i
	}
	vt.methods = append(vt.methods, method)
	return len(vt.methods) - 1
}

// addIfMissing adds an inherited default method unless a slot for the same
// signature exists already.
func (vt *VTable) addIfMissing(method *Method) int {
	if i := vt.indexOf(method.Name, method.Descriptor); i > 0 {
		return i
	}
	vt.methods = append(vt.methods, method)
	return len(vt.methods) - 1
}

func (vt *VTable) indexOf(name, descriptor string) int {
	for i := 1; i < len(vt.methods); i++ {
		if m := vt.methods[i]; m != nil && m.Name == name && m.Descriptor == descriptor {
			return i
		}
	}
	return 0
}

// Class returns the class this vtable belongs to.
func (vt *VTable) Class() *Class {
	return vt.class
}

// Len returns the number of slots, including the reserved slot 0.
func (vt *VTable) Len() int {
	return len(vt.methods)
}
