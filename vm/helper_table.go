package vm

import (
	"fmt"
	"iter"
)

// HelperID names one runtime helper. The code generator emits calls by
// HelperID; the HelperTable maps each ID to its implementation.
type HelperID uint16

const (
	HelperNone HelperID = iota

	// Allocation
	HelperNewObject
	HelperNewObjectNoZeroInit
	HelperNewValue
	HelperNewValueNoZeroInit
	HelperANewArray
	HelperANewArrayNoZeroInit
	HelperNewArray
	HelperNewArrayNoZeroInit
	HelperAMultiNewArray

	// Type checks and dispatch
	HelperCheckCast
	HelperCheckCastForArrayStore
	HelperInstanceOf
	HelperCheckAssignable
	HelperTypeCheckArrayStore
	HelperTypeCheckArrayStoreWithNullCheck
	HelperArrayStoreChecked
	HelperLookupInterfaceMethod
	HelperLookupDynamicPublicInterfaceMethod
	HelperAcmpeq
	HelperAcmpne

	// Monitors
	HelperMonitorEntry
	HelperMethodMonitorEntry
	HelperMonitorExit
	HelperMethodMonitorExit
	HelperMethodIsNative
	HelperMethodIsSync

	// Constant-pool resolution
	HelperResolveClass
	HelperResolveClassFromStaticField
	HelperResolveString
	HelperResolveField
	HelperResolveFieldSetter
	HelperResolveStaticField
	HelperResolveStaticFieldSetter
	HelperResolveFieldDirect
	HelperResolveFieldSetterDirect
	HelperResolveStaticFieldDirect
	HelperResolveStaticFieldSetterDirect
	HelperResolveInterfaceMethod
	HelperResolveSpecialMethod
	HelperResolveStaticMethod
	HelperResolveVirtualMethod
	HelperResolveMethodType
	HelperResolveMethodHandle
	HelperResolveInvokeDynamic
	HelperResolveConstantDynamic
	HelperResolvedFieldIsVolatile

	// Exceptions
	HelperThrowCurrentException
	HelperThrowException
	HelperThrowUnreportedException
	HelperThrowAbstractMethodError
	HelperThrowArithmeticException
	HelperThrowArrayIndexOutOfBounds
	HelperThrowArrayStoreException
	HelperThrowArrayStoreExceptionWithIP
	HelperThrowExceptionInInitializerError
	HelperThrowIllegalAccessError
	HelperThrowIncompatibleClassChangeError
	HelperThrowInstantiationException
	HelperThrowNullPointerException
	HelperThrowWrongMethodTypeException
	HelperThrowIdentityException
	HelperThrowIncompatibleReceiver
	HelperHandleArrayIndexOutOfBoundsTrap
	HelperHandleIntegerDivideByZeroTrap
	HelperHandleNullPointerExceptionTrap
	HelperHandleInternalErrorTrap

	// Barriers and miscellany
	HelperWriteBarrierStore
	HelperWriteBarrierStoreGenerational
	HelperWriteBarrierStoreGenerationalAndConcurrentMark
	HelperWriteBarrierBatchStore
	HelperWriteBarrierBatchStoreWithRange
	HelperWriteBarrierClassStore
	HelperWriteBarrierClassBatchStore
	HelperWriteBarrierStoreSATB
	HelperWriteBarrierClassStoreSATB
	HelperObjectHashCode
	HelperVolatileReadLong
	HelperVolatileWriteLong
	HelperVolatileReadDouble
	HelperVolatileWriteDouble
	HelperReportMethodEnter
	HelperReportStaticMethodEnter
	HelperReportMethodExit
	HelperStackOverflow
	HelperCheckAsyncMessages
	HelperInduceOSRAtCurrentPC

	numHelpers
)

// helperNames is kept apart from the entries so that String never
// depends on the helper functions themselves.
var helperNames = [numHelpers]string{
	HelperNone: "none",

	HelperNewObject:           "newObject",
	HelperNewObjectNoZeroInit: "newObjectNoZeroInit",
	HelperNewValue:            "newValue",
	HelperNewValueNoZeroInit:  "newValueNoZeroInit",
	HelperANewArray:           "aNewArray",
	HelperANewArrayNoZeroInit: "aNewArrayNoZeroInit",
	HelperNewArray:            "newArray",
	HelperNewArrayNoZeroInit:  "newArrayNoZeroInit",
	HelperAMultiNewArray:      "aMultiNewArray",

	HelperCheckCast:                          "checkCast",
	HelperCheckCastForArrayStore:             "checkCastForArrayStore",
	HelperInstanceOf:                         "instanceOf",
	HelperCheckAssignable:                    "checkAssignable",
	HelperTypeCheckArrayStore:                "typeCheckArrayStore",
	HelperTypeCheckArrayStoreWithNullCheck:   "typeCheckArrayStoreWithNullCheck",
	HelperArrayStoreChecked:                  "arrayStoreChecked",
	HelperLookupInterfaceMethod:              "lookupInterfaceMethod",
	HelperLookupDynamicPublicInterfaceMethod: "lookupDynamicPublicInterfaceMethod",
	HelperAcmpeq:                             "acmpeq",
	HelperAcmpne:                             "acmpne",

	HelperMonitorEntry:       "monitorEntry",
	HelperMethodMonitorEntry: "methodMonitorEntry",
	HelperMonitorExit:        "monitorExit",
	HelperMethodMonitorExit:  "methodMonitorExit",
	HelperMethodIsNative:     "methodIsNative",
	HelperMethodIsSync:       "methodIsSync",

	HelperResolveClass:                   "resolveClass",
	HelperResolveClassFromStaticField:    "resolveClassFromStaticField",
	HelperResolveString:                  "resolveString",
	HelperResolveField:                   "resolveField",
	HelperResolveFieldSetter:             "resolveFieldSetter",
	HelperResolveStaticField:             "resolveStaticField",
	HelperResolveStaticFieldSetter:       "resolveStaticFieldSetter",
	HelperResolveFieldDirect:             "resolveFieldDirect",
	HelperResolveFieldSetterDirect:       "resolveFieldSetterDirect",
	HelperResolveStaticFieldDirect:       "resolveStaticFieldDirect",
	HelperResolveStaticFieldSetterDirect: "resolveStaticFieldSetterDirect",
	HelperResolveInterfaceMethod:         "resolveInterfaceMethod",
	HelperResolveSpecialMethod:           "resolveSpecialMethod",
	HelperResolveStaticMethod:            "resolveStaticMethod",
	HelperResolveVirtualMethod:           "resolveVirtualMethod",
	HelperResolveMethodType:              "resolveMethodType",
	HelperResolveMethodHandle:            "resolveMethodHandle",
	HelperResolveInvokeDynamic:           "resolveInvokeDynamic",
	HelperResolveConstantDynamic:         "resolveConstantDynamic",
	HelperResolvedFieldIsVolatile:        "resolvedFieldIsVolatile",

	HelperThrowCurrentException:             "throwCurrentException",
	HelperThrowException:                    "throwException",
	HelperThrowUnreportedException:          "throwUnreportedException",
	HelperThrowAbstractMethodError:          "throwAbstractMethodError",
	HelperThrowArithmeticException:          "throwArithmeticException",
	HelperThrowArrayIndexOutOfBounds:        "throwArrayIndexOutOfBounds",
	HelperThrowArrayStoreException:          "throwArrayStoreException",
	HelperThrowArrayStoreExceptionWithIP:    "throwArrayStoreExceptionWithIP",
	HelperThrowExceptionInInitializerError:  "throwExceptionInInitializerError",
	HelperThrowIllegalAccessError:           "throwIllegalAccessError",
	HelperThrowIncompatibleClassChangeError: "throwIncompatibleClassChangeError",
	HelperThrowInstantiationException:       "throwInstantiationException",
	HelperThrowNullPointerException:         "throwNullPointerException",
	HelperThrowWrongMethodTypeException:     "throwWrongMethodTypeException",
	HelperThrowIdentityException:            "throwIdentityException",
	HelperThrowIncompatibleReceiver:         "throwIncompatibleReceiver",
	HelperHandleArrayIndexOutOfBoundsTrap:   "handleArrayIndexOutOfBoundsTrap",
	HelperHandleIntegerDivideByZeroTrap:     "handleIntegerDivideByZeroTrap",
	HelperHandleNullPointerExceptionTrap:    "handleNullPointerExceptionTrap",
	HelperHandleInternalErrorTrap:           "handleInternalErrorTrap",

	HelperWriteBarrierStore:                              "writeBarrierStore",
	HelperWriteBarrierStoreGenerational:                  "writeBarrierStoreGenerational",
	HelperWriteBarrierStoreGenerationalAndConcurrentMark: "writeBarrierStoreGenerationalAndConcurrentMark",
	HelperWriteBarrierBatchStore:                         "writeBarrierBatchStore",
	HelperWriteBarrierBatchStoreWithRange:                "writeBarrierBatchStoreWithRange",
	HelperWriteBarrierClassStore:                         "writeBarrierClassStore",
	HelperWriteBarrierClassBatchStore:                    "writeBarrierClassBatchStore",
	HelperWriteBarrierStoreSATB:                          "writeBarrierStoreSATB",
	HelperWriteBarrierClassStoreSATB:                     "writeBarrierClassStoreSATB",
	HelperObjectHashCode:                                 "objectHashCode",
	HelperVolatileReadLong:                               "volatileReadLong",
	HelperVolatileWriteLong:                              "volatileWriteLong",
	HelperVolatileReadDouble:                             "volatileReadDouble",
	HelperVolatileWriteDouble:                            "volatileWriteDouble",
	HelperReportMethodEnter:                              "reportMethodEnter",
	HelperReportStaticMethodEnter:                        "reportStaticMethodEnter",
	HelperReportMethodExit:                               "reportMethodExit",
	HelperStackOverflow:                                  "stackOverflow",
	HelperCheckAsyncMessages:                             "checkAsyncMessages",
	HelperInduceOSRAtCurrentPC:                           "induceOSRAtCurrentPC",
}

func (id HelperID) String() string {
	if id < numHelpers && helperNames[id] != "" {
		return helperNames[id]
	}
	return fmt.Sprintf("helper(%d)", uint16(id))
}

// HelperByName returns the ID of a named helper.
func HelperByName(name string) (HelperID, bool) {
	for id := HelperID(1); id < numHelpers; id++ {
		if helperNames[id] == name {
			return id, true
		}
	}
	return HelperNone, false
}

// FastPath is the inline part of a helper. It must not suspend, allocate
// from the collector, throw or build frames. It returns true when the
// operation completed, with any result already in the return register.
// On false it has stashed a SlowPathRequest for the paired slow path,
// unless the slow path needs nothing beyond the helper arguments.
type FastPath func(t *Thread, a Args) bool

// SlowPath is the out-of-line part of a helper. It may suspend, allocate,
// throw or deoptimize, and reports how execution continues.
type SlowPath func(t *Thread, a Args) Action

// HelperEntry is one row of the helper table. Helpers with only a Slow
// function go straight to it; helpers with only a Fast function never
// fail.
type HelperEntry struct {
	Name      string
	ParmCount int
	Fast      FastPath
	Slow      SlowPath
}

// HelperTable maps every HelperID to its entry.
type HelperTable struct {
	entries [numHelpers]HelperEntry
}

// DefaultHelperTable returns the table of the reference helpers. It
// panics if the built-in set is incomplete.
func DefaultHelperTable() *HelperTable {
	ht := &HelperTable{entries: defaultHelpers}
	for id := range ht.entries {
		ht.entries[id].Name = helperNames[id]
	}
	if err := ht.Validate(); err != nil {
		panic(err)
	}
	return ht
}

// Validate checks that every helper ID has a named entry with at least one
// path.
func (ht *HelperTable) Validate() error {
	for id := HelperID(1); id < numHelpers; id++ {
		e := &ht.entries[id]
		switch {
		case e.Name == "":
			return fmt.Errorf("helper table: entry %d has no name", id)
		case e.Fast == nil && e.Slow == nil:
			return fmt.Errorf("helper table: %s has neither a fast nor a slow path", e.Name)
		case e.ParmCount < 0:
			return fmt.Errorf("helper table: %s has parameter count %d", e.Name, e.ParmCount)
		}
	}
	return nil
}

// Entry returns the entry of id.
func (ht *HelperTable) Entry(id HelperID) *HelperEntry {
	if id == HelperNone || id >= numHelpers {
		panic(fmt.Sprintf("vm: no helper %d", id))
	}
	return &ht.entries[id]
}

// Replace installs a different implementation for id. The parameter count
// cannot change; generated call sites depend on it.
func (ht *HelperTable) Replace(id HelperID, fast FastPath, slow SlowPath) error {
	e := ht.Entry(id)
	if fast == nil && slow == nil {
		return fmt.Errorf("helper table: replacing %s with no implementation", e.Name)
	}
	e.Fast, e.Slow = fast, slow
	return nil
}

// All yields every entry in HelperID order.
func (ht *HelperTable) All() iter.Seq2[HelperID, *HelperEntry] {
	return func(yield func(HelperID, *HelperEntry) bool) {
		for id := HelperID(1); id < numHelpers; id++ {
			if !yield(id, &ht.entries[id]) {
				return
			}
		}
	}
}

var defaultHelpers = [numHelpers]HelperEntry{
	HelperNewObject:           {ParmCount: 1, Fast: fastNewObject, Slow: slowNewObject},
	HelperNewObjectNoZeroInit: {ParmCount: 1, Fast: fastNewObjectNoZeroInit, Slow: slowNewObjectNoZeroInit},
	HelperNewValue:            {ParmCount: 1, Fast: fastNewValue, Slow: slowNewValue},
	HelperNewValueNoZeroInit:  {ParmCount: 1, Fast: fastNewValueNoZeroInit, Slow: slowNewValueNoZeroInit},
	HelperANewArray:           {ParmCount: 2, Fast: fastANewArray, Slow: slowANewArray},
	HelperANewArrayNoZeroInit: {ParmCount: 2, Fast: fastANewArrayNoZeroInit, Slow: slowANewArrayNoZeroInit},
	HelperNewArray:            {ParmCount: 2, Fast: fastNewArray, Slow: slowNewArray},
	HelperNewArrayNoZeroInit:  {ParmCount: 2, Fast: fastNewArrayNoZeroInit, Slow: slowNewArrayNoZeroInit},
	HelperAMultiNewArray:      {ParmCount: 3, Slow: slowAMultiNewArray},

	HelperCheckCast:                          {ParmCount: 2, Fast: fastCheckCast, Slow: slowCheckCast},
	HelperCheckCastForArrayStore:             {ParmCount: 2, Fast: fastCheckCastForArrayStore, Slow: slowCheckCastForArrayStore},
	HelperInstanceOf:                         {ParmCount: 2, Fast: fastInstanceOf},
	HelperCheckAssignable:                    {ParmCount: 2, Fast: fastCheckAssignable},
	HelperTypeCheckArrayStore:                {ParmCount: 2, Fast: fastTypeCheckArrayStore, Slow: slowTypeCheckArrayStore},
	HelperTypeCheckArrayStoreWithNullCheck:   {ParmCount: 2, Fast: fastTypeCheckArrayStoreWithNullCheck, Slow: slowTypeCheckArrayStore},
	HelperArrayStoreChecked:                  {ParmCount: 3, Fast: fastArrayStoreChecked, Slow: slowArrayStoreChecked},
	HelperLookupInterfaceMethod:              {ParmCount: 3, Fast: fastLookupInterfaceMethod, Slow: slowLookupInterfaceMethod},
	HelperLookupDynamicPublicInterfaceMethod: {ParmCount: 2, Fast: fastLookupDynamicPublicInterfaceMethod, Slow: slowLookupDynamicPublicInterfaceMethod},
	HelperAcmpeq:                             {ParmCount: 2, Fast: fastAcmpeq},
	HelperAcmpne:                             {ParmCount: 2, Fast: fastAcmpne},

	HelperMonitorEntry:       {ParmCount: 1, Fast: fastMonitorEntry, Slow: slowMonitorEntry},
	HelperMethodMonitorEntry: {ParmCount: 1, Fast: fastMethodMonitorEntry, Slow: slowMethodMonitorEntry},
	HelperMonitorExit:        {ParmCount: 1, Fast: fastMonitorExit, Slow: slowMonitorExit},
	HelperMethodMonitorExit:  {ParmCount: 1, Fast: fastMethodMonitorExit, Slow: slowMethodMonitorExit},
	HelperMethodIsNative:     {ParmCount: 1, Fast: fastMethodIsNative},
	HelperMethodIsSync:       {ParmCount: 1, Fast: fastMethodIsSync},

	HelperResolveClass:                   {ParmCount: 3, Slow: slowResolveClass},
	HelperResolveClassFromStaticField:    {ParmCount: 3, Slow: slowResolveClassFromStaticField},
	HelperResolveString:                  {ParmCount: 3, Slow: slowResolveString},
	HelperResolveField:                   {ParmCount: 3, Slow: slowResolveField},
	HelperResolveFieldSetter:             {ParmCount: 3, Slow: slowResolveFieldSetter},
	HelperResolveStaticField:             {ParmCount: 3, Slow: slowResolveStaticField},
	HelperResolveStaticFieldSetter:       {ParmCount: 3, Slow: slowResolveStaticFieldSetter},
	HelperResolveFieldDirect:             {ParmCount: 2, Slow: slowResolveFieldDirect},
	HelperResolveFieldSetterDirect:       {ParmCount: 2, Slow: slowResolveFieldSetterDirect},
	HelperResolveStaticFieldDirect:       {ParmCount: 2, Slow: slowResolveStaticFieldDirect},
	HelperResolveStaticFieldSetterDirect: {ParmCount: 2, Slow: slowResolveStaticFieldSetterDirect},
	HelperResolveInterfaceMethod:         {ParmCount: 2, Slow: slowResolveInterfaceMethod},
	HelperResolveSpecialMethod:           {ParmCount: 3, Slow: slowResolveSpecialMethod},
	HelperResolveStaticMethod:            {ParmCount: 3, Slow: slowResolveStaticMethod},
	HelperResolveVirtualMethod:           {ParmCount: 2, Slow: slowResolveVirtualMethod},
	HelperResolveMethodType:              {ParmCount: 3, Slow: slowResolveMethodType},
	HelperResolveMethodHandle:            {ParmCount: 3, Slow: slowResolveMethodHandle},
	HelperResolveInvokeDynamic:           {ParmCount: 3, Slow: slowResolveInvokeDynamic},
	HelperResolveConstantDynamic:         {ParmCount: 3, Slow: slowResolveConstantDynamic},
	HelperResolvedFieldIsVolatile:        {ParmCount: 3, Fast: fastResolvedFieldIsVolatile},

	HelperThrowCurrentException:             {Slow: slowThrowCurrentException},
	HelperThrowException:                    {ParmCount: 1, Slow: slowThrowException},
	HelperThrowUnreportedException:          {ParmCount: 1, Slow: slowThrowUnreportedException},
	HelperThrowAbstractMethodError:          {Slow: runtimeCheckThrow(KindAbstractMethodError, MsgNone)},
	HelperThrowArithmeticException:          {Slow: runtimeCheckThrow(KindArithmeticException, MsgDivideByZero)},
	HelperThrowArrayIndexOutOfBounds:        {Slow: runtimeCheckThrow(KindArrayIndexOutOfBoundsException, MsgNone)},
	HelperThrowArrayStoreException:          {Slow: runtimeCheckThrow(KindArrayStoreException, MsgNone)},
	HelperThrowArrayStoreExceptionWithIP:    {ParmCount: 1, Slow: slowThrowArrayStoreExceptionWithIP},
	HelperThrowExceptionInInitializerError:  {Slow: runtimeCheckThrow(KindExceptionInInitializerError, MsgNone)},
	HelperThrowIllegalAccessError:           {Slow: runtimeCheckThrow(KindIllegalAccessError, MsgNone)},
	HelperThrowIncompatibleClassChangeError: {Slow: runtimeCheckThrow(KindIncompatibleClassChangeError, MsgNone)},
	HelperThrowInstantiationException:       {Slow: runtimeCheckThrow(KindInstantiationException, MsgNone)},
	HelperThrowNullPointerException:         {Slow: runtimeCheckThrow(KindNullPointerException, MsgNone)},
	HelperThrowWrongMethodTypeException:     {Slow: runtimeCheckThrow(KindWrongMethodTypeException, MsgNone)},
	HelperThrowIdentityException:            {Slow: runtimeCheckThrow(KindIdentityException, MsgNone)},
	HelperThrowIncompatibleReceiver:         {ParmCount: 2, Slow: slowThrowIncompatibleReceiver},
	HelperHandleArrayIndexOutOfBoundsTrap:   {Slow: trapHandler(KindArrayIndexOutOfBoundsException, "")},
	HelperHandleIntegerDivideByZeroTrap:     {Slow: trapHandler(KindArithmeticException, MsgDivideByZero.Text())},
	HelperHandleNullPointerExceptionTrap:    {Slow: trapHandler(KindNullPointerException, "")},
	HelperHandleInternalErrorTrap:           {Slow: trapHandler(KindInternalError, "SIGBUS")},

	HelperWriteBarrierStore:                              {ParmCount: 2, Fast: fastWriteBarrierStore},
	HelperWriteBarrierStoreGenerational:                  {ParmCount: 2, Fast: fastWriteBarrierStore},
	HelperWriteBarrierStoreGenerationalAndConcurrentMark: {ParmCount: 2, Fast: fastWriteBarrierStore},
	HelperWriteBarrierBatchStore:                         {ParmCount: 1, Fast: fastWriteBarrierBatchStore},
	HelperWriteBarrierBatchStoreWithRange:                {ParmCount: 3, Fast: fastWriteBarrierBatchStore},
	HelperWriteBarrierClassStore:                         {ParmCount: 2, Fast: fastWriteBarrierClassStore},
	HelperWriteBarrierClassBatchStore:                    {ParmCount: 1, Fast: fastWriteBarrierClassBatchStore},
	HelperWriteBarrierStoreSATB:                          {ParmCount: 3, Fast: fastWriteBarrierStoreSATB},
	HelperWriteBarrierClassStoreSATB:                     {ParmCount: 3, Fast: fastWriteBarrierClassStoreSATB},
	HelperObjectHashCode:                                 {ParmCount: 1, Fast: fastObjectHashCode},
	HelperVolatileReadLong:                               {ParmCount: 1, Fast: fastVolatileReadLong},
	HelperVolatileWriteLong:                              {ParmCount: 2, Fast: fastVolatileWriteLong},
	HelperVolatileReadDouble:                             {ParmCount: 1, Fast: fastVolatileReadDouble},
	HelperVolatileWriteDouble:                            {ParmCount: 2, Fast: fastVolatileWriteDouble},
	HelperReportMethodEnter:                              {ParmCount: 2, Slow: slowReportMethodEnter},
	HelperReportStaticMethodEnter:                        {ParmCount: 1, Slow: slowReportStaticMethodEnter},
	HelperReportMethodExit:                               {ParmCount: 2, Slow: slowReportMethodExit},
	HelperStackOverflow:                                  {Slow: slowStackOverflow},
	HelperCheckAsyncMessages:                             {Slow: slowCheckAsyncMessages},
	HelperInduceOSRAtCurrentPC:                           {Slow: slowInduceOSRAtCurrentPC},
}
