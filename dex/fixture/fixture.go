// Package fixture builds a small, self-contained program — a class
// hierarchy plus a handful of hand-assembled methods — for cmd/typecore
// to drive end to end without a real DEX parser. Together the methods
// give the checker and resolver something concrete to check, resolve,
// devirtualize, desuperify and specialize.
package fixture

import (
	"github.com/dextype/typecore/dex/hierarchy"
	"github.com/dextype/typecore/dex/ir"
)

var (
	typeObject  = ir.DexType{Descriptor: "Ljava/lang/Object;"}
	typeString  = ir.DexType{Descriptor: "Ljava/lang/String;"}
	typeBase    = ir.DexType{Descriptor: "Lcom/example/Base;"}
	typeDerived = ir.DexType{Descriptor: "Lcom/example/Derived;"}
	typeB       = ir.DexType{Descriptor: "Lcom/example/B;"}
	typeC       = ir.DexType{Descriptor: "Lcom/example/C;"}
	typeDemo    = ir.DexType{Descriptor: "Lcom/example/Demo;"}
	typeBuild   = ir.DexType{Descriptor: "Landroid/os/Build;"}
)

// Program bundles everything cmd/typecore needs for one run: the
// hierarchy and min-SDK surface are built once up front, then Methods
// is handed to the checker and resolver.
type Program struct {
	Hierarchy *hierarchy.Hierarchy
	MinSDK    *hierarchy.MinSDKSurface
	Methods   []*ir.Method
}

// Demo assembles the fixture program.
func Demo() *Program {
	h := buildHierarchy()
	minSDK := buildMinSDK()

	var methods []*ir.Method
	methods = append(methods, nullAsReference())
	methods = append(methods, wideMismatch())
	methods = append(methods, baseInit(), derivedInit())
	methods = append(methods, devirtualize())
	methods = append(methods, desuperifyCaller())
	methods = append(methods, readSdkInt())
	methods = append(methods, getBase())

	return &Program{Hierarchy: h, MinSDK: minSDK, Methods: methods}
}

func buildHierarchy() *hierarchy.Hierarchy {
	h := hierarchy.New()

	h.AddClass(&hierarchy.Class{Type: typeObject, External: true, Public: true})
	h.AddClass(&hierarchy.Class{Type: typeString, External: true, Public: true})
	h.AddClass(&hierarchy.Class{Type: typeDemo, Public: true})

	greetProto := &ir.Proto{Return: typeString}
	initProto := &ir.Proto{Return: ir.TypeVoid}

	h.AddClass(&hierarchy.Class{
		Type: typeBase, Public: true,
		Methods: []*ir.MethodRef{
			ir.NewMethodRef(typeBase, "greet", greetProto, true),
			ir.NewMethodRef(typeBase, "<init>", initProto, true),
		},
	})
	h.AddClass(&hierarchy.Class{
		Type: typeDerived, Public: true,
		Super: typeBase,
		Methods: []*ir.MethodRef{
			ir.NewMethodRef(typeDerived, "greet", greetProto, true),
			ir.NewMethodRef(typeDerived, "<init>", initProto, true),
		},
	})

	bClass := &hierarchy.Class{
		Type: typeB, Public: true,
		Methods: []*ir.MethodRef{
			ir.NewMethodRef(typeB, "f", initProto, true),
		},
		FinalMethods: map[string]bool{"f()V": true},
	}
	h.AddClass(bClass)
	h.AddClass(&hierarchy.Class{Type: typeC, Super: typeB, Public: true})

	h.AddClass(&hierarchy.Class{
		Type:     typeBuild,
		External: true,
		Public:   true,
		Fields: []*ir.FieldRef{
			ir.NewFieldRef(typeBuild, "VERSION", ir.TypeInt, true, true),
		},
	})

	return h
}

func buildMinSDK() *hierarchy.MinSDKSurface {
	s := hierarchy.NewMinSDKSurface()
	s.AddMethod(ir.NewMethodRef(typeObject, "toString", &ir.Proto{Return: typeString}, true))
	s.AddField(ir.NewFieldRef(typeBuild, "VERSION", ir.TypeInt, true, true))
	return s
}

// nullAsReference checks that ZERO (the constant 0) satisfies a
// reference-typed operand: const/4 v0, 0 flows into
// invoke-virtual {v0}, Object.toString.
func nullAsReference() *ir.Method {
	proto := &ir.Proto{Return: typeString}
	b := ir.NewBuilder(typeDemo, "nullToString", proto, true, 2, nil)
	entry := b.Block()

	ir.Emit(entry, &ir.Instruction{Op: ir.OpConst, HasDest: true, Dest: 0, Literal: 0})
	ir.Emit(entry, &ir.Instruction{
		Op: ir.OpInvoke, InvokeKind: ir.InvokeVirtual,
		Method: ir.NewMethodRef(typeObject, "toString", &ir.Proto{Return: typeString}, false),
		Args:   []ir.Reg{0},
	})
	ir.Emit(entry, &ir.Instruction{Op: ir.OpMoveResultObject, HasDest: true, Dest: 1})
	ir.Emit(entry, &ir.Instruction{Op: ir.OpReturnObject, Srcs: []ir.Reg{1}})

	return b.Finish(entry)
}

// wideMismatch narrows a wide low half with a plain move, which must be
// rejected as WIDE_MISMATCH rather than SCALAR_TYPE_MISMATCH.
func wideMismatch() *ir.Method {
	proto := &ir.Proto{Return: ir.TypeVoid}
	b := ir.NewBuilder(typeDemo, "wideMismatch", proto, true, 3, nil)
	entry := b.Block()

	ir.Emit(entry, &ir.Instruction{Op: ir.OpConstWide, HasDest: true, Dest: 0, Literal: 1})
	ir.Emit(entry, &ir.Instruction{Op: ir.OpMove, HasDest: true, Dest: 2, Srcs: []ir.Reg{0}})
	ir.Emit(entry, &ir.Instruction{Op: ir.OpReturnVoid})

	return b.Finish(entry)
}

// baseInit and derivedInit exercise a constructor's UNINITIALIZED<T>
// receiver and the superclass invoke-direct <init> call that promotes
// it to REFERENCE<T>.
func baseInit() *ir.Method {
	proto := &ir.Proto{Return: ir.TypeVoid}
	b := ir.NewBuilder(typeBase, "<init>", proto, false, 1, []ir.Reg{0})
	entry := b.Block()

	ir.Emit(entry, &ir.Instruction{
		Op: ir.OpInvoke, InvokeKind: ir.InvokeDirect,
		Method: ir.NewMethodRef(typeObject, "<init>", &ir.Proto{Return: ir.TypeVoid}, false),
		Args:   []ir.Reg{0},
	})
	ir.Emit(entry, &ir.Instruction{Op: ir.OpReturnVoid})

	return b.Finish(entry)
}

func derivedInit() *ir.Method {
	proto := &ir.Proto{Return: ir.TypeVoid}
	b := ir.NewBuilder(typeDerived, "<init>", proto, false, 1, []ir.Reg{0})
	entry := b.Block()

	ir.Emit(entry, &ir.Instruction{
		Op: ir.OpInvoke, InvokeKind: ir.InvokeDirect,
		Method: ir.NewMethodRef(typeBase, "<init>", &ir.Proto{Return: ir.TypeVoid}, false),
		Args:   []ir.Reg{0},
	})
	ir.Emit(entry, &ir.Instruction{Op: ir.OpReturnVoid})

	return b.Finish(entry)
}

// devirtualize constructs a Derived and calls greet through a
// Base-declared invoke-virtual; the inferred receiver class (Derived,
// known precisely since it flows straight from new-instance/<init>)
// lets the resolver rebind the call site to Derived.greet.
func devirtualize() *ir.Method {
	proto := &ir.Proto{Return: typeString}
	b := ir.NewBuilder(typeDemo, "devirtualize", proto, true, 2, nil)
	entry := b.Block()

	ir.Emit(entry, &ir.Instruction{Op: ir.OpNewInstance, HasDest: true, Dest: 0, Type: typeDerived})
	ir.Emit(entry, &ir.Instruction{
		Op: ir.OpInvoke, InvokeKind: ir.InvokeDirect,
		Method: ir.NewMethodRef(typeDerived, "<init>", &ir.Proto{Return: ir.TypeVoid}, false),
		Args:   []ir.Reg{0},
	})
	ir.Emit(entry, &ir.Instruction{
		Op: ir.OpInvoke, InvokeKind: ir.InvokeVirtual,
		Method: ir.NewMethodRef(typeBase, "greet", &ir.Proto{Return: typeString}, false),
		Args:   []ir.Reg{0},
	})
	ir.Emit(entry, &ir.Instruction{Op: ir.OpMoveResultObject, HasDest: true, Dest: 1})
	ir.Emit(entry, &ir.Instruction{Op: ir.OpReturnObject, Srcs: []ir.Reg{1}})

	return b.Finish(entry)
}

// desuperifyCaller calls B.f via invoke-super from C; since f is final
// and non-external, the resolver rewrites this to invoke-virtual and
// drops the super dispatch entirely.
func desuperifyCaller() *ir.Method {
	proto := &ir.Proto{Return: ir.TypeVoid}
	b := ir.NewBuilder(typeC, "caller", proto, false, 1, []ir.Reg{0})
	entry := b.Block()

	ir.Emit(entry, &ir.Instruction{
		Op: ir.OpInvoke, InvokeKind: ir.InvokeSuper,
		Method: ir.NewMethodRef(typeB, "f", &ir.Proto{Return: ir.TypeVoid}, false),
		Args:   []ir.Reg{0},
	})
	ir.Emit(entry, &ir.Instruction{Op: ir.OpReturnVoid})

	return b.Finish(entry)
}

// readSdkInt sgets a field declared on an external class; resolving it
// to its concrete definition must not attempt to promote the external
// owner to public.
func readSdkInt() *ir.Method {
	proto := &ir.Proto{Return: ir.TypeInt}
	b := ir.NewBuilder(typeDemo, "readSdkInt", proto, true, 1, nil)
	entry := b.Block()

	ir.Emit(entry, &ir.Instruction{
		Op: ir.OpSget, HasDest: true, Dest: 0,
		Field: ir.NewFieldRef(typeBuild, "VERSION", ir.TypeInt, true, false),
	})
	ir.Emit(entry, &ir.Instruction{Op: ir.OpReturn, Srcs: []ir.Reg{0}})

	return b.Finish(entry)
}

// getBase always returns a freshly constructed Derived through a
// Base-declared return type, making it a return-type specialization
// candidate.
func getBase() *ir.Method {
	proto := &ir.Proto{Return: typeBase}
	b := ir.NewBuilder(typeDemo, "getBase", proto, true, 1, nil)
	entry := b.Block()

	ir.Emit(entry, &ir.Instruction{Op: ir.OpNewInstance, HasDest: true, Dest: 0, Type: typeDerived})
	ir.Emit(entry, &ir.Instruction{
		Op: ir.OpInvoke, InvokeKind: ir.InvokeDirect,
		Method: ir.NewMethodRef(typeDerived, "<init>", &ir.Proto{Return: ir.TypeVoid}, false),
		Args:   []ir.Reg{0},
	})
	ir.Emit(entry, &ir.Instruction{Op: ir.OpReturnObject, Srcs: []ir.Reg{0}})

	return b.Finish(entry)
}
