package resolve_test

import (
	"testing"

	"github.com/dextype/typecore/dex/fixture"
	"github.com/dextype/typecore/dex/hierarchy"
	"github.com/dextype/typecore/dex/ir"
	"github.com/dextype/typecore/dex/resolve"
)

func findMethod(t *testing.T, prog *fixture.Program, name string) *ir.Method {
	t.Helper()
	for _, m := range prog.Methods {
		if m.Name == name {
			return m
		}
	}
	t.Fatalf("fixture.Demo() has no method named %q", name)
	return nil
}

func findInvoke(t *testing.T, m *ir.Method, kind ir.InvokeKind) *ir.Instruction {
	t.Helper()
	var found *ir.Instruction
	m.Instructions(func(i *ir.Instruction) bool {
		if i.Op == ir.OpInvoke && i.InvokeKind == kind {
			found = i
			return false
		}
		return true
	})
	if found == nil {
		t.Fatalf("%s has no invoke-%s", m.Descriptor(), kind)
	}
	return found
}

func TestRefineVirtualCall(t *testing.T) {
	prog := fixture.Demo()
	m := findMethod(t, prog, "devirtualize")
	r := resolve.New(prog.Hierarchy, prog.MinSDK, resolve.Options{})

	stats := r.RunMethod(m)
	if stats.InvokeVirtualRefined != 1 {
		t.Errorf("InvokeVirtualRefined = %d, want 1", stats.InvokeVirtualRefined)
	}
	invoke := findInvoke(t, m, ir.InvokeVirtual)
	if got := invoke.Method.Owner.Descriptor; got != "Lcom/example/Derived;" {
		t.Errorf("call site owner after refinement = %s, want Lcom/example/Derived;", got)
	}
	if invoke.Method.Name != "greet" {
		t.Errorf("refinement changed the method name to %q", invoke.Method.Name)
	}
}

func TestDesuperify(t *testing.T) {
	prog := fixture.Demo()
	m := findMethod(t, prog, "caller")

	r := resolve.New(prog.Hierarchy, prog.MinSDK, resolve.Options{Desuperify: true})
	stats := r.RunMethod(m)
	if stats.InvokeSuperRemoved != 1 {
		t.Errorf("InvokeSuperRemoved = %d, want 1", stats.InvokeSuperRemoved)
	}
	invoke := findInvoke(t, m, ir.InvokeVirtual)
	if invoke.Method.Owner.Descriptor != "Lcom/example/B;" {
		t.Errorf("desuperified callee owner = %s, want Lcom/example/B;", invoke.Method.Owner)
	}
}

func TestDesuperifyDisabled(t *testing.T) {
	prog := fixture.Demo()
	m := findMethod(t, prog, "caller")

	r := resolve.New(prog.Hierarchy, prog.MinSDK, resolve.Options{})
	stats := r.RunMethod(m)
	if stats.InvokeSuperRemoved != 0 {
		t.Errorf("InvokeSuperRemoved = %d with Desuperify off, want 0", stats.InvokeSuperRemoved)
	}
	findInvoke(t, m, ir.InvokeSuper)
}

func TestExternalFieldGate(t *testing.T) {
	// With RefineToExternal off the external field ref stays symbolic.
	prog := fixture.Demo()
	m := findMethod(t, prog, "readSdkInt")
	r := resolve.New(prog.Hierarchy, prog.MinSDK, resolve.Options{})
	if stats := r.RunMethod(m); stats.FieldRefsResolved != 0 {
		t.Errorf("FieldRefsResolved = %d with RefineToExternal off, want 0", stats.FieldRefsResolved)
	}

	// With the gate open and the field present in the min-SDK surface the
	// ref is rebound to the concrete definition.
	prog = fixture.Demo()
	m = findMethod(t, prog, "readSdkInt")
	r = resolve.New(prog.Hierarchy, prog.MinSDK, resolve.Options{RefineToExternal: true})
	if stats := r.RunMethod(m); stats.FieldRefsResolved != 1 {
		t.Errorf("FieldRefsResolved = %d with RefineToExternal on, want 1", stats.FieldRefsResolved)
	}
	var sget *ir.Instruction
	m.Instructions(func(i *ir.Instruction) bool {
		if i.Op == ir.OpSget {
			sget = i
			return false
		}
		return true
	})
	if !sget.Field.IsDef() {
		t.Errorf("sget field ref is still symbolic after resolution")
	}

	// Absent from the min-SDK surface, the rewrite must not happen even
	// with the gate open.
	prog = fixture.Demo()
	m = findMethod(t, prog, "readSdkInt")
	r = resolve.New(prog.Hierarchy, hierarchy.NewMinSDKSurface(), resolve.Options{RefineToExternal: true})
	if stats := r.RunMethod(m); stats.FieldRefsResolved != 0 {
		t.Errorf("FieldRefsResolved = %d with empty min-SDK surface, want 0", stats.FieldRefsResolved)
	}
}

func TestInterfaceCallReplacedByVirtual(t *testing.T) {
	typeObject := ir.DexType{Descriptor: "Ljava/lang/Object;"}
	typeIface := ir.DexType{Descriptor: "Lcom/example/Runner;"}
	typeImpl := ir.DexType{Descriptor: "Lcom/example/FastRunner;"}
	typeDemo := ir.DexType{Descriptor: "Lcom/example/Demo;"}
	runProto := &ir.Proto{Return: ir.TypeVoid}

	h := hierarchy.New()
	h.AddClass(&hierarchy.Class{Type: typeObject, External: true, Public: true})
	h.AddClass(&hierarchy.Class{Type: typeDemo, Public: true})
	h.AddClass(&hierarchy.Class{
		Type: typeIface, Iface: true, Public: true,
		Methods: []*ir.MethodRef{ir.NewMethodRef(typeIface, "run", runProto, true)},
	})
	h.AddClass(&hierarchy.Class{
		Type: typeImpl, Public: true, Interfaces: []ir.DexType{typeIface},
		Methods: []*ir.MethodRef{
			ir.NewMethodRef(typeImpl, "run", runProto, true),
			ir.NewMethodRef(typeImpl, "<init>", runProto, true),
		},
	})

	b := ir.NewBuilder(typeDemo, "callThroughIface", &ir.Proto{Return: ir.TypeVoid}, true, 1, nil)
	entry := b.Block()
	ir.Emit(entry, &ir.Instruction{Op: ir.OpNewInstance, HasDest: true, Dest: 0, Type: typeImpl})
	ir.Emit(entry, &ir.Instruction{
		Op: ir.OpInvoke, InvokeKind: ir.InvokeDirect,
		Method: ir.NewMethodRef(typeImpl, "<init>", runProto, false),
		Args:   []ir.Reg{0},
	})
	call := ir.Emit(entry, &ir.Instruction{
		Op: ir.OpInvoke, InvokeKind: ir.InvokeInterface,
		Method: ir.NewMethodRef(typeIface, "run", runProto, false),
		Args:   []ir.Reg{0},
	})
	ir.Emit(entry, &ir.Instruction{Op: ir.OpReturnVoid})
	m := b.Finish(entry)

	r := resolve.New(h, nil, resolve.Options{})
	stats := r.RunMethod(m)
	if stats.InvokeInterfaceReplaced != 1 {
		t.Fatalf("InvokeInterfaceReplaced = %d, want 1", stats.InvokeInterfaceReplaced)
	}
	if call.InvokeKind != ir.InvokeVirtual {
		t.Errorf("call kind after replacement = %s, want virtual", call.InvokeKind)
	}
	if call.Method.Owner != typeImpl {
		t.Errorf("call target after replacement = %s, want %s", call.Method.Owner, typeImpl)
	}
}

func TestExcludedExternalPrefixBlocksRefinement(t *testing.T) {
	typeObject := ir.DexType{Descriptor: "Ljava/lang/Object;"}
	typeView := ir.DexType{Descriptor: "Landroid/view/View;"}
	typeButton := ir.DexType{Descriptor: "Landroid/widget/Button;"}
	typeDemo := ir.DexType{Descriptor: "Lcom/example/Demo;"}
	proto := &ir.Proto{Return: ir.TypeVoid}

	h := hierarchy.New()
	h.AddClass(&hierarchy.Class{Type: typeObject, External: true, Public: true})
	h.AddClass(&hierarchy.Class{Type: typeDemo, Public: true})
	h.AddClass(&hierarchy.Class{
		Type: typeView, External: true, Public: true,
		Methods: []*ir.MethodRef{ir.NewMethodRef(typeView, "invalidate", proto, true)},
	})
	h.AddClass(&hierarchy.Class{
		Type: typeButton, External: true, Public: true, Super: typeView,
		Methods: []*ir.MethodRef{
			ir.NewMethodRef(typeButton, "invalidate", proto, true),
			ir.NewMethodRef(typeButton, "<init>", proto, true),
		},
	})

	build := func() (*ir.Method, *ir.Instruction) {
		b := ir.NewBuilder(typeDemo, "poke", &ir.Proto{Return: ir.TypeVoid}, true, 1, nil)
		entry := b.Block()
		ir.Emit(entry, &ir.Instruction{Op: ir.OpNewInstance, HasDest: true, Dest: 0, Type: typeButton})
		ir.Emit(entry, &ir.Instruction{
			Op: ir.OpInvoke, InvokeKind: ir.InvokeDirect,
			Method: ir.NewMethodRef(typeButton, "<init>", proto, false),
			Args:   []ir.Reg{0},
		})
		call := ir.Emit(entry, &ir.Instruction{
			Op: ir.OpInvoke, InvokeKind: ir.InvokeVirtual,
			Method: ir.NewMethodRef(typeView, "invalidate", proto, false),
			Args:   []ir.Reg{0},
		})
		ir.Emit(entry, &ir.Instruction{Op: ir.OpReturnVoid})
		return b.Finish(entry), call
	}

	m, call := build()
	r := resolve.New(h, nil, resolve.Options{ExcludedExternals: []string{"Landroid/widget/"}})
	if stats := r.RunMethod(m); stats.InvokeVirtualRefined != 0 {
		t.Errorf("InvokeVirtualRefined = %d with excluded prefix, want 0", stats.InvokeVirtualRefined)
	}
	if call.Method.Owner != typeView {
		t.Errorf("excluded call site was rewritten to %s", call.Method.Owner)
	}

	m, call = build()
	r = resolve.New(h, nil, resolve.Options{})
	if stats := r.RunMethod(m); stats.InvokeVirtualRefined != 1 {
		t.Errorf("InvokeVirtualRefined = %d without exclusion, want 1", stats.InvokeVirtualRefined)
	}
	if call.Method.Owner != typeButton {
		t.Errorf("call site owner = %s, want %s", call.Method.Owner, typeButton)
	}
}

func TestRunProgramAggregatesStats(t *testing.T) {
	prog := fixture.Demo()
	r := resolve.New(prog.Hierarchy, prog.MinSDK, resolve.Options{Desuperify: true})
	stats := r.RunProgram(prog.Methods)

	if stats.InvokeVirtualRefined != 1 {
		t.Errorf("InvokeVirtualRefined = %d, want 1", stats.InvokeVirtualRefined)
	}
	if stats.InvokeSuperRemoved != 1 {
		t.Errorf("InvokeSuperRemoved = %d, want 1", stats.InvokeSuperRemoved)
	}
	if stats.FieldRefsResolved != 0 {
		t.Errorf("FieldRefsResolved = %d with RefineToExternal off, want 0", stats.FieldRefsResolved)
	}
}

func TestStatsAddIsCommutative(t *testing.T) {
	a := resolve.Stats{MethodRefsResolved: 1, InvokeVirtualRefined: 2}
	b := resolve.Stats{FieldRefsResolved: 3, InvokeVirtualRefined: 4}
	if a.Add(b) != b.Add(a) {
		t.Errorf("Stats.Add is not commutative: %+v vs %+v", a.Add(b), b.Add(a))
	}
}
