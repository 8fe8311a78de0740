package hierarchy_test

import (
	"sync"
	"testing"

	"github.com/dextype/typecore/dex/hierarchy"
	"github.com/dextype/typecore/dex/ir"
)

var (
	typeObject = ir.DexType{Descriptor: "Ljava/lang/Object;"}
	typeA      = ir.DexType{Descriptor: "Lcom/example/A;"}
	typeB      = ir.DexType{Descriptor: "Lcom/example/B;"}
	typeC      = ir.DexType{Descriptor: "Lcom/example/C;"}
	typeIface  = ir.DexType{Descriptor: "Lcom/example/I;"}
)

// build assembles Object <- A <- {B, C}, with B also implementing I.
func build() *hierarchy.Hierarchy {
	voidProto := &ir.Proto{Return: ir.TypeVoid}

	h := hierarchy.New()
	h.AddClass(&hierarchy.Class{Type: typeObject, External: true, Public: true})
	h.AddClass(&hierarchy.Class{
		Type: typeIface, Iface: true, Public: true,
		Methods: []*ir.MethodRef{ir.NewMethodRef(typeIface, "m", voidProto, true)},
	})
	h.AddClass(&hierarchy.Class{
		Type: typeA, Super: typeObject, Public: true,
		Fields: []*ir.FieldRef{
			ir.NewFieldRef(typeA, "count", ir.TypeInt, false, true),
			ir.NewFieldRef(typeA, "shared", ir.TypeInt, true, true),
		},
		Methods: []*ir.MethodRef{ir.NewMethodRef(typeA, "m", voidProto, true)},
	})
	h.AddClass(&hierarchy.Class{
		Type: typeB, Super: typeA, Interfaces: []ir.DexType{typeIface}, Public: true,
		Methods: []*ir.MethodRef{ir.NewMethodRef(typeB, "m", voidProto, true)},
	})
	h.AddClass(&hierarchy.Class{Type: typeC, Super: typeA})
	return h
}

func TestIsSubtype(t *testing.T) {
	h := build()
	cases := []struct {
		sub, super ir.DexType
		want       bool
	}{
		{typeB, typeA, true},
		{typeB, typeObject, true},
		{typeB, typeIface, true},
		{typeC, typeIface, false},
		{typeA, typeB, false},
		{typeB, typeB, true},
	}
	for _, c := range cases {
		if got := h.IsSubtype(c.sub, c.super); got != c.want {
			t.Errorf("IsSubtype(%s, %s) = %v, want %v", c.sub, c.super, got, c.want)
		}
	}
}

func TestLeastCommonSuperclass(t *testing.T) {
	h := build()
	if lub, ok := h.LeastCommonSuperclass(typeB, typeC); !ok || lub != typeA {
		t.Errorf("LCS(B, C) = %s (ok=%v), want %s", lub, ok, typeA)
	}
	if lub, ok := h.LeastCommonSuperclass(typeB, typeB); !ok || lub != typeB {
		t.Errorf("LCS(B, B) = %s (ok=%v), want %s", lub, ok, typeB)
	}
	// Unrelated chains fall back to Object.
	unknown := ir.DexType{Descriptor: "Lcom/example/Elsewhere;"}
	if lub, ok := h.LeastCommonSuperclass(typeB, unknown); !ok || lub != ir.TypeObject {
		t.Errorf("LCS(B, unknown) = %s (ok=%v), want %s", lub, ok, ir.TypeObject)
	}
}

func TestResolveFieldHonorsStaticness(t *testing.T) {
	h := build()

	// An instance-field search starting at a subclass walks up to A's
	// instance field and skips the static one of the same type.
	ref := ir.NewFieldRef(typeB, "count", ir.TypeInt, false, false)
	f := h.ResolveField(ref, hierarchy.SearchInstanceField)
	if f == nil || f.Owner != typeA || !f.IsDef() {
		t.Fatalf("ResolveField(count, instance) = %+v, want A.count definition", f)
	}
	if f.IsStatic() {
		t.Errorf("instance search resolved a static field")
	}

	if f := h.ResolveField(ref, hierarchy.SearchStaticField); f != nil {
		t.Errorf("static search for the instance field found %+v, want nil", f)
	}
}

func TestResolveMethodSuperSkipsOwnClass(t *testing.T) {
	h := build()
	voidProto := &ir.Proto{Return: ir.TypeVoid}

	m := h.ResolveMethod(typeB, "m", voidProto, hierarchy.SearchSuper)
	if m == nil || m.Owner != typeA {
		t.Errorf("super search from B resolved %+v, want A.m (B's own m excluded)", m)
	}

	m = h.ResolveMethod(typeB, "m", voidProto, hierarchy.SearchVirtual)
	if m == nil || m.Owner != typeB {
		t.Errorf("virtual search from B resolved %+v, want B.m", m)
	}
}

func TestResolveOverrideWalksSuperChain(t *testing.T) {
	h := build()
	voidProto := &ir.Proto{Return: ir.TypeVoid}
	virt := ir.NewMethodRef(typeA, "m", voidProto, true)

	// C declares no m of its own, so the override resolves through A.
	if m := h.ResolveOverride(virt, typeC); m == nil || m.Owner != typeA {
		t.Errorf("ResolveOverride(A.m, C) = %+v, want A.m", m)
	}
	if m := h.ResolveOverride(virt, typeB); m == nil || m.Owner != typeB {
		t.Errorf("ResolveOverride(A.m, B) = %+v, want B.m", m)
	}
}

func TestSetPublicIsIdempotentAndConcurrent(t *testing.T) {
	h := build()
	if h.IsPublic(typeC) {
		t.Fatalf("C starts public, fixture broken")
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.SetPublic(typeC)
		}()
	}
	wg.Wait()
	if !h.IsPublic(typeC) {
		t.Errorf("C not public after SetPublic")
	}
}

func TestMinSDKSurfaceMembership(t *testing.T) {
	s := hierarchy.NewMinSDKSurface()
	proto := &ir.Proto{Return: ir.TypeVoid}
	m := ir.NewMethodRef(typeObject, "wait", proto, true)
	s.AddMethod(m)

	if !s.HasMethod(ir.NewMethodRef(typeObject, "wait", proto, false)) {
		t.Errorf("HasMethod(wait) = false after AddMethod")
	}
	other := &ir.Proto{Params: []ir.DexType{ir.TypeLong}, Return: ir.TypeVoid}
	if s.HasMethod(ir.NewMethodRef(typeObject, "wait", other, false)) {
		t.Errorf("HasMethod matched a different overload")
	}
}
