package typecheck_test

import (
	"testing"

	"github.com/dextype/typecore/dex/fixture"
	"github.com/dextype/typecore/dex/hierarchy"
	"github.com/dextype/typecore/dex/ir"
	"github.com/dextype/typecore/dex/lattice"
	"github.com/dextype/typecore/dex/typecheck"
)

func findMethod(t *testing.T, name string) (*ir.Method, *hierarchy.Hierarchy) {
	t.Helper()
	prog := fixture.Demo()
	for _, m := range prog.Methods {
		if m.Name == name {
			return m, prog.Hierarchy
		}
	}
	t.Fatalf("fixture.Demo() has no method named %q", name)
	return nil, nil
}

func TestCheckerAcceptsZeroAsReference(t *testing.T) {
	m, h := findMethod(t, "nullToString")
	chk := typecheck.New(m, h, typecheck.Options{})
	chk.Run()
	if chk.Fail() {
		t.Errorf("nullToString: Fail() = true, want false (ZERO must satisfy a reference operand); first error: %s", chk.What())
	}

	var invoke *ir.Instruction
	m.Instructions(func(i *ir.Instruction) bool {
		if i.Op == ir.OpInvoke {
			invoke = i
			return false
		}
		return true
	})
	if got := chk.GetType(invoke, 0); got != lattice.ZERO {
		t.Errorf("GetType(invoke, v0) = %s, want ZERO", got)
	}
}

func TestCheckerRejectsWideHalfAsNarrow(t *testing.T) {
	m, h := findMethod(t, "wideMismatch")
	chk := typecheck.New(m, h, typecheck.Options{})
	chk.Run()
	if chk.Good() {
		t.Fatalf("wideMismatch: Good() = true, want false")
	}
	err := chk.FirstError()
	if err == nil {
		t.Fatalf("wideMismatch: FirstError() = nil after Fail()")
	}
	if err.Kind != typecheck.WideMismatch {
		t.Errorf("wideMismatch: first error kind = %v, want WideMismatch (%s)", err.Kind, chk.What())
	}
}

func TestCheckerAcceptsConstructorChain(t *testing.T) {
	prog := fixture.Demo()
	for _, m := range prog.Methods {
		if m.Name != "<init>" {
			continue
		}
		chk := typecheck.New(m, prog.Hierarchy, typecheck.Options{})
		chk.Run()
		if chk.Fail() {
			t.Errorf("%s: Fail() = true, want false; first error: %s", m.Descriptor(), chk.What())
		}
	}
}

func TestCheckerAcceptsDevirtualizableCall(t *testing.T) {
	m, h := findMethod(t, "devirtualize")
	chk := typecheck.New(m, h, typecheck.Options{})
	chk.Run()
	if chk.Fail() {
		t.Errorf("devirtualize: Fail() = true, want false; first error: %s", chk.What())
	}
	if got := chk.What(); got != "OK" {
		t.Errorf("What() = %q on a passing method, want \"OK\"", got)
	}
}

func TestCheckerIsIdempotent(t *testing.T) {
	m, h := findMethod(t, "getBase")
	chk := typecheck.New(m, h, typecheck.Options{})
	chk.Run()
	first := chk.Good()
	chk.Run() // second call must be a no-op, not re-derive a different verdict
	if chk.Good() != first {
		t.Errorf("Checker.Run() is not idempotent: Good() changed across calls")
	}
}

func TestGoodBeforeRunPanics(t *testing.T) {
	m, h := findMethod(t, "getBase")
	chk := typecheck.New(m, h, typecheck.Options{})
	defer func() {
		if recover() == nil {
			t.Errorf("Good() before Run() did not panic")
		}
	}()
	chk.Good()
}

func TestCheckerFlagsOverwriteThis(t *testing.T) {
	owner := ir.DexType{Descriptor: "Lcom/example/Demo;"}
	proto := &ir.Proto{Return: ir.TypeVoid}
	b := ir.NewBuilder(owner, "clobberThis", proto, false, 1, []ir.Reg{0})
	entry := b.Block()
	ir.Emit(entry, &ir.Instruction{Op: ir.OpConst, HasDest: true, Dest: 0, Literal: 42})
	ir.Emit(entry, &ir.Instruction{Op: ir.OpReturnVoid})
	m := b.Finish(entry)

	prog := fixture.Demo()
	chk := typecheck.New(m, prog.Hierarchy, typecheck.Options{CheckNoOverwriteThis: true})
	chk.Run()
	if chk.Good() {
		t.Fatalf("clobberThis: Good() = true, want false")
	}
	if err := chk.FirstError(); err.Kind != typecheck.OverwriteThis {
		t.Errorf("first error kind = %v, want OverwriteThis (%s)", err.Kind, chk.What())
	}

	// Without the option the same method passes: writing the receiver
	// register is legal bytecode.
	chk = typecheck.New(m, prog.Hierarchy, typecheck.Options{})
	chk.Run()
	if chk.Fail() {
		t.Errorf("clobberThis without CheckNoOverwriteThis: Fail() = true (%s)", chk.What())
	}
}

func TestVerifyMovesRejectsUndefinedSource(t *testing.T) {
	owner := ir.DexType{Descriptor: "Lcom/example/Demo;"}
	proto := &ir.Proto{Return: ir.TypeVoid}
	b := ir.NewBuilder(owner, "moveUndef", proto, true, 2, nil)
	entry := b.Block()
	ir.Emit(entry, &ir.Instruction{Op: ir.OpMove, HasDest: true, Dest: 1, Srcs: []ir.Reg{0}})
	ir.Emit(entry, &ir.Instruction{Op: ir.OpReturnVoid})
	m := b.Finish(entry)

	prog := fixture.Demo()

	// The default mode tolerates a move of an undefined value, like the
	// platform verifier.
	chk := typecheck.New(m, prog.Hierarchy, typecheck.Options{})
	chk.Run()
	if chk.Fail() {
		t.Errorf("moveUndef: Fail() = true in default mode (%s)", chk.What())
	}

	chk = typecheck.New(m, prog.Hierarchy, typecheck.Options{VerifyMoves: true})
	chk.Run()
	if chk.Good() {
		t.Fatalf("moveUndef: Good() = true with VerifyMoves, want false")
	}
	if err := chk.FirstError(); err.Kind != typecheck.UndefinedOperand {
		t.Errorf("first error kind = %v, want UndefinedOperand (%s)", err.Kind, chk.What())
	}
}

func TestCheckerFlagsReturnKindMismatch(t *testing.T) {
	owner := ir.DexType{Descriptor: "Lcom/example/Demo;"}
	proto := &ir.Proto{Return: ir.TypeLong}
	b := ir.NewBuilder(owner, "returnNarrowAsWide", proto, true, 1, nil)
	entry := b.Block()
	ir.Emit(entry, &ir.Instruction{Op: ir.OpConst, HasDest: true, Dest: 0, Literal: 3})
	ir.Emit(entry, &ir.Instruction{Op: ir.OpReturn, Srcs: []ir.Reg{0}})
	m := b.Finish(entry)

	prog := fixture.Demo()
	chk := typecheck.New(m, prog.Hierarchy, typecheck.Options{})
	chk.Run()
	if chk.Good() {
		t.Fatalf("returnNarrowAsWide: Good() = true, want false")
	}
	if err := chk.FirstError(); err.Kind != typecheck.ReturnTypeMismatch {
		t.Errorf("first error kind = %v, want ReturnTypeMismatch (%s)", err.Kind, chk.What())
	}
}

func TestGetTypeAndGetDexType(t *testing.T) {
	m, h := findMethod(t, "devirtualize")
	chk := typecheck.New(m, h, typecheck.Options{})
	chk.Run()

	var invoke *ir.Instruction
	m.Instructions(func(i *ir.Instruction) bool {
		if i.Op == ir.OpInvoke && i.InvokeKind == ir.InvokeVirtual {
			invoke = i
			return false
		}
		return true
	})
	if invoke == nil {
		t.Fatalf("devirtualize has no invoke-virtual")
	}
	if got := chk.GetType(invoke, 0); got != lattice.REFERENCE {
		t.Errorf("GetType(invoke, v0) = %s, want REFERENCE", got)
	}
	cls, ok := chk.GetDexType(invoke, 0)
	if !ok || cls.Descriptor != "Lcom/example/Derived;" {
		t.Errorf("GetDexType(invoke, v0) = %v (known=%v), want Lcom/example/Derived;", cls, ok)
	}
}
