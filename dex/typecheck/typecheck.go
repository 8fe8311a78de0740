// Package typecheck implements the per-method type checker: it drives
// dex/typeinfer's fixpoint engine, sweeps every instruction against its
// opcode's preconditions, and reports the first violation. A checker is
// run once and queried afterwards; a failed checker keeps its inferred
// types available, but the error verdict is final.
package typecheck

import (
	"fmt"

	"github.com/dextype/typecore/dex/hierarchy"
	"github.com/dextype/typecore/dex/ir"
	"github.com/dextype/typecore/dex/lattice"
	"github.com/dextype/typecore/dex/typeinfer"
)

// Options configures a Checker.
type Options struct {
	ValidateAccess       bool
	VerifyMoves          bool
	CheckNoOverwriteThis bool
}

// Kind re-exports the transfer function's tagged error kinds, plus the
// access-control kind the engine's transfer function doesn't itself
// check.
type Kind = typeinfer.Kind

const (
	UndefinedOperand      = typeinfer.UndefinedOperand
	WideMismatch          = typeinfer.WideMismatch
	ScalarTypeMismatch    = typeinfer.ScalarTypeMismatch
	ReferenceTypeMismatch = typeinfer.ReferenceTypeMismatch
	ReturnTypeMismatch    = typeinfer.ReturnTypeMismatch
	OverwriteThis         = typeinfer.OverwriteThis
)

// InaccessibleMember is only produced by the checker itself
// (ValidateAccess), not by the shared transfer function; accessibility
// isn't an opcode-level precondition.
const InaccessibleMember Kind = 100

// Error is a tagged, reportable type-checker error.
type Error struct {
	Kind    Kind
	Insn    *ir.Instruction
	Message string
}

func (e *Error) Error() string { return e.Message }

// Checker runs the fixpoint engine on one method and validates every
// instruction. It is a run-once, query-after state machine: pending
// until Run, then complete and either good or failed.
type Checker struct {
	method *ir.Method
	h      *hierarchy.Hierarchy
	opts   Options

	complete bool
	good     bool
	first    *Error
	result   *typeinfer.Result
}

// New configures a checker for method. It does not run the analysis;
// call Run.
func New(method *ir.Method, h *hierarchy.Hierarchy, opts Options) *Checker {
	return &Checker{method: method, h: h, opts: opts}
}

// Run is idempotent: the first call performs the analysis and the sweep;
// subsequent calls are no-ops.
func (c *Checker) Run() {
	if c.complete {
		return
	}

	tfOpts := typeinfer.Options{
		VerifyMoves:          c.opts.VerifyMoves,
		CheckNoOverwriteThis: c.opts.CheckNoOverwriteThis,
		IsStatic:             c.method.IsStatic,
	}
	if !c.method.IsStatic && len(c.method.ParamRegs) > 0 {
		tfOpts.ThisReg = c.method.ParamRegs[0]
	}

	c.result = typeinfer.Run(c.method, c.h, tfOpts)

	c.good = true
	for _, insn := range allInstrs(c.method) {
		if err := c.checkInstruction(insn); err != nil {
			c.good = false
			c.first = err
			break
		}
	}
	c.complete = true
}

func allInstrs(m *ir.Method) []*ir.Instruction {
	var out []*ir.Instruction
	m.Instructions(func(i *ir.Instruction) bool {
		out = append(out, i)
		return true
	})
	return out
}

// checkInstruction re-runs Transfer against the cached entry environment
// (the same computation the engine already performed, but now its
// violations are meaningful: they're checked in program order and the
// first one wins) and layers on the checks the shared transfer function
// doesn't own: return-type compatibility and member accessibility.
func (c *Checker) checkInstruction(insn *ir.Instruction) *Error {
	entry := c.result.EntryEnv(insn).Clone()
	vs := typeinfer.Transfer(insn, entry, c.h, typeinfer.Options{
		VerifyMoves:          c.opts.VerifyMoves,
		CheckNoOverwriteThis: c.opts.CheckNoOverwriteThis,
		IsStatic:             c.method.IsStatic,
		ThisReg:              firstThisReg(c.method),
	})
	if len(vs) > 0 {
		v := vs[0]
		return &Error{Kind: v.Kind, Insn: insn, Message: v.Message}
	}

	if err := c.checkReturn(insn); err != nil {
		return err
	}

	if c.opts.ValidateAccess {
		if err := c.checkAccess(insn); err != nil {
			return err
		}
	}

	return nil
}

// checkReturn validates that the return opcode's width class matches the
// declared return type, and that a returned object is a subtype of it.
func (c *Checker) checkReturn(insn *ir.Instruction) *Error {
	want := c.method.Proto.Return
	mismatch := func(what string) *Error {
		return &Error{
			Kind: ReturnTypeMismatch, Insn: insn,
			Message: fmt.Sprintf("%s: declared return type is %s", what, want),
		}
	}
	switch insn.Op {
	case ir.OpReturnVoid:
		if want != ir.TypeVoid {
			return mismatch("return-void")
		}
	case ir.OpReturn:
		if !want.IsPrimitive() || want == ir.TypeVoid || want == ir.TypeLong || want == ir.TypeDouble {
			return mismatch("return")
		}
	case ir.OpReturnWide:
		if want != ir.TypeLong && want != ir.TypeDouble {
			return mismatch("return-wide")
		}
	case ir.OpReturnObject:
		if want.IsPrimitive() {
			return mismatch("return-object")
		}
		src := c.result.EntryEnv(insn).Get(insn.Srcs[0])
		if src.Ref.HasClass && want.IsObject() && !c.h.IsSubtype(src.Ref.Class, want) {
			return &Error{
				Kind: ReturnTypeMismatch, Insn: insn,
				Message: fmt.Sprintf("return-object: v%d has type %s, not a subtype of declared return type %s", insn.Srcs[0], src.Ref.Class, want),
			}
		}
	}
	return nil
}

func firstThisReg(m *ir.Method) ir.Reg {
	if m.IsStatic || len(m.ParamRegs) == 0 {
		return 0
	}
	return m.ParamRegs[0]
}

func (c *Checker) checkAccess(insn *ir.Instruction) *Error {
	switch insn.Op {
	case ir.OpIget, ir.OpIput, ir.OpSget, ir.OpSput:
		if insn.Field == nil {
			return nil
		}
		cls, ok := c.h.Lookup(insn.Field.Owner)
		if ok && !cls.IsPublic() && cls.External {
			return &Error{Kind: InaccessibleMember, Insn: insn, Message: fmt.Sprintf("field %s.%s is not accessible from %s", insn.Field.Owner, insn.Field.Name, c.method.Owner)}
		}
	case ir.OpInvoke:
		if insn.Method == nil {
			return nil
		}
		cls, ok := c.h.Lookup(insn.Method.Owner)
		if ok && !cls.IsPublic() && cls.External {
			return &Error{Kind: InaccessibleMember, Insn: insn, Message: fmt.Sprintf("method %s.%s is not accessible from %s", insn.Method.Owner, insn.Method.Name, c.method.Owner)}
		}
	}
	return nil
}

// Good reports whether the method passed every check. Calling Good
// before Run is a programmer error and panics.
func (c *Checker) Good() bool {
	c.checkComplete()
	return c.good
}

// Fail is the negation of Good.
func (c *Checker) Fail() bool {
	c.checkComplete()
	return !c.good
}

// What returns a human-readable description of the first error, or the
// literal "OK".
func (c *Checker) What() string {
	c.checkComplete()
	if c.good {
		return "OK"
	}
	return c.first.Message
}

// FirstError returns the first recorded Error, or nil if the method
// passed.
func (c *Checker) FirstError() *Error {
	c.checkComplete()
	return c.first
}

func (c *Checker) checkComplete() {
	if !c.complete {
		panic(fmt.Sprintf("typecheck: checker for %s queried before Run()", c.method.Descriptor()))
	}
}

// GetType returns the scalar lattice element of reg at insn's entry.
// The engine always runs to a full fixpoint even when the validation
// sweep stops early, so this is meaningful on failed checkers too.
func (c *Checker) GetType(insn *ir.Instruction, reg ir.Reg) lattice.IRType {
	c.checkComplete()
	return c.result.EntryEnv(insn).Get(reg).Scalar
}

// GetDexType returns the concrete declared class of reg at insn's entry,
// if known.
func (c *Checker) GetDexType(insn *ir.Instruction, reg ir.Reg) (ir.DexType, bool) {
	c.checkComplete()
	d := c.result.EntryEnv(insn).Get(reg).Ref
	return d.Class, d.HasClass
}

// Result exposes the underlying fixpoint result for collaborators (e.g.
// dex/resolve) that want entry types without re-running the engine.
func (c *Checker) Result() *typeinfer.Result {
	c.checkComplete()
	return c.result
}
