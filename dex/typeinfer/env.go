// Package typeinfer implements the per-instruction abstract semantics
// and the monotone forward fixpoint engine that drives them over a
// method's CFG. dex/typecheck and dex/resolve
// both sit on top of this package; neither re-implements dataflow.
package typeinfer

import (
	"fmt"

	"github.com/dextype/typecore/dex/ir"
	"github.com/dextype/typecore/dex/lattice"
)

// RegState is the abstract state of one register: a scalar lattice
// element paired with the reference-type domain.
type RegState struct {
	Scalar lattice.IRType
	Ref    lattice.DexTypeDomain
}

var topState = RegState{Scalar: lattice.TOP, Ref: lattice.Unknown}
var bottomState = RegState{Scalar: lattice.BOTTOM, Ref: lattice.Unknown}

// joinState joins two register states pointwise.
func joinState(a, b RegState, h lattice.ClassHierarchy) RegState {
	return RegState{
		Scalar: lattice.Join(a.Scalar, b.Scalar),
		Ref:    a.Ref.Join(b.Ref, h),
	}
}

// Env is a method's type environment: a total mapping from register id
// to RegState, plus the RESULT pseudoregister that holds the type of the
// last invoke's return value. Env is a value-ish type that callers
// Clone before mutating in place, the same discipline the engine uses for
// per-block entry/exit states.
type Env struct {
	Regs   []RegState
	Result RegState
}

// NewEnv creates an environment for a method with n registers, with every
// register initialized to TOP.
func NewEnv(n int) *Env {
	e := &Env{Regs: make([]RegState, n)}
	for i := range e.Regs {
		e.Regs[i] = topState
	}
	e.Result = topState
	return e
}

// NewBottomEnv creates an environment where every register is BOTTOM,
// the state of a block none of whose predecessors has been reached.
func NewBottomEnv(n int) *Env {
	e := &Env{Regs: make([]RegState, n)}
	for i := range e.Regs {
		e.Regs[i] = bottomState
	}
	e.Result = bottomState
	return e
}

// Clone returns an independent copy of e.
func (e *Env) Clone() *Env {
	out := &Env{Regs: make([]RegState, len(e.Regs)), Result: e.Result}
	copy(out.Regs, e.Regs)
	return out
}

// Get returns the state of register r. Reading out of bounds means the
// IR is malformed; that is a programmer error, not a type error.
func (e *Env) Get(r ir.Reg) RegState {
	if int(r) >= len(e.Regs) {
		panic(fmt.Sprintf("typeinfer: register %d out of bounds (N=%d)", r, len(e.Regs)))
	}
	return e.Regs[r]
}

// Set writes a narrow (non-wide) state to r. A low half at r-1 depended
// on r being its high half, so writing r alone breaks that pair.
func (e *Env) Set(r ir.Reg, s RegState) {
	e.Regs[r] = s
	e.invalidateWideNeighbor(r)
}

// SetWide writes a wide pair at (r, r+1): low half tag at r, high half
// tag at r+1.
func (e *Env) SetWide(r ir.Reg, low, high lattice.IRType) {
	e.Regs[r] = RegState{Scalar: low, Ref: lattice.Unknown}
	if int(r)+1 < len(e.Regs) {
		e.Regs[r+1] = RegState{Scalar: high, Ref: lattice.Unknown}
	}
	e.invalidateWideNeighbor(r)
}

// invalidateWideNeighbor breaks a wide pair that used to straddle r: if
// r-1 held a low half expecting r to be its high half, r-1 becomes TOP.
// CONST2 tags both halves of a wide constant, so a CONST2 at r-1 may be
// a low half and is invalidated too.
func (e *Env) invalidateWideNeighbor(r ir.Reg) {
	if r == 0 {
		return
	}
	prev := e.Regs[r-1]
	if isLowHalf(prev.Scalar) {
		e.Regs[r-1] = topState
	}
}

func isLowHalf(t lattice.IRType) bool {
	return t == lattice.LONG1 || t == lattice.DOUBLE1 || t == lattice.CONST2
}

// Join returns the pointwise join of e and o; environments form a
// lattice register-wise.
func Join(e, o *Env, h lattice.ClassHierarchy) *Env {
	out := &Env{Regs: make([]RegState, len(e.Regs)), Result: joinState(e.Result, o.Result, h)}
	for i := range out.Regs {
		out.Regs[i] = joinState(e.Regs[i], o.Regs[i], h)
	}
	return out
}

// Equal reports whether e and o assign identical states to every register
// and RESULT; used by the fixpoint engine to detect a changed entry state.
func (e *Env) Equal(o *Env) bool {
	if len(e.Regs) != len(o.Regs) || e.Result != o.Result {
		return false
	}
	for i := range e.Regs {
		if e.Regs[i] != o.Regs[i] {
			return false
		}
	}
	return true
}
