// Package lattice implements the abstract-type algebra that the fixpoint
// engine (dex/typeinfer) runs over: the flat scalar lattice (IRType) and
// the orthogonal reference-type domain (DexTypeDomain).
//
// The lattice is a closed enumeration rather than an interface type:
// joins pattern-match over a tagged variant, and a flat lattice of
// finite height is exactly what a switch-driven Join can decide in O(1).
package lattice

import (
	"golang.org/x/exp/constraints"

	"github.com/dextype/typecore/dex/ir"
)

// IRType is one element of the flat scalar lattice tracked per register.
type IRType uint8

const (
	BOTTOM IRType = iota
	ZERO
	CONST1
	CONST2
	INT
	FLOAT
	SHORT
	CHAR
	BYTE
	BOOLEAN
	LONG1
	LONG2
	DOUBLE1
	DOUBLE2
	UNINIT
	REFERENCE
	SCALAR
	TOP
)

func (t IRType) String() string {
	switch t {
	case BOTTOM:
		return "BOTTOM"
	case ZERO:
		return "ZERO"
	case CONST1:
		return "CONST1"
	case CONST2:
		return "CONST2"
	case INT:
		return "INT"
	case FLOAT:
		return "FLOAT"
	case SHORT:
		return "SHORT"
	case CHAR:
		return "CHAR"
	case BYTE:
		return "BYTE"
	case BOOLEAN:
		return "BOOLEAN"
	case LONG1:
		return "LONG1"
	case LONG2:
		return "LONG2"
	case DOUBLE1:
		return "DOUBLE1"
	case DOUBLE2:
		return "DOUBLE2"
	case UNINIT:
		return "UNINITIALIZED"
	case REFERENCE:
		return "REFERENCE"
	case SCALAR:
		return "SCALAR"
	case TOP:
		return "TOP"
	default:
		return "IRType(?)"
	}
}

// IsWide reports whether t occupies (or is a half of) a two-register pair.
func IsWide(t IRType) bool {
	switch t {
	case LONG1, LONG2, DOUBLE1, DOUBLE2, CONST2:
		return true
	default:
		return false
	}
}

// IsReference reports whether t may be used where a reference operand is
// required. ZERO is dual-purpose (the constant 0 is both the int zero
// and the null reference) and so counts as a reference here; callers
// that need the strict reference-only elements should compare against
// REFERENCE directly.
func IsReference(t IRType) bool {
	return t == REFERENCE || t == ZERO
}

// IsInteger reports whether t belongs to the integer family, including
// the narrower subtypes of INT and the dual-purpose ZERO.
func IsInteger(t IRType) bool {
	switch t {
	case INT, SHORT, CHAR, BYTE, BOOLEAN, ZERO, CONST1:
		return true
	default:
		return false
	}
}

// narrowIntFamily reports whether t is INT, one of its narrower subtypes,
// or one of the 32-bit constants ZERO and CONST1; used by Join to decide INT-family joins without conflating with FLOAT.
func narrowIntFamily(t IRType) bool {
	switch t {
	case INT, SHORT, CHAR, BYTE, BOOLEAN, ZERO, CONST1:
		return true
	default:
		return false
	}
}

// Join computes the least upper bound of a and b. Join is commutative,
// associative, idempotent and monotone; the implementation normalizes
// the unordered pair so the switch below handles each pair once.
func Join(a, b IRType) IRType {
	if a == b {
		return a
	}
	// Normalize so the switch below only needs to handle each unordered
	// pair once.
	a, b = orderedPair(a, b)

	switch {
	case a == BOTTOM:
		return b
	case b == TOP:
		return TOP
	case a == TOP:
		return TOP
	}

	if IsWide(a) || IsWide(b) {
		if a == CONST2 && IsWide(b) {
			return b // CONST2 ⊔ {LONG1,LONG2,DOUBLE1,DOUBLE2} commits to b's family/half
		}
		// Narrow joined with wide, distinct halves of one family, or
		// LONG vs DOUBLE: all conflicts.
		return TOP
	}

	switch {
	case a == ZERO && b == REFERENCE:
		return REFERENCE
	case a == ZERO && narrowIntFamily(b):
		return b
	case a == ZERO && b == FLOAT:
		return FLOAT
	case a == ZERO && b == SCALAR:
		return SCALAR
	case a == CONST1 && narrowIntFamily(b):
		return INT
	case a == CONST1 && b == FLOAT:
		return FLOAT
	case a == CONST1 && b == REFERENCE:
		return REFERENCE
	case a == CONST1 && b == SCALAR:
		return SCALAR
	case narrowIntFamily(a) && narrowIntFamily(b):
		return INT
	case narrowIntFamily(a) && b == FLOAT:
		return SCALAR // int-or-float: no common narrow kind, but still a 32-bit scalar
	case a == FLOAT && narrowIntFamily(b):
		return SCALAR
	case narrowIntFamily(a) && b == SCALAR:
		return SCALAR
	case a == FLOAT && b == SCALAR:
		return SCALAR
	}

	return TOP
}

// orderedPair returns (a, b) sorted ascending over the underlying
// integer representation.
func orderedPair[T constraints.Ordered](a, b T) (T, T) {
	if a > b {
		return b, a
	}
	return a, b
}

// Leq reports whether a is less than or equal to b in the lattice order,
// i.e. Join(a, b) == b.
func Leq(a, b IRType) bool {
	return Join(a, b) == b
}

// Nullness is the reference-domain's nullness component.
type Nullness uint8

const (
	UnknownNull Nullness = iota
	NotNull
	Null
	MaybeNull
)

func (n Nullness) String() string {
	switch n {
	case NotNull:
		return "NOT_NULL"
	case Null:
		return "NULL"
	case MaybeNull:
		return "MAYBE_NULL"
	default:
		return "UNKNOWN"
	}
}

// JoinNullness computes the least-upper-bound of two nullness flags: known,
// agreeing facts are kept; anything else degrades to MaybeNull/Unknown.
func JoinNullness(a, b Nullness) Nullness {
	if a == b {
		return a
	}
	if a == UnknownNull || b == UnknownNull {
		return UnknownNull
	}
	return MaybeNull
}

// ClassHierarchy is the subset of dex/hierarchy.Hierarchy that the
// reference-type domain needs for its own join (least common superclass).
// DexTypeDomain is defined here, in the leaf lattice package, so it stays
// free of scalar/transfer concerns; it depends on this narrow interface
// rather than on dex/hierarchy directly, and *hierarchy.Hierarchy
// satisfies it.
type ClassHierarchy interface {
	LeastCommonSuperclass(a, b ir.DexType) (ir.DexType, bool)
}

// DexTypeDomain is the reference-type domain carried alongside the
// scalar lattice: an optional concrete class identity, paired with a
// nullness flag.
type DexTypeDomain struct {
	Class    ir.DexType
	HasClass bool
	Null     Nullness
}

// Unknown is the domain's bottom-like "nothing known yet" element.
var Unknown = DexTypeDomain{Null: UnknownNull}

// NewKnown returns a domain value asserting a concrete class.
func NewKnown(t ir.DexType, null Nullness) DexTypeDomain {
	return DexTypeDomain{Class: t, HasClass: true, Null: null}
}

// Join computes the pointwise join of two reference-domain values: class
// identity joins to their least common superclass (absent if either side
// is absent), nullness joins via JoinNullness.
func (d DexTypeDomain) Join(o DexTypeDomain, h ClassHierarchy) DexTypeDomain {
	out := DexTypeDomain{Null: JoinNullness(d.Null, o.Null)}
	if d.HasClass && o.HasClass && h != nil {
		if lub, ok := h.LeastCommonSuperclass(d.Class, o.Class); ok {
			out.Class, out.HasClass = lub, true
		}
	}
	return out
}
