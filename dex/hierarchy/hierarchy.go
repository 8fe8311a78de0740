// Package hierarchy models the class-hierarchy and min-SDK-surface
// collaborators the analyses depend on: method/field lookup, subtyping,
// and external/public/final/interface predicates. A full optimizer
// pipeline would populate this package from its class loader; the
// in-memory implementation here is complete enough to drive
// dex/typeinfer, dex/typecheck and dex/resolve in tests and from the
// CLI.
package hierarchy

import (
	"fmt"
	"sync"

	"github.com/dextype/typecore/dex/ir"
)

// SearchKind selects which namespace a Resolve* lookup walks, mirroring
// Dalvik's distinct static-field/instance-field and virtual/direct/
// interface/super method search orders.
type SearchKind uint8

const (
	SearchInstanceField SearchKind = iota
	SearchStaticField
	SearchVirtual
	SearchSuper
	SearchInterface
	SearchStatic
	SearchDirect
)

// Class is one class or interface node in the hierarchy. Public is the
// visibility as loaded; after AddClass it must only be changed through
// Hierarchy.SetPublic, and only read through IsPublic.
type Class struct {
	Type       ir.DexType
	Super      ir.DexType // zero value for java.lang.Object and for interfaces with no super
	Interfaces []ir.DexType
	External   bool
	Iface      bool
	Public     bool

	Fields  []*ir.FieldRef
	Methods []*ir.MethodRef
	// FinalMethods records which of Methods are declared final.
	FinalMethods map[string]bool // keyed by Name+proto string, see methodKey

	mu sync.Mutex
}

func methodKey(name string, p *ir.Proto) string {
	s := name + "("
	for _, t := range p.Params {
		s += t.Descriptor
	}
	return s + ")" + p.Return.Descriptor
}

// IsPublic reports the class's current visibility. It is safe for
// concurrent use; see SetPublic.
func (c *Class) IsPublic() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Public
}

// Hierarchy is the class-relationship index that dex/resolve and
// dex/typeinfer query. It is built once before the parallel phase and
// never mutated afterwards except through SetPublic, the one serialized
// cross-method write.
type Hierarchy struct {
	classes map[ir.DexType]*Class
}

// New creates an empty hierarchy; use AddClass to populate it before
// passing it to the resolver or checker.
func New() *Hierarchy {
	return &Hierarchy{classes: map[ir.DexType]*Class{}}
}

// AddClass registers a class node. AddClass is not safe for concurrent
// use; it is intended to run to completion before any analysis starts.
func (h *Hierarchy) AddClass(c *Class) {
	if c.FinalMethods == nil {
		c.FinalMethods = map[string]bool{}
	}
	h.classes[c.Type] = c
}

func (h *Hierarchy) Lookup(t ir.DexType) (*Class, bool) {
	c, ok := h.classes[t]
	return c, ok
}

func (h *Hierarchy) IsExternal(t ir.DexType) bool {
	c, ok := h.classes[t]
	return !ok || c.External
}

func (h *Hierarchy) IsInterface(t ir.DexType) bool {
	c, ok := h.classes[t]
	return ok && c.Iface
}

func (h *Hierarchy) IsPublic(t ir.DexType) bool {
	c, ok := h.classes[t]
	return !ok || c.IsPublic()
}

// SetPublic promotes t to public. It is idempotent and safe for
// concurrent use from multiple method-analysis goroutines.
func (h *Hierarchy) SetPublic(t ir.DexType) {
	c, ok := h.classes[t]
	if !ok {
		return
	}
	c.mu.Lock()
	c.Public = true
	c.mu.Unlock()
}

func (h *Hierarchy) IsFinal(m *ir.MethodRef) bool {
	c, ok := h.classes[m.Owner]
	if !ok {
		return false
	}
	return c.FinalMethods[methodKey(m.Name, m.Proto)]
}

// IsSubtype reports whether sub == super, or sub transitively
// extends/implements super.
func (h *Hierarchy) IsSubtype(sub, super ir.DexType) bool {
	if sub == super {
		return true
	}
	seen := map[ir.DexType]bool{}
	var walk func(t ir.DexType) bool
	walk = func(t ir.DexType) bool {
		if seen[t] {
			return false
		}
		seen[t] = true
		c, ok := h.classes[t]
		if !ok {
			return false
		}
		if c.Super == super {
			return true
		}
		for _, i := range c.Interfaces {
			if i == super || walk(i) {
				return true
			}
		}
		if c.Super != (ir.DexType{}) && walk(c.Super) {
			return true
		}
		return false
	}
	return walk(sub)
}

// LeastCommonSuperclass returns the most specific type both a and b are
// subtypes of, walking superclass chains only (interfaces are excluded,
// matching the JVM/Dalvik verifier's own lub computation). It returns
// (ir.TypeObject, true) when no more specific common ancestor is known.
func (h *Hierarchy) LeastCommonSuperclass(a, b ir.DexType) (ir.DexType, bool) {
	if a == b {
		return a, true
	}
	chain := func(t ir.DexType) []ir.DexType {
		var out []ir.DexType
		seen := map[ir.DexType]bool{}
		for {
			out = append(out, t)
			if seen[t] {
				break
			}
			seen[t] = true
			c, ok := h.classes[t]
			if !ok || c.Super == (ir.DexType{}) {
				break
			}
			t = c.Super
		}
		return out
	}
	ca, cb := chain(a), chain(b)
	inB := make(map[ir.DexType]bool, len(cb))
	for _, t := range cb {
		inB[t] = true
	}
	for _, t := range ca {
		if inB[t] {
			return t, true
		}
	}
	return ir.TypeObject, true
}

// ResolveField looks up (owner, name, type) with the staticness kind
// selects, searching the owner's own fields, then its superclass
// (recursively), then its interfaces. It returns the first matching
// definition, or nil if none is found; it does not check whether further
// definitions would also match.
func (h *Hierarchy) ResolveField(ref *ir.FieldRef, kind SearchKind) *ir.FieldRef {
	var found *ir.FieldRef
	seen := map[ir.DexType]bool{}
	var walk func(t ir.DexType)
	walk = func(t ir.DexType) {
		if seen[t] || found != nil {
			return
		}
		seen[t] = true
		c, ok := h.classes[t]
		if !ok {
			return
		}
		for _, f := range c.Fields {
			if f.Name == ref.Name && f.Type == ref.Type {
				static := kind == SearchStaticField
				if f.IsStatic() == static {
					found = f
					return
				}
			}
		}
		if c.Super != (ir.DexType{}) {
			walk(c.Super)
		}
		for _, i := range c.Interfaces {
			walk(i)
		}
	}
	walk(ref.Owner)
	return found
}

// ResolveMethod looks up a callee along the search order appropriate for
// kind, starting from owner. For SearchSuper, the search starts at
// owner's superclass, matching Dalvik's invoke-super semantics (the
// caller's own class is excluded).
func (h *Hierarchy) ResolveMethod(owner ir.DexType, name string, proto *ir.Proto, kind SearchKind) *ir.MethodRef {
	key := methodKey(name, proto)
	start := owner
	if kind == SearchSuper {
		c, ok := h.classes[owner]
		if !ok || c.Super == (ir.DexType{}) {
			return nil
		}
		start = c.Super
	}

	switch kind {
	case SearchStatic, SearchDirect:
		c, ok := h.classes[start]
		if !ok {
			return nil
		}
		for _, m := range c.Methods {
			if methodKey(m.Name, m.Proto) == key {
				return m
			}
		}
		return nil
	default: // virtual, super, interface: walk up for the first declaration
		seen := map[ir.DexType]bool{}
		var walk func(t ir.DexType) *ir.MethodRef
		walk = func(t ir.DexType) *ir.MethodRef {
			if seen[t] {
				return nil
			}
			seen[t] = true
			c, ok := h.classes[t]
			if !ok {
				return nil
			}
			for _, m := range c.Methods {
				if methodKey(m.Name, m.Proto) == key {
					return m
				}
			}
			if c.Super != (ir.DexType{}) {
				if m := walk(c.Super); m != nil {
					return m
				}
			}
			for _, i := range c.Interfaces {
				if m := walk(i); m != nil {
					return m
				}
			}
			return nil
		}
		return walk(start)
	}
}

// ResolveOverride returns the most specific override of virtualMethod
// that receiverType (or its superclasses) declares, used by the resolver
// to devirtualize a call site once the inferred receiver type is known.
// It returns nil if neither receiverType nor any of its superclasses
// declares the method.
func (h *Hierarchy) ResolveOverride(virtualMethod *ir.MethodRef, receiverType ir.DexType) *ir.MethodRef {
	c, ok := h.classes[receiverType]
	if !ok {
		return nil
	}
	key := methodKey(virtualMethod.Name, virtualMethod.Proto)
	for _, m := range c.Methods {
		if methodKey(m.Name, m.Proto) == key {
			return m
		}
	}
	if c.Super != (ir.DexType{}) {
		return h.ResolveOverride(virtualMethod, c.Super)
	}
	return nil
}

// MinSDKSurface is the membership test that gates rewrites of external
// references: a target may only be rebound to if it actually exists at
// the configured minimum API level.
type MinSDKSurface struct {
	methods map[string]bool
	fields  map[string]bool
}

func NewMinSDKSurface() *MinSDKSurface {
	return &MinSDKSurface{methods: map[string]bool{}, fields: map[string]bool{}}
}

func (s *MinSDKSurface) AddMethod(m *ir.MethodRef) {
	s.methods[fmt.Sprintf("%s.%s%s", m.Owner.Descriptor, m.Name, protoKey(m.Proto))] = true
}

func (s *MinSDKSurface) AddField(f *ir.FieldRef) {
	s.fields[fmt.Sprintf("%s.%s:%s", f.Owner.Descriptor, f.Name, f.Type.Descriptor)] = true
}

func (s *MinSDKSurface) HasMethod(m *ir.MethodRef) bool {
	return s.methods[fmt.Sprintf("%s.%s%s", m.Owner.Descriptor, m.Name, protoKey(m.Proto))]
}

func (s *MinSDKSurface) HasField(f *ir.FieldRef) bool {
	return s.fields[fmt.Sprintf("%s.%s:%s", f.Owner.Descriptor, f.Name, f.Type.Descriptor)]
}

func protoKey(p *ir.Proto) string {
	s := "("
	for _, t := range p.Params {
		s += t.Descriptor
	}
	return s + ")" + p.Return.Descriptor
}
