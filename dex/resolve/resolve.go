// Package resolve implements the reference resolver: it runs type
// inference on each method, then uses the inferred types to rebind
// symbolic field/method references to concrete definitions,
// devirtualize call sites, and rewrite invoke-super to invoke-virtual
// where the two dispatch identically. Every rewrite is conservative;
// any uncertainty leaves the site unchanged.
package resolve

import (
	"runtime"
	"strings"
	"sync"

	"golang.org/x/tools/container/intsets"

	"github.com/dextype/typecore/dex/hierarchy"
	"github.com/dextype/typecore/dex/ir"
	"github.com/dextype/typecore/dex/typecheck"
)

// Options is the resolver's recognized configuration.
type Options struct {
	RefineToExternal  bool
	Desuperify        bool
	SpecializeRtype   bool
	ExcludedExternals []string
}

func (o Options) excluded(name string) bool {
	for _, prefix := range o.ExcludedExternals {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Resolver runs the resolver pass over one or more methods against a
// shared Hierarchy and MinSDKSurface, both built before the parallel
// phase and read-only during it.
type Resolver struct {
	h      *hierarchy.Hierarchy
	minSDK *hierarchy.MinSDKSurface
	opts   Options

	candMu     sync.Mutex
	candidates []RtypeCandidate
	rerunning  bool
}

// New creates a Resolver. minSDK may be nil if RefineToExternal is never
// set (the gate is only consulted for external rebinds).
func New(h *hierarchy.Hierarchy, minSDK *hierarchy.MinSDKSurface, opts Options) *Resolver {
	return &Resolver{h: h, minSDK: minSDK, opts: opts}
}

// RunMethod resolves every field/method reference in method and returns
// the counters for just this method. It is safe to call concurrently
// with other RunMethod calls on different methods against the same
// Resolver; no two goroutines touch the same method, and the only
// shared mutation, promoting a class to public, is serialized inside
// hierarchy.Hierarchy.SetPublic.
func (r *Resolver) RunMethod(method *ir.Method) Stats {
	var stats Stats

	chk := typecheck.New(method, r.h, typecheck.Options{})
	chk.Run()

	// visited ensures each instruction id is rewritten at most once per
	// pass, even if the block iteration order revisits an instruction.
	visited := intsets.Sparse{}
	method.Instructions(func(insn *ir.Instruction) bool {
		if !visited.Insert(insn.ID) {
			return true
		}
		switch insn.Op {
		case ir.OpIget, ir.OpIput, ir.OpSget, ir.OpSput:
			r.resolveFieldRef(insn, &stats)
		case ir.OpInvoke:
			r.resolveMethodRef(method, insn, &stats)
			if r.opts.Desuperify {
				r.tryDesuperify(method, insn, &stats)
			}
			r.refineVirtualCall(method, insn, chk, &stats)
		}
		return true
	})

	if r.opts.SpecializeRtype && !r.rerunning {
		r.collectRtypeCandidate(method, chk, &stats)
	}

	return stats
}

// RunProgram resolves every method in methods in parallel, one
// goroutine per method behind a runtime.GOMAXPROCS-sized semaphore, and
// reduces the per-method Stats commutatively.
func (r *Resolver) RunProgram(methods []*ir.Method) Stats {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total Stats
	)
	sem := make(chan struct{}, runtime.GOMAXPROCS(-1))
	wg.Add(len(methods))
	for _, m := range methods {
		m := m
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s := r.RunMethod(m)
			mu.Lock()
			total = total.Add(s)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return total
}

func (r *Resolver) resolveFieldRef(insn *ir.Instruction, stats *Stats) {
	fref := insn.Field
	if fref == nil || fref.IsDef() {
		return
	}
	kind := hierarchy.SearchInstanceField
	if insn.Op == ir.OpSget || insn.Op == ir.OpSput {
		kind = hierarchy.SearchStaticField
	}
	real := r.h.ResolveField(fref, kind)
	if real == nil || real == fref {
		return
	}

	if r.h.IsExternal(real.Owner) {
		if !r.opts.RefineToExternal {
			return
		}
		if r.minSDK == nil || !r.minSDK.HasField(real) {
			return
		}
	}

	insn.Field = real
	stats.FieldRefsResolved++

	cls, ok := r.h.Lookup(real.Owner)
	if !ok {
		return
	}
	if !cls.IsPublic() {
		if cls.External {
			return // field resolved; no promotion attempted for external owners
		}
		r.h.SetPublic(real.Owner)
	}
}

func (r *Resolver) searchKindFor(insn *ir.Instruction) hierarchy.SearchKind {
	switch insn.InvokeKind {
	case ir.InvokeVirtual:
		return hierarchy.SearchVirtual
	case ir.InvokeSuper:
		return hierarchy.SearchSuper
	case ir.InvokeInterface:
		return hierarchy.SearchInterface
	case ir.InvokeStatic:
		return hierarchy.SearchStatic
	default:
		return hierarchy.SearchDirect
	}
}

func (r *Resolver) resolveMethodRef(caller *ir.Method, insn *ir.Instruction, stats *Stats) {
	mref := insn.Method
	if mref == nil {
		return
	}
	mdef := r.h.ResolveMethod(mref.Owner, mref.Name, mref.Proto, r.searchKindFor(insn))
	if mdef == nil || mdef == mref || mdef.Equal(mref) {
		return
	}

	isExternal := r.h.IsExternal(mdef.Owner)
	if isExternal {
		if !r.opts.RefineToExternal {
			return
		}
		if r.minSDK == nil || !r.minSDK.HasMethod(mdef) {
			return
		}
	}

	cls, ok := r.h.Lookup(mdef.Owner)
	if !ok {
		return
	}
	if !cls.IsPublic() {
		if cls.External {
			return
		}
		r.h.SetPublic(mdef.Owner)
	}

	insn.Method = mdef
	stats.MethodRefsResolved++
}

// tryDesuperify rewrites invoke-super to invoke-virtual when the callee
// resolved through the caller's supertype chain is final, non-external
// and not an interface default method. A final callee cannot be
// overridden below the caller, so both dispatch kinds land on the same
// definition and the virtual form is cheaper at runtime.
func (r *Resolver) tryDesuperify(caller *ir.Method, insn *ir.Instruction, stats *Stats) {
	if insn.InvokeKind != ir.InvokeSuper || insn.Method == nil {
		return
	}
	if _, ok := r.h.Lookup(caller.Owner); !ok {
		return
	}
	calleeCls, ok := r.h.Lookup(insn.Method.Owner)
	if !ok || calleeCls.Iface {
		return
	}

	callee := r.h.ResolveMethod(caller.Owner, insn.Method.Name, insn.Method.Proto, hierarchy.SearchSuper)
	if callee == nil || r.h.IsExternal(callee.Owner) || !r.h.IsFinal(callee) {
		return
	}

	insn.InvokeKind = ir.InvokeVirtual
	insn.Method = callee
	stats.InvokeSuperRemoved++
}

// refineVirtualCall consults the inferred concrete class of the
// receiver to devirtualize invoke-virtual/invoke-interface sites. A
// rewrite requires the target to resolve against the inferred class,
// not match an excluded-external prefix, and be accessible from the
// caller.
func (r *Resolver) refineVirtualCall(caller *ir.Method, insn *ir.Instruction, chk *typecheck.Checker, stats *Stats) {
	if insn.Method == nil {
		return
	}
	if insn.InvokeKind != ir.InvokeVirtual && insn.InvokeKind != ir.InvokeInterface {
		return
	}
	if len(insn.Args) == 0 || chk.Fail() {
		return
	}

	recvType, ok := chk.GetDexType(insn, insn.Args[0])
	if !ok {
		return
	}

	resolved := r.h.ResolveOverride(insn.Method, recvType)
	if resolved == nil || resolved == insn.Method || resolved.Equal(insn.Method) {
		return
	}

	name := resolved.Owner.Descriptor + "." + resolved.Name
	if r.h.IsExternal(resolved.Owner) && r.opts.excluded(name) {
		return
	}
	if !r.accessible(caller, resolved) {
		return
	}

	wasInterface := insn.InvokeKind == ir.InvokeInterface
	insn.Method = resolved
	if wasInterface && !r.h.IsInterface(resolved.Owner) {
		insn.InvokeKind = ir.InvokeVirtual
		stats.InvokeInterfaceReplaced++
	} else {
		stats.InvokeVirtualRefined++
	}
}

// accessible is a conservative approximation of access-control
// visibility: a resolved member is usable from caller if it's public,
// or owned by the caller's own class.
func (r *Resolver) accessible(caller *ir.Method, resolved *ir.MethodRef) bool {
	if resolved.Owner == caller.Owner {
		return true
	}
	return r.h.IsPublic(resolved.Owner)
}
