package resolve

import (
	"github.com/dextype/typecore/dex/ir"
	"github.com/dextype/typecore/dex/typecheck"
)

// RtypeCandidate records a method whose every return-object source
// infers to a class strictly more specific than its declared return
// type.
type RtypeCandidate struct {
	Method *ir.Method
	NewRet ir.DexType
}

// collectRtypeCandidate computes the join of every return-object source's
// inferred class in method, using chk's already-completed fixpoint. If
// the result is strictly more specific than the declared return type, it
// is recorded under the Resolver's candidate lock (methods run
// concurrently, so this is the one piece of resolve-phase bookkeeping
// that isn't purely local to the method being processed).
func (r *Resolver) collectRtypeCandidate(method *ir.Method, chk *typecheck.Checker, stats *Stats) {
	declared := method.Proto.Return
	if !declared.IsObject() || chk.Fail() {
		return
	}

	var joined ir.DexType
	haveJoined := false
	ok := true
	method.Instructions(func(insn *ir.Instruction) bool {
		if insn.Op != ir.OpReturnObject {
			return true
		}
		cls, has := chk.GetDexType(insn, insn.Srcs[0])
		if !has {
			ok = false
			return false
		}
		if !haveJoined {
			joined, haveJoined = cls, true
			return true
		}
		lub, found := r.h.LeastCommonSuperclass(joined, cls)
		if !found {
			ok = false
			return false
		}
		joined = lub
		return true
	})
	if !ok || !haveJoined {
		return
	}
	if joined == declared || joined == (ir.DexType{}) {
		return
	}
	if !r.h.IsSubtype(joined, declared) {
		return
	}
	if !r.compatibleAcrossOverriders(method, joined) {
		return
	}

	r.candMu.Lock()
	r.candidates = append(r.candidates, RtypeCandidate{Method: method, NewRet: joined})
	r.candMu.Unlock()
	stats.RtypeSpecializationCandidates++
}

// compatibleAcrossOverriders requires every concrete override of method
// (if any are registered in the hierarchy) to be able to adopt the same
// narrowed return type without violating covariant-return compatibility;
// conservatively, this only holds when method has no known overriders,
// since this package doesn't track the full method-override graph beyond
// single-step ResolveOverride lookups.
func (r *Resolver) compatibleAcrossOverriders(method *ir.Method, narrowed ir.DexType) bool {
	cls, ok := r.h.Lookup(method.Owner)
	if !ok {
		return true
	}
	for _, iface := range cls.Interfaces {
		if r.h.ResolveOverride(&ir.MethodRef{Owner: iface, Name: method.Name, Proto: method.Proto}, method.Owner) != nil {
			return false
		}
	}
	return true
}

// Candidates returns the collected return-type specialization candidates.
// Valid after RunProgram with Options.SpecializeRtype set.
func (r *Resolver) Candidates() []RtypeCandidate {
	r.candMu.Lock()
	defer r.candMu.Unlock()
	out := make([]RtypeCandidate, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// ApplySpecializations rewrites each candidate method's declared return
// type to its narrowed type, then re-runs virtual-call refinement over
// every method so that call sites whose inferred receiver now sees the
// specialized return can be narrowed further. The re-run does not
// collect new candidates.
func (r *Resolver) ApplySpecializations(methods []*ir.Method) Stats {
	r.candMu.Lock()
	for _, c := range r.candidates {
		c.Method.Proto.Return = c.NewRet
	}
	r.candMu.Unlock()

	r.rerunning = true
	return r.RunProgram(methods)
}
