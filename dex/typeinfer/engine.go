package typeinfer

import (
	"golang.org/x/tools/container/intsets"

	"github.com/dextype/typecore/dex/hierarchy"
	"github.com/dextype/typecore/dex/ir"
	"github.com/dextype/typecore/dex/lattice"
)

// Result is the materialized output of running the fixpoint engine on
// one method: the entry environment of every instruction, plus the
// precondition violations observed while replaying the stable states.
// The engine itself never errors; dex/typecheck does not read Viol but
// re-runs Transfer on each entry environment and reports the first
// violation in program order.
type Result struct {
	entries []*Env // indexed by insn.ID
	Viol    []Violation
}

// EntryEnv returns the environment in effect immediately before insn
// executes.
func (r *Result) EntryEnv(insn *ir.Instruction) *Env { return r.entries[insn.ID] }

// Run drives the monotone forward fixpoint over method, using h to resolve reference-domain joins and per-opcode reference
// preconditions, and opts to toggle the checked modes.
func Run(method *ir.Method, h *hierarchy.Hierarchy, opts Options) *Result {
	n := len(method.Blocks)
	blockEntry := make([]*Env, n)
	blockExit := make([]*Env, n)
	visited := make([]bool, n)

	init := initialEnv(method, h, opts)
	blockEntry[method.Entry().RPOIndex] = init

	// First pass in reverse postorder, then a worklist over blocks whose
	// entry state changed. queued dedupes the worklist by RPO index so a block with many predecessors isn't requeued once per
	// changed predecessor in the same round — the sparse int set is a
	// cheaper fit here than a map[int]bool at the block counts real
	// methods reach.
	queued := &intsets.Sparse{}
	worklist := make([]*ir.BasicBlock, len(method.Blocks))
	copy(worklist, method.Blocks)
	for _, bb := range worklist {
		queued.Insert(bb.RPOIndex)
	}

	for len(worklist) > 0 {
		bb := worklist[0]
		worklist = worklist[1:]
		queued.Remove(bb.RPOIndex)

		entry := joinPreds(bb, blockExit, visited, h)
		if bb == method.Entry() {
			// A back edge into the entry block still joins against the
			// signature-derived initial state, not just predecessor exits.
			if entry == nil {
				entry = init
			} else if entry != init {
				entry = Join(entry, init, h)
			}
		}
		if entry == nil {
			entry = NewBottomEnv(method.RegisterCount)
		}

		if visited[bb.RPOIndex] && blockEntry[bb.RPOIndex] != nil && entry.Equal(blockEntry[bb.RPOIndex]) {
			continue
		}
		blockEntry[bb.RPOIndex] = entry
		visited[bb.RPOIndex] = true

		exit := entry.Clone()
		for _, insn := range bb.Instrs {
			Transfer(insn, exit, h, opts)
		}
		changed := blockExit[bb.RPOIndex] == nil || !blockExit[bb.RPOIndex].Equal(exit)
		blockExit[bb.RPOIndex] = exit

		if changed {
			for _, s := range bb.Succs {
				if queued.Insert(s.RPOIndex) {
					worklist = append(worklist, s)
				}
			}
		}
	}

	// Materialize per-instruction entry environments by replaying
	// the transfer function once more over each block's now-stable entry
	// state.
	res := &Result{entries: make([]*Env, countInstrs(method))}
	for _, bb := range method.Blocks {
		cur := blockEntry[bb.RPOIndex]
		if cur == nil {
			cur = NewBottomEnv(method.RegisterCount)
		}
		cur = cur.Clone()
		for _, insn := range bb.Instrs {
			res.entries[insn.ID] = cur.Clone()
			vs := Transfer(insn, cur, h, opts)
			res.Viol = append(res.Viol, vs...)
		}
	}
	return res
}

func countInstrs(m *ir.Method) int {
	n := 0
	for _, bb := range m.Blocks {
		n += len(bb.Instrs)
	}
	return n
}

func joinPreds(bb *ir.BasicBlock, blockExit []*Env, visited []bool, h *hierarchy.Hierarchy) *Env {
	var acc *Env
	for _, p := range bb.Preds {
		pe := blockExit[p.RPOIndex]
		if pe == nil || !visited[p.RPOIndex] {
			continue // unreachable predecessor contributes BOTTOM
		}
		if acc == nil {
			acc = pe.Clone()
		} else {
			acc = Join(acc, pe, h)
		}
	}
	return acc
}

// initialEnv builds the entry environment for the method's entry block:
// parameter registers get their declared types, the receiver gets the declaring-class reference or
// UNINITIALIZED_THIS for constructors, remaining registers are TOP.
func initialEnv(m *ir.Method, h *hierarchy.Hierarchy, opts Options) *Env {
	e := NewEnv(m.RegisterCount)
	params := m.Proto.Params
	regs := m.ParamRegs

	pi := 0
	ri := 0
	if !m.IsStatic {
		recv := regs[0]
		if m.Name == "<init>" {
			e.Regs[recv] = RegState{Scalar: lattice.UNINIT, Ref: lattice.NewKnown(m.Owner, lattice.NotNull)}
		} else {
			e.Regs[recv] = RegState{Scalar: lattice.REFERENCE, Ref: lattice.NewKnown(m.Owner, lattice.NotNull)}
		}
		ri = 1
	}
	for pi < len(params) && ri < len(regs) {
		p := params[pi]
		r := regs[ri]
		if p.IsPrimitive() {
			scalar, wide := scalarForPrimitive(p)
			if wide {
				low, high := wideHalves(scalar)
				e.SetWide(r, low, high)
				ri += 2
			} else {
				e.Regs[r] = RegState{Scalar: scalar, Ref: lattice.Unknown}
				ri++
			}
		} else {
			e.Regs[r] = RegState{Scalar: lattice.REFERENCE, Ref: lattice.NewKnown(p, lattice.MaybeNull)}
			ri++
		}
		pi++
	}
	return e
}
