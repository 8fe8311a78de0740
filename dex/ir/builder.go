package ir

// Builder assembles a Method's CFG. It exists so that tests (and the
// cmd/typecore fixture loader) can construct small, literal CFGs
// without reimplementing RPO numbering and instruction-id assignment by
// hand; a real DEX/CFG builder lives outside this module's scope.
type Builder struct {
	method *Method
}

// NewBuilder starts building a method with the given signature. regs is
// the method's register count; paramRegs are the registers the
// parameters (receiver included, for instance methods) occupy.
func NewBuilder(owner DexType, name string, proto *Proto, isStatic bool, regs int, paramRegs []Reg) *Builder {
	return &Builder{
		method: &Method{
			Owner:         owner,
			Name:          name,
			Proto:         proto,
			IsStatic:      isStatic,
			RegisterCount: regs,
			ParamRegs:     paramRegs,
		},
	}
}

// Block creates a new, initially disconnected basic block.
func (b *Builder) Block() *BasicBlock {
	bb := &BasicBlock{ID: len(b.method.Blocks)}
	b.method.Blocks = append(b.method.Blocks, bb)
	return bb
}

// AddEdge records a possible control transfer from src to dst.
func (b *Builder) AddEdge(src, dst *BasicBlock) {
	src.Succs = append(src.Succs, dst)
}

// Emit appends insn to block, assigning it a stable index.
func Emit(block *BasicBlock, insn *Instruction) *Instruction {
	insn.block = block
	insn.index = len(block.Instrs)
	block.Instrs = append(block.Instrs, insn)
	return insn
}

// Finish computes predecessor edges, numbers blocks and instructions, and
// reorders Blocks into reverse postorder with entry as Blocks[0]. entry
// must have already been added via Block().
func (b *Builder) Finish(entry *BasicBlock) *Method {
	m := b.method

	var postorder []*BasicBlock
	visited := make(map[*BasicBlock]bool, len(m.Blocks))
	var visit func(*BasicBlock)
	visit = func(bb *BasicBlock) {
		if visited[bb] {
			return
		}
		visited[bb] = true
		for _, s := range bb.Succs {
			visit(s)
		}
		postorder = append(postorder, bb)
	}
	visit(entry)

	rpo := make([]*BasicBlock, len(postorder))
	for i, bb := range postorder {
		rpo[len(postorder)-1-i] = bb
	}
	for i, bb := range rpo {
		bb.RPOIndex = i
	}
	m.Blocks = rpo

	for _, bb := range rpo {
		for _, s := range bb.Succs {
			s.Preds = append(s.Preds, bb)
		}
	}

	id := 0
	for _, bb := range rpo {
		for _, insn := range bb.Instrs {
			insn.ID = id
			id++
		}
	}

	return m
}
