package typeinfer

import (
	"fmt"

	"github.com/dextype/typecore/dex/hierarchy"
	"github.com/dextype/typecore/dex/ir"
	"github.com/dextype/typecore/dex/lattice"
)

// Kind tags the category of type error a precondition check failed
// with. The engine itself never raises these (it runs under permissive
// semantics); Transfer records them on the returned Violation and
// dex/typecheck is the layer that turns the first one into a reported
// error.
type Kind uint8

const (
	UndefinedOperand Kind = iota
	WideMismatch
	ScalarTypeMismatch
	ReferenceTypeMismatch
	ReturnTypeMismatch
	OverwriteThis
)

// Violation is a single precondition failure produced while transferring
// one instruction.
type Violation struct {
	Kind    Kind
	Insn    *ir.Instruction
	Message string
}

// Options configures the transfer function's checked, opt-in behaviors:
// the strict treatment of moves from undefined registers, and the
// receiver-overwrite check.
type Options struct {
	VerifyMoves          bool
	CheckNoOverwriteThis bool
	// ThisReg and IsStatic identify the receiver register for the
	// overwrite-this check; IsStatic true disables it regardless of
	// CheckNoOverwriteThis. In the zero value IsStatic is false and ThisReg
	// is v0.
	ThisReg  ir.Reg
	IsStatic bool
}

// Transfer applies insn's abstract semantics to state in place, returning
// the (possibly empty) set of precondition violations observed. state is
// mutated to become the *exit* environment of insn; the caller is
// responsible for snapshotting the *entry* environment beforehand if it
// needs both.
func Transfer(insn *ir.Instruction, state *Env, h *hierarchy.Hierarchy, opts Options) []Violation {
	var vs []Violation
	report := func(k Kind, msg string, args ...interface{}) {
		vs = append(vs, Violation{Kind: k, Insn: insn, Message: fmt.Sprintf(msg, args...)})
	}

	if !opts.IsStatic && opts.CheckNoOverwriteThis && insn.HasDest && insn.Dest == opts.ThisReg {
		report(OverwriteThis, "instruction overwrites receiver register v%d", opts.ThisReg)
	}

	checkScalar := func(r ir.Reg, want lattice.IRType, ctx string) lattice.IRType {
		got := state.Get(r).Scalar
		if got == lattice.TOP {
			if !opts.VerifyMoves && (insn.Op == ir.OpMove || insn.Op == ir.OpMoveWide || insn.Op == ir.OpMoveObject) {
				return got
			}
			report(UndefinedOperand, "%s: v%d is undefined (TOP)", ctx, r)
			return got
		}
		if !lattice.Leq(got, want) {
			if lattice.IsWide(got) && !lattice.IsWide(want) {
				report(WideMismatch, "%s: v%d is the half of a wide pair (%s), expected a narrow %s", ctx, r, got, want)
			} else {
				report(ScalarTypeMismatch, "%s: v%d has type %s, expected %s", ctx, r, got, want)
			}
		}
		return got
	}

	checkReference := func(r ir.Reg, ctx string) RegState {
		s := state.Get(r)
		if s.Scalar == lattice.TOP {
			if !opts.VerifyMoves && (insn.Op == ir.OpMove || insn.Op == ir.OpMoveWide || insn.Op == ir.OpMoveObject) {
				return s
			}
			report(UndefinedOperand, "%s: v%d is undefined (TOP)", ctx, r)
			return s
		}
		if !lattice.IsReference(s.Scalar) {
			report(ReferenceTypeMismatch, "%s: v%d has type %s, expected a reference", ctx, r, s.Scalar)
		}
		return s
	}

	checkWideLow := func(r ir.Reg, family lattice.IRType, ctx string) {
		got := state.Get(r).Scalar
		if got == lattice.TOP {
			report(UndefinedOperand, "%s: v%d is undefined (TOP)", ctx, r)
			return
		}
		wantLow, wantHigh := wideHalves(family)
		if got != wantLow && got != lattice.CONST2 {
			report(WideMismatch, "%s: v%d has type %s, expected the low half of a %s pair", ctx, r, got, family)
			return
		}
		next := state.Get(r + 1).Scalar
		if next != wantHigh && next != lattice.CONST2 {
			report(WideMismatch, "%s: v%d:v%d is not a valid %s pair (high half is %s)", ctx, r, r+1, family, next)
		}
	}

	switch insn.Op {
	case ir.OpNop, ir.OpMonitorEnter, ir.OpMonitorExit, ir.OpGoto:
		// no operand/destination semantics

	case ir.OpConst:
		if insn.Literal == 0 {
			state.Set(insn.Dest, RegState{Scalar: lattice.ZERO, Ref: lattice.Unknown})
		} else {
			state.Set(insn.Dest, RegState{Scalar: lattice.CONST1, Ref: lattice.Unknown})
		}

	case ir.OpConstWide:
		state.SetWide(insn.Dest, lattice.CONST2, lattice.CONST2)

	case ir.OpConstString:
		state.Set(insn.Dest, RegState{Scalar: lattice.REFERENCE, Ref: lattice.NewKnown(ir.DexType{Descriptor: "Ljava/lang/String;"}, lattice.NotNull)})

	case ir.OpConstClass:
		state.Set(insn.Dest, RegState{Scalar: lattice.REFERENCE, Ref: lattice.NewKnown(ir.DexType{Descriptor: "Ljava/lang/Class;"}, lattice.NotNull)})

	case ir.OpMove:
		src := checkScalar(insn.Srcs[0], lattice.SCALAR, "move")
		state.Set(insn.Dest, RegState{Scalar: src, Ref: lattice.Unknown})

	case ir.OpMoveWide:
		srcLow := state.Get(insn.Srcs[0])
		srcHigh := state.Get(insn.Srcs[0] + 1)
		if srcLow.Scalar == lattice.TOP && !opts.VerifyMoves {
			state.SetWide(insn.Dest, lattice.TOP, lattice.TOP)
			break
		}
		if !wideFamilyOK(srcLow.Scalar) {
			report(WideMismatch, "move-wide: v%d is not a wide low half (%s)", insn.Srcs[0], srcLow.Scalar)
		}
		state.SetWide(insn.Dest, srcLow.Scalar, srcHigh.Scalar)

	case ir.OpMoveObject:
		src := checkReference(insn.Srcs[0], "move-object")
		state.Set(insn.Dest, src)

	case ir.OpMoveException:
		state.Set(insn.Dest, RegState{Scalar: lattice.REFERENCE, Ref: lattice.NewKnown(insn.Type, lattice.NotNull)})

	case ir.OpMoveResult:
		state.Set(insn.Dest, RegState{Scalar: state.Result.Scalar, Ref: lattice.Unknown})

	case ir.OpMoveResultWide:
		if lattice.IsWide(state.Result.Scalar) && state.Result.Scalar != lattice.CONST2 {
			low, high := wideHalves(familyOfScalar(state.Result.Scalar))
			state.SetWide(insn.Dest, low, high)
		} else {
			state.SetWide(insn.Dest, state.Result.Scalar, state.Result.Scalar)
		}

	case ir.OpMoveResultObject:
		state.Set(insn.Dest, state.Result)

	case ir.OpUnOp:
		transferUnOp(insn, state, checkScalar, checkWideLow)

	case ir.OpBinOp:
		transferBinOp(insn, state, checkScalar, checkWideLow)

	case ir.OpConvert:
		transferConvert(insn, state, checkScalar, checkWideLow)

	case ir.OpIf:
		transferIf(insn, state, checkScalar, checkReference)

	case ir.OpSwitch:
		checkScalar(insn.Srcs[0], lattice.INT, "switch")

	case ir.OpReturnVoid:
		// nothing to check

	case ir.OpReturn:
		checkScalar(insn.Srcs[0], lattice.SCALAR, "return")

	case ir.OpReturnWide:
		checkWideLow(insn.Srcs[0], wideFamilyFor(insn.Kind), "return-wide")

	case ir.OpReturnObject:
		checkReference(insn.Srcs[0], "return-object")

	case ir.OpThrow:
		checkReference(insn.Srcs[0], "throw")

	case ir.OpNewInstance:
		// The new object stays UNINITIALIZED<T> until the matching
		// invoke-direct <init> promotes it to REFERENCE<T>.
		state.Set(insn.Dest, RegState{Scalar: lattice.UNINIT, Ref: lattice.NewKnown(insn.Type, lattice.NotNull)})

	case ir.OpNewArray:
		checkScalar(insn.Srcs[0], lattice.INT, "new-array")
		state.Set(insn.Dest, RegState{Scalar: lattice.REFERENCE, Ref: lattice.NewKnown(ir.DexType{Descriptor: "[" + insn.Type.Descriptor}, lattice.NotNull)})

	case ir.OpCheckCast:
		checkReference(insn.Srcs[0], "check-cast")
		// Narrowed unconditionally after the instruction rather than only
		// on the non-throwing successor; a failed cast throws, so every
		// fallthrough path has the narrowed type anyway.
		state.Set(insn.Srcs[0], RegState{Scalar: lattice.REFERENCE, Ref: lattice.NewKnown(insn.Type, lattice.MaybeNull)})

	case ir.OpInstanceOf:
		checkReference(insn.Srcs[0], "instance-of")
		state.Set(insn.Dest, RegState{Scalar: lattice.BOOLEAN, Ref: lattice.Unknown})

	case ir.OpArrayLength:
		checkReference(insn.Srcs[0], "array-length")
		state.Set(insn.Dest, RegState{Scalar: lattice.INT, Ref: lattice.Unknown})

	case ir.OpAget:
		checkReference(insn.Srcs[0], "aget")
		checkScalar(insn.Srcs[1], lattice.INT, "aget")
		elemScalar, elemNullable := elementScalar(insn.Type)
		if lattice.IsWide(elemScalar) {
			low, high := wideHalves(elemScalar)
			state.SetWide(insn.Dest, low, high)
		} else if elemNullable {
			state.Set(insn.Dest, RegState{Scalar: elemScalar, Ref: lattice.NewKnown(insn.Type.Element(), lattice.MaybeNull)})
		} else {
			state.Set(insn.Dest, RegState{Scalar: elemScalar, Ref: lattice.Unknown})
		}

	case ir.OpAput:
		checkReference(insn.Srcs[1], "aput")
		checkScalar(insn.Srcs[2], lattice.INT, "aput")
		elemScalar, _ := elementScalar(insn.Type)
		if lattice.IsWide(elemScalar) {
			checkWideLow(insn.Srcs[0], familyOfScalar(elemScalar), "aput")
		} else {
			checkScalar(insn.Srcs[0], lattice.SCALAR, "aput")
		}

	case ir.OpIget:
		checkReference(insn.Srcs[0], "iget")
		transferFieldGet(insn, state)

	case ir.OpIput:
		checkReference(insn.Srcs[1], "iput")
		transferFieldPut(insn, state, checkScalar, checkWideLow)

	case ir.OpSget:
		transferFieldGet(insn, state)

	case ir.OpSput:
		transferFieldPut(insn, state, checkScalar, checkWideLow)

	case ir.OpFilledNewArray:
		elemRef := insn.Type.IsArray() && !insn.Type.Element().IsPrimitive()
		for _, s := range insn.Srcs {
			if elemRef {
				checkReference(s, "filled-new-array")
			} else {
				checkScalar(s, lattice.SCALAR, "filled-new-array")
			}
		}
		if insn.HasDest {
			state.Set(insn.Dest, RegState{Scalar: lattice.REFERENCE, Ref: lattice.NewKnown(ir.DexType{Descriptor: "[" + insn.Type.Descriptor}, lattice.NotNull)})
		}

	case ir.OpInvoke:
		transferInvoke(insn, state, h, checkScalar, checkReference, checkWideLow, report)

	default:
		report(UndefinedOperand, "unhandled opcode %s", insn.Op)
	}

	if len(vs) > 0 && insn.HasDest {
		// Permissive semantics: a precondition violation makes the
		// destination TOP rather than aborting, so the fixpoint still
		// reaches a sound (if less precise) answer and dex/typecheck can
		// report the first error in program order.
		state.Set(insn.Dest, topState)
		if isWideDestOpcode(insn) {
			state.Regs[insn.Dest+0] = topState
			if int(insn.Dest)+1 < len(state.Regs) {
				state.Regs[insn.Dest+1] = topState
			}
		}
	}

	return vs
}

func isWideDestOpcode(insn *ir.Instruction) bool {
	switch insn.Op {
	case ir.OpConstWide, ir.OpMoveWide, ir.OpMoveResultWide:
		return true
	case ir.OpUnOp, ir.OpBinOp, ir.OpConvert:
		return insn.Kind == ir.KindLong || insn.Kind == ir.KindDouble
	default:
		return false
	}
}

func wideFamilyFor(k ir.NumericKind) lattice.IRType {
	if k == ir.KindDouble {
		return lattice.DOUBLE1
	}
	return lattice.LONG1
}

func familyOfScalar(t lattice.IRType) lattice.IRType {
	if t == lattice.DOUBLE1 || t == lattice.DOUBLE2 {
		return lattice.DOUBLE1
	}
	return lattice.LONG1
}

func wideHalves(family lattice.IRType) (low, high lattice.IRType) {
	switch family {
	case lattice.DOUBLE1, lattice.DOUBLE2:
		return lattice.DOUBLE1, lattice.DOUBLE2
	default:
		return lattice.LONG1, lattice.LONG2
	}
}

func wideFamilyOK(t lattice.IRType) bool {
	return t == lattice.LONG1 || t == lattice.DOUBLE1 || t == lattice.CONST2
}

// elementScalar maps an array element DexType to the scalar lattice
// element aget/aput produce/consume for it, and whether it is a nullable
// reference element.
func elementScalar(arr ir.DexType) (lattice.IRType, bool) {
	if !arr.IsArray() {
		return lattice.TOP, false
	}
	elem := arr.Element()
	if elem.IsObject() || elem.IsArray() {
		return lattice.REFERENCE, true
	}
	switch elem.Descriptor {
	case "Z":
		return lattice.BOOLEAN, false
	case "B":
		return lattice.BYTE, false
	case "S":
		return lattice.SHORT, false
	case "C":
		return lattice.CHAR, false
	case "I":
		return lattice.INT, false
	case "F":
		return lattice.FLOAT, false
	case "J":
		return lattice.LONG1, false
	case "D":
		return lattice.DOUBLE1, false
	default:
		return lattice.TOP, false
	}
}

func transferUnOp(insn *ir.Instruction, state *Env, checkScalar func(ir.Reg, lattice.IRType, string) lattice.IRType, checkWideLow func(ir.Reg, lattice.IRType, string)) {
	switch insn.Kind {
	case ir.KindLong:
		checkWideLow(insn.Srcs[0], lattice.LONG1, "unop")
		state.SetWide(insn.Dest, lattice.LONG1, lattice.LONG2)
	case ir.KindDouble:
		checkWideLow(insn.Srcs[0], lattice.DOUBLE1, "unop")
		state.SetWide(insn.Dest, lattice.DOUBLE1, lattice.DOUBLE2)
	case ir.KindFloat:
		checkScalar(insn.Srcs[0], lattice.FLOAT, "unop")
		state.Set(insn.Dest, RegState{Scalar: lattice.FLOAT, Ref: lattice.Unknown})
	default:
		checkScalar(insn.Srcs[0], lattice.INT, "unop")
		state.Set(insn.Dest, RegState{Scalar: lattice.INT, Ref: lattice.Unknown})
	}
}

func transferBinOp(insn *ir.Instruction, state *Env, checkScalar func(ir.Reg, lattice.IRType, string) lattice.IRType, checkWideLow func(ir.Reg, lattice.IRType, string)) {
	switch insn.Kind {
	case ir.KindLong:
		checkWideLow(insn.Srcs[0], lattice.LONG1, "binop")
		checkWideLow(insn.Srcs[1], lattice.LONG1, "binop")
		state.SetWide(insn.Dest, lattice.LONG1, lattice.LONG2)
	case ir.KindDouble:
		checkWideLow(insn.Srcs[0], lattice.DOUBLE1, "binop")
		checkWideLow(insn.Srcs[1], lattice.DOUBLE1, "binop")
		state.SetWide(insn.Dest, lattice.DOUBLE1, lattice.DOUBLE2)
	case ir.KindFloat:
		checkScalar(insn.Srcs[0], lattice.FLOAT, "binop")
		checkScalar(insn.Srcs[1], lattice.FLOAT, "binop")
		state.Set(insn.Dest, RegState{Scalar: lattice.FLOAT, Ref: lattice.Unknown})
	default:
		checkScalar(insn.Srcs[0], lattice.INT, "binop")
		checkScalar(insn.Srcs[1], lattice.INT, "binop")
		state.Set(insn.Dest, RegState{Scalar: lattice.INT, Ref: lattice.Unknown})
	}
}

// transferConvert handles int-to-long, long-to-float, etc.: insn.Kind
// names the *target* kind, insn.Type is unused, and the source width is
// inferred from the current state of Srcs[0] rather than re-declared on
// the instruction, since the source kind is determined by whichever
// value actually flows in.
func transferConvert(insn *ir.Instruction, state *Env, checkScalar func(ir.Reg, lattice.IRType, string) lattice.IRType, checkWideLow func(ir.Reg, lattice.IRType, string)) {
	src := state.Get(insn.Srcs[0])
	switch insn.Kind {
	case ir.KindLong:
		if lattice.IsWide(src.Scalar) {
			checkWideLow(insn.Srcs[0], familyOfScalar(src.Scalar), "convert")
		} else {
			checkScalar(insn.Srcs[0], lattice.SCALAR, "convert")
		}
		state.SetWide(insn.Dest, lattice.LONG1, lattice.LONG2)
	case ir.KindDouble:
		if lattice.IsWide(src.Scalar) {
			checkWideLow(insn.Srcs[0], familyOfScalar(src.Scalar), "convert")
		} else {
			checkScalar(insn.Srcs[0], lattice.SCALAR, "convert")
		}
		state.SetWide(insn.Dest, lattice.DOUBLE1, lattice.DOUBLE2)
	case ir.KindFloat:
		checkScalar(insn.Srcs[0], lattice.SCALAR, "convert")
		state.Set(insn.Dest, RegState{Scalar: lattice.FLOAT, Ref: lattice.Unknown})
	default:
		checkScalar(insn.Srcs[0], lattice.SCALAR, "convert")
		state.Set(insn.Dest, RegState{Scalar: lattice.INT, Ref: lattice.Unknown})
	}
}

func transferIf(insn *ir.Instruction, state *Env, checkScalar func(ir.Reg, lattice.IRType, string) lattice.IRType, checkReference func(ir.Reg, string) RegState) {
	if insn.Kind == ir.KindObject {
		checkReference(insn.Srcs[0], "if")
		if len(insn.Srcs) > 1 {
			checkReference(insn.Srcs[1], "if")
		}
		return
	}
	checkScalar(insn.Srcs[0], lattice.INT, "if")
	if len(insn.Srcs) > 1 {
		checkScalar(insn.Srcs[1], lattice.INT, "if")
	}
}

func transferFieldGet(insn *ir.Instruction, state *Env) {
	f := insn.Field
	if f == nil {
		return
	}
	if f.Type.IsPrimitive() && f.Type != ir.TypeVoid {
		scalar, wide := scalarForPrimitive(f.Type)
		if wide {
			low, high := wideHalves(scalar)
			state.SetWide(insn.Dest, low, high)
			return
		}
		state.Set(insn.Dest, RegState{Scalar: scalar, Ref: lattice.Unknown})
		return
	}
	state.Set(insn.Dest, RegState{Scalar: lattice.REFERENCE, Ref: lattice.NewKnown(f.Type, lattice.MaybeNull)})
}

func transferFieldPut(insn *ir.Instruction, state *Env, checkScalar func(ir.Reg, lattice.IRType, string) lattice.IRType, checkWideLow func(ir.Reg, lattice.IRType, string)) {
	f := insn.Field
	if f == nil {
		return
	}
	if f.Type.IsPrimitive() && f.Type != ir.TypeVoid {
		scalar, wide := scalarForPrimitive(f.Type)
		if wide {
			checkWideLow(insn.Srcs[0], familyOfScalar(scalar), "put")
			return
		}
		checkScalar(insn.Srcs[0], scalar, "put")
		return
	}
	// checkReference isn't threaded through here to keep the signature
	// small. Object field puts accept ZERO/REFERENCE; any other source goes
	// to checkScalar against REFERENCE instead, so an undefined (TOP)
	// source is reported as UNDEFINED_OPERAND and a mismatch as a wide or
	// scalar mismatch rather than REFERENCE_TYPE_MISMATCH.
	got := state.Get(insn.Srcs[0]).Scalar
	if !lattice.IsReference(got) {
		checkScalar(insn.Srcs[0], lattice.REFERENCE, "put")
	}
}

func scalarForPrimitive(t ir.DexType) (lattice.IRType, bool) {
	switch t.Descriptor {
	case "Z":
		return lattice.BOOLEAN, false
	case "B":
		return lattice.BYTE, false
	case "S":
		return lattice.SHORT, false
	case "C":
		return lattice.CHAR, false
	case "I":
		return lattice.INT, false
	case "F":
		return lattice.FLOAT, false
	case "J":
		return lattice.LONG1, true
	case "D":
		return lattice.DOUBLE1, true
	default:
		return lattice.TOP, false
	}
}

func transferInvoke(
	insn *ir.Instruction,
	state *Env,
	h *hierarchy.Hierarchy,
	checkScalar func(ir.Reg, lattice.IRType, string) lattice.IRType,
	checkReference func(ir.Reg, string) RegState,
	checkWideLow func(ir.Reg, lattice.IRType, string),
	report func(Kind, string, ...interface{}),
) {
	argIdx := 0
	isInitCall := insn.InvokeKind == ir.InvokeDirect && insn.Method != nil && insn.Method.IsConstructor()
	if insn.InvokeKind != ir.InvokeStatic {
		if isInitCall {
			// The receiver of invoke-direct <init> is UNINITIALIZED<T>,
			// not a plain reference; checkReference would wrongly reject
			// it since IsReference(UNINIT) is false.
			recv := state.Get(insn.Args[0])
			if recv.Scalar != lattice.UNINIT && recv.Scalar != lattice.TOP {
				report(ReferenceTypeMismatch, "invoke-direct <init>: v%d has type %s, expected an uninitialized receiver", insn.Args[0], recv.Scalar)
			}
		} else {
			checkReference(insn.Args[0], "invoke")
		}
		argIdx = 1
	}

	if insn.Method != nil {
		params := insn.Method.Proto.Params
		pi := 0
		for argIdx < len(insn.Args) && pi < len(params) {
			p := params[pi]
			if p.IsPrimitive() && p != ir.TypeVoid {
				scalar, wide := scalarForPrimitive(p)
				if wide {
					checkWideLow(insn.Args[argIdx], familyOfScalar(scalar), "invoke")
					argIdx += 2
				} else {
					checkScalar(insn.Args[argIdx], scalar, "invoke")
					argIdx++
				}
			} else {
				checkReference(insn.Args[argIdx], "invoke")
				argIdx++
			}
			pi++
		}
	}

	if isInitCall {
		// <init> has run: the receiver is now a fully constructed T.
		t := insn.Method.Owner
		if recv := state.Get(insn.Args[0]).Ref; recv.HasClass {
			t = recv.Class
		}
		state.Set(insn.Args[0], RegState{Scalar: lattice.REFERENCE, Ref: lattice.NewKnown(t, lattice.NotNull)})
	}

	if insn.Method != nil {
		ret := insn.Method.Proto.Return
		if ret == ir.TypeVoid {
			state.Result = RegState{Scalar: lattice.TOP, Ref: lattice.Unknown}
			return
		}
		if ret.IsPrimitive() {
			scalar, _ := scalarForPrimitive(ret)
			state.Result = RegState{Scalar: scalar, Ref: lattice.Unknown}
			return
		}
		state.Result = RegState{Scalar: lattice.REFERENCE, Ref: lattice.NewKnown(ret, lattice.MaybeNull)}
	}
}
