package ir

// Opcode identifies the operation an Instruction performs. The set below
// is not the full Dalvik instruction set — only the opcode classes the
// transfer function needs to distinguish. Opcodes that
// share a transfer rule (the various width/signedness flavors of
// const, move, aget, etc.) are collapsed into one Opcode and
// disambiguated, where it matters, by the instruction's operand types.
type Opcode uint8

const (
	OpNop Opcode = iota

	// Literals.
	OpConst       // dst := literal (32-bit, possibly 0)
	OpConstWide   // dst,dst+1 := literal (64-bit)
	OpConstString // dst := REFERENCE (java.lang.String)
	OpConstClass  // dst := REFERENCE (java.lang.Class)

	// Register-to-register moves.
	OpMove             // narrow scalar move
	OpMoveWide         // wide scalar move (pair copy)
	OpMoveObject       // reference move
	OpMoveException    // dst := REFERENCE, start of a catch handler
	OpMoveResult       // dst := RESULT (narrow)
	OpMoveResultWide   // dst,dst+1 := RESULT (wide)
	OpMoveResultObject // dst := RESULT (reference)

	// Arithmetic / conversion, collapsed: the transfer function dispatches
	// on (Kind, operand/result widths) recorded on the Instruction.
	OpUnOp
	OpBinOp
	OpConvert // e.g. int-to-long, long-to-float, ...

	// Control flow.
	OpGoto
	OpIf      // if-eq/if-ne/... comparing two registers (or one against zero)
	OpSwitch
	OpReturnVoid
	OpReturn       // return a narrow scalar
	OpReturnWide
	OpReturnObject
	OpThrow

	// Objects and arrays.
	OpNewInstance
	OpNewArray
	OpCheckCast
	OpInstanceOf
	OpArrayLength
	OpAget
	OpAput
	OpIget
	OpIput
	OpSget
	OpSput
	OpFilledNewArray

	// Calls.
	OpInvoke

	// Monitor / misc, transferred as no-ops over the scalar state.
	OpMonitorEnter
	OpMonitorExit
)

func (op Opcode) String() string {
	switch op {
	case OpNop:
		return "nop"
	case OpConst:
		return "const"
	case OpConstWide:
		return "const-wide"
	case OpConstString:
		return "const-string"
	case OpConstClass:
		return "const-class"
	case OpMove:
		return "move"
	case OpMoveWide:
		return "move-wide"
	case OpMoveObject:
		return "move-object"
	case OpMoveException:
		return "move-exception"
	case OpMoveResult:
		return "move-result"
	case OpMoveResultWide:
		return "move-result-wide"
	case OpMoveResultObject:
		return "move-result-object"
	case OpUnOp:
		return "unop"
	case OpBinOp:
		return "binop"
	case OpConvert:
		return "convert"
	case OpGoto:
		return "goto"
	case OpIf:
		return "if"
	case OpSwitch:
		return "switch"
	case OpReturnVoid:
		return "return-void"
	case OpReturn:
		return "return"
	case OpReturnWide:
		return "return-wide"
	case OpReturnObject:
		return "return-object"
	case OpThrow:
		return "throw"
	case OpNewInstance:
		return "new-instance"
	case OpNewArray:
		return "new-array"
	case OpCheckCast:
		return "check-cast"
	case OpInstanceOf:
		return "instance-of"
	case OpArrayLength:
		return "array-length"
	case OpAget:
		return "aget"
	case OpAput:
		return "aput"
	case OpIget:
		return "iget"
	case OpIput:
		return "iput"
	case OpSget:
		return "sget"
	case OpSput:
		return "sput"
	case OpFilledNewArray:
		return "filled-new-array"
	case OpInvoke:
		return "invoke"
	case OpMonitorEnter:
		return "monitor-enter"
	case OpMonitorExit:
		return "monitor-exit"
	default:
		return "unknown"
	}
}

// NumericKind distinguishes the operand/result kind of arithmetic,
// comparison and conversion opcodes, since OpBinOp/OpUnOp/OpConvert/OpIf
// collapse several real Dalvik opcodes into one Opcode.
type NumericKind uint8

const (
	KindInt NumericKind = iota
	KindLong
	KindFloat
	KindDouble
	KindObject // OpIf comparing two references, or a reference against null
)

func (k NumericKind) IsWide() bool { return k == KindLong || k == KindDouble }
