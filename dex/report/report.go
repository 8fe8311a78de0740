// Package report formats type-checker errors and resolver counter
// lines for logs: a thin Sprintf-shaped helper, not a generic
// error-wrapping framework.
package report

import (
	"fmt"

	"github.com/dextype/typecore/dex/ir"
	"github.com/dextype/typecore/dex/typecheck"
)

// CheckerError renders a type-checker failure for a method, carrying
// the method's deobfuscated name, the error kind, and the offending
// instruction.
func CheckerError(method *ir.Method, err *typecheck.Error) string {
	name := method.DeobfuscatedName
	if name == "" {
		name = method.Descriptor()
	}
	return fmt.Sprintf("%s: %s (insn #%d %s): %s", name, kindName(err.Kind), err.Insn.ID, err.Insn.Op, err.Message)
}

func kindName(k typecheck.Kind) string {
	switch k {
	case typecheck.UndefinedOperand:
		return "UNDEFINED_OPERAND"
	case typecheck.WideMismatch:
		return "WIDE_MISMATCH"
	case typecheck.ScalarTypeMismatch:
		return "SCALAR_TYPE_MISMATCH"
	case typecheck.ReferenceTypeMismatch:
		return "REFERENCE_TYPE_MISMATCH"
	case typecheck.ReturnTypeMismatch:
		return "RETURN_TYPE_MISMATCH"
	case typecheck.OverwriteThis:
		return "OVERWRITE_THIS"
	case typecheck.InaccessibleMember:
		return "INACCESSIBLE_MEMBER"
	default:
		return "UNKNOWN"
	}
}

// Statsf formats one resolver counter line, e.g. "method_refs_resolved: 12".
func Statsf(name string, n int) string {
	return fmt.Sprintf("%s: %d", name, n)
}
