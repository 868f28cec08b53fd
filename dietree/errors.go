package dietree

import (
	"debug/dwarf"
	"fmt"
	"strings"
)

// The encoder's named failure modes (spec §4.6/§7) are the five types
// below. Malformed expression operands (a missing operand, or a
// DW_OP_GNU_const_type constant longer than 255 bytes) and internal
// consistency failures are reported as plain errors instead. All errors
// are fatal to the current encode; none is retried. Each type carries enough
// identity information (offending attribute code, DIE tag, opcode name)
// to diagnose, following the teacher's habit of building diagnosable
// messages with a "dwarf/<area>: ..." prefix (see unwind.go's
// "dwarf/unwind: entry too short").

// DanglingReferenceError is returned when a compile unit closes with
// pending DW_FORM_ref4 patches whose target DIE is not a descendant of
// that same unit (a target that lives in a different unit is reported
// too, since reference offsets are cached per unit).
type DanglingReferenceError struct {
	Offenders []string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("dwarfenc: reference(s) to DIE(s) not present in the referring compile unit: %s",
		strings.Join(e.Offenders, ", "))
}

// UnsupportedError is returned for an expression opcode that has no
// operand schema in the expression encoder.
type UnsupportedError struct {
	Op string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("dwarfenc: unsupported operation %q", e.Op)
}

// InvalidStringError is returned when a String attribute value contains
// an embedded NUL byte and so cannot be stored in .debug_str.
type InvalidStringError struct {
	// Context names the attribute or location the invalid string came
	// from, for diagnostics.
	Context string
}

func (e *InvalidStringError) Error() string {
	return fmt.Sprintf("dwarfenc: string value for %s contains an embedded NUL byte", e.Context)
}

// InvalidLineProgramError describes a line-state list that cannot be
// turned into a consistent line-number program. The lineprog encoder in
// this module does not return it: rows with an empty filename are left
// out of the file table, and each file's directory index is derived from
// its own path, so one filename cannot map to two directories.
type InvalidLineProgramError struct {
	Reason string
}

func (e *InvalidLineProgramError) Error() string {
	return fmt.Sprintf("dwarfenc: invalid line program: %s", e.Reason)
}

// UnclassifiableValueError is returned when an attribute's Value cannot
// be mapped to any DWARF form by §4.4.1's table — normally unreachable,
// since dietree.Value is a closed interface, but guards against a zero
// Value or a variant added without updating infoenc's classifier.
type UnclassifiableValueError struct {
	Attr dwarf.Attr
	Tag  dwarf.Tag
	Kind string
}

func (e *UnclassifiableValueError) Error() string {
	return fmt.Sprintf("dwarfenc: attribute %s of %s has unclassifiable value kind %s", e.Attr, e.Tag, e.Kind)
}
