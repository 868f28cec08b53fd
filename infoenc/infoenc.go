// Package infoenc is the core of the encoder: it walks a tree of
// dietree.DIE nodes and produces the bytes of .debug_info, .debug_abbrev,
// .debug_str, .debug_loc, .debug_line, and .debug_ranges.
//
// The abbreviation/reference/string bookkeeping below is a direct port
// of the Python original's serial.py (Serializer.emit_die,
// get_attribute_form, the abbrev_table/reference_cache/pending_references
// trio), rewritten in the teacher's error-handling idiom: typed errors
// from the dietree package instead of raised exceptions, explicit error
// returns instead of an implicit control-flow abort.
package infoenc

import (
	"bytes"
	"debug/dwarf"
	"fmt"
	"sort"

	"github.com/conradirwin/dwarfenc/dietree"
	"github.com/conradirwin/dwarfenc/exprenc"
	"github.com/conradirwin/dwarfenc/leb128"
	"github.com/conradirwin/dwarfenc/lineprog"
)

// DWARF form codes (DW_FORM_*). debug/dwarf does not export these (its
// decoder keeps them private), so the encoder names the handful it
// emits directly, matching the DWARF v4 standard's assigned values.
const (
	formAddr        = 0x01
	formData2       = 0x05
	formData4       = 0x06
	formData1       = 0x0b
	formFlag        = 0x0c
	formSdata       = 0x0d
	formStrp        = 0x0e
	formRef4        = 0x13
	formExprloc     = 0x18
	formFlagPresent = 0x19
	formSecOffset   = 0x17
)

const dwarfVersion = 4

// attrForm pairs an attribute code with the form it was assigned; it is
// both the per-attribute emission order and (as part of a sorted,
// stringified key) the abbreviation-table's identity.
type attrForm struct {
	attr dwarf.Attr
	form byte
}

// Encoder accumulates the output sections for a run across one or more
// compile units. String interning, .debug_abbrev, .debug_loc,
// .debug_line and .debug_ranges persist across units per spec §3.4;
// per-unit caches are reset at the start of each unit.
type Encoder struct {
	arch dietree.Arch
	expr *exprenc.Serializer
	line *lineprog.Encoder

	info   bytes.Buffer
	abbrev bytes.Buffer
	str    bytes.Buffer
	loc    bytes.Buffer
	lineSec bytes.Buffer
	ranges bytes.Buffer

	strOffsets map[string]uint32

	// per-unit state, reset by resetUnit
	abbrevTable        map[string]uint32
	referenceCache      map[*dietree.DIE]uint32
	pendingReferences   map[*dietree.DIE][]int
	unitBase            int // offset in e.info where the current unit begins
	unitLowPC           uint64
}

// New returns an Encoder targeting arch. Call Encode once per compile
// unit, in order; call Sections when done to collect the output map.
func New(arch dietree.Arch) *Encoder {
	e := &Encoder{
		arch:       arch,
		expr:       exprenc.New(arch),
		line:       lineprog.New(arch),
		strOffsets: map[string]uint32{},
	}
	e.str.WriteByte(0) // empty string canonically lives at offset 0
	return e
}

// Sections returns the accumulated section bytes. Empty sections are
// omitted per spec §6.
func (e *Encoder) Sections() map[string][]byte {
	out := map[string][]byte{}
	add := func(name string, buf *bytes.Buffer) {
		if buf.Len() > 0 {
			out[name] = buf.Bytes()
		}
	}
	add(".debug_info", &e.info)
	add(".debug_abbrev", &e.abbrev)
	add(".debug_str", &e.str)
	add(".debug_loc", &e.loc)
	add(".debug_line", &e.lineSec)
	add(".debug_ranges", &e.ranges)
	return out
}

// EncodeAll runs Validate(units) then Encode on each unit in order; it
// is the convenience entry point most callers want.
func (e *Encoder) EncodeAll(units []*dietree.DIE) error {
	if err := dietree.Validate(units); err != nil {
		return err
	}
	for _, unit := range units {
		if err := e.Encode(unit); err != nil {
			return err
		}
	}
	return nil
}

// Encode emits one compile unit. unit's Tag is expected to be
// dwarf.TagCompileUnit but the encoder does not require it.
func (e *Encoder) Encode(unit *dietree.DIE) error {
	e.resetUnit(unit)

	abbrevOffset := uint32(e.abbrev.Len())

	e.unitBase = e.info.Len()
	// Reserve the 11-byte compile-unit header: unit_length(4) +
	// version(2) + debug_abbrev_offset(4) + address_size(1).
	e.info.Write(make([]byte, 11))

	if err := e.emitDIE(unit, true); err != nil {
		return err
	}

	// End-of-abbreviations-for-this-unit marker (spec §4.4 step after
	// the compile-unit envelope).
	e.abbrev.WriteByte(0)

	if len(e.pendingReferences) > 0 {
		return e.danglingReferenceError()
	}

	e.patchUnitHeader(abbrevOffset)
	return nil
}

func (e *Encoder) resetUnit(unit *dietree.DIE) {
	e.abbrevTable = map[string]uint32{}
	e.referenceCache = map[*dietree.DIE]uint32{}
	e.pendingReferences = map[*dietree.DIE][]int{}
	e.unitLowPC = 0
	if v, ok := unit.Attributes[dwarf.AttrLowpc]; ok {
		if av, ok := v.(dietree.AddressValue); ok {
			e.unitLowPC = uint64(av)
		}
	}
}

func (e *Encoder) patchUnitHeader(abbrevOffset uint32) {
	buf := e.info.Bytes()[e.unitBase:]
	bo := e.arch.ByteOrder()
	bo.PutUint32(buf[0:4], uint32(len(buf)-4))
	bo.PutUint16(buf[4:6], dwarfVersion)
	bo.PutUint32(buf[6:10], abbrevOffset)
	buf[10] = byte(e.arch.WordSize)
}

func (e *Encoder) danglingReferenceError() error {
	var offenders []string
	for target := range e.pendingReferences {
		offenders = append(offenders, target.String())
	}
	sort.Strings(offenders)
	return &dietree.DanglingReferenceError{Offenders: offenders}
}

// emitDIE implements spec §4.4's "Emitting a DIE" algorithm.
func (e *Encoder) emitDIE(d *dietree.DIE, isLastSibling bool) error {
	offset := uint32(e.info.Len() - e.unitBase)
	e.referenceCache[d] = offset
	if positions, ok := e.pendingReferences[d]; ok {
		for _, pos := range positions {
			e.arch.ByteOrder().PutUint32(e.info.Bytes()[pos:pos+4], offset)
		}
		delete(e.pendingReferences, d)
	}

	attrs, err := e.classifyAttributes(d)
	if err != nil {
		return err
	}

	hasChildren := len(d.Children) > 0
	needsSibling := hasChildren && !isLastSibling

	code, key, isNew := e.lookupOrAllocateAbbrev(d.Tag, hasChildren, needsSibling, attrs)

	writeULEB(&e.info, uint64(code))

	if isNew {
		writeULEB(&e.abbrev, uint64(code))
		writeULEB(&e.abbrev, uint64(d.Tag))
		if hasChildren {
			e.abbrev.WriteByte(1)
		} else {
			e.abbrev.WriteByte(0)
		}
		for _, af := range attrs {
			writeULEB(&e.abbrev, uint64(af.attr))
			writeULEB(&e.abbrev, uint64(af.form))
		}
		if needsSibling {
			writeULEB(&e.abbrev, uint64(dwarf.AttrSibling))
			writeULEB(&e.abbrev, uint64(formRef4))
		}
		e.abbrev.WriteByte(0)
		e.abbrev.WriteByte(0)
		e.abbrevTable[key] = code
	}

	for _, af := range attrs {
		if err := e.emitAttributeValue(d, af); err != nil {
			return err
		}
	}

	var siblingPos int
	if needsSibling {
		siblingPos = e.info.Len()
		e.info.Write([]byte{0, 0, 0, 0})
	}

	for i, child := range d.Children {
		last := i == len(d.Children)-1
		if err := e.emitDIE(child, last); err != nil {
			return err
		}
	}

	if hasChildren {
		e.info.WriteByte(0)
	}

	if needsSibling {
		siblingOffset := uint32(e.info.Len() - e.unitBase)
		e.arch.ByteOrder().PutUint32(e.info.Bytes()[siblingPos:siblingPos+4], siblingOffset)
	}

	return nil
}

// classifyAttributes filters out None values, assigns each surviving
// attribute a form, and returns them sorted by ascending attribute code
// per spec §3.3/§4.4 step 2.
func (e *Encoder) classifyAttributes(d *dietree.DIE) ([]attrForm, error) {
	var attrs []attrForm
	for attr, v := range d.Attributes {
		form, err := e.formFor(d.Tag, attr, v)
		if err != nil {
			return nil, err
		}
		if form == 0 {
			continue // NoneValue: omitted entirely
		}
		attrs = append(attrs, attrForm{attr: attr, form: form})
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].attr < attrs[j].attr })
	return attrs, nil
}

// formFor implements the form-selection table of spec §4.4.1. Returning
// form == 0 signals "omit this attribute" (the NoneValue case); 0 is not
// a valid DW_FORM_* code so it is safe to overload as the sentinel.
func (e *Encoder) formFor(tag dwarf.Tag, attr dwarf.Attr, v dietree.Value) (byte, error) {
	switch val := v.(type) {
	case dietree.AddressValue:
		return formAddr, nil
	case dietree.IntValue:
		n := int64(val)
		switch {
		case n >= -128 && n <= 127:
			return formData1, nil
		case n >= -32768 && n <= 32767:
			return formData2, nil
		case n >= -(1<<31) && n <= (1<<31)-1:
			return formData4, nil
		default:
			return formSdata, nil
		}
	case dietree.FlagValue:
		return formFlag, nil
	case dietree.PresenceValue:
		return formFlagPresent, nil
	case dietree.StringValue:
		return formStrp, nil
	case dietree.RefValue:
		return formRef4, nil
	case dietree.ExprValue:
		return formExprloc, nil
	case dietree.LocListValue:
		return formSecOffset, nil
	case dietree.LineStatesValue:
		return formSecOffset, nil
	case dietree.RangeListValue:
		return formSecOffset, nil
	case dietree.NoneValue:
		return 0, nil
	default:
		return 0, &dietree.UnclassifiableValueError{Attr: attr, Tag: tag, Kind: fmt.Sprintf("%T", v)}
	}
}

// lookupOrAllocateAbbrev implements spec §4.4 step 3: the abbreviation
// key is (tag, has_children, needs_sibling, attribute_set); codes are
// 1-based per unit.
func (e *Encoder) lookupOrAllocateAbbrev(tag dwarf.Tag, hasChildren, needsSibling bool, attrs []attrForm) (code uint32, key string, isNew bool) {
	key = abbrevKey(tag, hasChildren, needsSibling, attrs)
	if existing, ok := e.abbrevTable[key]; ok {
		return existing, key, false
	}
	return uint32(len(e.abbrevTable)) + 1, key, true
}

func abbrevKey(tag dwarf.Tag, hasChildren, needsSibling bool, attrs []attrForm) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d|%t|%t", tag, hasChildren, needsSibling)
	for _, af := range attrs {
		fmt.Fprintf(&b, "|%d:%d", af.attr, af.form)
	}
	return b.String()
}

// emitAttributeValue implements spec §4.4.2's payload emission for one
// already-form-assigned attribute.
func (e *Encoder) emitAttributeValue(d *dietree.DIE, af attrForm) error {
	v := d.Attributes[af.attr]
	switch af.form {
	case formAddr:
		b := make([]byte, e.arch.WordSize)
		e.arch.PutAddr(b, uint64(v.(dietree.AddressValue)))
		e.info.Write(b)
	case formData1:
		var b [1]byte
		e.arch.PutInt(b[:], 1, true, int64(v.(dietree.IntValue)))
		e.info.Write(b[:])
	case formData2:
		var b [2]byte
		e.arch.PutInt(b[:], 2, true, int64(v.(dietree.IntValue)))
		e.info.Write(b[:])
	case formData4:
		var b [4]byte
		e.arch.PutInt(b[:], 4, true, int64(v.(dietree.IntValue)))
		e.info.Write(b[:])
	case formSdata:
		writeSLEB(&e.info, int64(v.(dietree.IntValue)))
	case formFlag:
		if bool(v.(dietree.FlagValue)) {
			e.info.WriteByte(1)
		} else {
			e.info.WriteByte(0)
		}
	case formFlagPresent:
		// zero bytes
	case formStrp:
		off, err := e.internString(string(v.(dietree.StringValue)), af.attr)
		if err != nil {
			return err
		}
		var b [4]byte
		e.arch.ByteOrder().PutUint32(b[:], off)
		e.info.Write(b[:])
	case formExprloc:
		encoded, err := e.expr.Encode(dietree.Expr(v.(dietree.ExprValue)))
		if err != nil {
			return err
		}
		writeULEB(&e.info, uint64(len(encoded)))
		e.info.Write(encoded)
	case formRef4:
		return e.emitRef4(v.(dietree.RefValue))
	case formSecOffset:
		return e.emitSecOffset(v, af.attr)
	default:
		return fmt.Errorf("dwarfenc: internal: no payload emitter for form 0x%02x", af.form)
	}
	return nil
}

func (e *Encoder) emitRef4(ref dietree.RefValue) error {
	var b [4]byte
	if ref.Target == nil {
		e.info.Write(b[:])
		return nil
	}
	if offset, ok := e.referenceCache[ref.Target]; ok {
		e.arch.ByteOrder().PutUint32(b[:], offset)
		e.info.Write(b[:])
		return nil
	}
	pos := e.info.Len()
	e.info.Write(b[:])
	e.pendingReferences[ref.Target] = append(e.pendingReferences[ref.Target], pos)
	return nil
}

func (e *Encoder) emitSecOffset(v dietree.Value, attr dwarf.Attr) error {
	switch val := v.(type) {
	case dietree.LocListValue:
		off := uint32(e.loc.Len())
		var b [4]byte
		e.arch.ByteOrder().PutUint32(b[:], off)
		e.info.Write(b[:])
		return e.appendLocList(dietree.LocList(val))
	case dietree.LineStatesValue:
		off := uint32(e.lineSec.Len())
		var b [4]byte
		e.arch.ByteOrder().PutUint32(b[:], off)
		e.info.Write(b[:])
		program, err := e.line.Encode(dietree.LineStates(val))
		if err != nil {
			return err
		}
		e.lineSec.Write(program)
		return nil
	case dietree.RangeListValue:
		off := uint32(e.ranges.Len())
		var b [4]byte
		e.arch.ByteOrder().PutUint32(b[:], off)
		e.info.Write(b[:])
		return e.appendRangeList(dietree.RangeList(val))
	default:
		return fmt.Errorf("dwarfenc: internal: attribute %s has sec_offset form but unrecognised value kind %T", attr, v)
	}
}

func (e *Encoder) appendLocList(list dietree.LocList) error {
	ws := e.arch.WordSize
	bo := e.arch.ByteOrder()
	for _, entry := range list {
		begin := entry.Begin - e.unitLowPC
		end := entry.End - e.unitLowPC
		ba := make([]byte, ws)
		bb := make([]byte, ws)
		e.arch.PutAddr(ba, begin)
		e.arch.PutAddr(bb, end)
		e.loc.Write(ba)
		e.loc.Write(bb)

		encoded, err := e.expr.Encode(entry.Location)
		if err != nil {
			return err
		}
		var lenBuf [2]byte
		bo.PutUint16(lenBuf[:], uint16(len(encoded)))
		e.loc.Write(lenBuf[:])
		e.loc.Write(encoded)
	}
	e.loc.Write(make([]byte, ws*2))
	return nil
}

func (e *Encoder) appendRangeList(list dietree.RangeList) error {
	ws := e.arch.WordSize
	for _, item := range list {
		if item.IsBaseAddress {
			sentinel := make([]byte, ws)
			for i := range sentinel {
				sentinel[i] = 0xff
			}
			base := make([]byte, ws)
			e.arch.PutAddr(base, item.Base)
			e.ranges.Write(sentinel)
			e.ranges.Write(base)
			continue
		}
		begin := make([]byte, ws)
		end := make([]byte, ws)
		e.arch.PutAddr(begin, item.Begin)
		e.arch.PutAddr(end, item.End)
		e.ranges.Write(begin)
		e.ranges.Write(end)
	}
	e.ranges.Write(make([]byte, ws*2))
	return nil
}

// internString implements spec §4.4.3: dedup strings into .debug_str,
// reject embedded NULs.
func (e *Encoder) internString(s string, attr dwarf.Attr) (uint32, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return 0, &dietree.InvalidStringError{Context: attr.String()}
		}
	}
	if off, ok := e.strOffsets[s]; ok {
		return off, nil
	}
	off := uint32(e.str.Len())
	e.str.WriteString(s)
	e.str.WriteByte(0)
	e.strOffsets[s] = off
	return off, nil
}

func writeULEB(buf *bytes.Buffer, v uint64) {
	buf.Write(leb128.AppendUnsigned(nil, v))
}

func writeSLEB(buf *bytes.Buffer, v int64) {
	buf.Write(leb128.AppendSigned(nil, v))
}
