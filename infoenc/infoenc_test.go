package infoenc

import (
	"debug/dwarf"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conradirwin/dwarfenc/dietree"
)

func arch64() dietree.Arch {
	return dietree.Arch{WordSize: 8, Endian: dietree.LittleEndian}
}

func TestEncodeSingleDIEProducesHeaderAndSections(t *testing.T) {
	unit := &dietree.DIE{
		Tag: dwarf.TagCompileUnit,
		Attributes: map[dwarf.Attr]dietree.Value{
			dwarf.AttrName:     dietree.StringValue("main.go"),
			dwarf.AttrProducer: dietree.StringValue("dwarfenc"),
		},
	}

	e := New(arch64())
	require.NoError(t, e.EncodeAll([]*dietree.DIE{unit}))

	sections := e.Sections()
	require.Contains(t, sections, ".debug_info")
	require.Contains(t, sections, ".debug_abbrev")
	require.Contains(t, sections, ".debug_str")
	require.NotContains(t, sections, ".debug_loc")

	info := sections[".debug_info"]
	bo := arch64().ByteOrder()
	unitLength := bo.Uint32(info[0:4])
	require.EqualValues(t, len(info)-4, unitLength)
	version := bo.Uint16(info[4:6])
	require.EqualValues(t, 4, version)
	require.Equal(t, byte(8), info[10])
}

func TestEncodeDedupsIdenticalAbbreviations(t *testing.T) {
	makeVar := func(name string) *dietree.DIE {
		return &dietree.DIE{Tag: dwarf.TagVariable, Attributes: map[dwarf.Attr]dietree.Value{
			dwarf.AttrName: dietree.StringValue(name),
		}}
	}
	unit := &dietree.DIE{Tag: dwarf.TagCompileUnit, Children: []*dietree.DIE{makeVar("a"), makeVar("b")}}

	e := New(arch64())
	require.NoError(t, e.EncodeAll([]*dietree.DIE{unit}))

	// Two structurally identical DIEs (same tag/children-ness/attribute
	// set) must reuse one abbreviation: exactly 2 distinct declarations
	// (compile_unit, variable), so .debug_abbrev holds exactly two
	// non-terminator entries ending in the unit's 0x00 end marker.
	abbrev := e.Sections()[".debug_abbrev"]
	require.Equal(t, []byte{
		0x01, 0x11, 0x01, 0x00, 0x00, // 1: compile_unit, has children
		0x02, 0x34, 0x00, 0x03, 0x0e, 0x00, 0x00, // 2: variable, name:strp
		0x00, // end of this unit's abbreviations
	}, abbrev)
}

func TestEncodeResolvesForwardReference(t *testing.T) {
	typeDie := &dietree.DIE{Tag: dwarf.TagBaseType, Attributes: map[dwarf.Attr]dietree.Value{
		dwarf.AttrName: dietree.StringValue("int"),
	}}
	fn := &dietree.DIE{Tag: dwarf.TagSubprogram, Attributes: map[dwarf.Attr]dietree.Value{
		dwarf.AttrType: dietree.RefValue{Target: typeDie},
	}}
	// fn emitted before typeDie: a backward structural position but a
	// forward byte-offset reference, since typeDie appears after fn in
	// children order.
	unit := &dietree.DIE{Tag: dwarf.TagCompileUnit, Children: []*dietree.DIE{fn, typeDie}}

	e := New(arch64())
	require.NoError(t, e.EncodeAll([]*dietree.DIE{unit}))
	require.Contains(t, e.Sections(), ".debug_info")
}

func TestEncodeDanglingReferenceFails(t *testing.T) {
	orphan := &dietree.DIE{Tag: dwarf.TagBaseType}
	fn := &dietree.DIE{Tag: dwarf.TagSubprogram, Attributes: map[dwarf.Attr]dietree.Value{
		dwarf.AttrType: dietree.RefValue{Target: orphan},
	}}
	unit := &dietree.DIE{Tag: dwarf.TagCompileUnit, Children: []*dietree.DIE{fn}}

	e := New(arch64())
	err := e.EncodeAll([]*dietree.DIE{unit})
	require.Error(t, err)
	var dre *dietree.DanglingReferenceError
	require.ErrorAs(t, err, &dre)
}

func TestEncodeNoneValueIsOmitted(t *testing.T) {
	unit := &dietree.DIE{
		Tag: dwarf.TagCompileUnit,
		Attributes: map[dwarf.Attr]dietree.Value{
			dwarf.AttrName:       dietree.StringValue("u"),
			dwarf.AttrDeclColumn: dietree.NoneValue{},
		},
	}
	e := New(arch64())
	require.NoError(t, e.EncodeAll([]*dietree.DIE{unit}))
	// The declaration lists only name:strp; DW_AT_decl_column is absent.
	require.Equal(t, []byte{0x01, 0x11, 0x00, 0x03, 0x0e, 0x00, 0x00, 0x00}, e.Sections()[".debug_abbrev"])
}

func TestEncodeIntValueNarrowsFormByMagnitude(t *testing.T) {
	small := &dietree.DIE{Tag: dwarf.TagConstant, Attributes: map[dwarf.Attr]dietree.Value{
		dwarf.AttrConstValue: dietree.IntValue(5),
	}}
	large := &dietree.DIE{Tag: dwarf.TagConstant, Attributes: map[dwarf.Attr]dietree.Value{
		dwarf.AttrConstValue: dietree.IntValue(1 << 40),
	}}
	unit := &dietree.DIE{Tag: dwarf.TagCompileUnit, Children: []*dietree.DIE{small, large}}

	e := New(arch64())
	require.NoError(t, e.EncodeAll([]*dietree.DIE{unit}))

	// small and large differ only in attribute form (data1 vs sdata), so
	// they must NOT share an abbreviation: .debug_abbrev declares codes 2
	// and 3 with DW_AT_const_value as DW_FORM_data1 (0x0b) and
	// DW_FORM_sdata (0x0d) respectively.
	abbrev := e.Sections()[".debug_abbrev"]
	require.Equal(t, []byte{
		0x01, 0x11, 0x01, 0x00, 0x00,
		0x02, 0x27, 0x00, 0x1c, 0x0b, 0x00, 0x00,
		0x03, 0x27, 0x00, 0x1c, 0x0d, 0x00, 0x00,
		0x00,
	}, abbrev)
}

func TestStringPoolDedupsAndReservesZeroOffset(t *testing.T) {
	a := &dietree.DIE{Tag: dwarf.TagVariable, Attributes: map[dwarf.Attr]dietree.Value{dwarf.AttrName: dietree.StringValue("x")}}
	b := &dietree.DIE{Tag: dwarf.TagVariable, Attributes: map[dwarf.Attr]dietree.Value{dwarf.AttrName: dietree.StringValue("x")}}
	unit := &dietree.DIE{Tag: dwarf.TagCompileUnit, Children: []*dietree.DIE{a, b}}

	e := New(arch64())
	require.NoError(t, e.EncodeAll([]*dietree.DIE{unit}))

	str := e.Sections()[".debug_str"]
	require.Equal(t, byte(0), str[0])
	// "x" interned once: empty string (1 byte) + "x\x00" (2 bytes) = 3.
	require.Len(t, str, 3)
}

func TestInvalidStringRejectsEmbeddedNUL(t *testing.T) {
	unit := &dietree.DIE{Tag: dwarf.TagCompileUnit, Attributes: map[dwarf.Attr]dietree.Value{
		dwarf.AttrName: dietree.StringValue("bad\x00name"),
	}}
	e := New(arch64())
	err := e.EncodeAll([]*dietree.DIE{unit})
	require.Error(t, err)
	var ise *dietree.InvalidStringError
	require.ErrorAs(t, err, &ise)
}

func TestLocationListRelativeToUnitLowPC(t *testing.T) {
	unit := &dietree.DIE{
		Tag: dwarf.TagCompileUnit,
		Attributes: map[dwarf.Attr]dietree.Value{
			dwarf.AttrLowpc: dietree.AddressValue(0x1000),
		},
		Children: []*dietree.DIE{
			{
				Tag: dwarf.TagVariable,
				Attributes: map[dwarf.Attr]dietree.Value{
					dwarf.AttrLocation: dietree.LocListValue{
						{Begin: 0x1000, End: 0x1010, Location: dietree.Expr{{Opcode: 0x50}}},
					},
				},
			},
		},
	}

	e := New(arch64())
	require.NoError(t, e.EncodeAll([]*dietree.DIE{unit}))

	loc := e.Sections()[".debug_loc"]
	require.NotEmpty(t, loc)
	bo := arch64().ByteOrder()
	// first entry's begin address must be 0 (0x1000 - unit_low_pc 0x1000).
	require.EqualValues(t, 0, bo.Uint64(loc[0:8]))
	require.EqualValues(t, 0x10, bo.Uint64(loc[8:16]))
}

func TestLineStatesAttributeAppendsLineProgram(t *testing.T) {
	unit := &dietree.DIE{
		Tag: dwarf.TagCompileUnit,
		Attributes: map[dwarf.Attr]dietree.Value{
			dwarf.AttrStmtList: dietree.LineStatesValue{
				{Address: 0x10, File: "a.go", Line: 1, IsStmt: true, EndSequence: true},
			},
		},
	}
	e := New(arch64())
	require.NoError(t, e.EncodeAll([]*dietree.DIE{unit}))
	require.Contains(t, e.Sections(), ".debug_line")
}

func TestRangeListSupportsBaseAddressEntries(t *testing.T) {
	unit := &dietree.DIE{
		Tag: dwarf.TagCompileUnit,
		Attributes: map[dwarf.Attr]dietree.Value{
			dwarf.AttrRanges: dietree.RangeListValue{
				{IsBaseAddress: true, Base: 0x2000},
				{Begin: 0x10, End: 0x20},
			},
		},
	}
	e := New(arch64())
	require.NoError(t, e.EncodeAll([]*dietree.DIE{unit}))

	ranges := e.Sections()[".debug_ranges"]
	require.NotEmpty(t, ranges)
	// base-address sentinel is all-0xff for the first target word.
	for _, b := range ranges[0:8] {
		require.Equal(t, byte(0xff), b)
	}
}

func TestSiblingAttributeSynthesizedForNonLastChildWithChildren(t *testing.T) {
	nested := &dietree.DIE{Tag: dwarf.TagLexDwarfBlock, Children: []*dietree.DIE{
		{Tag: dwarf.TagVariable},
	}}
	sibling := &dietree.DIE{Tag: dwarf.TagVariable}
	unit := &dietree.DIE{Tag: dwarf.TagCompileUnit, Children: []*dietree.DIE{nested, sibling}}

	e := New(arch64())
	require.NoError(t, e.EncodeAll([]*dietree.DIE{unit}))
	require.Contains(t, e.Sections(), ".debug_info")

	// After the 11-byte unit header: compile_unit code at 11, block code
	// at 12, its DW_AT_sibling ref4 at 13..16, inner variable at 17, the
	// block's null terminator at 18, and the trailing variable at 19.
	info := e.Sections()[".debug_info"]
	require.EqualValues(t, 19, arch64().ByteOrder().Uint32(info[13:17]))
	require.Equal(t, byte(0x03), info[19])
}
