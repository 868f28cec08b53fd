package dwarfenc

import (
	"bytes"
	"debug/dwarf"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func arch64() Arch {
	return Arch{WordSize: 8, Endian: LittleEndian}
}

func TestEncodeMinimalUnit(t *testing.T) {
	unit := &DIE{
		Tag: dwarf.TagCompileUnit,
		Attributes: map[dwarf.Attr]Value{
			dwarf.AttrName:     StringValue("test.c"),
			dwarf.AttrLanguage: IntValue(0x0002),
			dwarf.AttrProducer: StringValue("angr :)"),
		},
		Children: []*DIE{
			{Tag: dwarf.TagSubprogram, Attributes: map[dwarf.Attr]Value{dwarf.AttrName: StringValue("main")}},
			{Tag: dwarf.TagSubprogram, Attributes: map[dwarf.Attr]Value{dwarf.AttrName: StringValue("foo")}},
		},
	}

	sections, err := Encode([]*DIE{unit}, arch64())
	require.NoError(t, err)
	require.Contains(t, sections, ".debug_info")
	require.Contains(t, sections, ".debug_abbrev")
	require.Contains(t, sections, ".debug_str")
	require.NotContains(t, sections, ".debug_loc")
	require.NotContains(t, sections, ".debug_line")
	require.NotContains(t, sections, ".debug_ranges")

	str := sections[".debug_str"]
	for _, want := range []string{"test.c", "angr :)", "main", "foo"} {
		require.True(t, bytes.Contains(str, append([]byte(want), 0)), "missing %q in .debug_str", want)
	}
}

func TestEncodeRejectsDanglingReference(t *testing.T) {
	orphan := &DIE{Tag: dwarf.TagBaseType}
	fn := &DIE{Tag: dwarf.TagSubprogram, Attributes: map[dwarf.Attr]Value{
		dwarf.AttrType: RefValue{Target: orphan},
	}}
	unit := &DIE{Tag: dwarf.TagCompileUnit, Children: []*DIE{fn}}

	_, err := Encode([]*DIE{unit}, arch64())
	require.Error(t, err)
	var dre *DanglingReferenceError
	require.ErrorAs(t, err, &dre)
}

func TestWithLoggerOptionDoesNotPanic(t *testing.T) {
	unit := &DIE{Tag: dwarf.TagCompileUnit}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := Encode([]*DIE{unit}, arch64(), WithLogger(logger))
	require.NoError(t, err)
	require.Contains(t, buf.String(), "encoding compile unit")
}
