package dietree

import (
	"debug/dwarf"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsSelfContainedUnit(t *testing.T) {
	typeDie := &DIE{Tag: dwarf.TagBaseType, Attributes: map[dwarf.Attr]Value{
		dwarf.AttrName: StringValue("int"),
	}}
	fn := &DIE{Tag: dwarf.TagSubprogram, Attributes: map[dwarf.Attr]Value{
		dwarf.AttrName: StringValue("main"),
		dwarf.AttrType: RefValue{Target: typeDie},
	}}
	unit := &DIE{Tag: dwarf.TagCompileUnit, Children: []*DIE{typeDie, fn}}

	require.NoError(t, Validate([]*DIE{unit}))
}

func TestValidateRejectsDanglingReference(t *testing.T) {
	orphanType := &DIE{Tag: dwarf.TagBaseType}
	fn := &DIE{Tag: dwarf.TagSubprogram, Attributes: map[dwarf.Attr]Value{
		dwarf.AttrType: RefValue{Target: orphanType},
	}}
	unit := &DIE{Tag: dwarf.TagCompileUnit, Children: []*DIE{fn}}

	err := Validate([]*DIE{unit})
	require.Error(t, err)
	var dre *DanglingReferenceError
	require.ErrorAs(t, err, &dre)
	require.Len(t, dre.Offenders, 1)
}

func TestValidateAllowsExplicitNullReference(t *testing.T) {
	fn := &DIE{Tag: dwarf.TagSubprogram, Attributes: map[dwarf.Attr]Value{
		dwarf.AttrType: RefValue{Target: nil},
	}}
	unit := &DIE{Tag: dwarf.TagCompileUnit, Children: []*DIE{fn}}

	require.NoError(t, Validate([]*DIE{unit}))
}
