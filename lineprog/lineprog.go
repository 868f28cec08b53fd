// Package lineprog encodes a sequence of line-number row snapshots into
// a DWARF v4 line-number program, including its header (directory/file
// tables) and the state-machine opcode stream that reconstructs the rows
// a debugger needs.
//
// The overall shape — accumulate into a growable buffer, reserve
// placeholder fields, back-patch them once the real lengths are known —
// mirrors how the teacher's unwind.go (CommonInformationEntry) and the
// Python original's line_serial.py both build fixed+variable headers.
package lineprog

import (
	"bytes"
	"path"

	"github.com/conradirwin/dwarfenc/dietree"
	"github.com/conradirwin/dwarfenc/leb128"
)

// Fixed line-number program parameters (spec §4.3); DWARF v4 with
// line_base=0, line_range=1 never emits a special opcode, only standard
// and extended ones.
const (
	minimumInstructionLength = 1
	maximumOperationsPerInstruction = 1
	defaultIsStmt = 1
	lineBase = 0
	lineRange = 1
	opcodeBase = 13
)

var standardOpcodeLengths = [opcodeBase - 1]byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1}

// Standard opcodes (DW_LNS_*).
const (
	lnsCopy = 1
	lnsAdvancePC = 2
	lnsAdvanceLine = 3
	lnsSetFile = 4
	lnsSetColumn = 5
	lnsNegateStmt = 6
	lnsSetBasicBlock = 7
	lnsConstAddPC = 8
	lnsFixedAdvancePC = 9
	lnsSetPrologueEnd = 10
	lnsSetEpilogueBegin = 11
	lnsSetISA = 12
)

// Extended opcodes (DW_LNE_*).
const (
	lneEndSequence = 1
	lneSetAddress = 2
	lneDefineFile = 3
	lneSetDiscriminator = 4
)

// Encoder builds DWARF line-number programs for one target architecture.
type Encoder struct {
	arch dietree.Arch
}

// New returns a line-program Encoder for arch.
func New(arch dietree.Arch) *Encoder {
	return &Encoder{arch: arch}
}

// Encode serialises states into a complete .debug_line unit, including
// the leading unit_length/version/header_length fields.
func (e *Encoder) Encode(states dietree.LineStates) ([]byte, error) {
	dirs, dirIndex, files, fileIndex, err := e.buildTables(states)
	if err != nil {
		return nil, err
	}

	var header bytes.Buffer
	header.WriteByte(minimumInstructionLength)
	header.WriteByte(maximumOperationsPerInstruction)
	header.WriteByte(defaultIsStmt)
	header.WriteByte(lineBase)
	header.WriteByte(lineRange)
	header.WriteByte(opcodeBase)
	header.Write(standardOpcodeLengths[:])

	for _, d := range dirs {
		header.WriteString(d)
		header.WriteByte(0)
	}
	header.WriteByte(0)

	for _, f := range files {
		header.WriteString(path.Base(f))
		header.WriteByte(0)
		header.Write(leb128.AppendUnsigned(nil, uint64(dirIndex[path.Dir(f)])))
		header.Write(leb128.AppendUnsigned(nil, 0)) // mtime
		header.Write(leb128.AppendUnsigned(nil, 0)) // length
	}
	header.WriteByte(0)

	body, err := e.encodeBody(states, fileIndex)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	bo := e.arch.ByteOrder()

	var u32 [4]byte
	var u16 [2]byte

	bo.PutUint16(u16[:], 4)

	bo.PutUint32(u32[:], uint32(header.Len()))

	// unit_length (patched below), version, header_length, header, body.
	out.Write([]byte{0, 0, 0, 0})
	out.Write(u16[:])
	out.Write(u32[:])
	out.Write(header.Bytes())
	out.Write(body)

	full := out.Bytes()
	bo.PutUint32(full[0:4], uint32(len(full)-4))
	return full, nil
}

// buildTables scans every row for its filename, builds a stable
// (first-appearance order, per DESIGN.md's deliberate departure from
// the Python original's set-based — so unordered — directory/file
// tables) directory list and per-unit file list, and returns lookup maps
// from directory name to its 1-based table index and from filename to
// its 1-based file-table index.
func (e *Encoder) buildTables(states dietree.LineStates) (dirs []string, dirIndex map[string]int, files []string, fileIndex map[string]int, err error) {
	dirIndex = map[string]int{}
	fileIndex = map[string]int{}
	fileSeen := map[string]bool{}

	for _, st := range states {
		if st.File == "" {
			continue
		}
		if fileSeen[st.File] {
			continue
		}
		fileSeen[st.File] = true
		files = append(files, st.File)

		dir := path.Dir(st.File)
		if dir == "." || dir == "" {
			dir = ""
		}
		if dir != "" {
			if _, ok := dirIndex[dir]; !ok {
				dirs = append(dirs, dir)
				dirIndex[dir] = len(dirs) // 1-based; 0 reserved for empty dir
			}
		}
	}
	for i, f := range files {
		fileIndex[f] = i + 1 // file index 1 is the unit's primary source per DWARF convention
	}
	return dirs, dirIndex, files, fileIndex, nil
}

func initialState() dietree.LineState {
	return dietree.LineState{Address: 0, File: "", Line: 1, Column: 0, IsStmt: true}
}

// encodeBody walks states emitting the minimum opcode sequence that
// drives prev from its initial value to each target row, in the field
// order spec §4.3 fixes (address, file, line, column, is_stmt,
// basic_block, prologue_end, epilogue_begin, isa, discriminator).
func (e *Encoder) encodeBody(states dietree.LineStates, fileIndex map[string]int) ([]byte, error) {
	var buf bytes.Buffer
	prev := initialState()

	for _, target := range states {
		if target.Address != prev.Address {
			if target.Address > prev.Address {
				buf.WriteByte(lnsAdvancePC)
				buf.Write(leb128.AppendUnsigned(nil, target.Address-prev.Address))
			} else {
				e.emitSetAddress(&buf, target.Address)
			}
			prev.Address = target.Address
		}

		targetFileIdx := fileIndex[target.File]
		prevFileIdx := fileIndex[prev.File]
		if targetFileIdx != prevFileIdx {
			buf.WriteByte(lnsSetFile)
			buf.Write(leb128.AppendUnsigned(nil, uint64(targetFileIdx)))
			prev.File = target.File
		}

		if target.Line != prev.Line {
			buf.WriteByte(lnsAdvanceLine)
			buf.Write(leb128.AppendSigned(nil, target.Line-prev.Line))
			prev.Line = target.Line
		}

		if target.Column != prev.Column {
			buf.WriteByte(lnsSetColumn)
			buf.Write(leb128.AppendUnsigned(nil, target.Column))
			prev.Column = target.Column
		}

		if target.IsStmt != prev.IsStmt {
			buf.WriteByte(lnsNegateStmt)
			prev.IsStmt = target.IsStmt
		}

		if target.BasicBlock && !prev.BasicBlock {
			buf.WriteByte(lnsSetBasicBlock)
			prev.BasicBlock = true
		}
		if target.PrologueEnd && !prev.PrologueEnd {
			buf.WriteByte(lnsSetPrologueEnd)
			prev.PrologueEnd = true
		}
		if target.EpilogueBegin && !prev.EpilogueBegin {
			buf.WriteByte(lnsSetEpilogueBegin)
			prev.EpilogueBegin = true
		}

		if target.ISA != prev.ISA {
			buf.WriteByte(lnsSetISA)
			buf.Write(leb128.AppendUnsigned(nil, target.ISA))
			prev.ISA = target.ISA
		}

		if target.Discriminator != prev.Discriminator {
			e.emitExtended(&buf, lneSetDiscriminator, leb128.AppendUnsigned(nil, target.Discriminator))
			prev.Discriminator = target.Discriminator
		}

		if target.EndSequence {
			e.emitExtended(&buf, lneEndSequence, nil)
			prev = initialState()
		} else {
			buf.WriteByte(lnsCopy)
			prev.Discriminator = 0
			prev.BasicBlock = false
			prev.PrologueEnd = false
			prev.EpilogueBegin = false
		}
	}

	return buf.Bytes(), nil
}

func (e *Encoder) emitSetAddress(buf *bytes.Buffer, addr uint64) {
	b := make([]byte, e.arch.WordSize)
	e.arch.PutAddr(b, addr)
	e.emitExtended(buf, lneSetAddress, b)
}

func (e *Encoder) emitExtended(buf *bytes.Buffer, op byte, operand []byte) {
	buf.WriteByte(0)
	buf.Write(leb128.AppendUnsigned(nil, uint64(1+len(operand))))
	buf.WriteByte(op)
	buf.Write(operand)
}
