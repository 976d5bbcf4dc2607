package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Instruction is one decoded instruction.
type Instruction struct {
	Offset  int
	Op      Opcode
	Operand int32
}

// String formats the instruction as "OFFSET MNEMONIC [OPERAND]".
func (in Instruction) String() string {
	if in.Op.HasOperand() {
		return fmt.Sprintf("%04d %s %d", in.Offset, in.Op, in.Operand)
	}
	return fmt.Sprintf("%04d %s", in.Offset, in.Op)
}

// Disassemble decodes program linearly from offset 0.
//
// Decoding stops at the first undefined opcode or truncated immediate; the
// instructions decoded up to that point are returned with the error.
func Disassemble(program []byte) ([]Instruction, error) {
	var out []Instruction
	for pc := 0; pc < len(program); {
		op := Opcode(program[pc])
		if !op.Valid() {
			return out, fmt.Errorf("%w: 0x%02x at offset %d", ErrUnknownOpcode, uint8(op), pc)
		}
		in := Instruction{Offset: pc, Op: op}
		if op.HasOperand() {
			if len(program)-pc-1 < ImmediateSize {
				return out, fmt.Errorf("%w: %s at offset %d is truncated", ErrMalformedProgram, op, pc)
			}
			in.Operand = int32(binary.BigEndian.Uint32(program[pc+1:]))
		}
		out = append(out, in)
		pc += op.Size()
	}
	return out, nil
}

// Listing renders instructions one per line.
func Listing(instrs []Instruction) string {
	var sb strings.Builder
	for _, in := range instrs {
		sb.WriteString(in.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
