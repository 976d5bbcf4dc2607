package vm

import (
	"encoding/binary"
	"fmt"
)

// Opcode is a single instruction selector byte.
type Opcode uint8

// Control flow.
const (
	OpHalt       Opcode = 0x00 // ip = len(program)
	OpJump       Opcode = 0x01 // pop target; ip = target
	OpJumpIfZero Opcode = 0x02 // pop target, pop cond; jump when cond == 0
)

// Stack access.
const (
	OpPushConst    Opcode = 0x10 // push imm
	OpLoadAtDepth  Opcode = 0x11 // push copy of the element imm below the top
	OpStoreAtDepth Opcode = 0x20 // pop; overwrite the element imm below the new top
	OpDropN        Opcode = 0x21 // pop imm values
)

// Arithmetic. The first value popped is the left operand.
const (
	OpAdd Opcode = 0x30
	OpSub Opcode = 0x31
	OpMul Opcode = 0x32
	OpDiv Opcode = 0x33
	OpMod Opcode = 0x34
)

// Comparison. Push 1 when the relation holds, 0 otherwise.
const (
	OpEq Opcode = 0x40
	OpGt Opcode = 0x41
	OpLt Opcode = 0x42
	OpGe Opcode = 0x43
	OpLe Opcode = 0x44
)

// ImmediateSize is the width of an immediate operand in bytes.
const ImmediateSize = 4

var mnemonics = map[Opcode]string{
	OpHalt:         "HALT",
	OpJump:         "JUMP",
	OpJumpIfZero:   "JUMP_IF_ZERO",
	OpPushConst:    "PUSH_CONST",
	OpLoadAtDepth:  "LOAD_AT_DEPTH",
	OpStoreAtDepth: "STORE_AT_DEPTH",
	OpDropN:        "DROP_N",
	OpAdd:          "ADD",
	OpSub:          "SUB",
	OpMul:          "MUL",
	OpDiv:          "DIV",
	OpMod:          "MOD",
	OpEq:           "EQ",
	OpGt:           "GT",
	OpLt:           "LT",
	OpGe:           "GE",
	OpLe:           "LE",
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := mnemonics[op]
	return ok
}

// String returns the mnemonic, or a hex form for undefined opcodes.
func (op Opcode) String() string {
	if name, ok := mnemonics[op]; ok {
		return name
	}
	return fmt.Sprintf("OP_0x%02x", uint8(op))
}

// HasOperand reports whether op is followed by a 4-byte immediate.
func (op Opcode) HasOperand() bool {
	switch op {
	case OpPushConst, OpLoadAtDepth, OpStoreAtDepth, OpDropN:
		return true
	default:
		return false
	}
}

// Size returns the encoded length of an instruction with this opcode.
func (op Opcode) Size() int {
	if op.HasOperand() {
		return 1 + ImmediateSize
	}
	return 1
}

// AppendInstruction appends the encoding of one instruction to dst.
// operand is ignored for opcodes without an immediate.
func AppendInstruction(dst []byte, op Opcode, operand int32) []byte {
	dst = append(dst, byte(op))
	if op.HasOperand() {
		dst = binary.BigEndian.AppendUint32(dst, uint32(operand))
	}
	return dst
}
