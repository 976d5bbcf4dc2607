// Package vm implements the stackvm bytecode interpreter.
//
// A Machine executes an immutable byte program against a single operand
// stack of 32-bit signed integers. Each instruction is one opcode byte,
// optionally followed by a 4-byte big-endian signed immediate:
//
//	0x00 HALT            0x10 PUSH_CONST imm     0x30 ADD   0x40 EQ
//	0x01 JUMP            0x11 LOAD_AT_DEPTH imm  0x31 SUB   0x41 GT
//	0x02 JUMP_IF_ZERO    0x20 STORE_AT_DEPTH imm 0x32 MUL   0x42 LT
//	                     0x21 DROP_N imm         0x33 DIV   0x43 GE
//	                                             0x34 MOD   0x44 LE
//
// Binary operators pop their left operand first: a program that pushes X
// and then Y computes Y op X.
package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Errors. Every error returned by Step and Run wraps exactly one of these.
var (
	ErrStackUnderflow    = errors.New("stack underflow")
	ErrAddressOutOfRange = errors.New("address out of range")
	ErrMalformedProgram  = errors.New("malformed program")
	ErrDivideByZero      = errors.New("divide by zero")
	ErrUnknownOpcode     = errors.New("unknown opcode")
	ErrEmptyResult       = errors.New("empty result")
	ErrStepLimitExceeded = errors.New("step limit exceeded")
)

// TraceEvent describes an instruction about to execute.
type TraceEvent struct {
	Offset  int     // Offset of the opcode byte
	Op      Opcode  // Decoded opcode
	Operand int32   // Immediate, zero when Op has none
	Stack   []int32 // Stack before execution; only valid during the callback
}

// Opts configures a Machine.
type Opts struct {
	// MaxSteps bounds the number of executed instructions. Zero means no bound.
	MaxSteps uint64

	// Trace is called before each instruction executes.
	Trace func(TraceEvent)
}

// Machine executes a single program. It is not safe for concurrent use.
type Machine struct {
	program []byte
	ip      int
	stack   []int32

	maxSteps uint64
	steps    uint64
	trace    func(TraceEvent)
}

// New creates a machine for program with ip = 0 and an empty stack.
// The program is not validated and must not be modified while the machine runs.
func New(program []byte, opts Opts) *Machine {
	return &Machine{
		program:  program,
		stack:    make([]int32, 0, 16),
		maxSteps: opts.MaxSteps,
		trace:    opts.Trace,
	}
}

// Run executes instructions until the machine halts or an instruction fails.
func (m *Machine) Run() error {
	for m.ip < len(m.program) {
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Result returns the value on top of the stack.
func (m *Machine) Result() (int32, error) {
	if len(m.stack) == 0 {
		return 0, ErrEmptyResult
	}
	return m.stack[len(m.stack)-1], nil
}

// IP returns the instruction pointer.
func (m *Machine) IP() int { return m.ip }

// Steps returns the number of instructions executed so far.
func (m *Machine) Steps() uint64 { return m.steps }

// Halted reports whether the instruction pointer is past the end of the program.
func (m *Machine) Halted() bool { return m.ip >= len(m.program) }

// Program returns the program the machine was created with.
func (m *Machine) Program() []byte { return m.program }

// Stack returns a copy of the operand stack, bottom first.
func (m *Machine) Stack() []int32 {
	out := make([]int32, len(m.stack))
	copy(out, m.stack)
	return out
}

// Step executes one instruction. It is a no-op once the machine has halted.
func (m *Machine) Step() error {
	if m.ip >= len(m.program) {
		return nil
	}
	if m.maxSteps > 0 && m.steps >= m.maxSteps {
		return fmt.Errorf("%w: %d instructions at offset %d", ErrStepLimitExceeded, m.steps, m.ip)
	}

	pc := m.ip
	op := Opcode(m.program[pc])
	m.ip++
	m.steps++

	var imm int32
	if op.HasOperand() {
		v, err := m.immediate()
		if err != nil {
			return fmt.Errorf("%w: %s at offset %d needs %d operand bytes", err, op, pc, ImmediateSize)
		}
		imm = v
	}

	if m.trace != nil {
		m.trace(TraceEvent{Offset: pc, Op: op, Operand: imm, Stack: m.stack})
	}

	if err := m.exec(op, imm); err != nil {
		if op.Valid() {
			return fmt.Errorf("%w: %s at offset %d", err, op, pc)
		}
		return fmt.Errorf("%w: 0x%02x at offset %d", err, uint8(op), pc)
	}
	return nil
}

func (m *Machine) exec(op Opcode, imm int32) error {
	switch op {
	case OpHalt:
		m.ip = len(m.program)

	case OpJump:
		target, err := m.pop()
		if err != nil {
			return err
		}
		m.jump(target)

	case OpJumpIfZero:
		target, err := m.pop()
		if err != nil {
			return err
		}
		cond, err := m.pop()
		if err != nil {
			return err
		}
		if cond == 0 {
			m.jump(target)
		}

	case OpPushConst:
		m.push(imm)

	case OpLoadAtDepth:
		idx, err := m.depthIndex(imm)
		if err != nil {
			return err
		}
		m.push(m.stack[idx])

	case OpStoreAtDepth:
		value, err := m.pop()
		if err != nil {
			return err
		}
		idx, err := m.depthIndex(imm)
		if err != nil {
			return err
		}
		m.stack[idx] = value

	case OpDropN:
		if imm < 0 {
			return fmt.Errorf("%w: negative count %d", ErrMalformedProgram, imm)
		}
		if int(imm) > len(m.stack) {
			return fmt.Errorf("%w: drop %d from %d", ErrStackUnderflow, imm, len(m.stack))
		}
		m.stack = m.stack[:len(m.stack)-int(imm)]

	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		a, b, err := m.pop2()
		if err != nil {
			return err
		}
		var r int32
		switch op {
		case OpAdd:
			r = a + b
		case OpSub:
			r = a - b
		case OpMul:
			r = a * b
		case OpDiv:
			if b == 0 {
				return ErrDivideByZero
			}
			r = a / b
		case OpMod:
			if b == 0 {
				return ErrDivideByZero
			}
			r = a % b
		}
		m.push(r)

	case OpEq, OpGt, OpLt, OpGe, OpLe:
		a, b, err := m.pop2()
		if err != nil {
			return err
		}
		var ok bool
		switch op {
		case OpEq:
			ok = a == b
		case OpGt:
			ok = a > b
		case OpLt:
			ok = a < b
		case OpGe:
			ok = a >= b
		case OpLe:
			ok = a <= b
		}
		m.push(boolInt(ok))

	default:
		return ErrUnknownOpcode
	}
	return nil
}

// jump moves ip to target read as an unsigned index. Targets at or past the
// end of the program halt the machine.
func (m *Machine) jump(target int32) {
	if uint64(uint32(target)) >= uint64(len(m.program)) {
		m.ip = len(m.program)
		return
	}
	m.ip = int(uint32(target))
}

// immediate reads a big-endian int32 at ip and advances past it.
func (m *Machine) immediate() (int32, error) {
	if len(m.program)-m.ip < ImmediateSize {
		return 0, ErrMalformedProgram
	}
	v := int32(binary.BigEndian.Uint32(m.program[m.ip:]))
	m.ip += ImmediateSize
	return v, nil
}

// depthIndex converts a depth below the current top into a stack index.
// The arithmetic is done in int64 so extreme depths cannot wrap.
func (m *Machine) depthIndex(depth int32) (int, error) {
	n := int64(len(m.stack))
	idx := n - int64(depth) - 1
	if idx < 0 || idx >= n {
		return 0, fmt.Errorf("%w: depth %d with %d values", ErrAddressOutOfRange, depth, n)
	}
	return int(idx), nil
}

func (m *Machine) push(v int32) {
	m.stack = append(m.stack, v)
}

func (m *Machine) pop() (int32, error) {
	if len(m.stack) == 0 {
		return 0, ErrStackUnderflow
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

// pop2 pops the left operand, then the right operand.
func (m *Machine) pop2() (a, b int32, err error) {
	if a, err = m.pop(); err != nil {
		return 0, 0, err
	}
	if b, err = m.pop(); err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
