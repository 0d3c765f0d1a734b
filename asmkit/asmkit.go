// Package asmkit disassembles x86 machine code.
//
// It is used to inspect code caves before they are written into a
// target, and to check that each placeholder lines up with the
// immediate operand of an instruction.
package asmkit

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

const (
	SkipSyntax  DisassemblySyntax = ""
	ATTSyntax   DisassemblySyntax = "att"
	GoSyntax    DisassemblySyntax = "go"
	IntelSyntax DisassemblySyntax = "intel"
)

type DisassemblySyntax string

type DisassemblerConfig struct {
	Syntax     DisassemblySyntax
	ArchConfig X86Config
}

type X86Config struct {
	// Bits is the processor mode: 16, 32, or 64.
	Bits int
}

func NewDisassembler(config DisassemblerConfig) (*Disassembler, error) {
	switch config.ArchConfig.Bits {
	case 16, 32, 64:
	default:
		return nil, fmt.Errorf("unsupported x86 mode: %d bits", config.ArchConfig.Bits)
	}

	var disassemblyFn func(inst x86asm.Inst) string
	switch config.Syntax {
	case SkipSyntax:
		// Do nothing.
	case ATTSyntax:
		disassemblyFn = func(inst x86asm.Inst) string {
			return x86asm.GNUSyntax(inst, 0, nil)
		}
	case GoSyntax:
		disassemblyFn = func(inst x86asm.Inst) string {
			return x86asm.GoSyntax(inst, 0, nil)
		}
	case IntelSyntax:
		disassemblyFn = func(inst x86asm.Inst) string {
			return x86asm.IntelSyntax(inst, 0, nil)
		}
	default:
		return nil, fmt.Errorf("unsupported syntax type for x86: %q", config.Syntax)
	}

	bits := config.ArchConfig.Bits

	return &Disassembler{
		disassOneInstFn: func(remainingInsts []byte) (Inst, error) {
			x86Inst, err := x86asm.Decode(remainingInsts, bits)
			if err != nil {
				return Inst{}, err
			}

			var disassembly string
			if disassemblyFn != nil {
				disassembly = disassemblyFn(x86Inst)
			}

			return Inst{
				Bin:  copySlice(remainingInsts, x86Inst.Len),
				Len:  x86Inst.Len,
				Dis:  disassembly,
				Inst: x86Inst,
			}, nil
		},
	}, nil
}

func copySlice(src []byte, numBytes int) []byte {
	cp := make([]byte, numBytes)

	copy(cp, src[0:numBytes])

	return cp
}

type Disassembler struct {
	disassOneInstFn func(remainingInsts []byte) (Inst, error)
}

// All decodes every instruction in rawInstructions, calling
// onDecodeFn for each one in order.
func (o *Disassembler) All(rawInstructions []byte, onDecodeFn func(Inst) error) error {
	index := 0

	for index < len(rawInstructions) {
		inst, err := o.disassOneInstFn(rawInstructions[index:])
		if err != nil {
			return fmt.Errorf("failed to decode instruction at offset %d - %w - remaining data: 0x%x",
				index, err, rawInstructions[index:])
		}

		inst.Index = index

		err = onDecodeFn(inst)
		if err != nil {
			return fmt.Errorf("on decode function failed for instruction at offset %d (%q) - %w",
				index, inst.Dis, err)
		}

		index += inst.Len
	}

	return nil
}

// Next decodes the first instruction in rawInstructions.
func (o *Disassembler) Next(rawInstructions []byte) (Inst, error) {
	return o.disassOneInstFn(rawInstructions)
}

type Inst struct {
	Bin   []byte
	Len   int
	Index int
	Dis   string
	Inst  x86asm.Inst `json:"-"`
}

// End returns the offset of the first byte after the instruction.
func (o Inst) End() int {
	return o.Index + o.Len
}

// MovImmediate returns the destination register and immediate value
// of a "mov reg, imm" instruction.
func (o Inst) MovImmediate() (x86asm.Reg, int64, bool) {
	if o.Inst.Op != x86asm.MOV {
		return 0, 0, false
	}

	reg, isReg := o.Inst.Args[0].(x86asm.Reg)
	imm, isImm := o.Inst.Args[1].(x86asm.Imm)
	if !isReg || !isImm {
		return 0, 0, false
	}

	return reg, int64(imm), true
}
