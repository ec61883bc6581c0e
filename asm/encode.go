package asm

import "github.com/z80asm/zasm/z80"

// mnemonicSet is the full set of recognized instruction mnemonics, used
// by the lexer to decide whether a statement-shaped line is an
// operation, spec.md §4.5.
var mnemonicSet map[string]bool

func init() {
	mnemonicSet = make(map[string]bool)
	for k := range z80.Trivial {
		mnemonicSet[k] = true
	}
	for k := range z80.TrivialED {
		mnemonicSet[k] = true
	}
	for k := range z80.TrivialNext {
		mnemonicSet[k] = true
	}
	for _, m := range []string{
		"LD", "INC", "DEC", "ADD", "ADC", "SUB", "SBC", "AND", "XOR", "OR", "CP",
		"JP", "CALL", "RET", "JR", "DJNZ", "RST", "BIT", "RES", "SET",
		"RLC", "RRC", "RL", "RR", "SLA", "SRA", "SLL", "SRL",
		"PUSH", "POP", "EX", "IN", "OUT", "IM",
	} {
		mnemonicSet[m] = true
	}
}

// encodeOperation dispatches one parsed instruction to its encoder,
// spec.md §4.5. Unresolved immediates still get a placeholder byte plus
// a Fixup; operand *shape* mismatches (wrong kind/count for the mnemonic)
// fail immediately, and so do RST targets, bit indexes and IM modes that
// cannot be evaluated at once.
func (a *Assembler) encodeOperation(op *operationLine) {
	mnem := op.mnemonic
	line := op.mnemonicTok
	ops := op.operands

	if b, ok := z80.Trivial[mnem]; ok {
		a.requireOperandCount(line, mnem, ops, 0)
		a.appendByte(line, b)
		return
	}
	if b, ok := z80.TrivialED[mnem]; ok {
		a.requireOperandCount(line, mnem, ops, 0)
		a.appendByte(line, 0xED)
		a.appendByte(line, b)
		return
	}
	if b, ok := z80.TrivialNext[mnem]; ok {
		a.requireOperandCount(line, mnem, ops, 0)
		if a.model != z80.Next {
			a.addErrorf(ErrNextOnlyInstruction, line, "'%s' is only valid when MODEL is NEXT", mnem)
			return
		}
		a.appendByte(line, 0xED)
		a.appendByte(line, b)
		return
	}

	switch mnem {
	case "LD":
		a.encodeLD(line, ops)
	case "INC":
		a.encodeIncDec(line, ops, true)
	case "DEC":
		a.encodeIncDec(line, ops, false)
	case "ADD", "ADC", "SUB", "SBC", "AND", "XOR", "OR", "CP":
		a.encodeALU(line, mnem, ops)
	case "JP":
		a.encodeJP(line, ops)
	case "CALL":
		a.encodeCall(line, ops)
	case "RET":
		a.encodeRet(line, ops)
	case "JR":
		a.encodeJR(line, ops)
	case "DJNZ":
		a.encodeDjnz(line, ops)
	case "RST":
		a.encodeRst(line, ops)
	case "BIT", "RES", "SET":
		a.encodeBitOp(line, mnem, ops)
	case "RLC", "RRC", "RL", "RR", "SLA", "SRA", "SLL", "SRL":
		a.encodeShift(line, mnem, ops)
	case "PUSH":
		a.encodePushPop(line, ops, true)
	case "POP":
		a.encodePushPop(line, ops, false)
	case "EX":
		a.encodeEx(line, ops)
	case "IN":
		a.encodeIn(line, ops)
	case "OUT":
		a.encodeOut(line, ops)
	case "IM":
		a.encodeIm(line, ops)
	default:
		a.addErrorf(ErrInvalidDirective, line, "unknown mnemonic '%s'", mnem)
	}
}

func (a *Assembler) requireOperandCount(line fstring, mnem string, ops []operandNode, n int) bool {
	if len(ops) != n {
		a.addErrorf(ErrInvalidOperand, line, "'%s' takes %d operand(s)", mnem, n)
		return false
	}
	return true
}

func (a *Assembler) emitImm8(line fstring, n *exprNode) {
	v, st := a.evalExpr(n)
	off := a.appendByte(line, byte(v.AsInt()))
	if off >= 0 && st == evalNonEvaluated {
		a.addFixup(&Fixup{kind: FixupBit8, segIndex: a.curSeg, offset: off, expr: n, line: line})
	}
}

func (a *Assembler) emitImm16(line fstring, n *exprNode) {
	v, st := a.evalExpr(n)
	off := a.appendWord(line, uint16(v.AsInt()))
	if off >= 0 && st == evalNonEvaluated {
		a.addFixup(&Fixup{kind: FixupBit16, segIndex: a.curSeg, offset: off, expr: n, line: line})
	}
}

// emitRelative appends opcode followed by a one-byte PC-relative
// displacement computed against the address right after this
// (two-byte) instruction, spec.md §4.5 (JR/DJNZ).
func (a *Assembler) emitRelative(line fstring, opcode byte, expr *exprNode) {
	a.appendByte(line, opcode)
	instrPC := a.segment().reportedAddress(a.segment().instrOffset) + 2
	dispOff := a.appendByte(line, 0)
	if dispOff < 0 {
		return
	}
	v, st := a.evalExpr(expr)
	switch st {
	case evalInvalid:
		return
	case evalNonEvaluated:
		a.addFixup(&Fixup{kind: FixupJr, segIndex: a.curSeg, offset: dispOff, expr: expr, instrPC: instrPC, line: line})
		return
	}
	disp := int64(v.AsInt()) - int64(instrPC)
	if disp < -128 || disp > 127 {
		a.addErrorf(ErrRelJumpOutOfRange, line, "relative jump out of range (%d)", disp)
		return
	}
	a.patchByte(a.curSeg, dispOff, byte(int8(disp)))
}

func asCondition(o operandNode) (z80.Condition, bool) {
	if o.kind == z80.KindCondition {
		return o.cond, true
	}
	if o.kind == z80.KindReg8 && o.reg8 == z80.RegC {
		return z80.CondC, true
	}
	return 0, false
}

// encodeLD implements the LD mnemonic's large operand-shape table,
// spec.md §4.5.
func (a *Assembler) encodeLD(line fstring, ops []operandNode) {
	if !a.requireOperandCount(line, "LD", ops, 2) {
		return
	}
	dst, src := ops[0], ops[1]

	switch {
	case dst.kind == z80.KindReg8 && src.kind == z80.KindReg8:
		if dst.reg8 == z80.RegHLIndirect && src.reg8 == z80.RegHLIndirect {
			a.addErrorf(ErrInvalidOperand, line, "LD (HL),(HL) is not a valid instruction")
			return
		}
		a.appendByte(line, 0x40+byte(dst.reg8)*8+byte(src.reg8))

	case dst.kind == z80.KindReg8 && src.kind == z80.KindExpr:
		a.appendByte(line, 0x06+byte(dst.reg8)*8)
		a.emitImm8(line, src.expr)

	case dst.kind == z80.KindReg8 && src.kind == z80.KindIndexedAddress:
		if dst.reg8 == z80.RegHLIndirect {
			a.addErrorf(ErrInvalidOperand, line, "cannot combine (HL) with an indexed address")
			return
		}
		a.appendByte(line, src.reg16Idx.Prefix())
		a.appendByte(line, 0x46+byte(dst.reg8)*8)
		a.emitImm8(line, src.expr)

	case dst.kind == z80.KindIndexedAddress && src.kind == z80.KindReg8:
		if src.reg8 == z80.RegHLIndirect {
			a.addErrorf(ErrInvalidOperand, line, "cannot combine (HL) with an indexed address")
			return
		}
		a.appendByte(line, dst.reg16Idx.Prefix())
		a.appendByte(line, 0x70+byte(src.reg8)*8)
		a.emitImm8(line, dst.expr)

	case dst.kind == z80.KindIndexedAddress && src.kind == z80.KindExpr:
		a.appendByte(line, dst.reg16Idx.Prefix())
		a.appendByte(line, 0x36)
		a.emitImm8(line, dst.expr)
		a.emitImm8(line, src.expr)

	case dst.kind == z80.KindReg8 && dst.reg8 == z80.RegA && src.kind == z80.KindRegIndirect:
		switch src.reg16 {
		case z80.RegBC:
			a.appendByte(line, 0x0A)
		case z80.RegDE:
			a.appendByte(line, 0x1A)
		default:
			a.addErrorf(ErrRegIndirectMustBeHL, line, "only (BC)/(DE)/(HL) are valid register-indirect operands")
		}

	case dst.kind == z80.KindRegIndirect && src.kind == z80.KindReg8 && src.reg8 == z80.RegA:
		switch dst.reg16 {
		case z80.RegBC:
			a.appendByte(line, 0x02)
		case z80.RegDE:
			a.appendByte(line, 0x12)
		default:
			a.addErrorf(ErrRegIndirectMustBeHL, line, "only (BC)/(DE)/(HL) are valid register-indirect operands")
		}

	case dst.kind == z80.KindReg8 && dst.reg8 == z80.RegA && src.kind == z80.KindMemIndirect:
		a.appendByte(line, 0x3A)
		a.emitImm16(line, src.expr)

	case dst.kind == z80.KindMemIndirect && src.kind == z80.KindReg8 && src.reg8 == z80.RegA:
		a.appendByte(line, 0x32)
		a.emitImm16(line, dst.expr)

	case dst.kind == z80.KindReg16 && src.kind == z80.KindExpr:
		a.appendByte(line, map[z80.Reg16]byte{z80.RegBC: 0x01, z80.RegDE: 0x11, z80.RegHL: 0x21, z80.RegSP: 0x31}[dst.reg16])
		a.emitImm16(line, src.expr)

	case dst.kind == z80.KindReg16Idx && src.kind == z80.KindExpr:
		a.appendByte(line, dst.reg16Idx.Prefix())
		a.appendByte(line, 0x21)
		a.emitImm16(line, src.expr)

	case dst.kind == z80.KindReg16 && dst.reg16 == z80.RegHL && src.kind == z80.KindMemIndirect:
		a.appendByte(line, 0x2A)
		a.emitImm16(line, src.expr)

	case dst.kind == z80.KindMemIndirect && src.kind == z80.KindReg16 && src.reg16 == z80.RegHL:
		a.appendByte(line, 0x22)
		a.emitImm16(line, dst.expr)

	case dst.kind == z80.KindReg16 && src.kind == z80.KindMemIndirect:
		op, ok := map[z80.Reg16]byte{z80.RegBC: 0x4B, z80.RegDE: 0x5B, z80.RegSP: 0x7B}[dst.reg16]
		if !ok {
			a.addErrorf(ErrInvalidOperand, line, "invalid LD rr,(nn) combination")
			return
		}
		a.appendByte(line, 0xED)
		a.appendByte(line, op)
		a.emitImm16(line, src.expr)

	case dst.kind == z80.KindMemIndirect && src.kind == z80.KindReg16:
		op, ok := map[z80.Reg16]byte{z80.RegBC: 0x43, z80.RegDE: 0x53, z80.RegSP: 0x73}[src.reg16]
		if !ok {
			a.addErrorf(ErrInvalidOperand, line, "invalid LD (nn),rr combination")
			return
		}
		a.appendByte(line, 0xED)
		a.appendByte(line, op)
		a.emitImm16(line, dst.expr)

	case dst.kind == z80.KindReg16Idx && src.kind == z80.KindMemIndirect:
		a.appendByte(line, dst.reg16Idx.Prefix())
		a.appendByte(line, 0x2A)
		a.emitImm16(line, src.expr)

	case dst.kind == z80.KindMemIndirect && src.kind == z80.KindReg16Idx:
		a.appendByte(line, src.reg16Idx.Prefix())
		a.appendByte(line, 0x22)
		a.emitImm16(line, dst.expr)

	case dst.kind == z80.KindReg16 && dst.reg16 == z80.RegSP && src.kind == z80.KindReg16 && src.reg16 == z80.RegHL:
		a.appendByte(line, 0xF9)

	case dst.kind == z80.KindReg16 && dst.reg16 == z80.RegSP && src.kind == z80.KindReg16Idx:
		a.appendByte(line, src.reg16Idx.Prefix())
		a.appendByte(line, 0xF9)

	case dst.kind == z80.KindReg8Spec && src.kind == z80.KindReg8 && src.reg8 == z80.RegA:
		op := byte(0x47)
		if dst.reg8Spec == 'R' {
			op = 0x4F
		}
		a.appendByte(line, 0xED)
		a.appendByte(line, op)

	case dst.kind == z80.KindReg8 && dst.reg8 == z80.RegA && src.kind == z80.KindReg8Spec:
		op := byte(0x57)
		if src.reg8Spec == 'R' {
			op = 0x5F
		}
		a.appendByte(line, 0xED)
		a.appendByte(line, op)

	case dst.kind == z80.KindReg8Idx && src.kind == z80.KindExpr:
		a.appendByte(line, dst.reg8Idx.Prefix())
		a.appendByte(line, 0x06+dst.reg8Idx.HLForm()*8)
		a.emitImm8(line, src.expr)

	case dst.kind == z80.KindReg8Idx && src.kind == z80.KindReg8Idx:
		if dst.reg8Idx.Prefix() != src.reg8Idx.Prefix() {
			a.addErrorf(ErrInvalidOperand, line, "cannot mix IX and IY halves in one instruction")
			return
		}
		a.appendByte(line, dst.reg8Idx.Prefix())
		a.appendByte(line, 0x40+dst.reg8Idx.HLForm()*8+src.reg8Idx.HLForm())

	case dst.kind == z80.KindReg8Idx && src.kind == z80.KindReg8 && src.reg8 != z80.RegHLIndirect:
		a.appendByte(line, dst.reg8Idx.Prefix())
		a.appendByte(line, 0x40+dst.reg8Idx.HLForm()*8+byte(src.reg8))

	case dst.kind == z80.KindReg8 && dst.reg8 != z80.RegHLIndirect && src.kind == z80.KindReg8Idx:
		a.appendByte(line, src.reg8Idx.Prefix())
		a.appendByte(line, 0x40+byte(dst.reg8)*8+src.reg8Idx.HLForm())

	default:
		a.addErrorf(ErrInvalidOperand, line, "invalid operand combination for LD")
	}
}

func (a *Assembler) encodeIncDec(line fstring, ops []operandNode, inc bool) {
	if !a.requireOperandCount(line, "INC/DEC", ops, 1) {
		return
	}
	o := ops[0]
	switch o.kind {
	case z80.KindReg8:
		base := byte(0x04)
		if !inc {
			base = 0x05
		}
		a.appendByte(line, base+byte(o.reg8)*8)

	case z80.KindReg16:
		table := map[z80.Reg16]byte{z80.RegBC: 0x03, z80.RegDE: 0x13, z80.RegHL: 0x23, z80.RegSP: 0x33}
		if !inc {
			table = map[z80.Reg16]byte{z80.RegBC: 0x0B, z80.RegDE: 0x1B, z80.RegHL: 0x2B, z80.RegSP: 0x3B}
		}
		a.appendByte(line, table[o.reg16])

	case z80.KindReg16Idx:
		a.appendByte(line, o.reg16Idx.Prefix())
		if inc {
			a.appendByte(line, 0x23)
		} else {
			a.appendByte(line, 0x2B)
		}

	case z80.KindIndexedAddress:
		a.appendByte(line, o.reg16Idx.Prefix())
		if inc {
			a.appendByte(line, 0x34)
		} else {
			a.appendByte(line, 0x35)
		}
		a.emitImm8(line, o.expr)

	case z80.KindReg8Idx:
		a.appendByte(line, o.reg8Idx.Prefix())
		base := byte(0x04)
		if !inc {
			base = 0x05
		}
		a.appendByte(line, base+o.reg8Idx.HLForm()*8)

	default:
		a.addErrorf(ErrInvalidOperand, line, "invalid operand for INC/DEC")
	}
}

func (a *Assembler) encodeALU(line fstring, mnem string, ops []operandNode) {
	alu := z80.ALUNames[mnem]

	if len(ops) == 2 && ops[0].kind == z80.KindReg16 {
		a.encode16ALU(line, mnem, ops[0], ops[1])
		return
	}
	if len(ops) == 2 && ops[0].kind == z80.KindReg16Idx {
		a.encode16ALUIdx(line, mnem, ops[0], ops[1])
		return
	}

	var src operandNode
	switch len(ops) {
	case 2:
		if !(ops[0].kind == z80.KindReg8 && ops[0].reg8 == z80.RegA) {
			a.addErrorf(ErrInvalidOperand, line, "'%s' with two operands requires A as the first", mnem)
			return
		}
		src = ops[1]
	case 1:
		src = ops[0]
	default:
		a.addErrorf(ErrInvalidOperand, line, "'%s' takes one or two operands", mnem)
		return
	}

	switch src.kind {
	case z80.KindReg8:
		a.appendByte(line, 0x80+byte(alu)*8+byte(src.reg8))
	case z80.KindExpr:
		a.appendByte(line, 0xC6+byte(alu)*8)
		a.emitImm8(line, src.expr)
	case z80.KindIndexedAddress:
		a.appendByte(line, src.reg16Idx.Prefix())
		a.appendByte(line, 0x86+byte(alu)*8)
		a.emitImm8(line, src.expr)
	case z80.KindReg8Idx:
		a.appendByte(line, src.reg8Idx.Prefix())
		a.appendByte(line, 0x80+byte(alu)*8+src.reg8Idx.HLForm())
	default:
		a.addErrorf(ErrInvalidOperand, line, "invalid operand for '%s'", mnem)
	}
}

func (a *Assembler) encode16ALU(line fstring, mnem string, dst, src operandNode) {
	if dst.reg16 != z80.RegHL {
		a.addErrorf(ErrInvalidOperand, line, "16-bit '%s' only supports HL as the destination", mnem)
		return
	}
	switch mnem {
	case "ADD":
		table := map[z80.Reg16]byte{z80.RegBC: 0x09, z80.RegDE: 0x19, z80.RegHL: 0x29, z80.RegSP: 0x39}
		b, ok := table[src.reg16]
		if !ok || src.kind != z80.KindReg16 {
			a.addErrorf(ErrInvalidOperand, line, "invalid operand for ADD HL,rr")
			return
		}
		a.appendByte(line, b)
	case "ADC":
		table := map[z80.Reg16]byte{z80.RegBC: 0x4A, z80.RegDE: 0x5A, z80.RegHL: 0x6A, z80.RegSP: 0x7A}
		b, ok := table[src.reg16]
		if !ok || src.kind != z80.KindReg16 {
			a.addErrorf(ErrInvalidOperand, line, "invalid operand for ADC HL,rr")
			return
		}
		a.appendByte(line, 0xED)
		a.appendByte(line, b)
	case "SBC":
		table := map[z80.Reg16]byte{z80.RegBC: 0x42, z80.RegDE: 0x52, z80.RegHL: 0x62, z80.RegSP: 0x72}
		b, ok := table[src.reg16]
		if !ok || src.kind != z80.KindReg16 {
			a.addErrorf(ErrInvalidOperand, line, "invalid operand for SBC HL,rr")
			return
		}
		a.appendByte(line, 0xED)
		a.appendByte(line, b)
	default:
		a.addErrorf(ErrInvalidOperand, line, "only ADD/ADC/SBC support 16-bit register operands")
	}
}

func (a *Assembler) encode16ALUIdx(line fstring, mnem string, dst, src operandNode) {
	if mnem != "ADD" {
		a.addErrorf(ErrInvalidOperand, line, "only ADD supports an indexed 16-bit destination")
		return
	}
	var idx byte
	switch {
	case src.kind == z80.KindReg16 && src.reg16 == z80.RegBC:
		idx = 0
	case src.kind == z80.KindReg16 && src.reg16 == z80.RegDE:
		idx = 1
	case src.kind == z80.KindReg16Idx && src.reg16Idx == dst.reg16Idx:
		idx = 2
	case src.kind == z80.KindReg16 && src.reg16 == z80.RegSP:
		idx = 3
	default:
		a.addErrorf(ErrInvalidOperand, line, "invalid operand for ADD %s,rr", dst.tok.str)
		return
	}
	a.appendByte(line, dst.reg16Idx.Prefix())
	a.appendByte(line, 0x09+idx*0x10)
}

func (a *Assembler) encodeJP(line fstring, ops []operandNode) {
	switch len(ops) {
	case 1:
		o := ops[0]
		switch {
		case o.kind == z80.KindReg8 && o.reg8 == z80.RegHLIndirect:
			a.appendByte(line, 0xE9)
		case o.kind == z80.KindIndexedAddress:
			a.appendByte(line, o.reg16Idx.Prefix())
			a.appendByte(line, 0xE9)
		case o.kind == z80.KindExpr:
			a.appendByte(line, 0xC3)
			a.emitImm16(line, o.expr)
		default:
			a.addErrorf(ErrInvalidOperand, line, "invalid operand for JP")
		}
	case 2:
		cond, ok := asCondition(ops[0])
		if !ok || ops[1].kind != z80.KindExpr {
			a.addErrorf(ErrInvalidOperand, line, "JP cc,nn requires a condition and an address")
			return
		}
		table := map[z80.Condition]byte{
			z80.CondNZ: 0xC2, z80.CondZ: 0xCA, z80.CondNC: 0xD2, z80.CondC: 0xDA,
			z80.CondPO: 0xE2, z80.CondPE: 0xEA, z80.CondP: 0xF2, z80.CondM: 0xFA,
		}
		a.appendByte(line, table[cond])
		a.emitImm16(line, ops[1].expr)
	default:
		a.addErrorf(ErrInvalidOperand, line, "JP takes one or two operands")
	}
}

func (a *Assembler) encodeCall(line fstring, ops []operandNode) {
	switch len(ops) {
	case 1:
		if ops[0].kind != z80.KindExpr {
			a.addErrorf(ErrInvalidOperand, line, "CALL requires an address")
			return
		}
		a.appendByte(line, 0xCD)
		a.emitImm16(line, ops[0].expr)
	case 2:
		cond, ok := asCondition(ops[0])
		if !ok || ops[1].kind != z80.KindExpr {
			a.addErrorf(ErrInvalidOperand, line, "CALL cc,nn requires a condition and an address")
			return
		}
		table := map[z80.Condition]byte{
			z80.CondNZ: 0xC4, z80.CondZ: 0xCC, z80.CondNC: 0xD4, z80.CondC: 0xDC,
			z80.CondPO: 0xE4, z80.CondPE: 0xEC, z80.CondP: 0xF4, z80.CondM: 0xFC,
		}
		a.appendByte(line, table[cond])
		a.emitImm16(line, ops[1].expr)
	default:
		a.addErrorf(ErrInvalidOperand, line, "CALL takes one or two operands")
	}
}

func (a *Assembler) encodeRet(line fstring, ops []operandNode) {
	switch len(ops) {
	case 0:
		a.appendByte(line, 0xC9)
	case 1:
		cond, ok := asCondition(ops[0])
		if !ok {
			a.addErrorf(ErrInvalidOperand, line, "RET cc requires a condition")
			return
		}
		table := map[z80.Condition]byte{
			z80.CondNZ: 0xC0, z80.CondZ: 0xC8, z80.CondNC: 0xD0, z80.CondC: 0xD8,
			z80.CondPO: 0xE0, z80.CondPE: 0xE8, z80.CondP: 0xF0, z80.CondM: 0xF8,
		}
		a.appendByte(line, table[cond])
	default:
		a.addErrorf(ErrInvalidOperand, line, "RET takes zero or one operand")
	}
}

func (a *Assembler) encodeJR(line fstring, ops []operandNode) {
	switch len(ops) {
	case 1:
		if ops[0].kind != z80.KindExpr {
			a.addErrorf(ErrInvalidOperand, line, "JR requires a target address")
			return
		}
		a.emitRelative(line, 0x18, ops[0].expr)
	case 2:
		cond, ok := asCondition(ops[0])
		if !ok || ops[1].kind != z80.KindExpr {
			a.addErrorf(ErrInvalidOperand, line, "JR cc,e requires a condition and a target")
			return
		}
		opcode, ok := z80.JRCondOpcode[cond]
		if !ok {
			a.addErrorf(ErrInvalidOperand, line, "JR only supports NZ/Z/NC/C conditions")
			return
		}
		a.emitRelative(line, opcode, ops[1].expr)
	default:
		a.addErrorf(ErrInvalidOperand, line, "JR takes one or two operands")
	}
}

func (a *Assembler) encodeDjnz(line fstring, ops []operandNode) {
	if !a.requireOperandCount(line, "DJNZ", ops, 1) || ops[0].kind != z80.KindExpr {
		a.addErrorf(ErrInvalidOperand, line, "DJNZ requires a target address")
		return
	}
	a.emitRelative(line, 0x10, ops[0].expr)
}

func (a *Assembler) encodeRst(line fstring, ops []operandNode) {
	if !a.requireOperandCount(line, "RST", ops, 1) || ops[0].kind != z80.KindExpr {
		return
	}
	v, ok := a.evalOne(ops[0].expr)
	if !ok {
		a.addErrorf(ErrUnresolvedExpression, line, "RST target must be immediately resolvable")
		return
	}
	n := int(v.AsInt())
	if !z80.RSTTargets[n] {
		a.addErrorf(ErrInvalidOperand, line, "invalid RST target 0x%02X", n)
		return
	}
	a.appendByte(line, 0xC7+byte(n))
}

// encodeBitOp implements BIT/RES/SET, including the indexed-bit DD/FD
// CB d op form (spec.md §4.5).
func (a *Assembler) encodeBitOp(line fstring, mnem string, ops []operandNode) {
	if !a.requireOperandCount(line, mnem, ops, 2) {
		return
	}
	if ops[0].kind != z80.KindExpr {
		a.addErrorf(ErrInvalidOperand, line, "'%s' requires a bit index", mnem)
		return
	}
	v, ok := a.evalOne(ops[0].expr)
	if !ok {
		a.addErrorf(ErrUnresolvedExpression, line, "'%s' bit index must be immediately resolvable", mnem)
		return
	}
	n := v.AsInt()
	if n < 0 || n > 7 {
		a.addErrorf(ErrBitIndexRange, line, "bit index must be 0-7")
		return
	}
	var base byte
	switch mnem {
	case "BIT":
		base = 0x40
	case "RES":
		base = 0x80
	case "SET":
		base = 0xC0
	}
	target := ops[1]
	switch target.kind {
	case z80.KindReg8:
		a.appendByte(line, 0xCB)
		a.appendByte(line, base+byte(n)*8+byte(target.reg8))
	case z80.KindIndexedAddress:
		a.appendByte(line, target.reg16Idx.Prefix())
		a.appendByte(line, 0xCB)
		a.emitImm8(line, target.expr)
		a.appendByte(line, base+byte(n)*8+6)
	default:
		a.addErrorf(ErrInvalidOperand, line, "'%s' target must be a register or an indexed address", mnem)
	}
}

func (a *Assembler) encodeShift(line fstring, mnem string, ops []operandNode) {
	if !a.requireOperandCount(line, mnem, ops, 1) {
		return
	}
	shift := z80.ShiftNames[mnem]
	target := ops[0]
	switch target.kind {
	case z80.KindReg8:
		a.appendByte(line, 0xCB)
		a.appendByte(line, byte(shift)*8+byte(target.reg8))
	case z80.KindIndexedAddress:
		a.appendByte(line, target.reg16Idx.Prefix())
		a.appendByte(line, 0xCB)
		a.emitImm8(line, target.expr)
		a.appendByte(line, byte(shift)*8+6)
	default:
		a.addErrorf(ErrInvalidOperand, line, "'%s' target must be a register or an indexed address", mnem)
	}
}

func (a *Assembler) encodePushPop(line fstring, ops []operandNode, isPush bool) {
	if !a.requireOperandCount(line, "PUSH/POP", ops, 1) {
		return
	}
	o := ops[0]
	switch o.kind {
	case z80.KindReg16:
		if o.reg16 == z80.RegSP {
			a.addErrorf(ErrInvalidOperand, line, "SP cannot be pushed or popped")
			return
		}
		table := map[z80.Reg16]byte{z80.RegBC: 0xC5, z80.RegDE: 0xD5, z80.RegHL: 0xE5}
		if !isPush {
			table = map[z80.Reg16]byte{z80.RegBC: 0xC1, z80.RegDE: 0xD1, z80.RegHL: 0xE1}
		}
		a.appendByte(line, table[o.reg16])
	case z80.KindReg16Spec:
		b := byte(0xF5)
		if !isPush {
			b = 0xF1
		}
		a.appendByte(line, b)
	case z80.KindReg16Idx:
		a.appendByte(line, o.reg16Idx.Prefix())
		b := byte(0xE5)
		if !isPush {
			b = 0xE1
		}
		a.appendByte(line, b)
	default:
		a.addErrorf(ErrInvalidOperand, line, "invalid operand for PUSH/POP")
	}
}

func (a *Assembler) encodeEx(line fstring, ops []operandNode) {
	if !a.requireOperandCount(line, "EX", ops, 2) {
		return
	}
	x, y := ops[0], ops[1]
	switch {
	case x.kind == z80.KindReg16Spec && x.reg16Sp == z80.RegAF && y.kind == z80.KindReg16Spec && y.reg16Sp == z80.RegAFShadow:
		a.appendByte(line, 0x08)
	case x.kind == z80.KindReg16 && x.reg16 == z80.RegDE && y.kind == z80.KindReg16 && y.reg16 == z80.RegHL:
		a.appendByte(line, 0xEB)
	case x.kind == z80.KindRegIndirect && x.reg16 == z80.RegSP && y.kind == z80.KindReg16 && y.reg16 == z80.RegHL:
		a.appendByte(line, 0xE3)
	case x.kind == z80.KindRegIndirect && x.reg16 == z80.RegSP && y.kind == z80.KindReg16Idx:
		a.appendByte(line, y.reg16Idx.Prefix())
		a.appendByte(line, 0xE3)
	default:
		a.addErrorf(ErrInvalidOperand, line, "invalid operand combination for EX")
	}
}

func (a *Assembler) encodeIn(line fstring, ops []operandNode) {
	if !a.requireOperandCount(line, "IN", ops, 2) {
		return
	}
	dst, src := ops[0], ops[1]
	switch {
	case dst.kind == z80.KindReg8 && dst.reg8 == z80.RegA && src.kind == z80.KindMemIndirect:
		a.appendByte(line, 0xDB)
		a.emitImm8(line, src.expr)
	case dst.kind == z80.KindReg8 && src.kind == z80.KindCPort:
		a.appendByte(line, 0xED)
		a.appendByte(line, 0x40+byte(dst.reg8)*8)
	default:
		a.addErrorf(ErrInvalidOperand, line, "invalid operand combination for IN")
	}
}

func (a *Assembler) encodeOut(line fstring, ops []operandNode) {
	if !a.requireOperandCount(line, "OUT", ops, 2) {
		return
	}
	dst, src := ops[0], ops[1]
	switch {
	case dst.kind == z80.KindMemIndirect && src.kind == z80.KindReg8 && src.reg8 == z80.RegA:
		a.appendByte(line, 0xD3)
		a.emitImm8(line, dst.expr)
	case dst.kind == z80.KindCPort && src.kind == z80.KindReg8:
		a.appendByte(line, 0xED)
		a.appendByte(line, 0x41+byte(src.reg8)*8)
	default:
		a.addErrorf(ErrInvalidOperand, line, "invalid operand combination for OUT")
	}
}

func (a *Assembler) encodeIm(line fstring, ops []operandNode) {
	if !a.requireOperandCount(line, "IM", ops, 1) || ops[0].kind != z80.KindExpr {
		a.addErrorf(ErrInvalidOperand, line, "IM requires a mode number")
		return
	}
	v, ok := a.evalOne(ops[0].expr)
	if !ok {
		a.addErrorf(ErrUnresolvedExpression, line, "IM mode must be immediately resolvable")
		return
	}
	table := map[int64]byte{0: 0x46, 1: 0x56, 2: 0x5E}
	b, ok := table[v.AsInt()]
	if !ok {
		a.addErrorf(ErrInvalidOperand, line, "IM mode must be 0, 1, or 2")
		return
	}
	a.appendByte(line, 0xED)
	a.appendByte(line, b)
}
