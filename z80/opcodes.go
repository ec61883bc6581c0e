package z80

// Trivial is the table of no-operand, single-byte-opcode mnemonics
// (spec.md §4.5 "Trivial opcodes").
var Trivial = map[string]byte{
	"NOP":  0x00,
	"RLCA": 0x07,
	"RRCA": 0x0F,
	"RLA":  0x17,
	"RRA":  0x1F,
	"DAA":  0x27,
	"CPL":  0x2F,
	"SCF":  0x37,
	"CCF":  0x3F,
	"HALT": 0x76,
	"EXX":  0xD9,
	"DI":   0xF3,
	"EI":   0xFB,
}

// TrivialED is the table of no-operand, ED-prefixed mnemonics, keyed by
// mnemonic and storing only the byte following the ED prefix.
var TrivialED = map[string]byte{
	"NEG":  0x44,
	"RETN": 0x45,
	"RETI": 0x4D,
	"RRD":  0x67,
	"RLD":  0x6F,
	"LDI":  0xA0,
	"CPI":  0xA1,
	"INI":  0xA2,
	"OUTI": 0xA3,
	"LDD":  0xA8,
	"CPD":  0xA9,
	"IND":  0xAA,
	"OUTD": 0xAB,
	"LDIR": 0xB0,
	"CPIR": 0xB1,
	"INIR": 0xB2,
	"OTIR": 0xB3,
	"LDDR": 0xB8,
	"CPDR": 0xB9,
	"INDR": 0xBA,
	"OTDR": 0xBB,
}

// TrivialNext is the table of Spectrum Next-only, ED-prefixed, no-operand
// mnemonics. These are rejected unless the declared model is Next.
var TrivialNext = map[string]byte{
	"SWAPNIB":   0x23,
	"MUL":       0x30,
	"OUTINB":    0x90,
	"LDIX":      0xA4,
	"LDIRX":     0xB4,
	"LDDX":      0xAC,
	"LDDRX":     0xBC,
	"PIXELDN":   0x93,
	"PIXELAD":   0x94,
	"SETAE":     0x95,
	"LDPIRX":    0xB7,
	"LDIRSCALE": 0xB6,
}

// IsNextOnly reports whether mnemonic is one of the Spectrum Next-only
// no-operand instructions.
func IsNextOnly(mnemonic string) bool {
	_, ok := TrivialNext[mnemonic]
	return ok
}

// JRCondOpcode maps the four conditions JR accepts to their opcode byte.
// JR only supports NZ/Z/NC/C; PO/PE/P/M are invalid for JR.
var JRCondOpcode = map[Condition]byte{
	CondNZ: 0x20,
	CondZ:  0x28,
	CondNC: 0x30,
	CondC:  0x38,
}

// RSTTargets enumerates the only valid operands of RST.
var RSTTargets = map[int]bool{
	0x00: true, 0x08: true, 0x10: true, 0x18: true,
	0x20: true, 0x28: true, 0x30: true, 0x38: true,
}
