package asm

import (
	"errors"

	"github.com/z80asm/zasm/z80"
)

// errParse is the sentinel used internally to unwind a line whose
// parsing already recorded a diagnostic.
var errParse = errors.New("parse error")

// Payload tags which of Pragma/Operation/Statement a SourceLine carries.
type Payload byte

const (
	PayloadNone Payload = iota
	PayloadPragma
	PayloadOperation
	PayloadStatement
)

// macroParamSpan records the position of a "{{name}}" occurrence in the
// original source text of a line, for macro-body argument substitution
// (spec.md §4.7).
type macroParamSpan struct {
	name       string
	start, end int // byte offsets into the line's original text
}

// SourceLine is the external input unit spec.md §6 describes: one
// already-tokenized line, with its label (if any), its payload, and the
// positions of any "{{param}}" spans in its text.
type SourceLine struct {
	fileIndex int
	line      int // 1-based
	text      string

	label    string
	labelTok fstring
	hasLabel bool

	payload   Payload
	pragma    *pragmaLine
	operation *operationLine
	statement *statementLine

	macroParams []macroParamSpan
	parseIssue  *Diagnostic
}

type pragmaLine struct {
	name    string
	nameTok fstring
	args    fstring // remaining text after the pragma name
}

type operationLine struct {
	mnemonic    string
	mnemonicTok fstring
	operands    []operandNode
}

type statementLine struct {
	keyword    string
	keywordTok fstring
	args       fstring
}

// operandNode is the parsed shape of a single instruction operand. The
// external lexer/parser is responsible for classifying which kind of
// operand this is (spec.md §6); the Instruction Encoder only validates
// the kind against a mnemonic's allowed rule set and emits bytes.
type operandNode struct {
	kind z80.OperandKind
	tok  fstring

	reg8     z80.Reg8
	reg8Idx  z80.Reg8Idx
	reg8Spec byte // 'I' or 'R'
	reg16    z80.Reg16
	reg16Idx z80.Reg16Idx
	reg16Sp  z80.Reg16Spec
	cond     z80.Condition
	cport    bool

	sign byte // '+' or '-', for IndexedAddress displacement
	expr *exprNode
}
