package asm

import (
	"strings"

	"github.com/z80asm/zasm/z80"
)

var reg8Names = z80.Reg8Names
var reg8IdxNames = z80.Reg8IdxNames
var reg16Names = z80.Reg16Names
var reg16IdxNames = z80.Reg16IdxNames
var condNames = z80.ConditionNames

// parseOperands splits a comma-separated operand list and classifies
// each one, spec.md §6. It returns the first parse failure encountered,
// if any; the Instruction Encoder is responsible for validating that
// the classified shapes actually match the mnemonic's rule set.
func parseOperands(args fstring) ([]operandNode, *Diagnostic) {
	args = args.consumeWhitespace()
	if args.isEmpty() {
		return nil, nil
	}
	var out []operandNode
	rest := args
	for {
		tok, tail := scanOperandToken(rest)
		node, err := parseOperand(tok)
		if err != nil {
			return out, diagPtr(newDiagnostic(SeverityError, ErrInvalidOperand, tok, "%s", err.Error()))
		}
		out = append(out, node)
		rest = tail.consumeWhitespace()
		if rest.isEmpty() {
			break
		}
		if !rest.startsWithChar(',') {
			return out, diagPtr(newDiagnostic(SeverityError, ErrParse, rest, "expected ','"))
		}
		rest = rest.consume(1).consumeWhitespace()
	}
	return out, nil
}

// scanOperandToken consumes one operand: either a parenthesized group
// (balanced, respecting quotes) or a run of text up to the next
// top-level comma.
func scanOperandToken(l fstring) (tok, rest fstring) {
	if l.startsWithChar('(') {
		depth := 0
		var quote byte
		for i := 0; i < len(l.str); i++ {
			c := l.str[i]
			switch {
			case quote != 0:
				if c == quote {
					quote = 0
				}
			case c == '"' || c == '\'':
				quote = c
			case c == '(':
				depth++
			case c == ')':
				depth--
				if depth == 0 {
					return l.trunc(i + 1), l.consume(i + 1)
				}
			}
		}
		return l, l.consume(len(l.str))
	}
	n := l.scanUntilChar(',')
	return l.trunc(n), l.consume(n)
}

type operandParseError struct{ msg string }

func (e *operandParseError) Error() string { return e.msg }

func errOperand(msg string) error { return &operandParseError{msg} }

// parseOperand classifies a single operand token.
func parseOperand(tok fstring) (operandNode, error) {
	text := strings.TrimSpace(tok.str)
	upper := strings.ToUpper(text)

	if strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") {
		return parseIndirectOperand(tok, text[1:len(text)-1])
	}

	if upper == "AF'" {
		return operandNode{kind: z80.KindReg16Spec, tok: tok, reg16Sp: z80.RegAFShadow}, nil
	}
	if upper == "AF" {
		return operandNode{kind: z80.KindReg16Spec, tok: tok, reg16Sp: z80.RegAF}, nil
	}
	if upper == "I" || upper == "R" {
		return operandNode{kind: z80.KindReg8Spec, tok: tok, reg8Spec: upper[0]}, nil
	}
	if r, ok := reg16IdxNames[upper]; ok {
		return operandNode{kind: z80.KindReg16Idx, tok: tok, reg16Idx: r}, nil
	}
	if r, ok := reg8IdxNames[upper]; ok {
		return operandNode{kind: z80.KindReg8Idx, tok: tok, reg8Idx: r}, nil
	}
	if r, ok := reg16Names[upper]; ok {
		return operandNode{kind: z80.KindReg16, tok: tok, reg16: r}, nil
	}
	if r, ok := reg8Names[upper]; ok {
		n := operandNode{kind: z80.KindReg8, tok: tok, reg8: r}
		if c, ok := condNames[upper]; ok {
			n.cond = c // disambiguated by the Instruction Encoder per mnemonic
		}
		return n, nil
	}
	if c, ok := condNames[upper]; ok {
		return operandNode{kind: z80.KindCondition, tok: tok, cond: c}, nil
	}

	var p exprParser
	n, _, err := p.parse(tok)
	if err != nil {
		return operandNode{}, errOperand("invalid operand")
	}
	return operandNode{kind: z80.KindExpr, tok: tok, expr: n}, nil
}

// parseIndirectOperand classifies the contents of a parenthesized
// operand: (HL)/(BC)/(DE) register-indirect, (C) port, (IX+d)/(IY-d)
// indexed address, or (expr) absolute memory indirect.
func parseIndirectOperand(tok fstring, inner string) (operandNode, error) {
	inner = strings.TrimSpace(inner)
	upper := strings.ToUpper(inner)

	if upper == "HL" {
		return operandNode{kind: z80.KindReg8, tok: tok, reg8: z80.RegHLIndirect}, nil
	}
	if upper == "BC" || upper == "DE" {
		r := reg16Names[upper]
		return operandNode{kind: z80.KindRegIndirect, tok: tok, reg16: r}, nil
	}
	if upper == "C" {
		return operandNode{kind: z80.KindCPort, tok: tok, cport: true}, nil
	}
	if upper == "SP" {
		return operandNode{kind: z80.KindRegIndirect, tok: tok, reg16: z80.RegSP}, nil
	}

	for _, prefix := range []string{"IX", "IY"} {
		if strings.HasPrefix(upper, prefix) {
			remain := strings.TrimSpace(inner[len(prefix):])
			sign := byte('+')
			if strings.HasPrefix(remain, "+") {
				remain = remain[1:]
			} else if strings.HasPrefix(remain, "-") {
				sign = '-'
				remain = remain[1:]
			} else if remain != "" {
				return operandNode{}, errOperand("expected '+' or '-' after index register")
			}
			n := &exprNode{op: opLiteral, lit: intValue(0), line: tok}
			if remain != "" {
				var p exprParser
				expr, _, err := p.parse(newFstring(tok.fileIndex, tok.row, remain))
				if err != nil {
					return operandNode{}, errOperand("invalid displacement expression")
				}
				n = expr
			}
			if sign == '-' {
				n = &exprNode{op: opNeg, right: n, line: tok}
			}
			reg16Idx := z80.RegIX
			if prefix == "IY" {
				reg16Idx = z80.RegIY
			}
			return operandNode{kind: z80.KindIndexedAddress, tok: tok, reg16Idx: reg16Idx, sign: sign, expr: n}, nil
		}
	}

	var p exprParser
	n, _, err := p.parse(newFstring(tok.fileIndex, tok.row, inner))
	if err != nil {
		return operandNode{}, errOperand("invalid memory operand")
	}
	return operandNode{kind: z80.KindMemIndirect, tok: tok, expr: n}, nil
}
