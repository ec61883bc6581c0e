package asm

import (
	"strings"

	"github.com/z80asm/zasm/z80"
)

// CompareBinRequest is a recorded COMPAREBIN directive: a request to
// diff a byte range of emitted output against the contents of an
// external file. File access is an external collaborator (spec.md §1),
// so the comparison itself runs through Options.LoadBinary at the end
// of Assemble, once the segment's final bytes are known.
type CompareBinRequest struct {
	Path     string
	SegIndex int
	Offset   int
	Length   int
	Line     fstring
}

// runPragma dispatches one parsed pragma line to its handler, spec.md
// §4.6. Unknown pragma names are reported as invalid directives.
func (a *Assembler) runPragma(p *pragmaLine) {
	switch strings.ToUpper(p.name) {
	case "ORG":
		a.pragmaOrg(p)
	case "XORG":
		a.pragmaXorg(p)
	case "DISP":
		a.pragmaDisp(p)
	case "EQU":
		a.pragmaEqu(p)
	case "VAR":
		a.pragmaVar(p)
	case "ENT":
		a.pragmaEnt(p, FixupEnt)
	case "XENT":
		a.pragmaEnt(p, FixupXent)
	case "DEFB", "DB":
		a.pragmaDefb(p)
	case "DEFW", "DW":
		a.pragmaDefw(p)
	case "DEFM", "DEFN", "DEFMN":
		a.pragmaDefm(p, strings.ToUpper(p.name))
	case "DEFH":
		a.pragmaDefh(p)
	case "DEFS", "DS":
		a.pragmaDefs(p)
	case "FILLB":
		a.pragmaFill(p, 1)
	case "FILLW":
		a.pragmaFill(p, 2)
	case "ALIGN":
		a.pragmaAlign(p)
	case "DEFG":
		a.pragmaDefg(p, false)
	case "DEFGX":
		a.pragmaDefg(p, true)
	case "SKIP":
		a.pragmaSkip(p)
	case "TRACE":
		a.pragmaTrace(p, false)
	case "HTRACE":
		a.pragmaTrace(p, true)
	case "MODEL":
		a.pragmaModel(p)
	case "RNDSEED":
		a.pragmaRndseed(p)
	case "INCLUDEBIN":
		a.pragmaIncludeBin(p)
	case "COMPAREBIN":
		a.pragmaCompareBin(p)
	case "ERROR":
		a.addErrorf(ErrUserError, p.nameTok, "%s", strings.TrimSpace(p.args.str))
	default:
		a.addErrorf(ErrInvalidDirective, p.nameTok, "unknown pragma '%s'", p.name)
	}
}

// parseExprArgs parses a comma-separated expression list.
func (a *Assembler) parseExprArgs(args fstring) []*exprNode {
	var out []*exprNode
	rest := args.consumeWhitespace()
	if rest.isEmpty() {
		return out
	}
	for {
		var p exprParser
		n, tail, err := p.parse(rest)
		if err != nil {
			a.addErrorf(ErrParse, rest, "expected expression")
			return out
		}
		out = append(out, n)
		rest = tail.consumeWhitespace()
		if rest.isEmpty() {
			break
		}
		if !rest.startsWithChar(',') {
			a.addErrorf(ErrParse, rest, "expected ','")
			break
		}
		rest = rest.consume(1).consumeWhitespace()
	}
	return out
}

func (a *Assembler) evalOne(n *exprNode) (Value, bool) {
	v, st := a.evalExpr(n)
	return v, st == evalValid
}

func (a *Assembler) pragmaOrg(p *pragmaLine) {
	args := a.parseExprArgs(p.args)
	if len(args) != 1 {
		a.addErrorf(ErrInvalidOperand, p.nameTok, "ORG requires one address")
		return
	}
	v, ok := a.evalOne(args[0])
	if !ok {
		a.addErrorf(ErrUnresolvedExpression, p.nameTok, "ORG address must be immediately resolvable")
		return
	}
	a.newSegment(uint16(v.AsInt()))
}

func (a *Assembler) pragmaXorg(p *pragmaLine) {
	args := a.parseExprArgs(p.args)
	if len(args) != 1 {
		a.addErrorf(ErrInvalidOperand, p.nameTok, "XORG requires one address")
		return
	}
	v, ok := a.evalOne(args[0])
	if !ok {
		a.addErrorf(ErrUnresolvedExpression, p.nameTok, "XORG address must be immediately resolvable")
		return
	}
	a.setXorg(p.nameTok, uint16(v.AsInt()))
}

func (a *Assembler) pragmaDisp(p *pragmaLine) {
	args := a.parseExprArgs(p.args)
	if len(args) != 1 {
		a.addErrorf(ErrInvalidOperand, p.nameTok, "DISP requires one displacement")
		return
	}
	v, ok := a.evalOne(args[0])
	if !ok {
		a.addErrorf(ErrUnresolvedExpression, p.nameTok, "DISP displacement must be immediately resolvable")
		return
	}
	a.setDisp(int32(v.AsInt()))
}

func (a *Assembler) pragmaEqu(p *pragmaLine) {
	if !a.pendingLabel.hasLabel {
		a.addErrorf(ErrInvalidDirective, p.nameTok, "EQU requires a label")
		return
	}
	args := a.parseExprArgs(p.args)
	if len(args) != 1 {
		a.addErrorf(ErrInvalidOperand, p.nameTok, "EQU requires one value")
		return
	}
	name := a.pendingLabel.label
	v, st := a.evalExpr(args[0])
	if st == evalInvalid {
		return
	}
	sym, defined := a.currentModule.defineSymbol(name, v, SymLabel, a.pendingLabel.labelTok, false)
	if !defined {
		a.addErrorf(ErrDuplicateSymbol, a.pendingLabel.labelTok, "'%s' already defined", name)
		return
	}
	if st == evalNonEvaluated {
		sym.bound = false
		a.addFixup(&Fixup{kind: FixupEqu, expr: args[0], label: name, sym: sym, line: p.nameTok})
	}
}

func (a *Assembler) pragmaVar(p *pragmaLine) {
	if !a.pendingLabel.hasLabel {
		a.addErrorf(ErrInvalidDirective, p.nameTok, "VAR requires a label")
		return
	}
	args := a.parseExprArgs(p.args)
	if len(args) != 1 {
		a.addErrorf(ErrInvalidOperand, p.nameTok, "VAR requires one value")
		return
	}
	v, st := a.evalExpr(args[0])
	if st == evalInvalid {
		return
	}
	sym, _ := a.currentModule.defineSymbol(a.pendingLabel.label, v, SymVariable, a.pendingLabel.labelTok, true)
	if st == evalNonEvaluated {
		sym.bound = false
		a.addFixup(&Fixup{kind: FixupEqu, expr: args[0], label: a.pendingLabel.label, sym: sym, line: p.nameTok})
	}
}

func (a *Assembler) pragmaEnt(p *pragmaLine, kind FixupKind) {
	args := a.parseExprArgs(p.args)
	if len(args) != 1 {
		a.addErrorf(ErrInvalidOperand, p.nameTok, "entry pragma requires one address")
		return
	}
	v, st := a.evalExpr(args[0])
	if st == evalInvalid {
		return
	}
	if st == evalNonEvaluated {
		a.addFixup(&Fixup{kind: kind, expr: args[0], line: p.nameTok})
		return
	}
	addr := uint16(v.AsInt())
	if kind == FixupEnt {
		a.entry = &addr
	} else {
		a.xentry = &addr
	}
}

func (a *Assembler) pragmaDefb(p *pragmaLine) {
	for _, n := range a.parseExprArgs(p.args) {
		v, st := a.evalExpr(n)
		if st == evalInvalid {
			continue
		}
		if v.Kind == KindString {
			for i := 0; i < len(v.S); i++ {
				a.appendByte(p.nameTok, v.S[i])
			}
			continue
		}
		off := a.appendByte(p.nameTok, byte(v.AsInt()))
		if st == evalNonEvaluated && off >= 0 {
			a.addFixup(&Fixup{kind: FixupBit8, segIndex: a.curSeg, offset: off, expr: n, line: p.nameTok})
		}
	}
}

func (a *Assembler) pragmaDefw(p *pragmaLine) {
	for _, n := range a.parseExprArgs(p.args) {
		v, st := a.evalExpr(n)
		if st == evalInvalid {
			continue
		}
		off := a.appendWord(p.nameTok, uint16(v.AsInt()))
		if st == evalNonEvaluated && off >= 0 {
			a.addFixup(&Fixup{kind: FixupBit16, segIndex: a.curSeg, offset: off, expr: n, line: p.nameTok})
		}
	}
}

// pragmaDefm handles the unified DEFM/DEFN/DEFMN string-emission pragma:
// DEFM emits a plain string, DEFN appends a zero terminator, and DEFMN
// sets the high bit of the string's final byte. Open Question resolved
// (DESIGN.md): all three share one implementation parameterized by
// nullTerminator/bit7Terminator flags rather than three separate ones.
func (a *Assembler) pragmaDefm(p *pragmaLine, name string) {
	nullTerminator := name == "DEFN"
	bit7Terminator := name == "DEFMN"
	args := a.parseExprArgs(p.args)
	for i, n := range args {
		v, st := a.evalExpr(n)
		if st == evalInvalid {
			continue
		}
		if v.Kind != KindString {
			a.addErrorf(ErrInvalidOperand, p.nameTok, "DEFM/DEFN/DEFMN requires string or char arguments")
			continue
		}
		bytes := []byte(v.S)
		last := i == len(args)-1
		if last && bit7Terminator && len(bytes) > 0 {
			bytes[len(bytes)-1] |= 0x80
		}
		for _, b := range bytes {
			a.appendByte(p.nameTok, b)
		}
		if last && nullTerminator {
			a.appendByte(p.nameTok, 0)
		}
	}
}

func (a *Assembler) pragmaDefh(p *pragmaLine) {
	hex := strings.TrimSpace(p.args.str)
	hex = strings.ReplaceAll(hex, " ", "")
	if len(hex)%2 != 0 {
		a.addErrorf(ErrInvalidOperand, p.nameTok, "DEFH requires an even number of hex digits")
		return
	}
	for i := 0; i < len(hex); i += 2 {
		b, ok := hexToByte(hex[i], hex[i+1])
		if !ok {
			a.addErrorf(ErrInvalidOperand, p.nameTok, "invalid hex digit in DEFH")
			return
		}
		a.appendByte(p.nameTok, b)
	}
}

func (a *Assembler) pragmaDefs(p *pragmaLine) {
	args := a.parseExprArgs(p.args)
	if len(args) < 1 || len(args) > 2 {
		a.addErrorf(ErrInvalidOperand, p.nameTok, "DEFS requires a count and optional fill value")
		return
	}
	cv, ok := a.evalOne(args[0])
	if !ok {
		a.addErrorf(ErrUnresolvedExpression, p.nameTok, "DEFS count must be immediately resolvable")
		return
	}
	fill := byte(0)
	if len(args) == 2 {
		fv, ok := a.evalOne(args[1])
		if ok {
			fill = byte(fv.AsInt())
		}
	}
	for i := int64(0); i < cv.AsInt(); i++ {
		a.appendByte(p.nameTok, fill)
	}
}

func (a *Assembler) pragmaFill(p *pragmaLine, unit int) {
	args := a.parseExprArgs(p.args)
	if len(args) != 2 {
		a.addErrorf(ErrInvalidOperand, p.nameTok, "FILLB/FILLW requires a count and a value")
		return
	}
	cv, ok := a.evalOne(args[0])
	if !ok {
		a.addErrorf(ErrUnresolvedExpression, p.nameTok, "FILLB/FILLW count must be immediately resolvable")
		return
	}
	vv, _ := a.evalOne(args[1])
	for i := int64(0); i < cv.AsInt(); i++ {
		if unit == 1 {
			a.appendByte(p.nameTok, byte(vv.AsInt()))
		} else {
			a.appendWord(p.nameTok, uint16(vv.AsInt()))
		}
	}
}

func (a *Assembler) pragmaAlign(p *pragmaLine) {
	args := a.parseExprArgs(p.args)
	if len(args) < 1 || len(args) > 2 {
		a.addErrorf(ErrInvalidOperand, p.nameTok, "ALIGN requires a boundary and optional fill value")
		return
	}
	bv, ok := a.evalOne(args[0])
	if !ok {
		a.addErrorf(ErrUnresolvedExpression, p.nameTok, "ALIGN boundary must be immediately resolvable")
		return
	}
	n := bv.AsInt()
	if n < 1 || n > 16384 {
		a.addErrorf(ErrAlignRange, p.nameTok, "ALIGN boundary must be between 1 and 16384")
		return
	}
	fill := byte(0)
	if len(args) == 2 {
		fv, ok := a.evalOne(args[1])
		if ok {
			fill = byte(fv.AsInt())
		}
	}
	cur := int64(a.currentAddress())
	pad := (n - cur%n) % n
	for i := int64(0); i < pad; i++ {
		a.appendByte(p.nameTok, fill)
	}
}

// pragmaDefg encodes an 8-pixel-per-byte graphic row: '.'  and '0' are
// zero bits, any other non-space character is a one bit. DEFGX instead
// reads each run of two characters as a hex byte.
func (a *Assembler) pragmaDefg(p *pragmaLine, hexForm bool) {
	text := strings.TrimSpace(p.args.str)
	text = strings.ReplaceAll(text, " ", "")
	text = strings.Trim(text, "\"")
	if hexForm {
		if len(text)%2 != 0 {
			a.addErrorf(ErrInvalidOperand, p.nameTok, "DEFGX requires an even number of hex digits")
			return
		}
		for i := 0; i < len(text); i += 2 {
			b, ok := hexToByte(text[i], text[i+1])
			if !ok {
				a.addErrorf(ErrInvalidOperand, p.nameTok, "invalid hex digit in DEFGX")
				return
			}
			a.appendByte(p.nameTok, b)
		}
		return
	}
	if len(text)%8 != 0 {
		a.addErrorf(ErrInvalidOperand, p.nameTok, "DEFG pattern length must be a multiple of 8")
		return
	}
	for i := 0; i < len(text); i += 8 {
		var b byte
		for j := 0; j < 8; j++ {
			b <<= 1
			c := text[i+j]
			if c != '.' && c != '0' {
				b |= 1
			}
		}
		a.appendByte(p.nameTok, b)
	}
}

func (a *Assembler) pragmaSkip(p *pragmaLine) {
	args := a.parseExprArgs(p.args)
	if len(args) != 1 {
		a.addErrorf(ErrInvalidOperand, p.nameTok, "SKIP requires one target address")
		return
	}
	v, ok := a.evalOne(args[0])
	if !ok {
		a.addErrorf(ErrUnresolvedExpression, p.nameTok, "SKIP target must be immediately resolvable")
		return
	}
	target := v.AsInt()
	cur := int64(a.currentAddress())
	if target < cur {
		a.addErrorf(ErrSkipBelowCurrent, p.nameTok, "SKIP target $%04X is below current address $%04X", target, cur)
		return
	}
	for i := cur; i < target; i++ {
		a.appendByte(p.nameTok, 0)
	}
}

func (a *Assembler) pragmaTrace(p *pragmaLine, hexDump bool) {
	args := a.parseExprArgs(p.args)
	var parts []string
	for _, n := range args {
		v, st := a.evalExpr(n)
		if st != evalValid {
			parts = append(parts, "?")
			continue
		}
		if hexDump && v.IsNumeric() {
			parts = append(parts, byteString([]byte{byte(v.AsInt())}))
		} else {
			parts = append(parts, v.String())
		}
	}
	a.log.WithField("line", p.nameTok.row).Info(strings.Join(parts, " "))
}

func (a *Assembler) pragmaModel(p *pragmaLine) {
	if a.modelSet {
		a.addErrorf(ErrModelAlreadySet, p.nameTok, "MODEL already set")
		return
	}
	name := strings.ToUpper(strings.TrimSpace(p.args.str))
	switch name {
	case "ZX48", "SPECTRUM48", "48":
		a.model = z80.Spectrum48
	case "ZX128", "SPECTRUM128", "128":
		a.model = z80.Spectrum128
	case "ZXP3", "SPECTRUMP3", "P3", "+3":
		a.model = z80.SpectrumP3
	case "ZXNEXT", "NEXT":
		a.model = z80.Next
	default:
		a.addErrorf(ErrInvalidOperand, p.nameTok, "unknown MODEL '%s'", name)
		return
	}
	a.modelSet = true
}

func (a *Assembler) pragmaRndseed(p *pragmaLine) {
	args := a.parseExprArgs(p.args)
	if len(args) != 1 {
		a.addErrorf(ErrInvalidOperand, p.nameTok, "RNDSEED requires one seed value")
		return
	}
	v, ok := a.evalOne(args[0])
	if !ok {
		a.addErrorf(ErrUnresolvedExpression, p.nameTok, "RNDSEED value must be immediately resolvable")
		return
	}
	a.seedRNG(v.AsInt())
}

func (a *Assembler) pragmaIncludeBin(p *pragmaLine) {
	if a.opts.LoadBinary == nil {
		a.addErrorf(ErrInvalidDirective, p.nameTok, "INCLUDEBIN requires a binary loader")
		return
	}
	rest := p.args.consumeWhitespace()
	var sp exprParser
	path, tail, perr := sp.parseStringLiteral(rest)
	if perr != nil {
		a.addErrorf(ErrParse, p.nameTok, "INCLUDEBIN requires a quoted path")
		return
	}
	data, err := a.opts.LoadBinary(path)
	if err != nil {
		a.addErrorf(ErrInvalidDirective, p.nameTok, "cannot load '%s': %v", path, err)
		return
	}
	offset, length := 0, len(data)
	tail = tail.consumeWhitespace()
	if tail.startsWithChar(',') {
		tail = tail.consume(1)
		args := a.parseExprArgs(tail)
		if len(args) >= 1 {
			if v, ok := a.evalOne(args[0]); ok {
				offset = int(v.AsInt())
			}
		}
		if len(args) >= 2 {
			if v, ok := a.evalOne(args[1]); ok {
				length = int(v.AsInt())
			}
		}
	}
	if offset < 0 || offset > len(data) {
		a.addErrorf(ErrBinOffsetOutOfRange, p.nameTok, "INCLUDEBIN offset out of range")
		return
	}
	if offset+length > len(data) || length < 0 {
		a.addErrorf(ErrBinLengthOutOfRange, p.nameTok, "INCLUDEBIN length out of range")
		return
	}
	a.appendBytes(p.nameTok, data[offset:offset+length])
}

func (a *Assembler) pragmaCompareBin(p *pragmaLine) {
	rest := p.args.consumeWhitespace()
	var sp exprParser
	path, tail, perr := sp.parseStringLiteral(rest)
	if perr != nil {
		a.addErrorf(ErrParse, p.nameTok, "COMPAREBIN requires a quoted path")
		return
	}
	offset, length := 0, a.segment().len()
	tail = tail.consumeWhitespace()
	if tail.startsWithChar(',') {
		tail = tail.consume(1)
		args := a.parseExprArgs(tail)
		if len(args) >= 1 {
			if v, ok := a.evalOne(args[0]); ok {
				offset = int(v.AsInt())
			}
		}
		if len(args) >= 2 {
			if v, ok := a.evalOne(args[1]); ok {
				length = int(v.AsInt())
			}
		}
	}
	a.compares = append(a.compares, CompareBinRequest{
		Path: path, SegIndex: a.curSeg, Offset: offset, Length: length, Line: p.nameTok,
	})
}
