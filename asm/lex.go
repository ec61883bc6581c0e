package asm

import (
	"bufio"
	"io"
	"strings"
)

var pragmaNames = map[string]bool{
	"ORG": true, "XORG": true, "DISP": true, "EQU": true, "VAR": true,
	"ENT": true, "XENT": true, "DEFB": true, "DB": true, "DEFW": true, "DW": true,
	"DEFM": true, "DEFN": true, "DEFMN": true, "DEFH": true,
	"DEFS": true, "DS": true, "FILLB": true, "FILLW": true, "ALIGN": true,
	"DEFG": true, "DEFGX": true, "SKIP": true, "TRACE": true, "HTRACE": true,
	"MODEL": true, "RNDSEED": true, "INCLUDEBIN": true, "COMPAREBIN": true,
	"ERROR": true,
}

var statementKeywords = map[string]bool{
	"IF": true, "ELIF": true, "ELSE": true, "ENDIF": true,
	"LOOP": true, "ENDLOOP": true, "REPEAT": true, "UNTIL": true,
	"WHILE": true, "WEND": true, "FOR": true, "NEXT": true,
	"PROC": true, "ENDP": true, "MODULE": true, "ENDMODULE": true,
	"MACRO": true, "ENDM": true, "STRUCT": true, "ENDS": true,
	"LOCAL": true, "BREAK": true, "CONTINUE": true,
}

// lexProgram reads every line of r and tokenizes it into a SourceLine.
// Individual line parse failures are recorded on that SourceLine's
// parseIssue rather than aborting the read, so one malformed line never
// prevents the rest of the program from assembling (spec.md §7).
func lexProgram(r io.Reader, fileIndex int) ([]*SourceLine, []Diagnostic) {
	var lines []*SourceLine
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	row := 0
	for sc.Scan() {
		row++
		lines = append(lines, lexLine(sc.Text(), fileIndex, row))
	}
	return lines, nil
}

// lexLine tokenizes a single already-extracted line of source text.
func lexLine(text string, fileIndex, row int) *SourceLine {
	sl := &SourceLine{fileIndex: fileIndex, line: row, text: text}

	// Record every "{{name}}" span so a MACRO body line can be expanded by
	// substituting the caller's arguments into its text.
	for pos := 0; ; {
		open := strings.Index(text[pos:], "{{")
		if open < 0 {
			break
		}
		open += pos
		end := strings.Index(text[open+2:], "}}")
		if end < 0 {
			break
		}
		end += open + 2
		sl.macroParams = append(sl.macroParams, macroParamSpan{name: strings.TrimSpace(text[open+2 : end]), start: open, end: end + 2})
		pos = end + 2
	}

	full := newFstring(fileIndex, row, text).stripTrailingComment()
	rest := full

	hasLeadingSpace := rest.startsWith(whitespace)
	rest = rest.consumeWhitespace()
	if rest.isEmpty() {
		return sl
	}

	// A column-0 word is a label unless it is a pragma, statement keyword
	// or mnemonic written without a colon, such as a bare "NOP".
	if !hasLeadingSpace && rest.startsWith(labelStartChar) && !isBareKeyword(rest) {
		label, tail := rest.consumeWhile(labelChar)
		sl.hasLabel = true
		sl.label = label.str
		sl.labelTok = label
		if tail.startsWithChar(':') {
			tail = tail.consume(1)
		}
		rest = tail.consumeWhitespace()
		if rest.isEmpty() {
			return sl
		}
	}

	word, tail := rest.consumeWhile(identifierChar)
	if word.isEmpty() {
		sl.parseIssue = diagPtr(newDiagnostic(SeverityError, ErrParse, rest, "expected a pragma, instruction, or statement"))
		return sl
	}
	upper := strings.ToUpper(word.str)
	argsTail := tail.consumeWhitespace()

	switch {
	case pragmaNames[upper]:
		sl.payload = PayloadPragma
		sl.pragma = &pragmaLine{name: upper, nameTok: word, args: argsTail}

	case statementKeywords[upper]:
		sl.payload = PayloadStatement
		sl.statement = &statementLine{keyword: upper, keywordTok: word, args: argsTail}

	case mnemonicSet[upper]:
		sl.payload = PayloadOperation
		operands, issue := parseOperands(argsTail)
		sl.operation = &operationLine{mnemonic: upper, mnemonicTok: word, operands: operands}
		if issue != nil {
			sl.parseIssue = issue
		}

	default:
		// Not a recognized pragma, statement keyword, or mnemonic: this
		// is either a macro invocation or a struct invocation, resolved
		// against the symbol registry at run time (spec.md §4.7).
		sl.payload = PayloadStatement
		sl.statement = &statementLine{keyword: word.str, keywordTok: word, args: argsTail}
	}
	return sl
}

// isBareKeyword reports whether l starts with a pragma, statement keyword
// or mnemonic that is not followed by a label colon.
func isBareKeyword(l fstring) bool {
	word, tail := l.consumeWhile(labelChar)
	if tail.startsWithChar(':') {
		return false
	}
	upper := strings.ToUpper(word.str)
	return pragmaNames[upper] || statementKeywords[upper] || mnemonicSet[upper]
}

func diagPtr(d Diagnostic) *Diagnostic { return &d }
