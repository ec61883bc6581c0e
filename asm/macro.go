package asm

import "github.com/samber/lo"

// macroParam is one formal parameter of a MACRO definition, optionally
// carrying a default expression used when an invocation omits the
// corresponding argument, spec.md §4.7.
type macroParam struct {
	name        string
	defaultExpr *exprNode
	hasDefault  bool
}

// MacroDef is a named, parameterized run of captured source lines. Macro
// bodies are stored as raw text with their "{{param}}" spans already
// located by the lexer, so expansion is a pure text substitution
// followed by re-lexing.
type MacroDef struct {
	name   string
	params []macroParam
	body   []*SourceLine
	line   fstring
}

func newMacroDef(name string, line fstring) *MacroDef {
	return &MacroDef{name: name, line: line}
}

func (md *MacroDef) paramIndex(name string) (int, bool) {
	for i, p := range md.params {
		if normalizeName(p.name) == normalizeName(name) {
			return i, true
		}
	}
	return -1, false
}

// expand substitutes each captured body line's "{{param}}" spans with
// the caller's argument text (or the parameter's default-expression
// text, if the caller omitted it), returning fresh source text ready to
// be re-lexed and replayed inside a new macro-context LocalScope.
func (md *MacroDef) expand(args []string) []string {
	bound := make(map[string]string, len(md.params))
	for i, p := range md.params {
		if i < len(args) && args[i] != "" {
			bound[normalizeName(p.name)] = args[i]
		} else if p.hasDefault {
			bound[normalizeName(p.name)] = p.defaultExpr.String()
		}
	}
	return lo.Map(md.body, func(sl *SourceLine, _ int) string {
		return substituteParams(sl.text, sl.macroParams, bound)
	})
}

func substituteParams(text string, spans []macroParamSpan, bound map[string]string) string {
	if len(spans) == 0 {
		return text
	}
	var b []byte
	last := 0
	for _, sp := range spans {
		if sp.start < last || sp.end > len(text) {
			continue
		}
		b = append(b, text[last:sp.start]...)
		if val, ok := bound[normalizeName(sp.name)]; ok {
			b = append(b, val...)
		}
		last = sp.end
	}
	b = append(b, text[last:]...)
	return string(b)
}
