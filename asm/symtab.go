package asm

import (
	"strings"

	"github.com/beevik/prefixtree/v2"
)

// SymbolKind classifies how a Symbol came to exist, spec.md §3.
type SymbolKind byte

const (
	SymLabel SymbolKind = iota
	SymVariable
	SymField
	SymMacroArg
)

// Symbol is a named, valued entity in a Module's symbol table.
type Symbol struct {
	Name    string
	Value   Value
	Kind    SymbolKind
	Uses    int
	DefLine fstring
	bound   bool // false while the value is still pending a Fixup
}

// LocalScope is a short-lived symbol namespace associated with a loop
// iteration, procedure body, macro invocation, or temporary (backtick)
// binding region, spec.md §3/§GLOSSARY.
type LocalScope struct {
	symbols map[string]*Symbol
	fixups  []*Fixup

	isLoopScope      bool
	isProcScope      bool
	isTemporaryScope bool
	isMacroContext   bool

	loopCounter int64
	breakFlag   bool
	continueFl  bool
	errCount    int // errors recorded while this loop scope was innermost

	localNames map[string]bool // names reserved by LOCAL inside PROC
}

func newLocalScope() *LocalScope {
	return &LocalScope{symbols: make(map[string]*Symbol)}
}

// Module is a named symbol namespace that may nest other modules,
// spec.md §3/§4.2.
type Module struct {
	name     string
	parent   *Module
	children map[string]*Module

	symbols map[string]*Symbol
	structs map[string]*StructDef
	macros  map[string]*MacroDef

	macroTree  *prefixtree.Tree[*MacroDef]
	structTree *prefixtree.Tree[*StructDef]

	fixups []*Fixup
	scopes []*LocalScope
}

func newModule(name string, parent *Module) *Module {
	return &Module{
		name:       name,
		parent:     parent,
		children:   make(map[string]*Module),
		symbols:    make(map[string]*Symbol),
		structs:    make(map[string]*StructDef),
		macros:     make(map[string]*MacroDef),
		macroTree:  prefixtree.New[*MacroDef](),
		structTree: prefixtree.New[*StructDef](),
	}
}

func (m *Module) pushScope(s *LocalScope) { m.scopes = append(m.scopes, s) }

func (m *Module) popScope() *LocalScope {
	n := len(m.scopes)
	if n == 0 {
		return nil
	}
	s := m.scopes[n-1]
	m.scopes = m.scopes[:n-1]
	return s
}

func (m *Module) topScope() *LocalScope {
	if len(m.scopes) == 0 {
		return nil
	}
	return m.scopes[len(m.scopes)-1]
}

func (m *Module) innermostLoopScope() *LocalScope {
	for i := len(m.scopes) - 1; i >= 0; i-- {
		if m.scopes[i].isLoopScope {
			return m.scopes[i]
		}
	}
	return nil
}

func (m *Module) innermostTemporaryScope() *LocalScope {
	for i := len(m.scopes) - 1; i >= 0; i-- {
		if m.scopes[i].isTemporaryScope {
			return m.scopes[i]
		}
	}
	return nil
}

func normalizeName(s string) string { return strings.ToLower(s) }

// defineSymbol inserts a new symbol into the innermost applicable scope.
// EQU/labels may be defined at most once per scope (invariant 2); VAR may
// be redefined in the same scope.
func (m *Module) defineSymbol(name string, v Value, kind SymbolKind, line fstring, allowRedefine bool) (*Symbol, bool) {
	key := normalizeName(name)
	var table map[string]*Symbol
	if s := m.topScope(); s != nil {
		table = s.symbols
	} else {
		table = m.symbols
	}
	if existing, found := table[key]; found {
		if !allowRedefine {
			return existing, false
		}
		existing.Value = v
		existing.Kind = kind
		existing.bound = true
		return existing, true
	}
	sym := &Symbol{Name: name, Value: v, Kind: kind, DefLine: line, bound: true}
	table[key] = sym
	return sym, true
}

// lookupLocal searches only this module's own scopes and symbol table
// (no parent walk), used for "@"-rooted names.
func (m *Module) lookupLocal(name string) (*Symbol, bool) {
	key := normalizeName(name)
	for i := len(m.scopes) - 1; i >= 0; i-- {
		if sym, ok := m.scopes[i].symbols[key]; ok {
			return sym, true
		}
	}
	if sym, ok := m.symbols[key]; ok {
		return sym, true
	}
	return nil, false
}

// lookupTemporary searches only the innermost temporary scope, used for
// backtick-prefixed names.
func (m *Module) lookupTemporary(name string) (*Symbol, bool) {
	key := normalizeName(name)
	s := m.innermostTemporaryScope()
	if s == nil {
		return nil, false
	}
	if sym, ok := s.symbols[key]; ok {
		return sym, true
	}
	return nil, false
}

// lookupChain searches this module's scopes and symbols, then walks up
// through parent modules recursively, per spec.md §4.2's lookup order.
func (m *Module) lookupChain(name string) (*Symbol, bool) {
	for cur := m; cur != nil; cur = cur.parent {
		if sym, ok := cur.lookupLocal(name); ok {
			return sym, true
		}
	}
	return nil, false
}

// root walks to the global (outermost) module.
func (m *Module) root() *Module {
	cur := m
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// child finds or creates a nested module.
func (m *Module) child(name string) *Module {
	key := normalizeName(name)
	if c, ok := m.children[key]; ok {
		return c
	}
	c := newModule(name, m)
	m.children[key] = c
	return c
}

func (m *Module) findChild(name string) (*Module, bool) {
	c, ok := m.children[normalizeName(name)]
	return c, ok
}

func (m *Module) addMacro(def *MacroDef) bool {
	key := normalizeName(def.name)
	if _, found := m.macros[key]; found {
		return false
	}
	m.macros[key] = def
	m.macroTree.Add(key, def)
	return true
}

func (m *Module) findMacro(name string) (*MacroDef, bool) {
	key := normalizeName(name)
	if d, ok := m.macros[key]; ok {
		return d, true
	}
	if d, err := m.macroTree.Find(key); err == nil {
		return d, true
	}
	return nil, false
}

func (m *Module) addStruct(def *StructDef) bool {
	key := normalizeName(def.name)
	if _, found := m.structs[key]; found {
		return false
	}
	m.structs[key] = def
	m.structTree.Add(key, def)
	return true
}

func (m *Module) findStruct(name string) (*StructDef, bool) {
	key := normalizeName(name)
	if d, ok := m.structs[key]; ok {
		return d, true
	}
	if d, err := m.structTree.Find(key); err == nil {
		return d, true
	}
	return nil, false
}

// resolveIdentifier implements the five name forms of spec.md §4.2 and
// resolves "ident" to a Value, recording a usage and returning
// evalNonEvaluated if the symbol is known to exist but not yet bound,
// or if it's altogether unknown (it may be a forward reference).
func (a *Assembler) resolveIdentifier(n *exprNode) (Value, evalState) {
	name := n.name

	switch {
	case strings.HasPrefix(name, "::"):
		return a.resolveQualified(a.currentModule.root(), name[2:], n)

	case strings.HasPrefix(name, "@"):
		sym, ok := a.currentModule.lookupLocal(name[1:])
		if !ok {
			return Value{}, evalNonEvaluated
		}
		sym.Uses++
		if !sym.bound {
			return Value{}, evalNonEvaluated
		}
		return sym.Value, evalValid

	case strings.HasPrefix(name, "`"):
		sym, ok := a.currentModule.lookupTemporary(name[1:])
		if !ok {
			return Value{}, evalNonEvaluated
		}
		sym.Uses++
		if !sym.bound {
			return Value{}, evalNonEvaluated
		}
		return sym.Value, evalValid

	case strings.Contains(name, "."):
		return a.resolveQualified(a.currentModule, name, n)

	default:
		sym, ok := a.currentModule.lookupChain(name)
		if !ok {
			return Value{}, evalNonEvaluated
		}
		sym.Uses++
		if !sym.bound {
			return Value{}, evalNonEvaluated
		}
		return sym.Value, evalValid
	}
}

// resolveQualified resolves a dotted name starting the module-tree walk
// at "start", per spec.md §4.2: the first segment chooses (or re-enters)
// a module, intermediate segments descend the module tree, and the final
// segment is either a plain symbol or (if the penultimate segment names
// a struct) a struct field offset.
func (a *Assembler) resolveQualified(start *Module, name string, n *exprNode) (Value, evalState) {
	segs := strings.Split(name, ".")
	if len(segs) == 0 {
		return Value{}, evalInvalid
	}

	cur := start
	// Find the module that owns the first segment: search current module's
	// children, then walk up ancestors.
	if len(segs) > 1 {
		found := false
		for m := start; m != nil; m = m.parent {
			if c, ok := m.findChild(segs[0]); ok {
				cur = c
				found = true
				break
			}
		}
		if !found {
			// First segment might just be a plain symbol with dots in a
			// struct-field reference (struct.field) rather than a module
			// path; fall through to struct-field resolution below.
			if sd, ok := lookupStructAnywhere(start, segs[0]); ok && len(segs) == 2 {
				return a.resolveStructField(sd, segs[1], n)
			}
			return Value{}, evalNonEvaluated
		}
		for _, seg := range segs[1 : len(segs)-1] {
			next, ok := cur.findChild(seg)
			if !ok {
				if sd, ok := cur.findStruct(seg); ok {
					return a.resolveStructField(sd, segs[len(segs)-1], n)
				}
				return Value{}, evalNonEvaluated
			}
			cur = next
		}
	}

	last := segs[len(segs)-1]
	if sd, ok := cur.findStruct(last); ok && len(segs) == 1 {
		// Bare struct name used as a value resolves to its size.
		return intValue(int64(sd.size)), evalValid
	}
	sym, ok := cur.symbols[normalizeName(last)]
	if !ok {
		return Value{}, evalNonEvaluated
	}
	sym.Uses++
	if !sym.bound {
		return Value{}, evalNonEvaluated
	}
	return sym.Value, evalValid
}

func lookupStructAnywhere(start *Module, name string) (*StructDef, bool) {
	for m := start; m != nil; m = m.parent {
		if sd, ok := m.findStruct(name); ok {
			return sd, true
		}
	}
	return nil, false
}

func (a *Assembler) resolveStructField(sd *StructDef, field string, n *exprNode) (Value, evalState) {
	off, ok := sd.fieldOffset(field)
	if !ok {
		a.addErrorf(ErrUnknownSymbol, n.line, "struct '%s' has no field '%s'", sd.name, field)
		return Value{}, evalInvalid
	}
	return intValue(int64(off)), evalValid
}
