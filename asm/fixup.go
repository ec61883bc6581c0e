package asm

import "fmt"

// FixupKind identifies what a Fixup patches once its expression finally
// evaluates, spec.md §4.3.
type FixupKind byte

const (
	FixupBit8 FixupKind = iota
	FixupBit16
	FixupJr
	FixupEqu
	FixupEnt
	FixupXent
	FixupStruct
)

// structOverlay carries the data a Struct-kind Fixup needs to patch a
// single field of a struct instantiation once the field's initializer
// expression resolves (spec.md §4.7).
type structOverlay struct {
	fieldOffset int
	fieldSize   int // 1 (DEFB field) or 2 (DEFW field)
}

// Fixup is a deferred patch: an expression that could not be evaluated
// at the point it was encountered, together with enough information to
// retry evaluation later and to write the final bytes (or bind the
// final symbol) once it succeeds.
type Fixup struct {
	kind FixupKind

	segIndex int // index into Assembler.segments
	offset   int // byte offset within that segment's emitted buffer
	instrPC  uint16

	expr   *exprNode
	module *Module // module whose scope chain the expr must resolve in
	scopes []*LocalScope

	label string // symbol name being defined, for Equ/Ent/Xent kinds
	sym   *Symbol

	overlay *structOverlay

	line    fstring
	attempt int
}

// addFixup records a pending fixup in the innermost active scope (or the
// current module, if no scope is open).
func (a *Assembler) addFixup(f *Fixup) {
	f.module = a.currentModule
	f.scopes = append([]*LocalScope(nil), a.currentModule.scopes...)
	if s := a.currentModule.topScope(); s != nil {
		s.fixups = append(s.fixups, f)
	} else {
		a.currentModule.fixups = append(a.currentModule.fixups, f)
	}
}

// tryResolve attempts to evaluate the fixup's expression in its
// originally recorded scope context and, on success, apply its patch.
// It returns true if the fixup is now fully resolved (and should be
// dropped from whatever list holds it).
func (a *Assembler) tryResolve(f *Fixup) bool {
	savedModule := a.currentModule
	savedScopes := a.currentModule.scopes
	a.currentModule = f.module
	a.currentModule.scopes = f.scopes
	defer func() {
		a.currentModule = savedModule
		a.currentModule.scopes = savedScopes
	}()

	v, st := a.evalExpr(f.expr)
	f.attempt++
	switch st {
	case evalInvalid:
		return true // diagnostic already recorded; stop retrying
	case evalNonEvaluated:
		return false
	}

	switch f.kind {
	case FixupBit8:
		a.patchByte(f.segIndex, f.offset, byte(v.AsInt()))
	case FixupBit16:
		a.patchWord(f.segIndex, f.offset, uint16(v.AsInt()))
	case FixupJr:
		disp := int64(v.AsInt()) - int64(f.instrPC)
		if disp < -128 || disp > 127 {
			a.addErrorf(ErrRelJumpOutOfRange, f.line, "relative jump out of range (%d)", disp)
			return true
		}
		a.patchByte(f.segIndex, f.offset, byte(int8(disp)))
	case FixupEqu, FixupEnt, FixupXent:
		if f.sym != nil {
			f.sym.Value = v
			f.sym.bound = true
		}
		if f.kind == FixupEnt {
			addr := uint16(v.AsInt())
			a.entry = &addr
		} else if f.kind == FixupXent {
			addr := uint16(v.AsInt())
			a.xentry = &addr
		}
	case FixupStruct:
		switch f.overlay.fieldSize {
		case 1:
			a.patchByte(f.segIndex, f.offset, byte(v.AsInt()))
		default:
			a.patchWord(f.segIndex, f.offset, uint16(v.AsInt()))
		}
	}
	return true
}

// resolveScopeFixups is called when a LocalScope closes (spec.md §4.3):
// it repeatedly retries every fixup owned by the scope until no more
// progress is made, then migrates survivors outward to the enclosing
// scope (or the module, if this was the outermost scope).
func (a *Assembler) resolveScopeFixups(s *LocalScope) {
	pending := s.fixups
	for {
		progressed := false
		remaining := pending[:0:0]
		for _, f := range pending {
			if a.tryResolve(f) {
				progressed = true
			} else {
				remaining = append(remaining, f)
			}
		}
		pending = remaining
		if !progressed || len(pending) == 0 {
			break
		}
	}
	if len(pending) == 0 {
		return
	}
	if outer := a.currentModule.topScope(); outer != nil {
		outer.fixups = append(outer.fixups, pending...)
	} else {
		a.currentModule.fixups = append(a.currentModule.fixups, pending...)
	}
}

// finalizeModule is called once a module block closes or assembly ends
// (spec.md §4.3): it drives every still-pending fixup owned by the
// module to a fixed point, then reports the survivors as unresolved.
func (a *Assembler) finalizeModule(m *Module) {
	pending := m.fixups
	for {
		progressed := false
		remaining := pending[:0:0]
		for _, f := range pending {
			if a.tryResolve(f) {
				progressed = true
			} else {
				remaining = append(remaining, f)
			}
		}
		pending = remaining
		if !progressed || len(pending) == 0 {
			break
		}
	}
	m.fixups = nil
	for _, f := range pending {
		a.addErrorf(ErrUnresolvedExpression, f.line, "unresolved expression: %s", f.expr.String())
	}
}

func (a *Assembler) patchByte(segIndex, offset int, b byte) {
	a.segments[segIndex].emitted[offset] = b
}

func (a *Assembler) patchWord(segIndex, offset int, w uint16) {
	a.segments[segIndex].emitted[offset] = byte(w)
	a.segments[segIndex].emitted[offset+1] = byte(w >> 8)
}

func (f *Fixup) String() string {
	return fmt.Sprintf("fixup(kind=%d, seg=%d, off=%d)", f.kind, f.segIndex, f.offset)
}
