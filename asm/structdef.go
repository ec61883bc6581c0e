package asm

// structField is one named, offset-assigned field of a STRUCT
// definition, spec.md §4.7.
type structField struct {
	name    string
	offset  int
	size    int // 1 (DEFB) or 2 (DEFW) bytes
	defExpr *exprNode
}

// StructDef is a named record layout: a sequence of byte/word fields,
// each with a default initializer, that STRUCT invocations instantiate
// either verbatim (clone mode) or with selected fields overridden
// (overlay mode).
type StructDef struct {
	name       string
	fields     []structField
	fieldIndex map[string]int
	size       int
	line       fstring
}

func newStructDef(name string, line fstring) *StructDef {
	return &StructDef{name: name, fieldIndex: make(map[string]int), line: line}
}

func (sd *StructDef) addField(name string, wordSized bool, def *exprNode) {
	size := 1
	if wordSized {
		size = 2
	}
	sd.fieldIndex[normalizeName(name)] = len(sd.fields)
	sd.fields = append(sd.fields, structField{name: name, offset: sd.size, size: size, defExpr: def})
	sd.size += size
}

func (sd *StructDef) fieldOffset(name string) (int, bool) {
	i, ok := sd.fieldIndex[normalizeName(name)]
	if !ok {
		return 0, false
	}
	return sd.fields[i].offset, true
}

// field looks up a field by name, for the struct-invocation overlay mode
// (spec.md §4.7) which needs both its offset and its byte size.
func (sd *StructDef) field(name string) (structField, bool) {
	i, ok := sd.fieldIndex[normalizeName(name)]
	if !ok {
		return structField{}, false
	}
	return sd.fields[i], true
}

// instantiateStruct emits sd's field pattern into the current segment at the
// assembler's current position, field by field, applying any overlay
// overrides in place of the field's default expression. A label, if
// given, is bound to the struct's starting address first so a field's
// default initializer may itself reference it. The returned segment
// index and base offset let the caller patch further fields named by a
// following struct-invocation overlay (spec.md §4.7).
func (a *Assembler) instantiateStruct(sd *StructDef, line fstring, overrides map[string]*exprNode, label string) (segIndex, baseOffset int) {
	if label != "" {
		a.currentModule.defineSymbol(label, intValue(int64(a.currentAddress())), SymLabel, line, false)
	}
	segIndex = a.curSeg
	baseOffset = a.segment().len()
	for _, f := range sd.fields {
		expr := f.defExpr
		if ov, ok := overrides[normalizeName(f.name)]; ok {
			expr = ov
		}
		a.emitStructField(f, expr, line)
	}
	return segIndex, baseOffset
}

func (a *Assembler) emitStructField(f structField, expr *exprNode, line fstring) {
	v, st := a.evalExpr(expr)
	var off int
	if f.size == 1 {
		off = a.appendByte(line, byte(v.AsInt()))
	} else {
		off = a.appendWord(line, uint16(v.AsInt()))
	}
	if off < 0 {
		return
	}
	if st == evalNonEvaluated {
		a.addFixup(&Fixup{
			kind:     FixupStruct,
			segIndex: a.curSeg,
			offset:   off,
			expr:     expr,
			overlay:  &structOverlay{fieldOffset: f.offset, fieldSize: f.size},
			line:     line,
		})
	}
}
