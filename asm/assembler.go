// Package asm implements a multi-pass Z80 code generation engine:
// expression evaluation, symbol resolution, instruction encoding, and
// pragma processing over an already-tokenized source program. Lexing
// and file I/O are deliberately thin; the engine's job starts once text
// has become SourceLine values.
package asm

import (
	"io"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/z80asm/zasm/z80"
)

// defaultLoopErrorLimit bounds how many errors a single loop iteration
// region (LOOP/REPEAT/WHILE/FOR) tolerates before assembly gives up on
// it, spec.md §7.
const defaultLoopErrorLimit = 16

// Options configures one Assemble call, spec.md §5.
type Options struct {
	Origin    uint16
	Model     z80.Model
	Verbose   bool
	MaxErrors int // 0 means defaultLoopErrorLimit

	// LoadBinary resolves INCLUDEBIN/COMPAREBIN paths to file contents.
	// File access is an external collaborator; callers that never use
	// either pragma may leave this nil.
	LoadBinary func(path string) ([]byte, error)

	Logger *logrus.Logger
}

// Result is everything a successful (or partially successful) Assemble
// call produced, spec.md §5.
type Result struct {
	Segments  []*Segment
	Symbols   map[string]*Symbol
	Listing   Listing
	SourceMap *SourceMap
	Entry     *uint16
	XEntry    *uint16
	Compares  []CompareBinRequest
}

// pendingLabel carries the label (if any) attached to the line currently
// being processed, so EQU/VAR pragmas and plain label definitions can
// both consume it.
type pendingLabelState struct {
	hasLabel bool
	label    string
	labelTok fstring
}

// Assembler holds all mutable state for a single assembly run. It is
// not safe for concurrent use; spec.md's concurrency model is
// one-assembler-per-goroutine; callers assembling many files in
// parallel should construct one Assembler per file (or per job).
type Assembler struct {
	opts Options

	rootModule   *Module
	currentModule *Module

	segments []*Segment
	curSeg   int

	entry  *uint16
	xentry *uint16

	rng *rand.Rand

	model    z80.Model
	modelSet bool

	compares []CompareBinRequest

	sourceMap *SourceMap
	listing   Listing

	diagnostics []Diagnostic
	failed      bool

	maxErrors int

	pendingLabel pendingLabelState

	log *logrus.Logger

	files []string // file names by index, for diagnostic rendering
}

// NewAssembler constructs an Assembler ready to process the first file
// in opts, opening the root module and the first segment at opts.Origin.
func NewAssembler(opts Options) *Assembler {
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = defaultLoopErrorLimit
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.WarnLevel)
	}
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	root := newModule("", nil)
	a := &Assembler{
		opts:          opts,
		rootModule:    root,
		currentModule: root,
		rng:           rand.New(rand.NewSource(1)),
		model:         opts.Model,
		sourceMap:     newSourceMap(),
		maxErrors:     opts.MaxErrors,
		log:           log,
	}
	a.newSegment(opts.Origin)
	return a
}

func (a *Assembler) seedRNG(seed int64) {
	a.rng = rand.New(rand.NewSource(seed))
}

// addErrorf records an error diagnostic, sets the run's failure flag,
// and (inside a loop scope) counts toward the loop's error threshold.
func (a *Assembler) addErrorf(code string, line fstring, format string, args ...interface{}) {
	d := newDiagnostic(SeverityError, code, line, format, args...)
	a.diagnostics = append(a.diagnostics, d)
	a.failed = true
	if s := a.currentModule.innermostLoopScope(); s != nil {
		s.errCount++
	}
	a.log.WithField("code", code).WithField("line", line.row).Error(d.Message)
}

func (a *Assembler) addWarningf(code string, line fstring, format string, args ...interface{}) {
	d := newDiagnostic(SeverityWarning, code, line, format, args...)
	a.diagnostics = append(a.diagnostics, d)
	a.log.WithField("code", code).WithField("line", line.row).Warn(d.Message)
}

// loopErrorsExceeded reports whether the innermost loop scope has
// recorded more errors than the configured threshold, so the Statement
// Driver can abandon a runaway loop instead of spewing diagnostics.
func (a *Assembler) loopErrorsExceeded() bool {
	s := a.currentModule.innermostLoopScope()
	if s == nil {
		return false
	}
	return s.errCount > a.maxErrors
}

// recordEmission registers one emitted-code event in the listing and
// source map, spec.md §4.9.
func (a *Assembler) recordEmission(loc SourceLoc, addr uint16, bytes []byte) {
	a.listing = append(a.listing, ListingItem{Loc: loc, Address: addr, Bytes: bytes})
	a.sourceMap.add(loc, addr)
}

// Assemble runs the full multi-pass pipeline over the program read from
// r (named filename for diagnostics) and returns whatever Result was
// produced along with every diagnostic recorded, spec.md §5/§7. Parse
// errors on individual lines do not abort the run: the Statement Driver
// skips the offending line and continues, the way the rest of this
// engine tolerates unresolved expressions until the final pass.
func Assemble(r io.Reader, filename string, opts Options) (*Result, []Diagnostic) {
	a := NewAssembler(opts)
	fileIndex := a.addFile(filename)

	lines, lexDiags := lexProgram(r, fileIndex)
	a.diagnostics = append(a.diagnostics, lexDiags...)
	for _, d := range lexDiags {
		if d.Severity == SeverityError {
			a.failed = true
		}
	}

	a.run(lines)

	a.finalizeModule(a.rootModule)
	a.runCompares()

	result := &Result{
		Segments:  a.segments,
		Symbols:   a.exportSymbols(),
		Listing:   a.listing,
		SourceMap: a.sourceMap,
		Entry:     a.entry,
		XEntry:    a.xentry,
		Compares:  a.compares,
	}
	return result, a.diagnostics
}

func (a *Assembler) addFile(name string) int {
	a.files = append(a.files, name)
	return len(a.files) - 1
}

func (a *Assembler) exportSymbols() map[string]*Symbol {
	out := make(map[string]*Symbol)
	var walk func(m *Module, prefix string)
	walk = func(m *Module, prefix string) {
		for k, sym := range m.symbols {
			name := k
			if prefix != "" {
				name = prefix + "." + k
			}
			out[name] = sym
		}
		for k, c := range m.children {
			cp := k
			if prefix != "" {
				cp = prefix + "." + k
			}
			walk(c, cp)
		}
	}
	walk(a.rootModule, "")
	return out
}

// runCompares performs every COMPAREBIN request recorded during
// assembly, now that every segment's bytes are final.
func (a *Assembler) runCompares() {
	if a.opts.LoadBinary == nil {
		return
	}
	for _, req := range a.compares {
		data, err := a.opts.LoadBinary(req.Path)
		if err != nil {
			a.addErrorf(ErrCompareBinFailed, req.Line, "cannot load '%s': %v", req.Path, err)
			continue
		}
		seg := a.segments[req.SegIndex]
		if req.Offset < 0 || req.Offset+req.Length > len(seg.emitted) || req.Offset+req.Length > len(data) {
			a.addErrorf(ErrCompareBinFailed, req.Line, "COMPAREBIN range out of bounds for '%s'", req.Path)
			continue
		}
		got := seg.emitted[req.Offset : req.Offset+req.Length]
		want := data[req.Offset : req.Offset+req.Length]
		for i := range got {
			if got[i] != want[i] {
				a.addErrorf(ErrCompareBinFailed, req.Line, "COMPAREBIN mismatch against '%s' at offset %d", req.Path, req.Offset+i)
				break
			}
		}
	}
}
