package asm

// Segment is one contiguous run of emitted bytes sharing a single
// physical start address, spec.md §4.4. A new Segment begins every time
// ORG executes; DISP instead adjusts how addresses within the current
// segment are *reported*, and XORG only records an output address for
// the segment, without starting a new one.
type Segment struct {
	startAddress uint16
	displacement int32 // DISP: reported := physical + displacement
	emitted      []byte

	xorgBase   *uint16 // XORG: output address override, see XorgAddress
	xorgOffset int     // byte offset into emitted when XORG was set

	instrOffset int // offset where the instruction currently being encoded began
}

func newSegment(start uint16) *Segment {
	return &Segment{startAddress: start}
}

// physicalAddress is the real load address of the byte at offset.
func (s *Segment) physicalAddress(offset int) uint16 {
	return s.startAddress + uint16(offset)
}

// reportedAddress is the address "$" evaluates to at offset: the
// physical address adjusted by any DISP displacement. XORG does not
// affect it.
func (s *Segment) reportedAddress(offset int) uint16 {
	return uint16(int32(s.physicalAddress(offset)) + s.displacement)
}

// XorgAddress returns the output address set by XORG for this segment,
// and false if XORG was not used.
func (s *Segment) XorgAddress() (uint16, bool) {
	if s.xorgBase == nil {
		return 0, false
	}
	return *s.xorgBase, true
}

func (s *Segment) len() int { return len(s.emitted) }

// Bytes returns the segment's emitted bytes, in physical order.
func (s *Segment) Bytes() []byte { return s.emitted }

// StartAddress returns the physical address the segment begins at.
func (s *Segment) StartAddress() uint16 { return s.startAddress }

// newSegment starts a fresh Segment at the given address, closing off
// whatever segment was previously open (spec.md §4.4: ORG always begins
// a new segment, even if the address repeats).
func (a *Assembler) newSegment(start uint16) {
	seg := newSegment(start)
	a.segments = append(a.segments, seg)
	a.curSeg = len(a.segments) - 1
}

func (a *Assembler) segment() *Segment { return a.segments[a.curSeg] }

// beginInstruction marks the start offset of the instruction about to be
// encoded, so currentInstructionAddress() and relative-jump fixups can
// refer back to it.
func (a *Assembler) beginInstruction() {
	a.segment().instrOffset = a.segment().len()
}

func (a *Assembler) currentAddress() uint16 {
	s := a.segment()
	return s.reportedAddress(s.len())
}

func (a *Assembler) currentInstructionAddress() uint16 {
	s := a.segment()
	return s.reportedAddress(s.instrOffset)
}

// appendByte writes one byte to the current segment, checking for
// physical address overflow past 0xFFFF.
func (a *Assembler) appendByte(line fstring, b byte) int {
	s := a.segment()
	if int(s.startAddress)+len(s.emitted) > 0xFFFF {
		a.addErrorf(ErrAddressOverflow, line, "emission would overflow address space")
		return -1
	}
	s.emitted = append(s.emitted, b)
	return len(s.emitted) - 1
}

func (a *Assembler) appendWord(line fstring, w uint16) int {
	off := a.appendByte(line, byte(w))
	a.appendByte(line, byte(w>>8))
	return off
}

func (a *Assembler) appendBytes(line fstring, bs []byte) int {
	first := -1
	for i, b := range bs {
		off := a.appendByte(line, b)
		if i == 0 {
			first = off
		}
	}
	return first
}

// setXorg records the output address of the current segment without
// changing where its bytes are physically written or what "$" evaluates
// to. It's a diagnostic error to XORG a segment that has already emitted
// any bytes (DESIGN.md, Open Question 2).
func (a *Assembler) setXorg(line fstring, addr uint16) {
	s := a.segment()
	if s.len() > 0 {
		a.addErrorf(ErrXorgAfterEmission, line, "XORG must precede any emission in the segment")
		return
	}
	base := addr
	s.xorgBase = &base
	s.xorgOffset = s.len()
}

func (a *Assembler) setDisp(delta int32) {
	a.segment().displacement = delta
}
