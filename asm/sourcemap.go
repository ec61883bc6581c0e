package asm

import (
	"encoding/binary"
	"io"
	"sort"
)

// SourceLoc names one line of one input file.
type SourceLoc struct {
	FileIndex int
	Line      int
}

// ListingItem is one emitted-code record for the textual listing: the
// address it starts at, the bytes written there, and the source line
// responsible (spec.md §4.9). Macro and struct expansion can produce
// several ListingItems that trace back to the same original source
// line, and a single source line (e.g. a loop body) can produce several
// ListingItems at different addresses.
type ListingItem struct {
	Loc     SourceLoc
	Address uint16
	Bytes   []byte
}

// Listing is the ordered sequence of code generation events, in the
// order bytes were emitted.
type Listing []ListingItem

// SourceMap is the bidirectional index between source lines and the
// addresses their code ended up at, spec.md §4.9. Because macro
// expansion can map many original lines to one address, and a looped
// line can map to many addresses, both directions are one-to-many.
type SourceMap struct {
	locToAddrs map[SourceLoc][]uint16
	addrToLocs map[uint16][]SourceLoc
}

func newSourceMap() *SourceMap {
	return &SourceMap{
		locToAddrs: make(map[SourceLoc][]uint16),
		addrToLocs: make(map[uint16][]SourceLoc),
	}
}

func (sm *SourceMap) add(loc SourceLoc, addr uint16) {
	alist := sm.locToAddrs[loc]
	if len(alist) == 0 || alist[len(alist)-1] != addr {
		sm.locToAddrs[loc] = append(alist, addr)
	}
	llist := sm.addrToLocs[addr]
	if len(llist) == 0 || llist[len(llist)-1] != loc {
		sm.addrToLocs[addr] = append(llist, loc)
	}
}

// AddressesForLine returns every address the given source line produced
// code at, in emission order.
func (sm *SourceMap) AddressesForLine(file, line int) []uint16 {
	return sm.locToAddrs[SourceLoc{FileIndex: file, Line: line}]
}

// LinesForAddress returns every source line that contributed a byte at
// the given address, in emission order.
func (sm *SourceMap) LinesForAddress(addr uint16) []SourceLoc {
	return sm.addrToLocs[addr]
}

// sortedAddresses returns the map's addresses in ascending order.
func (sm *SourceMap) sortedAddresses() []uint16 {
	addrs := make([]uint16, 0, len(sm.addrToLocs))
	for a := range sm.addrToLocs {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// WriteTo serializes the source map as a sequence of address-sorted
// records: for each address, its delta from the previous address, the
// count of (file,line) pairs mapped to it, and each pair's own deltas
// from the previous pair emitted for that address, each written as an
// unsigned varint.
func (sm *SourceMap) WriteTo(w io.Writer) (int64, error) {
	var written int64
	buf := make([]byte, binary.MaxVarintLen64)

	writeUvarint := func(v uint64) error {
		n := binary.PutUvarint(buf, v)
		nn, err := w.Write(buf[:n])
		written += int64(nn)
		return err
	}
	writeVarint := func(v int64) error {
		n := binary.PutVarint(buf, v)
		nn, err := w.Write(buf[:n])
		written += int64(nn)
		return err
	}

	addrs := sm.sortedAddresses()
	if err := writeUvarint(uint64(len(addrs))); err != nil {
		return written, err
	}

	var prevAddr int64
	for _, addr := range addrs {
		if err := writeVarint(int64(addr) - prevAddr); err != nil {
			return written, err
		}
		prevAddr = int64(addr)

		locs := sm.addrToLocs[addr]
		if err := writeUvarint(uint64(len(locs))); err != nil {
			return written, err
		}
		var prevFile, prevLine int64
		for _, loc := range locs {
			if err := writeVarint(int64(loc.FileIndex) - prevFile); err != nil {
				return written, err
			}
			if err := writeVarint(int64(loc.Line) - prevLine); err != nil {
				return written, err
			}
			prevFile, prevLine = int64(loc.FileIndex), int64(loc.Line)
		}
	}
	return written, nil
}

// ReadFrom deserializes a SourceMap written by WriteTo.
func (sm *SourceMap) ReadFrom(r io.Reader) (int64, error) {
	cr := newByteReaderCounter(r)

	sm.locToAddrs = make(map[SourceLoc][]uint16)
	sm.addrToLocs = make(map[uint16][]SourceLoc)

	n, err := binary.ReadUvarint(cr)
	if err != nil {
		return cr.n, err
	}

	var prevAddr int64
	for i := uint64(0); i < n; i++ {
		d, err := binary.ReadVarint(cr)
		if err != nil {
			return cr.n, err
		}
		prevAddr += d
		addr := uint16(prevAddr)

		count, err := binary.ReadUvarint(cr)
		if err != nil {
			return cr.n, err
		}
		var prevFile, prevLine int64
		for j := uint64(0); j < count; j++ {
			df, err := binary.ReadVarint(cr)
			if err != nil {
				return cr.n, err
			}
			dl, err := binary.ReadVarint(cr)
			if err != nil {
				return cr.n, err
			}
			prevFile += df
			prevLine += dl
			sm.add(SourceLoc{FileIndex: int(prevFile), Line: int(prevLine)}, addr)
		}
	}
	return cr.n, nil
}

// byteReaderCounter adapts an io.Reader (or wraps an io.ByteReader) to
// io.ByteReader while counting bytes consumed, since io.Reader alone
// doesn't guarantee single-byte reads for binary.ReadUvarint/ReadVarint.
type byteReaderCounter struct {
	r io.Reader
	n int64
	b [1]byte
}

func newByteReaderCounter(r io.Reader) *byteReaderCounter {
	if br, ok := r.(*byteReaderCounter); ok {
		return br
	}
	return &byteReaderCounter{r: r}
}

func (c *byteReaderCounter) ReadByte() (byte, error) {
	if br, ok := c.r.(io.ByteReader); ok {
		b, err := br.ReadByte()
		if err == nil {
			c.n++
		}
		return b, err
	}
	_, err := io.ReadFull(c.r, c.b[:])
	if err != nil {
		return 0, err
	}
	c.n++
	return c.b[0], nil
}
