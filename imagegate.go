// Image Gate: the narrow capability surface a ParsedImage exposes to
// external COFF/DWARF debug-info parsers (debuginfo.ImageGate), built
// on top of OffsetReader for per-section access.

package pe

import (
	"bytes"
	"io"

	"github.com/jonikDk/ProcessMemoryMap/debuginfo"
)

// imageGate implements debuginfo.ImageGate over one ParsedImage's raw
// buffer and section table. It is swappable: DebugGate always returns
// the current gate, which is retargeted to a companion file's gate
// when a .gnu_debuglink redirect succeeds.
type imageGate struct {
	raw      []byte
	is64     bool
	numSyms  uint32
	symTable uint32
	sections []Section
	mapper   *AddressMapper
}

func newImageGate(raw []byte, is64 bool, numSyms, symTable uint32, sections []Section, mapper *AddressMapper) *imageGate {
	return &imageGate{
		raw:      raw,
		is64:     is64,
		numSyms:  numSyms,
		symTable: symTable,
		sections: sections,
		mapper:   mapper,
	}
}

func (g *imageGate) Is64() bool                    { return g.is64 }
func (g *imageGate) NumberOfSymbols() uint32        { return g.numSyms }
func (g *imageGate) PointerToSymbolTable() uint32   { return g.symTable }
func (g *imageGate) SectionCount() int              { return len(g.sections) }

func (g *imageGate) SectionAt(index int) (string, []byte, bool) {
	if index < 0 || index >= len(g.sections) {
		return "", nil, false
	}
	s := g.sections[index]
	data, ok := g.sectionBytes(s)
	return s.DisplayName, data, ok
}

func (g *imageGate) SectionByName(name string) ([]byte, bool) {
	for _, s := range g.sections {
		if s.Name == name || s.DisplayName == name {
			return g.sectionBytes(s)
		}
	}
	return nil, false
}

func (g *imageGate) sectionBytes(s Section) ([]byte, bool) {
	start := int64(s.PointerToRawData)
	size := int64(s.SizeOfRawData)
	if start < 0 || size <= 0 || start+size > int64(len(g.raw)) {
		return nil, false
	}
	return g.raw[start : start+size], true
}

func (g *imageGate) Rebase(va uint64) uint64 {
	return uint64(g.mapper.RVAToVA(g.mapper.VAToRVA(VA(va))))
}

// SectionReaderAt exposes one section as an io.ReaderAt bounded to its
// raw extent, for callers that want the OffsetReader idiom instead of
// a plain byte slice.
func (g *imageGate) SectionReaderAt(name string) (io.ReaderAt, bool) {
	for _, s := range g.sections {
		if s.Name == name || s.DisplayName == name {
			return OffsetReader{
				reader: bytes.NewReader(g.raw),
				offset: int64(s.PointerToRawData),
				length: int64(s.SizeOfRawData),
			}, true
		}
	}
	return nil, false
}

var _ debuginfo.ImageGate = (*imageGate)(nil)
