// Address Mapper: pure arithmetic over parsed section headers. Converts
// among RAW, RVA, and VA; locates the containing section; clamps sizes
// to section bounds. This is the only place allowed to cross between
// the three coordinate systems.

package pe

// sectionSpan is a section's containment range in RVA space, already
// aligned per 4.1: start is SectionAlignment-down-aligned (when that
// alignment is >= 0x1000), and length is min(aligned(SizeOfRawData,
// FileAlignment), aligned(VirtualSize, SectionAlignment)), substituting
// SizeOfRawData for VirtualSize when the latter is zero.
type sectionSpan struct {
	start    RVA
	end      RVA
	rawStart RawOffset
	rawSize  uint32
	index    int
}

// AddressMapper converts between RAW, RVA, and VA coordinates for one
// image, using the section table and header alignments captured at
// construction.
type AddressMapper struct {
	imageBase     VA
	sizeOfHeaders uint32
	sizeOfImage   uint32
	spans         []sectionSpan
	flat          bool
}

func newAddressMapper(imageBase VA, sizeOfHeaders, sizeOfImage, sectionAlignment, fileAlignment uint32, sections []Section) *AddressMapper {
	m := &AddressMapper{
		imageBase:     imageBase,
		sizeOfHeaders: sizeOfHeaders,
		sizeOfImage:   sizeOfImage,
	}

	if len(sections) == 0 {
		m.flat = true
		return m
	}

	for i, s := range sections {
		if s.PointerToRawData == 0 || s.SizeOfRawData == 0 {
			continue
		}

		start := s.VirtualAddress
		if sectionAlignment >= 0x1000 {
			start = RVA(alignDown(uint32(start), sectionAlignment))
		}

		virtualSize := s.VirtualSize
		if virtualSize == 0 {
			virtualSize = s.SizeOfRawData
		}

		size := minUint32(
			alignUp(s.SizeOfRawData, fileAlignment),
			alignUp(virtualSize, sectionAlignment),
		)

		m.spans = append(m.spans, sectionSpan{
			start:    start,
			end:      start + RVA(size),
			rawStart: s.PointerToRawData,
			rawSize:  s.SizeOfRawData,
			index:    i,
		})
	}

	return m
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// findSpan returns the first section (in declaration order) whose RVA
// range contains rva. Malformed images with overlapping sections
// resolve to the first hit, per declaration order.
func (m *AddressMapper) findSpan(rva RVA) (sectionSpan, bool) {
	for _, sp := range m.spans {
		if rva >= sp.start && rva < sp.end {
			return sp, true
		}
	}
	return sectionSpan{}, false
}

// SectionIndexAt returns the index into the section table (as passed
// to newAddressMapper) of the section whose RVA range contains rva, or
// false if rva falls outside every mapped section.
func (m *AddressMapper) SectionIndexAt(rva RVA) (int, bool) {
	sp, ok := m.findSpan(rva)
	if !ok {
		return 0, false
	}
	return sp.index, true
}

// RVAToRaw converts an RVA to a RAW file offset. It succeeds when the
// RVA lies below SizeOfHeaders (mapped one-to-one) or inside a
// non-empty mapped section; otherwise it returns InvalidRawOffset.
func (m *AddressMapper) RVAToRaw(rva RVA) RawOffset {
	if uint32(rva) < m.sizeOfHeaders {
		return RawOffset(rva)
	}

	if m.flat {
		return RawOffset(rva)
	}

	sp, ok := m.findSpan(rva)
	if !ok {
		return InvalidRawOffset
	}
	return sp.rawStart + RawOffset(rva-sp.start)
}

func (m *AddressMapper) RVAToVA(rva RVA) VA {
	return m.imageBase + VA(rva)
}

func (m *AddressMapper) VAToRVA(va VA) RVA {
	if va < m.imageBase {
		return 0
	}
	return RVA(va - m.imageBase)
}

func (m *AddressMapper) VAToRaw(va VA) RawOffset {
	return m.RVAToRaw(m.VAToRVA(va))
}

// FixAddrSize clips size so that va+size stops at the boundary of the
// section (or, for a flat, sectionless image, the image) containing
// va, returning the clipped size. ParsedImage.ReadBytesAt calls it so
// a caller-supplied length can't walk the read past what the image
// actually backs.
func (m *AddressMapper) FixAddrSize(va VA, size uint32) uint32 {
	rva := m.VAToRVA(va)

	if m.flat {
		if uint32(rva)+size > m.sizeOfImage {
			return m.sizeOfImage - uint32(rva)
		}
		return size
	}

	sp, ok := m.findSpan(rva)
	if !ok {
		return size
	}

	remaining := uint32(sp.end - rva)
	if size > remaining {
		return remaining
	}
	return size
}

func (m *AddressMapper) RawToVA(raw RawOffset) VA {
	if m.flat {
		return m.imageBase + VA(raw)
	}

	for _, sp := range m.spans {
		if raw >= sp.rawStart && uint32(raw-sp.rawStart) < sp.rawSize {
			return m.imageBase + VA(sp.start) + VA(raw-sp.rawStart)
		}
	}

	if uint32(raw) < m.sizeOfHeaders {
		return m.imageBase + VA(raw)
	}

	return 0
}
