package pe

import (
	"bytes"
	"encoding/binary"
)

// Minimal synthetic PE32/PE32+ image builder for tests. Builds a
// single-section (by default) image with SectionAlignment and
// FileAlignment both set to 0x200 so RVA and RAW coincide for section
// data, keeping test assertions simple while still exercising real
// header/section/directory parsing.

const testSectionAlignment = 0x200
const testFileAlignment = 0x200
const testImageBase32 = uint32(0x00400000)
const testImageBase64 = uint64(0x0000000140000000)

type testImage struct {
	is64                 bool
	imageBase            uint64
	entryPoint           uint32
	sections             []testSection
	directories          [16]dataDirRaw
	pointerToSymbolTable uint32
	numberOfSymbols      uint32
}

type testSection struct {
	name       string
	rva        uint32
	size       uint32
	data       []byte
	characteristics uint32
}

func newTestImage(is64 bool) *testImage {
	base := uint64(testImageBase32)
	if is64 {
		base = testImageBase64
	}
	return &testImage{is64: is64, imageBase: base}
}

func (t *testImage) addSection(name string, data []byte, characteristics uint32) uint32 {
	rva := uint32(0x1000)
	if len(t.sections) > 0 {
		last := t.sections[len(t.sections)-1]
		rva = alignUp(last.rva+last.size, testSectionAlignment)
	}
	size := alignUp(uint32(len(data)), testSectionAlignment)
	padded := make([]byte, size)
	copy(padded, data)
	t.sections = append(t.sections, testSection{
		name:            name,
		rva:             rva,
		size:            size,
		data:            padded,
		characteristics: characteristics,
	})
	return rva
}

func (t *testImage) setDirectory(index int, rva, size uint32) {
	t.directories[index] = dataDirRaw{VirtualAddress: rva, Size: size}
}

// build lays out: DOS header (64 bytes, e_lfanew at offset 0x3c points
// right after) -> NT signature -> file header -> optional header with
// data directories -> section headers -> headers padding up to
// headersSize -> each section's raw data at RVA == RAW offset.
func (t *testImage) build() []byte {
	headerAreaSize := alignUp(uint32(0x3c+4+20+computeOptionalHeaderSize(t.is64)+len(t.sections)*40), testFileAlignment)

	buf := &bytes.Buffer{}

	// DOS header: only e_magic and e_lfanew matter.
	dos := make([]byte, 0x40)
	binary.LittleEndian.PutUint16(dos[0:2], dosSignature)
	binary.LittleEndian.PutUint32(dos[0x3c:0x40], 0x40)
	buf.Write(dos)

	binary.Write(buf, binary.LittleEndian, uint32(ntSignature))

	machine := uint16(MachineI386)
	if t.is64 {
		machine = MachineAMD64
	}
	fh := struct {
		Machine              uint16
		NumberOfSections     uint16
		TimeDateStamp        uint32
		PointerToSymbolTable uint32
		NumberOfSymbols      uint32
		SizeOfOptionalHeader uint16
		Characteristics      uint16
	}{
		Machine:              machine,
		NumberOfSections:     uint16(len(t.sections)),
		PointerToSymbolTable: t.pointerToSymbolTable,
		NumberOfSymbols:      t.numberOfSymbols,
		SizeOfOptionalHeader: uint16(computeOptionalHeaderSize(t.is64)),
	}
	binary.Write(buf, binary.LittleEndian, &fh)

	sizeOfImage := headerAreaSize
	for _, s := range t.sections {
		if end := s.rva + s.size; end > sizeOfImage {
			sizeOfImage = end
		}
	}

	if t.is64 {
		oh := optionalHeader64Raw{
			Magic:               OptMagicPE32P,
			AddressOfEntryPoint: t.entryPoint,
			ImageBase:           t.imageBase,
			SectionAlignment:    testSectionAlignment,
			FileAlignment:       testFileAlignment,
			SizeOfImage:         sizeOfImage,
			SizeOfHeaders:       headerAreaSize,
			NumberOfRvaAndSizes: 16,
			DataDirectory:       t.directories,
		}
		binary.Write(buf, binary.LittleEndian, &oh)
	} else {
		oh := optionalHeader32Raw{
			Magic:               OptMagicPE32,
			AddressOfEntryPoint: t.entryPoint,
			ImageBase:           uint32(t.imageBase),
			SectionAlignment:    testSectionAlignment,
			FileAlignment:       testFileAlignment,
			SizeOfImage:         sizeOfImage,
			SizeOfHeaders:       headerAreaSize,
			NumberOfRvaAndSizes: 16,
			DataDirectory:       t.directories,
		}
		binary.Write(buf, binary.LittleEndian, &oh)
	}

	for _, s := range t.sections {
		sh := sectionHeaderRaw{
			VirtualSize:      s.size,
			VirtualAddress:   s.rva,
			SizeOfRawData:    s.size,
			PointerToRawData: s.rva,
			Characteristics:  s.characteristics,
		}
		copy(sh.Name[:], s.name)
		binary.Write(buf, binary.LittleEndian, &sh)
	}

	for uint32(buf.Len()) < headerAreaSize {
		buf.WriteByte(0)
	}

	raw := buf.Bytes()
	out := make([]byte, sizeOfImage)
	copy(out, raw)
	for _, s := range t.sections {
		copy(out[s.rva:s.rva+s.size], s.data)
	}
	return out
}

func computeOptionalHeaderSize(is64 bool) int {
	if is64 {
		return 240
	}
	return 224
}

func putCString(buf []byte, offset uint32, s string) {
	copy(buf[offset:], s)
	buf[offset+uint32(len(s))] = 0
}
