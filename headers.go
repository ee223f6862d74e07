// Header Loader: reads the DOS stub, NT signature, file header, and
// optional header (PE32 widened to PE32+ in memory), then the section
// header array with COFF long-name fix-up.

package pe

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const maxNumberOfSections = 96

// FileHeader is the COFF file header (IMAGE_FILE_HEADER).
type FileHeader struct {
	Machine               uint16
	NumberOfSections      uint16
	TimeDateStamp         uint32
	PointerToSymbolTable  uint32
	NumberOfSymbols       uint32
	SizeOfOptionalHeader  uint16
	Characteristics       uint16
}

func (h *FileHeader) Is64Bit() bool {
	return h.Machine == MachineAMD64
}

func (h *FileHeader) MachineName() string {
	switch h.Machine {
	case MachineI386:
		return "I386"
	case MachineAMD64:
		return "AMD64"
	default:
		return fmt.Sprintf("UNKNOWN(0x%x)", h.Machine)
	}
}

func (h *FileHeader) TimeDateStampValue() UnixTimeStamp {
	return newUnixTimeStamp(h.TimeDateStamp)
}

// OptionalHeader is the PE32/PE32+ optional header, widened to a single
// in-memory shape (ImageBase as uint64 regardless of bitness) so that
// downstream code never has to branch on Magic again after load.
type OptionalHeader struct {
	Magic               uint16
	ImageBase           uint64
	SectionAlignment    uint32
	FileAlignment       uint32
	SizeOfImage         uint32
	SizeOfHeaders       uint32
	AddressOfEntryPoint uint32
	Subsystem           uint16
	DllCharacteristics  uint16
	NumberOfRvaAndSizes uint32
	DataDirectory       [NumDataDirectories]DataDirectory
}

func (o *OptionalHeader) Is64Bit() bool {
	return o.Magic == OptMagicPE32P
}

func (o *OptionalHeader) Directory(index int) DataDirectory {
	if index < 0 || index >= len(o.DataDirectory) {
		return DataDirectory{}
	}
	return o.DataDirectory[index]
}

// fixed-layout raw structs matching IMAGE_OPTIONAL_HEADER32/64 exactly,
// decoded with encoding/binary and then widened into OptionalHeader.
type dataDirRaw struct {
	VirtualAddress uint32
	Size           uint32
}

type optionalHeader32Raw struct {
	Magic                   uint16
	MajorLinkerVersion      uint8
	MinorLinkerVersion      uint8
	SizeOfCode              uint32
	SizeOfInitializedData   uint32
	SizeOfUninitializedData uint32
	AddressOfEntryPoint     uint32
	BaseOfCode              uint32
	BaseOfData              uint32
	ImageBase               uint32
	SectionAlignment        uint32
	FileAlignment           uint32
	MajorOSVersion          uint16
	MinorOSVersion          uint16
	MajorImageVersion       uint16
	MinorImageVersion       uint16
	MajorSubsystemVersion   uint16
	MinorSubsystemVersion   uint16
	Win32VersionValue       uint32
	SizeOfImage             uint32
	SizeOfHeaders           uint32
	CheckSum                uint32
	Subsystem               uint16
	DllCharacteristics      uint16
	SizeOfStackReserve      uint32
	SizeOfStackCommit       uint32
	SizeOfHeapReserve       uint32
	SizeOfHeapCommit        uint32
	LoaderFlags             uint32
	NumberOfRvaAndSizes     uint32
	DataDirectory           [NumDataDirectories]dataDirRaw
}

type optionalHeader64Raw struct {
	Magic                   uint16
	MajorLinkerVersion      uint8
	MinorLinkerVersion      uint8
	SizeOfCode              uint32
	SizeOfInitializedData   uint32
	SizeOfUninitializedData uint32
	AddressOfEntryPoint     uint32
	BaseOfCode              uint32
	ImageBase               uint64
	SectionAlignment        uint32
	FileAlignment           uint32
	MajorOSVersion          uint16
	MinorOSVersion          uint16
	MajorImageVersion       uint16
	MinorImageVersion       uint16
	MajorSubsystemVersion   uint16
	MinorSubsystemVersion   uint16
	Win32VersionValue       uint32
	SizeOfImage             uint32
	SizeOfHeaders           uint32
	CheckSum                uint32
	Subsystem               uint16
	DllCharacteristics      uint16
	SizeOfStackReserve      uint64
	SizeOfStackCommit       uint64
	SizeOfHeapReserve       uint64
	SizeOfHeapCommit        uint64
	LoaderFlags             uint32
	NumberOfRvaAndSizes     uint32
	DataDirectory           [NumDataDirectories]dataDirRaw
}

func widenDataDirs(raw [NumDataDirectories]dataDirRaw) [NumDataDirectories]DataDirectory {
	var out [NumDataDirectories]DataDirectory
	for i, d := range raw {
		out[i] = DataDirectory{RVA: RVA(d.VirtualAddress), Size: d.Size}
	}
	return out
}

// sectionHeaderRaw is IMAGE_SECTION_HEADER, 40 bytes.
type sectionHeaderRaw struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

const sectionHeaderSize = 40
const coffSymbolRecordSize = 18

// loadHeaders reads the DOS stub, NT headers, widened optional header,
// and section array out of raw. It returns an error only for
// fatal-to-image conditions (bad DOS/NT signature); anything else it can
// recover from it logs through logger and proceeds with partial data.
func loadHeaders(raw []byte, logger Logger) (*FileHeader, *OptionalHeader, []Section, error) {
	magic, ok := readUint16(raw, 0)
	if !ok || magic != dosSignature {
		return nil, nil, nil, ErrInvalidDOSHeader
	}

	lfanewU, ok := readUint32(raw, 60)
	if !ok {
		return nil, nil, nil, fmt.Errorf("truncated DOS header")
	}
	lfanew := RawOffset(int32(lfanewU))

	ntSig, ok := readUint32(raw, lfanew)
	if !ok || ntSig != ntSignature {
		return nil, nil, nil, ErrInvalidNTHeader
	}

	fileHeaderOffset := lfanew + 4
	var fh FileHeader
	if !readStruct(raw, fileHeaderOffset, &fh) {
		return nil, nil, nil, fmt.Errorf("truncated file header")
	}

	optionalHeaderOffset := fileHeaderOffset + 20
	magic16, ok := readUint16(raw, optionalHeaderOffset)
	if !ok {
		return nil, nil, nil, fmt.Errorf("truncated optional header")
	}

	var oh OptionalHeader
	switch magic16 {
	case OptMagicPE32P:
		var raw64 optionalHeader64Raw
		if !readStruct(raw, optionalHeaderOffset, &raw64) {
			return nil, nil, nil, fmt.Errorf("truncated PE32+ optional header")
		}
		oh = OptionalHeader{
			Magic:               raw64.Magic,
			ImageBase:           raw64.ImageBase,
			SectionAlignment:    raw64.SectionAlignment,
			FileAlignment:       raw64.FileAlignment,
			SizeOfImage:         raw64.SizeOfImage,
			SizeOfHeaders:       raw64.SizeOfHeaders,
			AddressOfEntryPoint: raw64.AddressOfEntryPoint,
			Subsystem:           raw64.Subsystem,
			DllCharacteristics:  raw64.DllCharacteristics,
			NumberOfRvaAndSizes: raw64.NumberOfRvaAndSizes,
			DataDirectory:       widenDataDirs(raw64.DataDirectory),
		}
	default:
		// Treat anything that isn't PE32+ as PE32 (0x10b); malformed
		// magics are recorded as-is and handled the same as PE32 since
		// that is the more common case in the wild.
		var raw32 optionalHeader32Raw
		if !readStruct(raw, optionalHeaderOffset, &raw32) {
			return nil, nil, nil, fmt.Errorf("truncated PE32 optional header")
		}
		oh = OptionalHeader{
			Magic:               raw32.Magic,
			ImageBase:           uint64(raw32.ImageBase),
			SectionAlignment:    raw32.SectionAlignment,
			FileAlignment:       raw32.FileAlignment,
			SizeOfImage:         raw32.SizeOfImage,
			SizeOfHeaders:       raw32.SizeOfHeaders,
			AddressOfEntryPoint: raw32.AddressOfEntryPoint,
			Subsystem:           raw32.Subsystem,
			DllCharacteristics:  raw32.DllCharacteristics,
			NumberOfRvaAndSizes: raw32.NumberOfRvaAndSizes,
			DataDirectory:       widenDataDirs(raw32.DataDirectory),
		}
	}

	sectionsOffset := optionalHeaderOffset + RawOffset(fh.SizeOfOptionalHeader)
	numSections := CapUint16(fh.NumberOfSections, maxNumberOfSections)

	stringTableOffset := RawOffset(fh.PointerToSymbolTable) + RawOffset(fh.NumberOfSymbols)*coffSymbolRecordSize

	sections := make([]Section, 0, numSections)
	offset := sectionsOffset
	for i := 0; i < int(numSections); i++ {
		var sh sectionHeaderRaw
		if !readStruct(raw, offset, &sh) {
			if logger != nil {
				logger.Warnf("truncated section header at index %d", i)
			}
			break
		}
		offset += sectionHeaderSize

		name := cString(sh.Name[:])
		displayName := name
		if strings.HasPrefix(name, "/") {
			if resolved, ok := resolveLongSectionName(raw, stringTableOffset, name); ok {
				displayName = resolved
			}
		}

		sections = append(sections, Section{
			Name:             name,
			DisplayName:      displayName,
			VirtualAddress:   RVA(sh.VirtualAddress),
			VirtualSize:      sh.VirtualSize,
			PointerToRawData: RawOffset(sh.PointerToRawData),
			SizeOfRawData:    sh.SizeOfRawData,
			Characteristics:  sh.Characteristics,
		})
	}

	return &fh, &oh, sections, nil
}

func cString(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}

// resolveLongSectionName follows the COFF long-name indirection: a
// section name of the form "/NNN" is a decimal byte offset into the COFF
// string table, which itself starts right after the symbol table and
// holds NUL-terminated names.
func resolveLongSectionName(raw []byte, stringTableOffset RawOffset, name string) (string, bool) {
	digits := strings.TrimPrefix(name, "/")
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n < 0 {
		return "", false
	}
	target := stringTableOffset + RawOffset(n)
	if target < 0 || int64(target) >= int64(len(raw)) {
		return "", false
	}
	return parseTerminatedString(raw, target), true
}
