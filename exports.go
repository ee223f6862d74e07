// Export Parser: reads the export directory, decodes named and
// ordinal-only exports, resolves forwarded exports through the
// API-set schema, and builds the name and ordinal indices.

package pe

import (
	"github.com/jonikDk/ProcessMemoryMap/apiset"
	"github.com/jonikDk/ProcessMemoryMap/symbols"
)

// exportDirectoryRaw is IMAGE_EXPORT_DIRECTORY, 40 bytes.
type exportDirectoryRaw struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

const maxExportEntries = 1 << 16

// exportResult is everything the Export Parser produces for one
// image: the flat list plus the two indices built over it.
type exportResult struct {
	OriginalName string
	Entries      []ExportEntry
	NameIndex    map[string]int
	OrdinalIndex map[uint32]int
}

func loadExports(raw []byte, anchors [NumDataDirectories]directoryAnchor, mapper *AddressMapper, sections []Section, schema apiset.Schema, pub symbols.Publisher, moduleIndex int, logger Logger) *exportResult {
	anchor := anchors[DirExport]
	if !anchor.Present() {
		return nil
	}

	dirRVA := mapper.VAToRVA(anchor.VA)
	dirRaw := mapper.RVAToRaw(dirRVA)
	if dirRaw == InvalidRawOffset {
		directoryError(logger, "export", "directory VA does not map to a section")
		return nil
	}

	var desc exportDirectoryRaw
	if !readStruct(raw, dirRaw, &desc) {
		directoryError(logger, "export", "truncated export directory")
		return nil
	}

	result := &exportResult{
		OriginalName: readRVAString(raw, mapper, RVA(desc.Name)),
		NameIndex:    map[string]int{},
		OrdinalIndex: map[uint32]int{},
	}

	numNames := int(CapUint32(desc.NumberOfNames, maxExportEntries))
	numFuncs := int(CapUint32(desc.NumberOfFunctions, maxExportEntries))

	ordinalTable := parseArrayUint16(raw, mapper.RVAToRaw(RVA(desc.AddressOfNameOrdinals)), numNames)
	nameTable := parseArrayUint32(raw, mapper.RVAToRaw(RVA(desc.AddressOfNames)), numNames)
	funcTable := parseArrayUint32(raw, mapper.RVAToRaw(RVA(desc.AddressOfFunctions)), numFuncs)

	handled := make([]bool, numFuncs)

	for i := 0; i < numNames && i < len(nameTable) && i < len(ordinalTable); i++ {
		ordinalRelative := uint32(ordinalTable[i])
		name := readRVAString(raw, mapper, RVA(nameTable[i]))

		entry := ExportEntry{
			FunctionName: name,
			Ordinal:      desc.Base + ordinalRelative,
		}

		entry.ExportTableVA = mapper.RVAToVA(RVA(desc.AddressOfFunctions) + RVA(ordinalRelative*4))
		entry.ExportTableRaw = mapper.RVAToRaw(RVA(desc.AddressOfFunctions) + RVA(ordinalRelative*4))

		if int(ordinalRelative) < len(funcTable) {
			funcRVA := RVA(funcTable[ordinalRelative])
			fillExportTarget(&entry, raw, mapper, sections, schema, result.OriginalName, funcRVA, anchors)
			handled[ordinalRelative] = true
		}

		if _, exists := result.NameIndex[name]; !exists {
			result.NameIndex[name] = len(result.Entries)
		}
		if _, dup := result.OrdinalIndex[entry.Ordinal]; dup {
			recoverableError(logger, "export", "duplicate ordinal %d for name export %q", entry.Ordinal, name)
		} else {
			result.OrdinalIndex[entry.Ordinal] = len(result.Entries)
		}

		publishExportSymbols(pub, moduleIndex, len(result.Entries), &entry, mapper, RVA(desc.AddressOfNameOrdinals)+RVA(i*2), RVA(nameTable[i]))
		result.Entries = append(result.Entries, entry)
	}

	for i := 0; i < numFuncs && i < len(funcTable); i++ {
		if handled[i] {
			continue
		}
		ordinal := desc.Base + uint32(i)

		entry := ExportEntry{
			Ordinal: ordinal,
		}
		entry.ExportTableVA = mapper.RVAToVA(RVA(desc.AddressOfFunctions) + RVA(i*4))
		entry.ExportTableRaw = mapper.RVAToRaw(RVA(desc.AddressOfFunctions) + RVA(i*4))

		funcRVA := RVA(funcTable[i])
		fillExportTarget(&entry, raw, mapper, sections, schema, result.OriginalName, funcRVA, anchors)

		if _, dup := result.OrdinalIndex[entry.Ordinal]; dup {
			recoverableError(logger, "export", "duplicate ordinal %d for ordinal-only export", entry.Ordinal)
		} else {
			result.OrdinalIndex[entry.Ordinal] = len(result.Entries)
		}

		publishExportSymbols(pub, moduleIndex, len(result.Entries), &entry, mapper, 0, 0)
		result.Entries = append(result.Entries, entry)
	}

	return result
}

// fillExportTarget fills in the forwarded-vs-executable half of an
// export entry: if funcRVA falls inside the export directory's own VA
// range - tested via directoryIndexFromRVA, the same lookup the
// Directory Locator exposes for any other RVA-to-directory question -
// the function is forwarded and funcRVA actually points at a
// "Module.Function" string; otherwise it is a real code address, and
// Executable reflects whether the section it lands in is actually
// marked code+execute rather than being assumed true.
func fillExportTarget(entry *ExportEntry, raw []byte, mapper *AddressMapper, sections []Section, schema apiset.Schema, consumer string, funcRVA RVA, anchors [NumDataDirectories]directoryAnchor) {
	entry.FuncAddrRVA = funcRVA
	entry.FuncAddrVA = mapper.RVAToVA(funcRVA)
	entry.FuncAddrRaw = mapper.RVAToRaw(funcRVA)

	if directoryIndexFromRVA(anchors, mapper, funcRVA) == DirExport {
		forward := readRVAString(raw, mapper, funcRVA)
		entry.OriginalForwardedTo = forward
		entry.ForwardedTo = resolveForward(schema, consumer, forward)
		entry.Executable = false
		return
	}

	if idx, ok := mapper.SectionIndexAt(funcRVA); ok {
		entry.Executable = sections[idx].Executable()
	}
}

// resolveForward runs the module half of a "Module.Function" forward
// string through the API-set schema, leaving the function half
// untouched. Forward strings may contain multiple dots (e.g.
// "KERNEL.APPCORE.IsDeveloperModeEnabled"), so the split is on the
// last dot, not the first.
func resolveForward(schema apiset.Schema, consumer, forward string) string {
	if forward == "" {
		return ""
	}
	dot := lastIndexByte(forward, '.')
	if dot < 0 {
		return apiset.Redirect(schema, consumer, forward)
	}
	module := forward[:dot]
	function := forward[dot:]
	return apiset.Redirect(schema, consumer, module) + function
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func publishExportSymbols(pub symbols.Publisher, moduleIndex int, listPos int, entry *ExportEntry, mapper *AddressMapper, ordinalSlotRVA, nameSlotRVA RVA) {
	pub.Publish(symbols.Symbol{
		VA:           uint64(entry.ExportTableVA),
		Kind:         symbols.KindEATAddr,
		Name:         entry.FunctionName,
		ModuleIndex:  moduleIndex,
		ListPosition: listPos,
	})
	if ordinalSlotRVA != 0 {
		pub.Publish(symbols.Symbol{
			VA:           uint64(mapper.RVAToVA(ordinalSlotRVA)),
			Kind:         symbols.KindEATOrdinal,
			ModuleIndex:  moduleIndex,
			ListPosition: listPos,
		})
	}
	if nameSlotRVA != 0 {
		pub.Publish(symbols.Symbol{
			VA:           uint64(mapper.RVAToVA(nameSlotRVA)),
			Kind:         symbols.KindEATName,
			Name:         entry.FunctionName,
			ModuleIndex:  moduleIndex,
			ListPosition: listPos,
		})
	}
	if !entry.Forwarded() {
		pub.Publish(symbols.Symbol{
			VA:           uint64(entry.FuncAddrVA),
			Kind:         symbols.KindExport,
			Name:         entry.FunctionName,
			ModuleIndex:  moduleIndex,
			ListPosition: listPos,
		})
	}
}

// readRVAString reads a NUL-terminated ASCII string whose address is
// given as an RVA, a pattern shared by export names, forward strings,
// and import library names.
func readRVAString(raw []byte, mapper *AddressMapper, rva RVA) string {
	off := mapper.RVAToRaw(rva)
	if off == InvalidRawOffset {
		return ""
	}
	return parseTerminatedString(raw, off)
}
