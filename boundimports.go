// Import Parsers, bound-import half: walks descriptor records at the
// bound-import directory, tagging the descriptor and its forwarder
// refs for the Symbol Publisher. Bound imports record a cached VA the
// loader believed was correct at bind time; they are published as
// symbols but, unlike standard/delay imports, do not themselves feed
// ParsedImage.Imports - a stale bound VA is exactly what relocation
// and delay-import parsing exist to correct.
package pe

import "github.com/jonikDk/ProcessMemoryMap/symbols"

const maxBoundImportDescriptors = 4096

// boundImportDescriptorRaw is IMAGE_BOUND_IMPORT_DESCRIPTOR, 8 bytes.
type boundImportDescriptorRaw struct {
	TimeDateStamp           uint32
	OffsetModuleName        uint16
	NumberOfModuleForwarderRefs uint16
}

const binarySizeOfBoundImportDescriptor = 8

// BoundImportModule is one bound-import descriptor and its library
// name, resolved relative to the start of the bound-import directory
// (bound-import names are indexed from the directory base, not via
// RVA like everything else in the file).
type BoundImportModule struct {
	LibraryName      string
	ForwarderRefCount int
}

func loadBoundImports(raw []byte, anchor directoryAnchor, mapper *AddressMapper, pub symbols.Publisher, moduleIndex int, logger Logger) []BoundImportModule {
	if !anchor.Present() {
		return nil
	}

	dirRVA := mapper.VAToRVA(anchor.VA)
	base := mapper.RVAToRaw(dirRVA)
	if base == InvalidRawOffset {
		directoryError(logger, "boundimport", "bound-import directory VA does not map to a section")
		return nil
	}

	var modules []BoundImportModule
	offset := base

	for i := 0; i < maxBoundImportDescriptors; i++ {
		var desc boundImportDescriptorRaw
		if !readStruct(raw, offset, &desc) {
			break
		}
		if desc.TimeDateStamp == 0 && desc.OffsetModuleName == 0 {
			break
		}

		name := parseTerminatedString(raw, base+RawOffset(desc.OffsetModuleName))

		pub.Publish(symbols.Symbol{
			VA:           uint64(mapper.RVAToVA(dirRVA)),
			Kind:         symbols.KindBoundImportDescriptor,
			Name:         name,
			ModuleIndex:  moduleIndex,
			ListPosition: len(modules),
		})

		offset += binarySizeOfBoundImportDescriptor
		dirRVA += binarySizeOfBoundImportDescriptor

		for f := 0; f < int(desc.NumberOfModuleForwarderRefs); f++ {
			pub.Publish(symbols.Symbol{
				VA:           uint64(mapper.RVAToVA(dirRVA)),
				Kind:         symbols.KindBoundImportForwardRef,
				Name:         name,
				ModuleIndex:  moduleIndex,
				ListPosition: len(modules),
			})
			offset += binarySizeOfBoundImportDescriptor
			dirRVA += binarySizeOfBoundImportDescriptor
		}

		modules = append(modules, BoundImportModule{
			LibraryName:       name,
			ForwarderRefCount: int(desc.NumberOfModuleForwarderRefs),
		})
	}

	return modules
}
