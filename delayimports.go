// Import Parsers, delay-import half: walks ImgDelayDescr records,
// handling the grAttrs RVA-vs-VA ambiguity, and records the
// pre-initialization IAT value that relocation patching later fixes
// up on 64-bit images.

package pe

import (
	"github.com/jonikDk/ProcessMemoryMap/apiset"
	"github.com/jonikDk/ProcessMemoryMap/symbols"
)

const maxDelayDescriptors = 4096

// delayDescriptorRaw is ImgDelayDescr, 32 bytes.
type delayDescriptorRaw struct {
	Attributes         uint32
	DllNameRVA         uint32
	ModuleHandleRVA     uint32
	ImportAddressTableRVA uint32
	ImportNameTableRVA   uint32
	BoundImportAddressTableRVA uint32
	UnloadInformationTableRVA  uint32
	TimeDateStamp              uint32
}

const binarySizeOfDelayDescriptor = 32

func loadDelayImports(raw []byte, anchor directoryAnchor, mapper *AddressMapper, preferredImageBase VA, is64 bool, schema apiset.Schema, consumer string, pub symbols.Publisher, moduleIndex int, logger Logger) []ImportEntry {
	if !anchor.Present() {
		return nil
	}

	descRVA := mapper.VAToRVA(anchor.VA)
	descOffset := mapper.RVAToRaw(descRVA)
	if descOffset == InvalidRawOffset {
		directoryError(logger, "delayimport", "delay-import directory VA does not map to a section")
		return nil
	}

	var entries []ImportEntry

	for i := 0; i < maxDelayDescriptors; i++ {
		var desc delayDescriptorRaw
		if !readStruct(raw, descOffset, &desc) {
			directoryError(logger, "delayimport", "truncated delay-import descriptor at index %d", i)
			break
		}
		if desc.ImportAddressTableRVA == 0 {
			break
		}

		// Attributes == 1 means the fields really are RVAs; any other
		// value (chiefly 0, the pre-6.0-linker format) means they are
		// VAs relative to the preferred image base, and getRVA must
		// subtract that base back out.
		getRVA := func(v uint32) RVA {
			if desc.Attributes == 1 {
				return RVA(v)
			}
			return RVA(VA(v) - preferredImageBase)
		}

		libRVA := getRVA(desc.DllNameRVA)
		originalLib := readRVAString(raw, mapper, libRVA)
		lib := apiset.Redirect(schema, consumer, originalLib)

		moduleHandleRVA := getRVA(desc.ModuleHandleRVA)
		moduleInstanceVA := VA(0)
		if moduleHandleRVA != 0 {
			moduleInstanceVA = mapper.RVAToVA(moduleHandleRVA)
		}

		iatRVA := getRVA(desc.ImportAddressTableRVA)
		intRVA := getRVA(desc.ImportNameTableRVA)

		elementSize := RVA(4)
		ordinalFlag := uint64(ordinalFlag32)
		if is64 {
			elementSize = 8
			ordinalFlag = ordinalFlag64
		}

		for j := 0; j < maxThunksPerDescriptor; j++ {
			intOffset := mapper.RVAToRaw(intRVA + RVA(j)*elementSize)
			iatSlotRVA := iatRVA + RVA(j)*elementSize
			iatSlotOffset := mapper.RVAToRaw(iatSlotRVA)

			var nameThunk uint64
			var ok bool
			if is64 {
				nameThunk, ok = readUint64(raw, intOffset)
			} else {
				var v32 uint32
				v32, ok = readUint32(raw, intOffset)
				nameThunk = uint64(v32)
			}
			if !ok || nameThunk == 0 {
				break
			}

			entry := ImportEntry{
				Delayed:                 true,
				OriginalLibraryName:     originalLib,
				LibraryName:             lib,
				ImportTableVA:           mapper.RVAToVA(iatSlotRVA),
				DelayedModuleInstanceVA: moduleInstanceVA,
			}

			if nameThunk&ordinalFlag != 0 {
				entry.HasOrdinal = true
				entry.Ordinal = uint16(nameThunk & 0xffff)
			} else {
				nameRVA := getRVA(uint32(nameThunk))
				hintOffset := mapper.RVAToRaw(nameRVA)
				if hintOffset != InvalidRawOffset {
					hint, _ := readUint16(raw, hintOffset)
					entry.Ordinal = hint
					entry.FunctionName = parseTerminatedString(raw, hintOffset+2)
				}
			}

			// The pre-init IAT slot holds either the unload-thunk
			// address or a jump-stub RVA until the loader first
			// resolves this import; relocation patching is what makes
			// this value a correct pointer on 64-bit images.
			if is64 {
				entry.DelayedIATData, _ = readUint64(raw, iatSlotOffset)
			} else {
				v, _ := readUint32(raw, iatSlotOffset)
				entry.DelayedIATData = uint64(v)
			}

			pub.Publish(symbols.Symbol{
				VA:           uint64(entry.ImportTableVA),
				Kind:         symbols.KindDelayedImportTable,
				Name:         entry.FunctionName,
				ModuleIndex:  moduleIndex,
				ListPosition: len(entries),
			})
			pub.Publish(symbols.Symbol{
				VA:           uint64(mapper.RVAToVA(intRVA + RVA(j)*elementSize)),
				Kind:         symbols.KindDelayedImportNameTable,
				Name:         entry.FunctionName,
				ModuleIndex:  moduleIndex,
				ListPosition: len(entries),
			})

			entries = append(entries, entry)
		}

		descOffset += RawOffset(binarySizeOfDelayDescriptor)
	}

	return entries
}
