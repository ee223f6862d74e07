// Import Parsers, standard imports half: walks ImageImportDescriptor
// records until a zeroed terminator, then each descriptor's INT/IAT
// thunk array.

package pe

import (
	"github.com/jonikDk/ProcessMemoryMap/apiset"
	"github.com/jonikDk/ProcessMemoryMap/symbols"
)

const maxImportDescriptors = 4096
const maxThunksPerDescriptor = 1 << 16

// importDescriptorRaw is IMAGE_IMPORT_DESCRIPTOR, 20 bytes.
type importDescriptorRaw struct {
	OriginalFirstThunk uint32
	TimeDateStamp      uint32
	ForwarderChain     uint32
	Name               uint32
	FirstThunk         uint32
}

const ordinalFlag32 = 0x80000000
const ordinalFlag64 = 0x8000000000000000

func loadStandardImports(raw []byte, anchor directoryAnchor, mapper *AddressMapper, is64 bool, schema apiset.Schema, consumer string, pub symbols.Publisher, moduleIndex int, logger Logger) []ImportEntry {
	if !anchor.Present() {
		return nil
	}

	descRVA := mapper.VAToRVA(anchor.VA)
	descOffset := mapper.RVAToRaw(descRVA)
	if descOffset == InvalidRawOffset {
		directoryError(logger, "import", "import directory VA does not map to a section")
		return nil
	}

	var entries []ImportEntry

	for i := 0; i < maxImportDescriptors; i++ {
		var desc importDescriptorRaw
		if !readStruct(raw, descOffset, &desc) {
			directoryError(logger, "import", "truncated import descriptor at index %d", i)
			break
		}
		if desc.OriginalFirstThunk == 0 && desc.Name == 0 && desc.FirstThunk == 0 {
			break
		}

		pub.Publish(symbols.Symbol{
			VA:           uint64(mapper.RVAToVA(descRVA)),
			Kind:         symbols.KindImportDescriptor,
			ModuleIndex:  moduleIndex,
			ListPosition: i,
		})

		originalLib := readRVAString(raw, mapper, RVA(desc.Name))
		lib := apiset.Redirect(schema, consumer, originalLib)

		thunkRVA := RVA(desc.OriginalFirstThunk)
		hasINT := thunkRVA != 0
		if !hasINT {
			// Bound images can place real runtime VAs in the IAT on
			// disk; that is only safe to walk for name reads when the
			// INT is absent.
			thunkRVA = RVA(desc.FirstThunk)
		}

		elementSize := RVA(4)
		ordinalFlag := uint64(ordinalFlag32)
		if is64 {
			elementSize = 8
			ordinalFlag = ordinalFlag64
		}

		iatRVA := RVA(desc.FirstThunk)
		bitTag := bitnessTag(is64)

		for j := 0; j < maxThunksPerDescriptor; j++ {
			thunkOffset := mapper.RVAToRaw(thunkRVA + RVA(j)*elementSize)
			intSlotRVA := thunkRVA + RVA(j)*elementSize
			iatSlotRVA := iatRVA + RVA(j)*elementSize
			iatSlotVA := mapper.RVAToVA(iatSlotRVA)

			var raw64 uint64
			var ok bool
			if is64 {
				raw64, ok = readUint64(raw, thunkOffset)
			} else {
				var v32 uint32
				v32, ok = readUint32(raw, thunkOffset)
				raw64 = uint64(v32)
			}
			if !ok || raw64 == 0 {
				break
			}

			entry := ImportEntry{
				OriginalLibraryName: originalLib,
				LibraryName:         lib,
				ImportTableVA:       iatSlotVA,
			}

			if raw64&ordinalFlag != 0 {
				entry.HasOrdinal = true
				entry.Ordinal = uint16(raw64 & 0xffff)
			} else {
				nameRVA := RVA(raw64)
				hintOffset := mapper.RVAToRaw(nameRVA)
				if hintOffset == InvalidRawOffset {
					recoverableError(logger, "import", "thunk %d of %s points outside any section", j, lib)
					break
				}
				hint, _ := readUint16(raw, hintOffset)
				entry.Ordinal = hint
				entry.FunctionName = parseTerminatedString(raw, hintOffset+2)
			}

			pub.Publish(symbols.Symbol{
				VA:           uint64(iatSlotVA),
				Kind:         symbols.KindImportTable,
				Name:         bitTag,
				ModuleIndex:  moduleIndex,
				ListPosition: len(entries),
			})
			if hasINT {
				pub.Publish(symbols.Symbol{
					VA:           uint64(mapper.RVAToVA(intSlotRVA)),
					Kind:         symbols.KindImportNameTable,
					Name:         bitTag,
					ModuleIndex:  moduleIndex,
					ListPosition: len(entries),
				})
			}

			entries = append(entries, entry)
			if len(entries) > maxThunksPerDescriptor*maxImportDescriptors {
				break
			}
		}

		descOffset += RawOffset(binarySizeOfImportDescriptor)
		descRVA += RVA(binarySizeOfImportDescriptor)
	}

	return entries
}

const binarySizeOfImportDescriptor = 20
