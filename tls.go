// Auxiliary Parsers, TLS half: walks the AddressOfCallBacks pointer
// chain and folds each callback into the entry-point list.

package pe

import (
	"strconv"

	"github.com/jonikDk/ProcessMemoryMap/symbols"
)

const maxTLSCallbacks = 4096

func loadTLSCallbacks(raw []byte, anchor directoryAnchor, mapper *AddressMapper, is64 bool, pub symbols.Publisher, moduleIndex int, logger Logger) []EntryPoint {
	if !anchor.Present() {
		return nil
	}

	dirRVA := mapper.VAToRVA(anchor.VA)
	offset := mapper.RVAToRaw(dirRVA)
	if offset == InvalidRawOffset {
		directoryError(logger, "tls", "TLS directory VA does not map to a section")
		return nil
	}

	// Skip StartAddressOfRawData, EndAddressOfRawData, AddressOfIndex
	// (three pointer-sized fields) to reach AddressOfCallBacks.
	ptrSize := RawOffset(4)
	if is64 {
		ptrSize = 8
	}
	callbacksFieldOffset := offset + ptrSize*3

	var callbacksVA uint64
	var ok bool
	if is64 {
		callbacksVA, ok = readUint64(raw, callbacksFieldOffset)
	} else {
		var v32 uint32
		v32, ok = readUint32(raw, callbacksFieldOffset)
		callbacksVA = uint64(v32)
	}
	if !ok || callbacksVA == 0 {
		return nil
	}

	var entries []EntryPoint
	chainRVA := mapper.VAToRVA(VA(callbacksVA))

	for i := 0; i < maxTLSCallbacks; i++ {
		slotOffset := mapper.RVAToRaw(chainRVA + RVA(i)*RVA(ptrSize))
		var cbVA uint64
		if is64 {
			cbVA, ok = readUint64(raw, slotOffset)
		} else {
			var v32 uint32
			v32, ok = readUint32(raw, slotOffset)
			cbVA = uint64(v32)
		}
		if !ok || cbVA == 0 {
			break
		}

		ep := EntryPoint{
			Name:      "Tls Callback " + strconv.Itoa(i),
			RawOffset: mapper.VAToRaw(VA(cbVA)),
			VA:        VA(cbVA),
		}
		entries = append(entries, ep)

		pub.Publish(symbols.Symbol{
			VA:           cbVA,
			Kind:         symbols.KindTlsCallback,
			Name:         ep.Name,
			ModuleIndex:  moduleIndex,
			ListPosition: i,
		})
		pub.Publish(symbols.Symbol{
			VA:           cbVA,
			Kind:         symbols.KindEntryPoint,
			Name:         ep.Name,
			ModuleIndex:  moduleIndex,
			ListPosition: i,
		})
	}

	return entries
}
