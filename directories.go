// Directory Locator: materializes the 16 optional-header data
// directories as VA-anchored regions and publishes the well-known
// directory anchors to the Symbol Publisher.

package pe

import "github.com/jonikDk/ProcessMemoryMap/symbols"

// directoryAnchor is a VA-anchored region: VA is zero iff the
// directory is absent.
type directoryAnchor struct {
	VA   VA
	Size uint32
}

func (d directoryAnchor) Present() bool {
	return d.VA != 0 && d.Size != 0
}

// loadDirectories widens each of the 16 RVA-anchored DataDirectory
// entries in oh into VA-anchored anchors, and publishes the anchors
// the rest of the parser cares about by name.
func loadDirectories(oh *OptionalHeader, mapper *AddressMapper, pub symbols.Publisher, moduleIndex int) [NumDataDirectories]directoryAnchor {
	var anchors [NumDataDirectories]directoryAnchor
	for i, d := range oh.DataDirectory {
		if !d.Present() {
			continue
		}
		anchors[i] = directoryAnchor{
			VA:   mapper.RVAToVA(d.RVA),
			Size: d.Size,
		}
	}

	pub.Publish(symbols.Symbol{
		VA:          uint64(mapper.imageBase),
		Kind:        symbols.KindInstanceBase,
		ModuleIndex: moduleIndex,
	})
	if anchors[DirExport].Present() {
		pub.Publish(symbols.Symbol{
			VA:          uint64(anchors[DirExport].VA),
			Kind:        symbols.KindExportDirectory,
			ModuleIndex: moduleIndex,
		})
	}
	if anchors[DirTLS].Present() {
		pub.Publish(symbols.Symbol{
			VA:          uint64(anchors[DirTLS].VA),
			Kind:        symbols.KindTLSDirectory,
			Name:        bitnessTag(oh.Is64Bit()),
			ModuleIndex: moduleIndex,
		})
	}
	if anchors[DirLoadConfig].Present() {
		pub.Publish(symbols.Symbol{
			VA:          uint64(anchors[DirLoadConfig].VA),
			Kind:        symbols.KindLoadConfigDirectory,
			Name:        bitnessTag(oh.Is64Bit()),
			ModuleIndex: moduleIndex,
		})
	}

	return anchors
}

func bitnessTag(is64 bool) string {
	if is64 {
		return "64"
	}
	return "32"
}

// directoryIndexFromRVA scans directories from highest index to
// lowest, so pathological overlaps (a Security directory whose size
// spans into BaseRelocations) resolve to the more specific, later
// defined directory.
func directoryIndexFromRVA(anchors [NumDataDirectories]directoryAnchor, mapper *AddressMapper, rva RVA) int {
	va := mapper.RVAToVA(rva)
	for i := NumDataDirectories - 1; i >= 0; i-- {
		a := anchors[i]
		if !a.Present() {
			continue
		}
		if va >= a.VA && uint64(va) < uint64(a.VA)+uint64(a.Size) {
			return i
		}
	}
	return -1
}
