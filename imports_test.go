package pe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonikDk/ProcessMemoryMap/apiset"
	"github.com/jonikDk/ProcessMemoryMap/symbols"
)

// TestLoadStandardImportsByName builds one import descriptor whose INT
// walks a single by-name thunk, and checks the resolved name and the
// library redirect via a static API-set schema.
func TestLoadStandardImportsByName(t *testing.T) {
	img := newTestImage(false)
	sectionRVA := img.addSection(".idata", make([]byte, 256), imageSCNMemRead)
	raw := img.build()

	// Descriptor at sectionRVA+0 (20 bytes): OriginalFirstThunk, Time,
	// ForwarderChain, Name, FirstThunk.
	binary.LittleEndian.PutUint32(raw[sectionRVA+0:sectionRVA+4], sectionRVA+60)  // OriginalFirstThunk (INT)
	binary.LittleEndian.PutUint32(raw[sectionRVA+12:sectionRVA+16], sectionRVA+120) // Name
	binary.LittleEndian.PutUint32(raw[sectionRVA+16:sectionRVA+20], sectionRVA+60) // FirstThunk (IAT, same as INT here)

	// Terminator descriptor right after (all zero, already zeroed).

	// INT/IAT thunk array at sectionRVA+60: one entry pointing at the
	// hint/name record, then a zero terminator.
	binary.LittleEndian.PutUint32(raw[sectionRVA+60:sectionRVA+64], sectionRVA+80)

	// Hint/name record at sectionRVA+80: 2-byte hint, then name.
	binary.LittleEndian.PutUint16(raw[sectionRVA+80:sectionRVA+82], 5)
	putCString(raw, sectionRVA+82, "CreateFileW")

	putCString(raw, sectionRVA+120, "api-ms-win-core-file-l1-1-0.dll")

	_, oh, sections, err := loadHeaders(raw, nil)
	require.NoError(t, err)
	mapper := newAddressMapper(VA(oh.ImageBase), oh.SizeOfHeaders, oh.SizeOfImage, oh.SectionAlignment, oh.FileAlignment, sections)

	anchor := directoryAnchor{VA: mapper.RVAToVA(RVA(sectionRVA)), Size: 20}

	schema := apiset.NewStatic(map[string]string{
		"api-ms-win-core-file-l1-1-0": "kernel32",
	})

	entries := loadStandardImports(raw, anchor, mapper, false, schema, "test.exe", symbols.Discard{}, 0, nil)
	require.Len(t, entries, 1)
	assert.Equal(t, "api-ms-win-core-file-l1-1-0.dll", entries[0].OriginalLibraryName)
	assert.Equal(t, "kernel32.dll", entries[0].LibraryName)
	assert.Equal(t, "CreateFileW", entries[0].FunctionName)
	assert.False(t, entries[0].HasOrdinal)
}

func TestLoadStandardImportsByOrdinal(t *testing.T) {
	img := newTestImage(true)
	sectionRVA := img.addSection(".idata", make([]byte, 256), imageSCNMemRead)
	raw := img.build()

	binary.LittleEndian.PutUint32(raw[sectionRVA+12:sectionRVA+16], sectionRVA+40) // Name
	binary.LittleEndian.PutUint32(raw[sectionRVA+16:sectionRVA+20], sectionRVA+64) // FirstThunk only, no INT

	// 64-bit thunk: ordinal flag bit 63 set, ordinal 42 in low bits.
	binary.LittleEndian.PutUint64(raw[sectionRVA+64:sectionRVA+72], ordinalFlag64|42)

	putCString(raw, sectionRVA+40, "ntdll.dll")

	_, oh, sections, err := loadHeaders(raw, nil)
	require.NoError(t, err)
	mapper := newAddressMapper(VA(oh.ImageBase), oh.SizeOfHeaders, oh.SizeOfImage, oh.SectionAlignment, oh.FileAlignment, sections)

	anchor := directoryAnchor{VA: mapper.RVAToVA(RVA(sectionRVA)), Size: 20}

	entries := loadStandardImports(raw, anchor, mapper, true, apiset.Empty{}, "test.exe", symbols.Discard{}, 0, nil)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].HasOrdinal)
	assert.Equal(t, uint16(42), entries[0].Ordinal)
}

// TestLoadStandardImportsPublishesIATAndINTSymbols builds a descriptor
// with distinct INT and IAT arrays and checks that both an IAT-slot and
// an INT-slot symbol are published per thunk, bitness-tagged, against
// a real symbols.Registry instead of symbols.Discard.
func TestLoadStandardImportsPublishesIATAndINTSymbols(t *testing.T) {
	img := newTestImage(false)
	sectionRVA := img.addSection(".idata", make([]byte, 256), imageSCNMemRead)
	raw := img.build()

	binary.LittleEndian.PutUint32(raw[sectionRVA+0:sectionRVA+4], sectionRVA+60)   // OriginalFirstThunk (INT)
	binary.LittleEndian.PutUint32(raw[sectionRVA+12:sectionRVA+16], sectionRVA+40) // Name
	binary.LittleEndian.PutUint32(raw[sectionRVA+16:sectionRVA+20], sectionRVA+100) // FirstThunk (IAT), distinct from INT

	// INT at sectionRVA+60: one entry pointing at the hint/name record.
	binary.LittleEndian.PutUint32(raw[sectionRVA+60:sectionRVA+64], sectionRVA+80)
	// IAT at sectionRVA+100: loader's copy, content irrelevant here.
	binary.LittleEndian.PutUint32(raw[sectionRVA+100:sectionRVA+104], sectionRVA+80)

	binary.LittleEndian.PutUint16(raw[sectionRVA+80:sectionRVA+82], 0)
	putCString(raw, sectionRVA+82, "CreateFileW")
	putCString(raw, sectionRVA+40, "kernel32.dll")

	_, oh, sections, err := loadHeaders(raw, nil)
	require.NoError(t, err)
	mapper := newAddressMapper(VA(oh.ImageBase), oh.SizeOfHeaders, oh.SizeOfImage, oh.SectionAlignment, oh.FileAlignment, sections)

	anchor := directoryAnchor{VA: mapper.RVAToVA(RVA(sectionRVA)), Size: 20}

	reg := symbols.NewRegistry()
	entries := loadStandardImports(raw, anchor, mapper, false, apiset.Empty{}, "test.exe", reg, 0, nil)
	require.Len(t, entries, 1)

	iatVA := mapper.RVAToVA(RVA(sectionRVA + 100))
	intVA := mapper.RVAToVA(RVA(sectionRVA + 60))

	iatSymbols := reg.ByKind(symbols.KindImportTable)
	require.Len(t, iatSymbols, 1)
	assert.Equal(t, uint64(iatVA), iatSymbols[0].VA)
	assert.Equal(t, "32", iatSymbols[0].Name)

	intSymbols := reg.ByKind(symbols.KindImportNameTable)
	require.Len(t, intSymbols, 1)
	assert.Equal(t, uint64(intVA), intSymbols[0].VA)
	assert.Equal(t, "32", intSymbols[0].Name)

	descSymbols := reg.ByKind(symbols.KindImportDescriptor)
	require.Len(t, descSymbols, 1)
}

// TestLoadStandardImportsBoundImageOnlyPublishesIATSymbol exercises the
// no-INT (bound image) path, where the IAT is the only table walked
// and only one symbol per thunk can be published.
func TestLoadStandardImportsBoundImageOnlyPublishesIATSymbol(t *testing.T) {
	img := newTestImage(true)
	sectionRVA := img.addSection(".idata", make([]byte, 256), imageSCNMemRead)
	raw := img.build()

	binary.LittleEndian.PutUint32(raw[sectionRVA+12:sectionRVA+16], sectionRVA+40) // Name
	binary.LittleEndian.PutUint32(raw[sectionRVA+16:sectionRVA+20], sectionRVA+64) // FirstThunk only, no INT

	binary.LittleEndian.PutUint64(raw[sectionRVA+64:sectionRVA+72], ordinalFlag64|42)
	putCString(raw, sectionRVA+40, "ntdll.dll")

	_, oh, sections, err := loadHeaders(raw, nil)
	require.NoError(t, err)
	mapper := newAddressMapper(VA(oh.ImageBase), oh.SizeOfHeaders, oh.SizeOfImage, oh.SectionAlignment, oh.FileAlignment, sections)

	anchor := directoryAnchor{VA: mapper.RVAToVA(RVA(sectionRVA)), Size: 20}

	reg := symbols.NewRegistry()
	entries := loadStandardImports(raw, anchor, mapper, true, apiset.Empty{}, "test.exe", reg, 0, nil)
	require.Len(t, entries, 1)

	assert.Len(t, reg.ByKind(symbols.KindImportTable), 1)
	assert.Empty(t, reg.ByKind(symbols.KindImportNameTable))
}

func TestLoadStandardImportsAbsentDirectory(t *testing.T) {
	entries := loadStandardImports(nil, directoryAnchor{}, nil, false, apiset.Empty{}, "", symbols.Discard{}, 0, nil)
	assert.Nil(t, entries)
}
