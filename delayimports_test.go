package pe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonikDk/ProcessMemoryMap/apiset"
	"github.com/jonikDk/ProcessMemoryMap/symbols"
)

// TestLoadDelayImportsAttributesRVA builds one ImgDelayDescr with
// Attributes=1 (modern, RVA-based layout) and one by-name thunk.
func TestLoadDelayImportsAttributesRVA(t *testing.T) {
	img := newTestImage(false)
	sectionRVA := img.addSection(".didat", make([]byte, 256), imageSCNMemRead)
	raw := img.build()

	binary.LittleEndian.PutUint32(raw[sectionRVA+0:sectionRVA+4], 1)             // Attributes
	binary.LittleEndian.PutUint32(raw[sectionRVA+4:sectionRVA+8], sectionRVA+60)  // DllNameRVA
	binary.LittleEndian.PutUint32(raw[sectionRVA+12:sectionRVA+16], sectionRVA+80) // ImportAddressTableRVA
	binary.LittleEndian.PutUint32(raw[sectionRVA+16:sectionRVA+20], sectionRVA+100) // ImportNameTableRVA

	binary.LittleEndian.PutUint32(raw[sectionRVA+100:sectionRVA+104], sectionRVA+120)
	binary.LittleEndian.PutUint16(raw[sectionRVA+120:sectionRVA+122], 3)
	putCString(raw, sectionRVA+122, "DelayLoadedFunc")

	// Pre-init IAT slot: some jump-stub placeholder value.
	binary.LittleEndian.PutUint32(raw[sectionRVA+80:sectionRVA+84], 0xdeadbeef)

	putCString(raw, sectionRVA+60, "delaylib.dll")

	_, oh, sections, err := loadHeaders(raw, nil)
	require.NoError(t, err)
	mapper := newAddressMapper(VA(oh.ImageBase), oh.SizeOfHeaders, oh.SizeOfImage, oh.SectionAlignment, oh.FileAlignment, sections)

	anchor := directoryAnchor{VA: mapper.RVAToVA(RVA(sectionRVA)), Size: 32}

	reg := symbols.NewRegistry()
	entries := loadDelayImports(raw, anchor, mapper, VA(oh.ImageBase), false, apiset.Empty{}, "test.exe", reg, 0, nil)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Delayed)
	assert.Equal(t, "delaylib.dll", entries[0].LibraryName)
	assert.Equal(t, "DelayLoadedFunc", entries[0].FunctionName)
	assert.Equal(t, uint64(0xdeadbeef), entries[0].DelayedIATData)

	iatSymbols := reg.ByKind(symbols.KindDelayedImportTable)
	require.Len(t, iatSymbols, 1)
	assert.Equal(t, "DelayLoadedFunc", iatSymbols[0].Name)

	intSymbols := reg.ByKind(symbols.KindDelayedImportNameTable)
	require.Len(t, intSymbols, 1)
	assert.Equal(t, uint64(mapper.RVAToVA(RVA(sectionRVA+100))), intSymbols[0].VA)
}

func TestLoadDelayImportsAbsentDirectory(t *testing.T) {
	entries := loadDelayImports(nil, directoryAnchor{}, nil, 0, false, apiset.Empty{}, "", symbols.Discard{}, 0, nil)
	assert.Nil(t, entries)
}
