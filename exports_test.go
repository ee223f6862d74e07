package pe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonikDk/ProcessMemoryMap/apiset"
	"github.com/jonikDk/ProcessMemoryMap/symbols"
)

// Export directory field offsets (IMAGE_EXPORT_DIRECTORY, 40 bytes):
// Characteristics=0 TimeDateStamp=4 MajorVersion=8 MinorVersion=10
// Name=12 Base=16 NumberOfFunctions=20 NumberOfNames=24
// AddressOfFunctions=28 AddressOfNames=32 AddressOfNameOrdinals=36.

func TestLoadExportsNamedAndForwarded(t *testing.T) {
	img := newTestImage(false)

	sectionRVA := img.addSection(".edata", make([]byte, 256), imageSCNMemRead)
	textRVA := img.addSection(".text", make([]byte, 64), imageSCNMemExecute|imageSCNMemRead)

	raw := img.build()

	binary.LittleEndian.PutUint32(raw[sectionRVA+16:sectionRVA+20], 1) // Base
	binary.LittleEndian.PutUint32(raw[sectionRVA+20:sectionRVA+24], 2) // NumberOfFunctions
	binary.LittleEndian.PutUint32(raw[sectionRVA+24:sectionRVA+28], 2) // NumberOfNames
	patchU32(raw, sectionRVA+28, sectionRVA+40) // AddressOfFunctions
	patchU32(raw, sectionRVA+32, sectionRVA+48) // AddressOfNames
	patchU32(raw, sectionRVA+36, sectionRVA+56) // AddressOfNameOrdinals
	patchU32(raw, sectionRVA+12, sectionRVA+60) // Name

	// funcTable[0] = textRVA (a real code address in an executable
	// section, outside the export directory's own VA range).
	patchU32(raw, sectionRVA+40, textRVA)
	// funcTable[1] = sectionRVA+110 (inside the directory range, so it
	// is read back as a forward string instead of a code address).
	patchU32(raw, sectionRVA+44, sectionRVA+110)

	// nameTable: "Foo" at sectionRVA+90, "Bar" at sectionRVA+94.
	patchU32(raw, sectionRVA+48, sectionRVA+90)
	patchU32(raw, sectionRVA+52, sectionRVA+94)
	putCString(raw, sectionRVA+90, "Foo")
	putCString(raw, sectionRVA+94, "Bar")

	// ordinal table: Foo -> relative ordinal 0, Bar -> relative ordinal 1.
	binary.LittleEndian.PutUint16(raw[sectionRVA+56:sectionRVA+58], 0)
	binary.LittleEndian.PutUint16(raw[sectionRVA+58:sectionRVA+60], 1)

	putCString(raw, sectionRVA+60, "test.dll")
	putCString(raw, sectionRVA+110, "Other.Func")

	_, oh, sections, err := loadHeaders(raw, nil)
	require.NoError(t, err)

	mapper := newAddressMapper(VA(oh.ImageBase), oh.SizeOfHeaders, oh.SizeOfImage, oh.SectionAlignment, oh.FileAlignment, sections)

	var anchors [NumDataDirectories]directoryAnchor
	anchors[DirExport] = directoryAnchor{VA: mapper.RVAToVA(RVA(sectionRVA)), Size: 150}

	reg := symbols.NewRegistry()
	result := loadExports(raw, anchors, mapper, sections, apiset.Empty{}, reg, 0, nil)
	require.NotNil(t, result)
	assert.Equal(t, "test.dll", result.OriginalName)
	require.Len(t, result.Entries, 2)

	// Foo is executable, so it gets an EATAddr and an Export symbol; Bar
	// is forwarded, so it only gets the EATAddr.
	assert.Len(t, reg.ByKind(symbols.KindEATAddr), 2)
	assert.Len(t, reg.ByKind(symbols.KindExport), 1)
	assert.Len(t, reg.ByKind(symbols.KindEATName), 2)

	fooIdx, ok := result.NameIndex["Foo"]
	require.True(t, ok)
	foo := result.Entries[fooIdx]
	assert.False(t, foo.Forwarded())
	assert.True(t, foo.Executable)
	assert.Equal(t, uint32(1), foo.Ordinal)

	barIdx, ok := result.NameIndex["Bar"]
	require.True(t, ok)
	bar := result.Entries[barIdx]
	assert.True(t, bar.Forwarded())
	assert.Equal(t, "Other.Func", bar.OriginalForwardedTo)
	assert.Equal(t, "Other.Func", bar.ForwardedTo)
	assert.Equal(t, uint32(2), bar.Ordinal)
}

func TestLoadExportsAbsentDirectory(t *testing.T) {
	var anchors [NumDataDirectories]directoryAnchor
	result := loadExports(nil, anchors, nil, nil, apiset.Empty{}, symbols.Discard{}, 0, nil)
	assert.Nil(t, result)
}

func patchU32(raw []byte, rva uint32, v uint32) {
	binary.LittleEndian.PutUint32(raw[rva:rva+4], v)
}
