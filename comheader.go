// Auxiliary Parsers, COM+ half: reads the leading fields of
// IMAGE_COR20_HEADER and records the IL-only flag.

package pe

const (
	comImageFlagsILOnly          = 0x00000001
	comImageFlagsRequires32Bit   = 0x00000002
)

// comHeaderRaw covers IMAGE_COR20_HEADER (72 bytes, 0x48) only up to
// Flags, its first 20 bytes since nothing downstream
// needs the metadata/resource/strong-name directory entries.
type comHeaderRaw struct {
	Cb                uint32
	MajorRuntimeVersion uint16
	MinorRuntimeVersion uint16
	MetaDataRVA        uint32
	MetaDataSize        uint32
	Flags               uint32
}

func loadCOMHeader(raw []byte, anchor directoryAnchor, mapper *AddressMapper, logger Logger) (present bool, ilOnly bool) {
	if !anchor.Present() {
		return false, false
	}

	offset := mapper.RVAToRaw(mapper.VAToRVA(anchor.VA))
	if offset == InvalidRawOffset {
		directoryError(logger, "comheader", "COM+ header VA does not map to a section")
		return false, false
	}

	var hdr comHeaderRaw
	if !readStruct(raw, offset, &hdr) {
		directoryError(logger, "comheader", "truncated COM+ header")
		return false, false
	}

	return true, hdr.Flags&(comImageFlagsILOnly|comImageFlagsRequires32Bit) != 0
}
