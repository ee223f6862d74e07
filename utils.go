package pe

import (
	"bytes"
	"encoding/binary"
)

// RoundUpToWordAlignment rounds offset up to the next multiple of 4, as
// the resource and string tables in a PE image require.
func RoundUpToWordAlignment(offset int64) int64 {
	if offset%4 > 0 {
		offset += 4 - offset%4
	}
	return offset
}

func alignDown(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	return v - v%align
}

func alignUp(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	if r := v % align; r != 0 {
		return v + (align - r)
	}
	return v
}

func CapUint64(v uint64, max uint64) uint64 {
	if v > max {
		return max
	}
	return v
}

func CapUint32(v uint32, max uint32) uint32 {
	if v > max {
		return max
	}
	return v
}

func CapUint16(v uint16, max uint16) uint16 {
	if v > max {
		return max
	}
	return v
}

func CapInt64(v int64, max int64) int64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func CapInt32(v int32, max int32) int32 {
	if v < 0 {
		return 0
	}

	if v > max {
		return max
	}
	return v
}

// readStruct decodes a little-endian fixed struct out of raw at offset.
// It reports false rather than an error when the read would run past the
// end of the buffer; callers treat that as "points outside any mapped
// section", per the fatal-to-directory error taxonomy.
func readStruct(raw []byte, offset RawOffset, v interface{}) bool {
	if offset < 0 || int64(offset) >= int64(len(raw)) {
		return false
	}
	size := int64(binary.Size(v))
	if size <= 0 || int64(offset)+size > int64(len(raw)) {
		return false
	}
	r := bytes.NewReader(raw[offset:])
	return binary.Read(r, binary.LittleEndian, v) == nil
}

func readUint16(raw []byte, offset RawOffset) (uint16, bool) {
	if offset < 0 || int64(offset)+2 > int64(len(raw)) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(raw[offset : offset+2]), true
}

func readUint32(raw []byte, offset RawOffset) (uint32, bool) {
	if offset < 0 || int64(offset)+4 > int64(len(raw)) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(raw[offset : offset+4]), true
}

func readUint64(raw []byte, offset RawOffset) (uint64, bool) {
	if offset < 0 || int64(offset)+8 > int64(len(raw)) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(raw[offset : offset+8]), true
}

func writeUint32(raw []byte, offset RawOffset, v uint32) bool {
	if offset < 0 || int64(offset)+4 > int64(len(raw)) {
		return false
	}
	binary.LittleEndian.PutUint32(raw[offset:offset+4], v)
	return true
}

func writeUint64(raw []byte, offset RawOffset, v uint64) bool {
	if offset < 0 || int64(offset)+8 > int64(len(raw)) {
		return false
	}
	binary.LittleEndian.PutUint64(raw[offset:offset+8], v)
	return true
}

// parseTerminatedString reads a NUL-terminated ASCII string at a RAW
// offset, the way library and function names are stored in the import
// and export directories.
func parseTerminatedString(raw []byte, offset RawOffset) string {
	if offset < 0 || int64(offset) >= int64(len(raw)) {
		return ""
	}
	end := int64(offset)
	for end < int64(len(raw)) && raw[end] != 0 {
		end++
	}
	return string(raw[offset:end])
}

func parseArrayUint16(raw []byte, offset RawOffset, count int) []uint16 {
	result := make([]uint16, 0, count)
	for i := 0; i < count; i++ {
		v, ok := readUint16(raw, offset+RawOffset(i*2))
		if !ok {
			break
		}
		result = append(result, v)
	}
	return result
}

func parseArrayUint32(raw []byte, offset RawOffset, count int) []uint32 {
	result := make([]uint32, 0, count)
	for i := 0; i < count; i++ {
		v, ok := readUint32(raw, offset+RawOffset(i*4))
		if !ok {
			break
		}
		result = append(result, v)
	}
	return result
}
