// Relocation Engine: parses base-relocation blocks into a flat list of
// RAW offsets needing patching, computes the delta between the
// runtime and preferred image base, and rewrites the in-memory image
// so VA-containing tables parsed afterward (notably delay-import) read
// correctly.

package pe

import "github.com/jonikDk/ProcessMemoryMap/symbols"

const (
	relocAbsolute = 0
	relocHighLow  = 3
	relocDir64    = 10
)

const maxRelocationBlocks = 1 << 20

// relocationBlockHeaderRaw is IMAGE_BASE_RELOCATION, 8 bytes.
type relocationBlockHeaderRaw struct {
	PageRVA          uint32
	SizeIncludingHdr uint32
}

const binarySizeOfRelocationHeader = 8

// relocations is the Relocation Engine's parse-phase output: a flat
// list of RAW offsets (InvalidRawOffset marks an ABSOLUTE hole) plus
// the block index over it.
type relocations struct {
	Blocks     []RelocationBlock
	RawOffsets []RawOffset
}

func loadRelocations(raw []byte, anchor directoryAnchor, mapper *AddressMapper, pub symbols.Publisher, moduleIndex int, logger Logger) *relocations {
	if !anchor.Present() {
		return nil
	}

	dirRVA := mapper.VAToRVA(anchor.VA)
	offset := mapper.RVAToRaw(dirRVA)
	if offset == InvalidRawOffset {
		directoryError(logger, "relocation", "base relocation directory VA does not map to a section")
		return nil
	}

	end := offset + RawOffset(anchor.Size)
	result := &relocations{}

	for blockIndex := 0; offset < end && blockIndex < maxRelocationBlocks; blockIndex++ {
		var hdr relocationBlockHeaderRaw
		if !readStruct(raw, offset, &hdr) {
			directoryError(logger, "relocation", "truncated relocation block header at index %d", blockIndex)
			break
		}
		if hdr.SizeIncludingHdr < binarySizeOfRelocationHeader {
			directoryError(logger, "relocation", "malformed block size %d at index %d", hdr.SizeIncludingHdr, blockIndex)
			break
		}

		pageVA := mapper.RVAToVA(RVA(hdr.PageRVA))
		firstIndex := len(result.RawOffsets)
		count := 0

		entryCount := (int(hdr.SizeIncludingHdr) - binarySizeOfRelocationHeader) / 2
		entryOffset := offset + binarySizeOfRelocationHeader

		for e := 0; e < entryCount; e++ {
			raw16, ok := readUint16(raw, entryOffset+RawOffset(e*2))
			if !ok {
				break
			}

			typ := raw16 >> 12
			pageOffset := raw16 & 0x0fff

			switch typ {
			case relocAbsolute:
				// Padding hole: it may appear mid-block, not just at
				// the end. Record a placeholder and keep scanning the
				// rest of the block.
				result.RawOffsets = append(result.RawOffsets, InvalidRawOffset)
			case relocHighLow, relocDir64:
				target := mapper.RVAToRaw(RVA(hdr.PageRVA) + RVA(pageOffset))
				result.RawOffsets = append(result.RawOffsets, target)
			default:
				directoryError(logger, "relocation", "unknown relocation type %d in block at page 0x%x", typ, hdr.PageRVA)
				goto doneBlocks
			}
			count++
		}

		result.Blocks = append(result.Blocks, RelocationBlock{
			PageVA:              pageVA,
			FirstRawOffsetIndex: firstIndex,
			Count:               count,
		})
		pub.Publish(symbols.Symbol{
			VA:           uint64(pageVA),
			Kind:         symbols.KindRelocationBlock,
			ModuleIndex:  moduleIndex,
			ListPosition: blockIndex,
		})

		offset += RawOffset(hdr.SizeIncludingHdr)
	}
doneBlocks:

	return result
}

// applyRelocations is the Relocation Engine's apply phase: it mutates
// raw in place, adding delta (with wrap-around arithmetic) to every
// pointer-sized value at a recorded RAW offset, skipping ABSOLUTE
// holes. delta is truncated to 32 bits for PE32 images by the caller.
func applyRelocations(raw []byte, r *relocations, delta int64, is64 bool) {
	if r == nil || delta == 0 {
		return
	}

	for _, off := range r.RawOffsets {
		if off == InvalidRawOffset {
			continue
		}

		if is64 {
			v, ok := readUint64(raw, off)
			if !ok {
				continue
			}
			writeUint64(raw, off, uint64(int64(v)+delta))
		} else {
			v, ok := readUint32(raw, off)
			if !ok {
				continue
			}
			writeUint32(raw, off, uint32(int64(int32(v))+delta))
		}
	}
}
