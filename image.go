// ParsedImage is the principal entity of this package: a single PE
// image, parsed once from an in-memory byte buffer in a fixed order -
// Header Loader, Address Mapper, Directory Locator, then Export,
// Import, Relocations, DelayImport, BoundImport, Entry, TLS, COM+,
// Strings, .gnu_debuglink - with a rewrite pass between Relocations and
// DelayImport so delay-import parsing sees post-relocation pointer
// values.

package pe

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Velocidex/ordereddict"

	"github.com/jonikDk/ProcessMemoryMap/apiset"
	"github.com/jonikDk/ProcessMemoryMap/debuginfo"
	"github.com/jonikDk/ProcessMemoryMap/symbols"
)

// ParsedImage owns every fact this package extracts from one PE file.
// It is immutable after a successful New, except that its image gate
// may be swapped to a companion debug file and its RelocatedAlternates
// list may grow as a ModuleRegistry learns of duplicates.
type ParsedImage struct {
	ImagePath    string
	ImageName    string
	OriginalName string

	Is64Bit     bool
	PreferredImageBase VA
	ImageBase          VA
	Rebased            bool
	Redirected         bool
	DebugLinkPath      string

	SizeOfImage uint32
	SizeOfFile  uint32

	FileHeader     *FileHeader
	OptionalHeader *OptionalHeader
	Sections       []Section

	directories [NumDataDirectories]directoryAnchor

	Exports      []ExportEntry
	exportNameIdx map[string]int
	exportOrdIdx  map[uint32]int

	Imports      []ImportEntry
	DelayImports []ImportEntry
	BoundImports []BoundImportModule

	EntryPoints []EntryPoint

	RelocationBlocks []RelocationBlock
	relocationOffsets []RawOffset
	RelocationDelta   int64

	Strings []StringData

	COMPlusPresent bool
	COMPlusILOnly  bool

	DebugFlavors map[debuginfo.Flavor]bool

	ModuleIndex int
	RelocatedAlternates []*ParsedImage

	raw    []byte
	mapper *AddressMapper
	gate   *imageGate

	logger Logger
}

// NewOptions configures one New call. Schema and Publisher both
// default to no-ops when left nil. ImageBase, when non-zero, is the
// runtime base the image was actually loaded at; when it differs from
// the header's preferred base, the constructor flags the image as
// rebased and relocation-patches it.
type NewOptions struct {
	ImagePath string
	ImageBase VA
	Schema    apiset.Schema
	Publisher symbols.Publisher
	Logger    Logger
	ModuleIndex int

	// SectionsOnly requests the partial "companion debug file" parse:
	// headers and sections only, skipping every directory-driven
	// component.
	SectionsOnly bool
}

// ModuleData carries facts about a loaded module that this package
// cannot derive from the file bytes: the OS loader's own record of
// whether the module ended up at its preferred base, and whether the
// path it was served from was the result of API-set redirection. Both
// come from a live-process reader, which is out of scope here; a
// caller that has one uses NewFromModuleData instead of New.
type ModuleData struct {
	ImagePath    string
	ImageBase    VA
	IsBaseValid  bool
	IsRedirected bool
}

// NewFromModuleData parses raw exactly as New does, then overrides
// Rebased and Redirected with the externally-supplied facts in data
// instead of deriving Rebased from a header-base comparison.
func NewFromModuleData(raw []byte, data ModuleData, opts NewOptions) (*ParsedImage, error) {
	opts.ImagePath = data.ImagePath
	opts.ImageBase = data.ImageBase

	img, err := New(raw, opts)
	if err != nil {
		return nil, err
	}
	img.Rebased = !data.IsBaseValid
	img.Redirected = data.IsRedirected
	return img, nil
}

// New parses raw into a ParsedImage.
func New(raw []byte, opts NewOptions) (*ParsedImage, error) {
	logger := opts.Logger
	if logger == nil {
		logger = defaultLogger
	}
	schema := opts.Schema
	if schema == nil {
		schema = apiset.Empty{}
	}
	pub := opts.Publisher
	if pub == nil {
		pub = symbols.Discard{}
	}

	fh, oh, sections, err := loadHeaders(raw, logger)
	if err != nil {
		return nil, err
	}

	preferredBase := VA(oh.ImageBase)
	imageBase := preferredBase
	rebased := false
	if opts.ImageBase != 0 && opts.ImageBase != preferredBase {
		imageBase = opts.ImageBase
		rebased = true
	}

	sizeOfImage := oh.SizeOfImage
	if sizeOfImage == 0 {
		for _, s := range sections {
			if end := uint32(s.VirtualAddress) + s.VirtualSize; end > sizeOfImage {
				sizeOfImage = end
			}
		}
	}

	mapper := newAddressMapper(imageBase, oh.SizeOfHeaders, sizeOfImage, oh.SectionAlignment, oh.FileAlignment, sections)

	img := &ParsedImage{
		ImagePath:          opts.ImagePath,
		ImageName:          filepath.Base(opts.ImagePath),
		Is64Bit:            oh.Is64Bit(),
		PreferredImageBase: preferredBase,
		ImageBase:          imageBase,
		Rebased:            rebased,
		SizeOfImage:        sizeOfImage,
		SizeOfFile:         uint32(len(raw)),
		FileHeader:         fh,
		OptionalHeader:     oh,
		Sections:           sections,
		DebugFlavors:       map[debuginfo.Flavor]bool{},
		ModuleIndex:        opts.ModuleIndex,
		raw:                raw,
		mapper:             mapper,
		logger:             logger,
	}
	img.gate = newImageGate(raw, img.Is64Bit, fh.NumberOfSymbols, fh.PointerToSymbolTable, sections, mapper)

	if opts.SectionsOnly {
		return img, nil
	}

	img.directories = loadDirectories(oh, mapper, pub, img.ModuleIndex)

	if exp := loadExports(raw, img.directories, mapper, sections, schema, pub, img.ModuleIndex, logger); exp != nil {
		img.OriginalName = exp.OriginalName
		img.Exports = exp.Entries
		img.exportNameIdx = exp.NameIndex
		img.exportOrdIdx = exp.OrdinalIndex
	}

	consumer := img.OriginalName
	if consumer == "" {
		consumer = img.ImageName
	}

	img.Imports = loadStandardImports(raw, img.directories[DirImport], mapper, img.Is64Bit, schema, consumer, pub, img.ModuleIndex, logger)

	reloc := loadRelocations(raw, img.directories[DirBaseReloc], mapper, pub, img.ModuleIndex, logger)
	if reloc != nil {
		img.RelocationBlocks = reloc.Blocks
		img.relocationOffsets = reloc.RawOffsets
	}

	delta := int64(imageBase) - int64(preferredBase)
	if !img.Is64Bit {
		delta = int64(int32(delta))
	}
	img.RelocationDelta = delta
	applyRelocations(raw, reloc, delta, img.Is64Bit)

	// Delay-import parsing runs after relocation patching so that the
	// pre-init IAT values it reads for 64-bit images are correct.
	img.DelayImports = loadDelayImports(raw, img.directories[DirDelayImport], mapper, preferredBase, img.Is64Bit, schema, consumer, pub, img.ModuleIndex, logger)

	img.BoundImports = loadBoundImports(raw, img.directories[DirBoundImport], mapper, pub, img.ModuleIndex, logger)

	img.EntryPoints = loadEntryPoints(mapper, oh, img.ModuleIndex, pub)
	img.EntryPoints = append(img.EntryPoints, loadTLSCallbacks(raw, img.directories[DirTLS], mapper, img.Is64Bit, pub, img.ModuleIndex, logger)...)

	img.COMPlusPresent, img.COMPlusILOnly = loadCOMHeader(raw, img.directories[DirCOMDescriptor], mapper, logger)

	img.Strings = scanStrings(raw, mapper, GetLoadStringLength())

	if linkName, ok := findDebugLinkName(raw, sections); ok {
		if companionPath, ok := resolveDebugLinkPath(opts.ImagePath, linkName); ok {
			if companionRaw, ok := readCompanionFile(companionPath); ok {
				companion, err := New(companionRaw, NewOptions{
					ImagePath:    companionPath,
					Logger:       logger,
					ModuleIndex:  img.ModuleIndex,
					SectionsOnly: true,
				})
				if err == nil {
					img.gate = companion.gate
					img.DebugLinkPath = companionPath
				}
			}
		}
	}

	return img, nil
}

func loadEntryPoints(mapper *AddressMapper, oh *OptionalHeader, moduleIndex int, pub symbols.Publisher) []EntryPoint {
	if oh.AddressOfEntryPoint == 0 {
		return nil
	}
	ep := EntryPoint{
		Name:      "EntryPoint",
		RawOffset: mapper.RVAToRaw(RVA(oh.AddressOfEntryPoint)),
		VA:        mapper.RVAToVA(RVA(oh.AddressOfEntryPoint)),
	}
	pub.Publish(symbols.Symbol{
		VA:          uint64(ep.VA),
		Kind:        symbols.KindEntryPoint,
		Name:        ep.Name,
		ModuleIndex: moduleIndex,
	})
	return []EntryPoint{ep}
}

func readCompanionFile(path string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// DebugGate returns the current Image Gate, which may be pointed at a
// companion .gnu_debuglink file rather than this image's own sections.
func (p *ParsedImage) DebugGate() debuginfo.ImageGate {
	return p.gate
}

// RunDebugParsers feeds this image's gate to each parser in turn,
// recording which flavors were found. Order does not matter; both
// COFF and DWARF parsers may fire on the same image.
func (p *ParsedImage) RunDebugParsers(parsers ...debuginfo.Parser) {
	for _, parser := range parsers {
		found, flavor, err := parser.Parse(p.gate)
		if err != nil {
			recoverableError(p.logger, "debuginfo", "%v", err)
			continue
		}
		if found {
			p.DebugFlavors[flavor] = true
		}
	}
}

func (p *ParsedImage) RVAToRaw(rva RVA) RawOffset { return p.mapper.RVAToRaw(rva) }
func (p *ParsedImage) RVAToVA(rva RVA) VA         { return p.mapper.RVAToVA(rva) }
func (p *ParsedImage) VAToRVA(va VA) RVA          { return p.mapper.VAToRVA(va) }
func (p *ParsedImage) VAToRaw(va VA) RawOffset    { return p.mapper.VAToRaw(va) }
func (p *ParsedImage) RawToVA(raw RawOffset) VA   { return p.mapper.RawToVA(raw) }

func (p *ParsedImage) Directory(index int) directoryAnchor {
	if index < 0 || index >= NumDataDirectories {
		return directoryAnchor{}
	}
	return p.directories[index]
}

// FixAddrSize clips size so that va+size stops at the boundary of the
// section containing va.
func (p *ParsedImage) FixAddrSize(va VA, size uint32) uint32 {
	return p.mapper.FixAddrSize(va, size)
}

// ReadBytesAt reads up to size bytes starting at va, clipped with
// FixAddrSize so a caller-supplied length can never read past the
// section va lives in.
func (p *ParsedImage) ReadBytesAt(va VA, size uint32) []byte {
	clipped := p.FixAddrSize(va, size)
	off := p.VAToRaw(va)
	if off == InvalidRawOffset || clipped == 0 {
		return nil
	}
	end := int(off) + int(clipped)
	if end > len(p.raw) {
		end = len(p.raw)
	}
	if int(off) >= end {
		return nil
	}
	return p.raw[off:end]
}

// DirectoryIndexFromRVA returns the index of the highest-indexed data
// directory whose VA range contains rva, or -1 if none does.
func (p *ParsedImage) DirectoryIndexFromRVA(rva RVA) int {
	return directoryIndexFromRVA(p.directories, p.mapper, rva)
}

// GetImageAtAddr returns this image, or the RelocatedAlternates entry
// whose [ImageBase, ImageBase+SizeOfImage) range actually contains va,
// letting a caller holding only the primary resolve an address that in
// fact belongs to a relocated duplicate.
func (p *ParsedImage) GetImageAtAddr(va VA) *ParsedImage {
	if p.containsVA(va) {
		return p
	}
	for _, alt := range p.RelocatedAlternates {
		if alt.containsVA(va) {
			return alt
		}
	}
	return p
}

func (p *ParsedImage) containsVA(va VA) bool {
	return va >= p.ImageBase && uint64(va) < uint64(p.ImageBase)+uint64(p.SizeOfImage)
}

// ExportByName looks up a named export within this image only (no
// cross-module forwarding; that is ModuleRegistry's job).
func (p *ParsedImage) ExportByName(name string) (*ExportEntry, bool) {
	idx, ok := p.exportNameIdx[name]
	if !ok {
		return nil, false
	}
	return &p.Exports[idx], true
}

// ExportByOrdinal looks up an export by absolute ordinal within this
// image only.
func (p *ParsedImage) ExportByOrdinal(ordinal uint32) (*ExportEntry, bool) {
	idx, ok := p.exportOrdIdx[ordinal]
	if !ok {
		return nil, false
	}
	return &p.Exports[idx], true
}

func (p *ParsedImage) SectionByName(name string) (*Section, bool) {
	for i := range p.Sections {
		if p.Sections[i].Name == name || p.Sections[i].DisplayName == name {
			return &p.Sections[i], true
		}
	}
	return nil, false
}

// Summary renders a stable-ordered structured view of the image, the
// way the rest of this package's dependents expect for logging and
// debugging.
func (p *ParsedImage) Summary() *ordereddict.Dict {
	sections := make([]*ordereddict.Dict, 0, len(p.Sections))
	for i := range p.Sections {
		s := &p.Sections[i]
		sections = append(sections, ordereddict.NewDict().
			Set("Name", s.DisplayName).
			Set("VA", fmt.Sprintf("0x%x", uint64(p.ImageBase)+uint64(s.VirtualAddress))).
			Set("Size", s.VirtualSize).
			Set("Permissions", s.Permissions()))
	}

	return ordereddict.NewDict().
		Set("ImagePath", p.ImagePath).
		Set("ImageName", p.ImageName).
		Set("OriginalName", p.OriginalName).
		Set("Is64Bit", p.Is64Bit).
		Set("ImageBase", fmt.Sprintf("0x%x", uint64(p.ImageBase))).
		Set("Rebased", p.Rebased).
		Set("Redirected", p.Redirected).
		Set("DebugLinkPath", p.DebugLinkPath).
		Set("SizeOfImage", p.SizeOfImage).
		Set("Sections", sections).
		Set("NumberOfExports", len(p.Exports)).
		Set("NumberOfImports", len(p.Imports)).
		Set("NumberOfDelayImports", len(p.DelayImports)).
		Set("NumberOfRelocationBlocks", len(p.RelocationBlocks)).
		Set("EntryPoints", p.EntryPoints).
		Set("COMPlusILOnly", p.COMPlusILOnly)
}

// moduleKey is the (lower-cased basename with extension stripped,
// bitness) key the ModuleRegistry indexes primary images by.
func (p *ParsedImage) moduleKey() string {
	return normalizeModuleKey(p.ImageName, p.Is64Bit)
}
