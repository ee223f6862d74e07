// Module Registry: a collection of parsed images indexed by image
// name x bitness (duplicates tracked as relocated alternates) and by
// image-base VA, answering cross-module export lookups including
// forwarded-name chains.

package pe

import (
	"strconv"
	"strings"
)

const maxForwardChainHops = 16

// ModuleRegistry is an ordered collection of ParsedImage, built up by
// repeated AddImage calls. Images are destroyed in bulk; there is no
// per-image removal.
type ModuleRegistry struct {
	images    []*ParsedImage
	byKey     map[string]int // moduleKey() -> index into images, primary only
	byBaseVA  map[VA]int
}

func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		byKey:    map[string]int{},
		byBaseVA: map[VA]int{},
	}
}

// AddImage parses moduleData and indexes the result. If another image
// with the same (lower(name), bitness) key is already primary, the
// new image is appended to that primary's RelocatedAlternates instead
// of becoming a second registry entry.
func (r *ModuleRegistry) AddImage(moduleData []byte, opts NewOptions) (*ParsedImage, error) {
	opts.ModuleIndex = len(r.images)
	img, err := New(moduleData, opts)
	if err != nil {
		return nil, err
	}

	r.images = append(r.images, img)
	r.byBaseVA[img.ImageBase] = img.ModuleIndex

	key := img.moduleKey()
	if primaryIdx, exists := r.byKey[key]; exists {
		primary := r.images[primaryIdx]
		primary.RelocatedAlternates = append(primary.RelocatedAlternates, img)
	} else {
		r.byKey[key] = img.ModuleIndex
	}

	return img, nil
}

// GetModule looks up the image owning va: first by exact image-base
// equality, then - if checkOwnership is set and that misses - by a
// linear scan testing containment in [image_base, image_base+size).
func (r *ModuleRegistry) GetModule(va VA, checkOwnership bool) (*ParsedImage, bool) {
	if idx, ok := r.byBaseVA[va]; ok {
		return r.images[idx], true
	}
	if !checkOwnership {
		return nil, false
	}
	for _, img := range r.images {
		if va >= img.ImageBase && uint64(va) < uint64(img.ImageBase)+uint64(img.SizeOfImage) {
			return img, true
		}
	}
	return nil, false
}

// primaryAndAlternates returns the primary image for key; its relocated
// alternates are reachable through its RelocatedAlternates list.
func (r *ModuleRegistry) primaryAndAlternates(key string) (*ParsedImage, bool) {
	idx, ok := r.byKey[key]
	if !ok {
		return nil, false
	}
	return r.images[idx], true
}

// selectCandidate picks, among primary and its alternates, the one
// whose span contains checkVA; falls back to primary if none does (or
// if checkVA is zero, meaning "don't care").
func selectCandidate(primary *ParsedImage, checkVA VA) *ParsedImage {
	if checkVA == 0 {
		return primary
	}
	return primary.GetImageAtAddr(checkVA)
}

// GetProcData resolves a (library, nameOrOrdinal) pair to the export
// entry it names, threading through forwarded-export chains (and the
// API-set redirection already baked into ForwardedTo) until the
// chain terminates or maxForwardChainHops is exceeded.
func (r *ModuleRegistry) GetProcData(library string, nameOrOrdinal string, is64Bit bool, checkVA VA) (*ExportEntry, *ParsedImage, bool) {
	return r.resolveProc(library, nameOrOrdinal, is64Bit, checkVA, 0)
}

func (r *ModuleRegistry) resolveProc(library, nameOrOrdinal string, is64Bit bool, checkVA VA, hops int) (*ExportEntry, *ParsedImage, bool) {
	if hops >= maxForwardChainHops {
		return nil, nil, false
	}

	key := normalizeModuleKey(library, is64Bit)
	primary, ok := r.primaryAndAlternates(key)
	if !ok {
		return nil, nil, false
	}
	img := selectCandidate(primary, checkVA)

	var entry *ExportEntry
	if ord, isOrdinal := parseOrdinalQuery(nameOrOrdinal); isOrdinal {
		entry, ok = img.ExportByOrdinal(ord)
	} else {
		entry, ok = img.ExportByName(nameOrOrdinal)
	}
	if !ok {
		return nil, nil, false
	}

	if !entry.Forwarded() {
		return entry, img, true
	}

	// Forward strings may contain multiple dots (e.g.
	// "KERNEL.APPCORE.IsDeveloperModeEnabled"); split on the last one.
	dot := strings.LastIndexByte(entry.ForwardedTo, '.')
	if dot < 0 {
		return entry, img, true
	}
	nextLib := entry.ForwardedTo[:dot]
	nextName := entry.ForwardedTo[dot+1:]

	resolved, resolvedImg, ok := r.resolveProc(nextLib, nextName, is64Bit, checkVA, hops+1)
	if !ok {
		return entry, img, true
	}
	return resolved, resolvedImg, true
}

// parseOrdinalQuery recognizes the "#123"/"123" decimal-ordinal query
// form get_proc_data accepts alongside plain names.
func parseOrdinalQuery(nameOrOrdinal string) (uint32, bool) {
	s := strings.TrimPrefix(nameOrOrdinal, "#")
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func baseNameOf(library string) string {
	if i := strings.LastIndexAny(library, `/\`); i >= 0 {
		return library[i+1:]
	}
	return library
}

// normalizeModuleKey is the (lower-cased basename with extension
// stripped, bitness) key both AddImage and GetProcData index and
// query by. Stripping the extension is what lets a forward string
// like "KERNEL32.Bar" resolve against a module registered from a path
// ending in "kernel32.dll".
func normalizeModuleKey(name string, is64Bit bool) string {
	base := baseNameOf(name)
	if dot := strings.LastIndexByte(base, '.'); dot >= 0 {
		base = base[:dot]
	}
	return strings.ToLower(base) + "|" + bitnessTag(is64Bit)
}

func (r *ModuleRegistry) Images() []*ParsedImage {
	return r.images
}
