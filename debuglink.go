// Auxiliary Parsers, .gnu_debuglink half: if a section of that name
// exists, its contents name a companion file carrying the real debug
// info; on success, COFF/DWARF parsing is redirected to that file.

package pe

import (
	"bytes"
	"os"
	"path/filepath"
)

const gnuDebugLinkSectionName = ".gnu_debuglink"

// findDebugLinkName returns the companion filename recorded in a
// .gnu_debuglink section, if that section exists.
func findDebugLinkName(raw []byte, sections []Section) (string, bool) {
	for _, s := range sections {
		if s.Name != gnuDebugLinkSectionName && s.DisplayName != gnuDebugLinkSectionName {
			continue
		}
		start := int64(s.PointerToRawData)
		end := start + int64(s.SizeOfRawData)
		if start < 0 || end > int64(len(raw)) || start >= end {
			return "", false
		}
		chunk := raw[start:end]
		n := bytes.IndexByte(chunk, 0)
		if n < 0 {
			n = len(chunk)
		}
		name := string(chunk[:n])
		if name == "" {
			return "", false
		}
		return name, true
	}
	return "", false
}

// resolveDebugLinkPath resolves a companion debug-link filename
// relative to the directory containing imagePath. No GNU-standard
// search path (.debug/, /usr/lib/debug/, build-id fan-out) is
// implemented; the companion either sits next to the image or it
// doesn't.
func resolveDebugLinkPath(imagePath, companionName string) (string, bool) {
	if imagePath == "" {
		return "", false
	}
	candidate := filepath.Join(filepath.Dir(imagePath), companionName)
	if _, err := os.Stat(candidate); err != nil {
		return "", false
	}
	return candidate, true
}
