// Package apiset models the API-set redirection schema the Windows
// loader consults (apisetschema.dll in memory). This package only
// describes the query interface the core parser consumes; building a
// schema from a live system or a captured apisetschema.dll is a
// concern of the caller, not of this library.
package apiset

import "strings"

// Schema answers whether a virtual api-set provider name (e.g.
// "api-ms-win-core-synch-l1-2-0", extension already stripped) is
// redirected when imported by consumer, and if so what concrete host
// library it resolves to. Both import library names and export
// forward strings are run through it.
type Schema interface {
	Present(consumer, provider string) bool
	Resolve(consumer, provider string) string
}

// Empty never redirects. It is the default schema when none is
// supplied to a parse.
type Empty struct{}

func (Empty) Present(consumer, provider string) bool    { return false }
func (Empty) Resolve(consumer, provider string) string  { return "" }

// Static is an in-memory reference Schema that ignores the consumer
// and redirects by provider name alone - the common case, since
// per-consumer API-set restrictions are a rare compatibility shim on
// real Windows systems. Keyed case-insensitively.
type Static map[string]string

// NewStatic builds a Static schema from a case-sensitive map, folding
// keys to lower case.
func NewStatic(entries map[string]string) Static {
	s := make(Static, len(entries))
	for k, v := range entries {
		s[strings.ToLower(k)] = v
	}
	return s
}

func (s Static) Present(consumer, provider string) bool {
	_, ok := s[strings.ToLower(provider)]
	return ok
}

func (s Static) Resolve(consumer, provider string) string {
	return s[strings.ToLower(provider)]
}

// Redirect resolves libraryName (e.g. "api-ms-win-core-synch-l1-2-0.dll"
// or a bare forward-string module like "ntdll") through schema for the
// given consumer. The extension, if any, is stripped before the
// lookup and re-appended to the result; when schema is nil or has no
// entry, libraryName is returned unchanged.
func Redirect(schema Schema, consumer, libraryName string) string {
	if schema == nil || libraryName == "" {
		return libraryName
	}

	ext := ""
	name := libraryName
	if dot := strings.LastIndexByte(libraryName, '.'); dot >= 0 {
		ext = libraryName[dot:]
		name = libraryName[:dot]
	}

	if !schema.Present(consumer, name) {
		return libraryName
	}
	target := schema.Resolve(consumer, name)
	if target == "" {
		return libraryName
	}
	return target + ext
}
