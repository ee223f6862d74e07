// Package symbols is the append-only sink the core parser publishes into.
// The core parser treats a Publisher as write-only - it never reads a
// symbol back to make a parsing decision, so this package can be
// swapped for any external registry without the parser noticing.
package symbols

import "sync"

// Kind tags the role a published VA plays, mirroring the slot it was
// read from rather than the value found there.
type Kind string

const (
	KindInstanceBase             Kind = "InstanceBase"
	KindExportDirectory          Kind = "ExportDirectory"
	KindTLSDirectory             Kind = "TlsDirectory"
	KindLoadConfigDirectory      Kind = "LoadConfigDirectory"
	KindEATAddr                  Kind = "EATAddr"
	KindEATOrdinal               Kind = "EATOrdinal"
	KindEATName                  Kind = "EATName"
	KindExport                   Kind = "Export"
	KindImportDescriptor         Kind = "ImportDescriptor"
	KindImportTable              Kind = "ImportTable"
	KindImportNameTable          Kind = "ImportNameTable"
	KindDelayedImportTable       Kind = "DelayedImportTable"
	KindDelayedImportNameTable   Kind = "DelayedImportNameTable"
	KindBoundImportDescriptor    Kind = "BoundImportDescriptor"
	KindBoundImportForwardRef    Kind = "BoundImportForwardRef"
	KindTlsCallback              Kind = "TlsCallback"
	KindEntryPoint               Kind = "EntryPoint"
	KindRelocationBlock          Kind = "RelocationBlock"
	KindStringData               Kind = "StringData"
)

// Symbol is one published fact: a VA, the role it plays, which module
// it came from, and its position within that role's list (e.g. the
// Nth export, the Nth relocation block).
type Symbol struct {
	VA           uint64
	Kind         Kind
	Name         string
	ModuleIndex  int
	ListPosition int
}

// Publisher is the write-only channel the parser pushes symbols
// through. The parser uses Discard when no Publisher is supplied.
type Publisher interface {
	Publish(sym Symbol)
}

// Discard is a Publisher that throws everything away, for parses that
// don't care about symbol output.
type Discard struct{}

func (Discard) Publish(Symbol) {}

// Registry is a simple thread-safe in-memory reference Publisher. It
// is append-only from the parser's point of view; All is for whatever
// external consumer the caller wires it to.
type Registry struct {
	mu   sync.Mutex
	list []Symbol
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Publish(sym Symbol) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, sym)
}

func (r *Registry) All() []Symbol {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Symbol, len(r.list))
	copy(out, r.list)
	return out
}

func (r *Registry) ByKind(kind Kind) []Symbol {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Symbol
	for _, s := range r.list {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}
