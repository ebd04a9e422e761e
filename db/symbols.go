package db

import "sync"

// Atom is an interned symbol. Atoms are stable across snapshots built from
// the same table, which is append-only.
type Atom int32

type SymbolKind int

const (
	SymUnknown SymbolKind = iota
	SymConstant
	SymVariable
)

// SymbolTable interns symbol names. One table is shared across all
// snapshots of a database lineage so that atoms from an old snapshot remain
// valid against a newer one.
type SymbolTable struct {
	mu    sync.RWMutex
	atoms map[string]Atom
	names []string
	kinds []SymbolKind
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{atoms: map[string]Atom{}}
}

func (t *SymbolTable) Intern(name string) Atom {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.atoms[name]; ok {
		return a
	}
	a := Atom(len(t.names))
	t.atoms[name] = a
	t.names = append(t.names, name)
	t.kinds = append(t.kinds, SymUnknown)
	return a
}

// Lookup returns the atom for name without interning it.
func (t *SymbolTable) Lookup(name string) (Atom, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.atoms[name]
	return a, ok
}

func (t *SymbolTable) Name(a Atom) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(a) >= len(t.names) {
		return "?"
	}
	return t.names[a]
}

func (t *SymbolTable) Kind(a Atom) SymbolKind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(a) >= len(t.kinds) {
		return SymUnknown
	}
	return t.kinds[a]
}

// SetKind records the declared kind of a symbol. A symbol declared once as
// a constant can never be a variable, and vice versa; the builder
// diagnoses conflicts before calling this.
func (t *SymbolTable) SetKind(a Atom, k SymbolKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kinds[a] = k
}

func (t *SymbolTable) IsVar(a Atom) bool {
	return t.Kind(a) == SymVariable
}
