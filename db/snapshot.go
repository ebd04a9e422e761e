package db

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"

	"github.com/mm-lang/mmlsp/diag"
	"github.com/mm-lang/mmlsp/token"
)

// InternalInvariantError reports a broken database invariant discovered
// after a supposedly validated merge. The snapshot being built is discarded
// rather than published.
type InternalInvariantError struct {
	Msg string
}

func (e *InternalInvariantError) Error() string {
	return "internal invariant violation: " + e.Msg
}

// Segment holds the statements contributed by one contiguous run of a
// source file, keyed by the file's content hash so unchanged runs can be
// reused by reference across snapshots.
type Segment struct {
	Path  string
	Hash  [sha256.Size]byte
	Stmts []*Statement
}

// Snapshot is an immutable view of the statement database. Readers never
// observe a partially updated database: a snapshot is fully built, then
// published atomically by the query service.
type Snapshot struct {
	Version  int64
	Syms     *SymbolTable
	Segments []*Segment
	Stmts    []*Statement // global declaration order
	ByLabel  map[string]*Statement
	Diags    []diag.Diag
}

func (s *Snapshot) Statement(label string) *Statement {
	if s == nil {
		return nil
	}
	return s.ByLabel[label]
}

// ActiveAssertion resolves label to an axiom or theorem.
func (s *Snapshot) ActiveAssertion(label string) *Statement {
	st := s.Statement(label)
	if st == nil || !st.IsAssertion() {
		return nil
	}
	return st
}

// cachingLoader records every file body it serves for content hashing.
type cachingLoader struct {
	mu   sync.Mutex
	load token.Loader
	got  map[string][]byte
}

func newCachingLoader(load token.Loader) *cachingLoader {
	if load == nil {
		load = os.ReadFile
	}
	return &cachingLoader{load: load, got: map[string][]byte{}}
}

func (c *cachingLoader) Load(path string) ([]byte, error) {
	data, err := c.load(path)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.got[path] = data
	c.mu.Unlock()
	return data, nil
}

// Build parses root and its includes into a fresh snapshot. The returned
// error is non-nil only for an unreadable root or cancellation; everything
// else is a diagnostic on the snapshot.
func Build(ctx context.Context, root string, load token.Loader, syms *SymbolTable) (*Snapshot, error) {
	cl := newCachingLoader(load)
	sc, err := token.NewScanner(root, nil, cl.Load)
	if err != nil {
		return nil, err
	}
	b := NewBuilder(syms)
	stmts, diags, err := b.Run(ctx, sc)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Syms:     b.Symbols(),
		Segments: segmentize(stmts, cl.got),
		Diags:    diags,
	}
	if err := snap.merge(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Rebuild reparses root against a previous snapshot, reusing by reference
// every leading segment whose source bytes are unchanged. The first changed
// file invalidates itself and everything after it, since later frames may
// depend on earlier declarations.
func Rebuild(ctx context.Context, prev *Snapshot, root string, load token.Loader) (*Snapshot, error) {
	next, err := Build(ctx, root, load, prev.Syms)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(next.Segments) && i < len(prev.Segments); i++ {
		p, n := prev.Segments[i], next.Segments[i]
		if p.Path != n.Path || p.Hash != n.Hash || len(p.Stmts) != len(n.Stmts) {
			break
		}
		next.Segments[i] = p
	}
	next.Version = prev.Version + 1
	if err := next.merge(); err != nil {
		return nil, err
	}
	return next, nil
}

func segmentize(stmts []*Statement, contents map[string][]byte) []*Segment {
	var segs []*Segment
	var cur *Segment
	for _, st := range stmts {
		path := ""
		if st.Pos.File != nil {
			path = st.Pos.File.Name
		}
		if cur == nil || cur.Path != path {
			cur = &Segment{Path: path, Hash: sha256.Sum256(contents[path])}
			segs = append(segs, cur)
		}
		cur.Stmts = append(cur.Stmts, st)
	}
	return segs
}

// merge rebuilds the global statement order and label index from the
// segments. Label uniqueness over the merged result is the one global
// serialization point; a duplicate here means segment reuse went wrong and
// the snapshot must not be published.
func (s *Snapshot) merge() error {
	s.Stmts = s.Stmts[:0]
	s.ByLabel = make(map[string]*Statement)
	idx := 0
	for _, seg := range s.Segments {
		for _, st := range seg.Stmts {
			if st.Index != idx {
				st.Index = idx
			}
			idx++
			s.Stmts = append(s.Stmts, st)
			if st.Label == "" {
				continue
			}
			if _, dup := s.ByLabel[st.Label]; dup {
				return &InternalInvariantError{
					Msg: fmt.Sprintf("label %s duplicated across merged segments", st.Label),
				}
			}
			s.ByLabel[st.Label] = st
		}
	}
	return nil
}
