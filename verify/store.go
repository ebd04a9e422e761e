package verify

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mm-lang/mmlsp/db"
	"github.com/mm-lang/mmlsp/debug"
	"github.com/mm-lang/mmlsp/diag"
)

// Store caches verification results across snapshot versions. Results are
// keyed by a content hash covering the statement, its frame, its proof
// text and, transitively, everything the proof references, so an edit
// re-verifies exactly the theorems whose meaning could have changed.
type Store struct {
	mu      sync.Mutex
	version int64
	keys    map[string][sha256.Size]byte
	entries map[string]entry
}

type entry struct {
	key [sha256.Size]byte
	vp  *VerifiedProof
	err error
}

func NewStore() *Store {
	return &Store{
		keys:    map[string][sha256.Size]byte{},
		entries: map[string]entry{},
	}
}

// Verify checks st, reusing a previous result when its content key is
// unchanged. Safe for concurrent use.
func (s *Store) Verify(ctx context.Context, snap *db.Snapshot, st *db.Statement) (*VerifiedProof, error) {
	s.mu.Lock()
	if s.version != snap.Version {
		// Keys are relative to one snapshot; entries survive because
		// they are compared by content, not by version.
		s.keys = map[string][sha256.Size]byte{}
		s.version = snap.Version
	}
	key := s.key(snap, st, map[string]bool{})
	if e, ok := s.entries[st.Label]; ok && e.key == key {
		s.mu.Unlock()
		if debug.Verify() {
			debug.Logf("verify: %s cached\n", st.Label)
		}
		return e.vp, e.err
	}
	s.mu.Unlock()

	vp, err := Verify(ctx, snap, st)
	var ve *Error
	if err == nil || errors.As(err, &ve) {
		// Cancellation and deadline errors are transient and stay
		// out of the cache.
		s.mu.Lock()
		s.entries[st.Label] = entry{key: key, vp: vp, err: err}
		s.mu.Unlock()
	}
	return vp, err
}

// key computes the content hash of st for the current snapshot, memoized
// per snapshot version. Callers hold s.mu.
func (s *Store) key(snap *db.Snapshot, st *db.Statement, visiting map[string]bool) [sha256.Size]byte {
	if k, ok := s.keys[st.Label]; ok {
		return k
	}
	h := sha256.New()
	io.WriteString(h, st.Label)
	io.WriteString(h, "\x00")
	io.WriteString(h, st.Kind.String())
	io.WriteString(h, "\x00")
	io.WriteString(h, st.Formula.String(snap.Syms))
	io.WriteString(h, "\x00")
	if st.Frame != nil {
		for _, hyp := range st.Frame.Hyps() {
			io.WriteString(h, hyp.Label)
			io.WriteString(h, " ")
			io.WriteString(h, hyp.Formula.String(snap.Syms))
			io.WriteString(h, "\x00")
		}
		for _, pair := range st.Frame.Disjoint {
			io.WriteString(h, snap.Syms.Name(pair[0]))
			io.WriteString(h, " ")
			io.WriteString(h, snap.Syms.Name(pair[1]))
			io.WriteString(h, "\x00")
		}
	}
	if st.Proof != nil {
		io.WriteString(h, st.Proof.Text)
		io.WriteString(h, "\x00")
		visiting[st.Label] = true
		for _, label := range st.Proof.Labels {
			ref := snap.Statement(label)
			switch {
			case ref == nil || visiting[ref.Label]:
				io.WriteString(h, label)
				io.WriteString(h, "?\x00")
			case ref.IsAssertion():
				k := s.key(snap, ref, visiting)
				h.Write(k[:])
			default:
				io.WriteString(h, ref.Label)
				io.WriteString(h, " ")
				io.WriteString(h, ref.Formula.String(snap.Syms))
				io.WriteString(h, "\x00")
			}
		}
		delete(visiting, st.Label)
	}
	var k [sha256.Size]byte
	h.Sum(k[:0])
	s.keys[st.Label] = k
	return k
}

// VerifyAll verifies every theorem in the snapshot with at most jobs
// proofs in flight at once. Diagnostics come back in statement order
// regardless of scheduling.
func VerifyAll(ctx context.Context, snap *db.Snapshot, store *Store, jobs int) ([]diag.Diag, error) {
	if jobs < 1 {
		jobs = 1
	}
	var thms []*db.Statement
	for _, st := range snap.Stmts {
		if st.Kind == db.Theorem {
			thms = append(thms, st)
		}
	}
	if debug.Jobs() {
		debug.Logf("verify: %d theorems, %d jobs\n", len(thms), jobs)
	}

	errs := make([]error, len(thms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, st := range thms {
		g.Go(func() error {
			_, err := store.Verify(gctx, snap, st)
			errs[i] = err
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ds []diag.Diag
	for _, err := range errs {
		var ve *Error
		if errors.As(err, &ve) {
			ds = append(ds, ve.Diag())
		}
	}
	return ds, nil
}
