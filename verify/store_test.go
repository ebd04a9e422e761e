package verify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mm-lang/mmlsp/db"
)

func TestStoreCacheHitAcrossRebuild(t *testing.T) {
	ctx := context.Background()
	files := map[string]string{"test.mm": demoSource}
	snap, err := db.Build(ctx, "test.mm", memLoader(files), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	store := NewStore()
	vp1, err := store.Verify(ctx, snap, snap.Statement("th1"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	// A comment edit changes the file hash, so the segment is rebuilt,
	// but no statement content changes.
	files["test.mm"] = demoSource + "\n$( trailing note $)\n"
	snap2, err := db.Rebuild(ctx, snap, "test.mm", memLoader(files))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	vp2, err := store.Verify(ctx, snap2, snap2.Statement("th1"))
	if err != nil {
		t.Fatalf("verify after rebuild: %v", err)
	}
	if vp1 != vp2 {
		t.Error("content-identical theorem was re-verified instead of served from cache")
	}
}

func TestStoreInvalidatedByDependencyChange(t *testing.T) {
	ctx := context.Background()
	files := map[string]string{"test.mm": demoSource}
	snap, err := db.Build(ctx, "test.mm", memLoader(files), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	store := NewStore()
	if _, err := store.Verify(ctx, snap, snap.Statement("th1")); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// th1's proof leans on a2; flipping its equation must force a
	// re-verification that now fails.
	files["test.mm"] = strings.Replace(demoSource,
		"a2 $a |- ( t + 0 ) = t $.",
		"a2 $a |- t = ( t + 0 ) $.", 1)
	snap2, err := db.Rebuild(ctx, snap, "test.mm", memLoader(files))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if _, err := store.Verify(ctx, snap2, snap2.Statement("th1")); err == nil {
		t.Fatal("stale result served after a dependency changed")
	}
}

func TestVerifyAllDeterministic(t *testing.T) {
	src := propSource + `
bad1 $p |- ph $= wph wps ax-1 $.
good $p |- ( ph -> ( ps -> ph ) ) $= wph wps ax-1 $.
bad2 $p |- ps $= wph ax-mp $.
`
	snap := buildSnapLoose(t, src)

	var runs [][]string
	for i := 0; i < 2; i++ {
		ds, err := VerifyAll(context.Background(), snap, NewStore(), 4)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		var msgs []string
		for _, d := range ds {
			msgs = append(msgs, d.Message)
		}
		runs = append(runs, msgs)
	}
	if len(runs[0]) != 2 {
		t.Fatalf("diagnostics = %v, want 2 entries", runs[0])
	}
	if diff := cmp.Diff(runs[0], runs[1]); diff != "" {
		t.Errorf("runs differ (-first +second):\n%s", diff)
	}
}

func TestVerifyAllCancellation(t *testing.T) {
	snap := buildSnapLoose(t, demoSource)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := VerifyAll(ctx, snap, NewStore(), 2); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

// buildSnapLoose builds without failing on build diagnostics, for sources
// whose proofs are intentionally broken.
func buildSnapLoose(t *testing.T, src string) *db.Snapshot {
	t.Helper()
	snap, err := db.Build(context.Background(), "test.mm", memLoader(map[string]string{"test.mm": src}), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return snap
}
