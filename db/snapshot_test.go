package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/mm-lang/mmlsp/diag"
)

func memLoader(files map[string]string) func(string) ([]byte, error) {
	return func(path string) ([]byte, error) {
		data, ok := files[path]
		if !ok {
			return nil, fmt.Errorf("no such file: %s", path)
		}
		return []byte(data), nil
	}
}

func TestSnapshotBuild(t *testing.T) {
	files := map[string]string{
		"main.mm": "$c wff -> $.\n$v p $.\nwp $f wff p $.\nax-1 $a wff p -> p $.\n",
	}
	snap, err := Build(context.Background(), "main.mm", memLoader(files), nil)
	if err != nil {
		t.Fatal(err)
	}
	ax := snap.Statement("ax-1")
	if ax == nil {
		t.Fatal("ax-1 not found")
	}
	if got := ax.Formula.String(snap.Syms); got != "wff p -> p" {
		t.Errorf("ax-1 formula = %q", got)
	}
	if l, c := ax.Pos.LineCol(); l != 3 || c != 0 {
		t.Errorf("ax-1 at line=%d col=%d, want 3, 0", l, c)
	}
}

func TestSnapshotBuildMissingRoot(t *testing.T) {
	_, err := Build(context.Background(), "missing.mm", memLoader(nil), nil)
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestSnapshotIncludeDiagnostics(t *testing.T) {
	files := map[string]string{
		"main.mm": "$c a $. $[ main.mm $] $c b $.",
	}
	snap, err := Build(context.Background(), "main.mm", memLoader(files), nil)
	if err != nil {
		t.Fatal(err)
	}
	// The cycle becomes a diagnostic; the rest of the file still builds.
	found := false
	for _, d := range snap.Diags {
		if d.Code == diag.CyclicInclude {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected CyclicInclude diagnostic, got %v", snap.Diags)
	}
	if len(snap.Stmts) != 2 {
		t.Errorf("got %d statements, want 2", len(snap.Stmts))
	}
}

func TestRebuildSharesUnchangedSegments(t *testing.T) {
	files := map[string]string{
		"main.mm": "$[ a.mm $] $[ b.mm $]",
		"a.mm":    "$c wff p $.\nax-a $a wff p $.\n",
		"b.mm":    "$c q $.\nax-b $a wff q $.\n",
	}
	prev, err := Build(context.Background(), "main.mm", memLoader(files), nil)
	if err != nil {
		t.Fatal(err)
	}
	files["b.mm"] = "$c q r $.\nax-b $a wff q $.\n"
	next, err := Rebuild(context.Background(), prev, "main.mm", memLoader(files))
	if err != nil {
		t.Fatal(err)
	}
	if next.Version != prev.Version+1 {
		t.Errorf("version = %d, want %d", next.Version, prev.Version+1)
	}
	// Unchanged leading segment is shared by reference, so the statement
	// object for ax-a is reused.
	if prev.Statement("ax-a") != next.Statement("ax-a") {
		t.Error("ax-a statement was rebuilt instead of shared")
	}
	if prev.Statement("ax-b") == next.Statement("ax-b") {
		t.Error("ax-b statement should have been rebuilt")
	}
}

func TestRebuildEarlyChangeInvalidatesSuffix(t *testing.T) {
	files := map[string]string{
		"main.mm": "$[ a.mm $] $[ b.mm $]",
		"a.mm":    "$c wff p $.\n",
		"b.mm":    "ax-b $a wff p $.\n",
	}
	prev, err := Build(context.Background(), "main.mm", memLoader(files), nil)
	if err != nil {
		t.Fatal(err)
	}
	files["a.mm"] = "$c wff p x $.\n"
	next, err := Rebuild(context.Background(), prev, "main.mm", memLoader(files))
	if err != nil {
		t.Fatal(err)
	}
	if prev.Statement("ax-b") == next.Statement("ax-b") {
		t.Error("a change in an earlier file must invalidate later segments")
	}
}

func TestSubstApply(t *testing.T) {
	syms := NewSymbolTable()
	intern := func(names ...string) []Atom {
		out := make([]Atom, len(names))
		for i, n := range names {
			out[i] = syms.Intern(n)
		}
		return out
	}
	expr := intern("(", "ph", "->", "ps", ")")
	ph, _ := syms.Lookup("ph")
	ps, _ := syms.Lookup("ps")
	s := Subst{
		ph: intern("ch"),
		ps: intern("(", "ph", "->", "ch", ")"),
	}
	got := s.Apply(expr)
	want := intern("(", "ch", "->", "(", "ph", "->", "ch", ")", ")")
	if !exprEqual(got, want) {
		t.Errorf("apply: got %v, want %v", got, want)
	}
}
