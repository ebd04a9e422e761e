package server

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mm-lang/mmlsp/db"
	"github.com/mm-lang/mmlsp/diag"
)

const propSource = `
$c wff |- ( ) -> $.
$v ph ps $.
wph $f wff ph $.
wps $f wff ps $.
wi $a wff ( ph -> ps ) $.
$( Axiom of simplification. $)
ax-1 $a |- ( ph -> ( ps -> ph ) ) $.
${
  mpmin $e |- ph $.
  mpmaj $e |- ( ph -> ps ) $.
  ax-mp $a |- ps $.
$}
${
  th2.1 $e |- ph $.
  th2 $p |- ( ps -> ph ) $= wph wps wph wi th2.1 wph wps ax-1 ax-mp $.
$}
`

type memFS struct {
	mu    sync.Mutex
	files map[string]string
}

func (m *memFS) load(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return []byte(data), nil
}

type notification struct {
	uri     string
	version int32
	diags   []diag.Diag
}

// testService builds a service over an in-memory filesystem and records
// every published diagnostics notification.
func testService(t *testing.T, files map[string]string) (*Service, *memFS, <-chan notification) {
	t.Helper()
	fs := &memFS{files: files}
	notes := make(chan notification, 16)
	svc, err := NewService(context.Background(), Options{
		MainFile: "main.mm",
		Jobs:     2,
		Load:     fs.load,
		Notify: func(uri string, version int32, ds []diag.Diag) {
			notes <- notification{uri, version, ds}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(svc.Close)
	return svc, fs, notes
}

func diagStrings(ds []diag.Diag) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

func awaitNote(t *testing.T, notes <-chan notification, uri string, version int32) notification {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-notes:
			if n.uri == uri && n.version == version {
				return n
			}
		case <-deadline:
			t.Fatalf("no notification for %s version %d", uri, version)
		}
	}
}

func TestServiceInitialBuild(t *testing.T) {
	svc, _, _ := testService(t, map[string]string{"main.mm": propSource})
	snap := svc.Snapshot()
	if snap.Statement("th2") == nil {
		t.Fatal("th2 not in initial snapshot")
	}
	if len(snap.Diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", snap.Diags)
	}
}

func TestDefinitionAndHover(t *testing.T) {
	svc, _, _ := testService(t, map[string]string{"main.mm": propSource})
	text := "use ax-1 here"
	off := strings.Index(text, "ax-1") + 1

	st := svc.DefinitionOf("file:///x.mmp", text, off)
	if st == nil || st.Label != "ax-1" {
		t.Fatalf("DefinitionOf = %v, want ax-1", st)
	}
	if st.Pos.File == nil || st.Pos.File.Name != "main.mm" {
		t.Fatalf("ax-1 location = %v", st.Pos)
	}
	snap := svc.Snapshot()
	if tc := snap.Syms.Name(st.Formula.Typecode); tc != "|-" {
		t.Errorf("ax-1 typecode = %q", tc)
	}
	if n := len(st.Frame.Essentials); n != 0 {
		t.Errorf("ax-1 essentials = %d, want 0", n)
	}

	md, start, end := svc.HoverInfo(text, off)
	if text[start:end] != "ax-1" {
		t.Errorf("hover range %q", text[start:end])
	}
	for _, want := range []string{"## ax-1", "|- ( ph -> ( ps -> ph ) )", "Axiom of simplification."} {
		if !strings.Contains(md, want) {
			t.Errorf("hover markdown missing %q:\n%s", want, md)
		}
	}
}

func TestHoverSymbolFallback(t *testing.T) {
	svc, _, _ := testService(t, map[string]string{"main.mm": propSource})
	// ph resolves to its floating hypothesis, -> to its $c declaration.
	st := svc.DefinitionOf("u", "wff ph", 4)
	if st == nil || st.Label != "wph" {
		t.Fatalf("definition of ph = %v, want wph", st)
	}
	st = svc.DefinitionOf("u", "->", 0)
	if st == nil || st.Kind != db.ConstantDecl {
		t.Fatalf("definition of -> = %v, want the $c declaration", st)
	}
}

func TestFreshDiagnosticsAfterEdit(t *testing.T) {
	svc, _, notes := testService(t, map[string]string{"main.mm": propSource})
	uri := "file:///main.mm"
	svc.Open(uri, "main.mm", propSource, 1)
	n := awaitNote(t, notes, uri, 1)
	if len(n.diags) != 0 {
		t.Fatalf("clean database published diagnostics: %v", n.diags)
	}

	// Break th2's proof and require a fresh answer.
	broken := strings.Replace(propSource, "wph wps ax-1 ax-mp", "wph wps ax-1 ax-1", 1)
	svc.Change(uri, broken, 2)
	ds, err := svc.Diagnostics(context.Background(), uri, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) == 0 {
		t.Fatal("fresh diagnostics missed the broken proof")
	}
	awaitNote(t, notes, uri, 2)

	// Stale reads serve the last published result without blocking.
	stale, err := svc.Diagnostics(context.Background(), uri, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(diagStrings(ds), diagStrings(stale)); diff != "" {
		t.Errorf("stale diagnostics diverge (-fresh +stale):\n%s", diff)
	}
}

func TestSupersededReparseNeverPublishes(t *testing.T) {
	svc, _, notes := testService(t, map[string]string{"main.mm": propSource})
	uri := "file:///main.mm"
	svc.Open(uri, "main.mm", propSource, 1)
	awaitNote(t, notes, uri, 1)

	// Two rapid edits: the first adds thA, the second replaces it with
	// thB. Only the second may ever become the published snapshot.
	editA := propSource + "\nthA $a |- ( ph -> ph ) $.\n"
	editB := propSource + "\nthB $a |- ( ps -> ps ) $.\n"
	svc.Change(uri, editA, 2)
	svc.Change(uri, editB, 3)

	if _, err := svc.Diagnostics(context.Background(), uri, true); err != nil {
		t.Fatal(err)
	}
	snap := svc.Snapshot()
	if snap.Statement("thB") == nil {
		t.Fatal("second edit not published")
	}
	if snap.Statement("thA") != nil {
		t.Fatal("superseded edit's snapshot was published")
	}

	awaitNote(t, notes, uri, 3)
}

func TestIncrementalRebuildSharesSegments(t *testing.T) {
	files := map[string]string{
		"main.mm": "$[ prop.mm $]\n$[ more.mm $]\n",
		"prop.mm": propSource,
		"more.mm": "ax-2 $a |- ( ph -> ph ) $.\n",
	}
	svc, _, notes := testService(t, files)
	before := svc.Snapshot()

	uri := "file:///more.mm"
	svc.Open(uri, "more.mm", files["more.mm"], 1)
	awaitNote(t, notes, uri, 1)
	svc.Change(uri, "ax-2 $a |- ( ps -> ps ) $.\n", 2)
	if _, err := svc.Diagnostics(context.Background(), uri, true); err != nil {
		t.Fatal(err)
	}
	after := svc.Snapshot()
	if after.Version == before.Version {
		t.Fatal("edit did not publish a new snapshot")
	}
	// prop.mm is untouched: its statements are shared by reference.
	if before.Statement("ax-1") != after.Statement("ax-1") {
		t.Error("unchanged segment was rebuilt, not shared")
	}
	if got := after.Statement("ax-2").Formula.String(after.Syms); got != "|- ( ps -> ps )" {
		t.Errorf("ax-2 = %q after edit", got)
	}
}

func TestWorksheetDocument(t *testing.T) {
	svc, _, notes := testService(t, map[string]string{"main.mm": propSource})
	uri := "file:///th2.mmp"
	ws := `$( <MM> <PROOF_ASST> THEOREM=th2  LOC_AFTER=?
h1::th2.1          |- ph
2::ax-1            |- ( ph -> ( ps -> ph ) )
qed:1,2:ax-mp      |- ( ps -> ph )
$)
`
	svc.Open(uri, "th2.mmp", ws, 1)
	n := awaitNote(t, notes, uri, 1)
	for _, d := range n.diags {
		if d.Severity == diag.Error {
			t.Fatalf("clean worksheet diagnostic: %s", d)
		}
	}
	if st := svc.State(uri); st != Ready {
		t.Errorf("state = %v, want ready", st)
	}
}

func TestShowProofRoundTrip(t *testing.T) {
	svc, _, notes := testService(t, map[string]string{"main.mm": propSource})
	text, err := svc.ShowProof(context.Background(), "th2")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "THEOREM=th2") {
		t.Fatalf("rendered worksheet missing header:\n%s", text)
	}
	if !strings.Contains(text, "|- ( ps -> ph )") {
		t.Fatalf("rendered worksheet missing conclusion:\n%s", text)
	}

	// The rendered worksheet must check cleanly against the database.
	uri := "file:///th2.mmp"
	svc.Open(uri, "th2.mmp", text, 1)
	n := awaitNote(t, notes, uri, 1)
	for _, d := range n.diags {
		if d.Severity == diag.Error {
			t.Fatalf("rendered worksheet diagnostic: %s", d)
		}
	}
}

func TestShowProofUnknownLabel(t *testing.T) {
	svc, _, _ := testService(t, map[string]string{"main.mm": propSource})
	if _, err := svc.ShowProof(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown theorem")
	}
}

func TestToggleDvHints(t *testing.T) {
	svc, _, _ := testService(t, map[string]string{"main.mm": propSource})
	if svc.DvHints() {
		t.Fatal("hints on by default")
	}
	if !svc.ToggleDvHints() {
		t.Fatal("toggle did not enable hints")
	}
	if svc.ToggleDvHints() {
		t.Fatal("toggle did not disable hints")
	}
}

func TestCloseDocCancelsWork(t *testing.T) {
	svc, _, _ := testService(t, map[string]string{"main.mm": propSource})
	uri := "file:///main.mm"
	svc.Open(uri, "main.mm", propSource, 1)
	svc.CloseDoc(uri)
	if _, err := svc.Diagnostics(context.Background(), uri, false); err == nil {
		t.Fatal("closed document still queryable")
	}
}
