package verify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mm-lang/mmlsp/db"
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

func buildSnap(t *testing.T, src string) *db.Snapshot {
	t.Helper()
	snap, err := db.Build(context.Background(), "test.mm", memLoader(map[string]string{"test.mm": src}), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, d := range snap.Diags {
		if d.Severity == diag.Error {
			t.Fatalf("build diagnostic: %s", d)
		}
	}
	return snap
}

const demoSource = `
$c 0 + = -> ( ) term wff |- $.
$v t r s P Q $.
tt $f term t $.
tr $f term r $.
ts $f term s $.
wp $f wff P $.
wq $f wff Q $.
tze $a term 0 $.
tpl $a term ( t + r ) $.
weq $a wff t = r $.
wim $a wff ( P -> Q ) $.
a1 $a |- ( t = r -> ( t = s -> r = s ) ) $.
a2 $a |- ( t + 0 ) = t $.
${
  min $e |- P $.
  maj $e |- ( P -> Q ) $.
  mp $a |- Q $.
$}
th1 $p |- t = t $=
  tt tze tpl tt weq tt tt weq tt a2 tt tze tpl
  tt weq tt tze tpl tt weq tt tt weq wim tt a2
  tt tze tpl tt tt a1 mp mp $.
`

func TestVerifyTheorem(t *testing.T) {
	snap := buildSnap(t, demoSource)
	st := snap.Statement("th1")
	if st == nil {
		t.Fatal("th1 not found")
	}
	vp, err := Verify(context.Background(), snap, st)
	if err != nil {
		t.Fatalf("verify th1: %v", err)
	}
	got := vp.Nodes[vp.Root].Formula.String(snap.Syms)
	if got != "|- t = t" {
		t.Errorf("conclusion = %q, want %q", got, "|- t = t")
	}
	// The final node applies mp, whose last child is the major premise.
	root := vp.Nodes[vp.Root]
	if root.Stmt.Label != "mp" {
		t.Errorf("root applies %s, want mp", root.Stmt.Label)
	}
	if len(root.Hyps) != 4 {
		t.Errorf("root has %d children, want 4", len(root.Hyps))
	}
}

const propSource = `
$c wff |- ( ) -> $.
$v ph ps $.
wph $f wff ph $.
wps $f wff ps $.
wi $a wff ( ph -> ps ) $.
ax-1 $a |- ( ph -> ( ps -> ph ) ) $.
${
  mpmin $e |- ph $.
  mpmaj $e |- ( ph -> ps ) $.
  ax-mp $a |- ps $.
$}
`

func verifyLabel(t *testing.T, src, label string) (*VerifiedProof, error) {
	t.Helper()
	snap := buildSnap(t, src)
	st := snap.Statement(label)
	if st == nil {
		t.Fatalf("%s not found", label)
	}
	return Verify(context.Background(), snap, st)
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	var ve *Error
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want *verify.Error with code %s", err, code)
	}
	if ve.Code != code {
		t.Fatalf("error code = %s (%s), want %s", ve.Code, ve.Msg, code)
	}
}

func TestVerifyCompressed(t *testing.T) {
	src := propSource + `
thax $p |- ( ph -> ( ps -> ph ) ) $= ( ax-1 ) ABC $.
`
	vp, err := verifyLabel(t, src, "thax")
	if err != nil {
		t.Fatalf("verify thax: %v", err)
	}
	if len(vp.Nodes) != 3 {
		t.Errorf("node count = %d, want 3", len(vp.Nodes))
	}
}

func TestVerifyCompressedSaveRecall(t *testing.T) {
	// AZCB pushes ph, saves it, recalls it, then applies ax-1 with
	// both slots bound to ph.
	src := propSource + `
thdbl $p |- ( ph -> ( ph -> ph ) ) $= ( ax-1 ) AZCB $.
`
	vp, err := verifyLabel(t, src, "thdbl")
	if err != nil {
		t.Fatalf("verify thdbl: %v", err)
	}
	root := vp.Nodes[vp.Root]
	if root.Hyps[0] != root.Hyps[1] {
		t.Errorf("recalled step should share a node: children %v", root.Hyps)
	}
}

func TestVerifyConclusionMismatch(t *testing.T) {
	src := propSource + `
thbad $p |- ( ps -> ( ph -> ps ) ) $= wph wps ax-1 $.
`
	_, err := verifyLabel(t, src, "thbad")
	wantCode(t, err, diag.ConclusionMismatch)
}

func TestVerifyTypecodeMismatch(t *testing.T) {
	src := propSource + `
badsub $p wff ( ph -> ps ) $= wph wps ax-1 wps wi $.
`
	_, err := verifyLabel(t, src, "badsub")
	wantCode(t, err, diag.SubstitutionMismatch)
}

func TestVerifyEssentialMismatch(t *testing.T) {
	// Both premises of ax-mp get the ax-1 instance, so mpmin cannot
	// match |- ph.
	src := propSource + `
bademp $p |- ps $= wph wps wph wps ax-1 wph wps ax-1 ax-mp $.
`
	_, err := verifyLabel(t, src, "bademp")
	wantCode(t, err, diag.SubstitutionMismatch)
}

func TestVerifyStackUnderflow(t *testing.T) {
	src := propSource + `
thun $p |- ps $= wph ax-mp $.
`
	_, err := verifyLabel(t, src, "thun")
	wantCode(t, err, diag.ProofSyntax)
}

func TestVerifyIncompleteProof(t *testing.T) {
	src := propSource + `
thinc $p |- ( ph -> ( ps -> ph ) ) $= ? $.
`
	_, err := verifyLabel(t, src, "thinc")
	wantCode(t, err, diag.IncompleteProof)
}

const disjointSource = `
$c |- set ne $.
$v x y z w $.
vx $f set x $.
vy $f set y $.
vz $f set z $.
vw $f set w $.
${
  $d x y $.
  axd $a |- x ne y $.
$}
`

func TestVerifyDisjointSharedVariable(t *testing.T) {
	src := disjointSource + `
thd $p |- z ne z $= vz vz axd $.
`
	_, err := verifyLabel(t, src, "thd")
	wantCode(t, err, diag.DisjointViolation)
}

func TestVerifyDisjointNotCarried(t *testing.T) {
	// z and w are distinct symbols but the theorem declares no $d for
	// them, so the axiom's constraint cannot be discharged.
	src := disjointSource + `
thd2 $p |- z ne w $= vz vw axd $.
`
	_, err := verifyLabel(t, src, "thd2")
	wantCode(t, err, diag.DisjointViolation)
}

func TestVerifyDisjointCarried(t *testing.T) {
	src := disjointSource + `
${
  $d z w $.
  thd3 $p |- z ne w $= vz vw axd $.
$}
`
	if _, err := verifyLabel(t, src, "thd3"); err != nil {
		t.Fatalf("verify thd3: %v", err)
	}
}

func TestVerifyCancellation(t *testing.T) {
	snap := buildSnap(t, demoSource)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Verify(ctx, snap, snap.Statement("th1"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestDecodeCompressedErrors(t *testing.T) {
	cases := []struct {
		name  string
		proof string
	}{
		{"out of range", "( ax-1 ) D"},
		{"dangling digit", "( ax-1 ) AU"},
		{"z without step", "( ax-1 ) Z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := propSource + "\nthz $p |- ( ph -> ( ps -> ph ) ) $= " + tc.proof + " $.\n"
			_, err := verifyLabel(t, src, "thz")
			wantCode(t, err, diag.ProofSyntax)
		})
	}
}
