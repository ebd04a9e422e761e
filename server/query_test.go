package server

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mm-lang/mmlsp/db"
)

func buildSnapshot(t *testing.T, src string) *db.Snapshot {
	t.Helper()
	load := func(string) ([]byte, error) { return []byte(src), nil }
	snap, err := db.Build(context.Background(), "main.mm", load, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return snap
}

func labels(sts []*db.Statement) []string {
	var out []string
	for _, st := range sts {
		out = append(out, st.Label)
	}
	return out
}

func TestReferencesTo(t *testing.T) {
	snap := buildSnapshot(t, propSource)
	tests := []struct {
		label string
		want  []string
	}{
		{"ax-1", []string{"th2"}},
		{"ax-mp", []string{"th2"}},
		{"th2.1", []string{"th2"}},
		{"th2", nil},     // nothing after it cites it
		{"no-such", nil}, // unknown labels have no references
		{"mpmin", nil},   // frame hypothesis of ax-mp, never cited
	}
	for _, tt := range tests {
		got := labels(ReferencesTo(snap, tt.label))
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("ReferencesTo(%s) (-want +got):\n%s", tt.label, diff)
		}
	}
}

func TestOutline(t *testing.T) {
	snap := buildSnapshot(t, propSource)
	want := []string{"wph", "wps", "wi", "ax-1", "mpmin", "mpmaj", "ax-mp", "th2.1", "th2"}
	got := labels(Outline(snap, "main.mm"))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("outline (-want +got):\n%s", diff)
	}
	if out := Outline(snap, "other.mm"); out != nil {
		t.Errorf("outline of unknown file = %v", labels(out))
	}
}

func TestWordAt(t *testing.T) {
	line := "qed:1,2:ax-mp      |- ( ps -> ph )"
	tests := []struct {
		name string
		off  int
		want string
	}{
		{"start of label", 8, "ax-mp"},
		{"inside label", 10, "ax-mp"},
		{"end of label", 13, "ax-mp"},
		{"step name", 0, "qed"},
		{"colon is a separator", 3, "qed"},
		{"hyp refs stop at colons", 4, "1,2"},
		{"math symbol", 19, "|-"},
		{"whitespace after word", 21, "|-"},
		{"run of whitespace", 16, ""},
		{"past the end", len(line) + 10, ""},
		{"negative offset", -1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, start, end := WordAt(line, tt.off)
			if got != tt.want {
				t.Fatalf("WordAt(%d) = %q, want %q", tt.off, got, tt.want)
			}
			if got != "" && line[start:end] != got {
				t.Errorf("range [%d,%d) = %q, want %q", start, end, line[start:end], got)
			}
		})
	}
}
