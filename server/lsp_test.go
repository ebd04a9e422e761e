package server

import (
	"strings"
	"testing"

	"github.com/mm-lang/mmlsp/token"
)

// tokenPosition and positionAt resolve offsets through different
// machinery (newline index vs. a text scan); they must agree on every
// offset, and both count lines from zero.
func TestTokenPositionMatchesPositionAt(t *testing.T) {
	src := "$c wff $.\n$v ph $.\nwph $f wff ph $.\n"
	f := token.NewFile("test.mm", []byte(src))

	for off := 0; off <= len(src); off++ {
		got := tokenPosition(f, off)
		want := positionAt(src, off)
		if got != want {
			t.Fatalf("offset %d: tokenPosition = %v, positionAt = %v", off, got, want)
		}
	}

	// The first token of the second line sits on line 1.
	off := strings.Index(src, "$v")
	if p := tokenPosition(f, off); p.Line != 1 || p.Character != 0 {
		t.Fatalf("offset %d = %v, want line 1 char 0", off, p)
	}
}
