package server

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mm-lang/mmlsp/db"
)

// WordAt extracts the token around a byte offset. Tokens are runs of
// non-whitespace characters excluding ':', which separates the fields of
// a worksheet step line.
func WordAt(text string, off int) (string, int, int) {
	if off < 0 || off > len(text) {
		return "", 0, 0
	}
	if off == len(text) || !isWordChar(text[off]) {
		if off == 0 || !isWordChar(text[off-1]) {
			return "", off, off
		}
		off--
	}
	start, end := off, off+1
	for start > 0 && isWordChar(text[start-1]) {
		start--
	}
	for end < len(text) && isWordChar(text[end]) {
		end++
	}
	return text[start:end], start, end
}

func isWordChar(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', ':':
		return false
	}
	return true
}

// FindStatement resolves a word to its defining statement: first as a
// label, then as a math symbol, falling back to the floating hypothesis
// or declaration that introduced it.
func FindStatement(snap *db.Snapshot, word string) *db.Statement {
	if st := snap.Statement(word); st != nil {
		return st
	}
	a, ok := snap.Syms.Lookup(word)
	if !ok {
		return nil
	}
	var decl *db.Statement
	for _, st := range snap.Stmts {
		switch st.Kind {
		case db.FloatingHyp:
			if st.Var() == a {
				return st
			}
		case db.ConstantDecl, db.VariableDecl:
			if decl != nil {
				continue
			}
			for _, sym := range st.Syms {
				if sym == a {
					decl = st
					break
				}
			}
		}
	}
	return decl
}

// ReferencesTo lists the statements whose proofs cite label, in
// declaration order. Only statements after the cited one are scanned;
// nothing earlier can reference it.
func ReferencesTo(snap *db.Snapshot, label string) []*db.Statement {
	target := snap.Statement(label)
	if target == nil {
		return nil
	}
	var uses []*db.Statement
	for _, st := range snap.Stmts {
		if st.Index <= target.Index || st.Proof == nil {
			continue
		}
		if slices.Contains(st.Proof.Labels, label) {
			uses = append(uses, st)
		}
	}
	return uses
}

// Outline lists the labeled statements declared in the named file, in
// declaration order.
func Outline(snap *db.Snapshot, path string) []*db.Statement {
	var out []*db.Statement
	for _, st := range snap.Stmts {
		if st.Label == "" || st.Pos.File == nil || st.Pos.File.Name != path {
			continue
		}
		out = append(out, st)
	}
	return out
}

// DefinitionOf resolves the word at a position in any tracked document
// to the statement that defines it.
func (s *Service) DefinitionOf(uri string, text string, off int) *db.Statement {
	word, _, _ := WordAt(text, off)
	if word == "" {
		return nil
	}
	return FindStatement(s.Snapshot(), word)
}

// HoverInfo renders the statement under the cursor as markdown: the
// label as a heading, a fenced block with its essential hypotheses and
// assertion, then the statement's comment.
func (s *Service) HoverInfo(text string, off int) (string, int, int) {
	word, start, end := WordAt(text, off)
	if word == "" {
		return "", 0, 0
	}
	snap := s.Snapshot()
	st := FindStatement(snap, word)
	if st == nil {
		return "", 0, 0
	}
	return hoverMarkdown(snap, st, word), start, end
}

func hoverMarkdown(snap *db.Snapshot, st *db.Statement, word string) string {
	heading := st.Label
	if heading == "" {
		// $c and $v declarations carry no label; head with the symbol.
		heading = word
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", heading)
	if st.IsAssertion() {
		b.WriteString("```metamath\n")
		for _, e := range st.Frame.Essentials {
			fmt.Fprintf(&b, "%s %s\n", e.Label, e.Formula.String(snap.Syms))
		}
		fmt.Fprintf(&b, "%s   %s\n", st.Label, st.Formula.String(snap.Syms))
		b.WriteString("```\n")
	}
	if st.Comment != "" {
		b.WriteString("---\n")
		b.WriteString(strings.TrimSpace(st.Comment))
		b.WriteString("\n")
	}
	return b.String()
}
