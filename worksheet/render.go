package worksheet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mm-lang/mmlsp/db"
	"github.com/mm-lang/mmlsp/verify"
)

// Render reconstructs worksheet text from a verified proof. Syntax
// steps, the derivations whose typecode differs from the theorem's
// conclusion typecode, are folded away: only logical steps and the
// essential hypotheses appear, the way a user would have written them.
func Render(snap *db.Snapshot, vp *verify.VerifiedProof, locAfter string) string {
	var b strings.Builder
	b.WriteString(Header(vp.Stmt.Label, locAfter))
	b.WriteString("\n")

	tc := vp.Stmt.Formula.Typecode
	names := map[int]string{}       // node index -> step name
	hypNames := map[string]string{} // hypothesis label -> step name
	num := 0

	var lines []string
	for i, n := range vp.Nodes {
		if n.Formula.Typecode != tc {
			continue
		}
		if n.Stmt.IsHypothesis() {
			// The same hypothesis may be pushed several times; it
			// gets one line and every later push reuses the name.
			if name, ok := hypNames[n.Stmt.Label]; ok {
				names[i] = name
				continue
			}
			num++
			name := "h" + strconv.Itoa(num)
			names[i] = name
			hypNames[n.Stmt.Label] = name
			lines = append(lines, stepLine(name, nil, n.Stmt.Label, n.Formula.String(snap.Syms)))
			continue
		}

		name := strconv.Itoa(num + 1)
		if i == vp.Root {
			name = "qed"
		} else {
			num++
		}
		names[i] = name

		// Children below the essential slots are syntax derivations
		// and have no step line to point at.
		// Hypothesis steps are cited by bare number, without the h.
		var refs []string
		nf := len(n.Stmt.Frame.Floats)
		for _, child := range n.Hyps[nf:] {
			if cn, ok := names[child]; ok {
				refs = append(refs, strings.TrimPrefix(cn, "h"))
			} else {
				refs = append(refs, "?")
			}
		}
		lines = append(lines, stepLine(name, refs, n.Stmt.Label, n.Formula.String(snap.Syms)))
	}
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}

	if p := vp.Stmt.Proof; p != nil && p.Text != "" {
		b.WriteString("\n$= ")
		b.WriteString(p.Text)
		b.WriteString(" $.\n")
	}
	b.WriteString("\n$)\n")
	return b.String()
}

func stepLine(name string, refs []string, label, formula string) string {
	prefix := fmt.Sprintf("%s:%s:%s", name, strings.Join(refs, ","), label)
	if len(prefix) < 18 {
		prefix += strings.Repeat(" ", 18-len(prefix))
	}
	return prefix + " " + formula
}
