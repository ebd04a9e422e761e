// Package verify checks theorem proofs against a database snapshot. Proofs
// are evaluated with an explicit stack machine over node-indexed formulas,
// so verification never recurses on proof depth and can honor cancellation
// between steps.
package verify

import (
	"context"
	"fmt"

	"github.com/mm-lang/mmlsp/db"
	"github.com/mm-lang/mmlsp/debug"
	"github.com/mm-lang/mmlsp/diag"
	"github.com/mm-lang/mmlsp/token"
)

// Node is one derivation in a verified proof tree: a hypothesis reference
// or an assertion applied via substitution. Nodes are stored in evaluation
// (post) order; Hyps holds child node indices.
type Node struct {
	Stmt    *db.Statement
	Hyps    []int
	Formula db.Formula
	Subst   db.Subst // substitution applied at this node, nil for hypotheses
}

// VerifiedProof is the result of successfully verifying a theorem.
type VerifiedProof struct {
	Stmt  *db.Statement
	Nodes []Node
	Root  int // index of the conclusion node
}

// Error is a theorem-scoped verification error. Other theorems remain
// usable; the query layer surfaces it as a diagnostic on the statement.
type Error struct {
	Code  string
	Label string
	Step  int
	Pos   token.Pos
	Msg   string
}

func (e *Error) Error() string {
	if e.Step >= 0 {
		return fmt.Sprintf("%s: proof of %s, step %d: %s", e.Code, e.Label, e.Step+1, e.Msg)
	}
	return fmt.Sprintf("%s: proof of %s: %s", e.Code, e.Label, e.Msg)
}

func (e *Error) Diag() diag.Diag {
	return diag.Errorf(e.Pos, 0, e.Code, "%s", e.Msg)
}

type machine struct {
	snap  *db.Snapshot
	st    *db.Statement
	nodes []Node
	stack []int
	step  int
}

func (m *machine) errf(code, format string, args ...any) *Error {
	pos := m.st.Pos
	if m.st.Proof != nil {
		pos = m.st.Proof.Pos
	}
	return &Error{
		Code:  code,
		Label: m.st.Label,
		Step:  m.step,
		Pos:   pos,
		Msg:   fmt.Sprintf(format, args...),
	}
}

// Verify checks the proof of a theorem against the snapshot.
func Verify(ctx context.Context, snap *db.Snapshot, st *db.Statement) (*VerifiedProof, error) {
	if st.Kind != db.Theorem {
		return nil, &Error{Code: diag.ProofSyntax, Label: st.Label, Step: -1, Pos: st.Pos,
			Msg: fmt.Sprintf("%s is not a theorem", st.Label)}
	}
	m := &machine{snap: snap, st: st, step: -1}
	if st.Proof == nil {
		return nil, m.errf(diag.ProofSyntax, "missing proof")
	}
	if st.Proof.Incomplete {
		return nil, m.errf(diag.IncompleteProof, "proof contains unresolved ? steps")
	}

	ops, err := proofOps(st)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, m.errf(diag.ProofSyntax, "empty proof")
	}

	var saved []int
	for i, op := range ops {
		m.step = i
		// Cooperative cancellation at proof-step granularity.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch op.kind {
		case opLabel:
			if err := m.apply(op.label); err != nil {
				return nil, err
			}
		case opSave:
			if len(m.stack) == 0 {
				return nil, m.errf(diag.ProofSyntax, "Z marker with empty stack")
			}
			saved = append(saved, m.stack[len(m.stack)-1])
		case opRecall:
			if op.index >= len(saved) {
				return nil, m.errf(diag.ProofSyntax, "reference to unsaved step %d", op.index+1)
			}
			m.stack = append(m.stack, saved[op.index])
		}
	}
	m.step = -1
	if len(m.stack) != 1 {
		return nil, m.errf(diag.ProofSyntax, "proof leaves %d formulas on the stack, want 1", len(m.stack))
	}
	got := m.nodes[m.stack[0]].Formula
	if !got.Equal(st.Formula) {
		return nil, m.errf(diag.ConclusionMismatch, "proof concludes a different formula: %s",
			diag.FormulaDiff(st.Formula.String(snap.Syms), got.String(snap.Syms)))
	}
	if debug.Verify() {
		debug.Logf("verify: %s ok, %d nodes\n", st.Label, len(m.nodes))
	}
	return &VerifiedProof{Stmt: st, Nodes: m.nodes, Root: m.stack[0]}, nil
}

// apply executes one label reference: hypotheses push their formula,
// assertions pop their mandatory hypotheses and push the substituted
// conclusion.
func (m *machine) apply(label string) *Error {
	if hyp := m.st.Frame.ActiveHyp(label); hyp != nil {
		m.stack = append(m.stack, m.push(Node{Stmt: hyp, Formula: hyp.Formula}))
		return nil
	}
	ref := m.snap.Statement(label)
	if ref == nil {
		return m.errf(diag.ProofSyntax, "unknown label %s", label)
	}
	if !ref.IsAssertion() {
		return m.errf(diag.ProofSyntax, "%s is a %s hypothesis not in the frame of %s",
			label, ref.Kind, m.st.Label)
	}
	if ref.Index >= m.st.Index {
		return m.errf(diag.ProofSyntax, "%s is not declared before %s", label, m.st.Label)
	}

	hyps := ref.Frame.Hyps()
	n := len(hyps)
	if len(m.stack) < n {
		return m.errf(diag.ProofSyntax, "stack underflow applying %s: need %d hypotheses, have %d",
			label, n, len(m.stack))
	}
	args := m.stack[len(m.stack)-n:]

	// The substitution is determined uniquely by the floating hypotheses.
	subst := db.Subst{}
	for i, fl := range ref.Frame.Floats {
		got := m.nodes[args[i]].Formula
		if got.Typecode != fl.Formula.Typecode {
			return m.errf(diag.SubstitutionMismatch,
				"applying %s: hypothesis %s wants typecode %s, step provides %s",
				label, fl.Label, m.snap.Syms.Name(fl.Formula.Typecode), m.snap.Syms.Name(got.Typecode))
		}
		subst[fl.Var()] = got.Expr
	}
	for i, e := range ref.Frame.Essentials {
		want := subst.ApplyFormula(e.Formula)
		got := m.nodes[args[len(ref.Frame.Floats)+i]].Formula
		if !want.Equal(got) {
			return m.errf(diag.SubstitutionMismatch,
				"applying %s: hypothesis %s does not match: %s",
				label, e.Label, diag.FormulaDiff(want.String(m.snap.Syms), got.String(m.snap.Syms)))
		}
	}
	if err := m.checkDisjoint(ref, subst); err != nil {
		return err
	}

	node := Node{
		Stmt:    ref,
		Hyps:    append([]int(nil), args...),
		Formula: subst.ApplyFormula(ref.Formula),
		Subst:   subst,
	}
	m.stack = m.stack[:len(m.stack)-n]
	m.stack = append(m.stack, m.push(node))
	return nil
}

// checkDisjoint enforces the referenced statement's distinct-variable
// constraints under subst, against the constraints of the theorem being
// proved.
func (m *machine) checkDisjoint(ref *db.Statement, subst db.Subst) *Error {
	syms := m.snap.Syms
	for _, pair := range ref.Frame.Disjoint {
		ex, ok1 := subst[pair[0]]
		ey, ok2 := subst[pair[1]]
		if !ok1 || !ok2 {
			continue
		}
		for va := range db.Vars(syms, ex) {
			for vb := range db.Vars(syms, ey) {
				if va == vb {
					return m.errf(diag.DisjointViolation,
						"applying %s: variable %s appears in both substitutions of the disjoint pair %s %s",
						ref.Label, syms.Name(va), syms.Name(pair[0]), syms.Name(pair[1]))
				}
				if !m.st.Frame.DisjointHolds(va, vb) {
					return m.errf(diag.DisjointViolation,
						"applying %s: %s and %s must be disjoint in %s (from the pair %s %s)",
						ref.Label, syms.Name(va), syms.Name(vb), m.st.Label,
						syms.Name(pair[0]), syms.Name(pair[1]))
				}
			}
		}
	}
	return nil
}

func (m *machine) push(n Node) int {
	m.nodes = append(m.nodes, n)
	return len(m.nodes) - 1
}
