package unify

import (
	"context"

	"github.com/mm-lang/mmlsp/db"
)

// Apply unifies an assertion against a proof goal. hyps holds the already
// known premise formulas in the assertion's essential-hypothesis order;
// a nil entry means the premise is still open and constrains nothing.
// On success the substitution covers every variable the matched parts
// mention, and open premises can be instantiated with it.
func Apply(t *db.SymbolTable, ref *db.Statement, goal db.Formula, hyps []*db.Formula) (db.Subst, *Failure) {
	ess := ref.Frame.Essentials
	if len(hyps) != len(ess) {
		return nil, &Failure{Reason: HypCountMismatch, Want: len(ess), Got: len(hyps)}
	}
	subst, fail := Formulas(t, ref.Formula, goal, nil)
	if fail != nil {
		return nil, fail
	}
	for i, h := range hyps {
		if h == nil {
			continue
		}
		subst, fail = Formulas(t, ess[i].Formula, *h, subst)
		if fail != nil {
			return nil, fail
		}
	}
	return subst, nil
}

// Candidate is an assertion whose conclusion unifies with a goal.
type Candidate struct {
	Stmt  *db.Statement
	Subst db.Subst
}

// Search scans assertions in declaration order for ones that could prove
// goal. Only statements with Index below before are considered, so proofs
// never reach past their own insertion point. A limit of 0 means no
// limit. The scan honors ctx between statements.
func Search(ctx context.Context, snap *db.Snapshot, goal db.Formula, before int, limit int) ([]Candidate, error) {
	var out []Candidate
	for _, st := range snap.Stmts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if st.Index >= before && before >= 0 {
			break
		}
		if !st.IsAssertion() {
			continue
		}
		subst, fail := Formulas(snap.Syms, st.Formula, goal, nil)
		if fail != nil {
			continue
		}
		out = append(out, Candidate{Stmt: st, Subst: subst})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
