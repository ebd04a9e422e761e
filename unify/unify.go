// Package unify matches assertion patterns against concrete formulas.
// Variables in the pattern bind to non-empty, bracket-balanced symbol
// sequences of the target; target symbols are never substituted. The
// search is
// backtracking, trying shorter bindings first at the leftmost unbound
// variable, and returns the first solution, which makes results
// deterministic for a given pattern and target.
package unify

import (
	"fmt"

	"github.com/mm-lang/mmlsp/db"
)

type Reason int

const (
	SymbolMismatch Reason = iota
	TypecodeMismatch
	LengthMismatch
	InconsistentBinding
	HypCountMismatch
)

func (r Reason) String() string {
	switch r {
	case SymbolMismatch:
		return "symbol mismatch"
	case TypecodeMismatch:
		return "typecode mismatch"
	case LengthMismatch:
		return "length mismatch"
	case InconsistentBinding:
		return "inconsistent binding"
	case HypCountMismatch:
		return "hypothesis count mismatch"
	}
	return "unification failure"
}

// Failure describes why a pattern cannot match a target. Position indexes
// the target expression; when several branches of the search fail, the
// most specific failure on the earliest-tried branch is reported.
type Failure struct {
	Reason   Reason
	Position int
	Symbol   db.Atom // target symbol at Position, when meaningful
	Var      db.Atom // the variable involved, for InconsistentBinding
	Want     int
	Got      int
}

func (f *Failure) Describe(t *db.SymbolTable) string {
	switch f.Reason {
	case SymbolMismatch:
		return fmt.Sprintf("symbol mismatch at position %d (%s)", f.Position, t.Name(f.Symbol))
	case TypecodeMismatch:
		return fmt.Sprintf("typecode mismatch: want %s, got %s", t.Name(f.Var), t.Name(f.Symbol))
	case LengthMismatch:
		return fmt.Sprintf("length mismatch at position %d", f.Position)
	case InconsistentBinding:
		return fmt.Sprintf("inconsistent binding for %s at position %d", t.Name(f.Var), f.Position)
	case HypCountMismatch:
		return fmt.Sprintf("arity mismatch: want %d hypotheses, got %d", f.Want, f.Got)
	}
	return f.Reason.String()
}

// Formulas unifies pattern against target. Bindings in known are fixed;
// the returned substitution extends a copy of it.
func Formulas(t *db.SymbolTable, pattern, target db.Formula, known db.Subst) (db.Subst, *Failure) {
	if pattern.Typecode != target.Typecode {
		return nil, &Failure{Reason: TypecodeMismatch, Var: pattern.Typecode, Symbol: target.Typecode}
	}
	return Exprs(t, pattern.Expr, target.Expr, known)
}

// Exprs unifies a pattern expression against a target expression.
func Exprs(t *db.SymbolTable, pattern, target []db.Atom, known db.Subst) (db.Subst, *Failure) {
	u := &unifier{t: t, target: target, subst: known.Clone()}
	if u.match(pattern, 0) {
		return u.subst, nil
	}
	if u.best == nil {
		u.best = &Failure{Reason: LengthMismatch, Position: len(target)}
	}
	return nil, u.best
}

type unifier struct {
	t      *db.SymbolTable
	target []db.Atom
	subst  db.Subst
	best   *Failure
}

// reasonRank orders failure reasons by how much they tell the user.
// A symbol or binding conflict names the offending token; a length
// mismatch only says the search ran out of road.
func reasonRank(r Reason) int {
	if r == LengthMismatch {
		return 0
	}
	return 1
}

// fail keeps f only when it is more specific than the best failure seen
// so far. Among equally specific failures the first one wins: that is
// the failure of the leftmost-shortest candidate, the branch the search
// prefers.
func (u *unifier) fail(f *Failure) bool {
	if u.best == nil || reasonRank(f.Reason) > reasonRank(u.best.Reason) {
		u.best = f
	}
	return false
}

func (u *unifier) match(pattern []db.Atom, ti int) bool {
	if len(pattern) == 0 {
		if ti == len(u.target) {
			return true
		}
		return u.fail(&Failure{Reason: LengthMismatch, Position: ti, Symbol: u.target[ti]})
	}
	sym := pattern[0]

	if !u.t.IsVar(sym) {
		if ti >= len(u.target) {
			return u.fail(&Failure{Reason: LengthMismatch, Position: ti})
		}
		if u.target[ti] != sym {
			return u.fail(&Failure{Reason: SymbolMismatch, Position: ti, Symbol: u.target[ti]})
		}
		return u.match(pattern[1:], ti+1)
	}

	if bound, ok := u.subst[sym]; ok {
		if !u.hasPrefix(bound, ti) {
			return u.fail(&Failure{Reason: InconsistentBinding, Position: ti, Var: sym})
		}
		return u.match(pattern[1:], ti+len(bound))
	}

	// Unbound variable: bind it to every non-empty balanced fragment of
	// the rest of the target, shortest first, until the remainder
	// matches. A fragment with a dangling bracket can never stand on its
	// own as a subformula, and a closer for a bracket opened outside the
	// fragment ends the candidates for good.
	rest := pattern[1:]
	depth := 0
	for n := 1; ti+n <= len(u.target); n++ {
		depth += u.bracket(u.target[ti+n-1])
		if depth < 0 {
			break
		}
		if depth > 0 {
			continue
		}
		u.subst[sym] = u.target[ti : ti+n]
		if u.match(rest, ti+n) {
			return true
		}
	}
	delete(u.subst, sym)
	return u.fail(&Failure{Reason: LengthMismatch, Position: ti, Var: sym})
}

// bracket reports the grouping depth contribution of a symbol: +1 for
// an opener, -1 for a closer, 0 otherwise.
func (u *unifier) bracket(a db.Atom) int {
	switch u.t.Name(a) {
	case "(", "[", "{":
		return 1
	case ")", "]", "}":
		return -1
	}
	return 0
}

func (u *unifier) hasPrefix(bound []db.Atom, ti int) bool {
	if ti+len(bound) > len(u.target) {
		return false
	}
	for i, a := range bound {
		if u.target[ti+i] != a {
			return false
		}
	}
	return true
}
