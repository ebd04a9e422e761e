package db

import "strings"

// Formula is an ordered sequence of symbols beginning with a typecode.
type Formula struct {
	Typecode Atom
	Expr     []Atom
}

func (f Formula) String(t *SymbolTable) string {
	var b strings.Builder
	b.WriteString(t.Name(f.Typecode))
	for _, a := range f.Expr {
		b.WriteByte(' ')
		b.WriteString(t.Name(a))
	}
	return b.String()
}

// ExprString renders the formula without its typecode.
func (f Formula) ExprString(t *SymbolTable) string {
	parts := make([]string, len(f.Expr))
	for i, a := range f.Expr {
		parts[i] = t.Name(a)
	}
	return strings.Join(parts, " ")
}

func (f Formula) Equal(g Formula) bool {
	if f.Typecode != g.Typecode || len(f.Expr) != len(g.Expr) {
		return false
	}
	for i := range f.Expr {
		if f.Expr[i] != g.Expr[i] {
			return false
		}
	}
	return true
}

// Subst maps variables to symbol fragments. It is used both during proof
// verification (mapping a referenced statement's variables into the
// caller's context) and during unification.
type Subst map[Atom][]Atom

func (s Subst) Clone() Subst {
	c := make(Subst, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Apply rewrites expr, replacing each variable that has a binding in s with
// its fragment. Unbound symbols pass through unchanged.
func (s Subst) Apply(expr []Atom) []Atom {
	var out []Atom
	for _, a := range expr {
		if frag, ok := s[a]; ok {
			out = append(out, frag...)
		} else {
			out = append(out, a)
		}
	}
	return out
}

// ApplyFormula rewrites a formula's expression; typecodes are constants and
// never substituted.
func (s Subst) ApplyFormula(f Formula) Formula {
	return Formula{Typecode: f.Typecode, Expr: s.Apply(f.Expr)}
}

// Vars returns the set of variables occurring in expr.
func Vars(t *SymbolTable, expr []Atom) map[Atom]bool {
	vs := map[Atom]bool{}
	for _, a := range expr {
		if t.IsVar(a) {
			vs[a] = true
		}
	}
	return vs
}

func exprEqual(a, b []Atom) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
