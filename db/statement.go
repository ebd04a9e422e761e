package db

import (
	"github.com/mm-lang/mmlsp/token"
)

type Kind int

const (
	ConstantDecl Kind = iota
	VariableDecl
	DisjointDecl
	FloatingHyp
	EssentialHyp
	Axiom
	Theorem
)

func (k Kind) String() string {
	return map[Kind]string{
		ConstantDecl: "constant",
		VariableDecl: "variable",
		DisjointDecl: "disjoint",
		FloatingHyp:  "floating",
		EssentialHyp: "essential",
		Axiom:        "axiom",
		Theorem:      "theorem",
	}[k]
}

// Statement is one declaration in the database. Statements are append-only
// in declaration order; Index is the global order assigned at merge time.
type Statement struct {
	Label   string
	Kind    Kind
	Formula Formula // hypotheses and assertions
	Syms    []Atom  // symbols listed by $c/$v/$d declarations
	Frame   *Frame  // axioms and theorems only
	Proof   *Proof  // theorems only
	Pos     token.Pos
	End     int // byte offset one past the closing $. in Pos.File
	Comment string
	Index   int
}

// IsAssertion reports whether the statement can be cited as a proof step
// with hypotheses (axiom or theorem).
func (s *Statement) IsAssertion() bool {
	return s.Kind == Axiom || s.Kind == Theorem
}

func (s *Statement) IsHypothesis() bool {
	return s.Kind == FloatingHyp || s.Kind == EssentialHyp
}

// Var returns the variable of a floating hypothesis.
func (s *Statement) Var() Atom {
	return s.Formula.Expr[0]
}

// Proof holds a theorem's proof as written: either a plain label sequence
// or a compressed block, possibly incomplete (containing "?") while the
// user is still editing.
type Proof struct {
	Labels     []string
	Compressed bool
	Letters    string // compressed step letters, concatenated
	Incomplete bool
	Pos        token.Pos
	Text       string // raw proof text, the content-hash input
}
