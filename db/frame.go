package db

// Frame is the set of hypotheses and disjointness constraints captured for
// an assertion at its declaration point. It is baked in at build time and
// never re-resolved against later scope changes.
type Frame struct {
	// Floats are the mandatory floating hypotheses: one per variable
	// occurring in the assertion or its essential hypotheses, in
	// declaration order.
	Floats []*Statement
	// Essentials are all essential hypotheses in scope, in declaration
	// order. Mandatory hypothesis order is Floats then Essentials.
	Essentials []*Statement
	// Disjoint lists the mandatory disjoint-variable pairs: active pairs
	// whose two variables are both mandatory. Pairs are normalized a < b.
	Disjoint [][2]Atom
	// disjointSet holds every active pair at the declaration point,
	// including pairs over proof-local variables; consulted when this
	// statement is the one being proved.
	disjointSet map[[2]Atom]bool
	// active indexes every hypothesis visible at the declaration point by
	// label, mandatory or not; proofs may cite any of them.
	active map[string]*Statement
	// mandVars is the set of mandatory variables.
	mandVars map[Atom]bool
}

// Hyps returns the mandatory hypotheses in substitution-argument order:
// floating first, then essential.
func (f *Frame) Hyps() []*Statement {
	out := make([]*Statement, 0, len(f.Floats)+len(f.Essentials))
	out = append(out, f.Floats...)
	out = append(out, f.Essentials...)
	return out
}

// ActiveHyp resolves a hypothesis visible at the declaration point.
func (f *Frame) ActiveHyp(label string) *Statement {
	return f.active[label]
}

func pairKey(a, b Atom) [2]Atom {
	if a > b {
		a, b = b, a
	}
	return [2]Atom{a, b}
}

// DisjointHolds reports whether variables a and b are required disjoint in
// this frame's scope.
func (f *Frame) DisjointHolds(a, b Atom) bool {
	return f.disjointSet[pairKey(a, b)]
}
