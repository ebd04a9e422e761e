package db

// scope is one lexical block frame. Each frame holds only its own deltas
// and a pointer to its parent, so nested scope entry never copies the
// inherited constraint sets.
type scope struct {
	parent     *scope
	consts     map[Atom]*Statement
	vars       map[Atom]*Statement
	floatOf    map[Atom]*Statement
	floats     []*Statement
	essentials []*Statement
	disjoint   [][2]Atom
}

func newScope(parent *scope) *scope {
	return &scope{
		parent:  parent,
		consts:  map[Atom]*Statement{},
		vars:    map[Atom]*Statement{},
		floatOf: map[Atom]*Statement{},
	}
}

func (s *scope) isRoot() bool {
	return s.parent == nil
}

func (s *scope) constDecl(a Atom) *Statement {
	for sc := s; sc != nil; sc = sc.parent {
		if st := sc.consts[a]; st != nil {
			return st
		}
	}
	return nil
}

func (s *scope) varDecl(a Atom) *Statement {
	for sc := s; sc != nil; sc = sc.parent {
		if st := sc.vars[a]; st != nil {
			return st
		}
	}
	return nil
}

// floatFor returns the active floating hypothesis for a variable, if any.
func (s *scope) floatFor(a Atom) *Statement {
	for sc := s; sc != nil; sc = sc.parent {
		if st := sc.floatOf[a]; st != nil {
			return st
		}
	}
	return nil
}

// chain returns the frames from root to this scope. Since inner frames are
// always younger than everything already declared in outer ones, walking
// the chain yields declarations in declaration order.
func (s *scope) chain() []*scope {
	var out []*scope
	for sc := s; sc != nil; sc = sc.parent {
		out = append(out, sc)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
