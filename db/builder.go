package db

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/mm-lang/mmlsp/debug"
	"github.com/mm-lang/mmlsp/diag"
	"github.com/mm-lang/mmlsp/token"
)

// TokenSource is satisfied by token.Scanner.
type TokenSource interface {
	Next() (*token.Token, error)
}

// Builder consumes a token sequence and produces statements plus structural
// diagnostics. Structural errors are statement-scoped: the offending
// statement is diagnosed and building continues, so the rest of the file
// stays usable for navigation.
type Builder struct {
	syms   *SymbolTable
	labels map[string]*Statement
	scope  *scope
	stmts  []*Statement
	diags  []diag.Diag
}

func NewBuilder(syms *SymbolTable) *Builder {
	if syms == nil {
		syms = NewSymbolTable()
	}
	return &Builder{
		syms:   syms,
		labels: map[string]*Statement{},
		scope:  newScope(nil),
	}
}

func (b *Builder) Symbols() *SymbolTable {
	return b.syms
}

// Run drives the token source to exhaustion. The returned error is non-nil
// only on context cancellation; everything else becomes a diagnostic.
func (b *Builder) Run(ctx context.Context, src TokenSource) ([]*Statement, []diag.Diag, error) {
	var pendingLabel *token.Token
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		tok, err := src.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			b.diagScanErr(err)
			continue
		}
		switch tok.Type {
		case token.TOpenScope:
			if pendingLabel != nil {
				b.errorf(pendingLabel.Pos, pendingLabel.End(), diag.MalformedStmt,
					"label %s is not followed by $f, $e, $a or $p", pendingLabel.Text)
				pendingLabel = nil
			}
			b.scope = newScope(b.scope)
		case token.TCloseScope:
			if b.scope.isRoot() {
				b.errorf(tok.Pos, tok.End(), diag.ScopeMismatch, "$} without matching ${")
				continue
			}
			b.scope = b.scope.parent
		case token.TConst:
			b.constDecl(tok, src)
		case token.TVar:
			b.varDecl(tok, src)
		case token.TDisjoint:
			b.disjointDecl(tok, src)
		case token.TSymbol:
			if pendingLabel != nil {
				b.errorf(pendingLabel.Pos, pendingLabel.End(), diag.MalformedStmt,
					"label %s is not followed by $f, $e, $a or $p", pendingLabel.Text)
			}
			pendingLabel = tok
		case token.TFloat, token.TEssential, token.TAxiom, token.TProvable:
			if pendingLabel == nil {
				b.errorf(tok.Pos, tok.End(), diag.MalformedStmt, "%s statement requires a label", tok.Text)
				b.skipStatement(src)
				continue
			}
			b.labeled(pendingLabel, tok, src)
			pendingLabel = nil
		default:
			b.errorf(tok.Pos, tok.End(), diag.MalformedStmt, "unexpected %s", tok.Text)
		}
	}
	if pendingLabel != nil {
		b.errorf(pendingLabel.Pos, pendingLabel.End(), diag.MalformedStmt,
			"label %s at end of input", pendingLabel.Text)
	}
	if !b.scope.isRoot() {
		b.errorf(token.Pos{}, 0, diag.ScopeMismatch, "unclosed ${ at end of input")
	}
	if debug.Build() {
		debug.Logf("build: %d statements, %d diagnostics\n", len(b.stmts), len(b.diags))
	}
	return b.stmts, b.diags, nil
}

func (b *Builder) diagScanErr(err error) {
	var cyc *token.CyclicIncludeError
	var ioErr *token.IOError
	var scanErr *token.ScanErr
	switch {
	case errors.As(err, &cyc):
		b.errorf(cyc.Pos, 0, diag.CyclicInclude, "%v", err)
	case errors.As(err, &ioErr):
		b.errorf(ioErr.Pos, 0, diag.IncludeIO, "%v", err)
	case errors.As(err, &scanErr):
		b.errorf(scanErr.Pos, 0, diag.MalformedStmt, "%v", scanErr.Err)
	default:
		b.errorf(token.Pos{}, 0, diag.MalformedStmt, "%v", err)
	}
}

func (b *Builder) errorf(pos token.Pos, end int, code, format string, args ...any) {
	b.diags = append(b.diags, diag.Errorf(pos, end, code, format, args...))
}

// symbolsUntilEnd reads the math-symbol list of an unlabeled declaration.
func (b *Builder) symbolsUntilEnd(kw *token.Token, src TokenSource) ([]*token.Token, *token.Token) {
	var syms []*token.Token
	for {
		tok, err := src.Next()
		if err != nil {
			if err != io.EOF {
				b.diagScanErr(err)
				continue
			}
			b.errorf(kw.Pos, kw.End(), diag.MalformedStmt, "%s statement not terminated by $.", kw.Text)
			return syms, nil
		}
		switch tok.Type {
		case token.TEnd:
			return syms, tok
		case token.TSymbol:
			syms = append(syms, tok)
		default:
			b.errorf(tok.Pos, tok.End(), diag.MalformedStmt, "unexpected %s inside %s statement", tok.Text, kw.Text)
		}
	}
}

func (b *Builder) skipStatement(src TokenSource) {
	for {
		tok, err := src.Next()
		if err != nil {
			return
		}
		if tok.Type == token.TEnd {
			return
		}
	}
}

func (b *Builder) constDecl(kw *token.Token, src TokenSource) {
	syms, end := b.symbolsUntilEnd(kw, src)
	if !b.scope.isRoot() {
		b.errorf(kw.Pos, kw.End(), diag.ScopeMismatch, "$c is only allowed in the outermost scope")
	}
	st := &Statement{Kind: ConstantDecl, Pos: kw.Pos, Comment: kw.Comment}
	for _, s := range syms {
		a := b.syms.Intern(s.Text)
		if b.scope.constDecl(a) != nil || b.scope.varDecl(a) != nil {
			b.errorf(s.Pos, s.End(), diag.DuplicateSymbol, "symbol %s is already declared", s.Text)
			continue
		}
		b.syms.SetKind(a, SymConstant)
		b.scope.consts[a] = st
		st.Syms = append(st.Syms, a)
	}
	b.finish(st, kw, end)
}

func (b *Builder) varDecl(kw *token.Token, src TokenSource) {
	syms, end := b.symbolsUntilEnd(kw, src)
	st := &Statement{Kind: VariableDecl, Pos: kw.Pos, Comment: kw.Comment}
	for _, s := range syms {
		a := b.syms.Intern(s.Text)
		if b.syms.Kind(a) == SymConstant {
			b.errorf(s.Pos, s.End(), diag.DuplicateSymbol, "%s is already declared as a constant", s.Text)
			continue
		}
		if b.scope.varDecl(a) != nil {
			b.errorf(s.Pos, s.End(), diag.DuplicateSymbol, "variable %s is already active", s.Text)
			continue
		}
		b.syms.SetKind(a, SymVariable)
		b.scope.vars[a] = st
		st.Syms = append(st.Syms, a)
	}
	b.finish(st, kw, end)
}

func (b *Builder) disjointDecl(kw *token.Token, src TokenSource) {
	syms, end := b.symbolsUntilEnd(kw, src)
	st := &Statement{Kind: DisjointDecl, Pos: kw.Pos, Comment: kw.Comment}
	seen := map[Atom]bool{}
	for _, s := range syms {
		a, ok := b.syms.Lookup(s.Text)
		if !ok || b.scope.varDecl(a) == nil {
			b.errorf(s.Pos, s.End(), diag.UndeclaredSymbol, "%s is not an active variable", s.Text)
			continue
		}
		if seen[a] {
			b.errorf(s.Pos, s.End(), diag.MalformedStmt, "variable %s repeated in $d", s.Text)
			continue
		}
		seen[a] = true
		st.Syms = append(st.Syms, a)
	}
	if len(st.Syms) < 2 {
		b.errorf(kw.Pos, kw.End(), diag.MalformedStmt, "$d requires at least two distinct variables")
	}
	for i := 0; i < len(st.Syms); i++ {
		for j := i + 1; j < len(st.Syms); j++ {
			b.scope.disjoint = append(b.scope.disjoint, pairKey(st.Syms[i], st.Syms[j]))
		}
	}
	b.finish(st, kw, end)
}

var labelChars = func() [256]bool {
	var ok [256]bool
	for c := 'a'; c <= 'z'; c++ {
		ok[c] = true
	}
	for c := 'A'; c <= 'Z'; c++ {
		ok[c] = true
	}
	for c := '0'; c <= '9'; c++ {
		ok[c] = true
	}
	ok['.'], ok['-'], ok['_'] = true, true, true
	return ok
}()

func validLabel(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !labelChars[s[i]] {
			return false
		}
	}
	return true
}

func (b *Builder) labeled(label, kw *token.Token, src TokenSource) {
	if !validLabel(label.Text) {
		b.errorf(label.Pos, label.End(), diag.MalformedStmt, "invalid label %q", label.Text)
		b.skipStatement(src)
		return
	}
	if prev := b.labels[label.Text]; prev != nil {
		b.errorf(label.Pos, label.End(), diag.DuplicateLabel,
			"label %s already declared at %s", label.Text, prev.Pos.String())
		b.skipStatement(src)
		return
	}
	if a, ok := b.syms.Lookup(label.Text); ok && b.syms.Kind(a) != SymUnknown {
		b.errorf(label.Pos, label.End(), diag.DuplicateLabel,
			"label %s collides with a declared math symbol", label.Text)
	}

	st := &Statement{Label: label.Text, Pos: label.Pos, Comment: label.Comment}
	switch kw.Type {
	case token.TFloat:
		st.Kind = FloatingHyp
	case token.TEssential:
		st.Kind = EssentialHyp
	case token.TAxiom:
		st.Kind = Axiom
	case token.TProvable:
		st.Kind = Theorem
	}

	syms, end, proof := b.formulaUntilEnd(kw, src, st.Kind == Theorem)
	ok := b.resolveFormula(st, kw, syms)
	if ok {
		switch st.Kind {
		case FloatingHyp:
			if len(st.Formula.Expr) != 1 || !b.syms.IsVar(st.Formula.Expr[0]) {
				b.errorf(kw.Pos, kw.End(), diag.MalformedStmt,
					"$f must be a typecode followed by a single variable")
				ok = false
			} else if fl := b.scope.floatFor(st.Var()); fl != nil {
				b.errorf(kw.Pos, kw.End(), diag.ScopeMismatch,
					"variable %s already has an active $f (%s)", b.syms.Name(st.Var()), fl.Label)
				ok = false
			}
		case Theorem:
			st.Proof = proof
			if proof == nil {
				b.errorf(kw.Pos, kw.End(), diag.UnterminatedProof, "$p statement has no $= proof")
			}
		}
	}
	if !ok {
		// Still keep unusable statements out of the scope structures but
		// visible as a diagnostic; skip registration.
		return
	}
	if st.IsAssertion() {
		b.captureFrame(st)
	}
	switch st.Kind {
	case FloatingHyp:
		b.scope.floats = append(b.scope.floats, st)
		b.scope.floatOf[st.Var()] = st
	case EssentialHyp:
		b.scope.essentials = append(b.scope.essentials, st)
	}
	b.labels[st.Label] = st
	b.finish(st, label, end)
}

// formulaUntilEnd reads the math symbols of a labeled statement and, for
// theorems, the $= proof block.
func (b *Builder) formulaUntilEnd(kw *token.Token, src TokenSource, wantProof bool) ([]*token.Token, *token.Token, *Proof) {
	var syms []*token.Token
	for {
		tok, err := src.Next()
		if err != nil {
			if err != io.EOF {
				b.diagScanErr(err)
				continue
			}
			b.errorf(kw.Pos, kw.End(), diag.MalformedStmt, "%s statement not terminated by $.", kw.Text)
			return syms, nil, nil
		}
		switch tok.Type {
		case token.TEnd:
			return syms, tok, nil
		case token.TSymbol:
			syms = append(syms, tok)
		case token.TProof:
			if !wantProof {
				b.errorf(tok.Pos, tok.End(), diag.MalformedStmt, "$= is only allowed in $p statements")
				b.skipStatement(src)
				return syms, nil, nil
			}
			proof, end := b.readProof(tok, src)
			return syms, end, proof
		default:
			b.errorf(tok.Pos, tok.End(), diag.MalformedStmt, "unexpected %s inside %s statement", tok.Text, kw.Text)
		}
	}
}

func (b *Builder) readProof(eq *token.Token, src TokenSource) (*Proof, *token.Token) {
	p := &Proof{Pos: eq.Pos}
	var raw []string
	inParens := false
	sawParens := false
	for {
		tok, err := src.Next()
		if err != nil {
			if err != io.EOF {
				b.diagScanErr(err)
				continue
			}
			b.errorf(eq.Pos, eq.End(), diag.UnterminatedProof, "proof not terminated by $.")
			p.Text = strings.Join(raw, " ")
			return p, nil
		}
		if tok.Type == token.TEnd {
			p.Text = strings.Join(raw, " ")
			if inParens {
				b.errorf(eq.Pos, eq.End(), diag.UnterminatedProof, "compressed proof label list not closed")
			}
			return p, tok
		}
		if tok.Type != token.TSymbol {
			b.errorf(tok.Pos, tok.End(), diag.MalformedStmt, "unexpected %s in proof", tok.Text)
			continue
		}
		raw = append(raw, tok.Text)
		switch {
		case tok.Text == "(" && !sawParens:
			p.Compressed = true
			inParens = true
			sawParens = true
		case tok.Text == ")" && inParens:
			inParens = false
		case p.Compressed && !inParens:
			p.Letters += tok.Text
			if strings.ContainsRune(tok.Text, '?') {
				p.Incomplete = true
			}
		case tok.Text == "?":
			p.Incomplete = true
			p.Labels = append(p.Labels, "?")
		default:
			p.Labels = append(p.Labels, tok.Text)
		}
	}
}

// resolveFormula interns and scope-checks the formula symbols.
func (b *Builder) resolveFormula(st *Statement, kw *token.Token, syms []*token.Token) bool {
	if len(syms) == 0 {
		b.errorf(kw.Pos, kw.End(), diag.MalformedStmt, "%s statement has no typecode", kw.Text)
		return false
	}
	ok := true
	tc := syms[0]
	a, found := b.syms.Lookup(tc.Text)
	if !found || b.scope.constDecl(a) == nil {
		b.errorf(tc.Pos, tc.End(), diag.UndeclaredSymbol, "typecode %s is not a declared constant", tc.Text)
		ok = false
	}
	st.Formula.Typecode = b.syms.Intern(tc.Text)
	for _, s := range syms[1:] {
		a, found := b.syms.Lookup(s.Text)
		if !found || (b.scope.constDecl(a) == nil && b.scope.varDecl(a) == nil) {
			b.errorf(s.Pos, s.End(), diag.UndeclaredSymbol, "symbol %s is not in scope", s.Text)
			ok = false
			continue
		}
		st.Formula.Expr = append(st.Formula.Expr, a)
	}
	return ok
}

// captureFrame records the assertion's mandatory hypotheses and
// disjointness constraints as visible at this point.
func (b *Builder) captureFrame(st *Statement) {
	chain := b.scope.chain()
	fr := &Frame{
		disjointSet: map[[2]Atom]bool{},
		active:      map[string]*Statement{},
		mandVars:    map[Atom]bool{},
	}

	for _, sc := range chain {
		fr.Essentials = append(fr.Essentials, sc.essentials...)
	}
	for _, e := range fr.Essentials {
		for v := range Vars(b.syms, e.Formula.Expr) {
			fr.mandVars[v] = true
		}
	}
	for v := range Vars(b.syms, st.Formula.Expr) {
		fr.mandVars[v] = true
	}

	for _, sc := range chain {
		for _, fl := range sc.floats {
			fr.active[fl.Label] = fl
			if fr.mandVars[fl.Var()] {
				fr.Floats = append(fr.Floats, fl)
			}
		}
	}
	for _, e := range fr.Essentials {
		fr.active[e.Label] = e
	}

	for v := range fr.mandVars {
		if b.scope.floatFor(v) == nil {
			b.errorf(st.Pos, st.End, diag.MissingFloat,
				"variable %s has no active $f hypothesis", b.syms.Name(v))
		}
	}

	for _, sc := range chain {
		for _, p := range sc.disjoint {
			if fr.disjointSet[p] {
				continue
			}
			fr.disjointSet[p] = true
			if fr.mandVars[p[0]] && fr.mandVars[p[1]] {
				fr.Disjoint = append(fr.Disjoint, p)
			}
		}
	}
	st.Frame = fr
}

func (b *Builder) finish(st *Statement, first *token.Token, end *token.Token) {
	if end != nil && end.Pos.File == first.Pos.File {
		st.End = end.End()
	} else {
		st.End = first.End()
	}
	b.stmts = append(b.stmts, st)
}
