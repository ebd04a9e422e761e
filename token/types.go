package token

import "fmt"

type Type int

const (
	TSymbol Type = iota // math symbol or statement label
	TOpenScope          // ${
	TCloseScope         // $}
	TConst              // $c
	TVar                // $v
	TFloat              // $f
	TEssential          // $e
	TDisjoint           // $d
	TAxiom              // $a
	TProvable           // $p
	TEnd                // $.
	TProof              // $=
)

func (t Type) String() string {
	return map[Type]string{
		TSymbol:     "TSymbol",
		TOpenScope:  "TOpenScope",
		TCloseScope: "TCloseScope",
		TConst:      "TConst",
		TVar:        "TVar",
		TFloat:      "TFloat",
		TEssential:  "TEssential",
		TDisjoint:   "TDisjoint",
		TAxiom:      "TAxiom",
		TProvable:   "TProvable",
		TEnd:        "TEnd",
		TProof:      "TProof",
	}[t]
}

var keywords = map[string]Type{
	"${": TOpenScope,
	"$}": TCloseScope,
	"$c": TConst,
	"$v": TVar,
	"$f": TFloat,
	"$e": TEssential,
	"$d": TDisjoint,
	"$a": TAxiom,
	"$p": TProvable,
	"$.": TEnd,
	"$=": TProof,
}

// Token is one lexical unit of a metamath source file. Comment text
// appearing immediately before the token is attached to it rather than
// emitted as a token of its own.
type Token struct {
	Type    Type
	Text    string
	Pos     Pos
	Comment string
}

// End is the byte offset one past the token text.
func (t *Token) End() int {
	return t.Pos.Off + len(t.Text)
}

func (t *Token) Info() string {
	return fmt.Sprintf("%s %q %s", t.Type, t.Text, t.Pos.String())
}

// ScanErr is a scanning error bound to a source position.
type ScanErr struct {
	Err error
	Pos Pos
}

func (e *ScanErr) Unwrap() error {
	return e.Err
}

func (e *ScanErr) Error() string {
	return fmt.Sprintf("%s at %s", e.Err.Error(), e.Pos.String())
}

func NewScanErr(err error, p Pos) *ScanErr {
	return &ScanErr{Err: err, Pos: p}
}

// CyclicIncludeError reports a file which transitively includes itself.
type CyclicIncludeError struct {
	Path string
	Pos  Pos
}

func (e *CyclicIncludeError) Error() string {
	return fmt.Sprintf("cyclic include of %q at %s", e.Path, e.Pos.String())
}

// IOError reports an unreadable include target.
type IOError struct {
	Path string
	Pos  Pos
	Err  error
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cannot read %q at %s: %v", e.Path, e.Pos.String(), e.Err)
}
