// Package diag carries the diagnostic taxonomy shared by the scanner, the
// database builder, the verifier and the unifier. Recoverable problems are
// recorded as Diags attached to the statement or document they concern;
// they never unwind past the component that found them.
package diag

import (
	"fmt"
	"sort"

	"github.com/mm-lang/mmlsp/token"
)

type Severity int

const (
	Error Severity = iota
	Warning
	Info
	Hint
)

func (s Severity) String() string {
	return map[Severity]string{
		Error:   "error",
		Warning: "warning",
		Info:    "info",
		Hint:    "hint",
	}[s]
}

// Codes for structural errors (statement-scoped, building continues).
const (
	DuplicateLabel    = "DuplicateLabel"
	DuplicateSymbol   = "DuplicateSymbol"
	UndeclaredSymbol  = "UndeclaredSymbol"
	ScopeMismatch     = "ScopeMismatch"
	MalformedStmt     = "MalformedStatement"
	MissingFloat      = "MissingFloat"
	CyclicInclude     = "CyclicInclude"
	IncludeIO         = "IncludeIO"
	UnterminatedProof = "UnterminatedProof"
)

// Codes for verification errors (theorem-scoped).
const (
	SubstitutionMismatch = "SubstitutionMismatch"
	DisjointViolation    = "DisjointViolation"
	ConclusionMismatch   = "ConclusionMismatch"
	ProofSyntax          = "ProofSyntax"
	IncompleteProof      = "IncompleteProof"
)

// Codes for worksheet/unification diagnostics.
const (
	UnificationFailed   = "UnificationFailed"
	InconsistentBinding = "InconsistentBinding"
	WrongHypCount       = "WrongHypCount"
	UnknownStepName     = "UnknownStepName"
	UnknownTheorem      = "UnknownTheorem"
	UnknownToken        = "UnknownToken"
	BadWorksheetLine    = "BadWorksheetLine"
	LocAfterViolation   = "LocAfterViolation"
)

// Diag is one diagnostic. End is a byte offset in the same file as Pos;
// End == 0 means a point diagnostic at Pos.
type Diag struct {
	Pos      token.Pos
	End      int
	Severity Severity
	Code     string
	Message  string
}

func (d Diag) String() string {
	l, c := d.Pos.LineCol()
	name := "<mem>"
	if d.Pos.File != nil {
		name = d.Pos.File.Name
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s [%s]", name, l+1, c+1, d.Severity, d.Message, d.Code)
}

func Errorf(pos token.Pos, end int, code, format string, args ...any) Diag {
	return Diag{
		Pos:      pos,
		End:      end,
		Severity: Error,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	}
}

func Warningf(pos token.Pos, end int, code, format string, args ...any) Diag {
	return Diag{
		Pos:      pos,
		End:      end,
		Severity: Warning,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Sort orders diagnostics by file, offset, then severity, giving the
// deterministic ordering the query layer promises.
func Sort(ds []Diag) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		an, bn := "", ""
		if a.Pos.File != nil {
			an = a.Pos.File.Name
		}
		if b.Pos.File != nil {
			bn = b.Pos.File.Name
		}
		if an != bn {
			return an < bn
		}
		if a.Pos.Off != b.Pos.Off {
			return a.Pos.Off < b.Pos.Off
		}
		return a.Severity < b.Severity
	})
}
