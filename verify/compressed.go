package verify

import (
	"fmt"

	"github.com/mm-lang/mmlsp/db"
	"github.com/mm-lang/mmlsp/diag"
)

type opKind int

const (
	opLabel opKind = iota
	opSave
	opRecall
)

// op is one instruction of a proof: push the derivation named by label,
// mark the top of the stack as reusable, or push a previously saved
// derivation again.
type op struct {
	kind  opKind
	label string
	index int
}

// proofOps flattens a proof into the instruction stream the stack machine
// consumes. Normal proofs are plain label sequences; compressed proofs are
// decoded here.
func proofOps(st *db.Statement) ([]op, *Error) {
	p := st.Proof
	if !p.Compressed {
		ops := make([]op, len(p.Labels))
		for i, l := range p.Labels {
			ops[i] = op{kind: opLabel, label: l}
		}
		return ops, nil
	}
	return decodeCompressed(st)
}

// decodeCompressed expands the letter block of a compressed proof.
//
// Letters A-T are base-20 final digits and U-Y are base-5 leading digits
// of a step number. Numbers 1..m name the theorem's mandatory hypotheses,
// the next len(labels) name the parenthesized label list, and anything
// beyond recalls a step previously marked with Z.
func decodeCompressed(st *db.Statement) ([]op, *Error) {
	mand := st.Frame.Hyps()
	m := len(mand)
	r := len(st.Proof.Labels)

	fail := func(format string, args ...any) *Error {
		return &Error{
			Code:  diag.ProofSyntax,
			Label: st.Label,
			Step:  -1,
			Pos:   st.Proof.Pos,
			Msg:   fmt.Sprintf(format, args...),
		}
	}

	var ops []op
	saves := 0
	pushed := false // whether the previous op pushed a derivation
	num := 0
	for _, c := range st.Proof.Letters {
		switch {
		case c >= 'A' && c <= 'T':
			num = num*20 + int(c-'A') + 1
			switch {
			case num <= 0:
				return nil, fail("compressed step number overflow")
			case num <= m:
				ops = append(ops, op{kind: opLabel, label: mand[num-1].Label})
			case num <= m+r:
				ops = append(ops, op{kind: opLabel, label: st.Proof.Labels[num-m-1]})
			case num <= m+r+saves:
				ops = append(ops, op{kind: opRecall, index: num - m - r - 1})
			default:
				return nil, fail("compressed step %d out of range (%d hypotheses, %d labels, %d saved)",
					num, m, r, saves)
			}
			pushed = true
			num = 0
		case c >= 'U' && c <= 'Y':
			num = num*5 + int(c-'U') + 1
			pushed = false
		case c == 'Z':
			if num != 0 || !pushed {
				return nil, fail("Z marker must follow a completed step")
			}
			ops = append(ops, op{kind: opSave})
			saves++
		default:
			return nil, fail("invalid character %q in compressed proof", string(c))
		}
	}
	if num != 0 {
		return nil, fail("compressed proof ends in the middle of a step number")
	}
	return ops, nil
}
