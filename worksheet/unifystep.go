package worksheet

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mm-lang/mmlsp/db"
	"github.com/mm-lang/mmlsp/unify"
)

// Edit is a textual replacement of one step's source block.
type Edit struct {
	Start   int
	End     int
	NewText string
}

// UnifyStep elaborates the step at the given byte offset. A step citing
// a known assertion is unified against it and open premises become
// synthesized ? steps above it. A step with no label first tries the
// theorem's own hypotheses, then the earliest declared assertion whose
// conclusion matches the goal.
func UnifyStep(ctx context.Context, snap *db.Snapshot, w *Worksheet, off int) (*Edit, error) {
	step := w.StepAt(off)
	if step == nil {
		return nil, fmt.Errorf("no proof step at offset %d", off)
	}
	if step.Formula == nil {
		return nil, fmt.Errorf("step %s has no goal formula", step.Name)
	}
	goal := *step.Formula

	var ref *db.Statement
	if step.Label != "" && step.Label != "?" {
		ref = snap.Statement(step.Label)
		if ref == nil || !ref.IsAssertion() {
			return nil, fmt.Errorf("%s is not an axiom or theorem", step.Label)
		}
	} else {
		if e := w.assumption(snap, step, goal); e != nil {
			return e, nil
		}
		bound := -1
		if la := snap.Statement(w.LocAfter); la != nil {
			bound = la.Index + 1
		}
		cands, err := unify.Search(ctx, snap, goal, bound, 1)
		if err != nil {
			return nil, err
		}
		if len(cands) == 0 {
			return nil, fmt.Errorf("no assertion unifies with the goal of step %s", step.Name)
		}
		ref = cands[0].Stmt
	}

	ess := ref.Frame.Essentials
	hyps := make([]*db.Formula, len(ess))
	refs := make([]string, len(ess))
	for i := range ess {
		if i < len(step.HypRefs) && step.HypRefs[i] != "" {
			refs[i] = step.HypRefs[i]
			if h := w.Step(step.HypRefs[i]); h != nil {
				hyps[i] = h.Formula
			}
		}
	}
	subst, fail := unify.Apply(snap.Syms, ref, goal, hyps)
	if fail != nil {
		return nil, fmt.Errorf("step %s does not unify with %s: %s",
			step.Name, ref.Label, fail.Describe(snap.Syms))
	}

	// Open premises become new ? steps placed above the elaborated one.
	num := w.nextNum()
	var b strings.Builder
	for i, e := range ess {
		if refs[i] != "" {
			continue
		}
		name := strconv.Itoa(num)
		num++
		refs[i] = name
		b.WriteString(stepLine(name, nil, "?", subst.ApplyFormula(e.Formula).String(snap.Syms)))
		b.WriteString("\n")
	}
	b.WriteString(stepLine(step.Name, refs, ref.Label, goal.String(snap.Syms)))
	b.WriteString("\n")
	return &Edit{Start: step.Pos.Off, End: step.End, NewText: b.String()}, nil
}

// assumption rewrites the step as a direct reference to one of the
// theorem's essential hypotheses when the goal matches one exactly.
func (w *Worksheet) assumption(snap *db.Snapshot, step *Step, goal db.Formula) *Edit {
	thm := snap.Statement(w.Theorem)
	if thm == nil || thm.Frame == nil {
		return nil
	}
	for _, h := range thm.Frame.Essentials {
		if goal.Equal(h.Formula) {
			text := stepLine(step.Name, nil, h.Label, goal.String(snap.Syms)) + "\n"
			return &Edit{Start: step.Pos.Off, End: step.End, NewText: text}
		}
	}
	return nil
}

// nextNum returns the first unused numeric step name.
func (w *Worksheet) nextNum() int {
	max := 0
	for _, s := range w.Steps {
		if n, err := strconv.Atoi(strings.TrimPrefix(s.Name, "h")); err == nil && n > max {
			max = n
		}
	}
	return max + 1
}
