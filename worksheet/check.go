package worksheet

import (
	"context"

	"github.com/mm-lang/mmlsp/db"
	"github.com/mm-lang/mmlsp/diag"
	"github.com/mm-lang/mmlsp/unify"
)

// Check validates the worksheet's steps against the database: label
// resolution, loc_after discipline, hypothesis references, and
// unification of each derived formula against the cited assertion.
func Check(ctx context.Context, snap *db.Snapshot, w *Worksheet) ([]diag.Diag, error) {
	var ds []diag.Diag

	// The worksheet's theorem is inserted right after the LOC_AFTER
	// statement, so that statement itself is still citable.
	bound := -1
	if w.LocAfter != "" && w.LocAfter != "?" {
		if st := snap.Statement(w.LocAfter); st != nil {
			bound = st.Index + 1
		} else {
			ds = append(ds, diag.Warningf(w.File.Pos(0), 0, diag.UnknownTheorem,
				"LOC_AFTER label %s is not in the database", w.LocAfter))
		}
	}
	thm := snap.Statement(w.Theorem)

	seen := map[string]bool{}
	for _, step := range w.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ds = append(ds, checkStep(snap, w, step, thm, bound, seen)...)
		seen[step.Name] = true
	}
	return ds, nil
}

func checkStep(snap *db.Snapshot, w *Worksheet, step *Step, thm *db.Statement, bound int, seen map[string]bool) []diag.Diag {
	var ds []diag.Diag
	for _, ref := range step.HypRefs {
		if ref == "" {
			continue
		}
		if !seen[ref] && !seen["h"+ref] {
			ds = append(ds, diag.Errorf(step.Pos, step.End, diag.UnknownStepName,
				"step %s references unknown step %s", step.Name, ref))
		}
	}

	switch step.Kind {
	case Hyp:
		// A hypothesis step restates one of the theorem's essential
		// hypotheses by label.
		if thm == nil || step.Label == "" || step.Label == "?" {
			return ds
		}
		hyp := thm.Frame.ActiveHyp(step.Label)
		if hyp == nil {
			ds = append(ds, diag.Errorf(step.Pos, step.End, diag.UnknownTheorem,
				"%s is not a hypothesis of %s", step.Label, thm.Label))
			return ds
		}
		if step.Formula != nil && !step.Formula.Equal(hyp.Formula) {
			ds = append(ds, diag.Errorf(step.Pos, step.End, diag.UnificationFailed,
				"hypothesis formula does not match %s: %s", step.Label,
				diag.FormulaDiff(hyp.Formula.String(snap.Syms), step.Formula.String(snap.Syms))))
		}
		return ds

	case Qed:
		if thm != nil && step.Formula != nil && !step.Formula.Equal(thm.Formula) {
			ds = append(ds, diag.Errorf(step.Pos, step.End, diag.ConclusionMismatch,
				"qed formula differs from %s: %s", thm.Label,
				diag.FormulaDiff(thm.Formula.String(snap.Syms), step.Formula.String(snap.Syms))))
		}
	}

	if step.Label == "" || step.Label == "?" {
		return ds
	}
	ref := snap.Statement(step.Label)
	if ref == nil {
		ds = append(ds, diag.Errorf(step.Pos, step.End, diag.UnknownTheorem,
			"unknown label %s", step.Label))
		return ds
	}
	if !ref.IsAssertion() {
		ds = append(ds, diag.Errorf(step.Pos, step.End, diag.UnknownTheorem,
			"%s is a hypothesis, not an axiom or theorem", step.Label))
		return ds
	}
	if bound >= 0 && ref.Index >= bound {
		ds = append(ds, diag.Errorf(step.Pos, step.End, diag.LocAfterViolation,
			"%s is declared after the insertion point %s", step.Label, w.LocAfter))
	}
	if step.Formula == nil {
		return ds
	}

	ess := ref.Frame.Essentials
	if len(step.HypRefs) != len(ess) {
		ds = append(ds, diag.Errorf(step.Pos, step.End, diag.WrongHypCount,
			"wrong hypothesis count for %s: expected %d, got %d", step.Label, len(ess), len(step.HypRefs)))
		return ds
	}
	hyps := make([]*db.Formula, len(ess))
	for i, name := range step.HypRefs {
		if name == "" {
			continue
		}
		if h := w.Step(name); h != nil {
			hyps[i] = h.Formula
		}
	}
	if _, fail := unify.Apply(snap.Syms, ref, *step.Formula, hyps); fail != nil {
		code := diag.UnificationFailed
		if fail.Reason == unify.InconsistentBinding {
			code = diag.InconsistentBinding
		}
		ds = append(ds, diag.Errorf(step.Pos, step.End, code,
			"step %s does not unify with %s: %s", step.Name, step.Label, fail.Describe(snap.Syms)))
	}
	return ds
}
