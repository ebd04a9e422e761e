// Package worksheet reads and writes MMP proof worksheets: the
// line-oriented documents a user edits while proving a theorem. A
// worksheet names the theorem being proved, the statement it will be
// inserted after, and one step per line in the form
//
//	name:hypRefs:label formula...
//
// Lines starting with whitespace continue the previous step, lines
// starting with * are comments, and a $= block carries the generated
// proof until the closing $).
package worksheet

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mm-lang/mmlsp/db"
	"github.com/mm-lang/mmlsp/diag"
	"github.com/mm-lang/mmlsp/token"
)

type StepKind int

const (
	// Hyp steps restate one of the theorem's essential hypotheses.
	Hyp StepKind = iota
	// Derive steps apply an assertion to earlier steps.
	Derive
	// Qed is the final step; its formula must be the theorem's own.
	Qed
)

// Step is one proof line. HypRefs holds the referenced step names with ""
// for a ? placeholder; Label is "" when missing and "?" when explicitly
// open. Formula is nil when the line's formula did not tokenize.
type Step struct {
	Name    string
	Kind    StepKind
	HypRefs []string
	Label   string
	Formula *db.Formula

	Pos        token.Pos // start of the step's source block
	End        int       // one past the last byte of the block
	FormulaOff int       // offset of the formula text, -1 if absent
}

// Worksheet is a parsed MMP document plus everything needed to map
// diagnostics back to source offsets.
type Worksheet struct {
	File     *token.File
	Theorem  string
	LocAfter string
	Steps    []*Step
	ProofOff int // offset of the $= block, -1 if absent

	byName map[string]*Step
}

// Step resolves a step reference. Hypothesis steps are named h1, h2, ...
// but referenced by bare number, so "1" falls back to "h1".
func (w *Worksheet) Step(name string) *Step {
	if s := w.byName[name]; s != nil {
		return s
	}
	return w.byName["h"+name]
}

// StepAt returns the step whose source block covers the byte offset.
func (w *Worksheet) StepAt(off int) *Step {
	for _, s := range w.Steps {
		if off >= s.Pos.Off && off < s.End {
			return s
		}
	}
	return nil
}

var (
	headerRE = regexp.MustCompile(`^\$\( <MM> <PROOF_ASST> THEOREM=([0-9A-Za-z_.\-]+)  LOC_AFTER=(\?|[0-9A-Za-z_.\-]+)`)
	stepRE   = regexp.MustCompile(`^([0-9a-z]+):([0-9a-z?,]*):(\?|[0-9A-Za-z_.\-]*)([\s\S]*)$`)
)

// Parse splits text into steps and tokenizes each formula against the
// snapshot's symbols. Structural problems come back as diagnostics; the
// worksheet is always returned so that queries keep working on a
// half-edited document.
func Parse(snap *db.Snapshot, name, text string) (*Worksheet, []diag.Diag) {
	f := token.NewFile(name, []byte(text))
	w := &Worksheet{File: f, ProofOff: -1, byName: map[string]*Step{}}
	var ds []diag.Diag

	blocks := splitBlocks(text)
	if len(blocks) == 0 || !strings.HasPrefix(blocks[0].text, "$(") {
		ds = append(ds, diag.Errorf(token.Pos{File: f}, 0, diag.BadWorksheetLine,
			"worksheet must start with a $( <MM> <PROOF_ASST> header"))
		return w, ds
	}
	m := headerRE.FindStringSubmatch(blocks[0].text)
	if m == nil {
		ds = append(ds, diag.Errorf(token.Pos{File: f}, blocks[0].end, diag.BadWorksheetLine,
			"malformed worksheet header"))
	} else {
		w.Theorem = m[1]
		w.LocAfter = m[2]
	}

	for _, b := range blocks[1:] {
		switch {
		case strings.HasPrefix(b.text, "*"):
			// comment block
		case strings.HasPrefix(b.text, "$="):
			w.ProofOff = b.off
		case strings.HasPrefix(b.text, "$)"):
			// end marker
		case strings.HasPrefix(b.text, "$"):
			ds = append(ds, diag.Errorf(token.Pos{File: f, Off: b.off}, b.end, diag.BadWorksheetLine,
				"unexpected directive in worksheet"))
		default:
			step, sds := parseStep(snap, f, b)
			ds = append(ds, sds...)
			if step != nil {
				w.Steps = append(w.Steps, step)
				w.byName[step.Name] = step
			}
		}
	}
	return w, ds
}

type block struct {
	text string
	off  int
	end  int
}

// splitBlocks groups the text into header/step/comment blocks. A line
// starting with space or tab continues the previous block.
func splitBlocks(text string) []block {
	var out []block
	off := 0
	for off < len(text) {
		end := off
		for {
			nl := strings.IndexByte(text[end:], '\n')
			if nl < 0 {
				end = len(text)
				break
			}
			end += nl + 1
			if end >= len(text) {
				break
			}
			if c := text[end]; c != ' ' && c != '\t' && c != '\n' {
				break
			}
		}
		b := block{text: text[off:end], off: off, end: end}
		if strings.TrimSpace(b.text) != "" {
			out = append(out, b)
		}
		off = end
	}
	return out
}

func parseStep(snap *db.Snapshot, f *token.File, b block) (*Step, []diag.Diag) {
	m := stepRE.FindStringSubmatchIndex(b.text)
	if m == nil {
		return nil, []diag.Diag{diag.Errorf(token.Pos{File: f, Off: b.off}, b.end,
			diag.BadWorksheetLine, "malformed proof line")}
	}
	group := func(i int) string {
		if m[2*i] < 0 {
			return ""
		}
		return b.text[m[2*i]:m[2*i+1]]
	}
	step := &Step{
		Name:       group(1),
		Label:      group(3),
		Pos:        token.Pos{File: f, Off: b.off},
		End:        b.end,
		FormulaOff: -1,
	}
	switch {
	case step.Name == "qed":
		step.Kind = Qed
	case strings.HasPrefix(step.Name, "h"):
		step.Kind = Hyp
	default:
		step.Kind = Derive
	}
	if refs := group(2); refs != "" {
		for _, r := range strings.Split(refs, ",") {
			if r == "?" {
				r = ""
			}
			step.HypRefs = append(step.HypRefs, r)
		}
	}

	var ds []diag.Diag
	if rest := strings.TrimSpace(group(4)); rest != "" {
		step.FormulaOff = b.off + m[8] + strings.Index(group(4), rest[:1])
		formula, fds := parseFormula(snap, f, group(4), b.off+m[8])
		ds = append(ds, fds...)
		step.Formula = formula
	}
	return step, ds
}

// parseFormula tokenizes a step formula. The first symbol is the
// typecode and must be a constant; every other symbol must be known to
// the database.
func parseFormula(snap *db.Snapshot, f *token.File, text string, off int) (*db.Formula, []diag.Diag) {
	var ds []diag.Diag
	var formula db.Formula
	first := true
	ok := true
	for _, fld := range fieldsWithOffset(text) {
		a, known := snap.Syms.Lookup(fld.word)
		if !known {
			ds = append(ds, diag.Errorf(token.Pos{File: f, Off: off + fld.off}, off+fld.off+len(fld.word),
				diag.UnknownToken, "unknown math token %s", fld.word))
			ok = false
			continue
		}
		if first {
			if snap.Syms.IsVar(a) {
				ds = append(ds, diag.Errorf(token.Pos{File: f, Off: off + fld.off}, off+fld.off+len(fld.word),
					diag.MalformedStmt, "step formula must start with a constant typecode"))
				ok = false
			}
			formula.Typecode = a
			first = false
			continue
		}
		formula.Expr = append(formula.Expr, a)
	}
	if first || !ok {
		return nil, ds
	}
	return &formula, ds
}

type field struct {
	word string
	off  int
}

func fieldsWithOffset(s string) []field {
	var out []field
	i := 0
	for i < len(s) {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		start := i
		for i < len(s) && !isSpace(s[i]) {
			i++
		}
		if i > start {
			out = append(out, field{word: s[start:i], off: start})
		}
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Header formats the first line of a worksheet.
func Header(theorem, locAfter string) string {
	if locAfter == "" {
		locAfter = "?"
	}
	return fmt.Sprintf("$( <MM> <PROOF_ASST> THEOREM=%s  LOC_AFTER=%s", theorem, locAfter)
}
