package diag

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// Fprint writes diagnostics in a human-readable, optionally colored form.
// Color is applied only when w is a terminal.
func Fprint(w io.Writer, ds []Diag) {
	useColor := false
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		useColor = true
	}
	sevColor := map[Severity]func(format string, a ...interface{}) string{
		Error:   color.RedString,
		Warning: color.YellowString,
		Info:    color.CyanString,
		Hint:    color.HiBlackString,
	}
	for _, d := range ds {
		if !useColor {
			fmt.Fprintln(w, d.String())
			continue
		}
		l, c := d.Pos.LineCol()
		name := "<mem>"
		if d.Pos.File != nil {
			name = d.Pos.File.Name
		}
		fmt.Fprintf(w, "%s:%d:%d: %s: %s %s\n",
			name, l+1, c+1,
			sevColor[d.Severity](d.Severity.String()),
			d.Message,
			color.HiBlackString("[%s]", d.Code))
	}
}

// FormulaDiff renders a word-level diff between two formulas, used in
// conclusion-mismatch messages. Deleted symbols are wrapped in [-...-],
// inserted ones in {+...+}.
func FormulaDiff(want, got string) string {
	cfg := diffpatch.New()
	wantRunes, gotRunes, words := cfg.DiffLinesToRunes(splitWords(want), splitWords(got))
	diffs := cfg.DiffMainRunes(wantRunes, gotRunes, false)
	diffs = cfg.DiffCharsToLines(diffs, words)
	var b strings.Builder
	for _, d := range diffs {
		text := strings.TrimSuffix(d.Text, "\n")
		text = strings.ReplaceAll(text, "\n", " ")
		switch d.Type {
		case diffpatch.DiffDelete:
			fmt.Fprintf(&b, "[-%s-] ", text)
		case diffpatch.DiffInsert:
			fmt.Fprintf(&b, "{+%s+} ", text)
		default:
			b.WriteString(text + " ")
		}
	}
	return strings.TrimSpace(b.String())
}

func splitWords(s string) string {
	return strings.Join(strings.Fields(s), "\n") + "\n"
}
