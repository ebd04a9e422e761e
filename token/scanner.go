package token

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mm-lang/mmlsp/debug"
)

// Loader reads the bytes of an include target. The default loader is
// os.ReadFile; tests and virtual documents substitute their own.
type Loader func(path string) ([]byte, error)

// Scanner produces the token sequence of a root file and its transitive
// includes. Include directives ($[ path $]) are expanded in place,
// depth-first. A file already on the include stack triggers a
// CyclicIncludeError; a file that was fully included earlier is skipped,
// per the metamath one-shot include rule.
//
// Include errors are returned from Next but leave the scanner in a usable
// state: the offending directive is skipped and scanning continues, so the
// caller can record a diagnostic and keep going.
type Scanner struct {
	load    Loader
	frames  []*frame
	onStack map[string]bool
	seen    map[string]bool
	pending []string // comment text awaiting the next token
}

type frame struct {
	file *File
	off  int
}

// NewScanner opens root and prepares scanning. Visited carries paths to be
// treated as already included; it may be nil.
func NewScanner(root string, visited map[string]bool, load Loader) (*Scanner, error) {
	if load == nil {
		load = os.ReadFile
	}
	s := &Scanner{
		load:    load,
		onStack: map[string]bool{},
		seen:    map[string]bool{},
	}
	for p := range visited {
		s.seen[p] = true
	}
	data, err := load(root)
	if err != nil {
		return nil, &IOError{Path: root, Err: err}
	}
	s.push(root, data)
	return s, nil
}

// NewScannerFromBytes scans an in-memory buffer, as needed for unsaved
// editor documents. Includes are resolved relative to name's directory.
func NewScannerFromBytes(name string, data []byte, load Loader) *Scanner {
	if load == nil {
		load = os.ReadFile
	}
	s := &Scanner{
		load:    load,
		onStack: map[string]bool{},
		seen:    map[string]bool{},
	}
	s.push(name, data)
	return s
}

func (s *Scanner) push(name string, data []byte) {
	s.onStack[name] = true
	s.seen[name] = true
	s.frames = append(s.frames, &frame{file: NewFile(name, data)})
}

func (s *Scanner) pop() {
	top := s.frames[len(s.frames)-1]
	delete(s.onStack, top.file.Name)
	s.frames = s.frames[:len(s.frames)-1]
}

func isMMSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f':
		return true
	}
	return false
}

// chunk returns the next whitespace-delimited chunk of the current frame,
// or "" when the frame is exhausted.
func (s *Scanner) chunk() (string, Pos) {
	top := s.frames[len(s.frames)-1]
	d := top.file.Data
	for top.off < len(d) && isMMSpace(d[top.off]) {
		top.off++
	}
	if top.off >= len(d) {
		return "", top.file.Pos(top.off)
	}
	start := top.off
	for top.off < len(d) && !isMMSpace(d[top.off]) {
		top.off++
	}
	return string(d[start:top.off]), top.file.Pos(start)
}

// Next returns the next token, io.EOF at the end of the expanded stream, or
// an include error. After an include error the scanner remains usable.
func (s *Scanner) Next() (*Token, error) {
	for {
		if len(s.frames) == 0 {
			return nil, io.EOF
		}
		c, pos := s.chunk()
		if c == "" {
			s.pop()
			continue
		}
		switch c {
		case "$(":
			if err := s.skipComment(pos); err != nil {
				return nil, err
			}
			continue
		case "$[":
			if err := s.include(pos); err != nil {
				return nil, err
			}
			continue
		}
		tok := &Token{Text: c, Pos: pos, Comment: s.takeComment()}
		if t, ok := keywords[c]; ok {
			tok.Type = t
		} else if strings.HasPrefix(c, "$") {
			return nil, NewScanErr(errors.New("unknown keyword "+c), pos)
		} else {
			tok.Type = TSymbol
		}
		if debug.Scan() {
			debug.Logf("scan: %s\n", tok.Info())
		}
		return tok, nil
	}
}

// skipComment consumes a $( ... $) comment and stores its text so it can be
// attached to the following token.
func (s *Scanner) skipComment(open Pos) error {
	var words []string
	for {
		c, _ := s.chunk()
		if c == "" {
			return NewScanErr(errors.New("unterminated comment"), open)
		}
		if c == "$)" {
			break
		}
		words = append(words, c)
	}
	s.pending = append(s.pending, strings.Join(words, " "))
	return nil
}

// takeComment drains the comments seen since the previous token. Several
// back-to-back comments all describe the token that follows, so they are
// joined into one blank-line-separated text.
func (s *Scanner) takeComment() string {
	if len(s.pending) == 0 {
		return ""
	}
	c := strings.Join(s.pending, "\n\n")
	s.pending = s.pending[:0]
	return c
}

// include expands a $[ path $] directive in place.
func (s *Scanner) include(open Pos) error {
	path, _ := s.chunk()
	if path == "" || strings.HasPrefix(path, "$") {
		return NewScanErr(errors.New("malformed include directive"), open)
	}
	if cl, _ := s.chunk(); cl != "$]" {
		return NewScanErr(errors.New("include directive missing $]"), open)
	}
	top := s.frames[len(s.frames)-1]
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(top.file.Name), path)
	}
	if s.onStack[path] {
		return &CyclicIncludeError{Path: path, Pos: open}
	}
	if s.seen[path] {
		// Each file is included at most once.
		return nil
	}
	data, err := s.load(path)
	if err != nil {
		s.seen[path] = true
		return &IOError{Path: path, Pos: open, Err: err}
	}
	s.push(path, data)
	return nil
}

// Files lists the paths visited so far, in no particular order.
func (s *Scanner) Files() []string {
	res := make([]string, 0, len(s.seen))
	for p := range s.seen {
		res = append(res, p)
	}
	return res
}
