package token

import (
	"fmt"
	"sort"
	"strconv"
)

// File holds the contents of one scanned source file together with a
// newline index so positions can be resolved to line/column lazily.
type File struct {
	Name string
	Data []byte
	n    []int // offsets of '\n'
}

func NewFile(name string, data []byte) *File {
	f := &File{Name: name, Data: data}
	for i, b := range data {
		if b == '\n' {
			f.n = append(f.n, i)
		}
	}
	return f
}

// LineCol resolves a byte offset to a zero-based line and column.
func (f *File) LineCol(off int) (int, int) {
	N := len(f.n)
	di := sort.Search(N, func(i int) bool {
		return f.n[i] >= off
	})
	switch di {
	case 0:
		return 0, off
	default:
		return di, off - f.n[di-1] - 1
	}
}

func (f *File) Pos(off int) Pos {
	return Pos{File: f, Off: off}
}

// Pos is a position in a scanned file.
type Pos struct {
	File *File
	Off  int
}

func (p Pos) LineCol() (int, int) {
	if p.File == nil {
		return 0, 0
	}
	return p.File.LineCol(p.Off)
}

func (p Pos) Line() int {
	l, _ := p.LineCol()
	return l
}

func (p Pos) Col() int {
	_, c := p.LineCol()
	return c
}

func (p Pos) String() string {
	if p.File == nil {
		return "<unknown position>"
	}
	d := p.File.Data
	sample := string(d[max(0, p.Off-5):min(p.Off+5, len(d))])
	sample = strconv.Quote(sample)
	sample = sample[1 : len(sample)-1]
	l, c := p.LineCol()
	return fmt.Sprintf("`...%s...` in %s at offset %d (line=%d, col=%d)", sample, p.File.Name, p.Off, l, c)
}
