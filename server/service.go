// Package server hosts the query service and its LSP binding. The
// database is exposed to readers as immutable versioned snapshots; a
// worker pool rebuilds snapshots and worksheets in the background while
// queries stay responsive on the caller's goroutine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/mm-lang/mmlsp/db"
	"github.com/mm-lang/mmlsp/debug"
	"github.com/mm-lang/mmlsp/diag"
	"github.com/mm-lang/mmlsp/token"
	"github.com/mm-lang/mmlsp/verify"
	"github.com/mm-lang/mmlsp/worksheet"
)

// DocState tracks where a document is in its reparse lifecycle.
type DocState int

const (
	Unparsed DocState = iota
	Parsing
	Ready
	Stale
	Closed
)

func (s DocState) String() string {
	switch s {
	case Unparsed:
		return "unparsed"
	case Parsing:
		return "parsing"
	case Ready:
		return "ready"
	case Stale:
		return "stale"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Options configures a Service.
type Options struct {
	// MainFile is the root database file loaded at startup.
	MainFile string
	// Jobs bounds the number of concurrent background jobs. Defaults
	// to 1.
	Jobs int
	// Load overrides file access; nil reads from disk. Open documents
	// shadow it with their in-editor text.
	Load token.Loader
	// Notify, when set, receives the diagnostics of a document each
	// time a reparse of it completes.
	Notify func(uri string, version int32, ds []diag.Diag)
	Logger *slog.Logger
}

type document struct {
	uri     string
	path    string
	text    string
	version int32
	state   DocState
	diags   []diag.Diag
	ws      *worksheet.Worksheet

	// reparse bookkeeping: cancel stops the in-flight job, done is
	// closed when it finishes (published or canceled).
	cancel context.CancelFunc
	done   chan struct{}
	jobSeq int64
}

// Service answers queries against the current snapshot and keeps it up
// to date as documents change.
type Service struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	snap    *db.Snapshot
	store   *verify.Store
	docs    map[string]*document
	dvHints bool

	jobs   chan func()
	quit   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewService builds the initial snapshot from the main file and starts
// the worker pool. The returned service owns the pool until Close.
func NewService(ctx context.Context, opts Options) (*Service, error) {
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	if opts.Load == nil {
		opts.Load = os.ReadFile
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	s := &Service{
		opts:  opts,
		log:   opts.Logger,
		store: verify.NewStore(),
		docs:  map[string]*document{},
		jobs:  make(chan func(), 64),
		quit:  make(chan struct{}),
	}
	snap, err := db.Build(ctx, opts.MainFile, s.load, nil)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", opts.MainFile, err)
	}
	s.snap = snap
	s.log.Info("database loaded",
		"main", opts.MainFile,
		"statements", len(snap.Stmts),
		"diagnostics", len(snap.Diags))

	for i := 0; i < opts.Jobs; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s, nil
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.jobs:
			job()
		case <-s.quit:
			return
		}
	}
}

// Close cancels pending work and stops the worker pool.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, doc := range s.docs {
		if doc.cancel != nil {
			doc.cancel()
		}
	}
	s.mu.Unlock()
	close(s.quit)
	s.wg.Wait()
}

// load serves file contents, letting open documents shadow the backing
// store so unsaved edits are visible to rebuilds.
func (s *Service) load(path string) ([]byte, error) {
	s.mu.Lock()
	for _, doc := range s.docs {
		if doc.path == path && doc.state != Closed {
			text := doc.text
			s.mu.Unlock()
			return []byte(text), nil
		}
	}
	s.mu.Unlock()
	return s.opts.Load(path)
}

// Snapshot returns the current database snapshot. It is immutable and
// safe to read concurrently with background rebuilds.
func (s *Service) Snapshot() *db.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Text returns the current text of an open document.
func (s *Service) Text(uri string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc := s.docs[uri]; doc != nil {
		return doc.text, true
	}
	return "", false
}

func (s *Service) State(uri string) DocState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc := s.docs[uri]; doc != nil {
		return doc.state
	}
	return Unparsed
}

// Open registers a document and schedules its first parse.
func (s *Service) Open(uri, path, text string, version int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := &document{uri: uri, path: path, text: text, version: version, state: Unparsed}
	s.docs[uri] = doc
	s.schedule(doc)
}

// Change replaces a document's text. Any in-flight reparse of the same
// document is superseded: it is canceled and its results are discarded.
func (s *Service) Change(uri, text string, version int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[uri]
	if doc == nil || doc.state == Closed {
		return
	}
	doc.text = text
	doc.version = version
	if doc.state == Ready {
		doc.state = Stale
	}
	s.schedule(doc)
}

// CloseDoc unregisters a document and cancels its pending work.
func (s *Service) CloseDoc(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[uri]
	if doc == nil {
		return
	}
	doc.state = Closed
	if doc.cancel != nil {
		doc.cancel()
	}
	delete(s.docs, uri)
}

// schedule queues a reparse for doc. Callers hold s.mu.
func (s *Service) schedule(doc *document) {
	if s.closed {
		return
	}
	if doc.cancel != nil {
		doc.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	doc.cancel = cancel
	doc.done = make(chan struct{})
	doc.jobSeq++
	if doc.state != Unparsed {
		doc.state = Stale
	}

	seq := doc.jobSeq
	done := doc.done
	text := doc.text
	version := doc.version
	if debug.Jobs() {
		debug.Logf("jobs: schedule %s seq=%d\n", doc.uri, seq)
	}
	job := func() {
		defer close(done)
		defer cancel()
		s.reparse(ctx, doc, seq, text, version)
	}
	select {
	case s.jobs <- job:
	default:
		// Queue full. Hand off asynchronously rather than blocking the
		// dispatch path; superseded jobs are dropped by their seq check.
		go func() {
			select {
			case s.jobs <- job:
			case <-s.quit:
				cancel()
				close(done)
			}
		}()
	}
}

// reparse runs off the dispatch path. It publishes results only when the
// job has not been superseded by a newer edit.
func (s *Service) reparse(ctx context.Context, doc *document, seq int64, text string, version int32) {
	s.mu.Lock()
	if doc.jobSeq != seq || doc.state == Closed {
		s.mu.Unlock()
		return
	}
	doc.state = Parsing
	snap := s.snap
	s.mu.Unlock()

	var (
		ds  []diag.Diag
		ws  *worksheet.Worksheet
		err error
	)
	if isWorksheet(doc.path) {
		ws, ds = s.checkWorksheet(ctx, snap, doc.uri, text)
	} else {
		snap, ds, err = s.rebuild(ctx, snap, doc.path)
	}
	if err != nil || ctx.Err() != nil {
		// Canceled jobs never publish: the superseding job owns the
		// document now.
		if err != nil && ctx.Err() == nil {
			s.log.Error("reparse failed", "uri", doc.uri, "err", err)
		}
		return
	}

	s.mu.Lock()
	if doc.jobSeq != seq || doc.state == Closed {
		s.mu.Unlock()
		return
	}
	doc.state = Ready
	doc.diags = ds
	doc.ws = ws
	if ws == nil {
		s.snap = snap
	}
	notify := s.opts.Notify
	s.mu.Unlock()

	if notify != nil {
		notify(doc.uri, version, ds)
	}
}

// rebuild constructs the next snapshot after an edit to a database file
// and verifies what the edit invalidated. Unchanged leading segments are
// shared with the previous snapshot.
func (s *Service) rebuild(ctx context.Context, prev *db.Snapshot, path string) (*db.Snapshot, []diag.Diag, error) {
	next, err := db.Rebuild(ctx, prev, s.opts.MainFile, s.load)
	if err != nil {
		return nil, nil, err
	}
	vds, err := verify.VerifyAll(ctx, next, s.store, s.opts.Jobs)
	if err != nil {
		return nil, nil, err
	}
	var ds []diag.Diag
	for _, d := range append(append([]diag.Diag{}, next.Diags...), vds...) {
		if d.Pos.File != nil && d.Pos.File.Name == path {
			ds = append(ds, d)
		}
	}
	diag.Sort(ds)
	return next, ds, nil
}

// checkWorksheet parses and validates a worksheet document.
func (s *Service) checkWorksheet(ctx context.Context, snap *db.Snapshot, uri, text string) (*worksheet.Worksheet, []diag.Diag) {
	ws, ds := worksheet.Parse(snap, uri, text)
	cds, err := worksheet.Check(ctx, snap, ws)
	if err != nil {
		return ws, ds
	}
	ds = append(ds, cds...)
	if s.DvHints() {
		ds = append(ds, dvHints(snap, ws)...)
	}
	diag.Sort(ds)
	return ws, ds
}

// Diagnostics returns a document's diagnostics. With fresh set, it waits
// for the pending reparse so the result reflects the latest edit;
// otherwise the last published result is returned immediately.
func (s *Service) Diagnostics(ctx context.Context, uri string, fresh bool) ([]diag.Diag, error) {
	s.mu.Lock()
	doc := s.docs[uri]
	if doc == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("unknown document %s", uri)
	}
	done := doc.done
	ds := doc.diags
	s.mu.Unlock()

	if !fresh || done == nil {
		return ds, nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	ds = doc.diags
	s.mu.Unlock()
	return ds, nil
}

// worksheetAt waits for the document's pending reparse and returns its
// worksheet together with the snapshot it was checked against.
func (s *Service) worksheetAt(ctx context.Context, uri string) (*worksheet.Worksheet, *db.Snapshot, error) {
	s.mu.Lock()
	doc := s.docs[uri]
	var done chan struct{}
	if doc != nil {
		done = doc.done
	}
	s.mu.Unlock()
	if doc == nil {
		return nil, nil, fmt.Errorf("unknown document %s", uri)
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ws == nil {
		return nil, nil, fmt.Errorf("%s is not a proof worksheet", uri)
	}
	return doc.ws, s.snap, nil
}

// ShowProof verifies a theorem and renders it as a worksheet.
func (s *Service) ShowProof(ctx context.Context, label string) (string, error) {
	snap := s.Snapshot()
	st := snap.ActiveAssertion(label)
	if st == nil {
		return "", fmt.Errorf("unknown theorem %s", label)
	}
	vp, err := s.store.Verify(ctx, snap, st)
	if err != nil {
		return "", err
	}
	return worksheet.Render(snap, vp, "?"), nil
}

// UnifyStep elaborates the worksheet step at a byte offset and returns
// the replacement edit.
func (s *Service) UnifyStep(ctx context.Context, uri string, off int) (*worksheet.Edit, error) {
	ws, snap, err := s.worksheetAt(ctx, uri)
	if err != nil {
		return nil, err
	}
	return worksheet.UnifyStep(ctx, snap, ws, off)
}

// ToggleDvHints flips the disjoint-variable hint setting and returns the
// new state. Open worksheets are rechecked so the hints appear or
// disappear on the next publish.
func (s *Service) ToggleDvHints() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dvHints = !s.dvHints
	for _, doc := range s.docs {
		if isWorksheet(doc.path) && doc.state != Closed {
			s.schedule(doc)
		}
	}
	return s.dvHints
}

func (s *Service) DvHints() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dvHints
}

// dvHints emits one hint per mandatory disjoint-variable pair of the
// worksheet's theorem.
func dvHints(snap *db.Snapshot, ws *worksheet.Worksheet) []diag.Diag {
	thm := snap.Statement(ws.Theorem)
	if thm == nil || thm.Frame == nil {
		return nil
	}
	var ds []diag.Diag
	for _, pair := range thm.Frame.Disjoint {
		ds = append(ds, diag.Diag{
			Pos:      ws.File.Pos(0),
			Severity: diag.Hint,
			Code:     diag.DisjointViolation,
			Message: fmt.Sprintf("%s requires $d %s %s", thm.Label,
				snap.Syms.Name(pair[0]), snap.Syms.Name(pair[1])),
		})
	}
	return ds
}

func isWorksheet(path string) bool {
	return len(path) > 4 && path[len(path)-4:] == ".mmp"
}
