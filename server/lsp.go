package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/mm-lang/mmlsp/db"
	"github.com/mm-lang/mmlsp/diag"
	"github.com/mm-lang/mmlsp/token"
)

const lsName = "mmlsp"

var version = "0.1.0"

// Custom requests beyond the standard LSP surface.
const (
	MethodShowProof     = "metamath/showProof"
	MethodUnify         = "metamath/unify"
	MethodToggleDvHints = "metamath/toggleDvHints"
)

type ShowProofParams struct {
	Label string `json:"label"`
}

type UnifyParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Position     protocol.Position               `json:"position"`
}

// Server binds the query service to the LSP wire protocol.
type Server struct {
	conn jsonrpc2.Conn
	log  *slog.Logger
	opts Options

	mu  sync.Mutex
	svc *Service
}

// NewServer prepares an LSP server. The database itself is loaded when
// the client sends initialize, so initializationOptions can override the
// main file and job count.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{log: opts.Logger, opts: opts}
}

// Service exposes the underlying query service, nil before initialize.
func (s *Server) Service() *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.svc
}

// Run serves LSP over the given stream until the client disconnects.
func (s *Server) Run(ctx context.Context, rwc io.ReadWriteCloser) error {
	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(rwc))
	s.conn = conn
	conn.Go(ctx, s.handler(protocol.ServerHandler(s, nil)))
	select {
	case <-conn.Done():
	case <-ctx.Done():
		conn.Close()
		<-conn.Done()
	}
	if svc := s.Service(); svc != nil {
		svc.Close()
	}
	return nil
}

// Stdio is the stdin/stdout stream the LSP client speaks over.
func Stdio() io.ReadWriteCloser {
	return &stdioReadWriteCloser{}
}

type stdioReadWriteCloser struct{}

func (s *stdioReadWriteCloser) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (s *stdioReadWriteCloser) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (s *stdioReadWriteCloser) Close() error                { return nil }

// handler intercepts the metamath/* extension methods and delegates the
// rest to the generated LSP dispatch.
func (s *Server) handler(next jsonrpc2.Handler) jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		svc := s.Service()
		if svc == nil {
			return next(ctx, reply, req)
		}
		switch req.Method() {
		case MethodShowProof:
			var params ShowProofParams
			if err := json.Unmarshal(req.Params(), &params); err != nil {
				return reply(ctx, nil, err)
			}
			text, err := svc.ShowProof(ctx, params.Label)
			return reply(ctx, text, err)
		case MethodUnify:
			var params UnifyParams
			if err := json.Unmarshal(req.Params(), &params); err != nil {
				return reply(ctx, nil, err)
			}
			edit, err := s.unify(ctx, svc, params)
			return reply(ctx, edit, err)
		case MethodToggleDvHints:
			return reply(ctx, svc.ToggleDvHints(), nil)
		}
		return next(ctx, reply, req)
	}
}

func (s *Server) unify(ctx context.Context, svc *Service, params UnifyParams) (*protocol.TextEdit, error) {
	u := string(params.TextDocument.URI)
	text, ok := svc.Text(u)
	if !ok {
		return nil, fmt.Errorf("unknown document %s", u)
	}
	off := offsetAt(text, params.Position)
	edit, err := svc.UnifyStep(ctx, u, off)
	if err != nil {
		return nil, err
	}
	return &protocol.TextEdit{
		Range: protocol.Range{
			Start: positionAt(text, edit.Start),
			End:   positionAt(text, edit.End),
		},
		NewText: edit.NewText,
	}, nil
}

func (s *Server) Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	opts := s.opts
	if params.InitializationOptions != nil {
		var init struct {
			MainFile string `json:"mainFile"`
			Jobs     int    `json:"jobs"`
		}
		if raw, err := json.Marshal(params.InitializationOptions); err == nil {
			if json.Unmarshal(raw, &init) == nil {
				if init.MainFile != "" {
					opts.MainFile = init.MainFile
				}
				if init.Jobs > 0 {
					opts.Jobs = init.Jobs
				}
			}
		}
	}
	opts.Notify = s.publishDiagnostics
	opts.Logger = s.log

	svc, err := NewService(ctx, opts)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.svc = svc
	s.mu.Unlock()

	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				Change:    protocol.TextDocumentSyncKindFull,
				OpenClose: true,
				Save:      &protocol.SaveOptions{IncludeText: false},
			},
			HoverProvider:          true,
			DefinitionProvider:     true,
			ReferencesProvider:     true,
			DocumentSymbolProvider: true,
		},
		ServerInfo: &protocol.ServerInfo{
			Name:    lsName,
			Version: version,
		},
	}, nil
}

func (s *Server) publishDiagnostics(u string, docVersion int32, ds []diag.Diag) {
	if s.conn == nil {
		return
	}
	out := make([]protocol.Diagnostic, 0, len(ds))
	for _, d := range ds {
		out = append(out, protocol.Diagnostic{
			Range:    diagRange(d),
			Severity: severity(d.Severity),
			Code:     d.Code,
			Source:   lsName,
			Message:  d.Message,
		})
	}
	s.conn.Notify(context.Background(), protocol.MethodTextDocumentPublishDiagnostics,
		&protocol.PublishDiagnosticsParams{
			URI:         protocol.DocumentURI(u),
			Version:     uint32(docVersion),
			Diagnostics: out,
		})
}

func diagRange(d diag.Diag) protocol.Range {
	if d.Pos.File == nil {
		return protocol.Range{}
	}
	end := d.End
	if end < d.Pos.Off {
		end = d.Pos.Off
	}
	return protocol.Range{
		Start: tokenPosition(d.Pos.File, d.Pos.Off),
		End:   tokenPosition(d.Pos.File, end),
	}
}

func tokenPosition(f *token.File, off int) protocol.Position {
	line, col := f.LineCol(off)
	return protocol.Position{Line: uint32(line), Character: uint32(col)}
}

func severity(s diag.Severity) protocol.DiagnosticSeverity {
	switch s {
	case diag.Error:
		return protocol.DiagnosticSeverityError
	case diag.Warning:
		return protocol.DiagnosticSeverityWarning
	case diag.Info:
		return protocol.DiagnosticSeverityInformation
	}
	return protocol.DiagnosticSeverityHint
}

func (s *Server) DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	svc := s.Service()
	if svc == nil {
		return nil
	}
	u := params.TextDocument.URI
	svc.Open(string(u), u.Filename(), params.TextDocument.Text, params.TextDocument.Version)
	return nil
}

func (s *Server) DidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error {
	svc := s.Service()
	if svc == nil || len(params.ContentChanges) == 0 {
		return nil
	}
	// Full sync: the last change carries the whole document.
	text := params.ContentChanges[len(params.ContentChanges)-1].Text
	svc.Change(string(params.TextDocument.URI), text, params.TextDocument.Version)
	return nil
}

func (s *Server) DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
	if svc := s.Service(); svc != nil {
		svc.CloseDoc(string(params.TextDocument.URI))
	}
	return nil
}

func (s *Server) Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	svc := s.Service()
	if svc == nil {
		return nil, nil
	}
	u := string(params.TextDocument.URI)
	text, ok := svc.Text(u)
	if !ok {
		return nil, nil
	}
	md, start, end := svc.HoverInfo(text, offsetAt(text, params.Position))
	if md == "" {
		return nil, nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.Markdown, Value: md},
		Range: &protocol.Range{
			Start: positionAt(text, start),
			End:   positionAt(text, end),
		},
	}, nil
}

func (s *Server) Definition(ctx context.Context, params *protocol.DefinitionParams) ([]protocol.Location, error) {
	svc := s.Service()
	if svc == nil {
		return nil, nil
	}
	u := string(params.TextDocument.URI)
	text, ok := svc.Text(u)
	if !ok {
		return nil, nil
	}
	st := svc.DefinitionOf(u, text, offsetAt(text, params.Position))
	if st == nil || st.Pos.File == nil {
		return nil, nil
	}
	return []protocol.Location{stmtLocation(st)}, nil
}

func stmtLocation(st *db.Statement) protocol.Location {
	return protocol.Location{
		URI: uri.File(st.Pos.File.Name),
		Range: protocol.Range{
			Start: tokenPosition(st.Pos.File, st.Pos.Off),
			End:   tokenPosition(st.Pos.File, st.End),
		},
	}
}

func (s *Server) References(ctx context.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	svc := s.Service()
	if svc == nil {
		return nil, nil
	}
	u := string(params.TextDocument.URI)
	text, ok := svc.Text(u)
	if !ok {
		return nil, nil
	}
	word, _, _ := WordAt(text, offsetAt(text, params.Position))
	if word == "" {
		return nil, nil
	}
	snap := svc.Snapshot()
	var locs []protocol.Location
	if params.Context.IncludeDeclaration {
		if st := snap.Statement(word); st != nil && st.Pos.File != nil {
			locs = append(locs, stmtLocation(st))
		}
	}
	for _, st := range ReferencesTo(snap, word) {
		if st.Pos.File == nil {
			continue
		}
		locs = append(locs, stmtLocation(st))
	}
	return locs, nil
}

// DocumentSymbol outlines the labeled statements of one database file.
func (s *Server) DocumentSymbol(ctx context.Context, params *protocol.DocumentSymbolParams) ([]interface{}, error) {
	svc := s.Service()
	if svc == nil {
		return nil, nil
	}
	snap := svc.Snapshot()
	var out []interface{}
	for _, st := range Outline(snap, params.TextDocument.URI.Filename()) {
		r := protocol.Range{
			Start: tokenPosition(st.Pos.File, st.Pos.Off),
			End:   tokenPosition(st.Pos.File, st.End),
		}
		out = append(out, protocol.DocumentSymbol{
			Name:   st.Label,
			Detail: st.Formula.String(snap.Syms),
			Kind:   symbolKind(st.Kind),
			Range:  r,
			SelectionRange: protocol.Range{
				Start: r.Start,
				End:   tokenPosition(st.Pos.File, st.Pos.Off+len(st.Label)),
			},
		})
	}
	return out, nil
}

func symbolKind(k db.Kind) protocol.SymbolKind {
	switch k {
	case db.Theorem:
		return protocol.SymbolKindMethod
	case db.Axiom:
		return protocol.SymbolKindConstant
	}
	return protocol.SymbolKindVariable
}

// offsetAt converts an LSP position to a byte offset.
func offsetAt(text string, pos protocol.Position) int {
	line := 0
	for i := 0; i < len(text); i++ {
		if line == int(pos.Line) {
			return min(i+int(pos.Character), len(text))
		}
		if text[i] == '\n' {
			line++
		}
	}
	return len(text)
}

// positionAt converts a byte offset to an LSP position.
func positionAt(text string, off int) protocol.Position {
	if off > len(text) {
		off = len(text)
	}
	line, start := 0, 0
	for i := 0; i < off; i++ {
		if text[i] == '\n' {
			line++
			start = i + 1
		}
	}
	return protocol.Position{Line: uint32(line), Character: uint32(off - start)}
}
