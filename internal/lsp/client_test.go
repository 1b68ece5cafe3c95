package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tankExport = `[
  {"name": "Tank", "attributes": []},
  {"name": "AddHot", "attributes": [
    {"name": "type", "value": {"String": "BThread"}},
    {"name": "HOT", "value": {"Attributes": [
      {"name": "type", "value": {"String": "BEvent"}},
      {"name": "requested", "value": {"Number": 1}},
      {"name": "priority", "value": {"Number": 1}}
    ]}}
  ]}
]`

// bufPipe is an in-memory pipe whose writes never block.
type bufPipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newBufPipe() *bufPipe {
	p := &bufPipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *bufPipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := p.buf.Write(b)
	p.cond.Broadcast()
	return n, err
}

func (p *bufPipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.buf.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.buf.Len() == 0 {
		return 0, io.EOF
	}
	return p.buf.Read(b)
}

func (p *bufPipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// pipeTransport is the client's end of a pair of bufPipes.
type pipeTransport struct {
	in  *bufPipe
	out *bufPipe
}

func (t *pipeTransport) Read(b []byte) (int, error)  { return t.in.Read(b) }
func (t *pipeTransport) Write(b []byte) (int, error) { return t.out.Write(b) }
func (t *pipeTransport) Close() error {
	_ = t.out.Close()
	return t.in.Close()
}

type handler func(s *fakeSolver, msg *Message)

// fakeSolver answers protocol messages from a table of handlers keyed by
// method, or by command name for workspace/executeCommand.
type fakeSolver struct {
	conn      *Conn
	toClient  *bufPipe
	modelPath string
	resultDir string
	handlers  map[string]handler
	done      chan struct{}

	mu       sync.Mutex
	export   string
	received []string
	params   map[string]json.RawMessage
}

func newFakeSolver(modelPath, resultDir string) (*fakeSolver, *pipeTransport) {
	toClient := newBufPipe()
	toServer := newBufPipe()

	s := &fakeSolver{
		conn:      NewConn(toServer, toClient),
		toClient:  toClient,
		modelPath: modelPath,
		resultDir: resultDir,
		done:      make(chan struct{}),
		export:    tankExport,
		params:    make(map[string]json.RawMessage),
	}
	s.handlers = map[string]handler{
		"initialize": func(s *fakeSolver, msg *Message) {
			s.respond(msg, `{"capabilities":{}}`)
		},
		"initialized": func(s *fakeSolver, msg *Message) {
			s.notify("window/logMessage", `{"type":3,"message":"ready"}`)
		},
		"textDocument/didOpen": func(s *fakeSolver, msg *Message) {
			s.diagnostics()
		},
		"textDocument/didChange": func(s *fakeSolver, msg *Message) {
			s.diagnostics()
			s.diagnostics()
		},
		"textDocument/didClose": func(s *fakeSolver, msg *Message) {
			s.diagnostics()
		},
		cmdExportModel: func(s *fakeSolver, msg *Message) {
			s.respond(msg, `null`)
			s.showMessage(s.currentExport())
		},
		cmdGenerateConfigurations: func(s *fakeSolver, msg *Message) {
			s.writeResult(`{"config": {"AddHot": true, "Tank": true}}`)
			s.respond(msg, `null`)
		},
	}

	go s.serve()
	return s, &pipeTransport{in: toClient, out: toServer}
}

func (s *fakeSolver) serve() {
	defer close(s.done)
	for {
		msg, err := s.conn.Read()
		if err != nil {
			return
		}

		key := msg.Method
		if key == "workspace/executeCommand" {
			var p struct {
				Command string `json:"command"`
			}
			_ = json.Unmarshal(msg.Params, &p)
			key = p.Command
		}

		s.mu.Lock()
		s.received = append(s.received, key)
		s.params[key] = msg.Params
		h := s.handlers[key]
		s.mu.Unlock()

		if h != nil {
			h(s, msg)
		}
	}
}

func (s *fakeSolver) respond(msg *Message, result string) {
	_ = s.conn.Write(&Message{ID: msg.ID, Result: json.RawMessage(result)})
}

func (s *fakeSolver) respondError(msg *Message, code int, text string) {
	_ = s.conn.Write(&Message{ID: msg.ID, Error: &ResponseError{Code: code, Message: text}})
}

func (s *fakeSolver) notify(method, params string) {
	_ = s.conn.Write(&Message{Method: method, Params: json.RawMessage(params)})
}

func (s *fakeSolver) showMessage(text string) {
	params, _ := json.Marshal(map[string]interface{}{"type": 3, "message": text})
	s.notify(methodShowMessage, string(params))
}

func (s *fakeSolver) diagnostics(diags ...Diagnostic) {
	if diags == nil {
		diags = []Diagnostic{}
	}
	params, _ := json.Marshal(map[string]interface{}{"uri": "file://" + s.modelPath, "diagnostics": diags})
	s.notify(methodPublishDiagnostics, string(params))
}

func (s *fakeSolver) writeResult(content string) {
	path := filepath.Join(s.resultDir, filepath.Base(s.modelPath)+"-1.json")
	_ = os.WriteFile(path, []byte(content), 0644)
}

func (s *fakeSolver) setHandler(key string, h handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[key] = h
}

func (s *fakeSolver) setExport(export string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.export = export
}

func (s *fakeSolver) currentExport() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.export
}

func (s *fakeSolver) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func (s *fakeSolver) paramsFor(key string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[key]
}

// setupTestClient creates a client wired to a fake solver and a model file in
// a temporary directory.
func setupTestClient(t *testing.T, opts Options) (*Client, *fakeSolver) {
	t.Helper()

	dir := t.TempDir()
	modelPath := filepath.Join(dir, "tank.uvl")
	require.NoError(t, os.WriteFile(modelPath, []byte("features\n    Tank\n"), 0644))

	solver, transport := newFakeSolver(modelPath, dir)

	opts.ModelPath = modelPath
	if opts.ResultDir == "" {
		opts.ResultDir = dir
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}

	client, err := New(transport, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = transport.Close()
	})
	return client, solver
}

// TestClient_Start tests the startup sequence and initial model fetch
func TestClient_Start(t *testing.T) {
	client, solver := setupTestClient(t, Options{})

	require.NoError(t, client.Start(context.Background()))

	assert.Equal(t, []string{
		"initialize",
		"initialized",
		"textDocument/didOpen",
		cmdExportModel,
	}, solver.methods())

	model := client.Model()
	require.NotNil(t, model)
	assert.Len(t, model.Features, 2)

	threads, err := model.Threads()
	require.NoError(t, err)
	assert.Contains(t, threads, "AddHot")

	var open struct {
		TextDocument struct {
			URI        string `json:"uri"`
			LanguageID string `json:"languageId"`
			Version    int    `json:"version"`
			Text       string `json:"text"`
		} `json:"textDocument"`
	}
	require.NoError(t, json.Unmarshal(solver.paramsFor("textDocument/didOpen"), &open))
	assert.Equal(t, client.URI(), open.TextDocument.URI)
	assert.Equal(t, "uvl", open.TextDocument.LanguageID)
	assert.Equal(t, 1, open.TextDocument.Version)
	assert.Contains(t, open.TextDocument.Text, "Tank")
}

// TestClient_FetchModel_PayloadFirst tests that the export may arrive before the command reply
func TestClient_FetchModel_PayloadFirst(t *testing.T) {
	client, solver := setupTestClient(t, Options{})
	solver.setHandler(cmdExportModel, func(s *fakeSolver, msg *Message) {
		s.showMessage(s.currentExport())
		s.respond(msg, `null`)
	})

	require.NoError(t, client.Start(context.Background()))
	assert.Len(t, client.Model().Features, 2)
}

// TestClient_FetchModel_Undecodable tests that a broken export is a decode error
func TestClient_FetchModel_Undecodable(t *testing.T) {
	client, solver := setupTestClient(t, Options{})
	solver.setExport(`[{"name": "Tank", "attri`)

	err := client.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode model export")
}

// TestClient_HandshakeRejected tests that an error reply to initialize fails the handshake
func TestClient_HandshakeRejected(t *testing.T) {
	client, solver := setupTestClient(t, Options{})
	solver.setHandler("initialize", func(s *fakeSolver, msg *Message) {
		s.respondError(msg, -32603, "unsupported client")
	})

	err := client.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHandshake))
	assert.Contains(t, err.Error(), "unsupported client")
}

// TestClient_HandshakeEOF tests that a solver exiting during the handshake is fatal
func TestClient_HandshakeEOF(t *testing.T) {
	client, solver := setupTestClient(t, Options{})
	solver.setHandler("initialize", func(s *fakeSolver, msg *Message) {
		_ = s.toClient.Close()
	})

	err := client.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHandshake))
	assert.True(t, IsProtocolError(err))
}

// TestClient_Refresh tests that a changed model file is sent and re-exported
func TestClient_Refresh(t *testing.T) {
	client, solver := setupTestClient(t, Options{})
	ctx := context.Background()
	require.NoError(t, client.Start(ctx))

	require.NoError(t, os.WriteFile(client.opts.ModelPath, []byte("features\n    Tank2\n"), 0644))
	solver.setExport(`[{"name": "Tank2", "attributes": []}]`)

	require.NoError(t, client.Refresh(ctx))

	_, ok := client.Model().Feature("Tank2")
	assert.True(t, ok)

	var change struct {
		TextDocument struct {
			Version int `json:"version"`
		} `json:"textDocument"`
		ContentChanges []struct {
			Text string `json:"text"`
		} `json:"contentChanges"`
	}
	require.NoError(t, json.Unmarshal(solver.paramsFor("textDocument/didChange"), &change))
	assert.Equal(t, 2, change.TextDocument.Version)
	require.Len(t, change.ContentChanges, 1)
	assert.Contains(t, change.ContentChanges[0].Text, "Tank2")

	require.NoError(t, client.Refresh(ctx))
	require.NoError(t, json.Unmarshal(solver.paramsFor("textDocument/didChange"), &change))
	assert.Equal(t, 3, change.TextDocument.Version)
}

// TestClient_RefreshDefect tests that error diagnostics abort with a model defect
func TestClient_RefreshDefect(t *testing.T) {
	client, solver := setupTestClient(t, Options{})
	ctx := context.Background()
	require.NoError(t, client.Start(ctx))

	solver.setHandler("textDocument/didChange", func(s *fakeSolver, msg *Message) {
		s.diagnostics(
			Diagnostic{Severity: 2, Message: "unused feature"},
			Diagnostic{
				Range:    Range{Start: Position{Line: 2, Character: 4}, End: Position{Line: 2, Character: 9}},
				Severity: SeverityError,
				Message:  "unexpected token",
			},
		)
		s.diagnostics()
	})

	err := client.Refresh(ctx)
	require.Error(t, err)

	var defect *ModelDefectError
	require.True(t, errors.As(err, &defect))
	assert.Len(t, defect.Defects, 1)
	assert.True(t, IsModelDefect(err))
	assert.Equal(t, "UVL model has errors\n\n2:4 to 2:9: unexpected token", err.Error())
}

// TestClient_GenerateConfiguration tests the result file handoff
func TestClient_GenerateConfiguration(t *testing.T) {
	client, solver := setupTestClient(t, Options{})
	ctx := context.Background()
	require.NoError(t, client.Start(ctx))

	solver.setHandler(cmdGenerateConfigurations, func(s *fakeSolver, msg *Message) {
		s.respond(msg, `null`)
		s.writeResult(`{"config": {"Heater": true, "AirConditioner": false, "region.sub": true}}`)
	})

	cfg, err := client.GenerateConfiguration(ctx, map[string]interface{}{"temperature": 21.5})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"Heater": true, "AirConditioner": false}, map[string]bool(cfg))

	_, statErr := os.Stat(client.resultPath())
	assert.True(t, os.IsNotExist(statErr), "result file should be removed")

	var cmd struct {
		Arguments []interface{} `json:"arguments"`
	}
	require.NoError(t, json.Unmarshal(solver.paramsFor(cmdGenerateConfigurations), &cmd))
	require.Len(t, cmd.Arguments, 3)
	assert.Equal(t, client.URI(), cmd.Arguments[0])
	assert.Equal(t, float64(1), cmd.Arguments[1])
	assert.Equal(t, map[string]interface{}{"temperature": 21.5}, cmd.Arguments[2])
}

// TestClient_GenerateConfiguration_NoContext tests that the context argument is omitted when nil
func TestClient_GenerateConfiguration_NoContext(t *testing.T) {
	client, solver := setupTestClient(t, Options{})
	ctx := context.Background()
	require.NoError(t, client.Start(ctx))

	cfg, err := client.GenerateConfiguration(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, cfg, 2)

	var cmd struct {
		Arguments []interface{} `json:"arguments"`
	}
	require.NoError(t, json.Unmarshal(solver.paramsFor(cmdGenerateConfigurations), &cmd))
	assert.Len(t, cmd.Arguments, 2)
}

// TestClient_GenerateConfiguration_PartialReads tests that half-written result files are re-read
func TestClient_GenerateConfiguration_PartialReads(t *testing.T) {
	calls := 0
	client, _ := setupTestClient(t, Options{
		ReadFile: func(name string) ([]byte, error) {
			calls++
			if calls <= 2 {
				return []byte(`{"config": {"Hea`), nil
			}
			return os.ReadFile(name)
		},
	})
	ctx := context.Background()
	require.NoError(t, client.Start(ctx))

	cfg, err := client.GenerateConfiguration(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, cfg["AddHot"])
}

// TestClient_GenerateConfiguration_GivesUp tests that exhausted retries yield no configuration
func TestClient_GenerateConfiguration_GivesUp(t *testing.T) {
	calls := 0
	client, _ := setupTestClient(t, Options{
		ReadFile: func(name string) ([]byte, error) {
			calls++
			return []byte(`{"config": `), nil
		},
	})
	ctx := context.Background()
	require.NoError(t, client.Start(ctx))

	cfg, err := client.GenerateConfiguration(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, cfg)
	assert.Equal(t, maxDecodeRetries+1, calls)

	_, statErr := os.Stat(client.resultPath())
	assert.True(t, os.IsNotExist(statErr), "result file should be removed")
}

// TestClient_GenerateConfiguration_NoSolution tests that a showMessage reply is a model defect
func TestClient_GenerateConfiguration_NoSolution(t *testing.T) {
	client, solver := setupTestClient(t, Options{})
	ctx := context.Background()
	require.NoError(t, client.Start(ctx))

	solver.setHandler(cmdGenerateConfigurations, func(s *fakeSolver, msg *Message) {
		s.showMessage("no configuration satisfies the constraints")
	})

	cfg, err := client.GenerateConfiguration(ctx, nil)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.True(t, errors.Is(err, ErrNoSolution))
	assert.True(t, IsModelDefect(err))
}

// TestClient_GenerateConfiguration_Timeout tests that a missing result file times out
func TestClient_GenerateConfiguration_Timeout(t *testing.T) {
	client, solver := setupTestClient(t, Options{ResultTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, client.Start(ctx))

	solver.setHandler(cmdGenerateConfigurations, func(s *fakeSolver, msg *Message) {
		s.respond(msg, `null`)
	})

	_, err := client.GenerateConfiguration(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSolverTimeout))
	assert.False(t, IsModelDefect(err))
}

// TestClient_GenerateConfiguration_Cancelled tests that an unbounded wait honours the context
func TestClient_GenerateConfiguration_Cancelled(t *testing.T) {
	client, solver := setupTestClient(t, Options{ResultTimeout: -1})
	require.NoError(t, client.Start(context.Background()))

	solver.setHandler(cmdGenerateConfigurations, func(s *fakeSolver, msg *Message) {
		s.respond(msg, `null`)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.GenerateConfiguration(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// TestClient_OversizedFrame tests that an absurd Content-Length from the
// solver is a protocol error instead of an allocation
func TestClient_OversizedFrame(t *testing.T) {
	client, solver := setupTestClient(t, Options{})
	ctx := context.Background()
	require.NoError(t, client.Start(ctx))

	solver.setHandler(cmdExportModel, func(s *fakeSolver, msg *Message) {
		_, _ = s.toClient.Write([]byte("Content-Length: 9000000000000000000\r\n\r\n{}"))
	})

	var err error
	require.NotPanics(t, func() { _, err = client.FetchModel(ctx) })
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
	assert.Contains(t, err.Error(), "exceeds limit")
}

// TestClient_CloseDocument tests that closing the document consumes the
// solver's reply
func TestClient_CloseDocument(t *testing.T) {
	client, solver := setupTestClient(t, Options{})
	ctx := context.Background()
	require.NoError(t, client.Start(ctx))

	solver.setHandler("textDocument/didClose", func(s *fakeSolver, msg *Message) {
		s.diagnostics(Diagnostic{Severity: SeverityError, Message: "dangling reference"})
	})

	err := client.CloseDocument(ctx)
	require.Error(t, err, "the reply must be read, and it reports a defect")
	assert.True(t, IsModelDefect(err))
	assert.False(t, client.opened)

	t.Run("reply without defects", func(t *testing.T) {
		client, solver := setupTestClient(t, Options{})
		require.NoError(t, client.Start(ctx))
		require.NoError(t, client.CloseDocument(ctx))

		methods := solver.methods()
		assert.Equal(t, "textDocument/didClose", methods[len(methods)-1])

		model, err := client.FetchModel(ctx)
		require.NoError(t, err, "no stale reply is left in the stream")
		assert.NotNil(t, model)
	})
}

// TestClient_Close tests that closing announces didClose and stops the transport
func TestClient_Close(t *testing.T) {
	client, solver := setupTestClient(t, Options{})
	require.NoError(t, client.Start(context.Background()))

	require.NoError(t, client.Close())

	select {
	case <-solver.done:
	case <-time.After(time.Second):
		t.Fatal("solver did not observe end of stream")
	}
	methods := solver.methods()
	assert.Equal(t, "textDocument/didClose", methods[len(methods)-1])
}

// TestNew_RequiresModelPath tests option validation
func TestNew_RequiresModelPath(t *testing.T) {
	_, err := New(&pipeTransport{in: newBufPipe(), out: newBufPipe()}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model path is required")
}
