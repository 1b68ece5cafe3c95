package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/tfelbr/FMBP/pkg/fm"
)

const (
	// DefaultResultTimeout bounds the wait for a solver result file.
	DefaultResultTimeout = 30 * time.Second

	// DefaultPollInterval is how often the result file is checked for.
	DefaultPollInterval = 50 * time.Millisecond

	// maxDecodeRetries is how often a half-written result file is re-read.
	maxDecodeRetries = 10

	languageID = "uvl"

	cmdExportModel            = "uvls/export_model"
	cmdGenerateConfigurations = "uvls/generate_configurations"

	methodShowMessage        = "window/showMessage"
	methodPublishDiagnostics = "textDocument/publishDiagnostics"
)

// Options configures a Client.
type Options struct {
	// ModelPath is the UVL file the solver is asked about.
	ModelPath string

	// ResultDir is where the solver writes generated configurations. It is the
	// solver's working directory; empty means the current directory.
	ResultDir string

	// ResultTimeout bounds the wait for a result file. Zero selects
	// DefaultResultTimeout; a negative value waits forever.
	ResultTimeout time.Duration

	// PollInterval is the result file polling period. Zero selects
	// DefaultPollInterval.
	PollInterval time.Duration

	// ReadFile reads the result file. Defaults to os.ReadFile.
	ReadFile func(name string) ([]byte, error)
}

// Client talks to one solver over a framed JSON-RPC stream.
//
// Protocol exchanges are synchronous and a Client must not be used from
// several goroutines at once, with the exception of Model.
type Client struct {
	transport io.ReadWriteCloser
	conn      *Conn
	opts      Options
	uri       string

	nextID  int64
	version int
	opened  bool

	model atomic.Pointer[fm.Model]
}

// New creates a client speaking over transport. No messages are exchanged
// until Start or Initialize is called.
func New(transport io.ReadWriteCloser, opts Options) (*Client, error) {
	if opts.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}
	abs, err := filepath.Abs(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model path: %w", err)
	}
	opts.ModelPath = abs

	if opts.ResultTimeout == 0 {
		opts.ResultTimeout = DefaultResultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}

	return &Client{
		transport: transport,
		conn:      NewConn(transport, transport),
		opts:      opts,
		uri:       (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(),
	}, nil
}

// Dial starts the solver process and runs Start on it.
func Dial(ctx context.Context, command []string, opts Options) (*Client, error) {
	proc, err := StartProcess(ctx, command, opts.ResultDir)
	if err != nil {
		return nil, err
	}

	c, err := New(proc, opts)
	if err != nil {
		_ = proc.Close()
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = proc.Close()
		return nil, err
	}
	return c, nil
}

// URI returns the document URI used for the model.
func (c *Client) URI() string {
	return c.uri
}

// Model returns the most recently fetched model, or nil before Start.
func (c *Client) Model() *fm.Model {
	return c.model.Load()
}

// Start performs the handshake, opens the model document and fetches the
// initial model.
func (c *Client) Start(ctx context.Context) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}

	text, err := os.ReadFile(c.opts.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to read model: %w", err)
	}
	if err := c.OpenDocument(ctx, string(text)); err != nil {
		return err
	}

	model, err := c.FetchModel(ctx)
	if err != nil {
		return err
	}
	c.model.Store(model)
	log.Printf("[INFO] Model loaded: uri=%s features=%d", c.uri, len(model.Features))
	return nil
}

// Refresh sends the model file's current content to the solver and replaces
// the stored model with a fresh export.
func (c *Client) Refresh(ctx context.Context) error {
	text, err := os.ReadFile(c.opts.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to read model: %w", err)
	}
	if err := c.ChangeDocument(ctx, string(text)); err != nil {
		return err
	}

	model, err := c.FetchModel(ctx)
	if err != nil {
		return err
	}
	c.model.Store(model)
	log.Printf("[INFO] Model refreshed: version=%d features=%d", c.version, len(model.Features))
	return nil
}

// Initialize performs the initialize/initialized handshake and drains the
// one unsolicited message the solver sends afterwards.
func (c *Client) Initialize(ctx context.Context) error {
	params := map[string]interface{}{
		"processId":    os.Getpid(),
		"rootUri":      nil,
		"capabilities": map[string]interface{}{},
		"clientInfo":   map[string]string{"name": "fmbp"},
	}
	id, err := c.request(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	for {
		msg, err := c.receive(ctx, "initialize")
		if err != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		if !msg.IsResponse() || !msg.HasID(id) {
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, msg.Error)
		}
		break
	}

	if err := c.notify(ctx, "initialized", map[string]interface{}{}); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if err := c.drain(ctx, "initialized", 1); err != nil {
		return err
	}

	log.Printf("[DEBUG] Solver handshake complete")
	return nil
}

// OpenDocument announces the model text to the solver.
func (c *Client) OpenDocument(ctx context.Context, text string) error {
	c.version = 1
	params := map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri":        c.uri,
			"languageId": languageID,
			"version":    c.version,
			"text":       text,
		},
	}
	if err := c.notify(ctx, "textDocument/didOpen", params); err != nil {
		return err
	}
	c.opened = true
	return c.drain(ctx, "didOpen", 1)
}

// ChangeDocument replaces the solver's copy of the model text. The solver
// answers with a reply and a follow-up diagnostics message, both drained.
func (c *Client) ChangeDocument(ctx context.Context, text string) error {
	c.version++
	params := map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri":     c.uri,
			"version": c.version,
		},
		"contentChanges": []map[string]interface{}{
			{"text": text},
		},
	}
	if err := c.notify(ctx, "textDocument/didChange", params); err != nil {
		return err
	}
	return c.drain(ctx, "didChange", 2)
}

// CloseDocument tells the solver the model is no longer edited.
func (c *Client) CloseDocument(ctx context.Context) error {
	if err := c.sendClose(ctx); err != nil {
		return err
	}
	return c.drain(ctx, "didClose", 1)
}

// FetchModel asks the solver to export the model. The export arrives as a
// showMessage notification whose order relative to the command's reply is
// not fixed, so both are awaited.
func (c *Client) FetchModel(ctx context.Context) (*fm.Model, error) {
	id, err := c.executeCommand(ctx, cmdExportModel, c.uri)
	if err != nil {
		return nil, err
	}

	var (
		payload     string
		gotPayload  bool
		gotResponse bool
	)
	for !gotPayload || !gotResponse {
		msg, err := c.receive(ctx, cmdExportModel)
		if err != nil {
			return nil, err
		}
		switch {
		case msg.IsResponse() && msg.HasID(id):
			if msg.Error != nil {
				return nil, fmt.Errorf("%s failed: %w", cmdExportModel, msg.Error)
			}
			gotResponse = true
		case msg.Method == methodShowMessage && !gotPayload:
			payload, err = showMessageText(msg)
			if err != nil {
				return nil, &fm.DecodeError{What: "model export", Err: err}
			}
			gotPayload = true
		}
	}

	return fm.DecodeModel([]byte(payload))
}

// GenerateConfiguration asks the solver for one configuration satisfying the
// model under the given context. The solver writes the result to a file next
// to its working directory; the file is always removed afterwards.
//
// A nil configuration with a nil error means the result file could not be
// decoded within the retry bound.
func (c *Client) GenerateConfiguration(ctx context.Context, vars map[string]interface{}) (fm.Configuration, error) {
	resultPath := c.resultPath()
	defer c.removeResult(resultPath)

	args := []interface{}{c.uri, 1}
	if vars != nil {
		args = append(args, vars)
	}
	id, err := c.executeCommand(ctx, cmdGenerateConfigurations, args...)
	if err != nil {
		return nil, err
	}

	for {
		msg, err := c.receive(ctx, cmdGenerateConfigurations)
		if err != nil {
			return nil, err
		}
		if msg.Method == methodShowMessage {
			text, _ := showMessageText(msg)
			return nil, fmt.Errorf("%w: %s", ErrNoSolution, text)
		}
		if msg.IsResponse() && msg.HasID(id) {
			if msg.Error != nil {
				return nil, fmt.Errorf("%s failed: %w", cmdGenerateConfigurations, msg.Error)
			}
			break
		}
	}

	if err := c.waitForResult(ctx, resultPath); err != nil {
		return nil, err
	}
	return c.readResult(resultPath)
}

// Close sends didClose without waiting for a reply and stops the solver.
func (c *Client) Close() error {
	if c.opened {
		if err := c.sendClose(context.Background()); err != nil {
			log.Printf("[WARN] Failed to close model document: %v", err)
		}
	}
	return c.transport.Close()
}

func (c *Client) resultPath() string {
	return filepath.Join(c.opts.ResultDir, filepath.Base(c.opts.ModelPath)+"-1.json")
}

func (c *Client) removeResult(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[WARN] Failed to remove result file %s: %v", path, err)
	}
}

// waitForResult polls until path exists.
func (c *Client) waitForResult(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	var timeoutCh <-chan time.Time
	if c.opts.ResultTimeout > 0 {
		timer := time.NewTimer(c.opts.ResultTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timeoutCh:
			return fmt.Errorf("%w: %s not written after %v", ErrSolverTimeout, path, c.opts.ResultTimeout)

		case <-ticker.C:
			_, err := os.Stat(path)
			if err == nil {
				return nil
			}
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to stat result file: %w", err)
			}
		}
	}
}

// readResult decodes the result file, re-reading it while the solver may
// still be writing.
func (c *Client) readResult(path string) (fm.Configuration, error) {
	var lastErr error
	for attempt := 0; attempt <= maxDecodeRetries; attempt++ {
		data, err := c.opts.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read result file: %w", err)
		}
		cfg, err := fm.ParseResult(data)
		if err == nil {
			return cfg, nil
		}
		lastErr = err
	}

	log.Printf("[ERROR] Giving up on result file %s after %d retries: %v", path, maxDecodeRetries, lastErr)
	return nil, nil
}

func (c *Client) executeCommand(ctx context.Context, command string, args ...interface{}) (int64, error) {
	params := map[string]interface{}{
		"command":   command,
		"arguments": args,
	}
	return c.request(ctx, "workspace/executeCommand", params)
}

func (c *Client) sendClose(ctx context.Context) error {
	params := map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": c.uri},
	}
	if err := c.notify(ctx, "textDocument/didClose", params); err != nil {
		return err
	}
	c.opened = false
	return nil
}

func (c *Client) request(ctx context.Context, method string, params interface{}) (int64, error) {
	c.nextID++
	id := c.nextID
	raw, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s params: %w", method, err)
	}
	idRaw, _ := json.Marshal(id)
	if err := c.send(ctx, &Message{ID: idRaw, Method: method, Params: raw}); err != nil {
		return 0, err
	}
	return id, nil
}

func (c *Client) notify(ctx context.Context, method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode %s params: %w", method, err)
	}
	return c.send(ctx, &Message{Method: method, Params: raw})
}

func (c *Client) send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.Write(msg); err != nil {
		return c.protocolError("send "+msg.Method, err)
	}
	return nil
}

// receive reads the next message and raises on error diagnostics.
func (c *Client) receive(ctx context.Context, op string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := c.conn.Read()
	if err != nil {
		return nil, c.protocolError(op, err)
	}

	switch {
	case msg.Method == methodPublishDiagnostics:
		if err := checkDiagnostics(msg); err != nil {
			return nil, err
		}
	case msg.IsRequest():
		log.Printf("[DEBUG] Ignoring solver request: method=%s", msg.Method)
	}
	return msg, nil
}

// drain reads n messages, only inspecting them for diagnostics.
func (c *Client) drain(ctx context.Context, op string, n int) error {
	for i := 0; i < n; i++ {
		if _, err := c.receive(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) protocolError(op string, err error) error {
	pe := &ProtocolError{Op: op, Err: err}
	if s, ok := c.transport.(interface{ Stderr() string }); ok {
		pe.Stderr = s.Stderr()
	}
	return pe
}

func checkDiagnostics(msg *Message) error {
	var params struct {
		Diagnostics []Diagnostic `json:"diagnostics"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return &ProtocolError{Op: methodPublishDiagnostics, Err: err}
	}

	var defects []Diagnostic
	for _, d := range params.Diagnostics {
		if d.Severity == SeverityError {
			defects = append(defects, d)
		}
	}
	if len(defects) > 0 {
		return &ModelDefectError{Defects: defects}
	}
	return nil
}

func showMessageText(msg *Message) (string, error) {
	var params struct {
		Type    int    `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return "", err
	}
	return params.Message, nil
}
