package lsp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
)

// maxStderrSize bounds how much solver stderr is kept for error reports.
const maxStderrSize = 64 * 1024

// Process is a running solver subprocess speaking the protocol on its
// standard streams.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *limitedWriter

	closeOnce sync.Once
	closeErr  error
}

// StartProcess launches the solver. command[0] is the executable, the rest its
// arguments. The process is killed when ctx is cancelled.
func StartProcess(ctx context.Context, command []string, dir string) (*Process, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("solver command is empty")
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := &limitedWriter{w: &bytes.Buffer{}, limit: maxStderrSize}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start solver %q: %w", command[0], err)
	}

	log.Printf("[INFO] Started solver: pid=%d command=%v", cmd.Process.Pid, command)
	return &Process{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

func (p *Process) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

func (p *Process) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

// Stderr returns what the solver has written to stderr so far.
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// Close stops the solver and waits for it to exit.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		if err := p.cmd.Wait(); err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				p.closeErr = fmt.Errorf("failed to reap solver: %w", err)
			}
		}
		log.Printf("[DEBUG] Solver stopped")
	})
	return p.closeErr
}

// limitedWriter keeps at most limit bytes; further writes are discarded.
// Safe for concurrent use with String.
type limitedWriter struct {
	mu      sync.Mutex
	w       *bytes.Buffer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}

	n, err := lw.w.Write(toWrite)
	lw.written += n
	return len(p), err
}

func (lw *limitedWriter) String() string {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.String()
}
