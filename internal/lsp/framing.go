package lsp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const contentLengthHeader = "content-length"

// maxFrameSize bounds a single message body. Exported models are far
// smaller; anything larger is a corrupt header.
const maxFrameSize = 64 << 20

// Message is a JSON-RPC 2.0 request, response or notification.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the error member of a JSON-RPC response.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// IsResponse reports whether m answers a request.
func (m *Message) IsResponse() bool {
	return m.Method == "" && len(m.ID) > 0
}

// IsNotification reports whether m is a notification.
func (m *Message) IsNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

// IsRequest reports whether m is a request that expects a response.
func (m *Message) IsRequest() bool {
	return m.Method != "" && len(m.ID) > 0
}

// HasID reports whether m carries the numeric id.
func (m *Message) HasID(id int64) bool {
	var got int64
	if err := json.Unmarshal(m.ID, &got); err != nil {
		return false
	}
	return got == id
}

// Conn reads and writes Content-Length framed messages.
type Conn struct {
	r *bufio.Reader
	w io.Writer
}

// NewConn reads frames from r and writes them to w.
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{r: bufio.NewReader(r), w: w}
}

// WriteFrame writes one framed body.
func WriteFrame(w io.Writer, body []byte) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads one framed body. Header names are matched case-insensitively
// and headers other than Content-Length are ignored.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	length := -1
	started := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" && !started {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("reading header: %w", io.ErrUnexpectedEOF)
		}
		started = true
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		if strings.ToLower(strings.TrimSpace(name)) != contentLengthHeader {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid Content-Length %q", strings.TrimSpace(value))
		}
		if n > maxFrameSize {
			return nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", n, maxFrameSize)
		}
		length = n
	}

	if length < 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading %d byte body: %w", length, err)
	}
	return body, nil
}

// Write encodes and frames msg.
func (c *Conn) Write(msg *Message) error {
	msg.JSONRPC = "2.0"
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Method, err)
	}
	return WriteFrame(c.w, body)
}

// Read reads and decodes the next message.
func (c *Conn) Read() (*Message, error) {
	body, err := ReadFrame(c.r)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("malformed message body: %w", err)
	}
	return &msg, nil
}
