package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// SSE event names used on the wire.
const (
	EventMessage  = "message"
	EventEndpoint = "endpoint"
)

var heartbeat = []byte(": \n\n")

// Frame is a single Server-Sent-Events block. A zero Event with nil Data is
// the comment-only heartbeat frame.
type Frame struct {
	Event string
	Data  []byte
}

// HeartbeatFrame returns the bodiless acknowledgement frame.
func HeartbeatFrame() Frame {
	return Frame{}
}

// EndpointFrame announces the path clients should POST to.
func EndpointFrame(path string) Frame {
	return Frame{Event: EventEndpoint, Data: []byte(path)}
}

// IsHeartbeat reports whether f carries no event.
func (f Frame) IsHeartbeat() bool {
	return f.Event == "" && len(f.Data) == 0
}

// Bytes renders the frame in wire form. Multi-line data is split across
// several data fields.
func (f Frame) Bytes() []byte {
	if f.IsHeartbeat() {
		return append([]byte(nil), heartbeat...)
	}

	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(f.Event)
	buf.WriteByte('\n')
	for _, line := range bytes.Split(f.Data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// WriteTo implements io.WriterTo.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f.Bytes())
	return int64(n), err
}

// DecodeRequest parses a raw body into a Request. Failures come back as
// protocol errors together with whatever id could be recovered.
//
//   - not valid JSON:          ParseError, id nil
//   - valid JSON, not object:  InvalidRequest, id nil
//   - object with bad members: InternalError, id recovered when possible
func DecodeRequest(body []byte) (*Request, *json.RawMessage, *Error) {
	if !json.Valid(body) {
		return nil, nil, NewParseError()
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil || members == nil {
		return nil, nil, NewInvalidRequestError()
	}

	id := extractID(members)
	req := &Request{ID: id, Params: members["params"]}

	if raw, ok := members["method"]; ok {
		if err := json.Unmarshal(raw, &req.Method); err != nil {
			return nil, id, NewInternalError("Internal error: method: %s", err.Error())
		}
	}
	// The version tag is informational only.
	_ = json.Unmarshal(members["jsonrpc"], &req.JSONRPC)

	return req, id, nil
}

func extractID(members map[string]json.RawMessage) *json.RawMessage {
	raw, ok := members["id"]
	if !ok {
		return nil
	}
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	id := json.RawMessage(trimmed)
	return &id
}

// EncodeResponse serializes resp into a message frame. Non-ASCII text is
// written verbatim and HTML-significant characters are not escaped.
func EncodeResponse(resp *Response) (Frame, error) {
	data, err := marshalVerbatim(resp)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: EventMessage, Data: data}, nil
}

func marshalVerbatim(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MarshalIndentVerbatim is json.MarshalIndent without HTML escaping.
func MarshalIndentVerbatim(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

type indentLevel struct {
	object  bool
	wantKey bool
	count   int
}

// IndentVerbatim re-indents a JSON document with two spaces. Member order and
// number literals are kept as they are, and escaped string content such as
// \uXXXX sequences is written out as plain UTF-8.
func IndentVerbatim(data []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var (
		buf   bytes.Buffer
		stack []*indentLevel
	)
	newline := func() {
		buf.WriteByte('\n')
		buf.WriteString(strings.Repeat("  ", len(stack)))
	}
	closeValue := func() {
		if len(stack) == 0 {
			return
		}
		top := stack[len(stack)-1]
		top.count++
		top.wantKey = top.object
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if len(stack) == 0 && buf.Len() > 0 {
			return "", errors.New("json: multiple top-level values")
		}

		if d, ok := tok.(json.Delim); ok && (d == '}' || d == ']') {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.count > 0 {
				newline()
			}
			buf.WriteByte(byte(d))
			closeValue()
			continue
		}

		if len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.object && top.wantKey {
				if top.count > 0 {
					buf.WriteByte(',')
				}
				newline()
				if err := writeVerbatimString(&buf, tok.(string)); err != nil {
					return "", err
				}
				buf.WriteString(": ")
				top.wantKey = false
				continue
			}
			if !top.object {
				if top.count > 0 {
					buf.WriteByte(',')
				}
				newline()
			}
		}

		switch v := tok.(type) {
		case json.Delim:
			buf.WriteByte(byte(v))
			stack = append(stack, &indentLevel{object: v == '{', wantKey: v == '{'})
			continue
		case string:
			if err := writeVerbatimString(&buf, v); err != nil {
				return "", err
			}
		case json.Number:
			buf.WriteString(v.String())
		case bool:
			if v {
				buf.WriteString("true")
			} else {
				buf.WriteString("false")
			}
		case nil:
			buf.WriteString("null")
		}
		closeValue()
	}

	if buf.Len() == 0 {
		return "", io.ErrUnexpectedEOF
	}
	return buf.String(), nil
}

func writeVerbatimString(buf *bytes.Buffer, s string) error {
	data, err := marshalVerbatim(s)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}
