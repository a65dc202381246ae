package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var errIncompleteFrame = errors.New("stomp: incomplete frame")

// Frame is a single STOMP 1.2 frame.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

func newFrame(command string, headers map[string]string, body []byte) Frame {
	if headers == nil {
		headers = make(map[string]string)
	}
	return Frame{Command: command, Headers: headers, Body: body}
}

// Encode renders the frame including the trailing NUL. Header keys are
// written in sorted order.
func (f Frame) Encode() []byte {
	escape := f.Command != "CONNECT" && f.Command != "CONNECTED"

	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	keys := make([]string, 0, len(f.Headers))
	for key := range f.Headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := f.Headers[key]
		if escape {
			key, value = escapeHeader(key), escapeHeader(value)
		}
		buf.WriteString(key)
		buf.WriteByte(':')
		buf.WriteString(value)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Decode splits a websocket message into frames. Heart-beat EOLs between
// frames are skipped.
func Decode(data []byte) ([]Frame, error) {
	var frames []Frame
	for {
		data = bytes.TrimLeft(data, "\r\n")
		if len(data) == 0 {
			return frames, nil
		}
		frame, rest, err := decodeOne(data)
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
		data = rest
	}
}

func decodeOne(data []byte) (Frame, []byte, error) {
	headerEnd := bytes.Index(data, []byte("\n\n"))
	sepLen := 2
	if crlf := bytes.Index(data, []byte("\r\n\r\n")); crlf >= 0 && (headerEnd < 0 || crlf < headerEnd) {
		headerEnd, sepLen = crlf, 4
	}
	if headerEnd < 0 {
		return Frame{}, nil, errIncompleteFrame
	}

	lines := strings.Split(strings.ReplaceAll(string(data[:headerEnd]), "\r\n", "\n"), "\n")
	command := strings.TrimSpace(lines[0])
	if command == "" {
		return Frame{}, nil, fmt.Errorf("stomp: empty command")
	}
	unescape := command != "CONNECT" && command != "CONNECTED"

	headers := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Frame{}, nil, fmt.Errorf("stomp: malformed header %q", line)
		}
		if unescape {
			key, value = unescapeHeader(key), unescapeHeader(value)
		}
		// Repeated headers: the first one wins.
		if _, seen := headers[key]; !seen {
			headers[key] = value
		}
	}

	rest := data[headerEnd+sepLen:]
	var body []byte
	if raw, ok := headers["content-length"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Frame{}, nil, fmt.Errorf("stomp: bad content-length %q", raw)
		}
		if len(rest) < n+1 || rest[n] != 0 {
			return Frame{}, nil, errIncompleteFrame
		}
		body, rest = rest[:n], rest[n+1:]
	} else {
		end := bytes.IndexByte(rest, 0)
		if end < 0 {
			return Frame{}, nil, errIncompleteFrame
		}
		body, rest = rest[:end], rest[end+1:]
	}

	return Frame{Command: command, Headers: headers, Body: body}, rest, nil
}

var (
	headerEscaper   = strings.NewReplacer("\\", "\\\\", "\r", "\\r", "\n", "\\n", ":", "\\c")
	headerUnescaper = strings.NewReplacer("\\\\", "\\", "\\r", "\r", "\\n", "\n", "\\c", ":")
)

func escapeHeader(s string) string   { return headerEscaper.Replace(s) }
func unescapeHeader(s string) string { return headerUnescaper.Replace(s) }
