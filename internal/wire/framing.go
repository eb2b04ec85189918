package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxMessageBytes caps a single inbound message.
const DefaultMaxMessageBytes = 1 << 20

// ErrMessageTooLarge is returned when a message exceeds the configured cap.
var ErrMessageTooLarge = errors.New("message exceeds size limit")

// #region read-message

// ReadMessage reads one message from r. A message ends at the first newline
// outside a JSON value, at EOF, or as soon as a top-level object or array is
// closed; game clients write a bare object and then wait for the reply
// without closing their side.
//
// io.EOF is returned only when the peer closed without sending anything.
func ReadMessage(r io.Reader, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxMessageBytes
	}
	br := bufio.NewReader(r)

	var (
		buf      bytes.Buffer
		depth    int
		started  bool
		inString bool
		escaped  bool
	)
	for {
		c, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(bytes.TrimSpace(buf.Bytes())) == 0 {
					return nil, io.EOF
				}
				return buf.Bytes(), nil
			}
			return nil, fmt.Errorf("read message: %w", err)
		}
		if buf.Len() >= limit {
			return nil, ErrMessageTooLarge
		}

		if !started && (c == ' ' || c == '\t' || c == '\r' || c == '\n') {
			continue
		}
		buf.WriteByte(c)

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth <= 0 {
				return buf.Bytes(), nil
			}
		case '\n':
			if depth == 0 {
				return bytes.TrimSpace(buf.Bytes()), nil
			}
		}
		started = true
	}
}

// #endregion read-message
