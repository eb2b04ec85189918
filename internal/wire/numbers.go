// Package wire holds the JSON message shapes exchanged with the game client and
// the number handling needed to read them.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// #region numbers

// Numbers is a list of JSON numbers that also accepts the non-finite spellings
// emitted by Python's json module (bare -Infinity, Infinity, NaN after Sanitize)
// and by hand-written clients ("-inf", "-Infinity").
type Numbers []float64

// UnmarshalJSON decodes a JSON array of numbers or non-finite strings.
func (n *Numbers) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Numbers, len(raw))
	for i, r := range raw {
		v, err := parseNumber(r)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = v
	}
	*n = out
	return nil
}

// MarshalJSON writes finite values as numbers and non-finite values as the
// strings "-Infinity", "Infinity" and "NaN", which encoding/json refuses to emit
// as bare tokens.
func (n Numbers) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range n {
		if i > 0 {
			buf.WriteByte(',')
		}
		switch {
		case math.IsInf(v, -1):
			buf.WriteString(`"-Infinity"`)
		case math.IsInf(v, 1):
			buf.WriteString(`"Infinity"`)
		case math.IsNaN(v):
			buf.WriteString(`"NaN"`)
		default:
			buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Ints converts the list to integers the way an integer cast does: values are
// truncated toward zero. Non-finite cells are rejected.
func (n Numbers) Ints() ([]int, error) {
	out := make([]int, len(n))
	for i, v := range n {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("element %d is not finite", i)
		}
		out[i] = int(math.Trunc(v))
	}
	return out, nil
}

// Floats returns the list as a plain float slice.
func (n Numbers) Floats() []float64 {
	return []float64(n)
}

// FromInts builds a Numbers list from integer cells.
func FromInts(v []int) Numbers {
	out := make(Numbers, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func parseNumber(r json.RawMessage) (float64, error) {
	r = bytes.TrimSpace(r)
	if len(r) > 0 && r[0] == '"' {
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			return 0, err
		}
		return parseNumberString(s)
	}
	var v float64
	if err := json.Unmarshal(r, &v); err != nil {
		return 0, fmt.Errorf("not a number: %s", r)
	}
	return v, nil
}

func parseNumberString(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "-inf", "-infinity":
		return math.Inf(-1), nil
	case "inf", "+inf", "infinity", "+infinity":
		return math.Inf(1), nil
	case "nan":
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}

// #endregion numbers

// #region sanitize

var nonFiniteTokens = [][]byte{
	[]byte("-Infinity"),
	[]byte("Infinity"),
	[]byte("NaN"),
}

// Sanitize quotes the bare NaN/Infinity tokens that Python writes by default so
// that encoding/json can tokenize the document. Text inside strings is left alone.
func Sanitize(data []byte) []byte {
	if !bytes.Contains(data, []byte("Infinity")) && !bytes.Contains(data, []byte("NaN")) {
		return data
	}
	out := make([]byte, 0, len(data)+16)
	inString := false
	escaped := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out = append(out, c)
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
		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}
		matched := false
		for _, tok := range nonFiniteTokens {
			if bytes.HasPrefix(data[i:], tok) {
				out = append(out, '"')
				out = append(out, tok...)
				out = append(out, '"')
				i += len(tok) - 1
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, c)
		}
	}
	return out
}

// #endregion sanitize
