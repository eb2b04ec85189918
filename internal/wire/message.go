package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// #region types

// Message type discriminators.
const (
	TypeMaskLogOn    = "mask_log_on"
	TypeMaskLogOff   = "mask_log_off"
	TypeLabelRequest = "idx2move_request"
	TypeLabelTable   = "idx2move_table"
	TypeGoldenTest   = "golden_test"
	TypeGoldenResult = "golden_result"
)

// Request is any message a client may send. Control messages carry only Type;
// decision requests carry Observation and LegalActions.
type Request struct {
	Type           string   `json:"type,omitempty"`
	Observation    *Numbers `json:"observation,omitempty"`
	LegalActions   *Numbers `json:"legal_actions,omitempty"`
	ExpectedAction *int     `json:"expected_action,omitempty"`
}

// HasDecisionFields reports whether both observation and legal_actions are present.
func (r Request) HasDecisionFields() bool {
	return r.Observation != nil && r.LegalActions != nil
}

// ActionResponse answers a plain decision request.
type ActionResponse struct {
	Action     int      `json:"action"`
	LabelTable []string `json:"idx2move_table,omitempty"`
}

// GoldenResult answers a golden_test request. Exactly one of Action and Error is set.
type GoldenResult struct {
	Type   string `json:"type"`
	Action *int   `json:"action,omitempty"`
	Error  string `json:"error,omitempty"`
}

// LabelTable answers an idx2move_request.
type LabelTable struct {
	Type  string   `json:"type"`
	Items []string `json:"items"`
}

// #endregion types

// #region errors

// DecodeError reports a message that could not be understood. The connection
// carrying it is dropped; the server keeps running.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// #endregion errors

// #region decode-encode

// DecodeRequest parses one message. Any failure is returned as *DecodeError.
func DecodeRequest(data []byte) (Request, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Request{}, &DecodeError{Err: errors.New("empty message")}
	}
	if data[0] != '{' {
		return Request{}, &DecodeError{Err: errors.New("message is not a JSON object")}
	}
	var req Request
	if err := json.Unmarshal(Sanitize(data), &req); err != nil {
		return Request{}, &DecodeError{Err: err}
	}
	return req, nil
}

// Encode writes v as a single JSON line.
func Encode(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// #endregion decode-encode
