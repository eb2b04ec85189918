package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region numbers-tests

func TestNumbers_UnmarshalNonFinite(t *testing.T) {
	var n Numbers
	err := json.Unmarshal([]byte(`[0, 1.5, "-inf", "-Infinity", "Infinity", "NaN", "2"]`), &n)
	require.NoError(t, err)
	require.Len(t, n, 7)

	assert.Equal(t, 0.0, n[0])
	assert.Equal(t, 1.5, n[1])
	assert.True(t, math.IsInf(n[2], -1))
	assert.True(t, math.IsInf(n[3], -1))
	assert.True(t, math.IsInf(n[4], 1))
	assert.True(t, math.IsNaN(n[5]))
	assert.Equal(t, 2.0, n[6])
}

func TestNumbers_UnmarshalRejectsGarbage(t *testing.T) {
	var n Numbers
	assert.Error(t, json.Unmarshal([]byte(`[1, "legal"]`), &n))
	assert.Error(t, json.Unmarshal([]byte(`[true]`), &n))
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &n))
}

func TestNumbers_MarshalRoundTrip(t *testing.T) {
	in := Numbers{0, math.Inf(-1), 1, math.Inf(1)}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `[0,"-Infinity",1,"Infinity"]`, string(data))

	var out Numbers
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 0.0, out[0])
	assert.True(t, math.IsInf(out[1], -1))
	assert.True(t, math.IsInf(out[3], 1))
}

func TestNumbers_Ints(t *testing.T) {
	got, err := Numbers{0, 1, 1.0, 2.9, -1.5}.Ints()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1, 2, -1}, got)

	_, err = Numbers{0, math.Inf(-1)}.Ints()
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	in := []byte(`{"legal_actions": [0.0, -Infinity, NaN, Infinity], "note": "NaN -Infinity"}`)
	out := Sanitize(in)
	assert.Equal(t,
		`{"legal_actions": [0.0, "-Infinity", "NaN", "Infinity"], "note": "NaN -Infinity"}`,
		string(out))

	plain := []byte(`{"a":[1,2]}`)
	assert.Equal(t, plain, Sanitize(plain))
}

func TestSanitize_EscapedQuoteInString(t *testing.T) {
	in := []byte(`{"s":"a\"NaN","v":[NaN]}`)
	assert.Equal(t, `{"s":"a\"NaN","v":["NaN"]}`, string(Sanitize(in)))
}

// #endregion numbers-tests

// #region request-tests

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantType  string
		wantModel bool
	}{
		{"control-on", `{"type":"mask_log_on"}`, TypeMaskLogOn, false},
		{"label-request", `{"type":"idx2move_request"}`, TypeLabelRequest, false},
		{"inference", `{"observation":[0,1],"legal_actions":[1,0]}`, "", true},
		{"golden", `{"type":"golden_test","observation":[0],"legal_actions":[0.0,-Infinity],"expected_action":0}`, TypeGoldenTest, true},
		{"observation-only", `{"observation":[0,1]}`, "", false},
		{"null-fields", `{"observation":null,"legal_actions":null}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, req.Type)
			assert.Equal(t, tt.wantModel, req.HasDecisionFields())
		})
	}
}

func TestDecodeRequest_GoldenCarriesExpectedAction(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"type":"golden_test","observation":[0],"legal_actions":[-Infinity, 0.0],"expected_action":1}`))
	require.NoError(t, err)
	require.NotNil(t, req.ExpectedAction)
	assert.Equal(t, 1, *req.ExpectedAction)
	assert.True(t, math.IsInf((*req.LegalActions)[0], -1))
}

func TestDecodeRequest_Malformed(t *testing.T) {
	for _, in := range []string{"", "   ", "not json", `[1,2,3]`, `{"observation":`, `{"observation":"abc"}`} {
		_, err := DecodeRequest([]byte(in))
		var de *DecodeError
		assert.True(t, errors.As(err, &de), "input %q: got %v", in, err)
	}
}

func TestEncode_WritesOneLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, ActionResponse{Action: 7}))
	assert.Equal(t, "{\"action\":7}\n", buf.String())

	buf.Reset()
	require.NoError(t, Encode(&buf, LabelTable{Type: TypeLabelTable, Items: []string{}}))
	assert.Equal(t, "{\"type\":\"idx2move_table\",\"items\":[]}\n", buf.String())
}

// #endregion request-tests

// #region framing-tests

func TestReadMessage_Newline(t *testing.T) {
	msg, err := ReadMessage(strings.NewReader("{\"type\":\"mask_log_on\"}\n{\"ignored\":1}"), 0)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"mask_log_on"}`, string(msg))
}

func TestReadMessage_EOFWithoutNewline(t *testing.T) {
	msg, err := ReadMessage(strings.NewReader("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))
}

func TestReadMessage_EmptyConnection(t *testing.T) {
	_, err := ReadMessage(strings.NewReader("  \n"), 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadMessage_BracesInsideStrings(t *testing.T) {
	msg, err := ReadMessage(strings.NewReader(`{"type":"a}\"{b","x":[1,{"y":2}]} trailing`), 0)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"a}\"{b","x":[1,{"y":2}]}`, string(msg))
}

func TestReadMessage_PrettyPrinted(t *testing.T) {
	msg, err := ReadMessage(strings.NewReader("{\n  \"observation\": [0],\n  \"legal_actions\": [1]\n}\n"), 0)
	require.NoError(t, err)
	_, err = DecodeRequest(msg)
	assert.NoError(t, err)
}

// A client that writes an object without newline and keeps the socket open
// must still get its message framed.
func TestReadMessage_OpenConnectionWithoutNewline(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	go func() {
		_, _ = client.Write([]byte(`{"type":"idx2move_request"}`))
	}()

	done := make(chan []byte, 1)
	go func() {
		msg, _ := ReadMessage(srv, 0)
		done <- msg
	}()

	select {
	case msg := <-done:
		assert.Equal(t, `{"type":"idx2move_request"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("ReadMessage blocked on an open connection")
	}
}

func TestReadMessage_Limit(t *testing.T) {
	_, err := ReadMessage(strings.NewReader(`{"observation":[0,0,0,0,0,0,0,0]}`), 8)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

// #endregion framing-tests
