package protocol

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	req, err := Decode([]byte(`{"action":"login","payload":{"username":"alice","password":"pw","extra":[1,2]},"token":null}`))
	require.NoError(t, err)
	require.Equal(t, "login", req.Action)
	require.Empty(t, req.Token)
	require.True(t, req.HasPayload())

	var payload map[string]any
	require.NoError(t, json.Unmarshal(req.Payload, &payload))
	require.Contains(t, payload, "extra", "unknown payload fields must survive decoding")
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	for _, line := range []string{"", "   ", "not json", `["LOGIN"]`, `{"action":`, `{"action": 5}`} {
		_, err := Decode([]byte(line))
		var de *DecodeError
		require.Truef(t, errors.As(err, &de), "line %q: expected DecodeError, got %v", line, err)
	}
}

func TestRequestWithoutPayload(t *testing.T) {
	req, err := Decode([]byte(`{"action":"GET_ALL_BANKS","token":"abc","payload":null}`))
	require.NoError(t, err)
	require.False(t, req.HasPayload())
	require.Equal(t, "abc", req.Token)
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []Response{
		Success(map[string]any{"id": 1, "name": "First Bank"}),
		Success(nil),
		Failure(StatusUnauthorized, "token missing"),
		Failure(StatusBadRequest, "Action not specified"),
		Failure(StatusNotFound, "bank not found"),
		Failure(StatusError, "Unknown action: FROBNICATE"),
		Failure(StatusForbidden, ""),
	}
	for _, in := range cases {
		line, err := Encode(in)
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(string(line), "\n"))
		require.Equal(t, 1, strings.Count(string(line), "\n"))

		out, err := DecodeResponse(line)
		require.NoError(t, err)
		require.Equal(t, in.Status, out.Status)
		require.Equal(t, in.Data != nil, out.Data != nil)
		require.Equal(t, in.ErrorMessage, out.ErrorMessage)
	}
}

func TestResponseWireShape(t *testing.T) {
	line, err := Encode(Failure(StatusForbidden, "line1\nline2"))
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(line, &raw))
	require.JSONEq(t, `"FORBIDDEN"`, string(raw["status"]))
	require.JSONEq(t, `null`, string(raw["data"]))
	require.JSONEq(t, `"line1\nline2"`, string(raw["errorMessage"]))

	line, err = Encode(Success([]int{1, 2}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(line, &raw))
	require.JSONEq(t, `[1,2]`, string(raw["data"]))
	require.JSONEq(t, `null`, string(raw["errorMessage"]))
}

func TestFailureNeverReportsSuccess(t *testing.T) {
	require.Equal(t, StatusError, Failure(StatusSuccess, "x").Status)
	require.Equal(t, StatusError, Failure(Status("TEAPOT"), "x").Status)
}

func TestFrameReader(t *testing.T) {
	input := "{\"action\":\"A\"}\r\n\n" + strings.Repeat("x", 64) + "\n{\"action\":\"B\"}"
	fr := NewFrameReader(strings.NewReader(input), 32)

	frame, err := fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, `{"action":"A"}`, string(frame))

	frame, err = fr.ReadFrame()
	require.NoError(t, err)
	require.Empty(t, frame)

	_, err = fr.ReadFrame()
	require.ErrorIs(t, err, ErrFrameTooLarge)

	frame, err = fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, `{"action":"B"}`, string(frame))

	_, err = fr.ReadFrame()
	require.ErrorIs(t, err, io.EOF)
}

func TestFrameReaderLimitExcludesTerminator(t *testing.T) {
	exact := strings.Repeat("y", 16)
	input := exact + "\r\n" + exact + "\n" + exact + "z\r\n" + exact + "zz\n" + exact
	fr := NewFrameReader(strings.NewReader(input), 16)

	for _, want := range []string{exact, exact} {
		frame, err := fr.ReadFrame()
		require.NoError(t, err)
		require.Equal(t, want, string(frame))
	}
	for i := 0; i < 2; i++ {
		_, err := fr.ReadFrame()
		require.ErrorIs(t, err, ErrFrameTooLarge)
	}
	frame, err := fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, exact, string(frame))

	_, err = fr.ReadFrame()
	require.ErrorIs(t, err, io.EOF)
}

func TestFrameWriter(t *testing.T) {
	var sb strings.Builder
	fw := NewFrameWriter(&sb)
	require.NoError(t, fw.WriteResponse(Success("ok")))
	require.NoError(t, fw.WriteResponse(Failure(StatusError, "boom")))
	lines := strings.Split(strings.TrimSuffix(sb.String(), "\n"), "\n")
	require.Len(t, lines, 2)
}

func TestFrameWriterUnencodableData(t *testing.T) {
	var sb strings.Builder
	fw := NewFrameWriter(&sb)
	err := fw.WriteResponse(Success(map[string]any{"bad": make(chan int)}))
	require.ErrorIs(t, err, ErrUnencodable)

	resp, err := DecodeResponse([]byte(sb.String()))
	require.NoError(t, err)
	require.Equal(t, StatusError, resp.Status)
	require.Equal(t, "internal error", resp.ErrorMessage)
}
