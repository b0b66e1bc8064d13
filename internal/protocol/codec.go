package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrEmptyFrame = errors.New("empty frame")

// DecodeError describes a line that is not a request object.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "malformed request: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses one frame (without its trailing newline) into a Request.
func Decode(line []byte) (Request, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Request{}, &DecodeError{Err: ErrEmptyFrame}
	}
	if line[0] != '{' {
		return Request{}, &DecodeError{Err: fmt.Errorf("frame is not a JSON object")}
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, &DecodeError{Err: err}
	}
	return req, nil
}

// Encode renders r as a single frame, trailing newline included.
// encoding/json escapes control characters, so the body never contains a
// raw newline.
func Encode(r Response) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return append(b, '\n'), nil
}

// EncodeRequest is the client-side counterpart of Decode.
func EncodeRequest(r Request) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return append(b, '\n'), nil
}

// DecodeResponse is the client-side counterpart of Encode.
func DecodeResponse(line []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(bytes.TrimSpace(line), &r); err != nil {
		return Response{}, &DecodeError{Err: err}
	}
	return r, nil
}
