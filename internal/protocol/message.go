// Package protocol implements the line-delimited JSON wire format: one
// request or response object per newline-terminated line.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Status string

const (
	StatusSuccess      Status = "SUCCESS"
	StatusError        Status = "ERROR"
	StatusUnauthorized Status = "UNAUTHORIZED"
	StatusForbidden    Status = "FORBIDDEN"
	StatusBadRequest   Status = "BAD_REQUEST"
	StatusNotFound     Status = "NOT_FOUND"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusUnauthorized, StatusForbidden, StatusBadRequest, StatusNotFound:
		return true
	}
	return false
}

// Request is a decoded client frame. Payload is kept raw so each action can
// decode the shape it expects.
type Request struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Token   string          `json:"token,omitempty"`
}

// HasPayload reports whether the request carried a non-null payload.
func (r Request) HasPayload() bool {
	p := bytes.TrimSpace(r.Payload)
	return len(p) > 0 && !bytes.Equal(p, []byte("null"))
}

// Response is a server frame. Build it with Success or Failure so exactly
// one of Data and ErrorMessage is meaningful.
type Response struct {
	Status       Status
	Data         any
	ErrorMessage string
}

func Success(data any) Response {
	return Response{Status: StatusSuccess, Data: data}
}

func Failure(status Status, message string) Response {
	if status == StatusSuccess || !status.Valid() {
		status = StatusError
	}
	return Response{Status: status, ErrorMessage: message}
}

type wireResponse struct {
	Status       Status  `json:"status"`
	Data         any     `json:"data"`
	ErrorMessage *string `json:"errorMessage"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	w := wireResponse{Status: r.Status}
	if r.Status == StatusSuccess {
		w.Data = r.Data
	} else {
		msg := r.ErrorMessage
		w.ErrorMessage = &msg
	}
	return json.Marshal(w)
}

func (r *Response) UnmarshalJSON(b []byte) error {
	var w struct {
		Status       Status          `json:"status"`
		Data         json.RawMessage `json:"data"`
		ErrorMessage *string         `json:"errorMessage"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if !w.Status.Valid() {
		return fmt.Errorf("unknown response status %q", w.Status)
	}
	*r = Response{Status: w.Status}
	if w.Status == StatusSuccess {
		if len(w.Data) > 0 && !bytes.Equal(w.Data, []byte("null")) {
			r.Data = w.Data
		}
		return nil
	}
	if w.ErrorMessage != nil {
		r.ErrorMessage = *w.ErrorMessage
	}
	return nil
}

// NormalizeAction upper-cases and trims an action name for registry lookup.
func NormalizeAction(action string) string {
	return strings.ToUpper(strings.TrimSpace(action))
}
