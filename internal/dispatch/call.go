package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"

	"bankanalysis/ratio-server/internal/apperr"
	"bankanalysis/ratio-server/internal/auth"
)

// Conn is the part of a client connection that handlers may see.
type Conn interface {
	ID() string
	RemoteAddr() string
	// Adopt records a token issued on this connection so it is removed
	// when the connection closes.
	Adopt(token string)
	// Release forgets a token that was removed explicitly.
	Release(token string)
}

// Call carries one request into a handler. Principal is nil for public
// actions; LOGIN sets it after authenticating so the outcome is attributed.
type Call struct {
	Action    string
	Payload   json.RawMessage
	Token     string
	Principal *auth.Principal
	Conn      Conn
}

func (c *Call) HasPayload() bool {
	p := bytes.TrimSpace(c.Payload)
	return len(p) > 0 && !bytes.Equal(p, []byte("null"))
}

func (c *Call) source() string {
	if c.Conn == nil {
		return ""
	}
	return c.Conn.RemoteAddr()
}

func (c *Call) actorID() *int64 {
	if c.Principal == nil {
		return nil
	}
	id := c.Principal.UserID
	return &id
}

// Bind decodes the payload into T. A missing payload or a shape mismatch is
// a bad request. Unknown fields are ignored.
func Bind[T any](call *Call) (T, error) {
	var v T
	if !call.HasPayload() {
		return v, apperr.BadRequest("payload is required")
	}
	if err := json.Unmarshal(call.Payload, &v); err != nil {
		return v, payloadError(err)
	}
	return v, nil
}

// BindOptional is Bind for actions whose payload may be omitted.
func BindOptional[T any](call *Call) (T, error) {
	var v T
	if !call.HasPayload() {
		return v, nil
	}
	if err := json.Unmarshal(call.Payload, &v); err != nil {
		return v, payloadError(err)
	}
	return v, nil
}

func payloadError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field != "" {
			return apperr.BadRequest("invalid payload: field %s must be %s", typeErr.Field, typeErr.Type.String())
		}
		return apperr.BadRequest("invalid payload: expected a JSON object")
	}
	return apperr.BadRequest("invalid payload")
}
