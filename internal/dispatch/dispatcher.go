package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"bankanalysis/ratio-server/internal/apperr"
	"bankanalysis/ratio-server/internal/audit"
	"bankanalysis/ratio-server/internal/auth"
	"bankanalysis/ratio-server/internal/authz"
	"bankanalysis/ratio-server/internal/protocol"
)

const unknownActionLabel = "UNKNOWN"

type SessionLookup interface {
	Get(ctx context.Context, token string) (auth.Principal, bool, error)
}

type RoleResolver interface {
	LookupRole(ctx context.Context, roleID int64) (auth.Role, error)
}

type AuditSink interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Observer receives one call per dispatched request.
type Observer interface {
	ObserveRequest(action string, status protocol.Status, elapsed time.Duration)
}

type Deps struct {
	Sessions SessionLookup
	Roles    RoleResolver
	Audit    AuditSink
	Observer Observer
	Logger   *slog.Logger
}

type Dispatcher struct {
	registry *Registry
	sessions SessionLookup
	roles    RoleResolver
	audit    AuditSink
	observer Observer
	log      *slog.Logger
}

func New(registry *Registry, deps Deps) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("action registry is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if deps.Roles == nil {
		return nil, fmt.Errorf("role resolver is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		sessions: deps.Sessions,
		roles:    deps.Roles,
		audit:    deps.Audit,
		observer: deps.Observer,
		log:      logger,
	}, nil
}

// Handle decodes one frame and dispatches it. Malformed frames get a
// BAD_REQUEST and never reach the registry.
func (d *Dispatcher) Handle(ctx context.Context, conn Conn, line []byte) protocol.Response {
	req, err := protocol.Decode(line)
	if err != nil {
		d.record(ctx, audit.Entry{
			ActionType:    audit.ActionInvalid,
			Details:       detail(conn, err.Error()),
			SourceAddress: remoteAddr(conn),
		})
		d.observe(unknownActionLabel, protocol.StatusBadRequest, 0)
		return protocol.Failure(protocol.StatusBadRequest, "malformed request")
	}
	return d.Dispatch(ctx, conn, req)
}

// Dispatch runs one decoded request and always returns exactly one response.
func (d *Dispatcher) Dispatch(ctx context.Context, conn Conn, req protocol.Request) (resp protocol.Response) {
	start := time.Now()
	action := protocol.NormalizeAction(req.Action)
	label := action
	defer func() { d.observe(label, resp.Status, time.Since(start)) }()

	if action == "" {
		label = unknownActionLabel
		d.record(ctx, audit.Entry{
			ActionType:    audit.ActionInvalid,
			Details:       detail(conn, "action not specified"),
			SourceAddress: remoteAddr(conn),
		})
		return protocol.Failure(protocol.StatusBadRequest, "Action not specified")
	}

	call := &Call{
		Action:  action,
		Payload: req.Payload,
		Token:   strings.TrimSpace(req.Token),
		Conn:    conn,
	}

	spec, ok := d.registry.Lookup(action)
	if !ok {
		label = unknownActionLabel
		d.record(ctx, audit.Entry{
			UserID:        d.attribute(ctx, call.Token),
			ActionType:    audit.ActionUnknown,
			Details:       detail(conn, "action="+action),
			SourceAddress: call.source(),
		})
		return protocol.Failure(protocol.StatusError, "Unknown action: "+action)
	}

	if !spec.Requirement.IsPublic() {
		p, err := d.resolvePrincipal(ctx, call.Token)
		if err != nil {
			return d.fail(ctx, call, err)
		}
		call.Principal = &p
	}

	if err := authz.Check(call.Principal, spec.Requirement); err != nil {
		return d.fail(ctx, call, err)
	}

	data, err := d.invoke(ctx, spec.Handler, call)
	if err != nil {
		return d.fail(ctx, call, err)
	}
	d.record(ctx, audit.Entry{
		UserID:        call.actorID(),
		ActionType:    action,
		Details:       detail(conn, "ok"),
		SourceAddress: call.source(),
		Success:       true,
	})
	return protocol.Success(data)
}

var (
	errTokenMissing = apperr.Unauthorized("token missing")
	errTokenInvalid = apperr.Unauthorized("invalid or expired token")
)

// resolvePrincipal looks the token up and fills in the role name when only
// the role id is known. The stored session is not modified.
func (d *Dispatcher) resolvePrincipal(ctx context.Context, token string) (auth.Principal, error) {
	if token == "" {
		return auth.Principal{}, errTokenMissing
	}
	p, ok, err := d.sessions.Get(ctx, token)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("session lookup: %w", err)
	}
	if !ok {
		return auth.Principal{}, errTokenInvalid
	}
	if p.NeedsRole() {
		role, err := d.roles.LookupRole(ctx, p.RoleID)
		if err != nil {
			d.log.Warn("role lookup failed", "user_id", p.UserID, "role_id", p.RoleID, "err", err)
		} else {
			p = p.WithRole(role)
		}
	}
	return p, nil
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, call *Call) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("action handler panicked",
				"action", call.Action,
				"conn_id", connID(call.Conn),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			data, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, call)
}

// fail is the single place where an error becomes a wire status.
func (d *Dispatcher) fail(ctx context.Context, call *Call, err error) protocol.Response {
	kind, message := apperr.Classify(err)
	if kind == apperr.KindInternal {
		d.log.Error("action failed",
			"action", call.Action,
			"conn_id", connID(call.Conn),
			"remote", call.source(),
			"err", err,
		)
	}
	d.record(ctx, audit.Entry{
		UserID:        call.actorID(),
		ActionType:    call.Action,
		Details:       detail(call.Conn, kind.String()+": "+err.Error()),
		SourceAddress: call.source(),
	})
	return protocol.Failure(statusFor(kind), message)
}

func statusFor(kind apperr.Kind) protocol.Status {
	switch kind {
	case apperr.KindBadRequest:
		return protocol.StatusBadRequest
	case apperr.KindUnauthorized:
		return protocol.StatusUnauthorized
	case apperr.KindForbidden:
		return protocol.StatusForbidden
	case apperr.KindNotFound:
		return protocol.StatusNotFound
	default:
		return protocol.StatusError
	}
}

// attribute resolves a token for audit attribution only.
func (d *Dispatcher) attribute(ctx context.Context, token string) *int64 {
	if token == "" {
		return nil
	}
	p, ok, err := d.sessions.Get(ctx, token)
	if err != nil || !ok {
		return nil
	}
	return &p.UserID
}

// record never fails the request; audit problems only reach the log.
func (d *Dispatcher) record(ctx context.Context, e audit.Entry) {
	if d.audit == nil {
		return
	}
	if err := d.audit.Record(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
		d.log.Warn("audit record failed", "action", e.ActionType, "err", err)
	}
}

func (d *Dispatcher) observe(action string, status protocol.Status, elapsed time.Duration) {
	if d.observer != nil {
		d.observer.ObserveRequest(action, status, elapsed)
	}
}

func detail(conn Conn, msg string) string {
	if id := connID(conn); id != "" {
		return "conn=" + id + " | " + msg
	}
	return msg
}

func connID(conn Conn) string {
	if conn == nil {
		return ""
	}
	return conn.ID()
}

func remoteAddr(conn Conn) string {
	if conn == nil {
		return ""
	}
	return conn.RemoteAddr()
}
