// Package dispatch routes decoded requests to action handlers after
// resolving the caller's session and applying the action's access rule.
package dispatch

import (
	"context"
	"fmt"
	"sort"

	"bankanalysis/ratio-server/internal/authz"
	"bankanalysis/ratio-server/internal/protocol"
)

// Handler runs one action. The returned value becomes the response data;
// errors are classified through apperr.
type Handler func(ctx context.Context, call *Call) (any, error)

type ActionSpec struct {
	Name        string
	Requirement authz.Requirement
	Handler     Handler
}

// Registry is filled once at start-up and read concurrently afterwards.
type Registry struct {
	specs map[string]ActionSpec
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]ActionSpec)}
}

// Register binds name to a handler. Duplicate or empty names are programmer
// errors and panic.
func (r *Registry) Register(name string, req authz.Requirement, h Handler) {
	key := protocol.NormalizeAction(name)
	if key == "" || h == nil {
		panic("dispatch: action name and handler are required")
	}
	if _, dup := r.specs[key]; dup {
		panic(fmt.Sprintf("dispatch: action %s registered twice", key))
	}
	r.specs[key] = ActionSpec{Name: key, Requirement: req, Handler: h}
}

func (r *Registry) Lookup(name string) (ActionSpec, bool) {
	spec, ok := r.specs[protocol.NormalizeAction(name)]
	return spec, ok
}

func (r *Registry) Actions() []string {
	out := make([]string, 0, len(r.specs))
	for name := range r.specs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
