// Package actor provides the minimal runtime shared by the per-client form
// actors and the global index actor: a keyed durable state wrapper, a
// method+path dispatcher, and a host that serializes calls per instance.
package actor

import (
	"context"
	"encoding/json"
	"strings"

	"cseflow/internal/domain"
	"cseflow/internal/workflow"
)

// ID identifies one actor instance. IDs are derived deterministically from
// domain keys (see form.ActorID, index.ActorID); there is no mutable
// registry.
type ID string

// Params holds path parameters extracted by the dispatcher.
type Params map[string]string

// Request is the envelope delivered to an actor handler.
type Request struct {
	Method string
	Path   string
	Params Params
	Body   json.RawMessage
	User   domain.User
}

// HandlerFunc processes one actor request. The returned value is
// JSON-encodable.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

type route struct {
	method  string
	pattern string
	handler HandlerFunc
}

// Mux matches a method and a path template containing :name segments. It is
// not a general-purpose router: no wildcards, no regex, first registered
// route wins.
type Mux struct {
	routes []route
}

// Handle registers a route.
func (m *Mux) Handle(method, pattern string, h HandlerFunc) {
	m.routes = append(m.routes, route{method: method, pattern: pattern, handler: h})
}

// Dispatch finds the matching route and invokes its handler. An unmatched
// request fails with a NotFoundError.
func (m *Mux) Dispatch(ctx context.Context, req Request) (any, error) {
	for _, r := range m.routes {
		if r.method != req.Method {
			continue
		}
		params, ok := matchPattern(r.pattern, req.Path)
		if !ok {
			continue
		}
		// Path parameters join any caller-supplied ones (query values).
		if req.Params == nil {
			req.Params = Params{}
		}
		for k, v := range params {
			req.Params[k] = v
		}
		return r.handler(ctx, req)
	}
	return nil, &workflow.NotFoundError{Resource: "route", ID: req.Method + " " + req.Path}
}

func matchPattern(pattern, path string) (Params, bool) {
	patternParts := splitPath(pattern)
	pathParts := splitPath(path)
	if len(patternParts) != len(pathParts) {
		return nil, false
	}
	params := Params{}
	for i, part := range patternParts {
		if strings.HasPrefix(part, ":") {
			params[part[1:]] = pathParts[i]
			continue
		}
		if part != pathParts[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}
