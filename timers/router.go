package timers

import (
	"context"
	"path"
	"reflect"
	"runtime"
	"strings"
)

// Router collects handler descriptors in registration order. A Router does
// not itself enforce topic uniqueness — duplicates are resolved later, at
// Engine composition time, where later registrations win.
type Router struct {
	descriptors []descriptor
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{}
}

// Handle registers a two-argument handler (payload, context) under topic.
// When topic is empty, it is derived from fn's declared function name —
// the Go analogue of deriving a Python handler's topic from its __name__.
func Handle[T any](r *Router, topic string, fn HandlerFunc[T]) {
	if topic == "" {
		topic = funcName(fn)
	}
	r.descriptors = append(r.descriptors, makeDescriptor(topic, fn))
}

// HandleSimple registers a context-less handler by adapting it to
// HandlerFunc at registration time. The context argument is simply
// discarded; dispatch never branches on arity.
func HandleSimple[T any](r *Router, topic string, fn SimpleHandlerFunc[T]) {
	Handle(r, topic, func(ctx context.Context, payload T, _ Context) error {
		return fn(ctx, payload)
	})
}

// Descriptors returns the router's handler descriptors in registration
// order. It is exported only for engine composition; applications should
// not need to inspect it.
func (r *Router) Descriptors() []descriptor {
	return r.descriptors
}

// funcName resolves a registered handler's bare identifier, stripping the
// package path and any method-value decoration so `pkg/foo.(*T).Bar-fm`
// becomes `Bar` and `pkg/foo.Baz` becomes `Baz`.
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return ""
	}

	full := runtime.FuncForPC(v.Pointer()).Name()
	full = strings.TrimSuffix(full, "-fm")

	name := path.Base(full)
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}
