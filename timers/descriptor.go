package timers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is shared across all registrations; go-playground/validator
// caches struct metadata internally and is safe for concurrent use, so one
// instance per process is the idiomatic choice (mirrors how the rest of
// this codebase's validator-backed decoders are constructed once and
// reused).
var validate = validator.New(validator.WithRequiredStructEnabled())

// Context is the opaque key/value mapping supplied once at Engine
// construction and passed to every handler invocation. HandleReadyTimers
// augments a shallow copy of it per invocation with a ConsumeLockGuard
// under ConsumeLockGuardKey (see SPEC_FULL.md §4.4); the construction-time
// value itself is never modified.
type Context map[string]any

// ConsumeLockGuardKey is the well-known Context key under which
// HandleReadyTimers exposes the active invocation's ConsumeLockGuard.
const ConsumeLockGuardKey = "consume_lock_guard"

// ConsumeLockGuard lets a long-running handler push its own consume lock's
// TTL out mid-flight, supplementing spec.md's fixed-TTL contract (see
// SPEC_FULL.md §4.4). Handlers that never call Extend are unaffected.
type ConsumeLockGuard interface {
	Extend(ctx context.Context, newTTL time.Duration) error
}

// HandlerFunc is the canonical two-argument handler shape: decoded payload
// plus the engine's shared context.
type HandlerFunc[T any] func(ctx context.Context, payload T, tctx Context) error

// SimpleHandlerFunc is the context-less handler shape. Routers adapt it to
// HandlerFunc at registration time; there is no runtime branching on arity.
type SimpleHandlerFunc[T any] func(ctx context.Context, payload T) error

// decodeFunc turns raw JSON bytes into a validated payload, type-erased to
// `any` so the topic table can hold handlers for arbitrary payload types in
// one map.
type decodeFunc func(raw []byte) (any, error)

// invokeFunc runs a handler against an already-decoded, type-erased
// payload.
type invokeFunc func(ctx context.Context, payload any, tctx Context) error

// descriptor is the immutable (topic, schema, handler) triple from the
// spec, realized in Go as a pair of closures captured over a concrete
// payload type at registration time.
type descriptor struct {
	topic  string
	decode decodeFunc
	invoke invokeFunc
}

// decodePayload JSON-decodes raw into a new T and runs struct-tag
// validation. Non-struct T (e.g. a plain string or map) is returned as-is:
// validator reports validation as inapplicable rather than an error for
// those kinds, so we only surface a real validation failure.
func decodePayload[T any](raw []byte) (any, error) {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	if err := validate.Struct(payload); err != nil {
		var invalidErr *validator.InvalidValidationError
		if errors.As(err, &invalidErr) {
			// T isn't a struct (or is a nil pointer) — nothing to validate.
			return payload, nil
		}
		return nil, err
	}

	return payload, nil
}

func makeDescriptor[T any](topic string, fn HandlerFunc[T]) descriptor {
	return descriptor{
		topic:  topic,
		decode: decodePayload[T],
		invoke: func(ctx context.Context, payload any, tctx Context) error {
			return fn(ctx, payload.(T), tctx)
		},
	}
}
