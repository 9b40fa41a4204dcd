package veld

import "context"

// Provider is a closure bound to a resolved producer index; each call
// re-enters the container's scope dispatch, honoring the producer's scope
// (lazy, potentially repeated instances, §4.B rule 3 / §4.H).
type Provider[T any] func() (T, error)

// Optional carries the result of a resolution that is allowed to miss
// (§4.B rule 2).
type Optional[T any] struct {
	value   T
	present bool
}

// Present reports whether a value was found.
func (o Optional[T]) Present() bool { return o.present }

// Get returns the value and whether it was present.
func (o Optional[T]) Get() (T, bool) { return o.value, o.present }

// OrElse returns the value if present, otherwise fallback.
func (o Optional[T]) OrElse(fallback T) T {
	if o.present {
		return o.value
	}
	return fallback
}

func newPresent[T any](v T) Optional[T] { return Optional[T]{value: v, present: true} }

// providerFor builds a Provider closure for index that resolves through c
// using ctx for scope dispatch, matching §9's "arena-index graph with
// deferred edges; the provider is a closure holding an index and a
// back-pointer to the container".
func providerFor[T any](c *Container, ctx context.Context, index int) Provider[T] {
	return func() (T, error) {
		var zero T
		v, err := c.getByIndex(ctx, index)
		if err != nil {
			return zero, err
		}
		typed, ok := v.(T)
		if !ok {
			return zero, &ErrInvalidFactory{Message: "provider result does not satisfy requested type"}
		}
		return typed, nil
	}
}

// ErrInvalidFactory is returned when a Factory's Create function returns a
// value that does not satisfy the type the registry indexed it under.
type ErrInvalidFactory struct{ Message string }

func (e *ErrInvalidFactory) Error() string { return "veld: invalid factory: " + e.Message }
