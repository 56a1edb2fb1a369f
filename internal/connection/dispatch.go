package connection

import (
	"slices"
	"sync/atomic"
)

type handler[T any] struct {
	fn     func(T)
	active atomic.Bool
}

// handlers is a subscriber list. The owning Manager guards it with its mutex;
// the active flag lets an unsubscribe take effect for deliveries already queued.
type handlers[T any] struct {
	list []*handler[T]
}

func (h *handlers[T]) add(fn func(T)) *handler[T] {
	e := &handler[T]{fn: fn}
	e.active.Store(true)
	h.list = append(h.list, e)
	return e
}

func (h *handlers[T]) remove(e *handler[T]) {
	e.active.Store(false)
	h.list = slices.DeleteFunc(h.list, func(x *handler[T]) bool { return x == e })
}

func (h *handlers[T]) snapshot() []*handler[T] {
	return slices.Clone(h.list)
}
