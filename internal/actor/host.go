package actor

import (
	"context"
	"sync"
)

// Actor is anything the host can deliver requests to.
type Actor interface {
	Dispatch(ctx context.Context, req Request) (any, error)
}

// Factory builds the actor instance for an id on first use.
type Factory func(id ID) Actor

type instance struct {
	mu    sync.Mutex
	actor Actor
}

// Host owns the live actor instances. Each id maps to exactly one instance,
// created lazily, and every invocation against an instance runs one call at
// a time. Different ids run concurrently with no coordination.
type Host struct {
	factory Factory

	mu        sync.Mutex
	instances map[ID]*instance
}

// NewHost returns a host that builds instances with factory.
func NewHost(factory Factory) *Host {
	return &Host{
		factory:   factory,
		instances: make(map[ID]*instance),
	}
}

// Invoke delivers req to the actor for id, blocking until any in-flight
// call on the same instance has finished.
func (h *Host) Invoke(ctx context.Context, id ID, req Request) (any, error) {
	inst := h.instance(id)
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.actor.Dispatch(ctx, req)
}

func (h *Host) instance(id ID) *instance {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, ok := h.instances[id]
	if !ok {
		inst = &instance{actor: h.factory(id)}
		h.instances[id] = inst
	}
	return inst
}
