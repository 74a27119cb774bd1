// Package registry implements the Handler Registry: a queue name -> (kind,
// descriptors) mapping built by direct registration calls and consulted by
// the dispatchers. It is immutable after startup — registration is guarded
// for setup-time safety, lookups take a read lock but are never mutated
// once Subscribe has been called for a queue.
package registry

import (
	"context"
	"sync"

	"github.com/pelorus-dev/pelorus/core"
)

// Kind discriminates the homogeneous descriptor list a queue holds.
type Kind int

const (
	KindEvent Kind = iota
	KindCommand
)

func (k Kind) String() string {
	if k == KindCommand {
		return "command"
	}
	return "event"
}

// EventInvoke is the one-argument side-effecting function an event
// descriptor calls once its payload has been decoded.
type EventInvoke func(ctx context.Context, param any) error

// CommandInvoke returns a value or fails; it backs a command descriptor.
type CommandInvoke func(ctx context.Context, param any) (any, error)

// EventDescriptor is (queue, pattern, decode target, invoke function). New
// constructs a fresh decode target for each delivery; Invoke receives the
// decoded pointer.
type EventDescriptor struct {
	Queue   string
	Pattern string
	New     func() any
	Invoke  EventInvoke
}

// CommandDescriptor is (queue, routing key, decode target, invoke
// function). RoutingKey is a literal — no wildcards.
type CommandDescriptor struct {
	Queue      string
	RoutingKey string
	New        func() any
	Invoke     CommandInvoke
}

type queueEntry struct {
	kind     Kind
	events   []EventDescriptor
	commands []CommandDescriptor
}

// Registry holds descriptor records and provides lookup by queue.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*queueEntry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{queues: make(map[string]*queueEntry)}
}

// RegisterEvent adds an event descriptor to queue. Fails with
// *core.HandlerRegistrationError if queue already holds command
// descriptors — a queue must stay homogeneous, all events or all commands.
func (r *Registry) RegisterEvent(d EventDescriptor) error {
	if d.Queue == "" {
		return core.NewInvalidArgument("queue", "must not be empty")
	}
	if !core.ValidPattern(d.Pattern) {
		return core.NewInvalidArgument("pattern", "malformed")
	}
	if d.Invoke == nil {
		return core.NewInvalidArgument("invoke", "must not be nil")
	}
	if d.New == nil {
		d.New = func() any { return new(any) }
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.queues[d.Queue]
	if !ok {
		e = &queueEntry{kind: KindEvent}
		r.queues[d.Queue] = e
	}
	if e.kind != KindEvent {
		return &core.HandlerRegistrationError{Queue: d.Queue, Reason: "queue already holds command descriptors"}
	}
	e.events = append(e.events, d)
	return nil
}

// RegisterCommand adds a command descriptor to queue. Fails with
// *core.HandlerRegistrationError if queue already holds event descriptors,
// or if RoutingKey duplicates an existing command on the same queue.
func (r *Registry) RegisterCommand(d CommandDescriptor) error {
	if d.Queue == "" {
		return core.NewInvalidArgument("queue", "must not be empty")
	}
	if !core.ValidRoutingKey(d.RoutingKey) {
		return core.NewInvalidArgument("routing_key", "must be a literal routing key")
	}
	if d.Invoke == nil {
		return core.NewInvalidArgument("invoke", "must not be nil")
	}
	if d.New == nil {
		d.New = func() any { return new(any) }
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.queues[d.Queue]
	if !ok {
		e = &queueEntry{kind: KindCommand}
		r.queues[d.Queue] = e
	}
	if e.kind != KindCommand {
		return &core.HandlerRegistrationError{Queue: d.Queue, Reason: "queue already holds event descriptors"}
	}
	for _, existing := range e.commands {
		if existing.RoutingKey == d.RoutingKey {
			return &core.HandlerRegistrationError{Queue: d.Queue, Reason: "duplicate command routing key " + d.RoutingKey}
		}
	}
	e.commands = append(e.commands, d)
	return nil
}

// Kind reports the kind of queue, and whether it has been registered at all.
func (r *Registry) Kind(queue string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.queues[queue]
	if !ok {
		return 0, false
	}
	return e.kind, true
}

// Events returns the event descriptors registered on queue.
func (r *Registry) Events(queue string) []EventDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.queues[queue]
	if !ok {
		return nil
	}
	return append([]EventDescriptor(nil), e.events...)
}

// Commands returns the command descriptors registered on queue.
func (r *Registry) Commands(queue string) []CommandDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.queues[queue]
	if !ok {
		return nil
	}
	return append([]CommandDescriptor(nil), e.commands...)
}

// Queues returns the names of all registered queues.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.queues))
	for q := range r.queues {
		out = append(out, q)
	}
	return out
}

// Patterns returns the set of binding patterns a queue needs bound at the
// broker: the union of event patterns, or the literal routing keys of its
// commands.
func (r *Registry) Patterns(queue string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.queues[queue]
	if !ok {
		return nil
	}
	var out []string
	switch e.kind {
	case KindEvent:
		for _, d := range e.events {
			out = append(out, d.Pattern)
		}
	case KindCommand:
		for _, d := range e.commands {
			out = append(out, d.RoutingKey)
		}
	}
	return out
}
