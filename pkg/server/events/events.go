// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

// Package events implements the ordered, filter-gated handler pipeline the
// protocol endpoints are built on.
//
// The pipeline is data: each stage is a table of descriptors (order, filter
// set, factory) sorted once when the dispatcher is built. Dispatching walks
// the table in ascending order and stops as soon as the event reports that
// it was handled, skipped or rejected.
package events

import (
	"context"
	"fmt"
	"slices"
)

// Lifetime controls how handler instances are created.
type Lifetime int

const (
	// Singleton handlers are created once when the dispatcher is built and
	// reused for every event.
	Singleton Lifetime = iota

	// Scoped handlers are created by their factory for every dispatched
	// event.
	Scoped
)

// Event is the contract a dispatched context must satisfy: it exposes the
// short-circuit decision accumulated by earlier handlers.
type Event interface {
	// Done reports whether the pipeline should stop invoking handlers.
	Done() bool
}

// Handler processes a single event.
type Handler[T Event] interface {
	Handle(ctx context.Context, event T) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc[T Event] func(ctx context.Context, event T) error

// Handle implements Handler.
func (f HandlerFunc[T]) Handle(ctx context.Context, event T) error {
	return f(ctx, event)
}

// Predicate gates a descriptor: the handler only runs when every predicate
// returns true for the event.
type Predicate[T Event] func(event T) bool

// Descriptor declares a handler's position in the pipeline.
type Descriptor[T Event] struct {
	// Name identifies the handler in logs and configuration errors.
	Name string

	// Order positions the handler within its context type. Built-in
	// handlers use order values spaced by 1000 to leave room for insertion.
	Order int64

	// Lifetime selects singleton or per-event instantiation.
	Lifetime Lifetime

	// Filters must all pass for the handler to run.
	Filters []Predicate[T]

	// Factory creates the handler instance.
	Factory func() Handler[T]

	// Required handlers may not be removed from the default list.
	Required bool
}

// Dispatcher invokes the descriptors registered for one context type.
type Dispatcher[T Event] struct {
	descriptors []Descriptor[T]

	// singletons are instantiated once, indexed parallel to descriptors.
	singletons []Handler[T]
}

// NewDispatcher builds a dispatcher from descriptors. The table is sorted by
// ascending order once; singleton handlers are instantiated eagerly so a
// nil factory fails fast at construction instead of mid-request.
func NewDispatcher[T Event](descriptors ...Descriptor[T]) (*Dispatcher[T], error) {
	sorted := slices.Clone(descriptors)
	slices.SortStableFunc(sorted, func(a, b Descriptor[T]) int {
		switch {
		case a.Order < b.Order:
			return -1
		case a.Order > b.Order:
			return 1
		default:
			return 0
		}
	})

	singletons := make([]Handler[T], len(sorted))
	for i, desc := range sorted {
		if desc.Factory == nil {
			return nil, fmt.Errorf("descriptor %q has no factory", desc.Name)
		}
		if desc.Lifetime == Singleton {
			handler := desc.Factory()
			if handler == nil {
				return nil, fmt.Errorf("descriptor %q factory returned nil", desc.Name)
			}
			singletons[i] = handler
		}
	}

	return &Dispatcher[T]{descriptors: sorted, singletons: singletons}, nil
}

// MustDispatcher is NewDispatcher panicking on configuration errors. Used
// for the built-in handler tables, which are assembled at startup.
func MustDispatcher[T Event](descriptors ...Descriptor[T]) *Dispatcher[T] {
	d, err := NewDispatcher(descriptors...)
	if err != nil {
		panic(err)
	}
	return d
}

// Remove returns a dispatcher without the named descriptor. Removing a
// required handler is a configuration error.
func (d *Dispatcher[T]) Remove(name string) (*Dispatcher[T], error) {
	idx := slices.IndexFunc(d.descriptors, func(desc Descriptor[T]) bool {
		return desc.Name == name
	})
	if idx < 0 {
		return nil, fmt.Errorf("no descriptor named %q", name)
	}
	if d.descriptors[idx].Required {
		return nil, fmt.Errorf("descriptor %q is required and cannot be removed", name)
	}
	return NewDispatcher(slices.Delete(slices.Clone(d.descriptors), idx, idx+1)...)
}

// With returns a dispatcher with extra descriptors merged into the table.
func (d *Dispatcher[T]) With(descriptors ...Descriptor[T]) (*Dispatcher[T], error) {
	return NewDispatcher(append(slices.Clone(d.descriptors), descriptors...)...)
}

// Dispatch invokes the handlers whose filters pass, in ascending order,
// until the event reports done or the table is exhausted. A handler failure
// surfaces as the pipeline's failure; cancellation stops dispatching before
// the next handler runs.
func (d *Dispatcher[T]) Dispatch(ctx context.Context, event T) error {
	for i, desc := range d.descriptors {
		if err := ctx.Err(); err != nil {
			return err
		}
		if event.Done() {
			return nil
		}

		if !filtersPass(desc.Filters, event) {
			continue
		}

		handler := d.singletons[i]
		if handler == nil {
			handler = desc.Factory()
			if handler == nil {
				return fmt.Errorf("descriptor %q factory returned nil", desc.Name)
			}
		}

		if err := handler.Handle(ctx, event); err != nil {
			return fmt.Errorf("handler %q: %w", desc.Name, err)
		}
	}
	return nil
}

func filtersPass[T Event](filters []Predicate[T], event T) bool {
	for _, filter := range filters {
		if !filter(event) {
			return false
		}
	}
	return true
}
