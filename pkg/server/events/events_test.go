// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEvent is a minimal Event for dispatcher tests.
type testEvent struct {
	done  bool
	trace []string
	gated bool
}

func (e *testEvent) Done() bool { return e.done }

func tracer(name string, stop bool) func() Handler[*testEvent] {
	return func() Handler[*testEvent] {
		return HandlerFunc[*testEvent](func(_ context.Context, evt *testEvent) error {
			evt.trace = append(evt.trace, name)
			if stop {
				evt.done = true
			}
			return nil
		})
	}
}

func TestDispatcherInvokesInAscendingOrder(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(
		Descriptor[*testEvent]{Name: "third", Order: 3000, Factory: tracer("third", false)},
		Descriptor[*testEvent]{Name: "first", Order: 1000, Factory: tracer("first", false)},
		Descriptor[*testEvent]{Name: "second", Order: 2000, Factory: tracer("second", false)},
	)
	require.NoError(t, err)

	evt := &testEvent{}
	require.NoError(t, d.Dispatch(context.Background(), evt))
	assert.Equal(t, []string{"first", "second", "third"}, evt.trace)
}

func TestDispatcherShortCircuitsWhenDone(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(
		Descriptor[*testEvent]{Name: "first", Order: 1000, Factory: tracer("first", true)},
		Descriptor[*testEvent]{Name: "second", Order: 2000, Factory: tracer("second", false)},
	)
	require.NoError(t, err)

	evt := &testEvent{}
	require.NoError(t, d.Dispatch(context.Background(), evt))
	assert.Equal(t, []string{"first"}, evt.trace, "handlers after the short-circuit must not run")
}

func TestDispatcherAppliesFilters(t *testing.T) {
	t.Parallel()

	gated := func(evt *testEvent) bool { return evt.gated }

	d, err := NewDispatcher(
		Descriptor[*testEvent]{Name: "always", Order: 1000, Factory: tracer("always", false)},
		Descriptor[*testEvent]{
			Name: "gated", Order: 2000,
			Filters: []Predicate[*testEvent]{gated},
			Factory: tracer("gated", false),
		},
	)
	require.NoError(t, err)

	evt := &testEvent{}
	require.NoError(t, d.Dispatch(context.Background(), evt))
	assert.Equal(t, []string{"always"}, evt.trace)

	evt = &testEvent{gated: true}
	require.NoError(t, d.Dispatch(context.Background(), evt))
	assert.Equal(t, []string{"always", "gated"}, evt.trace)
}

func TestDispatcherHandlerFailureSurfaces(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(Descriptor[*testEvent]{
		Name: "failing", Order: 1000,
		Factory: func() Handler[*testEvent] {
			return HandlerFunc[*testEvent](func(_ context.Context, _ *testEvent) error {
				return assert.AnError
			})
		},
	})
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), &testEvent{})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failing")
}

func TestDispatcherObservesCancellation(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(
		Descriptor[*testEvent]{Name: "first", Order: 1000, Factory: tracer("first", false)},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	evt := &testEvent{}
	err = d.Dispatch(ctx, evt)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, evt.trace)
}

func TestDispatcherScopedLifetimeCreatesPerEvent(t *testing.T) {
	t.Parallel()

	created := 0
	d, err := NewDispatcher(Descriptor[*testEvent]{
		Name: "scoped", Order: 1000, Lifetime: Scoped,
		Factory: func() Handler[*testEvent] {
			created++
			return HandlerFunc[*testEvent](func(_ context.Context, _ *testEvent) error { return nil })
		},
	})
	require.NoError(t, err)
	assert.Zero(t, created, "scoped handlers are not instantiated at build time")

	require.NoError(t, d.Dispatch(context.Background(), &testEvent{}))
	require.NoError(t, d.Dispatch(context.Background(), &testEvent{}))
	assert.Equal(t, 2, created)
}

func TestDispatcherMissingFactoryFailsFast(t *testing.T) {
	t.Parallel()

	_, err := NewDispatcher(Descriptor[*testEvent]{Name: "broken", Order: 1000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestDispatcherRemove(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(
		Descriptor[*testEvent]{Name: "optional", Order: 1000, Factory: tracer("optional", false)},
		Descriptor[*testEvent]{Name: "required", Order: 2000, Required: true, Factory: tracer("required", false)},
	)
	require.NoError(t, err)

	trimmed, err := d.Remove("optional")
	require.NoError(t, err)

	evt := &testEvent{}
	require.NoError(t, trimmed.Dispatch(context.Background(), evt))
	assert.Equal(t, []string{"required"}, evt.trace)

	_, err = d.Remove("required")
	require.Error(t, err, "required descriptors cannot be removed")

	_, err = d.Remove("missing")
	require.Error(t, err)
}

func TestDispatcherWithMergesDescriptors(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(
		Descriptor[*testEvent]{Name: "base", Order: 2000, Factory: tracer("base", false)},
	)
	require.NoError(t, err)

	merged, err := d.With(Descriptor[*testEvent]{Name: "inserted", Order: 1000, Factory: tracer("inserted", false)})
	require.NoError(t, err)

	evt := &testEvent{}
	require.NoError(t, merged.Dispatch(context.Background(), evt))
	assert.Equal(t, []string{"inserted", "base"}, evt.trace)
}
