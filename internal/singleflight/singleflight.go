// Package singleflight coalesces concurrent calls that share a key.
package singleflight

import (
	"context"
	"sync"
)

// Group runs at most one fn per key at a time. Callers arriving while a call
// is in flight wait for it and receive its result.
type Group[T any] struct {
	mu sync.Mutex
	m  map[string]*call[T]
}

type call[T any] struct {
	done chan struct{}
	val  T
	err  error
	dups int
}

// New creates an empty Group.
func New[T any]() *Group[T] {
	return &Group[T]{m: make(map[string]*call[T])}
}

// Do executes fn for key unless a call is already in flight, in which case it
// waits for that call. shared reports whether the result went to more than
// one caller. A waiter whose ctx ends stops waiting and returns ctx.Err();
// the in-flight call is unaffected.
//
// The key is forgotten as soon as fn returns, so a later Do runs fn again.
func (g *Group[T]) Do(ctx context.Context, key string, fn func() (T, error)) (v T, err error, shared bool) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		c.dups++
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.val, c.err, true
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err(), true
		}
	}

	c := &call[T]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	g.mu.Lock()
	delete(g.m, key)
	shared = c.dups > 0
	g.mu.Unlock()
	close(c.done)

	return c.val, c.err, shared
}

// InFlight reports whether a call for key is running.
func (g *Group[T]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}
