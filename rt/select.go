// File: rt/select.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Select races several futures and keeps the first to finish.

package rt

import "math/rand/v2"

// Branch is one arm of a Select.
type Branch[T any] interface {
	poll(cx *Context) (T, bool)
	drop()
}

type caseBranch[V, T any] struct {
	fut  Future[V]
	body func(V) T
}

func (c *caseBranch[V, T]) poll(cx *Context) (T, bool) {
	v, ok := c.fut.Poll(cx)
	if !ok {
		var zero T
		return zero, false
	}
	c.fut = nil
	return c.body(v), true
}

func (c *caseBranch[V, T]) drop() {
	if c.fut != nil {
		Drop(c.fut)
		c.fut = nil
	}
}

// Case pairs a future with the body run on its output.
func Case[V, T any](fut Future[V], body func(V) T) Branch[T] {
	return &caseBranch[V, T]{fut: fut, body: body}
}

type selectFuture[T any] struct {
	branches []Branch[T]
	order    []int
	done     bool
	out      T
}

// Select polls every branch on each poll in random order and resolves with
// the body result of the first branch that completes. The remaining
// branches are dropped and never polled again. With no branches it never
// completes.
func Select[T any](branches ...Branch[T]) Future[T] {
	order := make([]int, len(branches))
	for i := range order {
		order[i] = i
	}
	return &selectFuture[T]{branches: branches, order: order}
}

func (s *selectFuture[T]) Poll(cx *Context) (T, bool) {
	if s.done {
		return s.out, true
	}
	rand.Shuffle(len(s.order), func(i, j int) { s.order[i], s.order[j] = s.order[j], s.order[i] })
	for _, i := range s.order {
		v, ok := s.branches[i].poll(cx)
		if !ok {
			continue
		}
		s.done, s.out = true, v
		for j, b := range s.branches {
			if j != i {
				b.drop()
			}
		}
		s.branches = nil
		return v, true
	}
	var zero T
	return zero, false
}

// Drop releases every branch of a select that has not completed.
func (s *selectFuture[T]) Drop() {
	for _, b := range s.branches {
		b.drop()
	}
	s.branches = nil
}
