package fetch

import (
	"context"

	"github.com/google/uuid"

	"pagecache/internal/core"
)

// handle identifies one outstanding request of a controller.
type handle struct {
	id     uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
}

// coordinator keeps at most one outstanding request per controller.
// Starting a request cancels the previous one; only the current handle may commit.
// It is not safe for concurrent use: controllers call it under their own lock.
type coordinator struct {
	scope   context.Context
	stop    context.CancelFunc
	current *handle
}

func newCoordinator() *coordinator {
	scope, stop := context.WithCancel(context.Background())
	return &coordinator{scope: scope, stop: stop}
}

// begin cancels any outstanding request and issues a new handle whose context
// ends when parent ends, when it is superseded, or when the controller closes.
func (c *coordinator) begin(parent context.Context) *handle {
	c.cancel()

	id := uuid.New()
	ctx, cancel := context.WithCancel(core.WithRequestID(parent, id.String()))
	if c.scope.Err() != nil {
		cancel()
	}
	release := context.AfterFunc(c.scope, cancel)
	h := &handle{
		id:  id,
		ctx: ctx,
		cancel: func() {
			release()
			cancel()
		},
	}
	c.current = h
	return h
}

// finish releases h and reports whether it was still current.
func (c *coordinator) finish(h *handle) bool {
	current := c.current == h
	if current {
		c.current = nil
	}
	h.cancel()
	return current
}

// cancel aborts the outstanding request, if any.
func (c *coordinator) cancel() {
	if c.current != nil {
		c.current.cancel()
		c.current = nil
	}
}

func (c *coordinator) inFlight() bool {
	return c.current != nil
}

func (c *coordinator) closed() bool {
	return c.scope.Err() != nil
}

// close aborts the outstanding request and every future one.
func (c *coordinator) close() {
	c.cancel()
	c.stop()
}
