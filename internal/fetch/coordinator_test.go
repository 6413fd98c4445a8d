package fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"pagecache/internal/core"
)

func TestCoordinatorBeginCancelsPrevious(t *testing.T) {
	c := newCoordinator()
	first := c.begin(context.Background())
	second := c.begin(context.Background())

	assert.Error(t, first.ctx.Err(), "superseded handle must be cancelled")
	assert.NoError(t, second.ctx.Err())
	assert.NotEqual(t, first.id, second.id)
	assert.Equal(t, second.id.String(), core.GetRequestID(second.ctx))

	assert.False(t, c.finish(first), "superseded handle must not commit")
	assert.True(t, c.finish(second))
	assert.False(t, c.inFlight())
}

func TestCoordinatorFollowsParentContext(t *testing.T) {
	c := newCoordinator()
	parent, cancel := context.WithCancel(context.Background())
	h := c.begin(parent)
	cancel()
	assert.Error(t, h.ctx.Err())
	assert.True(t, c.finish(h), "caller cancellation does not supersede")
}

func TestCoordinatorClose(t *testing.T) {
	c := newCoordinator()
	h := c.begin(context.Background())
	c.close()

	assert.Error(t, h.ctx.Err())
	assert.True(t, c.closed())
	assert.False(t, c.inFlight())

	late := c.begin(context.Background())
	assert.Error(t, late.ctx.Err(), "requests after close start cancelled")
}

func TestSubscribers(t *testing.T) {
	var s subscribers[int]
	var got []int
	unsubscribe := s.add(func(v int) { got = append(got, v) })
	s.add(func(v int) { got = append(got, v*10) })

	s.publish(1)
	unsubscribe()
	unsubscribe()
	s.publish(2)

	assert.Equal(t, []int{1, 10, 20}, got)
}
