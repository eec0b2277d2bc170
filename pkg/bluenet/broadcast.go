package bluenet

import (
	"context"
	"time"

	"github.com/backkem/bluenet/pkg/broadcast"
)

// Broadcast queues e and waits until it has been on air long enough, or
// fails. The element is cancelled with the client.
func (c *Client) Broadcast(ctx context.Context, e *broadcast.Element) error {
	if c.broadcaster == nil {
		return broadcast.ErrNoAdvertiser
	}
	if err := c.running(); err != nil {
		return err
	}
	if _, ok := c.broadcastKey(e.ReferenceID); !ok {
		return broadcast.ErrNoKey
	}
	c.broadcaster.Add(e)
	return e.Wait(ctx)
}

// BroadcastSwitch switches one stone of a sphere without connecting.
// A newer switch for the same stone supersedes a queued one.
func (c *Client) BroadcastSwitch(ctx context.Context, referenceID string, stoneID uint8, value uint8) error {
	return c.Broadcast(ctx, broadcast.NewMultiSwitch(referenceID, stoneID, value))
}

// BroadcastTime sets the clock of every stone in a sphere.
func (c *Client) BroadcastTime(ctx context.Context, referenceID string, t time.Time) error {
	return c.Broadcast(ctx, broadcast.NewSetTime(referenceID, t))
}

// BroadcastBehaviourSettings sends the sphere wide behaviour settings.
func (c *Client) BroadcastBehaviourSettings(ctx context.Context, referenceID string, settings uint32) error {
	return c.Broadcast(ctx, broadcast.NewBehaviourSettings(referenceID, settings))
}

// PendingBroadcasts returns the number of queued broadcast elements.
func (c *Client) PendingBroadcasts() int {
	if c.broadcaster == nil {
		return 0
	}
	return c.broadcaster.Pending()
}

// CancelBroadcasts fails every queued element with broadcast.ErrCancelled.
func (c *Client) CancelBroadcasts() {
	if c.broadcaster != nil {
		c.broadcaster.Cancel()
	}
}
