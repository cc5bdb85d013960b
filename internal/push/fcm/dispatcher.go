package fcm

import (
	"context"

	"perroquet/internal/platform/credcache"
)

// Dispatcher binds the FCM client to its shared credential cache so callers
// never handle the bearer token directly.
type Dispatcher struct {
	client *Client
	cache  *credcache.Cache[Data]
}

// NewDispatcher constructs a Dispatcher around an existing client and cache.
func NewDispatcher(client *Client, cache *credcache.Cache[Data]) *Dispatcher {
	return &Dispatcher{client: client, cache: cache}
}

// Send resolves the current bearer token and delivers one message. See
// Client.Send for the stale-token contract.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (staleToken string, err error) {
	bundle, err := d.cache.Access(ctx)
	if err != nil {
		return "", err
	}
	return d.client.Send(ctx, bundle.Data, msg)
}
