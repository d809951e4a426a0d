// Package automanager guards fee writes against a competing external
// auto-manager (the clboss plugin, in Core Lightning setups): before this
// controller writes a fee, it must claim the channel with clboss-unmanage,
// and it gives the tag back with clboss-remanage when it no longer wants it.
package automanager

import (
	"context"
	"fmt"
)

// runner is the minimal host RPC surface automanager needs. hostrpc.Client
// satisfies it without either package importing the other's concrete type.
type runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// Client issues clboss-unmanage/clboss-remanage calls and remembers which
// channels this process currently owns, so repeated cycles don't re-issue
// the same unmanage call.
type Client struct {
	rpc   runner
	owned map[string]bool
}

// New returns a Client backed by rpc.
func New(rpc runner) *Client {
	return &Client{rpc: rpc, owned: make(map[string]bool)}
}

const manageTag = "feeadjuster"

// Claim unmanages a channel's fee tag so this controller's fee writes take
// effect, the way the original plugin docstring describes. Safe to call
// repeatedly; only the first call per channel per process issues the RPC.
func (c *Client) Claim(ctx context.Context, chanID string) error {
	if c.owned[chanID] {
		return nil
	}
	if _, err := c.rpc.Run(ctx, "clboss-unmanage", chanID, manageTag); err != nil {
		return fmt.Errorf("clboss-unmanage %s: %w", chanID, err)
	}
	c.owned[chanID] = true
	return nil
}

// Release gives the fee tag back to the external auto-manager.
func (c *Client) Release(ctx context.Context, chanID string) error {
	if !c.owned[chanID] {
		return nil
	}
	if _, err := c.rpc.Run(ctx, "clboss-remanage", chanID, manageTag); err != nil {
		return fmt.Errorf("clboss-remanage %s: %w", chanID, err)
	}
	delete(c.owned, chanID)
	return nil
}
