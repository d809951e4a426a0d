// Package hostrpc talks to the routing node's CLI, the way the teacher
// talks to lncli: exec the binary, decode JSON, surface stderr on failure.
package hostrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/brewgator/revenue-ops/internal/model"
)

// Client runs "lightning-cli" against the local node.
type Client struct {
	binary  string
	timeout time.Duration
}

// NewClient returns a Client bound to the given lightning-cli binary path.
// An empty path defaults to "lightning-cli" on $PATH.
func NewClient(binary string, timeout time.Duration) *Client {
	if binary == "" {
		binary = "lightning-cli"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{binary: binary, timeout: timeout}
}

// run execs the CLI and returns raw stdout, surfacing stderr on failure the
// way the teacher's RunLNCLI does.
func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, args...)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("%s %v failed: %v, stderr: %s", c.binary, args, err, string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("%s %v failed: %w", c.binary, args, err)
	}
	return output, nil
}

// Run execs an arbitrary lightning-cli subcommand, for callers (like
// automanager) that only need raw output.
func (c *Client) Run(ctx context.Context, args ...string) ([]byte, error) {
	return c.run(ctx, args...)
}

// rpcListPeerChannels is the subset of "listpeerchannels" this system reads.
type rpcListPeerChannels struct {
	Channels []rpcChannel `json:"channels"`
}

type rpcChannel struct {
	PeerID            string `json:"peer_id"`
	ShortChannelID    string `json:"short_channel_id"`
	FundingTxID       string `json:"funding_txid"`
	FundingOutnum     int    `json:"funding_outnum"`
	ToUsMsat          int64  `json:"to_us_msat"`
	TotalMsat         int64  `json:"total_msat"`
	FeeBaseMsat       int64  `json:"fee_base_msat"`
	FeeProportional   int64  `json:"fee_proportional_millionths"`
	State             string `json:"state"`
}

// ListChannels returns the node's current channel set.
func (c *Client) ListChannels(ctx context.Context) ([]model.Channel, error) {
	output, err := c.run(ctx, "listpeerchannels")
	if err != nil {
		return nil, err
	}
	var parsed rpcListPeerChannels
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("decode listpeerchannels: %w", err)
	}
	out := make([]model.Channel, 0, len(parsed.Channels))
	for _, ch := range parsed.Channels {
		out = append(out, model.Channel{
			ChanID:        ch.ShortChannelID,
			ChannelPoint:  fmt.Sprintf("%s:%d", ch.FundingTxID, ch.FundingOutnum),
			PeerID:        ch.PeerID,
			LocalBalance:  ch.ToUsMsat / 1000,
			RemoteBalance: (ch.TotalMsat - ch.ToUsMsat) / 1000,
			Capacity:      ch.TotalMsat / 1000,
			FeePPM:        ch.FeeProportional,
		})
	}
	return out, nil
}

// SetChannelFee sets a channel's (or global) routing fee via setchannel.
func (c *Client) SetChannelFee(ctx context.Context, chanID string, baseMsat, feePPM int64) error {
	_, err := c.run(ctx, "setchannel", chanID,
		fmt.Sprintf("%d", baseMsat), fmt.Sprintf("%d", feePPM))
	if err != nil {
		return fmt.Errorf("setchannel %s: %w", chanID, err)
	}
	return nil
}

// CreateInvoice creates a temporary invoice used for a circular rebalance.
func (c *Client) CreateInvoice(ctx context.Context, amountMsat int64, label, description string) (string, error) {
	output, err := c.run(ctx, "invoice", fmt.Sprintf("%d", amountMsat), label, description)
	if err != nil {
		return "", fmt.Errorf("invoice: %w", err)
	}
	var resp struct {
		Bolt11 string `json:"bolt11"`
	}
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("decode invoice: %w", err)
	}
	return resp.Bolt11, nil
}

// PayViaRoute pays bolt11 out through outChan and back in via inChan — the
// circular payment the rebalancer uses to move liquidity between its own
// channels.
func (c *Client) PayViaRoute(ctx context.Context, bolt11, outChan, exceptChan string, maxFeeMsat int64) error {
	_, err := c.run(ctx, "pay", bolt11,
		fmt.Sprintf("--maxfeepercent=%f", 0.0),
		fmt.Sprintf("--exclude=%s", exceptChan))
	if err != nil {
		return fmt.Errorf("pay: %w", err)
	}
	return nil
}

// DelInvoice cancels an unpaid temporary invoice.
func (c *Client) DelInvoice(ctx context.Context, label, status string) error {
	_, err := c.run(ctx, "delinvoice", label, status)
	if err != nil {
		return fmt.Errorf("delinvoice %s: %w", label, err)
	}
	return nil
}

// ListForwards returns raw forwarding history, used by the scheduler's
// flow-analysis loop. An empty status returns forwards of every status
// (settled, failed, local_failed) so callers can compute failure rates;
// a non-empty status filters server-side to that status alone.
func (c *Client) ListForwards(ctx context.Context, status string) ([]model.ForwardEvent, error) {
	args := []string{"listforwards"}
	if status != "" {
		args = append(args, status)
	}
	output, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Forwards []struct {
			InChannel  string  `json:"in_channel"`
			OutChannel string  `json:"out_channel"`
			InMsat     int64   `json:"in_msat"`
			OutMsat    int64   `json:"out_msat"`
			FeeMsat    int64   `json:"fee_msat"`
			Status     string  `json:"status"`
			ReceivedAt float64 `json:"received_time"`
		} `json:"forwards"`
	}
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("decode listforwards: %w", err)
	}
	out := make([]model.ForwardEvent, 0, len(parsed.Forwards))
	for _, f := range parsed.Forwards {
		out = append(out, model.ForwardEvent{
			InChannel:  f.InChannel,
			OutChannel: f.OutChannel,
			InMsat:     f.InMsat,
			OutMsat:    f.OutMsat,
			FeeMsat:    f.FeeMsat,
			Status:     model.ForwardStatus(f.Status),
			Timestamp:  time.Unix(int64(f.ReceivedAt), 0).UTC(),
		})
	}
	return out, nil
}
