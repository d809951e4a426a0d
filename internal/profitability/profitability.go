// Package profitability classifies channels as hard/soft bleeders from
// rolling 7d/30d revenue and rebalance-cost windows.
package profitability

import "github.com/brewgator/revenue-ops/internal/model"

// hardBleederNetThreshold / sustainedSevereAbs bound the net-profit
// cutoffs used below; both are in sats.
const (
	hardBleederNetThreshold = -1000
	sustainedSevereAbs      = 1000
)

// Window aggregates revenue and rebalance spend over one rolling period.
type Window struct {
	RevenueSats        int64
	RebalanceCostSats  int64
}

// NetProfit is revenue minus rebalance cost for the window.
func (w Window) NetProfit() int64 { return w.RevenueSats - w.RebalanceCostSats }

// Classify applies the bleeder rules from the 7d/30d windows. Rule order
// matches the original classifier: hard bleeder first, then soft, then
// sustained (both-negative) severity split, else healthy.
func Classify(chanID, peerID string, win7d, win30d Window) model.BleederClassification {
	net7d := win7d.NetProfit()
	net30d := win30d.NetProfit()

	bc := model.BleederClassification{
		ChannelID:        chanID,
		PeerID:           peerID,
		RebalanceCost30d: win30d.RebalanceCostSats,
		Revenue30d:       win30d.RevenueSats,
		NetProfit30d:     net30d,
		NetProfit7d:      net7d,
	}

	switch {
	case win30d.RebalanceCostSats > win30d.RevenueSats*2 && net30d < hardBleederNetThreshold:
		bc.Classification = model.BleederHard
		bc.Reason = "rebalance cost exceeds 2x revenue and net 30d loss exceeds 1000 sats"
		bc.RecommendedAction = model.ActionDisableRebalance

	case net7d < 0 && net30d > 0:
		bc.Classification = model.BleederSoft
		bc.Reason = "short-term loss with positive 30d trend"
		bc.RecommendedAction = model.ActionReduceRebalance

	case net30d < 0 && net7d < 0:
		if abs64(net30d) > sustainedSevereAbs {
			bc.Classification = model.BleederHard
			bc.Reason = "sustained bleeding: both windows negative, 30d loss exceeds 1000 sats"
			bc.RecommendedAction = model.ActionDisableRebalance
		} else {
			bc.Classification = model.BleederSoft
			bc.Reason = "sustained minor bleeding: both windows negative"
			bc.RecommendedAction = model.ActionReduceRebalance
		}

	default:
		bc.Classification = model.BleederNone
		bc.Reason = "channel is profitable"
		bc.RecommendedAction = model.ActionMonitor
	}

	return bc
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
