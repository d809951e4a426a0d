// Package flowanalyzer derives per-channel flow regime, imbalance, HTLC
// congestion, and time-bucket state from raw forwarding events.
package flowanalyzer

import (
	"time"

	"github.com/brewgator/revenue-ops/internal/model"
)

// CongestionThreshold marks a channel as congested once its rolling HTLC
// occupancy crosses this fraction.
const CongestionThreshold = 0.8

// ImbalanceDrainThreshold / ImbalanceSinkThreshold classify flow regime from
// signed imbalance in [-1, +1].
const (
	ImbalanceDrainThreshold = -0.3
	ImbalanceSinkThreshold  = 0.3
)

// Analyzer folds forward events into ChannelState.
type Analyzer struct{}

// New returns a ready-to-use Analyzer. It is stateless; all state lives in
// the Store's channel_state table.
func New() *Analyzer { return &Analyzer{} }

// Update recomputes derived state for one channel from its balances and a
// window of recent forward events, plus the current HTLC count relative to
// its max-htlc limit.
func (a *Analyzer) Update(ch model.Channel, forwards []model.ForwardEvent, htlcCount, maxHTLCs int, now time.Time) model.ChannelState {
	var inbound, outbound int64
	var total, failed int
	for _, f := range forwards {
		if f.OutChannel != ch.ChanID && f.InChannel != ch.ChanID {
			continue
		}
		total++
		if f.Status != model.ForwardSettled {
			failed++
			continue
		}
		if f.OutChannel == ch.ChanID {
			outbound += f.OutMsat
		}
		if f.InChannel == ch.ChanID {
			inbound += f.InMsat
		}
	}

	var failureRate float64
	if total > 0 {
		failureRate = float64(failed) / float64(total)
	}

	netFlow := inbound - outbound
	imbalance := computeImbalance(ch.LocalBalance, ch.RemoteBalance)
	regime := classifyRegime(imbalance)

	congestion := 0.0
	if maxHTLCs > 0 {
		congestion = float64(htlcCount) / float64(maxHTLCs)
	}

	return model.ChannelState{
		ChanID:             ch.ChanID,
		PeerID:             ch.PeerID,
		InboundVolumeMsat:  inbound,
		OutboundVolumeMsat: outbound,
		NetFlowMsat:        netFlow,
		Imbalance:          imbalance,
		FlowRegime:         regime,
		HTLCCongestion:     congestion,
		Congested:          congestion >= CongestionThreshold,
		FailureRate:        failureRate,
		TimeBucket:         classifyTimeBucket(now),
		LastFeePPM:         ch.FeePPM,
		UpdatedAt:          now,
	}
}

// computeImbalance returns signed imbalance in [-1, +1] as
// (remote - local) / (local + remote): negative means local-heavy,
// positive means remote-heavy, 0 for an empty channel.
func computeImbalance(local, remote int64) float64 {
	total := local + remote
	if total <= 0 {
		return 0
	}
	return (float64(remote) - float64(local)) / float64(total)
}

// classifyRegime labels a channel "drain" when imbalance is at or below
// ImbalanceDrainThreshold (local-heavy: most liquidity sits on our side),
// "sink" when it is at or above ImbalanceSinkThreshold (remote-heavy), else
// "balanced". Only the balance snapshot decides; net flow is not consulted.
func classifyRegime(imbalance float64) model.FlowRegime {
	switch {
	case imbalance <= ImbalanceDrainThreshold:
		return model.RegimeDrain
	case imbalance >= ImbalanceSinkThreshold:
		return model.RegimeSink
	default:
		return model.RegimeBalanced
	}
}

// classifyTimeBucket buckets the hour of day into low/normal/peak activity,
// used to weight Thompson observations by recency-of-similar-context.
func classifyTimeBucket(now time.Time) model.TimeBucket {
	hour := now.UTC().Hour()
	switch {
	case hour >= 2 && hour < 8:
		return model.TimeLow
	case hour >= 14 && hour < 22:
		return model.TimePeak
	default:
		return model.TimeNormal
	}
}

// BucketSimilarity weights an observation from `obs` when the current
// context is `current`: same bucket weighs fully, an adjacent bucket
// (low<->normal, normal<->peak) weighs half, and opposite buckets
// (low<->peak) weigh least.
func BucketSimilarity(current, obs model.TimeBucket) float64 {
	if current == obs {
		return 1.0
	}
	if (current == model.TimeLow && obs == model.TimePeak) || (current == model.TimePeak && obs == model.TimeLow) {
		return 0.2
	}
	return 0.5
}
