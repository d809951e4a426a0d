// Package model holds the shared data types that flow between the Store,
// the analyzers, and the fee/rebalance controllers.
package model

import "time"

// Channel is the host node's view of one Lightning channel.
type Channel struct {
	ChanID        string `json:"chan_id"`
	ChannelPoint  string `json:"channel_point"`
	PeerID        string `json:"peer_id"`
	LocalBalance  int64  `json:"local_balance"`
	RemoteBalance int64  `json:"remote_balance"`
	Capacity      int64  `json:"capacity"`
	AgeDays       int    `json:"age_days"`
	FeePPM        int64  `json:"fee_ppm"`
	ManagedAuto   bool   `json:"managed_auto"` // true if the external auto-manager still owns this tag
}

// ForwardStatus is the terminal status of a forwarded HTLC.
type ForwardStatus string

const (
	ForwardSettled     ForwardStatus = "settled"
	ForwardLocalFailed ForwardStatus = "local_failed"
	ForwardFailed      ForwardStatus = "failed"
)

// ForwardEvent is an immutable record of one forwarded HTLC.
type ForwardEvent struct {
	ID          int64         `json:"id"`
	InChannel   string        `json:"in_channel"`
	OutChannel  string        `json:"out_channel"`
	InMsat      int64         `json:"in_msat"`
	OutMsat     int64         `json:"out_msat"`
	FeeMsat     int64         `json:"fee_msat"`
	LatencyMs   int64         `json:"latency_ms"`
	Status      ForwardStatus `json:"status"`
	Timestamp   time.Time     `json:"timestamp"`
}

// PeerReputation is a per-peer rolling aggregate of forwarding outcomes.
// Score follows a recursive additive update (score_old*alpha +/- beta),
// bounded to [0, score_max] with a neutral 1.0 prior for a peer with no
// history.
type PeerReputation struct {
	PeerID    string  `json:"peer_id"`
	Successes int64   `json:"successes"`
	Failures  int64   `json:"failures"`
	Score     float64 `json:"score"`
}

// FlowRegime classifies the predominant direction of flow through a channel.
type FlowRegime string

const (
	RegimeBalanced FlowRegime = "balanced"
	RegimeDrain    FlowRegime = "drain"
	RegimeSink     FlowRegime = "sink"
)

// TimeBucket classifies forwarding activity by fixed UTC hour-of-day
// windows (flowanalyzer's classifyTimeBucket); no histogram of observed
// activity is kept.
type TimeBucket string

const (
	TimeLow    TimeBucket = "low"
	TimeNormal TimeBucket = "normal"
	TimePeak   TimeBucket = "peak"
)

// CorridorRole designates whether a channel is a primary or secondary route.
type CorridorRole string

const (
	CorridorPrimary   CorridorRole = "P"
	CorridorSecondary CorridorRole = "S"
)

// ChannelState is the rolling derived state consumed by the controllers.
type ChannelState struct {
	ChanID            string     `json:"chan_id"`
	PeerID            string     `json:"peer_id"`
	InboundVolumeMsat int64      `json:"inbound_volume_msat"`
	OutboundVolumeMsat int64     `json:"outbound_volume_msat"`
	NetFlowMsat       int64      `json:"net_flow_msat"`
	Imbalance         float64    `json:"imbalance"` // [-1, +1]
	FlowRegime        FlowRegime `json:"flow_regime"`
	HTLCCongestion    float64    `json:"htlc_congestion"` // [0, 1]
	Congested         bool       `json:"congested"`
	FailureRate       float64    `json:"failure_rate"` // [0, 1], share of forwards that failed or local_failed
	TimeBucket        TimeBucket `json:"time_bucket"`
	LastFeePPM        int64      `json:"last_fee_ppm"`
	LastBroadcastPPM  int64      `json:"last_broadcast_fee_ppm"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// BleederClass is the classification outcome of the profitability analyzer.
type BleederClass string

const (
	BleederNone BleederClass = "none"
	BleederSoft BleederClass = "soft"
	BleederHard BleederClass = "hard"
)

// RecommendedAction is what the profitability analyzer suggests the
// rebalancer do about a channel.
type RecommendedAction string

const (
	ActionMonitor          RecommendedAction = "monitor"
	ActionReduceRebalance  RecommendedAction = "reduce_rebalance"
	ActionDisableRebalance RecommendedAction = "disable_rebalance"
)

// BleederClassification is a tagged summary over a channel's rolling P&L.
type BleederClassification struct {
	ChannelID         string            `json:"channel_id"`
	PeerID            string            `json:"peer_id"`
	Classification    BleederClass      `json:"classification"`
	Reason            string            `json:"reason"`
	RebalanceCost30d  int64             `json:"rebalance_cost_30d"`
	Revenue30d        int64             `json:"revenue_30d"`
	NetProfit30d      int64             `json:"net_30d"`
	NetProfit7d       int64             `json:"net_7d"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
}

func (b BleederClassification) IsHardBleeder() bool { return b.Classification == BleederHard }
func (b BleederClassification) IsSoftBleeder() bool { return b.Classification == BleederSoft }
func (b BleederClassification) IsBleeder() bool     { return b.Classification != BleederNone }

// ToDict mirrors the original plugin's to_dict(), used by the admin RPC layer.
func (b BleederClassification) ToDict() map[string]any {
	return map[string]any{
		"channel_id":         b.ChannelID,
		"peer_id":            b.PeerID,
		"classification":     string(b.Classification),
		"reason":             b.Reason,
		"rebalance_cost_30d": b.RebalanceCost30d,
		"revenue_30d":        b.Revenue30d,
		"net_profit_30d":     b.NetProfit30d,
		"net_profit_7d":      b.NetProfit7d,
		"recommended_action": string(b.RecommendedAction),
	}
}

// HiveProfile is external per-peer fee intel supplied by the hive bridge.
type HiveProfile struct {
	PeerID               string    `json:"peer_id"`
	OptimalFeeEstimate   float64   `json:"optimal_fee_estimate"`
	AvgFeeCharged        float64   `json:"avg_fee_charged"`
	MinFee               float64   `json:"min_fee"`
	MaxFee               float64   `json:"max_fee"`
	FeeVolatility        float64   `json:"fee_volatility"`
	EstimatedElasticity  float64   `json:"estimated_elasticity"`
	Confidence           float64   `json:"confidence"`
	HiveReporters        int       `json:"hive_reporters"`
	LastUpdated          time.Time `json:"last_updated"`
	Stale                bool      `json:"stale"`
	AgeHours             float64   `json:"age_hours"`
}

// EffectiveConfidence applies the staleness decay: a stale profile's
// confidence falls linearly from its first hour, as Confidence ×
// (1 − AgeHours/24), floored at 10% of Confidence (reached near 21.6h).
// A fresh profile returns Confidence unchanged.
func (p HiveProfile) EffectiveConfidence() float64 {
	if !p.Stale {
		return p.Confidence
	}
	decay := 1 - p.AgeHours/24
	if decay < 0.1 {
		decay = 0.1
	}
	return p.Confidence * decay
}

// RebalanceEvent is an immutable record of one rebalance attempt.
type RebalanceEvent struct {
	ID           int64     `json:"id"`
	FromChannel  string    `json:"from_channel"`
	ToChannel    string    `json:"to_channel"`
	AmountSats   int64     `json:"amount_sats"`
	FeeSats      int64     `json:"fee_sats"`
	Success      bool      `json:"success"`
	ReasonCode   string    `json:"reason_code"`
	Timestamp    time.Time `json:"timestamp"`
}

// ConnectionEventKind mirrors the host's connect/disconnect subscription.
type ConnectionEventKind string

const (
	ConnectionConnect    ConnectionEventKind = "connect"
	ConnectionDisconnect ConnectionEventKind = "disconnect"
)

// ConnectionEvent is an append-only peer connectivity record.
type ConnectionEvent struct {
	ID        int64               `json:"id"`
	PeerID    string              `json:"peer_id"`
	Kind      ConnectionEventKind `json:"kind"`
	Timestamp time.Time           `json:"timestamp"`
}

// FeeReasonCode explains why a fee adjustment fired, matching the fixed
// enum exercised by the original explainability tests.
type FeeReasonCode string

const (
	ReasonPolicyPassive          FeeReasonCode = "policy_passive"
	ReasonPolicyStatic           FeeReasonCode = "policy_static"
	ReasonPolicyHive             FeeReasonCode = "policy_hive"
	ReasonThompsonSample         FeeReasonCode = "thompson_sample"
	ReasonThompsonColdStart      FeeReasonCode = "thompson_cold_start"
	ReasonThompsonAIMDDefense    FeeReasonCode = "thompson_aimd_defense"
	ReasonCongestion             FeeReasonCode = "congestion"
	ReasonScarcity               FeeReasonCode = "scarcity"
	ReasonYoungChannelCap        FeeReasonCode = "young_channel_cap"
	ReasonHighVolatilityReduce   FeeReasonCode = "high_volatility_reduce"
	ReasonHighFailureRateDampen  FeeReasonCode = "high_failure_rate_dampen"
	ReasonHighFailureConservative FeeReasonCode = "high_failure_conservative"
	ReasonSkipSleeping           FeeReasonCode = "skip_sleeping"
	ReasonSkipWaitingTime        FeeReasonCode = "skip_waiting_time"
	ReasonSkipWaitingForwards    FeeReasonCode = "skip_waiting_forwards"
	ReasonSkipFeeUnchanged       FeeReasonCode = "skip_fee_unchanged"
)

// HeuristicModifiers records which secondary adjustments fired alongside
// the primary reason code. Only non-zero fields are emitted when this is
// JSON-marshaled, and an entirely empty struct marshals to "{}" — callers
// that want the test_explainability "empty string" behavior should check
// IsEmpty first and omit the field entirely.
type HeuristicModifiers struct {
	CongestionDampener   float64 `json:"congestion_dampener,omitempty"`
	ScarcityBoost        float64 `json:"scarcity_boost,omitempty"`
	YoungChannelCap      float64 `json:"young_channel_cap,omitempty"`
	VolatilityReduction  float64 `json:"volatility_reduction,omitempty"`
	FailureRateDampener  float64 `json:"failure_rate_dampener,omitempty"`
	FailureConservatism  float64 `json:"failure_conservatism,omitempty"`
	HiveBlend            float64 `json:"hive_blend,omitempty"`
}

// IsEmpty reports whether no modifier actually fired.
func (h HeuristicModifiers) IsEmpty() bool {
	return h == HeuristicModifiers{}
}

// FeeAdjustment is the outcome of one FeeController decision cycle for a
// single channel, whether or not it resulted in a broadcast fee change.
type FeeAdjustment struct {
	ChanID                 string        `json:"chan_id"`
	OldFeePPM              int64         `json:"old_fee_ppm"`
	NewFeePPM              int64         `json:"new_fee_ppm"`
	ReasonCode             FeeReasonCode `json:"reason_code"`
	HeuristicModifiersJSON string        `json:"heuristic_modifiers,omitempty"`
	Timestamp              time.Time     `json:"timestamp"`
}

// ToDict mirrors the original plugin's to_dict(): the heuristic_modifiers
// key is present only when modifiers actually fired.
func (f FeeAdjustment) ToDict() map[string]any {
	d := map[string]any{
		"chan_id":     f.ChanID,
		"old_fee_ppm": f.OldFeePPM,
		"new_fee_ppm": f.NewFeePPM,
		"reason_code": string(f.ReasonCode),
		"timestamp":   f.Timestamp,
	}
	if f.HeuristicModifiersJSON != "" {
		d["heuristic_modifiers"] = f.HeuristicModifiersJSON
	}
	return d
}
