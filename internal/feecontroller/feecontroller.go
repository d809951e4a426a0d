// Package feecontroller orchestrates the per-channel fee decision cycle:
// it consults policy (static/passive/hive/algorithmic), samples a Thompson
// fee when the policy calls for it, applies the AIMD defensive modifier,
// and decides whether a broadcast is warranted at all.
package feecontroller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brewgator/revenue-ops/internal/automanager"
	"github.com/brewgator/revenue-ops/internal/model"
	"github.com/brewgator/revenue-ops/internal/thompson"
)

// Policy selects how a channel's fee is determined.
type Policy string

const (
	PolicyPassive     Policy = "passive"      // never touch this channel's fee
	PolicyStatic      Policy = "static"       // fixed operator-configured fee
	PolicyHive        Policy = "hive"         // mirror the fleet's reported optimal fee
	PolicyThompsonAIMD Policy = "thompson_aimd"
)

// Config bounds and tunes the decision cycle; populated from internal/config.
type Config struct {
	FloorPPM              int64
	CeilingPPM            int64
	MinCyclesBetweenWrites int
	MinWaitTime           time.Duration
	MinForwardsSinceLast  int
	YoungChannelDays      int
	YoungChannelCapPPM    int64
	HighVolatilityThresh  float64
	HighFailureThreshold  float64
}

// DefaultConfig matches the teacher's conservative rebalance.go defaults in
// spirit: safe bounds that won't surprise an operator on first run.
func DefaultConfig() Config {
	return Config{
		FloorPPM:             1,
		CeilingPPM:           2000,
		MinCyclesBetweenWrites: 1,
		MinWaitTime:          10 * time.Minute,
		MinForwardsSinceLast: 0,
		YoungChannelDays:     7,
		YoungChannelCapPPM:   100,
		HighVolatilityThresh: 0.5,
		HighFailureThreshold: 0.3,
	}
}

// feeSetter is the subset of hostrpc.Client the fee controller needs.
type feeSetter interface {
	SetChannelFee(ctx context.Context, chanID string, baseMsat, feePPM int64) error
}

// Controller runs one channel's fee decision cycle.
type Controller struct {
	cfg    Config
	rpc    feeSetter
	manager *automanager.Client
}

// New returns a Controller.
func New(cfg Config, rpc feeSetter, manager *automanager.Client) *Controller {
	return &Controller{cfg: cfg, rpc: rpc, manager: manager}
}

// Input bundles everything one decision cycle needs about a channel.
type Input struct {
	Channel        model.Channel
	ChannelState   model.ChannelState
	Policy         Policy
	StaticFeePPM   int64
	HiveProfile    *model.HiveProfile
	Bleeder        model.BleederClassification
	AlgoState      *thompson.ThompsonAIMDState
	AgeDays        int
	CyclesSinceLastWrite int
	TimeSinceLastWrite   time.Duration
	ForwardsSinceLast    int
	PheromoneLevel       float64
	CorridorRole         model.CorridorRole
	PeerReputationScore  float64
	Now                  time.Time
}

// Decide runs the full decision cycle and returns the resulting adjustment,
// without writing anything. Callers that want the write applied call
// Apply with the result.
func (c *Controller) Decide(in Input) model.FeeAdjustment {
	adj := model.FeeAdjustment{
		ChanID:    in.Channel.ChanID,
		OldFeePPM: in.Channel.FeePPM,
		NewFeePPM: in.Channel.FeePPM,
		Timestamp: in.Now,
	}

	if in.Policy == PolicyPassive {
		adj.ReasonCode = model.ReasonPolicyPassive
		return adj
	}

	if skip, reason := c.shouldSkip(in); skip {
		adj.ReasonCode = reason
		return adj
	}

	var mods model.HeuristicModifiers
	var proposed int64

	switch in.Policy {
	case PolicyStatic:
		proposed = in.StaticFeePPM
		adj.ReasonCode = model.ReasonPolicyStatic

	case PolicyHive:
		if in.HiveProfile == nil {
			adj.ReasonCode = model.ReasonPolicyPassive
			return adj
		}
		proposed = int64(in.HiveProfile.OptimalFeeEstimate)
		mods.HiveBlend = in.HiveProfile.EffectiveConfidence()
		adj.ReasonCode = model.ReasonPolicyHive

	default: // PolicyThompsonAIMD
		if in.AlgoState == nil {
			in.AlgoState = thompson.NewThompsonAIMDState()
		}
		in.AlgoState.Thompson.SetContextModulation(in.PheromoneLevel, in.CorridorRole, in.ChannelState.TimeBucket)

		ctxKey := contextKey(in)
		if in.AlgoState.LastFeePPM != 0 {
			in.AlgoState.Thompson.UpdatePosterior(in.AlgoState.LastFeePPM, in.AlgoState.LastRevenueRate, 1.0, in.ChannelState.TimeBucket)
			in.AlgoState.Thompson.UpdateContextual(ctxKey, in.AlgoState.LastFeePPM, in.AlgoState.LastRevenueRate, in.ChannelState.TimeBucket)
		}

		if len(in.AlgoState.Thompson.Observations) == 0 {
			adj.ReasonCode = model.ReasonThompsonColdStart
		} else {
			adj.ReasonCode = model.ReasonThompsonSample
		}
		sampled := in.AlgoState.Thompson.SampleFee(c.cfg.FloorPPM, c.cfg.CeilingPPM, ctxKey)

		preAIMD := sampled
		proposed = in.AlgoState.AIMD.ApplyToFee(sampled, c.cfg.FloorPPM, c.cfg.CeilingPPM)
		if proposed != preAIMD {
			adj.ReasonCode = model.ReasonThompsonAIMDDefense
			mods.FailureConservatism = in.AlgoState.AIMD.GetEffectiveModifier()
		}
		in.AlgoState.LastFeePPM = proposed
	}

	proposed = c.applyHeuristics(in, proposed, &mods, &adj)

	if proposed < c.cfg.FloorPPM {
		proposed = c.cfg.FloorPPM
	}
	if proposed > c.cfg.CeilingPPM {
		proposed = c.cfg.CeilingPPM
	}

	if proposed == in.Channel.FeePPM {
		adj.ReasonCode = model.ReasonSkipFeeUnchanged
		if in.AlgoState != nil {
			in.AlgoState.RecordCycleOutcome(false)
		}
		return adj
	}

	adj.NewFeePPM = proposed
	if !mods.IsEmpty() {
		if raw, err := json.Marshal(mods); err == nil {
			adj.HeuristicModifiersJSON = string(raw)
		}
	}
	if in.AlgoState != nil {
		in.AlgoState.RecordCycleOutcome(true)
	}
	return adj
}

// contextKey builds the contextual-posterior lookup key for this cycle from
// the channel's current flow regime, the peer's reputation bucket, the time
// bucket, and the corridor role.
func contextKey(in Input) string {
	return thompson.ContextKey(in.ChannelState.FlowRegime, thompson.ReputationBucket(in.PeerReputationScore), in.ChannelState.TimeBucket, in.CorridorRole)
}

// shouldSkip applies the cheap guard rails before any sampling happens:
// sleeping channels are skipped, hard bleeders never get touched
// algorithmically, and cooldowns (cycles, wait time, forwards) prevent
// fee-change churn. The young-channel cap is applied in applyHeuristics.
func (c *Controller) shouldSkip(in Input) (bool, model.FeeReasonCode) {
	if in.AlgoState != nil && in.AlgoState.IsSleeping {
		return true, model.ReasonSkipSleeping
	}
	if in.Bleeder.IsHardBleeder() {
		return true, model.ReasonHighFailureConservative
	}
	if in.CyclesSinceLastWrite < c.cfg.MinCyclesBetweenWrites {
		return true, model.ReasonSkipWaitingForwards
	}
	if in.TimeSinceLastWrite < c.cfg.MinWaitTime {
		return true, model.ReasonSkipWaitingTime
	}
	if in.ForwardsSinceLast < c.cfg.MinForwardsSinceLast {
		return true, model.ReasonSkipWaitingForwards
	}
	return false, ""
}

// applyHeuristics layers the secondary adjustments (congestion dampening,
// scarcity boost, young-channel cap, volatility reduction, failure-rate
// dampening) onto the primary proposed fee. The young-channel cap, the
// volatility reduction, and the failure-rate dampener all constrain the
// per-cycle step (the delta off the channel's current broadcast fee)
// rather than the absolute proposed fee, recording whichever fired in mods.
func (c *Controller) applyHeuristics(in Input, proposed int64, mods *model.HeuristicModifiers, adj *model.FeeAdjustment) int64 {
	if in.ChannelState.Congested {
		dampened := int64(float64(proposed) * 0.9)
		mods.CongestionDampener = 0.9
		proposed = dampened
		if adj.ReasonCode == model.ReasonThompsonSample {
			adj.ReasonCode = model.ReasonCongestion
		}
	}

	if in.ChannelState.FlowRegime == model.RegimeDrain {
		boosted := int64(float64(proposed) * 1.15)
		mods.ScarcityBoost = 1.15
		proposed = boosted
		if adj.ReasonCode == model.ReasonThompsonSample {
			adj.ReasonCode = model.ReasonScarcity
		}
	}

	step := proposed - in.Channel.FeePPM

	if in.AgeDays < c.cfg.YoungChannelDays && step > c.cfg.YoungChannelCapPPM {
		mods.YoungChannelCap = float64(c.cfg.YoungChannelCapPPM)
		step = c.cfg.YoungChannelCapPPM
		adj.ReasonCode = model.ReasonYoungChannelCap
	}

	if in.HiveProfile != nil && in.HiveProfile.FeeVolatility > c.cfg.HighVolatilityThresh {
		halved := int64(float64(step) * 0.5)
		mods.VolatilityReduction = 0.5
		step = halved
		adj.ReasonCode = model.ReasonHighVolatilityReduce
	}

	if in.ChannelState.FailureRate > c.cfg.HighFailureThreshold {
		shrunk := int64(float64(step) * 0.8)
		if shrunk > 0 {
			shrunk = 0
		}
		mods.FailureRateDampener = 0.8
		step = shrunk
		adj.ReasonCode = model.ReasonHighFailureRateDampen
	}

	return in.Channel.FeePPM + step
}

// Apply claims the channel from the external auto-manager (if not already
// claimed) and writes the new fee via the host RPC. It does not record the
// change in the store; the caller does. A no-op adjustment
// (NewFeePPM == OldFeePPM) is never written.
func (c *Controller) Apply(ctx context.Context, adj model.FeeAdjustment) error {
	if adj.NewFeePPM == adj.OldFeePPM {
		return nil
	}
	if err := c.manager.Claim(ctx, adj.ChanID); err != nil {
		return fmt.Errorf("claim channel %s from auto-manager: %w", adj.ChanID, err)
	}
	if err := c.rpc.SetChannelFee(ctx, adj.ChanID, 0, adj.NewFeePPM); err != nil {
		return fmt.Errorf("set fee on channel %s: %w", adj.ChanID, err)
	}
	return nil
}
