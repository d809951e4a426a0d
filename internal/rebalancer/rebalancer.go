// Package rebalancer arbitrates which channel pairs are worth a circular
// rebalance, using an EV (expected value) model rather than the teacher's
// fixed target-ratio heuristic: a rebalance only proceeds when its
// estimated routing-fee revenue gain over its amortization window exceeds
// its estimated cost, subject to daily budget, reserve floor, and cooldown
// guards.
package rebalancer

import (
	"context"
	"fmt"
	"time"

	"github.com/brewgator/revenue-ops/internal/model"
)

// ReasonCode explains why a rebalance was attempted or skipped.
type ReasonCode string

const (
	ReasonEVPositive         ReasonCode = "ev_positive"
	ReasonSkipNoSource       ReasonCode = "skip_no_source"
	ReasonSkipEVNegative     ReasonCode = "skip_ev_negative"
	ReasonSkipCooldown       ReasonCode = "skip_cooldown"
	ReasonSkipPolicyDisabled ReasonCode = "skip_policy_disabled"
	ReasonSkipFutilityBreaker ReasonCode = "skip_futility_breaker"
	ReasonSkipZombie         ReasonCode = "skip_zombie"
	ReasonSkipUnderwater     ReasonCode = "skip_underwater"
	ReasonSkipHardBleeder    ReasonCode = "skip_hard_bleeder"
	ReasonSkipSoftBleeder    ReasonCode = "skip_soft_bleeder"
	ReasonSkipBudgetExhausted ReasonCode = "skip_budget_exhausted"
	ReasonSkipReserveFloor   ReasonCode = "skip_reserve_floor"
)

// Config bounds rebalance sizing and spend, grounded in the teacher's
// RebalanceConfig (MaxFeeRate/MaxFeeAbsolute/MinAmount/MaxAmount/
// TargetRatio/ToleranceRatio) but reinterpreted as EV-arbiter inputs.
type Config struct {
	MaxFeeRate        float64 // max acceptable fee as a fraction of amount, e.g. 0.005 for 0.5%
	MaxFeeAbsoluteSats int64
	MinAmountSats     int64
	MaxAmountSats     int64
	TargetRatio       float64
	ToleranceRatio    float64
	DailyBudgetSats   int64
	WalletReserveSats int64
	Cooldown          time.Duration
	FutilityBreakerStreak int // consecutive failed attempts before breaker trips
	AmortizationWindow    time.Duration
	RebalanceMinProfit    float64 // EV floor a candidate must clear, in sats
	KellyFraction         float64 // scalar in (0, 1] applied to the EV-optimal amount
}

// DefaultConfig mirrors the teacher's getDefaultRebalanceConfig numbers.
func DefaultConfig() Config {
	return Config{
		MaxFeeRate:         0.005,
		MaxFeeAbsoluteSats: 1000,
		MinAmountSats:      10000,
		MaxAmountSats:      1000000,
		TargetRatio:        0.5,
		ToleranceRatio:     0.1,
		DailyBudgetSats:    50000,
		WalletReserveSats:  100000,
		Cooldown:           4 * time.Hour,
		FutilityBreakerStreak: 3,
		AmortizationWindow: 7 * 24 * time.Hour,
		RebalanceMinProfit: 0,
		KellyFraction:      1.0,
	}
}

// CandidatePair is one (drain source, sink destination) channel pair under
// consideration.
type CandidatePair struct {
	From model.Channel
	To   model.Channel

	FromState model.ChannelState
	ToState   model.ChannelState

	FromBleeder model.BleederClassification
	ToBleeder   model.BleederClassification // gates admission: a bleeding destination is never worth feeding

	EstimatedFeeRevenuePerDaySats float64
	RecentFailureStreak           int
	LastAttempt                   time.Time
	SpentTodaySats                int64
	WalletBalanceSats             int64
}

// Proposal is an arbitrated rebalance decision for one pair.
type Proposal struct {
	FromChanID string
	ToChanID   string
	AmountSats int64
	EstimatedFeeSats int64
	ExpectedEV float64
	ReasonCode ReasonCode
}

// Arbiter evaluates candidate pairs and decides which to execute.
type Arbiter struct {
	cfg Config
}

// New returns an Arbiter.
func New(cfg Config) *Arbiter {
	return &Arbiter{cfg: cfg}
}

// Evaluate scores one candidate pair and returns the resulting Proposal.
// An ExpectedEV below RebalanceMinProfit always yields a skip reason code.
// Bleeder gating looks at the destination channel's classification: a
// rebalance that would only deepen a losing sink is never worth it
// regardless of how profitable the source side looks.
func (a *Arbiter) Evaluate(c CandidatePair, now time.Time) Proposal {
	if c.ToBleeder.IsHardBleeder() {
		return Proposal{FromChanID: c.From.ChanID, ToChanID: c.To.ChanID, ReasonCode: ReasonSkipHardBleeder}
	}
	if c.ToBleeder.IsSoftBleeder() {
		return Proposal{FromChanID: c.From.ChanID, ToChanID: c.To.ChanID, ReasonCode: ReasonSkipSoftBleeder}
	}
	if now.Sub(c.LastAttempt) < a.cfg.Cooldown {
		return Proposal{FromChanID: c.From.ChanID, ToChanID: c.To.ChanID, ReasonCode: ReasonSkipCooldown}
	}
	if c.RecentFailureStreak >= a.cfg.FutilityBreakerStreak {
		return Proposal{FromChanID: c.From.ChanID, ToChanID: c.To.ChanID, ReasonCode: ReasonSkipFutilityBreaker}
	}
	if c.FromState.FlowRegime != model.RegimeDrain {
		return Proposal{FromChanID: c.From.ChanID, ToChanID: c.To.ChanID, ReasonCode: ReasonSkipNoSource}
	}
	if c.WalletBalanceSats-a.cfg.WalletReserveSats <= 0 {
		return Proposal{FromChanID: c.From.ChanID, ToChanID: c.To.ChanID, ReasonCode: ReasonSkipReserveFloor}
	}
	if c.SpentTodaySats >= a.cfg.DailyBudgetSats {
		return Proposal{FromChanID: c.From.ChanID, ToChanID: c.To.ChanID, ReasonCode: ReasonSkipBudgetExhausted}
	}

	amount := a.optimalAmount(c)
	if amount < a.cfg.MinAmountSats {
		return Proposal{FromChanID: c.From.ChanID, ToChanID: c.To.ChanID, ReasonCode: ReasonSkipUnderwater}
	}

	estimatedFee := a.estimateCost(amount)
	ev := a.expectedValue(c, amount, estimatedFee)
	if ev < a.cfg.RebalanceMinProfit {
		return Proposal{FromChanID: c.From.ChanID, ToChanID: c.To.ChanID, AmountSats: amount, EstimatedFeeSats: estimatedFee, ExpectedEV: ev, ReasonCode: ReasonSkipEVNegative}
	}

	return Proposal{
		FromChanID:       c.From.ChanID,
		ToChanID:         c.To.ChanID,
		AmountSats:       amount,
		EstimatedFeeSats: estimatedFee,
		ExpectedEV:       ev,
		ReasonCode:       ReasonEVPositive,
	}
}

// optimalAmount sizes the transfer to move both channels toward
// TargetRatio without overshooting, clamped to [0, MaxAmountSats]. Amounts
// below MinAmountSats are not raised here; Evaluate rejects them.
func (a *Arbiter) optimalAmount(c CandidatePair) int64 {
	fromTarget := int64(float64(c.From.Capacity) * a.cfg.TargetRatio)
	fromExcess := c.From.LocalBalance - fromTarget
	toTarget := int64(float64(c.To.Capacity) * a.cfg.TargetRatio)
	toDeficit := toTarget - c.To.LocalBalance

	amount := fromExcess
	if toDeficit < amount {
		amount = toDeficit
	}
	if kelly := a.cfg.KellyFraction; kelly > 0 && kelly < 1.0 {
		amount = int64(float64(amount) * kelly)
	}
	if amount > a.cfg.MaxAmountSats {
		amount = a.cfg.MaxAmountSats
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}

// estimateCost approximates the on-route fee for a circular payment of the
// given size, capped by both the rate and absolute fee limits.
func (a *Arbiter) estimateCost(amount int64) int64 {
	feeFromRate := int64(float64(amount) * a.cfg.MaxFeeRate)
	if feeFromRate > a.cfg.MaxFeeAbsoluteSats {
		return a.cfg.MaxFeeAbsoluteSats
	}
	return feeFromRate
}

// expectedValue nets the estimated routing revenue the moved liquidity
// will earn over the amortization window against the one-time rebalance
// cost.
func (a *Arbiter) expectedValue(c CandidatePair, amount, estimatedFeeSats int64) float64 {
	days := a.cfg.AmortizationWindow.Hours() / 24
	projectedRevenue := c.EstimatedFeeRevenuePerDaySats * days * (float64(amount) / float64(max64(c.From.Capacity, 1)))
	return projectedRevenue - float64(estimatedFeeSats)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// payer is the subset of hostrpc.Client Execute needs.
type payer interface {
	CreateInvoice(ctx context.Context, amountMsat int64, label, description string) (string, error)
	PayViaRoute(ctx context.Context, bolt11, outChan, exceptChan string, maxFeeMsat int64) error
	DelInvoice(ctx context.Context, label, status string) error
}

// Execute performs a circular rebalance for an EV-positive proposal: it
// creates a temporary invoice on the destination side, pays it out through
// the source channel, and cancels the invoice on any failure before
// payment completes — mirroring the teacher's
// create/attempt/cancel invoice lifecycle.
func Execute(ctx context.Context, rpc payer, p Proposal) (model.RebalanceEvent, error) {
	label := fmt.Sprintf("rebalance-%s-%s-%d", p.FromChanID, p.ToChanID, time.Now().UnixNano())
	bolt11, err := rpc.CreateInvoice(ctx, p.AmountSats*1000, label, "revenue-ops rebalance")
	if err != nil {
		return model.RebalanceEvent{}, fmt.Errorf("create rebalance invoice: %w", err)
	}

	if err := rpc.PayViaRoute(ctx, bolt11, p.FromChanID, p.ToChanID, p.EstimatedFeeSats*1000); err != nil {
		_ = rpc.DelInvoice(ctx, label, "unpaid")
		return model.RebalanceEvent{
			FromChannel: p.FromChanID, ToChannel: p.ToChanID, AmountSats: p.AmountSats,
			Success: false, ReasonCode: string(p.ReasonCode), Timestamp: time.Now().UTC(),
		}, fmt.Errorf("pay rebalance invoice: %w", err)
	}

	return model.RebalanceEvent{
		FromChannel: p.FromChanID, ToChannel: p.ToChanID, AmountSats: p.AmountSats,
		FeeSats: p.EstimatedFeeSats, Success: true, ReasonCode: string(p.ReasonCode), Timestamp: time.Now().UTC(),
	}, nil
}
