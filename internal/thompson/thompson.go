// Package thompson implements the Bayesian Thompson-sampling fee optimizer
// fused with an AIMD defensive modulator: a Gaussian posterior over the
// optimal fee per channel (and per flow-context), additively increased on
// sustained success and multiplicatively cut on sustained failure, and
// nudged by fleet-reported intelligence and stigmergic (pheromone) signals.
package thompson

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/brewgator/revenue-ops/internal/model"
)

// Defaults for a cold-start channel with no observations or fleet intel.
const (
	DefaultPriorMeanFee = 200.0
	DefaultPriorStdFee  = 100.0

	// MaxObservations bounds the in-memory observation ring buffer.
	MaxObservations = 500

	// MinFleetConfidence gates out low-confidence hive profiles entirely.
	MinFleetConfidence = 0.3

	// HighPheromoneThreshold / LowPheromoneThreshold switch the
	// exploration modifier between exploit and explore modes.
	HighPheromoneThreshold = 10.0
	LowPheromoneThreshold  = 1.0

	secondaryCorridorModifier = 1.3
	coldStartModifier         = 1.2

	highRevenueMultiple = 1.5
	minObservationsForDiscovery = 5
	minObservationsForOptimal   = 10
)

// AlgorithmVersion tags the serialized state so future migrations can tell
// which shape they're reading.
const AlgorithmVersion = "thompson_aimd_v1"

// Observation is one (fee, revenue, weight, time) data point folded into
// the posterior.
type Observation struct {
	FeePPM      int64           `json:"fee_ppm"`
	RevenueRate float64         `json:"revenue_rate"`
	Weight      float64         `json:"weight"`
	Timestamp   time.Time       `json:"timestamp"`
	TimeBucket  model.TimeBucket `json:"time_bucket,omitempty"`
}

// ContextualPosterior is a per-context (regime:reputation:time:role)
// Gaussian, isolated from the channel's global posterior.
type ContextualPosterior struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	N    int     `json:"n"`
}

// GaussianThompsonState is the per-channel posterior over the optimal fee.
type GaussianThompsonState struct {
	PriorMeanFee  float64                         `json:"prior_mean_fee"`
	PriorStdFee   float64                         `json:"prior_std_fee"`
	PosteriorMean float64                         `json:"posterior_mean"`
	PosteriorStd  float64                         `json:"posterior_std"`
	Observations  []Observation                   `json:"observations"`
	ContextualPosteriors map[string]ContextualPosterior `json:"contextual_posteriors"`

	FleetOptimalEstimate float64 `json:"fleet_optimal_estimate"`
	FleetAvgFee          float64 `json:"fleet_avg_fee"`
	FleetMinFee          float64 `json:"fleet_min_fee"`
	FleetMaxFee          float64 `json:"fleet_max_fee"`
	FleetFeeVolatility   float64 `json:"fleet_fee_volatility"`
	FleetReporters       int     `json:"fleet_reporters"`
	FleetConfidence      float64 `json:"fleet_confidence"`

	CurrentPheromoneLevel float64            `json:"-"`
	CurrentCorridorRole   model.CorridorRole `json:"-"`
	CurrentTimeBucket     model.TimeBucket   `json:"-"`
}

// NewGaussianThompsonState returns a cold-start posterior.
func NewGaussianThompsonState() *GaussianThompsonState {
	return &GaussianThompsonState{
		PriorMeanFee:         DefaultPriorMeanFee,
		PriorStdFee:          DefaultPriorStdFee,
		PosteriorMean:        DefaultPriorMeanFee,
		PosteriorStd:         DefaultPriorStdFee,
		ContextualPosteriors: make(map[string]ContextualPosterior),
	}
}

// MinContextualObservations is the minimum observation count a context
// key's posterior needs before it is trusted over the global one.
const MinContextualObservations = 3

// ContextKey builds the composite context key a contextual posterior is
// keyed by: "<flow_regime>:<reputation_bucket>:<time_bucket>:<corridor_role>".
func ContextKey(regime model.FlowRegime, reputationBucket string, bucket model.TimeBucket, role model.CorridorRole) string {
	return string(regime) + ":" + reputationBucket + ":" + string(bucket) + ":" + string(role)
}

// ReputationBucket buckets a peer reputation score for use in a context
// key: a score comfortably above the 1.0 neutral prior is "strong", one
// well below it is "weak", anything else is "normal".
func ReputationBucket(score float64) string {
	switch {
	case score >= 1.2:
		return "strong"
	case score <= 0.6:
		return "weak"
	default:
		return "normal"
	}
}

// SampleFee draws a fee from the posterior, modulated by the current
// stigmergic context, and clamps it to [floor, ceiling]. If the supplied
// context key has accumulated at least MinContextualObservations, the
// contextual posterior is sampled instead of the channel's global one.
func (s *GaussianThompsonState) SampleFee(floor, ceiling int64, contextKey string) int64 {
	mean, std := s.PosteriorMean, s.PosteriorStd
	if cp, ok := s.ContextualPosteriors[contextKey]; ok && cp.N >= MinContextualObservations {
		mean, std = cp.Mean, cp.Std
	}
	mod := s.explorationModifier()
	sampled := mean + rand.NormFloat64()*std*mod
	fee := int64(math.Round(sampled))
	if fee < floor {
		fee = floor
	}
	if fee > ceiling {
		fee = ceiling
	}
	return fee
}

// explorationModifier scales sampling variance: a saturated corridor
// (pheromone >= 10) exploits with tighter variance, a quiet one explores
// with wider variance, secondary corridors explore more than primaries,
// and a cold channel with few observations gets a further nudge.
func (s *GaussianThompsonState) explorationModifier() float64 {
	base := 1.0
	switch {
	case s.CurrentPheromoneLevel >= HighPheromoneThreshold:
		base = 0.5
	case s.CurrentPheromoneLevel <= LowPheromoneThreshold:
		base = 1.5
	}
	if len(s.Observations) < minObservationsForDiscovery {
		base *= coldStartModifier
	}
	if s.CurrentCorridorRole == model.CorridorSecondary {
		base *= secondaryCorridorModifier
	}
	return base
}

// SetContextModulation records the current flow context so the next
// SampleFee call reflects it.
func (s *GaussianThompsonState) SetContextModulation(pheromoneLevel float64, role model.CorridorRole, bucket model.TimeBucket) {
	s.CurrentPheromoneLevel = pheromoneLevel
	s.CurrentCorridorRole = role
	s.CurrentTimeBucket = bucket
}

// UpdatePosterior folds one (fee, revenue) observation into the global
// posterior via a conjugate Gaussian update: the observation's influence
// scales with revenue_rate (higher-revenue fees pull the mean toward them)
// and decays with the age of the observation in hours.
func (s *GaussianThompsonState) UpdatePosterior(feePPM int64, revenueRate, hours float64, bucket model.TimeBucket) {
	weight := 1.0 / (1.0 + hours)
	s.Observations = append(s.Observations, Observation{
		FeePPM: feePPM, RevenueRate: revenueRate, Weight: weight,
		Timestamp: time.Now().UTC(), TimeBucket: bucket,
	})
	if len(s.Observations) > MaxObservations {
		s.Observations = s.Observations[len(s.Observations)-MaxObservations:]
	}
	s.PosteriorMean, s.PosteriorStd = bayesianUpdate(s.PosteriorMean, s.PosteriorStd, float64(feePPM), revenueRate, weight, 1.0)
}

// bayesianUpdate applies one step of conjugate normal-normal updating: the
// observation is treated as noisy evidence about the true optimal fee,
// with its noise variance shrinking as informativeness (revenue * weight *
// scale) grows.
func bayesianUpdate(priorMean, priorStd, obsValue, revenueRate, weight, scale float64) (mean, std float64) {
	informativeness := revenueRate * weight * scale
	if informativeness <= 0 {
		informativeness = 0.01
	}
	obsVariance := 10000.0 / informativeness
	priorVariance := priorStd * priorStd
	if priorVariance <= 0 {
		priorVariance = 1
	}
	posteriorVariance := 1.0 / (1.0/priorVariance + 1.0/obsVariance)
	posteriorMean := posteriorVariance * (priorMean/priorVariance + obsValue/obsVariance)
	return posteriorMean, math.Sqrt(posteriorVariance)
}

// UpdateContextual folds an observation into a context-keyed posterior
// (e.g. "drain:normal:peak:S"), isolated from the channel's global
// posterior. Secondary corridors ("...:S") start with wider uncertainty
// and adapt faster, the way a less-trusted alternate route should.
func (s *GaussianThompsonState) UpdateContextual(contextKey string, feePPM int64, revenueRate float64, bucket model.TimeBucket) {
	cp, ok := s.ContextualPosteriors[contextKey]
	secondary := isSecondaryContext(contextKey)
	if !ok {
		cp = ContextualPosterior{Mean: s.PosteriorMean, Std: s.PosteriorStd}
		if secondary {
			cp.Std *= 1.5
		}
	}
	similarity := 1.0
	if cp.N > 0 && bucket != "" {
		similarity = TimeSimilarity(s.CurrentTimeBucket, bucket)
	}
	scale := similarity
	if secondary {
		scale *= 2.0
	}
	cp.Mean, cp.Std = bayesianUpdate(cp.Mean, cp.Std, float64(feePPM), revenueRate, 1.0, scale)
	cp.N++
	s.ContextualPosteriors[contextKey] = cp
}

func isSecondaryContext(contextKey string) bool {
	return strings.HasSuffix(contextKey, ":"+string(model.CorridorSecondary))
}

// TimeSimilarity weighs an observation from bucket b against the context
// bucket a: same bucket weighs fully, adjacent buckets half, opposite ends
// of the day least.
func TimeSimilarity(a, b model.TimeBucket) float64 {
	if a == b {
		return 1.0
	}
	if (a == model.TimeLow && b == model.TimePeak) || (a == model.TimePeak && b == model.TimeLow) {
		return 0.2
	}
	return 0.5
}

// InitializeFromHive shifts the prior toward a single fleet-reported
// optimal fee estimate, weighted by confidence.
func (s *GaussianThompsonState) InitializeFromHive(optimalFee, confidence, elasticity float64) {
	s.FleetOptimalEstimate = optimalFee
	s.FleetConfidence = confidence
	s.PriorMeanFee = s.PriorMeanFee*(1-confidence) + optimalFee*confidence
	s.PosteriorMean = s.PriorMeanFee
}

// InitializeFromHiveProfile is the richer fleet-prior path: it also widens
// (or narrows) the prior's uncertainty based on reported fee volatility
// and the number of independent reporters. Profiles below
// MinFleetConfidence are ignored outright.
func (s *GaussianThompsonState) InitializeFromHiveProfile(p model.HiveProfile) {
	if p.Confidence < MinFleetConfidence {
		return
	}
	s.FleetOptimalEstimate = p.OptimalFeeEstimate
	s.FleetAvgFee = p.AvgFeeCharged
	s.FleetMinFee = p.MinFee
	s.FleetMaxFee = p.MaxFee
	s.FleetFeeVolatility = p.FeeVolatility
	s.FleetReporters = p.HiveReporters
	s.FleetConfidence = p.Confidence

	s.PriorMeanFee = s.PriorMeanFee*(1-p.Confidence) + p.OptimalFeeEstimate*p.Confidence
	s.PosteriorMean = s.PriorMeanFee

	reporters := p.HiveReporters
	if reporters < 1 {
		reporters = 1
	}
	s.PriorStdFee = DefaultPriorStdFee * (1 + p.FeeVolatility) / math.Sqrt(float64(reporters))
	s.PosteriorStd = s.PriorStdFee
}

// Discovery is emitted when a sampled fee produces a surprising result
// worth logging and (eventually) sharing with the fleet.
type Discovery struct {
	Type        string  `json:"discovery_type"`
	FeePPM      int64   `json:"fee_ppm"`
	RevenueRate float64 `json:"revenue_rate"`
}

// CheckForDiscovery flags either an unusually high revenue rate at a given
// fee, or a fee near the posterior mean sustaining a healthy revenue rate —
// both require a minimum observation count so the check isn't noise on a
// cold channel.
func (s *GaussianThompsonState) CheckForDiscovery(feePPM int64, revenueRate, minRevenueRate float64) *Discovery {
	n := len(s.Observations)
	if n < minObservationsForDiscovery {
		return nil
	}
	if avg := s.averageObservedRevenue(); revenueRate > avg*highRevenueMultiple {
		return &Discovery{Type: "high_revenue", FeePPM: feePPM, RevenueRate: revenueRate}
	}
	if n >= minObservationsForOptimal &&
		math.Abs(float64(feePPM)-s.PosteriorMean) <= s.PosteriorStd &&
		revenueRate >= minRevenueRate {
		return &Discovery{Type: "optimal_fee", FeePPM: feePPM, RevenueRate: revenueRate}
	}
	return nil
}

func (s *GaussianThompsonState) averageObservedRevenue() float64 {
	if len(s.Observations) == 0 {
		return 0
	}
	var sum float64
	for _, o := range s.Observations {
		sum += o.RevenueRate
	}
	return sum / float64(len(s.Observations))
}

// AIMDDefenseState additively restores and multiplicatively cuts a fee
// modifier in response to sustained forwarding success or failure, and can
// be overridden by a fleet-reported threat.
type AIMDDefenseState struct {
	ConsecutiveFailures  int     `json:"consecutive_failures"`
	ConsecutiveSuccesses int     `json:"consecutive_successes"`
	AIMDModifier         float64 `json:"aimd_modifier"`
	IsActive             bool    `json:"is_active"`
	TotalDecreases       int     `json:"total_decreases"`
	TotalIncreases       int     `json:"total_increases"`

	FleetThreatActive        bool      `json:"fleet_threat_active"`
	FleetThreatType          string    `json:"fleet_threat_type,omitempty"`
	FleetThreatSeverity      float64   `json:"fleet_threat_severity"`
	FleetDefensiveMultiplier float64   `json:"fleet_defensive_multiplier"`
	FleetThreatExpiresAt     time.Time `json:"fleet_threat_expires_at,omitempty"`
}

const (
	FailureThreshold       = 3
	SuccessThreshold       = 5
	MultiplicativeDecrease = 0.8
	AdditiveIncrease       = 0.05
	MinModifier            = 0.4
	MaxModifier            = 1.0
	SevereThreatSeverity   = 0.5
)

// NewAIMDDefenseState returns an inactive, neutral defense state.
func NewAIMDDefenseState() *AIMDDefenseState {
	return &AIMDDefenseState{AIMDModifier: 1.0, FleetDefensiveMultiplier: 1.0}
}

// RecordOutcome logs one forwarding success or failure. Every full
// FailureThreshold streak cuts the modifier multiplicatively and flips the
// state active; every full SuccessThreshold streak restores it additively.
func (a *AIMDDefenseState) RecordOutcome(success bool) {
	if success {
		a.ConsecutiveSuccesses++
		a.ConsecutiveFailures = 0
		if a.ConsecutiveSuccesses%SuccessThreshold == 0 {
			a.AIMDModifier += AdditiveIncrease
			if a.AIMDModifier > MaxModifier {
				a.AIMDModifier = MaxModifier
			}
			a.TotalIncreases++
		}
		return
	}
	a.ConsecutiveFailures++
	a.ConsecutiveSuccesses = 0
	if a.ConsecutiveFailures%FailureThreshold == 0 {
		a.AIMDModifier *= MultiplicativeDecrease
		if a.AIMDModifier < MinModifier {
			a.AIMDModifier = MinModifier
		}
		a.IsActive = true
		a.TotalDecreases++
	}
}

// GetEffectiveModifier combines the local AIMD modifier with any active
// fleet-reported defensive multiplier.
func (a *AIMDDefenseState) GetEffectiveModifier() float64 {
	if a.FleetThreatActive {
		return a.AIMDModifier * a.FleetDefensiveMultiplier
	}
	return a.AIMDModifier
}

// ApplyToFee scales a Thompson-sampled fee by the effective modifier and
// clamps it to [floor, ceiling].
func (a *AIMDDefenseState) ApplyToFee(feePPM, floor, ceiling int64) int64 {
	adjusted := int64(math.Round(float64(feePPM) * a.GetEffectiveModifier()))
	if adjusted < floor {
		adjusted = floor
	}
	if adjusted > ceiling {
		adjusted = ceiling
	}
	return adjusted
}

// FleetThreat is the hive bridge's report of a coordinated attack pattern
// targeting this node or channel.
type FleetThreat struct {
	IsThreat            bool
	ThreatType          string
	Severity            float64
	DefensiveMultiplier float64
	ExpiresAt           time.Time
}

// UpdateFleetThreat applies (or clears) a fleet-reported threat. A nil
// threat, an inactive one, or an already-expired one clears local state. A
// severe drain attack also sets the local AIMD IsActive flag; ApplyToFee
// does not read that flag, so the fleet multiplier stops applying once the
// threat is cleared.
func (a *AIMDDefenseState) UpdateFleetThreat(threat *FleetThreat, now time.Time) {
	if threat == nil || !threat.IsThreat || !threat.ExpiresAt.After(now) {
		a.FleetThreatActive = false
		a.FleetThreatType = ""
		a.FleetThreatSeverity = 0
		a.FleetDefensiveMultiplier = 1.0
		return
	}
	a.FleetThreatActive = true
	a.FleetThreatType = threat.ThreatType
	a.FleetThreatSeverity = threat.Severity
	a.FleetDefensiveMultiplier = threat.DefensiveMultiplier
	a.FleetThreatExpiresAt = threat.ExpiresAt
	if threat.ThreatType == "drain" && threat.Severity >= SevereThreatSeverity {
		a.IsActive = true
	}
}

// Reset clears local AIMD state (not fleet threat state).
func (a *AIMDDefenseState) Reset() {
	a.ConsecutiveFailures = 0
	a.ConsecutiveSuccesses = 0
	a.AIMDModifier = 1.0
	a.IsActive = false
}

// CurveObservation is one point on a channel's historical fee/revenue
// response curve, kept for diagnostics and for seeding new state on
// migration.
type CurveObservation struct {
	FeePPM       int64     `json:"fee_ppm"`
	RevenueRate  float64   `json:"revenue_rate"`
	ForwardCount int       `json:"forward_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// HistoricalResponseCurve is a lightweight log of (fee, revenue) pairs
// independent of the Gaussian posterior, persisted in the v2 state blob.
// No admin RPC route serves it.
type HistoricalResponseCurve struct {
	Observations []CurveObservation `json:"observations"`
}

// NewHistoricalResponseCurve returns an empty curve.
func NewHistoricalResponseCurve() *HistoricalResponseCurve {
	return &HistoricalResponseCurve{}
}

// AddObservation appends a timestamped point to the curve.
func (c *HistoricalResponseCurve) AddObservation(feePPM int64, revenueRate float64, forwardCount int) {
	c.Observations = append(c.Observations, CurveObservation{
		FeePPM: feePPM, RevenueRate: revenueRate, ForwardCount: forwardCount, Timestamp: time.Now().UTC(),
	})
}

// ThompsonAIMDState is the full per-channel algorithm state persisted to
// the store's algo_state table.
type ThompsonAIMDState struct {
	Thompson            *GaussianThompsonState `json:"thompson"`
	AIMD                 *AIMDDefenseState      `json:"aimd"`
	LastRevenueRate      float64                `json:"last_revenue_rate"`
	LastFeePPM           int64                  `json:"last_fee_ppm"`
	LastBroadcastFeePPM  int64                  `json:"last_broadcast_fee_ppm"`
	IsSleeping           bool                   `json:"is_sleeping"`
	StableCycles         int                    `json:"stable_cycles"`
	AlgorithmVersion     string                 `json:"algorithm_version"`

	emaInitialized  bool
	historicalCurve *HistoricalResponseCurve
}

// SleepCyclesThreshold is the number of consecutive no-change cycles
// after which a channel is put to sleep and skipped by the fee cycle
// pre-gate until something disturbs it.
const SleepCyclesThreshold = 5

// RecordCycleOutcome tracks whether this cycle's decision changed the fee,
// putting the channel to sleep once it has gone SleepCyclesThreshold
// cycles without a change, and waking it the moment the fee moves again.
func (t *ThompsonAIMDState) RecordCycleOutcome(feeChanged bool) {
	if feeChanged {
		t.StableCycles = 0
		t.IsSleeping = false
		return
	}
	t.StableCycles++
	if t.StableCycles >= SleepCyclesThreshold {
		t.IsSleeping = true
	}
}

// NewThompsonAIMDState returns fresh combined state for a channel with no
// persisted history.
func NewThompsonAIMDState() *ThompsonAIMDState {
	return &ThompsonAIMDState{
		Thompson:         NewGaussianThompsonState(),
		AIMD:             NewAIMDDefenseState(),
		AlgorithmVersion: AlgorithmVersion,
	}
}

// UpdateEMARevenueRate folds a new revenue-rate sample into an
// exponential moving average, initializing it on the first call.
func (t *ThompsonAIMDState) UpdateEMARevenueRate(value, alpha float64) float64 {
	if !t.emaInitialized {
		t.LastRevenueRate = value
		t.emaInitialized = true
		return t.LastRevenueRate
	}
	t.LastRevenueRate = alpha*value + (1-alpha)*t.LastRevenueRate
	return t.LastRevenueRate
}

// SetHistoricalCurve attaches a response curve to this state.
func (t *ThompsonAIMDState) SetHistoricalCurve(c *HistoricalResponseCurve) {
	t.historicalCurve = c
}

// GetHistoricalCurve returns the attached curve, creating an empty one on
// first access.
func (t *ThompsonAIMDState) GetHistoricalCurve() *HistoricalResponseCurve {
	if t.historicalCurve == nil {
		t.historicalCurve = NewHistoricalResponseCurve()
	}
	return t.historicalCurve
}

// v2Envelope is the on-disk shape written by ToV2JSON / read by FromV2JSON.
type v2Envelope struct {
	Thompson            *GaussianThompsonState   `json:"thompson,omitempty"`
	AIMD                 *AIMDDefenseState        `json:"aimd,omitempty"`
	LastRevenueRate      float64                  `json:"last_revenue_rate,omitempty"`
	LastFeePPM           int64                    `json:"last_fee_ppm,omitempty"`
	LastBroadcastFeePPM  int64                    `json:"last_broadcast_fee_ppm,omitempty"`
	IsSleeping           bool                     `json:"is_sleeping,omitempty"`
	StableCycles         int                      `json:"stable_cycles,omitempty"`
	AlgorithmVersion     string                   `json:"algorithm_version,omitempty"`
	HistoricalCurve      *HistoricalResponseCurve `json:"historical_curve,omitempty"`
}

// ToV2JSON serializes the full state to the versioned JSON blob the store
// persists in algo_state.
func (t *ThompsonAIMDState) ToV2JSON() ([]byte, error) {
	env := v2Envelope{
		Thompson: t.Thompson, AIMD: t.AIMD,
		LastRevenueRate: t.LastRevenueRate, LastFeePPM: t.LastFeePPM, LastBroadcastFeePPM: t.LastBroadcastFeePPM,
		IsSleeping: t.IsSleeping, StableCycles: t.StableCycles,
		AlgorithmVersion: AlgorithmVersion, HistoricalCurve: t.historicalCurve,
	}
	blob, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode thompson v2 state: %w", err)
	}
	return blob, nil
}

// LegacyEnvelope carries the pre-v2 columns a migrating row may still have.
type LegacyEnvelope struct {
	LastRevenueRate     float64
	LastFeePPM          int64
	LastBroadcastFeePPM int64
}

// FromV2JSON reconstructs state from a (possibly empty or absent) v2 blob,
// falling back to legacy envelope fields for anything the blob didn't
// carry. A legacy historical_curve embedded in the blob is migrated into
// the Thompson posterior's observation history so a restart doesn't lose
// the learned response curve.
func FromV2JSON(blob []byte, legacy LegacyEnvelope) (*ThompsonAIMDState, error) {
	state := NewThompsonAIMDState()

	if len(blob) > 0 {
		var env v2Envelope
		if err := json.Unmarshal(blob, &env); err != nil {
			return nil, fmt.Errorf("decode thompson v2 state: %w", err)
		}
		if env.Thompson != nil {
			state.Thompson = env.Thompson
		}
		if env.AIMD != nil {
			state.AIMD = env.AIMD
		}
		state.LastRevenueRate = env.LastRevenueRate
		state.LastFeePPM = env.LastFeePPM
		state.LastBroadcastFeePPM = env.LastBroadcastFeePPM
		state.IsSleeping = env.IsSleeping
		state.StableCycles = env.StableCycles
		if env.LastRevenueRate != 0 {
			state.emaInitialized = true
		}
		if env.HistoricalCurve != nil {
			state.historicalCurve = env.HistoricalCurve
			for _, obs := range env.HistoricalCurve.Observations {
				state.Thompson.Observations = append(state.Thompson.Observations, Observation{
					FeePPM: obs.FeePPM, RevenueRate: obs.RevenueRate, Weight: 1.0, Timestamp: obs.Timestamp,
				})
			}
		}
	}

	hydrateLegacy(state, legacy)
	state.AlgorithmVersion = AlgorithmVersion
	return state, nil
}

func hydrateLegacy(state *ThompsonAIMDState, legacy LegacyEnvelope) {
	if state.LastRevenueRate == 0 && legacy.LastRevenueRate != 0 {
		state.LastRevenueRate = legacy.LastRevenueRate
		state.emaInitialized = true
	}
	if state.LastFeePPM == 0 && legacy.LastFeePPM != 0 {
		state.LastFeePPM = legacy.LastFeePPM
	}
	if state.LastBroadcastFeePPM == 0 && legacy.LastBroadcastFeePPM != 0 {
		state.LastBroadcastFeePPM = legacy.LastBroadcastFeePPM
	}
}
