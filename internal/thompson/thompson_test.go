package thompson

import (
	"testing"
	"time"

	"github.com/brewgator/revenue-ops/internal/model"
)

func TestGaussianThompsonDefaults(t *testing.T) {
	s := NewGaussianThompsonState()
	if s.PosteriorMean != DefaultPriorMeanFee || s.PosteriorStd != DefaultPriorStdFee {
		t.Fatalf("unexpected defaults: mean=%v std=%v", s.PosteriorMean, s.PosteriorStd)
	}
	if len(s.Observations) != 0 || len(s.ContextualPosteriors) != 0 {
		t.Fatalf("expected empty state, got observations=%d contexts=%d", len(s.Observations), len(s.ContextualPosteriors))
	}
}

func TestSampleFeeRespectsBounds(t *testing.T) {
	s := NewGaussianThompsonState()
	for i := 0; i < 200; i++ {
		fee := s.SampleFee(50, 500, "")
		if fee < 50 || fee > 500 {
			t.Fatalf("sampled fee %d out of bounds", fee)
		}
	}
}

func TestSampleFeeUsesContextualPosteriorOnceTrusted(t *testing.T) {
	s := NewGaussianThompsonState()
	key := ContextKey(model.RegimeDrain, "normal", model.TimePeak, model.CorridorPrimary)
	s.ContextualPosteriors[key] = ContextualPosterior{Mean: 900, Std: 1, N: MinContextualObservations}

	fee := s.SampleFee(0, 2000, key)
	if distance(float64(fee), 900) > 10 {
		t.Fatalf("expected sample near trusted contextual mean 900, got %d", fee)
	}
}

func TestSampleFeeIgnoresUntrustedContextualPosterior(t *testing.T) {
	s := NewGaussianThompsonState()
	key := ContextKey(model.RegimeDrain, "normal", model.TimePeak, model.CorridorPrimary)
	s.ContextualPosteriors[key] = ContextualPosterior{Mean: 900, Std: 1, N: MinContextualObservations - 1}

	fee := s.SampleFee(0, 2000, key)
	if distance(float64(fee), 900) < 10 {
		t.Fatalf("expected global posterior to be used below the trust threshold, got %d", fee)
	}
}

func TestReputationBucketThresholds(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{1.5, "strong"},
		{1.0, "normal"},
		{0.3, "weak"},
	}
	for _, c := range cases {
		if got := ReputationBucket(c.score); got != c.want {
			t.Errorf("ReputationBucket(%v) = %q, want %q", c.score, got, c.want)
		}
	}
}

func TestUpdatePosteriorMovesTowardObservations(t *testing.T) {
	s := NewGaussianThompsonState()
	initialMean := s.PosteriorMean
	for i := 0; i < 20; i++ {
		s.UpdatePosterior(300, 100.0, 1.0, model.TimeNormal)
	}
	if len(s.Observations) != 20 {
		t.Fatalf("expected 20 observations, got %d", len(s.Observations))
	}
	if distance(s.PosteriorMean, 300) >= distance(initialMean, 300) {
		t.Fatalf("posterior mean %v did not move closer to 300 from %v", s.PosteriorMean, initialMean)
	}
}

func distance(a, b float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}

func TestObservationsAreBounded(t *testing.T) {
	s := NewGaussianThompsonState()
	for i := 0; i < MaxObservations+50; i++ {
		s.UpdatePosterior(int64(100+i), 10.0, 1.0, model.TimeNormal)
	}
	if len(s.Observations) > MaxObservations {
		t.Fatalf("observations not bounded: got %d", len(s.Observations))
	}
}

func TestInitializeFromHiveShiftsPrior(t *testing.T) {
	s := NewGaussianThompsonState()
	s.InitializeFromHive(350, 0.8, -1.5)
	if s.FleetOptimalEstimate != 350 || s.FleetConfidence != 0.8 {
		t.Fatalf("fleet fields not set: %+v", s)
	}
	if s.PriorMeanFee <= DefaultPriorMeanFee {
		t.Fatalf("expected prior mean to shift above default, got %v", s.PriorMeanFee)
	}
}

func TestInitializeFromHiveProfileIgnoresLowConfidence(t *testing.T) {
	s := NewGaussianThompsonState()
	s.InitializeFromHiveProfile(model.HiveProfile{OptimalFeeEstimate: 500, Confidence: 0.1, HiveReporters: 1})
	if s.PriorMeanFee != DefaultPriorMeanFee || s.PriorStdFee != DefaultPriorStdFee {
		t.Fatalf("low confidence profile should not have changed priors: %+v", s)
	}
}

func TestInitializeFromHiveProfileVolatilityAndReporters(t *testing.T) {
	lowVol := NewGaussianThompsonState()
	lowVol.InitializeFromHiveProfile(model.HiveProfile{OptimalFeeEstimate: 200, FeeVolatility: 0.1, Confidence: 0.7, HiveReporters: 3})

	highVol := NewGaussianThompsonState()
	highVol.InitializeFromHiveProfile(model.HiveProfile{OptimalFeeEstimate: 200, FeeVolatility: 0.8, Confidence: 0.7, HiveReporters: 3})

	if highVol.PriorStdFee <= lowVol.PriorStdFee {
		t.Fatalf("higher volatility should widen uncertainty: low=%v high=%v", lowVol.PriorStdFee, highVol.PriorStdFee)
	}

	single := NewGaussianThompsonState()
	single.InitializeFromHiveProfile(model.HiveProfile{OptimalFeeEstimate: 200, FeeVolatility: 0.3, Confidence: 0.6, HiveReporters: 1})

	multi := NewGaussianThompsonState()
	multi.InitializeFromHiveProfile(model.HiveProfile{OptimalFeeEstimate: 200, FeeVolatility: 0.3, Confidence: 0.6, HiveReporters: 5})

	if multi.PriorStdFee >= single.PriorStdFee {
		t.Fatalf("more reporters should narrow uncertainty: single=%v multi=%v", single.PriorStdFee, multi.PriorStdFee)
	}
}

func TestContextualPosteriorIsolation(t *testing.T) {
	s := NewGaussianThompsonState()
	s.UpdateContextual("low:strong:peak:P", 100, 50.0, model.TimePeak)
	s.UpdateContextual("high:none:normal:S", 400, 30.0, model.TimeNormal)

	lowCtx, ok := s.ContextualPosteriors["low:strong:peak:P"]
	if !ok {
		t.Fatal("expected low context to exist")
	}
	highCtx, ok := s.ContextualPosteriors["high:none:normal:S"]
	if !ok {
		t.Fatal("expected high context to exist")
	}
	if lowCtx.Mean == highCtx.Mean {
		t.Fatalf("expected contexts to diverge, both at %v", lowCtx.Mean)
	}
}

func TestTimeSimilarityTable(t *testing.T) {
	cases := []struct {
		a, b model.TimeBucket
		want float64
	}{
		{model.TimePeak, model.TimePeak, 1.0},
		{model.TimeNormal, model.TimePeak, 0.5},
		{model.TimeLow, model.TimeNormal, 0.5},
		{model.TimeLow, model.TimePeak, 0.2},
	}
	for _, c := range cases {
		if got := TimeSimilarity(c.a, c.b); got != c.want {
			t.Errorf("TimeSimilarity(%s, %s) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestCheckForDiscovery(t *testing.T) {
	s := NewGaussianThompsonState()
	if d := s.CheckForDiscovery(200, 100.0, 50.0); d != nil {
		t.Fatalf("expected no discovery with zero observations, got %+v", d)
	}

	for i := 0; i < 10; i++ {
		s.UpdatePosterior(200, 40.0, 1.0, model.TimeNormal)
	}
	if d := s.CheckForDiscovery(200, 10.0, 50.0); d != nil {
		t.Fatalf("expected no discovery on low revenue, got %+v", d)
	}

	d := s.CheckForDiscovery(200, 120.0, 50.0)
	if d == nil || d.Type != "high_revenue" {
		t.Fatalf("expected high_revenue discovery, got %+v", d)
	}
}

func TestAIMDDefaults(t *testing.T) {
	a := NewAIMDDefenseState()
	if a.ConsecutiveFailures != 0 || a.ConsecutiveSuccesses != 0 || a.AIMDModifier != 1.0 || a.IsActive {
		t.Fatalf("unexpected defaults: %+v", a)
	}
}

func TestAIMDFailureStreakCutsModifier(t *testing.T) {
	a := NewAIMDDefenseState()
	initial := a.AIMDModifier
	for i := 0; i < FailureThreshold; i++ {
		a.RecordOutcome(false)
	}
	if a.AIMDModifier != initial*MultiplicativeDecrease {
		t.Fatalf("expected modifier %v, got %v", initial*MultiplicativeDecrease, a.AIMDModifier)
	}
	if !a.IsActive {
		t.Fatal("expected AIMD to be active after failure streak")
	}
}

func TestAIMDSuccessStreakRestoresModifier(t *testing.T) {
	a := NewAIMDDefenseState()
	for i := 0; i < FailureThreshold; i++ {
		a.RecordOutcome(false)
	}
	initial := a.AIMDModifier
	for i := 0; i < SuccessThreshold; i++ {
		a.RecordOutcome(true)
	}
	if a.AIMDModifier <= initial {
		t.Fatalf("expected modifier to increase above %v, got %v", initial, a.AIMDModifier)
	}
}

func TestAIMDSuccessResetsFailureCounter(t *testing.T) {
	a := NewAIMDDefenseState()
	a.RecordOutcome(false)
	a.RecordOutcome(false)
	a.RecordOutcome(true)
	if a.ConsecutiveFailures != 0 || a.ConsecutiveSuccesses != 1 {
		t.Fatalf("unexpected counters: %+v", a)
	}
}

func TestApplyToFeeInactiveIsNoop(t *testing.T) {
	a := NewAIMDDefenseState()
	if got := a.ApplyToFee(200, 50, 500); got != 200 {
		t.Fatalf("expected passthrough, got %d", got)
	}
}

func TestApplyToFeeRespectsFloor(t *testing.T) {
	a := NewAIMDDefenseState()
	a.AIMDModifier = 0.1
	if got := a.ApplyToFee(50, 100, 500); got < 100 {
		t.Fatalf("expected floor to apply, got %d", got)
	}
}

func TestFleetThreatCombinesWithAIMD(t *testing.T) {
	a := NewAIMDDefenseState()
	a.IsActive = true
	a.AIMDModifier = 0.8
	a.UpdateFleetThreat(&FleetThreat{
		IsThreat: true, ThreatType: "drain", Severity: 0.8,
		DefensiveMultiplier: 2.0, ExpiresAt: time.Now().Add(time.Hour),
	}, time.Now())

	got := a.GetEffectiveModifier()
	want := 1.6
	if distance(got, want) > 0.01 {
		t.Fatalf("expected effective modifier %v, got %v", want, got)
	}
}

func TestFleetThreatClearsOnNil(t *testing.T) {
	a := NewAIMDDefenseState()
	a.UpdateFleetThreat(&FleetThreat{IsThreat: true, ThreatType: "drain", Severity: 0.8, DefensiveMultiplier: 2.0, ExpiresAt: time.Now().Add(time.Hour)}, time.Now())
	a.UpdateFleetThreat(nil, time.Now())
	if a.FleetThreatActive {
		t.Fatal("expected fleet threat cleared")
	}
}

func TestExpiredThreatClears(t *testing.T) {
	a := NewAIMDDefenseState()
	a.UpdateFleetThreat(&FleetThreat{IsThreat: true, ThreatType: "drain", Severity: 0.8, DefensiveMultiplier: 2.0, ExpiresAt: time.Now().Add(-time.Hour)}, time.Now())
	if a.FleetThreatActive {
		t.Fatal("expected expired threat to be cleared")
	}
}

func TestSevereDrainActivatesLocalAIMD(t *testing.T) {
	a := NewAIMDDefenseState()
	a.UpdateFleetThreat(&FleetThreat{IsThreat: true, ThreatType: "drain", Severity: 0.7, DefensiveMultiplier: 2.5, ExpiresAt: time.Now().Add(time.Hour)}, time.Now())
	if !a.IsActive {
		t.Fatal("expected severe drain threat to activate local AIMD")
	}
}

func TestEMARevenueRate(t *testing.T) {
	state := NewThompsonAIMDState()
	ema := state.UpdateEMARevenueRate(100.0, 0.3)
	if ema != 100.0 {
		t.Fatalf("expected first EMA update to initialize to value, got %v", ema)
	}
	ema = state.UpdateEMARevenueRate(200.0, 0.3)
	want := 130.0
	if distance(ema, want) > 0.01 {
		t.Fatalf("expected EMA %v, got %v", want, ema)
	}
}

func TestHistoricalCurvePersistence(t *testing.T) {
	state := NewThompsonAIMDState()
	curve := NewHistoricalResponseCurve()
	curve.AddObservation(200, 50.0, 5)
	state.SetHistoricalCurve(curve)

	retrieved := state.GetHistoricalCurve()
	if len(retrieved.Observations) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(retrieved.Observations))
	}
}

func TestV2RoundTrip(t *testing.T) {
	state := NewThompsonAIMDState()
	state.Thompson.UpdatePosterior(200, 50.0, 2.0, model.TimeNormal)
	state.AIMD.RecordOutcome(true)
	state.LastRevenueRate = 42.5
	state.LastFeePPM = 200

	blob, err := state.ToV2JSON()
	if err != nil {
		t.Fatalf("ToV2JSON: %v", err)
	}

	restored, err := FromV2JSON(blob, LegacyEnvelope{LastRevenueRate: 42.5, LastFeePPM: 200, LastBroadcastFeePPM: 200})
	if err != nil {
		t.Fatalf("FromV2JSON: %v", err)
	}
	if restored.AlgorithmVersion != AlgorithmVersion {
		t.Fatalf("unexpected algorithm version %q", restored.AlgorithmVersion)
	}
	if restored.LastRevenueRate != 42.5 {
		t.Fatalf("expected last revenue rate 42.5, got %v", restored.LastRevenueRate)
	}
	if len(restored.Thompson.Observations) != 1 {
		t.Fatalf("expected 1 observation preserved, got %d", len(restored.Thompson.Observations))
	}
}

func TestMigrationFromEmptyState(t *testing.T) {
	state, err := FromV2JSON(nil, LegacyEnvelope{LastRevenueRate: 100.0, LastFeePPM: 250, LastBroadcastFeePPM: 250})
	if err != nil {
		t.Fatalf("FromV2JSON: %v", err)
	}
	if state.Thompson == nil || state.AIMD == nil {
		t.Fatal("expected fresh thompson/aimd state")
	}
	if state.LastRevenueRate != 100.0 || state.LastFeePPM != 250 {
		t.Fatalf("expected legacy fields hydrated, got %+v", state)
	}
}

func TestMigrationPreservesHistoricalObservations(t *testing.T) {
	blob := []byte(`{"historical_curve":{"observations":[
		{"fee_ppm":200,"revenue_rate":50.0,"forward_count":5,"timestamp":"2024-01-01T00:00:00Z"},
		{"fee_ppm":250,"revenue_rate":60.0,"forward_count":8,"timestamp":"2024-01-02T00:00:00Z"}
	]}}`)
	state, err := FromV2JSON(blob, LegacyEnvelope{})
	if err != nil {
		t.Fatalf("FromV2JSON: %v", err)
	}
	if len(state.Thompson.Observations) != 2 {
		t.Fatalf("expected 2 migrated observations, got %d", len(state.Thompson.Observations))
	}
}
