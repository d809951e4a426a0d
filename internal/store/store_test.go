package store

import (
	"testing"
	"time"

	"github.com/brewgator/revenue-ops/internal/model"
	"github.com/brewgator/revenue-ops/pkg/testutils"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := testutils.CreateTestDBPath(t)
	s, err := Open(dbPath)
	testutils.AssertNoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestValidateChannelPoint(t *testing.T) {
	valid := "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33:0"
	if err := ValidateChannelPoint(valid); err != nil {
		t.Errorf("expected valid channel point to pass, got %v", err)
	}

	cases := []string{
		"not-a-txid:0",
		"missingvoutseparator",
		"",
	}
	for _, c := range cases {
		if err := ValidateChannelPoint(c); err == nil {
			t.Errorf("expected %q to fail validation", c)
		}
	}
}

func TestRecordAndQueryForward(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	id, err := s.RecordForward(model.ForwardEvent{
		InChannel: "100x1x0", OutChannel: "200x1x0",
		InMsat: 100000, OutMsat: 99900, FeeMsat: 100,
		Status: model.ForwardSettled, Timestamp: now,
	})
	testutils.AssertNoError(t, err)
	if id == 0 {
		t.Error("expected a non-zero inserted row id")
	}
}

func TestPeerReputationUpsertAndDecay(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	testutils.AssertNoError(t, s.UpdatePeerReputation("peer-a", true, now))
	testutils.AssertNoError(t, s.UpdatePeerReputation("peer-a", true, now))
	testutils.AssertNoError(t, s.UpdatePeerReputation("peer-a", false, now))

	rep, err := s.GetPeerReputation("peer-a")
	testutils.AssertNoError(t, err)
	if rep.Successes != 2 || rep.Failures != 1 {
		t.Errorf("expected 2 successes and 1 failure, got %+v", rep)
	}
	// two successes then a failure, from a 1.0 prior:
	// 1.0*0.95+0.05 = 1.0, 1.0*0.95+0.05 = 1.0, 1.0*0.95-0.15 = 0.8
	wantScore := 0.8
	if diff := rep.Score - wantScore; diff > 0.001 || diff < -0.001 {
		t.Errorf("expected score ~%.3f, got %.3f", wantScore, rep.Score)
	}

	testutils.AssertNoError(t, s.DecayReputation(0.5, now))
	decayed, err := s.GetPeerReputation("peer-a")
	testutils.AssertNoError(t, err)
	if decayed.Score >= rep.Score {
		t.Errorf("expected multiplicative decay to shrink the score, got %.3f -> %.3f", rep.Score, decayed.Score)
	}
}

func TestGetPeerReputationDefaultsNeutral(t *testing.T) {
	s := openTestStore(t)
	rep, err := s.GetPeerReputation("never-seen")
	testutils.AssertNoError(t, err)
	if rep.Score != 1.0 {
		t.Errorf("expected neutral 1.0 prior score, got %.3f", rep.Score)
	}
}

func TestChannelStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	cs := model.ChannelState{
		ChanID: "100x1x0", PeerID: "peer-a",
		Imbalance: -0.4, FlowRegime: model.RegimeDrain,
		TimeBucket: model.TimePeak, LastFeePPM: 250, FailureRate: 0.25, UpdatedAt: now,
	}
	testutils.AssertNoError(t, s.UpsertChannelState(cs))

	got, err := s.GetChannelState("100x1x0")
	testutils.AssertNoError(t, err)
	if got.FlowRegime != model.RegimeDrain || got.LastFeePPM != 250 || got.FailureRate != 0.25 {
		t.Errorf("unexpected round-tripped state: %+v", got)
	}

	all, err := s.GetAllChannelStates()
	testutils.AssertNoError(t, err)
	if len(all) != 1 {
		t.Errorf("expected 1 channel state, got %d", len(all))
	}
}

func TestPeerForSCIDCacheAndRebuild(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	testutils.AssertNoError(t, s.UpsertChannelState(model.ChannelState{ChanID: "chan-1", PeerID: "peer-x", UpdatedAt: now}))

	peer, err := s.PeerForSCID("chan-1")
	testutils.AssertNoError(t, err)
	testutils.AssertEqual(t, peer, "peer-x")

	s.scidCacheMu.Lock()
	delete(s.scidCache, "chan-1")
	s.scidCacheMu.Unlock()

	peer, err = s.PeerForSCID("chan-1")
	testutils.AssertNoError(t, err)
	testutils.AssertEqual(t, peer, "peer-x")
}

func TestAlgoStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	_, _, ok, err := s.LoadAlgoState("chan-9")
	testutils.AssertNoError(t, err)
	if ok {
		t.Error("expected no algo state row before first save")
	}

	testutils.AssertNoError(t, s.SaveAlgoState("chan-9", 2, `{"algorithm_version":"thompson_aimd_v1"}`, now))
	version, blob, ok, err := s.LoadAlgoState("chan-9")
	testutils.AssertNoError(t, err)
	if !ok || version != 2 || blob == "" {
		t.Errorf("unexpected algo state after save: version=%d ok=%v blob=%q", version, ok, blob)
	}
}

func TestFeeChangeAndRebalanceHistory(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	testutils.AssertNoError(t, s.RecordFeeChange("chan-1", 100, 150, "thompson_sample", "", now))
	changes, err := s.GetRecentFeeChanges("chan-1", now.Add(-time.Hour))
	testutils.AssertNoError(t, err)
	if len(changes) != 1 || changes[0].NewFeePPM != 150 {
		t.Errorf("unexpected fee changes: %+v", changes)
	}

	testutils.AssertNoError(t, s.RecordRebalance(model.RebalanceEvent{
		FromChannel: "chan-1", ToChannel: "chan-2", AmountSats: 50000, FeeSats: 25,
		Success: true, ReasonCode: "ev_positive", Timestamp: now,
	}))
	rebalances, err := s.GetRecentRebalances("chan-1", now.Add(-time.Hour))
	testutils.AssertNoError(t, err)
	if len(rebalances) != 1 || rebalances[0].AmountSats != 50000 {
		t.Errorf("unexpected rebalances: %+v", rebalances)
	}
}

func TestCleanupOldData(t *testing.T) {
	s := openTestStore(t)
	old := time.Now().UTC().AddDate(0, 0, -90)
	recent := time.Now().UTC()

	testutils.AssertNoError(t, s.RecordConnectionEvent(model.ConnectionEvent{PeerID: "peer-a", Kind: model.ConnectionConnect, Timestamp: old}))
	testutils.AssertNoError(t, s.RecordConnectionEvent(model.ConnectionEvent{PeerID: "peer-a", Kind: model.ConnectionConnect, Timestamp: recent}))

	testutils.AssertNoError(t, s.CleanupOldData(recent.AddDate(0, 0, -30)))
}
