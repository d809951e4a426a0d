// Package store is the embedded sqlite persistence layer for the
// revenue-ops controller: append-only event tables plus the small set of
// mutable rows (peer reputation, channel state, algorithm state blobs) that
// the controllers read and update every cycle.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brewgator/revenue-ops/internal/model"
)

// Store wraps the sqlite connection and the in-process SCID->peer cache.
type Store struct {
	conn *sql.DB

	scidCacheMu sync.RWMutex
	scidCache   map[string]string
}

// Open creates (or reuses) a sqlite database at dbPath and ensures the
// schema exists.
func Open(dbPath string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{conn: conn, scidCache: make(map[string]string)}
	if err := s.initTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init tables: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS forward_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			in_channel TEXT NOT NULL,
			out_channel TEXT NOT NULL,
			in_msat INTEGER NOT NULL,
			out_msat INTEGER NOT NULL,
			fee_msat INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_forward_events_timestamp ON forward_events(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_forward_events_out_channel ON forward_events(out_channel);`,

		`CREATE TABLE IF NOT EXISTS peer_reputation (
			peer_id TEXT PRIMARY KEY,
			successes INTEGER NOT NULL DEFAULT 0,
			failures INTEGER NOT NULL DEFAULT 0,
			score REAL NOT NULL DEFAULT 1.0,
			updated_at DATETIME NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS channel_state (
			chan_id TEXT PRIMARY KEY,
			peer_id TEXT NOT NULL,
			inbound_volume_msat INTEGER NOT NULL DEFAULT 0,
			outbound_volume_msat INTEGER NOT NULL DEFAULT 0,
			net_flow_msat INTEGER NOT NULL DEFAULT 0,
			imbalance REAL NOT NULL DEFAULT 0,
			flow_regime TEXT NOT NULL DEFAULT 'balanced',
			htlc_congestion REAL NOT NULL DEFAULT 0,
			congested BOOLEAN NOT NULL DEFAULT 0,
			time_bucket TEXT NOT NULL DEFAULT 'normal',
			last_fee_ppm INTEGER NOT NULL DEFAULT 0,
			last_broadcast_fee_ppm INTEGER NOT NULL DEFAULT 0,
			failure_rate REAL NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS fee_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chan_id TEXT NOT NULL,
			old_fee_ppm INTEGER NOT NULL,
			new_fee_ppm INTEGER NOT NULL,
			reason_code TEXT NOT NULL,
			heuristic_modifiers TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fee_changes_chan_id ON fee_changes(chan_id, timestamp);`,

		`CREATE TABLE IF NOT EXISTS rebalances (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_channel TEXT NOT NULL,
			to_channel TEXT NOT NULL,
			amount_sats INTEGER NOT NULL,
			fee_sats INTEGER NOT NULL,
			success BOOLEAN NOT NULL,
			reason_code TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rebalances_timestamp ON rebalances(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_rebalances_from_channel ON rebalances(from_channel, timestamp);`,

		`CREATE TABLE IF NOT EXISTS connection_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			peer_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_connection_events_peer_id ON connection_events(peer_id, timestamp);`,

		`CREATE TABLE IF NOT EXISTS algo_state (
			chan_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			blob TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := s.conn.Exec(q); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// ValidateChannelPoint checks that the txid half of a "txid:vout" channel
// point is a well-formed 32-byte hash, rejecting host RPC garbage before it
// reaches the rest of the system.
func ValidateChannelPoint(channelPoint string) error {
	var txid string
	for i := 0; i < len(channelPoint); i++ {
		if channelPoint[i] == ':' {
			txid = channelPoint[:i]
			break
		}
	}
	if txid == "" {
		return fmt.Errorf("malformed channel point %q: missing vout separator", channelPoint)
	}
	if _, err := chainhash.NewHashFromStr(txid); err != nil {
		return fmt.Errorf("malformed channel point %q: %w", channelPoint, err)
	}
	return nil
}

// RecordForward appends an immutable forwarding event.
func (s *Store) RecordForward(ev model.ForwardEvent) (int64, error) {
	res, err := s.conn.Exec(
		`INSERT INTO forward_events (in_channel, out_channel, in_msat, out_msat, fee_msat, latency_ms, status, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.InChannel, ev.OutChannel, ev.InMsat, ev.OutMsat, ev.FeeMsat, ev.LatencyMs, string(ev.Status), ev.Timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("insert forward event: %w", err)
	}
	return res.LastInsertId()
}

// Reputation model constants: a recursive additive update bounded to
// [0, reputationScoreMax] with a neutral 1.0 prior for a peer with no
// history. spec.md fixes the recurrence but not these exact constants; they
// are an implementation choice recorded in DESIGN.md.
const (
	reputationAlpha       = 0.95 // weight retained from the prior score each update
	reputationSuccessBeta = 0.05 // additive reward for a success
	reputationFailureBeta = 0.15 // additive penalty for a failure
	reputationScoreMax    = 2.0
	reputationPrior       = 1.0
)

// UpdatePeerReputation applies one success/failure outcome via the
// recursive additive update score_new = score_old*alpha + (success ? beta_s
// : -beta_f), bounded to [0, reputationScoreMax]. A peer with no existing
// row starts from the reputationPrior before the update is applied.
func (s *Store) UpdatePeerReputation(peerID string, success bool, now time.Time) error {
	var successes, failures int64
	delta := -reputationFailureBeta
	if success {
		successes = 1
		delta = reputationSuccessBeta
	} else {
		failures = 1
	}
	initialScore := clampScore(reputationPrior*reputationAlpha + delta)

	_, err := s.conn.Exec(
		`INSERT INTO peer_reputation (peer_id, successes, failures, score, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(peer_id) DO UPDATE SET
			successes = successes + excluded.successes,
			failures = failures + excluded.failures,
			score = MIN(?, MAX(0, score * ? + ?)),
			updated_at = excluded.updated_at`,
		peerID, successes, failures, initialScore, now,
		reputationScoreMax, reputationAlpha, delta,
	)
	if err != nil {
		return fmt.Errorf("upsert peer reputation: %w", err)
	}
	return nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > reputationScoreMax {
		return reputationScoreMax
	}
	return v
}

// DecayReputation applies pure multiplicative decay (score *= factor) to
// every peer's score, the way stale reputations fade in §4.2.
func (s *Store) DecayReputation(factor float64, now time.Time) error {
	_, err := s.conn.Exec(
		`UPDATE peer_reputation SET score = score * ?, updated_at = ?`,
		factor, now,
	)
	if err != nil {
		return fmt.Errorf("decay peer reputation: %w", err)
	}
	return nil
}

// GetPeerReputation returns the neutral 1.0 prior if the peer has no history.
func (s *Store) GetPeerReputation(peerID string) (model.PeerReputation, error) {
	row := s.conn.QueryRow(
		`SELECT peer_id, successes, failures, score FROM peer_reputation WHERE peer_id = ?`, peerID,
	)
	var rep model.PeerReputation
	err := row.Scan(&rep.PeerID, &rep.Successes, &rep.Failures, &rep.Score)
	if err == sql.ErrNoRows {
		return model.PeerReputation{PeerID: peerID, Score: reputationPrior}, nil
	}
	if err != nil {
		return model.PeerReputation{}, fmt.Errorf("query peer reputation: %w", err)
	}
	return rep, nil
}

// GetAllPeerReputations returns every tracked peer's reputation.
func (s *Store) GetAllPeerReputations() ([]model.PeerReputation, error) {
	rows, err := s.conn.Query(`SELECT peer_id, successes, failures, score FROM peer_reputation`)
	if err != nil {
		return nil, fmt.Errorf("query peer reputations: %w", err)
	}
	defer rows.Close()
	var out []model.PeerReputation
	for rows.Next() {
		var rep model.PeerReputation
		if err := rows.Scan(&rep.PeerID, &rep.Successes, &rep.Failures, &rep.Score); err != nil {
			return nil, fmt.Errorf("scan peer reputation: %w", err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// UpsertChannelState writes the latest derived state for a channel.
func (s *Store) UpsertChannelState(cs model.ChannelState) error {
	_, err := s.conn.Exec(
		`INSERT INTO channel_state (
			chan_id, peer_id, inbound_volume_msat, outbound_volume_msat, net_flow_msat,
			imbalance, flow_regime, htlc_congestion, congested, time_bucket,
			last_fee_ppm, last_broadcast_fee_ppm, failure_rate, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chan_id) DO UPDATE SET
			peer_id = excluded.peer_id,
			inbound_volume_msat = excluded.inbound_volume_msat,
			outbound_volume_msat = excluded.outbound_volume_msat,
			net_flow_msat = excluded.net_flow_msat,
			imbalance = excluded.imbalance,
			flow_regime = excluded.flow_regime,
			htlc_congestion = excluded.htlc_congestion,
			congested = excluded.congested,
			time_bucket = excluded.time_bucket,
			last_fee_ppm = excluded.last_fee_ppm,
			last_broadcast_fee_ppm = excluded.last_broadcast_fee_ppm,
			failure_rate = excluded.failure_rate,
			updated_at = excluded.updated_at`,
		cs.ChanID, cs.PeerID, cs.InboundVolumeMsat, cs.OutboundVolumeMsat, cs.NetFlowMsat,
		cs.Imbalance, string(cs.FlowRegime), cs.HTLCCongestion, cs.Congested, string(cs.TimeBucket),
		cs.LastFeePPM, cs.LastBroadcastPPM, cs.FailureRate, cs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert channel state: %w", err)
	}
	s.cacheSCID(cs.ChanID, cs.PeerID)
	return nil
}

// GetChannelState fetches the current derived state for one channel.
func (s *Store) GetChannelState(chanID string) (model.ChannelState, error) {
	row := s.conn.QueryRow(
		`SELECT chan_id, peer_id, inbound_volume_msat, outbound_volume_msat, net_flow_msat,
			imbalance, flow_regime, htlc_congestion, congested, time_bucket,
			last_fee_ppm, last_broadcast_fee_ppm, failure_rate, updated_at
		 FROM channel_state WHERE chan_id = ?`, chanID,
	)
	return scanChannelState(row)
}

// GetAllChannelStates returns the derived state for every known channel.
func (s *Store) GetAllChannelStates() ([]model.ChannelState, error) {
	rows, err := s.conn.Query(
		`SELECT chan_id, peer_id, inbound_volume_msat, outbound_volume_msat, net_flow_msat,
			imbalance, flow_regime, htlc_congestion, congested, time_bucket,
			last_fee_ppm, last_broadcast_fee_ppm, failure_rate, updated_at
		 FROM channel_state`,
	)
	if err != nil {
		return nil, fmt.Errorf("query channel states: %w", err)
	}
	defer rows.Close()
	var out []model.ChannelState
	for rows.Next() {
		cs, err := scanChannelState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannelState(row rowScanner) (model.ChannelState, error) {
	var cs model.ChannelState
	var flowRegime, timeBucket string
	err := row.Scan(
		&cs.ChanID, &cs.PeerID, &cs.InboundVolumeMsat, &cs.OutboundVolumeMsat, &cs.NetFlowMsat,
		&cs.Imbalance, &flowRegime, &cs.HTLCCongestion, &cs.Congested, &timeBucket,
		&cs.LastFeePPM, &cs.LastBroadcastPPM, &cs.FailureRate, &cs.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return model.ChannelState{}, err
	}
	if err != nil {
		return model.ChannelState{}, fmt.Errorf("scan channel state: %w", err)
	}
	cs.FlowRegime = model.FlowRegime(flowRegime)
	cs.TimeBucket = model.TimeBucket(timeBucket)
	return cs, nil
}

// RecordFeeChange appends an immutable fee-change audit row.
func (s *Store) RecordFeeChange(chanID string, oldPPM, newPPM int64, reasonCode, heuristicModifiers string, now time.Time) error {
	_, err := s.conn.Exec(
		`INSERT INTO fee_changes (chan_id, old_fee_ppm, new_fee_ppm, reason_code, heuristic_modifiers, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		chanID, oldPPM, newPPM, reasonCode, heuristicModifiers, now,
	)
	if err != nil {
		return fmt.Errorf("insert fee change: %w", err)
	}
	return nil
}

// GetRecentFeeChanges returns fee-change rows for chanID newer than since.
func (s *Store) GetRecentFeeChanges(chanID string, since time.Time) ([]model.FeeAdjustment, error) {
	rows, err := s.conn.Query(
		`SELECT chan_id, old_fee_ppm, new_fee_ppm, reason_code, heuristic_modifiers, timestamp
		 FROM fee_changes WHERE chan_id = ? AND timestamp >= ? ORDER BY timestamp ASC`,
		chanID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query fee changes: %w", err)
	}
	defer rows.Close()
	var out []model.FeeAdjustment
	for rows.Next() {
		var fa model.FeeAdjustment
		var reasonCode, modifiers string
		if err := rows.Scan(&fa.ChanID, &fa.OldFeePPM, &fa.NewFeePPM, &reasonCode, &modifiers, &fa.Timestamp); err != nil {
			return nil, fmt.Errorf("scan fee change: %w", err)
		}
		fa.ReasonCode = model.FeeReasonCode(reasonCode)
		fa.HeuristicModifiersJSON = modifiers
		out = append(out, fa)
	}
	return out, rows.Err()
}

// RecordRebalance appends an immutable rebalance-attempt row.
func (s *Store) RecordRebalance(ev model.RebalanceEvent) error {
	_, err := s.conn.Exec(
		`INSERT INTO rebalances (from_channel, to_channel, amount_sats, fee_sats, success, reason_code, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.FromChannel, ev.ToChannel, ev.AmountSats, ev.FeeSats, ev.Success, ev.ReasonCode, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert rebalance: %w", err)
	}
	return nil
}

// GetRecentRebalances returns rebalance rows touching chanID (either side)
// newer than since, used for the bleeder cost windows and the admin
// rebalance history.
func (s *Store) GetRecentRebalances(chanID string, since time.Time) ([]model.RebalanceEvent, error) {
	rows, err := s.conn.Query(
		`SELECT id, from_channel, to_channel, amount_sats, fee_sats, success, reason_code, timestamp
		 FROM rebalances WHERE (from_channel = ? OR to_channel = ?) AND timestamp >= ?
		 ORDER BY timestamp ASC`,
		chanID, chanID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query rebalances: %w", err)
	}
	defer rows.Close()
	var out []model.RebalanceEvent
	for rows.Next() {
		var ev model.RebalanceEvent
		if err := rows.Scan(&ev.ID, &ev.FromChannel, &ev.ToChannel, &ev.AmountSats, &ev.FeeSats, &ev.Success, &ev.ReasonCode, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan rebalance: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RecordConnectionEvent appends an immutable peer connectivity row.
func (s *Store) RecordConnectionEvent(ev model.ConnectionEvent) error {
	_, err := s.conn.Exec(
		`INSERT INTO connection_events (peer_id, kind, timestamp) VALUES (?, ?, ?)`,
		ev.PeerID, string(ev.Kind), ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert connection event: %w", err)
	}
	return nil
}

// LoadAlgoState reads the versioned opaque state blob for a channel. The
// bool reports whether a row existed.
func (s *Store) LoadAlgoState(chanID string) (version int, blob string, ok bool, err error) {
	row := s.conn.QueryRow(`SELECT version, blob FROM algo_state WHERE chan_id = ?`, chanID)
	err = row.Scan(&version, &blob)
	if err == sql.ErrNoRows {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("load algo state: %w", err)
	}
	return version, blob, true, nil
}

// SaveAlgoState persists the versioned opaque state blob for a channel.
func (s *Store) SaveAlgoState(chanID string, version int, blob string, now time.Time) error {
	_, err := s.conn.Exec(
		`INSERT INTO algo_state (chan_id, version, blob, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chan_id) DO UPDATE SET version = excluded.version, blob = excluded.blob, updated_at = excluded.updated_at`,
		chanID, version, blob, now,
	)
	if err != nil {
		return fmt.Errorf("save algo state: %w", err)
	}
	return nil
}

// CleanupOldData deletes append-only rows older than the retention cutoff.
func (s *Store) CleanupOldData(cutoff time.Time) error {
	tables := []string{"forward_events", "fee_changes", "rebalances", "connection_events"}
	for _, t := range tables {
		if _, err := s.conn.Exec(fmt.Sprintf(`DELETE FROM %s WHERE timestamp < ?`, t), cutoff); err != nil {
			return fmt.Errorf("cleanup %s: %w", t, err)
		}
	}
	return nil
}

// cacheSCID lazily rebuilds the SCID->peer cache on write; PeerForSCID
// rebuilds it on miss, matching the "rebuilt on miss" note in §5.
func (s *Store) cacheSCID(chanID, peerID string) {
	s.scidCacheMu.Lock()
	s.scidCache[chanID] = peerID
	s.scidCacheMu.Unlock()
}

// PeerForSCID resolves a channel ID to its peer, consulting the in-process
// cache first and falling back to sqlite on a miss.
func (s *Store) PeerForSCID(chanID string) (string, error) {
	s.scidCacheMu.RLock()
	peerID, ok := s.scidCache[chanID]
	s.scidCacheMu.RUnlock()
	if ok {
		return peerID, nil
	}
	row := s.conn.QueryRow(`SELECT peer_id FROM channel_state WHERE chan_id = ?`, chanID)
	if err := row.Scan(&peerID); err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("no known peer for channel %s", chanID)
		}
		return "", fmt.Errorf("resolve peer for channel %s: %w", chanID, err)
	}
	s.cacheSCID(chanID, peerID)
	return peerID, nil
}
