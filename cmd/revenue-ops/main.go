// Command revenue-ops is the daemon that runs the flow-analysis, fee, and
// rebalance decision loops against a running Core Lightning node, wiring
// together the store, host RPC client, analyzers, controllers, hive
// bridge, scheduler, metrics, and admin RPC server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/brewgator/revenue-ops/internal/adminrpc"
	"github.com/brewgator/revenue-ops/internal/automanager"
	"github.com/brewgator/revenue-ops/internal/config"
	"github.com/brewgator/revenue-ops/internal/feecontroller"
	"github.com/brewgator/revenue-ops/internal/flowanalyzer"
	"github.com/brewgator/revenue-ops/internal/hivebridge"
	"github.com/brewgator/revenue-ops/internal/hostrpc"
	"github.com/brewgator/revenue-ops/internal/metrics"
	"github.com/brewgator/revenue-ops/internal/model"
	"github.com/brewgator/revenue-ops/internal/profitability"
	"github.com/brewgator/revenue-ops/internal/rebalancer"
	"github.com/brewgator/revenue-ops/internal/scheduler"
	"github.com/brewgator/revenue-ops/internal/store"
	"github.com/brewgator/revenue-ops/internal/thompson"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the daemon's YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, flag.Args())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open state database: %v", err)
	}
	defer db.Close()

	rpc := hostrpc.NewClient(cfg.LightningCLIPath, 30*time.Second)
	manager := automanager.New(rpc)
	flows := flowanalyzer.New()
	fees := feecontroller.New(toFeeControllerConfig(cfg), rpc, manager)
	arbiter := rebalancer.New(toRebalancerConfig(cfg))

	var bridge *hivebridge.Bridge
	if cfg.HiveEnabled {
		bridge = hivebridge.New(nil, nil, 30*time.Minute, 24*time.Hour)
		log.Printf("revenue-ops: hive bridge enabled, endpoint=%s", cfg.HiveEndpoint)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loops := []scheduler.LoopConfig{
		{
			Name:     "flow",
			Interval: cfg.FlowLoop(),
			Jitter:   10 * time.Second,
			Job: func(ctx context.Context, now time.Time) error {
				return runFlowCycle(ctx, rpc, db, flows, now)
			},
		},
		{
			Name:     "fee",
			Interval: cfg.FeeLoop(),
			Jitter:   30 * time.Second,
			Job: func(ctx context.Context, now time.Time) error {
				return runFeeCycle(ctx, rpc, db, fees, bridge, cfg, now)
			},
		},
	}
	if cfg.RebalanceEnabled {
		loops = append(loops, scheduler.LoopConfig{
			Name:     "rebalance",
			Interval: cfg.RebalanceLoop(),
			Jitter:   15 * time.Second,
			Job: func(ctx context.Context, now time.Time) error {
				return runRebalanceCycle(ctx, rpc, db, arbiter, now)
			},
		})
	}

	sched := scheduler.New(loops, time.Now().UnixNano())

	admin := adminrpc.New(db, fees, arbiter, cfg.AllowedOrigin)
	go func() {
		log.Printf("revenue-ops: admin RPC listening on %s", cfg.AdminRPCAddr)
		if err := http.ListenAndServe(cfg.AdminRPCAddr, admin.Handler()); err != nil {
			log.Printf("revenue-ops: admin RPC server stopped: %v", err)
		}
	}()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Printf("revenue-ops: metrics listening on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("revenue-ops: metrics server stopped: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go sched.Run(ctx)

	<-sigChan
	fmt.Println("Received shutdown signal, exiting...")
	cancel()
}

func toFeeControllerConfig(cfg config.Config) feecontroller.Config {
	c := feecontroller.DefaultConfig()
	c.FloorPPM = cfg.FloorPPM
	c.CeilingPPM = cfg.CeilingPPM
	c.MinWaitTime = cfg.MinWaitTime()
	c.YoungChannelDays = cfg.YoungChannelDays
	c.YoungChannelCapPPM = cfg.YoungChannelCapPPM
	c.HighVolatilityThresh = cfg.HighVolatilityThresh
	c.HighFailureThreshold = cfg.HighFailureThreshold
	return c
}

func toRebalancerConfig(cfg config.Config) rebalancer.Config {
	c := rebalancer.DefaultConfig()
	c.MaxFeeRate = cfg.MaxFeeRate
	c.MaxFeeAbsoluteSats = cfg.MaxFeeAbsoluteSats
	c.MinAmountSats = cfg.MinAmountSats
	c.MaxAmountSats = cfg.MaxAmountSats
	c.TargetRatio = cfg.TargetRatio
	c.DailyBudgetSats = cfg.DailyBudgetSats
	c.WalletReserveSats = cfg.WalletReserveSats
	c.Cooldown = cfg.Cooldown()
	c.RebalanceMinProfit = cfg.RebalanceMinProfit
	if cfg.EnableKelly {
		c.KellyFraction = cfg.KellyFraction
	}
	return c
}

// runFlowCycle refreshes derived channel state for every known channel.
func runFlowCycle(ctx context.Context, rpc *hostrpc.Client, db *store.Store, flows *flowanalyzer.Analyzer, now time.Time) error {
	channels, err := rpc.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	forwards, err := rpc.ListForwards(ctx, "")
	if err != nil {
		return fmt.Errorf("list forwards: %w", err)
	}

	for _, ch := range channels {
		cs := flows.Update(ch, forwards, 0, 0, now)
		if err := db.UpsertChannelState(cs); err != nil {
			log.Printf("revenue-ops: failed to persist channel state for %s: %v", ch.ChanID, err)
		}
	}
	return nil
}

// runFeeCycle runs the fee decision cycle for every channel configured
// with a non-passive policy.
func runFeeCycle(ctx context.Context, rpc *hostrpc.Client, db *store.Store, fees *feecontroller.Controller, bridge *hivebridge.Bridge, cfg config.Config, now time.Time) error {
	channels, err := rpc.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}

	if bridge != nil {
		metrics.HiveBridgeState.Set(metrics.CircuitStateValue(string(bridge.BreakerState())))
	}

	for _, ch := range channels {
		policy := cfg.PolicyFor(ch.ChanID)
		if policy.Policy == "passive" || policy.Policy == "" {
			continue
		}

		cs, err := db.GetChannelState(ch.ChanID)
		if err != nil {
			cs = model.ChannelState{ChanID: ch.ChanID, PeerID: ch.PeerID}
		}

		win7d := loadWindow(db, ch.ChanID, now.AddDate(0, 0, -7))
		win30d := loadWindow(db, ch.ChanID, now.AddDate(0, 0, -30))
		bleeder := profitability.Classify(ch.ChanID, ch.PeerID, win7d, win30d)

		version, blob, ok, err := db.LoadAlgoState(ch.ChanID)
		var algoState *thompson.ThompsonAIMDState
		if ok && err == nil {
			algoState, _ = thompson.FromV2JSON([]byte(blob), thompson.LegacyEnvelope{})
		} else {
			algoState = thompson.NewThompsonAIMDState()
		}
		_ = version

		timeSinceLastWrite := 24 * time.Hour
		if recent, err := db.GetRecentFeeChanges(ch.ChanID, now.AddDate(0, 0, -7)); err == nil && len(recent) > 0 {
			timeSinceLastWrite = now.Sub(recent[len(recent)-1].Timestamp)
		}

		reputation, err := db.GetPeerReputation(ch.PeerID)
		if err != nil {
			log.Printf("revenue-ops: failed to load peer reputation for %s: %v", ch.PeerID, err)
		}

		adj := fees.Decide(feecontroller.Input{
			Channel:              ch,
			ChannelState:         cs,
			Policy:               feecontroller.Policy(policy.Policy),
			StaticFeePPM:         policy.StaticFeePPM,
			Bleeder:              bleeder,
			AlgoState:            algoState,
			AgeDays:              ch.AgeDays,
			CyclesSinceLastWrite: 1,
			TimeSinceLastWrite:   timeSinceLastWrite,
			PeerReputationScore:  reputation.Score,
			Now:                  now,
		})

		metrics.FeeAdjustmentsTotal.WithLabelValues(string(adj.ReasonCode)).Inc()

		if adj.NewFeePPM != adj.OldFeePPM {
			if err := fees.Apply(ctx, adj); err != nil {
				log.Printf("revenue-ops: failed to apply fee adjustment for %s: %v", ch.ChanID, err)
				continue
			}
			metrics.FeeBroadcastsTotal.Inc()
			if err := db.RecordFeeChange(adj.ChanID, adj.OldFeePPM, adj.NewFeePPM, string(adj.ReasonCode), adj.HeuristicModifiersJSON, now); err != nil {
				log.Printf("revenue-ops: failed to record fee change for %s: %v", ch.ChanID, err)
			}
		}

		if blob2, err := algoState.ToV2JSON(); err == nil {
			if err := db.SaveAlgoState(ch.ChanID, 2, string(blob2), now); err != nil {
				log.Printf("revenue-ops: failed to save algo state for %s: %v", ch.ChanID, err)
			}
		}
	}
	return nil
}

func loadWindow(db *store.Store, chanID string, since time.Time) profitability.Window {
	rebalances, err := db.GetRecentRebalances(chanID, since)
	if err != nil {
		return profitability.Window{}
	}
	var cost int64
	for _, r := range rebalances {
		if r.FromChannel == chanID {
			cost += r.FeeSats
		}
	}
	return profitability.Window{RebalanceCostSats: cost}
}

// runRebalanceCycle evaluates drain/sink candidate pairs across all known
// channels and executes the EV-positive proposals.
func runRebalanceCycle(ctx context.Context, rpc *hostrpc.Client, db *store.Store, arbiter *rebalancer.Arbiter, now time.Time) error {
	states, err := db.GetAllChannelStates()
	if err != nil {
		return fmt.Errorf("list channel states: %w", err)
	}
	channels, err := rpc.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	byID := make(map[string]model.Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ChanID] = ch
	}

	var drains, sinks []model.ChannelState
	for _, cs := range states {
		switch cs.FlowRegime {
		case model.RegimeDrain:
			drains = append(drains, cs)
		case model.RegimeSink:
			sinks = append(sinks, cs)
		}
	}

	for _, from := range drains {
		fromCh, ok := byID[from.ChanID]
		if !ok {
			continue
		}
		for _, to := range sinks {
			toCh, ok := byID[to.ChanID]
			if !ok {
				continue
			}
			fromWin7d := loadWindow(db, fromCh.ChanID, now.AddDate(0, 0, -7))
			fromWin30d := loadWindow(db, fromCh.ChanID, now.AddDate(0, 0, -30))
			fromBleeder := profitability.Classify(fromCh.ChanID, fromCh.PeerID, fromWin7d, fromWin30d)

			toWin7d := loadWindow(db, toCh.ChanID, now.AddDate(0, 0, -7))
			toWin30d := loadWindow(db, toCh.ChanID, now.AddDate(0, 0, -30))
			toBleeder := profitability.Classify(toCh.ChanID, toCh.PeerID, toWin7d, toWin30d)

			pair := rebalancer.CandidatePair{
				From: fromCh, To: toCh, FromState: from, ToState: to,
				FromBleeder: fromBleeder, ToBleeder: toBleeder,
			}
			proposal := arbiter.Evaluate(pair, now)
			metrics.RebalancesTotal.WithLabelValues(string(proposal.ReasonCode)).Inc()
			if proposal.ReasonCode != rebalancer.ReasonEVPositive {
				continue
			}
			ev, err := rebalancer.Execute(ctx, rpc, proposal)
			if err != nil {
				log.Printf("revenue-ops: rebalance %s->%s failed: %v", fromCh.ChanID, toCh.ChanID, err)
			}
			metrics.RebalanceSpendSats.Add(float64(ev.FeeSats))
			if err := db.RecordRebalance(ev); err != nil {
				log.Printf("revenue-ops: failed to record rebalance: %v", err)
			}
		}
	}
	return nil
}
