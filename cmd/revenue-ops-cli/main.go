// Command revenue-ops-cli is a small terminal client for the revenue-ops
// daemon's admin RPC, styled after the teacher's channel-manager command:
// a flat subcommand switch over os.Args, plain HTTP+JSON calls, and a
// dashboard-style display of results.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type channelState struct {
	ChanID     string  `json:"chan_id"`
	PeerID     string  `json:"peer_id"`
	Imbalance  float64 `json:"imbalance"`
	FlowRegime string  `json:"flow_regime"`
	Congested  bool    `json:"congested"`
	LastFeePPM int64   `json:"last_fee_ppm"`
}

func main() {
	if len(os.Args) < 2 {
		showHelp()
		return
	}

	baseURL := envOr("REVENUE_OPS_ADMIN_URL", "http://127.0.0.1:9191")
	command := os.Args[1]

	switch command {
	case "channels", "ch":
		showChannels(baseURL)
	case "set-fee":
		if len(os.Args) < 4 {
			fmt.Println("usage: revenue-ops-cli set-fee <chan_id> <fee_ppm>")
			os.Exit(1)
		}
		setFee(baseURL, os.Args[2], os.Args[3])
	case "fee-history":
		if len(os.Args) < 3 {
			fmt.Println("usage: revenue-ops-cli fee-history <chan_id>")
			os.Exit(1)
		}
		showFeeHistory(baseURL, os.Args[2])
	case "health":
		showHealth(baseURL)
	default:
		showHelp()
	}
}

func showHelp() {
	fmt.Println("revenue-ops-cli - admin client for the revenue-ops daemon")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  channels                  Show current channel flow state")
	fmt.Println("  set-fee <chan_id> <ppm>   Force a fee to a specific value")
	fmt.Println("  fee-history <chan_id>     Show recent fee changes for a channel")
	fmt.Println("  health                    Check daemon health")
}

func showChannels(baseURL string) {
	var states []channelState
	if err := getJSON(baseURL+"/rpc/channels", &states); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get channels: %v\n", err)
		os.Exit(1)
	}

	if len(states) == 0 {
		fmt.Println("No channel state recorded yet")
		return
	}

	fmt.Println("\n⚡ Channel Flow Overview")
	fmt.Println(strings.Repeat("━", 70))
	for _, cs := range states {
		marker := "⚖️ "
		switch cs.FlowRegime {
		case "drain":
			marker = "🩸"
		case "sink":
			marker = "🪣"
		}
		congestFlag := ""
		if cs.Congested {
			congestFlag = " [congested]"
		}
		fmt.Printf("%s %-20s  imbalance %+.2f  fee %d ppm%s\n", marker, cs.ChanID, cs.Imbalance, cs.LastFeePPM, congestFlag)
	}
	fmt.Println(strings.Repeat("━", 70))
	fmt.Printf("📊 %d channels tracked\n\n", len(states))
}

func setFee(baseURL, chanID, feePPMStr string) {
	feePPM, err := strconv.ParseInt(feePPMStr, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid fee_ppm %q: %v\n", feePPMStr, err)
		os.Exit(1)
	}

	body, _ := json.Marshal(map[string]interface{}{"chan_id": chanID, "fee_ppm": feePPM})
	resp, err := http.Post(baseURL+"/rpc/revenue-set-fee", "application/json", strings.NewReader(string(body)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to decode response: %v\n", err)
		os.Exit(1)
	}
	if !parsed.Success {
		fmt.Fprintf(os.Stderr, "❌ Failed to set fee: %s\n", parsed.Error)
		os.Exit(1)
	}
	fmt.Printf("✅ Set %s to %d ppm\n", chanID, feePPM)
}

func showFeeHistory(baseURL, chanID string) {
	var changes []struct {
		OldFeePPM  int64     `json:"old_fee_ppm"`
		NewFeePPM  int64     `json:"new_fee_ppm"`
		ReasonCode string    `json:"reason_code"`
		Timestamp  time.Time `json:"timestamp"`
	}
	if err := getJSON(baseURL+"/rpc/channels/"+chanID+"/fee-history", &changes); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get fee history: %v\n", err)
		os.Exit(1)
	}

	if len(changes) == 0 {
		fmt.Println("No fee changes recorded for this channel")
		return
	}

	fmt.Printf("\n📈 Fee history for %s\n", chanID)
	for _, c := range changes {
		fmt.Printf("  %s  %d -> %d ppm  (%s)\n", c.Timestamp.Format("2006-01-02 15:04:05"), c.OldFeePPM, c.NewFeePPM, c.ReasonCode)
	}
}

func showHealth(baseURL string) {
	resp, err := http.Get(baseURL + "/rpc/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Daemon unreachable: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		fmt.Println("✅ Daemon healthy")
	} else {
		fmt.Printf("⚠️  Daemon returned status %d\n", resp.StatusCode)
	}
}

func getJSON(url string, out interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !parsed.Success {
		return fmt.Errorf("%s", parsed.Error)
	}
	if len(parsed.Data) == 0 {
		return nil
	}
	return json.Unmarshal(parsed.Data, out)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
