// Package adminrpc exposes a small HTTP admin surface over the daemon's
// state and controllers, grounded in the teacher's dashboard-api command:
// the same gorilla/mux router, rs/cors wrapping, and APIResponse envelope.
package adminrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/brewgator/revenue-ops/internal/feecontroller"
	"github.com/brewgator/revenue-ops/internal/metrics"
	"github.com/brewgator/revenue-ops/internal/model"
	"github.com/brewgator/revenue-ops/internal/rebalancer"
)

// APIResponse mirrors the teacher's dashboard-api envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// stateStore is the subset of store.Store the admin surface reads.
type stateStore interface {
	GetAllChannelStates() ([]model.ChannelState, error)
	GetChannelState(chanID string) (model.ChannelState, error)
	GetRecentFeeChanges(chanID string, since time.Time) ([]model.FeeAdjustment, error)
	GetRecentRebalances(chanID string, since time.Time) ([]model.RebalanceEvent, error)
}

// feeSetter lets an operator force a fee write outside the normal cycle.
type feeSetter interface {
	Apply(ctx context.Context, adj model.FeeAdjustment) error
}

// Server is the admin HTTP API.
type Server struct {
	store    stateStore
	fees     feeSetter
	arbiter  *rebalancer.Arbiter
	router   *mux.Router
	origin   string
}

// New returns a Server wired to the daemon's store and controllers.
func New(store stateStore, fees feeSetter, arbiter *rebalancer.Arbiter, allowedOrigin string) *Server {
	s := &Server{store: store, fees: fees, arbiter: arbiter, router: mux.NewRouter(), origin: allowedOrigin}
	s.setupRoutes()
	return s
}

// Handler returns the CORS-wrapped router ready to pass to http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{s.origin},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(s.router)
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/rpc").Subrouter()

	api.HandleFunc("/channels", s.handleListChannelStates).Methods("GET")
	api.HandleFunc("/channels/{chan_id}", s.handleGetChannelState).Methods("GET")
	api.HandleFunc("/channels/{chan_id}/fee-history", s.handleFeeHistory).Methods("GET")
	api.HandleFunc("/channels/{chan_id}/rebalance-history", s.handleRebalanceHistory).Methods("GET")
	api.HandleFunc("/revenue-set-fee", s.handleSetFee).Methods("POST")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
}

func (s *Server) handleListChannelStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.store.GetAllChannelStates()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list channel states: %v", err))
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: states})
}

func (s *Server) handleGetChannelState(w http.ResponseWriter, r *http.Request) {
	chanID := mux.Vars(r)["chan_id"]
	state, err := s.store.GetChannelState(chanID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get channel state: %v", err))
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: state})
}

func (s *Server) handleFeeHistory(w http.ResponseWriter, r *http.Request) {
	chanID := mux.Vars(r)["chan_id"]
	days := parseDays(r, 30)
	since := time.Now().AddDate(0, 0, -days)
	changes, err := s.store.GetRecentFeeChanges(chanID, since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get fee history: %v", err))
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: changes})
}

func (s *Server) handleRebalanceHistory(w http.ResponseWriter, r *http.Request) {
	chanID := mux.Vars(r)["chan_id"]
	days := parseDays(r, 30)
	since := time.Now().AddDate(0, 0, -days)
	events, err := s.store.GetRecentRebalances(chanID, since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get rebalance history: %v", err))
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: events})
}

// setFeeRequest is the body for POST /rpc/revenue-set-fee.
type setFeeRequest struct {
	ChanID string `json:"chan_id"`
	FeePPM int64  `json:"fee_ppm"`
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	var req setFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChanID == "" {
		s.writeError(w, http.StatusBadRequest, "chan_id is required")
		return
	}

	adj := model.FeeAdjustment{
		ChanID:     req.ChanID,
		NewFeePPM:  req.FeePPM,
		ReasonCode: model.ReasonPolicyStatic,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.fees.Apply(r.Context(), adj); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to set fee: %v", err))
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: adj})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{Success: true, Data: map[string]string{"status": "ok"}})
}

func parseDays(r *http.Request, def int) int {
	daysStr := r.URL.Query().Get("days")
	if daysStr == "" {
		return def
	}
	d, err := strconv.Atoi(daysStr)
	if err != nil || d <= 0 || d > 365 {
		return def
	}
	return d
}

func (s *Server) writeJSON(w http.ResponseWriter, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: false, Error: msg})
}

// ensure feecontroller.Controller satisfies feeSetter at compile time.
var _ feeSetter = (*feecontroller.Controller)(nil)
