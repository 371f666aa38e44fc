package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantbelt/orbgate/internal/config"
	"github.com/quantbelt/orbgate/internal/database"
	"github.com/quantbelt/orbgate/internal/engine"
	"github.com/quantbelt/orbgate/internal/metrics"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DASHBOARD - Local HTTP surface for monitoring and control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Read endpoints serve snapshots; nothing here touches live trading
// state directly. The two write endpoints are the kill switch and the
// strategy update, both forwarded to the engine.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Server struct {
	engine *engine.Engine
	db     *database.Database
	logs   *LogBuffer
	srv    *http.Server
}

func NewServer(cfg config.DashboardConfig, eng *engine.Engine, db *database.Database, logs *LogBuffer) *Server {
	s := &Server{engine: eng, db: db, logs: logs}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/positions", s.handlePositions)
	mux.HandleFunc("/trades", s.handleTrades)
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/killswitch", s.handleKillSwitch)
	mux.HandleFunc("/config", s.handleConfig)
	mux.Handle("/metrics", metrics.Handler())

	s.srv = &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Stop. Listen failures are logged, not fatal; the
// engine trades fine without the dashboard.
func (s *Server) Start() {
	go func() {
		log.Info().Str("listen", s.srv.Addr).Msg("📊 Dashboard listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Dashboard server failed")
		}
	}()
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// positionView is the JSON shape of one live position.
type positionView struct {
	Symbol       string  `json:"symbol"`
	State        string  `json:"state"`
	Size         int64   `json:"size"`
	EntryPrice   string  `json:"entry_price"`
	EntryTime    string  `json:"entry_time,omitempty"`
	ExitSignal   string  `json:"exit_signal,omitempty"`
	TargetPct    float64 `json:"target_profit_pct"`
	StopLossPct  float64 `json:"stop_loss_pct"`
	PartialTaken bool    `json:"partial_profit_taken"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	positions := s.engine.Positions()
	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		v := positionView{
			Symbol:       p.Symbol,
			State:        string(p.State),
			Size:         p.Size,
			EntryPrice:   p.EntryPrice.StringFixed(0),
			ExitSignal:   string(p.ExitSignal),
			TargetPct:    p.Risk.TargetProfitPct,
			StopLossPct:  p.Risk.StopLossPct,
			PartialTaken: p.PartialProfitTaken,
		}
		if !p.EntryTime.IsZero() {
			v.EntryTime = p.EntryTime.Format(time.RFC3339)
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.db == nil {
		writeJSON(w, http.StatusOK, []database.Trade{})
		return
	}
	trades, err := s.db.RecentTrades(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.logs.Lines())
}

func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	log.Warn().Str("remote", r.RemoteAddr).Msg("🚨 Kill switch requested via dashboard")
	s.engine.ActivateKillSwitch(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.engine.State())})
}

// handleConfig swaps the live strategy record. The update applies to
// future entries only; open positions keep their locked risk params.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var next config.StrategyConfig
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.engine.UpdateStrategy(next); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, next)
}
