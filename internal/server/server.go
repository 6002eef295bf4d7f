package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/visualcue/engine/internal/config"
	"github.com/visualcue/engine/internal/history"
	"github.com/visualcue/engine/internal/rules"
	"github.com/visualcue/engine/internal/trace"
	"github.com/visualcue/engine/internal/trigger"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type CommandMessage struct {
	Type  string `json:"type"`
	Combo string `json:"combo,omitempty"`
	Area  string `json:"area,omitempty"`
	Chord string `json:"chord,omitempty"`
	Name  string `json:"name,omitempty"`
}

type RuleMessage struct {
	Type      string  `json:"type"`
	Rule      string  `json:"rule"`
	Armed     bool    `json:"armed"`
	Matching  bool    `json:"matching"`
	TextFound *bool   `json:"text_found,omitempty"`
	Percent   float64 `json:"percent"`
	ElapsedMS int64   `json:"elapsed_ms"`
	TotalMS   int64   `json:"total_ms"`
	Fired     bool    `json:"fired"`
	Error     string  `json:"error,omitempty"`
}

type ComboMessage struct {
	Type        string `json:"type"`
	Combo       string `json:"combo"`
	Run         string `json:"run"`
	Step        int    `json:"step"`
	Total       int    `json:"total"`
	RemainingMS int64  `json:"remaining_ms"`
	Done        bool   `json:"done"`
}

type StatusMessage struct {
	Type       string `json:"type"`
	Active     bool   `json:"active"`
	IntervalMS int64  `json:"interval_ms"`
	Rules      int    `json:"rules"`
	LastPassMS int64  `json:"last_pass_ms"`
	Passes     uint64 `json:"passes"`
}

type RuleInfo struct {
	Name      string  `json:"name"`
	Armed     bool    `json:"armed"`
	Method    string  `json:"method"`
	Threshold float64 `json:"threshold"`
	Target    string  `json:"target"`
}

type RulesMessage struct {
	Type   string     `json:"type"`
	Rules  []RuleInfo `json:"rules"`
	Areas  []string   `json:"areas"`
	Combos []string   `json:"combos"`
}

type AckMessage struct {
	Type string `json:"type"`
	Of   string `json:"of"`
	Run  string `json:"run,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	mgr        *trigger.Manager
	hist       *history.Store
	cfg        *config.Config
	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a server and starts the broadcast pumps.
func New(mgr *trigger.Manager, hist *history.Store, cfg *config.Config) *Server {
	s := &Server{
		mgr:        mgr,
		hist:       hist,
		cfg:        cfg,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}

	go s.broadcastRuleUpdates()
	go s.broadcastComboUpdates()
	go s.broadcastStatusUpdates()

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/monitoring/start", s.handleMonitoringStart)
	mux.HandleFunc("POST /api/monitoring/stop", s.handleMonitoringStop)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var cmd CommandMessage
		if err := json.Unmarshal(msg, &cmd); err != nil {
			continue
		}
		ctx, _ := trace.EnsureContext(baseCtx)
		s.handleCommand(ctx, conn, cmd)
	}
}

func (s *Server) handleCommand(ctx context.Context, conn *websocket.Conn, cmd CommandMessage) {
	ctx, span := trace.StartSpan(ctx, "ws_command")
	defer span.End()
	log := trace.Logger(ctx)

	switch cmd.Type {
	case "start":
		// Detach: monitoring must outlive this websocket connection.
		s.mgr.StartMonitoring(context.WithoutCancel(ctx), s.cfg.PollInterval)
		_ = wsjson.Write(ctx, conn, AckMessage{Type: "ack", Of: "start"})

	case "stop":
		s.mgr.StopMonitoring()
		_ = wsjson.Write(ctx, conn, AckMessage{Type: "ack", Of: "stop"})

	case "trigger":
		runID, err := s.mgr.TriggerCombo(ctx, cmd.Combo)
		if err != nil {
			_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: err.Error()})
			return
		}
		_ = wsjson.Write(ctx, conn, AckMessage{Type: "ack", Of: "trigger", Run: runID})

	case "read":
		if err := s.mgr.DispatchTarget(ctx, rules.Target{Kind: rules.TargetArea, Name: cmd.Area}); err != nil {
			_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: err.Error()})
			return
		}
		_ = wsjson.Write(ctx, conn, AckMessage{Type: "ack", Of: "read"})

	case "hotkey":
		if err := s.mgr.PressHotkey(ctx, cmd.Chord); err != nil {
			_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: err.Error()})
			return
		}
		_ = wsjson.Write(ctx, conn, AckMessage{Type: "ack", Of: "hotkey"})

	case "run":
		if err := s.mgr.DispatchNamed(ctx, cmd.Name); err != nil {
			_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: err.Error()})
			return
		}
		_ = wsjson.Write(ctx, conn, AckMessage{Type: "ack", Of: "run"})

	case "rules":
		_ = wsjson.Write(ctx, conn, s.rulesMessage())

	default:
		log.Debug("unknown command", "type", cmd.Type)
	}
}

func (s *Server) broadcastRuleUpdates() {
	for u := range s.mgr.RuleUpdates() {
		msg := RuleMessage{
			Type:      "rule",
			Rule:      u.Name,
			Armed:     u.Result.Armed,
			Matching:  u.Result.Matching,
			TextFound: u.Result.TextFound,
			Percent:   u.Result.Percent,
			ElapsedMS: u.Result.Elapsed.Milliseconds(),
			TotalMS:   u.Result.Total.Milliseconds(),
			Fired:     u.Result.Fired,
		}
		if u.Err != nil {
			msg.Error = u.Err.Error()
		}
		s.broadcast(msg)
	}
}

func (s *Server) broadcastComboUpdates() {
	for p := range s.mgr.ComboUpdates() {
		s.broadcast(ComboMessage{
			Type:        "combo",
			Combo:       p.Combo,
			Run:         p.RunID,
			Step:        p.Step,
			Total:       p.Total,
			RemainingMS: p.Remaining.Milliseconds(),
			Done:        p.Done,
		})
	}
}

func (s *Server) broadcastStatusUpdates() {
	for st := range s.mgr.StatusUpdates() {
		s.broadcast(StatusMessage{
			Type:       "status",
			Active:     st.Active,
			IntervalMS: st.Interval.Milliseconds(),
			Rules:      st.Rules,
			LastPassMS: st.LastDuration.Milliseconds(),
			Passes:     st.Passes,
		})
	}
}

func (s *Server) broadcast(msg any) {
	s.mu.RLock()
	for conn := range s.conns {
		go func(c *websocket.Conn) {
			_ = wsjson.Write(context.Background(), c, msg)
		}(conn)
	}
	s.mu.RUnlock()
}

// rulesMessage snapshots the registry for the "rules" command.
func (s *Server) rulesMessage() RulesMessage {
	store := s.mgr.Store()

	msg := RulesMessage{Type: "rules"}
	for _, r := range store.Rules() {
		msg.Rules = append(msg.Rules, RuleInfo{
			Name:      r.Name,
			Armed:     r.Armed(),
			Method:    r.Method.String(),
			Threshold: r.Threshold,
			Target:    r.Target.Kind.String() + ":" + r.Target.Name,
		})
	}
	for _, a := range store.Areas() {
		msg.Areas = append(msg.Areas, a.Name)
	}
	for _, c := range store.Combos() {
		msg.Combos = append(msg.Combos, c.Name)
	}
	return msg
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.mgr.Status()
	_ = json.NewEncoder(w).Encode(map[string]any{
		"active":       st.Polling.Active,
		"interval_ms":  st.Polling.Interval.Milliseconds(),
		"last_pass_ms": st.Polling.LastDuration.Milliseconds(),
		"passes":       st.Polling.Passes,
		"armed_rules":  st.ArmedRules,
		"rules":        st.Rules,
		"combos":       st.Combos,
		"areas":        st.Areas,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	limit := HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := s.hist.Recent(r.Context(), limit)
	if err != nil {
		trace.Logger(r.Context()).Error("history query failed", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(events)
}

func (s *Server) handleMonitoringStart(w http.ResponseWriter, r *http.Request) {
	s.mgr.StartMonitoring(context.WithoutCancel(r.Context()), s.cfg.PollInterval)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "monitoring_started"})
}

func (s *Server) handleMonitoringStop(w http.ResponseWriter, _ *http.Request) {
	s.mgr.StopMonitoring()
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "monitoring_stopped"})
}
