// Package api exposes competitions over HTTP and WebSocket.
//
// Handlers translate JSON requests into competition operations and map the
// competition error kinds onto status codes. Trades are journaled to the
// store after the matching lock is released; a journal failure is logged
// and never undoes a match.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/competition"
	"github.com/atmx/arena-engine/internal/instrument"
	"github.com/atmx/arena-engine/internal/metrics"
	"github.com/atmx/arena-engine/internal/model"
	"github.com/atmx/arena-engine/internal/store"
)

const journalTimeout = 5 * time.Second

// Service handles competition requests.
type Service struct {
	registry *competition.Registry
	store    store.Store
	hub      *Hub // optional
}

// NewService creates a new API service.
// Pass nil for hub if streaming is not needed.
func NewService(reg *competition.Registry, st store.Store, hub *Hub) *Service {
	return &Service{
		registry: reg,
		store:    st,
		hub:      hub,
	}
}

// Register mounts every competition route on r.
func (s *Service) Register(r chi.Router) {
	r.Get("/competitions", s.ListCompetitions)
	r.Post("/competitions", s.CreateCompetition)
	r.Get("/history/competitions", s.CompetitionHistory)

	r.Route("/competitions/{competitionID}", func(r chi.Router) {
		r.Get("/", s.GetCompetition)
		r.Post("/join", s.Join)
		r.Post("/orders", s.SubmitOrder)
		r.Delete("/orders/{orderID}", s.CancelOrder)
		r.Get("/orderbook", s.GetOrderBook)
		r.Get("/leaderboard", s.GetLeaderboard)
		r.Get("/participants", s.ListParticipants)
		r.Get("/participants/{userID}", s.GetParticipant)
		r.Get("/participants/{userID}/orders", s.GetOpenOrders)
		r.Get("/trades", s.GetTrades)
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}
	})
}

// --- Request/Response types ---

// InstrumentRequest lists one instrument in a new competition. Zero tick
// and lot sizes take the instrument defaults.
type InstrumentRequest struct {
	Symbol       string          `json:"symbol"`
	InitialPrice decimal.Decimal `json:"initial_price"`
	TickSize     decimal.Decimal `json:"tick_size"`
	LotSize      int64           `json:"lot_size"`
}

// CreateCompetitionRequest is the JSON body for competition creation.
type CreateCompetitionRequest struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	StartTime       *time.Time          `json:"start_time"`       // nil → now
	DurationMinutes int                 `json:"duration_minutes"` // 0 → registry default
	MaxParticipants int                 `json:"max_participants"`
	Instruments     []InstrumentRequest `json:"instruments"` // empty → AAPL, GOOGL
}

// JoinRequest is the JSON body for POST /join.
type JoinRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// JoinResponse reports whether the user is now a participant.
type JoinResponse struct {
	Joined bool   `json:"joined"`
	Reason string `json:"reason,omitempty"`
}

// OrderRequest is the JSON body for POST /orders.
type OrderRequest struct {
	UserID   string          `json:"user_id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"` // "BUY" or "SELL"
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// OrderResponse is returned from POST /orders.
type OrderResponse struct {
	OrderID string        `json:"order_id"`
	Status  string        `json:"status"` // filled, partial, resting
	Order   model.Order   `json:"order"`
	Trades  []model.Trade `json:"trades"`
}

// CancelResponse reports the outcome of a cancel request.
type CancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	Reason    string `json:"reason,omitempty"`
}

// --- Competitions ---

// CreateCompetition handles POST /api/v1/competitions.
func (s *Service) CreateCompetition(w http.ResponseWriter, r *http.Request) {
	var req CreateCompetitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DurationMinutes < 0 {
		writeError(w, "duration_minutes must not be negative", http.StatusBadRequest)
		return
	}
	if req.MaxParticipants < 0 {
		writeError(w, "max_participants must not be negative", http.StatusBadRequest)
		return
	}

	insts := make([]instrument.Instrument, 0, len(req.Instruments))
	for _, ir := range req.Instruments {
		inst, err := instrument.New(ir.Symbol, ir.InitialPrice)
		if ir.TickSize.IsPositive() {
			inst.TickSize = ir.TickSize
		}
		if ir.LotSize > 0 {
			inst.LotSize = ir.LotSize
		}
		if err == nil {
			err = inst.Validate()
		}
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		insts = append(insts, inst)
	}

	cfg := competition.Config{
		ID:              req.ID,
		Name:            req.Name,
		Instruments:     insts,
		MaxParticipants: req.MaxParticipants,
	}
	if req.StartTime != nil {
		cfg.StartTime = *req.StartTime
	}
	if req.DurationMinutes > 0 {
		start := cfg.StartTime
		if start.IsZero() {
			start = time.Now()
			cfg.StartTime = start
		}
		cfg.EndTime = start.Add(time.Duration(req.DurationMinutes) * time.Minute)
	}

	comp, err := s.registry.Create(cfg)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	info := comp.Info()

	ctx, cancel := journalContext(r.Context())
	defer cancel()
	if err := s.store.CreateCompetition(ctx, info); err != nil {
		slog.Error("journal competition failed", "competition", info.ID, "err", err)
		metrics.JournalErrors.Inc()
	}

	slog.Info("competition created",
		"competition", info.ID,
		"name", info.Name,
		"symbols", info.Symbols,
		"end_time", info.EndTime,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(info)
}

// ListCompetitions handles GET /api/v1/competitions.
func (s *Service) ListCompetitions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.registry.List())
}

// CompetitionHistory handles GET /api/v1/history/competitions, which lists
// every competition the journal has recorded, including earlier runs.
func (s *Service) CompetitionHistory(w http.ResponseWriter, r *http.Request) {
	comps, err := s.store.ListCompetitions(r.Context())
	if err != nil {
		slog.Error("list journaled competitions failed", "err", err)
		writeError(w, "failed to list competitions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, comps)
}

// GetCompetition handles GET /api/v1/competitions/{competitionID}.
func (s *Service) GetCompetition(w http.ResponseWriter, r *http.Request) {
	comp, ok := s.competition(w, r)
	if !ok {
		return
	}
	writeJSON(w, comp.Info())
}

// Join handles POST /api/v1/competitions/{competitionID}/join. Duplicate
// and over-capacity joins are reported as joined=false, not as errors.
func (s *Service) Join(w http.ResponseWriter, r *http.Request) {
	comp, ok := s.competition(w, r)
	if !ok {
		return
	}

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	err := comp.Join(req.UserID, req.DisplayName)
	switch {
	case err == nil:
		metrics.ParticipantsTotal.Inc()
		writeJSON(w, JoinResponse{Joined: true})
	case errors.Is(err, competition.ErrDuplicateParticipant), errors.Is(err, competition.ErrCapacityExceeded):
		writeJSON(w, JoinResponse{Joined: false, Reason: err.Error()})
	default:
		writeError(w, err.Error(), statusFor(err))
	}
}

// --- Orders ---

// SubmitOrder handles POST /api/v1/competitions/{competitionID}/orders.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "competitionID")
	comp, err := s.registry.Get(id)
	if err != nil {
		// Submitting to an unknown competition is reported as not active.
		metrics.OrdersTotal.WithLabelValues("unknown", "rejected").Inc()
		writeError(w, "competition not active: "+id, http.StatusConflict)
		return
	}

	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		metrics.OrdersTotal.WithLabelValues("unknown", "rejected").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	exec, err := comp.PlaceOrder(competition.OrderRequest{
		UserID:   req.UserID,
		Symbol:   req.Symbol,
		Side:     side,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	metrics.MatchLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(string(side), "rejected").Inc()
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.OrdersTotal.WithLabelValues(string(side), "accepted").Inc()

	if len(exec.Trades) > 0 {
		for _, t := range exec.Trades {
			metrics.TradesTotal.WithLabelValues(string(t.AggressorSide)).Inc()
			metrics.TradeVolume.WithLabelValues(t.Symbol).Add(float64(t.Quantity))
		}
		s.journal(r.Context(), exec.Trades)
		if s.hub != nil {
			s.hub.PublishTrades(comp.ID(), exec.Trades)
		}
	}

	writeJSON(w, OrderResponse{
		OrderID: exec.Order.ID,
		Status:  orderStatus(exec.Order),
		Order:   exec.Order,
		Trades:  nonNil(exec.Trades),
	})
}

// CancelOrder handles DELETE /api/v1/competitions/{competitionID}/orders/{orderID}?user_id=.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	comp, ok := s.competition(w, r)
	if !ok {
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	orderID := chi.URLParam(r, "orderID")

	if err := comp.CancelOrder(orderID, userID); err != nil {
		metrics.CancelsTotal.WithLabelValues("rejected").Inc()
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			writeError(w, err.Error(), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(CancelResponse{Cancelled: false, Reason: err.Error()})
		return
	}
	metrics.CancelsTotal.WithLabelValues("cancelled").Inc()
	writeJSON(w, CancelResponse{Cancelled: true})
}

// --- Queries ---

// GetOrderBook handles GET /api/v1/competitions/{competitionID}/orderbook.
func (s *Service) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	comp, ok := s.competition(w, r)
	if !ok {
		return
	}
	snap, err := comp.Snapshot(0)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, snap)
}

// GetLeaderboard handles GET /api/v1/competitions/{competitionID}/leaderboard.
// An unknown competition yields an empty board.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	comp, err := s.registry.Get(chi.URLParam(r, "competitionID"))
	if err != nil {
		writeJSON(w, []any{})
		return
	}
	board, err := comp.Leaderboard()
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, board)
}

// ListParticipants handles GET /api/v1/competitions/{competitionID}/participants.
func (s *Service) ListParticipants(w http.ResponseWriter, r *http.Request) {
	comp, ok := s.competition(w, r)
	if !ok {
		return
	}
	ps, err := comp.Participants()
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, ps)
}

// GetParticipant handles GET /api/v1/competitions/{competitionID}/participants/{userID}.
func (s *Service) GetParticipant(w http.ResponseWriter, r *http.Request) {
	comp, ok := s.competition(w, r)
	if !ok {
		return
	}
	state, err := comp.ParticipantState(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, state)
}

// GetOpenOrders handles GET /api/v1/competitions/{competitionID}/participants/{userID}/orders.
func (s *Service) GetOpenOrders(w http.ResponseWriter, r *http.Request) {
	comp, ok := s.competition(w, r)
	if !ok {
		return
	}
	orders, err := comp.OpenOrders(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, orders)
}

// GetTrades handles GET /api/v1/competitions/{competitionID}/trades from
// the journal. Optional query parameters: user_id, limit.
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	comp, ok := s.competition(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var trades []model.Trade
	var err error
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		trades, err = s.store.GetTradesByUser(r.Context(), comp.ID(), userID)
		if err == nil && limit > 0 && len(trades) > limit {
			trades = trades[len(trades)-limit:]
		}
	} else {
		trades, err = s.store.GetTradesByCompetition(r.Context(), comp.ID(), limit)
	}
	if err != nil {
		slog.Error("load trade history failed", "competition", comp.ID(), "err", err)
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	writeJSON(w, nonNil(trades))
}

// --- Helpers ---

// competition resolves the {competitionID} URL parameter, writing a 404
// when it is unknown.
func (s *Service) competition(w http.ResponseWriter, r *http.Request) (*competition.Competition, bool) {
	comp, err := s.registry.Get(chi.URLParam(r, "competitionID"))
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return comp, true
}

func (s *Service) journal(ctx context.Context, trades []model.Trade) {
	ctx, cancel := journalContext(ctx)
	defer cancel()
	if err := s.store.InsertTrades(ctx, trades); err != nil {
		slog.Error("journal trades failed",
			"competition", trades[0].CompetitionID,
			"count", len(trades),
			"err", err,
		)
		metrics.JournalErrors.Inc()
	}
}

// journalContext outlives a disconnected client: the trades already happened.
func journalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), journalTimeout)
}

// statusFor maps competition error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, competition.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, competition.ErrNotActive):
		return http.StatusConflict
	case errors.Is(err, competition.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, competition.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, competition.ErrAlreadyExists),
		errors.Is(err, competition.ErrDuplicateParticipant),
		errors.Is(err, competition.ErrCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, competition.ErrHalted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func orderStatus(o model.Order) string {
	switch {
	case o.IsFilled():
		return "filled"
	case o.FilledQuantity > 0:
		return "partial"
	}
	return "resting"
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// writeJSON writes v as a 200 JSON response.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
