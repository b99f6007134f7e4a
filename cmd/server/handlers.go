package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/splitsync/splitsync/internal/apperr"
	"github.com/splitsync/splitsync/internal/broadcast"
	"github.com/splitsync/splitsync/internal/calculator"
	"github.com/splitsync/splitsync/internal/identity"
	"github.com/splitsync/splitsync/internal/models"
	"github.com/splitsync/splitsync/internal/service"
)

// server is the thin JSON adapter over the typed services. Authentication is
// assumed to happen upstream; the caller identity arrives as a header.
type server struct {
	groups   *service.GroupService
	expenses *service.ExpenseService
	hub      *broadcast.Hub
}

func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/groups", s.handleCreateGroup)
	mux.HandleFunc("GET /v1/groups", s.handleListGroups)
	mux.HandleFunc("GET /v1/groups/{id}", s.handleGetGroup)
	mux.HandleFunc("PATCH /v1/groups/{id}", s.handleUpdateMetadata)
	mux.HandleFunc("PUT /v1/groups/{id}/settings", s.handleUpdateSettings)
	mux.HandleFunc("DELETE /v1/groups/{id}", s.handleDeleteGroup)
	mux.HandleFunc("POST /v1/groups/{id}/members", s.handleAddMember)
	mux.HandleFunc("DELETE /v1/groups/{id}/members/{userID}", s.handleRemoveMember)
	mux.HandleFunc("POST /v1/groups/join", s.handleJoinByInvite)
	mux.HandleFunc("GET /v1/groups/{id}/balances", s.handleGetBalances)
	mux.HandleFunc("GET /v1/groups/{id}/activity", s.handleGetActivity)
	mux.HandleFunc("GET /v1/groups/{id}/expenses", s.handleListExpenses)
	mux.HandleFunc("POST /v1/groups/{id}/expenses", s.handleCreateExpense)
	mux.HandleFunc("GET /v1/expenses/{id}", s.handleGetExpense)
	mux.HandleFunc("PUT /v1/expenses/{id}", s.handleUpdateExpense)
	mux.HandleFunc("DELETE /v1/expenses/{id}", s.handleDeleteExpense)
	mux.HandleFunc("POST /v1/expenses/{id}/settle", s.handleSettleExpense)
	mux.HandleFunc("POST /v1/expenses/{id}/settlements", s.handleAddSettlement)
	mux.HandleFunc("GET /v1/groups/{id}/events", s.handleEvents)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// identityMiddleware copies the upstream-authenticated user ID into the
// request context. Requests without one still reach the services, which
// reject them uniformly.
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := r.Header.Get("X-User-Id"); userID != "" {
			r = r.WithContext(identity.WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type shareDTO struct {
	UserID  string          `json:"user_id"`
	Amount  decimal.Decimal `json:"amount,omitempty"`
	Percent decimal.Decimal `json:"percent,omitempty"`
}

func toShareInputs(dtos []shareDTO) []calculator.ShareInput {
	inputs := make([]calculator.ShareInput, len(dtos))
	for i, d := range dtos {
		inputs[i] = calculator.ShareInput{UserID: d.UserID, Amount: d.Amount, Percent: d.Percent}
	}
	return inputs
}

type expenseRequest struct {
	Description  string             `json:"description"`
	Amount       decimal.Decimal    `json:"amount"`
	PayerID      string             `json:"payer_id"`
	SplitPolicy  models.SplitPolicy `json:"split_policy,omitempty"`
	Participants []shareDTO         `json:"participants"`
}

func (r expenseRequest) toInput(groupID string) service.ExpenseInput {
	return service.ExpenseInput{
		GroupID:      groupID,
		Description:  r.Description,
		Amount:       r.Amount,
		PayerID:      r.PayerID,
		SplitPolicy:  r.SplitPolicy,
		Participants: toShareInputs(r.Participants),
	}
}

type settlementRequest struct {
	FromUserID    string          `json:"from_user_id"`
	ToUserID      string          `json:"to_user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

func (r settlementRequest) toInput() service.SettlementInput {
	return service.SettlementInput{
		FromUserID:    r.FromUserID,
		ToUserID:      r.ToUserID,
		Amount:        r.Amount,
		Method:        r.Method,
		TransactionID: r.TransactionID,
	}
}

func (s *server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Settings    models.Settings `json:"settings"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	group, err := s.groups.CreateGroup(r.Context(), req.Name, req.Description, req.Settings)
	respond(w, group, err, http.StatusCreated)
}

func (s *server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.ListGroups(r.Context())
	respond(w, groups, err, http.StatusOK)
}

func (s *server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.groups.GetGroup(r.Context(), r.PathValue("id"))
	respond(w, group, err, http.StatusOK)
}

func (s *server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	group, err := s.groups.UpdateMetadata(r.Context(), r.PathValue("id"), req.Name, req.Description)
	respond(w, group, err, http.StatusOK)
}

func (s *server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req models.Settings
	if !decodeJSON(w, r, &req) {
		return
	}
	group, err := s.groups.UpdateSettings(r.Context(), r.PathValue("id"), req)
	respond(w, group, err, http.StatusOK)
}

func (s *server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	err := s.groups.DeleteGroup(r.Context(), r.PathValue("id"))
	respond(w, nil, err, http.StatusNoContent)
}

func (s *server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string      `json:"user_id"`
		Role   models.Role `json:"role,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	group, err := s.groups.AddMember(r.Context(), r.PathValue("id"), req.UserID, req.Role)
	respond(w, group, err, http.StatusOK)
}

func (s *server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	group, err := s.groups.RemoveMember(r.Context(), r.PathValue("id"), r.PathValue("userID"))
	respond(w, group, err, http.StatusOK)
}

func (s *server) handleJoinByInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	group, err := s.groups.JoinByInvite(r.Context(), req.Token)
	respond(w, group, err, http.StatusOK)
}

func (s *server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.groups.GetBalances(r.Context(), r.PathValue("id"))
	respond(w, balances, err, http.StatusOK)
}

func (s *server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	records, err := s.groups.GetActivity(r.Context(), r.PathValue("id"), page, limit)
	respond(w, records, err, http.StatusOK)
}

func (s *server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.expenses.ListExpenses(r.Context(), r.PathValue("id"))
	respond(w, expenses, err, http.StatusOK)
}

func (s *server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	expense, err := s.expenses.CreateExpense(r.Context(), req.toInput(r.PathValue("id")))
	respond(w, expense, err, http.StatusCreated)
}

func (s *server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := s.expenses.GetExpense(r.Context(), r.PathValue("id"))
	respond(w, expense, err, http.StatusOK)
}

func (s *server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	expense, err := s.expenses.UpdateExpense(r.Context(), r.PathValue("id"), req.toInput(""))
	respond(w, expense, err, http.StatusOK)
}

func (s *server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	err := s.expenses.DeleteExpense(r.Context(), r.PathValue("id"))
	respond(w, nil, err, http.StatusNoContent)
}

func (s *server) handleSettleExpense(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Settlements []settlementRequest `json:"settlements,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	inputs := make([]service.SettlementInput, len(req.Settlements))
	for i, sr := range req.Settlements {
		inputs[i] = sr.toInput()
	}
	expense, err := s.expenses.SettleExpense(r.Context(), r.PathValue("id"), inputs)
	respond(w, expense, err, http.StatusOK)
}

func (s *server) handleAddSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	expense, err := s.expenses.AddSettlement(r.Context(), r.PathValue("id"), req.toInput())
	respond(w, expense, err, http.StatusOK)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, apperr.Validation(apperr.CodeInvalidArgument, "invalid request body: %v", err))
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func respond(w http.ResponseWriter, body any, err error, status int) {
	if err != nil {
		writeError(w, err)
		return
	}
	if body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindInvalidState:
		status = http.StatusConflict
	case apperr.KindConflict:
		status = http.StatusTooManyRequests
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"kind":    kind.String(),
			"code":    apperr.CodeOf(err),
			"message": err.Error(),
		},
	})
}
