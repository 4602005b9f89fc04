// Package api provides HTTP handlers for the prompt exchange API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mossfit/spc/internal/board"
	"github.com/mossfit/spc/internal/settle"
	"github.com/mossfit/spc/internal/store"
)

// Handler serves the submission and read endpoints.
type Handler struct {
	settlement     *settle.Service
	projector      *board.Projector
	ledger         store.Ledger
	defaultBalance int64
}

// NewHandler creates a Handler with its dependencies. defaultBalance is the
// starting balance for accounts provisioned without an explicit one.
func NewHandler(settlement *settle.Service, projector *board.Projector, ledger store.Ledger, defaultBalance int64) *Handler {
	return &Handler{
		settlement:     settlement,
		projector:      projector,
		ledger:         ledger,
		defaultBalance: defaultBalance,
	}
}

// RegisterRoutes mounts the API routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/defense/submit", h.SubmitDefense)
	r.Post("/api/attack/submit", h.SubmitAttack)
	r.Get("/api/leaderboard", h.Leaderboard)
	r.Get("/api/dashboard/leaderboard", h.Leaderboard)
	r.Get("/api/dashboard/metrics", h.Metrics)
	r.Post("/api/accounts", h.CreateAccount)
	r.Get("/api/accounts/{id}", h.GetAccount)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps pipeline errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settle.ErrValidation):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrAccountNotFound), errors.Is(err, store.ErrDefenseNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInsufficientFunds):
		Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, settle.ErrEvaluation):
		Error(w, http.StatusBadGateway, "evaluation unavailable")
	default:
		slog.Error("request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

type defenseRequest struct {
	AccountID string `json:"account_id"`
	Text      string `json:"prompt_text"`
}

// SubmitDefense accepts a defense prompt submission.
func (h *Handler) SubmitDefense(w http.ResponseWriter, r *http.Request) {
	var req defenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	defense, err := h.settlement.SubmitDefense(r.Context(), settle.DefenseSubmission{
		AccountID: req.AccountID,
		Text:      req.Text,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Defense prompt submitted successfully.",
		"defense_id": defense.ID,
	})
}

type attackRequest struct {
	AttackerID string `json:"attacker_id"`
	DefenseID  int64  `json:"defense_id"`
	Text       string `json:"prompt_text"`
}

// SubmitAttack accepts an attack prompt submission and returns the judgment.
func (h *Handler) SubmitAttack(w http.ResponseWriter, r *http.Request) {
	var req attackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.settlement.SubmitAttack(r.Context(), settle.AttackSubmission{
		AttackerID: req.AttackerID,
		DefenseID:  req.DefenseID,
		Text:       req.Text,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Attack prompt submitted and evaluated.",
		"attack_id":  result.AttackID,
		"successful": result.Successful,
		"response":   result.Response,
		"flagged":    result.Flagged,
	})
}

// Leaderboard returns all accounts ranked by balance.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.projector.Leaderboard(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []board.Entry{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}

// Metrics returns the aggregate dashboard counters.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.projector.Metrics(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, metrics)
}

type accountRequest struct {
	Username string `json:"username"`
	Balance  *int64 `json:"balance,omitempty"`
}

// CreateAccount provisions an account. This is the external provisioning
// edge used by the seeder, not part of the settlement pipeline.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" {
		Error(w, http.StatusBadRequest, "username is required")
		return
	}

	balance := h.defaultBalance
	if req.Balance != nil {
		balance = *req.Balance
	}

	account, err := h.ledger.CreateAccount(r.Context(), req.Username, balance)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	JSON(w, http.StatusCreated, account)
}

// GetAccount returns one account by id.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, account)
}
