package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-mem-economy/internal/app/core/domain"
)

const (
	defaultTopLimit = 10
	maxTopLimit     = 100
	maxBodyBytes    = 1 << 16
)

// Handler 將 HTTP request 轉成 Ledger 呼叫
type Handler struct {
	ledger   Ledger
	settings Settings
	log      zerolog.Logger
}

// NewHandler 建立 Handler
func NewHandler(ledger Ledger, settings Settings, log zerolog.Logger) *Handler {
	return &Handler{ledger: ledger, settings: settings, log: log}
}

// --- request / response ---

// amountValue 同時接受 JSON 字串與數字，格式檢查交給 domain.ParseAmount
type amountValue string

func (a *amountValue) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amountValue(s)
		return nil
	}
	*a = amountValue(b)
	return nil
}

type amountRequest struct {
	Amount amountValue `json:"amount"`
}

type transferRequest struct {
	From   string      `json:"from"`
	To     string      `json:"to"`
	Amount amountValue `json:"amount"`
}

type resultResponse struct {
	Status  domain.Status    `json:"status"`
	Balance *decimal.Decimal `json:"balance,omitempty"`
}

type balanceResponse struct {
	Account  uuid.UUID       `json:"account"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

type entryResponse struct {
	Account uuid.UUID       `json:"account"`
	Balance decimal.Decimal `json:"balance"`
}

type statsResponse struct {
	Total    decimal.Decimal `json:"total"`
	Accounts int64           `json:"accounts"`
	Currency string          `json:"currency"`
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// httpStatus 驗證失敗 422，後端錯誤 503
func httpStatus(s domain.Status) int {
	switch s {
	case domain.StatusSuccess:
		return http.StatusOK
	case domain.StatusDatabaseError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeResult(w http.ResponseWriter, r domain.Result) {
	resp := resultResponse{Status: r.Status}
	if r.HasBalance {
		balance := r.Balance
		resp.Balance = &balance
	}
	writeJSON(w, httpStatus(r.Status), resp)
}

func accountFromPath(r *http.Request) (uuid.UUID, error) {
	return domain.ParseAccountID(chi.URLParam(r, "id"))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// --- handlers ---

// GetBalance handles GET /accounts/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := accountFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Account:  id,
		Balance:  h.ledger.GetBalance(r.Context(), id),
		Currency: h.settings.Current().CurrencySymbol,
	})
}

// GetAccount handles GET /accounts/{id}，帳戶不存在時回傳 404 且不建立帳戶
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.ledger.HasBalance(r.Context(), id) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": id, "exists": true})
}

// SetBalance handles PUT /accounts/{id}/balance
func (h *Handler) SetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := accountFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req amountRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, status := domain.ParseValue(string(req.Amount))
	if status != domain.StatusSuccess {
		writeResult(w, domain.Failed(status))
		return
	}
	writeResult(w, h.ledger.SetBalance(r.Context(), id, value))
}

// Deposit handles POST /accounts/{id}/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.amountOperation(w, r, h.ledger.Deposit)
}

// Withdraw handles POST /accounts/{id}/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.amountOperation(w, r, h.ledger.Withdraw)
}

func (h *Handler) amountOperation(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id uuid.UUID, amount decimal.Decimal) domain.Result,
) {
	id, err := accountFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req amountRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, status := domain.ParseAmount(string(req.Amount))
	if status != domain.StatusSuccess {
		writeResult(w, domain.Failed(status))
		return
	}
	writeResult(w, op(r.Context(), id, amount))
}

// Transfer handles POST /transfers
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := domain.ParseAccountID(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	to, err := domain.ParseAccountID(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}

	// 同帳戶要比金額檢查更早回報
	if from == to {
		writeResult(w, domain.Failed(domain.StatusSameAccount))
		return
	}
	amount, status := domain.ParseAmount(string(req.Amount))
	if status != domain.StatusSuccess {
		writeResult(w, domain.Failed(status))
		return
	}
	writeResult(w, h.ledger.Transfer(r.Context(), from, to, amount))
}

// DeleteAccount handles DELETE /accounts/{id}
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.ledger.DeleteBalance(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// EvictAccount handles DELETE /accounts/{id}/cache
func (h *Handler) EvictAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.ledger.EvictFromCache(id)
	w.WriteHeader(http.StatusNoContent)
}

// Top handles GET /top?limit=N
func (h *Handler) Top(w http.ResponseWriter, r *http.Request) {
	limit := defaultTopLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxTopLimit)
	}

	entries := h.ledger.TopBalances(r.Context(), limit)
	out := make([]entryResponse, len(entries))
	for i, e := range entries {
		out[i] = entryResponse{Account: e.AccountID, Balance: e.Balance}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// Stats handles GET /stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Total:    h.ledger.TotalBalance(r.Context()),
		Accounts: h.ledger.PlayerCount(r.Context()),
		Currency: h.settings.Current().CurrencySymbol,
	})
}

// Flush handles POST /admin/flush
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.FlushPendingWrites(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("Manual flush failed")
		writeError(w, http.StatusServiceUnavailable, "flush failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pending": h.ledger.PendingCount()})
}

// Reload handles POST /admin/reload
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Reload()
	if err != nil {
		h.log.Error().Err(err).Msg("Config reload failed, keeping previous settings")
		writeError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	h.ledger.ReloadSettings()
	writeJSON(w, http.StatusOK, map[string]any{
		"save_interval": s.SaveInterval,
		"currency":      s.CurrencySymbol,
	})
}
