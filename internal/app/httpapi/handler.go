// Package httpapi is the REST adapter over the ledger engine. It translates
// requests into engine calls and error kinds into status codes; no business
// rules live here.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	app "github.com/pointgrid/pointsledger/internal/app"
	"github.com/pointgrid/pointsledger/internal/app/auth"
	"github.com/pointgrid/pointsledger/internal/app/domain/account"
	"github.com/pointgrid/pointsledger/internal/app/domain/ledger"
	"github.com/pointgrid/pointsledger/internal/app/metrics"
	"github.com/pointgrid/pointsledger/internal/app/services/accounts"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app     *app.Application
	authMgr *auth.Manager
	audit   *auditLog
}

// Options configures the HTTP surface.
type Options struct {
	AuthManager  *auth.Manager
	AuditMax     int
	AuditLogPath string
	RateLimitRPS int
	RateBurst    int
}

// NewHandler returns the fully wrapped REST API: metrics instrumentation,
// CORS, rate limiting, bearer auth and audit recording around the routes.
func NewHandler(application *app.Application, opts Options) (http.Handler, error) {
	sink, err := newFileAuditSink(opts.AuditLogPath)
	if err != nil {
		return nil, err
	}
	audit := newAuditLog(opts.AuditMax, sink)

	h := &handler{app: application, authMgr: opts.AuthManager, audit: audit}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", h.login)
	mux.HandleFunc("/accounts", h.accounts)
	mux.HandleFunc("/accounts/", h.accountByID)
	mux.HandleFunc("/points/earn", h.earn)
	mux.HandleFunc("/points/spend", h.spend)
	mux.HandleFunc("/points/transfer", h.transfer)
	mux.HandleFunc("/points/batch-earn", h.batchEarn)
	mux.HandleFunc("/points/history/", h.history)
	mux.HandleFunc("/points/stats/", h.stats)
	mux.HandleFunc("/audit", h.auditEntries)
	mux.HandleFunc("/healthz", h.health)
	mux.Handle("/metrics", metrics.Handler())

	var wrapped http.Handler = wrapWithAudit(mux, audit)
	wrapped = wrapWithAuth(wrapped, opts.AuthManager)
	wrapped = wrapWithRateLimit(wrapped, opts.RateLimitRPS, opts.RateBurst)
	wrapped = wrapWithCORS(wrapped)
	wrapped = metrics.InstrumentHandler(wrapped)
	return wrapped, nil
}

// --- auth -------------------------------------------------------------------

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	token, actor, err := h.authMgr.Login(payload.Username, payload.Password)
	if err != nil {
		writeFailure(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"token":      token,
		"account_id": actor.Subject,
		"role":       actor.Role,
	})
}

// --- accounts ---------------------------------------------------------------

func (h *handler) accounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			ID    string `json:"id"`
			Owner string `json:"owner"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		acct, err := h.app.Accounts.Create(r.Context(), payload.ID, payload.Owner)
		if err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusCreated, accountJSON(acct))

	case http.MethodGet:
		accts, err := h.app.Accounts.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]map[string]any, 0, len(accts))
		for _, acct := range accts {
			out = append(out, accountJSON(acct))
		}
		writeSuccess(w, http.StatusOK, out)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) accountByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/accounts"), "/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	acct, err := h.app.Ledger.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, accountJSON(acct))
}

// --- mutations --------------------------------------------------------------

func (h *handler) earn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actor, _ := actorFrom(r)

	var payload struct {
		AccountID   string `json:"account_id"`
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.app.Ledger.Earn(r.Context(), payload.AccountID, payload.Amount, payload.Description, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, mutationJSON(res))
}

func (h *handler) spend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actor, _ := actorFrom(r)

	var payload struct {
		AccountID   string `json:"account_id"`
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.app.Ledger.Spend(r.Context(), payload.AccountID, payload.Amount, payload.Description, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, mutationJSON(res))
}

func (h *handler) transfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actor, _ := actorFrom(r)

	var payload struct {
		FromAccountID string `json:"from_account_id"`
		ToAccountID   string `json:"to_account_id"`
		Amount        int64  `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.app.Ledger.Transfer(r.Context(), payload.FromAccountID, payload.ToAccountID, payload.Amount, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"correlation_id":  res.CorrelationID,
		"out_sequence_id": res.OutSequenceID,
		"in_sequence_id":  res.InSequenceID,
		"from_account_id": res.FromAccountID,
		"to_account_id":   res.ToAccountID,
		"from_balance":    res.FromBalance,
		"to_balance":      res.ToBalance,
	})
}

func (h *handler) batchEarn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actor, _ := actorFrom(r)

	var payload struct {
		AccountIDs  []string `json:"account_ids"`
		Amounts     []int64  `json:"amounts"`
		Description string   `json:"description"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.app.Ledger.BatchEarn(r.Context(), payload.AccountIDs, payload.Amounts, payload.Description, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		out = append(out, mutationJSON(res))
	}
	writeSuccess(w, http.StatusOK, out)
}

// --- reads ------------------------------------------------------------------

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/points/history"), "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	page, err := h.app.Ledger.GetHistory(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	entries := make([]map[string]any, 0, len(page.Entries))
	for _, e := range page.Entries {
		entries = append(entries, entryJSON(e))
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"total":        page.Total,
		"limit":        page.Limit,
		"offset":       page.Offset,
		"transactions": entries,
	})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/points/stats"), "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	st, err := h.app.Ledger.GetStats(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"current_balance": st.CurrentBalance,
		"total_earned":    st.TotalEarned,
		"total_spent":     st.TotalSpent,
		"earn_count":      st.EarnCount,
		"spend_count":     st.SpendCount,
	})
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actor, _ := actorFrom(r)
	if !actor.IsOwner() {
		writeFailure(w, http.StatusForbidden, "audit log requires the owner role")
		return
	}
	writeSuccess(w, http.StatusOK, h.audit.listLimit(queryInt(r, "limit", 0)))
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Ledger.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "store": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": "connected"})
}

// --- encoding helpers -------------------------------------------------------

func accountJSON(acct account.Account) map[string]any {
	return map[string]any{
		"id":         acct.ID,
		"owner":      acct.Owner,
		"balance":    acct.Balance,
		"created_at": acct.CreatedAt.Format(time.RFC3339),
	}
}

func mutationJSON(res ledger.MutationResult) map[string]any {
	return map[string]any{
		"sequence_id":    res.SequenceID,
		"account_id":     res.AccountID,
		"balance_before": res.BalanceBefore,
		"balance_after":  res.BalanceAfter,
	}
}

func entryJSON(e ledger.Entry) map[string]any {
	out := map[string]any{
		"sequence_id":   e.SequenceID,
		"account_id":    e.AccountID,
		"amount":        e.Amount,
		"kind":          string(e.Kind),
		"description":   e.Description,
		"balance_after": e.BalanceAfter,
		"created_at":    e.CreatedAt.Format(time.RFC3339),
	}
	if e.CorrelationID != "" {
		out["correlation_id"] = e.CorrelationID
		out["counterparty_id"] = e.CounterpartyID
	}
	return out
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

// writeError maps engine error kinds onto HTTP status codes and payloads.
func writeError(w http.ResponseWriter, err error) {
	var (
		invalid      *ledger.InvalidInputError
		insufficient *ledger.InsufficientBalanceError
	)
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "insufficient balance",
			"data": map[string]int64{
				"required":  insufficient.Required,
				"available": insufficient.Available,
				"shortage":  insufficient.Shortage(),
			},
		})
	case errors.As(err, &invalid):
		writeFailure(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrUnauthorized):
		writeFailure(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeFailure(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrSupplyExceeded):
		writeFailure(w, http.StatusConflict, err.Error())
	case errors.Is(err, accounts.ErrAlreadyExists):
		writeFailure(w, http.StatusConflict, err.Error())
	case ledger.IsTransient(err):
		writeFailure(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeFailure(w, http.StatusInternalServerError, err.Error())
	}
}
