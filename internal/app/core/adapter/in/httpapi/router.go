package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-mem-economy/internal/app/core/config"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/domain"
)

// Ledger HTTP 層需要的帳務操作
type Ledger interface {
	GetBalance(ctx context.Context, id uuid.UUID) decimal.Decimal
	HasBalance(ctx context.Context, id uuid.UUID) bool
	Deposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) domain.Result
	Withdraw(ctx context.Context, id uuid.UUID, amount decimal.Decimal) domain.Result
	SetBalance(ctx context.Context, id uuid.UUID, value decimal.Decimal) domain.Result
	Transfer(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal) domain.Result
	DeleteBalance(ctx context.Context, id uuid.UUID)
	EvictFromCache(id uuid.UUID)
	TopBalances(ctx context.Context, limit int) []domain.BalanceEntry
	TotalBalance(ctx context.Context) decimal.Decimal
	PlayerCount(ctx context.Context) int64
	FlushPendingWrites(ctx context.Context) error
	PendingCount() int
	ReloadSettings()
}

// Settings 設定快照來源，Reload 重新讀取設定檔
type Settings interface {
	Current() *config.Settings
	Reload() (*config.Settings, error)
}

// NewRouter 建立註冊所有 API 的 chi Router
func NewRouter(ledger Ledger, settings Settings, log zerolog.Logger) http.Handler {
	h := NewHandler(ledger, settings, log)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/accounts/{id}", func(r chi.Router) {
		r.Get("/", h.GetAccount)
		r.Delete("/", h.DeleteAccount)
		r.Get("/balance", h.GetBalance)
		r.Put("/balance", h.SetBalance)
		r.Post("/deposit", h.Deposit)
		r.Post("/withdraw", h.Withdraw)
		r.Delete("/cache", h.EvictAccount)
	})
	r.Post("/transfers", h.Transfer)
	r.Get("/top", h.Top)
	r.Get("/stats", h.Stats)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/flush", h.Flush)
		r.Post("/reload", h.Reload)
	})

	return r
}

// NewServer 建立帶逾時設定的 *http.Server
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// requestLogger 每個 request 結束時記錄一行
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			evt := log.Debug()
			if status >= http.StatusInternalServerError {
				evt = log.Warn()
			}
			evt.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("took", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("HTTP request")
		})
	}
}
