package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/JoeShih716/go-mem-economy/internal/app/core/adapter/in/httpapi"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/adapter/out/embedded"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/adapter/out/journal"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/adapter/out/networked"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/config"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/usecase"
	"github.com/JoeShih716/go-mem-economy/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. 載入設定
	settings, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load config")
	}
	holder := config.NewHolder(*configPath, settings)

	log := logger.New(settings.LogLevel, settings.LogFormat)

	// 2. 依設定選擇儲存後端 (變更後端需要重新啟動)
	backend, err := newBackend(settings.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage backend")
	}

	// 3. 初始化 Ledger
	opts := []usecase.Option{usecase.WithLogger(log)}
	if settings.JournalPath != "" {
		j, err := journal.Open(settings.JournalPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open journal")
		}
		opts = append(opts, usecase.WithJournal(j))
	}
	ledger := usecase.NewLedger(backend, holder, opts...)

	ctx := context.Background()
	if err := ledger.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start ledger")
	}
	log.Info().
		Str("backend", backend.Name()).
		Stringer("start_balance", settings.StartBalance).
		Dur("flush_interval", settings.FlushInterval()).
		Msg("Ledger started")

	// 4. 啟動 HTTP Server
	server := httpapi.NewServer(settings.HTTPAddr, httpapi.NewRouter(ledger, holder, log))
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// 5. SIGHUP 重新載入設定，SIGINT/SIGTERM 結束
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for sig := range signals {
		if sig != syscall.SIGHUP {
			log.Info().Stringer("signal", sig).Msg("Shutting down")
			break
		}
		reloaded, err := holder.Reload()
		if err != nil {
			log.Error().Err(err).Msg("Config reload failed, keeping previous settings")
			continue
		}
		ledger.ReloadSettings()
		log.Info().Dur("flush_interval", reloaded.FlushInterval()).Msg("Config reloaded")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	ledger.Shutdown(shutdownCtx)
	log.Info().Msg("Server exited")
}

func newBackend(db config.Database, log zerolog.Logger) (usecase.Backend, error) {
	if db.Type.Embedded() {
		return embedded.New(db, log), nil
	}
	return networked.New(db, log)
}
