package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiLedger/internal/config"
	"github.com/nemonet1337/zaiLedger/internal/logging"
	"github.com/nemonet1337/zaiLedger/pkg/inventory"
	"github.com/nemonet1337/zaiLedger/pkg/inventory/storage"
)

func main() {
	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}

	// ログ設定
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	// ストレージ接続
	store, err := storage.Open(cfg.Database.Driver, cfg.DSN(), logger)
	if err != nil {
		logger.Fatal("ストレージ接続に失敗しました",
			zap.String("driver", cfg.Database.Driver),
			zap.Error(err),
		)
	}
	defer store.Close()

	// SQLiteは接続時に適用済みのため、ここではPostgreSQLが対象
	if sqlStore, ok := store.(*storage.SQLStorage); ok && cfg.Database.AutoMigrate {
		if err := sqlStore.MigrateUp(); err != nil {
			logger.Fatal("マイグレーション適用に失敗しました", zap.Error(err))
		}
	}

	// メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := inventory.NewMetrics(registry)

	// 在庫マネージャー初期化
	manager := inventory.NewManager(store, metrics, logger, cfg.ManagerConfig())

	// HTTPハンドラー設定
	handlers := NewHandlers(manager, logger)
	options := routerOptions{EnableCORS: cfg.API.EnableCORS}
	if cfg.API.EnableMetrics {
		options.Registry = registry
	}
	router := setupRouter(handlers, options)

	// HTTPサーバー設定
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	// グレースフルシャットダウン設定
	go func() {
		logger.Info("在庫台帳APIサーバーを開始します",
			zap.Int("port", cfg.API.Port),
			zap.String("driver", cfg.Database.Driver),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("サーバー開始に失敗しました", zap.Error(err))
		}
	}()

	// シャットダウンシグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています...")

	// グレースフルシャットダウン
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("サーバーシャットダウンに失敗しました", zap.Error(err))
	}

	logger.Info("サーバーが正常に停止しました")
}
