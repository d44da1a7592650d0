package main

import (
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/nemonet1337/zaiLedger/internal/config"
	"github.com/nemonet1337/zaiLedger/internal/logging"
	"github.com/nemonet1337/zaiLedger/pkg/inventory/storage"
)

const usage = "使い方: migrate [up|down|version]"

func main() {
	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	logger.Info("zaiLedger マイグレーション実行ツール", zap.String("driver", cfg.Database.Driver))

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if err := run(command, cfg, logger); err != nil {
		logger.Fatal("マイグレーション実行に失敗しました",
			zap.String("command", command),
			zap.Error(err),
		)
	}
}

// run opens the configured SQL storage and executes one migration command
// 設定されたSQLストレージを開きマイグレーションコマンドを実行
func run(command string, cfg *config.Config, logger *zap.Logger) error {
	var (
		store *storage.SQLStorage
		err   error
	)
	switch cfg.Database.Driver {
	case storage.DriverPostgres:
		store, err = storage.NewPostgreSQLStorage(cfg.DSN(), logger)
	case storage.DriverSQLite:
		store, err = storage.NewSQLiteStorage(cfg.DSN(), logger)
	default:
		return fmt.Errorf("マイグレーション対象外のドライバーです: %s", cfg.Database.Driver)
	}
	if err != nil {
		return err
	}
	defer store.Close()

	switch command {
	case "up":
		if err := store.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := store.MigrateDown(); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("不明なコマンドです: %s (%s)", command, usage)
	}

	version, dirty, err := store.MigrationVersion()
	if err != nil {
		return fmt.Errorf("バージョン取得に失敗しました: %w", err)
	}
	logger.Info("現在のスキーマバージョン",
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}
