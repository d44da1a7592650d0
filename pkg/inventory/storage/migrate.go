package storage

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations
var embeddedMigrations embed.FS

// migrator builds a golang-migrate instance over the shared connection pool.
// The returned migrator must not be closed: closing it closes the *sql.DB.
func (s *SQLStorage) migrator() (*migrate.Migrate, error) {
	sub, err := fs.Sub(embeddedMigrations, "migrations/"+s.d.name)
	if err != nil {
		return nil, fmt.Errorf("マイグレーションの読み込みに失敗しました: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("マイグレーションソースの作成に失敗しました: %w", err)
	}

	var driver database.Driver
	switch s.d.name {
	case DriverPostgres:
		driver, err = postgres.WithInstance(s.db, &postgres.Config{})
	case DriverSQLite:
		driver, err = migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	default:
		return nil, fmt.Errorf("未対応のドライバーです: %s", s.d.name)
	}
	if err != nil {
		return nil, fmt.Errorf("マイグレーションドライバーの作成に失敗しました: %w", err)
	}

	return migrate.NewWithInstance("iofs", source, s.d.name, driver)
}

// MigrateUp applies every pending migration
// 未適用のマイグレーションをすべて適用
func (s *SQLStorage) MigrateUp() error {
	m, err := s.migrator()
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			s.logger.Debug("適用するマイグレーションはありません", zap.String("driver", s.d.name))
			return nil
		}
		return fmt.Errorf("マイグレーション適用に失敗しました: %w", err)
	}

	version, _, _ := m.Version()
	s.logger.Info("マイグレーション適用完了",
		zap.String("driver", s.d.name),
		zap.Uint("version", version),
	)
	return nil
}

// MigrateDown rolls back every applied migration
// 適用済みのマイグレーションをすべてロールバック
func (s *SQLStorage) MigrateDown() error {
	m, err := s.migrator()
	if err != nil {
		return err
	}

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("マイグレーションのロールバックに失敗しました: %w", err)
	}

	s.logger.Info("マイグレーションロールバック完了", zap.String("driver", s.d.name))
	return nil
}

// MigrationVersion reports the applied schema version. A database without
// any applied migration reports version 0.
// 適用済みスキーマバージョンを取得
func (s *SQLStorage) MigrationVersion() (version uint, dirty bool, err error) {
	m, err := s.migrator()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
