package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var sqliteDialect = &dialect{
	name:     DriverSQLite,
	rebind:   rebindNumbered,
	classify: classifySQLite,
}

// NewSQLiteStorage opens (or creates) a SQLite database file and applies the
// embedded migrations. Use ":memory:" for a throwaway database.
// SQLiteデータベースを開き、組み込みマイグレーションを適用
func NewSQLiteStorage(path string, logger *zap.Logger) (*SQLStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
	}

	// SQLiteは単一接続で運用する
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースpingに失敗しました: %w", err)
	}

	storage := newSQLStorage(db, sqliteDialect, logger)
	if err := storage.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

func classifySQLite(err error) errorClass {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return classOther
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return classUnique
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return classForeignKey
	}

	// 拡張エラーコードが無効な場合はメッセージで判定
	if sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		msg := sqliteErr.Error()
		switch {
		case strings.Contains(msg, "FOREIGN KEY"):
			return classForeignKey
		case strings.Contains(msg, "UNIQUE"):
			return classUnique
		}
	}
	return classOther
}
