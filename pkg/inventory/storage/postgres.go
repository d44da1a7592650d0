package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgreSQL error codes
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

var postgresDialect = &dialect{
	name:     DriverPostgres,
	rebind:   func(query string) string { return query },
	classify: classifyPostgres,
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
// 新しいPostgreSQLストレージインスタンスを作成
func NewPostgreSQLStorage(dsn string, logger *zap.Logger) (*SQLStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
	}

	// 接続テスト
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースpingに失敗しました: %w", err)
	}

	// 接続プール設定
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLStorage(db, postgresDialect, logger), nil
}

func classifyPostgres(err error) errorClass {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return classOther
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		return classUnique
	case pqForeignKeyViolation:
		return classForeignKey
	default:
		return classOther
	}
}
