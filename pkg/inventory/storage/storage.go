package storage

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nemonet1337/zaiLedger/pkg/inventory"
)

// Supported storage drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Open creates the storage backend named by driver. For postgres dsn is a
// connection string, for sqlite it is a file path; memory ignores it.
// ドライバー名に応じたストレージを作成
func Open(driver, dsn string, logger *zap.Logger) (inventory.Storage, error) {
	var (
		storage *SQLStorage
		err     error
	)
	switch driver {
	case DriverPostgres:
		storage, err = NewPostgreSQLStorage(dsn, logger)
	case DriverSQLite:
		storage, err = NewSQLiteStorage(dsn, logger)
	case DriverMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("未対応のストレージドライバーです: %s", driver)
	}
	if err != nil {
		return nil, err
	}
	return storage, nil
}
