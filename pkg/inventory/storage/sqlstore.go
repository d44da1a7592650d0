// Package storage provides the persistence backends of the stock ledger
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/zaiLedger/pkg/inventory"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// errorClass is the driver-independent category of a constraint failure
type errorClass int

const (
	classOther errorClass = iota
	classUnique
	classForeignKey
)

// dialect captures what differs between SQL backends
type dialect struct {
	name     string
	rebind   func(query string) string
	classify func(err error) errorClass
}

var numberedPlaceholder = regexp.MustCompile(`\$(\d+)`)

// rebindNumbered rewrites $N placeholders to SQLite's ?N form.
func rebindNumbered(query string) string {
	return numberedPlaceholder.ReplaceAllString(query, "?$1")
}

// sqlStore implements inventory.Store over a querier
// querier上でinventory.Storeを実装
type sqlStore struct {
	q querier
	d *dialect
}

// SQLStorage implements the Storage interface on database/sql
// database/sqlを使用したStorageインターフェースの実装
type SQLStorage struct {
	*sqlStore
	db     *sql.DB
	logger *zap.Logger
}

var _ inventory.Storage = (*SQLStorage)(nil)

func newSQLStorage(db *sql.DB, d *dialect, logger *zap.Logger) *SQLStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStorage{
		sqlStore: &sqlStore{q: db, d: d},
		db:       db,
		logger:   logger,
	}
}

// DB returns the underlying connection pool
func (s *SQLStorage) DB() *sql.DB {
	return s.db
}

// Driver returns the dialect name ("postgres" or "sqlite")
func (s *SQLStorage) Driver() string {
	return s.d.name
}

// Atomic runs fn inside a database transaction
// データベーストランザクション内でfnを実行
func (s *SQLStorage) Atomic(ctx context.Context, fn func(tx inventory.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.NewStorageError("begin", "トランザクション開始に失敗しました", err)
	}

	if err := fn(&sqlStore{q: tx, d: s.d}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("ロールバックに失敗しました", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return inventory.NewStorageError("commit", "トランザクションのコミットに失敗しました", err)
	}
	return nil
}

// Ping checks database connectivity
// データベース接続をチェック
func (s *SQLStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return inventory.NewStorageError("ping", "データベースpingに失敗しました", err)
	}
	return nil
}

// Close closes the database connection
// データベース接続を閉じる
func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.d.rebind(query), args...)
}

// CreateProduct creates a new product record
// 新しい商品記録を作成
func (s *sqlStore) CreateProduct(ctx context.Context, product *inventory.Product) error {
	query := `
		INSERT INTO products (product_id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.exec(ctx, query,
		product.ID,
		product.Name,
		product.Description,
		product.CreatedAt.UTC(),
		product.UpdatedAt.UTC(),
	)
	if err != nil {
		if s.d.classify(err) == classUnique {
			return inventory.NewConflictError(inventory.EntityProduct, product.ID)
		}
		return inventory.NewStorageError("create_product", "商品作成に失敗しました", err)
	}

	return nil
}

// GetProduct retrieves a product by ID
// IDで商品を取得
func (s *sqlStore) GetProduct(ctx context.Context, productID string) (*inventory.Product, error) {
	query := `
		SELECT product_id, name, description, created_at, updated_at
		FROM products
		WHERE product_id = $1`

	product := &inventory.Product{}
	err := s.queryRow(ctx, query, productID).Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.NewNotFoundError(inventory.EntityProduct, productID)
		}
		return nil, inventory.NewStorageError("get_product", "商品取得に失敗しました", err)
	}

	product.CreatedAt = product.CreatedAt.UTC()
	product.UpdatedAt = product.UpdatedAt.UTC()
	return product, nil
}

// UpdateProduct updates an existing product record
// 既存の商品記録を更新
func (s *sqlStore) UpdateProduct(ctx context.Context, product *inventory.Product) error {
	query := `
		UPDATE products
		SET name = $2, description = $3, updated_at = $4
		WHERE product_id = $1`

	result, err := s.exec(ctx, query, product.ID, product.Name, product.Description, product.UpdatedAt.UTC())
	if err != nil {
		return inventory.NewStorageError("update_product", "商品更新に失敗しました", err)
	}
	return expectAffected(result, "update_product", inventory.EntityProduct, product.ID)
}

// DeleteProduct deletes a product record
// 商品記録を削除
func (s *sqlStore) DeleteProduct(ctx context.Context, productID string) error {
	result, err := s.exec(ctx, `DELETE FROM products WHERE product_id = $1`, productID)
	if err != nil {
		if s.d.classify(err) == classForeignKey {
			return inventory.NewReferencedError(inventory.EntityProduct, productID, 0)
		}
		return inventory.NewStorageError("delete_product", "商品削除に失敗しました", err)
	}
	return expectAffected(result, "delete_product", inventory.EntityProduct, productID)
}

// ListProducts retrieves all products ordered by ID
// 全商品をID順に取得
func (s *sqlStore) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	query := `
		SELECT product_id, name, description, created_at, updated_at
		FROM products
		ORDER BY product_id`

	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, inventory.NewStorageError("list_products", "商品一覧取得に失敗しました", err)
	}
	defer rows.Close()

	products := []inventory.Product{}
	for rows.Next() {
		var product inventory.Product
		err := rows.Scan(
			&product.ID,
			&product.Name,
			&product.Description,
			&product.CreatedAt,
			&product.UpdatedAt,
		)
		if err != nil {
			return nil, inventory.NewStorageError("list_products", "商品スキャンに失敗しました", err)
		}
		product.CreatedAt = product.CreatedAt.UTC()
		product.UpdatedAt = product.UpdatedAt.UTC()
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, inventory.NewStorageError("list_products", "商品一覧取得に失敗しました", err)
	}

	return products, nil
}

// CreateLocation creates a new location record
// 新しいロケーション記録を作成
func (s *sqlStore) CreateLocation(ctx context.Context, location *inventory.Location) error {
	query := `
		INSERT INTO locations (location_id, name, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.exec(ctx, query,
		location.ID,
		location.Name,
		location.Address,
		location.CreatedAt.UTC(),
		location.UpdatedAt.UTC(),
	)
	if err != nil {
		if s.d.classify(err) == classUnique {
			return inventory.NewConflictError(inventory.EntityLocation, location.ID)
		}
		return inventory.NewStorageError("create_location", "ロケーション作成に失敗しました", err)
	}

	return nil
}

// GetLocation retrieves a location by ID
// IDでロケーションを取得
func (s *sqlStore) GetLocation(ctx context.Context, locationID string) (*inventory.Location, error) {
	query := `
		SELECT location_id, name, address, created_at, updated_at
		FROM locations
		WHERE location_id = $1`

	location := &inventory.Location{}
	err := s.queryRow(ctx, query, locationID).Scan(
		&location.ID,
		&location.Name,
		&location.Address,
		&location.CreatedAt,
		&location.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.NewNotFoundError(inventory.EntityLocation, locationID)
		}
		return nil, inventory.NewStorageError("get_location", "ロケーション取得に失敗しました", err)
	}

	location.CreatedAt = location.CreatedAt.UTC()
	location.UpdatedAt = location.UpdatedAt.UTC()
	return location, nil
}

// UpdateLocation updates an existing location record
// 既存のロケーション記録を更新
func (s *sqlStore) UpdateLocation(ctx context.Context, location *inventory.Location) error {
	query := `
		UPDATE locations
		SET name = $2, address = $3, updated_at = $4
		WHERE location_id = $1`

	result, err := s.exec(ctx, query, location.ID, location.Name, location.Address, location.UpdatedAt.UTC())
	if err != nil {
		return inventory.NewStorageError("update_location", "ロケーション更新に失敗しました", err)
	}
	return expectAffected(result, "update_location", inventory.EntityLocation, location.ID)
}

// DeleteLocation deletes a location record
// ロケーション記録を削除
func (s *sqlStore) DeleteLocation(ctx context.Context, locationID string) error {
	result, err := s.exec(ctx, `DELETE FROM locations WHERE location_id = $1`, locationID)
	if err != nil {
		if s.d.classify(err) == classForeignKey {
			return inventory.NewReferencedError(inventory.EntityLocation, locationID, 0)
		}
		return inventory.NewStorageError("delete_location", "ロケーション削除に失敗しました", err)
	}
	return expectAffected(result, "delete_location", inventory.EntityLocation, locationID)
}

// ListLocations retrieves all locations ordered by ID
// 全ロケーションをID順に取得
func (s *sqlStore) ListLocations(ctx context.Context) ([]inventory.Location, error) {
	query := `
		SELECT location_id, name, address, created_at, updated_at
		FROM locations
		ORDER BY location_id`

	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, inventory.NewStorageError("list_locations", "ロケーション一覧取得に失敗しました", err)
	}
	defer rows.Close()

	locations := []inventory.Location{}
	for rows.Next() {
		var location inventory.Location
		err := rows.Scan(
			&location.ID,
			&location.Name,
			&location.Address,
			&location.CreatedAt,
			&location.UpdatedAt,
		)
		if err != nil {
			return nil, inventory.NewStorageError("list_locations", "ロケーションスキャンに失敗しました", err)
		}
		location.CreatedAt = location.CreatedAt.UTC()
		location.UpdatedAt = location.UpdatedAt.UTC()
		locations = append(locations, location)
	}
	if err := rows.Err(); err != nil {
		return nil, inventory.NewStorageError("list_locations", "ロケーション一覧取得に失敗しました", err)
	}

	return locations, nil
}

// AppendMovement inserts a movement and assigns its ID
// 移動記録を追加し、IDを採番
func (s *sqlStore) AppendMovement(ctx context.Context, movement *inventory.Movement) error {
	query := `
		INSERT INTO movements (moved_at, from_location, to_location, product_id, qty)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING movement_id`

	err := s.queryRow(ctx, query,
		movement.Timestamp.UTC(),
		nullString(movement.FromLocation),
		nullString(movement.ToLocation),
		movement.ProductID,
		movement.Quantity,
	).Scan(&movement.ID)
	if err != nil {
		if s.d.classify(err) == classForeignKey {
			return inventory.NewValidationError("reference", "移動記録が存在しない商品またはロケーションを参照しています", movement.ProductID)
		}
		return inventory.NewStorageError("append_movement", "移動記録作成に失敗しました", err)
	}

	return nil
}

const movementColumns = `movement_id, moved_at, from_location, to_location, product_id, qty`

// GetMovement retrieves a movement by ID
// IDで移動記録を取得
func (s *sqlStore) GetMovement(ctx context.Context, movementID int64) (*inventory.Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM movements WHERE movement_id = $1`

	movement, err := scanMovement(s.queryRow(ctx, query, movementID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.NewNotFoundError(inventory.EntityMovement, fmt.Sprintf("%d", movementID))
		}
		return nil, inventory.NewStorageError("get_movement", "移動記録取得に失敗しました", err)
	}
	return movement, nil
}

// UpdateMovement replaces the stored fields of a movement
// 移動記録を更新
func (s *sqlStore) UpdateMovement(ctx context.Context, movement *inventory.Movement) error {
	query := `
		UPDATE movements
		SET moved_at = $2, from_location = $3, to_location = $4, product_id = $5, qty = $6
		WHERE movement_id = $1`

	result, err := s.exec(ctx, query,
		movement.ID,
		movement.Timestamp.UTC(),
		nullString(movement.FromLocation),
		nullString(movement.ToLocation),
		movement.ProductID,
		movement.Quantity,
	)
	if err != nil {
		if s.d.classify(err) == classForeignKey {
			return inventory.NewValidationError("reference", "移動記録が存在しない商品またはロケーションを参照しています", movement.ProductID)
		}
		return inventory.NewStorageError("update_movement", "移動記録更新に失敗しました", err)
	}
	return expectAffected(result, "update_movement", inventory.EntityMovement, fmt.Sprintf("%d", movement.ID))
}

// DeleteMovement deletes a movement record
// 移動記録を削除
func (s *sqlStore) DeleteMovement(ctx context.Context, movementID int64) error {
	result, err := s.exec(ctx, `DELETE FROM movements WHERE movement_id = $1`, movementID)
	if err != nil {
		return inventory.NewStorageError("delete_movement", "移動記録削除に失敗しました", err)
	}
	return expectAffected(result, "delete_movement", inventory.EntityMovement, fmt.Sprintf("%d", movementID))
}

// DeleteMovementsByProduct deletes every movement of a product
// 商品の全移動記録を削除
func (s *sqlStore) DeleteMovementsByProduct(ctx context.Context, productID string) (int64, error) {
	result, err := s.exec(ctx, `DELETE FROM movements WHERE product_id = $1`, productID)
	if err != nil {
		return 0, inventory.NewStorageError("delete_movements", "移動記録の一括削除に失敗しました", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, inventory.NewStorageError("delete_movements", "削除行数の取得に失敗しました", err)
	}
	return deleted, nil
}

// ListMovements retrieves movements newest first
// 移動記録を新しい順に取得
func (s *sqlStore) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ProductID != "" {
		conditions = append(conditions, "product_id = "+arg(filter.ProductID))
	}
	if filter.LocationID != "" {
		p := arg(filter.LocationID)
		conditions = append(conditions, fmt.Sprintf("(from_location = %s OR to_location = %s)", p, p))
	}
	if filter.From != nil {
		conditions = append(conditions, "moved_at >= "+arg(filter.From.UTC()))
	}
	if filter.To != nil {
		conditions = append(conditions, "moved_at <= "+arg(filter.To.UTC()))
	}

	query := `SELECT ` + movementColumns + ` FROM movements`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY moved_at DESC, movement_id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, inventory.NewStorageError("list_movements", "移動記録一覧取得に失敗しました", err)
	}
	defer rows.Close()

	movements := []inventory.Movement{}
	for rows.Next() {
		movement, err := scanMovement(rows)
		if err != nil {
			return nil, inventory.NewStorageError("list_movements", "移動記録スキャンに失敗しました", err)
		}
		movements = append(movements, *movement)
	}
	if err := rows.Err(); err != nil {
		return nil, inventory.NewStorageError("list_movements", "移動記録一覧取得に失敗しました", err)
	}

	return movements, nil
}

// CountMovementReferences counts the movements that reference an entity
// エンティティを参照している移動記録数を取得
func (s *sqlStore) CountMovementReferences(ctx context.Context, entity inventory.EntityKind, id string) (int64, error) {
	var query string
	switch entity {
	case inventory.EntityProduct:
		query = `SELECT COUNT(*) FROM movements WHERE product_id = $1`
	case inventory.EntityLocation:
		query = `SELECT COUNT(*) FROM movements WHERE from_location = $1 OR to_location = $1`
	default:
		return 0, inventory.NewValidationError("entity", "参照数を数えられないエンティティです", string(entity))
	}

	var count int64
	if err := s.queryRow(ctx, query, id).Scan(&count); err != nil {
		return 0, inventory.NewStorageError("count_references", "参照数の取得に失敗しました", err)
	}
	return count, nil
}

// LocationBalances aggregates the positive balances at one location
// 指定ロケーションの正の残高を集計
func (s *sqlStore) LocationBalances(ctx context.Context, locationID string) ([]inventory.LocationBalance, error) {
	query := `
		SELECT p.product_id, p.name,
			CAST(SUM(CASE WHEN m.to_location = $1 THEN m.qty ELSE 0 END)
				- SUM(CASE WHEN m.from_location = $1 THEN m.qty ELSE 0 END) AS BIGINT) AS balance
		FROM movements m
		JOIN products p ON p.product_id = m.product_id
		WHERE m.to_location = $1 OR m.from_location = $1
		GROUP BY p.product_id, p.name
		HAVING SUM(CASE WHEN m.to_location = $1 THEN m.qty ELSE 0 END)
			- SUM(CASE WHEN m.from_location = $1 THEN m.qty ELSE 0 END) > 0
		ORDER BY p.product_id`

	rows, err := s.query(ctx, query, locationID)
	if err != nil {
		return nil, inventory.NewStorageError("location_balances", "ロケーション在庫集計に失敗しました", err)
	}
	defer rows.Close()

	balances := []inventory.LocationBalance{}
	for rows.Next() {
		var balance inventory.LocationBalance
		if err := rows.Scan(&balance.ProductID, &balance.ProductName, &balance.Balance); err != nil {
			return nil, inventory.NewStorageError("location_balances", "残高スキャンに失敗しました", err)
		}
		balances = append(balances, balance)
	}
	if err := rows.Err(); err != nil {
		return nil, inventory.NewStorageError("location_balances", "ロケーション在庫集計に失敗しました", err)
	}

	return balances, nil
}

// reportQuery pairs every movement with each non-null side; a side is a
// credit when it is the destination and a debit otherwise.
const reportQuery = `
	SELECT p.product_id, p.name, l.location_id, l.name,
		CAST(SUM(CASE WHEN m.to_location = l.location_id THEN m.qty ELSE -m.qty END) AS BIGINT) AS balance
	FROM movements m
	JOIN products p ON p.product_id = m.product_id
	JOIN locations l ON l.location_id = m.to_location OR l.location_id = m.from_location
	%s
	GROUP BY p.product_id, p.name, l.location_id, l.name
	HAVING SUM(CASE WHEN m.to_location = l.location_id THEN m.qty ELSE -m.qty END) > 0
	ORDER BY p.product_id, l.location_id`

// ProductBalances aggregates the positive balances of one product
// 指定商品のロケーション別の正の残高を集計
func (s *sqlStore) ProductBalances(ctx context.Context, productID string) ([]inventory.ReportRow, error) {
	return s.reportRows(ctx, "product_balances", fmt.Sprintf(reportQuery, "WHERE m.product_id = $1"), productID)
}

// BalanceReport aggregates every positive (product, location) balance
// 全ての正の残高を集計
func (s *sqlStore) BalanceReport(ctx context.Context) ([]inventory.ReportRow, error) {
	return s.reportRows(ctx, "balance_report", fmt.Sprintf(reportQuery, ""))
}

func (s *sqlStore) reportRows(ctx context.Context, operation, query string, args ...any) ([]inventory.ReportRow, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, inventory.NewStorageError(operation, "在庫集計に失敗しました", err)
	}
	defer rows.Close()

	report := []inventory.ReportRow{}
	for rows.Next() {
		var row inventory.ReportRow
		if err := rows.Scan(&row.ProductID, &row.ProductName, &row.LocationID, &row.LocationName, &row.Balance); err != nil {
			return nil, inventory.NewStorageError(operation, "残高スキャンに失敗しました", err)
		}
		report = append(report, row)
	}
	if err := rows.Err(); err != nil {
		return nil, inventory.NewStorageError(operation, "在庫集計に失敗しました", err)
	}

	return report, nil
}

// Counts returns entity totals
// エンティティ件数を取得
func (s *sqlStore) Counts(ctx context.Context) (*inventory.Counts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM products),
			(SELECT COUNT(*) FROM locations),
			(SELECT COUNT(*) FROM movements)`

	counts := &inventory.Counts{}
	if err := s.queryRow(ctx, query).Scan(&counts.Products, &counts.Locations, &counts.Movements); err != nil {
		return nil, inventory.NewStorageError("counts", "件数取得に失敗しました", err)
	}
	return counts, nil
}

// ヘルパー関数

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovement(row rowScanner) (*inventory.Movement, error) {
	var (
		movement inventory.Movement
		from, to sql.NullString
		moved    time.Time
	)
	if err := row.Scan(&movement.ID, &moved, &from, &to, &movement.ProductID, &movement.Quantity); err != nil {
		return nil, err
	}
	movement.Timestamp = moved.UTC()
	if from.Valid {
		movement.FromLocation = inventory.StringPtr(from.String)
	}
	if to.Valid {
		movement.ToLocation = inventory.StringPtr(to.String)
	}
	return &movement, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func expectAffected(result sql.Result, operation string, entity inventory.EntityKind, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return inventory.NewStorageError(operation, "更新行数の取得に失敗しました", err)
	}
	if rowsAffected == 0 {
		return inventory.NewNotFoundError(entity, id)
	}
	return nil
}
