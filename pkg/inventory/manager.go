package inventory

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Manager implements the InventoryManager interface
// InventoryManagerインターフェースの実装
type Manager struct {
	storage Storage     // ストレージ層
	metrics *Metrics    // メトリクス
	logger  *zap.Logger // ログ
	config  *Config     // 設定
}

// すべてのインターフェースを実装することを明示
var (
	_ InventoryManager = (*Manager)(nil)
	_ ProductRegistry  = (*Manager)(nil)
	_ LocationRegistry = (*Manager)(nil)
	_ MovementLedger   = (*Manager)(nil)
	_ BalanceReader    = (*Manager)(nil)
)

// Config holds configuration for the inventory manager
// 在庫マネージャーの設定を保持
type Config struct {
	ProductDeleteCascade bool `yaml:"product_delete_cascade"` // 商品削除時に移動記録も削除
	DefaultListLimit     int  `yaml:"default_list_limit"`     // 移動一覧のデフォルト件数（0は無制限）
}

// NewManager creates a new inventory manager
// 新しい在庫マネージャーを作成
func NewManager(storage Storage, metrics *Metrics, logger *zap.Logger, config *Config) *Manager {
	if config == nil {
		config = &Config{
			ProductDeleteCascade: false,
			DefaultListLimit:     0,
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		storage: storage,
		metrics: metrics,
		logger:  logger,
		config:  config,
	}
}

// CreateProduct registers a new product
// 新しい商品を登録
func (m *Manager) CreateProduct(ctx context.Context, productID, name, description string) (*Product, error) {
	product, err := newProduct(productID, name, description)
	if err != nil {
		return nil, m.reject(EntityProduct, "create", err)
	}

	err = m.mutate(ctx, EntityProduct, "create", func(tx Store) error {
		return createProduct(ctx, tx, product)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("商品作成完了",
		zap.String("product_id", product.ID),
		zap.String("name", product.Name),
	)

	return product, nil
}

// CreateProductWithStock registers a product together with its initial
// inbound movement in one transaction
// 商品登録と初期入庫を同一トランザクションで実行
func (m *Manager) CreateProductWithStock(ctx context.Context, productID, name, description, locationID string, quantity int64) (*Product, *Movement, error) {
	product, err := newProduct(productID, name, description)
	if err != nil {
		return nil, nil, m.reject(EntityProduct, "create", err)
	}

	movement := &Movement{
		Timestamp:  now(),
		ToLocation: StringPtr(NormalizeID(locationID)),
		ProductID:  product.ID,
		Quantity:   quantity,
	}
	if movement.ToLocation == nil {
		return nil, nil, m.reject(EntityProduct, "create", NewValidationError("to_location", "初期在庫のロケーションが指定されていません", locationID))
	}
	if err := ValidateMovement(movement); err != nil {
		return nil, nil, m.reject(EntityProduct, "create", err)
	}

	err = m.mutate(ctx, EntityProduct, "create", func(tx Store) error {
		if err := createProduct(ctx, tx, product); err != nil {
			return err
		}
		if err := checkMovementReferences(ctx, tx, movement); err != nil {
			return err
		}
		return tx.AppendMovement(ctx, movement)
	})
	if err != nil {
		return nil, nil, err
	}

	m.metrics.observeMovement(movement)
	m.logger.Info("初期在庫付き商品作成完了",
		zap.String("product_id", product.ID),
		zap.String("location_id", *movement.ToLocation),
		zap.Int64("movement_id", movement.ID),
		zap.Int64("qty", quantity),
	)

	return product, movement, nil
}

// GetProduct gets a product by ID
// IDで商品を取得
func (m *Manager) GetProduct(ctx context.Context, productID string) (*Product, error) {
	productID = NormalizeID(productID)
	if err := ValidateProductID(productID); err != nil {
		return nil, err
	}

	product, err := m.storage.GetProduct(ctx, productID)
	if err != nil {
		return nil, asDomainError("get_product", err)
	}
	return product, nil
}

// UpdateProduct changes the name and description of a product
// 商品名と説明を更新
func (m *Manager) UpdateProduct(ctx context.Context, productID, name, description string) (*Product, error) {
	productID = NormalizeID(productID)
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if err := firstError(ValidateProductID(productID), ValidateName(name), ValidateText("description", description)); err != nil {
		return nil, m.reject(EntityProduct, "update", err)
	}

	var updated *Product
	err := m.mutate(ctx, EntityProduct, "update", func(tx Store) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		product.Name = name
		product.Description = description
		product.UpdatedAt = now()
		if err := tx.UpdateProduct(ctx, product); err != nil {
			return err
		}
		updated = product
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("商品更新完了", zap.String("product_id", productID))
	return updated, nil
}

// DeleteProduct deletes a product. Products referenced by movements are
// protected unless ProductDeleteCascade is set, in which case the product's
// movements are removed in the same transaction.
// 商品を削除（移動記録から参照されている場合は設定に従い拒否または連鎖削除）
func (m *Manager) DeleteProduct(ctx context.Context, productID string) error {
	productID = NormalizeID(productID)
	if err := ValidateProductID(productID); err != nil {
		return m.reject(EntityProduct, "delete", err)
	}

	var cascaded int64
	err := m.mutate(ctx, EntityProduct, "delete", func(tx Store) error {
		if _, err := tx.GetProduct(ctx, productID); err != nil {
			return err
		}
		refs, err := tx.CountMovementReferences(ctx, EntityProduct, productID)
		if err != nil {
			return err
		}
		if refs > 0 {
			if !m.config.ProductDeleteCascade {
				return NewReferencedError(EntityProduct, productID, refs)
			}
			if cascaded, err = tx.DeleteMovementsByProduct(ctx, productID); err != nil {
				return err
			}
		}
		return tx.DeleteProduct(ctx, productID)
	})
	if err != nil {
		return err
	}

	m.logger.Info("商品削除完了",
		zap.String("product_id", productID),
		zap.Int64("deleted_movements", cascaded),
	)
	return nil
}

// ListProducts lists all products ordered by ID
// 商品一覧をID順で取得
func (m *Manager) ListProducts(ctx context.Context) ([]Product, error) {
	defer m.metrics.observeQuery("list_products", time.Now())

	products, err := m.storage.ListProducts(ctx)
	if err != nil {
		return nil, asDomainError("list_products", err)
	}
	if products == nil {
		products = []Product{}
	}
	return products, nil
}

// CreateLocation registers a new location
// 新しいロケーションを登録
func (m *Manager) CreateLocation(ctx context.Context, locationID, name, address string) (*Location, error) {
	location := &Location{
		ID:      NormalizeID(locationID),
		Name:    strings.TrimSpace(name),
		Address: strings.TrimSpace(address),
	}
	if err := firstError(ValidateLocationID(location.ID), ValidateName(location.Name), ValidateText("address", location.Address)); err != nil {
		return nil, m.reject(EntityLocation, "create", err)
	}
	location.CreatedAt = now()
	location.UpdatedAt = location.CreatedAt

	err := m.mutate(ctx, EntityLocation, "create", func(tx Store) error {
		if _, err := tx.GetLocation(ctx, location.ID); err == nil {
			return NewConflictError(EntityLocation, location.ID)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		return tx.CreateLocation(ctx, location)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("ロケーション作成完了",
		zap.String("location_id", location.ID),
		zap.String("name", location.Name),
	)

	return location, nil
}

// GetLocation gets a location by ID
// IDでロケーションを取得
func (m *Manager) GetLocation(ctx context.Context, locationID string) (*Location, error) {
	locationID = NormalizeID(locationID)
	if err := ValidateLocationID(locationID); err != nil {
		return nil, err
	}

	location, err := m.storage.GetLocation(ctx, locationID)
	if err != nil {
		return nil, asDomainError("get_location", err)
	}
	return location, nil
}

// UpdateLocation changes the name and address of a location
// ロケーション名と住所を更新
func (m *Manager) UpdateLocation(ctx context.Context, locationID, name, address string) (*Location, error) {
	locationID = NormalizeID(locationID)
	name = strings.TrimSpace(name)
	address = strings.TrimSpace(address)
	if err := firstError(ValidateLocationID(locationID), ValidateName(name), ValidateText("address", address)); err != nil {
		return nil, m.reject(EntityLocation, "update", err)
	}

	var updated *Location
	err := m.mutate(ctx, EntityLocation, "update", func(tx Store) error {
		location, err := tx.GetLocation(ctx, locationID)
		if err != nil {
			return err
		}
		location.Name = name
		location.Address = address
		location.UpdatedAt = now()
		if err := tx.UpdateLocation(ctx, location); err != nil {
			return err
		}
		updated = location
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("ロケーション更新完了", zap.String("location_id", locationID))
	return updated, nil
}

// DeleteLocation deletes a location that no movement references
// 移動記録から参照されていないロケーションを削除
func (m *Manager) DeleteLocation(ctx context.Context, locationID string) error {
	locationID = NormalizeID(locationID)
	if err := ValidateLocationID(locationID); err != nil {
		return m.reject(EntityLocation, "delete", err)
	}

	err := m.mutate(ctx, EntityLocation, "delete", func(tx Store) error {
		if _, err := tx.GetLocation(ctx, locationID); err != nil {
			return err
		}
		refs, err := tx.CountMovementReferences(ctx, EntityLocation, locationID)
		if err != nil {
			return err
		}
		if refs > 0 {
			return NewReferencedError(EntityLocation, locationID, refs)
		}
		return tx.DeleteLocation(ctx, locationID)
	})
	if err != nil {
		return err
	}

	m.logger.Info("ロケーション削除完了", zap.String("location_id", locationID))
	return nil
}

// ListLocations lists all locations ordered by ID
// ロケーション一覧をID順で取得
func (m *Manager) ListLocations(ctx context.Context) ([]Location, error) {
	defer m.metrics.observeQuery("list_locations", time.Now())

	locations, err := m.storage.ListLocations(ctx)
	if err != nil {
		return nil, asDomainError("list_locations", err)
	}
	if locations == nil {
		locations = []Location{}
	}
	return locations, nil
}

// CreateMovement validates and appends a movement to the ledger
// 移動記録をバリデーションして台帳に追加
func (m *Manager) CreateMovement(ctx context.Context, in MovementInput) (*Movement, error) {
	movement := normalizeMovementInput(in)
	if movement.Timestamp.IsZero() {
		movement.Timestamp = now()
	}
	if err := ValidateMovement(movement); err != nil {
		return nil, m.reject(EntityMovement, "create", err)
	}

	err := m.mutate(ctx, EntityMovement, "create", func(tx Store) error {
		if err := checkMovementReferences(ctx, tx, movement); err != nil {
			return err
		}
		return tx.AppendMovement(ctx, movement)
	})
	if err != nil {
		return nil, err
	}

	m.metrics.observeMovement(movement)
	m.logger.Info("移動記録作成完了",
		zap.Int64("movement_id", movement.ID),
		zap.String("kind", string(movement.Kind())),
		zap.String("product_id", movement.ProductID),
		zap.String("from_location", StringValue(movement.FromLocation)),
		zap.String("to_location", StringValue(movement.ToLocation)),
		zap.Int64("qty", movement.Quantity),
	)

	return movement, nil
}

// GetMovement gets a movement by ID
// IDで移動記録を取得
func (m *Manager) GetMovement(ctx context.Context, movementID int64) (*Movement, error) {
	movement, err := m.storage.GetMovement(ctx, movementID)
	if err != nil {
		return nil, asDomainError("get_movement", err)
	}
	return movement, nil
}

// UpdateMovement replaces the locations, product and quantity of a movement.
// The full invariant set is checked on the post-update state; a rejected
// edit leaves the stored movement unchanged. The timestamp is kept unless the
// input carries a new one.
// 移動記録を更新（更新後の状態で全ての不変条件を再検証）
func (m *Manager) UpdateMovement(ctx context.Context, movementID int64, in MovementInput) (*Movement, error) {
	var updated *Movement
	err := m.mutate(ctx, EntityMovement, "update", func(tx Store) error {
		existing, err := tx.GetMovement(ctx, movementID)
		if err != nil {
			return err
		}

		movement := normalizeMovementInput(in)
		movement.ID = existing.ID
		if movement.Timestamp.IsZero() {
			movement.Timestamp = existing.Timestamp
		}
		if err := ValidateMovement(movement); err != nil {
			return err
		}
		if err := checkMovementReferences(ctx, tx, movement); err != nil {
			return err
		}
		if err := tx.UpdateMovement(ctx, movement); err != nil {
			return err
		}
		updated = movement
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("移動記録更新完了",
		zap.Int64("movement_id", movementID),
		zap.String("product_id", updated.ProductID),
		zap.Int64("qty", updated.Quantity),
	)

	return updated, nil
}

// DeleteMovement deletes a movement unconditionally
// 移動記録を無条件に削除
func (m *Manager) DeleteMovement(ctx context.Context, movementID int64) error {
	err := m.mutate(ctx, EntityMovement, "delete", func(tx Store) error {
		return tx.DeleteMovement(ctx, movementID)
	})
	if err != nil {
		return err
	}

	m.logger.Info("移動記録削除完了", zap.Int64("movement_id", movementID))
	return nil
}

// ListMovements lists movements newest first
// 移動記録を新しい順に取得
func (m *Manager) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	defer m.metrics.observeQuery("list_movements", time.Now())

	filter.ProductID = NormalizeID(filter.ProductID)
	filter.LocationID = NormalizeID(filter.LocationID)
	if err := ValidateMovementFilter(filter); err != nil {
		return nil, err
	}
	if filter.Limit == 0 && m.config.DefaultListLimit > 0 {
		filter.Limit = m.config.DefaultListLimit
	}

	movements, err := m.storage.ListMovements(ctx, filter)
	if err != nil {
		m.logger.Error("移動記録一覧取得に失敗しました", zap.Error(err))
		return nil, asDomainError("list_movements", err)
	}
	if movements == nil {
		movements = []Movement{}
	}
	return movements, nil
}

// GetLocationInventory returns the positive balances held at a location
// ロケーションの正の在庫残高を取得
func (m *Manager) GetLocationInventory(ctx context.Context, locationID string) ([]LocationBalance, error) {
	defer m.metrics.observeQuery("location_inventory", time.Now())

	if _, err := m.GetLocation(ctx, locationID); err != nil {
		return nil, err
	}

	balances, err := m.storage.LocationBalances(ctx, NormalizeID(locationID))
	if err != nil {
		m.logger.Error("ロケーション在庫取得に失敗しました", zap.String("location_id", locationID), zap.Error(err))
		return nil, asDomainError("location_balances", err)
	}
	if balances == nil {
		balances = []LocationBalance{}
	}
	return balances, nil
}

// GetProductStock returns the positive balances of a product across
// locations and their total
// 商品のロケーション別残高と合計を取得
func (m *Manager) GetProductStock(ctx context.Context, productID string) (*ProductStock, error) {
	defer m.metrics.observeQuery("product_stock", time.Now())

	product, err := m.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	rows, err := m.storage.ProductBalances(ctx, product.ID)
	if err != nil {
		m.logger.Error("商品在庫取得に失敗しました", zap.String("product_id", product.ID), zap.Error(err))
		return nil, asDomainError("product_balances", err)
	}
	if rows == nil {
		rows = []ReportRow{}
	}

	return &ProductStock{
		Product:  *product,
		Balances: rows,
		Total:    TotalOf(rows),
	}, nil
}

// GetFullReport returns every positive (product, location) balance
// 全商品・全ロケーションの正の在庫残高を取得
func (m *Manager) GetFullReport(ctx context.Context) ([]ReportRow, error) {
	defer m.metrics.observeQuery("full_report", time.Now())

	rows, err := m.storage.BalanceReport(ctx)
	if err != nil {
		m.logger.Error("在庫レポート取得に失敗しました", zap.Error(err))
		return nil, asDomainError("balance_report", err)
	}
	if rows == nil {
		rows = []ReportRow{}
	}
	return rows, nil
}

// GetCounts returns entity totals for the summary view
// サマリー用の件数を取得
func (m *Manager) GetCounts(ctx context.Context) (*Counts, error) {
	counts, err := m.storage.Counts(ctx)
	if err != nil {
		return nil, asDomainError("counts", err)
	}
	return counts, nil
}

// Ping checks storage connectivity
func (m *Manager) Ping(ctx context.Context) error {
	return m.storage.Ping(ctx)
}

// ヘルパーメソッド

// mutate runs fn atomically and records the outcome
// fnをアトミックに実行し、結果を記録
func (m *Manager) mutate(ctx context.Context, entity EntityKind, operation string, fn func(tx Store) error) error {
	err := asDomainError(string(entity)+"_"+operation, m.storage.Atomic(ctx, fn))
	m.metrics.observeMutation(entity, operation, err)
	if err != nil && IsStorage(err) {
		m.logger.Error("ストレージ操作に失敗しました",
			zap.String("entity", string(entity)),
			zap.String("operation", operation),
			zap.Error(err),
		)
	}
	return err
}

// reject records a mutation refused before reaching storage.
func (m *Manager) reject(entity EntityKind, operation string, err error) error {
	m.metrics.observeMutation(entity, operation, err)
	return err
}

func newProduct(productID, name, description string) (*Product, error) {
	product := &Product{
		ID:          NormalizeID(productID),
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
	}
	if err := firstError(ValidateProductID(product.ID), ValidateName(product.Name), ValidateText("description", product.Description)); err != nil {
		return nil, err
	}
	product.CreatedAt = now()
	product.UpdatedAt = product.CreatedAt
	return product, nil
}

// createProduct inserts a product after the explicit duplicate check.
func createProduct(ctx context.Context, tx Store, product *Product) error {
	if _, err := tx.GetProduct(ctx, product.ID); err == nil {
		return NewConflictError(EntityProduct, product.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return tx.CreateProduct(ctx, product)
}

// checkMovementReferences validates that the product and every non-null
// location of a movement exist
// 移動記録が参照する商品とロケーションの存在を確認
func checkMovementReferences(ctx context.Context, tx Store, movement *Movement) error {
	if _, err := tx.GetProduct(ctx, movement.ProductID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewValidationError("product_id", "商品が存在しません", movement.ProductID)
		}
		return err
	}

	sides := []struct {
		field string
		id    *string
	}{
		{"from_location", movement.FromLocation},
		{"to_location", movement.ToLocation},
	}
	for _, side := range sides {
		if side.id == nil {
			continue
		}
		if _, err := tx.GetLocation(ctx, *side.id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return NewValidationError(side.field, "ロケーションが存在しません", *side.id)
			}
			return err
		}
	}

	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
