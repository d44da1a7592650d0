package inventory

import (
	"context"
)

// InventoryManager defines the core interface exposed to presentation shells
// プレゼンテーション層に公開するコアインターフェースを定義
type InventoryManager interface {
	ProductRegistry
	LocationRegistry
	MovementLedger
	BalanceReader

	Ping(ctx context.Context) error
}

// ProductRegistry defines interface for product management
// 商品管理のインターフェースを定義
type ProductRegistry interface {
	CreateProduct(ctx context.Context, productID, name, description string) (*Product, error)
	CreateProductWithStock(ctx context.Context, productID, name, description, locationID string, quantity int64) (*Product, *Movement, error)
	GetProduct(ctx context.Context, productID string) (*Product, error)
	UpdateProduct(ctx context.Context, productID, name, description string) (*Product, error)
	DeleteProduct(ctx context.Context, productID string) error
	ListProducts(ctx context.Context) ([]Product, error)
}

// LocationRegistry defines interface for location management
// ロケーション管理のインターフェースを定義
type LocationRegistry interface {
	CreateLocation(ctx context.Context, locationID, name, address string) (*Location, error)
	GetLocation(ctx context.Context, locationID string) (*Location, error)
	UpdateLocation(ctx context.Context, locationID, name, address string) (*Location, error)
	DeleteLocation(ctx context.Context, locationID string) error
	ListLocations(ctx context.Context) ([]Location, error)
}

// MovementLedger defines interface for recording stock movements
// 在庫移動記録のインターフェースを定義
type MovementLedger interface {
	CreateMovement(ctx context.Context, in MovementInput) (*Movement, error)
	GetMovement(ctx context.Context, movementID int64) (*Movement, error)
	UpdateMovement(ctx context.Context, movementID int64, in MovementInput) (*Movement, error)
	DeleteMovement(ctx context.Context, movementID int64) error
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// BalanceReader defines the read-side balance queries
// 在庫残高照会のインターフェースを定義
type BalanceReader interface {
	GetLocationInventory(ctx context.Context, locationID string) ([]LocationBalance, error)
	GetProductStock(ctx context.Context, productID string) (*ProductStock, error)
	GetFullReport(ctx context.Context) ([]ReportRow, error)
	GetCounts(ctx context.Context) (*Counts, error)
}

// Store defines the primitive persistence operations.
// Implementations receive normalized IDs only and return typed errors
// (NotFoundError, ConflictError, ReferencedError, StorageError).
// データ永続化のプリミティブ操作を定義
type Store interface {
	// Product management
	CreateProduct(ctx context.Context, product *Product) error
	GetProduct(ctx context.Context, productID string) (*Product, error)
	UpdateProduct(ctx context.Context, product *Product) error
	DeleteProduct(ctx context.Context, productID string) error
	ListProducts(ctx context.Context) ([]Product, error)

	// Location management
	CreateLocation(ctx context.Context, location *Location) error
	GetLocation(ctx context.Context, locationID string) (*Location, error)
	UpdateLocation(ctx context.Context, location *Location) error
	DeleteLocation(ctx context.Context, locationID string) error
	ListLocations(ctx context.Context) ([]Location, error)

	// Movement ledger
	AppendMovement(ctx context.Context, movement *Movement) error
	GetMovement(ctx context.Context, movementID int64) (*Movement, error)
	UpdateMovement(ctx context.Context, movement *Movement) error
	DeleteMovement(ctx context.Context, movementID int64) error
	DeleteMovementsByProduct(ctx context.Context, productID string) (int64, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	CountMovementReferences(ctx context.Context, entity EntityKind, id string) (int64, error)

	// Balance aggregation
	LocationBalances(ctx context.Context, locationID string) ([]LocationBalance, error)
	ProductBalances(ctx context.Context, productID string) ([]ReportRow, error)
	BalanceReport(ctx context.Context) ([]ReportRow, error)
	Counts(ctx context.Context) (*Counts, error)
}

// Storage defines the interface for data persistence layer
// データ永続化層のインターフェースを定義
type Storage interface {
	Store

	// Atomic runs fn against a transactional view of the store.
	// fn's changes are committed only when it returns nil.
	Atomic(ctx context.Context, fn func(tx Store) error) error

	// Health check
	Ping(ctx context.Context) error
	Close() error
}
