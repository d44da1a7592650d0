// Package inventory provides the stock ledger and balance derivation engine
package inventory

import (
	"time"
)

// Product represents a tracked product
// 追跡対象の商品を表現
type Product struct {
	ID          string    `json:"product_id" db:"product_id"`   // 商品ID（正規化済み）
	Name        string    `json:"name" db:"name"`               // 商品名
	Description string    `json:"description" db:"description"` // 商品説明
	CreatedAt   time.Time `json:"created_at" db:"created_at"`   // 作成日時
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`   // 更新日時
}

// Location represents a storage location or warehouse
// 保管場所または倉庫を表現
type Location struct {
	ID        string    `json:"location_id" db:"location_id"` // ロケーションID（正規化済み）
	Name      string    `json:"name" db:"name"`               // ロケーション名
	Address   string    `json:"address" db:"address"`         // 住所
	CreatedAt time.Time `json:"created_at" db:"created_at"`   // 作成日時
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`   // 更新日時
}

// Movement is a single ledger entry moving a quantity of one product
// 台帳上の一件の在庫移動記録を表現
type Movement struct {
	ID           int64     `json:"movement_id" db:"movement_id"`     // 移動ID（ストアが採番）
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`         // 記録日時
	FromLocation *string   `json:"from_location" db:"from_location"` // 移動元（nilの場合は外部からの入庫）
	ToLocation   *string   `json:"to_location" db:"to_location"`     // 移動先（nilの場合は外部への出庫）
	ProductID    string    `json:"product_id" db:"product_id"`       // 商品ID
	Quantity     int64     `json:"qty" db:"qty"`                     // 数量（正の整数）
}

// MovementKind classifies a movement by which side is external
// 外部側に応じた移動の分類
type MovementKind string

const (
	MovementKindInbound  MovementKind = "inbound"  // 入庫
	MovementKindOutbound MovementKind = "outbound" // 出庫
	MovementKindTransfer MovementKind = "transfer" // 移動
)

// Kind derives the movement kind from its locations
// ロケーションの有無から移動種別を導出
func (m *Movement) Kind() MovementKind {
	switch {
	case m.FromLocation == nil:
		return MovementKindInbound
	case m.ToLocation == nil:
		return MovementKindOutbound
	default:
		return MovementKindTransfer
	}
}

// Touches reports whether the movement debits or credits the location.
func (m *Movement) Touches(locationID string) bool {
	return (m.FromLocation != nil && *m.FromLocation == locationID) ||
		(m.ToLocation != nil && *m.ToLocation == locationID)
}

// MovementInput carries the caller-supplied fields of a movement.
// An empty location means the external point.
type MovementInput struct {
	FromLocation string     `json:"from_location"`
	ToLocation   string     `json:"to_location"`
	ProductID    string     `json:"product_id"`
	Quantity     int64      `json:"qty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

// MovementFilter narrows a movement listing
// 移動一覧の絞り込み条件
type MovementFilter struct {
	ProductID  string     `json:"product_id,omitempty"`  // 商品ID
	LocationID string     `json:"location_id,omitempty"` // 移動元・移動先いずれか
	From       *time.Time `json:"from,omitempty"`        // 開始日時（含む）
	To         *time.Time `json:"to,omitempty"`          // 終了日時（含む）
	Limit      int        `json:"limit,omitempty"`       // 0は無制限
}

// LocationBalance is the positive balance of one product at a location
// ロケーションにおける商品ごとの正の在庫残高
type LocationBalance struct {
	ProductID   string `json:"product_id" db:"product_id"`
	ProductName string `json:"product_name" db:"product_name"`
	Balance     int64  `json:"balance" db:"balance"`
}

// ReportRow is one (product, location) cell of the balance report
// 全体レポートの（商品, ロケーション）単位の行
type ReportRow struct {
	ProductID    string `json:"product_id" db:"product_id"`
	ProductName  string `json:"product_name" db:"product_name"`
	LocationID   string `json:"location_id" db:"location_id"`
	LocationName string `json:"location_name" db:"location_name"`
	Balance      int64  `json:"balance" db:"balance"`
}

// ProductStock summarizes where a product is held
// 商品の保管状況の要約
type ProductStock struct {
	Product  Product     `json:"product"`
	Balances []ReportRow `json:"balances"`
	Total    int64       `json:"total"`
}

// Counts holds entity totals for the summary view
// サマリー表示用の件数
type Counts struct {
	Products  int64 `json:"products"`
	Locations int64 `json:"locations"`
	Movements int64 `json:"movements"`
}

// EntityKind names the entity an error or reference check is about
type EntityKind string

const (
	EntityProduct  EntityKind = "product"
	EntityLocation EntityKind = "location"
	EntityMovement EntityKind = "movement"
)

// StringPtr returns nil for the empty string, otherwise a pointer to s.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// now returns the current time normalized for storage
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
