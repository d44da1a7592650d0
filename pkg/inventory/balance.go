package inventory

import (
	"sort"
)

// BalanceKey identifies one (product, location) pair
// （商品, ロケーション）の組を識別するキー
type BalanceKey struct {
	ProductID  string
	LocationID string
}

// BalanceEntry is a balance together with its key.
type BalanceEntry struct {
	BalanceKey
	Balance int64
}

// BalanceSheet holds the net quantity of every (product, location) pair that
// appears in a set of movements. It is derived data and never persisted.
// 移動記録から導出される（商品, ロケーション）ごとの正味数量
type BalanceSheet map[BalanceKey]int64

// Tally folds movements into a balance sheet in a single pass: each movement
// debits its source and credits its destination. External points (nil
// locations) are not tracked.
// 移動記録を一度の走査で集計し、移動元から減算・移動先へ加算する
func Tally(movements []Movement) BalanceSheet {
	sheet := make(BalanceSheet)
	for i := range movements {
		sheet.Apply(&movements[i])
	}
	return sheet
}

// Apply records one movement on the sheet.
func (s BalanceSheet) Apply(m *Movement) {
	if m.FromLocation != nil {
		s[BalanceKey{ProductID: m.ProductID, LocationID: *m.FromLocation}] -= m.Quantity
	}
	if m.ToLocation != nil {
		s[BalanceKey{ProductID: m.ProductID, LocationID: *m.ToLocation}] += m.Quantity
	}
}

// Balance returns the net quantity for a pair; untouched pairs are zero.
func (s BalanceSheet) Balance(productID, locationID string) int64 {
	return s[BalanceKey{ProductID: productID, LocationID: locationID}]
}

// Positive returns every entry with a balance above zero, ordered by
// product ID then location ID. Zero and negative balances are hidden from
// read views.
// 残高が正のエントリのみを商品ID・ロケーションID順で返す
func (s BalanceSheet) Positive() []BalanceEntry {
	return s.positive(func(BalanceKey) bool { return true })
}

// AtLocation returns the positive entries of one location.
func (s BalanceSheet) AtLocation(locationID string) []BalanceEntry {
	return s.positive(func(k BalanceKey) bool { return k.LocationID == locationID })
}

// ForProduct returns the positive entries of one product.
func (s BalanceSheet) ForProduct(productID string) []BalanceEntry {
	return s.positive(func(k BalanceKey) bool { return k.ProductID == productID })
}

func (s BalanceSheet) positive(keep func(BalanceKey) bool) []BalanceEntry {
	entries := make([]BalanceEntry, 0)
	for key, balance := range s {
		if balance > 0 && keep(key) {
			entries = append(entries, BalanceEntry{BalanceKey: key, Balance: balance})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ProductID != entries[j].ProductID {
			return entries[i].ProductID < entries[j].ProductID
		}
		return entries[i].LocationID < entries[j].LocationID
	})
	return entries
}

// TotalOf sums the balances of the given report rows.
func TotalOf(rows []ReportRow) int64 {
	var total int64
	for _, row := range rows {
		total += row.Balance
	}
	return total
}
