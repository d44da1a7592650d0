package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nemonet1337/zaiLedger/pkg/inventory"
)

// memoryData is the arena of a memory store with its secondary indexes
type memoryData struct {
	products   map[string]inventory.Product
	locations  map[string]inventory.Location
	movements  map[int64]inventory.Movement
	byProduct  map[string]map[int64]struct{}
	byLocation map[string]map[int64]struct{}
	nextID     int64
}

func newMemoryData() *memoryData {
	return &memoryData{
		products:   make(map[string]inventory.Product),
		locations:  make(map[string]inventory.Location),
		movements:  make(map[int64]inventory.Movement),
		byProduct:  make(map[string]map[int64]struct{}),
		byLocation: make(map[string]map[int64]struct{}),
	}
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.locations {
		c.locations[k] = v
	}
	for k, v := range d.movements {
		c.movements[k] = v
	}
	for k, ids := range d.byProduct {
		c.byProduct[k] = cloneIDSet(ids)
	}
	for k, ids := range d.byLocation {
		c.byLocation[k] = cloneIDSet(ids)
	}
	c.nextID = d.nextID
	return c
}

func cloneIDSet(ids map[int64]struct{}) map[int64]struct{} {
	c := make(map[int64]struct{}, len(ids))
	for id := range ids {
		c[id] = struct{}{}
	}
	return c
}

func addIndex(index map[string]map[int64]struct{}, key string, id int64) {
	ids, ok := index[key]
	if !ok {
		ids = make(map[int64]struct{})
		index[key] = ids
	}
	ids[id] = struct{}{}
}

func removeIndex(index map[string]map[int64]struct{}, key string, id int64) {
	if ids, ok := index[key]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(index, key)
		}
	}
}

func (d *memoryData) index(m inventory.Movement) {
	addIndex(d.byProduct, m.ProductID, m.ID)
	if m.FromLocation != nil {
		addIndex(d.byLocation, *m.FromLocation, m.ID)
	}
	if m.ToLocation != nil {
		addIndex(d.byLocation, *m.ToLocation, m.ID)
	}
}

func (d *memoryData) unindex(m inventory.Movement) {
	removeIndex(d.byProduct, m.ProductID, m.ID)
	if m.FromLocation != nil {
		removeIndex(d.byLocation, *m.FromLocation, m.ID)
	}
	if m.ToLocation != nil {
		removeIndex(d.byLocation, *m.ToLocation, m.ID)
	}
}

// memoryStore implements inventory.Store over an arena without locking.
type memoryStore struct {
	data *memoryData
}

// MemoryStorage is a process-local Storage. Mutations inside Atomic work on a
// copy of the arena that replaces the live one only when fn succeeds.
// プロセス内メモリを使用したStorageインターフェースの実装
type MemoryStorage struct {
	mu   sync.RWMutex
	data *memoryData
}

var _ inventory.Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty memory storage
// 空のメモリストレージを作成
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: newMemoryData()}
}

func (s *MemoryStorage) read() *memoryStore {
	return &memoryStore{data: s.data}
}

// Atomic runs fn against a private copy of the arena and publishes it on success
// fnを複製したデータ上で実行し、成功時のみ反映
func (s *MemoryStorage) Atomic(ctx context.Context, fn func(tx inventory.Store) error) error {
	if err := ctx.Err(); err != nil {
		return inventory.NewStorageError("begin", "コンテキストが終了しています", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.data.clone()
	if err := fn(&memoryStore{data: working}); err != nil {
		return err
	}
	s.data = working
	return nil
}

// Ping always succeeds for the memory storage
func (s *MemoryStorage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close releases nothing
func (s *MemoryStorage) Close() error {
	return nil
}

func (s *MemoryStorage) CreateProduct(ctx context.Context, product *inventory.Product) error {
	return s.Atomic(ctx, func(tx inventory.Store) error { return tx.CreateProduct(ctx, product) })
}

func (s *MemoryStorage) GetProduct(ctx context.Context, productID string) (*inventory.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetProduct(ctx, productID)
}

func (s *MemoryStorage) UpdateProduct(ctx context.Context, product *inventory.Product) error {
	return s.Atomic(ctx, func(tx inventory.Store) error { return tx.UpdateProduct(ctx, product) })
}

func (s *MemoryStorage) DeleteProduct(ctx context.Context, productID string) error {
	return s.Atomic(ctx, func(tx inventory.Store) error { return tx.DeleteProduct(ctx, productID) })
}

func (s *MemoryStorage) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListProducts(ctx)
}

func (s *MemoryStorage) CreateLocation(ctx context.Context, location *inventory.Location) error {
	return s.Atomic(ctx, func(tx inventory.Store) error { return tx.CreateLocation(ctx, location) })
}

func (s *MemoryStorage) GetLocation(ctx context.Context, locationID string) (*inventory.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetLocation(ctx, locationID)
}

func (s *MemoryStorage) UpdateLocation(ctx context.Context, location *inventory.Location) error {
	return s.Atomic(ctx, func(tx inventory.Store) error { return tx.UpdateLocation(ctx, location) })
}

func (s *MemoryStorage) DeleteLocation(ctx context.Context, locationID string) error {
	return s.Atomic(ctx, func(tx inventory.Store) error { return tx.DeleteLocation(ctx, locationID) })
}

func (s *MemoryStorage) ListLocations(ctx context.Context) ([]inventory.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListLocations(ctx)
}

func (s *MemoryStorage) AppendMovement(ctx context.Context, movement *inventory.Movement) error {
	return s.Atomic(ctx, func(tx inventory.Store) error { return tx.AppendMovement(ctx, movement) })
}

func (s *MemoryStorage) GetMovement(ctx context.Context, movementID int64) (*inventory.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetMovement(ctx, movementID)
}

func (s *MemoryStorage) UpdateMovement(ctx context.Context, movement *inventory.Movement) error {
	return s.Atomic(ctx, func(tx inventory.Store) error { return tx.UpdateMovement(ctx, movement) })
}

func (s *MemoryStorage) DeleteMovement(ctx context.Context, movementID int64) error {
	return s.Atomic(ctx, func(tx inventory.Store) error { return tx.DeleteMovement(ctx, movementID) })
}

func (s *MemoryStorage) DeleteMovementsByProduct(ctx context.Context, productID string) (int64, error) {
	var deleted int64
	err := s.Atomic(ctx, func(tx inventory.Store) error {
		var err error
		deleted, err = tx.DeleteMovementsByProduct(ctx, productID)
		return err
	})
	return deleted, err
}

func (s *MemoryStorage) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListMovements(ctx, filter)
}

func (s *MemoryStorage) CountMovementReferences(ctx context.Context, entity inventory.EntityKind, id string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().CountMovementReferences(ctx, entity, id)
}

func (s *MemoryStorage) LocationBalances(ctx context.Context, locationID string) ([]inventory.LocationBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().LocationBalances(ctx, locationID)
}

func (s *MemoryStorage) ProductBalances(ctx context.Context, productID string) ([]inventory.ReportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ProductBalances(ctx, productID)
}

func (s *MemoryStorage) BalanceReport(ctx context.Context) ([]inventory.ReportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().BalanceReport(ctx)
}

func (s *MemoryStorage) Counts(ctx context.Context) (*inventory.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().Counts(ctx)
}

// 商品

func (s *memoryStore) CreateProduct(_ context.Context, product *inventory.Product) error {
	if _, ok := s.data.products[product.ID]; ok {
		return inventory.NewConflictError(inventory.EntityProduct, product.ID)
	}
	s.data.products[product.ID] = *product
	return nil
}

func (s *memoryStore) GetProduct(_ context.Context, productID string) (*inventory.Product, error) {
	product, ok := s.data.products[productID]
	if !ok {
		return nil, inventory.NewNotFoundError(inventory.EntityProduct, productID)
	}
	return &product, nil
}

func (s *memoryStore) UpdateProduct(_ context.Context, product *inventory.Product) error {
	if _, ok := s.data.products[product.ID]; !ok {
		return inventory.NewNotFoundError(inventory.EntityProduct, product.ID)
	}
	s.data.products[product.ID] = *product
	return nil
}

func (s *memoryStore) DeleteProduct(_ context.Context, productID string) error {
	if _, ok := s.data.products[productID]; !ok {
		return inventory.NewNotFoundError(inventory.EntityProduct, productID)
	}
	if refs := len(s.data.byProduct[productID]); refs > 0 {
		return inventory.NewReferencedError(inventory.EntityProduct, productID, int64(refs))
	}
	delete(s.data.products, productID)
	return nil
}

func (s *memoryStore) ListProducts(_ context.Context) ([]inventory.Product, error) {
	products := make([]inventory.Product, 0, len(s.data.products))
	for _, product := range s.data.products {
		products = append(products, product)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

// ロケーション

func (s *memoryStore) CreateLocation(_ context.Context, location *inventory.Location) error {
	if _, ok := s.data.locations[location.ID]; ok {
		return inventory.NewConflictError(inventory.EntityLocation, location.ID)
	}
	s.data.locations[location.ID] = *location
	return nil
}

func (s *memoryStore) GetLocation(_ context.Context, locationID string) (*inventory.Location, error) {
	location, ok := s.data.locations[locationID]
	if !ok {
		return nil, inventory.NewNotFoundError(inventory.EntityLocation, locationID)
	}
	return &location, nil
}

func (s *memoryStore) UpdateLocation(_ context.Context, location *inventory.Location) error {
	if _, ok := s.data.locations[location.ID]; !ok {
		return inventory.NewNotFoundError(inventory.EntityLocation, location.ID)
	}
	s.data.locations[location.ID] = *location
	return nil
}

func (s *memoryStore) DeleteLocation(_ context.Context, locationID string) error {
	if _, ok := s.data.locations[locationID]; !ok {
		return inventory.NewNotFoundError(inventory.EntityLocation, locationID)
	}
	if refs := len(s.data.byLocation[locationID]); refs > 0 {
		return inventory.NewReferencedError(inventory.EntityLocation, locationID, int64(refs))
	}
	delete(s.data.locations, locationID)
	return nil
}

func (s *memoryStore) ListLocations(_ context.Context) ([]inventory.Location, error) {
	locations := make([]inventory.Location, 0, len(s.data.locations))
	for _, location := range s.data.locations {
		locations = append(locations, location)
	}
	sort.Slice(locations, func(i, j int) bool { return locations[i].ID < locations[j].ID })
	return locations, nil
}

// 移動記録

// checkReferences mirrors the foreign keys of the SQL schema.
func (s *memoryStore) checkReferences(m *inventory.Movement) error {
	if _, ok := s.data.products[m.ProductID]; !ok {
		return inventory.NewValidationError("product_id", "商品が存在しません", m.ProductID)
	}
	if m.FromLocation != nil {
		if _, ok := s.data.locations[*m.FromLocation]; !ok {
			return inventory.NewValidationError("from_location", "ロケーションが存在しません", *m.FromLocation)
		}
	}
	if m.ToLocation != nil {
		if _, ok := s.data.locations[*m.ToLocation]; !ok {
			return inventory.NewValidationError("to_location", "ロケーションが存在しません", *m.ToLocation)
		}
	}
	return nil
}

func (s *memoryStore) AppendMovement(_ context.Context, movement *inventory.Movement) error {
	if err := s.checkReferences(movement); err != nil {
		return err
	}
	s.data.nextID++
	movement.ID = s.data.nextID
	stored := copyMovement(*movement)
	s.data.movements[stored.ID] = stored
	s.data.index(stored)
	return nil
}

func (s *memoryStore) GetMovement(_ context.Context, movementID int64) (*inventory.Movement, error) {
	movement, ok := s.data.movements[movementID]
	if !ok {
		return nil, inventory.NewNotFoundError(inventory.EntityMovement, fmt.Sprintf("%d", movementID))
	}
	movement = copyMovement(movement)
	return &movement, nil
}

func (s *memoryStore) UpdateMovement(_ context.Context, movement *inventory.Movement) error {
	existing, ok := s.data.movements[movement.ID]
	if !ok {
		return inventory.NewNotFoundError(inventory.EntityMovement, fmt.Sprintf("%d", movement.ID))
	}
	if err := s.checkReferences(movement); err != nil {
		return err
	}
	s.data.unindex(existing)
	stored := copyMovement(*movement)
	s.data.movements[stored.ID] = stored
	s.data.index(stored)
	return nil
}

func (s *memoryStore) DeleteMovement(_ context.Context, movementID int64) error {
	existing, ok := s.data.movements[movementID]
	if !ok {
		return inventory.NewNotFoundError(inventory.EntityMovement, fmt.Sprintf("%d", movementID))
	}
	s.data.unindex(existing)
	delete(s.data.movements, movementID)
	return nil
}

func (s *memoryStore) DeleteMovementsByProduct(_ context.Context, productID string) (int64, error) {
	var deleted int64
	for id := range cloneIDSet(s.data.byProduct[productID]) {
		s.data.unindex(s.data.movements[id])
		delete(s.data.movements, id)
		deleted++
	}
	return deleted, nil
}

func (s *memoryStore) ListMovements(_ context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	movements := make([]inventory.Movement, 0)
	for _, m := range s.candidates(filter) {
		if filter.ProductID != "" && m.ProductID != filter.ProductID {
			continue
		}
		if filter.LocationID != "" && !m.Touches(filter.LocationID) {
			continue
		}
		if filter.From != nil && m.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && m.Timestamp.After(*filter.To) {
			continue
		}
		movements = append(movements, copyMovement(m))
	}

	sortNewestFirst(movements)
	if filter.Limit > 0 && len(movements) > filter.Limit {
		movements = movements[:filter.Limit]
	}
	return movements, nil
}

// candidates narrows the scan with the smallest applicable index.
func (s *memoryStore) candidates(filter inventory.MovementFilter) []inventory.Movement {
	var ids map[int64]struct{}
	switch {
	case filter.ProductID != "":
		ids = s.data.byProduct[filter.ProductID]
	case filter.LocationID != "":
		ids = s.data.byLocation[filter.LocationID]
	default:
		all := make([]inventory.Movement, 0, len(s.data.movements))
		for _, m := range s.data.movements {
			all = append(all, m)
		}
		return all
	}

	out := make([]inventory.Movement, 0, len(ids))
	for id := range ids {
		out = append(out, s.data.movements[id])
	}
	return out
}

func (s *memoryStore) CountMovementReferences(_ context.Context, entity inventory.EntityKind, id string) (int64, error) {
	switch entity {
	case inventory.EntityProduct:
		return int64(len(s.data.byProduct[id])), nil
	case inventory.EntityLocation:
		return int64(len(s.data.byLocation[id])), nil
	default:
		return 0, inventory.NewValidationError("entity", "参照数を数えられないエンティティです", string(entity))
	}
}

// 残高集計

func (s *memoryStore) movementsIn(ids map[int64]struct{}) []inventory.Movement {
	out := make([]inventory.Movement, 0, len(ids))
	for id := range ids {
		out = append(out, s.data.movements[id])
	}
	return out
}

func (s *memoryStore) LocationBalances(_ context.Context, locationID string) ([]inventory.LocationBalance, error) {
	sheet := inventory.Tally(s.movementsIn(s.data.byLocation[locationID]))

	entries := sheet.AtLocation(locationID)
	balances := make([]inventory.LocationBalance, 0, len(entries))
	for _, e := range entries {
		balances = append(balances, inventory.LocationBalance{
			ProductID:   e.ProductID,
			ProductName: s.data.products[e.ProductID].Name,
			Balance:     e.Balance,
		})
	}
	return balances, nil
}

func (s *memoryStore) ProductBalances(_ context.Context, productID string) ([]inventory.ReportRow, error) {
	sheet := inventory.Tally(s.movementsIn(s.data.byProduct[productID]))
	return s.reportRows(sheet.ForProduct(productID)), nil
}

func (s *memoryStore) BalanceReport(_ context.Context) ([]inventory.ReportRow, error) {
	all := make([]inventory.Movement, 0, len(s.data.movements))
	for _, m := range s.data.movements {
		all = append(all, m)
	}
	return s.reportRows(inventory.Tally(all).Positive()), nil
}

func (s *memoryStore) reportRows(entries []inventory.BalanceEntry) []inventory.ReportRow {
	rows := make([]inventory.ReportRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, inventory.ReportRow{
			ProductID:    e.ProductID,
			ProductName:  s.data.products[e.ProductID].Name,
			LocationID:   e.LocationID,
			LocationName: s.data.locations[e.LocationID].Name,
			Balance:      e.Balance,
		})
	}
	return rows
}

func (s *memoryStore) Counts(_ context.Context) (*inventory.Counts, error) {
	return &inventory.Counts{
		Products:  int64(len(s.data.products)),
		Locations: int64(len(s.data.locations)),
		Movements: int64(len(s.data.movements)),
	}, nil
}

func copyMovement(m inventory.Movement) inventory.Movement {
	if m.FromLocation != nil {
		m.FromLocation = inventory.StringPtr(*m.FromLocation)
	}
	if m.ToLocation != nil {
		m.ToLocation = inventory.StringPtr(*m.ToLocation)
	}
	return m
}

func sortNewestFirst(movements []inventory.Movement) {
	sort.Slice(movements, func(i, j int) bool {
		if !movements[i].Timestamp.Equal(movements[j].Timestamp) {
			return movements[i].Timestamp.After(movements[j].Timestamp)
		}
		return movements[i].ID > movements[j].ID
	})
}
