package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiLedger/pkg/inventory"
)

// backend はテスト対象のストレージ
type backend struct {
	name string
	open func(t *testing.T) inventory.Storage
}

func backends() []backend {
	list := []backend{
		{
			name: "memory",
			open: func(t *testing.T) inventory.Storage { return NewMemoryStorage() },
		},
		{
			name: "sqlite",
			open: func(t *testing.T) inventory.Storage {
				s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "ledger.db"), zap.NewNop())
				require.NoError(t, err)
				t.Cleanup(func() { s.Close() })
				return s
			},
		},
	}

	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		list = append(list, backend{
			name: "postgres",
			open: func(t *testing.T) inventory.Storage {
				s, err := NewPostgreSQLStorage(dsn, zap.NewNop())
				require.NoError(t, err)
				require.NoError(t, s.MigrateDown())
				require.NoError(t, s.MigrateUp())
				t.Cleanup(func() { s.Close() })
				return s
			},
		})
	}
	return list
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s inventory.Storage)) {
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

var baseTime = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func seedEntities(t *testing.T, s inventory.Storage, products, locations []string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range products {
		require.NoError(t, s.CreateProduct(ctx, &inventory.Product{
			ID: id, Name: "商品 " + id, CreatedAt: baseTime, UpdatedAt: baseTime,
		}))
	}
	for _, id := range locations {
		require.NoError(t, s.CreateLocation(ctx, &inventory.Location{
			ID: id, Name: "倉庫 " + id, CreatedAt: baseTime, UpdatedAt: baseTime,
		}))
	}
}

func appendMovement(t *testing.T, s inventory.Storage, from, to, product string, qty int64, at time.Time) *inventory.Movement {
	t.Helper()
	m := &inventory.Movement{
		Timestamp:    at,
		FromLocation: inventory.StringPtr(from),
		ToLocation:   inventory.StringPtr(to),
		ProductID:    product,
		Quantity:     qty,
	}
	require.NoError(t, s.AppendMovement(context.Background(), m))
	return m
}

func TestStorage_ProductLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s inventory.Storage) {
		ctx := context.Background()
		seedEntities(t, s, []string{"P2", "P1"}, nil)

		// 重複作成
		err := s.CreateProduct(ctx, &inventory.Product{ID: "P1", Name: "dup", CreatedAt: baseTime, UpdatedAt: baseTime})
		assert.True(t, errors.Is(err, inventory.ErrConflict))

		product, err := s.GetProduct(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, "商品 P1", product.Name)
		assert.True(t, baseTime.Equal(product.CreatedAt))

		product.Name = "新しい名前"
		product.Description = "説明"
		product.UpdatedAt = baseTime.Add(time.Hour)
		require.NoError(t, s.UpdateProduct(ctx, product))

		product, err = s.GetProduct(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, "新しい名前", product.Name)
		assert.Equal(t, "説明", product.Description)

		products, err := s.ListProducts(ctx)
		require.NoError(t, err)
		require.Len(t, products, 2)
		assert.Equal(t, "P1", products[0].ID)
		assert.Equal(t, "P2", products[1].ID)

		require.NoError(t, s.DeleteProduct(ctx, "P2"))
		_, err = s.GetProduct(ctx, "P2")
		assert.True(t, errors.Is(err, inventory.ErrNotFound))
		assert.True(t, errors.Is(s.DeleteProduct(ctx, "P2"), inventory.ErrNotFound))
		assert.True(t, errors.Is(s.UpdateProduct(ctx, &inventory.Product{ID: "NOPE", Name: "x"}), inventory.ErrNotFound))
	})
}

func TestStorage_LocationLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s inventory.Storage) {
		ctx := context.Background()
		seedEntities(t, s, nil, []string{"WH-B", "WH-A"})

		err := s.CreateLocation(ctx, &inventory.Location{ID: "WH-A", Name: "dup", CreatedAt: baseTime, UpdatedAt: baseTime})
		assert.True(t, errors.Is(err, inventory.ErrConflict))

		location, err := s.GetLocation(ctx, "WH-A")
		require.NoError(t, err)
		location.Address = "東京都"
		require.NoError(t, s.UpdateLocation(ctx, location))

		locations, err := s.ListLocations(ctx)
		require.NoError(t, err)
		require.Len(t, locations, 2)
		assert.Equal(t, "WH-A", locations[0].ID)
		assert.Equal(t, "東京都", locations[0].Address)

		require.NoError(t, s.DeleteLocation(ctx, "WH-B"))
		_, err = s.GetLocation(ctx, "WH-B")
		assert.True(t, errors.Is(err, inventory.ErrNotFound))
	})
}

func TestStorage_MovementLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s inventory.Storage) {
		ctx := context.Background()
		seedEntities(t, s, []string{"P1", "P2"}, []string{"A", "B"})

		first := appendMovement(t, s, "", "A", "P1", 10, baseTime)
		second := appendMovement(t, s, "A", "B", "P1", 4, baseTime.Add(time.Minute))
		assert.Greater(t, second.ID, first.ID)

		got, err := s.GetMovement(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, "A", inventory.StringValue(got.FromLocation))
		assert.Equal(t, "B", inventory.StringValue(got.ToLocation))
		assert.Equal(t, int64(4), got.Quantity)
		assert.True(t, second.Timestamp.Equal(got.Timestamp))

		got.ToLocation = nil
		got.ProductID = "P2"
		got.Quantity = 1
		require.NoError(t, s.UpdateMovement(ctx, got))

		got, err = s.GetMovement(ctx, second.ID)
		require.NoError(t, err)
		assert.Nil(t, got.ToLocation)
		assert.Equal(t, "P2", got.ProductID)
		assert.Equal(t, inventory.MovementKindOutbound, got.Kind())

		require.NoError(t, s.DeleteMovement(ctx, first.ID))
		_, err = s.GetMovement(ctx, first.ID)
		assert.True(t, errors.Is(err, inventory.ErrNotFound))
		assert.True(t, errors.Is(s.DeleteMovement(ctx, first.ID), inventory.ErrNotFound))
		assert.True(t, errors.Is(s.UpdateMovement(ctx, &inventory.Movement{
			ID: 9999, Timestamp: baseTime, ToLocation: inventory.StringPtr("A"), ProductID: "P1", Quantity: 1,
		}), inventory.ErrNotFound))
	})
}

func TestStorage_MovementRequiresExistingReferences(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s inventory.Storage) {
		seedEntities(t, s, []string{"P1"}, []string{"A"})

		err := s.AppendMovement(context.Background(), &inventory.Movement{
			Timestamp: baseTime, ToLocation: inventory.StringPtr("GHOST"), ProductID: "P1", Quantity: 1,
		})
		assert.True(t, inventory.IsValidation(err), "got %v", err)

		err = s.AppendMovement(context.Background(), &inventory.Movement{
			Timestamp: baseTime, ToLocation: inventory.StringPtr("A"), ProductID: "GHOST", Quantity: 1,
		})
		assert.True(t, inventory.IsValidation(err), "got %v", err)
	})
}

func TestStorage_Balances(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s inventory.Storage) {
		ctx := context.Background()
		seedEntities(t, s, []string{"P1", "P2"}, []string{"A", "B", "C"})

		appendMovement(t, s, "", "A", "P1", 10, baseTime)
		appendMovement(t, s, "A", "B", "P1", 4, baseTime.Add(1*time.Minute))
		appendMovement(t, s, "A", "", "P1", 6, baseTime.Add(2*time.Minute)) // Aは0
		appendMovement(t, s, "", "B", "P2", 5, baseTime.Add(3*time.Minute))
		appendMovement(t, s, "B", "", "P2", 7, baseTime.Add(4*time.Minute)) // Bは-2
		appendMovement(t, s, "", "A", "P2", 3, baseTime.Add(5*time.Minute))

		report, err := s.BalanceReport(ctx)
		require.NoError(t, err)
		assert.Equal(t, []inventory.ReportRow{
			{ProductID: "P1", ProductName: "商品 P1", LocationID: "B", LocationName: "倉庫 B", Balance: 4},
			{ProductID: "P2", ProductName: "商品 P2", LocationID: "A", LocationName: "倉庫 A", Balance: 3},
		}, report)

		atA, err := s.LocationBalances(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, []inventory.LocationBalance{
			{ProductID: "P2", ProductName: "商品 P2", Balance: 3},
		}, atA)

		atB, err := s.LocationBalances(ctx, "B")
		require.NoError(t, err)
		assert.Equal(t, []inventory.LocationBalance{
			{ProductID: "P1", ProductName: "商品 P1", Balance: 4},
		}, atB)

		atC, err := s.LocationBalances(ctx, "C")
		require.NoError(t, err)
		assert.NotNil(t, atC)
		assert.Empty(t, atC)

		p1, err := s.ProductBalances(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, []inventory.ReportRow{
			{ProductID: "P1", ProductName: "商品 P1", LocationID: "B", LocationName: "倉庫 B", Balance: 4},
		}, p1)

		counts, err := s.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, &inventory.Counts{Products: 2, Locations: 3, Movements: 6}, counts)
	})
}

func TestStorage_ReferencesBlockDeletes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s inventory.Storage) {
		ctx := context.Background()
		seedEntities(t, s, []string{"P1"}, []string{"A", "B"})
		appendMovement(t, s, "", "A", "P1", 3, baseTime)
		appendMovement(t, s, "A", "B", "P1", 1, baseTime)

		refs, err := s.CountMovementReferences(ctx, inventory.EntityProduct, "P1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), refs)

		refs, err = s.CountMovementReferences(ctx, inventory.EntityLocation, "B")
		require.NoError(t, err)
		assert.Equal(t, int64(1), refs)

		assert.True(t, errors.Is(s.DeleteProduct(ctx, "P1"), inventory.ErrReferenced))
		assert.True(t, errors.Is(s.DeleteLocation(ctx, "A"), inventory.ErrReferenced))

		deleted, err := s.DeleteMovementsByProduct(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		require.NoError(t, s.DeleteProduct(ctx, "P1"))
		require.NoError(t, s.DeleteLocation(ctx, "A"))
	})
}

func TestStorage_ListMovements(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s inventory.Storage) {
		ctx := context.Background()
		seedEntities(t, s, []string{"P1", "P2"}, []string{"A", "B"})

		m1 := appendMovement(t, s, "", "A", "P1", 10, baseTime)
		m2 := appendMovement(t, s, "", "B", "P2", 5, baseTime.Add(time.Hour))
		m3 := appendMovement(t, s, "A", "B", "P1", 2, baseTime.Add(time.Hour)) // 同時刻はID降順
		m4 := appendMovement(t, s, "B", "", "P2", 1, baseTime.Add(2*time.Hour))

		ids := func(ms []inventory.Movement) []int64 {
			out := make([]int64, 0, len(ms))
			for _, m := range ms {
				out = append(out, m.ID)
			}
			return out
		}

		all, err := s.ListMovements(ctx, inventory.MovementFilter{})
		require.NoError(t, err)
		assert.Equal(t, []int64{m4.ID, m3.ID, m2.ID, m1.ID}, ids(all))

		byProduct, err := s.ListMovements(ctx, inventory.MovementFilter{ProductID: "P1"})
		require.NoError(t, err)
		assert.Equal(t, []int64{m3.ID, m1.ID}, ids(byProduct))

		byLocation, err := s.ListMovements(ctx, inventory.MovementFilter{LocationID: "A"})
		require.NoError(t, err)
		assert.Equal(t, []int64{m3.ID, m1.ID}, ids(byLocation))

		from, to := baseTime.Add(30*time.Minute), baseTime.Add(time.Hour)
		inRange, err := s.ListMovements(ctx, inventory.MovementFilter{From: &from, To: &to})
		require.NoError(t, err)
		assert.Equal(t, []int64{m3.ID, m2.ID}, ids(inRange))

		limited, err := s.ListMovements(ctx, inventory.MovementFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []int64{m4.ID, m3.ID}, ids(limited))

		none, err := s.ListMovements(ctx, inventory.MovementFilter{ProductID: "P1", LocationID: "B", To: &from})
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})
}

func TestStorage_AtomicRollsBack(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s inventory.Storage) {
		ctx := context.Background()
		seedEntities(t, s, []string{"P1"}, []string{"A"})
		boom := errors.New("boom")

		err := s.Atomic(ctx, func(tx inventory.Store) error {
			require.NoError(t, tx.CreateProduct(ctx, &inventory.Product{ID: "P2", Name: "x", CreatedAt: baseTime, UpdatedAt: baseTime}))
			require.NoError(t, tx.AppendMovement(ctx, &inventory.Movement{
				Timestamp: baseTime, ToLocation: inventory.StringPtr("A"), ProductID: "P2", Quantity: 1,
			}))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = s.GetProduct(ctx, "P2")
		assert.True(t, errors.Is(err, inventory.ErrNotFound))

		counts, err := s.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), counts.Movements)

		require.NoError(t, s.Ping(ctx))
	})
}

func TestSQLiteStorage_MigrationVersion(t *testing.T) {
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "ledger.db"), zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	version, dirty, err := s.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
	assert.Equal(t, DriverSQLite, s.Driver())

	// 二回目の適用は変更なし
	require.NoError(t, s.MigrateUp())
}

func TestOpen(t *testing.T) {
	s, err := Open(DriverMemory, "", zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)

	s, err = Open(DriverSQLite, filepath.Join(t.TempDir(), "open.db"), zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	s, err = Open("oracle", "", zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestRebindNumbered(t *testing.T) {
	assert.Equal(t,
		"SELECT * FROM movements WHERE from_location = ?1 OR to_location = ?1 LIMIT ?12",
		rebindNumbered("SELECT * FROM movements WHERE from_location = $1 OR to_location = $1 LIMIT $12"),
	)
}
