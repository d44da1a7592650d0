package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockStorage はテスト用のStorageモック
type MockStorage struct {
	mock.Mock
}

// Atomic はモック自身をトランザクションとしてfnを実行する
func (m *MockStorage) Atomic(ctx context.Context, fn func(tx Store) error) error {
	m.Called(ctx)
	return fn(m)
}

func (m *MockStorage) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStorage) CreateProduct(ctx context.Context, product *Product) error {
	args := m.Called(ctx, product)
	return args.Error(0)
}

func (m *MockStorage) GetProduct(ctx context.Context, productID string) (*Product, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Product), args.Error(1)
}

func (m *MockStorage) UpdateProduct(ctx context.Context, product *Product) error {
	args := m.Called(ctx, product)
	return args.Error(0)
}

func (m *MockStorage) DeleteProduct(ctx context.Context, productID string) error {
	args := m.Called(ctx, productID)
	return args.Error(0)
}

func (m *MockStorage) ListProducts(ctx context.Context) ([]Product, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Product), args.Error(1)
}

func (m *MockStorage) CreateLocation(ctx context.Context, location *Location) error {
	args := m.Called(ctx, location)
	return args.Error(0)
}

func (m *MockStorage) GetLocation(ctx context.Context, locationID string) (*Location, error) {
	args := m.Called(ctx, locationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Location), args.Error(1)
}

func (m *MockStorage) UpdateLocation(ctx context.Context, location *Location) error {
	args := m.Called(ctx, location)
	return args.Error(0)
}

func (m *MockStorage) DeleteLocation(ctx context.Context, locationID string) error {
	args := m.Called(ctx, locationID)
	return args.Error(0)
}

func (m *MockStorage) ListLocations(ctx context.Context) ([]Location, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Location), args.Error(1)
}

func (m *MockStorage) AppendMovement(ctx context.Context, movement *Movement) error {
	args := m.Called(ctx, movement)
	return args.Error(0)
}

func (m *MockStorage) GetMovement(ctx context.Context, movementID int64) (*Movement, error) {
	args := m.Called(ctx, movementID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Movement), args.Error(1)
}

func (m *MockStorage) UpdateMovement(ctx context.Context, movement *Movement) error {
	args := m.Called(ctx, movement)
	return args.Error(0)
}

func (m *MockStorage) DeleteMovement(ctx context.Context, movementID int64) error {
	args := m.Called(ctx, movementID)
	return args.Error(0)
}

func (m *MockStorage) DeleteMovementsByProduct(ctx context.Context, productID string) (int64, error) {
	args := m.Called(ctx, productID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Movement), args.Error(1)
}

func (m *MockStorage) CountMovementReferences(ctx context.Context, entity EntityKind, id string) (int64, error) {
	args := m.Called(ctx, entity, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) LocationBalances(ctx context.Context, locationID string) ([]LocationBalance, error) {
	args := m.Called(ctx, locationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]LocationBalance), args.Error(1)
}

func (m *MockStorage) ProductBalances(ctx context.Context, productID string) ([]ReportRow, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ReportRow), args.Error(1)
}

func (m *MockStorage) BalanceReport(ctx context.Context) ([]ReportRow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ReportRow), args.Error(1)
}

func (m *MockStorage) Counts(ctx context.Context) (*Counts, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Counts), args.Error(1)
}

func newTestManager(config *Config) (*Manager, *MockStorage) {
	mockStorage := new(MockStorage)
	logger := zap.NewNop()
	if config == nil {
		config = &Config{
			ProductDeleteCascade: false,
			DefaultListLimit:     0,
		}
	}
	return NewManager(mockStorage, nil, logger, config), mockStorage
}

// TestManager_CreateProduct は商品登録のテスト
func TestManager_CreateProduct(t *testing.T) {
	manager, mockStorage := newTestManager(nil)
	ctx := context.Background()

	// モックの期待値設定
	mockStorage.On("Atomic", ctx).Return()
	mockStorage.On("GetProduct", ctx, "WIDGET-1").Return(nil, NewNotFoundError(EntityProduct, "WIDGET-1"))
	mockStorage.On("CreateProduct", ctx, mock.AnythingOfType("*inventory.Product")).Return(nil)

	// テスト実行 - IDは正規化される
	product, err := manager.CreateProduct(ctx, "  widget-1 ", " ウィジェット ", "")

	// アサーション
	require.NoError(t, err)
	assert.Equal(t, "WIDGET-1", product.ID)
	assert.Equal(t, "ウィジェット", product.Name)
	assert.False(t, product.CreatedAt.IsZero())
	mockStorage.AssertExpectations(t)
}

// TestManager_CreateProduct_Conflict は重複IDのテスト
func TestManager_CreateProduct_Conflict(t *testing.T) {
	manager, mockStorage := newTestManager(nil)
	ctx := context.Background()

	mockStorage.On("Atomic", ctx).Return()
	mockStorage.On("GetProduct", ctx, "WIDGET-1").Return(&Product{ID: "WIDGET-1", Name: "既存"}, nil)

	_, err := manager.CreateProduct(ctx, "widget-1", "ウィジェット", "")

	assert.True(t, errors.Is(err, ErrConflict))
	mockStorage.AssertNotCalled(t, "CreateProduct", mock.Anything, mock.Anything)
	mockStorage.AssertExpectations(t)
}

// TestManager_CreateProduct_Validation は入力エラー時にストレージへ到達しないことのテスト
func TestManager_CreateProduct_Validation(t *testing.T) {
	manager, mockStorage := newTestManager(nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		productID string
		product   string
		field     string
	}{
		{"empty id", "   ", "名前", "product_id"},
		{"bad id", "a b", "名前", "product_id"},
		{"empty name", "P1", "  ", "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.CreateProduct(ctx, tt.productID, tt.product, "")

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	mockStorage.AssertNotCalled(t, "Atomic", mock.Anything)
}

// TestManager_CreateProductWithStock は初期在庫付き商品登録のテスト
func TestManager_CreateProductWithStock(t *testing.T) {
	manager, mockStorage := newTestManager(nil)
	ctx := context.Background()

	mockStorage.On("Atomic", ctx).Return()
	mockStorage.On("GetProduct", ctx, "P1").Return(nil, NewNotFoundError(EntityProduct, "P1")).Once()
	mockStorage.On("CreateProduct", ctx, mock.AnythingOfType("*inventory.Product")).Return(nil)
	mockStorage.On("GetProduct", ctx, "P1").Return(&Product{ID: "P1", Name: "商品"}, nil)
	mockStorage.On("GetLocation", ctx, "WH-1").Return(&Location{ID: "WH-1", Name: "倉庫"}, nil)
	mockStorage.On("AppendMovement", ctx, mock.AnythingOfType("*inventory.Movement")).
		Run(func(args mock.Arguments) { args.Get(1).(*Movement).ID = 7 }).
		Return(nil)

	product, movement, err := manager.CreateProductWithStock(ctx, "p1", "商品", "", "wh-1", 25)

	require.NoError(t, err)
	assert.Equal(t, "P1", product.ID)
	assert.Equal(t, int64(7), movement.ID)
	assert.Nil(t, movement.FromLocation)
	assert.Equal(t, "WH-1", StringValue(movement.ToLocation))
	assert.Equal(t, int64(25), movement.Quantity)
	mockStorage.AssertExpectations(t)
}

// TestManager_CreateMovement は移動記録作成のテスト
func TestManager_CreateMovement(t *testing.T) {
	manager, mockStorage := newTestManager(nil)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.FixedZone("JST", 9*3600))

	mockStorage.On("Atomic", ctx).Return()
	mockStorage.On("GetProduct", ctx, "P1").Return(&Product{ID: "P1"}, nil)
	mockStorage.On("GetLocation", ctx, "A").Return(&Location{ID: "A"}, nil)
	mockStorage.On("GetLocation", ctx, "B").Return(&Location{ID: "B"}, nil)
	mockStorage.On("AppendMovement", ctx, mock.AnythingOfType("*inventory.Movement")).
		Run(func(args mock.Arguments) { args.Get(1).(*Movement).ID = 1 }).
		Return(nil)

	movement, err := manager.CreateMovement(ctx, MovementInput{
		FromLocation: "a",
		ToLocation:   "b",
		ProductID:    "p1",
		Quantity:     5,
		Timestamp:    &at,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(1), movement.ID)
	assert.Equal(t, MovementKindTransfer, movement.Kind())
	assert.Equal(t, time.UTC, movement.Timestamp.Location())
	assert.True(t, at.Truncate(time.Microsecond).Equal(movement.Timestamp))
	mockStorage.AssertExpectations(t)
}

// TestManager_CreateMovement_Invalid は不正な移動記録のテスト
func TestManager_CreateMovement_Invalid(t *testing.T) {
	manager, mockStorage := newTestManager(nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		input MovementInput
		field string
	}{
		{"zero qty", MovementInput{ToLocation: "A", ProductID: "P1", Quantity: 0}, "qty"},
		{"negative qty", MovementInput{ToLocation: "A", ProductID: "P1", Quantity: -3}, "qty"},
		{"no locations", MovementInput{ProductID: "P1", Quantity: 1}, "location"},
		{"blank locations", MovementInput{FromLocation: " ", ToLocation: "", ProductID: "P1", Quantity: 1}, "location"},
		{"same location", MovementInput{FromLocation: "a", ToLocation: "A", ProductID: "P1", Quantity: 1}, "location"},
		{"missing product", MovementInput{ToLocation: "A", Quantity: 1}, "product_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.CreateMovement(ctx, tt.input)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	mockStorage.AssertNotCalled(t, "Atomic", mock.Anything)
}

// TestManager_CreateMovement_UnknownLocation は存在しないロケーション参照のテスト
func TestManager_CreateMovement_UnknownLocation(t *testing.T) {
	manager, mockStorage := newTestManager(nil)
	ctx := context.Background()

	mockStorage.On("Atomic", ctx).Return()
	mockStorage.On("GetProduct", ctx, "P1").Return(&Product{ID: "P1"}, nil)
	mockStorage.On("GetLocation", ctx, "GHOST").Return(nil, NewNotFoundError(EntityLocation, "GHOST"))

	_, err := manager.CreateMovement(ctx, MovementInput{ToLocation: "ghost", ProductID: "P1", Quantity: 1})

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "to_location", ve.Field)
	mockStorage.AssertNotCalled(t, "AppendMovement", mock.Anything, mock.Anything)
}

// TestManager_UpdateMovement_KeepsTimestamp は更新時に記録日時が維持されることのテスト
func TestManager_UpdateMovement_KeepsTimestamp(t *testing.T) {
	manager, mockStorage := newTestManager(nil)
	ctx := context.Background()
	recorded := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	existing := &Movement{ID: 3, Timestamp: recorded, ToLocation: StringPtr("A"), ProductID: "P1", Quantity: 10}

	mockStorage.On("Atomic", ctx).Return()
	mockStorage.On("GetMovement", ctx, int64(3)).Return(existing, nil)
	mockStorage.On("GetProduct", ctx, "P1").Return(&Product{ID: "P1"}, nil)
	mockStorage.On("GetLocation", ctx, "A").Return(&Location{ID: "A"}, nil)
	mockStorage.On("UpdateMovement", ctx, mock.MatchedBy(func(m *Movement) bool {
		return m.ID == 3 && m.Timestamp.Equal(recorded) && m.FromLocation != nil && *m.FromLocation == "A" && m.ToLocation == nil
	})).Return(nil)

	updated, err := manager.UpdateMovement(ctx, 3, MovementInput{FromLocation: "A", ProductID: "P1", Quantity: 4})

	require.NoError(t, err)
	assert.Equal(t, MovementKindOutbound, updated.Kind())
	mockStorage.AssertExpectations(t)
}

// TestManager_UpdateMovement_NotFound は存在しない移動記録の更新テスト
func TestManager_UpdateMovement_NotFound(t *testing.T) {
	manager, mockStorage := newTestManager(nil)
	ctx := context.Background()

	mockStorage.On("Atomic", ctx).Return()
	mockStorage.On("GetMovement", ctx, int64(42)).Return(nil, NewNotFoundError(EntityMovement, "42"))

	_, err := manager.UpdateMovement(ctx, 42, MovementInput{ToLocation: "A", ProductID: "P1", Quantity: 1})

	assert.True(t, errors.Is(err, ErrNotFound))
	mockStorage.AssertNotCalled(t, "UpdateMovement", mock.Anything, mock.Anything)
}

// TestManager_DeleteProduct_Referenced は参照中商品の削除拒否テスト
func TestManager_DeleteProduct_Referenced(t *testing.T) {
	manager, mockStorage := newTestManager(nil)
	ctx := context.Background()

	mockStorage.On("Atomic", ctx).Return()
	mockStorage.On("GetProduct", ctx, "P1").Return(&Product{ID: "P1"}, nil)
	mockStorage.On("CountMovementReferences", ctx, EntityProduct, "P1").Return(int64(3), nil)

	err := manager.DeleteProduct(ctx, "p1")

	var re *ReferencedError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, int64(3), re.References)
	assert.True(t, errors.Is(err, ErrReferenced))
	mockStorage.AssertNotCalled(t, "DeleteProduct", mock.Anything, mock.Anything)
	mockStorage.AssertNotCalled(t, "DeleteMovementsByProduct", mock.Anything, mock.Anything)
}

// TestManager_DeleteProduct_Cascade は連鎖削除設定のテスト
func TestManager_DeleteProduct_Cascade(t *testing.T) {
	manager, mockStorage := newTestManager(&Config{ProductDeleteCascade: true})
	ctx := context.Background()

	mockStorage.On("Atomic", ctx).Return()
	mockStorage.On("GetProduct", ctx, "P1").Return(&Product{ID: "P1"}, nil)
	mockStorage.On("CountMovementReferences", ctx, EntityProduct, "P1").Return(int64(3), nil)
	mockStorage.On("DeleteMovementsByProduct", ctx, "P1").Return(int64(3), nil)
	mockStorage.On("DeleteProduct", ctx, "P1").Return(nil)

	err := manager.DeleteProduct(ctx, "P1")

	assert.NoError(t, err)
	mockStorage.AssertExpectations(t)
}

// TestManager_DeleteLocation_Referenced は参照中ロケーションの削除拒否テスト
func TestManager_DeleteLocation_Referenced(t *testing.T) {
	manager, mockStorage := newTestManager(&Config{ProductDeleteCascade: true})
	ctx := context.Background()

	mockStorage.On("Atomic", ctx).Return()
	mockStorage.On("GetLocation", ctx, "A").Return(&Location{ID: "A"}, nil)
	mockStorage.On("CountMovementReferences", ctx, EntityLocation, "A").Return(int64(1), nil)

	err := manager.DeleteLocation(ctx, "a")

	assert.True(t, errors.Is(err, ErrReferenced))
	mockStorage.AssertNotCalled(t, "DeleteLocation", mock.Anything, mock.Anything)
}

// TestManager_GetLocationInventory_Unknown は存在しないロケーションの照会テスト
func TestManager_GetLocationInventory_Unknown(t *testing.T) {
	manager, mockStorage := newTestManager(nil)
	ctx := context.Background()

	mockStorage.On("GetLocation", ctx, "NOWHERE").Return(nil, NewNotFoundError(EntityLocation, "NOWHERE"))

	_, err := manager.GetLocationInventory(ctx, "nowhere")

	assert.True(t, errors.Is(err, ErrNotFound))
	mockStorage.AssertNotCalled(t, "LocationBalances", mock.Anything, mock.Anything)
}

// TestManager_GetProductStock は商品別在庫のテスト
func TestManager_GetProductStock(t *testing.T) {
	manager, mockStorage := newTestManager(nil)
	ctx := context.Background()

	rows := []ReportRow{
		{ProductID: "P1", LocationID: "A", Balance: 4},
		{ProductID: "P1", LocationID: "B", Balance: 6},
	}
	mockStorage.On("GetProduct", ctx, "P1").Return(&Product{ID: "P1", Name: "商品"}, nil)
	mockStorage.On("ProductBalances", ctx, "P1").Return(rows, nil)

	stock, err := manager.GetProductStock(ctx, "p1")

	require.NoError(t, err)
	assert.Equal(t, int64(10), stock.Total)
	assert.Equal(t, rows, stock.Balances)
	mockStorage.AssertExpectations(t)
}

// TestManager_ListMovements_DefaultLimit はデフォルト件数適用のテスト
func TestManager_ListMovements_DefaultLimit(t *testing.T) {
	manager, mockStorage := newTestManager(&Config{DefaultListLimit: 50})
	ctx := context.Background()

	mockStorage.On("ListMovements", ctx, MovementFilter{ProductID: "P1", Limit: 50}).Return(nil, nil)

	movements, err := manager.ListMovements(ctx, MovementFilter{ProductID: " p1 "})

	require.NoError(t, err)
	assert.NotNil(t, movements)
	assert.Empty(t, movements)
	mockStorage.AssertExpectations(t)
}

// TestManager_StorageErrorIsWrapped はストレージ層の生エラーがStorageErrorになることのテスト
func TestManager_StorageErrorIsWrapped(t *testing.T) {
	manager, mockStorage := newTestManager(nil)
	ctx := context.Background()

	mockStorage.On("BalanceReport", ctx).Return(nil, errors.New("connection reset"))

	_, err := manager.GetFullReport(ctx)

	assert.True(t, IsStorage(err))
	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "balance_report", se.Operation)
}

// ベンチマークテスト
func BenchmarkManager_CreateMovement(b *testing.B) {
	mockStorage := new(MockStorage)
	manager := NewManager(mockStorage, nil, zap.NewNop(), nil)
	ctx := context.Background()

	mockStorage.On("Atomic", ctx).Return()
	mockStorage.On("GetProduct", ctx, "P1").Return(&Product{ID: "P1"}, nil)
	mockStorage.On("GetLocation", ctx, "A").Return(&Location{ID: "A"}, nil)
	mockStorage.On("AppendMovement", ctx, mock.AnythingOfType("*inventory.Movement")).Return(nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		manager.CreateMovement(ctx, MovementInput{ToLocation: "A", ProductID: "P1", Quantity: int64(i + 1)})
	}
}
