package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiLedger/pkg/inventory"
)

// Handlers holds HTTP handlers for the ledger API
// 台帳API用のHTTPハンドラーを保持
type Handlers struct {
	manager inventory.InventoryManager
	logger  *zap.Logger
}

// NewHandlers creates new HTTP handlers
// 新しいHTTPハンドラーを作成
func NewHandlers(manager inventory.InventoryManager, logger *zap.Logger) *Handlers {
	return &Handlers{
		manager: manager,
		logger:  logger,
	}
}

// APIResponse represents standard API response format
// 標準的なAPIレスポンス形式を表現
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ProductRequest represents request to create or update a product.
// InitialLocation and InitialQty are only read on create.
// 商品作成・更新リクエストを表現
type ProductRequest struct {
	ProductID       string `json:"product_id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	InitialLocation string `json:"initial_location"`
	InitialQty      int64  `json:"initial_qty"`
}

// LocationRequest represents request to create or update a location
// ロケーション作成・更新リクエストを表現
type LocationRequest struct {
	LocationID string `json:"location_id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
}

// HealthCheck handles health check requests
// ヘルスチェックリクエストを処理
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.manager.Ping(r.Context()); err != nil {
		h.logger.Warn("ヘルスチェックに失敗しました", zap.Error(err))
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	h.sendJSON(w, code, APIResponse{
		Success: code == http.StatusOK,
		Data: map[string]interface{}{
			"status":    status,
			"timestamp": time.Now().UTC(),
			"service":   "zaiLedger",
		},
	})
}

// Summary handles entity count requests
// 件数サマリーリクエストを処理
func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	counts, err := h.manager.GetCounts(r.Context())
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, counts)
}

// ListProducts handles list product requests
// 商品一覧リクエストを処理
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.manager.ListProducts(r.Context())
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, products)
}

// CreateProduct handles create product requests. When an initial location or
// quantity is supplied the product is stocked in the same transaction.
// 商品作成リクエストを処理（初期在庫指定時は同時に入庫）
func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	if req.InitialLocation == "" && req.InitialQty == 0 {
		product, err := h.manager.CreateProduct(r.Context(), req.ProductID, req.Name, req.Description)
		if err != nil {
			h.sendDomainError(w, err)
			return
		}
		h.sendCreated(w, product)
		return
	}

	product, movement, err := h.manager.CreateProductWithStock(r.Context(),
		req.ProductID, req.Name, req.Description, req.InitialLocation, req.InitialQty)
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendCreated(w, map[string]interface{}{
		"product":  product,
		"movement": movement,
	})
}

// GetProduct handles get product requests
// 商品取得リクエストを処理
func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.manager.GetProduct(r.Context(), mux.Vars(r)["productId"])
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, product)
}

// UpdateProduct handles update product requests
// 商品更新リクエストを処理
func (h *Handlers) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	product, err := h.manager.UpdateProduct(r.Context(), mux.Vars(r)["productId"], req.Name, req.Description)
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, product)
}

// DeleteProduct handles delete product requests
// 商品削除リクエストを処理
func (h *Handlers) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteProduct(r.Context(), mux.Vars(r)["productId"]); err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, map[string]string{
		"message": "商品が削除されました",
	})
}

// GetProductStock handles per-product balance requests
// 商品別在庫リクエストを処理
func (h *Handlers) GetProductStock(w http.ResponseWriter, r *http.Request) {
	stock, err := h.manager.GetProductStock(r.Context(), mux.Vars(r)["productId"])
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, stock)
}

// ListLocations handles list location requests
// ロケーション一覧リクエストを処理
func (h *Handlers) ListLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.manager.ListLocations(r.Context())
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, locations)
}

// CreateLocation handles create location requests
// ロケーション作成リクエストを処理
func (h *Handlers) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	location, err := h.manager.CreateLocation(r.Context(), req.LocationID, req.Name, req.Address)
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendCreated(w, location)
}

// GetLocation handles get location requests
// ロケーション取得リクエストを処理
func (h *Handlers) GetLocation(w http.ResponseWriter, r *http.Request) {
	location, err := h.manager.GetLocation(r.Context(), mux.Vars(r)["locationId"])
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, location)
}

// UpdateLocation handles update location requests
// ロケーション更新リクエストを処理
func (h *Handlers) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	location, err := h.manager.UpdateLocation(r.Context(), mux.Vars(r)["locationId"], req.Name, req.Address)
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, location)
}

// DeleteLocation handles delete location requests
// ロケーション削除リクエストを処理
func (h *Handlers) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteLocation(r.Context(), mux.Vars(r)["locationId"]); err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, map[string]string{
		"message": "ロケーションが削除されました",
	})
}

// GetLocationInventory handles location balance requests
// ロケーション在庫リクエストを処理
func (h *Handlers) GetLocationInventory(w http.ResponseWriter, r *http.Request) {
	balances, err := h.manager.GetLocationInventory(r.Context(), mux.Vars(r)["locationId"])
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, balances)
}

// ListMovements handles movement history requests.
// Query parameters: product_id, location_id, from, to (RFC3339 or
// YYYY-MM-DD) and limit.
// 移動履歴リクエストを処理
func (h *Handlers) ListMovements(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := inventory.MovementFilter{
		ProductID:  query.Get("product_id"),
		LocationID: query.Get("location_id"),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "無効なlimitパラメータです")
			return
		}
		filter.Limit = limit
	}

	var err error
	if filter.From, err = parseTimeParam(query.Get("from"), false); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なfromパラメータです")
		return
	}
	if filter.To, err = parseTimeParam(query.Get("to"), true); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なtoパラメータです")
		return
	}

	movements, err := h.manager.ListMovements(r.Context(), filter)
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, movements)
}

// CreateMovement handles create movement requests
// 移動記録作成リクエストを処理
func (h *Handlers) CreateMovement(w http.ResponseWriter, r *http.Request) {
	var req inventory.MovementInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	movement, err := h.manager.CreateMovement(r.Context(), req)
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendCreated(w, movement)
}

// GetMovement handles get movement requests
// 移動記録取得リクエストを処理
func (h *Handlers) GetMovement(w http.ResponseWriter, r *http.Request) {
	movementID, ok := h.movementID(w, r)
	if !ok {
		return
	}

	movement, err := h.manager.GetMovement(r.Context(), movementID)
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, movement)
}

// UpdateMovement handles update movement requests
// 移動記録更新リクエストを処理
func (h *Handlers) UpdateMovement(w http.ResponseWriter, r *http.Request) {
	movementID, ok := h.movementID(w, r)
	if !ok {
		return
	}

	var req inventory.MovementInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	movement, err := h.manager.UpdateMovement(r.Context(), movementID, req)
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, movement)
}

// DeleteMovement handles delete movement requests
// 移動記録削除リクエストを処理
func (h *Handlers) DeleteMovement(w http.ResponseWriter, r *http.Request) {
	movementID, ok := h.movementID(w, r)
	if !ok {
		return
	}

	if err := h.manager.DeleteMovement(r.Context(), movementID); err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, map[string]string{
		"message": "移動記録が削除されました",
	})
}

// GetReport handles full balance report requests
// 全体在庫レポートリクエストを処理
func (h *Handlers) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.manager.GetFullReport(r.Context())
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, report)
}

// ヘルパーメソッド

func (h *Handlers) movementID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	movementID, err := strconv.ParseInt(mux.Vars(r)["movementId"], 10, 64)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "無効な移動IDです")
		return 0, false
	}
	return movementID, true
}

// parseTimeParam accepts RFC3339 or a plain date. A plain date used as an
// upper bound covers the whole day.
func parseTimeParam(value string, endOfDay bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Microsecond)
	}
	return &t, nil
}

// statusFor maps ledger errors to HTTP status codes
// 台帳エラーをHTTPステータスに変換
func statusFor(err error) int {
	switch {
	case inventory.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrConflict), errors.Is(err, inventory.ErrReferenced):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// sendDomainError sends an error response with the status of err
// エラー種別に応じたエラーレスポンスを送信
func (h *Handlers) sendDomainError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("リクエスト処理に失敗しました", zap.Error(err))
		h.sendError(w, code, "内部エラーが発生しました")
		return
	}
	h.sendError(w, code, err.Error())
}

// sendSuccess sends a successful API response
// 成功APIレスポンスを送信
func (h *Handlers) sendSuccess(w http.ResponseWriter, data interface{}) {
	h.sendJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// sendCreated sends a 201 API response
func (h *Handlers) sendCreated(w http.ResponseWriter, data interface{}) {
	h.sendJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// sendError sends an error API response
// エラーAPIレスポンスを送信
func (h *Handlers) sendError(w http.ResponseWriter, statusCode int, message string) {
	h.sendJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

func (h *Handlers) sendJSON(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("レスポンス送信に失敗しました", zap.Error(err))
	}
}
