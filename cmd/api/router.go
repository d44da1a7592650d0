package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// requestIDHeader carries the per-request correlation id
const requestIDHeader = "X-Request-ID"

// routerOptions controls optional router features
// ルーターのオプション機能を制御
type routerOptions struct {
	EnableCORS bool
	Registry   *prometheus.Registry // nilの場合は/metricsを公開しない
}

// setupRouter sets up HTTP routes
// HTTPルートを設定
func setupRouter(handlers *Handlers, opts routerOptions) *mux.Router {
	router := mux.NewRouter()

	// ヘルスチェック
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	if opts.Registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	// API v1ルート
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/summary", handlers.Summary).Methods("GET")
	api.HandleFunc("/report", handlers.GetReport).Methods("GET")

	// 商品管理
	api.HandleFunc("/products", handlers.CreateProduct).Methods("POST")
	api.HandleFunc("/products", handlers.ListProducts).Methods("GET")
	api.HandleFunc("/products/{productId}", handlers.GetProduct).Methods("GET")
	api.HandleFunc("/products/{productId}", handlers.UpdateProduct).Methods("PUT")
	api.HandleFunc("/products/{productId}", handlers.DeleteProduct).Methods("DELETE")
	api.HandleFunc("/products/{productId}/stock", handlers.GetProductStock).Methods("GET")

	// ロケーション管理
	api.HandleFunc("/locations", handlers.CreateLocation).Methods("POST")
	api.HandleFunc("/locations", handlers.ListLocations).Methods("GET")
	api.HandleFunc("/locations/{locationId}", handlers.GetLocation).Methods("GET")
	api.HandleFunc("/locations/{locationId}", handlers.UpdateLocation).Methods("PUT")
	api.HandleFunc("/locations/{locationId}", handlers.DeleteLocation).Methods("DELETE")
	api.HandleFunc("/locations/{locationId}/inventory", handlers.GetLocationInventory).Methods("GET")

	// 移動記録
	api.HandleFunc("/movements", handlers.CreateMovement).Methods("POST")
	api.HandleFunc("/movements", handlers.ListMovements).Methods("GET")
	api.HandleFunc("/movements/{movementId}", handlers.GetMovement).Methods("GET")
	api.HandleFunc("/movements/{movementId}", handlers.UpdateMovement).Methods("PUT")
	api.HandleFunc("/movements/{movementId}", handlers.DeleteMovement).Methods("DELETE")

	// CORS設定
	if opts.EnableCORS {
		router.Use(corsMiddleware)
	}

	// ログ機能
	router.Use(loggingMiddleware(handlers.logger))

	if opts.Registry != nil {
		router.Use(newHTTPMetrics(opts.Registry).middleware)
	}

	return router
}

// corsMiddleware allows cross-origin access from any origin
// 全オリジンからのアクセスを許可するCORSミドルウェア
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+requestIDHeader)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func record(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// loggingMiddleware logs HTTP requests and tags them with a request id
// HTTPリクエストをログ出力するミドルウェア
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(requestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, requestID)

			// リクエスト処理
			rec := record(w)
			next.ServeHTTP(rec, r)

			// ログ出力
			logger.Info("HTTPリクエスト",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
				zap.Int("status", rec.status),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// httpMetrics holds request counters and latency histograms
// HTTPリクエストのメトリクスを保持
type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zailedger_http_requests_total",
			Help: "HTTPリクエスト数",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zailedger_http_request_duration_seconds",
			Help:    "HTTPリクエスト処理時間",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *httpMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := record(w)
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.duration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
