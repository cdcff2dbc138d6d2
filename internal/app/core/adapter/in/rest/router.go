package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/jwt"
)

// Deps 路由需要的元件
type Deps struct {
	Processor *usecase.Processor
	Reports   *usecase.ReportGenerator
	Auditor   *usecase.Auditor
	Cache     usecase.BalanceCache
	JWTSecret string

	// 以下可選
	Observer       Observer
	MetricsHandler http.Handler
	Health         HealthCheck
	Logger         *zap.Logger
	Timeout        time.Duration
	// CORSOrigins 空的時候不加 CORS header
	CORSOrigins []string
}

// NewRouter 建立 HTTP 路由
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 30 * time.Second
	}
	h := &Handler{
		processor: deps.Processor,
		reports:   deps.Reports,
		auditor:   deps.Auditor,
		cache:     deps.Cache,
		observer:  deps.Observer,
		health:    deps.Health,
		logger:    deps.Logger,
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(deps.Logger, deps.Observer))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(deps.Timeout))
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", h.Healthz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(Authenticator(deps.JWTSecret))

		r.Post("/transactions", h.PostTransaction)
		r.Get("/balance", h.GetBalance)

		// 報表與稽核只開放給營運人員
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(jwt.RoleOperator))
			r.Get("/reports/{kind}", h.GetReport)
			r.Post("/reports/{kind}/export", h.ExportReport)
			r.Get("/accounts/{key}/reconcile", h.Reconcile)
		})
	})

	return r
}
