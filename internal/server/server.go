package server

import (
	"fmt"
	"net/http"
	"time"

	"product-management/internal/config"
	"product-management/internal/database"
	custommiddleware "product-management/internal/middleware"
	"product-management/internal/repository"
	"product-management/internal/service"
	"product-management/internal/storage"
	"product-management/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Server struct {
	*http.Server
	config *config.Config
	logger *zap.Logger
	db     database.Service
	redis  *redis.Client
}

// NewServer wires the catalog and mounts its routes. redisClient may be nil,
// in which case requests are not rate limited.
func NewServer(cfg *config.Config, logger *zap.Logger, db database.Service, redisClient *redis.Client) (*Server, error) {
	assets, err := storage.NewOSStore(cfg.Assets.Root, cfg.Assets.SmallDir, cfg.Assets.LargeDir)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	for _, mw := range custommiddleware.DefaultMiddlewareStack() {
		router.Use(mw)
	}
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.Server.Env == "development"))
	router.Use(middleware.Compress(5))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health := db.Health()
		status := http.StatusOK
		if health["status"] != "up" {
			status = http.StatusServiceUnavailable
		}
		custommiddleware.RespondWithJSON(w, status, health)
	})

	router.Handle("/assets/*", http.StripPrefix("/assets", assets.Handler()))

	// Initialize services
	catalog := service.NewCatalogService(
		repository.NewCatalogStore(db.DB()),
		assets,
		custommiddleware.NewProductValidator(),
		logger,
		service.Options{
			PageSize: cfg.Catalog.PageSize,
			SmallDir: cfg.Assets.SmallDir,
			LargeDir: cfg.Assets.LargeDir,
		},
	)

	authMiddleware := custommiddleware.AuthMiddleware(cfg.JWT.Secret, logger)

	writer := []func(http.Handler) http.Handler{
		custommiddleware.RequireRole(cfg.Catalog.WriterRoles, logger),
	}
	admin := []func(http.Handler) http.Handler{
		custommiddleware.RequireAdmin(logger),
	}
	if cfg.RateLimit.Enabled && redisClient != nil {
		limiter := custommiddleware.RateLimitMiddleware(redisClient, custommiddleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.Requests,
			Window:            time.Duration(cfg.RateLimit.WindowS) * time.Second,
			KeyPrefix:         "ratelimit:catalog",
		}, logger)
		writer = append(writer, limiter)
		admin = append(admin, limiter)
	}

	transport.NewProductHandler(catalog, logger, cfg.Assets.MaxUploadBytes).RegisterRoutes(router, authMiddleware, writer...)
	transport.NewCategoryHandler(catalog, logger).RegisterRoutes(router, authMiddleware, admin...)

	server := &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      router,
			IdleTimeout:  time.Minute,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
		db:     db,
		redis:  redisClient,
	}

	return server, nil
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	var err error
	if s.redis != nil {
		if closeErr := s.redis.Close(); closeErr != nil {
			s.logger.Error("Failed to close redis client", zap.Error(closeErr))
			err = multierr.Append(err, closeErr)
		}
	}

	if s.db != nil {
		if closeErr := s.db.Close(); closeErr != nil {
			s.logger.Error("Failed to close database connection", zap.Error(closeErr))
			err = multierr.Append(err, closeErr)
		}
	}

	_ = s.logger.Sync()
	return err
}
