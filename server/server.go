package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server bundles the stores, the lifecycle engine and the HTTP router.
type Server struct {
	config *Config
	logger *slog.Logger
	mongo  *MongoStore
	cache  ProfileCache
	engine *Engine
	http   *http.Server
}

// NewServer wires a server from configuration: MongoDB for metadata
// and profiles, S3 for content, Redis for the profile cache when an
// address is configured, NoOpCache otherwise.
func NewServer(ctx context.Context, config *Config, logger *slog.Logger) (*Server, error) {
	mongo, err := NewMongoStore(ctx, config.MongoDB.URI, config.MongoDB.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create MongoDB store: %v", err)
	}

	content, err := NewS3ContentStore(config.S3.Region, config.S3.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %v", err)
	}

	var cache ProfileCache = &NoOpCache{}
	if config.Redis.Address != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		redisCache, err := NewRedisCache(connectCtx, config.Redis.Address, config.Redis.TTLSeconds)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without profile cache", "error", err)
		} else {
			cache = redisCache
			logger.Info("profile cache connected", "address", config.Redis.Address)
		}
	}

	perms := Permissions{SuperuserGroup: config.Server.SuperuserGroup}
	engine := NewEngine(logger, mongo.Blobs, content, mongo.Profiles, cache, perms, config.Server.BaseURL, config.Server.PageLimit)

	h := &handlers{
		logger:   logger,
		engine:   engine,
		metadata: mongo.Blobs,
		profiles: mongo.Profiles,
		cache:    cache,
		perms:    perms,
	}
	router := newRouter(h, config.Server.RateLimitRPS, config.Server.RateLimitBurst)

	return &Server{
		config: config,
		logger: logger,
		mongo:  mongo,
		cache:  cache,
		engine: engine,
		http: &http.Server{
			Addr:    fmt.Sprintf(":%d", config.Server.HTTPPort),
			Handler: router,
		},
	}, nil
}

// Start serves HTTP until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the HTTP listener down gracefully and disconnects the
// stores.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}
	if closer, ok := s.cache.(*RedisCache); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn("failed to close Redis client", "error", err)
		}
	}
	return s.mongo.Close(ctx)
}
