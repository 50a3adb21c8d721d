// Command agentdoor-gated is a demo host process embedding the gate: it
// assembles a gate.Config from config file/env vars with viper, mounts a
// single protected route behind AgentRequired, serves Prometheus metrics,
// and shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/0xaron/agentdoor/internal/gate"
	"github.com/0xaron/agentdoor/internal/gate/memstore"
	"github.com/0xaron/agentdoor/internal/gate/pgstore"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("agentdoor-gated exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("agentdoor-gated")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("gate.port", 8080)
	viper.SetDefault("gate.service_name", "AgentDoor Demo Host")
	viper.SetDefault("gate.service_tag", "agentdoor")
	viper.SetDefault("gate.route_prefix", "/agentdoor")
	viper.SetDefault("gate.token_ttl_seconds", 3600)
	viper.SetDefault("gate.max_timestamp_drift_seconds", 300)
	viper.SetDefault("gate.pending_ttl_seconds", 0)
	viper.SetDefault("gate.scopes", []string{"read", "write"})
	viper.SetDefault("gate.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("database.url", "")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Store: memstore by default, pgstore when database.url is set ────────
	var store gate.Store
	var pool *pgxpool.Pool
	if dsn := viper.GetString("database.url"); dsn != "" {
		var err error
		pool, err = pgxpool.New(context.Background(), dsn)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		store = pgstore.New(pool, gate.RealClock())
	} else {
		logger.Info("no database.url configured, using in-memory store")
		store = memstore.New(gate.RealClock())
	}

	// ── Scopes ────────────────────────────────────────────────────────────────
	var scopes []gate.ScopeDefinition
	for _, name := range viper.GetStringSlice("gate.scopes") {
		scopes = append(scopes, gate.ScopeDefinition{Name: name})
	}

	tokenTTL := time.Duration(viper.GetInt("gate.token_ttl_seconds")) * time.Second
	cfg := gate.Config{
		ServiceName:       viper.GetString("gate.service_name"),
		ServiceTag:        viper.GetString("gate.service_tag"),
		Scopes:            scopes,
		TokenTTL:          gate.Duration(tokenTTL),
		MaxTimestampDrift: time.Duration(viper.GetInt("gate.max_timestamp_drift_seconds")) * time.Second,
		RoutePrefix:       viper.GetString("gate.route_prefix"),
		PendingTTL:        time.Duration(viper.GetInt("gate.pending_ttl_seconds")) * time.Second,
		Store:             store,
		Logger:            logger,
	}
	g := gate.New(cfg)
	defer g.Close()

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     viper.GetStringSlice("gate.cors_origins"),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	router.Use(requestIDMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gate.MetricsHandler())

	g.Register(router)

	// A single demo protected route, gated behind the "read" scope, so the
	// binary is something an operator can actually curl end to end.
	router.GET("/demo/whoami", g.AgentRequired("read"), func(c *gin.Context) {
		agentCtx, _ := gate.AgentFromContext(c)
		c.JSON(http.StatusOK, gin.H{
			"agent_id":   agentCtx.AgentID,
			"agent_name": agentCtx.AgentName,
			"scopes":     agentCtx.Scopes,
		})
	})

	port := viper.GetInt("gate.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("agentdoor-gated listening", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down agentdoor-gated...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if pool != nil {
		pool.Close()
	}

	logger.Info("agentdoor-gated stopped")
	return nil
}

// requestIDMiddleware stamps every request with a UUID, used only for log
// correlation. It is never surfaced in any AgentDoor protocol response.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set("request_id", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		requestID, _ := c.Get("request_id")
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Any("request_id", requestID),
		)
	}
}
