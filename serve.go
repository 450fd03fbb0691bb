package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/raidloot/server/api/rest"
	"github.com/kasuganosora/raidloot/server/api/sse"
	apows "github.com/kasuganosora/raidloot/server/api/ws"
	"github.com/kasuganosora/raidloot/server/gearimport"
	mw "github.com/kasuganosora/raidloot/server/middleware"
	"github.com/kasuganosora/raidloot/server/scheduler"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfgPath)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, logger := a.cfg, a.logger

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof)); err != nil {
		return fmt.Errorf("maxprocs: %w", err)
	}

	if cfg.Security.JWTSecret == "" {
		return errors.New("security.jwt_secret must be set")
	}
	if cfg.Server.AdminKey == "" && len(cfg.Server.AdminIPs) == 0 {
		logger.Warn("server.admin_key and server.admin_ips are empty; /metrics and /api/ops are open")
	}

	if _, err := a.seed(ctx); err != nil {
		return err
	}

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()
	stats := scheduler.StatsTask(a.engine, a.metrics, logger)
	sched.RunNow("stats", stats)
	if cfg.Scheduler.StatsInterval > 0 {
		sched.AddTicker("stats", cfg.Scheduler.StatsInterval, stats)
	}

	// ---- Gear import ----
	var gear rest.GearFetcher
	if cfg.GearImport.BaseURL != "" {
		gear = gearimport.NewClient(cfg.GearImport, a.cache, logger)
		logger.Info("gear import enabled", zap.String("base_url", cfg.GearImport.BaseURL))
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger, a.metrics), mw.Recovery(logger))
	r.Use(mw.RateLimit(ctx, rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	ops := mw.AdminGuard(cfg.Server.AdminKey, cfg.Server.AdminIPs)
	r.GET("/metrics", ops, gin.WrapH(a.metrics.Handler()))

	auth := mw.Auth(cfg.Security, a.cache, a.members)
	rest.Register(r.Group("/api"), auth, ops, rest.Handlers{
		Auth:        rest.NewAuthHandler(a.members, a.cache, cfg.Security, a.audit, logger),
		Members:     rest.NewMemberHandler(a.members, gear, a.audit, logger),
		Acquisition: rest.NewAcquisitionHandler(a.engine, a.states, a.audit, logger),
		Weeks:       rest.NewWeekHandler(a.weeks, a.engine, a.audit, logger),
		Assignments: rest.NewAssignmentHandler(a.engine, a.ledger, a.members, a.audit, logger),
		Admin:       rest.NewAdminHandler(a.members, a.engine, a.audit, sched, logger),
	})

	sseH := sse.NewHandler(a.notifier, logger)
	r.GET("/sse", auth, sseH.ServeSSE)
	wsH := apows.NewHandler(a.notifier, cfg.Security, logger)
	r.GET("/ws", auth, wsH.ServeWS)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}
