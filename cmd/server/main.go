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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faucet-backend/internal/common/logger"
	"faucet-backend/internal/common/middleware"
	"faucet-backend/internal/config"
	faucethttp "faucet-backend/internal/features/faucet/delivery/http"
	faucetredis "faucet-backend/internal/features/faucet/repository/redis"
	faucetservice "faucet-backend/internal/features/faucet/service"
	"faucet-backend/internal/metrics"
	"faucet-backend/internal/platform/evm"
	redisp "faucet-backend/internal/platform/redis"
	"faucet-backend/internal/service/geoip"
)

func main() {
	cfg := config.MustLoad()
	logger.Init("faucet-backend", cfg.Debug)
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	rdb, err := redisp.Open(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open redis")
	}
	logger.Info().Str("host", cfg.Redis.Host).Msg("redis connected")

	connectCtx, cancel := context.WithTimeout(ctx, time.Minute)
	ledger, err := evm.Open(connectCtx, cfg.Ledger.RPCURL, cfg.Ledger.PrivateKey)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open ledger client")
	}
	logger.Info().Msg("ledger client ready")

	m := metrics.New(prometheus.DefaultRegisterer)
	repo := faucetredis.NewRepository(rdb)
	geo := geoip.NewService(cfg.Geo.BaseURL)

	svc := faucetservice.New(repo, ledger, geo, faucetservice.Policy{
		DailyClaimCap:  cfg.Faucet.DailyClaimCap,
		DailyAmountCap: cfg.Faucet.DailyAmountCap,
		Cooldown:       time.Duration(cfg.Faucet.CooldownSeconds) * time.Second,
		MinLevel:       cfg.Faucet.MinLevel,
		MaxLevel:       cfg.Faucet.MaxLevel,
		FlatReward:     cfg.Faucet.FlatReward,
		LedgerTimeout:  cfg.Ledger.Timeout,
		DenyIPs:        cfg.Faucet.DenyIPs,
		DenyAddresses:  cfg.Faucet.DenyAddresses,
	}, m)

	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logger(), gin.Recovery(), m.GinMiddleware())

	corsCfg := cors.DefaultConfig()
	if len(cfg.Server.Origins) > 0 {
		corsCfg.AllowOrigins = cfg.Server.Origins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(corsCfg))

	faucethttp.NewHandler(svc).RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	if err := rdb.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close redis")
	}
	logger.Info().Msg("server exited")
}
