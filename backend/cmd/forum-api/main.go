package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itchan-dev/threadsync/backend/internal/router"
	"github.com/itchan-dev/threadsync/backend/internal/setup"
	"github.com/itchan-dev/threadsync/shared/config"
	"github.com/itchan-dev/threadsync/shared/domain"
	"github.com/itchan-dev/threadsync/shared/jwt"
	"github.com/itchan-dev/threadsync/shared/logger"
)

func main() {
	var (
		configFolder string
		mint         domain.User
	)
	flag.StringVar(&configFolder, "config_folder", "config", "path to folder with configs")
	flag.Int64Var(&mint.Id, "mint_token", 0, "print an access token for this user id and exit")
	flag.StringVar(&mint.Name, "mint_name", "anon", "display name put into the minted token")
	flag.BoolVar(&mint.Admin, "mint_admin", false, "mint an admin token")
	flag.Parse()

	cfg := config.MustLoad(configFolder)
	logger.Initialize(cfg.Public.LogLevel, cfg.Public.LogJSON)

	if mint.Id != 0 {
		token, err := jwt.New(cfg.JwtKey(), cfg.JwtTTL()).NewToken(mint)
		if err != nil {
			logger.Log.Error("failed to mint token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	deps := setup.SetupDependencies(cfg)
	defer deps.Close()

	addr := cfg.Public.Server.Addr
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.New(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if retention := cfg.Public.Server.DedupeRetention; retention > 0 {
		deps.DedupeGC.StartBackgroundCleanup(ctx, retention/2)
	}

	go func() {
		logger.Log.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown
	deps.Hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("shutdown failed", "error", err)
	}
}
