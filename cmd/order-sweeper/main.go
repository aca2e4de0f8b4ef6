package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/HomePlate/OrderTrack/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	s, closeFn, err := buildSweeper(cfg, defaultSweeperFactories())
	if err != nil {
		panic(err)
	}
	if closeFn != nil {
		defer closeFn()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		err := runSweeperHTTPServer(ctx, sweeperHTTPOpts{
			httpAddr:    cfg.Orders.SweeperHTTPAddr,
			swaggerPath: os.Getenv("swaggerPath"),
			sweeper:     s,
			cfg:         cfg,
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("sweeper http server", "error", err.Error())
		}
	}()

	if err := s.Run(ctx); err != nil && err != context.Canceled {
		panic(err)
	}
}
