package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/f5qa/respool/controllers"
	"github.com/f5qa/respool/pkg/cache"
	"github.com/f5qa/respool/pkg/config"
	"github.com/f5qa/respool/pkg/respool"
	"github.com/f5qa/respool/pkg/server"
	"github.com/f5qa/respool/pkg/utils"
)

func main() {
	var configPath, port, logLevel string
	flag.StringVar(&configPath, "config", "/etc/respool/config.yaml", "absolute path to the configuration file")
	flag.StringVar(&port, "port", "", "server port, overrides the configuration")
	flag.StringVar(&logLevel, "log-level", "info", "logging level (debug, info, warn, error)")
	flag.Parse()

	logger, err := utils.NewLogger(logLevel)
	if err != nil {
		panic(err.Error())
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err.Error())
	}
	if port != "" {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		panic(err.Error())
	}
	defer c.Close()

	factory := respool.NewFactory(c, respool.FactoryOptions{
		Scope:  cfg.Scope,
		Retry:  config.RetryPolicy(cfg.Retry),
		Logger: logger,
	})
	if _, err := factory.Pools(ctx, cfg.Pools); err != nil {
		panic(err.Error())
	}
	if _, err := factory.Ranges(cfg.Ranges); err != nil {
		panic(err.Error())
	}

	sweeper := &controllers.PoolSweeper{
		Pools:    factory,
		Interval: cfg.Sweeper.Interval.Duration,
		Grace:    cfg.Sweeper.Grace.Duration,
		Logger:   logger.WithName("sweeper"),
	}
	go func() {
		_ = sweeper.Start(ctx)
	}()

	srv := server.NewRespoolAPI(cfg.Server.Port, factory, cfg.Server.Tokens, logger.WithName("api"))
	if err := srv.Init(); err != nil {
		panic(err.Error())
	}
	if err := srv.Run(ctx); err != nil {
		logger.Error(err, "server failed")
	}
}
