package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"facedetect/internal/app"
	"facedetect/internal/config"
	"facedetect/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	log := logger.NewLogger(cfg)
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := app.NewCLI(cfg, log).RunContext(ctx, os.Args); err != nil {
		log.Error("%v", err)
		return 1
	}
	return 0
}
