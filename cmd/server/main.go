package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pointgrid/pointsledger/internal/app/runtime"
)

func main() {
	// Missing .env is fine; environment variables still apply.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("pointsledger: %v", err)
	}
}

func run(ctx context.Context) error {
	app, err := runtime.NewApplication()
	if err != nil {
		return err
	}

	if err := app.Run(ctx); err != nil {
		return err
	}

	return app.Shutdown(context.Background())
}
