package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcequill/backend/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to start: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("server listening", "port", a.Cfg.Port)
		errCh <- a.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.Log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			a.Log.Error("server failed", "error", err)
		}
	}
}
