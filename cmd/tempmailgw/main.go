// Command tempmailgw runs the temp-email gateway: it loads
// configuration, builds the app.Gateway composition root and runs it
// until an interrupt or terminate signal asks it to shut down.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/foxcpp/tempmailgw/internal/app"
	"github.com/foxcpp/tempmailgw/internal/config"
	"github.com/foxcpp/tempmailgw/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML/TOML/JSON config file overlay")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Printf("tempmailgw: %v", err)
		os.Exit(1)
	}

	log := logging.Logger{
		Out:   logging.WriterOutput(os.Stderr, true),
		Name:  "tempmailgw",
		Debug: cfg.Debug,
	}

	gw, err := app.New(cfg, log)
	if err != nil {
		log.Error("tempmailgw: failed to build gateway", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.Start(ctx); err != nil {
		log.Error("tempmailgw: failed to start gateway", err)
		os.Exit(1)
	}
	log.Printf("tempmailgw: gateway started")

	<-ctx.Done()
	log.Printf("tempmailgw: shutdown signal received, draining")

	if err := gw.Stop(); err != nil {
		log.Error("tempmailgw: error during shutdown", err)
		os.Exit(1)
	}
	log.Printf("tempmailgw: shutdown complete")
}
