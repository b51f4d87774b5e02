package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/xKoRx/echo-bridge/core/internal"
)

func main() {
	configPath := flag.String("config", "", "Archivo YAML de configuración (default: $ECHO_BRIDGE_CONFIG)")
	envFile := flag.String("env-file", ".env", "Archivo .env opcional")
	debug := flag.Bool("debug", false, "Modo debug de gin")
	flag.Parse()

	if !*debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, internal.LoadOptions{ConfigPath: *configPath, EnvFile: *envFile}); err != nil {
		fmt.Fprintf(os.Stderr, "echo-bridge: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts internal.LoadOptions) error {
	cfg, err := internal.LoadConfig(ctx, opts)
	if err != nil {
		return fmt.Errorf("cargando configuración: %w", err)
	}

	core, err := internal.New(ctx, cfg, internal.WithLoadOptions(opts))
	if err != nil {
		return fmt.Errorf("inicializando core: %w", err)
	}
	return core.Run(ctx)
}
