package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"feeflow/internal/app"
	"feeflow/internal/config"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := config.NewManager(cfgPath)
	if _, err := mgr.Load(); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := app.New(mgr).Run(ctx); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}
