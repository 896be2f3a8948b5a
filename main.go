package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/poundifdef/queuecheck/cmd/queuecheck"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := queuecheck.Run(ctx, os.Args[1:], os.Stdout, os.Stderr, nil)
	stop()

	os.Exit(code)
}
