package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/askcsv/askcsv/internal/cli/askcsvctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	options := askcsvctl.OptionsFromEnv(os.LookupEnv, os.Stdout, os.Stderr)
	code := askcsvctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}
