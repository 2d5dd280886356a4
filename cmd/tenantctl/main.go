// Command tenantctl sends requests to the tenant API through the resilient client.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/JohnPlummer/jp-go-tenantclient/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
