// consul-join connects a freshly started consul agent to the existing members of its cluster.
//
// Run it once per node after the agent starts (or as a unit that blocks until it succeeds):
//
//	consul-join -v --static 10.0.0.10 --static 10.0.0.11
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rflandau/consul-join/internal/cli"
)

// set at build time
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Root(os.Stderr, version).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(cli.ExitCode(err))
}
