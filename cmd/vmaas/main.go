// Package main is the entry point for the vmaas CLI.
//
// vmaas deploys a MAAS controller and its nodes onto libvirt virtual
// machines: it defines the VMs, waits for the controller to come up and
// then configures it through its API.
//
// For detailed usage information, run:
//
//	vmaas --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imamik/vmaas/cmd/vmaas/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
