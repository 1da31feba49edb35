package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/f5qa/respool/pkg/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRespoolCtlCmd(&cli.CmdCtx{Context: ctx})
	if err := cmd.Execute(); err != nil {
		stop()
		os.Exit(1)
	}
}
