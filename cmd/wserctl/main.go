// wserctl dials a wser server, optionally invokes one command and
// prints the outcome as JSON. The built-in commands are served back to
// the server for as long as the connection lives.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/wser/internal/client"
	"github.com/danmuck/wser/internal/commands"
	"github.com/danmuck/wser/internal/observability"
	"github.com/danmuck/wser/internal/peer"
	"github.com/spf13/pflag"
)

const (
	exitOK      = 0
	exitError   = 1
	exitFailure = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("wserctl", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintf(stderr, "usage: wserctl [flags] [command [payload]]\n")
		flags.PrintDefaults()
	}
	overrides := bindFlags(flags)
	if err := flags.Parse(args); err != nil {
		return exitError
	}
	rest := flags.Args()
	if len(rest) == 0 && !overrides.serve {
		flags.Usage()
		return exitError
	}
	if len(rest) > 2 {
		fmt.Fprintf(stderr, "wserctl: too many arguments\n")
		return exitError
	}

	cfg, err := loadConfig(overrides)
	if err != nil {
		fmt.Fprintf(stderr, "wserctl: %v\n", err)
		return exitError
	}
	logger := observability.InitLogger("wserctl", cfg.LogLevel)

	c, err := client.New(cfg.Client, logger)
	if err != nil {
		fmt.Fprintf(stderr, "wserctl: %v\n", err)
		return exitError
	}
	if err := commands.Register(c.Commands(), cfg.Commands); err != nil {
		fmt.Fprintf(stderr, "wserctl: %v\n", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := exitOK
	err = c.Run(ctx, func(ctx context.Context, p *peer.Peer) error {
		if len(rest) > 0 {
			var payload any
			if len(rest) == 2 {
				payload = parsePayload(rest[1])
			}
			out := p.Invoke(ctx, rest[0], payload, overrides.timeout)
			if err := writeReport(stdout, out); err != nil {
				return err
			}
			if !out.Success() {
				code = exitFailure
			}
		}
		if overrides.serve {
			<-ctx.Done()
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(stderr, "wserctl: %v\n", err)
		return exitError
	}
	return code
}
