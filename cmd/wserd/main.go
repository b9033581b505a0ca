// wserd is the listener: it accepts WebSocket peers on port 5005 by
// default and serves the built-in commands to every one of them.
package main

import (
	"fmt"
	"os"

	"github.com/danmuck/wser/internal/commands"
	"github.com/danmuck/wser/internal/observability"
	"github.com/danmuck/wser/internal/peer"
	"github.com/danmuck/wser/internal/server"
	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("wserd", pflag.ExitOnError)
	overrides := bindFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := loadConfig(overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wserd: %v\n", err)
		os.Exit(1)
	}
	logger := observability.InitLogger("wserd", cfg.LogLevel)

	srv := server.New(cfg.Server, logger)
	if err := commands.Register(srv.Commands(), cfg.Commands); err != nil {
		fmt.Fprintf(os.Stderr, "wserd: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Strs("commands", srv.Commands().Names()).Msg("commands registered")
	srv.OnPeerConnected(func(p *peer.Peer) {
		logger.Info().
			Str("peer", p.ID()).
			Str("remote", p.RemoteAddr()).
			Str("user_agent", p.Header().Get("User-Agent")).
			Msg("peer accepted")
	})

	if err := srv.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "wserd: %v\n", err)
		os.Exit(1)
	}
}
