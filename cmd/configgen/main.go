package main

import (
	"fmt"
	"io"
	"os"

	"github.com/danmuck/wser/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func defaultPath(kind string) (string, error) {
	switch kind {
	case config.KindServer:
		return "cmd/wserd/config.toml", nil
	case config.KindClient:
		return "cmd/wserctl/config.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	kind := flags.StringP("kind", "k", config.KindServer, "config kind: server|client")
	output := flags.StringP("output", "o", "", "output path for config template (default per-kind cmd path)")
	validate := flags.Bool("validate", false, "validate an existing config file")
	input := flags.StringP("input", "i", "", "config path for validation (default per-kind cmd path)")
	force := flags.Bool("force", false, "overwrite existing config file")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if *validate {
		path := *input
		if path == "" {
			p, err := defaultPath(*kind)
			if err != nil {
				fmt.Fprintf(stderr, "configgen: %v\n", err)
				return 1
			}
			path = p
		}
		if err := config.Validate(path, *kind); err != nil {
			fmt.Fprintf(stderr, "configgen: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Validated %s config at %s\n", *kind, path)
		return 0
	}

	target := *output
	if target == "" {
		p, err := defaultPath(*kind)
		if err != nil {
			fmt.Fprintf(stderr, "configgen: %v\n", err)
			return 1
		}
		target = p
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		fmt.Fprintf(stderr, "configgen: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Wrote %s config template to %s\n", *kind, target)
	return 0
}
