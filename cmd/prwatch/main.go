package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/marcin-skalski/prwatch/internal/cmd"
)

// Build information injected at build time via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	var cli cmd.CLI
	ctx := kong.Parse(&cli,
		kong.Name("prwatch"),
		kong.Description("Real-time open pull request tracker for a GitHub repository"),
		kong.Vars{
			"version": fmt.Sprintf("prwatch %s (commit: %s)", Version, Commit),
		},
		kong.UsageOnError(),
		kong.Bind(&cli),
	)

	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
