package cmd

import "github.com/alecthomas/kong"

// CLI represents the command-line interface structure
type CLI struct {
	Version kong.VersionFlag `help:"Show version information"`
	Debug   bool             `help:"Force debug log level" short:"d" env:"PRWATCH_DEBUG"`

	Serve ServeCmd `cmd:"" help:"Track a repository's open PRs and stream changes to clients"`
	Watch WatchCmd `cmd:"" help:"Live terminal dashboard for a running prwatch server"`
}

func (c *CLI) level(configured string) string {
	if c.Debug {
		return "debug"
	}
	return configured
}
