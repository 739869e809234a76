package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skylightd/skylight/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ╔═╗┬┌─┬ ┬┬  ┬┌─┐┬ ┬┌┬┐
  ╚═╗├┴┐└┬┘│  ││ ┬├─┤ │
  ╚═╝┴ ┴ ┴ ┴─┘┴└─┘┴ ┴ ┴
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "skylight",
		Short: "Packet engine server and helper tools",
		Long: `Skylight moves typed packets over length-prefixed frames with
negotiated serialization, per-packet compression, and transparent
chunking of large payloads.

  • serve   run the packet echo and introspection server
  • call    invoke a method on a supervised helper subprocess
  • worker  run the helper side of the subprocess bridge
  • version print build information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		callCmd(),
		workerCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

// printBanner prints the Skylight ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}
