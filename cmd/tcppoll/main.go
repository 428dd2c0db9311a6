// Package main is the entry point for the tcppoll CLI.
//
// tcppoll can be used either as a library (SDK) or as a standalone binary.
// This CLI provides the standalone binary approach.
//
// Usage:
//
//	tcppoll hostName portNum [number_of_requests]   # Poll a server
//	tcppoll localhost 5000 -c tcppoll.yaml          # Poll with a config file
//	tcppoll -c tcppoll.yaml                         # Poll the host and port in the file
//	tcppoll validate -c tcppoll.yaml                # Validate configuration
//	tcppoll version                                 # Show version info
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// usageLine is printed when the positional arguments are missing.
const usageLine = "usage: tcppoll hostName portNum [number_of_requests]"

// ErrUsage is returned when the command line does not name a target.
var ErrUsage = errors.New(usageLine)

// rootCmd polls a server when given a target and shows help otherwise.
var rootCmd = &cobra.Command{
	Use:   "tcppoll hostName portNum [number_of_requests]",
	Short: "Poll a TCP server over one persistent connection",
	Long: `tcppoll connects to a TCP server, sends REQUEST0, REQUEST1, ... on a
fixed cadence and logs every reply.

The server acknowledges each request with ACK and ends the session with the
termination token (BYE, or CLOSE in the close variant), which tcppoll echoes
before disconnecting. Without number_of_requests, tcppoll polls until the
server ends the session or it is interrupted (Ctrl+C); with it, tcppoll sends
that many requests and then closes the connection itself.

Example:
  tcppoll localhost 5000
  tcppoll localhost 5000 10 --variant close
  tcppoll localhost 5000 -c tcppoll.yaml --transcript session.jsonl
  tcppoll -c tcppoll.yaml

The positional arguments may be left out when the config file sets both
host and port. When given, they override the file.`,
	Args:          validateArgs,
	RunE:          runClient,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// validateArgs rejects command lines without a host and port before anything
// is dialed. No arguments at all are accepted with a config file, which must
// then name the target itself.
func validateArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			return nil
		}
	}
	if len(args) < 2 || len(args) > 3 {
		return ErrUsage
	}
	return nil
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this tcppoll binary.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tcppoll %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
