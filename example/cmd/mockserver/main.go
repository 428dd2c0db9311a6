// Standalone poll server for trying out the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver --addr :5000 --terminate-after 5
//
// Then in another terminal:
//
//	go run ./cmd/tcppoll localhost 5000
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/tcppoll/internal/mockserver"
	"github.com/jpalmerr/tcppoll/internal/wire"
)

var rootCmd = &cobra.Command{
	Use:   "mockserver",
	Short: "Run a scriptable TCP poll server",
	Long: `mockserver answers REQUEST<n> messages with ACK.

It can end sessions with a termination token after a number of requests,
push "Hello World! (Msg No. n)" messages, or stay silent so that client
timeouts fire.`,
	Args: cobra.NoArgs,
	RunE: run,
}

func init() {
	f := rootCmd.Flags()
	f.String("addr", ":5000", "listen address")
	f.String("ack", "ACK", "acknowledgement token")
	f.String("terminator", "BYE", "termination token (CLOSE for the close variant)")
	f.Int("terminate-after", 0, "send the terminator instead of ACK on this request (0 = never)")
	f.Int("hang-up-after", 0, "close without a token after this many requests (0 = never)")
	f.Int("push-every", 0, "answer every n-th request with a push message (0 = never)")
	f.Bool("silent", false, "never reply")
	f.Duration("reply-delay", 0, "delay before each reply")
	f.String("framing", "raw", "message framing: raw, line or length")
}

func run(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	f := cmd.Flags()

	addr, _ := f.GetString("addr")
	framingName, _ := f.GetString("framing")
	framing, err := wire.ParseFraming(framingName)
	if err != nil {
		return err
	}

	srv := &mockserver.Server{Framing: framing, Logger: logger}
	srv.AckToken, _ = f.GetString("ack")
	srv.TerminationToken, _ = f.GetString("terminator")
	srv.TerminateAfter, _ = f.GetInt("terminate-after")
	srv.HangUpAfter, _ = f.GetInt("hang-up-after")
	srv.PushEvery, _ = f.GetInt("push-every")
	srv.Silent, _ = f.GetBool("silent")
	srv.ReplyDelay, _ = f.GetDuration("reply-delay")

	bound, err := srv.Start(addr)
	if err != nil {
		return err
	}
	fmt.Printf("Mock poll server listening on %s\n", bound)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	return srv.Close()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
