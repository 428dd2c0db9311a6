package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/tcppoll"
	"github.com/jpalmerr/tcppoll/internal/mockserver"
)

func main() {
	// local poll server that pushes a message every third request and ends
	// the session on the eighth
	srv := &mockserver.Server{PushEvery: 3, TerminateAfter: 8}
	addr, err := srv.Start("127.0.0.1:0")
	if err != nil {
		slog.Error("failed to start mock server", "error", err)
		os.Exit(1)
	}
	defer srv.Close()

	host, port, _ := net.SplitHostPort(addr)
	target, err := tcppoll.ParseTarget(host, port)
	if err != nil {
		slog.Error("invalid target", "error", err)
		os.Exit(1)
	}

	c, err := tcppoll.New(
		tcppoll.WithTarget(target),
		tcppoll.WithSendPeriod(500*time.Millisecond),
		tcppoll.WithResponseTimeout(200*time.Millisecond),
		tcppoll.WithTranscript(true),
		tcppoll.WithEventCallback(func(ev tcppoll.Event) {
			if ev.Kind == tcppoll.KindReceived && ev.Response == tcppoll.ResponseUnrecognized {
				fmt.Printf("  push from server: %s\n", ev.Payload)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create client", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  tcppoll demo: polling", addr, "every 500ms")
	fmt.Println("  The server ends the session after 8 requests. Ctrl+C stops early.")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Run(ctx); err != nil {
		slog.Error("tcppoll error", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("  %d requests sent, transcript:\n\n", c.RequestsSent())
	_ = c.WriteTranscript(os.Stdout)
}
