package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/tcppoll"
	"github.com/jpalmerr/tcppoll/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

func init() {
	f := rootCmd.Flags()
	f.StringP("config", "c", "", "path to config file")
	f.String("variant", "", "protocol variant: bye or close")
	f.Duration("period", 0, "time between poll requests (overrides variant)")
	f.Duration("timeout", 0, "response timeout before a warning (overrides variant)")
	f.String("framing", "", "message framing: raw, line or length")
	f.Bool("trim", false, "trim whitespace from replies before matching tokens")
	f.Int("dial-attempts", 0, "connection attempts before giving up")
	f.String("transcript", "", "write the session transcript as JSON lines to this file")
	f.String("log-level", "info", "log level: debug, info, warn or error")
	f.String("log-format", "text", "log format: text or json")
}

// newLogger creates a logger for CLI use writing to w.
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: must be text or json", format)
	}
}

// buildClientOptions merges, in increasing precedence, the config file, the
// flags the user set and the positional arguments.
func buildClientOptions(cmd *cobra.Command, args []string, logger *slog.Logger) ([]tcppoll.Option, error) {
	var opts []tcppoll.Option
	flags := cmd.Flags()
	fileTarget := false

	if configFile, _ := flags.GetString("config"); configFile != "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		fileOpts, err := config.BuildOptions(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build options from config: %w", err)
		}
		opts = append(opts, fileOpts...)
		fileTarget = cfg.Host != "" && cfg.Port != 0
		logger.Debug("config loaded", "path", configFile)
	}

	if flags.Changed("variant") {
		name, _ := flags.GetString("variant")
		v, err := tcppoll.LookupVariant(name)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tcppoll.WithVariant(v))
	}
	if flags.Changed("period") {
		d, _ := flags.GetDuration("period")
		opts = append(opts, tcppoll.WithSendPeriod(d))
	}
	if flags.Changed("timeout") {
		d, _ := flags.GetDuration("timeout")
		opts = append(opts, tcppoll.WithResponseTimeout(d))
	}
	if flags.Changed("framing") {
		f, _ := flags.GetString("framing")
		opts = append(opts, tcppoll.WithFraming(tcppoll.Framing(f)))
	}
	if flags.Changed("trim") {
		trim, _ := flags.GetBool("trim")
		opts = append(opts, tcppoll.WithTrimmedPayloads(trim))
	}
	if path, _ := flags.GetString("transcript"); path != "" {
		opts = append(opts, tcppoll.WithTranscript(true))
	}
	if flags.Changed("dial-attempts") {
		n, _ := flags.GetInt("dial-attempts")
		opts = append(opts, tcppoll.WithDialAttempts(n))
	}

	if len(args) == 0 {
		if !fileTarget {
			return nil, ErrUsage
		}
		return append(opts, tcppoll.WithLogger(logger)), nil
	}

	target, err := tcppoll.ParseTarget(args[0], args[1])
	if err != nil {
		return nil, err
	}
	opts = append(opts, tcppoll.WithTarget(target))

	if len(args) == 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid number_of_requests %q: must be a non-negative number", args[2])
		}
		opts = append(opts, tcppoll.WithRequestBudget(n))
	}

	return append(opts, tcppoll.WithLogger(logger)), nil
}

func runClient(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("log-format")
	level, _ := cmd.Flags().GetString("log-level")
	logger, err := newLogger(cmd.ErrOrStderr(), format, level)
	if err != nil {
		return err
	}

	opts, err := buildClientOptions(cmd, args, logger)
	if err != nil {
		return err
	}

	client, err := tcppoll.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- client.Run(ctx)
	}()

	var runErr error
	select {
	case runErr = <-errChan:
	case <-ctx.Done():
		// signal received, the client sends its shutdown token and closes
		select {
		case runErr = <-errChan:
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
		}
	}

	if path, _ := cmd.Flags().GetString("transcript"); path != "" {
		if err := writeTranscript(client, path); err != nil {
			logger.Error("failed to write transcript", "path", path, "error", err)
			if runErr == nil {
				runErr = err
			}
		}
	}

	return runErr
}

func writeTranscript(client *tcppoll.Client, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating transcript file: %w", err)
	}
	if err := client.WriteTranscript(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
