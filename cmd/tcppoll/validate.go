package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/tcppoll"
	"github.com/jpalmerr/tcppoll/config"
)

// validateCmd validates a config file without connecting.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a tcppoll configuration file without connecting to anything.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  tcppoll validate -c tcppoll.yaml
  tcppoll validate --config /etc/tcppoll/tcppoll.yaml`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := checkClientOptions(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// resolve the effective settings the way the client would
	variant := tcppoll.VariantBye
	if cfg.Variant != "" {
		variant, _ = tcppoll.LookupVariant(cfg.Variant)
	}
	period := variant.SendPeriod
	if cfg.SendPeriod != 0 {
		period = cfg.SendPeriod.Duration()
	}
	timeout := variant.ResponseTimeout
	if cfg.ResponseTimeout != 0 {
		timeout = cfg.ResponseTimeout.Duration()
	}
	term := variant.TerminationToken
	if cfg.TerminationToken != "" {
		term = cfg.TerminationToken
	}
	framing := cfg.Framing
	if framing == "" {
		framing = string(tcppoll.FramingRaw)
	}

	target := "from command line"
	if cfg.Host != "" && cfg.Port != 0 {
		t, err := tcppoll.NewTarget(cfg.Host, cfg.Port)
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		target = t.Addr()
	}
	requests := "until the server ends the session"
	if cfg.Requests != nil {
		requests = fmt.Sprint(*cfg.Requests)
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Target:           %s\n", target)
	fmt.Printf("  Variant:          %s\n", variant.Name)
	fmt.Printf("  Send period:      %s\n", period)
	fmt.Printf("  Response timeout: %s\n", timeout)
	fmt.Printf("  Termination:      %s\n", term)
	fmt.Printf("  Framing:          %s\n", framing)
	fmt.Printf("  Requests:         %s\n", requests)

	return nil
}

// checkClientOptions builds a client from cfg so that settings rejected only
// in combination (such as identical ack and termination tokens) fail here
// too. A placeholder target stands in when the file names none.
func checkClientOptions(cfg *config.Config) error {
	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return err
	}
	placeholder, err := tcppoll.NewTarget("localhost", 1)
	if err != nil {
		return err
	}
	_, err = tcppoll.New(append([]tcppoll.Option{tcppoll.WithTarget(placeholder)}, opts...)...)
	return err
}
