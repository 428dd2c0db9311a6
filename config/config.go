// Package config provides YAML configuration parsing for tcppoll.
//
// This package lets the tcppoll binary take its settings from a file, as an
// alternative to flags and to the programmatic SDK approach. Positional
// command-line arguments override the target and request budget given here.
//
// Example configuration:
//
//	host: localhost
//	port: 5000
//	requests: 10
//
//	variant: close
//	send_period: 500ms
//	response_timeout: 200ms
//	termination_token: ${POLL_TERMINATOR:-CLOSE}
//	framing: line
//
//	classifier:
//	  type: trim
//	  acks: [OK]
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/tcppoll"
)

// minSendPeriod is the minimum allowed send period for file configs.
// This prevents accidental flooding of a peer with poll requests.
const minSendPeriod = 100 * time.Millisecond

// Config is the root configuration structure for tcppoll.
//
// It maps directly to the YAML configuration file structure. Zero values
// mean "use the default". Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Host is the peer host name or address.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	Host string `yaml:"host"`

	// Port is the peer TCP port.
	Port int `yaml:"port"`

	// Requests is the request budget. Omit it to poll until the peer ends
	// the session.
	Requests *int `yaml:"requests"`

	// Variant names a protocol preset: "bye" (default) or "close".
	Variant string `yaml:"variant"`

	// SendPeriod is the time between poll requests.
	// Accepts duration strings like "3s", "500ms". Must be at least 100ms.
	SendPeriod Duration `yaml:"send_period"`

	// ResponseTimeout is how long to wait for a reply before warning.
	// Must be shorter than the send period.
	ResponseTimeout Duration `yaml:"response_timeout"`

	// AckToken is the peer's acknowledgement. Defaults to "ACK".
	AckToken string `yaml:"ack_token"`

	// TerminationToken ends a session in either direction.
	// Defaults to the variant's token.
	TerminationToken string `yaml:"termination_token"`

	// ShutdownToken is written when the client ends the session itself.
	ShutdownToken string `yaml:"shutdown_token"`

	// RequestLabel prefixes poll requests. Defaults to "REQUEST".
	RequestLabel string `yaml:"request_label"`

	// Framing is "raw" (default), "line" or "length".
	Framing string `yaml:"framing"`

	// TrimPayloads strips surrounding whitespace from replies before
	// classifying them.
	TrimPayloads bool `yaml:"trim_payloads"`

	// Classifier determines how replies are interpreted.
	// Can be shorthand ("exact", "trim") or structured.
	Classifier ClassifierConfig `yaml:"classifier"`

	// DialTimeout bounds each connection attempt. Defaults to 10s.
	DialTimeout Duration `yaml:"dial_timeout"`

	// DialAttempts is how many times to try connecting. Defaults to 1.
	DialAttempts int `yaml:"dial_attempts"`
}

// ClassifierConfig specifies how replies are interpreted.
//
// It supports two formats in YAML:
//
// Shorthand string:
//
//	classifier: exact
//	classifier: trim
//
// Structured object, adding tokens accepted next to the configured ones:
//
//	classifier:
//	  type: trim
//	  acks: [OK, ACKNOWLEDGED]
//	  terminators: [QUIT]
type ClassifierConfig struct {
	// Type is the classifier type: "exact" or "trim". Empty means exact.
	Type string

	// Acks are additional acknowledgement tokens.
	Acks []string

	// Terminators are additional termination tokens.
	Terminators []string
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for ClassifierConfig.
func (c *ClassifierConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		c.Type = strings.TrimSpace(s)
		return nil
	}

	if node.Kind == yaml.MappingNode {
		// temporary struct to avoid infinite recursion
		var raw struct {
			Type        string   `yaml:"type"`
			Acks        []string `yaml:"acks"`
			Terminators []string `yaml:"terminators"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		c.Type = raw.Type
		c.Acks = raw.Acks
		c.Terminators = raw.Terminators
		return nil
	}

	return fmt.Errorf("classifier must be a string or object, got %v", node.Kind)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in the host and in every token.
// Unknown keys are rejected so that typos do not silently fall back to
// defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	fields := []struct {
		name string
		val  *string
	}{
		{"host", &c.Host},
		{"ack_token", &c.AckToken},
		{"termination_token", &c.TerminationToken},
		{"shutdown_token", &c.ShutdownToken},
		{"request_label", &c.RequestLabel},
	}
	for _, f := range fields {
		expanded, err := expandEnvVars(*f.val)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.val = expanded
	}

	if c.Port != 0 && (c.Port < 1 || c.Port > 65535) {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Requests != nil && *c.Requests < 0 {
		return fmt.Errorf("requests cannot be negative, got %d", *c.Requests)
	}

	variant := tcppoll.VariantBye
	if c.Variant != "" {
		v, err := tcppoll.LookupVariant(c.Variant)
		if err != nil {
			return fmt.Errorf("variant: %w", err)
		}
		variant = v
	}

	period := variant.SendPeriod
	if c.SendPeriod != 0 {
		if c.SendPeriod.Duration() < minSendPeriod {
			return fmt.Errorf("send_period must be at least %s, got %s", minSendPeriod, c.SendPeriod.Duration())
		}
		period = c.SendPeriod.Duration()
	}

	timeout := variant.ResponseTimeout
	if c.ResponseTimeout != 0 {
		if c.ResponseTimeout.Duration() < 0 {
			return fmt.Errorf("response_timeout cannot be negative, got %s", c.ResponseTimeout.Duration())
		}
		timeout = c.ResponseTimeout.Duration()
	}
	if timeout > 0 && timeout >= period {
		return fmt.Errorf("response_timeout (%s) must be shorter than send_period (%s)", timeout, period)
	}

	if c.Framing != "" {
		switch tcppoll.Framing(c.Framing) {
		case tcppoll.FramingRaw, tcppoll.FramingLine, tcppoll.FramingLength:
		default:
			return fmt.Errorf("framing must be raw, line or length, got %q", c.Framing)
		}
	}

	ack := c.AckToken
	if ack == "" {
		ack = "ACK"
	}
	term := variant.TerminationToken
	if c.TerminationToken != "" {
		term = c.TerminationToken
	}
	if ack == term {
		return fmt.Errorf("ack_token and termination_token must differ, both are %q", ack)
	}
	if tcppoll.Framing(c.Framing) == tcppoll.FramingLine {
		for _, f := range fields[1:] {
			if strings.ContainsAny(*f.val, "\r\n") {
				return fmt.Errorf("%s %q cannot contain a line break with line framing", f.name, *f.val)
			}
		}
	}

	switch c.Classifier.Type {
	case "", "exact", "trim":
	default:
		return fmt.Errorf("classifier: unknown type %q (expected 'exact' or 'trim')", c.Classifier.Type)
	}
	for _, tok := range append(append([]string(nil), c.Classifier.Acks...), c.Classifier.Terminators...) {
		if tok == "" {
			return errors.New("classifier: tokens cannot be empty")
		}
	}

	if c.DialTimeout.Duration() < 0 {
		return fmt.Errorf("dial_timeout cannot be negative, got %s", c.DialTimeout.Duration())
	}
	if c.DialAttempts < 0 {
		return fmt.Errorf("dial_attempts cannot be negative, got %d", c.DialAttempts)
	}

	return nil
}
