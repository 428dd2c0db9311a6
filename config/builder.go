package config

import (
	"github.com/jpalmerr/tcppoll"
)

// BuildOptions converts parsed configuration into SDK options.
//
// The variant preset comes first so that individual settings override it.
// A target option is included only when both host and port are set; callers
// append their own [tcppoll.WithTarget] to override it.
func BuildOptions(cfg *Config) ([]tcppoll.Option, error) {
	var opts []tcppoll.Option

	variant := tcppoll.VariantBye
	if cfg.Variant != "" {
		v, err := tcppoll.LookupVariant(cfg.Variant)
		if err != nil {
			return nil, err
		}
		variant = v
	}
	opts = append(opts, tcppoll.WithVariant(variant))

	if cfg.Host != "" && cfg.Port != 0 {
		target, err := tcppoll.NewTarget(cfg.Host, cfg.Port)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tcppoll.WithTarget(target))
	}

	if cfg.Requests != nil {
		opts = append(opts, tcppoll.WithRequestBudget(*cfg.Requests))
	}
	if cfg.SendPeriod != 0 {
		opts = append(opts, tcppoll.WithSendPeriod(cfg.SendPeriod.Duration()))
	}
	if cfg.ResponseTimeout != 0 {
		opts = append(opts, tcppoll.WithResponseTimeout(cfg.ResponseTimeout.Duration()))
	}
	if cfg.AckToken != "" {
		opts = append(opts, tcppoll.WithAckToken(cfg.AckToken))
	}
	if cfg.TerminationToken != "" {
		opts = append(opts, tcppoll.WithTerminationToken(cfg.TerminationToken))
	}
	if cfg.ShutdownToken != "" {
		opts = append(opts, tcppoll.WithShutdownToken(cfg.ShutdownToken))
	}
	if cfg.RequestLabel != "" {
		opts = append(opts, tcppoll.WithRequestLabel(cfg.RequestLabel))
	}
	if cfg.Framing != "" {
		opts = append(opts, tcppoll.WithFraming(tcppoll.Framing(cfg.Framing)))
	}

	if classifier := buildClassifier(cfg, variant); classifier != nil {
		opts = append(opts, tcppoll.WithClassifier(classifier))
	}
	if cfg.TrimPayloads || cfg.Classifier.Type == "trim" {
		opts = append(opts, tcppoll.WithTrimmedPayloads(true))
	}

	if cfg.DialTimeout != 0 {
		opts = append(opts, tcppoll.WithDialTimeout(cfg.DialTimeout.Duration()))
	}
	if cfg.DialAttempts != 0 {
		opts = append(opts, tcppoll.WithDialAttempts(cfg.DialAttempts))
	}

	return opts, nil
}

// buildClassifier returns a classifier accepting the extra tokens next to the
// configured ones. Returns nil when no extra tokens are given, leaving the
// SDK default in place.
func buildClassifier(cfg *Config, variant tcppoll.Variant) tcppoll.Classifier {
	if len(cfg.Classifier.Acks) == 0 && len(cfg.Classifier.Terminators) == 0 {
		return nil
	}

	ack := cfg.AckToken
	if ack == "" {
		ack = "ACK"
	}
	term := cfg.TerminationToken
	if term == "" {
		term = variant.TerminationToken
	}

	classifiers := []tcppoll.Classifier{tcppoll.ExactClassifier(ack, term)}
	for _, a := range cfg.Classifier.Acks {
		classifiers = append(classifiers, tcppoll.ExactClassifier(a, ""))
	}
	for _, t := range cfg.Classifier.Terminators {
		classifiers = append(classifiers, tcppoll.ExactClassifier("", t))
	}
	return tcppoll.FirstMatch(classifiers...)
}
