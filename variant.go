package tcppoll

import (
	"fmt"
	"strings"
	"time"
)

// Variant is a named preset for the timing and tokens of a polling client.
//
// Two variants of the polling protocol are in use. They differ in cadence
// and in which word ends a session; [VariantBye] is the default.
type Variant struct {
	// Name identifies the variant in configuration files and flags.
	Name string

	// SendPeriod is the time between poll requests.
	SendPeriod time.Duration

	// ResponseTimeout is how long to wait for a reply before logging a warning.
	ResponseTimeout time.Duration

	// TerminationToken ends a session in either direction.
	TerminationToken string

	// ShutdownToken is written when the client ends the session itself.
	// Empty means TerminationToken.
	ShutdownToken string
}

var (
	// VariantBye polls every 3 seconds, warns after 2 seconds without a
	// reply and ends sessions with "BYE".
	VariantBye = Variant{
		Name:             "bye",
		SendPeriod:       3 * time.Second,
		ResponseTimeout:  2 * time.Second,
		TerminationToken: "BYE",
	}

	// VariantClose polls every 2 seconds, warns after 1 second without a
	// reply and ends sessions with "CLOSE". When the client runs out of
	// requests it announces "CLOSING" instead.
	VariantClose = Variant{
		Name:             "close",
		SendPeriod:       2 * time.Second,
		ResponseTimeout:  1 * time.Second,
		TerminationToken: "CLOSE",
		ShutdownToken:    "CLOSING",
	}
)

// Variants returns the built-in variants.
func Variants() []Variant {
	return []Variant{VariantBye, VariantClose}
}

// LookupVariant returns the built-in variant with the given name. Matching
// ignores case.
func LookupVariant(name string) (Variant, error) {
	for _, v := range Variants() {
		if strings.EqualFold(v.Name, name) {
			return v, nil
		}
	}
	return Variant{}, fmt.Errorf("unknown variant %q: must be %q or %q", name, VariantBye.Name, VariantClose.Name)
}
