// Package formatter renders an approved draft into the final patient-facing
// text. Formatting is pure: no I/O, no failure modes beyond an empty draft,
// which signals an upstream bug.
package formatter

import (
	"fmt"
	"strings"

	"github.com/edmondsbay/consult/dialog"
	consulterrors "github.com/edmondsbay/consult/errors"
)

// Config carries the presentation settings.
type Config struct {
	// ClinicName appears in the closing line.
	ClinicName string
	// Disclaimer is appended to every response.
	Disclaimer string
	// DegradedPreface leads responses released after the quality gate gave up.
	DegradedPreface string
}

// DefaultConfig returns the standard presentation.
func DefaultConfig() *Config {
	return &Config{
		ClinicName: "Edmonds Bay Dental",
		Disclaimer: "This information is educational and not a substitute for professional dental advice. " +
			"Please consult a dentist for diagnosis and treatment.",
		DegradedPreface: "I wasn't able to fully verify this answer against our reference material, " +
			"so please treat it as general guidance:",
	}
}

// Option customizes the formatter.
type Option func(*Config)

// WithClinicName overrides the clinic name in the closing line.
func WithClinicName(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.ClinicName = name
		}
	}
}

// WithDisclaimer overrides the appended disclaimer.
func WithDisclaimer(d string) Option {
	return func(c *Config) { c.Disclaimer = d }
}

// Formatter converts drafts into final response text.
type Formatter struct {
	cfg *Config
}

// New builds a formatter.
func New(opts ...Option) *Formatter {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Formatter{cfg: cfg}
}

// headers gives each intent its own lead-in; emergencies get an action-first
// framing instead of a pleasantry.
var headers = map[dialog.IntentLabel]string{
	dialog.IntentDiagnosis:  "Here's what your symptoms could indicate:",
	dialog.IntentTreatment:  "Here's an overview of the treatment:",
	dialog.IntentPrevention: "Here's how to protect your oral health:",
	dialog.IntentEmergency:  "This needs prompt attention. What to do now:",
	dialog.IntentGeneral:    "",
}

// Format renders the final text. An empty draft is fatal: the pipeline must
// never reach the formatter without content.
func (f *Formatter) Format(draft string, label dialog.IntentLabel, degraded bool) (string, error) {
	draft = strings.TrimSpace(draft)
	if draft == "" {
		return "", consulterrors.ErrEmptyDraft
	}

	var b strings.Builder
	if degraded {
		b.WriteString(f.cfg.DegradedPreface)
		b.WriteString("\n\n")
	}
	if h := headers[label]; h != "" {
		b.WriteString(h)
		b.WriteString("\n\n")
	}
	b.WriteString(draft)

	if label == dialog.IntentEmergency {
		b.WriteString("\n\nIf you have facial swelling, trouble breathing or swallowing, " +
			"or uncontrolled bleeding, go to an emergency room immediately.")
	}
	if f.cfg.Disclaimer != "" {
		b.WriteString("\n\n")
		b.WriteString(f.cfg.Disclaimer)
	}
	if f.cfg.ClinicName != "" {
		fmt.Fprintf(&b, "\n\n- %s", f.cfg.ClinicName)
	}
	return b.String(), nil
}
