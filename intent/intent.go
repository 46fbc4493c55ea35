// Package intent routes queries to a specialist variant. Classification is
// deterministic keyword scoring: it never fails outward, and anything it
// cannot place confidently falls through to the general variant.
package intent

import (
	"log/slog"
	"strings"

	"github.com/edmondsbay/consult/dialog"
	"github.com/edmondsbay/consult/pkg/logging"
)

// Config tunes the classifier.
type Config struct {
	// ConfidenceThreshold is the minimum confidence to accept a non-general
	// label. Below it, routing defaults to general.
	ConfidenceThreshold float64
	Logger              *slog.Logger
}

// DefaultConfig returns the standard routing policy.
func DefaultConfig() *Config {
	return &Config{
		ConfidenceThreshold: 0.2,
	}
}

// Option customizes the classifier.
type Option func(*Config)

// WithConfidenceThreshold overrides the default-to-general cutoff.
func WithConfidenceThreshold(t float64) Option {
	return func(c *Config) {
		if t >= 0 && t <= 1 {
			c.ConfidenceThreshold = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Classifier assigns exactly one intent label per query.
type Classifier struct {
	cfg      *Config
	logger   *slog.Logger
	keywords map[dialog.IntentLabel][]string
	urgent   []string
}

// NewClassifier builds a classifier with the built-in dental keyword sets.
func NewClassifier(opts ...Option) *Classifier {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.WithComponent("intent")
	}
	return &Classifier{
		cfg:      cfg,
		logger:   logger,
		keywords: defaultKeywords(),
		urgent:   urgentKeywords(),
	}
}

// Classify assigns an intent label. It always produces exactly one label: an
// urgent keyword short-circuits to emergency; otherwise the best keyword
// score wins, falling back to general below the confidence threshold.
// Deterministic for identical (query, history) inputs.
func (c *Classifier) Classify(query dialog.Query, history dialog.Context) dialog.RoutedQuery {
	text := strings.ToLower(query.RawText)

	for _, kw := range c.urgent {
		if strings.Contains(text, kw) {
			c.logger.Debug("urgent keyword matched", "query_id", query.ID, "keyword", kw)
			return dialog.RoutedQuery{Query: query, Intent: dialog.IntentEmergency, Confidence: 1.0}
		}
	}

	best := dialog.IntentGeneral
	bestScore := 0
	totalMatches := 0
	// fixed label order keeps ties deterministic
	for _, label := range []dialog.IntentLabel{dialog.IntentDiagnosis, dialog.IntentTreatment, dialog.IntentPrevention} {
		score := 0
		for _, kw := range c.keywords[label] {
			if strings.Contains(text, kw) {
				score++
			}
		}
		totalMatches += score
		if score > bestScore {
			bestScore = score
			best = label
		}
	}

	confidence := c.confidence(bestScore, totalMatches, text, history)
	if best != dialog.IntentGeneral && confidence < c.cfg.ConfidenceThreshold {
		c.logger.Debug("confidence below threshold, routing to general",
			"query_id", query.ID, "candidate", best, "confidence", confidence)
		best = dialog.IntentGeneral
	}

	return dialog.RoutedQuery{Query: query, Intent: best, Confidence: confidence}
}

// confidence maps the keyword score onto [0,1]. A follow-up in the same
// conversation inherits a small bonus when the prior turn shares the label's
// vocabulary, which stabilizes routing across short follow-up questions.
func (c *Classifier) confidence(bestScore, totalMatches int, text string, history dialog.Context) float64 {
	if bestScore == 0 {
		return 0
	}
	conf := float64(bestScore) / float64(totalMatches+1)
	words := len(strings.Fields(text))
	if words > 0 && bestScore >= 2 {
		conf += 0.2
	}
	if last, ok := history.LastTurn(); ok && last.Response.Intent != dialog.IntentGeneral {
		conf += 0.05
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func urgentKeywords() []string {
	return []string{
		"emergency", "urgent", "unbearable", "severe pain", "excruciating",
		"knocked out", "broken tooth", "bleeding won't stop", "swollen face",
		"can't sleep", "right now", "immediately", "swelling spreading",
	}
}

func defaultKeywords() map[dialog.IntentLabel][]string {
	return map[dialog.IntentLabel][]string{
		dialog.IntentDiagnosis: {
			"symptom", "pain", "ache", "hurts", "sensitive", "sensitivity",
			"swollen", "swelling", "bleeding", "what is wrong", "why does",
			"diagnos", "cavity", "decay", "infection", "abscess", "loose tooth",
			"bad breath", "sore", "lump", "spot", "discolor",
		},
		dialog.IntentTreatment: {
			"treatment", "procedure", "filling", "crown", "root canal",
			"extraction", "implant", "braces", "invisalign", "whitening",
			"veneer", "denture", "surgery", "anesthesia", "how long does",
			"recovery", "cost", "options for", "fix", "repair", "replace",
		},
		dialog.IntentPrevention: {
			"prevent", "prevention", "avoid", "hygiene", "brushing", "floss",
			"mouthwash", "diet", "checkup", "cleaning", "fluoride", "sealant",
			"care for", "maintain", "healthy", "daily routine", "how often",
		},
	}
}
