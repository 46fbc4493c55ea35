// Package specialist holds the reasoning variants behind intent routing. Each
// variant shares one contract and differs only in how it frames the domain;
// adding a variant means registering it, not touching the orchestrator.
package specialist

import (
	"context"
	"fmt"
	"sync"

	"github.com/edmondsbay/consult/dialog"
	consulterrors "github.com/edmondsbay/consult/errors"
	"github.com/edmondsbay/consult/quality"
	"github.com/edmondsbay/consult/retrieval"
)

// Step is one intermediate reasoning move.
type Step struct {
	Thought       string `json:"thought"`
	Justification string `json:"justification"`
}

// Trace is the structured chain of reasoning behind one draft. Immutable once
// produced; every reprompt iteration produces a fresh one.
type Trace struct {
	Steps       []Step `json:"steps"`
	DraftAnswer string `json:"draft_answer"`
}

// Validate enforces the multi-step requirement: a trace with no intermediate
// steps is malformed and never reaches the quality gate.
func (t Trace) Validate() error {
	if len(t.Steps) == 0 {
		return fmt.Errorf("%w: no reasoning steps", consulterrors.ErrMalformedTrace)
	}
	if t.DraftAnswer == "" {
		return fmt.Errorf("%w: no draft answer", consulterrors.ErrMalformedTrace)
	}
	return nil
}

// Specialist produces a reasoning trace for a routed query. When feedback
// from a failed quality check is supplied, the next trace must address it.
type Specialist interface {
	Reason(ctx context.Context, routed dialog.RoutedQuery, rc retrieval.RankedContext, feedback []quality.FailureReason) (Trace, error)
}

// Registry maps intent labels to specialists.
type Registry struct {
	mu       sync.RWMutex
	variants map[dialog.IntentLabel]Specialist
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{variants: make(map[dialog.IntentLabel]Specialist)}
}

// Register binds a specialist to a label, replacing any previous binding.
func (r *Registry) Register(label dialog.IntentLabel, s Specialist) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[label] = s
}

// Lookup returns the specialist for a label, falling back to the general
// variant so routing never dead-ends.
func (r *Registry) Lookup(label dialog.IntentLabel) (Specialist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.variants[label]; ok {
		return s, nil
	}
	if s, ok := r.variants[dialog.IntentGeneral]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: no specialist for intent %q", consulterrors.ErrNotFound, label)
}

// Labels lists registered labels.
func (r *Registry) Labels() []dialog.IntentLabel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]dialog.IntentLabel, 0, len(r.variants))
	for l := range r.variants {
		out = append(out, l)
	}
	return out
}
