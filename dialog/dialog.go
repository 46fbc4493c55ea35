// Package dialog defines the data model shared across the consultation
// pipeline: queries, intent routing results, conversation history, and the
// final responses released to callers.
package dialog

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// IntentLabel is the coarse category of a user query. It determines which
// specialist reasoning variant handles the query.
type IntentLabel string

const (
	IntentDiagnosis  IntentLabel = "diagnosis"
	IntentTreatment  IntentLabel = "treatment"
	IntentPrevention IntentLabel = "prevention"
	IntentEmergency  IntentLabel = "emergency"
	IntentGeneral    IntentLabel = "general"
)

// Labels lists every routable intent.
func Labels() []IntentLabel {
	return []IntentLabel{
		IntentDiagnosis,
		IntentTreatment,
		IntentPrevention,
		IntentEmergency,
		IntentGeneral,
	}
}

// Valid reports whether l is one of the known intent labels.
func (l IntentLabel) Valid() bool {
	switch l {
	case IntentDiagnosis, IntentTreatment, IntentPrevention, IntentEmergency, IntentGeneral:
		return true
	}
	return false
}

// Query is one user question. Immutable once created.
type Query struct {
	ID             string    `json:"id"`
	RawText        string    `json:"raw_text"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewQuery builds a Query with a fresh identifier and trimmed text.
func NewQuery(conversationID, text string) Query {
	return Query{
		ID:             uuid.NewString(),
		RawText:        strings.TrimSpace(text),
		ConversationID: conversationID,
		Timestamp:      time.Now(),
	}
}

// RoutedQuery attaches the classifier's routing decision to a query.
type RoutedQuery struct {
	Query      Query       `json:"query"`
	Intent     IntentLabel `json:"intent"`
	Confidence float64     `json:"confidence"`
}

// FinalResponse is the terminal artifact of one orchestration run.
// Degraded marks a best-effort answer released after the reprompt budget ran
// out without passing the quality gate.
type FinalResponse struct {
	Text           string      `json:"text"`
	Intent         IntentLabel `json:"intent"`
	AttemptsUsed   int         `json:"attempts_used"`
	Degraded       bool        `json:"degraded"`
	Confidence     float64     `json:"confidence"`
	ConversationID string      `json:"conversation_id"`
}

// Turn pairs one query with the response released for it.
type Turn struct {
	Query      Query         `json:"query"`
	Response   FinalResponse `json:"response"`
	AppendedAt time.Time     `json:"appended_at"`
}

// Context is the ordered history of prior turns for one conversation,
// bounded to a window. Only the memory manager mutates it.
type Context struct {
	ConversationID string `json:"conversation_id"`
	Turns          []Turn `json:"turns"`
}

// Empty reports whether the context has no prior turns.
func (c Context) Empty() bool {
	return len(c.Turns) == 0
}

// LastTurn returns the most recent turn, if any.
func (c Context) LastTurn() (Turn, bool) {
	if len(c.Turns) == 0 {
		return Turn{}, false
	}
	return c.Turns[len(c.Turns)-1], true
}

// Clone returns a deep copy so callers cannot mutate stored history.
func (c Context) Clone() Context {
	out := Context{ConversationID: c.ConversationID}
	if len(c.Turns) > 0 {
		out.Turns = make([]Turn, len(c.Turns))
		copy(out.Turns, c.Turns)
	}
	return out
}
