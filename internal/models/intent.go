// Package models defines routing decision types to avoid circular imports.
package models

import "time"

// IntentSource identifies which step of the routing cascade produced a result.
type IntentSource string

const (
	// SourceFlowContinuity means an active flow claimed the message.
	SourceFlowContinuity IntentSource = "flow_continuity"
	// SourceYesNoFastPath means a short confirmation was resolved directly.
	SourceYesNoFastPath IntentSource = "yes_no_fastpath"
	// SourceContext means session context resolved the message without rerouting.
	SourceContext IntentSource = "context"
	// SourceRule means a keyword rule matched.
	SourceRule IntentSource = "rule"
	// SourceClassifier means the pattern classifier produced the intent.
	SourceClassifier IntentSource = "classifier"
	// SourceAI means the AI fallback produced the intent.
	SourceAI IntentSource = "ai"
	// SourceMenu means no step matched and the menu fallback applied.
	SourceMenu IntentSource = "menu"
)

// IntentResult is the outcome of routing a single inbound message.
// It is computed fresh per message and never stored as-is.
type IntentResult struct {
	Intent      string            `json:"intent"`
	Confidence  int               `json:"confidence"` // 0-100
	Source      IntentSource      `json:"source"`
	Reason      string            `json:"reason,omitempty"`
	ShouldRoute bool              `json:"should_route"`
	TargetFlow  string            `json:"target_flow,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ContinuityReason explains a continuity decision.
type ContinuityReason string

const (
	// ReasonNoActiveFlow means nothing is waiting for this phone.
	ReasonNoActiveFlow ContinuityReason = "NO_ACTIVE_FLOW"
	// ReasonActiveFlowContinue means an active flow should receive the message.
	ReasonActiveFlowContinue ContinuityReason = "ACTIVE_FLOW_CONTINUE"
	// ReasonFlowStepStale means the active step exceeded its timeout; the
	// flow still receives the message, flagged for rehydration.
	ReasonFlowStepStale ContinuityReason = "FLOW_STEP_STALE"
	// ReasonDeferToRouter means an unexpected error occurred and the rest of
	// the cascade should classify the message normally.
	ReasonDeferToRouter ContinuityReason = "DEFER_TO_ROUTER"
)

// ContinuityDecision is the result of checking whether an active flow is
// waiting for a reply from a phone.
type ContinuityDecision struct {
	ShouldContinueInFlow bool             `json:"should_continue_in_flow"`
	ActiveFlowID         string           `json:"active_flow_id,omitempty"`
	ActiveStep           string           `json:"active_step,omitempty"`
	ExpectedInput        ExpectedInput    `json:"expected_input,omitempty"`
	IsStale              bool             `json:"is_stale"`
	HoursSinceUpdate     float64          `json:"hours_since_update"`
	Reason               ContinuityReason `json:"reason"`
	LastQuestionText     string           `json:"last_question_text,omitempty"`
}

// Session carries conversation context supplied by the caller alongside a
// message. It is advisory: the router consults it for contextual matches
// and flow preservation, never for durable state.
// Buying-intent stages tracked on a session, in rough funnel order.
const (
	BuyingIntentBrowsing = "browsing"
	BuyingIntentInterest = "interest"
	BuyingIntentDecision = "decision"
)

type Session struct {
	Phone           string    `json:"phone"`
	CurrentFlow     string    `json:"current_flow,omitempty"`
	CurrentStage    string    `json:"current_stage,omitempty"`
	Interests       []string  `json:"interests,omitempty"`
	BuyingIntent    string    `json:"buying_intent,omitempty"`
	PriceDiscussed  bool      `json:"price_discussed,omitempty"`
	LastInteraction time.Time `json:"last_interaction,omitempty"`
}
