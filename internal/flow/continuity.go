package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/FlowRouter/internal/models"
	"github.com/BTreeMap/FlowRouter/internal/state"
)

// Staleness tiers for resumption messages, in hours since last update.
const (
	// RestartOfferThresholdHours is the age past which the customer is
	// offered an explicit continue-or-restart choice.
	RestartOfferThresholdHours = 24.0
)

// Engine decides whether an inbound message belongs to a waiting flow.
type Engine struct {
	states *state.StateStore
}

// NewEngine creates a continuity engine over the given state store.
func NewEngine(states *state.StateStore) *Engine {
	slog.Debug("Creating continuity Engine")
	return &Engine{states: states}
}

// CheckContinuity reports whether phone has an active (possibly stale)
// flow waiting for a reply. It never returns an error: a malformed phone
// means no active flow, and an unexpected store failure defers to the
// router so the message still gets classified.
func (e *Engine) CheckContinuity(ctx context.Context, rawPhone string) models.ContinuityDecision {
	st, err := e.states.Get(ctx, rawPhone)
	if err != nil {
		if errors.Is(err, models.ErrInvalidPhone) || errors.Is(err, models.ErrEmptyRecipient) {
			slog.Warn("Continuity check on unnormalizable phone, treating as no active flow", "error", err, "phone", rawPhone)
			return models.ContinuityDecision{Reason: models.ReasonNoActiveFlow}
		}
		slog.Error("Continuity check failed, deferring to router", "error", err, "phone", rawPhone)
		return models.ContinuityDecision{Reason: models.ReasonDeferToRouter}
	}
	if st == nil {
		slog.Debug("Continuity check: no active flow", "phone", rawPhone)
		return models.ContinuityDecision{Reason: models.ReasonNoActiveFlow}
	}

	hours := time.Since(st.UpdatedAt).Hours()
	timeout := st.StepTimeoutHours
	if timeout <= 0 {
		timeout = models.DefaultStepTimeoutHours
	}

	decision := models.ContinuityDecision{
		ShouldContinueInFlow: true,
		ActiveFlowID:         st.ActiveFlowID,
		ActiveStep:           st.ActiveStep,
		ExpectedInput:        st.ExpectedInput,
		HoursSinceUpdate:     hours,
		LastQuestionText:     st.LastQuestionText,
		Reason:               models.ReasonActiveFlowContinue,
	}
	// Staleness does not abandon the flow; it flags the caller to offer
	// rehydration context while still routing to the same flow.
	if hours >= timeout {
		decision.IsStale = true
		decision.Reason = models.ReasonFlowStepStale
		slog.Info("Continuity check: flow step stale", "phone", rawPhone, "flowID", st.ActiveFlowID, "step", st.ActiveStep, "hoursSinceUpdate", hours)
		return decision
	}

	slog.Debug("Continuity check: active flow continues", "phone", rawPhone, "flowID", st.ActiveFlowID, "step", st.ActiveStep)
	return decision
}

// ResumptionInfo is a "welcome back" message shaped by how long the
// conversation sat idle.
type ResumptionInfo struct {
	Message          string  `json:"message"`
	OffersRestart    bool    `json:"offers_restart"`
	HoursSinceUpdate float64 `json:"hours_since_update"`
}

// GetResumptionInfo builds the rehydration message for a phone with an
// active flow. Returns nil if there is nothing to resume.
func (e *Engine) GetResumptionInfo(ctx context.Context, rawPhone string) (*ResumptionInfo, error) {
	st, err := e.states.Get(ctx, rawPhone)
	if err != nil {
		return nil, fmt.Errorf("failed to load state for resumption: %w", err)
	}
	if st == nil {
		return nil, nil
	}

	hours := time.Since(st.UpdatedAt).Hours()
	info := &ResumptionInfo{HoursSinceUpdate: hours}

	switch {
	case hours > RestartOfferThresholdHours:
		info.OffersRestart = true
		info.Message = fmt.Sprintf(
			"¡Hola de nuevo! 👋 Nos quedamos armando %s (íbamos en %s). ¿Quieres continuar donde lo dejamos o empezar de nuevo? Responde *continuar* o *reiniciar*.",
			FlowDisplayName(st.ActiveFlowID), StepDisplayName(st.ActiveStep))
	case hours >= models.DefaultStepTimeoutHours:
		info.Message = fmt.Sprintf("Retomemos %s. Te preguntaba: %s",
			FlowDisplayName(st.ActiveFlowID), st.LastQuestionText)
	default:
		info.Message = st.LastQuestionText
	}

	slog.Debug("Resumption info built", "phone", rawPhone, "hoursSinceUpdate", hours, "offersRestart", info.OffersRestart)
	return info, nil
}
