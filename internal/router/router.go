// Package router decides, for every inbound message, whether it belongs to a
// waiting conversation flow or starts a new one. Decisions run through a
// strict cascade: flow continuity first, then contextual fast-paths, keyword
// rules, the pattern classifier, an AI fallback, and finally the menu.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/FlowRouter/internal/classifier"
	"github.com/BTreeMap/FlowRouter/internal/flow"
	"github.com/BTreeMap/FlowRouter/internal/models"
)

// Intents produced by the cascade itself rather than the keyword table.
const (
	IntentContinueStaleFlow  = "continue_stale_flow"
	IntentContinueActiveFlow = "continue_active_flow"
	IntentConfirmationYes    = "confirmation_yes"
	IntentConfirmationNo     = "confirmation_no"
	IntentPoliteCTA          = "polite_response_with_cta"
	IntentCapacity           = "capacity"
	IntentAffirmation        = "affirmation"
	IntentNegation           = "negation"
	IntentMenu               = "menu"
)

// Config holds the cascade thresholds. These are tuning knobs, not protocol:
// changing them shifts how eagerly the router reroutes conversations.
type Config struct {
	// KeywordThreshold is the minimum keyword-group confidence accepted.
	KeywordThreshold int
	// VeryStrongConfidence is the bar a keyword match must clear to steal
	// a conversation away from an active USB flow or a very recent one.
	VeryStrongConfidence int
	// RecencyWindow defines "very recent" for the preservation override.
	RecencyWindow time.Duration
	// ClassifierAccept and ClassifierRoute bound the pattern classifier
	// step, on its native 0-1 scale.
	ClassifierAccept float64
	ClassifierRoute  float64
	// AIAccept and AIRoute bound the AI fallback, on the 0-100 scale.
	AIAccept int
	AIRoute  int
	// ActiveStages lists session stages considered mid-customization for
	// the preservation override.
	ActiveStages []string
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		KeywordThreshold:     85,
		VeryStrongConfidence: 95,
		RecencyWindow:        30 * time.Second,
		ClassifierAccept:     0.70,
		ClassifierRoute:      0.80,
		AIAccept:             60,
		AIRoute:              70,
		ActiveStages: []string{
			"awaiting_capacity",
			"awaiting_genres",
			"awaiting_platform",
			"awaiting_confirmation",
			"customizing",
		},
	}
}

// Router runs the routing cascade. ai may be nil when no AI collaborator is
// configured; the cascade then skips straight from the classifier to the menu.
type Router struct {
	continuity *flow.Engine
	ai         TextGenerator
	cfg        Config
}

func New(continuity *flow.Engine, ai TextGenerator, cfg Config) *Router {
	return &Router{continuity: continuity, ai: ai, cfg: cfg}
}

// Route classifies one inbound message. It never returns an error: every
// failure mode inside the cascade degrades to a later step, and the menu
// fallback always produces a decision.
func (r *Router) Route(ctx context.Context, phone, message string, session *models.Session) models.IntentResult {
	slog.Debug("routing message", "phone", phone, "length", len(message))

	normalized := strings.ToLower(strings.TrimSpace(message))

	// Step 1: an active flow owns the message unless told otherwise.
	decision := r.continuity.CheckContinuity(ctx, phone)
	if decision.ShouldContinueInFlow {
		result := r.routeToActiveFlow(ctx, phone, message, decision)
		slog.Info("routed to active flow", "phone", phone, "intent", result.Intent, "confidence", result.Confidence)
		return result
	}

	// Step 2: contextual answers to an implicit question. These never
	// reroute even without a FlowState, because a bare "64GB" is a reply,
	// not a topic change.
	if session != nil && session.CurrentFlow != "" && session.CurrentStage != "" {
		if contextual, ok := r.matchContextual(normalized, session); ok {
			return contextual
		}
	}

	// Step 3: strong keywords, gated by the flow-preservation override.
	if group, ok := matchKeywords(normalized); ok && group.confidence >= r.cfg.KeywordThreshold {
		if r.shouldPreserveFlow(normalized, group, session) {
			slog.Debug("flow preservation override", "phone", phone, "blocked_intent", group.intent, "current_flow", session.CurrentFlow)
			return models.IntentResult{
				Intent:      session.CurrentFlow,
				Confidence:  90,
				Source:      models.SourceContext,
				Reason:      fmt.Sprintf("preserving active %s conversation over %s match", session.CurrentFlow, group.intent),
				ShouldRoute: false,
				Metadata: map[string]string{
					"currentFlow":  session.CurrentFlow,
					"currentStage": session.CurrentStage,
				},
			}
		}
		return models.IntentResult{
			Intent:      group.intent,
			Confidence:  group.confidence,
			Source:      models.SourceRule,
			Reason:      "keyword group " + group.name,
			ShouldRoute: true,
			TargetFlow:  group.targetFlow,
		}
	}

	// Step 4: pattern classifier.
	c := classifier.Classify(message, session)
	if c.Primary.Intent != "" && c.Primary.Confidence >= r.cfg.ClassifierAccept {
		return models.IntentResult{
			Intent:      c.Primary.Intent,
			Confidence:  int(c.Primary.Confidence * 100),
			Source:      models.SourceClassifier,
			Reason:      "pattern classifier",
			ShouldRoute: c.Primary.Confidence >= r.cfg.ClassifierRoute,
			Metadata:    classifierMetadata(c),
		}
	}

	// Step 5: AI fallback. Errors are swallowed; the menu catches the rest.
	if result, ok := r.routeWithAI(message, session); ok {
		return result
	}

	// Step 6: menu fallback.
	return models.IntentResult{
		Intent:      IntentMenu,
		Confidence:  30,
		Source:      models.SourceMenu,
		Reason:      "no step produced a confident decision",
		ShouldRoute: true,
		TargetFlow:  models.FlowMenu,
	}
}

// routeToActiveFlow resolves step 1 once the continuity engine has claimed
// the message.
func (r *Router) routeToActiveFlow(ctx context.Context, phone, message string, decision models.ContinuityDecision) models.IntentResult {
	hours := strconv.FormatFloat(decision.HoursSinceUpdate, 'f', 2, 64)

	if decision.IsStale {
		metadata := map[string]string{
			"activeFlow":       decision.ActiveFlowID,
			"activeStep":       decision.ActiveStep,
			"hoursSinceUpdate": hours,
		}
		if info, err := r.continuity.GetResumptionInfo(ctx, phone); err == nil && info != nil {
			metadata["resumptionMessage"] = info.Message
			metadata["offersRestart"] = strconv.FormatBool(info.OffersRestart)
		}
		return models.IntentResult{
			Intent:      IntentContinueStaleFlow,
			Confidence:  90,
			Source:      models.SourceFlowContinuity,
			Reason:      fmt.Sprintf("flow %s stale after %s hours", decision.ActiveFlowID, hours),
			ShouldRoute: false,
			Metadata:    metadata,
		}
	}

	if decision.ExpectedInput == models.InputYesNo {
		if affirmative, ok := classifyYesNo(message); ok {
			intent := IntentConfirmationYes
			if !affirmative {
				intent = IntentConfirmationNo
			}
			return models.IntentResult{
				Intent:      intent,
				Confidence:  99,
				Source:      models.SourceYesNoFastPath,
				Reason:      "unambiguous confirmation answer",
				ShouldRoute: false,
				Metadata: map[string]string{
					"activeFlow": decision.ActiveFlowID,
					"activeStep": decision.ActiveStep,
				},
			}
		}
	}

	if decision.ExpectedInput == models.InputGenres && isPoliteAck(message) {
		return models.IntentResult{
			Intent:      IntentPoliteCTA,
			Confidence:  99,
			Source:      models.SourceFlowContinuity,
			Reason:      "polite acknowledgement while genres were expected",
			ShouldRoute: false,
			Metadata: map[string]string{
				"activeFlow": decision.ActiveFlowID,
				"activeStep": decision.ActiveStep,
			},
		}
	}

	return models.IntentResult{
		Intent:      IntentContinueActiveFlow,
		Confidence:  98,
		Source:      models.SourceFlowContinuity,
		Reason:      fmt.Sprintf("flow %s is waiting at step %s", decision.ActiveFlowID, decision.ActiveStep),
		ShouldRoute: false,
		Metadata: map[string]string{
			"activeFlow":    decision.ActiveFlowID,
			"activeStep":    decision.ActiveStep,
			"expectedInput": string(decision.ExpectedInput),
		},
	}
}

// matchContextual implements step 2.
func (r *Router) matchContextual(normalized string, session *models.Session) (models.IntentResult, bool) {
	var intent string
	switch {
	case capacityRegex.MatchString(normalized):
		intent = IntentCapacity
	case isShortAffirmation(normalized):
		intent = IntentAffirmation
	case isShortNegation(normalized):
		intent = IntentNegation
	default:
		return models.IntentResult{}, false
	}
	return models.IntentResult{
		Intent:      intent,
		Confidence:  95,
		Source:      models.SourceContext,
		Reason:      fmt.Sprintf("answer to implicit question in %s/%s", session.CurrentFlow, session.CurrentStage),
		ShouldRoute: false,
		Metadata: map[string]string{
			"currentFlow":  session.CurrentFlow,
			"currentStage": session.CurrentStage,
		},
	}, true
}

// shouldPreserveFlow implements the step-3 override that keeps a customer in
// the conversation they are already having.
func (r *Router) shouldPreserveFlow(normalized string, group keywordGroup, session *models.Session) bool {
	if session == nil || session.CurrentFlow == "" {
		return false
	}
	veryStrong := group.confidence >= r.cfg.VeryStrongConfidence

	if r.isActiveStage(session.CurrentStage) && capacityRegex.MatchString(normalized) {
		return true
	}
	if models.IsUSBFlow(session.CurrentFlow) && !group.usbRelated && !veryStrong {
		return true
	}
	if !session.LastInteraction.IsZero() && time.Since(session.LastInteraction) < r.cfg.RecencyWindow && !veryStrong {
		return true
	}
	return false
}

func (r *Router) isActiveStage(stage string) bool {
	for _, s := range r.cfg.ActiveStages {
		if s == stage {
			return true
		}
	}
	return false
}

// routeWithAI implements step 5. ok is false whenever the collaborator is
// missing, unavailable, fails, or answers below the acceptance bar.
func (r *Router) routeWithAI(message string, session *models.Session) (models.IntentResult, bool) {
	if r.ai == nil || !r.ai.IsAvailable() {
		return models.IntentResult{}, false
	}
	reply, err := r.ai.GenerateText(buildAIPrompt(message, session))
	if err != nil {
		slog.Error("AI classification failed", "error", err)
		return models.IntentResult{}, false
	}
	intent, confidence, reason, ok := parseAIReply(reply)
	if !ok || confidence < r.cfg.AIAccept {
		return models.IntentResult{}, false
	}
	return models.IntentResult{
		Intent:      intent,
		Confidence:  confidence,
		Source:      models.SourceAI,
		Reason:      reason,
		ShouldRoute: confidence >= r.cfg.AIRoute,
	}, true
}

func classifierMetadata(c classifier.Classification) map[string]string {
	m := map[string]string{"sentiment": c.Sentiment}
	if c.Urgent {
		m["urgent"] = "true"
	}
	if c.Entities.Category != "" {
		m["category"] = c.Entities.Category
	}
	if c.Entities.Capacity != "" {
		m["capacity"] = c.Entities.Capacity
	}
	if c.Entities.Genre != "" {
		m["genre"] = c.Entities.Genre
	}
	if c.Entities.Platform != "" {
		m["platform"] = c.Entities.Platform
	}
	return m
}
