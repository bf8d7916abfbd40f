package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/FlowRouter/internal/flow"
	"github.com/BTreeMap/FlowRouter/internal/models"
	"github.com/BTreeMap/FlowRouter/internal/router"
	"github.com/BTreeMap/FlowRouter/internal/state"
)

// FlowHandler produces the reply for a message that the router assigned to a
// flow. An empty reply with a nil error means the flow chose to stay quiet.
type FlowHandler func(ctx context.Context, phone, message string, result models.IntentResult) (reply string, err error)

// Dispatcher consumes inbound responses from a messaging service, routes
// each one through the cascade and delivers the outcome. Invalid answers to
// a waiting question are always answered with a reprompt; a customer message
// never goes unacknowledged.
type Dispatcher struct {
	svc    Service
	router *router.Router
	states *state.StateStore
	engine *flow.Engine

	mu       sync.RWMutex
	handlers map[string]FlowHandler
	sessions map[string]*models.Session

	defaultReply string
	wg           sync.WaitGroup
}

// NewDispatcher wires the routing cascade to a delivery channel.
func NewDispatcher(svc Service, rt *router.Router, states *state.StateStore, engine *flow.Engine) *Dispatcher {
	return &Dispatcher{
		svc:          svc,
		router:       rt,
		states:       states,
		engine:       engine,
		handlers:     make(map[string]FlowHandler),
		sessions:     make(map[string]*models.Session),
		defaultReply: "Gracias por tu mensaje. Escribe *menu* para ver las opciones disponibles.",
	}
}

// RegisterHandler installs the handler for one flow ID.
func (d *Dispatcher) RegisterHandler(flowID string, handler FlowHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[flowID] = handler
}

// Start consumes responses and receipts until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case resp, ok := <-d.svc.Responses():
				if !ok {
					return
				}
				d.handleResponse(ctx, resp)
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		defer d.wg.Done()
		for {
			select {
			case receipt, ok := <-d.svc.Receipts():
				if !ok {
					return
				}
				slog.Debug("delivery receipt", "to", receipt.To, "status", receipt.Status)
			case <-ctx.Done():
				return
			}
		}
	}()
	slog.Info("dispatcher started")
}

// Wait blocks until both consumer goroutines have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) handleResponse(ctx context.Context, resp models.Response) {
	canonical, err := d.svc.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		slog.Warn("dropping message with invalid sender", "error", err, "from", resp.From)
		return
	}

	session := d.sessionFor(canonical)
	result := d.router.Route(ctx, canonical, resp.Body, session)
	slog.Info("message routed",
		"phone", canonical,
		"intent", result.Intent,
		"confidence", result.Confidence,
		"source", result.Source,
		"should_route", result.ShouldRoute)

	reply := d.resolveReply(ctx, canonical, resp.Body, result)
	if reply != "" {
		if err := d.svc.SendMessage(ctx, canonical, reply); err != nil {
			slog.Error("failed to send reply", "error", err, "phone", canonical)
		}
	}

	d.updateSession(canonical, session, result)
}

// resolveReply turns a routing decision into outbound text.
func (d *Dispatcher) resolveReply(ctx context.Context, canonical, message string, result models.IntentResult) string {
	switch {
	case result.Intent == router.IntentContinueStaleFlow:
		if msg := result.Metadata["resumptionMessage"]; msg != "" {
			return msg
		}
		if info, err := d.engine.GetResumptionInfo(ctx, canonical); err == nil && info != nil {
			return info.Message
		}
		return d.defaultReply

	case result.Intent == router.IntentContinueActiveFlow:
		expected := models.ExpectedInput(result.Metadata["expectedInput"])
		validation := flow.Validate(message, expected)
		if !validation.IsValid {
			return d.repromptText(ctx, canonical, validation)
		}
		return d.invokeHandler(ctx, canonical, message, result, result.Metadata["activeFlow"])

	case result.Source == models.SourceYesNoFastPath, result.Intent == router.IntentPoliteCTA:
		return d.invokeHandler(ctx, canonical, message, result, result.Metadata["activeFlow"])

	case result.ShouldRoute && result.TargetFlow != "":
		return d.invokeHandler(ctx, canonical, message, result, result.TargetFlow)

	case result.ShouldRoute:
		return d.invokeHandler(ctx, canonical, message, result, result.Intent)

	default:
		// Contextual and preservation results stay with the current flow.
		flowID := result.Metadata["currentFlow"]
		if flowID == "" {
			flowID = result.Intent
		}
		return d.invokeHandler(ctx, canonical, message, result, flowID)
	}
}

// repromptText combines the validation reprompt with the pending question so
// the customer knows both what went wrong and what was being asked.
func (d *Dispatcher) repromptText(ctx context.Context, canonical string, validation models.ValidationResult) string {
	text := validation.RepromptMessage
	if st, err := d.states.Get(ctx, canonical); err == nil && st != nil && st.LastQuestionText != "" {
		text += "\n\n" + st.LastQuestionText
	}
	return text
}

func (d *Dispatcher) invokeHandler(ctx context.Context, canonical, message string, result models.IntentResult, flowID string) string {
	d.mu.RLock()
	handler := d.handlers[flowID]
	d.mu.RUnlock()

	if handler == nil {
		slog.Debug("no handler registered", "flow", flowID, "intent", result.Intent)
		return d.defaultReply
	}
	reply, err := handler(ctx, canonical, message, result)
	if err != nil {
		slog.Error("flow handler failed", "error", err, "flow", flowID, "phone", canonical)
		return d.defaultReply
	}
	return reply
}

func (d *Dispatcher) sessionFor(canonical string) *models.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessions[canonical]
}

// updateSession records where the conversation ended up so the next message
// has context even after the FlowState is cleared.
func (d *Dispatcher) updateSession(canonical string, session *models.Session, result models.IntentResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if session == nil {
		session = &models.Session{Phone: canonical}
		d.sessions[canonical] = session
	}
	session.LastInteraction = time.Now()

	switch {
	case result.ShouldRoute && result.TargetFlow != "":
		session.CurrentFlow = result.TargetFlow
		session.CurrentStage = ""
	case result.Metadata["activeFlow"] != "":
		session.CurrentFlow = result.Metadata["activeFlow"]
		session.CurrentStage = result.Metadata["activeStep"]
	}
}
