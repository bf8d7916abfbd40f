package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/FlowRouter/internal/events"
	"github.com/BTreeMap/FlowRouter/internal/models"
	"github.com/BTreeMap/FlowRouter/internal/state"
)

const testPhone = "5213312345678"

// fakeDurable is a minimal durable backend for continuity tests.
type fakeDurable struct {
	mu     sync.Mutex
	states map[string]models.FlowState
	getErr error
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{states: make(map[string]models.FlowState)}
}

func (f *fakeDurable) SaveConversationState(st models.FlowState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[st.Phone] = st
	return nil
}

func (f *fakeDurable) GetConversationState(phone string) (*models.FlowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	st, ok := f.states[phone]
	if !ok {
		return nil, nil
	}
	copied := st
	return &copied, nil
}

func (f *fakeDurable) DeleteConversationState(phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, phone)
	return nil
}

func (f *fakeDurable) Close() error { return nil }

func newEngine(t *testing.T, durable *fakeDurable) (*Engine, *state.StateStore) {
	t.Helper()
	ss := state.New(durable, events.LogBus{}, state.DefaultConfig())
	t.Cleanup(ss.Shutdown)
	return NewEngine(ss), ss
}

func seedState(durable *fakeDurable, updatedAt time.Time, timeoutHours float64) {
	durable.states[testPhone] = models.FlowState{
		Phone:            testPhone,
		ActiveFlowID:     models.FlowMusicUSB,
		ActiveStep:       "awaiting_capacity",
		ExpectedInput:    models.InputNumber,
		LastQuestionText: "¿De cuántos GB quieres tu USB?",
		StepTimeoutHours: timeoutHours,
		CreatedAt:        updatedAt,
		UpdatedAt:        updatedAt,
	}
}

func TestSetThenCheckContinuity(t *testing.T) {
	engine, ss := newEngine(t, newFakeDurable())

	_, err := ss.Set(context.Background(), testPhone, state.SetOptions{
		FlowID:        models.FlowMusicUSB,
		Step:          "awaiting_capacity",
		ExpectedInput: models.InputNumber,
	})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	d := engine.CheckContinuity(context.Background(), testPhone)
	if !d.ShouldContinueInFlow {
		t.Fatalf("expected continuation, got %+v", d)
	}
	if d.ActiveFlowID != models.FlowMusicUSB || d.ActiveStep != "awaiting_capacity" || d.ExpectedInput != models.InputNumber {
		t.Errorf("decision does not reflect the set state: %+v", d)
	}
	if d.IsStale {
		t.Error("freshly set state reported stale")
	}
	if d.Reason != models.ReasonActiveFlowContinue {
		t.Errorf("reason = %v, want ACTIVE_FLOW_CONTINUE", d.Reason)
	}
}

func TestClearThenCheckContinuity(t *testing.T) {
	engine, ss := newEngine(t, newFakeDurable())

	ss.Set(context.Background(), testPhone, state.SetOptions{FlowID: models.FlowMenu})
	if err := ss.Clear(context.Background(), testPhone); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	d := engine.CheckContinuity(context.Background(), testPhone)
	if d.ShouldContinueInFlow || d.Reason != models.ReasonNoActiveFlow {
		t.Errorf("expected NO_ACTIVE_FLOW after clear, got %+v", d)
	}
}

func TestStaleFlowStillContinues(t *testing.T) {
	durable := newFakeDurable()
	seedState(durable, time.Now().Add(-3*time.Hour), 2)
	engine, _ := newEngine(t, durable)

	d := engine.CheckContinuity(context.Background(), testPhone)
	if !d.ShouldContinueInFlow {
		t.Fatal("stale flow must still continue")
	}
	if !d.IsStale || d.Reason != models.ReasonFlowStepStale {
		t.Errorf("expected FLOW_STEP_STALE, got %+v", d)
	}
	if d.HoursSinceUpdate < 2.9 {
		t.Errorf("hoursSinceUpdate = %v, want about 3", d.HoursSinceUpdate)
	}
}

func TestMalformedPhoneFailsOpen(t *testing.T) {
	engine, _ := newEngine(t, newFakeDurable())

	d := engine.CheckContinuity(context.Background(), "not a phone")
	if d.ShouldContinueInFlow || d.Reason != models.ReasonNoActiveFlow {
		t.Errorf("malformed phone should mean no active flow, got %+v", d)
	}
}

func TestStoreErrorDefersToRouter(t *testing.T) {
	durable := newFakeDurable()
	durable.getErr = errors.New("connection refused")
	engine, _ := newEngine(t, durable)

	d := engine.CheckContinuity(context.Background(), testPhone)
	if d.ShouldContinueInFlow {
		t.Error("store failure must not claim the message for a flow")
	}
	if d.Reason != models.ReasonDeferToRouter {
		t.Errorf("reason = %v, want DEFER_TO_ROUTER", d.Reason)
	}
}

func TestResumptionTiers(t *testing.T) {
	cases := []struct {
		name          string
		age           time.Duration
		offersRestart bool
		verbatim      bool
	}{
		{"fresh", 30 * time.Minute, false, true},
		{"idle", 5 * time.Hour, false, false},
		{"abandoned", 30 * time.Hour, true, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			durable := newFakeDurable()
			seedState(durable, time.Now().Add(-c.age), 2)
			engine, _ := newEngine(t, durable)

			info, err := engine.GetResumptionInfo(context.Background(), testPhone)
			if err != nil {
				t.Fatalf("GetResumptionInfo failed: %v", err)
			}
			if info == nil {
				t.Fatal("expected resumption info")
			}
			if info.OffersRestart != c.offersRestart {
				t.Errorf("offersRestart = %v, want %v", info.OffersRestart, c.offersRestart)
			}
			question := "¿De cuántos GB quieres tu USB?"
			if c.verbatim {
				if info.Message != question {
					t.Errorf("fresh tier should return the question verbatim, got %q", info.Message)
				}
			} else if !c.offersRestart && !strings.Contains(info.Message, question) {
				t.Errorf("idle tier should restate the question, got %q", info.Message)
			}
			if c.offersRestart && !strings.Contains(info.Message, "continuar") {
				t.Errorf("abandoned tier should offer an explicit choice, got %q", info.Message)
			}
		})
	}
}

func TestResumptionNoState(t *testing.T) {
	engine, _ := newEngine(t, newFakeDurable())
	info, err := engine.GetResumptionInfo(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info != nil {
		t.Errorf("expected nil info without state, got %+v", info)
	}
}

func TestDisplayNameFallback(t *testing.T) {
	if got := FlowDisplayName("unknownFlow"); got != "unknownFlow" {
		t.Errorf("unknown flow display name = %q, want raw id", got)
	}
	if got := StepDisplayName("weird_step"); got != "weird_step" {
		t.Errorf("unknown step display name = %q, want raw id", got)
	}
	if got := FlowDisplayName(models.FlowMusicUSB); got == models.FlowMusicUSB {
		t.Error("known flow should have a display name")
	}
}
