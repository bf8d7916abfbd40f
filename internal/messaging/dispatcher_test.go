package messaging

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/FlowRouter/internal/events"
	"github.com/BTreeMap/FlowRouter/internal/flow"
	"github.com/BTreeMap/FlowRouter/internal/models"
	"github.com/BTreeMap/FlowRouter/internal/phone"
	"github.com/BTreeMap/FlowRouter/internal/router"
	"github.com/BTreeMap/FlowRouter/internal/state"
)

const testPhone = "5213312345678"

type fakeDurable struct {
	mu     sync.Mutex
	states map[string]models.FlowState
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

func (f *fakeDurable) GetConversationState(p string) (*models.FlowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[p]
	if !ok {
		return nil, nil
	}
	copied := st
	return &copied, nil
}

func (f *fakeDurable) DeleteConversationState(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, p)
	return nil
}

func (f *fakeDurable) Close() error { return nil }

// fakeService feeds canned responses and records outbound sends.
type fakeService struct {
	mu        sync.Mutex
	sent      []models.Response
	responses chan models.Response
	receipts  chan models.Receipt
}

func newFakeService() *fakeService {
	return &fakeService{
		responses: make(chan models.Response, 10),
		receipts:  make(chan models.Receipt, 10),
	}
}

func (f *fakeService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return phone.Canonicalize(recipient)
}

func (f *fakeService) SendMessage(ctx context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, models.Response{From: to, Body: body})
	return nil
}

func (f *fakeService) Start(ctx context.Context) error { return nil }
func (f *fakeService) Stop() error                     { return nil }

func (f *fakeService) Receipts() <-chan models.Receipt   { return f.receipts }
func (f *fakeService) Responses() <-chan models.Response { return f.responses }

func (f *fakeService) sentMessages() []models.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Response, len(f.sent))
	copy(out, f.sent)
	return out
}

type fixture struct {
	svc        *fakeService
	dispatcher *Dispatcher
	states     *state.StateStore
	cancel     context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	durable := newFakeDurable()
	ss := state.New(durable, events.LogBus{}, state.DefaultConfig())
	t.Cleanup(ss.Shutdown)

	engine := flow.NewEngine(ss)
	rt := router.New(engine, nil, router.DefaultConfig())
	svc := newFakeService()
	d := NewDispatcher(svc, rt, ss, engine)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d.Start(ctx)

	return &fixture{svc: svc, dispatcher: d, states: ss, cancel: cancel}
}

func (fx *fixture) deliver(t *testing.T, body string) {
	t.Helper()
	fx.svc.responses <- models.Response{From: testPhone, Body: body, Time: time.Now().Unix()}
}

func (fx *fixture) waitForSends(t *testing.T, n int) []models.Response {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sent := fx.svc.sentMessages(); len(sent) >= n {
			return sent
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d outbound messages, have %d", n, len(fx.svc.sentMessages()))
	return nil
}

func TestDispatcherRepromptsInvalidAnswer(t *testing.T) {
	fx := newFixture(t)
	question := "¿De cuántos GB quieres tu USB?"
	_, err := fx.states.Set(context.Background(), testPhone, state.SetOptions{
		FlowID:           models.FlowMusicUSB,
		Step:             "awaiting_capacity",
		ExpectedInput:    models.InputNumber,
		LastQuestionText: question,
	})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	fx.deliver(t, "no sé, el que sea")
	sent := fx.waitForSends(t, 1)

	if !strings.Contains(sent[0].Body, question) {
		t.Errorf("reprompt should restate the question, got %q", sent[0].Body)
	}
	if !strings.Contains(strings.ToLower(sent[0].Body), "número") {
		t.Errorf("reprompt should explain a number is expected, got %q", sent[0].Body)
	}
}

func TestDispatcherInvokesActiveFlowHandler(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.states.Set(context.Background(), testPhone, state.SetOptions{
		FlowID:        models.FlowMusicUSB,
		Step:          "awaiting_capacity",
		ExpectedInput: models.InputNumber,
	})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var gotMessage string
	var gotIntent string
	fx.dispatcher.RegisterHandler(models.FlowMusicUSB, func(ctx context.Context, p, msg string, result models.IntentResult) (string, error) {
		gotMessage = msg
		gotIntent = result.Intent
		return "Perfecto, 64GB.", nil
	})

	fx.deliver(t, "64")
	sent := fx.waitForSends(t, 1)

	if sent[0].Body != "Perfecto, 64GB." {
		t.Errorf("reply = %q", sent[0].Body)
	}
	if gotMessage != "64" {
		t.Errorf("handler message = %q", gotMessage)
	}
	if gotIntent != router.IntentContinueActiveFlow {
		t.Errorf("handler intent = %q", gotIntent)
	}
}

func TestDispatcherRoutesKeywordToTargetFlow(t *testing.T) {
	fx := newFixture(t)

	invoked := false
	fx.dispatcher.RegisterHandler(models.FlowMoviesUSB, func(ctx context.Context, p, msg string, result models.IntentResult) (string, error) {
		invoked = true
		return "¡Claro! Tenemos USB de películas.", nil
	})

	fx.deliver(t, "tienes pelis?")
	sent := fx.waitForSends(t, 1)

	if !invoked {
		t.Fatal("movies handler was not invoked")
	}
	if sent[0].From != testPhone {
		t.Errorf("reply sent to %q", sent[0].From)
	}
}

func TestDispatcherStaleFlowSendsResumption(t *testing.T) {
	// Seed a pre-dated record in the durable backend so the state store
	// loads it as stale on first access.
	old := time.Now().Add(-5 * time.Hour)
	fxd := newFakeDurable()
	fxd.states[testPhone] = models.FlowState{
		Phone:            testPhone,
		ActiveFlowID:     models.FlowMusicUSB,
		ActiveStep:       "awaiting_capacity",
		ExpectedInput:    models.InputNumber,
		LastQuestionText: "¿De cuántos GB?",
		StepTimeoutHours: 2,
		CreatedAt:        old,
		UpdatedAt:        old,
	}
	ss := state.New(fxd, events.LogBus{}, state.DefaultConfig())
	t.Cleanup(ss.Shutdown)
	engine := flow.NewEngine(ss)
	rt := router.New(engine, nil, router.DefaultConfig())
	svc := newFakeService()
	d := NewDispatcher(svc, rt, ss, engine)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d.Start(ctx)

	svc.responses <- models.Response{From: testPhone, Body: "64", Time: time.Now().Unix()}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sent := svc.sentMessages(); len(sent) > 0 {
			if !strings.Contains(sent[0].Body, "¿De cuántos GB?") {
				t.Errorf("resumption should mention the pending question, got %q", sent[0].Body)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no resumption message sent")
}

func TestDispatcherPreservedFlowInvokesCurrentHandler(t *testing.T) {
	fx := newFixture(t)

	var mu sync.Mutex
	var sources []models.IntentSource
	fx.dispatcher.RegisterHandler(models.FlowMusicUSB, func(ctx context.Context, p, msg string, result models.IntentResult) (string, error) {
		mu.Lock()
		sources = append(sources, result.Source)
		mu.Unlock()
		return "Seguimos con tu USB de música.", nil
	})

	// First message opens the music conversation.
	fx.deliver(t, "quiero música")
	fx.waitForSends(t, 1)

	// A weak pricing match must stay with the music handler, not fall back
	// to the menu default.
	fx.deliver(t, "cuánto cuesta")
	sent := fx.waitForSends(t, 2)

	if sent[1].Body != "Seguimos con tu USB de música." {
		t.Errorf("preserved flow got reply %q, want the music handler's reply", sent[1].Body)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sources) != 2 {
		t.Fatalf("handler invoked %d times, want 2", len(sources))
	}
	if sources[1] != models.SourceContext {
		t.Errorf("second invocation source = %v, want context", sources[1])
	}
}

func TestDispatcherUnhandledFlowGetsDefaultReply(t *testing.T) {
	fx := newFixture(t)

	fx.deliver(t, "tienes pelis?")
	sent := fx.waitForSends(t, 1)

	if !strings.Contains(sent[0].Body, "menu") {
		t.Errorf("default reply should point to the menu, got %q", sent[0].Body)
	}
}

func TestDispatcherDropsInvalidSender(t *testing.T) {
	fx := newFixture(t)

	fx.svc.responses <- models.Response{From: "???", Body: "hola", Time: time.Now().Unix()}
	fx.deliver(t, "tienes pelis?")
	sent := fx.waitForSends(t, 1)

	// Only the valid sender's message produces output.
	if len(sent) != 1 || sent[0].From != testPhone {
		t.Errorf("unexpected sends: %+v", sent)
	}
}
