// Package state implements the fail-safe flow state store.
//
// It keeps an authoritative in-memory view of what each phone number is
// waiting for, backed by durable storage with background retry. A durable
// outage never fails a caller: writes land in memory first and are
// persisted opportunistically.
package state

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/BTreeMap/FlowRouter/internal/events"
	"github.com/BTreeMap/FlowRouter/internal/models"
	"github.com/BTreeMap/FlowRouter/internal/phone"
	"github.com/BTreeMap/FlowRouter/internal/store"
)

// Config holds the tunable constants of the state store. The retry and
// preservation numbers are operational tuning, not structural invariants.
type Config struct {
	// ShadowTTL bounds how long an unpersisted entry may live in memory.
	ShadowTTL time.Duration
	// MaxCacheSize is the capacity safety valve for the cache.
	MaxCacheSize int
	// RetryInitialDelay is the delay before the first persistence retry.
	RetryInitialDelay time.Duration
	// RetryMultiplier scales the delay for each subsequent retry.
	RetryMultiplier float64
	// RetryMaxDelay caps any single retry delay.
	RetryMaxDelay time.Duration
	// MaxRetryAttempts caps the number of persistence retries.
	MaxRetryAttempts int
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		ShadowTTL:         4 * time.Hour,
		MaxCacheSize:      5000,
		RetryInitialDelay: 2 * time.Second,
		RetryMultiplier:   2,
		RetryMaxDelay:     60 * time.Second,
		MaxRetryAttempts:  5,
	}
}

// RetryDelay computes the backoff delay for retry attempt n (starting at 1).
func RetryDelay(cfg Config, attempt int) time.Duration {
	delay := cfg.RetryInitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.RetryMultiplier)
		if delay >= cfg.RetryMaxDelay {
			return cfg.RetryMaxDelay
		}
	}
	if delay > cfg.RetryMaxDelay {
		return cfg.RetryMaxDelay
	}
	return delay
}

// SetOptions describes the question a flow just asked.
type SetOptions struct {
	FlowID           string
	Step             string
	ExpectedInput    models.ExpectedInput
	LastQuestionID   string
	LastQuestionText string
	StepTimeoutHours float64
	FlowContext      map[string]string
}

// Stats exposes cache occupancy for operational visibility.
type Stats struct {
	CacheSize      int `json:"cache_size"`
	ShadowEntries  int `json:"shadow_entries"`
	PendingRetries int `json:"pending_retries"`
}

// entry wraps a cached FlowState with a generation counter so a slow
// persistence attempt can never mark a newer state as persisted.
type entry struct {
	state models.FlowState
	gen   uint64
}

// StateStore is the fail-safe flow state store. The in-memory cache is
// written before any durable attempt, so a Get issued immediately after
// Set sees the new state even if persistence is in flight or has failed.
type StateStore struct {
	durable store.Store
	bus     events.Bus
	cfg     Config

	mu      sync.Mutex
	cache   map[string]*entry
	order   []string // insertion order, oldest first, for capacity eviction
	retries map[string]*time.Timer
	gen     uint64
	closed  bool
}

// New creates a StateStore over the given durable backend and event bus.
func New(durable store.Store, bus events.Bus, cfg Config) *StateStore {
	slog.Debug("Creating StateStore", "shadowTTL", cfg.ShadowTTL, "maxCacheSize", cfg.MaxCacheSize)
	if bus == nil {
		bus = events.LogBus{}
	}
	return &StateStore{
		durable: durable,
		bus:     bus,
		cfg:     cfg,
		cache:   make(map[string]*entry),
		retries: make(map[string]*time.Timer),
	}
}

// Set records what the flow is now waiting for. The in-memory write is
// authoritative and immediate; durable persistence happens in the
// background and its failure is recovered via retry, never surfaced here.
// Returns the canonical phone.
func (ss *StateStore) Set(ctx context.Context, rawPhone string, opts SetOptions) (string, error) {
	canonical, err := phone.Canonicalize(rawPhone)
	if err != nil {
		slog.Error("StateStore Set phone canonicalization failed", "error", err, "phone", rawPhone)
		return "", err
	}

	now := time.Now()
	st := models.FlowState{
		Phone:             canonical,
		ActiveFlowID:      opts.FlowID,
		ActiveStep:        opts.Step,
		ExpectedInput:     opts.ExpectedInput,
		LastQuestionID:    opts.LastQuestionID,
		LastQuestionText:  opts.LastQuestionText,
		StepTimeoutHours:  opts.StepTimeoutHours,
		FlowContext:       opts.FlowContext,
		CreatedAt:         now,
		UpdatedAt:         now,
		InMemoryCreatedAt: now,
	}
	if st.ExpectedInput == "" {
		st.ExpectedInput = models.InputAny
	}
	if st.StepTimeoutHours <= 0 {
		st.StepTimeoutHours = models.DefaultStepTimeoutHours
	}
	if err := st.Validate(); err != nil {
		slog.Error("StateStore Set validation failed", "error", err, "phone", canonical)
		return "", err
	}

	ss.mu.Lock()
	ss.gen++
	gen := ss.gen
	ss.cancelRetryLocked(canonical)
	ss.insertLocked(canonical, &entry{state: st, gen: gen})
	ss.evictIfNeededLocked()
	ss.mu.Unlock()

	slog.Debug("StateStore Set cached", "phone", canonical, "flowID", st.ActiveFlowID, "step", st.ActiveStep, "expectedInput", st.ExpectedInput)
	go ss.persist(canonical, gen)
	return canonical, nil
}

// Get returns the current flow state for a phone, or nil if none.
// Expired shadow entries are dropped on access; cache misses are loaded
// from durable storage and cached as persisted.
func (ss *StateStore) Get(ctx context.Context, rawPhone string) (*models.FlowState, error) {
	canonical, err := phone.Canonicalize(rawPhone)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ss.mu.Lock()
	if e, ok := ss.cache[canonical]; ok {
		if !e.state.Persisted && now.Sub(e.state.InMemoryCreatedAt) >= ss.cfg.ShadowTTL {
			ss.cancelRetryLocked(canonical)
			ss.removeLocked(canonical)
			ss.mu.Unlock()
			slog.Info("StateStore dropped expired shadow entry", "phone", canonical)
			return nil, nil
		}
		copied := e.state
		ss.mu.Unlock()
		slog.Debug("StateStore Get cache hit", "phone", canonical, "flowID", copied.ActiveFlowID, "persisted", copied.Persisted)
		return &copied, nil
	}
	ss.mu.Unlock()

	st, err := ss.durable.GetConversationState(canonical)
	if err != nil {
		slog.Error("StateStore Get durable load failed", "error", err, "phone", canonical)
		return nil, err
	}
	if st == nil {
		return nil, nil
	}

	st.Persisted = true
	st.InMemoryCreatedAt = now
	ss.mu.Lock()
	// A Set may have raced the durable load; never clobber a newer entry.
	if _, exists := ss.cache[canonical]; !exists {
		ss.gen++
		ss.insertLocked(canonical, &entry{state: *st, gen: ss.gen})
		ss.evictIfNeededLocked()
	}
	ss.mu.Unlock()

	copied := *st
	slog.Debug("StateStore Get loaded from durable storage", "phone", canonical, "flowID", copied.ActiveFlowID)
	return &copied, nil
}

// Clear removes the flow state for a phone. The in-memory view reflects
// "no active flow" immediately; a durable delete failure is logged only.
func (ss *StateStore) Clear(ctx context.Context, rawPhone string) error {
	canonical, err := phone.Canonicalize(rawPhone)
	if err != nil {
		return err
	}

	ss.mu.Lock()
	ss.cancelRetryLocked(canonical)
	ss.removeLocked(canonical)
	ss.mu.Unlock()

	if err := ss.durable.DeleteConversationState(canonical); err != nil {
		slog.Error("StateStore Clear durable delete failed, cache already cleared", "error", err, "phone", canonical)
	}
	slog.Debug("StateStore Clear succeeded", "phone", canonical)
	return nil
}

// Stats reports cache occupancy.
func (ss *StateStore) Stats() Stats {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	shadow := 0
	for _, e := range ss.cache {
		if !e.state.Persisted {
			shadow++
		}
	}
	return Stats{
		CacheSize:      len(ss.cache),
		ShadowEntries:  shadow,
		PendingRetries: len(ss.retries),
	}
}

// SweepExpiredShadows drops shadow entries past their TTL without waiting
// for a Get to touch them. Returns the number of entries removed.
func (ss *StateStore) SweepExpiredShadows() int {
	now := time.Now()
	ss.mu.Lock()
	defer ss.mu.Unlock()

	removed := 0
	for p, e := range ss.cache {
		if !e.state.Persisted && now.Sub(e.state.InMemoryCreatedAt) >= ss.cfg.ShadowTTL {
			ss.cancelRetryLocked(p)
			ss.removeLocked(p)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("StateStore swept expired shadow entries", "removed", removed)
	}
	return removed
}

// Shutdown cancels all pending retry timers. The store must not be used
// after Shutdown.
func (ss *StateStore) Shutdown() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.closed = true
	for p, timer := range ss.retries {
		timer.Stop()
		delete(ss.retries, p)
	}
	slog.Info("StateStore shut down", "cacheSize", len(ss.cache))
}

// persist attempts the durable write for the cached entry at generation
// gen. A generation mismatch means a newer Set replaced the entry and
// this attempt must abort silently.
func (ss *StateStore) persist(canonical string, gen uint64) {
	ss.mu.Lock()
	e, ok := ss.cache[canonical]
	if !ok || e.gen != gen || e.state.Persisted || ss.closed {
		ss.mu.Unlock()
		return
	}
	snapshot := e.state
	ss.mu.Unlock()

	err := ss.durable.SaveConversationState(snapshot)
	if err != nil && store.IsTruncationError(err) {
		// The schema rejected a value for being too large. Substitute a safe
		// default for the offending field, keep the rest of the state, and
		// retry once. The diagnostic event carries enough to spot the drift.
		fallback := snapshot
		field, original := applyFieldFallback(&fallback)
		ss.bus.Emit(events.Event{
			Type:  events.TypeFieldFallback,
			Phone: canonical,
			Detail: map[string]string{
				"field":    field,
				"original": original,
				"fallback": fallback.LastQuestionText,
				"error":    err.Error(),
			},
		})
		slog.Warn("StateStore persist retried with fallback value", "phone", canonical, "field", field, "error", err)
		if saveErr := ss.durable.SaveConversationState(fallback); saveErr == nil {
			err = nil
			snapshot = fallback
		} else {
			err = saveErr
		}
	}

	if err == nil {
		ss.mu.Lock()
		if e, ok := ss.cache[canonical]; ok && e.gen == gen {
			snapshot.Persisted = true
			snapshot.RetryAttempts = e.state.RetryAttempts
			e.state = snapshot
			ss.cancelRetryLocked(canonical)
		}
		ss.mu.Unlock()
		slog.Debug("StateStore persisted", "phone", canonical, "flowID", snapshot.ActiveFlowID)
		return
	}

	ss.mu.Lock()
	firstFailure := false
	if e, ok := ss.cache[canonical]; ok && e.gen == gen {
		firstFailure = e.state.RetryAttempts == 0
	}
	ss.mu.Unlock()

	slog.Error("StateStore persist failed, state served from memory", "error", err, "phone", canonical)
	if firstFailure {
		ss.bus.Emit(events.Event{
			Type:  events.TypeMemoryFallback,
			Phone: canonical,
			Detail: map[string]string{
				"flow_id": snapshot.ActiveFlowID,
				"step":    snapshot.ActiveStep,
				"error":   err.Error(),
			},
		})
	}
	ss.scheduleRetry(canonical, gen)
}

// scheduleRetry arms the next backoff timer for an unpersisted entry.
func (ss *StateStore) scheduleRetry(canonical string, gen uint64) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	e, ok := ss.cache[canonical]
	if !ok || e.gen != gen || e.state.Persisted || ss.closed {
		return
	}

	e.state.RetryAttempts++
	attempt := e.state.RetryAttempts
	if attempt > ss.cfg.MaxRetryAttempts {
		// Fail open: the entry stays a shadow until its TTL expires.
		// User-visible behavior stays correct; durability is lost for now.
		slog.Warn("StateStore persistence retries exhausted, entry remains in memory", "phone", canonical, "attempts", attempt-1)
		ss.bus.Emit(events.Event{
			Type:  events.TypeRetryExhausted,
			Phone: canonical,
			Detail: map[string]string{
				"flow_id":  e.state.ActiveFlowID,
				"attempts": strconv.Itoa(attempt - 1),
			},
		})
		return
	}

	delay := RetryDelay(ss.cfg, attempt)
	slog.Debug("StateStore scheduling persistence retry", "phone", canonical, "attempt", attempt, "delay", delay)

	ss.cancelRetryLocked(canonical)
	ss.retries[canonical] = time.AfterFunc(delay, func() {
		ss.mu.Lock()
		delete(ss.retries, canonical)
		e, ok := ss.cache[canonical]
		stillWanted := ok && e.gen == gen && !e.state.Persisted && !ss.closed
		ss.mu.Unlock()
		if !stillWanted {
			return
		}
		ss.persist(canonical, gen)
	})
}

// insertLocked adds an entry, treating a replace as a fresh insertion for
// eviction ordering.
func (ss *StateStore) insertLocked(canonical string, e *entry) {
	if _, exists := ss.cache[canonical]; exists {
		ss.removeFromOrderLocked(canonical)
	}
	ss.cache[canonical] = e
	ss.order = append(ss.order, canonical)
}

func (ss *StateStore) removeLocked(canonical string) {
	if _, exists := ss.cache[canonical]; !exists {
		return
	}
	delete(ss.cache, canonical)
	ss.removeFromOrderLocked(canonical)
}

func (ss *StateStore) removeFromOrderLocked(canonical string) {
	for i, p := range ss.order {
		if p == canonical {
			ss.order = append(ss.order[:i], ss.order[i+1:]...)
			return
		}
	}
}

func (ss *StateStore) cancelRetryLocked(canonical string) {
	if timer, ok := ss.retries[canonical]; ok {
		timer.Stop()
		delete(ss.retries, canonical)
	}
}

// evictIfNeededLocked enforces the capacity safety valve: above max size,
// discard oldest insertions down to 80% capacity. Purely a memory bound,
// not a correctness mechanism.
func (ss *StateStore) evictIfNeededLocked() {
	if ss.cfg.MaxCacheSize <= 0 || len(ss.cache) <= ss.cfg.MaxCacheSize {
		return
	}
	target := ss.cfg.MaxCacheSize * 4 / 5
	evicted := 0
	for len(ss.cache) > target && len(ss.order) > 0 {
		oldest := ss.order[0]
		ss.order = ss.order[1:]
		if _, ok := ss.cache[oldest]; ok {
			delete(ss.cache, oldest)
			ss.cancelRetryLocked(oldest)
			evicted++
		}
	}
	slog.Warn("StateStore cache over capacity, evicted oldest entries", "evicted", evicted, "size", len(ss.cache))
}

// applyFieldFallback substitutes a safe default for the field most likely
// to exceed its column limit and returns its name and original value.
func applyFieldFallback(st *models.FlowState) (field, original string) {
	original = st.LastQuestionText
	if len(st.LastQuestionText) > models.MaxQuestionTextLength {
		st.LastQuestionText = st.LastQuestionText[:models.MaxQuestionTextLength]
	} else {
		// Unknown offender: clear the only free-text column. The re-prompt
		// path degrades gracefully without it.
		st.LastQuestionText = ""
	}
	return "last_question_text", original
}
