// Package engine implements §4.5: tick orchestration, the reader/handler/
// observer registries, the per-tick protocol, explanation rendering, and
// the three run modes (one-shot, driven, background).
//
// The read -> diff -> (dry-run | execute) -> report shape of a tick is
// grounded on sqldef.Run()'s top-level control flow; dry-run itself is
// grounded on database.DryRunDatabase, a wrapper that intercepts execution
// while leaving the decision path untouched. The background worker's
// goroutine-plus-stop-channel shape is the idiom the wider example pack
// uses for long-running loops (e.g. wingthing's daemon package), since the
// teacher itself never runs a persistent loop.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopctl/loopctl/ast"
	"github.com/loopctl/loopctl/scorer"
	"github.com/loopctl/loopctl/state"
	"github.com/loopctl/loopctl/value"
)

const (
	tickHistoryCapacity = 1000
	tickHistoryCompact  = 500
)

// StateReader is a nullary function returning a floating-point observation
// for a declared state. It must be a pure read; a reader that panics or is
// wrapped to return an error is treated as a failed read for that tick and
// the prior value is retained.
type StateReader func() (float64, error)

// ActionHandler performs a candidate action's side effect. Its return
// value, if any, is not required; an error marks the tick as "action
// attempted but not executed".
type ActionHandler func(params map[string]int) error

// Observer is invoked synchronously after every completed tick, in
// registration order. A panicking observer is recovered and logged; it
// never corrupts the tick already recorded or crashes the engine.
type Observer func(TickResult)

// Config holds the engine's external configuration knobs (§6), resolved at
// construction time; ApplyOverride can change the interval, threshold and
// dry-run fields later.
type Config struct {
	TickIntervalMillis float64
	ActionThreshold    float64
	ContinuousMode     bool
	MaxActionsPerTick  int
	DryRun             bool
}

// Override carries caller-supplied values for Config's fields. A nil
// pointer field means "use the AST/default value"; this is how New
// distinguishes "the caller explicitly asked for threshold 0" from "the
// caller didn't mention threshold at all".
type Override struct {
	TickIntervalMillis *float64
	ActionThreshold    *float64
	MaxActionsPerTick  *int
	DryRun             *bool
}

// TickResult is the record appended to history after each tick.
type TickResult struct {
	ID         string
	Seq        int64
	Timestamp  time.Time
	Statuses   []scorer.ConstraintStatus
	Violations []scorer.ConstraintStatus
	Candidates int
	Selected   *scorer.Scored
	Executed   bool
	Duration   time.Duration
}

// Engine orchestrates the decide-and-act loop for one parsed System.
type Engine struct {
	sys    *ast.System
	config Config

	readers  map[string]StateReader
	handlers map[string]ActionHandler

	mu        sync.Mutex
	observers []Observer
	states    *state.Manager
	history   []TickResult
	tickCount int64

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// New builds an Engine from a parsed, validated System. If the system's
// tick block requests the "reactive" mode (Override has no mode field), New
// returns an error: the spec recognizes the mode but leaves its semantics
// undefined, and the engine refuses to silently coalesce it with
// "continuous" rather than guess.
func New(sys *ast.System, override *Override) (*Engine, error) {
	t := sys.EffectiveTick()

	cfg := Config{
		TickIntervalMillis: t.IntervalMillis,
		ActionThreshold:    t.ActionThreshold,
		ContinuousMode:     t.Mode == value.TickContinuous,
		MaxActionsPerTick:  1,
		DryRun:             false,
	}
	if override != nil {
		if override.TickIntervalMillis != nil {
			cfg.TickIntervalMillis = *override.TickIntervalMillis
		}
		if override.ActionThreshold != nil {
			cfg.ActionThreshold = *override.ActionThreshold
		}
		if override.MaxActionsPerTick != nil {
			cfg.MaxActionsPerTick = *override.MaxActionsPerTick
		}
		if override.DryRun != nil {
			cfg.DryRun = *override.DryRun
		}
	}

	if t.Mode == value.TickReactive {
		return nil, fmt.Errorf("engine: tick mode %q is not yet defined; refusing to start rather than silently treat it as continuous", value.TickReactive)
	}
	if cfg.MaxActionsPerTick != 1 {
		return nil, fmt.Errorf("engine: max_actions_per_tick=%d is not supported; the selector returns at most one action", cfg.MaxActionsPerTick)
	}

	return &Engine{
		sys:      sys,
		config:   cfg,
		readers:  make(map[string]StateReader),
		handlers: make(map[string]ActionHandler),
		states:   state.New(),
	}, nil
}

// RegisterStateReader wires fn as the reader for the declared state named
// name. Registering a reader for an unknown name is accepted silently,
// facilitating staged bring-up where the DSL and the wiring code evolve
// independently.
func (e *Engine) RegisterStateReader(name string, fn StateReader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readers[name] = fn
}

// RegisterActionHandler wires fn as the handler for the declared action
// named name. As with readers, an unknown name is accepted silently.
func (e *Engine) RegisterActionHandler(name string, fn ActionHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = fn
}

// OnTick registers an observer invoked after every completed tick.
func (e *Engine) OnTick(obs Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, obs)
}

// Tick executes exactly one iteration of the decide-and-act loop
// synchronously and returns its result.
func (e *Engine) Tick() TickResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickLocked()
}

func (e *Engine) tickLocked() TickResult {
	start := time.Now()

	// 1. Read.
	for _, st := range e.sys.States {
		reader, ok := e.readers[st.Name]
		if !ok {
			continue
		}
		v, err := func() (v float64, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("reader panicked: %v", r)
				}
			}()
			return reader()
		}()
		if err != nil {
			slog.Warn("engine: failed to read state", "state", st.Name, "error", err)
			continue
		}
		e.states.Update(st.Name, v)
	}

	// 2. Snapshot.
	seq := e.states.Snapshot()

	// 3. Evaluate.
	current := e.states.Current()
	statuses := scorer.EvaluateConstraints(e.sys, current)

	var violations []scorer.ConstraintStatus
	anyViolation := false
	for _, st := range statuses {
		if st.Violated {
			anyViolation = true
			violations = append(violations, st)
		}
	}

	// 4. Enumerate & score.
	scored := scorer.EvaluateAll(e.sys, statuses, current)

	// 5. Select.
	selected, ok := scorer.Select(scored, anyViolation, e.config.ActionThreshold)

	result := TickResult{
		ID:         uuid.NewString(),
		Seq:        seq,
		Timestamp:  start,
		Statuses:   statuses,
		Violations: violations,
		Candidates: len(scored),
	}

	// 6. Execute.
	if ok {
		result.Selected = &selected
		if !e.config.DryRun {
			if handler, has := e.handlers[selected.Candidate.Action.Name]; has {
				if err := handler(selected.Candidate.Params); err == nil {
					result.Executed = true
				} else {
					slog.Error("engine: failed to execute action", "action", selected.Candidate.Action.Name, "error", err)
					// Tick marked "attempted but not executed" (Executed stays false).
				}
			}
		}
	}

	result.Duration = time.Since(start)

	// 7. Record & notify.
	e.tickCount++
	e.history = append(e.history, result)
	if len(e.history) > tickHistoryCapacity {
		keep := e.history[len(e.history)-tickHistoryCompact:]
		e.history = append([]TickResult(nil), keep...)
	}
	for _, obs := range e.observers {
		callObserver(obs, result)
	}

	return result
}

// callObserver invokes obs with result, isolating the tick loop from a
// panicking observer: the panic is recovered and logged, never propagated.
func callObserver(obs Observer, result TickResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine: observer panicked, tick result already recorded", "panic", r)
		}
	}()
	obs(result)
}

// ApplyOverride updates the engine's live configuration from override,
// leaving tick history, tick count and accumulated state untouched. Only
// override's non-nil fields are applied; MaxActionsPerTick is intentionally
// not settable here, since New already refuses any value other than one.
func (e *Engine) ApplyOverride(override *Override) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if override == nil {
		return
	}
	if override.TickIntervalMillis != nil {
		e.config.TickIntervalMillis = *override.TickIntervalMillis
	}
	if override.ActionThreshold != nil {
		e.config.ActionThreshold = *override.ActionThreshold
	}
	if override.DryRun != nil {
		e.config.DryRun = *override.DryRun
	}
}

// Config returns the engine's resolved configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// SetStateMetadata records normalization bounds/unit hints for a declared
// state, consulted by the state manager's Normalize.
func (e *Engine) SetStateMetadata(name string, md state.Metadata) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states.SetMetadata(name, md)
}

// TickCount returns the number of ticks executed so far.
func (e *Engine) TickCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickCount
}

// LastTick returns the most recent TickResult, if any.
func (e *Engine) LastTick() (TickResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) == 0 {
		return TickResult{}, false
	}
	return e.history[len(e.history)-1], true
}

// History returns a defensive copy of the retained tick history.
func (e *Engine) History() []TickResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TickResult, len(e.history))
	copy(out, e.history)
	return out
}

// Run drives the tick loop synchronously for the given wall-clock
// duration, sleeping the configured interval between ticks, or until ctx
// is canceled.
func (e *Engine) Run(ctx context.Context, duration time.Duration) {
	deadline := time.Now().Add(duration)
	interval := time.Duration(e.config.TickIntervalMillis) * time.Millisecond
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.Tick()
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Start launches the tick loop on a dedicated background goroutine. Stop
// must be called to terminate it; two Starts without an intervening Stop
// is a programming error and the second call is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.stopCh != nil {
		e.mu.Unlock()
		return
	}
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(doneCh)
		interval := time.Duration(e.config.TickIntervalMillis) * time.Millisecond
		for {
			select {
			case <-stopCh:
				return
			default:
			}
			e.Tick()
			select {
			case <-stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()
}

// Stop signals the background worker to halt and waits up to grace for it
// to finish the tick currently in flight, if any. A running tick always
// completes; Stop never interrupts one mid-flight.
func (e *Engine) Stop(grace time.Duration) {
	e.mu.Lock()
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)

	select {
	case <-doneCh:
	case <-time.After(grace):
	}

	e.mu.Lock()
	e.stopCh = nil
	e.doneCh = nil
	e.mu.Unlock()
}

// Status is a point-in-time summary of the engine's run state: grounded on
// NovaIR's Engine.get_status(), which the original's demo prints between
// ticks to show the operator what the engine currently sees.
type Status struct {
	Running     bool
	TickCount   int64
	State       map[string]float64
	Violations  []string
	HistorySize int
}

// Status reports the engine's current run state, without advancing it.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.states.Current()
	violated := scorer.AllViolations(scorer.EvaluateConstraints(e.sys, current))
	names := make([]string, len(violated))
	for i, v := range violated {
		names[i] = v.Constraint.Name
	}

	return Status{
		Running:     e.stopCh != nil,
		TickCount:   e.tickCount,
		State:       current,
		Violations:  names,
		HistorySize: len(e.history),
	}
}

// Explain renders a human-readable breakdown of a candidate's four scoring
// components and predicted effects. Pass the Selected field of a TickResult
// (which may be nil) to explain why no action was chosen; criticalViolations
// names the critical constraints still in violation at no-selection time,
// mirroring NovaIR's explain_decision(), which names the unresolved
// critical violations rather than just reporting that some exist.
func Explain(sys *ast.System, threshold float64, criticalViolations []scorer.ConstraintStatus, sc *scorer.Scored) string {
	if sc == nil {
		if len(criticalViolations) > 0 {
			names := make([]string, len(criticalViolations))
			for i, v := range criticalViolations {
				names[i] = v.Constraint.Name
			}
			return fmt.Sprintf("no action resolves %d critical violation(s): %v", len(criticalViolations), names)
		}
		return fmt.Sprintf("no action selected: no candidate's score exceeded the action threshold (%.3f)", threshold)
	}

	c := sc.Candidate
	s := sc.Score
	out := fmt.Sprintf("selected %s(%v): score=%.3f [resolution=%.3f objective=%.3f cost_penalty=%.3f]\n",
		c.Action.Name, c.Params, s.Total, s.ConstraintResolution, s.Objective, s.CostPenalty)
	for _, e := range sc.Effects {
		out += fmt.Sprintf("  effect: %s %+.3f\n", e.Metric, e.Delta)
	}
	return out
}
