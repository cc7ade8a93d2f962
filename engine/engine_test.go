package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopctl/loopctl/ast"
	"github.com/loopctl/loopctl/scorer"
	"github.com/loopctl/loopctl/value"
)

func thermostatSystem() *ast.System {
	return &ast.System{
		Name:   "thermostat",
		States: []ast.State{{Name: "temp"}},
		Constraints: []ast.Constraint{
			{Name: "c1", Metric: "temp", Operator: value.OpLE, Threshold: value.New(80)},
		},
		Actions: []ast.Action{
			{
				Name: "cool",
				Cost: value.CostLow,
				Effects: []ast.Effect{
					{Metric: "temp", Low: value.New(-20)},
				},
			},
		},
	}
}

func TestNewRejectsReactiveMode(t *testing.T) {
	sys := thermostatSystem()
	sys.HasTick = true
	sys.Tick = ast.Tick{Mode: value.TickReactive, IntervalMillis: 100, ActionThreshold: 0.5}
	_, err := New(sys, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not yet defined")
}

func TestNewRejectsMaxActionsPerTickOtherThanOne(t *testing.T) {
	sys := thermostatSystem()
	n := 2
	_, err := New(sys, &Override{MaxActionsPerTick: &n})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_actions_per_tick")
}

func TestNewAppliesOverridesDistinguishingUnsetFromZero(t *testing.T) {
	sys := thermostatSystem()
	threshold := 0.0
	eng, err := New(sys, &Override{ActionThreshold: &threshold})
	require.NoError(t, err)
	assert.Equal(t, 0.0, eng.Config().ActionThreshold)

	eng2, err := New(sys, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, eng2.Config().ActionThreshold, 1e-9)
}

func TestTickSelectsAndExecutesResolvingAction(t *testing.T) {
	sys := thermostatSystem()
	eng, err := New(sys, nil)
	require.NoError(t, err)

	eng.RegisterStateReader("temp", func() (float64, error) { return 95, nil })
	var invoked int32
	eng.RegisterActionHandler("cool", func(params map[string]int) error {
		atomic.AddInt32(&invoked, 1)
		return nil
	})

	result := eng.Tick()
	require.NotNil(t, result.Selected)
	assert.Equal(t, "cool", result.Selected.Candidate.Action.Name)
	assert.True(t, result.Executed)
	assert.Equal(t, int32(1), invoked)
	assert.Len(t, result.Violations, 1)
}

func TestTickDryRunNeverInvokesHandler(t *testing.T) {
	sys := thermostatSystem()
	dryRun := true
	eng, err := New(sys, &Override{DryRun: &dryRun})
	require.NoError(t, err)

	eng.RegisterStateReader("temp", func() (float64, error) { return 95, nil })
	var invoked int32
	eng.RegisterActionHandler("cool", func(params map[string]int) error {
		atomic.AddInt32(&invoked, 1)
		return nil
	})

	result := eng.Tick()
	require.NotNil(t, result.Selected)
	assert.False(t, result.Executed)
	assert.Equal(t, int32(0), invoked)
}

func TestTickRetainsPriorValueOnReaderFailure(t *testing.T) {
	sys := thermostatSystem()
	eng, err := New(sys, nil)
	require.NoError(t, err)

	calls := 0
	eng.RegisterStateReader("temp", func() (float64, error) {
		calls++
		if calls == 1 {
			return 95, nil
		}
		return 0, assertErr
	})

	r1 := eng.Tick()
	r2 := eng.Tick()
	require.Len(t, r1.Statuses, 1)
	require.Len(t, r2.Statuses, 1)
	assert.Equal(t, r1.Statuses[0].Current, r2.Statuses[0].Current)
}

var assertErr = &readerError{}

type readerError struct{}

func (e *readerError) Error() string { return "read failed" }

func TestHistoryAccumulates(t *testing.T) {
	sys := thermostatSystem()
	eng, err := New(sys, nil)
	require.NoError(t, err)
	eng.RegisterStateReader("temp", func() (float64, error) { return 50, nil })

	for i := 0; i < 5; i++ {
		eng.Tick()
	}
	assert.Equal(t, int64(5), eng.TickCount())
	assert.Len(t, eng.History(), 5)

	last, ok := eng.LastTick()
	require.True(t, ok)
	assert.Equal(t, int64(4), last.Seq)
}

func TestOnTickObserverIsCalled(t *testing.T) {
	sys := thermostatSystem()
	eng, err := New(sys, nil)
	require.NoError(t, err)
	eng.RegisterStateReader("temp", func() (float64, error) { return 50, nil })

	var seen []TickResult
	eng.OnTick(func(r TickResult) { seen = append(seen, r) })
	eng.Tick()
	eng.Tick()
	require.Len(t, seen, 2)
}

func TestRunStopsAtDuration(t *testing.T) {
	sys := thermostatSystem()
	interval := 5.0
	eng, err := New(sys, &Override{TickIntervalMillis: &interval})
	require.NoError(t, err)
	eng.RegisterStateReader("temp", func() (float64, error) { return 50, nil })

	ctx := context.Background()
	eng.Run(ctx, 30*time.Millisecond)
	assert.Greater(t, eng.TickCount(), int64(0))
}

func TestStartStopBackgroundWorker(t *testing.T) {
	sys := thermostatSystem()
	interval := 5.0
	eng, err := New(sys, &Override{TickIntervalMillis: &interval})
	require.NoError(t, err)
	eng.RegisterStateReader("temp", func() (float64, error) { return 50, nil })

	eng.Start()
	time.Sleep(30 * time.Millisecond)
	eng.Stop(time.Second)

	count := eng.TickCount()
	assert.Greater(t, count, int64(0))

	// A tick no longer fires once stopped.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, eng.TickCount())
}

func TestApplyOverrideUpdatesConfigWithoutResettingHistory(t *testing.T) {
	sys := thermostatSystem()
	eng, err := New(sys, nil)
	require.NoError(t, err)
	eng.RegisterStateReader("temp", func() (float64, error) { return 50, nil })
	eng.Tick()

	threshold := 0.9
	eng.ApplyOverride(&Override{ActionThreshold: &threshold})

	assert.InDelta(t, 0.9, eng.Config().ActionThreshold, 1e-9)
	assert.Equal(t, int64(1), eng.TickCount())
	assert.Len(t, eng.History(), 1)
}

func TestRegisterReaderOrHandlerForUnknownNameIsSilentlyAccepted(t *testing.T) {
	sys := thermostatSystem()
	eng, err := New(sys, nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		eng.RegisterStateReader("nonexistent", func() (float64, error) { return 0, nil })
		eng.RegisterActionHandler("nonexistent", func(params map[string]int) error { return nil })
	})
}

func TestExplainNoSelectionBelowThreshold(t *testing.T) {
	msg := Explain(thermostatSystem(), 0.5, nil, nil)
	assert.Contains(t, msg, "no action selected")
}

func TestExplainNamesUnresolvedCriticalViolations(t *testing.T) {
	sys := thermostatSystem()
	critical := []scorer.ConstraintStatus{
		{Constraint: sys.Constraints[0], Current: 95, Margin: -15, Violated: true},
	}
	msg := Explain(sys, 0.5, critical, nil)
	assert.Contains(t, msg, "1 critical violation")
	assert.Contains(t, msg, sys.Constraints[0].Name)
}

func TestEngineStatusReportsViolationsAndHistorySize(t *testing.T) {
	sys := thermostatSystem()
	eng, err := New(sys, nil)
	require.NoError(t, err)
	eng.RegisterStateReader("temp", func() (float64, error) { return 95, nil })

	eng.Tick()
	st := eng.Status()
	assert.False(t, st.Running)
	assert.Equal(t, int64(1), st.TickCount)
	assert.Equal(t, 1, st.HistorySize)
	assert.Equal(t, []string{"c1"}, st.Violations)
	assert.Equal(t, 95.0, st.State["temp"])
}
