// Package ast defines the typed tree produced by the parser: a System root
// aggregating state bindings, constraints, objectives, actions and an
// optional tick block, plus the semantic validator of §3's invariants.
//
// Node kinds are modeled as flat structs behind a single marker interface
// rather than a class hierarchy, the same shape the teacher's DDL nodes
// take (one struct per statement kind, one shared `Statement()` method).
// The AST is built once by the parser and is immutable thereafter; nothing
// under this package mutates a System after Validate has run.
package ast

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/loopctl/loopctl/value"
)

// Node is the marker interface implemented by every AST element that
// carries a source Position.
type Node interface {
	Pos() Position
}

// Position identifies where in the source a node began.
type Position struct {
	Line   int
	Column int
}

// Pos implements Node.
func (p Position) Pos() Position { return p }

// SourcePath is the ordered, non-empty sequence of identifier segments a
// state binds to, e.g. sensors.cpu.temp. The runtime never interprets it;
// it exists purely for provenance/display.
type SourcePath struct {
	Position
	Segments []string
}

// String renders the path dotted, as written in source.
func (p SourcePath) String() string {
	out := ""
	for i, s := range p.Segments {
		if i > 0 {
			out += "."
		}
		out += s
	}
	return out
}

// State is a named scalar bound to a SourcePath.
type State struct {
	Position
	Name string
	Path SourcePath
}

// Constraint is a hard or soft predicate over a declared state.
type Constraint struct {
	Position
	Name      string
	Metric    string
	Operator  value.Operator
	Threshold value.WithUnit
	Severity  value.Severity
}

// Objective is a direction of desired improvement over a declared state.
// Target is only meaningful when Kind == ObjectiveTarget.
type Objective struct {
	Position
	Name     string
	Metric   string
	Kind     value.ObjectiveKind
	Target   *value.WithUnit
	Priority int
}

// Effect is a predicted delta an action applies to a metric. High is nil
// for a scalar effect; when set, the effect is linearly interpolated along
// the candidate's first parameter.
type Effect struct {
	Position
	Metric string
	Low    value.WithUnit
	High   *value.WithUnit
}

// Parameter is an integer-valued, inclusive range an action candidate can
// be enumerated over.
type Parameter struct {
	Position
	Name string
	Min  int
	Max  int
}

// Action is a named, optionally-parameterized side-effecting operation.
type Action struct {
	Position
	Name       string
	Parameters []Parameter
	Effects    []Effect
	Cost       value.Cost
}

// Tick configures the decision loop's cadence and sensitivity.
type Tick struct {
	Position
	IntervalMillis  float64
	ActionThreshold float64
	Mode            value.TickMode
}

// DefaultTick returns the tick configuration used when the source has no
// tick block.
func DefaultTick() Tick {
	return Tick{
		IntervalMillis:  100,
		ActionThreshold: 0.5,
		Mode:            value.TickContinuous,
	}
}

// System is the root aggregate produced by a successful parse.
type System struct {
	Position
	Name        string
	Version     string
	States      []State
	Constraints []Constraint
	Objectives  []Objective
	Actions     []Action
	Tick        Tick
	HasTick     bool
}

// EffectiveTick returns the system's tick block, or the default if none was
// declared.
func (s *System) EffectiveTick() Tick {
	if s.HasTick {
		return s.Tick
	}
	return DefaultTick()
}

// StateByName looks up a declared state by name.
func (s *System) StateByName(name string) (State, bool) {
	for _, st := range s.States {
		if st.Name == name {
			return st, true
		}
	}
	return State{}, false
}

// Validate runs the seven §3 invariants against s and returns every
// violation found, joined with multierr so callers see the complete list
// rather than only the first failure — validation never fails fast, unlike
// lexing/parsing.
func Validate(s *System) error {
	var errs error

	if s.Name == "" {
		errs = multierr.Append(errs, fmt.Errorf("system name must not be empty"))
	}
	if len(s.States) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("system must declare at least one state"))
	}
	if len(s.Constraints) == 0 && len(s.Objectives) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("system must declare at least one constraint or objective"))
	}

	stateNames := map[string]bool{}
	for _, st := range s.States {
		if stateNames[st.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate state name %q", st.Name))
		}
		stateNames[st.Name] = true
	}

	constraintNames := map[string]bool{}
	for _, c := range s.Constraints {
		if constraintNames[c.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate constraint name %q", c.Name))
		}
		constraintNames[c.Name] = true
		if !stateNames[c.Metric] {
			errs = multierr.Append(errs, fmt.Errorf("constraint %q references undeclared state %q", c.Name, c.Metric))
		}
	}

	objectiveNames := map[string]bool{}
	for _, o := range s.Objectives {
		if objectiveNames[o.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate objective name %q", o.Name))
		}
		objectiveNames[o.Name] = true
		if !stateNames[o.Metric] {
			errs = multierr.Append(errs, fmt.Errorf("objective %q references undeclared state %q", o.Name, o.Metric))
		}
		if o.Priority < 1 || o.Priority > 10 {
			errs = multierr.Append(errs, fmt.Errorf("objective %q priority %d out of range [1,10]", o.Name, o.Priority))
		}
		if o.Kind == value.ObjectiveTarget && o.Target == nil {
			errs = multierr.Append(errs, fmt.Errorf("objective %q has kind target but no target value", o.Name))
		}
		if o.Kind != value.ObjectiveTarget && o.Target != nil {
			errs = multierr.Append(errs, fmt.Errorf("objective %q has kind %q but carries a target value", o.Name, o.Kind))
		}
	}

	actionNames := map[string]bool{}
	for _, a := range s.Actions {
		if actionNames[a.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate action name %q", a.Name))
		}
		actionNames[a.Name] = true
		for _, p := range a.Parameters {
			if p.Min > p.Max {
				errs = multierr.Append(errs, fmt.Errorf("action %q parameter %q has min %d > max %d", a.Name, p.Name, p.Min, p.Max))
			}
		}
	}

	return errs
}
