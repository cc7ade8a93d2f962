// Package scorer implements §4.4: constraint evaluation, candidate
// enumeration, effect prediction, scoring and selection. It is modeled on
// the teacher's evaluate-then-decide shape (schema.Generator comparing a
// desired and current schema and emitting a bounded, ordered set of DDLs)
// and on its declaration-order traversal discipline (schema/tsort.go),
// generalized here to keep scoring sums floating-point deterministic:
// every loop below iterates constraints/objectives/actions/parameters in
// the order they were declared in source.
package scorer

import (
	"sort"

	"github.com/loopctl/loopctl/ast"
	"github.com/loopctl/loopctl/value"
)

// epsilon is the strict-inequality slack used by the margin table.
const epsilon = 1e-3

// ConstraintStatus is the evaluated state of one declared constraint.
type ConstraintStatus struct {
	Constraint ast.Constraint
	Current    float64
	Margin     float64
	Violated   bool
}

// EvaluateConstraints computes a ConstraintStatus for every constraint in
// sys, in declaration order.
func EvaluateConstraints(sys *ast.System, current map[string]float64) []ConstraintStatus {
	out := make([]ConstraintStatus, 0, len(sys.Constraints))
	for _, c := range sys.Constraints {
		x := current[c.Metric]
		t := c.Threshold.Num
		m := Margin(x, c.Operator, t)
		out = append(out, ConstraintStatus{
			Constraint: c,
			Current:    x,
			Margin:     m,
			Violated:   m < 0,
		})
	}
	return out
}

// AllViolations filters statuses down to the violated ones (critical and
// warning alike), in the order EvaluateConstraints produced them.
func AllViolations(statuses []ConstraintStatus) []ConstraintStatus {
	out := make([]ConstraintStatus, 0, len(statuses))
	for _, st := range statuses {
		if st.Violated {
			out = append(out, st)
		}
	}
	return out
}

// CriticalViolations filters statuses down to the violated constraints
// whose declared severity is critical, discarding warnings.
func CriticalViolations(statuses []ConstraintStatus) []ConstraintStatus {
	out := make([]ConstraintStatus, 0, len(statuses))
	for _, st := range statuses {
		if st.Violated && st.Constraint.Severity == value.SeverityCritical {
			out = append(out, st)
		}
	}
	return out
}

// Margin computes the signed satisfaction margin for x against operator op
// and threshold t, per the §4.4 margin table. A negative margin means the
// constraint is violated.
func Margin(x float64, op value.Operator, t float64) float64 {
	switch op {
	case value.OpLE:
		return t - x
	case value.OpGE:
		return x - t
	case value.OpLT:
		return t - x - epsilon
	case value.OpGT:
		return x - t - epsilon
	case value.OpEQ:
		return -abs(x - t)
	case value.OpNE:
		return abs(x-t) - epsilon
	default:
		return 0
	}
}

// Candidate is an action paired with a concrete parameter assignment.
type Candidate struct {
	Action    ast.Action
	Params    map[string]int
	// ParamOrder preserves declaration order for Explain's rendering and
	// for effect prediction, which always consults the *first* declared
	// parameter.
	ParamOrder []string
}

// EnumerateCandidates builds the bounded candidate set for action a, per
// §4.4: no parameters yields one candidate; one parameter yields low/mid/
// high; more than one parameter yields a single midpoint candidate.
func EnumerateCandidates(a ast.Action) []Candidate {
	names := make([]string, len(a.Parameters))
	for i, p := range a.Parameters {
		names[i] = p.Name
	}

	switch len(a.Parameters) {
	case 0:
		return []Candidate{{Action: a, Params: map[string]int{}, ParamOrder: names}}
	case 1:
		p := a.Parameters[0]
		mid := (p.Min + p.Max) / 2
		vals := []int{p.Min, mid, p.Max}
		out := make([]Candidate, 0, len(vals))
		seen := map[int]bool{}
		for _, v := range vals {
			if seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, Candidate{Action: a, Params: map[string]int{p.Name: v}, ParamOrder: names})
		}
		return out
	default:
		params := make(map[string]int, len(a.Parameters))
		for _, p := range a.Parameters {
			params[p.Name] = (p.Min + p.Max) / 2
		}
		return []Candidate{{Action: a, Params: params, ParamOrder: names}}
	}
}

// PredictedEffect is one effect's evaluated delta for a specific candidate.
type PredictedEffect struct {
	Metric string
	Delta  float64
}

// PredictEffects evaluates every declared effect of c's action against c's
// parameter assignment, per §4.4's effect-prediction rule.
func PredictEffects(c Candidate) []PredictedEffect {
	out := make([]PredictedEffect, 0, len(c.Action.Effects))
	for _, e := range c.Action.Effects {
		out = append(out, PredictedEffect{Metric: e.Metric, Delta: predictOne(c, e)})
	}
	return out
}

func predictOne(c Candidate, e ast.Effect) float64 {
	if e.High == nil {
		return e.Low.Num
	}
	low, high := e.Low.Num, e.High.Num
	if len(c.ParamOrder) == 0 {
		return (low + high) / 2
	}
	firstName := c.ParamOrder[0]
	var pmin, pmax int
	found := false
	for _, p := range c.Action.Parameters {
		if p.Name == firstName {
			pmin, pmax = p.Min, p.Max
			found = true
			break
		}
	}
	if !found || pmax == pmin {
		return (low + high) / 2
	}
	v := c.Params[firstName]
	frac := float64(v-pmin) / float64(pmax-pmin)
	return low + (high-low)*frac
}

// Score is the four-component breakdown computed for one candidate.
type Score struct {
	ConstraintResolution float64
	Objective            float64
	CostPenalty          float64
	Total                float64
}

// ScoreCandidate computes c's Score against the current constraint
// statuses and sys's declared objectives, per §4.4 steps 1-4.
func ScoreCandidate(sys *ast.System, statuses []ConstraintStatus, current map[string]float64, c Candidate, effects []PredictedEffect) Score {
	effectByMetric := make(map[string]float64, len(effects))
	for _, e := range effects {
		effectByMetric[e.Metric] = e.Delta
	}

	hasViolation := false
	cRes := 0.0
	for _, st := range statuses {
		if !st.Violated {
			continue
		}
		hasViolation = true
		delta, ok := effectByMetric[st.Constraint.Metric]
		if !ok {
			continue
		}
		x := st.Current
		t := st.Constraint.Threshold.Num
		switch st.Constraint.Operator {
		case value.OpLE, value.OpLT:
			if delta < 0 {
				cRes += min(abs(delta), x-t) * 2
			}
		case value.OpGE, value.OpGT:
			if delta > 0 {
				cRes += min(delta, t-x) * 2
			}
		}
	}

	obj := 0.0
	for _, o := range sys.Objectives {
		delta, ok := effectByMetric[o.Metric]
		if !ok {
			continue
		}
		w := float64(o.Priority) / 10
		x := current[o.Metric]
		switch o.Kind {
		case value.ObjectiveMinimize:
			if delta < 0 {
				obj += abs(delta) * w
			} else if delta > 0 {
				obj += -delta * w * 0.5
			}
		case value.ObjectiveMaximize:
			if delta > 0 {
				obj += delta * w
			} else if delta < 0 {
				obj += delta * w * 0.5
			}
		case value.ObjectiveTarget:
			if o.Target == nil {
				continue
			}
			T := o.Target.Num
			d0 := abs(x - T)
			d1 := abs(x + delta - T)
			diff := (d0 - d1) * w
			if diff < 0 {
				diff *= 0.5
			}
			obj += diff
		}
	}

	penalty := c.Action.Cost.Penalty()

	total := obj - penalty
	if hasViolation {
		total = 10*cRes + obj - penalty
	}

	return Score{
		ConstraintResolution: cRes,
		Objective:            obj,
		CostPenalty:          penalty,
		Total:                total,
	}
}

// Scored pairs a Candidate with its computed Score, for selection and
// explanation.
type Scored struct {
	Candidate Candidate
	Effects   []PredictedEffect
	Score     Score
}

// EvaluateAll enumerates and scores every candidate of every declared
// action, in declaration order.
func EvaluateAll(sys *ast.System, statuses []ConstraintStatus, current map[string]float64) []Scored {
	var out []Scored
	for _, a := range sys.Actions {
		for _, c := range EnumerateCandidates(a) {
			effects := PredictEffects(c)
			s := ScoreCandidate(sys, statuses, current, c, effects)
			out = append(out, Scored{Candidate: c, Effects: effects, Score: s})
		}
	}
	return out
}

// Select applies the §4.4 selection rule: if any violation exists, restrict
// to candidates with ConstraintResolution > 0 (falling back to the full set
// if that restriction is empty), sort by score descending with a stable
// declaration-order tiebreak, and return the top candidate only if its
// score strictly exceeds threshold.
func Select(scored []Scored, anyViolation bool, threshold float64) (Scored, bool) {
	if len(scored) == 0 {
		return Scored{}, false
	}

	pool := scored
	if anyViolation {
		restricted := make([]Scored, 0, len(scored))
		for _, s := range scored {
			if s.Score.ConstraintResolution > 0 {
				restricted = append(restricted, s)
			}
		}
		if len(restricted) > 0 {
			pool = restricted
		}
	}

	ranked := make([]Scored, len(pool))
	copy(ranked, pool)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score.Total > ranked[j].Score.Total
	})

	top := ranked[0]
	if top.Score.Total > threshold {
		return top, true
	}
	return Scored{}, false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
