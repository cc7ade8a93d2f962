package main

import (
	"github.com/loopctl/loopctl/ast"
	"github.com/loopctl/loopctl/engine"
)

// plant is the thin in-process stand-in mentioned in the package doc: a
// bare map of the declared states' current values plus enough wiring to
// let a selected action's predicted effects feed back into the next
// tick's reads. It has no notion of physics, noise or delay; it exists so
// `loopctl` has something to drive without requiring an external process.
type plant struct {
	sys    *ast.System
	values map[string]float64
}

func newPlant(sys *ast.System, initial map[string]float64) *plant {
	values := make(map[string]float64, len(sys.States))
	for _, st := range sys.States {
		if v, ok := initial[st.Name]; ok {
			values[st.Name] = v
			continue
		}
		values[st.Name] = 50.0
	}
	return &plant{sys: sys, values: values}
}

// wire registers a reader for every declared state and a handler for
// every declared action. The handler applies the action's predicted
// effects (evaluated at the parameter values the action was invoked
// with) directly onto the plant's stored values.
func (p *plant) wire(eng *engine.Engine) {
	for _, st := range p.sys.States {
		name := st.Name
		eng.RegisterStateReader(name, func() (float64, error) {
			return p.values[name], nil
		})
	}

	for _, a := range p.sys.Actions {
		action := a
		eng.RegisterActionHandler(action.Name, func(params map[string]int) error {
			p.apply(action, params)
			return nil
		})
	}
}

// apply mirrors scorer.predictOne's interpolation rule so the plant's
// reaction matches what the engine predicted when it scored the
// candidate: the first declared parameter drives a linear interpolation
// between an effect's low and high bound, and an effect with no high
// bound is a flat delta.
func (p *plant) apply(a ast.Action, params map[string]int) {
	for _, e := range a.Effects {
		delta := e.Low.Num
		if e.High != nil && len(a.Parameters) > 0 {
			first := a.Parameters[0]
			if first.Max != first.Min {
				v := params[first.Name]
				frac := float64(v-first.Min) / float64(first.Max-first.Min)
				delta = e.Low.Num + (e.High.Num-e.Low.Num)*frac
			} else {
				delta = (e.Low.Num + e.High.Num) / 2
			}
		} else if e.High != nil {
			delta = (e.Low.Num + e.High.Num) / 2
		}
		p.values[e.Metric] += delta
	}
}
