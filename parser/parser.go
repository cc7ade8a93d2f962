// Package parser implements a recursive-descent, one-token-lookahead
// parser from the lexer's token stream to an ast.System. It never
// backtracks; each parse function consumes exactly the tokens its grammar
// production owns and reports a parse error on the first mismatch.
package parser

import (
	"fmt"

	"github.com/loopctl/loopctl/ast"
	"github.com/loopctl/loopctl/lexer"
	"github.com/loopctl/loopctl/value"
)

// Error is a parse error: a token mismatch, carrying the line and the
// observed token kind. Parsing aborts at the first one.
type Error struct {
	Line   int
	Column int
	Kind   lexer.Kind
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s (got %s)", e.Line, e.Column, e.Msg, e.Kind)
}

type parser struct {
	toks []lexer.Token
	pos  int
}

// Parse lexes and parses src into an ast.System. It does not validate the
// result; call ast.Validate separately to collect semantic errors.
func Parse(src string) (*ast.System, error) {
	toks, err := lexer.Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.parseSystem()
}

// ParseAndValidate is the common case: parse, then run semantic
// validation, returning both kinds of error distinctly. A non-nil parse
// error means sys is nil; a non-nil validation error still returns sys, per
// §7's "validation collects all errors before surfacing" policy.
func ParseAndValidate(src string) (sys *ast.System, parseErr error, validationErr error) {
	sys, parseErr = Parse(src)
	if parseErr != nil {
		return nil, parseErr, nil
	}
	return sys, nil, ast.Validate(sys)
}

func (p *parser) cur() lexer.Token {
	return p.toks[p.pos]
}

func (p *parser) advance() lexer.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(k lexer.Kind) (lexer.Token, error) {
	t := p.cur()
	if t.Kind != k {
		return t, &Error{Line: t.Line, Column: t.Column, Kind: t.Kind, Msg: fmt.Sprintf("expected %s", k)}
	}
	return p.advance(), nil
}

func (p *parser) at(k lexer.Kind) bool {
	return p.cur().Kind == k
}

func (p *parser) pos2() ast.Position {
	t := p.cur()
	return ast.Position{Line: t.Line, Column: t.Column}
}

func (p *parser) parseSystem() (*ast.System, error) {
	sys := &ast.System{Tick: ast.DefaultTick()}

	systemTok, err := p.expect(lexer.KW_SYSTEM)
	if err != nil {
		return nil, err
	}
	sys.Position = ast.Position{Line: systemTok.Line, Column: systemTok.Column}

	nameTok, err := p.expect(lexer.IDENT)
	if err != nil {
		return nil, err
	}
	sys.Name = nameTok.Text

	if p.at(lexer.AT_VERSION) {
		p.advance()
		if _, err := p.expect(lexer.LPAREN); err != nil {
			return nil, err
		}
		verTok, err := p.expect(lexer.STRING)
		if err != nil {
			return nil, err
		}
		sys.Version = verTok.Text
		if _, err := p.expect(lexer.RPAREN); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(lexer.NEWLINE); err != nil {
		return nil, err
	}

	for !p.at(lexer.EOF) {
		switch p.cur().Kind {
		case lexer.KW_STATE:
			if err := p.parseStateSection(sys); err != nil {
				return nil, err
			}
		case lexer.KW_CONSTRAINTS:
			if err := p.parseConstraintsSection(sys); err != nil {
				return nil, err
			}
		case lexer.KW_OBJECTIVES:
			if err := p.parseObjectivesSection(sys); err != nil {
				return nil, err
			}
		case lexer.KW_ACTIONS:
			if err := p.parseActionsSection(sys); err != nil {
				return nil, err
			}
		case lexer.KW_TICK:
			if err := p.parseTickSection(sys); err != nil {
				return nil, err
			}
		default:
			// The parser does not attempt recovery beyond skipping unknown
			// top-level tokens (the tokens of an unrecognized top-level line
			// land here; blank lines produce no tokens at all).
			p.advance()
		}
	}

	return sys, nil
}

func (p *parser) expectSectionHeader(k lexer.Kind) error {
	if _, err := p.expect(k); err != nil {
		return err
	}
	if _, err := p.expect(lexer.COLON); err != nil {
		return err
	}
	if _, err := p.expect(lexer.NEWLINE); err != nil {
		return err
	}
	if _, err := p.expect(lexer.INDENT); err != nil {
		return err
	}
	return nil
}

func (p *parser) parseStateSection(sys *ast.System) error {
	if err := p.expectSectionHeader(lexer.KW_STATE); err != nil {
		return err
	}
	for !p.at(lexer.DEDENT) {
		st, err := p.parseStateBinding()
		if err != nil {
			return err
		}
		sys.States = append(sys.States, st)
	}
	_, err := p.expect(lexer.DEDENT)
	return err
}

// identLike accepts a plain identifier or one of the contextual keywords
// the grammar's "IdLike" production allows as a state-binding name.
func (p *parser) identLike() (lexer.Token, error) {
	t := p.cur()
	if t.Kind == lexer.IDENT || lexer.IdLikeKeywords[t.Kind] {
		return p.advance(), nil
	}
	return t, &Error{Line: t.Line, Column: t.Column, Kind: t.Kind, Msg: "expected identifier"}
}

func (p *parser) parseStateBinding() (ast.State, error) {
	pos := p.pos2()
	nameTok, err := p.identLike()
	if err != nil {
		return ast.State{}, err
	}
	if _, err := p.expect(lexer.ARROW_LEFT); err != nil {
		return ast.State{}, err
	}
	path, err := p.parsePath()
	if err != nil {
		return ast.State{}, err
	}
	if _, err := p.expect(lexer.NEWLINE); err != nil {
		return ast.State{}, err
	}
	return ast.State{Position: pos, Name: nameTok.Text, Path: path}, nil
}

func (p *parser) parsePath() (ast.SourcePath, error) {
	pos := p.pos2()
	first, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.SourcePath{}, err
	}
	segs := []string{first.Text}
	for p.at(lexer.DOT) {
		p.advance()
		seg, err := p.expect(lexer.IDENT)
		if err != nil {
			return ast.SourcePath{}, err
		}
		segs = append(segs, seg.Text)
	}
	return ast.SourcePath{Position: pos, Segments: segs}, nil
}

func (p *parser) parseConstraintsSection(sys *ast.System) error {
	if err := p.expectSectionHeader(lexer.KW_CONSTRAINTS); err != nil {
		return err
	}
	for !p.at(lexer.DEDENT) {
		c, err := p.parseConstraint()
		if err != nil {
			return err
		}
		sys.Constraints = append(sys.Constraints, c)
	}
	_, err := p.expect(lexer.DEDENT)
	return err
}

func (p *parser) parseConstraint() (ast.Constraint, error) {
	pos := p.pos2()
	nameTok, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.Constraint{}, err
	}
	if _, err := p.expect(lexer.COLON); err != nil {
		return ast.Constraint{}, err
	}
	metricTok, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.Constraint{}, err
	}
	op, err := p.parseCmpOp()
	if err != nil {
		return ast.Constraint{}, err
	}
	threshold, err := p.parseValue()
	if err != nil {
		return ast.Constraint{}, err
	}
	sev, err := p.parseSeverity()
	if err != nil {
		return ast.Constraint{}, err
	}
	if _, err := p.expect(lexer.NEWLINE); err != nil {
		return ast.Constraint{}, err
	}
	return ast.Constraint{
		Position:  pos,
		Name:      nameTok.Text,
		Metric:    metricTok.Text,
		Operator:  op,
		Threshold: threshold,
		Severity:  sev,
	}, nil
}

func (p *parser) parseCmpOp() (value.Operator, error) {
	t := p.cur()
	var op value.Operator
	switch t.Kind {
	case lexer.LE:
		op = value.OpLE
	case lexer.LT:
		op = value.OpLT
	case lexer.GE:
		op = value.OpGE
	case lexer.GT:
		op = value.OpGT
	case lexer.EQ:
		op = value.OpEQ
	case lexer.NE:
		op = value.OpNE
	default:
		return "", &Error{Line: t.Line, Column: t.Column, Kind: t.Kind, Msg: "expected comparison operator"}
	}
	p.advance()
	return op, nil
}

func (p *parser) parseSeverity() (value.Severity, error) {
	t := p.cur()
	switch t.Kind {
	case lexer.AT_CRITICAL:
		p.advance()
		return value.SeverityCritical, nil
	case lexer.AT_WARNING:
		p.advance()
		return value.SeverityWarning, nil
	default:
		return "", &Error{Line: t.Line, Column: t.Column, Kind: t.Kind, Msg: "expected @critical or @warning"}
	}
}

// parseValue parses a NUMBER optionally followed by a UNIT token.
func (p *parser) parseValue() (value.WithUnit, error) {
	numTok, err := p.expect(lexer.NUMBER)
	if err != nil {
		return value.WithUnit{}, err
	}
	if p.at(lexer.UNIT) {
		unitTok := p.advance()
		return value.NewWithUnit(numTok.Num, value.Unit(unitTok.Text)), nil
	}
	return value.New(numTok.Num), nil
}

func (p *parser) parseObjectivesSection(sys *ast.System) error {
	if err := p.expectSectionHeader(lexer.KW_OBJECTIVES); err != nil {
		return err
	}
	for !p.at(lexer.DEDENT) {
		o, err := p.parseObjective()
		if err != nil {
			return err
		}
		sys.Objectives = append(sys.Objectives, o)
	}
	_, err := p.expect(lexer.DEDENT)
	return err
}

func (p *parser) parseObjective() (ast.Objective, error) {
	pos := p.pos2()
	nameTok, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.Objective{}, err
	}
	if _, err := p.expect(lexer.COLON); err != nil {
		return ast.Objective{}, err
	}
	metricTok, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.Objective{}, err
	}
	if _, err := p.expect(lexer.ARROW_RIGHT); err != nil {
		return ast.Objective{}, err
	}

	var kind value.ObjectiveKind
	var target *value.WithUnit
	switch p.cur().Kind {
	case lexer.KW_TARGET:
		p.advance()
		if _, err := p.expect(lexer.LPAREN); err != nil {
			return ast.Objective{}, err
		}
		v, err := p.parseValue()
		if err != nil {
			return ast.Objective{}, err
		}
		if _, err := p.expect(lexer.RPAREN); err != nil {
			return ast.Objective{}, err
		}
		kind = value.ObjectiveTarget
		target = &v
	case lexer.KW_MIN:
		p.advance()
		kind = value.ObjectiveMinimize
	case lexer.KW_MAX:
		p.advance()
		kind = value.ObjectiveMaximize
	default:
		t := p.cur()
		return ast.Objective{}, &Error{Line: t.Line, Column: t.Column, Kind: t.Kind, Msg: "expected target(...), min, or max"}
	}

	if _, err := p.expect(lexer.AT_PRIORITY); err != nil {
		return ast.Objective{}, err
	}
	if _, err := p.expect(lexer.LPAREN); err != nil {
		return ast.Objective{}, err
	}
	prioTok, err := p.expect(lexer.NUMBER)
	if err != nil {
		return ast.Objective{}, err
	}
	if _, err := p.expect(lexer.RPAREN); err != nil {
		return ast.Objective{}, err
	}
	if _, err := p.expect(lexer.NEWLINE); err != nil {
		return ast.Objective{}, err
	}

	return ast.Objective{
		Position: pos,
		Name:     nameTok.Text,
		Metric:   metricTok.Text,
		Kind:     kind,
		Target:   target,
		Priority: int(prioTok.Num),
	}, nil
}

func (p *parser) parseActionsSection(sys *ast.System) error {
	if err := p.expectSectionHeader(lexer.KW_ACTIONS); err != nil {
		return err
	}
	for !p.at(lexer.DEDENT) {
		a, err := p.parseAction()
		if err != nil {
			return err
		}
		sys.Actions = append(sys.Actions, a)
	}
	_, err := p.expect(lexer.DEDENT)
	return err
}

func (p *parser) parseAction() (ast.Action, error) {
	pos := p.pos2()
	nameTok, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.Action{}, err
	}
	if _, err := p.expect(lexer.COLON); err != nil {
		return ast.Action{}, err
	}
	if _, err := p.expect(lexer.NEWLINE); err != nil {
		return ast.Action{}, err
	}
	if _, err := p.expect(lexer.INDENT); err != nil {
		return ast.Action{}, err
	}

	act := ast.Action{Position: pos, Name: nameTok.Text}
	for !p.at(lexer.DEDENT) {
		switch p.cur().Kind {
		case lexer.KW_PARAMETERS:
			p.advance()
			if _, err := p.expect(lexer.COLON); err != nil {
				return ast.Action{}, err
			}
			params, err := p.parseParamList()
			if err != nil {
				return ast.Action{}, err
			}
			act.Parameters = params
			if _, err := p.expect(lexer.NEWLINE); err != nil {
				return ast.Action{}, err
			}
		case lexer.KW_EFFECTS:
			p.advance()
			if _, err := p.expect(lexer.COLON); err != nil {
				return ast.Action{}, err
			}
			if _, err := p.expect(lexer.NEWLINE); err != nil {
				return ast.Action{}, err
			}
			if _, err := p.expect(lexer.INDENT); err != nil {
				return ast.Action{}, err
			}
			for !p.at(lexer.DEDENT) {
				eff, err := p.parseEffect()
				if err != nil {
					return ast.Action{}, err
				}
				act.Effects = append(act.Effects, eff)
			}
			if _, err := p.expect(lexer.DEDENT); err != nil {
				return ast.Action{}, err
			}
		case lexer.KW_COST:
			p.advance()
			if _, err := p.expect(lexer.COLON); err != nil {
				return ast.Action{}, err
			}
			cost, err := p.parseCost()
			if err != nil {
				return ast.Action{}, err
			}
			act.Cost = cost
			if _, err := p.expect(lexer.NEWLINE); err != nil {
				return ast.Action{}, err
			}
		default:
			t := p.cur()
			return ast.Action{}, &Error{Line: t.Line, Column: t.Column, Kind: t.Kind, Msg: "expected parameters, effects, or cost"}
		}
	}
	if _, err := p.expect(lexer.DEDENT); err != nil {
		return ast.Action{}, err
	}
	return act, nil
}

func (p *parser) parseParamList() ([]ast.Parameter, error) {
	if _, err := p.expect(lexer.LBRACKET); err != nil {
		return nil, err
	}
	var params []ast.Parameter
	for {
		param, err := p.parseParam()
		if err != nil {
			return nil, err
		}
		params = append(params, param)
		if p.at(lexer.COMMA) {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(lexer.RBRACKET); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *parser) parseParam() (ast.Parameter, error) {
	pos := p.pos2()
	nameTok, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.Parameter{}, err
	}
	if _, err := p.expect(lexer.COLON); err != nil {
		return ast.Parameter{}, err
	}
	minTok, err := p.expect(lexer.NUMBER)
	if err != nil {
		return ast.Parameter{}, err
	}
	if _, err := p.expect(lexer.RANGE); err != nil {
		return ast.Parameter{}, err
	}
	maxTok, err := p.expect(lexer.NUMBER)
	if err != nil {
		return ast.Parameter{}, err
	}
	return ast.Parameter{
		Position: pos,
		Name:     nameTok.Text,
		Min:      int(minTok.Num),
		Max:      int(maxTok.Num),
	}, nil
}

func (p *parser) parseEffect() (ast.Effect, error) {
	pos := p.pos2()
	metricTok, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.Effect{}, err
	}
	if _, err := p.expect(lexer.COLON); err != nil {
		return ast.Effect{}, err
	}
	low, err := p.parseValue()
	if err != nil {
		return ast.Effect{}, err
	}
	var high *value.WithUnit
	if p.at(lexer.KW_TO) {
		p.advance()
		h, err := p.parseValue()
		if err != nil {
			return ast.Effect{}, err
		}
		high = &h
	}
	if _, err := p.expect(lexer.NEWLINE); err != nil {
		return ast.Effect{}, err
	}
	return ast.Effect{Position: pos, Metric: metricTok.Text, Low: low, High: high}, nil
}

func (p *parser) parseCost() (value.Cost, error) {
	t := p.cur()
	switch t.Kind {
	case lexer.KW_LOW:
		p.advance()
		return value.CostLow, nil
	case lexer.KW_MEDIUM:
		p.advance()
		return value.CostMedium, nil
	case lexer.KW_HIGH:
		p.advance()
		return value.CostHigh, nil
	default:
		return "", &Error{Line: t.Line, Column: t.Column, Kind: t.Kind, Msg: "expected low, medium, or high"}
	}
}

func (p *parser) parseTickSection(sys *ast.System) error {
	if err := p.expectSectionHeader(lexer.KW_TICK); err != nil {
		return err
	}
	tick := ast.DefaultTick()
	tick.Position = sys.Tick.Position
	for !p.at(lexer.DEDENT) {
		if err := p.parseTickProp(&tick); err != nil {
			return err
		}
	}
	if _, err := p.expect(lexer.DEDENT); err != nil {
		return err
	}
	sys.Tick = tick
	sys.HasTick = true
	return nil
}

func (p *parser) parseTickProp(tick *ast.Tick) error {
	switch p.cur().Kind {
	case lexer.KW_INTERVAL:
		p.advance()
		if _, err := p.expect(lexer.COLON); err != nil {
			return err
		}
		numTok, err := p.expect(lexer.NUMBER)
		if err != nil {
			return err
		}
		millis := numTok.Num
		if p.at(lexer.UNIT) {
			unitTok := p.advance()
			u := value.Unit(unitTok.Text)
			if value.IsTimeUnit(u) {
				millis = value.ToMillis(numTok.Num, u)
			}
		} else if p.at(lexer.IDENT) {
			// A bare identifier in {ms, s, m, h} is also accepted, per the
			// tick interval unit handling rule.
			switch p.cur().Text {
			case "ms", "s", "m", "h":
				unitTok := p.advance()
				millis = value.ToMillis(numTok.Num, value.Unit(unitTok.Text))
			}
		}
		tick.IntervalMillis = millis
		_, err = p.expect(lexer.NEWLINE)
		return err
	case lexer.KW_ACTION_THRESHOLD:
		p.advance()
		if _, err := p.expect(lexer.COLON); err != nil {
			return err
		}
		numTok, err := p.expect(lexer.NUMBER)
		if err != nil {
			return err
		}
		tick.ActionThreshold = numTok.Num
		_, err = p.expect(lexer.NEWLINE)
		return err
	case lexer.KW_MODE:
		p.advance()
		if _, err := p.expect(lexer.COLON); err != nil {
			return err
		}
		t := p.cur()
		switch t.Kind {
		case lexer.KW_CONTINUOUS:
			p.advance()
			tick.Mode = value.TickContinuous
		case lexer.KW_REACTIVE:
			p.advance()
			tick.Mode = value.TickReactive
		default:
			return &Error{Line: t.Line, Column: t.Column, Kind: t.Kind, Msg: "expected continuous or reactive"}
		}
		_, err := p.expect(lexer.NEWLINE)
		return err
	default:
		t := p.cur()
		return &Error{Line: t.Line, Column: t.Column, Kind: t.Kind, Msg: "expected interval, action_threshold, or mode"}
	}
}
