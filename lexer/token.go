package lexer

import "fmt"

// Kind identifies the category of a Token.
type Kind int

const (
	EOF Kind = iota
	NEWLINE
	INDENT
	DEDENT

	// Punctuation
	COLON
	COMMA
	DOT
	LPAREN
	RPAREN
	LBRACKET
	RBRACKET

	// Operators
	ARROW_LEFT  // <-
	ARROW_RIGHT // ->
	RANGE       // ..
	LE          // <=
	GE          // >=
	LT          // <
	GT          // >
	EQ          // ==
	NE          // !=

	// Literals
	IDENT
	NUMBER
	STRING
	UNIT

	// Keywords
	KW_SYSTEM
	KW_STATE
	KW_CONSTRAINTS
	KW_OBJECTIVES
	KW_ACTIONS
	KW_TICK
	KW_PARAMETERS
	KW_EFFECTS
	KW_COST
	KW_TARGET
	KW_MIN
	KW_MAX
	KW_TO
	KW_INTERVAL
	KW_ACTION_THRESHOLD
	KW_MODE
	KW_LOW
	KW_MEDIUM
	KW_HIGH
	KW_CONTINUOUS
	KW_REACTIVE

	// Annotations
	AT_VERSION
	AT_CRITICAL
	AT_WARNING
	AT_PRIORITY
)

var kindNames = map[Kind]string{
	EOF:                 "eof",
	NEWLINE:             "newline",
	INDENT:              "indent",
	DEDENT:              "dedent",
	COLON:               "':'",
	COMMA:               "','",
	DOT:                 "'.'",
	LPAREN:              "'('",
	RPAREN:              "')'",
	LBRACKET:            "'['",
	RBRACKET:            "']'",
	ARROW_LEFT:          "'<-'",
	ARROW_RIGHT:         "'->'",
	RANGE:               "'..'",
	LE:                  "'<='",
	GE:                  "'>='",
	LT:                  "'<'",
	GT:                  "'>'",
	EQ:                  "'=='",
	NE:                  "'!='",
	IDENT:               "identifier",
	NUMBER:              "number",
	STRING:              "string",
	UNIT:                "unit",
	KW_SYSTEM:           "'system'",
	KW_STATE:            "'state'",
	KW_CONSTRAINTS:      "'constraints'",
	KW_OBJECTIVES:       "'objectives'",
	KW_ACTIONS:          "'actions'",
	KW_TICK:             "'tick'",
	KW_PARAMETERS:       "'parameters'",
	KW_EFFECTS:          "'effects'",
	KW_COST:             "'cost'",
	KW_TARGET:           "'target'",
	KW_MIN:              "'min'",
	KW_MAX:              "'max'",
	KW_TO:               "'to'",
	KW_INTERVAL:         "'interval'",
	KW_ACTION_THRESHOLD: "'action_threshold'",
	KW_MODE:             "'mode'",
	KW_LOW:              "'low'",
	KW_MEDIUM:           "'medium'",
	KW_HIGH:             "'high'",
	KW_CONTINUOUS:       "'continuous'",
	KW_REACTIVE:         "'reactive'",
	AT_VERSION:          "'@version'",
	AT_CRITICAL:         "'@critical'",
	AT_WARNING:          "'@warning'",
	AT_PRIORITY:         "'@priority'",
}

// String renders a human-readable name for kind, used in error messages.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// keywords maps a lowercase identifier spelling to its reserved keyword
// kind. Identifiers not present here lex as plain IDENT. A handful of
// these (see IdLikeKeywords) are still accepted as state-binding names by
// the parser, per the grammar's "IdLike" production.
var keywords = map[string]Kind{
	"system":           KW_SYSTEM,
	"state":            KW_STATE,
	"constraints":      KW_CONSTRAINTS,
	"objectives":       KW_OBJECTIVES,
	"actions":          KW_ACTIONS,
	"tick":             KW_TICK,
	"parameters":       KW_PARAMETERS,
	"effects":          KW_EFFECTS,
	"cost":             KW_COST,
	"target":           KW_TARGET,
	"min":              KW_MIN,
	"max":              KW_MAX,
	"to":               KW_TO,
	"interval":         KW_INTERVAL,
	"action_threshold": KW_ACTION_THRESHOLD,
	"mode":             KW_MODE,
	"low":              KW_LOW,
	"medium":           KW_MEDIUM,
	"high":             KW_HIGH,
	"continuous":       KW_CONTINUOUS,
	"reactive":         KW_REACTIVE,
}

// annotations maps an "@name" spelling (name already lowercased, without
// the "@") to its annotation kind.
var annotations = map[string]Kind{
	"version":  AT_VERSION,
	"critical": AT_CRITICAL,
	"warning":  AT_WARNING,
	"priority": AT_PRIORITY,
}

// IdLikeKeywords are the keywords the grammar's "IdLike" production allows
// to double as a state-binding name in `state:` sections.
var IdLikeKeywords = map[Kind]bool{
	KW_TARGET:           true,
	KW_MIN:              true,
	KW_MAX:              true,
	KW_MODE:             true,
	KW_INTERVAL:         true,
	KW_COST:             true,
}

// Token is a single lexical unit with its source position.
type Token struct {
	Kind   Kind
	Text   string
	Num    float64
	Line   int
	Column int
}

func (t Token) String() string {
	if t.Text != "" {
		return fmt.Sprintf("%s(%q)", t.Kind, t.Text)
	}
	return t.Kind.String()
}
