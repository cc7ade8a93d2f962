package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(toks []Token) []Kind {
	out := make([]Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestTokenizeStateBinding(t *testing.T) {
	toks, err := Tokenize("state:\n  cpu <- sensors.cpu.load\n")
	require.NoError(t, err)
	assert.Equal(t, []Kind{
		KW_STATE, COLON, NEWLINE,
		INDENT,
		IDENT, ARROW_LEFT, IDENT, DOT, IDENT, DOT, IDENT, NEWLINE,
		DEDENT, EOF,
	}, kinds(toks))
}

func TestTokenizeNestedIndentDedent(t *testing.T) {
	toks, err := Tokenize("actions:\n  cool:\n    cost: low\n")
	require.NoError(t, err)
	assert.Equal(t, []Kind{
		KW_ACTIONS, COLON, NEWLINE,
		INDENT,
		IDENT, COLON, NEWLINE,
		INDENT,
		KW_COST, COLON, KW_LOW, NEWLINE,
		DEDENT, DEDENT, EOF,
	}, kinds(toks))
}

func TestTokenizeNoTrailingNewline(t *testing.T) {
	toks, err := Tokenize("state:\n  x <- a")
	require.NoError(t, err)
	last := toks[len(toks)-2] // before EOF
	assert.Equal(t, NEWLINE, last.Kind)
}

func TestIndentMismatchErrors(t *testing.T) {
	_, err := Tokenize("state:\n    x <- a\n  y <- b\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indentation does not match")
}

func TestMixedTabsAndSpacesErrors(t *testing.T) {
	_, err := Tokenize("state:\n \tx <- a\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tabs must not be mixed")
}

func TestLexNumberWithUnit(t *testing.T) {
	toks, err := Tokenize("75.5°C\n")
	require.NoError(t, err)
	require.True(t, len(toks) >= 2)
	assert.Equal(t, NUMBER, toks[0].Kind)
	assert.InDelta(t, 75.5, toks[0].Num, 1e-9)
}

func TestLexPercentSuffix(t *testing.T) {
	toks, err := Tokenize("90%\n")
	require.NoError(t, err)
	assert.Equal(t, NUMBER, toks[0].Kind)
	assert.Equal(t, UNIT, toks[1].Kind)
	assert.Equal(t, "%", toks[1].Text)
}

func TestLexDegreeCelsius(t *testing.T) {
	toks, err := Tokenize("20°C\n")
	require.NoError(t, err)
	assert.Equal(t, UNIT, toks[1].Kind)
	assert.Equal(t, "°C", toks[1].Text)
}

func TestLexMillisecondUnit(t *testing.T) {
	toks, err := Tokenize("100ms\n")
	require.NoError(t, err)
	assert.Equal(t, UNIT, toks[1].Kind)
	assert.Equal(t, "ms", toks[1].Text)
}

func TestLexKelvinUnit(t *testing.T) {
	toks, err := Tokenize("300K\n")
	require.NoError(t, err)
	assert.Equal(t, NUMBER, toks[0].Kind)
	assert.Equal(t, UNIT, toks[1].Kind)
	assert.Equal(t, "K", toks[1].Text)
}

func TestRangeNotMisreadAsDecimal(t *testing.T) {
	toks, err := Tokenize("0..10\n")
	require.NoError(t, err)
	assert.Equal(t, []Kind{NUMBER, RANGE, NUMBER, NEWLINE, EOF}, kinds(toks))
	assert.InDelta(t, 0, toks[0].Num, 1e-9)
	assert.InDelta(t, 10, toks[2].Num, 1e-9)
}

func TestDecimalNumber(t *testing.T) {
	toks, err := Tokenize("3.5\n")
	require.NoError(t, err)
	assert.Equal(t, NUMBER, toks[0].Kind)
	assert.InDelta(t, 3.5, toks[0].Num, 1e-9)
}

func TestUnterminatedStringErrors(t *testing.T) {
	_, err := Tokenize("@version(\"1.0\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated string")
}

func TestUnknownAnnotationErrors(t *testing.T) {
	_, err := Tokenize("@bogus\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown annotation")
}

func TestTwoCharOperators(t *testing.T) {
	toks, err := Tokenize("<- -> .. <= >= == !=\n")
	require.NoError(t, err)
	assert.Equal(t, []Kind{
		ARROW_LEFT, ARROW_RIGHT, RANGE, LE, GE, EQ, NE, NEWLINE, EOF,
	}, kinds(toks))
}

func TestKeywordCaseInsensitive(t *testing.T) {
	toks, err := Tokenize("STATE\n")
	require.NoError(t, err)
	assert.Equal(t, KW_STATE, toks[0].Kind)
}

func TestUnexpectedCharacterErrors(t *testing.T) {
	_, err := Tokenize("$\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected character")
}

func TestCommentsAreSkipped(t *testing.T) {
	toks, err := Tokenize("# a comment\nstate:\n  x <- a\n")
	require.NoError(t, err)
	assert.Equal(t, KW_STATE, toks[0].Kind)
}
