package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextTokenBasicTokens(t *testing.T) {
	input := `(){},.-+;*`

	tests := []struct {
		expectedType    TokenType
		expectedLiteral string
	}{
		{TokenLeftParen, "("},
		{TokenRightParen, ")"},
		{TokenLeftBrace, "{"},
		{TokenRightBrace, "}"},
		{TokenComma, ","},
		{TokenDot, "."},
		{TokenMinus, "-"},
		{TokenPlus, "+"},
		{TokenSemicolon, ";"},
		{TokenStar, "*"},
		{TokenEOF, ""},
	}

	l := New(input)
	for i, tt := range tests {
		tok := l.NextToken()
		assert.Equalf(t, tt.expectedType, tok.Type, "tests[%d] type", i)
		assert.Equalf(t, tt.expectedLiteral, tok.Literal, "tests[%d] literal", i)
	}
}

func TestNextTokenOneOrTwoCharacterTokens(t *testing.T) {
	input := `! != = == > >= < <=`

	tests := []TokenType{
		TokenBang, TokenBangEqual, TokenEqual, TokenEqualEqual,
		TokenGreater, TokenGreaterEqual, TokenLess, TokenLessEqual,
		TokenEOF,
	}

	l := New(input)
	for i, want := range tests {
		tok := l.NextToken()
		assert.Equalf(t, want, tok.Type, "tests[%d]", i)
	}
}

func TestNextTokenKeywords(t *testing.T) {
	input := `and class else false for fun if nil or print return super this true var while break continue`

	tests := []TokenType{
		TokenAnd, TokenClass, TokenElse, TokenFalse, TokenFor, TokenFun,
		TokenIf, TokenNil, TokenOr, TokenPrint, TokenReturn, TokenSuper,
		TokenThis, TokenTrue, TokenVar, TokenWhile, TokenBreak, TokenContinue,
		TokenEOF,
	}

	l := New(input)
	for i, want := range tests {
		tok := l.NextToken()
		assert.Equalf(t, want, tok.Type, "tests[%d]", i)
	}
}

func TestNextTokenStringLiteral(t *testing.T) {
	l := New(`"hello world"`)
	tok := l.NextToken()
	assert.Equal(t, TokenString, tok.Type)
	assert.Equal(t, "hello world", tok.Literal)
}

func TestNextTokenUnterminatedString(t *testing.T) {
	l := New(`"hello`)
	tok := l.NextToken()
	assert.Equal(t, TokenIllegal, tok.Type)
}

func TestNextTokenNumberLiterals(t *testing.T) {
	tests := []struct {
		input   string
		literal string
	}{
		{"123", "123"},
		{"3.14", "3.14"},
		{"0", "0"},
	}

	for _, tt := range tests {
		l := New(tt.input)
		tok := l.NextToken()
		assert.Equal(t, TokenNumber, tok.Type)
		assert.Equal(t, tt.literal, tok.Literal)
	}
}

func TestNextTokenNumberDotMethodCallDisambiguation(t *testing.T) {
	// "1.method()" is a number followed by a dot, not a decimal literal,
	// because no digit follows the dot.
	l := New(`1.method()`)

	assert.Equal(t, TokenNumber, l.NextToken().Type)
	assert.Equal(t, TokenDot, l.NextToken().Type)
	assert.Equal(t, TokenIdentifier, l.NextToken().Type)
}

func TestNextTokenIdentifiers(t *testing.T) {
	l := New(`orchid _private camelCase snake_case2`)
	for i := 0; i < 4; i++ {
		tok := l.NextToken()
		assert.Equal(t, TokenIdentifier, tok.Type)
	}
}

func TestNextTokenSkipsLineComments(t *testing.T) {
	l := New("var x = 1; // this is a comment\nvar y = 2;")
	var kinds []TokenType
	for {
		tok := l.NextToken()
		if tok.Type == TokenEOF {
			break
		}
		kinds = append(kinds, tok.Type)
	}
	assert.Equal(t, []TokenType{
		TokenVar, TokenIdentifier, TokenEqual, TokenNumber, TokenSemicolon,
		TokenVar, TokenIdentifier, TokenEqual, TokenNumber, TokenSemicolon,
	}, kinds)
}

func TestNextTokenTracksLineNumbers(t *testing.T) {
	l := New("var x = 1;\nvar y = 2;\n\nprint y;")
	var lines []int
	for {
		tok := l.NextToken()
		if tok.Type == TokenEOF {
			break
		}
		lines = append(lines, tok.Line)
	}
	assert.Equal(t, 1, lines[0])
	assert.Equal(t, 2, lines[5])
	assert.Equal(t, 4, lines[10])
}

func TestTokenizeStopsAtIllegalToken(t *testing.T) {
	l := New(`var x = 1; @`)
	tokens, err := l.Tokenize()
	assert.Error(t, err)
	assert.Equal(t, TokenIllegal, tokens[len(tokens)-1].Type)
}

func TestTokenizeFullProgram(t *testing.T) {
	l := New(`class Greeter {
  init(name) {
    this.name = name;
  }

  greet() {
    return "hi, " + this.name;
  }
}

var g = Greeter("world");
print g.greet();`)

	tokens, err := l.Tokenize()
	assert.NoError(t, err)
	assert.Equal(t, TokenEOF, tokens[len(tokens)-1].Type)
	assert.Greater(t, len(tokens), 20)
}
