package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the assembly lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenNewline

	// Literals
	TokenInteger    // 42, -7, 0x1F
	TokenFloat      // 3.14, -0.5, 1e3
	TokenString     // "hello\n"
	TokenIdentifier // push.i, count, PrintString

	// Label definition: an identifier followed by ':'
	TokenLabel
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenNewline:    "NEWLINE",
	TokenInteger:    "INTEGER",
	TokenFloat:      "FLOAT",
	TokenString:     "STRING",
	TokenIdentifier: "IDENTIFIER",
	TokenLabel:      "LABEL",
}

// String returns a string representation of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", t)
}

// Position is a location in the source, 1-based.
type Position struct {
	Offset int
	Line   int
	Column int
}

// Token is a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // decoded text (string contents without quotes)
	Pos     Position // start position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF, TokenNewline:
		return t.Type.String()
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}
