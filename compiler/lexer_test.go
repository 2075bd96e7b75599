package compiler

import (
	"testing"
)

func TestLexerInstructionLine(t *testing.T) {
	input := "loop: push.s \"hi\\n\" ; greet\n  call.v PrintString\n"
	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenLabel, "loop"},
		{TokenIdentifier, "push.s"},
		{TokenString, "hi\n"},
		{TokenNewline, "\n"},
		{TokenIdentifier, "call.v"},
		{TokenIdentifier, "PrintString"},
		{TokenNewline, "\n"},
		{TokenEOF, ""},
	}

	l := NewLexer(input)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, tok.Type, exp.typ)
		}
		if tok.Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, tok.Literal, exp.lit)
		}
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
		want  string
	}{
		{"42", TokenInteger, "42"},
		{"-7", TokenInteger, "-7"},
		{"0x1F", TokenInteger, "0x1F"},
		{"-0x10", TokenInteger, "-0x10"},
		{"3.25", TokenFloat, "3.25"},
		{"-0.5", TokenFloat, "-0.5"},
		{".5", TokenFloat, ".5"},
		{"1e3", TokenFloat, "1e3"},
		{"2f", TokenFloat, "2"},
		{"2.5f", TokenFloat, "2.5"},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != tc.typ {
			t.Errorf("Lexer(%q): type = %v, want %v", tc.input, tok.Type, tc.typ)
		}
		if tok.Literal != tc.want {
			t.Errorf("Lexer(%q): literal = %q, want %q", tc.input, tok.Literal, tc.want)
		}
	}
}

func TestLexerPositions(t *testing.T) {
	toks := NewLexer("nop\n\n  pop").Tokens()
	// nop, NL, NL, pop, EOF
	if len(toks) != 5 {
		t.Fatalf("got %d tokens, want 5: %v", len(toks), toks)
	}
	pop := toks[3]
	if pop.Pos.Line != 3 || pop.Pos.Column != 3 {
		t.Errorf("pop at %d:%d, want 3:3", pop.Pos.Line, pop.Pos.Column)
	}
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"open`, "unterminated string"},
		{"\"line\nbreak\"", "unterminated string"},
		{"@", "unexpected character '@'"},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != TokenError {
			t.Errorf("Lexer(%q): type = %v, want ERROR", tc.input, tok.Type)
			continue
		}
		if tok.Literal != tc.want {
			t.Errorf("Lexer(%q): message = %q, want %q", tc.input, tok.Literal, tc.want)
		}
	}
}

func TestLexerCommentsOnly(t *testing.T) {
	toks := NewLexer("; nothing here\n; or here").Tokens()
	want := []TokenType{TokenNewline, TokenEOF}
	if len(toks) != len(want) {
		t.Fatalf("got %v, want %v", toks, want)
	}
	for i := range want {
		if toks[i].Type != want[i] {
			t.Errorf("token[%d] = %v, want %v", i, toks[i].Type, want[i])
		}
	}
}
