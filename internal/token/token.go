// Package token defines the bounded token stream produced by the RTF lexer.
package token

// Kind classifies a token.
type Kind uint8

const (
	Text Kind = iota
	ControlWord
	ControlSymbol
	GroupStart
	GroupEnd
	UnicodeEscape
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case ControlWord:
		return "control_word"
	case ControlSymbol:
		return "control_symbol"
	case GroupStart:
		return "group_start"
	case GroupEnd:
		return "group_end"
	case UnicodeEscape:
		return "unicode_escape"
	}
	return "unknown"
}

const (
	// MaxNameLen is the longest accepted control word name.
	MaxNameLen = 32
	// MaxParamDigits bounds the digit string read for a parameter.
	MaxParamDigits = 7
	// MinParam and MaxParam bound a control word parameter.
	MinParam = -1_000_000
	MaxParam = 1_000_000
	// MaxTextRun is the longest single Text token; longer runs are split.
	MaxTextRun = 64 << 10
)

// Token is one lexical unit. Only the fields relevant to Kind are set.
type Token struct {
	Kind     Kind
	Name     string // ControlWord name, or the symbol for ControlSymbol ("*")
	Param    int32
	HasParam bool
	Text     string // Text payload
	Rune     rune   // UnicodeEscape value
	Offset   int    // byte offset of the token start
}

// Word reports whether t is the control word name.
func (t Token) Word(name string) bool {
	return t.Kind == ControlWord && t.Name == name
}
