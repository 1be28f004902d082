// Package rtf reads and writes the RTF subset this service converts.
//
// The lexer produces a bounded token stream, the parser folds it into a
// doctree.Document under a ParserContext budget, and the generator writes a
// document back out as RTF. Nothing here recurses on input structure.
package rtf

import (
	"bytes"
	"unicode/utf8"

	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/dgallion1/rtfbridge/internal/failure"
	"github.com/dgallion1/rtfbridge/internal/pool"
	"github.com/dgallion1/rtfbridge/internal/token"
	"golang.org/x/text/encoding/charmap"
)

// Stream is a lexed document. Tokens is only valid until Release.
type Stream struct {
	Tokens []token.Token
	h      *pool.Handle[*[]token.Token]
}

// Release hands the token slice back to its pool.
func (s *Stream) Release() {
	if s == nil {
		return
	}
	s.Tokens = nil
	s.h.Release()
}

type lexer struct {
	src   string
	pos   int
	ctx   *doctree.ParserContext
	out   *[]token.Token
	text  *bytes.Buffer
	start int // offset of the pending text run

	depth    int
	uc       []int // fallback width per open group, top is current
	skip     int   // fallback units still to drop after a \u escape
	high     rune  // unpaired high surrogate awaiting its partner
	highAt   int
	maxDepth int
	err      error // deferred budget failure from resolveHigh
}

// Tokenize lexes input into a Stream charged against ctx. On error no stream
// is returned and pooled memory has already been released.
func Tokenize(input string, ctx *doctree.ParserContext, pools *pool.Manager) (*Stream, error) {
	if err := ctx.CheckInput(len(input)); err != nil {
		return nil, err
	}
	if !utf8.ValidString(input) {
		return nil, failure.New(failure.InvalidInput, failure.CodeInvalidUTF8)
	}

	th := pools.Tokens()
	bh := pools.Builder()
	defer bh.Release()

	l := &lexer{
		src:      input,
		ctx:      ctx,
		out:      th.Value(),
		text:     bh.Value(),
		uc:       []int{1},
		maxDepth: ctx.Limits().MaxDepth,
	}
	if err := l.run(); err != nil {
		th.Release()
		return nil, err
	}
	return &Stream{Tokens: *l.out, h: th}, nil
}

func (l *lexer) run() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case '{':
			if err := l.flush(); err != nil {
				return err
			}
			l.skip = 0
			l.depth++
			if l.depth > l.maxDepth {
				return failure.At(failure.NestingTooDeep, failure.CodeDepth, l.pos)
			}
			l.uc = append(l.uc, l.uc[len(l.uc)-1])
			l.emit(token.Token{Kind: token.GroupStart, Offset: l.pos})
			l.pos++
		case '}':
			if err := l.flush(); err != nil {
				return err
			}
			l.skip = 0
			if l.depth > 0 {
				l.depth--
				l.uc = l.uc[:len(l.uc)-1]
			}
			l.emit(token.Token{Kind: token.GroupEnd, Offset: l.pos})
			l.pos++
		case '\\':
			if err := l.escape(); err != nil {
				return err
			}
		case '\r', '\n':
			l.pos++
		default:
			r, size := utf8.DecodeRuneInString(l.src[l.pos:])
			l.pos += size
			if l.skip > 0 {
				l.skip--
				continue
			}
			if l.text.Len() == 0 {
				l.start = l.pos - size
			}
			l.resolveHigh()
			l.text.WriteRune(r)
			if l.text.Len() >= token.MaxTextRun {
				if err := l.flush(); err != nil {
					return err
				}
			}
		}
	}
	if err := l.flush(); err != nil {
		return err
	}
	l.resolveHigh()
	return l.err
}

// escape handles everything that starts with a backslash.
func (l *lexer) escape() error {
	at := l.pos
	l.pos++
	if l.pos >= len(l.src) {
		return failure.At(failure.InvalidInput, failure.CodeUnexpectedEOF, at)
	}
	c := l.src[l.pos]
	if isLetter(c) {
		return l.controlWord(at)
	}

	l.pos++
	switch c {
	case '\\', '{', '}':
		l.literal(at, string(c))
	case '~':
		l.literal(at, "\u00a0")
	case '_':
		l.literal(at, "-")
	case '-':
		// optional hyphen
	case '\'':
		if l.pos+2 > len(l.src) {
			return failure.At(failure.InvalidInput, failure.CodeUnexpectedEOF, at)
		}
		hi, ok1 := unhex(l.src[l.pos])
		lo, ok2 := unhex(l.src[l.pos+1])
		if !ok1 || !ok2 {
			return failure.At(failure.InvalidInput, failure.CodeInvalidParameter, at)
		}
		l.pos += 2
		l.literal(at, string(charmap.Windows1252.DecodeByte(hi<<4|lo)))
	case '\n', '\r':
		if err := l.flush(); err != nil {
			return err
		}
		l.emit(token.Token{Kind: token.ControlWord, Name: "par", Offset: at})
	case '\t':
		l.literal(at, "\t")
	default:
		if err := l.flush(); err != nil {
			return err
		}
		l.skip = 0
		l.emit(token.Token{Kind: token.ControlSymbol, Name: string(c), Offset: at})
	}
	return nil
}

// literal appends escaped text, honouring a pending \u fallback skip.
func (l *lexer) literal(at int, s string) {
	if l.skip > 0 {
		l.skip--
		return
	}
	if l.text.Len() == 0 {
		l.start = at
	}
	l.resolveHigh()
	l.text.WriteString(s)
}

func (l *lexer) controlWord(at int) error {
	begin := l.pos
	for l.pos < len(l.src) && isLetter(l.src[l.pos]) {
		l.pos++
		if l.pos-begin > token.MaxNameLen {
			return failure.At(failure.InvalidInput, failure.CodeInvalidControlWord, at)
		}
	}
	name := l.src[begin:l.pos]

	var param int32
	hasParam := false
	if l.pos < len(l.src) {
		neg := false
		p := l.pos
		if l.src[p] == '-' && p+1 < len(l.src) && isDigit(l.src[p+1]) {
			neg = true
			p++
		}
		if p < len(l.src) && isDigit(l.src[p]) {
			digits := p
			for p < len(l.src) && isDigit(l.src[p]) {
				p++
				if p-digits > token.MaxParamDigits {
					return failure.At(failure.InvalidInput, failure.CodeInvalidParameter, at)
				}
			}
			v := 0
			for _, d := range l.src[digits:p] {
				v = v*10 + int(d-'0')
			}
			if neg {
				v = -v
			}
			if v < token.MinParam || v > token.MaxParam {
				return failure.At(failure.InvalidInput, failure.CodeInvalidParameter, at)
			}
			param, hasParam = int32(v), true
			l.pos = p
		}
	}
	if l.pos < len(l.src) && l.src[l.pos] == ' ' {
		l.pos++
	}

	if name == "u" && hasParam {
		return l.unicode(at, param)
	}
	if err := l.flush(); err != nil {
		return err
	}
	l.skip = 0
	if name == "uc" && hasParam {
		n := int(param)
		if n < 0 {
			n = 0
		}
		l.uc[len(l.uc)-1] = n
	}
	l.emit(token.Token{Kind: token.ControlWord, Name: name, Param: param, HasParam: hasParam, Offset: at})
	return nil
}

// unicode handles \uN: signed 16-bit values, surrogate pairing and the
// fallback characters that follow.
func (l *lexer) unicode(at int, param int32) error {
	if err := l.flush(); err != nil {
		return err
	}
	l.skip = l.uc[len(l.uc)-1]

	v := int(param)
	if v < 0 {
		v += 65536
	}
	r := rune(v)
	switch {
	case v < 0 || v > 0xFFFF:
		r = utf8.RuneError
	case r >= 0xD800 && r <= 0xDBFF:
		l.resolveHigh()
		l.high, l.highAt = r, at
		return nil
	case r >= 0xDC00 && r <= 0xDFFF:
		if l.high == 0 {
			r = utf8.RuneError
			break
		}
		r = 0x10000 + (l.high-0xD800)<<10 + (r - 0xDC00)
		at = l.highAt
		l.high = 0
	}
	l.resolveHigh()
	return l.emitRune(at, r)
}

// resolveHigh replaces a dangling high surrogate with U+FFFD.
func (l *lexer) resolveHigh() {
	if l.high == 0 {
		return
	}
	at := l.highAt
	l.high = 0
	if err := l.emitRune(at, utf8.RuneError); err != nil && l.err == nil {
		l.err = err
	}
}

func (l *lexer) emitRune(at int, r rune) error {
	if err := l.ctx.AddText(utf8.RuneLen(r)); err != nil {
		return err
	}
	l.emit(token.Token{Kind: token.UnicodeEscape, Rune: r, Offset: at})
	return nil
}

// flush emits the pending text run.
func (l *lexer) flush() error {
	if l.err != nil {
		return l.err
	}
	if l.text.Len() == 0 {
		return nil
	}
	if err := l.ctx.AddText(l.text.Len()); err != nil {
		return err
	}
	l.emit(token.Token{Kind: token.Text, Text: l.text.String(), Offset: l.start})
	l.text.Reset()
	return nil
}

func (l *lexer) emit(t token.Token) {
	if l.high != 0 && t.Kind != token.UnicodeEscape {
		l.resolveHigh()
	}
	*l.out = append(*l.out, t)
}

func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
