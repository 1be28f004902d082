// Package markdown reads CommonMark with GFM tables into a doctree.Document
// and writes documents back out as Markdown.
package markdown

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/dgallion1/rtfbridge/internal/failure"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Parse converts src under the budget in ctx. Container nesting is checked
// on the raw lines before goldmark sees them, and the AST is converted with
// an explicit stack.
func Parse(src []byte, ctx *doctree.ParserContext) (*doctree.Document, error) {
	if err := ctx.CheckInput(len(src)); err != nil {
		return nil, err
	}
	if !utf8.Valid(src) {
		return nil, failure.New(failure.InvalidInput, failure.CodeInvalidUTF8)
	}
	if err := prescan(src, ctx.Limits().MaxDepth); err != nil {
		return nil, err
	}

	root := md.Parser().Parse(text.NewReader(src))
	c := &converter{src: src, ctx: ctx, doc: doctree.New()}
	if err := c.run(root); err != nil {
		return nil, err
	}
	return c.doc, nil
}

// prescan rejects lines whose container nesting alone would exceed maxDepth.
func prescan(src []byte, maxDepth int) error {
	off := 0
	for len(src) > 0 {
		line := src
		if i := bytes.IndexByte(src, '\n'); i >= 0 {
			line, src = src[:i], src[i+1:]
		} else {
			src = nil
		}
		if lineDepth(line) > maxDepth {
			return failure.At(failure.NestingTooDeep, failure.CodeDepth, off)
		}
		off += len(line) + 1
	}
	return nil
}

// lineDepth counts container markers on a line. Indentation only counts
// once a marker has been seen, so indented code does not trip the limit.
func lineDepth(line []byte) int {
	depth, i, indent := 0, 0, 0
	result := func() int {
		if depth == 0 {
			return 0
		}
		return depth + indent/2
	}
	for i < len(line) {
		switch c := line[i]; {
		case c == ' ':
			indent++
			i++
		case c == '\t':
			indent += 4
			i++
		case c == '>':
			depth++
			i++
		case (c == '-' || c == '+' || c == '*') && i+1 < len(line) && line[i+1] == ' ':
			depth += 2
			i += 2
		case c >= '0' && c <= '9':
			j := i
			for j < len(line) && j-i < 10 && line[j] >= '0' && line[j] <= '9' {
				j++
			}
			if j+1 < len(line) && (line[j] == '.' || line[j] == ')') && line[j+1] == ' ' {
				depth += 2
				i = j + 2
				continue
			}
			return result()
		default:
			return result()
		}
	}
	return result()
}

type converter struct {
	src []byte
	ctx *doctree.ParserContext
	doc *doctree.Document
}

type frame struct {
	next  ast.Node
	dst   *doctree.Node
	depth int
}

func (c *converter) run(root ast.Node) error {
	max := c.ctx.Limits().MaxDepth
	stack := []frame{{next: root.FirstChild(), dst: c.doc.Root, depth: 1}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		n := top.next
		if n == nil {
			stack = stack[:len(stack)-1]
			continue
		}
		top.next = n.NextSibling()
		if top.depth > max {
			return failure.New(failure.NestingTooDeep, failure.CodeDepth)
		}
		dst, descend, err := c.convert(n, top.dst)
		if err != nil {
			return err
		}
		if descend && n.HasChildren() {
			depth := top.depth
			if dst != top.dst {
				depth++
			}
			stack = append(stack, frame{next: n.FirstChild(), dst: dst, depth: depth})
		}
	}
	return nil
}

func (c *converter) add(parent *doctree.Node, kind doctree.Kind) (*doctree.Node, error) {
	if err := c.ctx.AddNode(); err != nil {
		return nil, err
	}
	n := &doctree.Node{Kind: kind}
	parent.Append(n)
	return n, nil
}

func (c *converter) text(parent *doctree.Node, s string) error {
	if s == "" {
		return nil
	}
	if err := c.ctx.AddText(len(s)); err != nil {
		return err
	}
	before := len(parent.Children)
	parent.AppendText(s)
	if len(parent.Children) > before {
		return c.ctx.AddNode()
	}
	return nil
}

// convert maps one goldmark node. It returns the node its children attach
// to and whether to descend into them.
func (c *converter) convert(n ast.Node, parent *doctree.Node) (*doctree.Node, bool, error) {
	switch n := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		p, err := c.add(parent, doctree.KindParagraph)
		return p, true, err
	case *ast.Heading:
		h, err := c.add(parent, doctree.KindHeading)
		if h != nil {
			h.Level = n.Level
		}
		return h, true, err
	case *ast.ThematicBreak:
		return parent, false, nil
	case *ast.FencedCodeBlock:
		cb, err := c.codeBlock(parent, n)
		if cb != nil && n.Info != nil {
			cb.Lang = string(n.Language(c.src))
		}
		return parent, false, err
	case *ast.CodeBlock:
		_, err := c.codeBlock(parent, n)
		return parent, false, err
	case *ast.Blockquote:
		q, err := c.add(parent, doctree.KindBlockQuote)
		return q, true, err
	case *ast.List:
		l, err := c.add(parent, doctree.KindList)
		if l != nil {
			l.Ordered = n.IsOrdered()
		}
		return l, true, err
	case *ast.ListItem:
		li, err := c.add(parent, doctree.KindListItem)
		return li, true, err
	case *ast.HTMLBlock:
		p, err := c.add(parent, doctree.KindParagraph)
		if err != nil {
			return nil, false, err
		}
		raw := c.lines(n.Lines())
		if n.HasClosure() {
			raw += string(n.ClosureLine.Value(c.src))
		}
		return parent, false, c.text(p, strings.TrimSpace(raw))
	case *east.Table:
		t, err := c.add(parent, doctree.KindTable)
		return t, true, err
	case *east.TableHeader, *east.TableRow:
		if len(parent.Children)+1 > c.ctx.Limits().MaxTableRows {
			return nil, false, failure.New(failure.ResourceLimitExceeded, failure.CodeTableTooLarge)
		}
		r, err := c.add(parent, doctree.KindTableRow)
		return r, true, err
	case *east.TableCell:
		if len(parent.Children)+1 > c.ctx.Limits().MaxTableCols {
			return nil, false, failure.New(failure.ResourceLimitExceeded, failure.CodeTableTooLarge)
		}
		cell, err := c.add(parent, doctree.KindTableCell)
		return cell, true, err

	case *ast.Text:
		v := n.Value(c.src)
		s := string(v)
		if !n.IsRaw() {
			s = decode(v)
		}
		if err := c.text(parent, s); err != nil {
			return nil, false, err
		}
		switch {
		case n.HardLineBreak():
			_, err := c.add(parent, doctree.KindLineBreak)
			return parent, false, err
		case n.SoftLineBreak():
			return parent, false, c.text(parent, " ")
		}
		return parent, false, nil
	case *ast.String:
		s := string(n.Value)
		if !n.IsCode() && !n.IsRaw() {
			s = decode(n.Value)
		}
		return parent, false, c.text(parent, s)
	case *ast.CodeSpan:
		code, err := c.add(parent, doctree.KindCode)
		if err != nil {
			return nil, false, err
		}
		var b strings.Builder
		for ch := n.FirstChild(); ch != nil; ch = ch.NextSibling() {
			if t, ok := ch.(*ast.Text); ok {
				v := t.Segment.Value(c.src)
				if bytes.HasSuffix(v, []byte("\n")) {
					b.Write(v[:len(v)-1])
					b.WriteByte(' ')
					continue
				}
				b.Write(v)
			}
		}
		code.Text = b.String()
		return parent, false, c.ctx.AddText(len(code.Text))
	case *ast.Emphasis:
		kind := doctree.KindItalic
		if n.Level >= 2 {
			kind = doctree.KindBold
		}
		e, err := c.add(parent, kind)
		return e, true, err
	case *ast.Link:
		l, err := c.add(parent, doctree.KindLink)
		if l != nil {
			l.URL = decode(n.Destination)
		}
		return l, true, err
	case *ast.AutoLink:
		l, err := c.add(parent, doctree.KindLink)
		if err != nil {
			return nil, false, err
		}
		l.URL = string(n.URL(c.src))
		return parent, false, c.text(l, string(n.Label(c.src)))
	case *ast.Image:
		img, err := c.add(parent, doctree.KindImage)
		if img != nil {
			img.URL = decode(n.Destination)
		}
		return img, true, err
	case *ast.RawHTML:
		var b strings.Builder
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			b.Write(seg.Value(c.src))
		}
		return parent, false, c.text(parent, b.String())
	}
	// unknown nodes are transparent
	return parent, true, nil
}

func (c *converter) codeBlock(parent *doctree.Node, n ast.Node) (*doctree.Node, error) {
	cb, err := c.add(parent, doctree.KindCodeBlock)
	if err != nil {
		return nil, err
	}
	cb.Text = strings.TrimSuffix(c.lines(n.Lines()), "\n")
	return cb, c.ctx.AddText(len(cb.Text))
}

func (c *converter) lines(segs *text.Segments) string {
	var b strings.Builder
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		b.Write(seg.Value(c.src))
	}
	return b.String()
}

// decode resolves backslash escapes and character references in one pass,
// so an escaped ampersand is never read as the start of a reference.
func decode(v []byte) string {
	var b strings.Builder
	for i := 0; i < len(v); {
		ch := v[i]
		switch {
		case ch == '\\' && i+1 < len(v) && util.IsPunct(v[i+1]):
			b.WriteByte(v[i+1])
			i += 2
			continue
		case ch == '&':
			if end := bytes.IndexByte(v[i:min(len(v), i+40)], ';'); end > 0 {
				ref := v[i : i+end+1]
				res := util.ResolveEntityNames(util.ResolveNumericReferences(ref))
				if !bytes.Equal(res, ref) {
					b.Write(res)
					i += end + 1
					continue
				}
			}
		case ch == 0:
			b.WriteRune(utf8.RuneError)
			i++
			continue
		}
		b.WriteByte(ch)
		i++
	}
	return b.String()
}
