package importer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dgallion1/rtfbridge/internal/doctree"
	"golang.org/x/net/html"
)

// HTMLImporter handles HTML files. Headings, paragraphs, lists, quotes,
// preformatted blocks, tables and the common inline tags map onto their
// document counterparts; unknown tags are transparent.
type HTMLImporter struct{}

func (p *HTMLImporter) Import(data []byte, ctx *doctree.ParserContext) (*doctree.Document, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	w := &htmlWalker{b: newBuilder(ctx)}
	w.b.doc.Title = findTitle(root)

	body := findBody(root)
	if body == nil {
		body = root
	}
	if err := w.blocks(body, w.b.doc.Root); err != nil {
		return nil, err
	}
	return w.b.doc, nil
}

type htmlWalker struct {
	b *builder
}

// enter bounds recursion by the document depth limit.
func (w *htmlWalker) enter() error { return w.b.ctx.Enter() }
func (w *htmlWalker) leave()       { w.b.ctx.Leave() }

func skipped(tag string) bool {
	switch tag {
	case "script", "style", "nav", "footer", "header", "head", "template", "noscript", "iframe", "object", "embed":
		return true
	}
	return false
}

// blocks converts the children of n into blocks under dst. Runs of inline
// content are gathered into paragraphs.
func (w *htmlWalker) blocks(n *html.Node, dst *doctree.Node) error {
	var para *doctree.Node
	flush := func() {
		if para != nil {
			w.finish(dst, para)
			para = nil
		}
	}
	ensure := func() error {
		if para != nil {
			return nil
		}
		var err error
		para, err = w.b.add(dst, doctree.KindParagraph)
		return err
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if para == nil && strings.TrimSpace(c.Data) == "" {
				continue
			}
			if err := ensure(); err != nil {
				return err
			}
			if err := w.inline(c, para); err != nil {
				return err
			}
			continue
		case html.ElementNode:
		default:
			continue
		}
		if skipped(c.Data) {
			continue
		}

		var err error
		switch c.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			flush()
			err = w.heading(c, dst)
		case "p":
			flush()
			err = w.paragraph(c, dst)
		case "ul", "ol":
			flush()
			err = w.list(c, dst)
		case "blockquote":
			flush()
			err = w.quote(c, dst)
		case "pre":
			flush()
			err = w.pre(c, dst)
		case "table":
			flush()
			err = w.table(c, dst)
		case "hr":
			flush()
		case "div", "section", "article", "main", "aside", "figure", "body", "li", "dl", "dd", "dt", "form", "fieldset", "address", "details", "summary":
			flush()
			if err = w.enter(); err == nil {
				err = w.blocks(c, dst)
				w.leave()
			}
		default:
			if err = ensure(); err == nil {
				err = w.inline(c, para)
			}
		}
		if err != nil {
			return err
		}
	}
	flush()
	return nil
}

func (w *htmlWalker) heading(n *html.Node, dst *doctree.Node) error {
	h, err := w.b.add(dst, doctree.KindHeading)
	if err != nil {
		return err
	}
	h.Level = int(n.Data[1] - '0')
	if err := w.inlineChildren(n, h); err != nil {
		return err
	}
	w.finish(dst, h)
	return nil
}

func (w *htmlWalker) paragraph(n *html.Node, dst *doctree.Node) error {
	p, err := w.b.add(dst, doctree.KindParagraph)
	if err != nil {
		return err
	}
	if err := w.inlineChildren(n, p); err != nil {
		return err
	}
	w.finish(dst, p)
	return nil
}

func (w *htmlWalker) list(n *html.Node, dst *doctree.Node) error {
	if err := w.enter(); err != nil {
		return err
	}
	defer w.leave()
	l, err := w.b.add(dst, doctree.KindList)
	if err != nil {
		return err
	}
	l.Ordered = n.Data == "ol"
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != "li" {
			continue
		}
		item, err := w.b.add(l, doctree.KindListItem)
		if err != nil {
			return err
		}
		if err := w.enter(); err != nil {
			return err
		}
		err = w.blocks(c, item)
		w.leave()
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *htmlWalker) quote(n *html.Node, dst *doctree.Node) error {
	if err := w.enter(); err != nil {
		return err
	}
	defer w.leave()
	q, err := w.b.add(dst, doctree.KindBlockQuote)
	if err != nil {
		return err
	}
	return w.blocks(n, q)
}

func (w *htmlWalker) pre(n *html.Node, dst *doctree.Node) error {
	cb, err := w.b.add(dst, doctree.KindCodeBlock)
	if err != nil {
		return err
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "code" {
			for _, class := range strings.Fields(attr(c, "class")) {
				if lang, ok := strings.CutPrefix(class, "language-"); ok {
					cb.Lang = lang
				}
			}
		}
	}
	text := strings.TrimPrefix(rawText(n), "\n")
	cb.Text = strings.TrimRight(text, "\n")
	return w.b.ctx.AddText(len(cb.Text))
}

func (w *htmlWalker) table(n *html.Node, dst *doctree.Node) error {
	var rows []*html.Node
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "tr":
				rows = append(rows, c)
			case "thead", "tbody", "tfoot":
				collect(c)
			}
		}
	}
	collect(n)
	if len(rows) == 0 {
		return nil
	}
	cols := 0
	for _, r := range rows {
		cols = max(cols, len(cells(r)))
	}
	if err := w.b.ctx.CheckTable(len(rows), cols); err != nil {
		return err
	}

	if err := w.enter(); err != nil {
		return err
	}
	defer w.leave()
	t, err := w.b.add(dst, doctree.KindTable)
	if err != nil {
		return err
	}
	for _, r := range rows {
		row, err := w.b.add(t, doctree.KindTableRow)
		if err != nil {
			return err
		}
		for _, c := range cells(r) {
			cell, err := w.b.add(row, doctree.KindTableCell)
			if err != nil {
				return err
			}
			if err := w.inlineChildren(c, cell); err != nil {
				return err
			}
			trimEdges(cell)
		}
	}
	return nil
}

func cells(tr *html.Node) []*html.Node {
	var out []*html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			out = append(out, c)
		}
	}
	return out
}

func (w *htmlWalker) inlineChildren(n *html.Node, dst *doctree.Node) error {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := w.inline(c, dst); err != nil {
			return err
		}
	}
	return nil
}

func (w *htmlWalker) inline(n *html.Node, dst *doctree.Node) error {
	switch n.Type {
	case html.TextNode:
		s := collapse(n.Data)
		if last := dst.LastChild(); strings.HasPrefix(s, " ") && (last == nil || last.Kind == doctree.KindLineBreak || (last.Kind == doctree.KindText && strings.HasSuffix(last.Text, " "))) {
			s = s[1:]
		}
		return w.b.text(dst, s)
	case html.ElementNode:
	default:
		return nil
	}
	if skipped(n.Data) {
		return nil
	}

	var kind doctree.Kind
	switch n.Data {
	case "br":
		_, err := w.b.add(dst, doctree.KindLineBreak)
		return err
	case "code", "kbd", "samp", "tt":
		code, err := w.b.add(dst, doctree.KindCode)
		if err != nil {
			return err
		}
		code.Text = collapse(rawText(n))
		return w.b.ctx.AddText(len(code.Text))
	case "img":
		img, err := w.b.add(dst, doctree.KindImage)
		if err != nil {
			return err
		}
		img.URL = attr(n, "src")
		return w.b.text(img, attr(n, "alt"))
	case "b", "strong":
		kind = doctree.KindBold
	case "i", "em", "cite", "dfn", "var":
		kind = doctree.KindItalic
	case "u", "ins":
		kind = doctree.KindUnderline
	case "a":
		if attr(n, "href") == "" {
			return w.transparent(n, dst)
		}
		kind = doctree.KindLink
	default:
		return w.transparent(n, dst)
	}

	if err := w.enter(); err != nil {
		return err
	}
	defer w.leave()
	el, err := w.b.add(dst, kind)
	if err != nil {
		return err
	}
	if kind == doctree.KindLink {
		el.URL = attr(n, "href")
	}
	return w.inlineChildren(n, el)
}

func (w *htmlWalker) transparent(n *html.Node, dst *doctree.Node) error {
	if err := w.enter(); err != nil {
		return err
	}
	defer w.leave()
	return w.inlineChildren(n, dst)
}

// finish trims a finished paragraph or heading and drops it when nothing
// visible is left. n is the last child of dst.
func (w *htmlWalker) finish(dst, n *doctree.Node) {
	trimEdges(n)
	if len(n.Children) == 0 && dst.LastChild() == n {
		dst.Children = dst.Children[:len(dst.Children)-1]
	}
}

// trimEdges strips leading and trailing spaces from the outermost text of n
// and removes text nodes left empty.
func trimEdges(n *doctree.Node) {
	if first := edgeText(n, true); first != nil {
		first.Text = strings.TrimLeft(first.Text, " ")
	}
	if last := edgeText(n, false); last != nil {
		last.Text = strings.TrimRight(last.Text, " ")
	}
	n.Children = prune(n.Children)
}

func edgeText(n *doctree.Node, first bool) *doctree.Node {
	for len(n.Children) > 0 {
		c := n.Children[0]
		if !first {
			c = n.Children[len(n.Children)-1]
		}
		if c.Kind == doctree.KindText {
			return c
		}
		if c.Kind == doctree.KindCode || c.Kind == doctree.KindLineBreak {
			return nil
		}
		n = c
	}
	return nil
}

func prune(nodes []*doctree.Node) []*doctree.Node {
	out := nodes[:0]
	for _, c := range nodes {
		if c.Kind == doctree.KindText && c.Text == "" {
			continue
		}
		c.Children = prune(c.Children)
		out = append(out, c)
	}
	return out
}

// collapse folds HTML whitespace runs into single spaces.
func collapse(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\f':
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	if space {
		b.WriteByte(' ')
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func rawText(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return buf.String()
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		return strings.TrimSpace(collapse(rawText(n)))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
