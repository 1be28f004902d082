package rtf

import (
	"bytes"
	"strconv"
	"unicode/utf16"

	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/dgallion1/rtfbridge/internal/failure"
	"github.com/dgallion1/rtfbridge/internal/pool"
)

const header = `{\rtf1\ansi\ansicpg1252\deff0\uc1` + "\n" +
	`{\fonttbl{\f0\fswiss Arial;}{\f1\fmodern Courier New;}}` + "\n" +
	`{\stylesheet{\s0 Normal;}{\s1 heading 1;}{\s2 heading 2;}{\s3 heading 3;}` +
	`{\s4 heading 4;}{\s5 heading 5;}{\s6 heading 6;}{\s7 Source Code;}}` + "\n"

const (
	codeStyle   = 7
	tableWidth  = 9000
	bulletList  = 1
	orderedList = 2
)

// half-points per heading level
var headingSizes = [...]int{0, 36, 32, 28, 26, 24, 22}

// Generator writes documents as RTF. The zero value is usable.
type Generator struct {
	Pools    *pool.Manager
	MaxDepth int
}

// Generate renders doc with a default Generator.
func Generate(doc *doctree.Document) (string, error) {
	return Generator{}.Generate(doc)
}

// Generate renders doc. Formatting is written as toggles derived from the
// flattened inline runs, so equivalent trees produce identical output.
func (g Generator) Generate(doc *doctree.Document) (string, error) {
	if g.MaxDepth <= 0 {
		g.MaxDepth = doctree.DefaultLimits().MaxDepth
	}
	h := g.Pools.Builder()
	defer h.Release()
	w := &writer{buf: h.Value()}

	w.raw(header)
	if doc.Title != "" {
		w.raw(`{\info{\title`)
		w.pending = true
		w.text(doc.Title)
		w.raw("}}")
		w.nl()
	}
	if doc.Root != nil {
		if err := g.blocks(w, doc.Root.Children, 0, 1); err != nil {
			return "", err
		}
	}
	w.raw("}")
	return w.buf.String(), nil
}

type paraProps struct {
	style    int
	outline  int // -1 when unset
	list     int
	ilvl     int
	indent   int
	size     int
	font     int
	listText string
	lang     string
}

func (g Generator) deep(depth int) error {
	if depth > g.MaxDepth {
		return failure.New(failure.NestingTooDeep, failure.CodeDepth)
	}
	return nil
}

func (g Generator) blocks(w *writer, nodes []*doctree.Node, quote, depth int) error {
	h := g.Pools.Nodes()
	defer h.Release()
	pending := h.Value()
	flush := func() error {
		if len(*pending) == 0 {
			return nil
		}
		err := g.paragraph(w, *pending, paraProps{outline: -1, indent: quote * quoteIndent}, depth)
		*pending = (*pending)[:0]
		return err
	}
	for _, n := range nodes {
		if n.Kind.IsInline() {
			*pending = append(*pending, n)
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		if err := g.block(w, n, quote, depth); err != nil {
			return err
		}
	}
	return flush()
}

func (g Generator) block(w *writer, n *doctree.Node, quote, depth int) error {
	if err := g.deep(depth); err != nil {
		return err
	}
	indent := quote * quoteIndent
	switch n.Kind {
	case doctree.KindParagraph, doctree.KindTableCell:
		return g.paragraph(w, n.Children, paraProps{outline: -1, indent: indent}, depth+1)
	case doctree.KindHeading:
		level := clampLevel(n.Level)
		return g.paragraph(w, n.Children, paraProps{style: level, outline: level - 1, indent: indent, size: headingSizes[level]}, depth+1)
	case doctree.KindCodeBlock:
		g.code(w, n, paraProps{style: codeStyle, outline: -1, indent: indent, font: 1, lang: n.Lang})
		return nil
	case doctree.KindBlockQuote:
		return g.blocks(w, n.Children, quote+1, depth+1)
	case doctree.KindList:
		return g.list(w, n, quote, 0, depth)
	case doctree.KindTable:
		return g.table(w, n, depth)
	case doctree.KindTableRow:
		return g.table(w, &doctree.Node{Kind: doctree.KindTable, Children: []*doctree.Node{n}}, depth-1)
	default:
		return g.blocks(w, n.Children, quote, depth+1)
	}
}

func clampLevel(l int) int {
	switch {
	case l < 1:
		return 1
	case l > 6:
		return 6
	}
	return l
}

func (g Generator) list(w *writer, n *doctree.Node, quote, level, depth int) error {
	if err := g.deep(depth); err != nil {
		return err
	}
	kind := bulletList
	if n.Ordered {
		kind = orderedList
	}
	h := g.Pools.Nodes()
	defer h.Release()
	pending := h.Value()
	num := 0
	for _, item := range n.Children {
		if item.Kind != doctree.KindListItem {
			item = &doctree.Node{Kind: doctree.KindListItem, Children: []*doctree.Node{item}}
		}
		num++
		marker := "•"
		if n.Ordered {
			marker = strconv.Itoa(num) + "."
		}
		props := paraProps{
			outline:  -1,
			list:     kind,
			ilvl:     level,
			indent:   (quote + level + 1) * quoteIndent,
			listText: marker,
		}
		*pending = (*pending)[:0]
		flush := func() error {
			if len(*pending) == 0 {
				return nil
			}
			err := g.paragraph(w, *pending, props, depth+2)
			*pending = (*pending)[:0]
			return err
		}
		for _, c := range item.Children {
			if c.Kind.IsInline() {
				*pending = append(*pending, c)
				continue
			}
			if err := flush(); err != nil {
				return err
			}
			var err error
			switch c.Kind {
			case doctree.KindParagraph:
				err = g.paragraph(w, c.Children, props, depth+3)
			case doctree.KindHeading:
				hp := props
				hp.outline = clampLevel(c.Level) - 1
				hp.style = clampLevel(c.Level)
				hp.size = headingSizes[hp.style]
				err = g.paragraph(w, c.Children, hp, depth+3)
			case doctree.KindCodeBlock:
				cp := props
				cp.style, cp.font, cp.lang = codeStyle, 1, c.Lang
				g.code(w, c, cp)
			case doctree.KindList:
				err = g.list(w, c, quote, level+1, depth+2)
			default:
				err = g.block(w, c, quote, depth+2)
			}
			if err != nil {
				return err
			}
		}
		if err := flush(); err != nil {
			return err
		}
	}
	return nil
}

func (g Generator) table(w *writer, n *doctree.Node, depth int) error {
	if err := g.deep(depth + 3); err != nil {
		return err
	}
	if w.lastTable {
		// keeps adjacent tables apart when read back
		w.word(`\pard`)
		w.word(`\par`)
		w.nl()
	}
	wrote := false
	for _, row := range n.Children {
		cells := row.Children
		if row.Kind != doctree.KindTableRow {
			cells = []*doctree.Node{row}
		}
		if len(cells) == 0 {
			continue
		}
		width := tableWidth / len(cells)
		w.word(`\trowd`)
		w.word(`\trgaph108`)
		for i := range cells {
			w.word(`\cellx` + strconv.Itoa((i+1)*width))
		}
		w.nl()
		for _, cell := range cells {
			w.word(`\pard`)
			w.word(`\plain`)
			w.word(`\intbl`)
			runs, err := g.cellRuns(cell, depth+3)
			if err != nil {
				return err
			}
			w.runs(runs)
			w.word(`\cell`)
		}
		w.word(`\row`)
		w.nl()
		wrote = true
	}
	if wrote {
		w.lastTable = true
	}
	return nil
}

// cellRuns flattens a cell, joining block children with line breaks.
func (g Generator) cellRuns(cell *doctree.Node, depth int) ([]run, error) {
	if cell.Kind != doctree.KindTableCell || len(cell.Children) == 0 || cell.Children[0].Kind.IsInline() {
		f := &flattener{max: g.MaxDepth}
		if cell.Kind == doctree.KindTableCell {
			return f.run(cell.Children, depth)
		}
		return f.run([]*doctree.Node{cell}, depth)
	}
	var out []run
	for _, c := range cell.Children {
		f := &flattener{max: g.MaxDepth}
		rs, err := f.run(c.Children, depth+1)
		if err != nil {
			return nil, err
		}
		if len(rs) > 0 && len(out) > 0 {
			out = append(out, run{brk: true})
		}
		out = append(out, rs...)
	}
	return out, nil
}

func (g Generator) paragraph(w *writer, inline []*doctree.Node, props paraProps, depth int) error {
	f := &flattener{max: g.MaxDepth}
	runs, err := f.run(inline, depth)
	if err != nil {
		return err
	}
	if !hasContent(runs) {
		return nil
	}
	w.open(props)
	w.runs(runs)
	w.word(`\par`)
	w.nl()
	return nil
}

func (g Generator) code(w *writer, n *doctree.Node, props paraProps) {
	w.open(props)
	w.text(n.Text)
	w.word(`\par`)
	w.nl()
}

// flattener turns an inline tree into formatted runs.
type flattener struct {
	max int
	out []run
}

func (f *flattener) run(nodes []*doctree.Node, depth int) ([]run, error) {
	if err := f.walk(nodes, runFmt{}, depth); err != nil {
		return nil, err
	}
	return f.out, nil
}

func (f *flattener) add(r run) {
	if k := len(f.out); k > 0 && !r.brk && !f.out[k-1].brk && f.out[k-1].fmt == r.fmt {
		f.out[k-1].text = append(f.out[k-1].text, r.text...)
		return
	}
	f.out = append(f.out, r)
}

func (f *flattener) walk(nodes []*doctree.Node, fmt runFmt, depth int) error {
	if depth > f.max {
		return failure.New(failure.NestingTooDeep, failure.CodeDepth)
	}
	for _, n := range nodes {
		switch n.Kind {
		case doctree.KindText:
			if n.Text != "" {
				f.add(run{fmt: fmt, text: []byte(n.Text)})
			}
		case doctree.KindCode:
			if n.Text != "" {
				c := fmt
				c.code = true
				f.add(run{fmt: c, text: []byte(n.Text)})
			}
		case doctree.KindLineBreak:
			f.add(run{brk: true})
		case doctree.KindBold:
			c := fmt
			c.bold = true
			if err := f.walk(n.Children, c, depth+1); err != nil {
				return err
			}
		case doctree.KindItalic:
			c := fmt
			c.italic = true
			if err := f.walk(n.Children, c, depth+1); err != nil {
				return err
			}
		case doctree.KindUnderline:
			c := fmt
			c.underline = c.link == nil
			if err := f.walk(n.Children, c, depth+1); err != nil {
				return err
			}
		case doctree.KindLink:
			c := fmt
			if c.link == nil {
				c.link = &link{url: n.URL}
				c.underline = false
			}
			if err := f.walk(n.Children, c, depth+1); err != nil {
				return err
			}
		case doctree.KindImage:
			alt := n.PlainText()
			if alt == "" {
				alt = n.Text
			}
			if alt != "" {
				f.add(run{fmt: fmt, text: []byte(alt)})
			}
		case doctree.KindCodeBlock:
			if n.Text != "" {
				c := fmt
				c.code = true
				f.add(run{fmt: c, text: []byte(n.Text)})
			}
		default:
			if err := f.walk(n.Children, fmt, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// writer tracks whether the last control word still needs a delimiter.
type writer struct {
	buf       *bytes.Buffer
	pending   bool
	lastTable bool
}

func (w *writer) raw(s string) {
	w.buf.WriteString(s)
	w.pending = false
}

func (w *writer) word(s string) {
	w.buf.WriteString(s)
	w.pending = true
}

// nl ends a line; only used where a backslash or brace follows.
func (w *writer) nl() {
	w.buf.WriteByte('\n')
	w.pending = false
}

func (w *writer) open(p paraProps) {
	w.lastTable = false
	w.word(`\pard`)
	w.word(`\plain`)
	if p.style > 0 {
		w.word(`\s` + strconv.Itoa(p.style))
	}
	if p.outline >= 0 {
		w.word(`\outlinelevel` + strconv.Itoa(p.outline))
	}
	if p.list > 0 {
		w.word(`\ls` + strconv.Itoa(p.list))
		w.word(`\ilvl` + strconv.Itoa(p.ilvl))
	}
	if p.indent > 0 {
		w.word(`\li` + strconv.Itoa(p.indent))
	}
	if p.size > 0 {
		w.word(`\fs` + strconv.Itoa(p.size))
	}
	if p.font > 0 {
		w.word(`\f` + strconv.Itoa(p.font))
	}
	if p.lang != "" {
		w.raw(`{\*\mdlang`)
		w.pending = true
		w.text(p.lang)
		w.raw("}")
	}
	if p.listText != "" {
		w.raw(`{\listtext`)
		w.pending = true
		w.text(p.listText)
		w.word(`\tab`)
		w.raw("}")
	}
}

// runs writes formatted runs as toggles; links become groups so the
// formatting inside them reverts when the group closes.
func (w *writer) runs(rs []run) {
	var cur, outside runFmt
	var curLink *link
	for _, r := range rs {
		if r.fmt.link != curLink {
			if curLink != nil {
				w.raw("}")
				cur = outside
			}
			if r.fmt.link != nil {
				outside = cur
				w.raw(`{{\*\mdhref`)
				w.pending = true
				w.text(r.fmt.link.url)
				w.raw("}")
				w.word(`\ul`)
			}
			curLink = r.fmt.link
		}
		if r.brk {
			w.word(`\line`)
			continue
		}
		w.toggle(&cur, r.fmt)
		if r.fmt.code {
			w.raw(`{\f1`)
			w.pending = true
			w.text(string(r.text))
			w.raw("}")
			continue
		}
		w.text(string(r.text))
	}
	if curLink != nil {
		w.raw("}")
		cur = outside
	}
	w.toggle(&cur, runFmt{})
}

func (w *writer) toggle(cur *runFmt, want runFmt) {
	if cur.bold != want.bold {
		w.word(onOff(`\b`, want.bold))
	}
	if cur.italic != want.italic {
		w.word(onOff(`\i`, want.italic))
	}
	if cur.underline != want.underline {
		if want.underline {
			w.word(`\ul`)
		} else {
			w.word(`\ulnone`)
		}
	}
	cur.bold, cur.italic, cur.underline = want.bold, want.italic, want.underline
}

func onOff(word string, on bool) string {
	if on {
		return word
	}
	return word + "0"
}

// text escapes s. Non-ASCII runes become \uN? with surrogate pairs above
// the BMP; control characters other than tab and newline are dropped.
func (w *writer) text(s string) {
	for _, r := range s {
		switch {
		case r == '\\' || r == '{' || r == '}':
			w.pending = false
			w.buf.WriteByte('\\')
			w.buf.WriteRune(r)
		case r == '\n':
			w.word(`\line`)
		case r == '\t':
			w.word(`\tab`)
		case r < 0x20 || r == 0x7f:
		case r < 0x80:
			if w.pending {
				w.buf.WriteByte(' ')
				w.pending = false
			}
			w.buf.WriteByte(byte(r))
		case r == 0xa0:
			w.pending = false
			w.buf.WriteString(`\~`)
		case r > 0xffff:
			hi, lo := utf16.EncodeRune(r)
			w.unicode(hi)
			w.unicode(lo)
		default:
			w.unicode(r)
		}
	}
}

func (w *writer) unicode(r rune) {
	v := int(r)
	if v > 32767 {
		v -= 65536
	}
	w.pending = false
	w.buf.WriteString(`\u`)
	w.buf.WriteString(strconv.Itoa(v))
	w.buf.WriteByte('?')
}
