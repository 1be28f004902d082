package markdown

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/dgallion1/rtfbridge/internal/failure"
	"github.com/dgallion1/rtfbridge/internal/pool"
)

// hardBreak stands in for a line break until the paragraph is assembled.
// Control characters never survive escaping, so it cannot collide with text.
const hardBreak = "\x00"

var breakRun = regexp.MustCompile(`[ \t]*\x00[ \t]*`)

// Generator writes documents as Markdown. The zero value is usable.
type Generator struct {
	Pools    *pool.Manager
	MaxDepth int
}

// Generate renders doc with a default Generator.
func Generate(doc *doctree.Document) (string, error) {
	return Generator{}.Generate(doc)
}

// Generate renders doc. Literal text is escaped so that reading the output
// back yields the same tree.
func (g Generator) Generate(doc *doctree.Document) (string, error) {
	if g.MaxDepth <= 0 {
		g.MaxDepth = doctree.DefaultLimits().MaxDepth
	}
	if doc.Root == nil {
		return "", nil
	}
	blocks, err := g.blocks(doc.Root.Children, 1)
	if err != nil {
		return "", err
	}
	if len(blocks) == 0 {
		return "", nil
	}
	h := g.Pools.Builder()
	defer h.Release()
	b := h.Value()
	for i, blk := range blocks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(blk)
	}
	b.WriteByte('\n')
	return b.String(), nil
}

func (g Generator) deep(depth int) error {
	if depth > g.MaxDepth {
		return failure.New(failure.NestingTooDeep, failure.CodeDepth)
	}
	return nil
}

// blocks renders a sequence of block nodes, one string per emitted block.
// Adjacent lists of the same kind alternate markers so they stay separate.
func (g Generator) blocks(nodes []*doctree.Node, depth int) ([]string, error) {
	var out []string
	var pending []*doctree.Node
	var prevList *doctree.Node
	alt := false
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		s, err := g.paragraph(pending, depth)
		pending = nil
		if s != "" {
			out = append(out, s)
			prevList = nil
		}
		return err
	}
	for _, n := range nodes {
		if n.Kind.IsInline() {
			pending = append(pending, n)
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		if n.Kind == doctree.KindList {
			if prevList != nil && prevList.Ordered == n.Ordered {
				alt = !alt
			} else {
				alt = false
			}
		}
		s, err := g.block(n, depth, alt)
		if err != nil {
			return nil, err
		}
		if s == "" {
			continue
		}
		out = append(out, s)
		prevList = nil
		if n.Kind == doctree.KindList {
			prevList = n
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func (g Generator) block(n *doctree.Node, depth int, alt bool) (string, error) {
	if err := g.deep(depth); err != nil {
		return "", err
	}
	switch n.Kind {
	case doctree.KindParagraph, doctree.KindTableCell:
		return g.paragraph(n.Children, depth+1)
	case doctree.KindHeading:
		s, err := g.inline(n.Children, depth+1, true)
		if err != nil {
			return "", err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "", nil
		}
		level := min(max(n.Level, 1), 6)
		return strings.Repeat("#", level) + " " + s, nil
	case doctree.KindCodeBlock:
		return codeBlock(n), nil
	case doctree.KindBlockQuote:
		inner, err := g.blocks(n.Children, depth+1)
		if err != nil || len(inner) == 0 {
			return "", err
		}
		return prefixLines(strings.Join(inner, "\n\n"), "> ", ">"), nil
	case doctree.KindList:
		return g.list(n, depth, alt)
	case doctree.KindTable:
		return g.table(n, depth)
	case doctree.KindTableRow:
		return g.table(&doctree.Node{Kind: doctree.KindTable, Children: []*doctree.Node{n}}, depth-1)
	default:
		inner, err := g.blocks(n.Children, depth+1)
		if err != nil {
			return "", err
		}
		return strings.Join(inner, "\n\n"), nil
	}
}

func codeBlock(n *doctree.Node) string {
	fence := strings.Repeat("`", max(3, longestRun(n.Text, '`')+1))
	lang := n.Lang
	if i := strings.IndexFunc(lang, unicode.IsSpace); i >= 0 {
		lang = lang[:i]
	}
	lang = strings.ReplaceAll(lang, "`", "")
	var b strings.Builder
	b.WriteString(fence)
	b.WriteString(lang)
	b.WriteByte('\n')
	if n.Text != "" {
		b.WriteString(strings.ReplaceAll(n.Text, "\r", ""))
		b.WriteByte('\n')
	}
	b.WriteString(fence)
	return b.String()
}

func longestRun(s string, c byte) int {
	best, cur := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			cur++
			best = max(best, cur)
		} else {
			cur = 0
		}
	}
	return best
}

// prefixLines puts prefix before every line, or blank on empty ones.
func prefixLines(s, prefix, blank string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l == "" {
			lines[i] = blank
		} else {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}

// loose lists separate items with blank lines; they are needed as soon as
// one item holds two blocks that are not a nested list.
func loose(n *doctree.Node) bool {
	for _, item := range n.Children {
		blocks := 0
		for _, c := range item.Children {
			if c.Kind != doctree.KindList {
				blocks++
			}
		}
		if blocks >= 2 {
			return true
		}
	}
	return false
}

func (g Generator) list(n *doctree.Node, depth int, alt bool) (string, error) {
	sep := "\n"
	if loose(n) {
		sep = "\n\n"
	}
	items := make([]string, 0, len(n.Children))
	for i, item := range n.Children {
		marker := "-"
		switch {
		case n.Ordered && alt:
			marker = strconv.Itoa(i+1) + ")"
		case n.Ordered:
			marker = strconv.Itoa(i+1) + "."
		case alt:
			marker = "*"
		}
		children := item.Children
		if item.Kind != doctree.KindListItem {
			children = []*doctree.Node{item}
		}
		inner, err := g.blocks(children, depth+2)
		if err != nil {
			return "", err
		}
		if len(inner) == 0 {
			items = append(items, marker)
			continue
		}
		body := strings.Join(inner, sep)
		pad := strings.Repeat(" ", len(marker)+1)
		first, rest, multi := strings.Cut(body, "\n")
		s := marker + " " + first
		if multi {
			s += "\n" + prefixLines(rest, pad, "")
		}
		items = append(items, s)
	}
	return strings.Join(items, sep), nil
}

func (g Generator) table(n *doctree.Node, depth int) (string, error) {
	if err := g.deep(depth + 3); err != nil {
		return "", err
	}
	var rows [][]string
	cols := 0
	for _, row := range n.Children {
		cells := row.Children
		if row.Kind != doctree.KindTableRow {
			cells = []*doctree.Node{row}
		}
		if len(cells) == 0 {
			continue
		}
		r := make([]string, 0, len(cells))
		for _, c := range cells {
			s, err := g.cell(c, depth+3)
			if err != nil {
				return "", err
			}
			r = append(r, s)
		}
		cols = max(cols, len(r))
		rows = append(rows, r)
	}
	if len(rows) == 0 {
		return "", nil
	}
	var b strings.Builder
	writeRow := func(r []string) {
		b.WriteByte('|')
		for i := range cols {
			b.WriteByte(' ')
			if i < len(r) {
				b.WriteString(r[i])
			}
			b.WriteString(" |")
		}
	}
	writeRow(rows[0])
	b.WriteString("\n|")
	for range cols {
		b.WriteString(" --- |")
	}
	for _, r := range rows[1:] {
		b.WriteByte('\n')
		writeRow(r)
	}
	return b.String(), nil
}

func (g Generator) cell(c *doctree.Node, depth int) (string, error) {
	nodes := []*doctree.Node{c}
	if c.Kind == doctree.KindTableCell {
		nodes = c.Children
	}
	var parts []string
	var pending []*doctree.Node
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		s, err := g.inline(pending, depth, true)
		pending = nil
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
		return err
	}
	for _, n := range nodes {
		if n.Kind.IsInline() {
			pending = append(pending, n)
			continue
		}
		if err := flush(); err != nil {
			return "", err
		}
		pending = n.Children
		if n.Kind == doctree.KindCodeBlock {
			pending = []*doctree.Node{{Kind: doctree.KindCode, Text: n.Text}}
		}
		if err := flush(); err != nil {
			return "", err
		}
	}
	if err := flush(); err != nil {
		return "", err
	}
	return strings.Join(parts, " "), nil
}

// paragraph renders inline content, resolves hard breaks and escapes
// anything at the start of a line that would open a block.
func (g Generator) paragraph(nodes []*doctree.Node, depth int) (string, error) {
	s, err := g.inline(nodes, depth, false)
	if err != nil {
		return "", err
	}
	s = strings.Trim(s, " \t"+hardBreak)
	if strings.TrimFunc(s, unicode.IsSpace) == "" {
		return "", nil
	}
	s = breakRun.ReplaceAllString(s, "\\\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = escapeLineStart(l)
	}
	return strings.Join(lines, "\n"), nil
}

func escapeLineStart(l string) string {
	if l == "" {
		return l
	}
	switch l[0] {
	case '-', '+', '=':
		return `\` + l
	}
	i := 0
	for i < len(l) && l[i] >= '0' && l[i] <= '9' {
		i++
	}
	if i > 0 && i < len(l) && (l[i] == '.' || l[i] == ')') {
		return l[:i] + `\` + l[i:]
	}
	return l
}

// inline renders inline nodes. oneLine turns breaks into spaces for
// headings and table cells.
func (g Generator) inline(nodes []*doctree.Node, depth int, oneLine bool) (string, error) {
	var b strings.Builder
	if err := g.inlineTo(&b, nodes, depth, oneLine, false); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (g Generator) inlineTo(b *strings.Builder, nodes []*doctree.Node, depth int, oneLine, inLink bool) error {
	if err := g.deep(depth); err != nil {
		return err
	}
	for _, n := range nodes {
		switch n.Kind {
		case doctree.KindText:
			b.WriteString(escape(n.Text))
		case doctree.KindLineBreak:
			if oneLine {
				b.WriteByte(' ')
			} else {
				b.WriteString(hardBreak)
			}
		case doctree.KindBold, doctree.KindItalic:
			delim := "*"
			if n.Kind == doctree.KindBold {
				delim = "**"
			}
			var inner strings.Builder
			if err := g.inlineTo(&inner, n.Children, depth+1, oneLine, inLink); err != nil {
				return err
			}
			b.WriteString(emphasis(inner.String(), delim))
		case doctree.KindCode:
			b.WriteString(codeSpan(n.Text))
		case doctree.KindLink:
			var inner strings.Builder
			if err := g.inlineTo(&inner, n.Children, depth+1, oneLine, true); err != nil {
				return err
			}
			if inLink {
				b.WriteString(inner.String())
				continue
			}
			b.WriteByte('[')
			b.WriteString(inner.String())
			b.WriteString("](")
			b.WriteString(destination(n.URL))
			b.WriteByte(')')
		case doctree.KindImage:
			var alt strings.Builder
			if err := g.inlineTo(&alt, n.Children, depth+1, true, true); err != nil {
				return err
			}
			if alt.Len() == 0 {
				alt.WriteString(escape(n.Text))
			}
			b.WriteString("![")
			b.WriteString(alt.String())
			b.WriteString("](")
			b.WriteString(destination(n.URL))
			b.WriteByte(')')
		case doctree.KindCodeBlock:
			b.WriteString(codeSpan(n.Text))
		default:
			if err := g.inlineTo(b, n.Children, depth+1, oneLine, inLink); err != nil {
				return err
			}
		}
	}
	return nil
}

// emphasis wraps inner in delim, keeping surrounding whitespace outside the
// delimiters so they stay left- and right-flanking.
func emphasis(inner, delim string) string {
	core := strings.TrimLeftFunc(inner, unicode.IsSpace)
	lead := inner[:len(inner)-len(core)]
	trimmed := strings.TrimRightFunc(core, unicode.IsSpace)
	trail := core[len(trimmed):]
	core = strings.Trim(trimmed, hardBreak)
	if core == "" {
		return inner
	}
	return lead + delim + core + delim + trail
}

func codeSpan(s string) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	if s == "" {
		return ""
	}
	fence := strings.Repeat("`", longestRun(s, '`')+1)
	allSpace := strings.Trim(s, " ") == ""
	if !allSpace && (s[0] == '`' || s[len(s)-1] == '`' || (s[0] == ' ' && s[len(s)-1] == ' ')) {
		s = " " + s + " "
	}
	return fence + s + fence
}

func destination(url string) string {
	var b strings.Builder
	angle := url == "" || strings.ContainsAny(url, " \t()<>")
	if angle {
		b.WriteByte('<')
	}
	for _, r := range url {
		switch {
		case r == '\\' || r == '&' || r == '<' || r == '>':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	if angle {
		b.WriteByte('>')
	}
	return b.String()
}

// escape backslash-escapes Markdown metacharacters in literal text. Newlines
// become spaces and other control characters are dropped.
func escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\', '`', '*', '_', '[', ']', '<', '>', '|', '#', '~', '&':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n', '\r':
			b.WriteByte(' ')
		case '\t':
			b.WriteByte('\t')
		default:
			if r < 0x20 || r == 0x7f {
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
