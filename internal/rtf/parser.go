package rtf

import (
	"bytes"
	"errors"
	"strings"
	"unicode"

	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/dgallion1/rtfbridge/internal/failure"
	"github.com/dgallion1/rtfbridge/internal/pool"
	"github.com/dgallion1/rtfbridge/internal/token"
)

// twips per quote nesting level
const quoteIndent = 720

type destination uint8

const (
	destBody destination = iota
	destSkip
	destFontTable
	destStylesheet
	destInfo
	destTitle
	destHref
	destLang
)

// Groups that carry no convertible content.
var skippedDestinations = map[string]bool{
	"colortbl": true, "listtable": true, "listoverridetable": true, "listtext": true,
	"pntext": true, "pn": true, "generator": true, "header": true, "headerl": true,
	"headerr": true, "headerf": true, "footer": true, "footerl": true, "footerr": true,
	"footerf": true, "xmlnstbl": true, "rsidtbl": true, "revtbl": true, "filetbl": true,
	"latentstyles": true, "themedata": true, "colorschememapping": true, "datastore": true,
	"pgdsctbl": true, "ftnsep": true, "ftnsepc": true, "aftnsep": true, "aftnsepc": true,
}

var monoFontNames = []string{"courier", "consolas", "mono", "menlo", "monaco", "lucida console", "fixedsys"}

type charFmt struct {
	bold, italic, underline bool
	font                    int
}

type paraFmt struct {
	style   int
	outline int // -1 when unset
	list    int
	ilvl    int
	indent  int
	inTable bool
}

type link struct{ url string }

type group struct {
	dest  destination
	char  charFmt
	para  paraFmt
	link  *link
	fresh bool // no token seen yet
	star  bool // opened with \*
}

type styleKind uint8

const (
	styleNormal styleKind = iota
	styleHeading
	styleCode
	styleQuote
)

type styleDef struct {
	kind  styleKind
	level int
}

type runFmt struct {
	bold, italic, underline, code bool
	link                          *link
}

type run struct {
	fmt  runFmt
	text []byte
	brk  bool
}

// wrap is one inline container in canonical nesting order.
type wrap struct {
	kind doctree.Kind
	link *link
}

type listFrame struct {
	list, parent *doctree.Node
}

// tableEntry is a font or style definition being read.
type tableEntry struct {
	num     int
	mono    bool
	outline int
	name    strings.Builder
	active  bool
}

type parser struct {
	ctx    *doctree.ParserContext
	policy Policy
	doc    *doctree.Document
	stack  []group
	closed bool

	deff   int
	mono   map[int]bool
	styles map[int]styleDef
	entry  tableEntry
	href   strings.Builder
	title  strings.Builder
	lang   strings.Builder

	runs []run

	quotes    []*doctree.Node
	lists     []listFrame
	table     *doctree.Node
	row       *doctree.Node
	cellParts []*doctree.Node
	last      *doctree.Node
	err       error
}

// ParseString lexes and parses input in one step, releasing the token stream
// before returning.
func ParseString(input string, ctx *doctree.ParserContext, pools *pool.Manager, policy Policy) (*doctree.Document, error) {
	stream, err := Tokenize(input, ctx, pools)
	if err != nil {
		return nil, err
	}
	defer stream.Release()
	return Parse(stream.Tokens, ctx, policy)
}

// Parse folds a token stream into a document. Unknown control words are
// ignored, denied ones fail with ForbiddenContent, and groups left open at
// the end of input are closed with the last block marked Open.
func Parse(tokens []token.Token, ctx *doctree.ParserContext, policy Policy) (*doctree.Document, error) {
	i := 0
	for i < len(tokens) && tokens[i].Kind == token.Text && strings.TrimSpace(tokens[i].Text) == "" {
		i++
	}
	if i+1 >= len(tokens) || tokens[i].Kind != token.GroupStart || !tokens[i+1].Word("rtf") {
		off := 0
		if i < len(tokens) {
			off = tokens[i].Offset
		}
		return nil, failure.At(failure.InvalidInput, failure.CodeNotRTF, off)
	}

	p := &parser{
		ctx:    ctx,
		policy: policy,
		doc:    doctree.New(),
		mono:   map[int]bool{},
		styles: map[int]styleDef{},
	}
	p.entry.outline = -1
	for ; i < len(tokens); i++ {
		if p.closed {
			// content after the document group is ignored but still screened
			if t := tokens[i]; t.Kind == token.ControlWord && policy.Denied(t.Name) {
				return nil, failure.At(failure.ForbiddenContent, failure.CodeDeniedWord, t.Offset)
			}
			continue
		}
		if err := p.step(tokens[i]); err != nil {
			return nil, withOffset(err, tokens[i].Offset)
		}
		if p.err != nil {
			return nil, withOffset(p.err, tokens[i].Offset)
		}
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return p.doc, nil
}

func (p *parser) top() *group {
	return &p.stack[len(p.stack)-1]
}

func (p *parser) step(t token.Token) error {
	switch t.Kind {
	case token.GroupStart:
		if err := p.ctx.Enter(); err != nil {
			return err
		}
		g := group{para: paraFmt{outline: -1}}
		if len(p.stack) > 0 {
			g = *p.top()
		}
		g.fresh, g.star = true, false
		if g.dest == destFontTable || g.dest == destStylesheet {
			p.commitEntry(g.dest)
		}
		p.stack = append(p.stack, g)
		return nil
	case token.GroupEnd:
		return p.endGroup(t)
	}

	if t.Kind == token.ControlWord && p.policy.Denied(t.Name) {
		return failure.At(failure.ForbiddenContent, failure.CodeDeniedWord, t.Offset)
	}
	g := p.top()
	fresh := g.fresh
	g.fresh = false
	if t.Kind == token.ControlSymbol && t.Name == "*" {
		if fresh {
			g.star, g.fresh = true, true
		}
		return nil
	}
	star := g.star
	g.star = false
	if t.Kind == token.ControlWord && fresh && p.openDestination(g, t.Name, star) {
		return nil
	}

	switch g.dest {
	case destSkip, destInfo:
		return nil
	case destFontTable, destStylesheet:
		p.tableToken(g, t)
		return nil
	case destHref:
		p.href.WriteString(tokenText(t))
		return nil
	case destTitle:
		p.title.WriteString(tokenText(t))
		return nil
	case destLang:
		p.lang.WriteString(tokenText(t))
		return nil
	}

	switch t.Kind {
	case token.Text:
		p.addText(g, t.Text)
	case token.UnicodeEscape:
		p.addText(g, string(t.Rune))
	case token.ControlWord:
		p.word(g, t)
	}
	return nil
}

func tokenText(t token.Token) string {
	switch t.Kind {
	case token.Text:
		return t.Text
	case token.UnicodeEscape:
		return string(t.Rune)
	}
	return ""
}

// openDestination switches g into a special destination when name opens one.
func (p *parser) openDestination(g *group, name string, star bool) bool {
	if g.dest == destSkip {
		return false
	}
	if g.dest == destInfo {
		if name == "title" {
			g.dest = destTitle
			p.title.Reset()
		} else {
			g.dest = destSkip
		}
		return true
	}
	switch {
	case name == "fonttbl":
		g.dest = destFontTable
	case name == "stylesheet":
		g.dest = destStylesheet
	case name == "info":
		g.dest = destInfo
	case name == "mdhref" && star:
		g.dest = destHref
		p.href.Reset()
	case name == "mdlang" && star:
		g.dest = destLang
		p.lang.Reset()
	case skippedDestinations[name], star:
		g.dest = destSkip
	default:
		return false
	}
	return true
}

func (p *parser) endGroup(t token.Token) error {
	if len(p.stack) == 0 {
		return failure.At(failure.InvalidInput, failure.CodeUnbalancedGroup, t.Offset)
	}
	if len(p.stack) == 1 {
		p.endParagraph(p.top(), false)
	}
	g := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	p.ctx.Leave()

	switch g.dest {
	case destHref:
		if len(p.stack) > 0 && p.top().dest == destBody {
			p.top().link = &link{url: strings.TrimSpace(p.href.String())}
		}
	case destTitle:
		p.doc.Title = strings.TrimSpace(p.title.String())
	case destFontTable, destStylesheet:
		p.commitEntry(g.dest)
	}
	if len(p.stack) == 0 {
		p.closed = true
	}
	return nil
}

// tableToken reads font table and stylesheet entries.
func (p *parser) tableToken(g *group, t token.Token) {
	switch t.Kind {
	case token.ControlWord:
		switch {
		case g.dest == destFontTable && t.Name == "f":
			p.commitEntry(g.dest)
			p.entry.num, p.entry.active = int(t.Param), true
		case g.dest == destStylesheet && t.Name == "s":
			p.commitEntry(g.dest)
			p.entry.num, p.entry.active = int(t.Param), true
		case t.Name == "fmodern", t.Name == "fprq" && t.Param == 1:
			p.entry.mono = true
		case t.Name == "outlinelevel":
			p.entry.outline = int(t.Param)
			p.entry.active = true
		}
	case token.Text, token.UnicodeEscape:
		s := tokenText(t)
		for s != "" {
			semi := strings.IndexByte(s, ';')
			if semi < 0 {
				p.entry.name.WriteString(s)
				p.entry.active = true
				return
			}
			p.entry.name.WriteString(s[:semi])
			p.entry.active = true
			p.commitEntry(g.dest)
			s = s[semi+1:]
		}
	}
}

func (p *parser) commitEntry(dest destination) {
	e := &p.entry
	if e.active {
		name := strings.ToLower(strings.TrimSpace(e.name.String()))
		switch dest {
		case destFontTable:
			if e.mono || isMonoName(name) {
				p.mono[e.num] = true
			}
		case destStylesheet:
			if def, ok := classifyStyle(name, e.outline); ok {
				p.styles[e.num] = def
			}
		}
	}
	e.num, e.mono, e.outline, e.active = 0, false, -1, false
	e.name.Reset()
}

func isMonoName(name string) bool {
	for _, m := range monoFontNames {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

func classifyStyle(name string, outline int) (styleDef, bool) {
	if rest, ok := strings.CutPrefix(name, "heading"); ok {
		rest = strings.TrimSpace(rest)
		if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '9' {
			return styleDef{kind: styleHeading, level: int(rest[0] - '0')}, true
		}
	}
	switch {
	case strings.Contains(name, "code"), strings.Contains(name, "preformatted"), name == "plain text":
		return styleDef{kind: styleCode}, true
	case strings.Contains(name, "quote"), name == "block text":
		return styleDef{kind: styleQuote}, true
	case outline >= 0:
		return styleDef{kind: styleHeading, level: outline + 1}, true
	}
	return styleDef{}, false
}

func on(t token.Token) bool { return !t.HasParam || t.Param != 0 }

func (p *parser) word(g *group, t token.Token) {
	if !p.policy.Allowed(t.Name) {
		return
	}
	param := int(t.Param)
	switch t.Name {
	case "par", "sect", "page":
		p.endParagraph(g, true)
	case "line":
		p.runs = append(p.runs, run{brk: true})
	case "tab":
		p.addText(g, "\t")
	case "emdash":
		p.addText(g, "—")
	case "endash":
		p.addText(g, "–")
	case "bullet":
		p.addText(g, "•")
	case "lquote":
		p.addText(g, "‘")
	case "rquote":
		p.addText(g, "’")
	case "ldblquote":
		p.addText(g, "“")
	case "rdblquote":
		p.addText(g, "”")
	case "emspace", "enspace":
		p.addText(g, " ")
	case "plain":
		g.char = charFmt{font: p.deff}
	case "b":
		g.char.bold = on(t)
	case "i":
		g.char.italic = on(t)
	case "ul", "uld", "uldb", "ulw":
		g.char.underline = on(t)
	case "ulnone":
		g.char.underline = false
	case "f":
		g.char.font = param
	case "deff":
		p.deff = param
		g.char.font = param
	case "pard":
		g.para = paraFmt{outline: -1}
	case "s":
		g.para.style = param
	case "outlinelevel":
		g.para.outline = param
	case "ls":
		g.para.list = param
	case "ilvl":
		g.para.ilvl = param
	case "li":
		g.para.indent = param
	case "intbl":
		g.para.inTable = true
	case "cell":
		p.endCell()
	case "row":
		p.endRow()
	}
}

func (p *parser) addText(g *group, s string) {
	if s == "" {
		return
	}
	f := runFmt{
		bold:      g.char.bold,
		italic:    g.char.italic,
		underline: g.char.underline && g.link == nil,
		code:      p.mono[g.char.font],
		link:      g.link,
	}
	if k := len(p.runs); k > 0 && !p.runs[k-1].brk && p.runs[k-1].fmt == f {
		p.runs[k-1].text = append(p.runs[k-1].text, s...)
		return
	}
	p.runs = append(p.runs, run{fmt: f, text: []byte(s)})
}

func (p *parser) node(kind doctree.Kind) *doctree.Node {
	if err := p.ctx.AddNode(); err != nil && p.err == nil {
		p.err = err
	}
	return &doctree.Node{Kind: kind}
}

// inline turns the pending runs into nested inline nodes, sharing wrappers
// between neighbouring runs where their formatting overlaps.
func (p *parser) inline() []*doctree.Node {
	type open struct {
		n *doctree.Node
		w wrap
	}
	holder := &doctree.Node{Kind: doctree.KindGroup}
	stack := []open{{n: holder}}
	for _, r := range p.runs {
		want := wrappers(r)
		k := 0
		for k < len(stack)-1 && k < len(want) && stack[k+1].w == want[k] {
			k++
		}
		stack = stack[:k+1]
		for _, w := range want[k:] {
			n := p.node(w.kind)
			if w.link != nil {
				n.URL = w.link.url
			}
			stack[len(stack)-1].n.Append(n)
			stack = append(stack, open{n: n, w: w})
		}
		top := stack[len(stack)-1].n
		switch {
		case r.brk:
			top.Append(p.node(doctree.KindLineBreak))
		case r.fmt.code:
			if last := top.LastChild(); last != nil && last.Kind == doctree.KindCode {
				last.ExtendText(string(r.text))
				continue
			}
			c := p.node(doctree.KindCode)
			c.Text = string(r.text)
			top.Append(c)
		default:
			before := len(top.Children)
			top.AppendText(string(r.text))
			if len(top.Children) > before {
				p.node(doctree.KindText)
			}
		}
	}
	p.runs = p.runs[:0]
	return holder.Children
}

func wrappers(r run) []wrap {
	if r.brk {
		return nil
	}
	var w []wrap
	if r.fmt.link != nil {
		w = append(w, wrap{kind: doctree.KindLink, link: r.fmt.link})
	}
	if r.fmt.bold {
		w = append(w, wrap{kind: doctree.KindBold})
	}
	if r.fmt.italic {
		w = append(w, wrap{kind: doctree.KindItalic})
	}
	if r.fmt.underline {
		w = append(w, wrap{kind: doctree.KindUnderline})
	}
	return w
}

// plain flattens the pending runs for code blocks.
func (p *parser) plain() string {
	var b strings.Builder
	for _, r := range p.runs {
		if r.brk {
			b.WriteByte('\n')
			continue
		}
		b.Write(r.text)
	}
	p.runs = p.runs[:0]
	return b.String()
}

// hasContent reports whether runs hold anything visible. The generator uses
// the same test to decide which paragraphs to write.
func hasContent(runs []run) bool {
	for _, r := range runs {
		if r.brk || len(bytes.TrimFunc(r.text, unicode.IsSpace)) > 0 {
			return true
		}
	}
	return false
}

// endParagraph flushes the pending runs as a block. An empty code paragraph
// is kept only when a \par ended it; the code style outlives its last \par
// until \pard, so the closing brace must not add another block.
func (p *parser) endParagraph(g *group, explicit bool) {
	if g.para.inTable {
		parts := p.inline()
		if len(parts) > 0 && len(p.cellParts) > 0 {
			p.cellParts = append(p.cellParts, p.node(doctree.KindLineBreak))
		}
		p.cellParts = append(p.cellParts, parts...)
		return
	}
	p.closeTable()

	def := p.styles[g.para.style]
	code := def.kind == styleCode
	lang := strings.TrimSpace(p.lang.String())
	p.lang.Reset()
	if (!code || !explicit) && !hasContent(p.runs) {
		p.runs = p.runs[:0]
		return
	}

	var block *doctree.Node
	switch {
	case code:
		block = p.node(doctree.KindCodeBlock)
		block.Text = p.plain()
		block.Lang = lang
	case g.para.outline >= 0 || def.kind == styleHeading:
		block = p.node(doctree.KindHeading)
		block.Level = def.level
		if g.para.outline >= 0 {
			block.Level = g.para.outline + 1
		}
		block.Append(p.inline()...)
	default:
		block = p.node(doctree.KindParagraph)
		block.Append(p.inline()...)
	}

	q := g.para.indent / quoteIndent
	if g.para.list > 0 {
		q -= g.para.ilvl + 1
	}
	if q < 0 {
		q = 0
	}
	if def.kind == styleQuote && q == 0 {
		q = 1
	}
	if q > p.ctx.Limits().MaxDepth || g.para.ilvl >= p.ctx.Limits().MaxDepth || g.para.ilvl < 0 {
		p.fail(failure.New(failure.NestingTooDeep, failure.CodeDepth))
		return
	}

	if g.para.list > 0 {
		p.setQuote(q)
		p.listItem(block, g.para.ilvl, g.para.list == 2)
	} else {
		p.closeLists()
		p.setQuote(q)
		p.container().Append(block)
	}
	p.last = block
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

// container is where the next top-level block goes.
func (p *parser) container() *doctree.Node {
	if n := len(p.quotes); n > 0 {
		return p.quotes[n-1]
	}
	return p.doc.Root
}

func (p *parser) setQuote(level int) {
	if level == len(p.quotes) {
		return
	}
	p.closeLists()
	for len(p.quotes) > level {
		p.quotes = p.quotes[:len(p.quotes)-1]
	}
	for len(p.quotes) < level {
		q := p.node(doctree.KindBlockQuote)
		p.container().Append(q)
		p.quotes = append(p.quotes, q)
	}
}

func (p *parser) closeLists() {
	p.lists = p.lists[:0]
}

func (p *parser) listItem(block *doctree.Node, level int, ordered bool) {
	for len(p.lists) > level+1 {
		p.lists = p.lists[:len(p.lists)-1]
	}
	for len(p.lists) < level+1 {
		parent := p.container()
		if n := len(p.lists); n > 0 {
			top := p.lists[n-1].list
			parent = top.LastChild()
			if parent == nil {
				parent = p.node(doctree.KindListItem)
				top.Append(parent)
			}
		}
		l := p.node(doctree.KindList)
		l.Ordered = ordered
		parent.Append(l)
		p.lists = append(p.lists, listFrame{list: l, parent: parent})
	}
	top := &p.lists[len(p.lists)-1]
	if top.list.Ordered != ordered {
		if len(top.list.Children) == 0 {
			top.list.Ordered = ordered
		} else {
			l := p.node(doctree.KindList)
			l.Ordered = ordered
			top.parent.Append(l)
			top.list = l
		}
	}
	item := p.node(doctree.KindListItem)
	item.Append(block)
	top.list.Append(item)
}

func (p *parser) endCell() {
	parts := p.inline()
	if len(parts) > 0 && len(p.cellParts) > 0 {
		p.cellParts = append(p.cellParts, p.node(doctree.KindLineBreak))
	}
	cell := p.node(doctree.KindTableCell)
	cell.Append(p.cellParts...)
	cell.Append(parts...)
	p.cellParts = nil
	if p.row == nil {
		p.row = p.node(doctree.KindTableRow)
	}
	p.row.Append(cell)
	if err := p.ctx.CheckTable(0, len(p.row.Children)); err != nil {
		p.fail(err)
	}
}

func (p *parser) endRow() {
	if len(p.cellParts) > 0 || len(p.runs) > 0 {
		p.endCell()
	}
	row := p.row
	p.row = nil
	if row == nil || len(row.Children) == 0 {
		return
	}
	if p.table == nil {
		p.closeLists()
		p.setQuote(0)
		p.table = p.node(doctree.KindTable)
		p.container().Append(p.table)
	}
	p.table.Append(row)
	p.last = p.table
	if err := p.ctx.CheckTable(len(p.table.Children), 0); err != nil {
		p.fail(err)
	}
}

func (p *parser) closeTable() {
	if p.row != nil {
		p.endRow()
	}
	p.table = nil
}

// finish closes whatever the input left open and checks the final shape.
func (p *parser) finish() error {
	if !p.closed && len(p.stack) > 0 {
		p.endParagraph(p.top(), false)
		for len(p.stack) > 0 {
			p.stack = p.stack[:len(p.stack)-1]
			p.ctx.Leave()
		}
		if p.last != nil {
			p.last.Open = true
		}
	}
	p.closeTable()
	if p.err != nil {
		return p.err
	}
	if doctree.Measure(p.doc.Root).MaxDepth > p.ctx.Limits().MaxDepth {
		return failure.New(failure.NestingTooDeep, failure.CodeDepth)
	}
	return nil
}

// withOffset attaches a token offset to errors raised without one.
func withOffset(err error, off int) error {
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Offset < 0 {
		cp := *fe
		cp.Offset = off
		return &cp
	}
	return err
}
