// Package recovery repairs validation issues on a copy of a document.
package recovery

import (
	"slices"
	"strings"

	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/dgallion1/rtfbridge/internal/validate"
)

// Strategy is one way of resolving an issue. Lower values are tried first.
type Strategy uint8

const (
	Fix Strategy = iota
	Replace
	Remove
	Skip
	Insert
	BestEffort
)

var strategyNames = [...]string{"fix", "replace", "remove", "skip", "insert", "best_effort"}

func (s Strategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return "unknown"
}

// strategies lists what may be tried per kind, in priority order.
var strategies = map[validate.Kind][]Strategy{
	validate.EmptyDocument:     {Skip},
	validate.EmptyBlock:        {Remove, Skip},
	validate.UnterminatedSpan:  {Fix},
	validate.HeadingLevel:      {Fix},
	validate.UnsupportedMedia:  {Replace, Remove},
	validate.EmptyLinkTarget:   {Replace},
	validate.UnsafeLinkScheme:  {Replace, Remove},
	validate.MisplacedBlock:    {Fix, Replace},
	validate.OrphanInline:      {Fix, Skip},
	validate.ListItemMissing:   {Fix},
	validate.RaggedTable:       {Insert},
	validate.TableTooLarge:     {Remove},
	validate.DepthExceeded:     {Replace},
	validate.NodeLimitExceeded: {BestEffort},
	validate.ControlCharacters: {Fix},
}

// Action records one applied strategy.
type Action struct {
	Kind     validate.Kind
	Strategy Strategy
	Path     []int
}

// Result is the repaired document and what could not be repaired.
type Result struct {
	Doc        *doctree.Document
	Actions    []Action
	Unresolved []validate.Kind
}

// Recover repairs issues on a deep copy of doc with the default limits.
func Recover(doc *doctree.Document, issues []validate.Issue) (*doctree.Document, []validate.Kind) {
	r := Recoverer{Limits: doctree.DefaultLimits()}.Recover(doc, issues)
	return r.Doc, r.Unresolved
}

// Recoverer applies strategies within a set of limits.
type Recoverer struct {
	Limits doctree.Limits
}

// Recover repairs issues on a deep copy of doc. Issues are handled deepest
// and last first so earlier paths stay valid as the tree changes. It never
// panics; a fault leaves every remaining issue unresolved.
func (r Recoverer) Recover(doc *doctree.Document, issues []validate.Issue) (res Result) {
	if doc == nil {
		doc = doctree.New()
	}
	res.Doc = doc.Clone()
	if res.Doc.Root == nil {
		res.Doc.Root = &doctree.Node{Kind: doctree.KindGroup}
	}
	ordered := slices.Clone(issues)
	slices.SortStableFunc(ordered, func(a, b validate.Issue) int {
		if a.Path == nil && b.Path != nil {
			return 1
		}
		if b.Path == nil && a.Path != nil {
			return -1
		}
		return slices.Compare(b.Path, a.Path)
	})

	s := &session{limits: r.Limits.Normalize(), doc: res.Doc, made: map[*doctree.Node]bool{}}
	next := 0
	defer func() {
		if p := recover(); p != nil {
			for _, is := range ordered[next:] {
				res.Unresolved = appendKind(res.Unresolved, is.Kind)
			}
		}
	}()
	for i, is := range ordered {
		next = i
		st, ok := s.resolve(is)
		if !ok {
			res.Unresolved = appendKind(res.Unresolved, is.Kind)
			continue
		}
		if st != nil {
			res.Actions = append(res.Actions, Action{Kind: is.Kind, Strategy: *st, Path: slices.Clone(is.Path)})
		}
	}
	next = len(ordered)
	return res
}

func appendKind(ks []validate.Kind, k validate.Kind) []validate.Kind {
	if slices.Contains(ks, k) {
		return ks
	}
	return append(ks, k)
}

type session struct {
	limits doctree.Limits
	doc    *doctree.Document
	made   map[*doctree.Node]bool // paragraphs created to hold orphan inlines
}

// resolve tries each applicable strategy. A nil strategy with ok means the
// issue no longer applies to the current tree.
func (s *session) resolve(is validate.Issue) (*Strategy, bool) {
	if is.Path != nil && !s.stillApplies(is) {
		return nil, true
	}
	for _, st := range strategies[is.Kind] {
		if st == Skip {
			if is.Severity != validate.Error {
				return &st, true
			}
			continue
		}
		if s.apply(st, is) {
			return &st, true
		}
	}
	return nil, false
}

func (s *session) parentOf(path []int) (*doctree.Node, int) {
	if len(path) == 0 {
		return nil, -1
	}
	return s.doc.At(path[:len(path)-1]), path[len(path)-1]
}

func (s *session) stillApplies(is validate.Issue) bool {
	n := s.doc.At(is.Path)
	if n == nil {
		return false
	}
	switch is.Kind {
	case validate.UnterminatedSpan:
		return n.Open
	case validate.HeadingLevel:
		return n.Kind == doctree.KindHeading
	case validate.UnsupportedMedia:
		return n.Kind == doctree.KindImage
	case validate.EmptyLinkTarget, validate.UnsafeLinkScheme:
		return n.Kind == doctree.KindLink || n.Kind == doctree.KindImage
	case validate.EmptyBlock:
		return len(n.Children) == 0 && n.Kind.IsBlock()
	case validate.RaggedTable, validate.TableTooLarge:
		return n.Kind == doctree.KindTable
	case validate.ControlCharacters:
		return validate.HasControl(n.Text)
	case validate.DepthExceeded:
		return len(is.Path) > s.limits.MaxDepth
	}
	return true
}

func (s *session) apply(st Strategy, is validate.Issue) bool {
	switch is.Kind {
	case validate.UnterminatedSpan:
		return s.closeSpan(is.Path)
	case validate.HeadingLevel:
		n := s.doc.At(is.Path)
		n.Level = min(max(n.Level, 1), 6)
		return true
	case validate.ControlCharacters:
		n := s.doc.At(is.Path)
		n.Text = stripControl(n.Text)
		return true
	case validate.EmptyBlock:
		return s.remove(is.Path)
	case validate.UnsupportedMedia, validate.UnsafeLinkScheme:
		if st == Remove {
			return s.remove(is.Path)
		}
		return s.unwrap(is.Path, true)
	case validate.EmptyLinkTarget:
		return s.unwrap(is.Path, false)
	case validate.MisplacedBlock:
		if st == Fix {
			return s.rehome(is.Path)
		}
		return s.flatten(is.Path)
	case validate.OrphanInline:
		return s.wrapOrphan(is.Path)
	case validate.ListItemMissing:
		return s.wrap(is.Path, doctree.KindListItem)
	case validate.RaggedTable:
		return s.padTable(s.doc.At(is.Path))
	case validate.TableTooLarge:
		return s.truncateTable(s.doc.At(is.Path))
	case validate.DepthExceeded:
		return s.flatten(is.Path[:s.limits.MaxDepth])
	case validate.NodeLimitExceeded:
		return s.collapse()
	}
	return false
}

// closeSpan clears the open marker on the node and its ancestors.
func (s *session) closeSpan(path []int) bool {
	for i := len(path); i >= 0; i-- {
		if n := s.doc.At(path[:i]); n != nil {
			n.Open = false
		}
	}
	return true
}

func (s *session) remove(path []int) bool {
	parent, i := s.parentOf(path)
	if parent == nil {
		return false
	}
	parent.Children = slices.Delete(parent.Children, i, i+1)
	return true
}

// splice replaces the node at path with nodes.
func (s *session) splice(path []int, nodes ...*doctree.Node) bool {
	parent, i := s.parentOf(path)
	if parent == nil {
		return false
	}
	parent.Children = slices.Replace(parent.Children, i, i+1, nodes...)
	return true
}

// unwrap replaces a link or image with its label. An image with no label
// becomes its alt text; without either it cannot be unwrapped.
func (s *session) unwrap(path []int, dropURL bool) bool {
	n := s.doc.At(path)
	children := n.Children
	if len(children) == 0 && n.Text != "" {
		children = []*doctree.Node{doctree.NewText(n.Text)}
	}
	if len(children) == 0 {
		if !dropURL {
			return s.remove(path)
		}
		return false
	}
	return s.splice(path, children...)
}

// flatten replaces the node at path with its plain text.
func (s *session) flatten(path []int) bool {
	n := s.doc.At(path)
	if n == nil {
		return false
	}
	text := n.PlainText()
	if text == "" {
		return s.remove(path)
	}
	return s.splice(path, doctree.NewText(text))
}

// rehome repairs a structural node under the wrong parent by wrapping or
// retagging it so the result nests correctly.
func (s *session) rehome(path []int) bool {
	parent, _ := s.parentOf(path)
	n := s.doc.At(path)
	if parent == nil || n == nil {
		return false
	}
	switch {
	case parent.Kind == doctree.KindTable:
		if n.Kind == doctree.KindTableCell {
			return s.wrap(path, doctree.KindTableRow)
		}
		cell := &doctree.Node{Kind: doctree.KindTableCell, Children: []*doctree.Node{n}}
		return s.splice(path, &doctree.Node{Kind: doctree.KindTableRow, Children: []*doctree.Node{cell}})
	case parent.Kind == doctree.KindTableRow:
		return s.wrap(path, doctree.KindTableCell)
	case parent.Kind.IsInline(), parent.Kind == doctree.KindParagraph, parent.Kind == doctree.KindHeading:
		// blocks inside running text can only be flattened
		return false
	}
	switch n.Kind {
	case doctree.KindListItem:
		n.Kind = doctree.KindGroup
		return true
	case doctree.KindTableRow:
		return s.wrap(path, doctree.KindTable)
	case doctree.KindTableCell:
		n.Kind = doctree.KindParagraph
		if slices.ContainsFunc(n.Children, func(c *doctree.Node) bool { return c.Kind.IsBlock() }) {
			n.Kind = doctree.KindGroup
		}
		return true
	}
	return false
}

func (s *session) wrap(path []int, kind doctree.Kind) bool {
	n := s.doc.At(path)
	if n == nil {
		return false
	}
	return s.splice(path, &doctree.Node{Kind: kind, Children: []*doctree.Node{n}})
}

// wrapOrphan puts an inline node into a paragraph, joining the paragraph
// made for its following sibling when there is one.
func (s *session) wrapOrphan(path []int) bool {
	parent, i := s.parentOf(path)
	if parent == nil {
		return false
	}
	n := parent.Children[i]
	if i+1 < len(parent.Children) && s.made[parent.Children[i+1]] {
		p := parent.Children[i+1]
		p.Children = slices.Insert(p.Children, 0, n)
		parent.Children = slices.Delete(parent.Children, i, i+1)
		return true
	}
	p := &doctree.Node{Kind: doctree.KindParagraph, Children: []*doctree.Node{n}}
	s.made[p] = true
	parent.Children[i] = p
	return true
}

func (s *session) padTable(t *doctree.Node) bool {
	if t == nil {
		return false
	}
	width := 0
	for _, row := range t.Children {
		width = max(width, len(row.Children))
	}
	for _, row := range t.Children {
		if row.Kind != doctree.KindTableRow {
			continue
		}
		for len(row.Children) < width {
			row.Children = append(row.Children, &doctree.Node{Kind: doctree.KindTableCell})
		}
	}
	return true
}

func (s *session) truncateTable(t *doctree.Node) bool {
	if t == nil {
		return false
	}
	if len(t.Children) > s.limits.MaxTableRows {
		t.Children = t.Children[:s.limits.MaxTableRows]
	}
	for _, row := range t.Children {
		if len(row.Children) > s.limits.MaxTableCols {
			row.Children = row.Children[:s.limits.MaxTableCols]
		}
	}
	return true
}

// collapse reduces the document to one paragraph of plain text per
// top-level block, or a single paragraph when that is still too many.
func (s *session) collapse() bool {
	root := s.doc.Root
	var out []*doctree.Node
	for _, c := range root.Children {
		if text := strings.TrimSpace(c.PlainText()); text != "" {
			out = append(out, &doctree.Node{Kind: doctree.KindParagraph, Children: []*doctree.Node{doctree.NewText(text)}})
		}
	}
	if int64(len(out)*2+1) > s.limits.MaxNodes {
		var b strings.Builder
		for i, p := range out {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(p.Children[0].Text)
		}
		out = []*doctree.Node{{Kind: doctree.KindParagraph, Children: []*doctree.Node{doctree.NewText(b.String())}}}
	}
	root.Children = out
	return true
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if (r < 0x20 && r != '\t' && r != '\n') || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
