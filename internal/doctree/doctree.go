package doctree

import "unsafe"

// Kind is the closed set of node variants.
type Kind uint8

const (
	KindGroup Kind = iota
	KindText
	KindParagraph
	KindBold
	KindItalic
	KindUnderline
	KindHeading
	KindList
	KindListItem
	KindTable
	KindTableRow
	KindTableCell
	KindCodeBlock
	KindCode
	KindLink
	KindBlockQuote
	KindLineBreak
	KindImage
)

var kindNames = [...]string{
	KindGroup:      "group",
	KindText:       "text",
	KindParagraph:  "paragraph",
	KindBold:       "bold",
	KindItalic:     "italic",
	KindUnderline:  "underline",
	KindHeading:    "heading",
	KindList:       "list",
	KindListItem:   "list_item",
	KindTable:      "table",
	KindTableRow:   "table_row",
	KindTableCell:  "table_cell",
	KindCodeBlock:  "code_block",
	KindCode:       "code",
	KindLink:       "link",
	KindBlockQuote: "block_quote",
	KindLineBreak:  "line_break",
	KindImage:      "image",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsBlock reports whether nodes of this kind live at block level.
func (k Kind) IsBlock() bool {
	switch k {
	case KindParagraph, KindHeading, KindList, KindListItem, KindTable, KindTableRow,
		KindTableCell, KindCodeBlock, KindBlockQuote, KindGroup:
		return true
	}
	return false
}

// IsInline reports whether nodes of this kind live inside paragraphs.
func (k Kind) IsInline() bool {
	return !k.IsBlock()
}

// Document is the root of a parsed document.
type Document struct {
	Title string // Document title (from metadata or filename)
	Root  *Node  // Always KindGroup
}

// Node is one element of the tree. Children are owned exclusively by their parent.
type Node struct {
	Kind     Kind
	Text     string // Text, Code and CodeBlock content
	Level    int    // Heading level, 1-6
	Ordered  bool   // List
	URL      string // Link and Image target
	Lang     string // CodeBlock info string
	Open     bool   // span was never terminated in the source
	Children []*Node

	// grow backs Text while it is extended by ExtendText.
	grow []byte
}

// New returns an empty document with a root group.
func New() *Document {
	return &Document{Root: &Node{Kind: KindGroup}}
}

// NewText returns a text leaf.
func NewText(s string) *Node {
	return &Node{Kind: KindText, Text: s}
}

// Append adds children to n.
func (n *Node) Append(children ...*Node) {
	n.Children = append(n.Children, children...)
}

// AppendText adds s as text, merging with a trailing text child.
// It returns the node that received the text.
func (n *Node) AppendText(s string) *Node {
	if s == "" {
		return nil
	}
	if k := len(n.Children); k > 0 && n.Children[k-1].Kind == KindText {
		n.Children[k-1].ExtendText(s)
		return n.Children[k-1]
	}
	t := NewText(s)
	n.Children = append(n.Children, t)
	return t
}

// ExtendText appends s to n.Text. Repeated calls cost time linear in the
// final length: Text aliases a private buffer that only ever grows past
// the bytes earlier strings point at. Any other assignment to Text is
// detected and the buffer restarts from a copy.
func (n *Node) ExtendText(s string) {
	if s == "" {
		return
	}
	if len(n.grow) != len(n.Text) || (len(n.grow) > 0 && unsafe.StringData(n.Text) != &n.grow[0]) {
		n.grow = make([]byte, len(n.Text), 2*(len(n.Text)+len(s)))
		copy(n.grow, n.Text)
	}
	n.grow = append(n.grow, s...)
	n.Text = unsafe.String(&n.grow[0], len(n.grow))
}

// LastChild returns the final child or nil.
func (n *Node) LastChild() *Node {
	if len(n.Children) == 0 {
		return nil
	}
	return n.Children[len(n.Children)-1]
}

// PlainText concatenates every text-bearing descendant.
func (n *Node) PlainText() string {
	var out []byte
	Walk(n, func(c *Node, _ int) bool {
		switch c.Kind {
		case KindText, KindCode, KindCodeBlock:
			out = append(out, c.Text...)
		case KindLineBreak:
			out = append(out, '\n')
		}
		return true
	})
	return string(out)
}

// Clone returns a deep copy of n without recursion.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	type pair struct{ src, dst *Node }
	root := &Node{}
	stack := []pair{{n, root}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		*p.dst = *p.src
		p.dst.grow = nil
		if len(p.src.Children) == 0 {
			p.dst.Children = nil
			continue
		}
		p.dst.Children = make([]*Node, len(p.src.Children))
		for i, c := range p.src.Children {
			d := &Node{}
			p.dst.Children[i] = d
			stack = append(stack, pair{c, d})
		}
	}
	return root
}

// Clone deep-copies the document.
func (d *Document) Clone() *Document {
	return &Document{Title: d.Title, Root: d.Root.Clone()}
}

// At resolves a child-index path from the root; nil if the path is stale.
func (d *Document) At(path []int) *Node {
	n := d.Root
	for _, i := range path {
		if n == nil || i < 0 || i >= len(n.Children) {
			return nil
		}
		n = n.Children[i]
	}
	return n
}

// Walk visits n and its descendants depth-first in document order using an
// explicit stack. depth is 0 for n. Returning false skips the node's children.
func Walk(n *Node, fn func(node *Node, depth int) bool) {
	if n == nil {
		return
	}
	type frame struct {
		node  *Node
		depth int
	}
	stack := []frame{{n, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(f.node, f.depth) {
			continue
		}
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{f.node.Children[i], f.depth + 1})
		}
	}
}

// WalkPath is Walk with the child-index path of every node. The path slice
// is reused between calls; copy it to retain it.
func WalkPath(n *Node, fn func(node *Node, path []int) bool) {
	if n == nil {
		return
	}
	type frame struct {
		node *Node
		next int
	}
	if !fn(n, nil) {
		return
	}
	stack := []frame{{node: n}}
	path := make([]int, 0, 16)
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(top.node.Children) {
			stack = stack[:len(stack)-1]
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
			continue
		}
		i := top.next
		top.next++
		child := top.node.Children[i]
		path = append(path, i)
		if fn(child, path) && len(child.Children) > 0 {
			stack = append(stack, frame{node: child})
			continue
		}
		path = path[:len(path)-1]
	}
}

// Stats summarises a tree.
type Stats struct {
	Nodes     int
	MaxDepth  int
	TextBytes int
}

// Measure counts nodes, depth and text of a tree.
func Measure(n *Node) Stats {
	var s Stats
	Walk(n, func(c *Node, depth int) bool {
		s.Nodes++
		if depth > s.MaxDepth {
			s.MaxDepth = depth
		}
		s.TextBytes += len(c.Text)
		return true
	})
	return s
}
