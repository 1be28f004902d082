package recovery

import (
	"testing"

	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/dgallion1/rtfbridge/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func text(s string) *doctree.Node { return doctree.NewText(s) }

func para(children ...*doctree.Node) *doctree.Node {
	return &doctree.Node{Kind: doctree.KindParagraph, Children: children}
}

func docOf(blocks ...*doctree.Node) *doctree.Document {
	d := doctree.New()
	d.Root.Append(blocks...)
	return d
}

func repair(t *testing.T, d *doctree.Document, mode validate.Mode) Result {
	t.Helper()
	issues := validate.Validate(d, mode)
	require.NotEmpty(t, issues)
	return Recoverer{Limits: doctree.DefaultLimits()}.Recover(d, issues)
}

func TestRecover_WorksOnACopy(t *testing.T) {
	p := para(text("open"))
	p.Open = true
	d := docOf(p)

	out, unresolved := Recover(d, validate.Validate(d, validate.Lenient))
	assert.Empty(t, unresolved)
	assert.False(t, out.Root.Children[0].Open)
	assert.True(t, d.Root.Children[0].Open, "input must not change")
}

func TestRecover_ResolvesAndRevalidates(t *testing.T) {
	d := docOf(
		text("orphan "),
		&doctree.Node{Kind: doctree.KindBold, Children: []*doctree.Node{text("span")}},
		&doctree.Node{Kind: doctree.KindHeading, Level: 0, Children: []*doctree.Node{text("h")}},
		&doctree.Node{Kind: doctree.KindBlockQuote},
		para(
			text("a\x00b "),
			&doctree.Node{Kind: doctree.KindLink, URL: "javascript:alert(1)", Children: []*doctree.Node{text("click")}},
			&doctree.Node{Kind: doctree.KindLink, Children: []*doctree.Node{text(" here")}},
			&doctree.Node{Kind: doctree.KindImage, URL: "x.png", Children: []*doctree.Node{text(" pic")}},
		),
		&doctree.Node{Kind: doctree.KindList, Children: []*doctree.Node{para(text("item"))}},
	)
	res := repair(t, d, validate.Strict)
	assert.Empty(t, res.Unresolved)
	assert.Empty(t, validate.Validate(res.Doc, validate.Strict))

	root := res.Doc.Root.Children
	require.Len(t, root, 4)
	assert.Equal(t, doctree.KindParagraph, root[0].Kind)
	assert.Len(t, root[0].Children, 2, "orphans join one paragraph")
	assert.Equal(t, 1, root[1].Level)
	assert.Equal(t, "ab click here pic", root[2].PlainText())
	assert.Equal(t, doctree.KindListItem, root[3].Children[0].Kind)
}

func TestRecover_PriorityOrder(t *testing.T) {
	img := &doctree.Node{Kind: doctree.KindImage, URL: "x.png"}
	d := docOf(para(text("a"), img))
	res := repair(t, d, validate.Lenient)
	require.Len(t, res.Actions, 1)
	// no label to replace with, so the image is removed
	assert.Equal(t, Remove, res.Actions[0].Strategy)
	assert.Equal(t, "a", res.Doc.Root.PlainText())
}

func TestRecover_SkipOnlyForNonErrors(t *testing.T) {
	d := docOf(para(text(" ")))
	res := repair(t, d, validate.Lenient)
	assert.Empty(t, res.Unresolved)

	res = repair(t, d, validate.Strict)
	assert.Equal(t, []validate.Kind{validate.EmptyDocument}, res.Unresolved)
}

func TestRecover_Tables(t *testing.T) {
	row := func(n int) *doctree.Node {
		r := &doctree.Node{Kind: doctree.KindTableRow}
		for range n {
			r.Append(&doctree.Node{Kind: doctree.KindTableCell, Children: []*doctree.Node{text("c")}})
		}
		return r
	}
	table := &doctree.Node{Kind: doctree.KindTable, Children: []*doctree.Node{row(1), row(4), text("stray")}}
	d := docOf(table)

	r := Recoverer{Limits: doctree.Limits{MaxTableCols: 3}}
	issues := validate.Validator{Limits: r.Limits}.Validate(d)
	res := r.Recover(d, issues)
	assert.Empty(t, res.Unresolved)

	out := res.Doc.Root.Children[0]
	require.Len(t, out.Children, 3)
	for _, row := range out.Children {
		assert.Equal(t, doctree.KindTableRow, row.Kind)
		assert.Len(t, row.Children, 3)
	}
	assert.Equal(t, "stray", out.Children[2].Children[0].PlainText())
}

func TestRecover_MisplacedBlocks(t *testing.T) {
	d := docOf(
		&doctree.Node{Kind: doctree.KindListItem, Children: []*doctree.Node{para(text("loose"))}},
		para(&doctree.Node{Kind: doctree.KindItalic, Children: []*doctree.Node{para(text("inner"))}}),
		&doctree.Node{Kind: doctree.KindTableCell, Children: []*doctree.Node{text("cell")}},
	)
	res := repair(t, d, validate.Lenient)
	assert.Empty(t, res.Unresolved)
	assert.Empty(t, validate.Errors(validate.Validate(res.Doc, validate.Strict)))

	root := res.Doc.Root.Children
	assert.Equal(t, doctree.KindGroup, root[0].Kind)
	assert.Equal(t, doctree.KindText, root[1].Children[0].Children[0].Kind)
	assert.Equal(t, doctree.KindParagraph, root[2].Kind)
}

func TestRecover_DepthExceeded(t *testing.T) {
	d := doctree.New()
	cur := d.Root
	for range 8 {
		q := &doctree.Node{Kind: doctree.KindBlockQuote}
		cur.Append(q)
		cur = q
	}
	cur.Append(para(text("deep")))

	limits := doctree.Limits{MaxDepth: 4}
	issues := validate.Validator{Limits: limits}.Validate(d)
	res := Recoverer{Limits: limits}.Recover(d, issues)
	assert.Empty(t, res.Unresolved)
	assert.LessOrEqual(t, doctree.Measure(res.Doc.Root).MaxDepth, 4)
	assert.Equal(t, "deep", res.Doc.Root.PlainText())
}

func TestRecover_NodeLimitCollapses(t *testing.T) {
	d := doctree.New()
	for range 20 {
		d.Root.Append(para(text("x"), &doctree.Node{Kind: doctree.KindBold, Children: []*doctree.Node{text("y")}}))
	}
	limits := doctree.Limits{MaxNodes: 30}
	issues := validate.Validator{Limits: limits}.Validate(d)
	res := Recoverer{Limits: limits}.Recover(d, issues)
	assert.Empty(t, res.Unresolved)
	assert.LessOrEqual(t, doctree.Measure(res.Doc.Root).Nodes, 30)
	assert.Len(t, res.Doc.Root.Children, 1)
}

func TestRecover_TextLimitIsUnresolved(t *testing.T) {
	d := docOf(para(text("too much text")))
	limits := doctree.Limits{MaxTextBytes: 4}
	issues := validate.Validator{Limits: limits}.Validate(d)
	res := Recoverer{Limits: limits}.Recover(d, issues)
	assert.Equal(t, []validate.Kind{validate.TextLimitExceeded}, res.Unresolved)
}

func TestRecover_StalePathsAreIgnored(t *testing.T) {
	d := docOf(para(text("ok")))
	issues := []validate.Issue{{Kind: validate.EmptyBlock, Severity: validate.Info, Path: []int{7, 3}}}
	res := Recoverer{}.Recover(d, issues)
	assert.Empty(t, res.Unresolved)
	assert.Empty(t, res.Actions)
}
