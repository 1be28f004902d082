package markdown

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/dgallion1/rtfbridge/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, src string) *doctree.Document {
	t.Helper()
	doc, err := Parse([]byte(src), doctree.NewParserContext(doctree.DefaultLimits()))
	require.NoError(t, err)
	return doc
}

func para(children ...*doctree.Node) *doctree.Node {
	return &doctree.Node{Kind: doctree.KindParagraph, Children: children}
}

func txt(s string) *doctree.Node { return doctree.NewText(s) }

func TestParse_HeadingAndEmphasis(t *testing.T) {
	doc := parse(t, "# Title\n\nSome **bold** and *italic* text.")
	require.Len(t, doc.Root.Children, 2)

	h := doc.Root.Children[0]
	assert.Equal(t, doctree.KindHeading, h.Kind)
	assert.Equal(t, 1, h.Level)
	assert.Equal(t, "Title", h.PlainText())

	p := doc.Root.Children[1]
	require.Len(t, p.Children, 5)
	assert.Equal(t, doctree.KindBold, p.Children[1].Kind)
	assert.Equal(t, "bold", p.Children[1].PlainText())
	assert.Equal(t, doctree.KindItalic, p.Children[3].Kind)
	assert.Equal(t, "Some bold and italic text.", p.PlainText())

	out, err := Generate(doc)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nSome **bold** and *italic* text.\n", out)
}

func TestParse_Blocks(t *testing.T) {
	src := "- a\n- b\n  1. c\n\n> quoted\n\n```go\nx := 1\n```\n\n| h1 | h2 |\n| --- | --- |\n| 1 | 2 |\n"
	doc := parse(t, src)
	require.Len(t, doc.Root.Children, 4)

	list := doc.Root.Children[0]
	require.Equal(t, doctree.KindList, list.Kind)
	assert.False(t, list.Ordered)
	require.Len(t, list.Children, 2)
	nested := list.Children[1].Children[1]
	assert.Equal(t, doctree.KindList, nested.Kind)
	assert.True(t, nested.Ordered)

	assert.Equal(t, doctree.KindBlockQuote, doc.Root.Children[1].Kind)

	code := doc.Root.Children[2]
	assert.Equal(t, doctree.KindCodeBlock, code.Kind)
	assert.Equal(t, "go", code.Lang)
	assert.Equal(t, "x := 1", code.Text)

	table := doc.Root.Children[3]
	require.Equal(t, doctree.KindTable, table.Kind)
	require.Len(t, table.Children, 2)
	assert.Equal(t, "2", table.Children[1].Children[1].PlainText())
}

func TestParse_EscapesAndEntities(t *testing.T) {
	doc := parse(t, `a \*b\* &amp; &#233; \&amp;`)
	assert.Equal(t, "a *b* & é &amp;", doc.Root.Children[0].PlainText())
}

func TestParse_DeepQuotesFailBeforeParsing(t *testing.T) {
	_, err := Parse([]byte(strings.Repeat(">", 200)+" x"), doctree.NewParserContext(doctree.DefaultLimits()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrNestingTooDeep))
}

func TestParse_IndentedCodeIsNotNesting(t *testing.T) {
	doc := parse(t, strings.Repeat(" ", 200)+"x")
	require.Len(t, doc.Root.Children, 1)
	assert.Equal(t, doctree.KindCodeBlock, doc.Root.Children[0].Kind)
}

func TestParse_TableLimits(t *testing.T) {
	l := doctree.DefaultLimits()
	l.MaxTableCols = 3
	_, err := Parse([]byte("| a | b | c | d |\n| - | - | - | - |\n"), doctree.NewParserContext(l))
	assert.True(t, errors.Is(err, failure.ErrResourceLimit))
	assert.Equal(t, failure.CodeTableTooLarge, failure.CodeOf(err))
}

func TestParse_InputLimits(t *testing.T) {
	l := doctree.DefaultLimits()
	l.MaxInputBytes = 4
	_, err := Parse([]byte("hello"), doctree.NewParserContext(l))
	assert.True(t, errors.Is(err, failure.ErrResourceLimit))

	_, err = Parse([]byte{0xff, 'a'}, doctree.NewParserContext(doctree.DefaultLimits()))
	assert.Equal(t, failure.CodeInvalidUTF8, failure.CodeOf(err))
}

func richDocument() *doctree.Document {
	doc := doctree.New()
	p := para(txt("Some "),
		&doctree.Node{Kind: doctree.KindBold, Children: []*doctree.Node{txt("bold")}},
		txt(" and "),
		&doctree.Node{Kind: doctree.KindItalic, Children: []*doctree.Node{txt("italic")}},
		txt(" with "),
		&doctree.Node{Kind: doctree.KindCode, Text: "x{y}"},
		txt(" and "),
		&doctree.Node{Kind: doctree.KindLink, URL: "https://example.com/a_b", Children: []*doctree.Node{txt("link")}},
		&doctree.Node{Kind: doctree.KindLineBreak},
		txt(`é 😀 a\b`),
	)
	nested := &doctree.Node{Kind: doctree.KindList, Ordered: true, Children: []*doctree.Node{
		{Kind: doctree.KindListItem, Children: []*doctree.Node{para(txt("nested"))}},
	}}
	list := &doctree.Node{Kind: doctree.KindList, Children: []*doctree.Node{
		{Kind: doctree.KindListItem, Children: []*doctree.Node{para(txt("one"))}},
		{Kind: doctree.KindListItem, Children: []*doctree.Node{para(txt("two")), nested}},
	}}
	quote := &doctree.Node{Kind: doctree.KindBlockQuote, Children: []*doctree.Node{
		para(txt("quoted")),
		{Kind: doctree.KindCodeBlock, Lang: "go", Text: "a\n  b"},
	}}
	table := &doctree.Node{Kind: doctree.KindTable, Children: []*doctree.Node{
		{Kind: doctree.KindTableRow, Children: []*doctree.Node{
			{Kind: doctree.KindTableCell, Children: []*doctree.Node{txt("h1")}},
			{Kind: doctree.KindTableCell, Children: []*doctree.Node{txt("h|2")}},
		}},
		{Kind: doctree.KindTableRow, Children: []*doctree.Node{
			{Kind: doctree.KindTableCell, Children: []*doctree.Node{txt("a")}},
		}},
	}}
	doc.Root.Append(
		&doctree.Node{Kind: doctree.KindHeading, Level: 2, Children: []*doctree.Node{txt("Title")}},
		p, list, quote, table,
	)
	return doc
}

func TestGenerate_RoundTripIsStable(t *testing.T) {
	first, err := Generate(richDocument())
	require.NoError(t, err)

	doc := parse(t, first)
	second, err := Generate(doc)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, doc.Root.Children, 5)
	p := doc.Root.Children[1]
	assert.Equal(t, "Some bold and italic with x{y} and link\né 😀 a\\b", p.PlainText())
	quote := doc.Root.Children[3]
	require.Len(t, quote.Children, 2)
	assert.Equal(t, "a\n  b", quote.Children[1].Text)
	table := doc.Root.Children[4]
	require.Len(t, table.Children, 2)
	assert.Equal(t, "h|2", table.Children[0].Children[1].PlainText())
}

func TestGenerate_Output(t *testing.T) {
	out, err := Generate(richDocument())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "## Title\n\n"))
	assert.Contains(t, out, "`x{y}`")
	assert.Contains(t, out, "[link](https://example.com/a_b)\\\n")
	assert.Contains(t, out, "- two\n  1. nested")
	assert.Contains(t, out, "> quoted\n>\n> ```go\n> a\n>   b\n> ```")
	assert.Contains(t, out, "| h1 | h\\|2 |\n| --- | --- |\n| a |  |")
}

func TestGenerate_EscapesRoundTrip(t *testing.T) {
	cases := []string{
		"a*b_c [x] <y> #1 & `z` ~ |",
		"- not a list",
		"+ nor this",
		"12. not ordered",
		"3) nope",
		"&amp; stays literal",
	}
	for _, s := range cases {
		doc := doctree.New()
		doc.Root.Append(para(txt(s)))
		out, err := Generate(doc)
		require.NoError(t, err)

		back := parse(t, out)
		require.Len(t, back.Root.Children, 1, out)
		assert.Equal(t, doctree.KindParagraph, back.Root.Children[0].Kind, out)
		assert.Equal(t, s, back.Root.Children[0].PlainText(), out)
	}
}

func TestGenerate_CodeSpans(t *testing.T) {
	for _, s := range []string{"a`b", "`x", "x`", " padded "} {
		doc := doctree.New()
		doc.Root.Append(para(txt("see "), &doctree.Node{Kind: doctree.KindCode, Text: s}))
		out, err := Generate(doc)
		require.NoError(t, err)

		back := parse(t, out)
		p := back.Root.Children[0]
		require.Len(t, p.Children, 2, out)
		assert.Equal(t, doctree.KindCode, p.Children[1].Kind, out)
		assert.Equal(t, s, p.Children[1].Text, out)
	}
}

func TestGenerate_FencedCodeHoldsBackticks(t *testing.T) {
	doc := doctree.New()
	doc.Root.Append(&doctree.Node{Kind: doctree.KindCodeBlock, Lang: "md", Text: "```\ninner\n```"})
	out, err := Generate(doc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "````md\n"))

	back := parse(t, out)
	assert.Equal(t, "```\ninner\n```", back.Root.Children[0].Text)
}

func TestGenerate_EmphasisKeepsSpacesOutside(t *testing.T) {
	doc := doctree.New()
	doc.Root.Append(para(txt("a"),
		&doctree.Node{Kind: doctree.KindBold, Children: []*doctree.Node{txt(" b ")}},
		txt("c"),
		&doctree.Node{Kind: doctree.KindItalic, Children: []*doctree.Node{txt("  ")}},
	))
	out, err := Generate(doc)
	require.NoError(t, err)
	assert.Equal(t, "a **b** c\n", out)
}

func TestGenerate_AdjacentListsStaySeparate(t *testing.T) {
	item := func(s string) *doctree.Node {
		return &doctree.Node{Kind: doctree.KindListItem, Children: []*doctree.Node{para(txt(s))}}
	}
	doc := doctree.New()
	doc.Root.Append(
		&doctree.Node{Kind: doctree.KindList, Children: []*doctree.Node{item("a")}},
		&doctree.Node{Kind: doctree.KindList, Children: []*doctree.Node{item("b")}},
		&doctree.Node{Kind: doctree.KindList, Ordered: true, Children: []*doctree.Node{item("c")}},
		&doctree.Node{Kind: doctree.KindList, Ordered: true, Children: []*doctree.Node{item("d")}},
	)
	out, err := Generate(doc)
	require.NoError(t, err)
	assert.Equal(t, "- a\n\n* b\n\n1. c\n\n1) d\n", out)
	assert.Len(t, parse(t, out).Root.Children, 4)
}

func TestGenerate_LooseList(t *testing.T) {
	doc := doctree.New()
	doc.Root.Append(&doctree.Node{Kind: doctree.KindList, Children: []*doctree.Node{
		{Kind: doctree.KindListItem, Children: []*doctree.Node{para(txt("p1")), para(txt("p2"))}},
		{Kind: doctree.KindListItem},
	}})
	out, err := Generate(doc)
	require.NoError(t, err)
	assert.Equal(t, "- p1\n\n  p2\n\n-\n", out)

	back := parse(t, out)
	require.Len(t, back.Root.Children, 1)
	assert.Len(t, back.Root.Children[0].Children[0].Children, 2)
}

func TestGenerate_DepthLimit(t *testing.T) {
	doc := doctree.New()
	cur := doc.Root
	for range 60 {
		q := &doctree.Node{Kind: doctree.KindBlockQuote}
		cur.Append(q)
		cur = q
	}
	cur.Append(para(txt("x")))
	_, err := Generate(doc)
	assert.True(t, errors.Is(err, failure.ErrNestingTooDeep))
}

func TestGenerate_EmptyDocument(t *testing.T) {
	doc := doctree.New()
	doc.Root.Append(para(txt("   ")))
	out, err := Generate(doc)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestParse_LiteralDelimitersStayLinear(t *testing.T) {
	for _, unit := range []string{"*a ", "["} {
		src := strings.Repeat(unit, 100_000)
		start := time.Now()
		doc := parse(t, src)
		assert.Less(t, time.Since(start), 5*time.Second, unit)
		require.Len(t, doc.Root.Children, 1, unit)
		assert.Equal(t, strings.TrimSpace(src), doc.Root.Children[0].PlainText(), unit)
	}
}
