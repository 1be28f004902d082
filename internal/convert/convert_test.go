package convert

import (
	"errors"
	"strings"
	"testing"

	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/dgallion1/rtfbridge/internal/failure"
	"github.com/dgallion1/rtfbridge/internal/pool"
	"github.com/dgallion1/rtfbridge/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func converter() *Converter {
	return New(DefaultOptions(), pool.NewManager(pool.DefaultSizes()))
}

func TestConvert_RTFSample(t *testing.T) {
	out, err := converter().Convert(RTFToMarkdown, `{\rtf1\ansi\deff0 {\fonttbl{\f0 Arial;}} \f0\fs24 Hello \b World\b0}`)
	require.NoError(t, err)
	assert.Contains(t, out.Text, "Hello **World**")
}

func TestConvert_MarkdownSample(t *testing.T) {
	out, err := converter().Convert(MarkdownToRTF, "# Title\n\nSome **bold** and *italic* text.")
	require.NoError(t, err)
	assert.Contains(t, out.Text, `\b bold\b0`)
	assert.Contains(t, out.Text, `\i italic\i0`)
	assert.Contains(t, out.Text, `\outlinelevel0`)
}

func TestConvert_BothWaysAreStable(t *testing.T) {
	c := converter()
	md := "# Title\n\nSome **bold** and *italic* text with `code` and [a link](https://example.com).\n\n- one\n- two\n  1. nested\n\n> quoted\n\n```go\nfmt.Println(1)\n```\n\n| a | b |\n| --- | --- |\n| 1 | 2 |\n"
	rtfOut, err := c.Convert(MarkdownToRTF, md)
	require.NoError(t, err)
	back, err := c.Convert(RTFToMarkdown, rtfOut.Text)
	require.NoError(t, err)
	assert.Equal(t, md, back.Text)
}

func TestConvert_ForbiddenContent(t *testing.T) {
	for _, word := range []string{"object", "objdata", "pict", "field"} {
		_, err := converter().Convert(RTFToMarkdown, `{\rtf1 hi {\`+word+` x}}`)
		require.Error(t, err, word)
		assert.Equal(t, failure.ForbiddenContent, failure.KindOf(err), word)
	}
}

func TestConvert_UnsafeLinks(t *testing.T) {
	src := "[click](javascript:alert(1))"

	opts := DefaultOptions()
	opts.Recover = false
	_, err := New(opts, nil).Convert(MarkdownToRTF, src)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrInvalidInput))
	var fe *failure.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, []string{"unsafe_link_scheme"}, fe.Issues)

	out, err := converter().Convert(MarkdownToRTF, src)
	require.NoError(t, err)
	assert.Contains(t, out.Text, "click")
	assert.NotContains(t, out.Text, "javascript")
	assert.Equal(t, 1, out.Report.Repairs)
}

func TestConvert_ImagesBecomeAltText(t *testing.T) {
	out, err := converter().Convert(MarkdownToRTF, "see ![a chart](chart.png)")
	require.NoError(t, err)
	assert.Contains(t, out.Text, "a chart")
	assert.NotContains(t, out.Text, "chart.png")
	require.NotEmpty(t, out.Report.Issues)
	assert.Equal(t, validate.UnsupportedMedia, out.Report.Issues[0].Kind)
}

func TestConvert_StrictEmptyDocument(t *testing.T) {
	opts := DefaultOptions()
	opts.Mode = validate.Strict
	_, err := New(opts, nil).Convert(RTFToMarkdown, `{\rtf1 }`)
	assert.True(t, errors.Is(err, failure.ErrInvalidInput))

	out, err := converter().Convert(RTFToMarkdown, `{\rtf1 }`)
	require.NoError(t, err)
	assert.Equal(t, "", out.Text)
}

func TestConvert_LimitsApply(t *testing.T) {
	opts := DefaultOptions()
	opts.Limits.MaxInputBytes = 16
	_, err := New(opts, nil).Convert(MarkdownToRTF, strings.Repeat("a", 17))
	assert.True(t, errors.Is(err, failure.ErrResourceLimit))

	_, err = converter().Convert(MarkdownToRTF, strings.Repeat("> ", 80)+"x")
	assert.True(t, errors.Is(err, failure.ErrNestingTooDeep))
}

func TestRender_ImportedDocument(t *testing.T) {
	doc := doctree.New()
	doc.Root.Append(doctree.NewText("loose text"))
	out, err := converter().Render(doc, FormatMarkdown)
	require.NoError(t, err)
	assert.Equal(t, "loose text\n", out.Text)
}

func TestParseDirectionAndFormat(t *testing.T) {
	d, err := ParseDirection("Markdown-to-RTF")
	require.NoError(t, err)
	assert.Equal(t, MarkdownToRTF, d)
	assert.Equal(t, FormatMarkdown, d.Source())
	_, err = ParseDirection("pdf2rtf")
	assert.Error(t, err)

	f, err := ParseFormat("md")
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, f)
}

func TestSanitize_HidesInternals(t *testing.T) {
	err := failure.At(failure.InvalidInput, failure.CodeInvalidParameter, 1234)
	pe := SanitizeWithID(err, "abc")
	assert.Equal(t, "invalid_input", pe.Kind)
	assert.Equal(t, "abc", pe.CorrelationID)
	assert.NotContains(t, pe.Message, "1234")
	assert.NotContains(t, pe.Message, "parameter")
	assert.Empty(t, pe.Issues)

	pe = Sanitize(errors.New("open /etc/secret: permission denied"))
	assert.Equal(t, "internal", pe.Kind)
	assert.NotContains(t, pe.Error(), "/etc")
	assert.Len(t, pe.CorrelationID, 36)

	pe = Sanitize(unresolved([]validate.Kind{validate.RaggedTable}))
	assert.Equal(t, []string{"ragged_table"}, pe.Issues)
}

func TestOptionsFingerprint(t *testing.T) {
	a := DefaultOptions()
	b := DefaultOptions()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	b.Mode = validate.Strict
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	c := DefaultOptions()
	c.Policy = c.Policy.With(nil, []string{"tab"})
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
