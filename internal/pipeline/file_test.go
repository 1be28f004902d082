package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/dgallion1/rtfbridge/internal/convert"
	"github.com/dgallion1/rtfbridge/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertFile(t *testing.T) {
	o := newOrchestrator(t, Options{})
	ctx := context.Background()

	res, err := o.ConvertFile(ctx, "dir/letter.rtf", []byte(sampleRTF), convert.FormatMarkdown, FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, "letter", res.Title)
	assert.Equal(t, "Hello **World**\n", res.Output.Text)

	res, err = o.ConvertFile(ctx, "notes.txt", []byte("first line\n\nsecond"), convert.FormatRTF, FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, "notes", res.Title)
	assert.Contains(t, res.Output.Text, "first line")
	assert.Contains(t, res.Output.Text, `{\rtf1`)

	_, err = o.ConvertFile(ctx, "readme.md", []byte("# x"), convert.FormatMarkdown, FileOptions{})
	assert.True(t, errors.Is(err, ErrSameFormat))

	_, err = o.ConvertFile(ctx, "tool.exe", []byte("MZ"), convert.FormatMarkdown, FileOptions{})
	require.Error(t, err)
	assert.Equal(t, failure.CodeUnsupportedFormat, failure.CodeOf(err))
}

func TestNativeFormat(t *testing.T) {
	f, ok := NativeFormat(".MD")
	assert.True(t, ok)
	assert.Equal(t, convert.FormatMarkdown, f)
	_, ok = NativeFormat(".docx")
	assert.False(t, ok)
}
