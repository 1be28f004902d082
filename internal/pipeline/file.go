package pipeline

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/dgallion1/rtfbridge/internal/convert"
	"github.com/dgallion1/rtfbridge/internal/importer"
)

// ErrSameFormat is returned by ConvertFile when the file is already in the
// requested target format.
var ErrSameFormat = errors.New("file is already in the target format")

// FileOptions tune ConvertFile.
type FileOptions struct {
	PDFFallbackPdftotext bool
}

// FileResult is a converted file.
type FileResult struct {
	Title  string
	Output convert.Output
}

// NativeFormat reports whether ext names a format the core parses directly.
func NativeFormat(ext string) (convert.Format, bool) {
	switch strings.ToLower(ext) {
	case ".rtf":
		return convert.FormatRTF, true
	case ".md", ".markdown":
		return convert.FormatMarkdown, true
	}
	return 0, false
}

// ConvertFile converts a whole file to target. RTF and Markdown go through
// Convert, so they share the cache and retry; other formats are imported
// and rendered.
func (o *Orchestrator) ConvertFile(ctx context.Context, filename string, data []byte, target convert.Format, opts FileOptions) (FileResult, error) {
	ext := filepath.Ext(filename)
	res := FileResult{Title: strings.TrimSuffix(filepath.Base(filename), ext)}

	if source, native := NativeFormat(ext); native {
		if source == target {
			return res, ErrSameFormat
		}
		dir := convert.RTFToMarkdown
		if source == convert.FormatMarkdown {
			dir = convert.MarkdownToRTF
		}
		out, err := o.Convert(ctx, dir, string(data))
		res.Output = out
		return res, err
	}

	imp, err := importer.ForFile(filename)
	if err != nil {
		// Import types the unsupported-format failure.
		_, err = importer.Import(bytes.NewReader(data), filename, o.conv.Options().Limits)
		return res, err
	}
	if p, ok := imp.(*importer.PDFImporter); ok {
		p.FallbackPdftotext = opts.PDFFallbackPdftotext
	}
	doc, err := importer.ImportWith(imp, bytes.NewReader(data), filename, o.conv.Options().Limits)
	if err != nil {
		return res, err
	}
	res.Title = doc.Title
	res.Output, err = o.Render(doc, target)
	return res, err
}
