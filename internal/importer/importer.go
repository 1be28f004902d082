// Package importer turns foreign document formats into a document tree that
// the generators can write out as RTF or Markdown. Every importer charges
// the same parser budget as the core parsers.
package importer

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/dgallion1/rtfbridge/internal/failure"
	"golang.org/x/text/encoding/charmap"
)

// Importer converts raw document bytes into a Document.
type Importer interface {
	Import(data []byte, ctx *doctree.ParserContext) (*doctree.Document, error)
}

// SupportedExtensions lists file extensions this package can handle.
var SupportedExtensions = map[string]bool{
	".txt":  true,
	".csv":  true,
	".html": true,
	".htm":  true,
	".pdf":  true,
	".docx": true,
}

// ForFile returns the appropriate importer for a filename.
func ForFile(filename string) (Importer, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextImporter{}, nil
	case ".csv":
		return &CSVImporter{}, nil
	case ".html", ".htm":
		return &HTMLImporter{}, nil
	case ".pdf":
		return &PDFImporter{}, nil
	case ".docx":
		return &DOCXImporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %q", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Import reads r under limits and dispatches on the filename's extension.
// The document title defaults to the file name without its extension.
func Import(r io.Reader, filename string, limits doctree.Limits) (*doctree.Document, error) {
	imp, err := ForFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", failure.New(failure.InvalidInput, failure.CodeUnsupportedFormat), err)
	}
	return ImportWith(imp, r, filename, limits)
}

// ImportWith is Import with a caller-configured importer. Decoding failures
// that are not already typed become InvalidInput.
func ImportWith(imp Importer, r io.Reader, filename string, limits doctree.Limits) (*doctree.Document, error) {
	ctx := doctree.NewParserContext(limits)
	data, err := io.ReadAll(io.LimitReader(r, ctx.Limits().MaxInputBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	if err := ctx.CheckInput(len(data)); err != nil {
		return nil, err
	}
	doc, err := imp.Import(data, ctx)
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", failure.New(failure.InvalidInput, failure.CodeMalformedImport), err)
	}
	if doc.Title == "" {
		base := filepath.Base(filename)
		doc.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return doc, nil
}

// builder appends nodes while charging the parser budget.
type builder struct {
	ctx *doctree.ParserContext
	doc *doctree.Document
}

func newBuilder(ctx *doctree.ParserContext) *builder {
	return &builder{ctx: ctx, doc: doctree.New()}
}

func (b *builder) add(parent *doctree.Node, kind doctree.Kind) (*doctree.Node, error) {
	if err := b.ctx.AddNode(); err != nil {
		return nil, err
	}
	n := &doctree.Node{Kind: kind}
	parent.Append(n)
	return n, nil
}

func (b *builder) text(parent *doctree.Node, s string) error {
	if s == "" {
		return nil
	}
	if err := b.ctx.AddText(len(s)); err != nil {
		return err
	}
	before := len(parent.Children)
	parent.AppendText(s)
	if len(parent.Children) > before {
		return b.ctx.AddNode()
	}
	return nil
}

// lines appends s with every newline turned into a hard line break.
func (b *builder) lines(parent *doctree.Node, s string) error {
	for i, line := range strings.Split(s, "\n") {
		if i > 0 {
			if _, err := b.add(parent, doctree.KindLineBreak); err != nil {
				return err
			}
		}
		if err := b.text(parent, line); err != nil {
			return err
		}
	}
	return nil
}

// block adds a paragraph or heading holding s. Blank text adds nothing.
func (b *builder) block(parent *doctree.Node, kind doctree.Kind, level int, s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := b.add(parent, kind)
	if err != nil {
		return err
	}
	n.Level = level
	return b.lines(n, s)
}

// decodeText returns data as UTF-8, reading it as Windows-1252 when it is
// not valid UTF-8 already.
func decodeText(data []byte) (string, error) {
	data = trimBOM(data)
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode windows-1252: %w", err)
	}
	return string(out), nil
}

func trimBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
