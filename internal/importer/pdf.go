package importer

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/dgallion1/rtfbridge/internal/doctree"
	pdflib "github.com/ledongthuc/pdf"
)

// PDFImporter handles PDF files. Text is extracted per page with the Go
// library, falling back to pdftotext when enabled. Pages become paragraphs
// separated by blank lines in the extracted text.
type PDFImporter struct {
	FallbackPdftotext bool
}

func (p *PDFImporter) Import(data []byte, ctx *doctree.ParserContext) (*doctree.Document, error) {
	pages, err := extractPDFPages(data)
	if err != nil && p.FallbackPdftotext {
		pages, err = extractPdftotext(data)
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	b := newBuilder(ctx)
	for _, page := range pages {
		for _, para := range splitParagraphs(page) {
			if err := b.block(b.doc.Root, doctree.KindParagraph, 0, para); err != nil {
				return nil, err
			}
		}
	}
	return b.doc, nil
}

func extractPDFPages(data []byte) (pages []string, err error) {
	// The library panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("malformed pdf")
		}
	}()
	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func extractPdftotext(data []byte) ([]string, error) {
	tmp, err := os.CreateTemp("", "rtfbridge-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	out, err := exec.Command("pdftotext", "-layout", tmp.Name(), "-").Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	return strings.Split(string(out), "\f"), nil
}

// splitParagraphs breaks page text on blank lines and joins the remaining
// line wraps with spaces.
func splitParagraphs(page string) []string {
	var out []string
	for _, chunk := range strings.Split(strings.ReplaceAll(page, "\r\n", "\n"), "\n\n") {
		lines := strings.Fields(chunk)
		if len(lines) > 0 {
			out = append(out, strings.Join(lines, " "))
		}
	}
	return out
}
