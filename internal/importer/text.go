package importer

import (
	"strings"

	"github.com/dgallion1/rtfbridge/internal/doctree"
)

// TextImporter handles plain text files. Blank lines separate paragraphs;
// single newlines become hard line breaks.
type TextImporter struct{}

func (p *TextImporter) Import(data []byte, ctx *doctree.ParserContext) (*doctree.Document, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	b := newBuilder(ctx)
	var current []string
	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		err := b.block(b.doc.Root, doctree.KindParagraph, 0, strings.Join(current, "\n"))
		current = current[:0]
		return err
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		current = append(current, strings.TrimRight(line, " \t"))
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return b.doc, nil
}
