package importer

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/dgallion1/rtfbridge/internal/doctree"
)

// CSVImporter handles CSV files. The whole file becomes one table whose
// first row is the header; short rows are left for recovery to pad.
type CSVImporter struct{}

func (p *CSVImporter) Import(data []byte, ctx *doctree.ParserContext) (*doctree.Document, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(strings.NewReader(text))
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	b := newBuilder(ctx)
	if len(records) == 0 {
		return b.doc, nil
	}
	cols := 0
	for _, rec := range records {
		cols = max(cols, len(rec))
	}
	if err := ctx.CheckTable(len(records), cols); err != nil {
		return nil, err
	}

	table, err := b.add(b.doc.Root, doctree.KindTable)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		row, err := b.add(table, doctree.KindTableRow)
		if err != nil {
			return nil, err
		}
		for _, field := range rec {
			cell, err := b.add(row, doctree.KindTableCell)
			if err != nil {
				return nil, err
			}
			if err := b.lines(cell, strings.TrimSpace(field)); err != nil {
				return nil, err
			}
		}
	}
	return b.doc, nil
}
