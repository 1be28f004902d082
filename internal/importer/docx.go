package importer

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/fumiama/go-docx"
)

// DOCXImporter handles .docx files: heading styles, numbered or bulleted
// paragraphs, run emphasis, hyperlinks and tables.
type DOCXImporter struct{}

func (p *DOCXImporter) Import(data []byte, ctx *doctree.ParserContext) (*doctree.Document, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	links := map[string]string{}
	_ = doc.RangeRelationships(func(r *docx.Relationship) error {
		if r.Type == docx.REL_HYPERLINK {
			links[r.ID] = r.Target
		}
		return nil
	})

	w := &docxWalker{b: newBuilder(ctx), links: links}
	for _, item := range doc.Document.Body.Items {
		var err error
		switch it := item.(type) {
		case *docx.Paragraph:
			err = w.paragraph(it)
		case *docx.Table:
			w.list = nil
			err = w.table(it, w.b.doc.Root)
		}
		if err != nil {
			return nil, err
		}
	}
	return w.b.doc, nil
}

type docxWalker struct {
	b     *builder
	links map[string]string
	list  *doctree.Node // open list for consecutive numbered paragraphs
}

func (w *docxWalker) paragraph(para *docx.Paragraph) error {
	if level := docxHeadingLevel(para); level > 0 {
		w.list = nil
		return w.block(w.b.doc.Root, para, doctree.KindHeading, level)
	}
	if !docxNumbered(para) {
		w.list = nil
		return w.block(w.b.doc.Root, para, doctree.KindParagraph, 0)
	}
	if w.list == nil {
		l, err := w.b.add(w.b.doc.Root, doctree.KindList)
		if err != nil {
			return err
		}
		l.Ordered = docxOrdered(para)
		w.list = l
	}
	item, err := w.b.add(w.list, doctree.KindListItem)
	if err != nil {
		return err
	}
	return w.block(item, para, doctree.KindParagraph, 0)
}

// block adds one paragraph or heading; empty paragraphs add nothing.
func (w *docxWalker) block(dst *doctree.Node, para *docx.Paragraph, kind doctree.Kind, level int) error {
	if docxParagraphText(para) == "" {
		return nil
	}
	n, err := w.b.add(dst, kind)
	if err != nil {
		return err
	}
	n.Level = level
	for _, child := range para.Children {
		switch c := child.(type) {
		case *docx.Run:
			err = w.run(n, c)
		case *docx.Hyperlink:
			err = w.link(n, c)
		}
		if err != nil {
			return err
		}
	}
	trimEdges(n)
	return nil
}

func (w *docxWalker) run(dst *doctree.Node, run *docx.Run) error {
	target := dst
	if props := run.RunProperties; props != nil {
		for _, k := range []struct {
			on   bool
			kind doctree.Kind
		}{
			{props.Bold != nil, doctree.KindBold},
			{props.Italic != nil, doctree.KindItalic},
			{props.Underline != nil && props.Underline.Val != "none", doctree.KindUnderline},
		} {
			if !k.on {
				continue
			}
			n, err := w.b.add(target, k.kind)
			if err != nil {
				return err
			}
			target = n
		}
	}
	for _, rc := range run.Children {
		var err error
		switch c := rc.(type) {
		case *docx.Text:
			err = w.b.text(target, c.Text)
		case *docx.Tab:
			err = w.b.text(target, "\t")
		case *docx.BarterRabbet:
			_, err = w.b.add(target, doctree.KindLineBreak)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// link writes a hyperlink run. Links built by go-docx carry their label
// in the run's instruction text instead of a text child.
func (w *docxWalker) link(dst *doctree.Node, h *docx.Hyperlink) error {
	run := h.Run
	if len(run.Children) == 0 && run.InstrText != "" {
		run.Children = []interface{}{&docx.Text{Text: run.InstrText}}
	}
	url := w.links[h.ID]
	if url == "" {
		return w.run(dst, &run)
	}
	l, err := w.b.add(dst, doctree.KindLink)
	if err != nil {
		return err
	}
	l.URL = url
	return w.run(l, &run)
}

func (w *docxWalker) table(t *docx.Table, dst *doctree.Node) error {
	cols := 0
	for _, r := range t.TableRows {
		cols = max(cols, len(r.TableCells))
	}
	if len(t.TableRows) == 0 {
		return nil
	}
	if err := w.b.ctx.CheckTable(len(t.TableRows), cols); err != nil {
		return err
	}
	table, err := w.b.add(dst, doctree.KindTable)
	if err != nil {
		return err
	}
	for _, r := range t.TableRows {
		row, err := w.b.add(table, doctree.KindTableRow)
		if err != nil {
			return err
		}
		for _, c := range r.TableCells {
			cell, err := w.b.add(row, doctree.KindTableCell)
			if err != nil {
				return err
			}
			for i, para := range c.Paragraphs {
				if i > 0 && len(cell.Children) > 0 {
					if _, err := w.b.add(cell, doctree.KindLineBreak); err != nil {
						return err
					}
				}
				for _, child := range para.Children {
					switch x := child.(type) {
					case *docx.Run:
						err = w.run(cell, x)
					case *docx.Hyperlink:
						err = w.link(cell, x)
					}
					if err != nil {
						return err
					}
				}
			}
			trimEdges(cell)
		}
	}
	return nil
}

func docxHeadingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	if style == "title" {
		return 1
	}
	rest, ok := strings.CutPrefix(style, "heading")
	if !ok {
		return 0
	}
	level, err := strconv.Atoi(rest)
	if err != nil || level < 1 || level > 6 {
		return 0
	}
	return level
}

func docxNumbered(para *docx.Paragraph) bool {
	if para.Properties == nil {
		return false
	}
	if para.Properties.NumProperties != nil {
		return true
	}
	if para.Properties.Style != nil {
		return strings.HasPrefix(strings.ToLower(para.Properties.Style.Val), "list")
	}
	return false
}

// docxOrdered guesses the list type from the paragraph style; numbering
// definitions are not read.
func docxOrdered(para *docx.Paragraph) bool {
	if para.Properties == nil || para.Properties.Style == nil {
		return false
	}
	return strings.Contains(strings.ToLower(para.Properties.Style.Val), "number")
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	collect := func(run *docx.Run) {
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	for _, child := range para.Children {
		switch c := child.(type) {
		case *docx.Run:
			collect(c)
		case *docx.Hyperlink:
			collect(&c.Run)
			if len(c.Run.Children) == 0 {
				buf.WriteString(c.Run.InstrText)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}
