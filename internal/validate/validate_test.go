package validate

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/dgallion1/rtfbridge/internal/doctree"
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

func find(issues []Issue, k Kind) *Issue {
	for i := range issues {
		if issues[i].Kind == k {
			return &issues[i]
		}
	}
	return nil
}

func TestValidate_CleanDocument(t *testing.T) {
	d := docOf(
		&doctree.Node{Kind: doctree.KindHeading, Level: 1, Children: []*doctree.Node{text("Title")}},
		para(text("hello "), &doctree.Node{Kind: doctree.KindLink, URL: "https://example.com", Children: []*doctree.Node{text("x")}}),
	)
	if issues := Validate(d, Strict); len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestValidate_EmptyDocument(t *testing.T) {
	issues := Validate(docOf(para(text("  "))), Lenient)
	is := find(issues, EmptyDocument)
	if is == nil {
		t.Fatal("expected empty_document")
	}
	if is.Severity != Warning || is.Path != nil {
		t.Errorf("unexpected issue %+v", is)
	}
	if Validate(nil, Lenient)[0].Kind != EmptyDocument {
		t.Error("nil document should be empty")
	}
}

func TestValidate_StrictPromotesWarnings(t *testing.T) {
	d := docOf(&doctree.Node{Kind: doctree.KindHeading, Level: 9, Children: []*doctree.Node{text("h")}})
	if is := find(Validate(d, Lenient), HeadingLevel); is == nil || is.Severity != Warning {
		t.Fatalf("lenient: got %+v", is)
	}
	if is := find(Validate(d, Strict), HeadingLevel); is == nil || is.Severity != Error {
		t.Fatalf("strict: got %+v", is)
	}
	// info stays info
	d = docOf(para(text("a\x01b")))
	if is := find(Validate(d, Strict), ControlCharacters); is == nil || is.Severity != Info {
		t.Fatalf("control: got %+v", is)
	}
}

func TestValidate_Links(t *testing.T) {
	d := docOf(para(
		&doctree.Node{Kind: doctree.KindLink, URL: " ", Children: []*doctree.Node{text("a")}},
		&doctree.Node{Kind: doctree.KindLink, URL: "JavaScript:alert(1)", Children: []*doctree.Node{text("b")}},
		&doctree.Node{Kind: doctree.KindLink, URL: "java\tscript:x", Children: []*doctree.Node{text("c")}},
	))
	issues := Validate(d, Lenient)
	if is := find(issues, EmptyLinkTarget); is == nil || !slices.Equal(is.Path, []int{0, 0}) {
		t.Errorf("empty link: got %+v", is)
	}
	var unsafe [][]int
	for _, is := range issues {
		if is.Kind == UnsafeLinkScheme {
			unsafe = append(unsafe, is.Path)
			if is.Severity != Error || !is.Fixable {
				t.Errorf("unsafe link: got %+v", is)
			}
		}
	}
	if len(unsafe) != 2 {
		t.Errorf("expected two unsafe links, got %v", unsafe)
	}
}

func TestValidate_ImagesAreUnsupported(t *testing.T) {
	d := docOf(para(text("see "), &doctree.Node{Kind: doctree.KindImage, URL: "a.png", Children: []*doctree.Node{text("alt")}}))
	is := find(Validate(d, Lenient), UnsupportedMedia)
	if is == nil || !slices.Equal(is.Path, []int{0, 1}) {
		t.Fatalf("got %+v", is)
	}
}

func TestValidate_Structure(t *testing.T) {
	d := docOf(
		text("orphan"),
		&doctree.Node{Kind: doctree.KindList, Children: []*doctree.Node{para(text("not an item"))}},
		&doctree.Node{Kind: doctree.KindListItem, Children: []*doctree.Node{para(text("loose item"))}},
		para(&doctree.Node{Kind: doctree.KindBold, Children: []*doctree.Node{para(text("block in span"))}}),
		&doctree.Node{Kind: doctree.KindBlockQuote},
	)
	issues := Validate(d, Lenient)
	want := map[Kind][]int{
		OrphanInline:    {0},
		ListItemMissing: {1, 0},
		MisplacedBlock:  {2},
		EmptyBlock:      {4},
	}
	for k, path := range want {
		is := find(issues, k)
		if is == nil || !slices.Equal(is.Path, path) {
			t.Errorf("%s: got %+v", k, is)
		}
	}
	var misplaced int
	for _, is := range issues {
		if is.Kind == MisplacedBlock {
			misplaced++
		}
	}
	if misplaced != 2 {
		t.Errorf("expected 2 misplaced blocks, got %d", misplaced)
	}
}

func TestValidate_Tables(t *testing.T) {
	row := func(n int) *doctree.Node {
		r := &doctree.Node{Kind: doctree.KindTableRow}
		for range n {
			r.Append(&doctree.Node{Kind: doctree.KindTableCell, Children: []*doctree.Node{text("c")}})
		}
		return r
	}
	d := docOf(&doctree.Node{Kind: doctree.KindTable, Children: []*doctree.Node{row(2), row(3)}})
	if find(Validate(d, Lenient), RaggedTable) == nil {
		t.Error("expected ragged_table")
	}
	v := Validator{Limits: doctree.Limits{MaxTableCols: 2}}
	if is := find(v.Validate(d), TableTooLarge); is == nil || is.Severity != Error {
		t.Errorf("expected table_too_large, got %+v", is)
	}
	if find(Validate(d, Lenient), EmptyBlock) != nil {
		t.Error("a populated table is not empty")
	}

	empty := docOf(para(text("x")), &doctree.Node{Kind: doctree.KindTable})
	if find(Validate(empty, Lenient), EmptyBlock) == nil {
		t.Error("expected empty_block for a table without rows")
	}
}

func TestValidate_Limits(t *testing.T) {
	d := doctree.New()
	cur := d.Root
	for range 10 {
		q := &doctree.Node{Kind: doctree.KindBlockQuote}
		cur.Append(q)
		cur = q
	}
	cur.Append(para(text("deep text")))

	v := Validator{Limits: doctree.Limits{MaxDepth: 5, MaxNodes: 8, MaxTextBytes: 4}}
	issues := v.Validate(d)
	depth := find(issues, DepthExceeded)
	if depth == nil || len(depth.Path) != 6 {
		t.Fatalf("expected depth_exceeded at depth 6, got %+v", depth)
	}
	if find(issues, NodeLimitExceeded) == nil {
		t.Error("expected node_limit_exceeded")
	}
	if is := find(issues, TextLimitExceeded); is == nil || is.Fixable {
		t.Errorf("expected unfixable text_limit_exceeded, got %+v", is)
	}
}

func TestValidate_UnterminatedSpan(t *testing.T) {
	p := para(text("open"))
	p.Open = true
	is := find(Validate(docOf(p), Lenient), UnterminatedSpan)
	if is == nil || !is.Fixable || !slices.Equal(is.Path, []int{0}) {
		t.Fatalf("got %+v", is)
	}
}

func TestKinds_Distinct(t *testing.T) {
	issues := []Issue{{Kind: EmptyBlock}, {Kind: RaggedTable}, {Kind: EmptyBlock}}
	if got := Kinds(issues); !slices.Equal(got, []Kind{EmptyBlock, RaggedTable}) {
		t.Errorf("got %v", got)
	}
	if len(Errors(issues)) != 0 {
		t.Error("no errors expected")
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode(" STRICT ") != Strict || ParseMode("lenient") != Lenient || ParseMode("") != Lenient {
		t.Error("unexpected mode mapping")
	}
}

func TestIssueJSONUsesNames(t *testing.T) {
	in := Issue{Severity: Error, Fixable: true, Kind: UnsafeLinkScheme, Path: []int{0, 1}}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"severity":"error","fixable":true,"kind":"unsafe_link_scheme","path":[0,1]}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
	var out Issue
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out.Kind != UnsafeLinkScheme || out.Severity != Error {
		t.Fatalf("round trip lost fields: %+v", out)
	}
	if err := json.Unmarshal([]byte(`{"kind":"nope"}`), &out); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
