// Package validate inspects a document tree and reports classified issues.
// It never mutates the tree.
package validate

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/dgallion1/rtfbridge/internal/doctree"
)

// Severity orders issues by how much they matter.
type Severity uint8

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "info"
	}
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "info":
		*s = Info
	case "warning":
		*s = Warning
	case "error":
		*s = Error
	default:
		return fmt.Errorf("unknown severity %q", b)
	}
	return nil
}

// Mode selects how strictly warnings are treated.
type Mode uint8

const (
	Lenient Mode = iota
	Strict
)

// ParseMode maps a config value to a Mode. Anything but "strict" is lenient.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "strict") {
		return Strict
	}
	return Lenient
}

func (m Mode) String() string {
	if m == Strict {
		return "strict"
	}
	return "lenient"
}

// Kind classifies an issue. Issues carry no message text.
type Kind uint8

const (
	EmptyDocument Kind = iota
	EmptyBlock
	UnterminatedSpan
	HeadingLevel
	UnsupportedMedia
	EmptyLinkTarget
	UnsafeLinkScheme
	MisplacedBlock
	OrphanInline
	ListItemMissing
	RaggedTable
	TableTooLarge
	DepthExceeded
	NodeLimitExceeded
	TextLimitExceeded
	ControlCharacters
)

var kindNames = [...]string{
	EmptyDocument:     "empty_document",
	EmptyBlock:        "empty_block",
	UnterminatedSpan:  "unterminated_span",
	HeadingLevel:      "heading_level",
	UnsupportedMedia:  "unsupported_media",
	EmptyLinkTarget:   "empty_link_target",
	UnsafeLinkScheme:  "unsafe_link_scheme",
	MisplacedBlock:    "misplaced_block",
	OrphanInline:      "orphan_inline",
	ListItemMissing:   "list_item_missing",
	RaggedTable:       "ragged_table",
	TableTooLarge:     "table_too_large",
	DepthExceeded:     "depth_exceeded",
	NodeLimitExceeded: "node_limit_exceeded",
	TextLimitExceeded: "text_limit_exceeded",
	ControlCharacters: "control_characters",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown issue kind %q", b)
}

// Issue is one finding. Path is the child-index path from the root to the
// offending node; nil means the whole document.
type Issue struct {
	Severity Severity `json:"severity"`
	Fixable  bool     `json:"fixable"`
	Kind     Kind     `json:"kind"`
	Path     []int    `json:"path,omitempty"`
}

// Kinds returns the distinct kinds in issues, in first-seen order.
func Kinds(issues []Issue) []Kind {
	var out []Kind
	for _, is := range issues {
		if !slices.Contains(out, is.Kind) {
			out = append(out, is.Kind)
		}
	}
	return out
}

// Errors returns the issues with Error severity.
func Errors(issues []Issue) []Issue {
	var out []Issue
	for _, is := range issues {
		if is.Severity == Error {
			out = append(out, is)
		}
	}
	return out
}

// rule is the base severity and fixability of each kind.
var rules = map[Kind]struct {
	sev     Severity
	fixable bool
}{
	EmptyDocument:     {Warning, false},
	EmptyBlock:        {Info, true},
	UnterminatedSpan:  {Warning, true},
	HeadingLevel:      {Warning, true},
	UnsupportedMedia:  {Warning, true},
	EmptyLinkTarget:   {Warning, true},
	UnsafeLinkScheme:  {Error, true},
	MisplacedBlock:    {Warning, true},
	OrphanInline:      {Info, true},
	ListItemMissing:   {Warning, true},
	RaggedTable:       {Info, true},
	TableTooLarge:     {Error, true},
	DepthExceeded:     {Error, true},
	NodeLimitExceeded: {Error, true},
	TextLimitExceeded: {Error, false},
	ControlCharacters: {Info, true},
}

// SeverityOf returns the base severity of k under mode.
func SeverityOf(k Kind, mode Mode) Severity {
	s := rules[k].sev
	if mode == Strict && s == Warning {
		return Error
	}
	return s
}

var unsafeScheme = regexp.MustCompile(`(?i)^\s*(javascript|vbscript|data|file)\s*:`)

// UnsafeURL reports whether u uses a scheme that may execute or read local data.
func UnsafeURL(u string) bool {
	return unsafeScheme.MatchString(strings.Map(func(r rune) rune {
		if r < 0x20 {
			return -1
		}
		return r
	}, u))
}

// HasControl reports whether s holds control characters other than tab and newline.
func HasControl(s string) bool {
	for _, r := range s {
		if (r < 0x20 && r != '\t' && r != '\n') || r == 0x7f {
			return true
		}
	}
	return false
}

// Validator checks documents against a set of limits.
type Validator struct {
	Mode   Mode
	Limits doctree.Limits
}

// Validate checks doc with the default limits.
func Validate(doc *doctree.Document, mode Mode) []Issue {
	return Validator{Mode: mode, Limits: doctree.DefaultLimits()}.Validate(doc)
}

// Validate walks doc once with an explicit stack and returns every issue in
// document order.
func (v Validator) Validate(doc *doctree.Document) []Issue {
	limits := v.Limits.Normalize()
	var issues []Issue
	add := func(k Kind, path []int) {
		r := rules[k]
		issues = append(issues, Issue{
			Severity: SeverityOf(k, v.Mode),
			Fixable:  r.fixable,
			Kind:     k,
			Path:     slices.Clone(path),
		})
	}
	if doc == nil || doc.Root == nil {
		add(EmptyDocument, nil)
		return issues
	}

	type frame struct {
		node   *doctree.Node
		parent *doctree.Node
		path   []int
		depth  int
	}
	content := false
	stack := []frame{{node: doc.Root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := f.node

		if f.depth > limits.MaxDepth {
			add(DepthExceeded, f.path)
			continue
		}
		if hasText(n) {
			content = true
		}
		v.check(n, f.parent, f.path, limits, add)

		for i := len(n.Children) - 1; i >= 0; i-- {
			p := make([]int, len(f.path)+1)
			copy(p, f.path)
			p[len(f.path)] = i
			stack = append(stack, frame{node: n.Children[i], parent: n, path: p, depth: f.depth + 1})
		}
	}

	if !content {
		add(EmptyDocument, nil)
	}
	stats := doctree.Measure(doc.Root)
	if int64(stats.Nodes) > limits.MaxNodes {
		add(NodeLimitExceeded, nil)
	}
	if int64(stats.TextBytes) > limits.MaxTextBytes {
		add(TextLimitExceeded, nil)
	}
	return issues
}

func hasText(n *doctree.Node) bool {
	switch n.Kind {
	case doctree.KindText, doctree.KindCode:
		return strings.TrimSpace(n.Text) != ""
	case doctree.KindCodeBlock:
		return true
	}
	return false
}

func (v Validator) check(n, parent *doctree.Node, path []int, limits doctree.Limits, add func(Kind, []int)) {
	if n.Open {
		add(UnterminatedSpan, path)
	}
	if HasControl(n.Text) {
		add(ControlCharacters, path)
	}
	if parent != nil {
		if k := placement(n.Kind, parent.Kind); k >= 0 {
			add(Kind(k), path)
		}
	}

	switch n.Kind {
	case doctree.KindParagraph, doctree.KindBlockQuote, doctree.KindList:
		if len(n.Children) == 0 {
			add(EmptyBlock, path)
		}
	case doctree.KindHeading:
		if n.Level < 1 || n.Level > 6 {
			add(HeadingLevel, path)
		}
		if len(n.Children) == 0 {
			add(EmptyBlock, path)
		}
	case doctree.KindImage:
		add(UnsupportedMedia, path)
		if UnsafeURL(n.URL) {
			add(UnsafeLinkScheme, path)
		}
	case doctree.KindLink:
		switch {
		case strings.TrimSpace(n.URL) == "":
			add(EmptyLinkTarget, path)
		case UnsafeURL(n.URL):
			add(UnsafeLinkScheme, path)
		}
	case doctree.KindTable:
		if len(n.Children) == 0 {
			add(EmptyBlock, path)
		}
		rows, cols, ragged := shape(n)
		if rows > limits.MaxTableRows || cols > limits.MaxTableCols {
			add(TableTooLarge, path)
		}
		if ragged {
			add(RaggedTable, path)
		}
	}
}

// placement classifies a child kind that cannot appear under its parent.
// It returns -1 when the placement is fine.
func placement(child, parent doctree.Kind) int {
	switch child {
	case doctree.KindListItem:
		if parent != doctree.KindList {
			return int(MisplacedBlock)
		}
		return -1
	case doctree.KindTableRow:
		if parent != doctree.KindTable {
			return int(MisplacedBlock)
		}
		return -1
	case doctree.KindTableCell:
		if parent != doctree.KindTableRow {
			return int(MisplacedBlock)
		}
		return -1
	}
	switch parent {
	case doctree.KindList:
		return int(ListItemMissing)
	case doctree.KindTable, doctree.KindTableRow:
		return int(MisplacedBlock)
	}
	if child.IsBlock() {
		switch {
		case parent.IsInline(), parent == doctree.KindParagraph, parent == doctree.KindHeading:
			return int(MisplacedBlock)
		}
		return -1
	}
	switch parent {
	case doctree.KindGroup, doctree.KindBlockQuote, doctree.KindListItem:
		return int(OrphanInline)
	}
	return -1
}

// shape reports the row count, widest row and whether widths differ.
func shape(t *doctree.Node) (rows, cols int, ragged bool) {
	width := -1
	for _, r := range t.Children {
		rows++
		w := len(r.Children)
		if r.Kind != doctree.KindTableRow {
			w = 1
		}
		cols = max(cols, w)
		if width >= 0 && w != width {
			ragged = true
		}
		width = w
	}
	return rows, cols, ragged
}
