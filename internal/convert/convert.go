// Package convert runs one full conversion: parse, validate, recover and
// generate. It is the unit of work the engine schedules.
package convert

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/dgallion1/rtfbridge/internal/failure"
	"github.com/dgallion1/rtfbridge/internal/markdown"
	"github.com/dgallion1/rtfbridge/internal/pool"
	"github.com/dgallion1/rtfbridge/internal/recovery"
	"github.com/dgallion1/rtfbridge/internal/rtf"
	"github.com/dgallion1/rtfbridge/internal/validate"
)

// Format is a document syntax the core reads and writes.
type Format uint8

const (
	FormatRTF Format = iota
	FormatMarkdown
)

func (f Format) String() string {
	if f == FormatMarkdown {
		return "markdown"
	}
	return "rtf"
}

// ParseFormat accepts "rtf", "md" or "markdown".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rtf":
		return FormatRTF, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	}
	return 0, fmt.Errorf("unknown format %q", s)
}

// Direction is a source and target format pair.
type Direction uint8

const (
	RTFToMarkdown Direction = iota
	MarkdownToRTF
)

func (d Direction) String() string {
	if d == MarkdownToRTF {
		return "md2rtf"
	}
	return "rtf2md"
}

// Source is the format read.
func (d Direction) Source() Format {
	if d == MarkdownToRTF {
		return FormatMarkdown
	}
	return FormatRTF
}

// Target is the format written.
func (d Direction) Target() Format {
	if d == MarkdownToRTF {
		return FormatRTF
	}
	return FormatMarkdown
}

// ParseDirection accepts "rtf2md" / "md2rtf" and the long forms
// "rtf-to-markdown" / "markdown-to-rtf".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rtf2md", "rtf-to-markdown", "rtf-to-md":
		return RTFToMarkdown, nil
	case "md2rtf", "markdown-to-rtf", "md-to-rtf":
		return MarkdownToRTF, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Options configure a Converter. New fills zero limits and an empty policy.
type Options struct {
	Limits  doctree.Limits
	Policy  rtf.Policy
	Mode    validate.Mode
	Recover bool
}

// DefaultOptions returns production limits, the default policy, lenient
// validation and recovery enabled.
func DefaultOptions() Options {
	return Options{
		Limits:  doctree.DefaultLimits(),
		Policy:  rtf.DefaultPolicy(),
		Mode:    validate.Lenient,
		Recover: true,
	}
}

// Fingerprint identifies options that can change an output, for cache
// keys. fmt prints maps in key order, so equal policies hash equally.
func (o Options) Fingerprint() string {
	h := sha256.Sum256(fmt.Appendf(nil, "%+v|%s|%t|%v|%v", o.Limits, o.Mode, o.Recover, o.Policy.Allow, o.Policy.Deny))
	return hex.EncodeToString(h[:8])
}

// Report describes what happened to a document on the way through.
type Report struct {
	Issues     []validate.Issue  `json:"issues,omitempty"`
	Actions    []recovery.Action `json:"-"`
	Repairs    int               `json:"repairs"`
	Unresolved []string          `json:"unresolved,omitempty"`
}

// Output is a successful conversion.
type Output struct {
	Text   string `json:"text"`
	Report Report `json:"report"`
}

// Converter runs conversions. It holds no per-conversion state and is safe
// for concurrent use.
type Converter struct {
	opts  Options
	pools *pool.Manager
}

// New returns a Converter. pools may be nil.
func New(opts Options, pools *pool.Manager) *Converter {
	opts.Limits = opts.Limits.Normalize()
	if opts.Policy.Allow == nil && opts.Policy.Deny == nil {
		opts.Policy = rtf.DefaultPolicy()
	}
	return &Converter{opts: opts, pools: pools}
}

// Options returns the effective options.
func (c *Converter) Options() Options { return c.opts }

// Convert runs the whole flow for one input. Panics anywhere below become
// Internal errors.
func (c *Converter) Convert(dir Direction, input string) (out Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = Output{}, failure.FromPanic(p)
		}
	}()
	doc, err := c.parse(dir.Source(), input)
	if err != nil {
		return Output{}, err
	}
	return c.render(doc, dir.Target())
}

// Render validates, repairs and writes a document built elsewhere, such as
// by an importer. It is panic-safe like Convert.
func (c *Converter) Render(doc *doctree.Document, target Format) (out Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = Output{}, failure.FromPanic(p)
		}
	}()
	return c.render(doc, target)
}

// Parse reads input into a document under the configured limits.
func (c *Converter) Parse(source Format, input string) (doc *doctree.Document, err error) {
	defer func() {
		if p := recover(); p != nil {
			doc, err = nil, failure.FromPanic(p)
		}
	}()
	return c.parse(source, input)
}

func (c *Converter) parse(source Format, input string) (*doctree.Document, error) {
	ctx := doctree.NewParserContext(c.opts.Limits)
	if source == FormatRTF {
		return rtf.ParseString(input, ctx, c.pools, c.opts.Policy)
	}
	h := c.pools.Buffer()
	defer h.Release()
	buf := h.Value()
	buf.WriteString(input)
	return markdown.Parse(buf.Bytes(), ctx)
}

// depthSlack is added to the generators' depth ceiling; their counters
// include wrapper levels that the tree itself does not have.
const depthSlack = 8

func (c *Converter) render(doc *doctree.Document, target Format) (Output, error) {
	v := validate.Validator{Mode: c.opts.Mode, Limits: c.opts.Limits}
	issues := v.Validate(doc)
	rep := Report{Issues: issues}

	if len(validate.Errors(issues)) > 0 || (c.opts.Recover && len(issues) > 0) {
		if !c.opts.Recover {
			return Output{}, unresolved(validate.Kinds(validate.Errors(issues)))
		}
		res := recovery.Recoverer{Limits: c.opts.Limits}.Recover(doc, issues)
		doc = res.Doc
		rep.Actions = res.Actions
		rep.Repairs = len(res.Actions)
		if errs := validate.Errors(v.Validate(doc)); len(errs) > 0 {
			return Output{}, unresolved(validate.Kinds(errs))
		}
		for _, k := range res.Unresolved {
			rep.Unresolved = append(rep.Unresolved, k.String())
		}
	}

	var (
		text string
		err  error
	)
	switch target {
	case FormatRTF:
		text, err = rtf.Generator{Pools: c.pools, MaxDepth: c.opts.Limits.MaxDepth + depthSlack}.Generate(doc)
	default:
		text, err = markdown.Generator{Pools: c.pools, MaxDepth: c.opts.Limits.MaxDepth + depthSlack}.Generate(doc)
	}
	if err != nil {
		return Output{}, err
	}
	return Output{Text: text, Report: rep}, nil
}

func unresolved(kinds []validate.Kind) *failure.Error {
	e := failure.New(failure.InvalidInput, failure.CodeUnresolvedIssues)
	for _, k := range kinds {
		e.Issues = append(e.Issues, k.String())
	}
	return e
}
