package doctree

import (
	"sync/atomic"

	"github.com/dgallion1/rtfbridge/internal/failure"
)

// Limits bounds every document built by a parser or importer.
type Limits struct {
	MaxInputBytes int64 // raw input size
	MaxTextBytes  int64 // cumulative text across the whole document
	MaxDepth      int
	MaxNodes      int64
	MaxTableRows  int
	MaxTableCols  int
}

// DefaultLimits returns the production limits.
func DefaultLimits() Limits {
	return Limits{
		MaxInputBytes: 32 << 20,
		MaxTextBytes:  10 << 20,
		MaxDepth:      50,
		MaxNodes:      100_000,
		MaxTableRows:  1000,
		MaxTableCols:  100,
	}
}

// Normalize fills zero fields with defaults.
func (l Limits) Normalize() Limits {
	d := DefaultLimits()
	if l.MaxInputBytes <= 0 {
		l.MaxInputBytes = d.MaxInputBytes
	}
	if l.MaxTextBytes <= 0 {
		l.MaxTextBytes = d.MaxTextBytes
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	if l.MaxNodes <= 0 {
		l.MaxNodes = d.MaxNodes
	}
	if l.MaxTableRows <= 0 {
		l.MaxTableRows = d.MaxTableRows
	}
	if l.MaxTableCols <= 0 {
		l.MaxTableCols = d.MaxTableCols
	}
	return l
}

// ParserContext is the per-invocation budget threaded through a lexer and
// parser. It is never shared between conversions.
type ParserContext struct {
	limits Limits
	depth  atomic.Int32
	text   atomic.Int64
	nodes  atomic.Int64
}

// NewParserContext returns a fresh context for one conversion.
func NewParserContext(l Limits) *ParserContext {
	return &ParserContext{limits: l.Normalize()}
}

// Limits returns the limits this context enforces.
func (c *ParserContext) Limits() Limits {
	return c.limits
}

// CheckInput rejects raw input larger than MaxInputBytes.
func (c *ParserContext) CheckInput(n int) error {
	if int64(n) > c.limits.MaxInputBytes {
		return failure.New(failure.ResourceLimitExceeded, failure.CodeInputTooLarge)
	}
	return nil
}

// AddText charges n bytes of text against the cumulative document budget.
func (c *ParserContext) AddText(n int) error {
	if n <= 0 {
		return nil
	}
	if c.text.Add(int64(n)) > c.limits.MaxTextBytes {
		return failure.New(failure.ResourceLimitExceeded, failure.CodeTextLimit)
	}
	return nil
}

// TextBytes returns the text charged so far.
func (c *ParserContext) TextBytes() int64 {
	return c.text.Load()
}

// AddNode charges one node against MaxNodes.
func (c *ParserContext) AddNode() error {
	if c.nodes.Add(1) > c.limits.MaxNodes {
		return failure.New(failure.ResourceLimitExceeded, failure.CodeNodeLimit)
	}
	return nil
}

// Nodes returns the number of nodes charged so far.
func (c *ParserContext) Nodes() int64 {
	return c.nodes.Load()
}

// Enter records entry into a nested group or block.
func (c *ParserContext) Enter() error {
	if int(c.depth.Add(1)) > c.limits.MaxDepth {
		c.depth.Add(-1)
		return failure.New(failure.NestingTooDeep, failure.CodeDepth)
	}
	return nil
}

// Leave undoes one Enter.
func (c *ParserContext) Leave() {
	if c.depth.Add(-1) < 0 {
		c.depth.Store(0)
	}
}

// Depth returns the current nesting depth.
func (c *ParserContext) Depth() int {
	return int(c.depth.Load())
}

// CheckTable rejects tables beyond the row/column caps.
func (c *ParserContext) CheckTable(rows, cols int) error {
	if rows > c.limits.MaxTableRows || cols > c.limits.MaxTableCols {
		return failure.New(failure.ResourceLimitExceeded, failure.CodeTableTooLarge)
	}
	return nil
}
