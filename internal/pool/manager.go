package pool

import (
	"bytes"

	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/dgallion1/rtfbridge/internal/token"
)

// Objects larger than these are dropped on return rather than pinned in a pool.
const (
	maxRetainedBuilder = 1 << 20
	maxSmallBuilder    = 256
	maxRetainedBuffer  = 4 << 20
	maxRetainedTokens  = 64 << 10
	maxRetainedNodes   = 4 << 10
)

// Sizes sets the capacity of each pool.
type Sizes struct {
	Strings      int
	SmallStrings int
	Buffers      int
	Tokens       int
	Nodes        int
}

// DefaultSizes returns capacities suited to a few dozen concurrent conversions.
func DefaultSizes() Sizes {
	return Sizes{
		Strings:      64,
		SmallStrings: 256,
		Buffers:      32,
		Tokens:       32,
		Nodes:        128,
	}
}

// Manager owns the process-wide pools shared by every conversion.
// A nil *Manager is valid and allocates on every call.
type Manager struct {
	strings      *Pool[*bytes.Buffer]
	smallStrings *Pool[*bytes.Buffer]
	buffers      *Pool[*bytes.Buffer]
	tokens       *Pool[*[]token.Token]
	nodes        *Pool[*[]*doctree.Node]
}

// NewManager builds the pools.
func NewManager(s Sizes) *Manager {
	return &Manager{
		strings: New(s.Strings, newBuilder, func(b *bytes.Buffer) bool {
			if b.Cap() > maxRetainedBuilder {
				return false
			}
			b.Reset()
			return true
		}),
		smallStrings: New(s.SmallStrings, newSmallBuilder, func(b *bytes.Buffer) bool {
			if b.Cap() > maxSmallBuilder {
				return false
			}
			b.Reset()
			return true
		}),
		buffers: New(s.Buffers, func() *bytes.Buffer { return new(bytes.Buffer) }, func(b *bytes.Buffer) bool {
			if b.Cap() > maxRetainedBuffer {
				return false
			}
			b.Reset()
			return true
		}),
		tokens: New(s.Tokens, newTokens, func(v *[]token.Token) bool {
			if cap(*v) > maxRetainedTokens {
				return false
			}
			clear(*v)
			*v = (*v)[:0]
			return true
		}),
		nodes: New(s.Nodes, newNodes, func(v *[]*doctree.Node) bool {
			if cap(*v) > maxRetainedNodes {
				return false
			}
			clear(*v)
			*v = (*v)[:0]
			return true
		}),
	}
}

func newBuilder() *bytes.Buffer { return new(bytes.Buffer) }

func newSmallBuilder() *bytes.Buffer {
	return bytes.NewBuffer(make([]byte, 0, 64))
}

func newTokens() *[]token.Token {
	v := make([]token.Token, 0, 256)
	return &v
}

func newNodes() *[]*doctree.Node {
	v := make([]*doctree.Node, 0, 16)
	return &v
}

// Builder leases a buffer for assembling document-sized strings.
func (m *Manager) Builder() *Handle[*bytes.Buffer] {
	if m == nil {
		return Detached(newBuilder())
	}
	return m.strings.Get()
}

// SmallBuilder leases a builder for short strings such as table cells.
func (m *Manager) SmallBuilder() *Handle[*bytes.Buffer] {
	if m == nil {
		return Detached(newSmallBuilder())
	}
	return m.smallStrings.Get()
}

// Buffer leases a byte buffer for raw input copies.
func (m *Manager) Buffer() *Handle[*bytes.Buffer] {
	if m == nil {
		return Detached(new(bytes.Buffer))
	}
	return m.buffers.Get()
}

// Tokens leases an empty token slice.
func (m *Manager) Tokens() *Handle[*[]token.Token] {
	if m == nil {
		return Detached(newTokens())
	}
	return m.tokens.Get()
}

// Nodes leases an empty node slice for scratch work.
func (m *Manager) Nodes() *Handle[*[]*doctree.Node] {
	if m == nil {
		return Detached(newNodes())
	}
	return m.nodes.Get()
}

// Stats reports every pool by name.
func (m *Manager) Stats() map[string]Stats {
	if m == nil {
		return map[string]Stats{}
	}
	return map[string]Stats{
		"strings":       m.strings.Stats(),
		"small_strings": m.smallStrings.Stats(),
		"buffers":       m.buffers.Stats(),
		"tokens":        m.tokens.Stats(),
		"nodes":         m.nodes.Stats(),
	}
}
