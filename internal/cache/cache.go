// Package cache stores finished conversions keyed by a content hash, so a
// repeated input skips the engine entirely.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/dgallion1/rtfbridge/internal/convert"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is the result store used by the pipeline.
type Cache interface {
	Get(ctx context.Context, key string) (convert.Output, error)
	Set(ctx context.Context, key string, out convert.Output) error
	Close() error
}

// Key derives the cache key for one conversion. The options fingerprint
// keeps results from differently configured converters apart.
func Key(dir convert.Direction, fingerprint, input string) string {
	h := sha256.New()
	h.Write([]byte(dir.String()))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write([]byte(input))
	return hex.EncodeToString(h.Sum(nil))
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) (convert.Output, error) { return convert.Output{}, ErrMiss }
func (Nop) Set(context.Context, string, convert.Output) error   { return nil }
func (Nop) Close() error                                         { return nil }
