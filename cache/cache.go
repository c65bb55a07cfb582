// Package cache provides the query-result cache: fingerprinted keys,
// TTL'd entries with tag-based invalidation, pluggable backends and
// the policy layer that decides when the database is consulted.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrMiss is returned by CacheOnly reads when the key is absent.
var ErrMiss = errors.New("lode/cache: miss")

// Key identifies one cached value. The namespace scopes invalidation
// (usually the model name); the fingerprint pins the exact query.
type Key struct {
	Namespace   string
	Fingerprint string
}

func (k Key) String() string {
	return k.Namespace + ":" + k.Fingerprint
}

// Fingerprint derives a stable key from everything that shapes a
// result set: the SQL text, its parameters, the selected fields and
// the tenant. Equal inputs always produce equal fingerprints across
// processes.
func Fingerprint(sql string, params []any, fields []string, tenant string) string {
	h := sha256.New()
	h.Write([]byte(sql))
	h.Write([]byte{0})
	for _, p := range params {
		fmt.Fprintf(h, "%T=%v", p, p)
		h.Write([]byte{0})
	}
	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)
	h.Write([]byte(strings.Join(sorted, ",")))
	h.Write([]byte{0})
	h.Write([]byte(tenant))
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is one cached value with its lifetime and invalidation tags.
type Entry struct {
	Value     []byte
	CreatedAt time.Time
	TTL       time.Duration
	Tags      []string
}

// Expired reports whether the entry's TTL has elapsed at now. A zero
// TTL never expires.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// StaleFor returns how far past its TTL the entry is at now, zero if
// still fresh.
func (e *Entry) StaleFor(now time.Time) time.Duration {
	if e.TTL <= 0 {
		return 0
	}
	over := now.Sub(e.CreatedAt) - e.TTL
	if over < 0 {
		return 0
	}
	return over
}

// Backend stores entries. Implementations must be safe for concurrent
// use. Get may return expired entries; expiry policy belongs to the
// caller so stale reads stay possible.
type Backend interface {
	Get(ctx context.Context, key Key) (*Entry, bool, error)
	Set(ctx context.Context, key Key, e *Entry) error
	Delete(ctx context.Context, key Key) error
	Exists(ctx context.Context, key Key) (bool, error)
	// InvalidatePattern removes keys whose string form matches the
	// glob-style pattern ("User:*"). Returns the removal count.
	InvalidatePattern(ctx context.Context, pattern string) (int, error)
	// InvalidateTags removes entries carrying any of the tags.
	InvalidateTags(ctx context.Context, tags ...string) (int, error)
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// EntityTag names one model for tag invalidation.
func EntityTag(model string) string { return "model:" + model }

// RowTag names one row of a model.
func RowTag(model string, id any) string {
	return fmt.Sprintf("model:%s:%v", model, id)
}

// Encode serializes a value for storage in an Entry.
func Encode(v any) ([]byte, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("lode/cache: encode: %w", err)
	}
	return raw, nil
}

// Decode deserializes a stored value into v.
func Decode(raw []byte, v any) error {
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("lode/cache: decode: %w", err)
	}
	return nil
}
