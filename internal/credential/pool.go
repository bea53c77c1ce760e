// Package credential holds the ordered set of API keys available to a run.
//
// A Pool only ever shrinks: keys are removed as the remote service proves
// them exhausted and are never added back. Pool is not safe for concurrent
// use; the scheduler loop owns it.
package credential

import (
	"errors"
	"strings"
)

// ErrEmptyPool is returned by Parse when no usable key is present.
var ErrEmptyPool = errors.New("no api keys configured")

// Pool is an ordered list of distinct credentials.
type Pool struct {
	keys []string
}

// Parse builds a pool from a comma-separated list. Blank entries and
// duplicates are dropped, first occurrence wins.
func Parse(raw string) (*Pool, error) {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		key := strings.TrimSpace(part)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, ErrEmptyPool
	}
	return &Pool{keys: keys}, nil
}

// First returns the credential every new task starts with.
func (p *Pool) First() (string, bool) {
	if len(p.keys) == 0 {
		return "", false
	}
	return p.keys[0], true
}

// Remove drops key from the pool and reports whether it was present.
func (p *Pool) Remove(key string) bool {
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i:i], p.keys[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Pool) Contains(key string) bool {
	for _, k := range p.keys {
		if k == key {
			return true
		}
	}
	return false
}

func (p *Pool) Len() int { return len(p.keys) }

func (p *Pool) Empty() bool { return len(p.keys) == 0 }

// Keys returns a copy of the remaining credentials in order.
func (p *Pool) Keys() []string {
	return append([]string(nil), p.keys...)
}

// Mask shortens a key for logs and messages, keeping the last four characters.
func Mask(key string) string {
	const visible = 4
	if len(key) <= visible {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-visible) + key[len(key)-visible:]
}
