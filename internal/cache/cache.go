package cache

import (
	"fmt"
	"os"
	"strings"

	"github.com/TheTechNetwork/admx-help/internal/parser"
	"github.com/TheTechNetwork/admx-help/internal/textutil"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// DefaultSize is the number of parsed templates kept in memory.
const DefaultSize = 512

// ParseCache keeps extraction results for templates whose inputs have not
// changed, so repeated runs (watch mode) only re-parse touched files.
// A nil *ParseCache is valid and caches nothing.
type ParseCache struct {
	entries *lru.Cache[string, *parser.ParseResult]
}

// NewParseCache creates a cache holding up to size results.
func NewParseCache(size int) (*ParseCache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, *parser.ParseResult](size)
	if err != nil {
		return nil, fmt.Errorf("create parse cache: %w", err)
	}
	return &ParseCache{entries: entries}, nil
}

// Get returns a cached result for key.
func (c *ParseCache) Get(key string) (*parser.ParseResult, bool) {
	if c == nil || key == "" {
		return nil, false
	}
	return c.entries.Get(key)
}

// Add stores result under key.
func (c *ParseCache) Add(key string, result *parser.ParseResult) {
	if c == nil || key == "" || result == nil {
		return
	}
	if evicted := c.entries.Add(key, result); evicted {
		log.Debug().Str("file", result.FileName).Msg("Parse cache evicted an entry")
	}
}

// Len reports the number of cached results.
func (c *ParseCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

// Purge drops every cached result.
func (c *ParseCache) Purge() {
	if c == nil {
		return
	}
	c.entries.Purge()
}

// Fingerprint identifies a template's inputs by path, size and modification
// time of each file, plus any extra settings that change extraction output.
// Empty paths are recorded as absent.
func Fingerprint(paths []string, extra ...string) (string, error) {
	var sb strings.Builder
	for _, p := range paths {
		if p == "" {
			sb.WriteString("-\n")
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
		fmt.Fprintf(&sb, "%s|%d|%d\n", p, info.Size(), info.ModTime().UnixNano())
	}
	for _, e := range extra {
		sb.WriteString(e)
		sb.WriteByte('\n')
	}
	return textutil.Hash(sb.String()), nil
}
