package filewalker

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/TheTechNetwork/admx-help/internal/parser"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
)

// DefaultLocale is the ADML folder looked up next to each template.
const DefaultLocale = "en-US"

// Walker discovers template files and pairs them with their locale resources.
type Walker struct {
	parsers []parser.TemplateParser
	locale  string
	include []string
	exclude []string
}

// Option configures a Walker.
type Option func(*Walker)

// WithParsers replaces the default template parsers.
func WithParsers(parsers ...parser.TemplateParser) Option {
	return func(w *Walker) { w.parsers = parsers }
}

// WithInclude keeps only templates whose slash-separated path relative to the
// root matches at least one doublestar pattern.
func WithInclude(patterns ...string) Option {
	return func(w *Walker) { w.include = append(w.include, patterns...) }
}

// WithExclude drops templates whose relative path matches any pattern.
func WithExclude(patterns ...string) Option {
	return func(w *Walker) { w.exclude = append(w.exclude, patterns...) }
}

// NewWalker creates a Walker for locale with the ADMX parser.
func NewWalker(locale string, opts ...Option) *Walker {
	if locale == "" {
		locale = DefaultLocale
	}
	w := &Walker{
		parsers: []parser.TemplateParser{parser.NewADMXParser("")},
		locale:  locale,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// FileEntry represents a discovered template ready for extraction.
type FileEntry struct {
	// Path is the absolute template path.
	Path string
	// RelPath is Path relative to the walk root, slash-separated.
	RelPath string
	// LocalePath is the paired ADML file, empty when none exists.
	LocalePath string
	Ext        string
	Parser     parser.TemplateParser
}

// Walk discovers every supported template under root in lexical order.
func (w *Walker) Walk(root string) ([]FileEntry, error) {
	for _, p := range append(append([]string{}, w.include...), w.exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern %q", p)
		}
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}

	var entries []FileEntry

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Error walking path")
			return nil
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		p := w.parserFor(ext)
		if p == nil {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)
		if !w.selected(rel) {
			log.Debug().Str("path", rel).Msg("Template filtered out")
			return nil
		}

		entries = append(entries, FileEntry{
			Path:       path,
			RelPath:    rel,
			LocalePath: w.localeFile(path),
			Ext:        strings.ToLower(ext),
			Parser:     p,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	log.Info().Int("count", len(entries)).Str("root", root).Str("locale", w.locale).Msg("Discovered templates")
	return entries, nil
}

// ParseFile loads the entry's string table and extracts its policies. An
// unreadable locale file is reported as a warning and the template is parsed
// without localized strings.
func (w *Walker) ParseFile(entry FileEntry) (*parser.ParseResult, error) {
	var table parser.StringTable
	var warnings []parser.Warning

	if entry.LocalePath != "" {
		t, err := parser.LoadStringTableFile(entry.LocalePath)
		if err != nil {
			warnings = append(warnings, parser.Warning{
				File:    filepath.Base(entry.LocalePath),
				Message: fmt.Sprintf("locale resources ignored: %v", err),
			})
		} else {
			table = t
		}
	}

	result, err := entry.Parser.Parse(entry.Path, table)
	if err != nil {
		return nil, err
	}
	for i := range result.Policies {
		result.Policies[i].Template = entry.RelPath
	}
	result.Warnings = append(warnings, result.Warnings...)
	return result, nil
}

func (w *Walker) parserFor(ext string) parser.TemplateParser {
	for _, p := range w.parsers {
		if p.CanParse(ext) {
			return p
		}
	}
	return nil
}

func (w *Walker) selected(rel string) bool {
	for _, p := range w.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	if len(w.include) == 0 {
		return true
	}
	for _, p := range w.include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// localeFile finds <dir>/<locale>/<base>.adml next to a template. Windows
// ships these names with inconsistent casing, so an exact match is tried
// first and then a case-insensitive one.
func (w *Walker) localeFile(templatePath string) string {
	dir := filepath.Dir(templatePath)
	base := strings.TrimSuffix(filepath.Base(templatePath), filepath.Ext(templatePath)) + ".adml"

	exact := filepath.Join(dir, w.locale, base)
	if info, err := os.Stat(exact); err == nil && !info.IsDir() {
		return exact
	}

	localeDir := findEntry(dir, w.locale, true)
	if localeDir == "" {
		return ""
	}
	return findEntry(localeDir, base, false)
}

// findEntry returns the path of the entry in dir whose name equals name
// case-insensitively and whose kind matches wantDir.
func findEntry(dir, name string, wantDir bool) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() == wantDir && strings.EqualFold(e.Name(), name) {
			return filepath.Join(dir, e.Name())
		}
	}
	return ""
}
