package dataset

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TheTechNetwork/admx-help/internal/parser"

	"github.com/rs/zerolog/log"
)

// Output file names inside a site directory.
const (
	PoliciesFile = "policies.json"
	PageFile     = "index.html"
	TSVFile      = "policies.tsv"
)

//go:embed site/index.html
var indexPage []byte

// Layout selects which files WriteSite produces besides policies.json.
type Layout struct {
	Page bool
	TSV  bool
}

// Marshal renders records as an indented JSON array with a trailing newline.
// HTML characters are left unescaped and registry_bindings is always an array.
func Marshal(records []parser.PolicyRecord) ([]byte, error) {
	out := make([]parser.PolicyRecord, len(records))
	for i, r := range records {
		if r.RegistryBindings == nil {
			r.RegistryBindings = []parser.RegistryBinding{}
		}
		out[i] = r
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(out); err != nil {
		return nil, fmt.Errorf("encode JSON: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteJSON writes records to path, fully replacing any existing file.
func WriteJSON(path string, records []parser.PolicyRecord) error {
	data, err := Marshal(records)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}

	log.Info().Str("path", path).Int("policies", len(records)).Msg("Wrote policy dataset")
	return nil
}

// MarshalTSV renders one line per registry binding (or per policy when it has
// none), tab-separated with a header row.
func MarshalTSV(records []parser.PolicyRecord) []byte {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "id\tdisplay_name\tscope\tcategory_path\tregistry_key\tvalue_name\tvalue_type\tsource_file")

	for _, r := range records {
		bindings := r.RegistryBindings
		if len(bindings) == 0 {
			bindings = []parser.RegistryBinding{{}}
		}
		for _, b := range bindings {
			fmt.Fprintf(&buf, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				escapeTSV(r.ID),
				escapeTSV(r.DisplayName),
				r.Scope,
				escapeTSV(r.CategoryPath),
				escapeTSV(r.RegistryKey),
				escapeTSV(b.ValueName),
				b.ValueType,
				escapeTSV(r.SourceFile),
			)
		}
	}
	return buf.Bytes()
}

// WriteSite writes policies.json and the files selected by layout into dir,
// creating it if needed. It returns the written paths in a fixed order.
func WriteSite(dir string, records []parser.PolicyRecord, layout Layout) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	jsonPath := filepath.Join(dir, PoliciesFile)
	if err := WriteJSON(jsonPath, records); err != nil {
		return nil, err
	}
	written := []string{jsonPath}

	if layout.Page {
		pagePath := filepath.Join(dir, PageFile)
		if err := writeFileAtomic(pagePath, indexPage); err != nil {
			return nil, err
		}
		written = append(written, pagePath)
	}

	if layout.TSV {
		tsvPath := filepath.Join(dir, TSVFile)
		if err := writeFileAtomic(tsvPath, MarshalTSV(records)); err != nil {
			return nil, err
		}
		written = append(written, tsvPath)
	}

	log.Debug().Strs("files", written).Msg("Site written")
	return written, nil
}

// writeFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers never observe a partially written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func escapeTSV(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\t", "\\t")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
