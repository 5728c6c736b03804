package parser

import (
	"fmt"
	"io"
	"os"
)

// LoadStringTable reads an ADML resource document and maps every <string id="...">
// to its text. Later duplicates overwrite earlier ones.
func LoadStringTable(r io.Reader) (StringTable, error) {
	root, err := decodeDocument(r)
	if err != nil {
		return nil, fmt.Errorf("decode adml: %w", err)
	}

	table := make(StringTable)
	root.walk(func(n *node) bool {
		if n.name() != "string" || !n.hasAttr("id") {
			return true
		}
		table[n.attr("id")] = n.Text
		return false
	})

	return table, nil
}

// LoadStringTableFile opens path and loads it with LoadStringTable.
func LoadStringTableFile(path string) (StringTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open adml file: %w", err)
	}
	defer f.Close()

	table, err := LoadStringTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}
