package parser

import (
	"regexp"
	"strings"
)

// stringRefPattern matches ADMX resource references such as $(string.Policy_Help).
var stringRefPattern = regexp.MustCompile(`^\$\(\s*([A-Za-z]+)\.([^)\s]+)\s*\)$`)

// stringKey returns the string-table key an attribute value refers to.
// "$(string.X)" yields X; other resource kinds such as $(presentation.X)
// never resolve; any other non-empty value is used verbatim.
func stringKey(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	m := stringRefPattern.FindStringSubmatch(ref)
	if m == nil {
		return ref, true
	}
	if !strings.EqualFold(m[1], "string") {
		return "", false
	}
	return m[2], true
}

// resolveString looks ref up in table and reports whether it resolved.
func resolveString(table StringTable, ref string) (string, bool) {
	key, ok := stringKey(ref)
	if !ok {
		return "", false
	}
	return table.Lookup(key)
}

// unqualified strips a namespace prefix: "windows:System" -> "System".
func unqualified(ref string) string {
	ref = strings.TrimSpace(ref)
	if i := strings.LastIndex(ref, ":"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
