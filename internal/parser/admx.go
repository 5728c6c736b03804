package parser

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotTemplate is returned for documents whose root is not <policyDefinitions>.
	ErrNotTemplate = errors.New("not an admx template")
	// ErrMissingPolicyName marks a <policy> without a name attribute.
	ErrMissingPolicyName = errors.New("policy has no name")
	// ErrDuplicatePolicy marks a <policy> reusing a name within one file. The
	// record is still emitted.
	ErrDuplicatePolicy = errors.New("duplicate policy name")
)

// Registry value type markers.
const (
	RegSZ       = "REG_SZ"
	RegExpandSZ = "REG_EXPAND_SZ"
	RegMultiSZ  = "REG_MULTI_SZ"
	RegDWORD    = "REG_DWORD"
	RegQWORD    = "REG_QWORD"
)

// TemplateParser is implemented by parsers of policy template files.
type TemplateParser interface {
	// CanParse returns true if this parser handles the given file extension.
	CanParse(ext string) bool
	// Parse extracts policies from a template using its localized strings (may be nil).
	Parse(filePath string, table StringTable) (*ParseResult, error)
}

// ADMXParser extracts PolicyRecords from ADMX templates.
type ADMXParser struct {
	separator string
}

func NewADMXParser(separator string) *ADMXParser {
	if separator == "" {
		separator = DefaultSeparator
	}
	return &ADMXParser{separator: separator}
}

func (p *ADMXParser) CanParse(ext string) bool {
	return strings.EqualFold(ext, ".admx")
}

func (p *ADMXParser) Parse(filePath string, table StringTable) (*ParseResult, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open admx file: %w", err)
	}
	defer f.Close()

	result, err := p.ParseDocument(f, filepath.Base(filePath), table)
	if err != nil {
		return nil, err
	}
	result.FilePath = filePath
	return result, nil
}

// ParseDocument extracts one record per <policy> in document order. Policies
// without a name are skipped; they and repeated names are reported in Warnings.
func (p *ADMXParser) ParseDocument(r io.Reader, fileName string, table StringTable) (*ParseResult, error) {
	root, err := decodeDocument(r)
	if err != nil {
		return nil, fmt.Errorf("decode admx: %w", err)
	}
	if root.name() != "policyDefinitions" {
		return nil, fmt.Errorf("%w: root element <%s>", ErrNotTemplate, root.name())
	}

	result := &ParseResult{
		FileName:   fileName,
		Categories: collectCategories(root),
	}

	occurrences := make(map[string]int)
	root.walk(func(n *node) bool {
		if n.name() != "policy" {
			return true
		}
		rec, err := p.extractPolicy(n, result.Categories, table)
		if err != nil {
			result.Warnings = append(result.Warnings, Warning{
				File:    fileName,
				Policy:  n.attr("name"),
				Message: err.Error(),
			})
			return false
		}
		rec.SourceFile = fileName
		rec.Occurrence = occurrences[rec.ID]
		occurrences[rec.ID]++
		if rec.Occurrence > 0 {
			result.Warnings = append(result.Warnings, Warning{
				File:    fileName,
				Policy:  rec.ID,
				Message: fmt.Sprintf("%v: %s (occurrence %d)", ErrDuplicatePolicy, rec.ID, rec.Occurrence+1),
			})
		}
		result.Policies = append(result.Policies, rec)
		return false
	})

	return result, nil
}

func (p *ADMXParser) extractPolicy(n *node, categories CategorySet, table StringTable) (PolicyRecord, error) {
	id := strings.TrimSpace(n.attr("name"))
	if id == "" {
		return PolicyRecord{}, ErrMissingPolicyName
	}

	// A string that resolves to empty text is kept; only an unresolved
	// reference falls back to the name.
	displayName := id
	if v, ok := resolveString(table, n.attr("displayName")); ok {
		displayName = v
	}

	var description string
	if v, ok := resolveString(table, n.attr("explainText")); ok {
		description = v
	}

	key, bindings := registryBindings(n)
	category := ResolveCategoryPath(policyCategoryRef(n), categories, table)

	return PolicyRecord{
		ID:               id,
		DisplayName:      displayName,
		Description:      description,
		Scope:            scopeOf(n.attr("class")),
		CategoryPath:     JoinPath(category, p.separator),
		RegistryKey:      key,
		RegistryBindings: bindings,
		Category:         category,
	}, nil
}

func scopeOf(class string) Scope {
	if strings.EqualFold(strings.TrimSpace(class), "machine") {
		return ScopeMachine
	}
	return ScopeUser
}

// policyCategoryRef reads the category a policy belongs to.
func policyCategoryRef(n *node) string {
	if ref := parentRef(n); ref != "" {
		return ref
	}
	return strings.TrimSpace(n.attr("category"))
}

// registryBindings merges every binding shape found on a policy: the direct
// key/valueName declaration, a <registrySettings> block, nested <value>
// declarations and finally <elements> inputs, each in document order. The key
// is the first non-empty one encountered.
func registryBindings(p *node) (string, []RegistryBinding) {
	var key string
	bindings := []RegistryBinding{}

	takeKey := func(n *node) {
		if key == "" {
			key = strings.TrimSpace(n.attr("key"))
		}
	}
	add := func(name, typ string) {
		bindings = append(bindings, RegistryBinding{ValueName: name, ValueType: typ})
	}

	switch rk := p.child("registryKey"); {
	case p.hasAttr("key") || p.hasAttr("valueName"):
		takeKey(p)
		if vn := strings.TrimSpace(p.attr("valueName")); vn != "" {
			add(vn, directValueType(p, p))
		}
	case rk != nil:
		takeKey(rk)
		if vn := strings.TrimSpace(rk.attr("valueName")); vn != "" {
			add(vn, directValueType(p, rk))
		}
	}

	if rs := p.child("registrySettings"); rs != nil {
		takeKey(rs)
		if vn := strings.TrimSpace(rs.attr("valueName")); vn != "" {
			add(vn, orDefault(rs.attr("valueType"), RegSZ))
		}
	}

	for _, v := range p.descendants("value") {
		vn := strings.TrimSpace(v.attr("valueName"))
		if vn == "" {
			continue
		}
		takeKey(v)
		add(vn, orDefault(v.attr("valueType"), RegSZ))
	}

	for _, block := range p.descendants("elements") {
		for i := range block.Nodes {
			el := &block.Nodes[i]
			id := strings.TrimSpace(el.attr("id"))
			if id == "" {
				continue
			}
			takeKey(el)
			add(orDefault(el.attr("valueName"), id), orDefault(el.attr("valueType"), elementValueType(el)))
		}
	}

	return key, bindings
}

// directValueType returns decl's declared valueType, else the type implied by
// the policy's <enabledValue>, else REG_DWORD.
func directValueType(policy, decl *node) string {
	if vt := strings.TrimSpace(decl.attr("valueType")); vt != "" {
		return vt
	}
	if ev := policy.child("enabledValue"); ev != nil && len(ev.Nodes) > 0 {
		switch ev.Nodes[0].name() {
		case "longDecimal":
			return RegQWORD
		case "string":
			return RegSZ
		}
	}
	return RegDWORD
}

// elementValueType maps an <elements> input kind to the registry type it writes.
func elementValueType(el *node) string {
	switch el.name() {
	case "decimal", "boolean":
		return RegDWORD
	case "longDecimal":
		return RegQWORD
	case "multiText":
		return RegMultiSZ
	case "text":
		if strings.EqualFold(el.attr("expandable"), "true") {
			return RegExpandSZ
		}
	}
	return RegSZ
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
