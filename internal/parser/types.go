package parser

// Scope is the Group Policy configuration side a policy applies to.
type Scope string

const (
	ScopeMachine Scope = "machine"
	ScopeUser    Scope = "user"
)

// StringTable maps ADML string identifiers to their localized display text.
type StringTable map[string]string

// Lookup returns the text for id. A nil table never resolves.
func (t StringTable) Lookup(id string) (string, bool) {
	if t == nil || id == "" {
		return "", false
	}
	v, ok := t[id]
	return v, ok
}

// CategoryDefinition is one <category> declared in a template file.
type CategoryDefinition struct {
	// Name is the category identifier, unique within the file.
	Name string
	// ParentRef is the raw parent reference, possibly prefixed ("windows:System").
	ParentRef string
	// DisplayNameRef is the raw displayName attribute, usually "$(string.X)".
	DisplayNameRef string
}

// CategorySet indexes a file's categories by unqualified name.
type CategorySet map[string]CategoryDefinition

// RegistryBinding is one registry value a policy writes.
type RegistryBinding struct {
	ValueName string `json:"value_name"`
	ValueType string `json:"value_type"`
}

// PolicyRecord is the normalized, emitted unit: one per <policy> element.
// Field order is the serialization order of the dataset.
type PolicyRecord struct {
	ID               string            `json:"id"`
	DisplayName      string            `json:"display_name"`
	Description      string            `json:"description"`
	Scope            Scope             `json:"scope"`
	CategoryPath     string            `json:"category_path"`
	RegistryKey      string            `json:"registry_key"`
	RegistryBindings []RegistryBinding `json:"registry_bindings"`
	SourceFile       string            `json:"source_file"`

	// Category holds the root-first path segments behind CategoryPath.
	Category []string `json:"-"`
	// Template is the template's path relative to the source root, slash
	// separated. SourceFile alone is ambiguous across folders.
	Template string `json:"-"`
	// Occurrence counts earlier policies with the same ID in the template.
	Occurrence int `json:"-"`
}

// Warning describes a problem found in a template: a skipped policy, a
// repeated policy name or an unusable locale file.
type Warning struct {
	File    string `json:"file"`
	Policy  string `json:"policy,omitempty"`
	Message string `json:"message"`
}

// ParseResult holds extraction output for a single template file.
type ParseResult struct {
	// FilePath is the path of the parsed template.
	FilePath string
	// FileName is the base name recorded on every policy.
	FileName string
	// Categories are the file's category definitions.
	Categories CategorySet
	// Policies are the extracted records in document order.
	Policies []PolicyRecord
	// Warnings lists policies skipped during extraction.
	Warnings []Warning
}
