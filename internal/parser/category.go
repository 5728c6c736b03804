package parser

import "strings"

// DefaultSeparator joins category path segments for display.
const DefaultSeparator = " > "

// collectCategories indexes every <category> element of a template document.
func collectCategories(root *node) CategorySet {
	set := make(CategorySet)
	for _, c := range root.descendants("category") {
		name := strings.TrimSpace(c.attr("name"))
		if name == "" {
			continue
		}
		set[name] = CategoryDefinition{
			Name:           name,
			ParentRef:      parentRef(c),
			DisplayNameRef: c.attr("displayName"),
		}
	}
	return set
}

// parentRef reads a parent category reference from either the
// <parentCategory ref="..."/> child or a parentCategory attribute.
func parentRef(n *node) string {
	if pc := n.child("parentCategory"); pc != nil {
		if ref := strings.TrimSpace(pc.attr("ref")); ref != "" {
			return ref
		}
	}
	return strings.TrimSpace(n.attr("parentCategory"))
}

// categoryDisplayName resolves a category's label, falling back to its name.
func categoryDisplayName(def CategoryDefinition, table StringTable) string {
	if def.DisplayNameRef != "" {
		if v, ok := resolveString(table, def.DisplayNameRef); ok {
			return v
		}
	}
	if v, ok := table.Lookup(def.Name); ok {
		return v
	}
	return def.Name
}

// ResolveCategoryPath returns display names from the outermost known ancestor
// down to the category identified by ref, inclusive. Prefixed references are
// looked up by their unqualified name. A missing start category yields nil; a
// dangling parent truncates the path. At most len(categories) parent links are
// followed, so cyclic chains terminate.
func ResolveCategoryPath(ref string, categories CategorySet, table StringTable) []string {
	name := unqualified(ref)
	if name == "" {
		return nil
	}
	def, ok := categories[name]
	if !ok {
		return nil
	}

	path := []string{categoryDisplayName(def, table)}
	for hops := 0; def.ParentRef != "" && hops < len(categories); hops++ {
		parent, ok := categories[unqualified(def.ParentRef)]
		if !ok {
			break
		}
		path = append(path, categoryDisplayName(parent, table))
		def = parent
	}

	// Collected leaf-first.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// JoinPath joins segments with sep, using DefaultSeparator when sep is empty.
func JoinPath(segments []string, sep string) string {
	if sep == "" {
		sep = DefaultSeparator
	}
	return strings.Join(segments, sep)
}
