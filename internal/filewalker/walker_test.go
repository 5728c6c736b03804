package filewalker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	templateDoc = `<policyDefinitions><categories><category name="C" displayName="$(string.C)"/></categories>
<policies><policy name="P" class="Machine" displayName="$(string.P)" parentCategory="C"/></policies></policyDefinitions>`
	localeDoc = `<policyDefinitionResources><resources><stringTable>
<string id="C">Category</string><string id="P">Policy</string></stringTable></resources></policyDefinitionResources>`
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWalker_DiscoversTemplatesInLexicalOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.admx"), templateDoc)
	writeFile(t, filepath.Join(root, "a.admx"), templateDoc)
	writeFile(t, filepath.Join(root, "nested", "c.ADMX"), templateDoc)
	writeFile(t, filepath.Join(root, "readme.txt"), "ignored")
	writeFile(t, filepath.Join(root, "en-US", "a.adml"), localeDoc)

	entries, err := NewWalker("").Walk(root)
	require.NoError(t, err)

	require.Len(t, entries, 3)
	assert.Equal(t, "a.admx", entries[0].RelPath)
	assert.Equal(t, "b.admx", entries[1].RelPath)
	assert.Equal(t, "nested/c.ADMX", entries[2].RelPath)
	assert.Equal(t, ".admx", entries[2].Ext)
}

func TestWalker_PairsLocaleFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Exact.admx"), templateDoc)
	writeFile(t, filepath.Join(root, "en-US", "Exact.adml"), localeDoc)
	writeFile(t, filepath.Join(root, "Mixed.admx"), templateDoc)
	writeFile(t, filepath.Join(root, "en-US", "mixed.ADML"), localeDoc)
	writeFile(t, filepath.Join(root, "Lonely.admx"), templateDoc)

	entries, err := NewWalker("en-US").Walk(root)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byRel := map[string]FileEntry{}
	for _, e := range entries {
		byRel[e.RelPath] = e
	}

	exact := byRel["Exact.admx"]
	assert.Equal(t, filepath.Join(filepath.Dir(exact.Path), "en-US", "Exact.adml"), exact.LocalePath)
	assert.True(t, strings.EqualFold("mixed.adml", filepath.Base(byRel["Mixed.admx"].LocalePath)))
	assert.Empty(t, byRel["Lonely.admx"].LocalePath)
}

func TestWalker_LocaleFolderCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "t.admx"), templateDoc)
	writeFile(t, filepath.Join(root, "EN-us", "t.adml"), localeDoc)

	entries, err := NewWalker("en-US").Walk(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotEmpty(t, entries[0].LocalePath)
	assert.True(t, strings.EqualFold("en-US", filepath.Base(filepath.Dir(entries[0].LocalePath))))
}

func TestWalker_IncludeExclude(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "office", "word.admx"), templateDoc)
	writeFile(t, filepath.Join(root, "office", "legacy", "old.admx"), templateDoc)
	writeFile(t, filepath.Join(root, "windows", "system.admx"), templateDoc)

	entries, err := NewWalker("", WithInclude("office/**"), WithExclude("**/legacy/**")).Walk(root)
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, "office/word.admx", entries[0].RelPath)
}

func TestWalker_InvalidPattern(t *testing.T) {
	_, err := NewWalker("", WithExclude("[")).Walk(t.TempDir())
	assert.Error(t, err)
}

func TestWalker_RootErrors(t *testing.T) {
	_, err := NewWalker("").Walk(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.admx")
	writeFile(t, file, templateDoc)
	_, err = NewWalker("").Walk(file)
	assert.Error(t, err)
}

func TestWalker_ParseFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "t.admx"), templateDoc)
	writeFile(t, filepath.Join(root, "en-US", "t.adml"), localeDoc)

	w := NewWalker("en-US")
	entries, err := w.Walk(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	result, err := w.ParseFile(entries[0])
	require.NoError(t, err)
	require.Len(t, result.Policies, 1)
	assert.Equal(t, "Policy", result.Policies[0].DisplayName)
	assert.Equal(t, "Category", result.Policies[0].CategoryPath)
	assert.Equal(t, "t.admx", result.Policies[0].Template)
	assert.Empty(t, result.Warnings)
}

func TestWalker_ParseFileWithBrokenLocale(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "t.admx"), templateDoc)
	writeFile(t, filepath.Join(root, "en-US", "t.adml"), "<broken")

	w := NewWalker("en-US")
	entries, err := w.Walk(root)
	require.NoError(t, err)

	result, err := w.ParseFile(entries[0])
	require.NoError(t, err)
	require.Len(t, result.Policies, 1)
	assert.Equal(t, "P", result.Policies[0].DisplayName)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "t.adml", result.Warnings[0].File)
}

func TestWalker_ParseFileWithBrokenTemplate(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bad.admx"), "<policyDefinitions><policies>")

	w := NewWalker("")
	entries, err := w.Walk(root)
	require.NoError(t, err)

	_, err = w.ParseFile(entries[0])
	assert.Error(t, err)
}
