package parser

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleADMX = `<?xml version="1.0" encoding="utf-8"?>
<policyDefinitions xmlns:xsd="http://www.w3.org/2001/XMLSchema" revision="1.0" schemaVersion="1.0" xmlns="http://schemas.microsoft.com/GroupPolicy/2006/07/PolicyDefinitions">
  <policyNamespaces>
    <target prefix="test" namespace="Test.Policies.Sample" />
    <using prefix="windows" namespace="Microsoft.Policies.Windows" />
  </policyNamespaces>
  <resources minRequiredRevision="1.0" />
  <categories>
    <category name="Cat_Root" displayName="$(string.Cat_Root)">
      <parentCategory ref="windows:WindowsComponents" />
    </category>
    <category name="Cat_Child" displayName="$(string.Cat_Child)">
      <parentCategory ref="test:Cat_Root" />
    </category>
  </categories>
  <policies>
    <policy name="Pol_Enable" class="Machine" displayName="$(string.Pol_Enable)" explainText="$(string.Pol_Enable_Help)" key="Software\Policies\Test" valueName="Enable">
      <parentCategory ref="Cat_Child" />
      <supportedOn ref="windows:SUPPORTED_Windows7" />
      <enabledValue><decimal value="1" /></enabledValue>
      <disabledValue><decimal value="0" /></disabledValue>
    </policy>
    <policy name="Pol_Elements" class="User" displayName="$(string.Pol_Elements)" presentation="$(presentation.Pol_Elements)" key="Software\Policies\Test\Elements">
      <parentCategory ref="Cat_Root" />
      <elements>
        <decimal id="Timeout" valueName="TimeoutSeconds" />
        <text id="Path" expandable="true" />
        <multiText id="Servers" valueName="Servers" />
        <enum id="Mode" valueName="Mode">
          <item displayName="$(string.Mode_A)"><value><string>a</string></value></item>
        </enum>
        <boolean id="Flag" valueName="Flag" />
        <longDecimal id="Quota" valueName="Quota" />
        <list id="Hosts" key="Software\Policies\Test\Hosts" />
      </elements>
    </policy>
    <policy name="Pol_Both" class="Both" displayName="$(string.Unknown)" key="Software\Policies\Test">
      <parentCategory ref="windows:System" />
    </policy>
  </policies>
</policyDefinitions>`

var sampleStrings = StringTable{
	"Cat_Root":        "Test Root",
	"Cat_Child":       "Test Child",
	"Pol_Enable":      "Enable testing",
	"Pol_Enable_Help": "Enables the test feature.",
	"Pol_Elements":    "Configure elements",
}

func parseSample(t *testing.T, doc string, table StringTable) *ParseResult {
	t.Helper()
	result, err := NewADMXParser("").ParseDocument(strings.NewReader(doc), "sample.admx", table)
	require.NoError(t, err)
	return result
}

func TestADMXParser_CanParse(t *testing.T) {
	p := NewADMXParser("")
	assert.True(t, p.CanParse(".admx"))
	assert.True(t, p.CanParse(".ADMX"))
	assert.False(t, p.CanParse(".adml"))
}

func TestParseDocument_PreservesDocumentOrder(t *testing.T) {
	result := parseSample(t, sampleADMX, sampleStrings)

	require.Len(t, result.Policies, 3)
	assert.Equal(t, "Pol_Enable", result.Policies[0].ID)
	assert.Equal(t, "Pol_Elements", result.Policies[1].ID)
	assert.Equal(t, "Pol_Both", result.Policies[2].ID)
	assert.Empty(t, result.Warnings)
	assert.Len(t, result.Categories, 2)
}

func TestParseDocument_ResolvesStringsAndCategory(t *testing.T) {
	result := parseSample(t, sampleADMX, sampleStrings)
	rec := result.Policies[0]

	assert.Equal(t, "Enable testing", rec.DisplayName)
	assert.Equal(t, "Enables the test feature.", rec.Description)
	assert.Equal(t, ScopeMachine, rec.Scope)
	assert.Equal(t, []string{"Test Root", "Test Child"}, rec.Category)
	assert.Equal(t, "Test Root > Test Child", rec.CategoryPath)
	assert.Equal(t, `Software\Policies\Test`, rec.RegistryKey)
	assert.Equal(t, []RegistryBinding{{ValueName: "Enable", ValueType: RegDWORD}}, rec.RegistryBindings)
	assert.Equal(t, "sample.admx", rec.SourceFile)
}

func TestParseDocument_ElementBindings(t *testing.T) {
	result := parseSample(t, sampleADMX, sampleStrings)
	rec := result.Policies[1]

	assert.Equal(t, ScopeUser, rec.Scope)
	assert.Equal(t, "", rec.Description)
	assert.Equal(t, "Test Root", rec.CategoryPath)
	assert.Equal(t, `Software\Policies\Test\Elements`, rec.RegistryKey)
	assert.Equal(t, []RegistryBinding{
		{ValueName: "TimeoutSeconds", ValueType: RegDWORD},
		{ValueName: "Path", ValueType: RegExpandSZ},
		{ValueName: "Servers", ValueType: RegMultiSZ},
		{ValueName: "Mode", ValueType: RegSZ},
		{ValueName: "Flag", ValueType: RegDWORD},
		{ValueName: "Quota", ValueType: RegQWORD},
		{ValueName: "Hosts", ValueType: RegSZ},
	}, rec.RegistryBindings)
}

func TestParseDocument_FallbacksAndCrossFileCategory(t *testing.T) {
	result := parseSample(t, sampleADMX, sampleStrings)
	rec := result.Policies[2]

	assert.Equal(t, "Pol_Both", rec.DisplayName)
	assert.Equal(t, ScopeUser, rec.Scope)
	assert.Empty(t, rec.Category)
	assert.Equal(t, "", rec.CategoryPath)
	assert.NotNil(t, rec.RegistryBindings)
	assert.Empty(t, rec.RegistryBindings)
}

func TestParseDocument_NoStringTable(t *testing.T) {
	result := parseSample(t, sampleADMX, nil)

	require.Len(t, result.Policies, 3)
	for _, rec := range result.Policies {
		assert.Equal(t, rec.ID, rec.DisplayName)
		assert.Equal(t, "", rec.Description)
	}
	assert.Equal(t, "Cat_Root > Cat_Child", result.Policies[0].CategoryPath)
}

func TestParseDocument_NoDisplayNameReference(t *testing.T) {
	doc := `<policyDefinitions><policies><policy name="Bare" class="User"/></policies></policyDefinitions>`
	result := parseSample(t, doc, StringTable{"Bare": "should not be used as display name key"})

	require.Len(t, result.Policies, 1)
	assert.Equal(t, "Bare", result.Policies[0].DisplayName)
}

func TestParseDocument_MachineScopeDirectKeyAndValue(t *testing.T) {
	doc := `<policyDefinitions>
  <policies>
    <policy name="P" class="Machine" key="Software\Policies\Test">
      <value valueName="Enabled" valueType="REG_DWORD" />
    </policy>
  </policies>
</policyDefinitions>`
	result := parseSample(t, doc, nil)

	require.Len(t, result.Policies, 1)
	rec := result.Policies[0]
	assert.Equal(t, ScopeMachine, rec.Scope)
	assert.Equal(t, `Software\Policies\Test`, rec.RegistryKey)
	assert.Equal(t, []RegistryBinding{{ValueName: "Enabled", ValueType: "REG_DWORD"}}, rec.RegistryBindings)
}

func TestParseDocument_ScopeIsCaseInsensitive(t *testing.T) {
	doc := `<policyDefinitions><policies>
  <policy name="A" class="MACHINE"/>
  <policy name="B" class="machine"/>
  <policy name="C"/>
  <policy name="D" class="Both"/>
</policies></policyDefinitions>`
	result := parseSample(t, doc, nil)

	require.Len(t, result.Policies, 4)
	assert.Equal(t, ScopeMachine, result.Policies[0].Scope)
	assert.Equal(t, ScopeMachine, result.Policies[1].Scope)
	assert.Equal(t, ScopeUser, result.Policies[2].Scope)
	assert.Equal(t, ScopeUser, result.Policies[3].Scope)
}

func TestParseDocument_MergesAllBindingShapes(t *testing.T) {
	doc := `<policyDefinitions><policies>
  <policy name="Merged" class="Machine">
    <registryKey key="Software\Direct" valueName="Direct" valueType="REG_SZ"/>
    <registrySettings key="Software\Settings" valueName="Setting"/>
    <value valueName="Declared"/>
    <elements>
      <text id="Input" key="Software\Element"/>
      <decimal valueName="NoID"/>
    </elements>
  </policy>
</policies></policyDefinitions>`
	result := parseSample(t, doc, nil)

	require.Len(t, result.Policies, 1)
	rec := result.Policies[0]
	assert.Equal(t, `Software\Direct`, rec.RegistryKey)
	assert.Equal(t, []RegistryBinding{
		{ValueName: "Direct", ValueType: RegSZ},
		{ValueName: "Setting", ValueType: RegSZ},
		{ValueName: "Declared", ValueType: RegSZ},
		{ValueName: "Input", ValueType: RegSZ},
	}, rec.RegistryBindings)
}

func TestParseDocument_RegistrySettingsKeyWhenNoDirectKey(t *testing.T) {
	doc := `<policyDefinitions><policies>
  <policy name="S" parentCategory="Cat">
    <registrySettings key="Software\Settings" valueName="V" valueType="REG_DWORD"/>
  </policy>
</policies>
<categories><category name="Cat"/></categories>
</policyDefinitions>`
	result := parseSample(t, doc, StringTable{"Cat": "Settings"})

	require.Len(t, result.Policies, 1)
	rec := result.Policies[0]
	assert.Equal(t, `Software\Settings`, rec.RegistryKey)
	assert.Equal(t, []RegistryBinding{{ValueName: "V", ValueType: RegDWORD}}, rec.RegistryBindings)
	assert.Equal(t, "Settings", rec.CategoryPath)
}

func TestParseDocument_DirectTypeFromEnabledValue(t *testing.T) {
	doc := `<policyDefinitions><policies>
  <policy name="S" key="K" valueName="Str"><enabledValue><string>on</string></enabledValue></policy>
  <policy name="Q" key="K" valueName="Big"><enabledValue><longDecimal value="1"/></enabledValue></policy>
  <policy name="D" key="K" valueName="Plain"/>
</policies></policyDefinitions>`
	result := parseSample(t, doc, nil)

	require.Len(t, result.Policies, 3)
	assert.Equal(t, RegSZ, result.Policies[0].RegistryBindings[0].ValueType)
	assert.Equal(t, RegQWORD, result.Policies[1].RegistryBindings[0].ValueType)
	assert.Equal(t, RegDWORD, result.Policies[2].RegistryBindings[0].ValueType)
}

func TestParseDocument_SkipsNamelessPolicies(t *testing.T) {
	doc := `<policyDefinitions><policies>
  <policy class="Machine"/>
  <policy name="Good"/>
  <policy name="Other"/>
</policies></policyDefinitions>`
	result := parseSample(t, doc, nil)

	require.Len(t, result.Policies, 2)
	assert.Equal(t, "Good", result.Policies[0].ID)
	assert.Equal(t, "Other", result.Policies[1].ID)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, ErrMissingPolicyName.Error(), result.Warnings[0].Message)
	assert.Equal(t, "sample.admx", result.Warnings[0].File)
}

func TestParseDocument_KeepsRepeatedPolicyNames(t *testing.T) {
	doc := `<policyDefinitions><policies>
  <policy name="Dup" class="Machine" key="Software\A" valueName="First"/>
  <policy name="Other"/>
  <policy name="Dup" class="User" key="Software\B" valueName="Second"/>
  <policy name="Dup"/>
</policies></policyDefinitions>`
	result := parseSample(t, doc, nil)

	require.Len(t, result.Policies, 4, "every named <policy> yields a record")
	assert.Equal(t, []int{0, 0, 1, 2}, []int{
		result.Policies[0].Occurrence, result.Policies[1].Occurrence,
		result.Policies[2].Occurrence, result.Policies[3].Occurrence,
	})
	assert.Equal(t, `Software\A`, result.Policies[0].RegistryKey)
	assert.Equal(t, `Software\B`, result.Policies[2].RegistryKey)
	assert.Equal(t, ScopeUser, result.Policies[2].Scope)

	require.Len(t, result.Warnings, 2)
	for _, w := range result.Warnings {
		assert.Equal(t, "Dup", w.Policy)
		assert.Contains(t, w.Message, ErrDuplicatePolicy.Error())
	}
}

func TestParseDocument_EmptyDisplayStringIsKept(t *testing.T) {
	doc := `<policyDefinitions><policies>
  <policy name="P" displayName="$(string.Empty)"/>
  <policy name="Q" displayName="$(string.Missing)"/>
</policies></policyDefinitions>`
	result := parseSample(t, doc, StringTable{"Empty": ""})

	require.Len(t, result.Policies, 2)
	assert.Equal(t, "", result.Policies[0].DisplayName)
	assert.Equal(t, "Q", result.Policies[1].DisplayName)
}

func TestParseDocument_CountPreservation(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<policyDefinitions><policies>")
	for i := 0; i < 50; i++ {
		sb.WriteString(`<policy name="P`)
		sb.WriteString(strings.Repeat("x", i+1))
		sb.WriteString(`"/>`)
	}
	sb.WriteString("</policies></policyDefinitions>")

	result := parseSample(t, sb.String(), nil)
	assert.Len(t, result.Policies, 50)
}

func TestParseDocument_Errors(t *testing.T) {
	p := NewADMXParser("")

	_, err := p.ParseDocument(strings.NewReader(`<policyDefinitions><policies>`), "broken.admx", nil)
	assert.Error(t, err)

	_, err = p.ParseDocument(strings.NewReader(`<policyDefinitionResources/>`), "x.admx", nil)
	assert.True(t, errors.Is(err, ErrNotTemplate))
}

func TestADMXParser_Parse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Sample.admx")
	require.NoError(t, os.WriteFile(path, []byte(sampleADMX), 0o644))

	result, err := NewADMXParser("/").Parse(path, sampleStrings)
	require.NoError(t, err)

	assert.Equal(t, path, result.FilePath)
	assert.Equal(t, "Sample.admx", result.FileName)
	assert.Equal(t, "Test Root/Test Child", result.Policies[0].CategoryPath)
	assert.Equal(t, "Sample.admx", result.Policies[0].SourceFile)
}

func TestStringKey(t *testing.T) {
	tests := []struct {
		ref  string
		key  string
		want bool
	}{
		{"$(string.Foo)", "Foo", true},
		{"$(string.Foo_Help)", "Foo_Help", true},
		{"Foo", "Foo", true},
		{"$(presentation.Foo)", "", false},
		{"", "", false},
		{"   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			key, ok := stringKey(tt.ref)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.key, key)
		})
	}
}
