package chat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukasc/genexus-ai-assistant/domain"
)

func TestBuiltinCatalog(t *testing.T) {
	catalog, err := LoadPromptCatalog("")
	require.NoError(t, err)
	assert.Equal(t, []string{"best-practices@2", "genexus-assistant@3", "strict@1"}, catalog.IDs())

	tmpl, err := catalog.Select("")
	require.NoError(t, err)
	assert.Equal(t, "genexus-assistant@3", tmpl.ID())

	for _, id := range catalog.IDs() {
		tmpl, err := catalog.Select(id)
		require.NoError(t, err)

		out, err := tmpl.Render(PromptData{Context: "CONTEXT-BLOCK", Question: "QUESTION-TEXT", Language: "Brazilian Portuguese"})
		require.NoError(t, err)
		assert.Contains(t, out, "CONTEXT-BLOCK", id)
		assert.Contains(t, out, "QUESTION-TEXT", id)
		assert.Contains(t, out, "Brazilian Portuguese", id)
		assert.Contains(t, out, "```genexus", id)
	}
}

func TestSelectVersions(t *testing.T) {
	catalog, err := ParsePromptCatalog([]byte(`
templates:
  - name: qa
    version: 2
    body: "two {{.Question}}"
  - name: qa
    version: 1
    body: "one {{.Question}}"
`))
	require.NoError(t, err)

	latest, err := catalog.Select("qa")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	first, err := catalog.Select("qa@v1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	_, err = catalog.Select("qa@3")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	_, err = catalog.Select("qa@x")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	_, err = catalog.Select("missing")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestParsePromptCatalogErrors(t *testing.T) {
	cases := map[string]string{
		"empty":     "templates: []",
		"no body":   "templates:\n  - name: a\n    version: 1\n",
		"duplicate": "templates:\n  - {name: a, version: 1, body: x}\n  - {name: a, version: 1, body: y}\n",
		"bad body":  "templates:\n  - {name: a, version: 1, body: '{{.Context'}\n",
		"not yaml":  "templates: [",
	}
	for name, data := range cases {
		_, err := ParsePromptCatalog([]byte(data))
		assert.ErrorIs(t, err, domain.ErrConfiguration, name)
	}
}

func TestRenderUnknownFieldFails(t *testing.T) {
	catalog, err := ParsePromptCatalog([]byte("templates:\n  - {name: a, version: 1, body: '{{.Nope}}'}\n"))
	require.NoError(t, err)
	tmpl, err := catalog.Select("a")
	require.NoError(t, err)
	_, err = tmpl.Render(PromptData{})
	assert.Error(t, err)
}

func TestLoadPromptCatalogOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("templates:\n  - {name: custom, version: 1, body: 'Q={{.Question}}'}\n"), 0o600))

	catalog, err := LoadPromptCatalog(path)
	require.NoError(t, err)
	tmpl, err := catalog.Select("custom")
	require.NoError(t, err)
	out, err := tmpl.Render(PromptData{Question: "why"})
	require.NoError(t, err)
	assert.Equal(t, "Q=why", out)

	_, err = LoadPromptCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
