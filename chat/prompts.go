package chat

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/mukasc/genexus-ai-assistant/domain"
)

//go:embed prompts/catalog.yaml
var defaultCatalog []byte

// DefaultTemplate is used when no template is configured.
const DefaultTemplate = "genexus-assistant"

// PromptData is what a template body is rendered with.
type PromptData struct {
	Context  string
	Question string
	Language string
}

// Template is one versioned answer prompt.
type Template struct {
	Name        string `yaml:"name"`
	Version     int    `yaml:"version"`
	Description string `yaml:"description"`
	Body        string `yaml:"body"`

	tmpl *template.Template
}

// ID returns name@version.
func (t *Template) ID() string {
	return t.Name + "@" + strconv.Itoa(t.Version)
}

func (t *Template) Render(data PromptData) (string, error) {
	var sb strings.Builder
	if err := t.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", t.ID(), err)
	}
	return sb.String(), nil
}

type PromptCatalog struct {
	templates []*Template
}

// LoadPromptCatalog reads the catalog at path, or the built-in one when path
// is empty.
func LoadPromptCatalog(path string) (*PromptCatalog, error) {
	data := defaultCatalog
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read prompt catalog: %v", domain.ErrConfiguration, err)
		}
		data = raw
	}
	return ParsePromptCatalog(data)
}

func ParsePromptCatalog(data []byte) (*PromptCatalog, error) {
	var doc struct {
		Templates []*Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse prompt catalog: %v", domain.ErrConfiguration, err)
	}
	if len(doc.Templates) == 0 {
		return nil, fmt.Errorf("%w: prompt catalog has no templates", domain.ErrConfiguration)
	}

	seen := make(map[string]struct{}, len(doc.Templates))
	for _, t := range doc.Templates {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" || strings.TrimSpace(t.Body) == "" {
			return nil, fmt.Errorf("%w: prompt template needs a name and a body", domain.ErrConfiguration)
		}
		if _, dup := seen[t.ID()]; dup {
			return nil, fmt.Errorf("%w: duplicate prompt template %s", domain.ErrConfiguration, t.ID())
		}
		seen[t.ID()] = struct{}{}

		tmpl, err := template.New(t.ID()).Option("missingkey=error").Parse(t.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: parse template %s: %v", domain.ErrConfiguration, t.ID(), err)
		}
		t.tmpl = tmpl
	}

	sort.SliceStable(doc.Templates, func(i, j int) bool {
		if doc.Templates[i].Name != doc.Templates[j].Name {
			return doc.Templates[i].Name < doc.Templates[j].Name
		}
		return doc.Templates[i].Version < doc.Templates[j].Version
	})
	return &PromptCatalog{templates: doc.Templates}, nil
}

// Select resolves "name" to the highest version of that template, or
// "name@version" to an exact one. An empty ref selects DefaultTemplate.
func (c *PromptCatalog) Select(ref string) (*Template, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = DefaultTemplate
	}
	name, version := ref, 0
	if at := strings.LastIndex(ref, "@"); at >= 0 {
		name = ref[:at]
		v, err := strconv.Atoi(strings.TrimPrefix(ref[at+1:], "v"))
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("%w: invalid template version in %q", domain.ErrConfiguration, ref)
		}
		version = v
	}

	var found *Template
	for _, t := range c.templates {
		if t.Name != name {
			continue
		}
		if version == 0 || t.Version == version {
			found = t
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: unknown prompt template %q (available: %s)", domain.ErrConfiguration, ref, strings.Join(c.IDs(), ", "))
	}
	return found, nil
}

func (c *PromptCatalog) IDs() []string {
	ids := make([]string, 0, len(c.templates))
	for _, t := range c.templates {
		ids = append(ids, t.ID())
	}
	return ids
}
