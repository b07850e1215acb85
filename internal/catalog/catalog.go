// Package catalog is the read-only template and fragment descriptor catalog
// the composition engine validates against. Descriptors are JSON files; a
// default catalog is embedded and a directory can be supplied to replace it.
package catalog

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed defaults/templates/*.json defaults/styles/*.css
var defaultsFS embed.FS

var (
	ErrUnknownTemplate = errors.New("unknown template")
	ErrUnknownFragment = errors.New("unknown fragment")
	ErrUnknownStyle    = errors.New("unknown style")
)

// ValidationError reports schema violations in a parameter payload.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid parameters: " + strings.Join(e.Problems, "; ")
}

// FragmentKind describes one fragment template a document template accepts.
type FragmentKind struct {
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
}

// Template is one document template descriptor.
type Template struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Description   string                  `json:"description,omitempty"`
	DefaultStyle  string                  `json:"default_style"`
	ShellHTML     string                  `json:"shell_html,omitempty"`
	GlobalsSchema json.RawMessage         `json:"globals_schema"`
	Fragments     map[string]FragmentKind `json:"fragments"`
}

// FragmentIDs returns the fragment kinds this template accepts, sorted.
func (t Template) FragmentIDs() []string {
	ids := make([]string, 0, len(t.Fragments))
	for id := range t.Fragments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type compiledTemplate struct {
	descriptor      Template
	requiredGlobals []string
	// globals schema with "required" stripped, so partial merges validate
	partialGlobals *gojsonschema.Schema
	fragments      map[string]*gojsonschema.Schema
}

// Catalog holds parsed template descriptors and style sheets.
type Catalog struct {
	templates map[string]*compiledTemplate
	styles    map[string]string
}

// Load builds a catalog from dir, or from the embedded defaults when dir is
// empty.
func Load(dir string) (*Catalog, error) {
	if dir == "" {
		sub, err := fs.Sub(defaultsFS, "defaults")
		if err != nil {
			return nil, err
		}
		return loadFS(sub)
	}
	return loadFS(os.DirFS(dir))
}

func loadFS(fsys fs.FS) (*Catalog, error) {
	c := &Catalog{
		templates: make(map[string]*compiledTemplate),
		styles:    make(map[string]string),
	}

	templateFiles, err := fs.Glob(fsys, "templates/*.json")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	if len(templateFiles) == 0 {
		return nil, fmt.Errorf("catalog has no template descriptors")
	}
	for _, name := range templateFiles {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var descriptor Template
		if err := json.Unmarshal(raw, &descriptor); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		if descriptor.ID == "" {
			return nil, fmt.Errorf("parse %s: descriptor has no id", name)
		}
		compiled, err := compileTemplate(descriptor)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", descriptor.ID, err)
		}
		c.templates[descriptor.ID] = compiled
	}

	styleFiles, err := fs.Glob(fsys, "styles/*.css")
	if err != nil {
		return nil, fmt.Errorf("list styles: %w", err)
	}
	for _, name := range styleFiles {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		id := strings.TrimSuffix(path.Base(name), ".css")
		c.styles[id] = string(raw)
	}

	return c, nil
}

func compileTemplate(descriptor Template) (*compiledTemplate, error) {
	compiled := &compiledTemplate{
		descriptor: descriptor,
		fragments:  make(map[string]*gojsonschema.Schema),
	}

	if len(descriptor.GlobalsSchema) > 0 {
		var schemaDoc map[string]any
		if err := json.Unmarshal(descriptor.GlobalsSchema, &schemaDoc); err != nil {
			return nil, fmt.Errorf("globals schema: %w", err)
		}
		if required, ok := schemaDoc["required"].([]any); ok {
			for _, entry := range required {
				if key, ok := entry.(string); ok {
					compiled.requiredGlobals = append(compiled.requiredGlobals, key)
				}
			}
		}
		// Required keys are only enforced at render time; merges arrive in
		// partial maps that must still type-check.
		delete(schemaDoc, "required")
		partialRaw, err := json.Marshal(schemaDoc)
		if err != nil {
			return nil, fmt.Errorf("globals schema: %w", err)
		}
		partial, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(partialRaw))
		if err != nil {
			return nil, fmt.Errorf("globals schema: %w", err)
		}
		compiled.partialGlobals = partial
	}

	for fragmentID, kind := range descriptor.Fragments {
		if len(kind.Schema) == 0 {
			return nil, fmt.Errorf("fragment %s has no schema", fragmentID)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(kind.Schema))
		if err != nil {
			return nil, fmt.Errorf("fragment %s schema: %w", fragmentID, err)
		}
		compiled.fragments[fragmentID] = schema
	}

	return compiled, nil
}

// Templates lists descriptors sorted by ID.
func (c *Catalog) Templates() []Template {
	out := make([]Template, 0, len(c.templates))
	for _, compiled := range c.templates {
		out = append(out, compiled.descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the descriptor for templateID.
func (c *Catalog) Get(templateID string) (Template, error) {
	compiled, ok := c.templates[templateID]
	if !ok {
		return Template{}, ErrUnknownTemplate
	}
	return compiled.descriptor, nil
}

// ValidateFragment checks params against the fragment kind's schema.
func (c *Catalog) ValidateFragment(templateID, fragmentID string, params map[string]any) error {
	compiled, ok := c.templates[templateID]
	if !ok {
		return ErrUnknownTemplate
	}
	schema, ok := compiled.fragments[fragmentID]
	if !ok {
		return ErrUnknownFragment
	}
	return validate(schema, params)
}

// ValidateGlobals checks a partial global-parameter map against the
// template's globals schema. Required keys are not enforced here.
func (c *Catalog) ValidateGlobals(templateID string, params map[string]any) error {
	compiled, ok := c.templates[templateID]
	if !ok {
		return ErrUnknownTemplate
	}
	if compiled.partialGlobals == nil {
		return nil
	}
	return validate(compiled.partialGlobals, params)
}

// MissingGlobals returns the required global parameters not present in
// globals, in declaration order.
func (c *Catalog) MissingGlobals(templateID string, globals map[string]any) ([]string, error) {
	compiled, ok := c.templates[templateID]
	if !ok {
		return nil, ErrUnknownTemplate
	}
	var missing []string
	for _, key := range compiled.requiredGlobals {
		if _, present := globals[key]; !present {
			missing = append(missing, key)
		}
	}
	return missing, nil
}

// Style resolves styleID to its CSS text. An empty styleID resolves to the
// template's default style.
func (c *Catalog) Style(templateID, styleID string) (string, error) {
	compiled, ok := c.templates[templateID]
	if !ok {
		return "", ErrUnknownTemplate
	}
	if styleID == "" {
		styleID = compiled.descriptor.DefaultStyle
	}
	css, ok := c.styles[styleID]
	if !ok {
		return "", ErrUnknownStyle
	}
	return css, nil
}

func validate(schema *gojsonschema.Schema, params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		problems = append(problems, issue.String())
	}
	return &ValidationError{Problems: problems}
}
