// ABOUTME: YAML seed file loading for contexts and their capabilities
// ABOUTME: Used by the CLI to populate the store from declarative definitions

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the top-level shape of a context seed file.
type SeedFile struct {
	Contexts []SeedContext `yaml:"contexts"`
}

// SeedContext declares one context and its capabilities.
type SeedContext struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Tools     []SeedTool     `yaml:"tools"`
	Resources []SeedResource `yaml:"resources"`
	Prompts   []SeedPrompt   `yaml:"prompts"`
	Roots     []Root         `yaml:"roots"`
}

// SeedTool declares a tool. InputSchema is written as a YAML mapping and
// converted to the JSON document stored alongside the tool.
type SeedTool struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	InputSchema map[string]any `yaml:"input_schema"`
	Handler     SeedHandler    `yaml:"handler"`
}

// SeedResource declares a resource, static or dynamic.
type SeedResource struct {
	URI         string       `yaml:"uri"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	MIMEType    string       `yaml:"mime_type"`
	Content     string       `yaml:"content"`
	Handler     *SeedHandler `yaml:"handler"`
}

// SeedPrompt declares a prompt template.
type SeedPrompt struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Arguments   []PromptArg `yaml:"arguments"`
	Template    string      `yaml:"template"`
}

// SeedHandler pairs a handler type with its config.
type SeedHandler struct {
	Type   HandlerType   `yaml:"type"`
	Config HandlerConfig `yaml:",inline"`
}

// LoadSeedFile parses a YAML seed file from disk.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	if len(seed.Contexts) == 0 {
		return nil, fmt.Errorf("seed file declares no contexts")
	}
	return &seed, nil
}

// Apply writes every context in the seed file into the store. Existing
// contexts are updated in place: their capabilities are upserted.
func (f *SeedFile) Apply(ctx context.Context, s Store) error {
	for _, sc := range f.Contexts {
		if sc.ID == "" {
			return fmt.Errorf("seed context missing id")
		}

		c, err := sc.toContext()
		if err != nil {
			return fmt.Errorf("context %q: %w", sc.ID, err)
		}

		err = s.CreateContext(ctx, c)
		if errors.Is(err, ErrDuplicateContext) {
			err = upsertCapabilities(ctx, s, c)
		}
		if err != nil {
			return fmt.Errorf("seeding context %q: %w", sc.ID, err)
		}
	}
	return nil
}

// toContext converts the seed declaration into a store Context.
func (sc *SeedContext) toContext() (*Context, error) {
	c := &Context{
		ID:    sc.ID,
		Name:  sc.Name,
		Roots: sc.Roots,
	}

	for _, st := range sc.Tools {
		schemaJSON, err := json.Marshal(st.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q: encoding input schema: %w", st.Name, err)
		}
		if st.InputSchema == nil {
			schemaJSON = []byte(`{}`)
		}
		c.Tools = append(c.Tools, ToolDef{
			Name:          st.Name,
			Description:   st.Description,
			InputSchema:   schemaJSON,
			HandlerType:   st.Handler.Type,
			HandlerConfig: st.Handler.Config,
		})
	}

	for _, sr := range sc.Resources {
		r := ResourceDef{
			URI:         sr.URI,
			Name:        sr.Name,
			Description: sr.Description,
			MIMEType:    sr.MIMEType,
			Content:     sr.Content,
		}
		if sr.Handler != nil {
			r.HandlerType = sr.Handler.Type
			r.HandlerConfig = sr.Handler.Config
		}
		c.Resources = append(c.Resources, r)
	}

	for _, sp := range sc.Prompts {
		c.Prompts = append(c.Prompts, PromptDef{
			Name:        sp.Name,
			Description: sp.Description,
			Arguments:   sp.Arguments,
			Template:    sp.Template,
		})
	}

	return c, nil
}

// upsertCapabilities writes the capability lists of c into an existing context.
func upsertCapabilities(ctx context.Context, s Store, c *Context) error {
	for i := range c.Tools {
		if err := s.PutTool(ctx, c.ID, &c.Tools[i]); err != nil {
			return err
		}
	}
	for i := range c.Resources {
		if err := s.PutResource(ctx, c.ID, &c.Resources[i]); err != nil {
			return err
		}
	}
	for i := range c.Prompts {
		if err := s.PutPrompt(ctx, c.ID, &c.Prompts[i]); err != nil {
			return err
		}
	}
	for i := range c.Roots {
		if err := s.PutRoot(ctx, c.ID, &c.Roots[i]); err != nil {
			return err
		}
	}
	return nil
}
