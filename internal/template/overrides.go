package template

import (
	"fmt"
	"os"
	"strings"

	"github.com/ahammedyusufb/exsa-engine/pkg/types"
	"gopkg.in/yaml.v3"
)

// Overrides lets an operator replace the built-in templates without a
// code change, loaded from the file named by TEMPLATES_FILE.
type Overrides struct {
	Families map[Family]OverrideEntry `yaml:"families"`
}

// OverrideEntry replaces both the render behavior and stop strings for a
// family. Preamble/TurnTemplate/Epilogue follow the common "wrap each turn" shape
// used by most local chat templates; {{role}} and {{content}} are
// substituted per message.
type OverrideEntry struct {
	TurnTemplate string   `yaml:"turn_template"`
	Preamble     string   `yaml:"preamble"`
	Epilogue     string   `yaml:"epilogue"`
	DefaultStops []string `yaml:"default_stops"`
}

// LoadOverrides reads and parses path as a template override file. An
// empty path is not an error; it simply yields no overrides.
func LoadOverrides(path string) (*Overrides, error) {
	if path == "" {
		return &Overrides{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template overrides %q: %w", path, err)
	}
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parsing template overrides %q: %w", path, err)
	}
	for family := range o.Families {
		if !family.IsValid() {
			return nil, fmt.Errorf("template overrides %q: unknown family %q", path, family)
		}
	}
	return &o, nil
}

// Apply installs overridden renderers into the package-level registry.
// It is called once during startup after [LoadOverrides].
func (o *Overrides) Apply() {
	if o == nil {
		return
	}
	for family, entry := range o.Families {
		registry[family] = overrideRenderer{entry: entry}
	}
}

type overrideRenderer struct {
	entry OverrideEntry
}

func (r overrideRenderer) DefaultStops() []string { return r.entry.DefaultStops }

func (r overrideRenderer) Render(messages []types.Message) string {
	var b strings.Builder
	b.WriteString(r.entry.Preamble)
	for _, m := range messages {
		turn := strings.ReplaceAll(r.entry.TurnTemplate, "{{role}}", string(m.Role))
		turn = strings.ReplaceAll(turn, "{{content}}", m.Content)
		b.WriteString(turn)
	}
	b.WriteString(r.entry.Epilogue)
	return b.String()
}
