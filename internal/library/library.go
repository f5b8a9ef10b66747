// Package library loads asset definitions from YAML files. A definition
// declares the parameter schema, inputs, outputs and work networks of one
// generator asset.
package library

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"gopkg.in/yaml.v3"

	"github.com/user/assetlink/internal/asset"
	"github.com/user/assetlink/internal/params"
)

// Asset is one generator definition as written in YAML.
type Asset struct {
	Name       string      `yaml:"name"`
	Version    string      `yaml:"version"`
	Label      string      `yaml:"label"`
	Help       string      `yaml:"help"`
	Parameters []Parameter `yaml:"parameters"`
	Inputs     Inputs      `yaml:"inputs"`
	Outputs    []Output    `yaml:"outputs"`
	Networks   []Network   `yaml:"networks"`
}

type Parameter struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Default any      `yaml:"default"`
	Min     *float64 `yaml:"min"`
	Max     *float64 `yaml:"max"`
	Tokens  []string `yaml:"tokens"`
}

type Inputs struct {
	Node       int      `yaml:"node"`
	Parameters []string `yaml:"parameters"`
}

// Output describes what a cook emits at one output index. Count names an int
// parameter that multiplies the object list; When names a bool parameter
// that must be true for the output to be emitted at all.
type Output struct {
	Type    string   `yaml:"type"`
	Objects []Object `yaml:"objects"`
	Count   string   `yaml:"count_param"`
	When    string   `yaml:"when"`
	Proxy   *bool    `yaml:"proxy"`
}

type Object struct {
	Object    int    `yaml:"object"`
	Geo       int    `yaml:"geo"`
	Part      int    `yaml:"part"`
	Split     string `yaml:"split"`
	Name      string `yaml:"name"`
	Component string `yaml:"component"`
}

type Network struct {
	Path  string `yaml:"path"`
	Nodes []Node `yaml:"nodes"`
}

type Node struct {
	Name      string   `yaml:"name"`
	DependsOn []string `yaml:"depends_on"`
	Items     int      `yaml:"items"`
	FailItems []int    `yaml:"fail_items"`
}

// IsProxy reports whether the output is produced as a proxy. Outputs are
// proxies unless the definition says otherwise.
func (o Output) IsProxy() bool {
	return o.Proxy == nil || *o.Proxy
}

// Definition converts the YAML schema into what an asset instance needs.
func (a *Asset) Definition() asset.Definition {
	def := asset.Definition{
		Name:            a.Name,
		NodeInputs:      a.Inputs.Node,
		InputParameters: append([]string(nil), a.Inputs.Parameters...),
	}
	for _, p := range a.Parameters {
		def.Parameters = append(def.Parameters, params.Definition{
			Name:    p.Name,
			Type:    params.Type(p.Type),
			Default: p.Default,
			Min:     p.Min,
			Max:     p.Max,
			Tokens:  append([]string(nil), p.Tokens...),
		})
	}
	return def
}

func (a *Asset) validate() error {
	if a.Name == "" {
		return fmt.Errorf("asset without a name")
	}
	for _, p := range a.Parameters {
		switch params.Type(p.Type) {
		case params.Bool, params.Int, params.Float, params.String, params.Enum:
		default:
			return fmt.Errorf("asset %s: parameter %q has unknown type %q", a.Name, p.Name, p.Type)
		}
	}
	for i, o := range a.Outputs {
		seen := make(map[string]bool, len(o.Objects))
		for _, obj := range o.Objects {
			key := fmt.Sprintf("%d/%d/%d/%s", obj.Object, obj.Geo, obj.Part, obj.Split)
			if seen[key] {
				return fmt.Errorf("asset %s: output %d declares object %s twice", a.Name, i, key)
			}
			seen[key] = true
		}
	}
	return nil
}

// Library is an in-memory set of asset definitions keyed by name.
type Library struct {
	mu     sync.RWMutex
	assets map[string]*Asset
}

func New() *Library {
	return &Library{assets: make(map[string]*Asset)}
}

// Load reads every .yaml and .yml file in dir.
func Load(dir string) (*Library, error) {
	lib := New()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read library dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		if err := lib.Parse(data); err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
	}
	return lib, nil
}

// Parse decodes one YAML document and adds it to the library. A later
// definition with the same name replaces the earlier one.
func (l *Library) Parse(data []byte) error {
	var a Asset
	if err := yaml.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("decode asset: %w", err)
	}
	return l.Add(&a)
}

func (l *Library) Add(a *Asset) error {
	if err := a.validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assets[a.Name] = a
	return nil
}

// Get resolves an asset reference. A reference may be a bare name or an
// object path such as "/Game/Generators/rock_gen.rock_gen".
func (l *Library) Get(ref string) (*Asset, error) {
	name := ref
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.assets[name]
	if !ok {
		return nil, fmt.Errorf("asset not found: %s", ref)
	}
	return a, nil
}

// List returns the assets sorted by name.
func (l *Library) List() []*Asset {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Asset, 0, len(l.assets))
	for _, a := range l.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Help returns the asset's help text as markdown.
func (l *Library) Help(ref string) (string, error) {
	a, err := l.Get(ref)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(a.Help) == "" {
		return "", nil
	}
	md, err := htmltomarkdown.ConvertString(a.Help)
	if err != nil {
		return "", fmt.Errorf("convert help to markdown: %w", err)
	}
	return strings.TrimSpace(md), nil
}
