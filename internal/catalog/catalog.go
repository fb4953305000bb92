// Package catalog holds the read-only table of known source categories,
// their sources and the properties worth extracting from them. A catalog is
// loaded once and never mutated.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DefaultModules is the module count a wildcard source expands to when the
// category does not set one.
const DefaultModules = 16

//go:embed default.toml
var defaultTOML []byte

var (
	ErrUnknownCategory = errors.New("catalog: unknown category")
	ErrInvalidCatalog  = errors.New("catalog: invalid catalog")
)

type fileCategory struct {
	Name             string              `toml:"name"`
	Exclusive        bool                `toml:"exclusive"`
	Modules          int                 `toml:"modules"`
	Sources          []string            `toml:"sources"`
	Properties       []string            `toml:"properties"`
	SuffixProperties map[string][]string `toml:"suffix_properties"`
}

type fileCatalog struct {
	Categories []fileCategory `toml:"categories"`
}

// Category is one immutable catalog entry.
type Category struct {
	name      string
	exclusive bool
	modules   int
	sources   []string
	props     []string
	suffix    map[string][]string
}

func (c Category) Name() string    { return c.name }
func (c Category) Exclusive() bool { return c.exclusive }
func (c Category) Modules() int    { return c.modules }
func (c Category) Sources() []string {
	return append([]string(nil), c.sources...)
}

// PropertiesFor returns the properties for source, preferring the list
// registered for the source's ":suffix".
func (c Category) PropertiesFor(source string) []string {
	if i := strings.LastIndexByte(source, ':'); i >= 0 {
		if props, ok := c.suffix[source[i+1:]]; ok {
			return append([]string(nil), props...)
		}
	}
	return append([]string(nil), c.props...)
}

// Catalog is an immutable set of categories.
type Catalog struct {
	order      []string
	categories map[string]Category
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultTOML)
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in catalog: %v", err))
	}
	return c
}

// DefaultTemplate returns the built-in catalog source.
func DefaultTemplate() string {
	return string(defaultTOML)
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog load failed (%s): %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog parse failed (%s): %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog TOML.
func Parse(data []byte) (*Catalog, error) {
	var raw fileCatalog
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	c := &Catalog{categories: make(map[string]Category, len(raw.Categories))}
	for i, fc := range raw.Categories {
		name := strings.TrimSpace(fc.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: categories[%d].name is required", ErrInvalidCatalog, i)
		}
		if _, dup := c.categories[name]; dup {
			return nil, fmt.Errorf("%w: duplicate category %q", ErrInvalidCatalog, name)
		}
		if fc.Modules < 0 {
			return nil, fmt.Errorf("%w: category %q has negative modules", ErrInvalidCatalog, name)
		}
		modules := fc.Modules
		if modules == 0 {
			modules = DefaultModules
		}
		suffix := make(map[string][]string, len(fc.SuffixProperties))
		for k, v := range fc.SuffixProperties {
			suffix[k] = append([]string(nil), v...)
		}
		c.categories[name] = Category{
			name:      name,
			exclusive: fc.Exclusive,
			modules:   modules,
			sources:   append([]string(nil), fc.Sources...),
			props:     append([]string(nil), fc.Properties...),
			suffix:    suffix,
		}
		c.order = append(c.order, name)
	}
	return c, nil
}

// Names lists category names in file order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

func (c *Catalog) Category(name string) (Category, error) {
	cat, ok := c.categories[name]
	if !ok {
		return Category{}, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
	}
	return cat, nil
}

// Exclusive lists the categories that may not be selected together.
func (c *Catalog) Exclusive() []string {
	var out []string
	for _, name := range c.order {
		if c.categories[name].exclusive {
			out = append(out, name)
		}
	}
	return out
}

// CategoryOf finds the category listing source, matching wildcard entries
// against expanded module names.
func (c *Catalog) CategoryOf(source string) (string, bool) {
	for _, name := range c.order {
		cat := c.categories[name]
		for _, s := range cat.sources {
			if s == source {
				return name, true
			}
			if strings.Contains(s, "*") {
				for _, m := range ExpandModules(s, cat.modules) {
					if m == source {
						return name, true
					}
				}
			}
		}
	}
	return "", false
}

// ExpandModules replaces the first "*" in source with 0..n-1. Sources
// without a wildcard expand to nothing.
func ExpandModules(source string, n int) []string {
	i := strings.IndexByte(source, '*')
	if i < 0 || n <= 0 {
		return nil
	}
	out := make([]string, n)
	for m := 0; m < n; m++ {
		out[m] = source[:i] + strconv.Itoa(m) + source[i+1:]
	}
	return out
}

// Summary is a serializable view of one category.
type Summary struct {
	Name       string   `json:"name"`
	Exclusive  bool     `json:"exclusive"`
	Modules    int      `json:"modules"`
	Sources    []string `json:"sources"`
	Properties []string `json:"properties"`
}

// Summaries lists categories for display, sorted by name.
func (c *Catalog) Summaries() []Summary {
	out := make([]Summary, 0, len(c.order))
	for _, name := range c.order {
		cat := c.categories[name]
		out = append(out, Summary{
			Name:       cat.name,
			Exclusive:  cat.exclusive,
			Modules:    cat.modules,
			Sources:    cat.Sources(),
			Properties: append([]string(nil), cat.props...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
