package pipeline

import (
	"strings"

	"github.com/danmuck/kbclient/internal/catalog"
)

// Selection asks the broker to extract one property of a source. A "*" in
// Source selects every detector module.
type Selection struct {
	Category string
	Source   string
	Property string
	Slicer   string
	VRange   string

	modules []string
}

// NewSelection builds a selection, expanding a wildcard source into n module
// sources (catalog.DefaultModules when n <= 0).
func NewSelection(category, source, property string, n int) Selection {
	if n <= 0 {
		n = catalog.DefaultModules
	}
	return Selection{
		Category: category,
		Source:   source,
		Property: property,
		modules:  catalog.ExpandModules(source, n),
	}
}

// SelectionFromCatalog looks the category up in c to size the wildcard.
func SelectionFromCatalog(c *catalog.Catalog, category, source, property string) (Selection, error) {
	cat, err := c.Category(category)
	if err != nil {
		return Selection{}, err
	}
	return NewSelection(category, source, property, cat.Modules()), nil
}

func (s Selection) Modules() []string {
	return append([]string(nil), s.modules...)
}

func (s Selection) NModules() int { return len(s.modules) }

// Key identifies the selection in a set.
func (s Selection) Key() string {
	return strings.Join([]string{s.Category, s.Source, s.Property, s.Slicer, s.VRange}, "\x1f")
}
