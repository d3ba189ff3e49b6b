package tools

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"sigs.k8s.io/yaml"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Catalog holds operation descriptors keyed by name. It is read-only after
// loading.
type Catalog struct {
	ops   map[string]domain.OperationDescriptor
	order []string
}

type catalogFile struct {
	Operations []domain.OperationDescriptor `json:"operations"`
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the embedded catalog. It panics if the embedded file
// is invalid.
func DefaultCatalog() *Catalog {
	defaultCatalogOnce.Do(func() {
		c, err := LoadCatalog(catalogYAML)
		if err != nil {
			panic(fmt.Sprintf("invalid embedded catalog: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// LoadCatalog parses a YAML catalog document.
func LoadCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return NewCatalog(file.Operations)
}

// NewCatalog builds a catalog from descriptors, rejecting duplicates and
// malformed entries.
func NewCatalog(descriptors []domain.OperationDescriptor) (*Catalog, error) {
	c := &Catalog{ops: make(map[string]domain.OperationDescriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("operation name is required")
		}
		if _, exists := c.ops[d.Name]; exists {
			return nil, fmt.Errorf("operation %s declared twice", d.Name)
		}
		if !d.Category.Valid() {
			return nil, fmt.Errorf("operation %s has unknown category %q", d.Name, d.Category)
		}
		if len(d.Parameters) == 0 {
			d.Parameters = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		var schema map[string]any
		if err := json.Unmarshal(d.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("operation %s has invalid parameter schema: %w", d.Name, err)
		}
		if d.Label == "" {
			d.Label = d.Name
		}
		c.ops[d.Name] = d
		c.order = append(c.order, d.Name)
	}
	return c, nil
}

// Lookup returns the descriptor for name.
func (c *Catalog) Lookup(name string) (domain.OperationDescriptor, bool) {
	d, ok := c.ops[name]
	return d, ok
}

// List returns all descriptors in declaration order.
func (c *Catalog) List() []domain.OperationDescriptor {
	out := make([]domain.OperationDescriptor, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.ops[name])
	}
	return out
}

// Names returns all operation names in declaration order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// Declarations returns the tool declarations sent to the model.
func (c *Catalog) Declarations() []domain.ToolDeclaration {
	out := make([]domain.ToolDeclaration, 0, len(c.order))
	for _, name := range c.order {
		d := c.ops[name]
		out = append(out, domain.ToolDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}
