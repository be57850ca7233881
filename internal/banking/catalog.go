package banking

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed banks.yaml
var defaultCatalog []byte

// Catalog is a set of bank profiles plus the generic fallback
type Catalog struct {
	Default *BankConfig   `yaml:"default"`
	Banks   []*BankConfig `yaml:"banks"`
}

// DefaultCatalog returns the embedded catalog of South African banks
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalogFile reads a catalog from a YAML file. Environment variables in
// the file are expanded.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog([]byte(os.ExpandEnv(string(data))))
}

// ParseCatalog decodes and compiles a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("invalid bank catalog: %w", err)
	}

	if catalog.Default == nil {
		catalog.Default = DefaultProfile()
	}
	if err := catalog.Default.Compile(); err != nil {
		return nil, fmt.Errorf("invalid default profile: %w", err)
	}

	seen := make(map[string]string)
	for _, bank := range catalog.Banks {
		if err := bank.Compile(); err != nil {
			return nil, err
		}
		for _, name := range bank.Names() {
			if owner, dup := seen[name]; dup && owner != bank.Name {
				return nil, fmt.Errorf("bank name '%s' used by both %s and %s", name, owner, bank.Name)
			}
			seen[name] = bank.Name
		}
	}

	return &catalog, nil
}

// Marshal encodes the catalog back to YAML
func (c *Catalog) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Find returns the profile registered under name or one of its aliases
func (c *Catalog) Find(name string) (*BankConfig, bool) {
	key := CanonicalName(name)
	for _, bank := range c.Banks {
		for _, n := range bank.Names() {
			if n == key {
				return bank, true
			}
		}
	}
	return nil, false
}
