package banking

import (
	"context"
)

// StaticSource serves bank profiles and global fee patterns from a catalog
// held in memory. It ignores the company id.
type StaticSource struct {
	catalog *Catalog
	fees    []*FeePattern
}

// NewStaticSource creates a source backed by catalog. Global fee patterns are
// the catalog default profile's fee patterns.
func NewStaticSource(catalog *Catalog) *StaticSource {
	var fees []*FeePattern
	if catalog.Default != nil {
		fees = catalog.Default.FeePatterns
	}
	return &StaticSource{catalog: catalog, fees: fees}
}

// NewDefaultSource creates a source backed by the embedded catalog
func NewDefaultSource() (*StaticSource, error) {
	catalog, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	return NewStaticSource(catalog), nil
}

// NewFileSource creates a source backed by a YAML catalog file
func NewFileSource(path string) (*StaticSource, error) {
	catalog, err := LoadCatalogFile(path)
	if err != nil {
		return nil, err
	}
	return NewStaticSource(catalog), nil
}

// LoadBankConfigs returns the catalog
func (s *StaticSource) LoadBankConfigs(ctx context.Context, companyID string) (*Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.catalog, nil
}

// LoadFeePatterns returns the global fee patterns
func (s *StaticSource) LoadFeePatterns(ctx context.Context, companyID string) ([]*FeePattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fees, nil
}

// Catalog returns the underlying catalog
func (s *StaticSource) Catalog() *Catalog {
	return s.catalog
}
