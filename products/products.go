// Package products holds the table of print-and-play products and the
// layout rules used to cut each of them into card images.
package products

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/aluiziolira/go-pnp-cards/models"
	"gopkg.in/yaml.v3"
)

//go:embed products.yaml
var defaultTable []byte

// Table is the ordered product list plus the card-back sources.
type Table struct {
	Products []models.Product  `yaml:"products"`
	Backs    []models.CardBack `yaml:"backs"`
}

// Default returns the built-in product table.
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// Load reads a product table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read product table %s: %w", path, err)
	}
	table, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("product table %s: %w", path, err)
	}
	return table, nil
}

// Parse decodes and validates a YAML product table.
func Parse(data []byte) (*Table, error) {
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("decode product table: %w", err)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

// Validate checks that every product has exactly one layout and sane geometry.
func (t *Table) Validate() error {
	if len(t.Products) == 0 {
		return errors.New("product table is empty")
	}
	seen := make(map[string]struct{}, len(t.Products))
	for _, p := range t.Products {
		if p.Code == "" {
			return errors.New("product code cannot be empty")
		}
		if _, dup := seen[p.Code]; dup {
			return fmt.Errorf("duplicate product code %q", p.Code)
		}
		seen[p.Code] = struct{}{}
		if err := validateProduct(p); err != nil {
			return fmt.Errorf("product %s: %w", p.Code, err)
		}
	}

	sides := make(map[models.Side]struct{}, len(t.Backs))
	for _, b := range t.Backs {
		if b.Side != models.SideCorp && b.Side != models.SideRunner {
			return fmt.Errorf("unknown card back side %q", b.Side)
		}
		if _, dup := sides[b.Side]; dup {
			return fmt.Errorf("duplicate card back for %s", b.Side)
		}
		sides[b.Side] = struct{}{}
		if b.URL == "" {
			return fmt.Errorf("card back %s: url cannot be empty", b.Side)
		}
		if err := validateRect(b.Crop); err != nil {
			return fmt.Errorf("card back %s: %w", b.Side, err)
		}
	}
	for _, side := range []models.Side{models.SideCorp, models.SideRunner} {
		if _, ok := sides[side]; !ok {
			return fmt.Errorf("missing card back for %s", side)
		}
	}
	return nil
}

func validateProduct(p models.Product) error {
	if p.URL == "" {
		return errors.New("url cannot be empty")
	}
	switch {
	case p.Grid != nil && p.Shift != nil:
		return errors.New("grid and shift layouts are mutually exclusive")
	case p.Grid == nil && p.Shift == nil:
		return errors.New("a grid or shift layout is required")
	}
	for _, r := range p.Retain.ExcludeRanges {
		if r.From > r.To {
			return fmt.Errorf("exclude range %d..%d is reversed", r.From, r.To)
		}
	}
	if p.Retain.AlternateThrough < 0 {
		return errors.New("alternate_through cannot be negative")
	}

	if g := p.Grid; g != nil {
		if err := validateRect(g.PageCrop); err != nil {
			return fmt.Errorf("page crop: %w", err)
		}
		if len(g.Cells) == 0 {
			return errors.New("grid needs at least one cell")
		}
		for i, c := range g.Cells {
			if err := validateRect(c); err != nil {
				return fmt.Errorf("cell %d: %w", i, err)
			}
		}
		if g.Offset < 0 {
			return errors.New("offset cannot be negative")
		}
	}
	if s := p.Shift; s != nil {
		if s.Skip < 0 || s.Shift < 0 || s.Length <= 0 {
			return errors.New("shift needs skip >= 0, shift >= 0 and length > 0")
		}
		if s.Skip > s.Length {
			return errors.New("skip cannot exceed length")
		}
	}
	return nil
}

func validateRect(r models.Rect) error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("rect %s must have positive size", r.Geometry())
	}
	if r.Left < 0 || r.Top < 0 {
		return fmt.Errorf("rect %s must have a non-negative origin", r.Geometry())
	}
	return nil
}

// Lookup returns the product with the given code.
func (t *Table) Lookup(code string) (models.Product, bool) {
	for _, p := range t.Products {
		if p.Code == code {
			return p, true
		}
	}
	return models.Product{}, false
}

// Back returns the card-back source for side.
func (t *Table) Back(side models.Side) (models.CardBack, bool) {
	for _, b := range t.Backs {
		if b.Side == side {
			return b, true
		}
	}
	return models.CardBack{}, false
}

// WithURL overrides the source URL of a product.
func (t *Table) WithURL(code, url string) error {
	for i := range t.Products {
		if t.Products[i].Code == code {
			t.Products[i].URL = url
			return nil
		}
	}
	return fmt.Errorf("unknown product %q", code)
}

// WithBackURL overrides the source URL of a card back.
func (t *Table) WithBackURL(side models.Side, url string) error {
	for i := range t.Backs {
		if t.Backs[i].Side == side {
			t.Backs[i].URL = url
			return nil
		}
	}
	return fmt.Errorf("no card back for %s", side)
}

// Marshal renders the table as YAML.
func (t *Table) Marshal() ([]byte, error) {
	return yaml.Marshal(t)
}
