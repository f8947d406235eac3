// Package models defines data structures shared by the card pipeline.
package models

import (
	"fmt"
	"path/filepath"
)

// Side is one of the two faction alignments of the card game.
type Side string

const (
	SideCorp   Side = "corp"
	SideRunner Side = "runner"
)

// Rect is a crop rectangle in pixels.
type Rect struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
	Left   int `yaml:"left" json:"left"`
	Top    int `yaml:"top" json:"top"`
}

// Geometry renders the rectangle in WxH+L+T form.
func (r Rect) Geometry() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.Left, r.Top)
}

// IndexRange is an inclusive range of page indices.
type IndexRange struct {
	From int `yaml:"from" json:"from"`
	To   int `yaml:"to" json:"to"`
}

// Contains reports whether i lies in the range.
func (r IndexRange) Contains(i int) bool {
	return i >= r.From && i <= r.To
}

// RetentionRule lists the rasterized pages a product discards before cropping.
type RetentionRule struct {
	Exclude       []int        `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	ExcludeRanges []IndexRange `yaml:"exclude_ranges,omitempty" json:"exclude_ranges,omitempty"`
	// AlternateThrough drops every odd page index in [1, AlternateThrough]:
	// those sheets are the blank backs of the preceding content page.
	AlternateThrough int `yaml:"alternate_through,omitempty" json:"alternate_through,omitempty"`
}

// GridLayout slices each corrected page into fixed cells.
type GridLayout struct {
	PageCrop Rect   `yaml:"page_crop" json:"page_crop"`
	Cells    []Rect `yaml:"cells" json:"cells"`
	Offset   int    `yaml:"offset,omitempty" json:"offset,omitempty"`
}

// ShiftLayout treats every retained page as one card and rotates the first
// Skip pages to the end of the numbering range.
type ShiftLayout struct {
	Skip   int `yaml:"skip" json:"skip"`
	Shift  int `yaml:"shift" json:"shift"`
	Length int `yaml:"length" json:"length"`
}

// Product is one print-and-play source document and its layout rules.
type Product struct {
	Code   string        `yaml:"code" json:"code"`
	Name   string        `yaml:"name" json:"name"`
	URL    string        `yaml:"url" json:"url"`
	Retain RetentionRule `yaml:"retain" json:"retain"`
	Grid   *GridLayout   `yaml:"grid,omitempty" json:"grid,omitempty"`
	Shift  *ShiftLayout  `yaml:"shift,omitempty" json:"shift,omitempty"`
}

// CardBack is the source of the card-back image for one side.
type CardBack struct {
	Side Side   `yaml:"side" json:"side"`
	URL  string `yaml:"url" json:"url"`
	Crop Rect   `yaml:"crop" json:"crop"`
}

// ExtractedPage is one rasterized page image.
type ExtractedPage struct {
	Index int
	Path  string
}

// CardRef identifies a card image by product code and 1-based position.
type CardRef struct {
	Pack     string `json:"pack"`
	Position int    `json:"position"`
}

// FileName is the canonical file name of a card image.
func (c CardRef) FileName() string {
	return CardFileName(c.Position)
}

// RelPath is the card image path relative to the card directory.
func (c CardRef) RelPath() string {
	return c.Pack + "/cut/" + c.FileName()
}

// Path is the card image path under root.
func (c CardRef) Path(root string) string {
	return filepath.Join(root, c.Pack, "cut", c.FileName())
}

// CardFileName formats a numbered artifact name.
func CardFileName(n int) string {
	return fmt.Sprintf("c-%03d.png", n)
}

// DeckEntry is one distinct card of a decklist with its copy count.
type DeckEntry struct {
	CardID string  `json:"card_id"`
	Card   CardRef `json:"card"`
	Count  int     `json:"count"`
}

// ResolvedDeck is a decklist resolved to card images, in decklist order.
type ResolvedDeck struct {
	ID      string      `json:"id"`
	Side    Side        `json:"side"`
	Entries []DeckEntry `json:"entries"`
}

// Total returns the number of physical cards in the deck.
func (d *ResolvedDeck) Total() int {
	total := 0
	for _, entry := range d.Entries {
		total += entry.Count
	}
	return total
}

// Flatten repeats every card by its count, preserving decklist order.
func (d *ResolvedDeck) Flatten() []CardRef {
	out := make([]CardRef, 0, d.Total())
	for _, entry := range d.Entries {
		for i := 0; i < entry.Count; i++ {
			out = append(out, entry.Card)
		}
	}
	return out
}

// BackPath is the card-back image for side under root.
func BackPath(root string, side Side) string {
	return filepath.Join(root, "back", string(side), "back.png")
}
